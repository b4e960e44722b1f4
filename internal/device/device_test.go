package device

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"tuya-go-home/internal/tuya"
)

// recorder collects bus events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// states returns the last payload published for each state topic name.
func (r *recorder) states() map[string]string {
	out := make(map[string]string)
	for _, e := range r.all() {
		if u, ok := e.Data.(StateUpdate); ok {
			out[u.Name] = u.Payload
		}
	}
	return out
}

func (r *recorder) index(typ string) int {
	for i, e := range r.all() {
		if e.Type == typ {
			return i
		}
	}
	return -1
}

type mapCache struct {
	mu    sync.Mutex
	m     map[string]Layout
	saves int
}

func (c *mapCache) LoadLayout(id string) (Layout, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.m[id]
	return l, ok, nil
}

func (c *mapCache) SaveLayout(id string, l Layout) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m == nil {
		c.m = make(map[string]Layout)
	}
	c.m[id] = l
	c.saves++
	return nil
}

// highLight is a 20-25 family bulb in white mode at 50%.
func highLight() map[int]any {
	return map[int]any{
		20: true,
		21: "white",
		22: 500,
		23: 0,
		24: "000003e803e8",
		25: "000e0d0000000000000000c803e8",
	}
}

func newTestDevice(t *testing.T, opts Options, initial map[int]any) (*Device, *tuya.Memory, *recorder) {
	t.Helper()
	logger := testLogger()
	bus := NewEventBus(logger)
	rec := &recorder{}
	bus.OnAll(rec.handle)
	mem := tuya.NewMemory(initial)
	if opts.ID == "" {
		opts.ID = "lamp"
	}
	if opts.BaseTopic == "" {
		opts.BaseTopic = "tuya/lamp/"
	}
	opts.Settle = time.Millisecond
	return New(opts, mem, bus, logger), mem, rec
}

func startDevice(t *testing.T, opts Options, initial map[int]any) (*Device, *tuya.Memory, *recorder) {
	t.Helper()
	d, mem, rec := newTestDevice(t, opts, initial)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return d, mem, rec
}

func TestStartProbesAndPublishes(t *testing.T) {
	d, _, rec := startDevice(t, Options{}, highLight())

	if s, err := d.Status(); s != StatusActive || err != nil {
		t.Fatalf("status = %s, %v", s, err)
	}

	disc, state, avail := rec.index(EventDiscovery), rec.index(EventState), rec.index(EventAvailability)
	if disc < 0 || state < 0 || avail < 0 {
		t.Fatalf("missing events: discovery %d state %d availability %d", disc, state, avail)
	}
	if !(disc < state && state < avail) {
		t.Errorf("event order discovery %d, state %d, availability %d", disc, state, avail)
	}

	var statuses []Status
	for _, e := range rec.all() {
		if c, ok := e.Data.(StatusChange); ok {
			statuses = append(statuses, c.Status)
		}
	}
	want := []Status{StatusProbing, StatusConfigured, StatusActive}
	if len(statuses) != len(want) {
		t.Fatalf("statuses = %v, want %v", statuses, want)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Errorf("statuses = %v, want %v", statuses, want)
		}
	}

	got := rec.states()
	expect := map[string]string{
		"state":                  "ON",
		"mode_state":             "white",
		"white_brightness_state": "50",
		"color_temp_state":       "400",
		"hs_state":               "0,100",
		"color_brightness_state": "100",
		"hsb_state":              "0,100,100",
		"hex_state":              "#FF0000",
		"predefinedColors_state": "red",
		"predefinedScenes_state": "night",
		"dps/22/state":           "500",
	}
	for name, payload := range expect {
		if got[name] != payload {
			t.Errorf("%s = %q, want %q", name, got[name], payload)
		}
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(got["dps/state"]), &raw); err != nil {
		t.Fatalf("dps/state: %v", err)
	}
	if raw["21"] != "white" || len(raw) != 6 {
		t.Errorf("dps/state = %v", raw)
	}
}

func TestStartTopicsCarryBaseTopic(t *testing.T) {
	_, _, rec := startDevice(t, Options{BaseTopic: "tuya/desk/"}, highLight())
	for _, e := range rec.all() {
		switch data := e.Data.(type) {
		case StateUpdate:
			if data.Topic != "tuya/desk/"+data.Name {
				t.Errorf("state topic %q for %q", data.Topic, data.Name)
			}
		case Availability:
			if data.Topic != "tuya/desk/LWT" || !data.Online {
				t.Errorf("availability = %+v", data)
			}
		}
	}
}

func TestStartProbeFailure(t *testing.T) {
	d, _, rec := newTestDevice(t, Options{}, map[int]any{1: true})
	err := d.Start(context.Background())
	if !errors.Is(err, ErrProbeInconclusive) {
		t.Fatalf("Start err = %v, want ErrProbeInconclusive", err)
	}
	if s, _ := d.Status(); s != StatusFailed {
		t.Errorf("status = %s, want failed", s)
	}
	if rec.index(EventDiscovery) >= 0 || rec.index(EventState) >= 0 {
		t.Error("failed device must not advertise or publish")
	}
	if err := d.Command(context.Background(), "cmnd", "ON"); !errors.Is(err, ErrNotActive) {
		t.Errorf("Command err = %v, want ErrNotActive", err)
	}
}

func TestDescriptorWithoutColorTemp(t *testing.T) {
	dps := highLight()
	dps[23] = 5000
	d, _, rec := startDevice(t, Options{}, dps)

	desc := d.Descriptor()
	if desc.ColorTemp || desc.HasTopic("color_temp_state") {
		t.Errorf("descriptor advertises color temp: %+v", desc)
	}
	if !desc.HasTopic("hs_state") || desc.Model != ModelLight || desc.Manufacturer != Manufacturer {
		t.Errorf("descriptor = %+v", desc)
	}
	if _, ok := rec.states()["color_temp_state"]; ok {
		t.Error("color_temp_state published")
	}
	if err := d.Command(context.Background(), "color_temp_cmnd", "300"); !errors.Is(err, ErrUnsupportedTopic) {
		t.Errorf("color_temp_cmnd err = %v, want ErrUnsupportedTopic", err)
	}
}

func TestDescriptorWithColorTemp(t *testing.T) {
	d, _, _ := startDevice(t, Options{Layout: Layout{DPSPower: 20, MinColorTemp: 153, MaxColorTemp: 370, DPSColorTemp: 23}}, highLight())
	desc := d.Descriptor()
	if !desc.ColorTemp || desc.MinMireds != 153 || desc.MaxMireds != 370 {
		t.Errorf("descriptor = %+v", desc)
	}
}

func TestCommands(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name     string
		topic    string
		payload  string
		wantSets []tuya.SetCall
		state    string
		want     string
	}{
		{"power off", "cmnd", "OFF", []tuya.SetCall{{DPS: 20, Value: false}}, "state", "OFF"},
		{"power toggle", "cmnd", "toggle", []tuya.SetCall{{DPS: 20, Value: false}}, "state", "OFF"},
		{"white brightness", "white_brightness_cmnd", "75", []tuya.SetCall{{DPS: 22, Value: 750}}, "white_brightness_state", "75"},
		{"white brightness clamped", "white_brightness_cmnd", "150", []tuya.SetCall{{DPS: 22, Value: 1000}}, "white_brightness_state", "100"},
		{"color temp", "color_temp_cmnd", "154", []tuya.SetCall{{DPS: 23, Value: 1000}}, "color_temp_state", "154"},
		{"hs switches to colour", "hs_cmnd", "120,100",
			[]tuya.SetCall{{DPS: 21, Value: "colour"}, {DPS: 24, Value: "007803e803e8"}}, "hs_state", "120,100"},
		{"color brightness keeps hue", "color_brightness_cmnd", "50",
			[]tuya.SetCall{{DPS: 21, Value: "colour"}, {DPS: 24, Value: "000003e801f4"}}, "hsb_state", "0,100,50"},
		{"hex", "hex_cmnd", "#0000FF",
			[]tuya.SetCall{{DPS: 21, Value: "colour"}, {DPS: 24, Value: "00f003e803e8"}}, "hex_state", "#0000FF"},
		{"predefined color", "predefinedColors_cmnd", "blue",
			[]tuya.SetCall{{DPS: 21, Value: "colour"}, {DPS: 24, Value: "00f003e803e8"}}, "predefinedColors_state", "blue"},
		{"unknown color falls back to next", "predefinedColors_cmnd", "chartreuse",
			[]tuya.SetCall{{DPS: 21, Value: "colour"}, {DPS: 24, Value: "000003e801f4"}}, "predefinedColors_state", "maroon"},
		{"scene next", "predefinedScenes_cmnd", "next",
			[]tuya.SetCall{{DPS: 21, Value: "scene"}, {DPS: 25, Value: "010e0d0000000000000003e803e8"}}, "predefinedScenes_state", "read"},
		{"mode", "mode_cmnd", "colour", []tuya.SetCall{{DPS: 21, Value: "colour"}}, "mode_state", "colour"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, mem, rec := startDevice(t, Options{}, highLight())
			rec.reset()
			if err := d.Command(ctx, tt.topic, tt.payload); err != nil {
				t.Fatalf("Command: %v", err)
			}
			sets := mem.Sets()
			if len(sets) != len(tt.wantSets) {
				t.Fatalf("sets = %+v, want %+v", sets, tt.wantSets)
			}
			for i := range sets {
				if sets[i] != tt.wantSets[i] {
					t.Errorf("set[%d] = %+v, want %+v", i, sets[i], tt.wantSets[i])
				}
			}
			if got := rec.states()[tt.state]; got != tt.want {
				t.Errorf("%s = %q, want %q", tt.state, got, tt.want)
			}
		})
	}
}

func TestCommandSkipsModeWhenAlreadySet(t *testing.T) {
	dps := highLight()
	dps[21] = "colour"
	d, mem, _ := startDevice(t, Options{}, dps)
	if err := d.Command(context.Background(), "hs_cmnd", "240,50"); err != nil {
		t.Fatal(err)
	}
	sets := mem.Sets()
	if len(sets) != 1 || sets[0].DPS != 24 {
		t.Errorf("sets = %+v, want a single color write", sets)
	}
}

func TestCommandErrors(t *testing.T) {
	ctx := context.Background()
	d, mem, _ := startDevice(t, Options{}, highLight())
	tests := []struct {
		topic, payload string
		want           error
	}{
		{"cmnd", "maybe", ErrInvalidCommand},
		{"white_brightness_cmnd", "bright", ErrInvalidCommand},
		{"hs_cmnd", "120", ErrInvalidCommand},
		{"hex_cmnd", "#12", ErrInvalidCommand},
		{"fan_speed_cmnd", "3", ErrUnsupportedTopic},
		{"garbage", "1", ErrUnsupportedTopic},
	}
	for _, tt := range tests {
		if err := d.Command(ctx, tt.topic, tt.payload); !errors.Is(err, tt.want) {
			t.Errorf("Command(%s, %s) err = %v, want %v", tt.topic, tt.payload, err, tt.want)
		}
	}
	if len(mem.Sets()) != 0 {
		t.Errorf("rejected commands wrote %+v", mem.Sets())
	}
}

func TestGetStates(t *testing.T) {
	d, mem, rec := startDevice(t, Options{}, highLight())
	before := len(mem.Gets())
	rec.reset()

	if err := d.Command(context.Background(), "cmnd", "get-states"); err != nil {
		t.Fatal(err)
	}
	if got := len(mem.Gets()) - before; got != 6 {
		t.Errorf("get-states read %d dps, want 6", got)
	}
	if rec.states()["state"] != "ON" {
		t.Error("get-states did not republish")
	}
}

func TestDPSCommands(t *testing.T) {
	ctx := context.Background()
	d, mem, rec := startDevice(t, Options{}, highLight())
	rec.reset()

	if err := d.DPSCommand(ctx, []byte(`{"multiple":true,"data":{"20":false,"22":100}}`)); err != nil {
		t.Fatal(err)
	}
	if err := d.DPSKeyCommand(ctx, 22, "1000"); err != nil {
		t.Fatal(err)
	}
	want := []tuya.SetCall{{DPS: 20, Value: false}, {DPS: 22, Value: 100}, {DPS: 22, Value: 1000}}
	got := mem.Sets()
	if len(got) != len(want) {
		t.Fatalf("sets = %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("set[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
	states := rec.states()
	if states["white_brightness_state"] != "100" || states["state"] != "OFF" || states["dps/22/state"] != "1000" {
		t.Errorf("states = %v", states)
	}

	if err := d.DPSKeyCommand(ctx, 22, `{"dps":22,"set":1}`); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("json on key topic err = %v", err)
	}
	if err := d.DPSCommand(ctx, []byte(`{"dps":22}`)); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("incomplete dps command err = %v", err)
	}
}

func TestCommandWriteFailure(t *testing.T) {
	d, mem, rec := startDevice(t, Options{}, highLight())
	mem.Fail = map[int]error{20: errors.New("device offline")}
	rec.reset()
	if err := d.Command(context.Background(), "cmnd", "OFF"); err == nil {
		t.Fatal("expected error")
	}
	if _, ok := rec.states()["state"]; ok {
		t.Error("failed write published state")
	}
}

func TestPushedDataPublishes(t *testing.T) {
	_, mem, rec := startDevice(t, Options{}, highLight())
	rec.reset()
	mem.Push(map[int]any{22: 250})
	if got := rec.states()["white_brightness_state"]; got != "25" {
		t.Errorf("white_brightness_state = %q, want 25", got)
	}
}

func TestCommandOrdering(t *testing.T) {
	d, _, rec := startDevice(t, Options{}, highLight())
	rec.reset()
	for _, p := range []string{"10", "20", "30", "40"} {
		if err := d.Command(context.Background(), "white_brightness_cmnd", p); err != nil {
			t.Fatal(err)
		}
	}
	var seq []string
	for _, e := range rec.all() {
		if u, ok := e.Data.(StateUpdate); ok && u.Name == "white_brightness_state" {
			seq = append(seq, u.Payload)
		}
	}
	want := []string{"10", "20", "30", "40"}
	if len(seq) != len(want) {
		t.Fatalf("published %v", seq)
	}
	for i := range want {
		if seq[i] != want[i] {
			t.Errorf("published %v, want %v", seq, want)
		}
	}
}

func TestRepublish(t *testing.T) {
	d, mem, rec := startDevice(t, Options{}, highLight())
	reads := len(mem.Gets())
	rec.reset()
	d.Republish()
	if rec.index(EventDiscovery) < 0 || rec.index(EventAvailability) < 0 {
		t.Error("republish missing discovery or availability")
	}
	if rec.states()["state"] != "ON" {
		t.Error("republish missing state")
	}
	if len(mem.Gets()) != reads {
		t.Error("republish read from the device")
	}
}

func TestCommandBeforeStart(t *testing.T) {
	d, _, _ := newTestDevice(t, Options{}, highLight())
	if err := d.Command(context.Background(), "cmnd", "ON"); !errors.Is(err, ErrNotActive) {
		t.Errorf("err = %v, want ErrNotActive", err)
	}
	if s, _ := d.Status(); s != StatusUninitialized {
		t.Errorf("status = %s", s)
	}
}

func TestLayoutCache(t *testing.T) {
	cache := &mapCache{}
	startDevice(t, Options{Cache: cache}, highLight())
	if cache.saves != 1 || cache.m["lamp"].DPSPower != 20 {
		t.Fatalf("cache = %+v", cache.m)
	}

	// A restarted bulb that is off and does not report its mode still
	// comes up from the cached layout.
	d, _, _ := startDevice(t, Options{Cache: cache}, map[int]any{20: false})
	if s, _ := d.Status(); s != StatusActive {
		t.Errorf("status = %s", s)
	}
	if cache.saves != 1 {
		t.Errorf("cached layout was probed again")
	}
}

func TestGenericDevice(t *testing.T) {
	topics := map[string]TemplateTopic{
		"state":             {Key: 1, Type: "bool"},
		"temperature_state": {Key: 6, Type: "float", StateMath: "/10", CommandMath: "*10"},
	}
	d, mem, rec := startDevice(t, Options{Template: topics}, map[int]any{1: true, 6: 215})
	if d.Kind() != KindGeneric || d.Descriptor().Model != ModelGeneric {
		t.Errorf("kind = %s", d.Kind())
	}
	if rec.states()["temperature_state"] != "21.5" {
		t.Errorf("temperature_state = %q", rec.states()["temperature_state"])
	}
	if err := d.Command(context.Background(), "temperature_cmnd", "22"); err != nil {
		t.Fatal(err)
	}
	if v := mem.Value(6); v != 220.0 {
		t.Errorf("dps 6 = %v, want 220", v)
	}
	if err := d.Command(context.Background(), "hs_cmnd", "1,2"); !errors.Is(err, ErrUnsupportedTopic) {
		t.Errorf("light topic on generic device err = %v", err)
	}
}

func TestGenericCommandRejectsNonFinite(t *testing.T) {
	ctx := context.Background()
	topics := map[string]TemplateTopic{
		"level_state":   {Key: 2, Type: "int"},
		"scaled_state":  {Key: 3, Type: "int", CommandMath: "*1000000000000"},
		"temp_state":    {Key: 6, Type: "float"},
		"divided_state": {Key: 7, Type: "float", CommandMath: "/0"},
	}
	d, mem, rec := startDevice(t, Options{Template: topics}, map[int]any{2: 10, 3: 1, 6: 20.5, 7: 1.0})

	tests := []struct {
		topic, payload string
	}{
		{"level_cmnd", "NaN"},
		{"level_cmnd", "Inf"},
		{"level_cmnd", "-Infinity"},
		{"level_cmnd", "1e30"},
		{"scaled_cmnd", "5"},
		{"temp_cmnd", "NaN"},
		{"temp_cmnd", "Inf"},
		{"temp_cmnd", "1e400"},
		{"divided_cmnd", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.topic+"="+tt.payload, func(t *testing.T) {
			if err := d.Command(ctx, tt.topic, tt.payload); !errors.Is(err, ErrInvalidCommand) {
				t.Errorf("err = %v, want ErrInvalidCommand", err)
			}
		})
	}
	if len(mem.Sets()) != 0 {
		t.Fatalf("rejected commands wrote %+v", mem.Sets())
	}

	rec.reset()
	if err := d.Command(ctx, "level_cmnd", "1e3"); err != nil {
		t.Fatal(err)
	}
	if v := mem.Value(2); v != 1000 {
		t.Errorf("dps 2 = %#v, want 1000", v)
	}
	if _, ok := rec.states()["dps/state"]; !ok {
		t.Error("dps/state not published after a valid command")
	}
}

func TestSelectionHeldOnWriteFailure(t *testing.T) {
	ctx := context.Background()
	d, mem, _ := startDevice(t, Options{}, highLight())
	mem.Fail = map[int]error{24: errors.New("device offline"), 25: errors.New("device offline")}

	if err := d.Command(ctx, "predefinedColors_cmnd", "next"); err == nil {
		t.Fatal("expected color write error")
	}
	if err := d.Command(ctx, "predefinedScenes_cmnd", "next"); err == nil {
		t.Fatal("expected scene write error")
	}
	if snap := d.Snapshot(); snap.Color != "red" || snap.Scene != "night" {
		t.Errorf("failed writes moved cursors to %s/%s", snap.Color, snap.Scene)
	}

	mem.Fail = nil
	if err := d.Command(ctx, "predefinedColors_cmnd", "next"); err != nil {
		t.Fatal(err)
	}
	if snap := d.Snapshot(); snap.Color != "maroon" {
		t.Errorf("color = %s, want maroon", snap.Color)
	}
}

func TestSnapshot(t *testing.T) {
	d, _, _ := startDevice(t, Options{Name: "Desk lamp"}, highLight())
	snap := d.Snapshot()
	if snap.Name != "Desk lamp" || snap.Status != StatusActive || snap.Layout == nil {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.State["hex_state"] != "#FF0000" || snap.Color != "red" || snap.Scene != "night" {
		t.Errorf("snapshot state = %+v", snap)
	}
	if snap.DPS["20"] != true {
		t.Errorf("snapshot dps = %v", snap.DPS)
	}
}
