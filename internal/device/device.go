package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"tuya-go-home/internal/color"
	"tuya-go-home/internal/tuya"
)

// Status is the lifecycle state of a device.
type Status string

const (
	StatusUninitialized Status = "uninitialized"
	StatusProbing       Status = "probing"
	StatusConfigured    Status = "configured"
	StatusActive        Status = "active"
	StatusFailed        Status = "failed"
)

// Kind selects how the topic table is built.
type Kind string

const (
	KindLight   Kind = "rgbtw_light"
	KindGeneric Kind = "generic"
)

// Device identity reported in discovery.
const (
	Manufacturer = "Tuya"
	ModelLight   = "RGBTW Light"
	ModelGeneric = "Generic Device"
)

// Defaults for Options left zero.
const (
	DefaultSettle       = time.Second
	DefaultProbeTimeout = 5 * time.Second
)

// LayoutCache keeps probed layouts so a restart can skip probing.
type LayoutCache interface {
	LoadLayout(id string) (Layout, bool, error)
	SaveLayout(id string, l Layout) error
}

// Options configure one device.
type Options struct {
	ID        string
	Name      string
	BaseTopic string
	Kind      Kind
	// Layout is the explicit DPS mapping of a light. Zero fields are probed.
	Layout Layout
	// Template is the topic table of a generic device.
	Template map[string]TemplateTopic
	// Settle is the pause between discovery and the initial state read.
	Settle       time.Duration
	ProbeTimeout time.Duration
	Cache        LayoutCache
}

// Descriptor advertises a device's capabilities to the discovery publisher.
type Descriptor struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	BaseTopic    string `json:"base_topic"`
	Kind         Kind   `json:"kind"`
	Model        string `json:"model"`
	Manufacturer string `json:"manufacturer"`
	// Topics lists the live state topic names.
	Topics    []string `json:"topics"`
	ColorTemp bool     `json:"color_temp"`
	MinMireds int      `json:"min_mireds,omitempty"`
	MaxMireds int      `json:"max_mireds,omitempty"`
}

// HasTopic reports whether the descriptor lists a state topic.
func (d Descriptor) HasTopic(name string) bool {
	for _, t := range d.Topics {
		if t == name {
			return true
		}
	}
	return false
}

// Snapshot is a point-in-time view of a device.
type Snapshot struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	BaseTopic string            `json:"base_topic"`
	Kind      Kind              `json:"kind"`
	Status    Status            `json:"status"`
	Error     string            `json:"error,omitempty"`
	Layout    *Layout           `json:"layout,omitempty"`
	DPS       map[string]any    `json:"dps"`
	State     map[string]string `json:"state"`
	Color     string            `json:"color,omitempty"`
	Scene     string            `json:"scene,omitempty"`
}

// Device is the façade over one physical device. Commands are serialised by
// cmdMu so each command's state publish happens before the next command runs.
type Device struct {
	opts   Options
	client tuya.Client
	events *EventBus
	logger *slog.Logger

	cmdMu sync.Mutex

	mu     sync.RWMutex
	status Status
	err    error
	layout Layout
	schema *Schema
	dps    map[int]any

	colors *color.Cursor[color.ColorEntry]
	scenes *color.Cursor[color.SceneEntry]

	startOnce sync.Once
}

// New creates a device in StatusUninitialized. Start brings it up.
func New(opts Options, client tuya.Client, events *EventBus, logger *slog.Logger) *Device {
	if opts.Kind == "" {
		opts.Kind = KindLight
		if len(opts.Template) > 0 {
			opts.Kind = KindGeneric
		}
	}
	if opts.Name == "" {
		opts.Name = opts.ID
	}
	if opts.Settle == 0 {
		opts.Settle = DefaultSettle
	}
	if opts.ProbeTimeout == 0 {
		opts.ProbeTimeout = DefaultProbeTimeout
	}
	return &Device{
		opts:   opts,
		client: client,
		events: events,
		logger: logger.With("component", "device", "device", opts.ID),
		status: StatusUninitialized,
		dps:    make(map[int]any),
		colors: color.NewColorCursor(),
		scenes: color.NewSceneCursor(),
	}
}

func (d *Device) ID() string        { return d.opts.ID }
func (d *Device) Name() string      { return d.opts.Name }
func (d *Device) BaseTopic() string { return d.opts.BaseTopic }
func (d *Device) Kind() Kind        { return d.opts.Kind }

// Status returns the lifecycle state and the error that failed the device.
func (d *Device) Status() (Status, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.status, d.err
}

// Schema returns the topic table, or nil before the device is configured.
func (d *Device) Schema() *Schema {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.schema
}

func (d *Device) setStatus(s Status, err error) {
	d.mu.Lock()
	d.status = s
	d.err = err
	d.mu.Unlock()

	change := StatusChange{Status: s}
	if err != nil {
		change.Error = err.Error()
	}
	d.emit(EventStatus, change)
}

func (d *Device) emit(typ string, data any) {
	d.events.Emit(Event{Type: typ, DeviceID: d.opts.ID, Data: data})
}

// Start configures the device, probing it when the layout is incomplete, and
// activates it. A failure leaves the device in StatusFailed and affects no
// other device.
func (d *Device) Start(ctx context.Context) error {
	d.startOnce.Do(func() { d.client.OnData(d.handleData) })

	if err := d.configure(ctx); err != nil {
		d.logger.Error("device configuration failed", "err", err)
		d.setStatus(StatusFailed, err)
		return err
	}
	d.setStatus(StatusConfigured, nil)

	if err := d.activate(ctx); err != nil {
		d.logger.Error("device activation failed", "err", err)
		d.setStatus(StatusFailed, err)
		return err
	}
	return nil
}

func (d *Device) configure(ctx context.Context) error {
	if d.opts.Kind == KindGeneric {
		schema, err := BuildTemplate(d.opts.Template)
		if err != nil {
			return fmt.Errorf("template: %w", err)
		}
		d.mu.Lock()
		d.schema = schema
		d.mu.Unlock()
		return nil
	}

	layout := d.opts.Layout
	if !layout.Configured() {
		guess, err := d.guessLayout(ctx)
		if err != nil {
			return err
		}
		layout = layout.Merge(guess)
	}
	layout = layout.WithDefaults()
	if err := layout.Validate(); err != nil {
		return fmt.Errorf("layout: %w", err)
	}

	d.mu.Lock()
	d.layout = layout
	d.schema = BuildLight(layout)
	d.mu.Unlock()
	d.logger.Info("device configured", "power", layout.DPSPower, "color", layout.DPSColor,
		"color_type", layout.ColorType, "color_temp", layout.DPSColorTemp != 0)
	return nil
}

// guessLayout returns a cached layout or probes the device for one.
func (d *Device) guessLayout(ctx context.Context) (Layout, error) {
	if d.opts.Cache != nil {
		l, ok, err := d.opts.Cache.LoadLayout(d.opts.ID)
		if err != nil {
			d.logger.Warn("load cached layout", "err", err)
		} else if ok {
			d.logger.Info("using cached layout")
			return l, nil
		}
	}

	d.setStatus(StatusProbing, nil)
	d.logger.Info("probing device capabilities")
	p := &Prober{Client: d.client, Timeout: d.opts.ProbeTimeout, Logger: d.logger}
	guess, err := p.Probe(ctx)
	if err != nil {
		return Layout{}, err
	}
	if d.opts.Cache != nil {
		if err := d.opts.Cache.SaveLayout(d.opts.ID, guess); err != nil {
			d.logger.Warn("save probed layout", "err", err)
		}
	}
	return guess, nil
}

// activate advertises the device, waits for the settle delay, reads and
// publishes every state, and marks the device online.
func (d *Device) activate(ctx context.Context) error {
	d.emit(EventDiscovery, d.Descriptor())

	t := time.NewTimer(d.opts.Settle)
	select {
	case <-t.C:
	case <-ctx.Done():
		t.Stop()
		return ctx.Err()
	}

	d.cmdMu.Lock()
	d.readAll(ctx)
	d.mu.Lock()
	d.status = StatusActive
	d.err = nil
	d.mu.Unlock()
	d.publishAll()
	d.cmdMu.Unlock()

	d.emit(EventStatus, StatusChange{Status: StatusActive})
	d.publishAvailability(true)
	d.logger.Info("device active", "topics", len(d.Schema().Topics()))
	return nil
}

// Descriptor returns the discovery descriptor. Before configuration it
// carries only identity.
func (d *Device) Descriptor() Descriptor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	desc := Descriptor{
		ID:           d.opts.ID,
		Name:         d.opts.Name,
		BaseTopic:    d.opts.BaseTopic,
		Kind:         d.opts.Kind,
		Model:        ModelLight,
		Manufacturer: Manufacturer,
	}
	if d.opts.Kind == KindGeneric {
		desc.Model = ModelGeneric
	}
	if d.schema == nil {
		return desc
	}
	for _, sp := range d.schema.Topics() {
		desc.Topics = append(desc.Topics, sp.Name)
	}
	if d.schema.Has("color_temp_state") {
		desc.ColorTemp = true
		desc.MinMireds = d.layout.MinColorTemp
		desc.MaxMireds = d.layout.MaxColorTemp
	}
	return desc
}

// readAll refreshes the DPS cache from the device. Missing values and read
// errors leave the cache untouched. Caller holds cmdMu.
func (d *Device) readAll(ctx context.Context) {
	schema := d.Schema()
	if schema == nil {
		return
	}
	for _, key := range schema.Keys() {
		v, err := d.client.Get(ctx, key)
		if err != nil {
			d.logger.Warn("read dps", "dps", key, "err", err)
			continue
		}
		if v == nil {
			continue
		}
		d.mu.Lock()
		d.dps[key] = v
		d.mu.Unlock()
	}
}

// Refresh re-reads every DPS and republishes all state topics.
func (d *Device) Refresh(ctx context.Context) error {
	if err := d.requireActive(); err != nil {
		return err
	}
	d.cmdMu.Lock()
	defer d.cmdMu.Unlock()
	d.readAll(ctx)
	d.publishAll()
	return nil
}

// Republish re-sends discovery, the cached state and availability without
// touching the device. It takes no command lock.
func (d *Device) Republish() {
	if d.requireActive() != nil {
		return
	}
	d.emit(EventDiscovery, d.Descriptor())
	d.publishAll()
	d.publishAvailability(true)
}

// Close marks the device offline and closes its client.
func (d *Device) Close() error {
	if s, _ := d.Status(); s == StatusActive {
		d.publishAvailability(false)
	}
	return d.client.Close()
}

func (d *Device) requireActive() error {
	s, err := d.Status()
	if s == StatusActive {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %s (%v)", ErrNotActive, s, err)
	}
	return fmt.Errorf("%w: %s", ErrNotActive, s)
}

// Command handles a friendly command topic such as "hs_cmnd" or "cmnd". The
// payload "get-states" refreshes every state instead. Topics the device does
// not have return ErrUnsupportedTopic.
func (d *Device) Command(ctx context.Context, topic, payload string) error {
	if err := d.requireActive(); err != nil {
		return err
	}
	if payload == "get-states" {
		return d.Refresh(ctx)
	}
	name, ok := StateTopic(topic)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedTopic, topic)
	}
	sp, err := d.Schema().Lookup(name)
	if err != nil {
		return err
	}

	d.cmdMu.Lock()
	defer d.cmdMu.Unlock()

	d.mu.RLock()
	current := d.dps[sp.Key]
	d.mu.RUnlock()

	value, commit, err := d.commandValue(sp, payload, current)
	if err != nil {
		return err
	}
	if err := d.assertMode(ctx, sp.Mode); err != nil {
		return err
	}
	d.logger.Debug("command", "topic", topic, "payload", payload, "dps", sp.Key, "value", value)
	if err := d.write(ctx, map[int]any{sp.Key: value}); err != nil {
		return err
	}
	if commit != nil {
		commit()
	}
	return nil
}

// Dispatch handles a command addressed by its topic below the device's base
// topic. The depth selects the command kind:
//
//	hs_cmnd       friendly topic, translated by the schema
//	dps/cmnd      tuyapi-style JSON
//	dps/20/cmnd   plain value for one DPS
func (d *Device) Dispatch(ctx context.Context, sub string, payload []byte) error {
	parts := strings.Split(sub, "/")
	switch {
	case len(parts) == 1:
		return d.Command(ctx, parts[0], string(payload))
	case len(parts) == 2 && parts[0] == "dps" && parts[1] == "cmnd":
		return d.DPSCommand(ctx, payload)
	case len(parts) == 3 && parts[0] == "dps" && parts[2] == "cmnd":
		key, err := strconv.Atoi(parts[1])
		if err != nil {
			return fmt.Errorf("%w: dps key %q", ErrInvalidCommand, parts[1])
		}
		return d.DPSKeyCommand(ctx, key, string(payload))
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedTopic, sub)
}

// DPSCommand handles a raw JSON command on the dps/cmnd topic.
func (d *Device) DPSCommand(ctx context.Context, payload []byte) error {
	if err := d.requireActive(); err != nil {
		return err
	}
	if string(payload) == "get-states" {
		return d.Refresh(ctx)
	}
	values, err := tuya.ParseCommand(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	d.cmdMu.Lock()
	defer d.cmdMu.Unlock()
	return d.write(ctx, values)
}

// DPSKeyCommand handles a plain value on the dps/<key>/cmnd topic. JSON
// payloads belong on dps/cmnd and are rejected.
func (d *Device) DPSKeyCommand(ctx context.Context, key int, payload string) error {
	if err := d.requireActive(); err != nil {
		return err
	}
	if key <= 0 {
		return fmt.Errorf("%w: dps key %d", ErrInvalidCommand, key)
	}
	if tuya.IsJSON([]byte(payload)) {
		return fmt.Errorf("%w: JSON is not accepted on dps/%d/cmnd, use dps/cmnd", ErrInvalidCommand, key)
	}
	d.cmdMu.Lock()
	defer d.cmdMu.Unlock()
	return d.write(ctx, map[int]any{key: tuya.ParseScalar(payload)})
}

// assertMode writes the light mode DPS when the command needs a different
// mode than the cached one. Caller holds cmdMu.
func (d *Device) assertMode(ctx context.Context, mode string) error {
	d.mu.RLock()
	key := d.layout.DPSMode
	current := d.dps[key]
	d.mu.RUnlock()
	if mode == "" || key == 0 || tuya.Format(current) == mode {
		return nil
	}
	return d.write(ctx, map[int]any{key: mode})
}

// write sets each DPS in ascending key order, updates the cache and publishes
// the affected topics. Caller holds cmdMu.
func (d *Device) write(ctx context.Context, values map[int]any) error {
	keys := make([]int, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	written := make(map[int]any, len(values))
	var errs []error
	for _, k := range keys {
		if err := d.client.Set(ctx, k, values[k]); err != nil {
			errs = append(errs, fmt.Errorf("set dps %d: %w", k, err))
			continue
		}
		written[k] = values[k]
	}
	if len(written) > 0 {
		d.apply(written)
	}
	return errors.Join(errs...)
}

// handleData receives values pushed by the device.
func (d *Device) handleData(values map[int]any) {
	if s, _ := d.Status(); s != StatusActive {
		d.mu.Lock()
		for k, v := range values {
			d.dps[k] = v
		}
		d.mu.Unlock()
		return
	}
	d.apply(values)
}

// apply merges values into the cache and publishes every topic they touch.
func (d *Device) apply(values map[int]any) {
	d.mu.Lock()
	for k, v := range values {
		d.dps[k] = v
	}
	d.mu.Unlock()

	schema := d.Schema()
	keys := make([]int, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	for _, k := range keys {
		if schema != nil {
			for _, sp := range schema.ByKey(k) {
				d.publishTopic(sp)
			}
		}
		d.publishRaw(k, values[k])
	}
	d.publishRawAll()
}

func (d *Device) publishAll() {
	schema := d.Schema()
	if schema == nil {
		return
	}
	for _, sp := range schema.Topics() {
		d.publishTopic(sp)
	}
	d.mu.RLock()
	raw := make(map[int]any, len(d.dps))
	for k, v := range d.dps {
		raw[k] = v
	}
	d.mu.RUnlock()
	keys := make([]int, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	for _, k := range keys {
		d.publishRaw(k, raw[k])
	}
	d.publishRawAll()
}

func (d *Device) publishTopic(sp TopicSpec) {
	d.mu.RLock()
	raw := d.dps[sp.Key]
	d.mu.RUnlock()
	payload, value, ok := d.statePayload(sp, raw)
	if !ok {
		return
	}
	d.emit(EventState, StateUpdate{
		Topic:   d.opts.BaseTopic + sp.Name,
		Name:    sp.Name,
		Payload: payload,
		Value:   value,
	})
}

func (d *Device) publishRaw(key int, v any) {
	name := "dps/" + strconv.Itoa(key) + "/state"
	d.emit(EventState, StateUpdate{Topic: d.opts.BaseTopic + name, Name: name, Payload: tuya.Format(v)})
}

func (d *Device) publishRawAll() {
	data, err := json.Marshal(d.rawState())
	if err != nil {
		d.logger.Warn("marshal dps state", "err", err)
		return
	}
	d.emit(EventState, StateUpdate{Topic: d.opts.BaseTopic + "dps/state", Name: "dps/state", Payload: string(data)})
}

// rawState returns the DPS cache keyed by decimal index, as tuyapi reports it.
func (d *Device) rawState() map[string]any {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]any, len(d.dps))
	for k, v := range d.dps {
		out[strconv.Itoa(k)] = v
	}
	return out
}

func (d *Device) publishAvailability(online bool) {
	d.emit(EventAvailability, Availability{Topic: d.opts.BaseTopic + "LWT", Online: online})
}

// Snapshot returns the current view of the device.
func (d *Device) Snapshot() Snapshot {
	st, err := d.Status()
	snap := Snapshot{
		ID:        d.opts.ID,
		Name:      d.opts.Name,
		BaseTopic: d.opts.BaseTopic,
		Kind:      d.opts.Kind,
		Status:    st,
		DPS:       d.rawState(),
		State:     make(map[string]string),
	}
	if err != nil {
		snap.Error = err.Error()
	}
	schema := d.Schema()
	if schema == nil {
		return snap
	}
	if d.opts.Kind == KindLight {
		d.mu.RLock()
		l := d.layout
		d.mu.RUnlock()
		snap.Layout = &l
		snap.Color = d.colors.Current().Name
		snap.Scene = d.scenes.Current().Name
	}
	for _, sp := range schema.Topics() {
		d.mu.RLock()
		raw := d.dps[sp.Key]
		d.mu.RUnlock()
		if payload, _, ok := d.statePayload(sp, raw); ok {
			snap.State[sp.Name] = payload
		}
	}
	return snap
}
