package device

import (
	"context"
	"errors"
	"testing"
	"time"

	"tuya-go-home/internal/tuya"
)

func newTestManager(t *testing.T) (*Manager, *recorder) {
	t.Helper()
	logger := testLogger()
	bus := NewEventBus(logger)
	rec := &recorder{}
	bus.OnAll(rec.handle)
	return NewManager(bus, logger), rec
}

func addDevice(t *testing.T, m *Manager, id, base string, dps map[int]any) *Device {
	t.Helper()
	d := New(Options{ID: id, BaseTopic: base, Settle: time.Millisecond}, tuya.NewMemory(dps), m.Events(), testLogger())
	if err := m.Add(d); err != nil {
		t.Fatal(err)
	}
	return d
}

func TestManagerAddAndFind(t *testing.T) {
	m, _ := newTestManager(t)
	addDevice(t, m, "lamp", "tuya/lamp/", nil)
	addDevice(t, m, "lamp2", "tuya/lamp/2/", nil)

	tests := []struct {
		topic string
		want  string
	}{
		{"tuya/lamp/hs_cmnd", "lamp"},
		{"tuya/lamp/dps/20/cmnd", "lamp"},
		{"tuya/lamp/2/cmnd", "lamp2"},
		{"tuya/desk/cmnd", ""},
	}
	for _, tt := range tests {
		d, ok := m.Find(tt.topic)
		got := ""
		if ok {
			got = d.ID()
		}
		if got != tt.want {
			t.Errorf("Find(%q) = %q, want %q", tt.topic, got, tt.want)
		}
	}

	if err := m.Add(New(Options{ID: "lamp", BaseTopic: "tuya/other/"}, tuya.NewMemory(nil), m.Events(), testLogger())); err == nil {
		t.Error("duplicate id accepted")
	}
	if err := m.Add(New(Options{ID: "other", BaseTopic: "tuya/lamp/"}, tuya.NewMemory(nil), m.Events(), testLogger())); err == nil {
		t.Error("duplicate base topic accepted")
	}
	if got := len(m.List()); got != 2 {
		t.Errorf("List len = %d", got)
	}
	if _, ok := m.Get("lamp2"); !ok {
		t.Error("Get(lamp2) failed")
	}
}

func TestManagerStartAllIsolatesFailures(t *testing.T) {
	m, _ := newTestManager(t)
	good := addDevice(t, m, "good", "tuya/good/", highLight())
	bad := addDevice(t, m, "bad", "tuya/bad/", map[int]any{1: true})

	err := m.StartAll(context.Background())
	if !errors.Is(err, ErrProbeInconclusive) {
		t.Errorf("StartAll err = %v, want ErrProbeInconclusive", err)
	}
	if s, _ := good.Status(); s != StatusActive {
		t.Errorf("good status = %s", s)
	}
	if s, _ := bad.Status(); s != StatusFailed {
		t.Errorf("bad status = %s", s)
	}
}

func TestManagerRepublishSkipsInactive(t *testing.T) {
	m, rec := newTestManager(t)
	addDevice(t, m, "good", "tuya/good/", highLight())
	addDevice(t, m, "bad", "tuya/bad/", nil)
	_ = m.StartAll(context.Background())
	rec.reset()

	m.Republish()
	for _, e := range rec.all() {
		if e.DeviceID == "bad" {
			t.Errorf("inactive device republished %s", e.Type)
		}
	}
	if rec.index(EventDiscovery) < 0 {
		t.Error("active device not republished")
	}

	rec.reset()
	m.Close()
	var offline int
	for _, e := range rec.all() {
		if a, ok := e.Data.(Availability); ok && !a.Online {
			offline++
		}
	}
	if offline != 1 {
		t.Errorf("offline events = %d, want 1", offline)
	}
}
