//go:build !no_telemetry

package telemetry

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"tuya-go-home/internal/device"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func stateEvent(name string, value any) device.Event {
	return device.Event{Type: device.EventState, DeviceID: "lamp",
		Data: device.StateUpdate{Topic: "tuya/lamp/" + name, Name: name, Value: value}}
}

func TestPoint(t *testing.T) {
	ts := time.Unix(1, 0)
	tests := []struct {
		name  string
		event device.Event
		want  string
	}{
		{"int", stateEvent("white_brightness_state", 50), "device_state,device=lamp,topic=white_brightness_state value=50 "},
		{"float", stateEvent("temperature_state", 21.5), "device_state,device=lamp,topic=temperature_state value=21.5 "},
		{"bool topic", stateEvent("state", nil), ""},
		{"string value", stateEvent("mode_state", "white"), ""},
		{"availability", device.Event{Type: device.EventAvailability, DeviceID: "lamp", Data: device.Availability{Online: true}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := Point(tt.event, ts)
			if ok != (tt.want != "") {
				t.Fatalf("ok = %v", ok)
			}
			if !ok {
				return
			}
			if got := write.PointToLineProtocol(p, time.Second); !strings.HasPrefix(got, tt.want) {
				t.Errorf("line = %q, want prefix %q", got, tt.want)
			}
		})
	}
}

type recorder struct {
	mu     sync.Mutex
	points []*write.Point
}

func (r *recorder) WritePoint(p *write.Point) {
	r.mu.Lock()
	r.points = append(r.points, p)
	r.mu.Unlock()
}

func TestSinkWritesNumericState(t *testing.T) {
	bus := device.NewEventBus(testLogger())
	rec := &recorder{}
	s := &Sink{writer: rec, logger: testLogger()}
	s.Start(bus)

	bus.Emit(stateEvent("white_brightness_state", 50))
	bus.Emit(stateEvent("state", nil))
	bus.Emit(device.Event{Type: device.EventStatus, DeviceID: "lamp", Data: device.StatusChange{Status: device.StatusActive}})
	s.Close()
	bus.Emit(stateEvent("white_brightness_state", 60))

	if len(rec.points) != 1 {
		t.Fatalf("points = %d, want 1", len(rec.points))
	}
	if rec.points[0].Name() != Measurement {
		t.Errorf("measurement = %q", rec.points[0].Name())
	}
}

func TestConnectAndFlush(t *testing.T) {
	lines := make(chan string, 4)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ping":
			w.WriteHeader(http.StatusNoContent)
		case "/api/v2/write":
			body, _ := io.ReadAll(r.Body)
			lines <- string(body)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()

	s, err := Connect(context.Background(), Config{URL: ts.URL, Token: "t", Org: "home", Bucket: "tuya"}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	bus := device.NewEventBus(testLogger())
	s.Start(bus)
	bus.Emit(stateEvent("color_temp_state", 300))
	s.Close()

	select {
	case body := <-lines:
		if !strings.Contains(body, "topic=color_temp_state value=300") {
			t.Errorf("body = %q", body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no point written")
	}
}

func TestConnectFails(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	if _, err := Connect(context.Background(), Config{URL: ts.URL}, testLogger()); err == nil {
		t.Fatal("expected error")
	}
}
