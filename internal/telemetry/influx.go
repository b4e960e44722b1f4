//go:build !no_telemetry

// Package telemetry records numeric device state in InfluxDB.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"tuya-go-home/internal/device"
)

// Measurement is the InfluxDB measurement state points are written to.
const Measurement = "device_state"

const (
	connectTimeout       = 10 * time.Second
	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

// ErrUnhealthy is returned when the server answers the ping but is not ready.
var ErrUnhealthy = errors.New("influxdb not healthy")

// Config selects the InfluxDB bucket.
type Config struct {
	URL           string        `yaml:"url"`
	Token         string        `yaml:"token"`
	Org           string        `yaml:"org"`
	Bucket        string        `yaml:"bucket"`
	BatchSize     uint          `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

type pointWriter interface {
	WritePoint(point *write.Point)
}

// Sink writes a point for every numeric state update. Writes are batched and
// never block the event bus.
type Sink struct {
	client influxdb2.Client
	writer pointWriter
	flush  func()
	logger *slog.Logger
	unsub  func()
}

// Connect pings the server and prepares the non-blocking write API.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (*Sink, error) {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(cfg.BatchSize).
			SetFlushInterval(uint(cfg.FlushInterval.Milliseconds())))

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influxdb ping: %w", err)
	}
	if !healthy {
		client.Close()
		return nil, ErrUnhealthy
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	s := &Sink{
		client: client,
		writer: writeAPI,
		flush:  writeAPI.Flush,
		logger: logger.With("component", "telemetry"),
	}
	go func() {
		for err := range writeAPI.Errors() {
			s.logger.Warn("influxdb write failed", "err", err)
		}
	}()
	s.logger.Info("connected to influxdb", "url", cfg.URL, "bucket", cfg.Bucket)
	return s, nil
}

// Start subscribes to device events.
func (s *Sink) Start(events *device.EventBus) {
	s.unsub = events.On(device.EventState, s.handleEvent)
}

// Close unsubscribes, flushes pending points and closes the client.
func (s *Sink) Close() {
	if s.unsub != nil {
		s.unsub()
	}
	if s.flush != nil {
		s.flush()
	}
	if s.client != nil {
		s.client.Close()
	}
}

func (s *Sink) handleEvent(event device.Event) {
	if p, ok := Point(event, time.Now()); ok {
		s.writer.WritePoint(p)
	}
}

// Point converts a state event with a numeric public value. Other events
// are skipped.
func Point(event device.Event, ts time.Time) (*write.Point, bool) {
	u, ok := event.Data.(device.StateUpdate)
	if !ok || event.Type != device.EventState {
		return nil, false
	}
	v, ok := toFloat(u.Value)
	if !ok {
		return nil, false
	}
	return write.NewPoint(Measurement,
		map[string]string{"device": event.DeviceID, "topic": u.Name},
		map[string]any{"value": v},
		ts), true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
