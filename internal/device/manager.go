package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Manager owns the configured devices. It is handed to the command router,
// the republish scheduler and the web API instead of living in a global.
type Manager struct {
	mu      sync.RWMutex
	devices []*Device
	byID    map[string]*Device
	events  *EventBus
	logger  *slog.Logger
}

// NewManager creates an empty manager.
func NewManager(events *EventBus, logger *slog.Logger) *Manager {
	return &Manager{
		byID:   make(map[string]*Device),
		events: events,
		logger: logger.With("component", "device_manager"),
	}
}

// Events returns the bus devices emit on.
func (m *Manager) Events() *EventBus { return m.events }

// Add registers a device. IDs and base topics must be unique.
func (m *Manager) Add(d *Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[d.ID()]; ok {
		return fmt.Errorf("duplicate device id %q", d.ID())
	}
	for _, other := range m.devices {
		if other.BaseTopic() == d.BaseTopic() {
			return fmt.Errorf("devices %q and %q share base topic %q", other.ID(), d.ID(), d.BaseTopic())
		}
	}
	m.devices = append(m.devices, d)
	m.byID[d.ID()] = d
	return nil
}

// Get finds a device by ID.
func (m *Manager) Get(id string) (*Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.byID[id]
	return d, ok
}

// List returns the devices in registration order.
func (m *Manager) List() []*Device {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Device, len(m.devices))
	copy(out, m.devices)
	return out
}

// Find returns the device whose base topic prefixes topic. The longest base
// topic wins so "tuya/lamp/" does not shadow "tuya/lamp/2/".
func (m *Manager) Find(topic string) (*Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *Device
	for _, d := range m.devices {
		if strings.HasPrefix(topic, d.BaseTopic()) && (best == nil || len(d.BaseTopic()) > len(best.BaseTopic())) {
			best = d
		}
	}
	return best, best != nil
}

// StartAll starts every device concurrently. Devices are independent: one
// failing device does not stop the others. The returned error joins all
// failures.
func (m *Manager) StartAll(ctx context.Context) error {
	devices := m.List()
	errs := make([]error, len(devices))
	var wg sync.WaitGroup
	for i, d := range devices {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.Start(ctx); err != nil {
				errs[i] = fmt.Errorf("device %s: %w", d.ID(), err)
			}
		}()
	}
	wg.Wait()

	err := errors.Join(errs...)
	active := 0
	for _, d := range devices {
		if s, _ := d.Status(); s == StatusActive {
			active++
		}
	}
	m.logger.Info("devices started", "total", len(devices), "active", active)
	return err
}

// Republish re-sends discovery and state of every active device.
func (m *Manager) Republish() {
	for _, d := range m.List() {
		d.Republish()
	}
}

// Close marks every device offline and closes its client.
func (m *Manager) Close() {
	for _, d := range m.List() {
		if err := d.Close(); err != nil {
			m.logger.Warn("close device", "device", d.ID(), "err", err)
		}
	}
}
