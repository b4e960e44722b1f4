// Package tuya defines the contract between the bridge and the client that
// talks to a physical Tuya device. Framing and encryption of the local
// protocol live behind Client; this package only knows data points (DPS).
package tuya

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Client reads and writes the data points of one device.
type Client interface {
	// Get returns the current value of a DPS, or nil when the device does
	// not report it. A nil value is never an error.
	Get(ctx context.Context, dps int) (any, error)
	// Set writes a single DPS value.
	Set(ctx context.Context, dps int, value any) error
	// OnData registers a handler for values pushed by the device.
	OnData(handler func(map[int]any))
	Close() error
}

// DeviceInfo is what a Dialer needs to reach a device.
type DeviceInfo struct {
	ID      string
	Key     string
	IP      string
	Version string
	// Initial seeds simulated devices.
	Initial map[int]any
}

// Dialer creates a Client for a device.
type Dialer func(info DeviceInfo) (Client, error)

var (
	dialersMu sync.RWMutex
	dialers   = map[string]Dialer{
		"simulated": func(info DeviceInfo) (Client, error) { return NewMemory(info.Initial), nil },
	}
)

// Register makes a transport available under name. Registering a name twice
// replaces the previous dialer.
func Register(name string, d Dialer) {
	dialersMu.Lock()
	defer dialersMu.Unlock()
	dialers[name] = d
}

// Dial creates a client using the named transport.
func Dial(transport string, info DeviceInfo) (Client, error) {
	dialersMu.RLock()
	d, ok := dialers[transport]
	dialersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown transport %q (registered: %v)", transport, Transports())
	}
	c, err := d(info)
	if err != nil {
		return nil, fmt.Errorf("dial %s via %s: %w", info.ID, transport, err)
	}
	return c, nil
}

// Transports lists the registered transport names.
func Transports() []string {
	dialersMu.RLock()
	defer dialersMu.RUnlock()
	names := make([]string, 0, len(dialers))
	for n := range dialers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
