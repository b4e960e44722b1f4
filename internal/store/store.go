package store

import (
	"errors"
	"time"

	"tuya-go-home/internal/device"
)

// ErrNotFound is returned when a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// LayoutRecord is a probed DPS layout. Device state is never persisted.
type LayoutRecord struct {
	DeviceID string        `json:"device_id"`
	Layout   device.Layout `json:"layout"`
	ProbedAt time.Time     `json:"probed_at"`
}

// Store defines the persistence interface.
type Store interface {
	SaveLayout(rec *LayoutRecord) error
	GetLayout(deviceID string) (*LayoutRecord, error)
	DeleteLayout(deviceID string) error
	ListLayouts() ([]*LayoutRecord, error)

	Close() error
}

// Cache adapts a Store to device.LayoutCache.
type Cache struct {
	Store Store
}

func (c Cache) LoadLayout(id string) (device.Layout, bool, error) {
	rec, err := c.Store.GetLayout(id)
	if errors.Is(err, ErrNotFound) {
		return device.Layout{}, false, nil
	}
	if err != nil {
		return device.Layout{}, false, err
	}
	return rec.Layout, true, nil
}

func (c Cache) SaveLayout(id string, l device.Layout) error {
	return c.Store.SaveLayout(&LayoutRecord{DeviceID: id, Layout: l, ProbedAt: time.Now()})
}
