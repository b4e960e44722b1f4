//go:build !no_mqtt

package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"tuya-go-home/internal/device"
)

// Router dispatches command topics to the device owning the topic.
type Router struct {
	devices *device.Manager
	logger  *slog.Logger
}

// NewRouter creates a router over the device manager.
func NewRouter(devices *device.Manager, logger *slog.Logger) *Router {
	return &Router{devices: devices, logger: logger.With("component", "mqtt_router")}
}

// IsCommand reports whether topic is a command topic. State topics echoed
// back through the device wildcard subscription are not.
func IsCommand(topic string) bool {
	last := topic[strings.LastIndexByte(topic, '/')+1:]
	return strings.HasSuffix(last, "cmnd")
}

// Route hands one command message to its device. Topics that no device owns,
// or that are not command topics, return an ErrUnsupportedTopic wrap.
func (r *Router) Route(ctx context.Context, topic string, payload []byte) error {
	if !IsCommand(topic) {
		return fmt.Errorf("%w: %s is not a command topic", device.ErrUnsupportedTopic, topic)
	}
	d, ok := r.devices.Find(topic)
	if !ok {
		return fmt.Errorf("%w: no device for %s", device.ErrUnsupportedTopic, topic)
	}
	return d.Dispatch(ctx, strings.TrimPrefix(topic, d.BaseTopic()), payload)
}

// Handle routes a message and logs the outcome. Unsupported topics only
// get a debug line.
func (r *Router) Handle(ctx context.Context, topic string, payload []byte) {
	err := r.Route(ctx, topic, payload)
	switch {
	case err == nil:
		r.logger.Debug("command handled", "topic", topic)
	case errors.Is(err, device.ErrUnsupportedTopic):
		r.logger.Debug("ignoring topic", "topic", topic, "err", err)
	default:
		r.logger.Warn("command failed", "topic", topic, "payload", string(payload), "err", err)
	}
}
