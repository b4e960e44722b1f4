//go:build no_mqtt

package main

import (
	"log/slog"

	"tuya-go-home/internal/device"
)

type mqttStopper struct{}

func (m *mqttStopper) Stop() {}

func initMQTT(_ *device.Manager, _ *Config, _ *slog.Logger) *mqttStopper {
	return &mqttStopper{}
}
