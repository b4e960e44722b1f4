//go:build no_telemetry

package main

import (
	"log/slog"

	"tuya-go-home/internal/device"
)

type telemetryStopper struct{}

func (t *telemetryStopper) Stop() {}

func initTelemetry(_ *device.Manager, _ *Config, _ *slog.Logger) *telemetryStopper {
	return &telemetryStopper{}
}
