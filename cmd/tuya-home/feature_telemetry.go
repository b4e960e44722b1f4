//go:build !no_telemetry

package main

import (
	"context"
	"log/slog"

	"tuya-go-home/internal/device"
	"tuya-go-home/internal/telemetry"
)

type telemetryStopper struct {
	sink *telemetry.Sink
}

func (t *telemetryStopper) Stop() {
	if t.sink != nil {
		t.sink.Close()
	}
}

// initTelemetry connects to InfluxDB when influx.url is set. A failed
// connection disables telemetry, nothing else.
func initTelemetry(devices *device.Manager, cfg *Config, logger *slog.Logger) *telemetryStopper {
	if cfg.Influx.URL == "" {
		return &telemetryStopper{}
	}
	sink, err := telemetry.Connect(context.Background(), telemetry.Config{
		URL:           cfg.Influx.URL,
		Token:         cfg.Influx.Token,
		Org:           cfg.Influx.Org,
		Bucket:        cfg.Influx.Bucket,
		FlushInterval: cfg.Influx.FlushInterval,
	}, logger)
	if err != nil {
		logger.Error("influxdb telemetry disabled", "err", err)
		return &telemetryStopper{}
	}
	sink.Start(devices.Events())
	return &telemetryStopper{sink: sink}
}
