//go:build !no_mqtt

package main

import (
	"log/slog"

	"tuya-go-home/internal/device"
	mqttbridge "tuya-go-home/internal/mqtt"
)

type mqttStopper struct {
	bridge *mqttbridge.Bridge
}

func (m *mqttStopper) Stop() {
	if m.bridge != nil {
		m.bridge.Stop()
	}
}

func initMQTT(devices *device.Manager, cfg *Config, logger *slog.Logger) *mqttStopper {
	bridge, err := mqttbridge.NewBridge(devices, mqttbridge.Config{
		Broker:         cfg.MQTT.Broker,
		Username:       cfg.MQTT.Username,
		Password:       cfg.MQTT.Password,
		TopicPrefix:    cfg.MQTT.TopicPrefix,
		QoS:            byte(*cfg.MQTT.QoS),
		Retain:         cfg.MQTT.Retain,
		HomeAssistant:  cfg.MQTT.HomeAssistant,
		RepublishDelay: cfg.MQTT.RepublishDelay,
	}, logger)
	if err != nil {
		logger.Error("mqtt bridge", "err", err)
		return &mqttStopper{}
	}
	bridge.Start()
	return &mqttStopper{bridge: bridge}
}
