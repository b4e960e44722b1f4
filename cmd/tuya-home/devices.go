package main

import (
	"fmt"
	"log/slog"

	"tuya-go-home/internal/device"
	"tuya-go-home/internal/tuya"
)

// baseTopic is <prefix><name>/, or <prefix><id>/ with use_device_topic.
func baseTopic(cfg *Config, d DeviceConfig) string {
	name := d.Name
	if cfg.UseDeviceTopic || name == "" {
		name = d.ID
	}
	return cfg.MQTT.TopicPrefix + name + "/"
}

// buildDevices dials every configured device and registers it with the
// manager. Devices are not started.
func buildDevices(cfg *Config, devices *device.Manager, templates *device.TemplateDB, cache device.LayoutCache, logger *slog.Logger) error {
	for _, dc := range cfg.Devices {
		opts := device.Options{
			ID:           dc.ID,
			Name:         dc.Name,
			BaseTopic:    baseTopic(cfg, dc),
			Kind:         device.Kind(dc.Type),
			Layout:       dc.Layout,
			Template:     dc.Template,
			Settle:       cfg.Settle,
			ProbeTimeout: cfg.ProbeTimeout,
			Cache:        cache,
		}
		if dc.TemplateName != "" {
			t := templates.Lookup(dc.TemplateName)
			if t == nil {
				return fmt.Errorf("device %s: unknown template %q", dc.ID, dc.TemplateName)
			}
			opts.Template = t.Topics
		}
		if opts.Kind == device.KindGeneric && len(opts.Template) == 0 {
			return fmt.Errorf("device %s: generic device without template", dc.ID)
		}

		client, err := tuya.Dial(dc.Transport, tuya.DeviceInfo{
			ID:      dc.ID,
			Key:     dc.Key,
			IP:      dc.IP,
			Version: dc.Version,
			Initial: dc.Initial,
		})
		if err != nil {
			return err
		}
		if err := devices.Add(device.New(opts, client, devices.Events(), logger)); err != nil {
			client.Close()
			return err
		}
	}
	logger.Info("devices configured", "count", len(cfg.Devices))
	return nil
}
