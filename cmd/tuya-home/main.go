package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"tuya-go-home/internal/device"
	"tuya-go-home/internal/store"
	"tuya-go-home/internal/web"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

type Config struct {
	MQTT struct {
		Broker         string        `yaml:"broker"`
		Username       string        `yaml:"username"`
		Password       string        `yaml:"password"`
		TopicPrefix    string        `yaml:"topic_prefix"`
		QoS            *int          `yaml:"qos"`
		Retain         bool          `yaml:"retain"`
		HomeAssistant  bool          `yaml:"home_assistant"`
		RepublishDelay time.Duration `yaml:"republish_delay"`
	} `yaml:"mqtt"`
	Web struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Influx struct {
		URL           string        `yaml:"url"`
		Token         string        `yaml:"token"`
		Org           string        `yaml:"org"`
		Bucket        string        `yaml:"bucket"`
		FlushInterval time.Duration `yaml:"flush_interval"`
	} `yaml:"influx"`
	Exec struct {
		Allowlist []string `yaml:"allowlist"`
		Timeout   string   `yaml:"timeout"`
	} `yaml:"exec"`
	// UseDeviceTopic builds base topics from device ids instead of names.
	UseDeviceTopic bool           `yaml:"use_device_topic"`
	Settle         time.Duration  `yaml:"settle"`
	ProbeTimeout   time.Duration  `yaml:"probe_timeout"`
	DevicesDir     string         `yaml:"devices_dir"`
	ScriptsDir     string         `yaml:"scripts_dir"`
	Devices        []DeviceConfig `yaml:"devices"`
}

// DeviceConfig is one entry of the devices list.
type DeviceConfig struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Key     string `yaml:"key"`
	IP      string `yaml:"ip"`
	Version string `yaml:"version"`
	// Transport names the tuya client implementation, "simulated" by default.
	Transport    string                          `yaml:"transport"`
	Type         string                          `yaml:"type"`
	Layout       device.Layout                   `yaml:"layout"`
	Template     map[string]device.TemplateTopic `yaml:"template"`
	TemplateName string                          `yaml:"template_name"`
	Initial      map[int]any                     `yaml:"initial"`
}

func (c *Config) validate() error {
	if c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}
	if q := *c.MQTT.QoS; q < 0 || q > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", q)
	}
	if len(c.Devices) == 0 {
		return fmt.Errorf("no devices configured")
	}
	seen := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		if d.ID == "" {
			return fmt.Errorf("devices[%d]: id is required", i)
		}
		if seen[d.ID] {
			return fmt.Errorf("duplicate device id %q", d.ID)
		}
		seen[d.ID] = true
		switch device.Kind(d.Type) {
		case "", device.KindLight, device.KindGeneric:
		default:
			return fmt.Errorf("device %s: unknown type %q", d.ID, d.Type)
		}
		if len(d.Template) > 0 && d.TemplateName != "" {
			return fmt.Errorf("device %s: template and template_name are exclusive", d.ID)
		}
	}
	return nil
}

func main() {
	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}
	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("tuya-go-home starting", "version", version)

	templates, err := device.LoadTemplateDir(cfg.DevicesDir, logger)
	if err != nil {
		logger.Error("load device templates", "err", err)
		os.Exit(1)
	}

	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	devices := device.NewManager(device.NewEventBus(logger), logger)
	if err := buildDevices(cfg, devices, templates, store.Cache{Store: db}, logger); err != nil {
		logger.Error("configure devices", "err", err)
		os.Exit(1)
	}

	// Event consumers subscribe before devices start so the first
	// discovery and state publishes reach them.
	mqtt := initMQTT(devices, cfg, logger)
	telemetry := initTelemetry(devices, cfg, logger)
	auto, autoWebOpts := initAutomation(devices, cfg, logger)

	webOpts := []web.ServerOption{
		web.WithVersion(version),
		web.WithLayoutStore(db),
		web.WithTemplates(templates),
	}
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	webOpts = append(webOpts, autoWebOpts...)
	webServer := web.NewServer(devices, logger, webOpts...)

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", "err", err)
		}
	}()

	// Probing can take a while; devices come up in the background.
	startCtx, cancelStart := context.WithCancel(context.Background())
	startDone := make(chan struct{})
	go func() {
		defer close(startDone)
		if err := devices.StartAll(startCtx); err != nil {
			logger.Warn("some devices failed to start", "err", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)
	logger.Info("shutting down", "signal", sig)

	cancelStart()
	<-startDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	auto.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	webServer.Stop()
	// Close devices while the bridge is still up so offline availability
	// is published.
	devices.Close()
	mqtt.Stop()
	telemetry.Stop()

	logger.Info("goodbye")
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8080"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "tuya-home.db"
	}
	if cfg.DevicesDir == "" {
		cfg.DevicesDir = "devices"
	}
	if cfg.ScriptsDir == "" {
		cfg.ScriptsDir = "scripts"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "tuya/"
	}
	if !strings.HasSuffix(cfg.MQTT.TopicPrefix, "/") {
		cfg.MQTT.TopicPrefix += "/"
	}
	if cfg.MQTT.QoS == nil {
		qos := 1
		cfg.MQTT.QoS = &qos
	}
	if cfg.Settle == 0 {
		cfg.Settle = device.DefaultSettle
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = device.DefaultProbeTimeout
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	for i := range cfg.Devices {
		if cfg.Devices[i].Transport == "" {
			cfg.Devices[i].Transport = "simulated"
		}
	}
	return &cfg, nil
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
