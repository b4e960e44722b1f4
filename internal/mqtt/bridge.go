//go:build !no_mqtt

package mqtt

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"tuya-go-home/internal/device"
)

// Home Assistant announces its restarts on these topics.
var haStatusTopics = []string{"homeassistant/status", "hass/status"}

const commandTimeout = 10 * time.Second

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string // e.g. "tuya/"; bridge state goes to <prefix>bridge/state
	QoS         byte
	Retain      bool
	// HomeAssistant enables discovery payloads and the restart republish.
	HomeAssistant bool
	// RepublishDelay overrides the wait before each republish round after
	// a Home Assistant restart.
	RepublishDelay time.Duration
}

// Bridge connects the device manager to MQTT: device events become
// publishes and command topics are routed back to devices.
type Bridge struct {
	client      pahomqtt.Client
	devices     *device.Manager
	router      *Router
	republisher *Republisher
	cfg         Config
	logger      *slog.Logger
	unsub       func()
	ctx         context.Context
	cancel      context.CancelFunc

	// send publishes one message. It is the paho client outside tests.
	send func(topic string, payload []byte, retained bool)
}

func newBridge(devices *device.Manager, cfg Config, logger *slog.Logger) *Bridge {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		devices: devices,
		router:  NewRouter(devices, logger),
		cfg:     cfg,
		logger:  logger.With("component", "mqtt"),
		ctx:     ctx,
		cancel:  cancel,
	}
	b.republisher = NewRepublisher(devices.Republish, logger)
	if cfg.RepublishDelay > 0 {
		b.republisher.Delay = cfg.RepublishDelay
	}
	return b
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(devices *device.Manager, cfg Config, logger *slog.Logger) (*Bridge, error) {
	b := newBridge(devices, cfg, logger)
	b.send = b.publishMQTT

	clientID := "tuya-go-home-" + uuid.NewString()[:8]
	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(b.bridgeStateTopic(), "offline", cfg.QoS, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected", "client_id", clientID)
			b.publishBridgeState("online")
			b.subscribe()
			// Re-advertise after a reconnect; devices not yet active skip this.
			b.devices.Republish()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	// Assign before connecting: the OnConnect handler publishes through it.
	b.client = pahomqtt.NewClient(opts)
	token := b.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return b, nil
}

// Start subscribes to device events and begins MQTT publishing. Call it
// before starting devices so their first publishes are not lost.
func (b *Bridge) Start() {
	b.unsub = b.devices.Events().OnAll(b.handleEvent)
	b.logger.Info("MQTT bridge started", "prefix", b.cfg.TopicPrefix, "home_assistant", b.cfg.HomeAssistant)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	b.cancel()
	b.republisher.Stop()
	if b.unsub != nil {
		b.unsub()
	}
	b.publishBridgeState("offline")
	if b.client != nil {
		b.client.Disconnect(1000)
	}
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) handleEvent(event device.Event) {
	switch event.Type {
	case device.EventState:
		if u, ok := event.Data.(device.StateUpdate); ok {
			b.send(u.Topic, []byte(u.Payload), b.cfg.Retain)
		}
	case device.EventAvailability:
		if a, ok := event.Data.(device.Availability); ok {
			payload := "offline"
			if a.Online {
				payload = "online"
			}
			b.send(a.Topic, []byte(payload), true)
		}
	case device.EventDiscovery:
		if desc, ok := event.Data.(device.Descriptor); ok {
			b.publishDiscovery(desc)
		}
	case device.EventStatus:
		if s, ok := event.Data.(device.StatusChange); ok && s.Status == device.StatusFailed {
			b.logger.Warn("device failed", "device", event.DeviceID, "err", s.Error)
		}
	}
}

func (b *Bridge) publishDiscovery(desc device.Descriptor) {
	if !b.cfg.HomeAssistant {
		return
	}
	msg, ok := buildDiscovery(desc)
	if !ok {
		b.logger.Debug("no HA discovery for device kind", "device", desc.ID, "kind", desc.Kind)
		return
	}
	b.send(msg.Topic, msg.Payload, true)
	b.logger.Info("published HA discovery", "device", desc.ID, "name", deviceDisplayName(desc))
}

func (b *Bridge) bridgeStateTopic() string {
	return b.cfg.TopicPrefix + "bridge/state"
}

func (b *Bridge) publishBridgeState(state string) {
	b.send(b.bridgeStateTopic(), []byte(state), true)
}

// subscribe listens on every device's topic tree and, with Home Assistant
// enabled, on the HA status topics.
func (b *Bridge) subscribe() {
	var bases []string
	for _, d := range b.devices.List() {
		bases = append(bases, d.BaseTopic())
	}
	for _, topic := range deviceFilters(bases) {
		b.watch(b.client.Subscribe(topic, b.cfg.QoS, b.onMessage), "subscribe", topic)
	}
	if b.cfg.HomeAssistant {
		for _, topic := range haStatusTopics {
			b.watch(b.client.Subscribe(topic, b.cfg.QoS, b.onMessage), "subscribe", topic)
		}
	}
}

// deviceFilters returns one "<base>#" filter per topic tree. paho invokes
// every matching subscription for a message, so a base topic nested under
// another device's base is left to the outer filter and the router picks the
// device.
func deviceFilters(bases []string) []string {
	sorted := slices.Clone(bases)
	slices.SortFunc(sorted, func(a, b string) int {
		if c := cmp.Compare(len(a), len(b)); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
	var kept, filters []string
outer:
	for _, base := range sorted {
		for _, k := range kept {
			if strings.HasPrefix(base, k) {
				continue outer
			}
		}
		kept = append(kept, base)
		filters = append(filters, base+"#")
	}
	return filters
}

func (b *Bridge) onMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	b.handleMessage(msg.Topic(), msg.Payload())
}

// handleMessage runs on paho's ordered message router, so commands reach a
// device in delivery order.
func (b *Bridge) handleMessage(topic string, payload []byte) {
	if b.cfg.HomeAssistant && isHAStatus(topic) {
		b.logger.Info("Home Assistant status", "topic", topic, "payload", string(payload))
		if string(payload) == "online" {
			b.republisher.Trigger()
		}
		return
	}
	if !IsCommand(topic) {
		return
	}
	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()
	b.router.Handle(ctx, topic, payload)
}

func isHAStatus(topic string) bool {
	for _, t := range haStatusTopics {
		if topic == t {
			return true
		}
	}
	return false
}

func (b *Bridge) publishMQTT(topic string, payload []byte, retained bool) {
	b.watch(b.client.Publish(topic, b.cfg.QoS, retained, payload), "publish", topic)
}

// watch reports the outcome of an async token without blocking the caller.
func (b *Bridge) watch(token pahomqtt.Token, op, topic string) {
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT "+op+" timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT "+op+" error", "topic", topic, "err", err)
		}
	}()
}
