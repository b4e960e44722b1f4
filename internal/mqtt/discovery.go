//go:build !no_mqtt

package mqtt

import (
	"encoding/json"

	"tuya-go-home/internal/device"
)

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/light/0123456789abcdef/config"
	Payload []byte
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name"`
}

// haLight is the discovery payload of an RGBTW light using the default
// (topic per attribute) schema.
type haLight struct {
	Name         string `json:"name"`
	UniqueID     string `json:"unique_id"`
	StateTopic   string `json:"state_topic"`
	CommandTopic string `json:"command_topic"`

	BrightnessStateTopic   string `json:"brightness_state_topic,omitempty"`
	BrightnessCommandTopic string `json:"brightness_command_topic,omitempty"`
	BrightnessScale        int    `json:"brightness_scale,omitempty"`
	HSStateTopic           string `json:"hs_state_topic,omitempty"`
	HSCommandTopic         string `json:"hs_command_topic,omitempty"`
	WhiteValueStateTopic   string `json:"white_value_state_topic,omitempty"`
	WhiteValueCommandTopic string `json:"white_value_command_topic,omitempty"`
	WhiteValueScale        int    `json:"white_value_scale,omitempty"`
	ColorTempStateTopic    string `json:"color_temp_state_topic,omitempty"`
	ColorTempCommandTopic  string `json:"color_temp_command_topic,omitempty"`
	MinMireds              int    `json:"min_mireds,omitempty"`
	MaxMireds              int    `json:"max_mireds,omitempty"`

	AvailabilityTopic   string   `json:"availability_topic"`
	PayloadAvailable    string   `json:"payload_available"`
	PayloadNotAvailable string   `json:"payload_not_available"`
	Device              haDevice `json:"device"`
}

// availabilityTopic is where a device reports online/offline.
func availabilityTopic(base string) string {
	return base + "LWT"
}

// deviceDisplayName returns a display name for the device.
func deviceDisplayName(desc device.Descriptor) string {
	if desc.Name != "" {
		return desc.Name
	}
	return desc.ID
}

// buildDiscovery generates the HA discovery message for a device. Only
// lights are advertised; generic devices have no fixed entity shape and
// return ok=false.
func buildDiscovery(desc device.Descriptor) (msg discoveryMsg, ok bool) {
	if desc.Kind != device.KindLight || !desc.HasTopic("state") {
		return discoveryMsg{}, false
	}
	base := desc.BaseTopic
	name := deviceDisplayName(desc)

	d := haLight{
		Name:                name,
		UniqueID:            desc.ID,
		StateTopic:          base + "state",
		CommandTopic:        base + "cmnd",
		AvailabilityTopic:   availabilityTopic(base),
		PayloadAvailable:    "online",
		PayloadNotAvailable: "offline",
		Device: haDevice{
			Identifiers:  []string{desc.ID},
			Manufacturer: desc.Manufacturer,
			Model:        desc.Model,
			Name:         name,
		},
	}
	if desc.HasTopic("color_brightness_state") {
		d.BrightnessStateTopic = base + "color_brightness_state"
		d.BrightnessCommandTopic = base + "color_brightness_cmnd"
		d.BrightnessScale = 100
	}
	if desc.HasTopic("hs_state") {
		d.HSStateTopic = base + "hs_state"
		d.HSCommandTopic = base + "hs_cmnd"
	}
	if desc.HasTopic("white_brightness_state") {
		d.WhiteValueStateTopic = base + "white_brightness_state"
		d.WhiteValueCommandTopic = base + "white_brightness_cmnd"
		d.WhiteValueScale = 100
	}
	if desc.ColorTemp {
		d.ColorTempStateTopic = base + "color_temp_state"
		d.ColorTempCommandTopic = base + "color_temp_cmnd"
		d.MinMireds = desc.MinMireds
		d.MaxMireds = desc.MaxMireds
	}

	return discoveryMsg{
		Topic:   "homeassistant/light/" + desc.ID + "/config",
		Payload: mustJSON(d),
	}, true
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
