package device

import (
	"fmt"

	"tuya-go-home/internal/color"
)

// Default colour temperature range in mireds, roughly 6500K to 2500K.
const (
	DefaultMinColorTemp = 154
	DefaultMaxColorTemp = 400
)

// Layout maps the capabilities of an RGB + tunable white light to DPS
// indices. A zero index means the capability is not present. Fields left
// zero in configuration are filled in by the prober.
type Layout struct {
	DPSPower        int           `yaml:"dps_power" json:"dps_power,omitempty"`
	DPSMode         int           `yaml:"dps_mode" json:"dps_mode,omitempty"`
	DPSWhiteValue   int           `yaml:"dps_white_value" json:"dps_white_value,omitempty"`
	WhiteValueScale int           `yaml:"white_value_scale" json:"white_value_scale,omitempty"`
	DPSColorTemp    int           `yaml:"dps_color_temp" json:"dps_color_temp,omitempty"`
	ColorTempScale  int           `yaml:"color_temp_scale" json:"color_temp_scale,omitempty"`
	MinColorTemp    int           `yaml:"min_color_temp" json:"min_color_temp,omitempty"`
	MaxColorTemp    int           `yaml:"max_color_temp" json:"max_color_temp,omitempty"`
	DPSColor        int           `yaml:"dps_color" json:"dps_color,omitempty"`
	ColorType       color.Variant `yaml:"color_type" json:"color_type,omitempty"`
	DPSScene        int           `yaml:"dps_scene" json:"dps_scene,omitempty"`
}

// The two DPS families the prober recognises.
var (
	lowFamily = Layout{
		DPSPower: 1, DPSMode: 2,
		DPSWhiteValue: 3, WhiteValueScale: 255,
		DPSColorTemp: 4, ColorTempScale: 255,
		DPSColor: 5,
	}
	highFamily = Layout{
		DPSPower: 20, DPSMode: 21,
		DPSWhiteValue: 22, WhiteValueScale: 1000,
		DPSColorTemp: 23, ColorTempScale: 1000,
		DPSColor: 24,
		DPSScene: 25,
	}
)

// Configured reports whether the layout names a power DPS. Without one the
// device has to be probed.
func (l Layout) Configured() bool {
	return l.DPSPower != 0
}

// highIndex reports whether the layout belongs to the 20-25 family.
func (l Layout) highIndex() bool {
	return l.DPSPower >= highFamily.DPSPower
}

// Merge returns l with every zero field taken from guess. Explicit
// configuration always wins.
func (l Layout) Merge(guess Layout) Layout {
	pick := func(v, g int) int {
		if v != 0 {
			return v
		}
		return g
	}
	out := Layout{
		DPSPower:        pick(l.DPSPower, guess.DPSPower),
		DPSMode:         pick(l.DPSMode, guess.DPSMode),
		DPSWhiteValue:   pick(l.DPSWhiteValue, guess.DPSWhiteValue),
		WhiteValueScale: pick(l.WhiteValueScale, guess.WhiteValueScale),
		DPSColorTemp:    pick(l.DPSColorTemp, guess.DPSColorTemp),
		ColorTempScale:  pick(l.ColorTempScale, guess.ColorTempScale),
		MinColorTemp:    pick(l.MinColorTemp, guess.MinColorTemp),
		MaxColorTemp:    pick(l.MaxColorTemp, guess.MaxColorTemp),
		DPSColor:        pick(l.DPSColor, guess.DPSColor),
		ColorType:       l.ColorType,
		DPSScene:        pick(l.DPSScene, guess.DPSScene),
	}
	if out.ColorType == "" {
		out.ColorType = guess.ColorType
	}
	return out
}

// WithDefaults fills the scales, colour temperature range and colour type
// that configuration may omit. Scales and colour type follow the family the
// power DPS belongs to.
func (l Layout) WithDefaults() Layout {
	family := lowFamily
	defaultType := color.VariantHSBHex
	if l.highIndex() {
		family = highFamily
		defaultType = color.VariantHSB
	}
	if l.WhiteValueScale == 0 {
		l.WhiteValueScale = family.WhiteValueScale
	}
	if l.ColorTempScale == 0 {
		l.ColorTempScale = family.ColorTempScale
	}
	if l.MinColorTemp == 0 {
		l.MinColorTemp = DefaultMinColorTemp
	}
	if l.MaxColorTemp == 0 {
		l.MaxColorTemp = DefaultMaxColorTemp
	}
	if l.ColorType == "" {
		l.ColorType = defaultType
	} else if v, err := color.ParseVariant(string(l.ColorType)); err == nil {
		l.ColorType = v
	}
	return l
}

// Validate checks a layout after defaults have been applied.
func (l Layout) Validate() error {
	if !l.Configured() {
		return fmt.Errorf("dps_power is required")
	}
	for name, v := range map[string]int{
		"dps_power": l.DPSPower, "dps_mode": l.DPSMode, "dps_white_value": l.DPSWhiteValue,
		"dps_color_temp": l.DPSColorTemp, "dps_color": l.DPSColor, "dps_scene": l.DPSScene,
	} {
		if v < 0 {
			return fmt.Errorf("%s must not be negative, got %d", name, v)
		}
	}
	if l.WhiteValueScale <= 0 || l.ColorTempScale <= 0 {
		return fmt.Errorf("scales must be positive (white %d, color temp %d)", l.WhiteValueScale, l.ColorTempScale)
	}
	if l.MinColorTemp >= l.MaxColorTemp {
		return fmt.Errorf("min_color_temp %d must be below max_color_temp %d", l.MinColorTemp, l.MaxColorTemp)
	}
	if _, err := color.ParseVariant(string(l.ColorType)); err != nil {
		return err
	}
	return nil
}
