// Package color encodes and decodes the colour payloads Tuya lights carry in
// their colour DPS, and resolves the named colour palette and scene catalogue.
package color

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidPayload is returned for colour payloads that do not match the
// expected variant layout.
var ErrInvalidPayload = errors.New("color: invalid payload")

// Variant identifies the colour DPS encoding used by a device.
type Variant string

const (
	// VariantHSB is 12 hex characters: hue, saturation and brightness as
	// 4-digit fields, saturation and brightness on a 0-1000 scale.
	VariantHSB Variant = "hsb"
	// VariantHSBHex is 14 hex characters: RRGGBB followed by a 4-digit hue
	// and 2-digit saturation and brightness on a 0-255 scale.
	VariantHSBHex Variant = "hsbhex"
)

// ParseVariant validates a colour type name from configuration.
func ParseVariant(s string) (Variant, error) {
	switch Variant(strings.ToLower(s)) {
	case VariantHSB:
		return VariantHSB, nil
	case VariantHSBHex:
		return VariantHSBHex, nil
	default:
		return "", fmt.Errorf("unknown color type %q (supported: hsb, hsbhex)", s)
	}
}

// PayloadLen returns the native payload length for v.
func (v Variant) PayloadLen() int {
	if v == VariantHSBHex {
		return 14
	}
	return 12
}

// HSB is a colour as hue (0-360), saturation (0-100) and brightness (0-100).
type HSB struct {
	H, S, B int
}

// Clamp limits every component to its legal range.
func (c HSB) Clamp() HSB {
	return HSB{H: clampInt(c.H, 0, 360), S: clampInt(c.S, 0, 100), B: clampInt(c.B, 0, 100)}
}

// Decode parses a native colour payload.
func Decode(v Variant, payload string) (HSB, error) {
	if len(payload) != v.PayloadLen() {
		return HSB{}, fmt.Errorf("%w: %s payload %q has length %d, want %d",
			ErrInvalidPayload, v, payload, len(payload), v.PayloadLen())
	}
	if v == VariantHSBHex {
		h, err1 := parseHexField(payload[6:10])
		s, err2 := parseHexField(payload[10:12])
		b, err3 := parseHexField(payload[12:14])
		if err := errors.Join(err1, err2, err3); err != nil {
			return HSB{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return HSB{H: h, S: roundDiv(s, 2.55), B: roundDiv(b, 2.55)}.Clamp(), nil
	}
	h, err1 := parseHexField(payload[0:4])
	s, err2 := parseHexField(payload[4:8])
	b, err3 := parseHexField(payload[8:12])
	if err := errors.Join(err1, err2, err3); err != nil {
		return HSB{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return HSB{H: h, S: roundDiv(s, 10), B: roundDiv(b, 10)}.Clamp(), nil
}

// Encode renders c as a native payload, zero padding every field.
func Encode(v Variant, c HSB) string {
	c = c.Clamp()
	if v == VariantHSBHex {
		rgb := c.RGB()
		return fmt.Sprintf("%02x%02x%02x%04x%02x%02x", rgb.R, rgb.G, rgb.B, c.H,
			int(math.Round(float64(c.S)*2.55)), int(math.Round(float64(c.B)*2.55)))
	}
	return fmt.Sprintf("%04x%04x%04x", c.H, c.S*10, c.B*10)
}

// RGB is an 8-bit per channel colour.
type RGB struct {
	R, G, B uint8
}

// Hex renders the colour as "#RRGGBB".
func (c RGB) Hex() string {
	return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
}

// ParseHex accepts "#RRGGBB" or "RRGGBB".
func ParseHex(s string) (RGB, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return RGB{}, fmt.Errorf("%w: hex color %q", ErrInvalidPayload, s)
	}
	n, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return RGB{}, fmt.Errorf("%w: hex color %q", ErrInvalidPayload, s)
	}
	return RGB{R: uint8(n >> 16), G: uint8(n >> 8), B: uint8(n)}, nil
}

// RGB converts c to 8-bit RGB.
func (c HSB) RGB() RGB {
	c = c.Clamp()
	v := float64(c.B) / 100
	s := float64(c.S) / 100
	if s == 0 {
		g := to8(v)
		return RGB{g, g, g}
	}
	h := math.Mod(float64(c.H), 360) / 60
	chroma := v * s
	x := chroma * (1 - math.Abs(math.Mod(h, 2)-1))
	m := v - chroma

	var r, g, b float64
	switch {
	case h < 1:
		r, g, b = chroma, x, 0
	case h < 2:
		r, g, b = x, chroma, 0
	case h < 3:
		r, g, b = 0, chroma, x
	case h < 4:
		r, g, b = 0, x, chroma
	case h < 5:
		r, g, b = x, 0, chroma
	default:
		r, g, b = chroma, 0, x
	}
	return RGB{to8(r + m), to8(g + m), to8(b + m)}
}

// HSB converts c to hue, saturation and brightness.
func (c RGB) HSB() HSB {
	r, g, b := float64(c.R)/255, float64(c.G)/255, float64(c.B)/255
	hi := math.Max(r, math.Max(g, b))
	lo := math.Min(r, math.Min(g, b))
	delta := hi - lo

	var h float64
	switch {
	case delta == 0:
		h = 0
	case hi == r:
		h = 60 * math.Mod((g-b)/delta, 6)
	case hi == g:
		h = 60 * ((b-r)/delta + 2)
	default:
		h = 60 * ((r-g)/delta + 4)
	}
	if h < 0 {
		h += 360
	}
	var s float64
	if hi > 0 {
		s = delta / hi
	}
	return HSB{
		H: int(math.Round(h)) % 360,
		S: int(math.Round(s * 100)),
		B: int(math.Round(hi * 100)),
	}
}

func parseHexField(s string) (int, error) {
	n, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("field %q: not hex", s)
	}
	return int(n), nil
}

func roundDiv(n int, d float64) int {
	return int(math.Round(float64(n) / d))
}

func to8(f float64) uint8 {
	return uint8(math.Round(math.Max(0, math.Min(1, f)) * 255))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
