package device

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"tuya-go-home/internal/color"
	"tuya-go-home/internal/transform"
	"tuya-go-home/internal/tuya"
)

// defaultColor is the base for partial colour commands when the device has
// not reported a colour yet.
var defaultColor = color.HSB{H: 0, S: 0, B: 100}

// statePayload renders the raw DPS value of sp as a topic payload. The second
// result is the public numeric value for numeric topics.
func (d *Device) statePayload(sp TopicSpec, raw any) (string, any, bool) {
	if raw == nil {
		return "", nil, false
	}
	switch sp.Type {
	case TypeBool:
		b, ok := tuya.ToBool(raw)
		if !ok {
			return "", nil, false
		}
		if b {
			return "ON", nil, true
		}
		return "OFF", nil, true

	case TypeInt:
		f, ok := tuya.ToFloat(raw)
		if !ok {
			return "", nil, false
		}
		v := int(math.Round(f))
		if sp.Transform != nil {
			v = sp.Transform.DecodeInt(f)
		}
		return strconv.Itoa(v), v, true

	case TypeFloat:
		f, ok := tuya.ToFloat(raw)
		if !ok {
			return "", nil, false
		}
		if sp.Transform != nil {
			f = sp.Transform.Decode(f)
		}
		return strconv.FormatFloat(f, 'f', -1, 64), f, true

	case TypeStr:
		return tuya.Format(raw), nil, true

	case TypeColor, TypeHex:
		s, ok := raw.(string)
		if !ok {
			return "", nil, false
		}
		c, err := color.Decode(sp.Variant, s)
		if err != nil {
			d.logger.Debug("undecodable color state", "topic", sp.Name, "value", s, "err", err)
			return "", nil, false
		}
		if sp.Type == TypeHex {
			return c.RGB().Hex(), nil, true
		}
		return formatComponents(c, sp.Components), nil, true

	case TypePredefinedColor:
		return d.colors.Current().Name, nil, true

	case TypePredefinedScene:
		return d.scenes.Current().Name, nil, true
	}
	return "", nil, false
}

// dpsIntRange bounds integer DPS values to what the device protocol carries.
var dpsIntRange = transform.Between(math.MinInt32, math.MaxInt32)

// commandValue converts a command payload to the value written to sp.Key.
// current is the cached value of that DPS and may be nil. A non-nil commit
// must be called once the value has reached the device.
func (d *Device) commandValue(sp TopicSpec, payload string, current any) (any, func(), error) {
	payload = strings.TrimSpace(payload)
	switch sp.Type {
	case TypeBool:
		if strings.EqualFold(payload, "toggle") {
			b, _ := tuya.ToBool(current)
			return !b, nil, nil
		}
		b, ok := tuya.ToBool(payload)
		if !ok {
			return nil, nil, fmt.Errorf("%w: %q is not on/off", ErrInvalidCommand, payload)
		}
		return b, nil, nil

	case TypeInt:
		f, ok := tuya.ToFloat(payload)
		if !ok {
			return nil, nil, fmt.Errorf("%w: %q is not a number", ErrInvalidCommand, payload)
		}
		native := f
		if sp.Transform != nil {
			native = sp.Transform.Encode(f)
		}
		if !dpsIntRange.Contains(native) {
			return nil, nil, fmt.Errorf("%w: %q is out of range", ErrInvalidCommand, payload)
		}
		if sp.Transform != nil {
			return sp.Transform.EncodeInt(f), nil, nil
		}
		return int(math.Round(f)), nil, nil

	case TypeFloat:
		f, ok := tuya.ToFloat(payload)
		if !ok {
			return nil, nil, fmt.Errorf("%w: %q is not a number", ErrInvalidCommand, payload)
		}
		if sp.Transform != nil {
			f = sp.Transform.Encode(f)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, nil, fmt.Errorf("%w: %q is out of range", ErrInvalidCommand, payload)
		}
		return f, nil, nil

	case TypeStr:
		return payload, nil, nil

	case TypeColor:
		base := defaultColor
		if s, ok := current.(string); ok {
			if c, err := color.Decode(sp.Variant, s); err == nil {
				base = c
			}
		}
		c, err := applyComponents(base, sp.Components, payload)
		if err != nil {
			return nil, nil, err
		}
		return color.Encode(sp.Variant, c), nil, nil

	case TypeHex:
		rgb, err := color.ParseHex(payload)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
		}
		return color.Encode(sp.Variant, rgb.HSB()), nil, nil

	case TypePredefinedColor:
		entry, pos, matched := d.colors.Peek(payload)
		if !matched {
			d.logger.Warn("unknown color, selecting next", "requested", payload, "selected", entry.Name)
		}
		return color.Encode(sp.Variant, entry.HSB()), func() { d.colors.Commit(pos) }, nil

	case TypePredefinedScene:
		entry, pos, matched := d.scenes.Peek(payload)
		if !matched {
			d.logger.Warn("unknown scene, selecting next", "requested", payload, "selected", entry.Name)
		}
		return entry.Code, func() { d.scenes.Commit(pos) }, nil
	}
	return nil, nil, fmt.Errorf("%w: topic type %s", ErrInvalidCommand, sp.Type)
}

func formatComponents(c color.HSB, comps Components) string {
	var parts []string
	if comps&CompH != 0 {
		parts = append(parts, strconv.Itoa(c.H))
	}
	if comps&CompS != 0 {
		parts = append(parts, strconv.Itoa(c.S))
	}
	if comps&CompB != 0 {
		parts = append(parts, strconv.Itoa(c.B))
	}
	return strings.Join(parts, ",")
}

// applyComponents overwrites the fields of base named by comps with the
// comma separated numbers in payload, in h,s,b order.
func applyComponents(base color.HSB, comps Components, payload string) (color.HSB, error) {
	fields := strings.Split(payload, ",")
	if len(fields) != comps.Count() {
		return base, fmt.Errorf("%w: %q needs %d values (%s)", ErrInvalidCommand, payload, comps.Count(), comps)
	}
	i := 0
	next := func() (int, error) {
		f, ok := tuya.ToFloat(fields[i])
		i++
		if !ok || !dpsIntRange.Contains(f) {
			return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidCommand, fields[i-1])
		}
		return int(math.Round(f)), nil
	}
	var err error
	if comps&CompH != 0 {
		if base.H, err = next(); err != nil {
			return base, err
		}
	}
	if comps&CompS != 0 {
		if base.S, err = next(); err != nil {
			return base, err
		}
	}
	if comps&CompB != 0 {
		if base.B, err = next(); err != nil {
			return base, err
		}
	}
	return base.Clamp(), nil
}
