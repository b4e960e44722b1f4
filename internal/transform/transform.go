package transform

import "math"

// Range is a closed numeric interval. The zero Range is unbounded.
type Range struct {
	Min, Max float64
	bounded  bool
}

// Between returns the closed range [min, max].
func Between(min, max float64) Range {
	if min > max {
		min, max = max, min
	}
	return Range{Min: min, Max: max, bounded: true}
}

// Bounded reports whether r limits values at all.
func (r Range) Bounded() bool { return r.bounded }

// Clamp limits v to r. NaN clamps to Min.
func (r Range) Clamp(v float64) float64 {
	if !r.bounded {
		return v
	}
	if math.IsNaN(v) || v < r.Min {
		return r.Min
	}
	if v > r.Max {
		return r.Max
	}
	return v
}

// Contains reports whether v lies inside r.
func (r Range) Contains(v float64) bool {
	return !r.bounded || (v >= r.Min && v <= r.Max)
}

// Transform is a pair of inverse expressions between public and native units.
// A nil expression is the identity.
type Transform struct {
	State   Expr // native -> public
	Command Expr // public -> native
	Public  Range
	Native  Range
}

// Encode converts a public value to the native scale. Out-of-range public
// values are clamped first and the result is clamped to the native range.
func (t Transform) Encode(public float64) float64 {
	v := t.Public.Clamp(public)
	if t.Command != nil {
		v = t.Command.Eval(v)
	}
	return t.Native.Clamp(v)
}

// Decode converts a native value to public units, clamped to the public range.
func (t Transform) Decode(native float64) float64 {
	v := native
	if t.State != nil {
		v = t.State.Eval(v)
	}
	return t.Public.Clamp(v)
}

// EncodeInt is Encode rounded to the nearest integer.
func (t Transform) EncodeInt(public float64) int {
	return int(math.Round(t.Encode(public)))
}

// DecodeInt is Decode rounded to the nearest integer.
func (t Transform) DecodeInt(native float64) int {
	return int(math.Round(t.Decode(native)))
}

// Identity returns a transform that only clamps to public.
func Identity(public Range) Transform {
	return Transform{Public: public, Native: public}
}

// WhiteBrightness maps a 0-100 percentage onto a device white value scale.
//
// Devices on the 255 scale time out below 25, so 0% maps to 25 and the scale
// runs 25-255. Every other scale is linear from 0.
func WhiteBrightness(scale int) Transform {
	if scale == 255 {
		return Transform{
			State:   MustParse("(x-25)/2.3", nil),
			Command: MustParse("x*2.3+25", nil),
			Public:  Between(0, 100),
			Native:  Between(25, 255),
		}
	}
	consts := map[string]float64{"step": float64(scale) / 100}
	return Transform{
		State:   MustParse("x/step", consts),
		Command: MustParse("x*step", consts),
		Public:  Between(0, 100),
		Native:  Between(0, float64(scale)),
	}
}

// ColorTemperature maps a mireds range onto a device colour temperature scale.
// Native 0 is the warmest setting (maxMireds) and native scale the coolest.
func ColorTemperature(minMireds, maxMireds, scale int) Transform {
	rangeFactor := float64(maxMireds-minMireds) / 100
	scaleFactor := float64(scale) / 100
	consts := map[string]float64{
		"range_factor": rangeFactor,
		"scale_factor": scaleFactor,
		"max_mireds":   float64(maxMireds),
		"native_max":   float64(maxMireds) / rangeFactor * scaleFactor,
	}
	return Transform{
		State:   MustParse("x/scale_factor*-range_factor+max_mireds", consts),
		Command: MustParse("x/range_factor*-scale_factor+native_max", consts),
		Public:  Between(float64(minMireds), float64(maxMireds)),
		Native:  Between(0, float64(scale)),
	}
}
