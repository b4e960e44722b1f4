package transform

import (
	"errors"
	"math"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		src  string
		x    float64
		want float64
	}{
		{"x", 7, 7},
		{"x*2.3+25", 10, 48},
		{"*2.3+25", 10, 48},
		{"/2", 9, 4.5},
		{"+1", 1, 2},
		{"2+3*4", 0, 14},
		{"(2+3)*4", 0, 20},
		{"-x", 3, -3},
		{"--x", 3, 3},
		{"x/2.55*-2.46+400", 255, 154},
		{"10-4-3", 0, 3},
		{"16/4/2", 0, 2},
		{"scale*x", 2, 20},
	}
	consts := map[string]float64{"scale": 10}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			e, err := Parse(tt.src, consts)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.src, err)
			}
			if got := e.Eval(tt.x); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Parse(%q).Eval(%v) = %v, want %v", tt.src, tt.x, got, tt.want)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, src := range []string{"", "x+", "(x", "x)", "y*2", "1..2", "x % 2", "os.exit()"} {
		t.Run(src, func(t *testing.T) {
			if _, err := Parse(src, nil); !errors.Is(err, ErrSyntax) {
				t.Errorf("Parse(%q) err = %v, want ErrSyntax", src, err)
			}
		})
	}
}

func TestMustParsePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	MustParse("x*", nil)
}

func TestExprString(t *testing.T) {
	e := MustParse("x*2.3 + -25", nil)
	if got := e.String(); got != "((x * 2.3) + -25)" {
		t.Errorf("String() = %q", got)
	}
}

func TestRangeClamp(t *testing.T) {
	r := Between(100, 0)
	if r.Min != 0 || r.Max != 100 {
		t.Fatalf("Between swapped bounds = %v..%v", r.Min, r.Max)
	}
	tests := []struct {
		in, want float64
	}{
		{-5, 0},
		{50, 50},
		{150, 100},
		{math.NaN(), 0},
	}
	for _, tt := range tests {
		if got := r.Clamp(tt.in); got != tt.want {
			t.Errorf("Clamp(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}

	var unbounded Range
	if unbounded.Bounded() || unbounded.Clamp(-1e9) != -1e9 || !unbounded.Contains(1e9) {
		t.Error("zero Range should be unbounded")
	}
}

func TestWhiteBrightnessRoundTrip(t *testing.T) {
	for _, scale := range []int{255, 1000} {
		tr := WhiteBrightness(scale)
		for x := 0; x <= 100; x++ {
			native := tr.EncodeInt(float64(x))
			if native < 0 || native > scale {
				t.Fatalf("scale %d: Encode(%d) = %d outside native scale", scale, x, native)
			}
			got := tr.DecodeInt(float64(native))
			if d := got - x; d < -1 || d > 1 {
				t.Errorf("scale %d: Decode(Encode(%d)) = %d", scale, x, got)
			}
		}
	}
}

func TestWhiteBrightnessEndpoints(t *testing.T) {
	tests := []struct {
		scale, public, native int
	}{
		{255, 0, 25},
		{255, 100, 255},
		{255, 50, 140},
		{1000, 0, 0},
		{1000, 100, 1000},
		{1000, 42, 420},
	}
	for _, tt := range tests {
		if got := WhiteBrightness(tt.scale).EncodeInt(float64(tt.public)); got != tt.native {
			t.Errorf("scale %d: Encode(%d) = %d, want %d", tt.scale, tt.public, got, tt.native)
		}
	}
}

func TestWhiteBrightnessClamps(t *testing.T) {
	tr := WhiteBrightness(255)
	if got := tr.EncodeInt(250); got != 255 {
		t.Errorf("Encode(250) = %d, want 255", got)
	}
	if got := tr.EncodeInt(-20); got != 25 {
		t.Errorf("Encode(-20) = %d, want 25", got)
	}
	if got := tr.DecodeInt(10); got != 0 {
		t.Errorf("Decode(10) = %d, want 0", got)
	}
}

func TestColorTemperatureRoundTrip(t *testing.T) {
	for _, scale := range []int{255, 1000} {
		tr := ColorTemperature(154, 400, scale)
		for m := 154; m <= 400; m++ {
			native := tr.EncodeInt(float64(m))
			got := tr.DecodeInt(float64(native))
			if d := got - m; d < -1 || d > 1 {
				t.Errorf("scale %d: Decode(Encode(%d)) = %d (native %d)", scale, m, got, native)
			}
		}
	}
}

func TestColorTemperatureEndpoints(t *testing.T) {
	tr := ColorTemperature(154, 400, 1000)
	if got := tr.EncodeInt(400); got != 0 {
		t.Errorf("warmest Encode(400) = %d, want 0", got)
	}
	if got := tr.EncodeInt(154); got != 1000 {
		t.Errorf("coolest Encode(154) = %d, want 1000", got)
	}
	if got := tr.DecodeInt(0); got != 400 {
		t.Errorf("Decode(0) = %d, want 400", got)
	}
	if got := tr.DecodeInt(1000); got != 154 {
		t.Errorf("Decode(1000) = %d, want 154", got)
	}
	if got := tr.EncodeInt(500); got != 0 {
		t.Errorf("Encode(500) = %d, want clamp to 0", got)
	}
}
