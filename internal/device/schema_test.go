package device

import (
	"errors"
	"reflect"
	"testing"

	"tuya-go-home/internal/color"
)

func TestBuildLightHighFamily(t *testing.T) {
	s := BuildLight(highFamily.Merge(Layout{ColorType: color.VariantHSB}).WithDefaults())

	var names []string
	for _, sp := range s.Topics() {
		names = append(names, sp.Name)
	}
	want := []string{
		"color_brightness_state", "color_temp_state", "hex_state", "hs_state", "hsb_state",
		"mode_state", "predefinedColors_state", "predefinedScenes_state", "state", "white_brightness_state",
	}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("topics = %v\nwant %v", names, want)
	}
	if got := s.Keys(); !reflect.DeepEqual(got, []int{20, 21, 22, 23, 24, 25}) {
		t.Errorf("keys = %v", got)
	}
	if got := len(s.ByKey(24)); got != 5 {
		t.Errorf("topics on color dps = %d, want 5", got)
	}

	sp, err := s.Lookup("white_brightness_state")
	if err != nil {
		t.Fatal(err)
	}
	if sp.Transform == nil || sp.Transform.EncodeInt(50) != 500 {
		t.Errorf("white brightness transform not scaled to 1000")
	}
	if sp.Mode != ModeWhite {
		t.Errorf("white brightness mode = %q", sp.Mode)
	}
}

func TestBuildLightWithoutOptionalDPS(t *testing.T) {
	l := lowFamily
	l.DPSColorTemp = 0
	s := BuildLight(l.WithDefaults())

	for _, name := range []string{"color_temp_state", "predefinedScenes_state", "no_such_state"} {
		if _, err := s.Lookup(name); !errors.Is(err, ErrUnsupportedTopic) {
			t.Errorf("Lookup(%s) err = %v, want ErrUnsupportedTopic", name, err)
		}
		if s.Has(name) {
			t.Errorf("Has(%s) = true", name)
		}
	}
	for _, sp := range s.Topics() {
		if sp.Inert() {
			t.Errorf("Topics() returned inert %s", sp.Name)
		}
	}
	sp, err := s.Lookup("white_brightness_state")
	if err != nil {
		t.Fatal(err)
	}
	if got := sp.Transform.EncodeInt(0); got != 25 {
		t.Errorf("255-scale white 0%% = %d, want 25", got)
	}
}

func TestStateTopic(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"cmnd", "state", true},
		{"hs_cmnd", "hs_state", true},
		{"white_brightness_cmnd", "white_brightness_state", true},
		{"predefinedColors_cmnd", "predefinedColors_state", true},
		{"_cmnd", "", false},
		{"hs_state", "", false},
	}
	for _, tt := range tests {
		got, ok := StateTopic(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("StateTopic(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestComponents(t *testing.T) {
	if got := (CompH | CompS).String(); got != "h,s" {
		t.Errorf("String = %q", got)
	}
	if got := (CompH | CompS | CompB).Count(); got != 3 {
		t.Errorf("Count = %d", got)
	}
}

func ptr(f float64) *float64 { return &f }

func TestBuildTemplate(t *testing.T) {
	s, err := BuildTemplate(map[string]TemplateTopic{
		"state":             {Key: 1, Type: "bool"},
		"brightness_state":  {Key: 2, Type: "int", Min: ptr(0), Max: ptr(100), StateMath: "/2.55", CommandMath: "*2.55"},
		"temperature_state": {Key: 3, Type: "float", StateMath: "x/10"},
		"color_state":       {Key: 5, Type: "hsb", Components: "h,s"},
		"mode_state":        {Key: 4, Type: "str"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Topics()) != 5 {
		t.Fatalf("topics = %d", len(s.Topics()))
	}

	b, _ := s.Lookup("brightness_state")
	if got := b.Transform.EncodeInt(100); got != 255 {
		t.Errorf("brightness 100 -> %d, want 255", got)
	}
	if got := b.Transform.DecodeInt(128); got != 50 {
		t.Errorf("brightness 128 -> %d, want 50", got)
	}
	if got := b.Transform.EncodeInt(150); got != 255 {
		t.Errorf("brightness 150 not clamped: %d", got)
	}

	temp, _ := s.Lookup("temperature_state")
	if got := temp.Transform.Decode(215); got != 21.5 {
		t.Errorf("temperature 215 -> %v, want 21.5", got)
	}
	if got := temp.Transform.Encode(21.5); got != 21.5 {
		t.Errorf("missing command math must pass through, got %v", got)
	}

	c, _ := s.Lookup("color_state")
	if c.Type != TypeColor || c.Variant != color.VariantHSB || c.Components != CompH|CompS {
		t.Errorf("color topic = %+v", c)
	}
}

func TestBuildTemplateRangeOnly(t *testing.T) {
	s, err := BuildTemplate(map[string]TemplateTopic{
		"level_state": {Key: 2, Type: "int", Min: ptr(1), Max: ptr(10)},
	})
	if err != nil {
		t.Fatal(err)
	}
	sp, _ := s.Lookup("level_state")
	if !sp.Transform.Native.Bounded() || sp.Transform.Native != sp.Transform.Public {
		t.Errorf("range-only topic transform = %+v, want identity over 1..10", sp.Transform)
	}
	if got := sp.Transform.EncodeInt(20); got != 10 {
		t.Errorf("level 20 -> %d, want 10", got)
	}
}

func TestBuildTemplateErrors(t *testing.T) {
	tests := []struct {
		name   string
		topics map[string]TemplateTopic
	}{
		{"empty", nil},
		{"bad name", map[string]TemplateTopic{"power": {Key: 1, Type: "bool"}}},
		{"zero key", map[string]TemplateTopic{"state": {Type: "bool"}}},
		{"unknown type", map[string]TemplateTopic{"state": {Key: 1, Type: "json"}}},
		{"bad math", map[string]TemplateTopic{"level_state": {Key: 2, Type: "int", StateMath: "x^2"}}},
		{"unknown constant", map[string]TemplateTopic{"level_state": {Key: 2, Type: "int", CommandMath: "x*scale"}}},
		{"math on bool", map[string]TemplateTopic{"state": {Key: 1, Type: "bool", StateMath: "*2"}}},
		{"half range", map[string]TemplateTopic{"level_state": {Key: 2, Type: "int", Min: ptr(0)}}},
		{"bad components", map[string]TemplateTopic{"color_state": {Key: 5, Type: "hsb", Components: "h,q"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := BuildTemplate(tt.topics); err == nil {
				t.Error("expected error")
			}
		})
	}
}
