package device

import (
	"fmt"
	"sort"
	"strings"

	"tuya-go-home/internal/color"
	"tuya-go-home/internal/transform"
)

// ValueType says how a topic payload maps to a DPS value.
type ValueType string

const (
	TypeBool            ValueType = "bool"
	TypeInt             ValueType = "int"
	TypeFloat           ValueType = "float"
	TypeStr             ValueType = "str"
	TypeColor           ValueType = "color"
	TypeHex             ValueType = "hex"
	TypePredefinedColor ValueType = "predefined_color"
	TypePredefinedScene ValueType = "predefined_scene"
)

// Components selects which HSB fields a colour topic carries.
type Components uint8

const (
	CompH Components = 1 << iota
	CompS
	CompB
)

// String renders components as "h,s,b".
func (c Components) String() string {
	var parts []string
	if c&CompH != 0 {
		parts = append(parts, "h")
	}
	if c&CompS != 0 {
		parts = append(parts, "s")
	}
	if c&CompB != 0 {
		parts = append(parts, "b")
	}
	return strings.Join(parts, ",")
}

// Count returns the number of components set.
func (c Components) Count() int {
	n := 0
	for _, f := range []Components{CompH, CompS, CompB} {
		if c&f != 0 {
			n++
		}
	}
	return n
}

// Light modes written to the mode DPS before a command that needs them.
const (
	ModeColour = "colour"
	ModeWhite  = "white"
	ModeScene  = "scene"
)

// TopicSpec describes one logical state topic. Name is the state topic name;
// the command topic is the same name with "state" replaced by "cmnd".
type TopicSpec struct {
	Name       string
	Key        int
	Type       ValueType
	Variant    color.Variant
	Components Components
	// Transform converts numeric values. Nil passes values through.
	Transform *transform.Transform
	// Mode is asserted on the mode DPS before writing, when set.
	Mode string
}

// Inert reports whether the topic has no DPS and is never emitted or consumed.
func (s TopicSpec) Inert() bool { return s.Key <= 0 }

// Schema is the read-only topic table of one device.
type Schema struct {
	topics map[string]TopicSpec
	names  []string
}

func newSchema(specs []TopicSpec) *Schema {
	s := &Schema{topics: make(map[string]TopicSpec, len(specs))}
	for _, sp := range specs {
		s.topics[sp.Name] = sp
		s.names = append(s.names, sp.Name)
	}
	sort.Strings(s.names)
	return s
}

// Lookup returns the TopicSpec for a state topic name. Unknown and inert topics
// yield ErrUnsupportedTopic.
func (s *Schema) Lookup(name string) (TopicSpec, error) {
	sp, ok := s.topics[name]
	if !ok || sp.Inert() {
		return TopicSpec{}, fmt.Errorf("%w: %s", ErrUnsupportedTopic, name)
	}
	return sp, nil
}

// Has reports whether name is a live topic.
func (s *Schema) Has(name string) bool {
	_, err := s.Lookup(name)
	return err == nil
}

// Topics returns the live topics sorted by name.
func (s *Schema) Topics() []TopicSpec {
	out := make([]TopicSpec, 0, len(s.names))
	for _, n := range s.names {
		if sp := s.topics[n]; !sp.Inert() {
			out = append(out, sp)
		}
	}
	return out
}

// ByKey returns the live topics backed by a DPS.
func (s *Schema) ByKey(key int) []TopicSpec {
	var out []TopicSpec
	for _, n := range s.names {
		if sp := s.topics[n]; !sp.Inert() && sp.Key == key {
			out = append(out, sp)
		}
	}
	return out
}

// Keys returns the distinct DPS indices used by live topics, ascending.
func (s *Schema) Keys() []int {
	seen := make(map[int]bool)
	var keys []int
	for _, sp := range s.topics {
		if !sp.Inert() && !seen[sp.Key] {
			seen[sp.Key] = true
			keys = append(keys, sp.Key)
		}
	}
	sort.Ints(keys)
	return keys
}

// StateTopic maps a command topic name to its state topic name:
// "hs_cmnd" -> "hs_state", "cmnd" -> "state".
func StateTopic(command string) (string, bool) {
	if command == "cmnd" {
		return "state", true
	}
	base, ok := strings.CutSuffix(command, "_cmnd")
	if !ok || base == "" {
		return "", false
	}
	return base + "_state", true
}

// BuildLight returns the topic table of an RGB + tunable white light. l must
// have defaults applied. Colour temperature topics exist only when the layout
// has a colour temperature DPS.
func BuildLight(l Layout) *Schema {
	white := transform.WhiteBrightness(l.WhiteValueScale)
	specs := []TopicSpec{
		{Name: "state", Key: l.DPSPower, Type: TypeBool},
		{Name: "white_brightness_state", Key: l.DPSWhiteValue, Type: TypeInt, Transform: &white, Mode: ModeWhite},
		{Name: "hs_state", Key: l.DPSColor, Type: TypeColor, Variant: l.ColorType, Components: CompH | CompS, Mode: ModeColour},
		{Name: "color_brightness_state", Key: l.DPSColor, Type: TypeColor, Variant: l.ColorType, Components: CompB, Mode: ModeColour},
		{Name: "hsb_state", Key: l.DPSColor, Type: TypeColor, Variant: l.ColorType, Components: CompH | CompS | CompB, Mode: ModeColour},
		{Name: "hex_state", Key: l.DPSColor, Type: TypeHex, Variant: l.ColorType, Components: CompH | CompS | CompB, Mode: ModeColour},
		{Name: "predefinedColors_state", Key: l.DPSColor, Type: TypePredefinedColor, Variant: l.ColorType, Components: CompH | CompS | CompB, Mode: ModeColour},
		{Name: "predefinedScenes_state", Key: l.DPSScene, Type: TypePredefinedScene, Mode: ModeScene},
		{Name: "mode_state", Key: l.DPSMode, Type: TypeStr},
	}
	if l.DPSColorTemp != 0 {
		ct := transform.ColorTemperature(l.MinColorTemp, l.MaxColorTemp, l.ColorTempScale)
		specs = append(specs, TopicSpec{
			Name: "color_temp_state", Key: l.DPSColorTemp, Type: TypeInt, Transform: &ct, Mode: ModeWhite,
		})
	}
	return newSchema(specs)
}

// TemplateTopic is one topic of a generic device template.
type TemplateTopic struct {
	Key         int      `yaml:"key" json:"key"`
	Type        string   `yaml:"type" json:"type"`
	Min         *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max         *float64 `yaml:"max,omitempty" json:"max,omitempty"`
	StateMath   string   `yaml:"state_math,omitempty" json:"state_math,omitempty"`
	CommandMath string   `yaml:"command_math,omitempty" json:"command_math,omitempty"`
	Components  string   `yaml:"components,omitempty" json:"components,omitempty"`
}

// BuildTemplate returns the topic table of a generic device. Topic names must
// be "state" or end in "_state". Math strings use the arithmetic grammar of
// package transform with x as the value.
func BuildTemplate(topics map[string]TemplateTopic) (*Schema, error) {
	if len(topics) == 0 {
		return nil, fmt.Errorf("template has no topics")
	}
	specs := make([]TopicSpec, 0, len(topics))
	for name, tt := range topics {
		sp, err := templateSpec(name, tt)
		if err != nil {
			return nil, fmt.Errorf("topic %s: %w", name, err)
		}
		specs = append(specs, sp)
	}
	return newSchema(specs), nil
}

func templateSpec(name string, tt TemplateTopic) (TopicSpec, error) {
	if name != "state" && !strings.HasSuffix(name, "_state") {
		return TopicSpec{}, fmt.Errorf("name must be \"state\" or end in _state")
	}
	if tt.Key <= 0 {
		return TopicSpec{}, fmt.Errorf("key must be positive, got %d", tt.Key)
	}
	sp := TopicSpec{Name: name, Key: tt.Key}

	switch t := strings.ToLower(tt.Type); t {
	case "bool", "int", "float", "str":
		sp.Type = ValueType(t)
	case "hsb", "hsbhex":
		sp.Type = TypeColor
		sp.Variant = color.Variant(t)
		sp.Components = CompH | CompS | CompB
		if tt.Components != "" {
			c, err := parseComponents(tt.Components)
			if err != nil {
				return TopicSpec{}, err
			}
			sp.Components = c
		}
	default:
		return TopicSpec{}, fmt.Errorf("unknown type %q (supported: bool, int, float, str, hsb, hsbhex)", tt.Type)
	}

	if sp.Type != TypeInt && sp.Type != TypeFloat {
		if tt.StateMath != "" || tt.CommandMath != "" || tt.Min != nil || tt.Max != nil {
			return TopicSpec{}, fmt.Errorf("math and range apply to int and float topics only")
		}
		return sp, nil
	}

	var tr transform.Transform
	if tt.Min != nil && tt.Max != nil {
		tr.Public = transform.Between(*tt.Min, *tt.Max)
	} else if tt.Min != nil || tt.Max != nil {
		return TopicSpec{}, fmt.Errorf("min and max must be given together")
	}
	if tt.StateMath != "" {
		e, err := transform.Parse(tt.StateMath, nil)
		if err != nil {
			return TopicSpec{}, fmt.Errorf("state_math: %w", err)
		}
		tr.State = e
	}
	if tt.CommandMath != "" {
		e, err := transform.Parse(tt.CommandMath, nil)
		if err != nil {
			return TopicSpec{}, fmt.Errorf("command_math: %w", err)
		}
		tr.Command = e
	}
	if tr.State == nil && tr.Command == nil {
		tr = transform.Identity(tr.Public)
	}
	sp.Transform = &tr
	return sp, nil
}

func parseComponents(s string) (Components, error) {
	var c Components
	for _, f := range strings.Split(s, ",") {
		switch strings.TrimSpace(f) {
		case "h":
			c |= CompH
		case "s":
			c |= CompS
		case "b":
			c |= CompB
		default:
			return 0, fmt.Errorf("unknown component %q", f)
		}
	}
	return c, nil
}
