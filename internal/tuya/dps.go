package tuya

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrBadCommand is returned for raw DPS command payloads that cannot be parsed.
var ErrBadCommand = errors.New("tuya: malformed dps command")

// ParseScalar interprets a plain text payload as the value to write to a DPS:
// "true"/"false" become bools, numbers become int or float64, anything else
// stays a string.
func ParseScalar(s string) any {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return int(n)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return f
	}
	return s
}

// IsJSON reports whether payload looks like a JSON object or array.
func IsJSON(payload []byte) bool {
	p := bytes.TrimSpace(payload)
	return len(p) > 0 && (p[0] == '{' || p[0] == '[')
}

// rawCommand is the tuyapi style command body:
//
//	{"dps": 1, "set": true}
//	{"multiple": true, "data": {"1": true, "2": "colour"}}
type rawCommand struct {
	DPS      json.RawMessage `json:"dps"`
	Set      json.RawMessage `json:"set"`
	Multiple bool            `json:"multiple"`
	Data     map[string]any  `json:"data"`
}

// ParseCommand decodes a raw DPS JSON command into the values to write, keyed
// by DPS index.
func ParseCommand(payload []byte) (map[int]any, error) {
	var cmd rawCommand
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&cmd); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCommand, err)
	}

	if cmd.Multiple {
		if len(cmd.Data) == 0 {
			return nil, fmt.Errorf("%w: multiple without data", ErrBadCommand)
		}
		out := make(map[int]any, len(cmd.Data))
		for k, v := range cmd.Data {
			idx, err := strconv.Atoi(k)
			if err != nil || idx <= 0 {
				return nil, fmt.Errorf("%w: dps key %q", ErrBadCommand, k)
			}
			out[idx] = normalize(v)
		}
		return out, nil
	}

	if len(cmd.DPS) == 0 || len(cmd.Set) == 0 {
		return nil, fmt.Errorf("%w: need dps and set, or multiple and data", ErrBadCommand)
	}
	idx, err := parseIndex(cmd.DPS)
	if err != nil {
		return nil, err
	}
	var v any
	d := json.NewDecoder(bytes.NewReader(cmd.Set))
	d.UseNumber()
	if err := d.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: set: %v", ErrBadCommand, err)
	}
	return map[int]any{idx: normalize(v)}, nil
}

// parseIndex accepts a DPS index as a JSON number or a numeric string.
func parseIndex(raw json.RawMessage) (int, error) {
	var n int
	if err := json.Unmarshal(raw, &n); err == nil && n > 0 {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n, nil
		}
	}
	return 0, fmt.Errorf("%w: dps index %s", ErrBadCommand, raw)
}

// normalize turns json.Number into int when integral and float64 otherwise.
func normalize(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return int(i)
	}
	f, _ := n.Float64()
	return f
}

// ToFloat converts a device or payload value to float64. NaN and infinite
// values are rejected.
func ToFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case json.Number:
		var err error
		if f, err = n.Float64(); err != nil {
			return 0, false
		}
	case string:
		var err error
		if f, err = strconv.ParseFloat(strings.TrimSpace(n), 64); err != nil {
			return 0, false
		}
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// ToBool converts a device or payload value to bool. Strings accept the
// forms Home Assistant and tuyapi use.
func ToBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "on", "true", "1":
			return true, true
		case "off", "false", "0":
			return false, true
		}
	}
	if f, ok := ToFloat(v); ok {
		return f != 0, true
	}
	return false, false
}

// Format renders a DPS value as plain MQTT payload text.
func Format(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	}
	return fmt.Sprint(v)
}
