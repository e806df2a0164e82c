package command

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type ArgType string

const (
	TypeString  ArgType = "string"
	TypeNumber  ArgType = "number"
	TypeBoolean ArgType = "boolean"
	TypeArray   ArgType = "array"
	TypeObject  ArgType = "object"
)

// ArgSpec declares one argument of a command.
type ArgSpec struct {
	Type        ArgType `json:"type"`
	Description string  `json:"description,omitempty"`
	Required    bool    `json:"required,omitempty"`
	Default     any     `json:"defaultValue,omitempty"`

	// Validate returns a non-nil error whose message is reported to the
	// caller when the value is unacceptable.
	Validate func(v any) error `json:"-"`
}

// coerce converts v to the declared type. Text values, as typed into chat
// or passed on a command line, are parsed.
func coerce(t ArgType, v any) (any, error) {
	switch t {
	case "", TypeString:
		switch x := v.(type) {
		case string:
			return x, nil
		case float64, int, int64, bool:
			return fmt.Sprint(x), nil
		}
		return nil, fmt.Errorf("must be a string")

	case TypeNumber:
		switch x := v.(type) {
		case float64:
			return x, nil
		case int:
			return float64(x), nil
		case int64:
			return float64(x), nil
		case json.Number:
			return x.Float64()
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if err != nil {
				return nil, fmt.Errorf("must be a number")
			}
			return f, nil
		}
		return nil, fmt.Errorf("must be a number")

	case TypeBoolean:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(x))
			if err != nil {
				return nil, fmt.Errorf("must be a boolean")
			}
			return b, nil
		}
		return nil, fmt.Errorf("must be a boolean")

	case TypeArray:
		switch x := v.(type) {
		case []any:
			return x, nil
		case []string:
			out := make([]any, len(x))
			for i, s := range x {
				out[i] = s
			}
			return out, nil
		case string:
			x = strings.TrimSpace(x)
			if strings.HasPrefix(x, "[") {
				var out []any
				if err := json.Unmarshal([]byte(x), &out); err != nil {
					return nil, fmt.Errorf("must be an array")
				}
				return out, nil
			}
			var out []any
			for _, part := range strings.Split(x, ",") {
				if part = strings.TrimSpace(part); part != "" {
					out = append(out, part)
				}
			}
			return out, nil
		}
		return nil, fmt.Errorf("must be an array")

	case TypeObject:
		switch x := v.(type) {
		case map[string]any:
			return x, nil
		case string:
			var out map[string]any
			if err := json.Unmarshal([]byte(x), &out); err != nil {
				return nil, fmt.Errorf("must be an object")
			}
			return out, nil
		}
		return nil, fmt.Errorf("must be an object")
	}
	return nil, fmt.Errorf("unsupported argument type %q", t)
}

// Args are the validated arguments handed to a command.
type Args map[string]any

func (a Args) String(name string) string {
	s, _ := a[name].(string)
	return s
}

func (a Args) Int(name string) int {
	switch x := a[name].(type) {
	case float64:
		return int(x)
	case int:
		return x
	}
	return 0
}

func (a Args) Bool(name string) bool {
	b, _ := a[name].(bool)
	return b
}

func (a Args) Has(name string) bool {
	_, ok := a[name]
	return ok
}

// Strings returns an array argument as strings, skipping other elements.
func (a Args) Strings(name string) []string {
	switch x := a[name].(type) {
	case []string:
		return x
	case []any:
		out := make([]string, 0, len(x))
		for _, v := range x {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func (a Args) Map(name string) map[string]any {
	m, _ := a[name].(map[string]any)
	return m
}

// Decode re-encodes an argument into v, for structured inputs such as a
// generated mesh configuration.
func (a Args) Decode(name string, v any) error {
	raw, ok := a[name]
	if !ok {
		return fmt.Errorf("missing %s", name)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// MinLength returns a validator requiring a string of at least n runes.
func MinLength(n int) func(any) error {
	return func(v any) error {
		s, _ := v.(string)
		if len([]rune(strings.TrimSpace(s))) < n {
			return fmt.Errorf("must be at least %d characters", n)
		}
		return nil
	}
}

// OneOf returns a validator restricting a string to the given values.
func OneOf(values ...string) func(any) error {
	return func(v any) error {
		s, _ := v.(string)
		for _, allowed := range values {
			if s == allowed {
				return nil
			}
		}
		return fmt.Errorf("must be one of %s", strings.Join(values, ", "))
	}
}

// MinItems returns a validator requiring an array of at least n elements.
func MinItems(n int) func(any) error {
	return func(v any) error {
		items, _ := v.([]any)
		if len(items) < n {
			return fmt.Errorf("must contain at least %d items", n)
		}
		return nil
	}
}

// NonEmpty rejects blank strings.
func NonEmpty(v any) error {
	s, _ := v.(string)
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("must not be empty")
	}
	return nil
}
