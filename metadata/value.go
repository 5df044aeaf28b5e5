package metadata

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Value wraps a decoded JSON value of any shape. Tool-authored documents put
// strings, numbers, lists and objects in the same slots interchangeably, so
// every read site goes through the same small set of coercions instead of
// type-switching inline.
type Value struct {
	raw any
}

func newValue(raw any) Value {
	return Value{raw: raw}
}

func (v Value) IsNil() bool {
	return v.raw == nil
}

func (v Value) IsList() bool {
	_, ok := v.raw.([]any)
	return ok
}

// First returns the first element when the value is a non-empty list,
// otherwise the value itself. One level of unwrapping only.
func (v Value) First() Value {
	if list, ok := v.raw.([]any); ok && len(list) > 0 {
		return newValue(list[0])
	}
	return v
}

// String returns the value only when it is a JSON string.
func (v Value) String() (string, bool) {
	s, ok := v.raw.(string)
	return s, ok
}

// AsText renders the value as text: strings pass through untouched,
// everything else is JSON-stringified. A nil value renders as "".
func (v Value) AsText() string {
	switch t := v.raw.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

// Int coerces a numeric value or numeric string to int64. Non-numeric input
// yields (0, false).
func (v Value) Int() (int64, bool) {
	switch t := v.raw.(type) {
	case float64:
		return int64(t), true
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, true
		}
		if f, err := t.Float64(); err == nil {
			return int64(f), true
		}
	case string:
		s := strings.TrimSpace(t)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int64(f), true
		}
	}
	return 0, false
}

// Float coerces a numeric value or numeric string to float64. Non-numeric
// input yields (0, false).
func (v Value) Float() (float64, bool) {
	switch t := v.raw.(type) {
	case float64:
		return t, true
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f, true
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// unescapeQuotes reverses the literal escape sequences that generation tools
// leave in embedded text.
func unescapeQuotes(s string) string {
	s = strings.ReplaceAll(s, `\"`, `"`)
	s = strings.ReplaceAll(s, `\'`, `'`)
	return s
}
