package task

import (
	"encoding/json"
	"fmt"
	"time"
)

// Params is the type-specific configuration of an instance. Values
// survive a JSON round-trip through the store, so numeric lookups accept
// both int64 and float64 representations.
type Params map[string]any

// Int64 returns the integer value for key, or 0 when absent.
func (p Params) Int64(key string) int64 {
	switch v := p[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	}
	return 0
}

// String returns the string value for key, or "".
func (p Params) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// Bool returns the bool value for key, or false.
func (p Params) Bool(key string) bool {
	b, _ := p[key].(bool)
	return b
}

// Strings returns the string-slice value for key.
func (p Params) Strings(key string) []string {
	switch v := p[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Seconds returns the duration stored under key as a second count.
func (p Params) Seconds(key string) time.Duration {
	return time.Duration(p.Int64(key)) * time.Second
}

// Time returns the RFC 3339 timestamp stored under key, or zero.
func (p Params) Time(key string) time.Time {
	s := p.String(key)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// RequireInt64 returns the integer value for key or an error when absent
// or zero. Used by plugin constructors to reject unusable params at
// assign time.
func (p Params) RequireInt64(key string) (int64, error) {
	if _, ok := p[key]; !ok {
		return 0, fmt.Errorf("missing param %q", key)
	}
	v := p.Int64(key)
	if v == 0 {
		return 0, fmt.Errorf("param %q must be a non-zero integer", key)
	}
	return v, nil
}

// RequireString returns the string value for key or an error when absent
// or empty.
func (p Params) RequireString(key string) (string, error) {
	s := p.String(key)
	if s == "" {
		return "", fmt.Errorf("missing param %q", key)
	}
	return s, nil
}

// RequireTime returns the timestamp for key or an error when absent or
// unparseable.
func (p Params) RequireTime(key string) (time.Time, error) {
	t := p.Time(key)
	if t.IsZero() {
		return time.Time{}, fmt.Errorf("param %q must be an RFC 3339 timestamp", key)
	}
	return t, nil
}
