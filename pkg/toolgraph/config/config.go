package config

import (
	"maps"
	"strconv"
	"time"
)

// Config is a read-only view over a decoded YAML or JSON object.
// Lookups never fail: a missing key or an unusable value yields the
// caller's fallback.
type Config struct {
	data map[string]any
}

// New wraps data. A nil map is treated as empty.
func New(data map[string]any) Config {
	if data == nil {
		data = map[string]any{}
	}
	return Config{data: data}
}

// String reads a string value.
func (c Config) String(key, fallback string) string {
	if s, ok := c.data[key].(string); ok {
		return s
	}
	return fallback
}

// Int reads an integer. Whole float64 values (as decoded from JSON) and
// base-10 strings (as read from the environment) are accepted.
func (c Config) Int(key string, fallback int) int {
	switch v := c.data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		if n := int(v); float64(n) == v {
			return n
		}
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// Bool reads a boolean, also accepting anything strconv.ParseBool does.
func (c Config) Bool(key string, fallback bool) bool {
	switch v := c.data[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// Duration reads a duration. Strings use time.ParseDuration syntax and
// bare numbers are seconds.
func (c Config) Duration(key string, fallback time.Duration) time.Duration {
	switch v := c.data[key].(type) {
	case time.Duration:
		return v
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	case int:
		return time.Duration(v) * time.Second
	case int64:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v * float64(time.Second))
	}
	return fallback
}

// StringMap reads an object whose values are all strings. Node input and
// output bindings are read this way.
func (c Config) StringMap(key string, fallback map[string]string) map[string]string {
	switch v := c.data[key].(type) {
	case map[string]string:
		return v
	case map[string]any:
		out := make(map[string]string, len(v))
		for k, raw := range v {
			s, ok := raw.(string)
			if !ok {
				return fallback
			}
			out[k] = s
		}
		return out
	}
	return fallback
}

// Has reports whether key is present, whatever its value.
func (c Config) Has(key string) bool {
	_, ok := c.data[key]
	return ok
}

// Merge lays other over c and returns the result as a new Config.
func (c Config) Merge(other Config) Config {
	out := make(map[string]any, len(c.data)+len(other.data))
	maps.Copy(out, c.data)
	maps.Copy(out, other.data)
	return Config{data: out}
}

// Raw exposes the backing map. Callers must not mutate it.
func (c Config) Raw() map[string]any {
	return c.data
}
