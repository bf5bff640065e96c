package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/randalmurphal/toolgraph/pkg/toolgraph/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestString verifies string extraction with defaults.
func TestString(t *testing.T) {
	tests := []struct {
		name string
		data map[string]any
		want string
	}{
		{"key exists", map[string]any{"name": "review"}, "review"},
		{"key missing", map[string]any{"other": "x"}, "default"},
		{"empty string", map[string]any{"name": ""}, ""},
		{"wrong type", map[string]any{"name": 123}, "default"},
		{"nil map", nil, "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, config.New(tt.data).String("name", "default"))
		})
	}
}

// TestInt verifies integer extraction, including from floats and strings.
func TestInt(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  int
	}{
		{"int", 15, 15},
		{"int64", int64(7), 7},
		{"whole float", 8.0, 8},
		{"fractional float", 8.5, -1},
		{"numeric string", "100", 100},
		{"garbage string", "ten", -1},
		{"bool", true, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New(map[string]any{"n": tt.value})
			assert.Equal(t, tt.want, cfg.Int("n", -1))
		})
	}
}

// TestBool verifies boolean extraction from bools and strings.
func TestBool(t *testing.T) {
	cfg := config.New(map[string]any{"a": true, "b": "false", "c": "1", "d": "maybe", "e": 1})
	assert.True(t, cfg.Bool("a", false))
	assert.False(t, cfg.Bool("b", true))
	assert.True(t, cfg.Bool("c", false))
	assert.True(t, cfg.Bool("d", true))
	assert.False(t, cfg.Bool("e", false))
}

// TestDuration verifies duration extraction with various input types.
func TestDuration(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  time.Duration
	}{
		{"string", "30s", 30 * time.Second},
		{"int seconds", 5, 5 * time.Second},
		{"int64 seconds", int64(2), 2 * time.Second},
		{"float seconds", 1.5, 1500 * time.Millisecond},
		{"duration", time.Minute, time.Minute},
		{"invalid string", "soon", time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New(map[string]any{"d": tt.value})
			assert.Equal(t, tt.want, cfg.Duration("d", time.Hour))
		})
	}
}

// TestStringMap verifies mapping extraction as used by node configs.
func TestStringMap(t *testing.T) {
	cfg := config.New(map[string]any{
		"inputs":  map[string]any{"code": "code", "functions": "functions"},
		"typed":   map[string]string{"a": "b"},
		"invalid": map[string]any{"code": 3},
	})

	assert.Equal(t, map[string]string{"code": "code", "functions": "functions"}, cfg.StringMap("inputs", nil))
	assert.Equal(t, map[string]string{"a": "b"}, cfg.StringMap("typed", nil))
	assert.Nil(t, cfg.StringMap("invalid", nil))
	assert.Nil(t, cfg.StringMap("missing", nil))
}

// TestMerge verifies that later keys win and inputs are untouched.
func TestMerge(t *testing.T) {
	base := config.New(map[string]any{"port": 8000, "host": "0.0.0.0"})
	over := config.New(map[string]any{"port": "9000"})

	merged := base.Merge(over)
	assert.Equal(t, 9000, merged.Int("port", 0))
	assert.Equal(t, "0.0.0.0", merged.String("host", ""))
	assert.Equal(t, 8000, base.Int("port", 0))
	assert.Len(t, merged.Raw(), 2)
}

// TestHas verifies presence checks independent of the value.
func TestHas(t *testing.T) {
	cfg := config.New(map[string]any{"k": nil})
	assert.True(t, cfg.Has("k"))
	assert.False(t, cfg.Has("missing"))
	assert.NotNil(t, config.New(nil).Raw())
}

// TestFromFile verifies loading YAML and JSON files by extension.
func TestFromFile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "settings.YAML")
	require.NoError(t, os.WriteFile(yamlPath, []byte("port: 8080\nworkflows_dir: ./wf\n"), 0o644))
	cfg, err := config.FromFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Int("port", 0))
	assert.Equal(t, "./wf", cfg.String("workflows_dir", ""))

	jsonPath := filepath.Join(dir, "settings.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"debug": true}`), 0o644))
	cfg, err = config.FromFile(jsonPath)
	require.NoError(t, err)
	assert.True(t, cfg.Bool("debug", false))

	_, err = config.FromFile(filepath.Join(dir, "settings.toml"))
	assert.Error(t, err)

	badPath := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(badPath, []byte("x = 1"), 0o644))
	_, err = config.FromFile(badPath)
	assert.ErrorContains(t, err, "unsupported extension")
}

// TestFromYAML_Invalid verifies parse errors are reported.
func TestFromYAML_Invalid(t *testing.T) {
	_, err := config.FromYAML([]byte("key: [unclosed"))
	assert.ErrorContains(t, err, "parse yaml")

	_, err = config.FromJSON([]byte("{"))
	assert.ErrorContains(t, err, "parse json")

	cfg, err := config.FromJSON([]byte("  "))
	require.NoError(t, err)
	assert.Empty(t, cfg.Raw())
}

// TestFromEnv verifies environment variables are read under lower-cased keys.
func TestFromEnv(t *testing.T) {
	t.Setenv("TOOLGRAPH_TEST_PORT", "8123")
	t.Setenv("TOOLGRAPH_TEST_EMPTY", "")

	cfg := config.FromEnv("TOOLGRAPH_TEST_PORT", "TOOLGRAPH_TEST_UNSET", "TOOLGRAPH_TEST_EMPTY")
	assert.Equal(t, 8123, cfg.Int("toolgraph_test_port", 0))
	assert.False(t, cfg.Has("toolgraph_test_unset"))
	assert.False(t, cfg.Has("toolgraph_test_empty"))
}
