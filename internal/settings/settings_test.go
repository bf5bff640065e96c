package settings

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/toolgraph/pkg/toolgraph/config"
)

// clearEnv unsets every settings variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

// TestLoad_Defaults tests the built-in defaults.
func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	s, err := Load(Options{})
	require.NoError(t, err)
	assert.Equal(t, Default(), *s)
	assert.Equal(t, "0.0.0.0:8000", s.Addr())
}

// TestLoad_Layering tests file, dotenv and environment precedence.
func TestLoad_Layering(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	cfgPath := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
app_name: from-file
port: 9000
max_loop_iterations: 20
workflows_dir: /srv/workflows
shutdown_timeout: 30s
`), 0o644))

	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("PORT=9100\nLOG_FORMAT=json\n"), 0o644))

	t.Setenv(EnvLogFormat, "text")
	t.Setenv(EnvMaxConcurrentRuns, "3")

	s, err := Load(Options{EnvFile: envPath, ConfigFile: cfgPath})
	require.NoError(t, err)

	assert.Equal(t, "from-file", s.AppName)
	assert.Equal(t, 9100, s.Port, "dotenv overrides the file")
	assert.Equal(t, "text", s.LogFormat, "process env is not overridden by dotenv")
	assert.Equal(t, 3, s.MaxConcurrentRuns)
	assert.Equal(t, 20, s.MaxLoopIterations)
	assert.Equal(t, "/srv/workflows", s.WorkflowsDir)
	assert.Equal(t, 30*time.Second, s.ShutdownTimeout)
}

// TestLoad_EnvFile tests missing and required dotenv files.
func TestLoad_EnvFile(t *testing.T) {
	clearEnv(t)
	missing := filepath.Join(t.TempDir(), ".env")

	_, err := Load(Options{EnvFile: missing})
	assert.NoError(t, err)

	_, err = Load(Options{EnvFile: missing, RequireEnvFile: true})
	assert.Error(t, err)

	_, err = Load(Options{ConfigFile: filepath.Join(t.TempDir(), "settings.toml")})
	assert.Error(t, err)
}

// TestFromConfig_Validation tests rejected values.
func TestFromConfig_Validation(t *testing.T) {
	tests := []struct {
		name string
		data map[string]any
		want string
	}{
		{"iterations too high", map[string]any{"max_loop_iterations": 101}, "MaxLoopIterations"},
		{"iterations zero", map[string]any{"max_loop_iterations": 0}, "MaxLoopIterations"},
		{"port too low", map[string]any{"port": 80}, "Port"},
		{"port not a number", map[string]any{"port": "eighty"}, "PORT"},
		{"bad log level", map[string]any{"log_level": "verbose"}, "LogLevel"},
		{"bad log format", map[string]any{"log_format": "xml"}, "LogFormat"},
		{"no concurrency", map[string]any{"max_concurrent_runs": 0}, "MaxConcurrentRuns"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromConfig(config.New(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

// TestFromConfig_Debug tests that debug implies the debug log level.
func TestFromConfig_Debug(t *testing.T) {
	s, err := FromConfig(config.New(map[string]any{"debug": "true"}))
	require.NoError(t, err)
	assert.True(t, s.Debug)
	assert.Equal(t, "debug", s.LogLevel)

	s, err = FromConfig(config.New(map[string]any{"debug": "true", "log_level": "WARN"}))
	require.NoError(t, err)
	assert.Equal(t, "warn", s.LogLevel)
}

// TestSettings_Logger tests handler selection.
func TestSettings_Logger(t *testing.T) {
	var buf bytes.Buffer
	s := Default()
	s.LogFormat = "json"
	s.LogLevel = "warn"

	logger := s.Logger(&buf)
	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	buf.Reset()
	s.LogFormat = "text"
	s.Logger(&buf).Error("plain")
	assert.Contains(t, buf.String(), "msg=plain")
}
