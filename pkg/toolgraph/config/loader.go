package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FromFile reads a .yaml, .yml or .json file.
func FromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		return FromJSON(data)
	case ".yaml", ".yml":
		return FromYAML(data)
	}
	return Config{}, fmt.Errorf("%s: unsupported extension %q", path, ext)
}

// FromYAML decodes a YAML object.
func FromYAML(data []byte) (Config, error) {
	m := map[string]any{}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	return New(m), nil
}

// FromJSON decodes a JSON object. Blank input is an empty Config.
func FromJSON(data []byte) (Config, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return New(nil), nil
	}
	m := map[string]any{}
	if err := json.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse json: %w", err)
	}
	return New(m), nil
}

// FromEnv collects the named environment variables under lower-cased
// keys. Unset and empty variables are left out.
func FromEnv(names ...string) Config {
	m := make(map[string]any, len(names))
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			m[strings.ToLower(name)] = v
		}
	}
	return New(m)
}
