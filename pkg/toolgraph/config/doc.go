/*
Package config provides type-safe value extraction from map[string]any.

Node static configuration and the optional settings file are both plain
maps decoded from YAML or JSON; Config reads them with defaults instead of
type assertions:

	cfg := config.New(node.Config)
	inputs := cfg.StringMap("inputs", nil)  // tool field -> state path
	outputs := cfg.StringMap("outputs", nil) // tool field -> state field

Accessors return the default when the key is missing, the value has the
wrong type, or a conversion would lose precision. Int, Bool and Duration also
accept strings so values from the environment can be read the same way.

Load files or environment variables and layer them with Merge:

	file, err := config.FromFile("toolgraph.yaml")
	if err != nil {
	    return err
	}
	cfg := file.Merge(config.FromEnv("PORT", "LOG_LEVEL"))

Config is safe for concurrent reads. Merge returns a fresh map.
*/
package config
