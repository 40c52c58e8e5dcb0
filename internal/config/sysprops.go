package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// LoadSystemProperties reads a flat YAML mapping of process-wide properties.
// Scalar values of any type are rendered as strings.
func LoadSystemProperties(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read system properties: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse system properties: %w", err)
	}

	props := make(map[string]string, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case nil:
			props[key] = ""
		case map[string]any, []any:
			return nil, fmt.Errorf("system property %q: nested values are not supported", key)
		default:
			props[key] = fmt.Sprint(v)
		}
	}
	return props, nil
}

// ApplySystemProperties sets every property from path in the process environment
// and returns the applied keys in sorted order. It runs before Load so the
// properties take part in ${VAR} interpolation.
func ApplySystemProperties(path string) ([]string, error) {
	props, err := LoadSystemProperties(path)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(props))
	for key := range props {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if err := os.Setenv(key, props[key]); err != nil {
			return nil, fmt.Errorf("set system property %q: %w", key, err)
		}
	}
	return keys, nil
}
