package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// coerceToJSONBytes turns a .yaml/.yml config file into JSON bytes so that a
// single strict decoder (DisallowUnknownFields) validates both formats. Files
// with any other extension pass through untouched as JSON.
//
// The returned format is "json" or "yaml", for error reporting.
func coerceToJSONBytes(path string, data []byte) ([]byte, string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return data, "json", nil
	}

	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, "yaml", fmt.Errorf("yaml unmarshal: %w", err)
	}

	v = normalizeYAML(v)

	j, err := json.Marshal(v)
	if err != nil {
		return nil, "yaml", fmt.Errorf("yaml->json marshal: %w", err)
	}
	return j, "yaml", nil
}

// normalizeYAML rewrites map[any]any keys (how the yaml package decodes
// nested mappings) into strings, recursively, so json.Marshal accepts the
// value.
func normalizeYAML(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalizeYAML(v)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[k] = normalizeYAML(v)
		}
		return m
	case []any:
		for i := range x {
			x[i] = normalizeYAML(x[i])
		}
		return x
	default:
		return in
	}
}
