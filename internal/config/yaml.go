package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// yamlToJSON re-encodes a YAML document as JSON so both formats go through
// the same strict decoder. An empty document decodes as "{}".
func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	if doc == nil {
		return []byte("{}"), nil
	}
	v, err := jsonCompatible(doc, "")
	if err != nil {
		return nil, err
	}
	if m, ok := v.(map[string]any); ok {
		splitWordScalar(m)
	}
	return json.Marshal(v)
}

// jsonCompatible rejects keys JSON cannot express (lists, maps) instead of
// stringifying them into a field name nobody wrote.
func jsonCompatible(in any, path string) (any, error) {
	switch x := in.(type) {
	case map[string]any:
		for k, v := range x {
			out, err := jsonCompatible(v, join(path, k))
			if err != nil {
				return nil, err
			}
			x[k] = out
		}
		return x, nil
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			var key string
			switch kk := k.(type) {
			case string:
				key = kk
			case int, int64, uint64, float64, bool:
				key = fmt.Sprint(kk)
			default:
				return nil, fmt.Errorf("yaml: %s: unsupported key type %T", orRoot(path), k)
			}
			out, err := jsonCompatible(v, join(path, key))
			if err != nil {
				return nil, err
			}
			m[key] = out
		}
		return m, nil
	case []any:
		for i := range x {
			out, err := jsonCompatible(x[i], fmt.Sprintf("%s[%d]", orRoot(path), i))
			if err != nil {
				return nil, err
			}
			x[i] = out
		}
		return x, nil
	default:
		return in, nil
	}
}

// splitWordScalar lets moderation.forbidden_words be written as "a|b", the
// same form GROUPBOT_FORBIDDEN_WORDS takes.
func splitWordScalar(root map[string]any) {
	mod, ok := root["moderation"].(map[string]any)
	if !ok {
		return
	}
	s, ok := mod["forbidden_words"].(string)
	if !ok {
		return
	}
	words := []any{}
	for _, w := range strings.Split(s, "|") {
		if w = strings.TrimSpace(w); w != "" {
			words = append(words, w)
		}
	}
	mod["forbidden_words"] = words
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func orRoot(path string) string {
	if path == "" {
		return "<root>"
	}
	return path
}
