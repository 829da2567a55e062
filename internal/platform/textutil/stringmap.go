package textutil

import "strings"

// NormalizeStringMap trims every key and value and drops entries whose key
// trims to empty. Returns nil when nothing survives.
func NormalizeStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]string, len(values))
	for key, value := range values {
		if key = strings.TrimSpace(key); key != "" {
			out[key] = strings.TrimSpace(value)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// NormalizeAnyMap trims keys and string values; non-string values pass
// through untouched. Entries with empty keys are dropped.
func NormalizeAnyMap(values map[string]any) map[string]any {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]any, len(values))
	for key, value := range values {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if s, ok := value.(string); ok {
			value = strings.TrimSpace(s)
		}
		out[key] = value
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
