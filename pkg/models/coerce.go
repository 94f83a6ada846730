package models

import "strconv"

// Coercion helpers for untrusted document-shaped data (store JSONB, LLM
// output, legacy result payloads). Hydration never trusts field types.

// ToString coerces v to a string, returning def for nil or non-string-like
// values.
func ToString(v any, def string) string {
	switch s := v.(type) {
	case nil:
		return def
	case string:
		if s == "" {
			return def
		}
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case bool:
		return strconv.FormatBool(s)
	default:
		return def
	}
}

// ToNumber coerces v to a float64, returning def when it cannot.
func ToNumber(v any, def float64) float64 {
	switch n := v.(type) {
	case nil:
		return def
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return f
		}
		return def
	default:
		return def
	}
}

// ToList coerces v to a []any, returning def when it is not a list.
func ToList(v any, def []any) []any {
	if l, ok := v.([]any); ok {
		return l
	}
	return def
}

// ToStringList coerces v to a []string, dropping non-string elements.
func ToStringList(v any) []string {
	switch l := v.(type) {
	case []string:
		return l
	case []any:
		out := make([]string, 0, len(l))
		for _, item := range l {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// ToMap coerces v to a map[string]any, returning def when it is not a map.
func ToMap(v any, def map[string]any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return def
}
