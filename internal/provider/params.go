package provider

import (
	"fmt"
	"strings"
	"time"
)

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	default:
		return ""
	}
}

func asStringSlice(v any) []string {
	var out []string
	switch t := v.(type) {
	case []string:
		out = append(out, t...)
	case []any:
		for _, item := range t {
			out = append(out, fmt.Sprint(item))
		}
	case string:
		if s := strings.TrimSpace(t); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func asStringMap(v any) map[string]string {
	out := make(map[string]string)
	switch t := v.(type) {
	case map[string]string:
		for k, val := range t {
			out[k] = val
		}
	case map[string]any:
		for k, val := range t {
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}

func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(strings.TrimSpace(t), "true")
	default:
		return false
	}
}

// asDuration accepts a Go duration string or a number of seconds.
func asDuration(v any, fallback time.Duration) (time.Duration, error) {
	switch t := v.(type) {
	case nil:
		return fallback, nil
	case time.Duration:
		return t, nil
	case string:
		if strings.TrimSpace(t) == "" {
			return fallback, nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(t))
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", t, err)
		}
		return d, nil
	case int:
		return time.Duration(t) * time.Second, nil
	case int64:
		return time.Duration(t) * time.Second, nil
	case float64:
		return time.Duration(t * float64(time.Second)), nil
	default:
		return 0, fmt.Errorf("invalid duration value %v", v)
	}
}
