package memory

import "strconv"

// Metadata values round-trip through backends as strings (chromem stores
// map[string]string), so callers coerce on read. These helpers centralize
// the coercion.

// MetaString returns the string value for key, or "" if absent.
func MetaString(metadata map[string]any, key string) string {
	switch v := metadata[key].(type) {
	case string:
		return v
	}
	return ""
}

// MetaFloat returns the float value for key, or 0 if absent or unparseable.
func MetaFloat(metadata map[string]any, key string) float64 {
	switch v := metadata[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return 0
}

// MetaInt returns the int value for key, or 0 if absent or unparseable.
func MetaInt(metadata map[string]any, key string) int {
	switch v := metadata[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}

// MetaBool returns the bool value for key, or false if absent or unparseable.
func MetaBool(metadata map[string]any, key string) bool {
	switch v := metadata[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return false
}
