package adapter

// NormalizeValue converts a driver value to one of the types a Row may hold:
// int64, float64, string, []byte, bool, time.Time or nil. Driver-specific
// types the backend knows about are converted by the backend first.
func NormalizeValue(v any) any {
	switch x := v.(type) {
	case nil, int64, float64, string, bool:
		return x
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case float32:
		return float64(x)
	case []byte:
		out := make([]byte, len(x))
		copy(out, x)
		return out
	}
	return v
}
