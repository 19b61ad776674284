package tools

import (
	"encoding/json"
	"fmt"
	"time"
)

// EncodeResult renders r as the JSON text of a tool message. Times become
// RFC 3339 strings and byte slices or fmt.Stringer values (decimals, ids)
// become plain strings, at any depth. Decoding and re-encoding the output
// yields the same text.
func EncodeResult(r Result) (string, error) {
	data, err := json.Marshal(normalize(map[string]any(r)))
	if err != nil {
		return "", fmt.Errorf("tools: encode result: %w", err)
	}
	return string(data), nil
}

func normalize(v any) any {
	switch x := v.(type) {
	case nil, string, bool, float64, float32, int, int32, int64, uint, uint32, uint64, json.Number:
		return x
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	case *time.Time:
		if x == nil {
			return nil
		}
		return x.UTC().Format(time.RFC3339)
	case []byte:
		return string(x)
	case Result:
		return normalize(map[string]any(x))
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = normalize(val)
		}
		return out
	case []map[string]any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = normalize(val)
		}
		return out
	case [][]any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = normalize(val)
		}
		return out
	case fmt.Stringer:
		return x.String()
	default:
		return x
	}
}
