// internal/streaming/extract.go
package streaming

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Coercion helpers shared by the stage strategies. Model output is loose
// about types: numbers arrive as strings, strings arrive as numbers, arrays
// arrive as single values. Normalization never rejects an item over a type
// mismatch it can coerce away.

func stringValue(raw map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case string:
			if s := strings.TrimSpace(val); s != "" {
				return s
			}
		case float64:
			if val == math.Trunc(val) {
				return strconv.FormatInt(int64(val), 10)
			}
			return strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(val)
		case json.Number:
			return val.String()
		}
	}
	return ""
}

func intValue(raw map[string]interface{}, keys ...string) (int, bool) {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case float64:
			return int(val), true
		case int:
			return val, true
		case json.Number:
			if n, err := val.Int64(); err == nil {
				return int(n), true
			}
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

func stringSliceValue(raw map[string]interface{}, keys ...string) []string {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case []interface{}:
			out := make([]string, 0, len(val))
			for _, item := range val {
				switch s := item.(type) {
				case string:
					if trimmed := strings.TrimSpace(s); trimmed != "" {
						out = append(out, trimmed)
					}
				case float64:
					out = append(out, strconv.FormatFloat(s, 'f', -1, 64))
				case map[string]interface{}:
					// 有些模型把列表元素包成 {"text": "..."} 对象
					if text := stringValue(s, "text", "content", "value"); text != "" {
						out = append(out, text)
					}
				}
			}
			return out
		case string:
			if trimmed := strings.TrimSpace(val); trimmed != "" {
				return []string{trimmed}
			}
		}
	}
	return []string{}
}

func mapSliceValue(raw map[string]interface{}, keys ...string) []map[string]interface{} {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		arr, ok := v.([]interface{})
		if !ok {
			continue
		}
		out := make([]map[string]interface{}, 0, len(arr))
		for _, item := range arr {
			if m, ok := item.(map[string]interface{}); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}
