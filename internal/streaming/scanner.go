// internal/streaming/scanner.go
package streaming

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Span extraction for the last parse tier. When neither a strict parse nor a
// repair pass produces usable JSON, the buffer still tends to contain a run
// of complete {...} objects followed by one cut-off fragment. ObjectSpans
// lifts the complete objects; the field scanners below scavenge what they
// can from the fragment.

// ObjectSpans scans text for top-level complete JSON objects, tracking brace
// depth and string state so braces inside string values do not split spans.
// Objects nested inside another object are part of the enclosing span and
// are not reported separately.
func ObjectSpans(text string) []string {
	var spans []string

	depth := 0
	start := -1
	inString := false
	escaped := false

	for i := 0; i < len(text); i++ {
		c := text[i]

		if escaped {
			escaped = false
			continue
		}

		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				if depth == 0 {
					start = i
				}
				depth++
			}
		case '}':
			if !inString && depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					spans = append(spans, text[start:i+1])
					start = -1
				}
			}
		}
	}

	return spans
}

// FlatObjectSpans scans text for complete brace-free {...} spans at any
// nesting depth. Used when the enclosing envelope never closed: the list
// items inside it are flat objects and still recoverable.
func FlatObjectSpans(text string) []string {
	var spans []string

	start := -1
	inString := false
	escaped := false

	for i := 0; i < len(text); i++ {
		c := text[i]

		if escaped {
			escaped = false
			continue
		}

		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				// 嵌套对象：重新从最内层开始
				start = i
			}
		case '}':
			if !inString && start >= 0 {
				spans = append(spans, text[start:i+1])
				start = -1
			}
		}
	}

	return spans
}

// TrailingFragment returns the text after the last complete top-level object,
// trimmed to begin at its opening brace. Empty when the buffer ends cleanly.
func TrailingFragment(text string) string {
	depth := 0
	inString := false
	escaped := false
	lastEnd := -1
	start := -1

	for i := 0; i < len(text); i++ {
		c := text[i]

		if escaped {
			escaped = false
			continue
		}

		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				if depth == 0 {
					start = i
				}
				depth++
			}
		case '}':
			if !inString && depth > 0 {
				depth--
				if depth == 0 {
					lastEnd = i
					start = -1
				}
			}
		}
	}

	if start == -1 || start <= lastEnd {
		return ""
	}
	return text[start:]
}

// StringField pulls the value of "field" out of possibly-truncated JSON text.
// Only complete quoted values count; a string cut off mid-value is skipped so
// half-typed text never leaks into items.
func StringField(text, field string) (string, bool) {
	needle := `"` + field + `"`
	idx := strings.Index(text, needle)
	if idx == -1 {
		return "", false
	}

	rest := text[idx+len(needle):]
	colon := strings.Index(rest, ":")
	if colon == -1 {
		return "", false
	}
	rest = strings.TrimLeft(rest[colon+1:], " \t\r\n")
	if rest == "" || rest[0] != '"' {
		return "", false
	}

	var builder strings.Builder
	escaped := false
	for i := 1; i < len(rest); i++ {
		c := rest[i]
		if escaped {
			switch c {
			case 'n':
				builder.WriteByte('\n')
			case 't':
				builder.WriteByte('\t')
			case 'r':
				builder.WriteByte('\r')
			case 'u':
				// 罕见转义：交给标准库整段解码
				if decoded, ok := decodeQuoted(rest); ok {
					return decoded, true
				}
				return "", false
			default:
				builder.WriteByte(c)
			}
			escaped = false
			continue
		}
		if c == '\\' {
			escaped = true
			continue
		}
		if c == '"' {
			return builder.String(), true
		}
		builder.WriteByte(c)
	}

	// 字符串未闭合
	return "", false
}

func decodeQuoted(rest string) (string, bool) {
	escaped := false
	for i := 1; i < len(rest); i++ {
		c := rest[i]
		if escaped {
			escaped = false
			continue
		}
		if c == '\\' {
			escaped = true
			continue
		}
		if c == '"' {
			var out string
			if err := json.Unmarshal([]byte(rest[:i+1]), &out); err != nil {
				return "", false
			}
			return out, true
		}
	}
	return "", false
}

// IntField pulls an integer value of "field" out of possibly-truncated JSON
// text. Quoted numbers are accepted, a digit run cut off at end-of-buffer is
// not, since the next chunk may extend it.
func IntField(text, field string) (int, bool) {
	needle := `"` + field + `"`
	idx := strings.Index(text, needle)
	if idx == -1 {
		return 0, false
	}

	rest := text[idx+len(needle):]
	colon := strings.Index(rest, ":")
	if colon == -1 {
		return 0, false
	}
	rest = strings.TrimLeft(rest[colon+1:], " \t\r\n")
	if rest == "" {
		return 0, false
	}

	quoted := false
	if rest[0] == '"' {
		quoted = true
		rest = rest[1:]
	}

	end := 0
	for end < len(rest) && (rest[end] == '-' || (rest[end] >= '0' && rest[end] <= '9')) {
		end++
	}
	if end == 0 {
		return 0, false
	}

	if quoted {
		if end >= len(rest) || rest[end] != '"' {
			return 0, false
		}
	} else if end == len(rest) {
		// 数字可能尚未传输完整
		return 0, false
	}

	n, err := strconv.Atoi(rest[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}

// StringArrayField pulls a complete ["a","b",...] value of "field" out of
// possibly-truncated JSON text. An unterminated array yields the complete
// elements seen so far.
func StringArrayField(text, field string) ([]string, bool) {
	needle := `"` + field + `"`
	idx := strings.Index(text, needle)
	if idx == -1 {
		return nil, false
	}

	rest := text[idx+len(needle):]
	colon := strings.Index(rest, ":")
	if colon == -1 {
		return nil, false
	}
	rest = strings.TrimLeft(rest[colon+1:], " \t\r\n")
	if rest == "" || rest[0] != '[' {
		return nil, false
	}

	out := []string{}
	body := rest[1:]
	for {
		body = strings.TrimLeft(body, " \t\r\n,")
		if body == "" || body[0] == ']' || body[0] != '"' {
			return out, true
		}
		end := closeQuoteOffset(body)
		if end <= 0 {
			// 元素未闭合，丢弃残串
			return out, true
		}
		var elem string
		if err := json.Unmarshal([]byte(body[:end]), &elem); err == nil {
			out = append(out, elem)
		}
		body = body[end:]
	}
}

func closeQuoteOffset(body string) int {
	escaped := false
	for i := 1; i < len(body); i++ {
		if escaped {
			escaped = false
			continue
		}
		if body[i] == '\\' {
			escaped = true
			continue
		}
		if body[i] == '"' {
			return i + 1
		}
	}
	return -1
}
