// internal/streaming/repair.go
package streaming

import (
	"strings"
	"unicode"

	"github.com/kaptinlin/jsonrepair"
)

// Text cleaning and repair for model output. Models wrap JSON in markdown
// fences, prepend prose, emit full-width punctuation in Chinese contexts and
// stop mid-token when a stream is cut. Scrub handles the noise around the
// JSON; Repair closes what the model left open.

var jsonNoiseReplacer = strings.NewReplacer(
	"```json", "",
	"```", "",
	"\ufeff", "",
	" ", " ",
	" ", "\n",
	" ", "\n",
)

// 全角标点 → ASCII结构符
var structuralPunctuationMap = map[rune]rune{
	'：': ':',
	'﹕': ':',
	'，': ',',
	'﹐': ',',
	'；': ';',
	'﹔': ';',
	'【': '[',
	'】': ']',
	'［': '[',
	'］': ']',
	'｛': '{',
	'｝': '}',
}

var quotePairs = map[rune]rune{
	'"': '"',
	'“': '”',
	'”': '”',
	'„': '”',
	'‟': '”',
	'「': '」',
	'」': '」',
	'『': '』',
	'﹁': '﹂',
	'﹂': '﹂',
}

// normalizeStructure rewrites full-width structural punctuation and CJK
// quote pairs into their ASCII JSON equivalents, leaving string contents
// untouched. Unexpected non-ASCII runes outside strings are dropped.
func normalizeStructure(s string) string {
	if s == "" {
		return s
	}

	var builder strings.Builder
	builder.Grow(len(s))
	inString := false
	escaped := false
	currentClosing := '"'

	for _, r := range s {
		if inString {
			if !escaped && r == '\\' {
				escaped = true
				builder.WriteRune(r)
				continue
			}

			if escaped {
				escaped = false
				builder.WriteRune(r)
				continue
			}

			if r == currentClosing || r == '"' {
				inString = false
				currentClosing = '"'
				builder.WriteRune('"')
				continue
			}

			builder.WriteRune(r)
			continue
		}

		if replacement, ok := structuralPunctuationMap[r]; ok {
			r = replacement
		} else if closing, ok := quotePairs[r]; ok {
			inString = true
			currentClosing = closing
			builder.WriteRune('"')
			continue
		} else if r == '"' {
			inString = true
			currentClosing = '"'
			builder.WriteRune(r)
			continue
		} else if r > unicode.MaxASCII && !unicode.IsSpace(r) {
			continue
		}

		builder.WriteRune(r)
	}

	return builder.String()
}

// Scrub strips markdown fences, zero-width runes and leading prose, slices
// the buffer from the first JSON bracket and normalizes structural
// punctuation. The result may still be incomplete or carry trailing text;
// the parse tiers decide what to do with it.
func Scrub(s string) string {
	if s == "" {
		return s
	}

	s = jsonNoiseReplacer.Replace(s)

	// 移除零宽字符及除换行/制表符外的控制字符
	s = strings.Map(func(r rune) rune {
		switch r {
		case '​', '‌', '‍', '⁠', '\ufeff':
			return -1
		}
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)

	start := strings.IndexAny(s, "[{")
	if start == -1 {
		return ""
	}

	return normalizeStructure(s[start:])
}

// balanceCandidate returns the prefix of s up to the close that balances its
// opening bracket, and whether that close was found. Unterminated input
// comes back whole for the repair tier to finish.
func balanceCandidate(s string) (string, bool) {
	if s == "" {
		return s, false
	}

	isArray := s[0] == '['

	balance := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		char := s[i]

		if escaped {
			escaped = false
			continue
		}

		if char == '\\' {
			escaped = true
			continue
		}

		if char == '"' {
			inString = !inString
			continue
		}

		if !inString {
			if isArray {
				if char == '[' {
					balance++
				} else if char == ']' {
					balance--
				}
			} else {
				if char == '{' {
					balance++
				} else if char == '}' {
					balance--
				}
			}

			if balance == 0 {
				return s[:i+1], true
			}
		}
	}

	return s, false
}

// CleanText is the single-document cleanup: Scrub plus slicing off whatever
// trails the balance-matched close.
func CleanText(s string) string {
	candidate, _ := balanceCandidate(Scrub(s))
	return strings.TrimSpace(candidate)
}

// Repair attempts the tolerant pass: close unterminated strings, brackets
// and objects so the buffer parses as complete JSON. Returns false when the
// text is beyond saving; callers fall through to span extraction.
func Repair(s string) (string, bool) {
	if strings.TrimSpace(s) == "" {
		return "", false
	}

	repaired, err := jsonrepair.JSONRepair(s)
	if err != nil {
		return "", false
	}

	repaired = strings.TrimSpace(repaired)
	if repaired == "" || (repaired[0] != '{' && repaired[0] != '[') {
		return "", false
	}

	return repaired, true
}
