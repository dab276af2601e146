// internal/patch/pointer.go
package patch

import (
	"strconv"
	"strings"
)

// JSON Pointer (RFC 6901) navigation over decoded documents. Both helpers
// are total: a pointer into structure that does not exist reads as nil and
// writes create the missing intermediate objects instead of failing. That
// keeps preview rendering and patch tooling free of error plumbing for the
// common "field not there yet" case.

// parsePointer splits an RFC 6901 pointer into unescaped tokens. The empty
// pointer addresses the whole document. A malformed pointer (missing the
// leading slash) yields no tokens and reads as missing.
func parsePointer(pointer string) ([]string, bool) {
	if pointer == "" {
		return []string{}, true
	}
	if !strings.HasPrefix(pointer, "/") {
		return nil, false
	}

	parts := strings.Split(pointer[1:], "/")
	tokens := make([]string, len(parts))
	for i, part := range parts {
		part = strings.ReplaceAll(part, "~1", "/")
		part = strings.ReplaceAll(part, "~0", "~")
		tokens[i] = part
	}
	return tokens, true
}

// ValueAtPath resolves pointer against doc. Missing segments, out-of-range
// indices and type mismatches all read as nil, never an error.
func ValueAtPath(doc interface{}, pointer string) interface{} {
	tokens, ok := parsePointer(pointer)
	if !ok {
		return nil
	}

	current := doc
	for _, token := range tokens {
		switch node := current.(type) {
		case map[string]interface{}:
			next, exists := node[token]
			if !exists {
				return nil
			}
			current = next

		case []interface{}:
			idx, err := strconv.Atoi(token)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil
			}
			current = node[idx]

		default:
			return nil
		}
	}
	return current
}

// SetValueAtPath returns a structural clone of doc with the value written at
// pointer. Missing intermediate containers are created as objects; numeric
// tokens index existing arrays, "-" appends, and writing one past the end
// extends the array. The input document is never mutated.
func SetValueAtPath(doc interface{}, pointer string, value interface{}) interface{} {
	tokens, ok := parsePointer(pointer)
	if !ok {
		return cloneValue(doc)
	}
	if len(tokens) == 0 {
		return cloneValue(value)
	}

	clone := cloneValue(doc)
	// 根节点不是容器时整体换成对象
	if !isContainer(clone) {
		clone = map[string]interface{}{}
	}
	return setRecursive(clone, tokens, value)
}

func setRecursive(node interface{}, tokens []string, value interface{}) interface{} {
	token := tokens[0]
	last := len(tokens) == 1

	switch container := node.(type) {
	case map[string]interface{}:
		if last {
			container[token] = cloneValue(value)
			return container
		}
		child, exists := container[token]
		if !exists || !isContainer(child) {
			child = map[string]interface{}{}
		}
		container[token] = setRecursive(child, tokens[1:], value)
		return container

	case []interface{}:
		idx, appendToEnd := arrayIndex(token, len(container))
		if idx < 0 {
			// 数组上用了非数字键：按对象语义整段替换
			replacement := map[string]interface{}{}
			if last {
				replacement[token] = cloneValue(value)
				return replacement
			}
			replacement[token] = setRecursive(map[string]interface{}{}, tokens[1:], value)
			return replacement
		}

		if appendToEnd || idx >= len(container) {
			for len(container) <= idx {
				container = append(container, nil)
			}
		}
		if last {
			container[idx] = cloneValue(value)
			return container
		}
		child := container[idx]
		if !isContainer(child) {
			child = map[string]interface{}{}
		}
		container[idx] = setRecursive(child, tokens[1:], value)
		return container

	default:
		replacement := map[string]interface{}{}
		return setRecursive(replacement, tokens, value)
	}
}

// arrayIndex interprets an array token: a non-negative integer indexes, "-"
// means one past the end, anything else reports -1.
func arrayIndex(token string, length int) (int, bool) {
	if token == "-" {
		return length, true
	}
	idx, err := strconv.Atoi(token)
	if err != nil || idx < 0 {
		return -1, false
	}
	return idx, false
}

func isContainer(v interface{}) bool {
	switch v.(type) {
	case map[string]interface{}, []interface{}:
		return true
	}
	return false
}

// cloneValue deep-copies a decoded JSON tree. Scalars are immutable and
// shared as-is.
func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return val
	}
}
