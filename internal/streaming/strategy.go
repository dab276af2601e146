// internal/streaming/strategy.go
package streaming

import (
	"encoding/json"
	"strings"
)

// Strategy binds one generation stage to the generic parse pipeline. The
// pipeline owns tier selection, dedupe and ordering; the strategy owns the
// stage's schema: which envelope keys wrap the item array, how a raw object
// becomes a typed item, which items are complete enough to surface, and how
// a re-parsed item is matched to its earlier appearance.
type Strategy[T any] interface {
	// Stage labels log lines and metrics.
	Stage() string

	// WrapperKeys lists envelope keys the model may wrap the item array in,
	// e.g. {"episodes": [...]}. A bare array or a bare single object parse
	// without any wrapper.
	WrapperKeys() []string

	// Normalize converts one raw decoded object into a typed item, coercing
	// loose types and filling defaults. It never fails; Validate decides
	// whether the result is usable.
	Normalize(raw map[string]interface{}) T

	// Validate reports whether a normalized item carries enough of its
	// required fields to show. Incomplete trailing items fail here and
	// simply stay off the list until more content arrives.
	Validate(item T) bool

	// Key returns the item's natural identity (episode number, stage
	// ordinal, title) used to collapse duplicates across re-parses.
	Key(item T) string

	// ExtractPartial is the last-resort tier: scavenge items from text that
	// neither parsed nor repaired, lifting complete object spans and any
	// usable trailing fragment.
	ExtractPartial(text string) []T
}

// Parse tiers, recorded per attempt for tuning.
const (
	TierNone    = 0
	TierStrict  = 1
	TierRepair  = 2
	TierExtract = 3
)

// Parse turns an accumulated (possibly incomplete) model buffer into typed
// items. It never fails: a buffer nothing can be read from yields an empty
// slice. Tiers fall through silently; the first tier producing at least one
// valid item wins.
func Parse[T any](st Strategy[T], content string) ([]T, int) {
	scrubbed := Scrub(content)
	if strings.TrimSpace(scrubbed) == "" {
		return []T{}, TierNone
	}

	candidate, closed := balanceCandidate(scrubbed)

	if items, ok := decodeItems(st, candidate); ok && len(items) > 0 {
		// 完整载荷后若还跟着别的对象（模型把条目散着输出），
		// 走跨度提取避免丢件
		if closed && strings.Contains(scrubbed[len(candidate):], "{") {
			if extra := dedupe(st, st.ExtractPartial(scrubbed)); len(extra) > len(items) {
				return extra, TierExtract
			}
		}
		return items, TierStrict
	}

	if repaired, ok := Repair(candidate); ok {
		if items, ok := decodeItems(st, repaired); ok && len(items) > 0 {
			return items, TierRepair
		}
	}

	if items := dedupe(st, st.ExtractPartial(scrubbed)); len(items) > 0 {
		return items, TierExtract
	}

	return []T{}, TierNone
}

// decodeItems runs a strict unmarshal and maps the result through the
// strategy. Accepts a bare array, a wrapper object holding the array under
// one of the strategy's keys, or a single bare object.
func decodeItems[T any](st Strategy[T], text string) ([]T, bool) {
	var decoded interface{}
	if err := json.Unmarshal([]byte(text), &decoded); err != nil {
		return nil, false
	}

	var raws []map[string]interface{}

	switch v := decoded.(type) {
	case []interface{}:
		raws = rawObjects(v)
	case map[string]interface{}:
		if arr := unwrap(v, st.WrapperKeys()); arr != nil {
			raws = rawObjects(arr)
		} else {
			raws = []map[string]interface{}{v}
		}
	default:
		return nil, false
	}

	items := make([]T, 0, len(raws))
	for _, raw := range raws {
		item := st.Normalize(raw)
		if st.Validate(item) {
			items = append(items, item)
		}
	}
	return dedupe(st, items), true
}

func unwrap(obj map[string]interface{}, keys []string) []interface{} {
	for _, key := range keys {
		if arr, ok := obj[key].([]interface{}); ok {
			return arr
		}
	}
	return nil
}

func rawObjects(arr []interface{}) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(arr))
	for _, item := range arr {
		if m, ok := item.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}

// dedupe collapses items sharing a natural key, keeping the later
// occurrence in its first position. Later wins because a re-parse of a
// longer buffer carries the more complete version of the same item.
func dedupe[T any](st Strategy[T], items []T) []T {
	if len(items) < 2 {
		return items
	}

	index := make(map[string]int, len(items))
	out := make([]T, 0, len(items))
	for _, item := range items {
		key := st.Key(item)
		if at, seen := index[key]; seen {
			out[at] = item
			continue
		}
		index[key] = len(out)
		out = append(out, item)
	}
	return out
}

// spanItems is the shared tier-3 front half: decode every complete object
// span through the strategy. When no top-level span closed (an envelope
// around the array is still open) it falls back to flat spans, catching the
// items nested inside. Strategies add their own trailing-fragment scavenging
// on top.
func spanItems[T any](st Strategy[T], text string) []T {
	spans := ObjectSpans(text)
	if len(spans) == 0 {
		spans = FlatObjectSpans(text)
	}

	var items []T
	for _, span := range spans {
		var raw map[string]interface{}
		if err := json.Unmarshal([]byte(span), &raw); err != nil {
			continue
		}
		item := st.Normalize(raw)
		if st.Validate(item) {
			items = append(items, item)
		}
	}
	return items
}
