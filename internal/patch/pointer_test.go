package patch

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, raw string) interface{} {
	t.Helper()
	var v interface{}
	require.NoError(t, json.Unmarshal([]byte(raw), &v))
	return v
}

func TestValueAtPath(t *testing.T) {
	doc := decode(t, `{
		"title": "Pilot",
		"episodes": [
			{"episodeNumber": 1, "keyEvents": ["arrival"]},
			{"episodeNumber": 2}
		],
		"a/b": "slash",
		"t~e": "tilde"
	}`)

	cases := []struct {
		name    string
		pointer string
		want    interface{}
	}{
		{name: "whole document", pointer: "", want: doc},
		{name: "top level field", pointer: "/title", want: "Pilot"},
		{name: "array element", pointer: "/episodes/1/episodeNumber", want: float64(2)},
		{name: "nested array value", pointer: "/episodes/0/keyEvents/0", want: "arrival"},
		{name: "escaped slash", pointer: "/a~1b", want: "slash"},
		{name: "escaped tilde", pointer: "/t~0e", want: "tilde"},
		{name: "missing field", pointer: "/missing", want: nil},
		{name: "missing nested", pointer: "/episodes/0/hook", want: nil},
		{name: "index out of range", pointer: "/episodes/9", want: nil},
		{name: "negative index", pointer: "/episodes/-1", want: nil},
		{name: "index into scalar", pointer: "/title/0", want: nil},
		{name: "dash reads as missing", pointer: "/episodes/-", want: nil},
		{name: "malformed pointer", pointer: "title", want: nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ValueAtPath(doc, tc.pointer)
			require.Empty(t, cmp.Diff(tc.want, got))
		})
	}
}

func TestSetValueAtPathCreatesIntermediates(t *testing.T) {
	doc := decode(t, `{"title":"Pilot"}`)

	got := SetValueAtPath(doc, "/meta/review/score", float64(9))

	require.Empty(t, cmp.Diff(
		decode(t, `{"title":"Pilot","meta":{"review":{"score":9}}}`),
		got,
	))
	// 原文档不被修改
	require.Empty(t, cmp.Diff(decode(t, `{"title":"Pilot"}`), doc))
}

func TestSetValueAtPathArray(t *testing.T) {
	doc := decode(t, `{"episodes":[{"episodeNumber":1},{"episodeNumber":2}]}`)

	replaced := SetValueAtPath(doc, "/episodes/1/title", "Fallout")
	require.Equal(t, "Fallout", ValueAtPath(replaced, "/episodes/1/title"))
	require.Nil(t, ValueAtPath(doc, "/episodes/1/title"))

	appended := SetValueAtPath(doc, "/episodes/-", map[string]interface{}{"episodeNumber": float64(3)})
	require.Equal(t, float64(3), ValueAtPath(appended, "/episodes/2/episodeNumber"))

	extended := SetValueAtPath(doc, "/episodes/3", "pad")
	require.Equal(t, "pad", ValueAtPath(extended, "/episodes/3"))
	require.Nil(t, ValueAtPath(extended, "/episodes/2"), "gap padded with null")
}

func TestSetValueAtPathWholeDocument(t *testing.T) {
	doc := decode(t, `{"title":"Pilot"}`)
	got := SetValueAtPath(doc, "", map[string]interface{}{"fresh": true})
	require.Empty(t, cmp.Diff(decode(t, `{"fresh":true}`), got))
}

func TestSetValueAtPathSharedSubtreesAreCloned(t *testing.T) {
	doc := decode(t, `{"episodes":[{"keyEvents":["a"]}]}`)
	got := SetValueAtPath(doc, "/title", "x")

	// 深拷贝：改新文档的嵌套数组不影响旧文档
	events := ValueAtPath(got, "/episodes/0/keyEvents").([]interface{})
	events[0] = "mutated"
	require.Equal(t, "a", ValueAtPath(doc, "/episodes/0/keyEvents/0"))
}

func TestValueSetRoundTrip(t *testing.T) {
	doc := decode(t, `{"episodes":[{"episodeNumber":1,"title":"Pilot"}]}`)

	pointers := []string{"/episodes/0/title", "/episodes/0/episodeNumber", "/episodes"}
	for _, ptr := range pointers {
		value := ValueAtPath(doc, ptr)
		rewritten := SetValueAtPath(doc, ptr, value)
		require.Empty(t, cmp.Diff(doc, rewritten), "pointer %s", ptr)
	}
}
