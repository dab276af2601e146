package streaming

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestObjectSpans(t *testing.T) {
	text := `noise {"a":1} more {"b":{"c":2}} tail {"d":3`
	spans := ObjectSpans(text)
	require.Equal(t, []string{`{"a":1}`, `{"b":{"c":2}}`}, spans)
}

func TestObjectSpansIgnoresBracesInsideStrings(t *testing.T) {
	text := `{"a":"closing } inside"} {"b":"{"}`
	spans := ObjectSpans(text)
	require.Equal(t, []string{`{"a":"closing } inside"}`, `{"b":"{"}`}, spans)
}

func TestFlatObjectSpansReachInsideOpenEnvelope(t *testing.T) {
	text := `{"episodes":[{"episodeNumber":1,"title":"Pilot"},{"episodeNumber":2,"ti`
	require.Empty(t, ObjectSpans(text), "envelope never closed")

	flat := FlatObjectSpans(text)
	require.Equal(t, []string{`{"episodeNumber":1,"title":"Pilot"}`}, flat)
}

func TestTrailingFragment(t *testing.T) {
	text := `[{"a":1},{"b":2},{"episodeNumber":3,"title":"Clif`
	require.Equal(t, `{"episodeNumber":3,"title":"Clif`, TrailingFragment(text))

	complete := `[{"a":1},{"b":2}]`
	require.Empty(t, TrailingFragment(complete))
}

func TestStringField(t *testing.T) {
	frag := `{"episodeNumber":3,"title":"The Reveal","synopsis":"It was him`

	title, ok := StringField(frag, "title")
	require.True(t, ok)
	require.Equal(t, "The Reveal", title)

	// 未闭合的字符串不能当成完整值
	_, ok = StringField(frag, "synopsis")
	require.False(t, ok)

	_, ok = StringField(frag, "hook")
	require.False(t, ok)
}

func TestStringFieldEscapes(t *testing.T) {
	frag := `{"title":"He said \"run\"\nnow"}`
	title, ok := StringField(frag, "title")
	require.True(t, ok)
	require.Equal(t, "He said \"run\"\nnow", title)

	unicodeFrag := `{"title":"café"}`
	title, ok = StringField(unicodeFrag, "title")
	require.True(t, ok)
	require.Equal(t, "café", title)
}

func TestIntField(t *testing.T) {
	frag := `{"episodeNumber": 3, "rank":"12", "cut":4`

	n, ok := IntField(frag, "episodeNumber")
	require.True(t, ok)
	require.Equal(t, 3, n)

	n, ok = IntField(frag, "rank")
	require.True(t, ok)
	require.Equal(t, 12, n)

	// 数字撞上缓冲区末尾：下一个分片可能还有位数
	_, ok = IntField(frag, "cut")
	require.False(t, ok)

	_, ok = IntField(frag, "missing")
	require.False(t, ok)
}

func TestStringArrayField(t *testing.T) {
	frag := `{"keyEvents":["betrayal","the call","blackout"],"hook":"x"}`
	events, ok := StringArrayField(frag, "keyEvents")
	require.True(t, ok)
	require.Equal(t, []string{"betrayal", "the call", "blackout"}, events)
}

func TestStringArrayFieldTruncated(t *testing.T) {
	frag := `{"keyEvents":["betrayal","the ca`
	events, ok := StringArrayField(frag, "keyEvents")
	require.True(t, ok)
	require.Equal(t, []string{"betrayal"}, events, "complete elements only")

	empty := `{"keyEvents":[]}`
	events, ok = StringArrayField(empty, "keyEvents")
	require.True(t, ok)
	require.Empty(t, events)
}
