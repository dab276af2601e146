package streaming

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScrubStripsNoise(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "markdown fence",
			input: "```json\n{\"a\":1}\n```",
			want:  `{"a":1}`,
		},
		{
			name:  "leading prose",
			input: `Here is the outline you asked for: {"a":1}`,
			want:  `{"a":1}`,
		},
		{
			name:  "no json at all",
			input: "I could not produce an outline.",
			want:  "",
		},
		{
			name:  "zero width and bom",
			input: "\ufeff{​\"a\":1}",
			want:  `{"a":1}`,
		},
		{
			name:  "fullwidth punctuation",
			input: "｛\"a\"：1，\"b\"：2｝",
			want:  `{"a":1,"b":2}`,
		},
		{
			name:  "cjk quotes",
			input: `{“title”：“试播集”}`,
			want:  `{"title":"试播集"}`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Scrub(tc.input)
			require.Equal(t, tc.want, got)
			if tc.want != "" {
				require.True(t, json.Valid([]byte(got)), "scrubbed output should stay valid JSON")
			}
		})
	}
}

func TestCleanTextSlicesBalancedDocument(t *testing.T) {
	input := "```json\n{\"title\":\"Pilot\"}\n```\nHope this helps!"
	require.Equal(t, `{"title":"Pilot"}`, CleanText(input))

	array := `[{"a":1},{"b":2}] trailing chatter`
	require.Equal(t, `[{"a":1},{"b":2}]`, CleanText(array))
}

func TestCleanTextKeepsUnterminatedInput(t *testing.T) {
	input := `{"title":"Ep`
	require.Equal(t, input, CleanText(input))
}

func TestRepairClosesTruncatedJSON(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{name: "unterminated string", input: `{"title":"Ep`},
		{name: "dangling comma", input: `{"title":"Episode 1","episodeNumber":1,`},
		{name: "open array", input: `[{"a":1},{"b":2}`},
		{name: "open nested", input: `{"episodes":[{"episodeNumber":1,"title":"Pilot"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repaired, ok := Repair(tc.input)
			require.True(t, ok)
			require.True(t, json.Valid([]byte(repaired)), "repair output must parse: %s", repaired)
		})
	}
}

func TestRepairRejectsHopelessInput(t *testing.T) {
	_, ok := Repair("   ")
	require.False(t, ok)
}
