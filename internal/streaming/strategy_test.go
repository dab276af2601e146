package streaming

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/scriptloom/scriptloom/internal/models"
)

const episodesDoc = `[{"episodeNumber":1,"title":"Pilot","synopsis":"Cold open.","keyEvents":["arrival"],"hook":"Who called?"},{"episodeNumber":2,"title":"Fallout","keyEvents":[]}]`

func TestParseStrictTier(t *testing.T) {
	items, tier := Parse[models.EpisodeSynopsis](EpisodeStrategy{}, episodesDoc)
	require.Equal(t, TierStrict, tier)
	require.Len(t, items, 2)
	require.Equal(t, "Pilot", items[0].Title)
	require.Equal(t, []string{"arrival"}, items[0].KeyEvents)
	require.Equal(t, 2, items[1].EpisodeNumber)
	require.Equal(t, []string{}, items[1].KeyEvents)
}

func TestParseFencedAndWrapped(t *testing.T) {
	wrapped := "```json\n" + `{"episodes":` + episodesDoc + `}` + "\n```"
	items, tier := Parse[models.EpisodeSynopsis](EpisodeStrategy{}, wrapped)
	require.Equal(t, TierStrict, tier)
	require.Len(t, items, 2)
}

func TestParseRepairTier(t *testing.T) {
	truncated := `[{"episodeNumber":1,"title":"Pilot","keyEvents":["arrival"]},{"episodeNumber":2,`
	items, tier := Parse[models.EpisodeSynopsis](EpisodeStrategy{}, truncated)
	require.Equal(t, TierRepair, tier)
	require.Len(t, items, 1, "second episode has no title yet")
	require.Equal(t, 1, items[0].EpisodeNumber)
}

func TestParseScatteredObjects(t *testing.T) {
	scattered := `Sure! First episode: {"episodeNumber":1,"title":"Pilot"} and the second one: {"episodeNumber":2,"title":"Fallout"}`
	items, tier := Parse[models.EpisodeSynopsis](EpisodeStrategy{}, scattered)
	require.Equal(t, TierExtract, tier)
	require.Len(t, items, 2)
	require.Equal(t, "Fallout", items[1].Title)
}

func TestParseNeverFails(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"no json here",
		"{",
		"[",
		`{"title":`,
		`[[[[`,
		"\x00\x01\x02",
		`{"episodes":}`,
		"```json\n```",
	}

	for i, input := range inputs {
		t.Run(fmt.Sprintf("case_%d", i), func(t *testing.T) {
			items, _ := Parse[models.EpisodeSynopsis](EpisodeStrategy{}, input)
			require.NotNil(t, items)
		})
	}
}

// Growing prefixes of a streamed document must never lose items: each
// re-parse of a longer buffer yields at least as many items as the previous
// one, and the full buffer parses exactly.
func TestParsePrefixMonotonicity(t *testing.T) {
	full, _ := Parse[models.EpisodeSynopsis](EpisodeStrategy{}, episodesDoc)
	require.Len(t, full, 2)

	prev := 0
	for i := 1; i <= len(episodesDoc); i++ {
		items, _ := Parse[models.EpisodeSynopsis](EpisodeStrategy{}, episodesDoc[:i])
		require.NotNil(t, items, "prefix %d", i)
		require.GreaterOrEqual(t, len(items), prev, "items dropped at prefix %d: %q", i, episodesDoc[:i])
		require.LessOrEqual(t, len(items), len(full), "phantom item at prefix %d", i)
		prev = len(items)
	}

	final, _ := Parse[models.EpisodeSynopsis](EpisodeStrategy{}, episodesDoc)
	require.Empty(t, cmp.Diff(full, final))
}

// Items that round-trip through their own JSON encoding parse back to
// themselves, so re-parsing persisted results is a no-op.
func TestParseNormalizeIdentity(t *testing.T) {
	items, _ := Parse[models.EpisodeSynopsis](EpisodeStrategy{}, episodesDoc)

	encoded, err := json.Marshal(items)
	require.NoError(t, err)

	again, tier := Parse[models.EpisodeSynopsis](EpisodeStrategy{}, string(encoded))
	require.Equal(t, TierStrict, tier)
	require.Empty(t, cmp.Diff(items, again))
}

func TestParseTrailingGarbageIrrelevant(t *testing.T) {
	clean, _ := Parse[models.EpisodeSynopsis](EpisodeStrategy{}, episodesDoc)
	noisy, _ := Parse[models.EpisodeSynopsis](EpisodeStrategy{}, episodesDoc+"\nHope these work for the season!")
	require.Empty(t, cmp.Diff(clean, noisy))
}

// The canonical mid-stream sequence: a cut-off title yields nothing, and the
// moment the required fields complete the item surfaces with defaults filled.
func TestParseTruncatedEpisodeScenario(t *testing.T) {
	items, _ := Parse[models.EpisodeSynopsis](EpisodeStrategy{}, `{"title":"Ep`)
	require.Empty(t, items)

	items, _ = Parse[models.EpisodeSynopsis](EpisodeStrategy{}, `{"title":"Episode 1","episodeNumber":1,`)
	require.Len(t, items, 1)
	require.Equal(t, 1, items[0].EpisodeNumber)
	require.Equal(t, "Episode 1", items[0].Title)
	require.Equal(t, []string{}, items[0].KeyEvents)
}

func TestDedupeLaterWins(t *testing.T) {
	doc := `[{"episodeNumber":1,"title":"Pilot"},{"episodeNumber":1,"title":"Pilot (revised)"}]`
	items, _ := Parse[models.EpisodeSynopsis](EpisodeStrategy{}, doc)
	require.Len(t, items, 1)
	require.Equal(t, "Pilot (revised)", items[0].Title)
}

func TestEpisodeNormalizeCoercions(t *testing.T) {
	st := EpisodeStrategy{}

	item := st.Normalize(map[string]interface{}{
		"episode_number": "7",
		"name":           "The Door",
		"summary":        "They open it.",
		"key_events":     []interface{}{"open", 42.0},
		"hook":           "What's inside?",
	})
	require.Equal(t, 7, item.EpisodeNumber)
	require.Equal(t, "The Door", item.Title)
	require.Equal(t, "They open it.", item.Synopsis)
	require.Equal(t, []string{"open", "42"}, item.KeyEvents)
	require.True(t, st.Validate(item))

	missing := st.Normalize(map[string]interface{}{"title": "No number"})
	require.Equal(t, []string{}, missing.KeyEvents)
	require.False(t, st.Validate(missing))
}

func TestOutlineStrategy(t *testing.T) {
	doc := `{"stages":[{"stageNumber":1,"title":"Setup","summary":"Meet everyone.","keyPoints":["tone"]},{"stageNumber":2,"title":"Confrontation"}]}`
	items, tier := Parse[models.OutlineStage](OutlineStrategy{}, doc)
	require.Equal(t, TierStrict, tier)
	require.Len(t, items, 2)
	require.Equal(t, []string{"tone"}, items[0].KeyPoints)
	require.Equal(t, []string{}, items[1].KeyPoints)
}

func TestIdeaStrategy(t *testing.T) {
	doc := `{"ideas":[{"title":"Orbit","body":"A station drama."},{"title":"orbit","premise":"Same idea, retitled."}]}`
	items, _ := Parse[models.StoryIdea](IdeaStrategy{}, doc)
	require.Len(t, items, 1, "titles collide case-insensitively")
	require.Equal(t, "Same idea, retitled.", items[0].Body)
}

func TestScriptStrategy(t *testing.T) {
	doc := `{"scenes":[{"sceneNumber":1,"heading":"INT. LAB - NIGHT","setting":"The old lab","lines":[{"speaker":"MARA","text":"It's moving."},{"direction":"The lights cut out."}]}]}`
	items, tier := Parse[models.ScriptScene](ScriptStrategy{}, doc)
	require.Equal(t, TierStrict, tier)
	require.Len(t, items, 1)

	scene := items[0]
	require.Equal(t, "INT. LAB - NIGHT", scene.Heading)
	require.Len(t, scene.Lines, 2)
	require.Equal(t, "MARA", scene.Lines[0].Speaker)
	require.Equal(t, "The lights cut out.", scene.Lines[1].Direction)
}

func TestScriptPartialSceneKeepsScalars(t *testing.T) {
	frag := `{"scenes":[{"sceneNumber":1,"heading":"INT. LAB - NIGHT","lines":[{"speaker":"MARA","text":"It's`
	items := (ScriptStrategy{}).ExtractPartial(frag)
	require.Len(t, items, 1)
	require.Equal(t, 1, items[0].SceneNumber)
	require.Equal(t, "INT. LAB - NIGHT", items[0].Heading)
	require.Empty(t, items[0].Lines)
}

func TestEpisodeExtractPartialTrailingItem(t *testing.T) {
	frag := `[{"episodeNumber":1,"title":"Pilot"},{"episodeNumber":2,"title":"Fallout","keyEvents":["riot","esc`
	items := (EpisodeStrategy{}).ExtractPartial(frag)
	require.Len(t, items, 2)
	require.Equal(t, "Fallout", items[1].Title)
	require.Equal(t, []string{"riot"}, items[1].KeyEvents)
}
