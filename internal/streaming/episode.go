// internal/streaming/episode.go
package streaming

import (
	"strconv"

	"github.com/scriptloom/scriptloom/internal/models"
)

// EpisodeStrategy parses episode synopsis lists. An episode needs its number
// and a title to surface; synopsis, key events and hook fill in as the
// stream provides them.
type EpisodeStrategy struct{}

func (EpisodeStrategy) Stage() string {
	return "episodes"
}

func (EpisodeStrategy) WrapperKeys() []string {
	return []string{"episodes", "items"}
}

func (EpisodeStrategy) Normalize(raw map[string]interface{}) models.EpisodeSynopsis {
	number, _ := intValue(raw, "episodeNumber", "episode_number", "episode", "number")
	return models.EpisodeSynopsis{
		EpisodeNumber: number,
		Title:         stringValue(raw, "title", "name"),
		Synopsis:      stringValue(raw, "synopsis", "summary", "description"),
		KeyEvents:     stringSliceValue(raw, "keyEvents", "key_events", "events"),
		Hook:          stringValue(raw, "hook", "cliffhanger"),
	}
}

func (EpisodeStrategy) Validate(item models.EpisodeSynopsis) bool {
	return item.EpisodeNumber >= 1 && item.Title != ""
}

func (EpisodeStrategy) Key(item models.EpisodeSynopsis) string {
	return strconv.Itoa(item.EpisodeNumber)
}

func (st EpisodeStrategy) ExtractPartial(text string) []models.EpisodeSynopsis {
	items := spanItems[models.EpisodeSynopsis](st, text)

	frag := TrailingFragment(text)
	if frag == "" {
		return items
	}

	number, ok := IntField(frag, "episodeNumber")
	if !ok {
		number, ok = IntField(frag, "episode_number")
	}
	if !ok || number < 1 {
		return items
	}

	item := models.EpisodeSynopsis{
		EpisodeNumber: number,
		KeyEvents:     []string{},
	}
	if title, ok := StringField(frag, "title"); ok {
		item.Title = title
	}
	if synopsis, ok := StringField(frag, "synopsis"); ok {
		item.Synopsis = synopsis
	}
	if events, ok := StringArrayField(frag, "keyEvents"); ok {
		item.KeyEvents = events
	}
	if hook, ok := StringField(frag, "hook"); ok {
		item.Hook = hook
	}

	if st.Validate(item) {
		items = append(items, item)
	}
	return items
}
