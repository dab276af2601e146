// internal/models/items.go
package models

// Domain items reconstructed by the streaming parser. Each carries a
// numeric natural key (ordinal) used to match items across snapshots; every
// other field is optional while a stream is in flight and defaults to its
// zero value or an empty slice, never nil-vs-missing distinctions.

// StoryIdea is one brainstormed premise from the idea stage.
type StoryIdea struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// OutlineStage is one act/stage of the story outline.
type OutlineStage struct {
	StageNumber int      `json:"stageNumber"`
	Title       string   `json:"title"`
	Summary     string   `json:"summary,omitempty"`
	KeyPoints   []string `json:"keyPoints"`
}

// EpisodeSynopsis is one episode's planning record.
type EpisodeSynopsis struct {
	EpisodeNumber int      `json:"episodeNumber"`
	Title         string   `json:"title"`
	Synopsis      string   `json:"synopsis,omitempty"`
	KeyEvents     []string `json:"keyEvents"`
	Hook          string   `json:"hook,omitempty"`
}

// ScriptLine is a single dialogue or direction line inside a scene.
type ScriptLine struct {
	Speaker   string `json:"speaker,omitempty"`
	Direction string `json:"direction,omitempty"`
	Text      string `json:"text,omitempty"`
}

// ScriptScene is one scene of a screenplay draft.
type ScriptScene struct {
	SceneNumber int          `json:"sceneNumber"`
	Heading     string       `json:"heading,omitempty"`
	Setting     string       `json:"setting,omitempty"`
	Lines       []ScriptLine `json:"lines"`
}
