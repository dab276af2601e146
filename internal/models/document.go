// internal/models/document.go
package models

import (
	"encoding/json"
	"time"
)

// DocumentKind 文档内容类型
type DocumentKind string

const (
	DocumentKindIdeaList    DocumentKind = "idea_list"
	DocumentKindOutline     DocumentKind = "outline"
	DocumentKindEpisodeList DocumentKind = "episode_list"
	DocumentKindScript      DocumentKind = "script"
)

// Document is one immutable version in a project's lineage.
// Content holds the version's full JSON payload (an array of domain items
// or a single object, depending on Kind); new versions are created by
// transforms rather than by mutating an existing document.
type Document struct {
	ID          string          `json:"id"`
	ProjectID   string          `json:"project_id"`
	Kind        DocumentKind    `json:"kind"`
	Content     json.RawMessage `json:"content"`
	Version     int             `json:"version"`
	CreatedAt   time.Time       `json:"created_at"`
	LastUpdated time.Time       `json:"last_updated"`
}

// DocumentUpdate carries a partial field update for the coalescing
// auto-saver. Fields is merged key-wise; later values win.
type DocumentUpdate struct {
	DocumentID string                 `json:"document_id"`
	Fields     map[string]interface{} `json:"fields"`
}
