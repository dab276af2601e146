// internal/models/patch.go
package models

import (
	"encoding/json"
	"time"
)

// PatchOp RFC 6902 操作类型
type PatchOp string

const (
	PatchOpAdd     PatchOp = "add"
	PatchOpReplace PatchOp = "replace"
	PatchOpRemove  PatchOp = "remove"
)

// PatchOperation is a single RFC 6902 operation. Path is an RFC 6901 JSON
// Pointer into the base document. Value is absent for remove.
type PatchOperation struct {
	Op    PatchOp         `json:"op"`
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value,omitempty"`
}

// PatchSetStatus 补丁集审批状态
type PatchSetStatus string

const (
	PatchSetPending    PatchSetStatus = "pending"
	PatchSetApproved   PatchSetStatus = "approved"
	PatchSetRejected   PatchSetStatus = "rejected"
	PatchSetSuperseded PatchSetStatus = "superseded"
)

// PatchSet is an ordered list of RFC 6902 operations produced by exactly one
// transform against exactly one base document version. A human-edited
// replacement supersedes it through a 1:1 human_patch_edit transform; the
// superseded set is kept for the lineage record.
type PatchSet struct {
	ID              string           `json:"id"`
	ProjectID       string           `json:"project_id"`
	TransformID     string           `json:"transform_id"`
	BaseDocumentID  string           `json:"base_document_id"`
	Patches         []PatchOperation `json:"patches"`
	Status          PatchSetStatus   `json:"status"`
	SupersededByID  string           `json:"superseded_by_id,omitempty"`
	RejectionReason string           `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// MarshalPatches renders the operation list as a standalone RFC 6902
// document, the shape the apply/diff libraries expect.
func (p *PatchSet) MarshalPatches() ([]byte, error) {
	if p.Patches == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(p.Patches)
}
