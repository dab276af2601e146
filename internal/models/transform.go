// internal/models/transform.go
package models

import "time"

// TransformType 变换类型（文档谱系图中的边）
type TransformType string

const (
	TransformAIGeneration       TransformType = "ai_generation"
	TransformAIPatch            TransformType = "ai_patch"
	TransformHumanEdit          TransformType = "human_edit"
	TransformHumanPatchEdit     TransformType = "human_patch_edit"
	TransformHumanPatchApproval TransformType = "human_patch_approval"
	TransformHumanPatchReject   TransformType = "human_patch_rejection"
)

// TransformStatus 变换运行状态
type TransformStatus string

const (
	TransformRunning   TransformStatus = "running"
	TransformCompleted TransformStatus = "completed"
	TransformFailed    TransformStatus = "failed"
)

// Transform records one applied change in a project's document lineage:
// which document versions it consumed (InputIDs), which it produced
// (OutputIDs), and, for patch-producing transforms, the patch set it owns.
// RawContent keeps the accumulated model output so a resumed subscriber can
// replay partial results after the live stream is gone.
type Transform struct {
	ID          string          `json:"id"`
	ProjectID   string          `json:"project_id"`
	Type        TransformType   `json:"type"`
	Status      TransformStatus `json:"status"`
	Stage       string          `json:"stage,omitempty"`
	InputIDs    []string        `json:"input_ids,omitempty"`
	OutputIDs   []string        `json:"output_ids,omitempty"`
	PatchSetID  string          `json:"patch_set_id,omitempty"`
	RawContent  string          `json:"raw_content,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt time.Time       `json:"completed_at"`
}

// IsTerminal reports whether the transform will receive no further updates.
func (t *Transform) IsTerminal() bool {
	return t.Status == TransformCompleted || t.Status == TransformFailed
}
