// internal/models/export.go
package models

import (
	"time"
)

// ExportResult 导出结果
type ExportResult struct {
	ProjectID   string       `json:"project_id"`
	Title       string       `json:"title"`
	Format      string       `json:"format"`
	Content     string       `json:"content"`
	GeneratedAt time.Time    `json:"generated_at"`
	Stages      []string     `json:"stages"`    // 参与导出的创作阶段
	FilePath    string       `json:"file_path"` // 导出文件路径
	FileSize    int64        `json:"file_size"` // 文件大小
	Stats       *ExportStats `json:"stats,omitempty"`
}

// ExportStats 导出统计
type ExportStats struct {
	IdeaCount     int `json:"idea_count"`
	StageCount    int `json:"stage_count"`
	EpisodeCount  int `json:"episode_count"`
	SceneCount    int `json:"scene_count"`
	DialogueLines int `json:"dialogue_lines"`
	WordCount     int `json:"word_count"` // 按字符数粗估
}
