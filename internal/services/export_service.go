// internal/services/export_service.go
package services

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	apperrors "github.com/scriptloom/scriptloom/internal/errors"
	"github.com/scriptloom/scriptloom/internal/models"
)

// ExportService 把项目各阶段的最新文档汇总成一份可下载的完整稿件
type ExportService struct {
	Projects  *ProjectService
	Documents *DocumentService
}

func NewExportService(projects *ProjectService, documents *DocumentService) *ExportService {
	return &ExportService{
		Projects:  projects,
		Documents: documents,
	}
}

// projectExportData 参与渲染的全部素材，缺失的阶段保持零值
type projectExportData struct {
	Project       *models.Project
	Ideas         []models.StoryIdea
	Outline       []models.OutlineStage
	Episodes      []models.EpisodeSynopsis
	Scenes        []models.ScriptScene
	StageVersions map[string]int
	Stages        []string
}

// Export相关方法--------------------------
// ExportProject 导出项目的全部创作成果
func (s *ExportService) ExportProject(projectID string, format string) (*models.ExportResult, error) {
	// 1. 验证输入参数
	if projectID == "" {
		return nil, apperrors.NewValidationError("项目ID不能为空", nil)
	}

	supportedFormats := []string{"json", "markdown", "txt"}
	format = strings.ToLower(format)
	if format == "" {
		format = "markdown"
	}
	if !containsString(supportedFormats, format) {
		return nil, apperrors.NewValidationError(
			fmt.Sprintf("不支持的导出格式: %s，支持的格式: %v", format, supportedFormats), nil)
	}

	// 2. 获取项目信息
	project, err := s.Projects.GetProject(projectID)
	if err != nil {
		return nil, err
	}

	// 3. 收集各阶段最新文档
	data := s.collectExportData(project)
	if len(data.Stages) == 0 {
		return nil, apperrors.NewValidationError("项目还没有任何可导出的内容", nil)
	}

	// 4. 分析和统计数据
	stats := s.analyzeExportStats(data)

	// 5. 根据格式生成内容
	content, err := s.formatProjectContent(data, stats, format)
	if err != nil {
		return nil, apperrors.NewProcessingError("格式化导出内容失败", err)
	}

	// 6. 创建导出结果
	result := &models.ExportResult{
		ProjectID:   project.ID,
		Title:       fmt.Sprintf("%s - 创作全稿", project.Title),
		Format:      format,
		Content:     content,
		GeneratedAt: time.Now(),
		Stages:      data.Stages,
		Stats:       stats,
	}

	// 7. 保存到 data 目录
	filePath, fileSize, err := s.saveExportToDataDir(result)
	if err != nil {
		return nil, apperrors.NewProcessingError("保存导出文件失败", err)
	}

	result.FilePath = filePath
	result.FileSize = fileSize

	return result, nil
}

// collectExportData 逐阶段取最新版本，缺失或解析失败的阶段直接跳过
func (s *ExportService) collectExportData(project *models.Project) *projectExportData {
	data := &projectExportData{
		Project:       project,
		StageVersions: make(map[string]int),
	}

	if doc, err := s.Documents.LatestDocument(project.ID, models.DocumentKindIdeaList); err == nil {
		if json.Unmarshal(doc.Content, &data.Ideas) == nil && len(data.Ideas) > 0 {
			data.StageVersions[StageIdeas] = doc.Version
			data.Stages = append(data.Stages, StageIdeas)
		}
	}

	if doc, err := s.Documents.LatestDocument(project.ID, models.DocumentKindOutline); err == nil {
		if json.Unmarshal(doc.Content, &data.Outline) == nil && len(data.Outline) > 0 {
			data.StageVersions[StageOutline] = doc.Version
			data.Stages = append(data.Stages, StageOutline)
		}
	}

	if doc, err := s.Documents.LatestDocument(project.ID, models.DocumentKindEpisodeList); err == nil {
		if json.Unmarshal(doc.Content, &data.Episodes) == nil && len(data.Episodes) > 0 {
			data.StageVersions[StageEpisodes] = doc.Version
			data.Stages = append(data.Stages, StageEpisodes)
		}
	}

	if doc, err := s.Documents.LatestDocument(project.ID, models.DocumentKindScript); err == nil {
		if json.Unmarshal(doc.Content, &data.Scenes) == nil && len(data.Scenes) > 0 {
			data.StageVersions[StageScript] = doc.Version
			data.Stages = append(data.Stages, StageScript)
		}
	}

	return data
}

// analyzeExportStats 统计创作规模
func (s *ExportService) analyzeExportStats(data *projectExportData) *models.ExportStats {
	stats := &models.ExportStats{
		IdeaCount:    len(data.Ideas),
		StageCount:   len(data.Outline),
		EpisodeCount: len(data.Episodes),
		SceneCount:   len(data.Scenes),
	}

	words := 0
	for _, idea := range data.Ideas {
		words += utf8.RuneCountInString(idea.Title) + utf8.RuneCountInString(idea.Body)
	}
	for _, stage := range data.Outline {
		words += utf8.RuneCountInString(stage.Title) + utf8.RuneCountInString(stage.Summary)
		for _, point := range stage.KeyPoints {
			words += utf8.RuneCountInString(point)
		}
	}
	for _, ep := range data.Episodes {
		words += utf8.RuneCountInString(ep.Title) + utf8.RuneCountInString(ep.Synopsis) + utf8.RuneCountInString(ep.Hook)
		for _, event := range ep.KeyEvents {
			words += utf8.RuneCountInString(event)
		}
	}
	for _, scene := range data.Scenes {
		words += utf8.RuneCountInString(scene.Heading) + utf8.RuneCountInString(scene.Setting)
		for _, line := range scene.Lines {
			if line.Text != "" {
				stats.DialogueLines++
			}
			words += utf8.RuneCountInString(line.Text) + utf8.RuneCountInString(line.Direction)
		}
	}
	stats.WordCount = words

	return stats
}

// formatProjectContent 根据格式分发
func (s *ExportService) formatProjectContent(
	data *projectExportData,
	stats *models.ExportStats,
	format string) (string, error) {

	switch format {
	case "json":
		return s.formatProjectAsJSON(data, stats)
	case "markdown":
		return s.formatProjectAsMarkdown(data, stats)
	case "txt":
		return s.formatProjectAsText(data, stats)
	default:
		return "", fmt.Errorf("不支持的格式: %s", format)
	}
}

func (s *ExportService) formatProjectAsJSON(
	data *projectExportData,
	stats *models.ExportStats) (string, error) {

	payload := map[string]interface{}{
		"project": map[string]interface{}{
			"id":           data.Project.ID,
			"title":        data.Project.Title,
			"genre":        data.Project.Genre,
			"platform":     data.Project.Platform,
			"requirements": data.Project.Requirements,
			"created_at":   data.Project.CreatedAt,
		},
		"stages":         data.Stages,
		"stage_versions": data.StageVersions,
		"stats":          stats,
		"generated_at":   time.Now(),
	}

	if len(data.Ideas) > 0 {
		payload["ideas"] = data.Ideas
	}
	if len(data.Outline) > 0 {
		payload["outline"] = data.Outline
	}
	if len(data.Episodes) > 0 {
		payload["episodes"] = data.Episodes
	}
	if len(data.Scenes) > 0 {
		payload["script"] = data.Scenes
	}

	jsonBytes, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("JSON序列化失败: %w", err)
	}

	return string(jsonBytes), nil
}

func (s *ExportService) formatProjectAsMarkdown(
	data *projectExportData,
	stats *models.ExportStats) (string, error) {

	if data.Project == nil {
		return "", fmt.Errorf("项目数据不能为空")
	}

	var content strings.Builder

	// 标题
	content.WriteString(fmt.Sprintf("# %s - 创作全稿\n\n", data.Project.Title))
	content.WriteString(fmt.Sprintf("**项目ID**: %s\n\n", data.Project.ID))

	// 项目信息
	content.WriteString("## 📋 项目信息\n\n")
	content.WriteString(fmt.Sprintf("- **项目名称**: %s\n", data.Project.Title))
	if data.Project.Genre != "" {
		content.WriteString(fmt.Sprintf("- **题材类型**: %s\n", data.Project.Genre))
	}
	if data.Project.Platform != "" {
		content.WriteString(fmt.Sprintf("- **目标平台**: %s\n", data.Project.Platform))
	}
	if data.Project.Requirements != "" {
		content.WriteString(fmt.Sprintf("- **创作要求**: %s\n", data.Project.Requirements))
	}
	content.WriteString(fmt.Sprintf("- **创建时间**: %s\n", data.Project.CreatedAt.Format("2006-01-02 15:04:05")))
	content.WriteString(fmt.Sprintf("- **导出时间**: %s\n\n", time.Now().Format("2006-01-02 15:04:05")))

	// 统计信息
	content.WriteString("## 📊 创作统计\n\n")
	if stats.IdeaCount > 0 {
		content.WriteString(fmt.Sprintf("- **创意数量**: %d\n", stats.IdeaCount))
	}
	if stats.StageCount > 0 {
		content.WriteString(fmt.Sprintf("- **大纲幕数**: %d\n", stats.StageCount))
	}
	if stats.EpisodeCount > 0 {
		content.WriteString(fmt.Sprintf("- **分集数量**: %d\n", stats.EpisodeCount))
	}
	if stats.SceneCount > 0 {
		content.WriteString(fmt.Sprintf("- **剧本场次**: %d\n", stats.SceneCount))
		content.WriteString(fmt.Sprintf("- **台词行数**: %d\n", stats.DialogueLines))
	}
	content.WriteString(fmt.Sprintf("- **总字数（估算）**: %d\n\n", stats.WordCount))

	// 创意清单
	if len(data.Ideas) > 0 {
		content.WriteString(fmt.Sprintf("## 💡 创意清单 (v%d)\n\n", data.StageVersions[StageIdeas]))
		for i, idea := range data.Ideas {
			content.WriteString(fmt.Sprintf("### %d. %s\n\n", i+1, idea.Title))
			if idea.Body != "" {
				content.WriteString(idea.Body)
				content.WriteString("\n\n")
			}
		}
	}

	// 故事大纲
	if len(data.Outline) > 0 {
		content.WriteString(fmt.Sprintf("## 🧭 故事大纲 (v%d)\n\n", data.StageVersions[StageOutline]))
		for _, stage := range data.Outline {
			content.WriteString(fmt.Sprintf("### 第%d幕：%s\n\n", stage.StageNumber, stage.Title))
			if stage.Summary != "" {
				content.WriteString(stage.Summary)
				content.WriteString("\n\n")
			}
			if len(stage.KeyPoints) > 0 {
				content.WriteString("**关键节点**:\n\n")
				for _, point := range stage.KeyPoints {
					content.WriteString(fmt.Sprintf("- %s\n", point))
				}
				content.WriteString("\n")
			}
		}
	}

	// 分集梗概
	if len(data.Episodes) > 0 {
		content.WriteString(fmt.Sprintf("## 📺 分集梗概 (v%d)\n\n", data.StageVersions[StageEpisodes]))
		for _, ep := range data.Episodes {
			content.WriteString(fmt.Sprintf("### 第%d集：%s\n\n", ep.EpisodeNumber, ep.Title))
			if ep.Synopsis != "" {
				content.WriteString(ep.Synopsis)
				content.WriteString("\n\n")
			}
			if len(ep.KeyEvents) > 0 {
				content.WriteString("**关键事件**:\n\n")
				for _, event := range ep.KeyEvents {
					content.WriteString(fmt.Sprintf("- %s\n", event))
				}
				content.WriteString("\n")
			}
			if ep.Hook != "" {
				content.WriteString(fmt.Sprintf("> 结尾钩子: %s\n\n", ep.Hook))
			}
		}
	}

	// 剧本正文
	if len(data.Scenes) > 0 {
		content.WriteString(fmt.Sprintf("## 🎬 剧本 (v%d)\n\n", data.StageVersions[StageScript]))
		for _, scene := range data.Scenes {
			heading := scene.Heading
			if heading == "" {
				heading = fmt.Sprintf("场次 %d", scene.SceneNumber)
			}
			content.WriteString(fmt.Sprintf("### %d. %s\n\n", scene.SceneNumber, heading))
			if scene.Setting != "" {
				content.WriteString(fmt.Sprintf("*%s*\n\n", scene.Setting))
			}
			for _, line := range scene.Lines {
				switch {
				case line.Direction != "":
					content.WriteString(fmt.Sprintf("（%s）\n\n", line.Direction))
				case line.Speaker != "":
					content.WriteString(fmt.Sprintf("**%s**：%s\n\n", line.Speaker, line.Text))
				case line.Text != "":
					content.WriteString(line.Text)
					content.WriteString("\n\n")
				}
			}
		}
	}

	// 页脚
	content.WriteString("---\n\n")
	content.WriteString("*本文档由 ScriptLoom 自动生成*\n")

	return content.String(), nil
}

func (s *ExportService) formatProjectAsText(
	data *projectExportData,
	stats *models.ExportStats) (string, error) {

	if data.Project == nil {
		return "", fmt.Errorf("项目数据不能为空")
	}

	var content strings.Builder

	// 标题区域
	content.WriteString(strings.Repeat("=", 50) + "\n")
	content.WriteString(fmt.Sprintf("%s - 创作全稿\n", data.Project.Title))
	content.WriteString(strings.Repeat("=", 50) + "\n\n")

	content.WriteString(fmt.Sprintf("项目ID: %s\n", data.Project.ID))
	if data.Project.Genre != "" {
		content.WriteString(fmt.Sprintf("题材类型: %s\n", data.Project.Genre))
	}
	if data.Project.Platform != "" {
		content.WriteString(fmt.Sprintf("目标平台: %s\n", data.Project.Platform))
	}
	content.WriteString(fmt.Sprintf("导出时间: %s\n\n", time.Now().Format("2006-01-02 15:04:05")))

	// 统计
	content.WriteString("创作统计\n")
	content.WriteString(strings.Repeat("-", 30) + "\n")
	content.WriteString(fmt.Sprintf("  创意数量: %d\n", stats.IdeaCount))
	content.WriteString(fmt.Sprintf("  大纲幕数: %d\n", stats.StageCount))
	content.WriteString(fmt.Sprintf("  分集数量: %d\n", stats.EpisodeCount))
	content.WriteString(fmt.Sprintf("  剧本场次: %d\n", stats.SceneCount))
	content.WriteString(fmt.Sprintf("  台词行数: %d\n", stats.DialogueLines))
	content.WriteString(fmt.Sprintf("  总字数（估算）: %d\n\n", stats.WordCount))

	// 创意清单
	if len(data.Ideas) > 0 {
		content.WriteString(strings.Repeat("=", 50) + "\n")
		content.WriteString(fmt.Sprintf("创意清单 (v%d)\n", data.StageVersions[StageIdeas]))
		content.WriteString(strings.Repeat("=", 50) + "\n\n")
		for i, idea := range data.Ideas {
			content.WriteString(fmt.Sprintf("[%d] %s\n", i+1, idea.Title))
			if idea.Body != "" {
				for _, line := range strings.Split(idea.Body, "\n") {
					content.WriteString(fmt.Sprintf("    %s\n", line))
				}
			}
			content.WriteString("\n")
		}
	}

	// 故事大纲
	if len(data.Outline) > 0 {
		content.WriteString(strings.Repeat("=", 50) + "\n")
		content.WriteString(fmt.Sprintf("故事大纲 (v%d)\n", data.StageVersions[StageOutline]))
		content.WriteString(strings.Repeat("=", 50) + "\n\n")
		for _, stage := range data.Outline {
			content.WriteString(fmt.Sprintf("第%d幕：%s\n", stage.StageNumber, stage.Title))
			content.WriteString(strings.Repeat("-", 20) + "\n")
			if stage.Summary != "" {
				content.WriteString(fmt.Sprintf("%s\n", stage.Summary))
			}
			for _, point := range stage.KeyPoints {
				content.WriteString(fmt.Sprintf("  * %s\n", point))
			}
			content.WriteString("\n")
		}
	}

	// 分集梗概
	if len(data.Episodes) > 0 {
		content.WriteString(strings.Repeat("=", 50) + "\n")
		content.WriteString(fmt.Sprintf("分集梗概 (v%d)\n", data.StageVersions[StageEpisodes]))
		content.WriteString(strings.Repeat("=", 50) + "\n\n")
		for _, ep := range data.Episodes {
			content.WriteString(fmt.Sprintf("第%d集：%s\n", ep.EpisodeNumber, ep.Title))
			content.WriteString(strings.Repeat("-", 20) + "\n")
			if ep.Synopsis != "" {
				content.WriteString(fmt.Sprintf("%s\n", ep.Synopsis))
			}
			for _, event := range ep.KeyEvents {
				content.WriteString(fmt.Sprintf("  * %s\n", event))
			}
			if ep.Hook != "" {
				content.WriteString(fmt.Sprintf("  [钩子] %s\n", ep.Hook))
			}
			content.WriteString("\n")
		}
	}

	// 剧本正文
	if len(data.Scenes) > 0 {
		content.WriteString(strings.Repeat("=", 50) + "\n")
		content.WriteString(fmt.Sprintf("剧本 (v%d)\n", data.StageVersions[StageScript]))
		content.WriteString(strings.Repeat("=", 50) + "\n\n")
		for _, scene := range data.Scenes {
			heading := scene.Heading
			if heading == "" {
				heading = fmt.Sprintf("场次 %d", scene.SceneNumber)
			}
			content.WriteString(fmt.Sprintf("%d. %s\n", scene.SceneNumber, heading))
			if scene.Setting != "" {
				content.WriteString(fmt.Sprintf("   [%s]\n", scene.Setting))
			}
			content.WriteString(strings.Repeat("-", 20) + "\n")
			for _, line := range scene.Lines {
				switch {
				case line.Direction != "":
					content.WriteString(fmt.Sprintf("    （%s）\n", line.Direction))
				case line.Speaker != "":
					content.WriteString(fmt.Sprintf("%s：\n", line.Speaker))
					for _, text := range strings.Split(line.Text, "\n") {
						content.WriteString(fmt.Sprintf("    %s\n", text))
					}
				case line.Text != "":
					content.WriteString(fmt.Sprintf("    %s\n", line.Text))
				}
			}
			content.WriteString("\n")
		}
	}

	return content.String(), nil
}

// saveExportToDataDir 导出文件统一落在 data/exports/projects 下
func (s *ExportService) saveExportToDataDir(result *models.ExportResult) (string, int64, error) {
	// 创建导出目录
	exportDir := filepath.Join("data", "exports", "projects")
	if err := os.MkdirAll(exportDir, 0755); err != nil {
		return "", 0, fmt.Errorf("创建导出目录失败: %w", err)
	}

	// 生成文件名
	timestamp := result.GeneratedAt.Format("20060102_150405")
	fileName := fmt.Sprintf("%s_export_%s.%s",
		result.ProjectID, timestamp, exportFileExtension(result.Format))

	filePath := filepath.Join(exportDir, fileName)

	// 写入文件
	if err := os.WriteFile(filePath, []byte(result.Content), 0644); err != nil {
		return "", 0, fmt.Errorf("写入导出文件失败: %w", err)
	}

	// 获取文件大小
	fileInfo, err := os.Stat(filePath)
	if err != nil {
		return "", 0, fmt.Errorf("获取文件信息失败: %w", err)
	}

	return filePath, fileInfo.Size(), nil
}

func exportFileExtension(format string) string {
	if format == "markdown" {
		return "md"
	}
	return format
}

// 辅助函数
func containsString(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
