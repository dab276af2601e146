// internal/api/handlers.go
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/scriptloom/scriptloom/internal/di"
	apperrors "github.com/scriptloom/scriptloom/internal/errors"
	"github.com/scriptloom/scriptloom/internal/models"
	"github.com/scriptloom/scriptloom/internal/services"
	"github.com/scriptloom/scriptloom/internal/utils"
	"github.com/gin-gonic/gin"
)

// Handler 处理API请求
type Handler struct {
	// 核心服务
	ProjectService    *services.ProjectService    // 项目服务
	DocumentService   *services.DocumentService   // 文档服务
	TransformService  *services.TransformService  // 变换谱系服务
	PatchService      *services.PatchService      // 补丁审批服务
	GenerationService *services.GenerationService // AI生成服务
	ConfigService     *services.ConfigService     // 配置服务
	LLMService        *services.LLMService        // LLM服务
	StatsService      *services.StatsService      // 统计服务
	WebSocketHandler  *WebSocketHandler           // WebSocket 处理器
	Response          *ResponseHelper             // 响应助手
}

// CreateProjectRequest 创建项目的请求结构
type CreateProjectRequest struct {
	Title        string `json:"title" binding:"required"` // 项目标题
	Genre        string `json:"genre"`                    // 题材
	Platform     string `json:"platform"`                 // 目标平台
	Requirements string `json:"requirements"`             // 创作要求
}

// StartGenerationRequest 启动AI生成的请求结构
type StartGenerationRequest struct {
	Stage          string `json:"stage" binding:"required"` // 创作阶段: ideas/outline/episodes/script
	Instructions   string `json:"instructions"`             // 补充指令
	Model          string `json:"model"`                    // 指定模型（留空用默认）
	Count          int    `json:"count"`                    // 生成数量（创意清单）
	EpisodeNumber  int    `json:"episode_number"`           // 目标集数（剧本阶段）
	BaseDocumentID string `json:"base_document_id"`         // 补丁模式的基底文档
	AsPatch        bool   `json:"as_patch"`                 // 产出补丁集而不是新版本
}

// PatchDecisionRequest 批量审批补丁集的请求结构
type PatchDecisionRequest struct {
	ProjectID        string   `json:"project_id" binding:"required"`         // 项目ID
	SelectedPatchIDs []string `json:"selected_patch_ids" binding:"required"` // 选中的补丁集ID列表
	RejectionReason  string   `json:"rejection_reason"`                      // 拒绝原因（仅拒绝时使用）
}

// APIResponse 标准API响应格式
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"` // 用于调试和追踪
}

// APIError 标准错误格式
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// PaginationMeta 分页元数据
type PaginationMeta struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// PaginatedResponse 带分页的响应
type PaginatedResponse struct {
	*APIResponse
	Meta *PaginationMeta `json:"meta,omitempty"`
}

// ------------------------------------------------
// ProjectWebSocket 处理项目 WebSocket 连接
func (h *Handler) ProjectWebSocket(c *gin.Context) {
	h.WebSocketHandler.ProjectWebSocket(c)
}

// BroadcastToProject 提供外部调用的广播方法
func (h *Handler) BroadcastToProject(projectID string, message map[string]interface{}) {
	wsManager.BroadcastToProject(projectID, message)
}

// GetWebSocketStatus 获取 WebSocket 连接状态（调试用）
func (h *Handler) GetWebSocketStatus(c *gin.Context) {
	status := wsManager.GetStatus()
	status["ping_timeout_seconds"] = int(wsManager.pingTimeout.Seconds())
	status["timestamp"] = time.Now().Format(time.RFC3339)

	c.JSON(http.StatusOK, status)
}

// 添加管理器控制API
func (h *Handler) CleanupWebSocketConnections(c *gin.Context) {
	wsManager.cleanupExpiredConnections()
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"message":   "连接清理已执行",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// ========================================
// 导出功能处理器
// ========================================

// ExportProject 导出项目创作全稿
func (h *Handler) ExportProject(c *gin.Context) {
	projectID := c.Param("id")
	format := c.DefaultQuery("format", "markdown")

	// 验证项目ID
	if projectID == "" {
		h.Response.BadRequest(c, "缺少项目ID")
		return
	}

	// 验证导出格式
	supportedFormats := []string{"json", "markdown", "txt"}
	if !contains(supportedFormats, strings.ToLower(format)) {
		h.Response.Error(c, http.StatusBadRequest, ErrorExportFormatInvalid,
			"不支持的导出格式", "支持的格式: json, markdown, txt")
		return
	}

	// 获取导出服务
	exportService := h.getExportService()
	if exportService == nil {
		h.Response.Error(c, http.StatusServiceUnavailable, ErrorExportServiceUnavailable,
			"导出服务未初始化", "无法获取导出服务实例")
		return
	}

	result, err := exportService.ExportProject(projectID, format)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			h.Response.NotFound(c, "项目", "项目ID: "+projectID)
			return
		}
		if apperrors.IsValidationError(err) {
			h.Response.Error(c, http.StatusBadRequest, ErrorExportDataEmpty,
				"没有可导出的数据", err.Error())
			return
		}
		h.Response.Error(c, http.StatusInternalServerError, ErrorExportFailed,
			"导出项目失败", err.Error())
		return
	}

	// 检查导出结果
	if result == nil || result.Content == "" {
		h.Response.Error(c, http.StatusNotFound, ErrorExportDataEmpty,
			"导出结果为空", "项目还没有任何已生成的内容")
		return
	}

	// 使用专用的导出响应方法
	h.Response.ExportResponse(c, result, format)
}

// 辅助函数：检查字符串是否在切片中
func contains(slice []string, item string) bool {
	return slices.Contains(slice, item)
}

// getExportService 获取导出服务实例
func (h *Handler) getExportService() *services.ExportService {
	container := di.GetContainer()
	exportService, ok := container.Get("export").(*services.ExportService)
	if !ok {
		log.Printf("警告: 无法从容器获取导出服务")
		return nil
	}
	return exportService
}

// ---------------------------------------------------------
// NewHandler 创建API处理器
func NewHandler(
	projectService *services.ProjectService,
	documentService *services.DocumentService,
	transformService *services.TransformService,
	patchService *services.PatchService,
	generationService *services.GenerationService,
	configService *services.ConfigService,
	llmService *services.LLMService,
	statsService *services.StatsService) *Handler {

	return &Handler{
		ProjectService:    projectService,
		DocumentService:   documentService,
		TransformService:  transformService,
		PatchService:      patchService,
		GenerationService: generationService,
		ConfigService:     configService,
		LLMService:        llmService,
		StatsService:      statsService,
		WebSocketHandler:  NewWebSocketHandler(),
		Response:          NewResponseHelper(),
	}
}

// ========================================
// 项目管理处理器
// ========================================

// CreateProject 创建新项目
func (h *Handler) CreateProject(c *gin.Context) {
	var req CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求参数错误", err.Error())
		return
	}

	project, err := h.ProjectService.CreateProject(req.Title, req.Genre, req.Platform, req.Requirements)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}

	h.Response.Created(c, project, "项目创建成功")
}

// ListProjects 获取所有项目列表
func (h *Handler) ListProjects(c *gin.Context) {
	projects, err := h.ProjectService.ListProjects()
	if err != nil {
		h.Response.InternalError(c, "获取项目列表失败", err.Error())
		return
	}

	h.Response.Success(c, projects)
}

// GetProject 获取单个项目详情
func (h *Handler) GetProject(c *gin.Context) {
	projectID := c.Param("id")
	if projectID == "" {
		h.Response.BadRequest(c, "项目ID不能为空")
		return
	}

	project, err := h.ProjectService.GetProject(projectID)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			h.Response.NotFound(c, "项目", "项目ID: "+projectID)
			return
		}
		h.Response.FromError(c, err)
		return
	}

	h.Response.Success(c, project)
}

// DeleteProject 删除项目及其全部文档、变换和补丁
func (h *Handler) DeleteProject(c *gin.Context) {
	projectID := c.Param("id")
	if projectID == "" {
		h.Response.BadRequest(c, "项目ID不能为空")
		return
	}

	if err := h.ProjectService.DeleteProject(projectID); err != nil {
		if apperrors.IsNotFoundError(err) {
			h.Response.NotFound(c, "项目", "项目ID: "+projectID)
			return
		}
		h.Response.FromError(c, err)
		return
	}

	h.Response.Success(c, gin.H{"project_id": projectID}, "项目已删除")
}

// ========================================
// 文档处理器
// ========================================

// ListProjectDocuments 获取项目下的文档列表
//
// 支持 ?kind= 过滤（idea_list/outline/episode_list/script）。
func (h *Handler) ListProjectDocuments(c *gin.Context) {
	projectID := c.Param("id")
	if projectID == "" {
		h.Response.BadRequest(c, "项目ID不能为空")
		return
	}

	documents, err := h.DocumentService.ListDocuments(projectID)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}

	if kind := c.Query("kind"); kind != "" {
		filtered := make([]*models.Document, 0, len(documents))
		for _, doc := range documents {
			if string(doc.Kind) == kind {
				filtered = append(filtered, doc)
			}
		}
		documents = filtered
	}

	h.Response.Success(c, documents)
}

// GetDocument 获取单个文档
func (h *Handler) GetDocument(c *gin.Context) {
	documentID := c.Param("id")
	if documentID == "" {
		h.Response.BadRequest(c, "文档ID不能为空")
		return
	}

	document, err := h.DocumentService.GetDocument(documentID)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			h.Response.NotFound(c, "文档", "文档ID: "+documentID)
			return
		}
		h.Response.FromError(c, err)
		return
	}

	h.Response.Success(c, document)
}

// UpdateDocument 整体更新文档内容（后写覆盖先写）
func (h *Handler) UpdateDocument(c *gin.Context) {
	documentID := c.Param("id")
	if documentID == "" {
		h.Response.BadRequest(c, "文档ID不能为空")
		return
	}

	var req struct {
		Content json.RawMessage `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求参数错误", err.Error())
		return
	}

	document, err := h.DocumentService.UpdateContent(documentID, req.Content)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			h.Response.NotFound(c, "文档", "文档ID: "+documentID)
			return
		}
		h.Response.FromError(c, err)
		return
	}

	h.Response.Success(c, document, "文档已更新")
}

// PatchDocumentFields 字段级更新，经防抖合并后落盘
//
// 请求体是任意字段集合，同一窗口内的多次更新合并为一次写入。
func (h *Handler) PatchDocumentFields(c *gin.Context) {
	documentID := c.Param("id")
	if documentID == "" {
		h.Response.BadRequest(c, "文档ID不能为空")
		return
	}

	var fields map[string]interface{}
	if err := c.ShouldBindJSON(&fields); err != nil {
		h.Response.BadRequest(c, "请求参数错误", err.Error())
		return
	}
	if len(fields) == 0 {
		h.Response.BadRequest(c, "没有需要更新的字段")
		return
	}

	// 先确认文档存在，排队之后的写入是异步的
	if _, err := h.DocumentService.GetDocument(documentID); err != nil {
		if apperrors.IsNotFoundError(err) {
			h.Response.NotFound(c, "文档", "文档ID: "+documentID)
			return
		}
		h.Response.FromError(c, err)
		return
	}

	h.DocumentService.QueueSave(documentID, fields)

	h.Response.Success(c, gin.H{
		"document_id": documentID,
		"queued":      true,
		"fields":      len(fields),
	}, "字段更新已加入保存队列")
}

// ========================================
// 变换与生成处理器
// ========================================

// GetTransform 获取变换记录
func (h *Handler) GetTransform(c *gin.Context) {
	transformID := c.Param("id")
	if transformID == "" {
		h.Response.BadRequest(c, "变换ID不能为空")
		return
	}

	transform, err := h.TransformService.GetTransform(transformID)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			h.Response.NotFound(c, "变换", "变换ID: "+transformID)
			return
		}
		h.Response.FromError(c, err)
		return
	}

	h.Response.Success(c, transform)
}

// ListProjectTransforms 分页获取项目的变换谱系
func (h *Handler) ListProjectTransforms(c *gin.Context) {
	projectID := c.Param("id")
	if projectID == "" {
		h.Response.BadRequest(c, "项目ID不能为空")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	transforms := h.TransformService.ListTransforms(projectID)

	total := len(transforms)
	totalPages := (total + perPage - 1) / perPage
	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}

	h.Response.PaginatedSuccess(c, transforms[start:end], &PaginationMeta{
		Page:       page,
		PerPage:    perPage,
		Total:      total,
		TotalPages: totalPages,
	})
}

// StartGeneration 启动一次AI生成
//
// 立即返回变换ID，客户端通过 SSE 或 WebSocket 跟进进度。
func (h *Handler) StartGeneration(c *gin.Context) {
	projectID := c.Param("id")
	if projectID == "" {
		h.Response.BadRequest(c, "项目ID不能为空")
		return
	}

	var req StartGenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求参数错误", err.Error())
		return
	}

	stream, err := h.GenerationService.StartGeneration(services.GenerationRequest{
		ProjectID:      projectID,
		Stage:          req.Stage,
		Instructions:   req.Instructions,
		Model:          req.Model,
		Count:          req.Count,
		EpisodeNumber:  req.EpisodeNumber,
		BaseDocumentID: req.BaseDocumentID,
		AsPatch:        req.AsPatch,
	})
	if err != nil {
		if apperrors.IsValidationError(err) {
			h.Response.Error(c, http.StatusBadRequest, ErrorGenerationParams,
				"生成参数无效", err.Error())
			return
		}
		if apperrors.IsConflictError(err) {
			h.Response.Error(c, http.StatusConflict, ErrorGenerationConflict,
				"已有进行中的生成任务", err.Error())
			return
		}
		h.Response.FromError(c, err)
		return
	}

	h.Response.Created(c, gin.H{
		"transform_id": stream.TransformID,
		"project_id":   stream.ProjectID,
		"stage":        stream.Stage,
		"kind":         stream.Kind,
		"status":       string(stream.Status()),
	}, "生成已启动")
}

// CancelGeneration 取消进行中的生成
func (h *Handler) CancelGeneration(c *gin.Context) {
	transformID := c.Param("id")
	if transformID == "" {
		h.Response.BadRequest(c, "变换ID不能为空")
		return
	}

	if err := h.GenerationService.CancelGeneration(transformID); err != nil {
		if apperrors.IsNotFoundError(err) {
			h.Response.Error(c, http.StatusNotFound, ErrorStreamUnavailable,
				"没有进行中的生成任务", "变换ID: "+transformID)
			return
		}
		h.Response.FromError(c, err)
		return
	}

	h.Response.Success(c, gin.H{"transform_id": transformID}, "生成已取消")
}

// ========================================
// 补丁审批处理器
// ========================================

// GetPendingPatchSets 获取项目的待审补丁集
func (h *Handler) GetPendingPatchSets(c *gin.Context) {
	projectID := c.Param("id")
	if projectID == "" {
		h.Response.BadRequest(c, "项目ID不能为空")
		return
	}

	patchSets, err := h.PatchService.PendingPatchSets(projectID)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}

	h.Response.Success(c, patchSets)
}

// GetPatchSet 获取单个补丁集
func (h *Handler) GetPatchSet(c *gin.Context) {
	patchSetID := c.Param("id")
	if patchSetID == "" {
		h.Response.BadRequest(c, "补丁集ID不能为空")
		return
	}

	patchSet, err := h.PatchService.GetPatchSet(patchSetID)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			h.Response.NotFound(c, "补丁集", "补丁集ID: "+patchSetID)
			return
		}
		h.Response.FromError(c, err)
		return
	}

	h.Response.Success(c, patchSet)
}

// PreviewPatchSet 预览补丁集应用前后的文档
//
// 应用失败不报错，降级为 error 字段说明无法生成差异。
func (h *Handler) PreviewPatchSet(c *gin.Context) {
	patchSetID := c.Param("id")
	if patchSetID == "" {
		h.Response.BadRequest(c, "补丁集ID不能为空")
		return
	}

	preview, err := h.PatchService.Preview(patchSetID)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			h.Response.NotFound(c, "补丁集", "补丁集ID: "+patchSetID)
			return
		}
		h.Response.FromError(c, err)
		return
	}

	h.Response.Success(c, preview)
}

// EditPatchSet 人工修改补丁集内容后重建差异
func (h *Handler) EditPatchSet(c *gin.Context) {
	patchSetID := c.Param("id")
	if patchSetID == "" {
		h.Response.BadRequest(c, "补丁集ID不能为空")
		return
	}

	var overrides map[string]interface{}
	if err := c.ShouldBindJSON(&overrides); err != nil {
		h.Response.BadRequest(c, "请求参数错误", err.Error())
		return
	}
	if len(overrides) == 0 {
		h.Response.BadRequest(c, "没有需要修改的字段")
		return
	}

	patchSet, err := h.PatchService.HumanEdit(patchSetID, overrides)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			h.Response.NotFound(c, "补丁集", "补丁集ID: "+patchSetID)
			return
		}
		if apperrors.IsConflictError(err) {
			h.Response.Error(c, http.StatusConflict, ErrorPatchSetResolved,
				"补丁集已被处理", err.Error())
			return
		}
		h.Response.FromError(c, err)
		return
	}

	h.Response.Success(c, patchSet, "补丁集已更新")
}

// ApprovePatchSets 批准选中的补丁集并落成新文档版本
//
// 全有或全无：任何一个补丁应用失败，整批回绝不落盘。
func (h *Handler) ApprovePatchSets(c *gin.Context) {
	var req PatchDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求参数错误", err.Error())
		return
	}
	if len(req.SelectedPatchIDs) == 0 {
		h.Response.BadRequest(c, "至少选择一个补丁集")
		return
	}

	result, err := h.PatchService.Approve(req.ProjectID, req.SelectedPatchIDs)
	if err != nil {
		if apperrors.IsPatchApplyError(err) {
			h.Response.Error(c, http.StatusUnprocessableEntity, ErrorPatchApplyFailed,
				"补丁应用失败，本次审批未生效", err.Error())
			return
		}
		if apperrors.IsConflictError(err) {
			h.Response.Error(c, http.StatusConflict, ErrorPatchSetResolved,
				"存在已被处理的补丁集", err.Error())
			return
		}
		h.Response.FromError(c, err)
		return
	}

	// 推送审批结果给关注该项目的 WebSocket 客户端
	h.BroadcastToProject(req.ProjectID, map[string]interface{}{
		"type":               "patch_sets_approved",
		"project_id":         req.ProjectID,
		"approved_documents": result.ApprovedDocuments,
		"timestamp":          time.Now().Format(time.RFC3339),
	})

	h.Response.Success(c, result, "补丁集已批准")
}

// RejectPatchSets 拒绝选中的补丁集，原文档不受影响
func (h *Handler) RejectPatchSets(c *gin.Context) {
	var req PatchDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求参数错误", err.Error())
		return
	}
	if len(req.SelectedPatchIDs) == 0 {
		h.Response.BadRequest(c, "至少选择一个补丁集")
		return
	}

	if err := h.PatchService.Reject(req.ProjectID, req.SelectedPatchIDs, req.RejectionReason); err != nil {
		if apperrors.IsConflictError(err) {
			h.Response.Error(c, http.StatusConflict, ErrorPatchSetResolved,
				"存在已被处理的补丁集", err.Error())
			return
		}
		h.Response.FromError(c, err)
		return
	}

	h.BroadcastToProject(req.ProjectID, map[string]interface{}{
		"type":       "patch_sets_rejected",
		"project_id": req.ProjectID,
		"patch_ids":  req.SelectedPatchIDs,
		"reason":     req.RejectionReason,
		"timestamp":  time.Now().Format(time.RFC3339),
	})

	h.Response.Success(c, gin.H{
		"rejected": len(req.SelectedPatchIDs),
	}, "补丁集已拒绝")
}

// ========================================
// 设置与LLM处理器
// ========================================

// GetSettings 获取当前配置（密钥打码）
func (h *Handler) GetSettings(c *gin.Context) {
	cfg := h.ConfigService.GetCurrentConfig()
	if cfg == nil {
		h.Response.Error(c, http.StatusInternalServerError, ErrorConfigNotLoaded,
			"配置未加载", "配置系统尚未初始化")
		return
	}

	llmConfig := make(map[string]string, len(cfg.LLMConfig))
	for k, v := range cfg.LLMConfig {
		if k == "api_key" {
			llmConfig[k] = maskSecret(v)
			continue
		}
		llmConfig[k] = v
	}

	h.Response.Success(c, gin.H{
		"port":               cfg.Port,
		"debug_mode":         cfg.DebugMode,
		"llm_provider":       cfg.LLMProvider,
		"llm_config":         llmConfig,
		"parse_debounce_ms":  cfg.ParseDebounceMS,
		"quiet_period_ms":    cfg.QuietPeriodMS,
		"poll_interval_ms":   cfg.PollIntervalMS,
		"autosave_window_ms": cfg.AutosaveWindowMS,
	})
}

// maskSecret 打码敏感配置值
func maskSecret(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 8 {
		return "****"
	}
	return value[:4] + "****" + value[len(value)-4:]
}

// UpdateLLMSettings 更新AI提供者配置
func (h *Handler) UpdateLLMSettings(c *gin.Context) {
	var req struct {
		Provider string            `json:"provider" binding:"required"`
		Config   map[string]string `json:"config" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求参数错误", err.Error())
		return
	}

	if err := h.ConfigService.UpdateLLMConfig(req.Provider, req.Config, c.ClientIP()); err != nil {
		h.Response.Error(c, http.StatusBadRequest, ErrorLLMConfigInvalid,
			"更新LLM配置失败", err.Error())
		return
	}

	h.Response.Success(c, gin.H{
		"provider": req.Provider,
	}, "LLM配置已更新")
}

// UpdateStreamSettings 更新流式解析节拍
//
// 传 0 表示保持当前值不变。
func (h *Handler) UpdateStreamSettings(c *gin.Context) {
	var req struct {
		ParseDebounceMS  int `json:"parse_debounce_ms"`
		QuietPeriodMS    int `json:"quiet_period_ms"`
		PollIntervalMS   int `json:"poll_interval_ms"`
		AutosaveWindowMS int `json:"autosave_window_ms"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求参数错误", err.Error())
		return
	}

	err := h.ConfigService.UpdateStreamTuning(
		req.ParseDebounceMS, req.QuietPeriodMS, req.PollIntervalMS, req.AutosaveWindowMS, c.ClientIP())
	if err != nil {
		h.Response.InternalError(c, "更新流式调参失败", err.Error())
		return
	}

	cfg := h.ConfigService.GetCurrentConfig()
	h.Response.Success(c, gin.H{
		"parse_debounce_ms":  cfg.ParseDebounceMS,
		"quiet_period_ms":    cfg.QuietPeriodMS,
		"poll_interval_ms":   cfg.PollIntervalMS,
		"autosave_window_ms": cfg.AutosaveWindowMS,
	}, "流式调参已更新")
}

// TestLLMConnection 校验API密钥形态
func (h *Handler) TestLLMConnection(c *gin.Context) {
	var req struct {
		Provider string `json:"provider" binding:"required"`
		APIKey   string `json:"api_key"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求参数错误", err.Error())
		return
	}

	valid, message := h.ConfigService.ValidateAPIKey(req.Provider, req.APIKey)
	h.Response.Success(c, gin.H{
		"valid":   valid,
		"message": message,
	})
}

// GetSettingsHistory 获取配置变更历史
func (h *Handler) GetSettingsHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit < 1 || limit > 200 {
		limit = 20
	}

	h.Response.Success(c, h.ConfigService.GetChangeHistory(limit))
}

// GetLLMStatus 获取LLM服务状态
func (h *Handler) GetLLMStatus(c *gin.Context) {
	ready, message := h.LLMService.GetProviderStatus()

	c.JSON(http.StatusOK, gin.H{
		"ready":              ready,
		"message":            message,
		"provider":           h.LLMService.GetProviderName(),
		"default_model":      h.LLMService.GetDefaultModel(),
		"active_generations": h.GenerationService.ActiveCount(),
	})
}

// GetLLMModels 获取可用模型列表
//
// ?refresh=true 时向提供者实时拉取，否则返回静态列表。
func (h *Handler) GetLLMModels(c *gin.Context) {
	if c.Query("refresh") == "true" {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
		defer cancel()

		modelList, err := h.LLMService.FetchAvailableModels(ctx)
		if err != nil {
			h.Response.Error(c, http.StatusBadGateway, ErrorConnectionFailed,
				"拉取模型列表失败", err.Error())
			return
		}
		h.Response.Success(c, gin.H{"models": modelList, "source": "remote"})
		return
	}

	h.Response.Success(c, gin.H{
		"models": h.LLMService.GetSupportedModels(),
		"source": "static",
	})
}

// ========================================
// 统计与健康检查处理器
// ========================================

// GetStats 获取使用统计与运行指标
func (h *Handler) GetStats(c *gin.Context) {
	h.Response.Success(c, gin.H{
		"usage":   h.StatsService.GetUsageStats(),
		"metrics": utils.GetMetricsCollector().GetMetrics(),
	})
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	llmReady, llmMessage := h.LLMService.GetProviderStatus()

	status := "ok"
	if !llmReady {
		status = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":             status,
		"llm_ready":          llmReady,
		"llm_message":        llmMessage,
		"active_generations": h.GenerationService.ActiveCount(),
		"timestamp":          time.Now().Format(time.RFC3339),
	})
}
