// internal/api/router.go
package api

import (
	"fmt"
	"net/http"

	"github.com/scriptloom/scriptloom/internal/config"
	"github.com/scriptloom/scriptloom/internal/di"
	"github.com/scriptloom/scriptloom/internal/services"
	"github.com/scriptloom/scriptloom/internal/utils"
	"github.com/gin-gonic/gin"
)

// SetupRouter 配置HTTP路由
func SetupRouter() (*gin.Engine, error) {
	// 获取配置
	cfg := config.GetCurrentConfig()

	// 获取依赖注入容器
	container := di.GetContainer()

	// ✅ 只从容器获取服务，不再创建新实例
	projectService, ok := container.Get("project").(*services.ProjectService)
	if !ok {
		return nil, fmt.Errorf("项目服务未正确初始化")
	}

	documentService, ok := container.Get("document").(*services.DocumentService)
	if !ok {
		return nil, fmt.Errorf("文档服务未正确初始化")
	}

	transformService, ok := container.Get("transform").(*services.TransformService)
	if !ok {
		return nil, fmt.Errorf("变换服务未正确初始化")
	}

	patchService, ok := container.Get("patch").(*services.PatchService)
	if !ok {
		return nil, fmt.Errorf("补丁服务未正确初始化")
	}

	generationService, ok := container.Get("generation").(*services.GenerationService)
	if !ok {
		return nil, fmt.Errorf("生成服务未正确初始化")
	}

	configService, ok := container.Get("config").(*services.ConfigService)
	if !ok {
		return nil, fmt.Errorf("配置服务未正确初始化")
	}

	llmService, ok := container.Get("llm").(*services.LLMService)
	if !ok {
		return nil, fmt.Errorf("LLM服务未正确初始化")
	}

	statsService, ok := container.Get("stats").(*services.StatsService)
	if !ok {
		return nil, fmt.Errorf("统计服务未正确初始化")
	}

	// ✅ 创建API处理器 - 只传递从容器获取的服务
	handler := NewHandler(
		projectService,
		documentService,
		transformService,
		patchService,
		generationService,
		configService,
		llmService,
		statsService,
	)

	// 创建路由
	r := gin.Default()

	// 启用CORS
	r.Use(corsMiddleware())

	// 请求ID与指标采集
	r.Use(RequestIDMiddleware())
	if metrics, ok := container.Get("metrics").(*utils.PipelineMetrics); ok {
		r.Use(MetricsMiddleware(metrics))
	}

	// HTTPS重定向（生产环境）
	if !cfg.DebugMode {
		r.Use(func(c *gin.Context) {
			if c.Request.Header.Get("X-Forwarded-Proto") != "https" {
				c.Redirect(http.StatusPermanentRedirect,
					"https://"+c.Request.Host+c.Request.URL.Path)
				return
			}
			c.Next()
		})
	}

	// ===============================
	// 健康检查与 WebSocket
	// ===============================
	r.GET("/health", handler.HealthCheck)
	r.GET("/ws/projects/:id", handler.ProjectWebSocket)

	// ===============================
	// API路由组
	// ===============================
	api := r.Group("/api")
	api.Use(DefaultRateLimit())
	{
		// ===============================
		// 设置相关路由
		// ===============================
		settingsGroup := api.Group("/settings")
		{
			settingsGroup.GET("", handler.GetSettings)
			settingsGroup.PUT("/llm", handler.UpdateLLMSettings)
			settingsGroup.PUT("/stream", handler.UpdateStreamSettings)
			settingsGroup.POST("/test-connection", handler.TestLLMConnection)
			settingsGroup.GET("/history", handler.GetSettingsHistory)
		}

		// ===============================
		// LLM状态相关路由
		// ===============================
		llmGroup := api.Group("/llm")
		{
			llmGroup.GET("/status", handler.GetLLMStatus)
			llmGroup.GET("/models", handler.GetLLMModels)
		}

		// ===============================
		// 项目相关路由
		// ===============================
		projectsGroup := api.Group("/projects")
		{
			projectsGroup.GET("", handler.ListProjects)
			projectsGroup.POST("", handler.CreateProject)
			projectsGroup.GET("/:id", handler.GetProject)
			projectsGroup.DELETE("/:id", handler.DeleteProject)

			projectsGroup.GET("/:id/documents", handler.ListProjectDocuments)
			projectsGroup.GET("/:id/transforms", handler.ListProjectTransforms)
			projectsGroup.GET("/:id/patches/pending", handler.GetPendingPatchSets)
			projectsGroup.GET("/:id/export", handler.ExportProject)

			// 生成端点单独限流，每次调用都会打开一条LLM流
			projectsGroup.POST("/:id/generations", GenerationRateLimit(), handler.StartGeneration)
		}

		// ===============================
		// 文档相关路由
		// ===============================
		documentsGroup := api.Group("/documents")
		{
			documentsGroup.GET("/:id", handler.GetDocument)
			documentsGroup.PUT("/:id", handler.UpdateDocument)
			documentsGroup.PATCH("/:id", handler.PatchDocumentFields)
		}

		// ===============================
		// 变换与生成流相关路由
		// ===============================
		transformsGroup := api.Group("/transforms")
		{
			transformsGroup.GET("/:id", handler.GetTransform)
			transformsGroup.GET("/:id/results", handler.GetTransformResults)
			transformsGroup.GET("/:id/stream", handler.StreamTransform)
			transformsGroup.POST("/:id/cancel", handler.CancelGeneration)
		}

		// ===============================
		// 补丁审批相关路由
		// ===============================
		patchesGroup := api.Group("/patches")
		{
			patchesGroup.GET("/:id", handler.GetPatchSet)
			patchesGroup.GET("/:id/preview", handler.PreviewPatchSet)
			patchesGroup.PUT("/:id", handler.EditPatchSet)
			patchesGroup.POST("/approve", handler.ApprovePatchSets)
			patchesGroup.POST("/reject", handler.RejectPatchSets)
		}

		// ===============================
		// 统计
		// ===============================
		api.GET("/stats", handler.GetStats)

		// WebSocket 管理路由
		wsGroup := api.Group("/ws")
		{
			wsGroup.GET("/status", handler.GetWebSocketStatus)
			wsGroup.POST("/cleanup", handler.CleanupWebSocketConnections)
		}
	}

	return r, nil
}

// corsMiddleware 实现跨域资源共享
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, PATCH, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
