// internal/app/app.go
package app

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/scriptloom/scriptloom/internal/config"
	"github.com/scriptloom/scriptloom/internal/di"
	"github.com/scriptloom/scriptloom/internal/lineage"
	"github.com/scriptloom/scriptloom/internal/services"
	"github.com/scriptloom/scriptloom/internal/storage"
	"github.com/scriptloom/scriptloom/internal/utils"
)

// App 持有初始化后的核心服务句柄，便于关停时按序清理
type App struct {
	Store      *storage.FileStore
	Locks      *services.LockManager
	Documents  *services.DocumentService
	Generation *services.GenerationService
	Stats      *services.StatsService
}

var (
	instance *App
	initOnce sync.Once
)

// GetApp 返回已初始化的应用实例，未初始化时为nil
func GetApp() *App {
	return instance
}

// InitServices 按依赖顺序初始化所有服务并注册到DI容器。
// 必须在 config.InitConfig 之后调用
func InitServices() error {
	var initErr error

	initOnce.Do(func() {
		cfg := config.GetCurrentConfig()
		if cfg == nil {
			initErr = fmt.Errorf("配置系统未初始化，请先调用 config.InitConfig")
			return
		}

		container := di.GetContainer()
		logger := utils.GetLogger()

		// 1. 基础设施：指标、文件存储、实体锁
		metrics := utils.NewPipelineMetrics()
		container.Register("metrics", metrics)

		store, err := storage.NewFileStore(cfg.DataDir)
		if err != nil {
			initErr = fmt.Errorf("初始化文件存储失败: %w", err)
			return
		}
		container.Register("store", store)

		locks := services.NewLockManager()
		container.Register("locks", locks)

		// 2. 配置服务与LLM服务（LLM订阅配置变更，热切换提供商）
		configService := services.NewConfigService()
		container.Register("config", configService)

		llmService := services.NewLLMService()
		configService.SubscribeToChanges(llmService)
		container.Register("llm", llmService)

		// 3. 领域服务：项目 → 文档 → 谱系 → 变换 → 补丁
		projectService := services.NewProjectService(store, locks)
		container.Register("project", projectService)

		autosaveWindow := time.Duration(cfg.AutosaveWindowMS) * time.Millisecond
		documentService := services.NewDocumentService(store, locks, autosaveWindow)
		container.Register("document", documentService)

		graph := lineage.NewGraph()
		container.Register("lineage", graph)

		transformService := services.NewTransformService(store, graph, locks)
		container.Register("transform", transformService)

		patchService := services.NewPatchService(store, locks, documentService, transformService, metrics)
		container.Register("patch", patchService)

		// 4. 统计与生成管线
		statsService := services.NewStatsService(filepath.Join(cfg.DataDir, "stats"))
		container.Register("stats", statsService)

		generationService := services.NewGenerationService(
			configService, llmService,
			projectService, documentService,
			transformService, patchService,
			statsService, metrics)
		container.Register("generation", generationService)

		// 5. 导出服务
		exportService := services.NewExportService(projectService, documentService)
		container.Register("export", exportService)

		instance = &App{
			Store:      store,
			Locks:      locks,
			Documents:  documentService,
			Generation: generationService,
			Stats:      statsService,
		}

		logger.Infof("服务初始化完成: %d 个服务已注册", len(container.GetNames()))
	})

	return initErr
}

// Shutdown 停掉活动生成流，冲刷挂起的自动保存并持久化统计数据
func (a *App) Shutdown() {
	if a == nil {
		return
	}

	logger := utils.GetLogger()

	if a.Generation != nil {
		a.Generation.Shutdown()
	}
	if a.Documents != nil {
		a.Documents.FlushAll()
	}
	if a.Stats != nil {
		if err := a.Stats.Close(); err != nil {
			logger.Warnf("统计数据落盘失败: %v", err)
		}
	}
	if a.Locks != nil {
		a.Locks.Stop()
	}

	logger.Info("应用已关停", nil)
}
