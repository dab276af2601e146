// cmd/demo/main.go
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/scriptloom/scriptloom/internal/app"
	"github.com/scriptloom/scriptloom/internal/config"
	"github.com/scriptloom/scriptloom/internal/di"
	"github.com/scriptloom/scriptloom/internal/lineage"
	"github.com/scriptloom/scriptloom/internal/models"
	"github.com/scriptloom/scriptloom/internal/services"
	"github.com/scriptloom/scriptloom/internal/streaming"
	"github.com/scriptloom/scriptloom/internal/utils"
)

func main() {
	fmt.Println("🚀 ScriptLoom Console App")
	fmt.Println("=================================")

	// 选择语言
	selectLanguage()

	// 初始化配置
	baseConfig, err := config.Load()
	if err != nil {
		log.Printf("❌ 加载基础配置失败: %v", err)
		return
	}

	// 初始化日志系统
	logFile := fmt.Sprintf("logs/console_%s.log", time.Now().Format("2006-01-02"))
	if err := utils.InitLogger(logFile); err != nil {
		log.Printf("⚠️ 无法初始化结构化日志: %v", err)
		log.Println("继续运行...")
	} else {
		utils.GetLogger().Info("Console app starting", nil)
	}

	// 初始化环境
	if !initializeEnvironment(baseConfig) {
		return
	}
	defer app.GetApp().Shutdown()

	for {
		showMenu()
		choice := getUserInput(T("input_prompt"))

		switch choice {
		case "1", "llm", "ai":
			configureLLM()
		case "2", "projects":
			manageProjects()
		case "3", "generate":
			runGeneration()
		case "4", "stream":
			streamWalkthrough()
		case "5", "patches":
			reviewPatches()
		case "6", "export":
			exportProject()
		case "7", "config":
			viewConfig()
		case "8", "status", "stat":
			displayStatus()
		case "0", "quit", "exit":
			fmt.Println(T("goodbye"))
			return
		default:
			fmt.Println(T("invalid_choice"))
		}
		fmt.Println()
	}
}

// 显示菜单
func showMenu() {
	printBox("", fmt.Sprintf("%s\n  %s\n  %s\n  %s\n  %s\n  %s\n  %s\n  %s\n  %s\n  %s",
		T("menu_title"),
		T("menu_llm"),
		T("menu_projects"),
		T("menu_generate"),
		T("menu_stream"),
		T("menu_patches"),
		T("menu_export"),
		T("menu_config"),
		T("menu_status"),
		T("menu_exit")))
}

// 获取用户输入
func getUserInput(prompt string) string {
	fmt.Print(prompt)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Scan()
	return strings.TrimSpace(scanner.Text())
}

// 获取用户输入 (带默认值)
func getUserInputWithDefault(prompt, defaultValue string) string {
	if defaultValue != "" {
		fmt.Printf("%s [%s: %s]: ", prompt, T("default"), defaultValue)
	} else {
		fmt.Printf("%s: ", prompt)
	}
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Scan()
	input := strings.TrimSpace(scanner.Text())
	if input == "" {
		return defaultValue
	}
	return input
}

// 初始化项目环境
func initializeEnvironment(cfg *config.Config) bool {
	fmt.Println("🔧 正在初始化项目环境...")

	dirs := []string{
		cfg.DataDir,
		cfg.LogDir,
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Printf("❌ 创建目录失败 %s: %v", dir, err)
			fmt.Printf("❌ 创建目录失败: %s\n", dir)
			return false
		}
	}

	if err := config.InitConfig(cfg.DataDir); err != nil {
		log.Printf("❌ 初始化配置系统失败: %v", err)
		fmt.Printf("❌ 初始化配置系统失败: %v\n", err)
		return false
	}

	if err := app.InitServices(); err != nil {
		log.Printf("❌ 初始化服务失败: %v", err)
		fmt.Printf("❌ 初始化服务失败: %v\n", err)
		return false
	}

	fmt.Println("✅ 项目环境初始化成功！")
	utils.GetLogger().Info("Environment initialized successfully", map[string]interface{}{
		"datadir": cfg.DataDir,
	})
	return true
}

// 1. 配置LLM
func configureLLM() {
	fmt.Println("🤖 " + T("llm_title"))
	container := di.GetContainer()
	llmService := container.Get("llm").(*services.LLMService)
	configService := container.Get("config").(*services.ConfigService)

	ready, detail := llmService.GetProviderStatus()
	if ready {
		fmt.Printf("✅ %s: %s (%s)\n", T("llm_status_ready"), llmService.GetProviderName(), detail)
	} else {
		fmt.Printf("⚠️ %s: %s\n", T("llm_status_not_ready"), detail)
	}

	provider := getUserInputWithDefault(T("llm_provider_prompt"), configService.GetLLMProvider())
	if provider == "" {
		fmt.Println(T("cancelled"))
		return
	}
	apiKey := getUserInput(T("llm_key_prompt"))
	model := getUserInput(T("llm_model_prompt"))

	cfgMap := map[string]string{}
	if apiKey != "" {
		cfgMap["api_key"] = apiKey
	}
	if model != "" {
		cfgMap["default_model"] = model
	}

	if err := configService.UpdateLLMConfig(provider, cfgMap, "console_user"); err != nil {
		fmt.Printf("❌ %s: %v\n", T("llm_update_failed"), err)
		return
	}
	fmt.Println("✅ " + T("llm_updated"))

	if len(llmService.GetSupportedModels()) > 0 {
		fmt.Printf("%s: %s\n", T("llm_models"), strings.Join(llmService.GetSupportedModels(), ", "))
	}
}

// 2. 管理项目
func manageProjects() {
	fmt.Println("🎬 " + T("projects_title"))
	container := di.GetContainer()
	projectService := container.Get("project").(*services.ProjectService)
	documentService := container.Get("document").(*services.DocumentService)

	projects, err := projectService.ListProjects()
	if err != nil {
		fmt.Printf("❌ %s: %v\n", T("projects_list_failed"), err)
		return
	}

	fmt.Printf("\n%s\n", T("projects_count", len(projects)))
	for i, p := range projects {
		fmt.Printf("  %d) %s [%s] (%s)\n", i+1, p.Title, p.Genre, p.ID)
	}
	if len(projects) == 0 {
		fmt.Println("  " + T("projects_none"))
	}

	fmt.Println("\n" + T("projects_ops"))
	choice := getUserInput(T("op_prompt"))

	switch strings.ToLower(choice) {
	case "c":
		title := getUserInput(T("project_title_prompt"))
		if title == "" {
			fmt.Println(T("cancelled"))
			return
		}
		genre := getUserInput(T("project_genre_prompt"))
		platform := getUserInput(T("project_platform_prompt"))
		requirements := getUserInput(T("project_req_prompt"))

		project, err := projectService.CreateProject(title, genre, platform, requirements)
		if err != nil {
			fmt.Printf("❌ %s: %v\n", T("project_create_failed"), err)
			return
		}
		fmt.Printf("✅ %s ID: %s\n", T("project_created"), project.ID)

	case "v":
		project := pickProject(projects)
		if project == nil {
			return
		}
		docs, err := documentService.ListDocuments(project.ID)
		if err != nil {
			fmt.Printf("❌ %s: %v\n", T("documents_list_failed"), err)
			return
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "%s: %s\n%s: %s / %s\n%s: %s", T("project_title_label"), project.Title,
			T("project_genre_label"), orDash(project.Genre), orDash(project.Platform),
			T("project_req_label"), orDash(project.Requirements))
		printBox(T("project_detail_title"), sb.String())

		fmt.Printf("\n%s\n", T("documents_count", len(docs)))
		for _, d := range docs {
			fmt.Printf("  - %s v%d (%s) %s\n", d.Kind, d.Version, d.ID, d.LastUpdated.Format("01-02 15:04"))
		}

	case "d":
		project := pickProject(projects)
		if project == nil {
			return
		}
		confirm := getUserInput(T("project_delete_confirm", project.Title))
		if strings.ToLower(confirm) != "y" {
			fmt.Println(T("cancelled"))
			return
		}
		if err := projectService.DeleteProject(project.ID); err != nil {
			fmt.Printf("❌ %s: %v\n", T("project_delete_failed"), err)
			return
		}
		fmt.Println("✅ " + T("project_deleted"))

	case "b", "":
		return
	default:
		fmt.Println(T("invalid_choice"))
	}
}

// 3. AI生成（需要已配置LLM）
func runGeneration() {
	fmt.Println("⚡ " + T("generate_title"))
	container := di.GetContainer()
	llmService := container.Get("llm").(*services.LLMService)
	generationService := container.Get("generation").(*services.GenerationService)

	if !llmService.IsReady() {
		fmt.Println("⚠️ " + T("generate_llm_not_ready"))
		return
	}

	project := pickProjectFromService()
	if project == nil {
		return
	}

	fmt.Println(T("generate_stages"))
	stage := getUserInputWithDefault(T("generate_stage_prompt"), services.StageIdeas)
	instructions := getUserInput(T("generate_instructions_prompt"))
	asPatch := strings.ToLower(getUserInputWithDefault(T("generate_as_patch_prompt"), "n")) == "y"

	req := services.GenerationRequest{
		ProjectID:    project.ID,
		Stage:        stage,
		Instructions: instructions,
		AsPatch:      asPatch,
	}
	if stage == services.StageScript {
		if n, err := strconv.Atoi(getUserInputWithDefault(T("generate_episode_prompt"), "1")); err == nil {
			req.EpisodeNumber = n
		}
	}

	stream, err := generationService.StartGeneration(req)
	if err != nil {
		fmt.Printf("❌ %s: %v\n", T("generate_failed"), err)
		return
	}
	fmt.Printf("✅ %s transform=%s\n", T("generate_started"), stream.TransformID)

	// 挂到流上，实时打印增量
	replay, events, cancel := stream.Attach()
	defer cancel()
	fmt.Print(replay)

	for ev := range events {
		switch {
		case ev.Err != nil:
			fmt.Printf("\n❌ %s: %v\n", T("generate_stream_error"), ev.Err)
			return
		case ev.End:
			fmt.Println("\n✅ " + T("generate_stream_done"))
		default:
			fmt.Print(ev.Delta)
		}
	}

	results := stream.Results()
	fmt.Printf("%s: %d (status=%s)\n", T("generate_items"), len(results), stream.Status())
}

// 4. 离线流演示：把一段剧集清单按token增量喂给解析会话，
// 观察三级解析在不完整JSON上的快照演进。不需要AI
func streamWalkthrough() {
	fmt.Println("🎞️  " + T("stream_title"))

	session := streaming.NewSession[models.EpisodeSynopsis](streaming.EpisodeStrategy{}, streaming.Options{
		Debounce:    20 * time.Millisecond,
		QuietPeriod: 5 * time.Second,
	})
	defer session.Stop()

	snapshots, cancel := session.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for snap := range snapshots {
			fmt.Printf("  [%s] tier=%d items=%d\n", snap.Status, snap.Tier, len(snap.Items))
			for _, ep := range snap.Items {
				fmt.Printf("    #%d %s (%s: %d)\n", ep.EpisodeNumber, ep.Title, T("stream_key_events"), len(ep.KeyEvents))
			}
			if snap.Status == streaming.StatusCompleted || snap.Status == streaming.StatusError {
				return
			}
		}
	}()

	// 模拟的token增量：中途每个前缀都是残缺JSON
	deltas := []string{
		"```json\n[{\"episodeNumber\": 1, \"ti",
		"tle\": \"初入迷局\", \"synopsis\": \"女主在旧书店发现",
		"一封未寄出的信\", \"keyEvents\": [\"发现信件\", \"初遇男主\"], \"hook\": \"信上是她的名字\"},",
		" {\"episodeNumber\": 2, \"title\": \"暗流\", \"keyEve",
		"nts\": [\"跟踪\", \"对峙\"], \"synopsis\": \"有人不想让信被读完\"}]\n```",
	}

	fmt.Println(T("stream_feeding"))
	for _, delta := range deltas {
		session.Feed(delta)
		time.Sleep(120 * time.Millisecond)
	}
	session.End()
	<-done

	final := session.Snapshot()
	fmt.Printf("✅ %s: status=%s items=%d tier=%d\n", T("stream_final"), final.Status, len(final.Items), final.Tier)
}

// 5. 补丁审批
func reviewPatches() {
	fmt.Println("📝 " + T("patches_title"))
	container := di.GetContainer()
	patchService := container.Get("patch").(*services.PatchService)
	transformService := container.Get("transform").(*services.TransformService)

	project := pickProjectFromService()
	if project == nil {
		return
	}

	// 用轮询观察器取一次当前待审状态（与WebSocket实时订阅同一接口）
	watcher := lineage.NewPollWatcher(transformService.Graph(), time.Second)
	ctx, stop := context.WithTimeout(context.Background(), 3*time.Second)
	updates, cancelWatch := watcher.Watch(ctx, project.ID)
	var pendingIDs []string
	select {
	case update := <-updates:
		pendingIDs = update.PendingPatchSetIDs
	case <-ctx.Done():
	}
	cancelWatch()
	stop()

	fmt.Printf("%s\n", T("patches_pending_count", len(pendingIDs)))
	sets, err := patchService.PendingPatchSets(project.ID)
	if err != nil {
		fmt.Printf("❌ %s: %v\n", T("patches_list_failed"), err)
		return
	}
	for i, set := range sets {
		fmt.Printf("  %d) %s (%s: %d, base=%s)\n", i+1, set.ID, T("patches_op_count"), len(set.Patches), set.BaseDocumentID)
	}
	if len(sets) == 0 {
		fmt.Println("  " + T("patches_none"))
		return
	}

	fmt.Println("\n" + T("patches_ops"))
	choice := getUserInput(T("op_prompt"))

	switch strings.ToLower(choice) {
	case "p":
		set := pickPatchSet(sets)
		if set == nil {
			return
		}
		preview, err := patchService.Preview(set.ID)
		if err != nil {
			fmt.Printf("❌ %s: %v\n", T("patches_preview_failed"), err)
			return
		}
		if preview.Error != "" {
			// 套用失败时退回展示原文档，不让审批界面挂掉
			fmt.Printf("⚠️ %s: %s\n", T("patches_apply_degraded"), preview.Error)
		}
		printBox(T("patches_before"), truncateForBox(string(preview.Before)))
		if len(preview.After) > 0 {
			printBox(T("patches_after"), truncateForBox(string(preview.After)))
		}
		for _, op := range preview.Patches {
			fmt.Printf("  %s %s\n", op.Op, op.Path)
		}

	case "e":
		set := pickPatchSet(sets)
		if set == nil {
			return
		}
		path := getUserInput(T("patches_edit_path_prompt"))
		if path == "" {
			fmt.Println(T("cancelled"))
			return
		}
		valueText := getUserInput(T("patches_edit_value_prompt"))
		var value interface{}
		if err := json.Unmarshal([]byte(valueText), &value); err != nil {
			value = valueText // 非JSON输入按字符串处理
		}
		edited, err := patchService.HumanEdit(set.ID, map[string]interface{}{path: value})
		if err != nil {
			fmt.Printf("❌ %s: %v\n", T("patches_edit_failed"), err)
			return
		}
		fmt.Printf("✅ %s: %s (%s: %d)\n", T("patches_edited"), edited.ID, T("patches_op_count"), len(edited.Patches))

	case "a":
		set := pickPatchSet(sets)
		if set == nil {
			return
		}
		result, err := patchService.Approve(project.ID, []string{set.ID})
		if err != nil {
			fmt.Printf("❌ %s: %v\n", T("patches_approve_failed"), err)
			return
		}
		for patchSetID, docID := range result.ApprovedDocuments {
			fmt.Printf("✅ %s: %s → %s\n", T("patches_approved"), patchSetID, docID)
		}

	case "r":
		set := pickPatchSet(sets)
		if set == nil {
			return
		}
		reason := getUserInput(T("patches_reject_reason_prompt"))
		if err := patchService.Reject(project.ID, []string{set.ID}, reason); err != nil {
			fmt.Printf("❌ %s: %v\n", T("patches_reject_failed"), err)
			return
		}
		fmt.Println("✅ " + T("patches_rejected"))

	case "b", "":
		return
	default:
		fmt.Println(T("invalid_choice"))
	}
}

// 6. 导出项目
func exportProject() {
	fmt.Println("📦 " + T("export_title"))
	container := di.GetContainer()
	exportService := container.Get("export").(*services.ExportService)

	project := pickProjectFromService()
	if project == nil {
		return
	}

	format := getUserInputWithDefault(T("export_format_prompt"), "markdown")
	result, err := exportService.ExportProject(project.ID, format)
	if err != nil {
		fmt.Printf("❌ %s: %v\n", T("export_failed"), err)
		return
	}

	fmt.Printf("✅ %s: %s (%d bytes)\n", T("export_done"), result.FilePath, result.FileSize)
	if result.Stats != nil {
		fmt.Printf("  %s: ideas=%d stages=%d episodes=%d scenes=%d\n", T("export_stats"),
			result.Stats.IdeaCount, result.Stats.StageCount, result.Stats.EpisodeCount, result.Stats.SceneCount)
	}
}

// 7. 查看配置
func viewConfig() {
	fmt.Println("⚙️  " + T("config_title"))
	cfg := config.GetCurrentConfig()
	if cfg == nil {
		fmt.Println("❌ " + T("config_missing"))
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Port: %s\nDataDir: %s\nDebug: %v\n", cfg.Port, cfg.DataDir, cfg.DebugMode)
	fmt.Fprintf(&sb, "LLM Provider: %s\n", orDash(cfg.LLMProvider))
	fmt.Fprintf(&sb, "Parse Debounce: %dms\nQuiet Period: %dms\nPoll Interval: %dms\nAutosave Window: %dms",
		cfg.ParseDebounceMS, cfg.QuietPeriodMS, cfg.PollIntervalMS, cfg.AutosaveWindowMS)
	printBox(T("config_box_title"), sb.String())
}

// 8. 服务状态与用量统计
func displayStatus() {
	fmt.Println("📊 " + T("status_title"))
	container := di.GetContainer()

	names := container.GetNames()
	fmt.Printf("%s: %d\n", T("status_services"), len(names))
	for _, name := range names {
		fmt.Printf("  - %s\n", name)
	}

	if statsService, ok := container.Get("stats").(*services.StatsService); ok {
		stats := statsService.GetUsageStats()
		var sb strings.Builder
		fmt.Fprintf(&sb, "%s: %d\n%s: %d", T("status_today"), stats.TodayRequests, T("status_tokens"), stats.MonthlyTokens)
		for stage, count := range stats.StageRequests {
			fmt.Fprintf(&sb, "\n  %s: %d", stage, count)
		}
		printBox(T("status_usage_title"), sb.String())
	}

	if generationService, ok := container.Get("generation").(*services.GenerationService); ok {
		fmt.Printf("%s: %d\n", T("status_active_streams"), generationService.ActiveCount())
	}
}

// ---------------------------------------------------------
// 选择辅助

func pickProjectFromService() *models.Project {
	container := di.GetContainer()
	projectService := container.Get("project").(*services.ProjectService)
	projects, err := projectService.ListProjects()
	if err != nil || len(projects) == 0 {
		fmt.Println("⚠️ " + T("projects_none"))
		return nil
	}
	for i, p := range projects {
		fmt.Printf("  %d) %s (%s)\n", i+1, p.Title, p.ID)
	}
	return pickProject(projects)
}

func pickProject(projects []*models.Project) *models.Project {
	if len(projects) == 0 {
		fmt.Println("⚠️ " + T("projects_none"))
		return nil
	}
	idx, err := strconv.Atoi(getUserInput(T("pick_prompt")))
	if err != nil || idx < 1 || idx > len(projects) {
		fmt.Println(T("invalid_choice"))
		return nil
	}
	return projects[idx-1]
}

func pickPatchSet(sets []*models.PatchSet) *models.PatchSet {
	idx, err := strconv.Atoi(getUserInput(T("pick_prompt")))
	if err != nil || idx < 1 || idx > len(sets) {
		fmt.Println(T("invalid_choice"))
		return nil
	}
	return sets[idx-1]
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncateForBox(s string) string {
	const limit = 600
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + " …"
}

// ---------------------------------------------------------
// 多语言支持

var currentLanguage = "zh"

var translations = map[string]map[string]string{
	"zh": {
		"input_prompt":   "请选择: ",
		"op_prompt":      "请选择操作: ",
		"pick_prompt":    "请输入编号: ",
		"default":        "默认",
		"cancelled":      "已取消",
		"invalid_choice": "无效的选择，请重试",
		"goodbye":        "👋 再见！",

		"menu_title":    "主菜单",
		"menu_llm":      "1) 配置AI服务 (LLM)",
		"menu_projects": "2) 管理项目",
		"menu_generate": "3) AI生成 (创意/大纲/分集/剧本) ⚡需要AI",
		"menu_stream":   "4) 流式解析演示 (离线)",
		"menu_patches":  "5) 补丁审批",
		"menu_export":   "6) 导出项目",
		"menu_config":   "7) 查看配置",
		"menu_status":   "8) 服务状态与用量",
		"menu_exit":     "0) 退出",

		"llm_title":            "配置AI服务",
		"llm_status_ready":     "AI服务就绪",
		"llm_status_not_ready": "AI服务未就绪",
		"llm_provider_prompt":  "提供商 (openrouter/aigateway)",
		"llm_key_prompt":       "API密钥 (留空不变): ",
		"llm_model_prompt":     "默认模型 (留空不变): ",
		"llm_update_failed":    "更新LLM配置失败",
		"llm_updated":          "LLM配置已更新",
		"llm_models":           "可用模型",

		"projects_title":         "管理项目",
		"projects_count":         "当前共有 %d 个项目:",
		"projects_none":          "(暂无项目，请先创建)",
		"projects_list_failed":   "读取项目失败",
		"projects_ops":           "项目操作:\n  c) 创建新项目\n  v) 查看项目详情\n  d) 删除项目\n  b) 返回主菜单",
		"project_title_prompt":   "项目标题: ",
		"project_genre_prompt":   "题材 (如: 悬疑/都市): ",
		"project_platform_prompt": "目标平台 (如: 短剧/网剧): ",
		"project_req_prompt":     "创作要求 (可选): ",
		"project_create_failed":  "创建项目失败",
		"project_created":        "项目创建成功！",
		"project_detail_title":   "项目详情",
		"project_title_label":    "标题",
		"project_genre_label":    "题材/平台",
		"project_req_label":      "要求",
		"project_delete_confirm": "确认删除项目 %q ? (y/N): ",
		"project_delete_failed":  "删除项目失败",
		"project_deleted":        "项目已删除",
		"documents_count":        "文档版本 %d 个:",
		"documents_list_failed":  "读取文档失败",

		"generate_title":               "AI生成",
		"generate_llm_not_ready":       "AI服务未就绪，请先在菜单1配置API密钥",
		"generate_stages":              "创作阶段: ideas(创意) / outline(大纲) / episodes(分集) / script(剧本)",
		"generate_stage_prompt":        "阶段",
		"generate_instructions_prompt": "补充指令 (可选): ",
		"generate_as_patch_prompt":     "以补丁模式修订现有文档? (y/N)",
		"generate_episode_prompt":      "目标集数",
		"generate_failed":              "启动生成失败",
		"generate_started":             "生成已启动:",
		"generate_stream_error":        "流中断",
		"generate_stream_done":         "流已收尾",
		"generate_items":               "解析出的条目",

		"stream_title":      "流式解析演示 (模拟token增量)",
		"stream_feeding":    "开始喂入模拟增量，每个前缀都是残缺JSON...",
		"stream_key_events": "关键事件",
		"stream_final":      "最终快照",

		"patches_title":               "补丁审批",
		"patches_pending_count":       "谱系图报告 %d 个待审补丁集",
		"patches_list_failed":         "读取待审补丁失败",
		"patches_none":                "(暂无待审补丁集)",
		"patches_op_count":            "操作数",
		"patches_ops":                 "补丁操作:\n  p) 预览前后对比\n  e) 手工修正补丁值\n  a) 批准\n  r) 拒绝\n  b) 返回主菜单",
		"patches_preview_failed":      "预览失败",
		"patches_apply_degraded":      "补丁套用失败，退回展示原文档",
		"patches_before":              "修改前",
		"patches_after":               "修改后",
		"patches_edit_path_prompt":    "要修改的JSON指针路径 (如 /0/title): ",
		"patches_edit_value_prompt":   "新值 (JSON或纯文本): ",
		"patches_edit_failed":         "修正补丁失败",
		"patches_edited":              "已生成修正后的补丁集",
		"patches_approve_failed":      "批准失败",
		"patches_approved":            "已批准，新文档版本",
		"patches_reject_reason_prompt": "拒绝原因 (可选): ",
		"patches_reject_failed":       "拒绝失败",
		"patches_rejected":            "补丁集已拒绝",

		"export_title":         "导出项目",
		"export_format_prompt": "格式 (markdown/text/json)",
		"export_failed":        "导出失败",
		"export_done":          "导出完成",
		"export_stats":         "统计",

		"config_title":     "查看配置",
		"config_missing":   "配置系统未初始化",
		"config_box_title": "当前配置",

		"status_title":          "服务状态与用量",
		"status_services":       "已注册服务",
		"status_usage_title":    "AI用量统计",
		"status_today":          "今日请求",
		"status_tokens":         "本月token",
		"status_active_streams": "活动生成流",
	},
	"en": {
		"input_prompt":   "Choice: ",
		"op_prompt":      "Operation: ",
		"pick_prompt":    "Enter number: ",
		"default":        "default",
		"cancelled":      "Cancelled",
		"invalid_choice": "Invalid choice, try again",
		"goodbye":        "👋 Goodbye!",

		"menu_title":    "Main Menu",
		"menu_llm":      "1) Configure AI service (LLM)",
		"menu_projects": "2) Manage projects",
		"menu_generate": "3) AI generate (ideas/outline/episodes/script) ⚡needs AI",
		"menu_stream":   "4) Streaming parse walkthrough (offline)",
		"menu_patches":  "5) Patch review",
		"menu_export":   "6) Export project",
		"menu_config":   "7) View config",
		"menu_status":   "8) Service status & usage",
		"menu_exit":     "0) Exit",

		"llm_title":            "Configure AI service",
		"llm_status_ready":     "AI service ready",
		"llm_status_not_ready": "AI service not ready",
		"llm_provider_prompt":  "Provider (openrouter/aigateway)",
		"llm_key_prompt":       "API key (blank keeps current): ",
		"llm_model_prompt":     "Default model (blank keeps current): ",
		"llm_update_failed":    "Failed to update LLM config",
		"llm_updated":          "LLM config updated",
		"llm_models":           "Available models",

		"projects_title":         "Manage projects",
		"projects_count":         "%d project(s):",
		"projects_none":          "(no projects yet, create one first)",
		"projects_list_failed":   "Failed to list projects",
		"projects_ops":           "Operations:\n  c) Create project\n  v) View project\n  d) Delete project\n  b) Back",
		"project_title_prompt":   "Project title: ",
		"project_genre_prompt":   "Genre: ",
		"project_platform_prompt": "Target platform: ",
		"project_req_prompt":     "Requirements (optional): ",
		"project_create_failed":  "Failed to create project",
		"project_created":        "Project created!",
		"project_detail_title":   "Project detail",
		"project_title_label":    "Title",
		"project_genre_label":    "Genre/Platform",
		"project_req_label":      "Requirements",
		"project_delete_confirm": "Delete project %q ? (y/N): ",
		"project_delete_failed":  "Failed to delete project",
		"project_deleted":        "Project deleted",
		"documents_count":        "%d document version(s):",
		"documents_list_failed":  "Failed to list documents",

		"generate_title":               "AI generate",
		"generate_llm_not_ready":       "AI service not ready, configure an API key in menu 1 first",
		"generate_stages":              "Stages: ideas / outline / episodes / script",
		"generate_stage_prompt":        "Stage",
		"generate_instructions_prompt": "Extra instructions (optional): ",
		"generate_as_patch_prompt":     "Revise an existing document as a patch set? (y/N)",
		"generate_episode_prompt":      "Episode number",
		"generate_failed":              "Failed to start generation",
		"generate_started":             "Generation started:",
		"generate_stream_error":        "Stream failed",
		"generate_stream_done":         "Stream finished",
		"generate_items":               "Parsed items",

		"stream_title":      "Streaming parse walkthrough (simulated token deltas)",
		"stream_feeding":    "Feeding simulated deltas; every prefix is malformed JSON...",
		"stream_key_events": "key events",
		"stream_final":      "Final snapshot",

		"patches_title":               "Patch review",
		"patches_pending_count":       "lineage graph reports %d pending patch set(s)",
		"patches_list_failed":         "Failed to list pending patches",
		"patches_none":                "(no pending patch sets)",
		"patches_op_count":            "ops",
		"patches_ops":                 "Operations:\n  p) Preview before/after\n  e) Edit patched value\n  a) Approve\n  r) Reject\n  b) Back",
		"patches_preview_failed":      "Preview failed",
		"patches_apply_degraded":      "Patch apply failed, showing unpatched document",
		"patches_before":              "Before",
		"patches_after":               "After",
		"patches_edit_path_prompt":    "JSON pointer path to edit (e.g. /0/title): ",
		"patches_edit_value_prompt":   "New value (JSON or plain text): ",
		"patches_edit_failed":         "Edit failed",
		"patches_edited":              "Re-diffed patch set created",
		"patches_approve_failed":      "Approve failed",
		"patches_approved":            "Approved, new document version",
		"patches_reject_reason_prompt": "Rejection reason (optional): ",
		"patches_reject_failed":       "Reject failed",
		"patches_rejected":            "Patch set rejected",

		"export_title":         "Export project",
		"export_format_prompt": "Format (markdown/text/json)",
		"export_failed":        "Export failed",
		"export_done":          "Export complete",
		"export_stats":         "stats",

		"config_title":     "View config",
		"config_missing":   "Config system not initialized",
		"config_box_title": "Current config",

		"status_title":          "Service status & usage",
		"status_services":       "Registered services",
		"status_usage_title":    "AI usage stats",
		"status_today":          "Requests today",
		"status_tokens":         "Tokens this month",
		"status_active_streams": "Active generation streams",
	},
}

func T(key string, args ...interface{}) string {
	langMap, ok := translations[currentLanguage]
	if !ok {
		langMap = translations["zh"]
	}
	val, ok := langMap[key]
	if !ok {
		return key
	}
	if len(args) > 0 {
		return fmt.Sprintf(val, args...)
	}
	return val
}

func selectLanguage() {
	fmt.Println("Select Language / 选择语言:")
	fmt.Println("  1) English")
	fmt.Println("  2) 中文 (Chinese)")
	choice := getUserInput("Choice/选择 [2]: ")
	if choice == "1" {
		currentLanguage = "en"
	} else {
		currentLanguage = "zh"
	}
	fmt.Printf("Language set to %s\n\n", currentLanguage)
}

// ---------------------------------------------------------
// 控制台排版

const cliBoxMaxWidth = 90

func printBox(title, content string) {
	wrappedLines := wrapContentForBox(content, cliBoxMaxWidth)
	maxWidth := utf8.RuneCountInString(title)
	for _, line := range wrappedLines {
		if w := utf8.RuneCountInString(line); w > maxWidth {
			maxWidth = w
		}
	}
	if maxWidth < 0 {
		maxWidth = 0
	}
	border := strings.Repeat("─", maxWidth+2)
	fmt.Println("┌" + border + "┐")
	if title != "" {
		fmt.Printf("│ %s │\n", padRight(title, maxWidth))
		fmt.Println("├" + border + "┤")
	}
	if len(wrappedLines) == 0 {
		wrappedLines = []string{""}
	}
	for _, line := range wrappedLines {
		fmt.Printf("│ %s │\n", padRight(line, maxWidth))
	}
	fmt.Println("└" + border + "┘")
}

func wrapContentForBox(content string, maxWidth int) []string {
	if maxWidth <= 0 {
		return []string{content}
	}
	var result []string
	for _, raw := range strings.Split(content, "\n") {
		line := raw
		for utf8.RuneCountInString(line) > maxWidth {
			runes := []rune(line)
			result = append(result, string(runes[:maxWidth]))
			line = string(runes[maxWidth:])
		}
		result = append(result, line)
	}
	return result
}

func padRight(s string, width int) string {
	gap := width - utf8.RuneCountInString(s)
	if gap <= 0 {
		return s
	}
	return s + strings.Repeat(" ", gap)
}
