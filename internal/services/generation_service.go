// internal/services/generation_service.go
package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"
	"unicode/utf8"

	apperrors "github.com/scriptloom/scriptloom/internal/errors"
	"github.com/scriptloom/scriptloom/internal/llm"
	"github.com/scriptloom/scriptloom/internal/models"
	"github.com/scriptloom/scriptloom/internal/patch"
	"github.com/scriptloom/scriptloom/internal/streaming"
	"github.com/scriptloom/scriptloom/internal/utils"
)

// 生成阶段，与各解析策略的 Stage() 标签一致
const (
	StageIdeas    = "ideas"
	StageOutline  = "outline"
	StageEpisodes = "episodes"
	StageScript   = "script"
)

const (
	// rawSaveInterval 运行中变换的流文本落盘间隔，进程崩溃最多丢这么多
	rawSaveInterval = 2 * time.Second
	// streamRetention 收尾后的流在内存里保留的时间，晚到的重连还能拿到回放
	streamRetention = 5 * time.Minute
	// generationTimeout 单次生成的硬上限
	generationTimeout = 10 * time.Minute

	watcherBuffer = 256
)

// stageSession 是服务层看到的流式解析会话，四个阶段的泛型会话都满足它
type stageSession interface {
	Feed(delta string)
	End()
	Fail(err error)
	AdoptResults(results []json.RawMessage, completed bool)
	Stop()
	Status() streaming.Status
	RawContent() string
	Results() []json.RawMessage
}

var _ stageSession = (*streaming.Session[models.StoryIdea])(nil)

// StreamEvent 是生成流对外的一条事件：文本增量、正常收尾或终止错误
type StreamEvent struct {
	Delta string
	End   bool
	Err   error
}

// GenerationStream 包装一次生成的解析会话，并把原始增量扇出给SSE等消费者。
// 回放与注册在同一把锁下进行，晚挂上来的消费者不会漏增量
type GenerationStream struct {
	TransformID string
	ProjectID   string
	Stage       string
	Kind        models.DocumentKind

	session   stageSession
	cancel    context.CancelFunc
	startedAt time.Time

	mu       sync.Mutex
	watchers map[chan StreamEvent]bool
	done     bool
	err      error
}

func newGenerationStream(t *models.Transform, kind models.DocumentKind, session stageSession) *GenerationStream {
	return &GenerationStream{
		TransformID: t.ID,
		ProjectID:   t.ProjectID,
		Stage:       t.Stage,
		Kind:        kind,
		session:     session,
		startedAt:   time.Now(),
		watchers:    make(map[chan StreamEvent]bool),
	}
}

// Attach 挂一个消费者上来：返回到目前为止的完整回放文本和后续事件通道。
// 流已收尾时通道里只有终止事件
func (g *GenerationStream) Attach() (string, <-chan StreamEvent, func()) {
	g.mu.Lock()
	defer g.mu.Unlock()

	replay := g.session.RawContent()

	if g.done {
		ch := make(chan StreamEvent, 1)
		ch <- StreamEvent{End: g.err == nil, Err: g.err}
		close(ch)
		return replay, ch, func() {}
	}

	ch := make(chan StreamEvent, watcherBuffer)
	g.watchers[ch] = true

	cancel := func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.watchers[ch] {
			delete(g.watchers, ch)
			close(ch)
		}
	}
	return replay, ch, cancel
}

// Status 透传会话生命周期状态
func (g *GenerationStream) Status() streaming.Status {
	return g.session.Status()
}

// Results 透传当前解析出的条目
func (g *GenerationStream) Results() []json.RawMessage {
	return g.session.Results()
}

// RawContent 透传已积累的原始流文本
func (g *GenerationStream) RawContent() string {
	return g.session.RawContent()
}

// Err 返回终止错误，未失败时为空
func (g *GenerationStream) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}

// Done 报告流是否已收尾
func (g *GenerationStream) Done() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.done
}

func (g *GenerationStream) feed(delta string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.done {
		return
	}
	g.session.Feed(delta)

	for ch := range g.watchers {
		select {
		case ch <- StreamEvent{Delta: delta}:
		default:
			// 跟不上节拍的消费者直接踢掉，重连后由回放补齐
			delete(g.watchers, ch)
			close(ch)
		}
	}
}

func (g *GenerationStream) end() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.done {
		return
	}
	g.session.End()
	g.done = true
	g.closeWatchersLocked(StreamEvent{End: true})
}

func (g *GenerationStream) fail(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.done {
		return
	}
	g.session.Fail(err)
	g.done = true
	g.err = err
	g.closeWatchersLocked(StreamEvent{Err: err})
}

func (g *GenerationStream) closeWatchersLocked(final StreamEvent) {
	for ch := range g.watchers {
		select {
		case ch <- final:
		default:
		}
		close(ch)
	}
	g.watchers = make(map[chan StreamEvent]bool)
}

// GenerationRequest 一次生成的参数
type GenerationRequest struct {
	ProjectID      string `json:"project_id"`
	Stage          string `json:"stage"`
	Instructions   string `json:"instructions,omitempty"`
	Model          string `json:"model,omitempty"`
	Count          int    `json:"count,omitempty"`
	EpisodeNumber  int    `json:"episode_number,omitempty"`
	BaseDocumentID string `json:"base_document_id,omitempty"`
	AsPatch        bool   `json:"as_patch,omitempty"`
}

// GenerationService 驱动整条生成管线：提示词、AI流、流式解析、
// 产物落盘（新文档版本或待审补丁集）与谱系记录
type GenerationService struct {
	configSvc  *ConfigService
	llm        *LLMService
	projects   *ProjectService
	documents  *DocumentService
	transforms *TransformService
	patches    *PatchService
	stats      *StatsService
	metrics    *utils.PipelineMetrics

	mu      sync.Mutex
	streams map[string]*GenerationStream // 按变换ID索引的活动流
}

// NewGenerationService 创建生成服务
func NewGenerationService(configSvc *ConfigService, llmSvc *LLMService, projects *ProjectService, documents *DocumentService, transforms *TransformService, patches *PatchService, stats *StatsService, metrics *utils.PipelineMetrics) *GenerationService {
	return &GenerationService{
		configSvc:  configSvc,
		llm:        llmSvc,
		projects:   projects,
		documents:  documents,
		transforms: transforms,
		patches:    patches,
		stats:      stats,
		metrics:    metrics,
		streams:    make(map[string]*GenerationStream),
	}
}

// StartGeneration 启动一次生成。请求返回后生成在服务端继续，
// 进度通过变换流接口跟踪
func (s *GenerationService) StartGeneration(req GenerationRequest) (*GenerationStream, error) {
	project, err := s.projects.GetProject(req.ProjectID)
	if err != nil {
		return nil, err
	}

	var base *models.Document
	if req.AsPatch {
		base, err = s.resolvePatchBase(&req)
		if err != nil {
			return nil, err
		}
	}

	kind, err := kindForStage(req.Stage)
	if err != nil {
		return nil, err
	}

	prompt, inputIDs, err := s.buildPrompt(project, req, base)
	if err != nil {
		return nil, err
	}

	ttype := models.TransformAIGeneration
	if req.AsPatch {
		ttype = models.TransformAIPatch
	}

	transform, err := s.transforms.CreateTransform(req.ProjectID, ttype, req.Stage, inputIDs)
	if err != nil {
		return nil, err
	}

	cfg := s.configSvc.GetCurrentConfig()
	session, err := newStageSession(req.Stage, streaming.Options{
		Debounce:    time.Duration(cfg.ParseDebounceMS) * time.Millisecond,
		QuietPeriod: time.Duration(cfg.QuietPeriodMS) * time.Millisecond,
		Metrics:     s.metrics,
	})
	if err != nil {
		return nil, err
	}

	stream := newGenerationStream(transform, kind, session)

	genCtx, cancel := context.WithTimeout(context.Background(), generationTimeout)
	stream.cancel = cancel

	s.mu.Lock()
	s.streams[transform.ID] = stream
	s.mu.Unlock()

	completion := llm.CompletionRequest{
		Prompt:       prompt,
		SystemPrompt: stageSystemPrompt(req.Stage),
		Model:        req.Model,
		MaxTokens:    maxTokensForStage(req.Stage),
		Temperature:  temperatureForStage(req.Stage),
		Stream:       true,
	}

	go s.run(genCtx, stream, transform, base, completion)

	utils.GetLogger().Infof("生成已启动: project=%s stage=%s transform=%s patch=%v",
		req.ProjectID, req.Stage, transform.ID, req.AsPatch)
	return stream, nil
}

// resolvePatchBase 找到补丁模式的基础文档：指定ID或该阶段最新版本，
// 并核对阶段与文档类型的一致性
func (s *GenerationService) resolvePatchBase(req *GenerationRequest) (*models.Document, error) {
	if req.BaseDocumentID != "" {
		base, err := s.documents.GetDocument(req.BaseDocumentID)
		if err != nil {
			return nil, err
		}
		if req.Stage == "" {
			req.Stage = stageForKind(base.Kind)
		} else if kind, err := kindForStage(req.Stage); err != nil || kind != base.Kind {
			return nil, apperrors.NewValidationError("生成阶段与基础文档类型不一致", nil)
		}
		return base, nil
	}

	kind, err := kindForStage(req.Stage)
	if err != nil {
		return nil, err
	}
	base, err := s.documents.LatestDocument(req.ProjectID, kind)
	if err != nil {
		return nil, apperrors.NewValidationError("该阶段还没有可修订的文档", err)
	}
	req.BaseDocumentID = base.ID
	return base, nil
}

// buildPrompt 组装阶段提示词，并返回作为上下文的上游文档ID
func (s *GenerationService) buildPrompt(project *models.Project, req GenerationRequest, base *models.Document) (string, []string, error) {
	if req.AsPatch {
		if req.Instructions == "" {
			return "", nil, apperrors.NewValidationError("补丁生成必须带修改意见", nil)
		}
		return buildRevisionPrompt(req.Stage, string(base.Content), req.Instructions), []string{base.ID}, nil
	}

	switch req.Stage {
	case StageIdeas:
		return buildIdeaPrompt(project, req.Count, req.Instructions), nil, nil

	case StageOutline:
		contextJSON, inputIDs := s.latestContext(project.ID, models.DocumentKindIdeaList)
		return buildOutlinePrompt(project, contextJSON, req.Instructions), inputIDs, nil

	case StageEpisodes:
		contextJSON, inputIDs := s.latestContext(project.ID, models.DocumentKindOutline)
		return buildEpisodePrompt(project, contextJSON, req.Count, req.Instructions), inputIDs, nil

	case StageScript:
		contextJSON, inputIDs := s.latestContext(project.ID, models.DocumentKindEpisodeList)
		return buildScriptPrompt(project, contextJSON, req.EpisodeNumber, req.Instructions), inputIDs, nil
	}

	return "", nil, apperrors.NewValidationError("未知的生成阶段: "+req.Stage, nil)
}

// latestContext 取某类文档的最新版本作为提示词上下文，没有就空着
func (s *GenerationService) latestContext(projectID string, kind models.DocumentKind) (string, []string) {
	doc, err := s.documents.LatestDocument(projectID, kind)
	if err != nil {
		return "", nil
	}
	return string(doc.Content), []string{doc.ID}
}

// run 消费AI流直到收尾，期间定期把已积累的流文本落盘
func (s *GenerationService) run(ctx context.Context, stream *GenerationStream, transform *models.Transform, base *models.Document, completion llm.CompletionRequest) {
	defer stream.cancel()
	defer s.scheduleCleanup(stream.TransformID)

	ch, err := s.llm.StreamCompletion(ctx, completion)
	if err != nil {
		stream.fail(err)
		s.metrics.RecordError("llm_request", "generation")
		if _, ferr := s.transforms.FailTransform(transform.ID, err, ""); ferr != nil {
			utils.GetLogger().Errorf("记录失败变换出错: %v", ferr)
		}
		return
	}

	var failure error
	lastSave := time.Now()
	model := completion.Model

loop:
	for {
		select {
		case <-ctx.Done():
			failure = apperrors.NewTransportError("生成已取消", ctx.Err())
			break loop

		case chunk, ok := <-ch:
			if !ok {
				break loop
			}
			if chunk.ModelName != "" {
				model = chunk.ModelName
			}
			if chunk.Done {
				if chunk.FinishReason == "error" {
					failure = apperrors.NewTransportError("上游流中断: "+chunk.Text, nil)
				}
				break loop
			}

			stream.feed(chunk.Text)

			if time.Since(lastSave) >= rawSaveInterval {
				if err := s.transforms.SaveRawContent(transform.ID, stream.RawContent()); err != nil {
					utils.GetLogger().Warnf("流文本落盘失败: %v", err)
				}
				lastSave = time.Now()
			}
		}
	}

	raw := stream.RawContent()
	elapsed := time.Since(stream.startedAt)

	if failure == nil {
		results := reparseStage(stream.Stage, raw)
		if len(results) == 0 {
			failure = apperrors.NewProcessingError("未能从模型输出解析出任何条目", nil)
		} else {
			stream.end()
			if err := s.finalize(stream, transform, base, raw, results); err != nil {
				utils.GetLogger().Errorf("生成收尾失败: transform=%s err=%v", transform.ID, err)
				if _, ferr := s.transforms.FailTransform(transform.ID, err, raw); ferr != nil {
					utils.GetLogger().Errorf("记录失败变换出错: %v", ferr)
				}
				return
			}

			tokens := estimateTokens(raw)
			s.metrics.RecordLLMRequest(s.llm.GetProviderName(), model, tokens, elapsed)
			if err := s.stats.RecordGeneration(stream.Stage, tokens); err != nil {
				utils.GetLogger().Warnf("记录用量统计失败: %v", err)
			}
			utils.GetLogger().Infof("生成完成: transform=%s stage=%s 条目=%d 用时=%s",
				transform.ID, stream.Stage, len(results), elapsed.Round(time.Millisecond))
			return
		}
	}

	stream.fail(failure)
	s.metrics.RecordError("stream_transport", "generation")
	if _, err := s.transforms.FailTransform(transform.ID, failure, raw); err != nil {
		utils.GetLogger().Errorf("记录失败变换出错: %v", err)
	}
	utils.GetLogger().Warnf("生成中断: transform=%s err=%v", transform.ID, failure)
}

// finalize 把解析结果落成产物：普通生成建新文档版本，补丁生成对基线
// 算最小差异并登记待审补丁集
func (s *GenerationService) finalize(stream *GenerationStream, transform *models.Transform, base *models.Document, raw string, results []json.RawMessage) error {
	content, err := json.Marshal(results)
	if err != nil {
		return apperrors.NewProcessingError("序列化生成结果失败", err)
	}

	if transform.Type == models.TransformAIPatch {
		ops, err := patch.Diff(base.Content, content)
		if err != nil {
			return err
		}
		if len(ops) == 0 {
			// 模型修订与基础文档一致，不登记空补丁集
			utils.GetLogger().Infof("修订未产生任何差异: transform=%s", transform.ID)
			_, err = s.transforms.CompleteTransform(transform.ID, nil, "", raw)
			return err
		}

		set, err := s.patches.CreatePatchSet(transform.ProjectID, transform.ID, base.ID, ops)
		if err != nil {
			return err
		}
		_, err = s.transforms.CompleteTransform(transform.ID, nil, set.ID, raw)
		return err
	}

	version := s.documents.NextVersion(transform.ProjectID, stream.Kind)
	doc, err := s.documents.CreateDocument(transform.ProjectID, stream.Kind, content, version)
	if err != nil {
		return err
	}
	_, err = s.transforms.CompleteTransform(transform.ID, []string{doc.ID}, "", raw)
	return err
}

// StreamFor 取某个变换的活动流
func (s *GenerationService) StreamFor(transformID string) (*GenerationStream, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stream, ok := s.streams[transformID]
	return stream, ok
}

// CancelGeneration 取消进行中的生成，晚到的分片会被丢弃
func (s *GenerationService) CancelGeneration(transformID string) error {
	stream, ok := s.StreamFor(transformID)
	if !ok {
		return apperrors.NewNotFoundError("没有进行中的生成: "+transformID, nil)
	}
	if stream.cancel != nil {
		stream.cancel()
	}
	return nil
}

// ResumeResults 重连时的一次性结果查询。活动流直接给当前状态；
// 不在内存里的变换回退到磁盘：产物文档或重放流文本再解析
func (s *GenerationService) ResumeResults(transformID string) (*streaming.StatusEnvelope, error) {
	if stream, ok := s.StreamFor(transformID); ok {
		env := &streaming.StatusEnvelope{Results: stream.Results()}
		if stream.Status() == streaming.StatusCompleted {
			env.Status = streaming.EnvelopeCompleted
		} else {
			env.Status = streaming.EnvelopePartialResults
		}
		return env, nil
	}

	transform, err := s.transforms.GetTransform(transformID)
	if err != nil {
		return nil, err
	}

	if transform.Status == models.TransformCompleted && len(transform.OutputIDs) > 0 {
		doc, err := s.documents.GetDocument(transform.OutputIDs[0])
		if err == nil {
			return &streaming.StatusEnvelope{
				Status:  streaming.EnvelopeCompleted,
				Results: splitItems(doc.Content),
			}, nil
		}
	}

	// 进程重启后只剩落盘的流文本，重新走一遍解析
	env := &streaming.StatusEnvelope{Results: reparseStage(transform.Stage, transform.RawContent)}
	if transform.Status == models.TransformCompleted {
		env.Status = streaming.EnvelopeCompleted
	} else {
		env.Status = streaming.EnvelopePartialResults
	}
	return env, nil
}

// ActiveCount 返回进行中的生成数
func (s *GenerationService) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, stream := range s.streams {
		if !stream.Done() {
			n++
		}
	}
	return n
}

// Shutdown 取消所有进行中的生成并释放会话
func (s *GenerationService) Shutdown() {
	s.mu.Lock()
	streams := make([]*GenerationStream, 0, len(s.streams))
	for _, stream := range s.streams {
		streams = append(streams, stream)
	}
	s.streams = make(map[string]*GenerationStream)
	s.mu.Unlock()

	for _, stream := range streams {
		if stream.cancel != nil {
			stream.cancel()
		}
		stream.session.Stop()
	}
}

// scheduleCleanup 收尾后的流保留一段时间再出表，之后的查询走落盘结果
func (s *GenerationService) scheduleCleanup(transformID string) {
	time.AfterFunc(streamRetention, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if stream, ok := s.streams[transformID]; ok && stream.Done() {
			stream.session.Stop()
			delete(s.streams, transformID)
		}
	})
}

// newStageSession 按阶段实例化对应条目类型的解析会话
func newStageSession(stage string, opts streaming.Options) (stageSession, error) {
	switch stage {
	case StageIdeas:
		return streaming.NewSession[models.StoryIdea](streaming.IdeaStrategy{}, opts), nil
	case StageOutline:
		return streaming.NewSession[models.OutlineStage](streaming.OutlineStrategy{}, opts), nil
	case StageEpisodes:
		return streaming.NewSession[models.EpisodeSynopsis](streaming.EpisodeStrategy{}, opts), nil
	case StageScript:
		return streaming.NewSession[models.ScriptScene](streaming.ScriptStrategy{}, opts), nil
	}
	return nil, apperrors.NewValidationError("未知的生成阶段: "+stage, nil)
}

func kindForStage(stage string) (models.DocumentKind, error) {
	switch stage {
	case StageIdeas:
		return models.DocumentKindIdeaList, nil
	case StageOutline:
		return models.DocumentKindOutline, nil
	case StageEpisodes:
		return models.DocumentKindEpisodeList, nil
	case StageScript:
		return models.DocumentKindScript, nil
	}
	return "", apperrors.NewValidationError("未知的生成阶段: "+stage, nil)
}

func stageForKind(kind models.DocumentKind) string {
	switch kind {
	case models.DocumentKindIdeaList:
		return StageIdeas
	case models.DocumentKindOutline:
		return StageOutline
	case models.DocumentKindEpisodeList:
		return StageEpisodes
	case models.DocumentKindScript:
		return StageScript
	}
	return ""
}

// reparseStage 用阶段策略把原始流文本解析成条目。解析是纯函数，
// 同一段文本重放得到同样的结果
func reparseStage(stage, raw string) []json.RawMessage {
	switch stage {
	case StageIdeas:
		items, _ := streaming.Parse[models.StoryIdea](streaming.IdeaStrategy{}, raw)
		return marshalEach(items)
	case StageOutline:
		items, _ := streaming.Parse[models.OutlineStage](streaming.OutlineStrategy{}, raw)
		return marshalEach(items)
	case StageEpisodes:
		items, _ := streaming.Parse[models.EpisodeSynopsis](streaming.EpisodeStrategy{}, raw)
		return marshalEach(items)
	case StageScript:
		items, _ := streaming.Parse[models.ScriptScene](streaming.ScriptStrategy{}, raw)
		return marshalEach(items)
	}
	return nil
}

func marshalEach[T any](items []T) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(items))
	for _, item := range items {
		raw, err := json.Marshal(item)
		if err != nil {
			continue
		}
		out = append(out, raw)
	}
	return out
}

// splitItems 把数组形态的文档内容拆成独立条目，非数组内容原样作为单条
func splitItems(content json.RawMessage) []json.RawMessage {
	var items []json.RawMessage
	if err := json.Unmarshal(content, &items); err != nil {
		return []json.RawMessage{content}
	}
	return items
}

// estimateTokens 流式分片不带用量统计，按字数粗估
func estimateTokens(text string) int {
	return utf8.RuneCountInString(text) / 2
}

func maxTokensForStage(stage string) int {
	switch stage {
	case StageScript, StageEpisodes:
		return 8192
	default:
		return 4096
	}
}

func temperatureForStage(stage string) float32 {
	if stage == StageIdeas {
		return 0.9
	}
	return 0.7
}
