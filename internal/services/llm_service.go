// internal/services/llm_service.go
package services

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/scriptloom/scriptloom/internal/config"
	apperrors "github.com/scriptloom/scriptloom/internal/errors"
	"github.com/scriptloom/scriptloom/internal/llm"
	"github.com/scriptloom/scriptloom/internal/utils"

	_ "github.com/scriptloom/scriptloom/internal/llm/providers/aigateway"
	_ "github.com/scriptloom/scriptloom/internal/llm/providers/openrouter"
)

// LLMService 提供统一的大语言模型调用接口。
// 提供者按配置解析，配置变更时热切换；一次性补全带响应缓存，流式不缓存
type LLMService struct {
	providerMutex      sync.RWMutex
	provider           llm.Provider
	providerName       string
	cache              *llmCache
	isReady            bool
	readyState         string
	activeDefaultModel string
}

type llmCache struct {
	mutex      sync.RWMutex
	entries    map[string]*llmCacheEntry
	expiration time.Duration
}

type llmCacheEntry struct {
	response  *llm.CompletionResponse
	createdAt time.Time
}

func newLLMCache() *llmCache {
	return &llmCache{
		entries:    make(map[string]*llmCacheEntry),
		expiration: 30 * time.Minute,
	}
}

// NewLLMService 创建LLM服务，按当前配置初始化提供者。
// 配置不完整时返回未就绪的服务而不是错误，密钥补齐后可热切换
func NewLLMService() *LLMService {
	service := &LLMService{
		readyState: "Uninitialized",
		cache:      newLLMCache(),
	}

	cfg := config.GetCurrentConfig()
	if cfg == nil {
		service.readyState = "Failed to retrieve configuration"
		return service
	}
	if cfg.LLMProvider == "" {
		service.readyState = "LLM provider not configured"
		return service
	}

	provider, err := llm.GetProvider(cfg.LLMProvider, cfg.LLMConfig)
	if err != nil {
		service.readyState = fmt.Sprintf("Initialization failed: %v", err)
		utils.GetLogger().Warnf("AI 提供者初始化失败: %v", err)
		return service
	}

	service.provider = provider
	service.providerName = cfg.LLMProvider
	service.activeDefaultModel = extractDefaultModel(cfg.LLMConfig)
	service.isReady = true
	service.readyState = "Ready"
	return service
}

// IsReady 返回服务是否已就绪
func (s *LLMService) IsReady() bool {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.provider != nil && s.isReady
}

// GetProviderStatus 返回服务是否就绪以及可读描述
func (s *LLMService) GetProviderStatus() (bool, string) {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	if s.provider != nil && s.isReady {
		return true, "Ready"
	}
	return false, s.readyState
}

// GetProviderName 获取当前提供者注册名
func (s *LLMService) GetProviderName() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.providerName
}

// GetDefaultModel 获取当前生效的默认模型
func (s *LLMService) GetDefaultModel() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()

	if s.activeDefaultModel != "" {
		return s.activeDefaultModel
	}
	if s.provider != nil {
		if models := s.provider.GetSupportedModels(); len(models) > 0 {
			return models[0]
		}
	}
	return ""
}

// GetSupportedModels 列出当前提供者支持的模型
func (s *LLMService) GetSupportedModels() []string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()

	if s.provider == nil {
		return nil
	}
	return s.provider.GetSupportedModels()
}

// FetchAvailableModels 从提供者拉取最新模型清单并更新本地列表
func (s *LLMService) FetchAvailableModels(ctx context.Context) ([]string, error) {
	s.providerMutex.RLock()
	provider := s.provider
	s.providerMutex.RUnlock()

	if provider == nil {
		return nil, apperrors.NewProcessingError("AI 提供者未就绪", nil)
	}
	if err := provider.FetchAvailableModels(ctx); err != nil {
		return nil, err
	}
	return provider.GetSupportedModels(), nil
}

// UpdateProvider 切换提供者，旧缓存一并丢弃
func (s *LLMService) UpdateProvider(providerName string, providerConfig map[string]string) error {
	provider, err := llm.GetProvider(providerName, providerConfig)
	if err != nil {
		s.providerMutex.Lock()
		s.isReady = false
		s.readyState = fmt.Sprintf("Configuration failed: %v", err)
		s.providerMutex.Unlock()
		return err
	}

	s.providerMutex.Lock()
	defer s.providerMutex.Unlock()

	s.provider = provider
	s.providerName = providerName
	s.activeDefaultModel = extractDefaultModel(providerConfig)
	s.isReady = true
	s.readyState = "Ready"
	s.cache = newLLMCache()

	utils.GetLogger().Infof("AI 提供者已切换: %s", providerName)
	return nil
}

// OnConfigChanged 实现 ConfigChangeSubscriber，配置变更时热切换提供者
func (s *LLMService) OnConfigChanged(oldConfig, newConfig *config.AppConfig) {
	if newConfig == nil || newConfig.LLMProvider == "" {
		return
	}
	if err := s.UpdateProvider(newConfig.LLMProvider, newConfig.LLMConfig); err != nil {
		utils.GetLogger().Errorf("配置变更后切换 AI 提供者失败: %v", err)
	}
}

// CompleteText 一次性文本补全，相同请求命中缓存时不再出网
func (s *LLMService) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	s.providerMutex.RLock()
	provider := s.provider
	ready := s.isReady
	cache := s.cache
	s.providerMutex.RUnlock()

	if provider == nil || !ready {
		return nil, apperrors.NewProcessingError("AI 提供者未就绪", nil)
	}

	req.Model = s.resolveModel(req.Model)

	key := completionCacheKey(s.GetProviderName(), req)
	if cached := cache.get(key); cached != nil {
		return cached, nil
	}

	resp, err := provider.CompleteText(ctx, req)
	if err != nil {
		return nil, err
	}

	cache.put(key, resp)
	return resp, nil
}

// StreamCompletion 流式补全透传，生命周期由调用方的 ctx 约束
func (s *LLMService) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamResponse, error) {
	s.providerMutex.RLock()
	provider := s.provider
	ready := s.isReady
	s.providerMutex.RUnlock()

	if provider == nil || !ready {
		return nil, apperrors.NewProcessingError("AI 提供者未就绪", nil)
	}

	req.Model = s.resolveModel(req.Model)
	return provider.StreamCompletion(ctx, req)
}

// resolveModel 请求未指定模型时回退到配置的默认模型
func (s *LLMService) resolveModel(requested string) string {
	if requested != "" {
		return requested
	}
	return s.GetDefaultModel()
}

func extractDefaultModel(cfg map[string]string) string {
	if cfg == nil {
		return ""
	}
	return cfg["default_model"]
}

// completionCacheKey 由提供者、模型与全部提示内容共同决定
func completionCacheKey(providerName string, req llm.CompletionRequest) string {
	stops := append([]string(nil), req.StopWords...)
	sort.Strings(stops)

	hash := md5.Sum([]byte(fmt.Sprintf("%s|%s|%s|%s|%d|%.3f|%v",
		providerName, req.Model, req.SystemPrompt, req.Prompt, req.MaxTokens, req.Temperature, stops)))
	return hex.EncodeToString(hash[:])
}

func (c *llmCache) get(key string) *llm.CompletionResponse {
	c.mutex.RLock()
	entry, ok := c.entries[key]
	c.mutex.RUnlock()

	if !ok {
		return nil
	}
	if time.Since(entry.createdAt) > c.expiration {
		c.mutex.Lock()
		delete(c.entries, key)
		c.mutex.Unlock()
		return nil
	}
	return entry.response
}

func (c *llmCache) put(key string, resp *llm.CompletionResponse) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	// 容量超限时先清掉最旧的四分之一
	if len(c.entries) >= 200 {
		type aged struct {
			key string
			at  time.Time
		}
		olds := make([]aged, 0, len(c.entries))
		for k, e := range c.entries {
			olds = append(olds, aged{k, e.createdAt})
		}
		sort.Slice(olds, func(i, j int) bool { return olds[i].at.Before(olds[j].at) })
		for i := 0; i < len(olds)/4+1; i++ {
			delete(c.entries, olds[i].key)
		}
	}

	c.entries[key] = &llmCacheEntry{response: resp, createdAt: time.Now()}
}
