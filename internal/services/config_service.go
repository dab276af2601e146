// internal/services/config_service.go
package services

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/scriptloom/scriptloom/internal/config"
	"github.com/scriptloom/scriptloom/internal/utils"
)

// ConfigService 提供配置管理功能
type ConfigService struct {
	// 缓存最近获取的配置，减少反复访问底层存储
	cachedConfig *config.AppConfig

	// 配置更新时间
	lastUpdated time.Time

	// 配置变更事件订阅者
	subscribers []ConfigChangeSubscriber

	// 配置历史记录
	changeHistory []ConfigChangeRecord

	// 互斥锁保护内部状态
	mu sync.RWMutex

	// 配置访问审计
	auditEnabled bool
	auditLog     []ConfigAuditEntry
}

// ConfigChangeSubscriber 配置变更订阅者接口
type ConfigChangeSubscriber interface {
	OnConfigChanged(oldConfig, newConfig *config.AppConfig)
}

// ConfigChangeRecord 配置变更记录
type ConfigChangeRecord struct {
	Timestamp time.Time
	ChangedBy string
	Section   string
	OldValue  interface{}
	NewValue  interface{}
}

// ConfigAuditEntry 配置访问审计条目
type ConfigAuditEntry struct {
	Timestamp time.Time
	Action    string // "read", "write"
	Section   string
	User      string // 可用于记录谁访问了配置
}

// NewConfigService 创建配置服务实例
func NewConfigService() *ConfigService {
	service := &ConfigService{
		lastUpdated:   time.Now(),
		subscribers:   make([]ConfigChangeSubscriber, 0),
		changeHistory: make([]ConfigChangeRecord, 0, 100),
		auditEnabled:  false,
		auditLog:      make([]ConfigAuditEntry, 0, 100),
	}

	// 初始化时加载配置到缓存
	service.cachedConfig = config.GetCurrentConfig()

	return service
}

// GetCurrentConfig 获取当前配置
func (s *ConfigService) GetCurrentConfig() *config.AppConfig {
	s.recordAudit("read", "全局配置", "system")

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cachedConfig == nil {
		s.cachedConfig = config.GetCurrentConfig()
	}
	return s.cachedConfig
}

// UpdateLLMConfig 更新AI提供者和配置
func (s *ConfigService) UpdateLLMConfig(provider string, configMap map[string]string, changedBy string) error {
	if provider == "" {
		return errors.New("provider cannot be empty")
	}

	oldConfig := s.GetCurrentConfig()
	oldProvider := oldConfig.LLMProvider
	oldConfigMap := make(map[string]string, len(oldConfig.LLMConfig))
	for k, v := range oldConfig.LLMConfig {
		oldConfigMap[k] = v
	}

	if _, ok := configMap["api_key"]; !ok && provider != "aigateway" {
		utils.GetLogger().Warnf("LLM 配置缺少 api_key，提供者: %s", provider)
	}

	// 确保有默认模型
	if _, ok := configMap["default_model"]; !ok {
		switch provider {
		case "openrouter":
			configMap["default_model"] = "deepseek/deepseek-chat-v3-0324:free"
		case "aigateway":
			configMap["default_model"] = "gateway/drafting-large"
		default:
			configMap["default_model"] = ""
		}
	}

	s.recordAudit("write", "LLM配置", changedBy)

	err := config.UpdateLLMConfig(provider, configMap)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.cachedConfig = config.GetCurrentConfig()
	s.lastUpdated = time.Now()
	newConfig := s.cachedConfig
	s.mu.Unlock()

	s.recordChange("LLM提供者", oldProvider, provider, changedBy)
	s.recordChange("LLM配置", oldConfigMap, configMap, changedBy)

	s.notifySubscribers(oldConfig, newConfig)
	return nil
}

// UpdateStreamTuning 更新流式解析节拍（防抖、静默期、轮询周期、自动保存窗口）
func (s *ConfigService) UpdateStreamTuning(parseDebounceMS, quietPeriodMS, pollIntervalMS, autosaveWindowMS int, changedBy string) error {
	oldConfig := s.GetCurrentConfig()

	s.recordAudit("write", "流式调参", changedBy)

	err := config.UpdateStreamTuning(parseDebounceMS, quietPeriodMS, pollIntervalMS, autosaveWindowMS)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.cachedConfig = config.GetCurrentConfig()
	s.lastUpdated = time.Now()
	newConfig := s.cachedConfig
	s.mu.Unlock()

	s.recordChange("流式调参",
		map[string]int{
			"parse_debounce_ms": oldConfig.ParseDebounceMS,
			"quiet_period_ms":   oldConfig.QuietPeriodMS,
			"poll_interval_ms":  oldConfig.PollIntervalMS,
		},
		map[string]int{
			"parse_debounce_ms": newConfig.ParseDebounceMS,
			"quiet_period_ms":   newConfig.QuietPeriodMS,
			"poll_interval_ms":  newConfig.PollIntervalMS,
		},
		changedBy)

	s.notifySubscribers(oldConfig, newConfig)
	return nil
}

// SaveConfig 保存当前配置
func (s *ConfigService) SaveConfig() error {
	return config.SaveConfig()
}

// GetLLMProvider 获取当前AI提供者名称
func (s *ConfigService) GetLLMProvider() string {
	return s.GetCurrentConfig().LLMProvider
}

// GetLLMConfig 获取AI提供者配置
func (s *ConfigService) GetLLMConfig() map[string]string {
	return s.GetCurrentConfig().LLMConfig
}

// ValidateAPIKey 校验API密钥的基本形态，真正的连通性交给提供者首次请求
func (s *ConfigService) ValidateAPIKey(provider string, apiKey string) (bool, string) {
	if provider == "aigateway" {
		// 内网网关可以不带密钥
		return true, ""
	}
	if strings.TrimSpace(apiKey) == "" {
		return false, "API key cannot be empty!"
	}
	return true, ""
}

// SetDebugMode 设置调试模式
func (s *ConfigService) SetDebugMode(enabled bool) error {
	cfg := s.GetCurrentConfig()
	cfg.DebugMode = enabled
	return config.SaveConfig()
}

// SubscribeToChanges 订阅配置变更事件
func (s *ConfigService) SubscribeToChanges(subscriber ConfigChangeSubscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscribers = append(s.subscribers, subscriber)
}

// UnsubscribeFromChanges 取消配置变更订阅
func (s *ConfigService) UnsubscribeFromChanges(subscriber ConfigChangeSubscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sub := range s.subscribers {
		if sub == subscriber {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			break
		}
	}
}

// notifySubscribers 通知所有订阅者配置已变更
func (s *ConfigService) notifySubscribers(oldConfig, newConfig *config.AppConfig) {
	s.mu.RLock()
	subscribers := make([]ConfigChangeSubscriber, len(s.subscribers))
	copy(subscribers, s.subscribers)
	s.mu.RUnlock()

	for _, subscriber := range subscribers {
		go subscriber.OnConfigChanged(oldConfig, newConfig)
	}
}

// GetChangeHistory 获取配置变更历史
func (s *ConfigService) GetChangeHistory(limit int) []ConfigChangeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.changeHistory) {
		limit = len(s.changeHistory)
	}

	history := make([]ConfigChangeRecord, limit)
	startIdx := len(s.changeHistory) - limit
	copy(history, s.changeHistory[startIdx:])

	return history
}

// recordChange 记录配置变更
func (s *ConfigService) recordChange(section string, oldValue, newValue interface{}, changedBy string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := ConfigChangeRecord{
		Timestamp: time.Now(),
		ChangedBy: changedBy,
		Section:   section,
		OldValue:  oldValue,
		NewValue:  newValue,
	}

	// 限制历史记录数量，避免无限增长
	if len(s.changeHistory) >= 1000 {
		s.changeHistory = s.changeHistory[1:]
	}

	s.changeHistory = append(s.changeHistory, record)
}

// EnableAudit 启用配置访问审计
func (s *ConfigService) EnableAudit(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.auditEnabled = enabled
}

// GetAuditLog 获取配置访问审计日志
func (s *ConfigService) GetAuditLog(limit int) []ConfigAuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.auditEnabled {
		return nil
	}

	if limit <= 0 || limit > len(s.auditLog) {
		limit = len(s.auditLog)
	}

	log := make([]ConfigAuditEntry, limit)
	startIdx := len(s.auditLog) - limit
	copy(log, s.auditLog[startIdx:])

	return log
}

// recordAudit 记录配置访问
func (s *ConfigService) recordAudit(action, section, user string) {
	if !s.auditEnabled {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry := ConfigAuditEntry{
		Timestamp: time.Now(),
		Action:    action,
		Section:   section,
		User:      user,
	}

	// 限制审计日志数量
	if len(s.auditLog) >= 1000 {
		s.auditLog = s.auditLog[1:]
	}

	s.auditLog = append(s.auditLog, entry)
}

// StartCacheRefresher 启动一个后台goroutine定期刷新配置缓存
func (s *ConfigService) StartCacheRefresher(refreshInterval time.Duration) {
	go func() {
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()

		for range ticker.C {
			s.mu.Lock()
			s.cachedConfig = config.GetCurrentConfig()
			s.lastUpdated = time.Now()
			s.mu.Unlock()
		}
	}()
}
