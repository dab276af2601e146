// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"

	"github.com/scriptloom/scriptloom/internal/utils"
)

// 当前配置的单例实例
var (
	currentConfig *AppConfig
	configMutex   sync.RWMutex
	configFile    string
)

const encryptedPrefix = "enc:"

// AppConfig 包含应用程序的所有配置
type AppConfig struct {
	// 基础配置
	Port      string `json:"port"`
	DataDir   string `json:"data_dir"`
	LogDir    string `json:"log_dir"`
	DebugMode bool   `json:"debug_mode"`

	// LLM相关配置
	LLMProvider string            `json:"llm_provider"`
	LLMConfig   map[string]string `json:"llm_config"`

	// 流式解析与审批流程的可调参数（毫秒）
	ParseDebounceMS  int `json:"parse_debounce_ms"`
	QuietPeriodMS    int `json:"quiet_period_ms"`
	PollIntervalMS   int `json:"poll_interval_ms"`
	AutosaveWindowMS int `json:"autosave_window_ms"`
}

// Config 存储应用配置
type Config struct {
	Port      string
	APIKey    string
	DataDir   string
	LogDir    string
	DebugMode bool

	// SecretKey 用于API密钥的静态加密（可选）
	SecretKey string

	ParseDebounceMS  int
	QuietPeriodMS    int
	PollIntervalMS   int
	AutosaveWindowMS int
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	// 尝试加载.env文件（可选）
	godotenv.Load()

	// 创建配置
	config := &Config{
		Port:      getEnv("PORT", "8080"),
		APIKey:    getEnv("LLM_API_KEY", ""),
		DataDir:   getEnvPath("DATA_DIR", "data"),
		LogDir:    getEnvPath("LOG_DIR", "logs"),
		DebugMode: getEnvBool("DEBUG_MODE", true),
		SecretKey: getEnv("SCRIPTLOOM_SECRET", ""),

		ParseDebounceMS:  getEnvInt("PARSE_DEBOUNCE_MS", 50),
		QuietPeriodMS:    getEnvInt("QUIET_PERIOD_MS", 2000),
		PollIntervalMS:   getEnvInt("POLL_INTERVAL_MS", 5000),
		AutosaveWindowMS: getEnvInt("AUTOSAVE_WINDOW_MS", 800),
	}

	// 验证API密钥
	if config.APIKey == "" {
		// 只记录警告，不返回错误
		log.Println("警告: 未设置LLM API密钥，生成功能需要先通过设置接口配置")
	}

	return config, nil
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvPath 获取环境变量表示的路径，如果不存在则返回默认值
func getEnvPath(key, defaultValue string) string {
	path := getEnv(key, defaultValue)

	// 确保目录存在
	if _, err := os.Stat(path); os.IsNotExist(err) {
		err = os.MkdirAll(path, 0755)
		if err != nil {
			fmt.Printf("警告: 创建目录失败 %s: %v\n", path, err)
		}
	}

	return path
}

// getEnvBool 获取布尔类型环境变量
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt 获取整数类型环境变量
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	n, err := strconv.Atoi(value)
	if err != nil {
		fmt.Printf("警告: 环境变量 %s 不是整数: %v\n", key, err)
		return defaultValue
	}
	return n
}

// InitConfig 初始化配置管理器
func InitConfig(dataDir string) error {
	configFile = filepath.Join(dataDir, "config.json")

	// 加载基础配置
	baseConfig, err := Load()
	if err != nil {
		return err
	}

	// 创建初始配置
	configMutex.Lock()
	defer configMutex.Unlock()

	currentConfig = &AppConfig{
		Port:      baseConfig.Port,
		DataDir:   baseConfig.DataDir,
		LogDir:    baseConfig.LogDir,
		DebugMode: baseConfig.DebugMode,

		LLMProvider: getEnv("LLM_PROVIDER", "openrouter"),
		LLMConfig: map[string]string{
			"api_key":       baseConfig.APIKey,
			"default_model": getEnv("LLM_DEFAULT_MODEL", "anthropic/claude-3.5-sonnet"),
			"gateway_url":   getEnv("AI_GATEWAY_URL", ""),
		},

		ParseDebounceMS:  baseConfig.ParseDebounceMS,
		QuietPeriodMS:    baseConfig.QuietPeriodMS,
		PollIntervalMS:   baseConfig.PollIntervalMS,
		AutosaveWindowMS: baseConfig.AutosaveWindowMS,
	}

	// 尝试从文件加载已保存的配置
	if _, err := os.Stat(configFile); !os.IsNotExist(err) {
		data, err := os.ReadFile(configFile)
		if err == nil {
			var savedConfig AppConfig
			if json.Unmarshal(data, &savedConfig) == nil {
				// 合并配置，保留文件中的LLM与调参设置，但使用最新的基础配置
				savedConfig.Port = baseConfig.Port
				savedConfig.DataDir = baseConfig.DataDir
				savedConfig.LogDir = baseConfig.LogDir
				savedConfig.DebugMode = baseConfig.DebugMode

				if savedConfig.LLMConfig == nil {
					savedConfig.LLMConfig = map[string]string{}
				}

				// 解密文件中的API密钥；如果文件中没有密钥，使用环境变量的密钥
				if stored := savedConfig.LLMConfig["api_key"]; stored != "" {
					savedConfig.LLMConfig["api_key"] = decryptAPIKey(stored, baseConfig.SecretKey)
				} else {
					savedConfig.LLMConfig["api_key"] = baseConfig.APIKey
				}

				if savedConfig.ParseDebounceMS <= 0 {
					savedConfig.ParseDebounceMS = baseConfig.ParseDebounceMS
				}
				if savedConfig.QuietPeriodMS <= 0 {
					savedConfig.QuietPeriodMS = baseConfig.QuietPeriodMS
				}
				if savedConfig.PollIntervalMS <= 0 {
					savedConfig.PollIntervalMS = baseConfig.PollIntervalMS
				}
				if savedConfig.AutosaveWindowMS <= 0 {
					savedConfig.AutosaveWindowMS = baseConfig.AutosaveWindowMS
				}

				currentConfig = &savedConfig
			}
		}
	}

	// 保存初始配置到文件
	return saveConfigLocked(baseConfig.SecretKey)
}

// GetCurrentConfig 返回当前配置的副本
func GetCurrentConfig() *AppConfig {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if currentConfig == nil {
		// 紧急情况，返回一个基本配置
		baseConfig, _ := Load()
		return &AppConfig{
			Port:      baseConfig.Port,
			DataDir:   baseConfig.DataDir,
			LogDir:    baseConfig.LogDir,
			DebugMode: baseConfig.DebugMode,
			LLMProvider: getEnv("LLM_PROVIDER", "openrouter"),
			LLMConfig: map[string]string{
				"api_key": baseConfig.APIKey,
			},
			ParseDebounceMS:  baseConfig.ParseDebounceMS,
			QuietPeriodMS:    baseConfig.QuietPeriodMS,
			PollIntervalMS:   baseConfig.PollIntervalMS,
			AutosaveWindowMS: baseConfig.AutosaveWindowMS,
		}
	}

	// 返回配置的副本（含LLMConfig的浅拷贝，避免调用方改到共享map）
	configCopy := *currentConfig
	configCopy.LLMConfig = make(map[string]string, len(currentConfig.LLMConfig))
	for k, v := range currentConfig.LLMConfig {
		configCopy.LLMConfig[k] = v
	}
	return &configCopy
}

// UpdateLLMConfig 更新LLM配置
func UpdateLLMConfig(provider string, config map[string]string) error {
	configMutex.Lock()
	defer configMutex.Unlock()

	if currentConfig == nil {
		return fmt.Errorf("配置系统未初始化")
	}

	currentConfig.LLMProvider = provider
	currentConfig.LLMConfig = config

	return saveConfigLocked(getEnv("SCRIPTLOOM_SECRET", ""))
}

// UpdateStreamTuning 更新流式解析调参
func UpdateStreamTuning(debounceMS, quietMS, pollMS, autosaveMS int) error {
	configMutex.Lock()
	defer configMutex.Unlock()

	if currentConfig == nil {
		return fmt.Errorf("配置系统未初始化")
	}

	if debounceMS > 0 {
		currentConfig.ParseDebounceMS = debounceMS
	}
	if quietMS > 0 {
		currentConfig.QuietPeriodMS = quietMS
	}
	if pollMS > 0 {
		currentConfig.PollIntervalMS = pollMS
	}
	if autosaveMS > 0 {
		currentConfig.AutosaveWindowMS = autosaveMS
	}

	return saveConfigLocked(getEnv("SCRIPTLOOM_SECRET", ""))
}

// SaveConfig 保存当前配置到文件
func SaveConfig() error {
	configMutex.Lock()
	defer configMutex.Unlock()
	return saveConfigLocked(getEnv("SCRIPTLOOM_SECRET", ""))
}

// saveConfigLocked 在持有configMutex的前提下写入config.json。
// 设置了SCRIPTLOOM_SECRET时，API密钥以AES-GCM密文落盘。
func saveConfigLocked(secret string) error {
	if currentConfig == nil {
		return fmt.Errorf("没有配置可保存")
	}

	// 确保目录存在
	dir := filepath.Dir(configFile)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("创建配置目录失败: %w", err)
		}
	}

	// 写盘副本：不改动内存中的明文密钥
	persisted := *currentConfig
	persisted.LLMConfig = make(map[string]string, len(currentConfig.LLMConfig))
	for k, v := range currentConfig.LLMConfig {
		persisted.LLMConfig[k] = v
	}
	if secret != "" {
		if key := persisted.LLMConfig["api_key"]; key != "" && !strings.HasPrefix(key, encryptedPrefix) {
			encrypted, err := utils.Encrypt(key, secret)
			if err == nil {
				persisted.LLMConfig["api_key"] = encryptedPrefix + encrypted
			}
		}
	}

	// 序列化并保存
	data, err := json.MarshalIndent(&persisted, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	return os.WriteFile(configFile, data, 0644)
}

// decryptAPIKey 还原落盘的API密钥；未加密的值原样返回
func decryptAPIKey(stored, secret string) string {
	if !strings.HasPrefix(stored, encryptedPrefix) {
		return stored
	}
	if secret == "" {
		log.Println("警告: config.json中的API密钥已加密，但未设置SCRIPTLOOM_SECRET")
		return ""
	}
	plain, err := utils.Decrypt(strings.TrimPrefix(stored, encryptedPrefix), secret)
	if err != nil {
		log.Printf("警告: API密钥解密失败: %v", err)
		return ""
	}
	return plain
}
