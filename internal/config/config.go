package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AppInfo 对应 'app' 部分，包含应用程序的基本信息。
type AppInfo struct {
	Name        string `yaml:"name"`        // 应用程序名称
	Version     string `yaml:"version"`     // 应用程序版本
	Environment string `yaml:"environment"` // 运行环境 (例如: "development", "production")
}

// LoggerConfig 定义了日志记录器的配置。
type LoggerConfig struct {
	Level string `yaml:"level"` // 日志级别 (例如: "info", "debug", "warn", "error")
}

// HTTPConfig 定义了 HTTP 服务的监听配置。
type HTTPConfig struct {
	Address string `yaml:"address"` // 监听地址 (例如: ":8080")
}

// AuthConfig 定义了业务 API 的认证配置。
// 令牌由外部的认证服务签发，这里只负责校验。
type AuthConfig struct {
	JwtSecret string `yaml:"jwtSecret"` // JWT 密钥
}

// MySQLConfig 定义了 MySQL 数据库的连接配置。
type MySQLConfig struct {
	Address         string `yaml:"address"`         // MySQL 服务器地址
	Username        string `yaml:"username"`        // 用户名
	Password        string `yaml:"password"`        // 密码
	Database        string `yaml:"database"`        // 数据库名称
	MaxOpenConns    int    `yaml:"maxOpenConns"`    // 最大打开连接数
	MaxIdleConns    int    `yaml:"maxIdleConns"`    // 最大空闲连接数
	ConnMaxLifetime int    `yaml:"connMaxLifetime"` // 连接最大生命周期 (秒)
}

// RedisConfig 定义了 Redis 数据库的连接配置。
type RedisConfig struct {
	Address  string `yaml:"address"`  // Redis 服务器地址 (例如: "localhost:6379")
	Password string `yaml:"password"` // Redis 密码
	DB       int    `yaml:"db"`       // Redis 数据库编号
}

// GeminiConfig 包含了 Gemini 模型的配置。
type GeminiConfig struct {
	APIKey string `yaml:"apiKey"` // Gemini API 密钥
	Model  string `yaml:"model"`  // Gemini 模型名称
}

// EmbeddingConfig 包含了 Embedding 模型的配置。
type EmbeddingConfig struct {
	Gemini    GeminiConfig `yaml:"gemini"`    // Gemini Embedding 模型配置
	Dimension int          `yaml:"dimension"` // 向量维度 (例如: text-embedding-004 为 768)
}

// LLMConfig 包含了回复生成模型的配置。
type LLMConfig struct {
	Gemini GeminiConfig `yaml:"gemini"` // Gemini 生成模型配置
}

// GraphConfig 定义了 Meta Graph API 的配置。
type GraphConfig struct {
	BaseURL     string `yaml:"baseURL"`     // Graph API 基础地址 (例如: "https://graph.facebook.com")
	Version     string `yaml:"version"`     // Graph API 版本 (例如: "v21.0")
	VerifyToken string `yaml:"verifyToken"` // Webhook 验证令牌
	// 熔断器配置: 连续失败次数达到阈值后临时拒绝外呼。
	BreakerFailureThreshold uint32 `yaml:"breakerFailureThreshold"`
	BreakerSuccessThreshold uint32 `yaml:"breakerSuccessThreshold"`
	BreakerTimeout          string `yaml:"breakerTimeout"` // Open 状态持续时间 (例如: "30s")
}

// ChunkerConfig 定义了文本切分器的配置。切分单位固定为字符。
type ChunkerConfig struct {
	MaxChars int `yaml:"maxChars"` // 单个 chunk 的最大字符数
	Overlap  int `yaml:"overlap"`  // 相邻 chunk 的重叠字符数
}

// RetrievalConfig 定义了检索引擎的配置。
type RetrievalConfig struct {
	TopK           int `yaml:"topK"`           // 默认返回的片段数量
	CandidateLimit int `yaml:"candidateLimit"` // 候选窗口大小 (仅在窗口内保证排序正确性)
}

// WebhookConfig 定义了事件处理管线的配置。
type WebhookConfig struct {
	Workers       int    `yaml:"workers"`       // 并发处理事件的 worker 数量
	CallTimeout   string `yaml:"callTimeout"`   // 单次外部调用的超时 (例如: "15s")
	PageCacheTTL  string `yaml:"pageCacheTTL"`  // Redis 页面缓存的 TTL (例如: "5m")
	FallbackReply string `yaml:"fallbackReply"` // 生成失败时的兜底回复文案
}

// AppConfig 是整个 YAML 文件的根结构，包含了应用程序的所有配置。
type AppConfig struct {
	App       AppInfo         `yaml:"app"`       // 应用程序信息
	Logger    LoggerConfig    `yaml:"logger"`    // 日志记录器配置
	HTTP      HTTPConfig      `yaml:"http"`      // HTTP 服务配置
	Auth      AuthConfig      `yaml:"auth"`      // 认证配置
	MySQL     MySQLConfig     `yaml:"mysql"`     // MySQL 数据库配置
	Redis     RedisConfig     `yaml:"redis"`     // Redis 配置
	Embedding EmbeddingConfig `yaml:"embedding"` // Embedding 配置部分
	LLM       LLMConfig       `yaml:"llm"`       // LLM 配置部分
	Graph     GraphConfig     `yaml:"graph"`     // Meta Graph API 配置
	Chunker   ChunkerConfig   `yaml:"chunker"`   // 文本切分配置
	Retrieval RetrievalConfig `yaml:"retrieval"` // 检索配置
	Webhook   WebhookConfig   `yaml:"webhook"`   // 事件管线配置
}

// LoadConfig 从指定路径读取并解析 YAML 配置文件。
func LoadConfig(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("无法读取配置文件 %s: %w", path, err)
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("无法解析配置文件 %s: %w", path, err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// applyDefaults 为未显式配置的字段填充默认值。
func applyDefaults(cfg *AppConfig) {
	if cfg.HTTP.Address == "" {
		cfg.HTTP.Address = ":8080"
	}
	if cfg.Chunker.MaxChars == 0 {
		cfg.Chunker.MaxChars = 1200
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 5
	}
	if cfg.Retrieval.CandidateLimit == 0 {
		cfg.Retrieval.CandidateLimit = 2000
	}
	if cfg.Webhook.Workers == 0 {
		cfg.Webhook.Workers = 4
	}
	if cfg.Webhook.CallTimeout == "" {
		cfg.Webhook.CallTimeout = "15s"
	}
	if cfg.Webhook.PageCacheTTL == "" {
		cfg.Webhook.PageCacheTTL = "5m"
	}
	if cfg.Webhook.FallbackReply == "" {
		cfg.Webhook.FallbackReply = "Thanks for reaching out! We'll get back to you shortly."
	}
	if cfg.Graph.BaseURL == "" {
		cfg.Graph.BaseURL = "https://graph.facebook.com"
	}
	if cfg.Graph.Version == "" {
		cfg.Graph.Version = "v21.0"
	}
	if cfg.Graph.BreakerFailureThreshold == 0 {
		cfg.Graph.BreakerFailureThreshold = 5
	}
	if cfg.Graph.BreakerSuccessThreshold == 0 {
		cfg.Graph.BreakerSuccessThreshold = 2
	}
	if cfg.Graph.BreakerTimeout == "" {
		cfg.Graph.BreakerTimeout = "30s"
	}
	if cfg.Embedding.Dimension == 0 {
		cfg.Embedding.Dimension = 768
	}
}
