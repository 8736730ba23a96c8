package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrMissingConfiguration 表示缺少必需的外部标识（API Key、Agent ID 等），
// 没有它任何会话都无法进行。
var ErrMissingConfiguration = errors.New("missing configuration")

// MissingConfigError 记录具体缺失的配置项。
type MissingConfigError struct {
	Field string
	Hint  string
}

func (e *MissingConfigError) Error() string {
	if e.Hint == "" {
		return "missing configuration: " + e.Field
	}
	return "missing configuration: " + e.Field + " (" + e.Hint + ")"
}

// Is 让 errors.Is(err, ErrMissingConfiguration) 成立。
func (e *MissingConfigError) Is(target error) bool {
	return target == ErrMissingConfiguration
}

// Config 全局配置
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	LLM      LLMConfig      `yaml:"llm"`
	Voice    VoiceConfig    `yaml:"voice"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Store    StoreConfig    `yaml:"store"`
	Avatar   AvatarConfig   `yaml:"avatar"`
	Logging  LoggingConfig  `yaml:"logging"`
	Paths    PathsConfig    `yaml:"paths"`
}

type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	PingInterval   time.Duration `yaml:"ping_interval"`
}

// Addr 返回监听地址。
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LLMConfig 对话分析所用的 LLM 配置
type LLMConfig struct {
	Provider  string            `yaml:"provider"` // "openai" or "anthropic"
	OpenAI    LLMProviderConfig `yaml:"openai"`
	Anthropic LLMProviderConfig `yaml:"anthropic"`
}

// LLMProviderConfig LLM 提供商配置
type LLMProviderConfig struct {
	APIKey      string  `yaml:"api_key"`
	APIURL      string  `yaml:"api_url"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// Active 返回当前 provider 对应的配置。
func (c LLMConfig) Active() LLMProviderConfig {
	if c.Provider == "anthropic" {
		return c.Anthropic
	}
	return c.OpenAI
}

// VoiceConfig 外部语音对话代理配置。APIKey 为空时只使用公开 agent。
type VoiceConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// AnalysisConfig 控制分析的触发节奏与窗口大小。
type AnalysisConfig struct {
	// Interval 每累积多少条发言触发一次分析（两轮往返 = 4）。
	Interval     int           `yaml:"interval"`
	RecentWindow int           `yaml:"recent_window"`
	FullWindow   int           `yaml:"full_window"`
	Timeout      time.Duration `yaml:"timeout"`
}

// StoreConfig 目标状态持久化配置。
type StoreConfig struct {
	Driver string       `yaml:"driver"` // memory | redis | sqlite
	Redis  RedisConfig  `yaml:"redis"`
	SQLite SQLiteConfig `yaml:"sqlite"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// AvatarConfig 头像资源校验配置。
type AvatarConfig struct {
	VerifyModels bool          `yaml:"verify_models"`
	CheckTimeout time.Duration `yaml:"check_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | console
	Output string `yaml:"output"` // stdout | stderr | 文件路径
}

type PathsConfig struct {
	// Characters 为空时使用内置的三个角色。
	Characters string `yaml:"characters"`
}

// Default 返回带默认值的配置，Load 在其上覆盖文件内容。
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:           "",
			Port:           8080,
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   30 * time.Second,
			AllowedOrigins: []string{"http://localhost:3000", "http://127.0.0.1:3000"},
			PingInterval:   20 * time.Second,
		},
		LLM: LLMConfig{
			Provider: "openai",
			OpenAI: LLMProviderConfig{
				APIURL:      "https://api.openai.com/v1",
				Model:       "gpt-4o-mini",
				Temperature: 0.3,
				MaxTokens:   800,
			},
			Anthropic: LLMProviderConfig{
				APIURL:      "https://api.anthropic.com/v1",
				Model:       "claude-3-5-haiku-latest",
				Temperature: 0.3,
				MaxTokens:   800,
			},
		},
		Voice: VoiceConfig{
			BaseURL: "https://api.elevenlabs.io",
		},
		Analysis: AnalysisConfig{
			Interval:     4,
			RecentWindow: 3,
			FullWindow:   40,
			Timeout:      12 * time.Second,
		},
		Store: StoreConfig{
			Driver: "memory",
			Redis:  RedisConfig{Prefix: "objectives"},
			SQLite: SQLiteConfig{Path: "data/objectives.db"},
		},
		Avatar: AvatarConfig{
			CheckTimeout: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load 从文件加载配置并做完整校验；path 为空时只使用默认值与环境变量。
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Read 读取配置但不校验，供只需要部分配置的命令使用。
func Read(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)
	return &cfg, nil
}

// applyEnv 从环境变量覆盖敏感信息
func applyEnv(cfg *Config) {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.LLM.OpenAI.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		cfg.LLM.Anthropic.APIKey = key
	}
	// LLM_API_KEY 只作用于当前 provider
	if key := os.Getenv("LLM_API_KEY"); key != "" {
		switch cfg.LLM.Provider {
		case "anthropic":
			cfg.LLM.Anthropic.APIKey = key
		default:
			cfg.LLM.OpenAI.APIKey = key
		}
	}
	if key := os.Getenv("ELEVENLABS_API_KEY"); key != "" {
		cfg.Voice.APIKey = key
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Store.Redis.Addr = addr
	}
	if driver := os.Getenv("JUNCTION_STORE_DRIVER"); driver != "" {
		cfg.Store.Driver = driver
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unsupported LLM provider: %q", c.LLM.Provider)
	}
	if c.LLM.Active().APIKey == "" {
		return &MissingConfigError{Field: "llm." + c.LLM.Provider + ".api_key", Hint: "set OPENAI_API_KEY / ANTHROPIC_API_KEY / LLM_API_KEY"}
	}

	if c.Analysis.Interval <= 0 {
		return fmt.Errorf("analysis.interval must be positive, got %d", c.Analysis.Interval)
	}
	if c.Analysis.RecentWindow <= 0 || c.Analysis.FullWindow <= 0 {
		return fmt.Errorf("analysis windows must be positive")
	}
	if c.Analysis.FullWindow < c.Analysis.RecentWindow {
		return fmt.Errorf("analysis.full_window (%d) must be >= recent_window (%d)", c.Analysis.FullWindow, c.Analysis.RecentWindow)
	}

	return c.ValidateStore()
}

// ValidateStore 只校验持久化相关配置。
func (c *Config) ValidateStore() error {
	switch c.Store.Driver {
	case "memory":
	case "redis":
		if c.Store.Redis.Addr == "" {
			return &MissingConfigError{Field: "store.redis.addr", Hint: "set REDIS_ADDR"}
		}
	case "sqlite":
		if c.Store.SQLite.Path == "" {
			return &MissingConfigError{Field: "store.sqlite.path"}
		}
	default:
		return fmt.Errorf("unsupported store driver: %q", c.Store.Driver)
	}
	return nil
}
