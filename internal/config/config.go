package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config represents the main deepchat configuration
type Config struct {
	// HTTP and websocket listener
	Server ServerConfig `json:"server" mapstructure:"server"`

	// In-memory session table
	Sessions SessionsConfig `json:"sessions" mapstructure:"sessions"`

	// Search augmentation
	Search SearchConfig `json:"search" mapstructure:"search"`

	// Agent runtime and model provider
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Answer cleanup
	Sanitizer SanitizerConfig `json:"sanitizer" mapstructure:"sanitizer"`

	// Streaming protocol pacing
	Stream StreamConfig `json:"stream" mapstructure:"stream"`

	// Locale of user-facing messages (zh, en)
	Locale string `json:"locale" mapstructure:"locale"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Tracing
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ServerConfig holds gateway server configuration
type ServerConfig struct {
	Host               string        `json:"host" mapstructure:"host"`
	Port               int           `json:"port" mapstructure:"port"`
	RateLimitPerMinute int           `json:"rate_limit_per_minute" mapstructure:"rate_limit_per_minute"`
	CORSOrigins        []string      `json:"cors_origins" mapstructure:"cors_origins"`
	ShutdownTimeout    time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// SessionsConfig holds session table limits
type SessionsConfig struct {
	MaxHistory      int           `json:"max_history" mapstructure:"max_history"`
	MaxSessions     int           `json:"max_sessions" mapstructure:"max_sessions"`
	Timeout         time.Duration `json:"timeout" mapstructure:"timeout"`
	ContextMessages int           `json:"context_messages" mapstructure:"context_messages"`
	// Cron expression for a periodic ClearAll; empty disables it.
	ResetSchedule string `json:"reset_schedule" mapstructure:"reset_schedule"`
}

// SearchConfig holds search provider and decision settings
type SearchConfig struct {
	Provider          string        `json:"provider" mapstructure:"provider"`
	APIKey            string        `json:"api_key" mapstructure:"api_key"`
	BaseURL           string        `json:"base_url" mapstructure:"base_url"`
	MaxResults        int           `json:"max_results" mapstructure:"max_results"`
	Topic             string        `json:"topic" mapstructure:"topic"` // general, news, finance
	IncludeRawContent bool          `json:"include_raw_content" mapstructure:"include_raw_content"`
	MaxRetries        int           `json:"max_retries" mapstructure:"max_retries"`
	RetryDelay        time.Duration `json:"retry_delay" mapstructure:"retry_delay"`
	Timeout           time.Duration `json:"timeout" mapstructure:"timeout"`
	MinLength         int           `json:"min_length" mapstructure:"min_length"`
	Keywords          []string      `json:"keywords" mapstructure:"keywords"`
}

// AgentConfig holds the model provider used by every agent variant
type AgentConfig struct {
	Provider        string        `json:"provider" mapstructure:"provider"` // openai, anthropic
	BaseURL         string        `json:"base_url" mapstructure:"base_url"`
	APIKey          string        `json:"api_key" mapstructure:"api_key"`
	Model           string        `json:"model" mapstructure:"model"`
	Temperature     float64       `json:"temperature" mapstructure:"temperature"`
	MaxTokens       int           `json:"max_tokens" mapstructure:"max_tokens"`
	Timeout         time.Duration `json:"timeout" mapstructure:"timeout"`
	ConnectTimeout  time.Duration `json:"connect_timeout" mapstructure:"connect_timeout"`
	MaxAttempts     int           `json:"max_attempts" mapstructure:"max_attempts"`
	MaxToolTurns    int           `json:"max_tool_turns" mapstructure:"max_tool_turns"`
	Workers         int           `json:"workers" mapstructure:"workers"`
	DefinitionsFile string        `json:"definitions_file" mapstructure:"definitions_file"` // optional .json/.yaml prompt and name overrides
}

// SanitizerConfig holds the leakage phrase sets
type SanitizerConfig struct {
	LeakPatterns []string `json:"leak_patterns" mapstructure:"leak_patterns"`
	LinePrefixes []string `json:"line_prefixes" mapstructure:"line_prefixes"`
	MinLength    int      `json:"min_length" mapstructure:"min_length"`
}

// StreamConfig holds streaming pacing
type StreamConfig struct {
	ChunkSize  int           `json:"chunk_size" mapstructure:"chunk_size"`
	ChunkDelay time.Duration `json:"chunk_delay" mapstructure:"chunk_delay"`
	StageDelay time.Duration `json:"stage_delay" mapstructure:"stage_delay"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	ServiceName string `json:"service_name" mapstructure:"service_name"`
}

// DefaultSearchKeywords is the keyword set that marks a message as needing search.
var DefaultSearchKeywords = []string{
	"搜索", "查找", "研究", "最新", "新闻", "数据", "统计", "报告",
	"分析", "趋势", "现状", "发展", "比较", "对比",
	"search", "find", "research", "latest", "news", "data", "statistic",
	"report", "analy", "trend", "status", "development", "compare",
}

// DefaultLeakPatterns match internal tool-use narration that must not reach users.
var DefaultLeakPatterns = []string{
	`写入.*?\.txt.*?文件.*?中`,
	`将.*?写入.*?文件`,
	`写入.*?文件`,
	`保存到.*?文件`,
	`创建.*?文件`,
	`question\.txt`,
	`final_report\.md`,
	`使用.*?代理`,
	`调用.*?代理`,
	`research-agent`,
	`critique-agent`,
	`writ(?:e|ing) .{0,40}?(?:in)?to (?:a |the )?file`,
	`sav(?:e|ing) .{0,40}?to (?:a |the )?file`,
	`creat(?:e|ing) (?:a |the )?(?:new )?file`,
}

// DefaultLinePrefixes drop whole lines announcing internal actions.
var DefaultLinePrefixes = []string{
	"将原始用户问题", "写入", "保存", "创建", "调用", "使用",
	"I will now write", "I will now save", "I will now create", "I will now call",
	"I'll write", "I'll save", "I'll create", "I'll call",
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               8000,
			RateLimitPerMinute: 120,
			CORSOrigins:        []string{"*"},
			ShutdownTimeout:    30 * time.Second,
		},
		Sessions: SessionsConfig{
			MaxHistory:      20,
			MaxSessions:     100,
			Timeout:         time.Hour,
			ContextMessages: 8,
		},
		Search: SearchConfig{
			Provider:          "tavily",
			BaseURL:           "https://api.tavily.com",
			MaxResults:        10,
			Topic:             "general",
			IncludeRawContent: true,
			MaxRetries:        2,
			RetryDelay:        time.Second,
			Timeout:           30 * time.Second,
			MinLength:         30,
			Keywords:          append([]string(nil), DefaultSearchKeywords...),
		},
		Agent: AgentConfig{
			Provider:       "openai",
			Model:          "Qwen3-235B",
			Temperature:    0.7,
			MaxTokens:      2000,
			Timeout:        120 * time.Second,
			ConnectTimeout: 30 * time.Second,
			MaxAttempts:    3,
			MaxToolTurns:   10,
			Workers:        8,
		},
		Sanitizer: SanitizerConfig{
			LeakPatterns: append([]string(nil), DefaultLeakPatterns...),
			LinePrefixes: append([]string(nil), DefaultLinePrefixes...),
			MinLength:    10,
		},
		Stream: StreamConfig{
			ChunkSize:  100,
			ChunkDelay: 50 * time.Millisecond,
			StageDelay: 300 * time.Millisecond,
		},
		Locale: "zh",
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Redaction: true,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "deepchat",
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	errs := NewValidator().ValidateConfig(c)
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// AgentConfigured reports whether a model provider can be built.
func (c *Config) AgentConfigured() bool {
	return c.Agent.APIKey != ""
}

// SearchConfigured reports whether the search provider has credentials.
func (c *Config) SearchConfigured() bool {
	return c.Search.APIKey != ""
}
