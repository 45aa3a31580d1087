package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. DEEPCHAT_SERVER_PORT.
const EnvPrefix = "DEEPCHAT"

// envKeys are the config keys that may be overridden from the environment.
var envKeys = []string{
	"server.host", "server.port", "server.rate_limit_per_minute", "server.cors_origins",
	"server.shutdown_timeout",
	"sessions.max_history", "sessions.max_sessions", "sessions.timeout",
	"sessions.context_messages", "sessions.reset_schedule",
	"search.provider", "search.api_key", "search.base_url", "search.max_results",
	"search.topic", "search.max_retries", "search.retry_delay", "search.min_length",
	"agent.provider", "agent.base_url", "agent.api_key", "agent.model",
	"agent.temperature", "agent.max_tokens", "agent.timeout", "agent.workers",
	"agent.definitions_file",
	"stream.chunk_size", "stream.chunk_delay", "stream.stage_delay",
	"locale", "logging.level", "logging.pretty", "logging.file",
	"tracing.enabled", "data_dir",
}

// legacyEnv maps keys to unprefixed variables kept for existing deployments.
var legacyEnv = map[string]string{
	"agent.base_url": "CUSTOM_API_BASE_URL",
	"agent.api_key":  "CUSTOM_API_KEY",
	"agent.model":    "MODEL_NAME",
	"search.api_key": "TAVILY_API_KEY",
	"server.host":    "HOST",
	"server.port":    "PORT",
}

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load reads the config file (when present) and applies environment overrides
// on top of DefaultConfig.
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()

	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range envKeys {
		names := []string{key, EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}
		if legacy, ok := legacyEnv[key]; ok {
			names = append(names, legacy)
		}
		if err := v.BindEnv(names...); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".deepchat")
	}

	return cfg, nil
}

// Save writes the configuration to the config file as JSON
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("config path could not be determined")
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.Set("server", cfg.Server)
	v.Set("sessions", cfg.Sessions)
	v.Set("search", cfg.Search)
	v.Set("agent", cfg.Agent)
	v.Set("sanitizer", cfg.Sanitizer)
	v.Set("stream", cfg.Stream)
	v.Set("locale", cfg.Locale)
	v.Set("logging", cfg.Logging)
	v.Set("tracing", cfg.Tracing)
	v.Set("data_dir", cfg.DataDir)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".deepchat", "deepchat.json")
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}
