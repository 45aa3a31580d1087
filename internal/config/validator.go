package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateProvider validates the agent model provider name
func (v *Validator) ValidateProvider(provider string) error {
	return oneOf("agent provider", provider, "openai", "anthropic")
}

// ValidateBaseURL validates an optional absolute http(s) URL
func (v *Validator) ValidateBaseURL(field, raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https, got %q", field, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s is missing a host", field)
	}
	return nil
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	return oneOf("log level", level, "debug", "info", "warn", "error")
}

// ValidateTopic validates the search topic
func (v *Validator) ValidateTopic(topic string) error {
	return oneOf("search topic", topic, "general", "news", "finance")
}

// ValidateLocale validates the message catalog locale
func (v *Validator) ValidateLocale(locale string) error {
	return oneOf("locale", locale, "zh", "en")
}

// ValidateSchedule validates an optional standard cron expression
func (v *Validator) ValidateSchedule(expr string) error {
	if expr == "" {
		return nil
	}
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("invalid sessions.reset_schedule %q: %w", expr, err)
	}
	return nil
}

// ValidateDefinitionsFile checks the extension of the optional agent
// definitions file
func (v *Validator) ValidateDefinitionsFile(path string) error {
	if path == "" {
		return nil
	}
	return oneOf("agent.definitions_file extension", strings.ToLower(filepath.Ext(path)), ".json", ".yaml", ".yml")
}

// ValidatePatterns checks that every leak pattern compiles
func (v *Validator) ValidatePatterns(patterns []string) error {
	for _, p := range patterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("invalid sanitizer pattern %q: %w", p, err)
		}
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	add := func(err error) {
		if err != nil {
			errors = append(errors, err)
		}
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		add(fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port))
	}
	if cfg.Server.RateLimitPerMinute < 0 {
		add(fmt.Errorf("server.rate_limit_per_minute must be >= 0"))
	}

	if cfg.Sessions.MaxHistory < 2 {
		add(fmt.Errorf("sessions.max_history must be >= 2"))
	}
	if cfg.Sessions.MaxSessions < 1 {
		add(fmt.Errorf("sessions.max_sessions must be >= 1"))
	}
	if cfg.Sessions.Timeout <= 0 {
		add(fmt.Errorf("sessions.timeout must be positive"))
	}
	if cfg.Sessions.ContextMessages < 0 {
		add(fmt.Errorf("sessions.context_messages must be >= 0"))
	}
	add(v.ValidateSchedule(cfg.Sessions.ResetSchedule))

	add(v.ValidateBaseURL("search.base_url", cfg.Search.BaseURL))
	add(v.ValidateTopic(cfg.Search.Topic))
	if cfg.Search.MaxResults < 1 {
		add(fmt.Errorf("search.max_results must be >= 1"))
	}
	if cfg.Search.MaxRetries < 0 {
		add(fmt.Errorf("search.max_retries must be >= 0"))
	}
	if cfg.Search.RetryDelay < 0 {
		add(fmt.Errorf("search.retry_delay must be >= 0"))
	}

	add(v.ValidateProvider(cfg.Agent.Provider))
	add(v.ValidateBaseURL("agent.base_url", cfg.Agent.BaseURL))
	add(v.ValidateTemperature(cfg.Agent.Temperature))
	add(v.ValidateMaxTokens(cfg.Agent.MaxTokens))
	if cfg.Agent.MaxAttempts < 1 {
		add(fmt.Errorf("agent.max_attempts must be >= 1"))
	}
	if cfg.Agent.Workers < 1 {
		add(fmt.Errorf("agent.workers must be >= 1"))
	}
	if cfg.Agent.Model == "" {
		add(fmt.Errorf("agent.model is required"))
	}
	add(v.ValidateDefinitionsFile(cfg.Agent.DefinitionsFile))

	add(v.ValidatePatterns(cfg.Sanitizer.LeakPatterns))
	if cfg.Stream.ChunkSize < 1 {
		add(fmt.Errorf("stream.chunk_size must be >= 1"))
	}

	add(v.ValidateLocale(cfg.Locale))
	add(v.ValidateLogLevel(cfg.Logging.Level))

	return errors
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("invalid %s: %s (must be one of: %s)", field, value, strings.Join(allowed, ", "))
}
