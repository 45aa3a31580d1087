package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/deepchat/internal/observability"
	"github.com/harun/deepchat/internal/tracing"
	"github.com/harun/deepchat/pkg/clock"
	"github.com/harun/deepchat/pkg/retry"
)

// Runner turns a conversation state into an updated one, possibly after
// internal tool calls.
type Runner interface {
	Invoke(ctx context.Context, state State) (State, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, state State) (State, error)

func (f RunnerFunc) Invoke(ctx context.Context, state State) (State, error) {
	return f(ctx, state)
}

// ErrMaxToolTurns is reported when the model keeps requesting tools.
var ErrMaxToolTurns = errors.New("maximum tool execution turns exceeded")

// DefaultApology is the degraded answer used when no locale-specific one is configured.
func DefaultApology(err error) string {
	return fmt.Sprintf("抱歉，生成回答时出现错误：%v", err)
}

// LLMRunnerConfig configures an LLMRunner
type LLMRunnerConfig struct {
	Type        Type
	Provider    LLMProvider
	Model       string
	Temperature float64
	MaxTokens   int
	// MaxAttempts bounds model calls per turn; only transient errors are retried.
	MaxAttempts int
	// RetryBase is the first backoff; later ones double.
	RetryBase    time.Duration
	MaxToolTurns int
	Tools        *Toolset
	Prompt       PromptFunc
	Apology      func(err error) string
	Clock        clock.Clock
	Logger       zerolog.Logger
}

// LLMRunner is a Runner that drives a model through a bounded tool loop.
type LLMRunner struct {
	cfg    LLMRunnerConfig
	policy retry.Policy
}

// NewLLMRunner creates an LLMRunner, filling defaults.
func NewLLMRunner(cfg LLMRunnerConfig) (*LLMRunner, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("agent %s: provider is required", cfg.Type)
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	if cfg.MaxToolTurns <= 0 {
		cfg.MaxToolTurns = 10
	}
	if cfg.Prompt == nil {
		cfg.Prompt = SystemPrompt(cfg.Type)
	}
	if cfg.Apology == nil {
		cfg.Apology = DefaultApology
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}

	return &LLMRunner{
		cfg: cfg,
		policy: retry.Policy{
			MaxAttempts: cfg.MaxAttempts,
			Delay:       retry.Exponential(cfg.RetryBase),
			Retryable:   IsTransient,
		},
	}, nil
}

// Invoke implements Runner. Model failures end the run with an apology turn
// instead of an error; only cancellation of ctx is returned.
func (r *LLMRunner) Invoke(ctx context.Context, state State) (State, error) {
	ctx, span := tracing.StartSpan(ctx, "deepchat.agent", "agent.run",
		attribute.String("agent.type", string(r.cfg.Type)),
		attribute.String("agent.provider", r.cfg.Provider.Provider()),
		attribute.Int("agent.input_messages", len(state.Messages)),
	)
	logger := tracing.LoggerFromContext(ctx, r.cfg.Logger).With().Str("agent_type", string(r.cfg.Type)).Logger()

	systemPrompt := r.cfg.Prompt(r.cfg.Clock.Now())
	messages := append([]Message(nil), state.Messages...)

	for turn := 0; turn < r.cfg.MaxToolTurns; turn++ {
		if err := ctx.Err(); err != nil {
			tracing.EndSpan(span, err)
			return State{Messages: messages}, err
		}

		response, err := r.callWithRetry(ctx, logger, messages, systemPrompt)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				tracing.EndSpan(span, ctxErr)
				return State{Messages: messages}, ctxErr
			}
			logger.Error().Err(err).Int("turn", turn).Msg("Model call failed, answering with apology")
			tracing.EndSpan(span, err)
			var exhausted *retry.ExhaustedError
			if errors.As(err, &exhausted) {
				err = exhausted.Err
			}
			return State{Messages: append(messages, AssistantMessage{Content: r.cfg.Apology(err)})}, nil
		}

		reply := AssistantMessage{Content: response.Content, ToolCalls: response.ToolCalls}
		messages = append(messages, reply)
		if !reply.HasPendingToolCall() {
			span.SetAttributes(attribute.Int("agent.turns", turn+1))
			tracing.EndSpan(span, nil)
			return State{Messages: messages}, nil
		}

		for _, call := range reply.ToolCalls {
			logger.Debug().Str("tool", call.Name).Str("tool_call_id", call.ID).Msg("Executing tool call")
			messages = append(messages, r.cfg.Tools.Execute(ctx, call))
		}
	}

	logger.Warn().Int("max_tool_turns", r.cfg.MaxToolTurns).Msg("Tool loop did not converge")
	tracing.EndSpan(span, ErrMaxToolTurns)
	return State{Messages: append(messages, AssistantMessage{Content: r.cfg.Apology(ErrMaxToolTurns)})}, nil
}

func (r *LLMRunner) callWithRetry(ctx context.Context, logger zerolog.Logger, messages []Message, systemPrompt string) (*LLMResponse, error) {
	provider := r.cfg.Provider.Provider()
	request := LLMRequest{
		Model:        r.cfg.Model,
		Messages:     messages,
		Tools:        r.cfg.Tools.Definitions(),
		Temperature:  r.cfg.Temperature,
		MaxTokens:    r.cfg.MaxTokens,
		SystemPrompt: systemPrompt,
	}

	var response *LLMResponse
	err := r.policy.Do(ctx, r.cfg.Clock, func(ctx context.Context, attempt int) error {
		resp, err := r.cfg.Provider.Call(ctx, request)
		observability.RecordModelCall(provider, err == nil)
		if err != nil {
			return err
		}
		response = resp
		return nil
	}, func(attempt int, err error) {
		observability.RecordModelRetry(provider)
		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", r.cfg.MaxAttempts).
			Msg("Model call timed out, retrying")
	})
	if err != nil {
		return nil, err
	}

	if response.Usage != nil {
		logger.Debug().
			Int("input_tokens", response.Usage.InputTokens).
			Int("output_tokens", response.Usage.OutputTokens).
			Int("tool_calls", len(response.ToolCalls)).
			Msg("Model call completed")
	}
	return response, nil
}
