package search

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/deepchat/internal/observability"
	"github.com/harun/deepchat/internal/tracing"
	"github.com/harun/deepchat/pkg/clock"
	"github.com/harun/deepchat/pkg/retry"
)

// ErrNotConfigured is reported when no search client is available.
var ErrNotConfigured = errors.New("search provider not configured")

// RetryFunc is told about each failed attempt that will be retried.
type RetryFunc func(attempt, maxAttempts int, err error)

// Outcome is the result of one Search call. Failed is set when every attempt
// failed; Results is then empty.
type Outcome struct {
	Results  []Result
	Failed   bool
	Attempts int
	Err      error
}

// InvokerConfig configures an Invoker.
type InvokerConfig struct {
	Client            Client
	MaxRetries        int
	RetryDelay        time.Duration
	MaxResults        int
	Topic             Topic
	IncludeRawContent bool
	Clock             clock.Clock
	Logger            zerolog.Logger
}

// Invoker wraps a Client with a fixed-delay retry loop. It never returns an
// error: exhausted retries yield an empty, failed Outcome.
type Invoker struct {
	client   Client
	policy   retry.Policy
	clock    clock.Clock
	defaults Query
	logger   zerolog.Logger
}

// NewInvoker creates an Invoker.
func NewInvoker(cfg InvokerConfig) *Invoker {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 10
	}
	if cfg.Topic == "" {
		cfg.Topic = TopicGeneral
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}

	return &Invoker{
		client: cfg.Client,
		policy: retry.Policy{
			MaxAttempts: cfg.MaxRetries + 1,
			Delay:       retry.Fixed(cfg.RetryDelay),
		},
		clock: cfg.Clock,
		defaults: Query{
			MaxResults:        cfg.MaxResults,
			Topic:             cfg.Topic,
			IncludeRawContent: cfg.IncludeRawContent,
		},
		logger: cfg.Logger,
	}
}

// Configured reports whether a client is attached.
func (i *Invoker) Configured() bool {
	return i.client != nil
}

// MaxAttempts is the number of provider calls a failing search makes.
func (i *Invoker) MaxAttempts() int {
	return i.policy.MaxAttempts
}

// Search runs text with the configured defaults.
func (i *Invoker) Search(ctx context.Context, text string, onRetry RetryFunc) Outcome {
	q := i.defaults
	q.Text = text
	return i.SearchQuery(ctx, q, onRetry)
}

// SearchQuery runs q, filling zero fields from the configured defaults.
func (i *Invoker) SearchQuery(ctx context.Context, q Query, onRetry RetryFunc) Outcome {
	if q.MaxResults <= 0 {
		q.MaxResults = i.defaults.MaxResults
	}
	if q.Topic == "" {
		q.Topic = i.defaults.Topic
	}

	ctx, span := tracing.StartSpan(ctx, "search", "search.invoke",
		attribute.Int("search.max_results", q.MaxResults),
		attribute.String("search.topic", string(q.Topic)),
	)
	logger := tracing.LoggerFromContext(ctx, i.logger)
	start := i.clock.Now()

	if i.client == nil {
		tracing.EndSpan(span, ErrNotConfigured)
		observability.RecordSearch("failed", 0)
		return Outcome{Failed: true, Err: ErrNotConfigured}
	}

	var out Outcome
	err := i.policy.Do(ctx, i.clock, func(ctx context.Context, attempt int) error {
		out.Attempts = attempt + 1
		raw, err := i.client.Search(ctx, q)
		if err == nil {
			out.Results, err = ParseResults(raw)
		}
		observability.RecordSearchAttempt(err == nil)
		return err
	}, func(attempt int, err error) {
		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", i.policy.MaxAttempts).
			Msg("Search failed, retrying")
		if onRetry != nil {
			onRetry(attempt, i.policy.MaxAttempts, err)
		}
	})

	duration := i.clock.Now().Sub(start)
	tracing.EndSpan(span, err)

	if err != nil {
		logger.Error().Err(err).Int("attempts", out.Attempts).Msg("Search unavailable, continuing without results")
		observability.RecordSearch("failed", duration)
		return Outcome{Results: []Result{}, Failed: true, Attempts: out.Attempts, Err: err}
	}

	outcome := "found"
	if len(out.Results) == 0 {
		outcome = "empty"
	}
	observability.RecordSearch(outcome, duration)
	logger.Debug().Int("results", len(out.Results)).Int("attempts", out.Attempts).Msg("Search completed")

	return out
}
