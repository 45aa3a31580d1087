package orchestrator

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/deepchat/internal/observability"
	"github.com/harun/deepchat/internal/tracing"
	"github.com/harun/deepchat/pkg/agent"
	"github.com/harun/deepchat/pkg/extract"
	"github.com/harun/deepchat/pkg/search"
	"github.com/harun/deepchat/pkg/stream"
)

const tracerName = "deepchat.orchestrator"

func (m *Manager) shouldSearch(message string) bool {
	return m.searcher.Configured() && m.decider.NeedsSearch(message)
}

func (m *Manager) reply(req Request, answer string, results []search.Result) Response {
	return Response{
		Message:   answer,
		AgentType: req.AgentType,
		Sources:   formatSources(results),
		SessionID: req.SessionID,
		Timestamp: m.clock.Now(),
	}
}

// ProcessMessage answers req in one response. Only an invalid request is
// returned as an error; every later failure becomes the reply text.
func (m *Manager) ProcessMessage(ctx context.Context, req Request) (resp Response, err error) {
	req, t, err := m.validate(req)
	if err != nil {
		return Response{}, err
	}

	ctx = tracing.WithSessionID(ctx, req.SessionID)
	ctx, span := tracing.StartSpan(ctx, tracerName, "orchestrator.process",
		attribute.String("session.id", req.SessionID),
		attribute.String("agent.type", string(t)),
	)
	logger := tracing.LoggerFromContext(ctx, m.logger)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Chat pipeline panicked")
			resp = m.reply(req, m.catalog.processingError(r), nil)
			err = nil
			tracing.EndSpan(span, fmt.Errorf("panic: %v", r))
			return
		}
		tracing.EndSpan(span, nil)
	}()

	m.stats.RecordRequest()
	observability.RecordRequest("chat")

	sess := m.store.Resolve(req.SessionID)

	if !m.agents.Available(t) {
		logger.Warn().Str("agent_type", string(t)).Msg("Agent unavailable")
		return m.reply(req, m.catalog.UnavailableReply, nil), nil
	}

	var results []search.Result
	if m.shouldSearch(req.Message) {
		results = m.searcher.Search(ctx, req.Message, nil).Results
	}

	state := agent.NewState(historyMessages(sess.History, m.contextMessages)...)
	if block := search.ContextBlock(results, contextLimit, contextRunes, m.catalog.ContextLabels); block != "" {
		state = state.With(agent.SystemMessage{Content: block})
	}
	state = state.With(agent.UserMessage{Content: req.Message})

	out := m.agents.InvokeOrDegrade(ctx, t, state)
	answer := m.sanitizer.Clean(extract.Answer(appended(state, out), m.catalog.EmptyAnswer))

	m.store.AppendTurn(req.SessionID, req.Message, answer)

	logger.Info().
		Int("results", len(results)).
		Int("answer_runes", utf8.RuneCountInString(answer)).
		Dur("duration", time.Since(start)).
		Msg("Chat request completed")

	return m.reply(req, answer, results), nil
}

// StreamMessage runs req and delivers its progress and answer to sink as
// ordered events ending in exactly one terminal event. Only an invalid
// request is returned as an error, before any event is sent.
func (m *Manager) StreamMessage(ctx context.Context, req Request, sink stream.Sink) error {
	req, t, err := m.validate(req)
	if err != nil {
		return err
	}

	ctx = tracing.WithSessionID(ctx, req.SessionID)
	ctx, span := tracing.StartSpan(ctx, tracerName, "orchestrator.stream",
		attribute.String("session.id", req.SessionID),
		attribute.String("agent.type", string(t)),
	)
	logger := tracing.LoggerFromContext(ctx, m.logger)
	em := stream.NewEmitter(sink, req.SessionID, m.streamCfg, m.clock, logger)

	defer func() {
		var spanErr error
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Stream pipeline panicked")
			spanErr = fmt.Errorf("panic: %v", r)
			m.fail(ctx, em, r)
		}
		if spanErr == nil {
			spanErr = em.SinkErr()
		}
		span.SetAttributes(
			attribute.Int("stream.events", em.Seq()),
			attribute.String("stream.terminal", string(em.Terminal())),
		)
		tracing.EndSpan(span, spanErr)
	}()

	m.stats.RecordRequest()
	observability.RecordRequest("stream")

	if err := m.runStream(ctx, logger, em, req, t); err != nil {
		logger.Error().Err(err).Msg("Stream pipeline failed")
		m.fail(ctx, em, err)
	}
	return nil
}

// fail emits the terminal error event unless the stream already ended.
func (m *Manager) fail(ctx context.Context, em *stream.Emitter, cause interface{}) {
	if em.Closed() {
		return
	}
	_ = em.Send(ctx, stream.EventError, m.catalog.systemError(cause))
}

func (m *Manager) runStream(ctx context.Context, logger zerolog.Logger, em *stream.Emitter, req Request, t agent.Type) error {
	cat := m.catalog
	name := m.definitions.DisplayName(t, cat.Locale)

	if err := em.Send(ctx, stream.EventStart, cat.Start); err != nil {
		return err
	}
	if err := em.Pause(ctx); err != nil {
		return err
	}

	sess := m.store.Resolve(req.SessionID)

	if !m.agents.Available(t) {
		logger.Warn().Str("agent_type", string(t)).Msg("Agent unavailable")
		return em.Send(ctx, stream.EventAgentUnavailable, cat.agentUnavailable(name))
	}

	if err := em.Send(ctx, stream.EventAgentSelected, cat.agentSelected(name)); err != nil {
		return err
	}
	if err := em.Pause(ctx); err != nil {
		return err
	}

	var results []search.Result
	if m.shouldSearch(req.Message) {
		if err := em.Send(ctx, stream.EventSearch, cat.Search); err != nil {
			return err
		}

		outcome := m.searcher.Search(ctx, req.Message, func(attempt, maxAttempts int, _ error) {
			_ = em.Send(ctx, stream.EventSearchRetry, cat.searchRetry(attempt, maxAttempts))
		})
		results = outcome.Results

		var err error
		switch {
		case outcome.Failed:
			err = em.Send(ctx, stream.EventSearchFailed, cat.SearchFailed)
		case len(results) > 0:
			err = em.Send(ctx, stream.EventSearchComplete, cat.searchComplete(len(results)))
		default:
			err = em.Send(ctx, stream.EventSearchEmpty, cat.SearchEmpty)
		}
		if err != nil {
			return err
		}
		if err := em.Pause(ctx); err != nil {
			return err
		}
	}

	if err := em.Send(ctx, stream.EventAnalyzing, cat.Analyzing); err != nil {
		return err
	}
	if err := em.Send(ctx, stream.EventAgentThinking, cat.AgentThinking); err != nil {
		return err
	}

	state := agent.NewState(historyMessages(sess.History, m.contextMessages)...).
		With(agent.UserMessage{Content: req.Message})

	out, err := m.agents.Invoke(ctx, t, state)
	if err != nil {
		logger.Warn().Err(err).Msg("Agent failed, answering in simplified mode")
		return m.streamFallback(ctx, em, err)
	}

	if err := em.Send(ctx, stream.EventProcessingComplete, cat.ProcessingComplete); err != nil {
		return err
	}

	answer := m.sanitizer.Clean(extract.Answer(appended(state, out), cat.EmptyAnswer))

	if err := em.Send(ctx, stream.EventGenerating, cat.Generating); err != nil {
		return err
	}
	if err := em.Content(ctx, answer); err != nil {
		return err
	}

	m.store.AppendTurn(req.SessionID, req.Message, answer)

	return em.Emit(ctx, stream.Event{
		Type:    stream.EventComplete,
		Message: cat.Complete,
		Sources: formatSources(results),
		Stats: &stream.Stats{
			ResponseLength:     utf8.RuneCountInString(answer),
			SearchResultsCount: len(results),
			AgentType:          name,
		},
	})
}

func (m *Manager) streamFallback(ctx context.Context, em *stream.Emitter, cause error) error {
	cat := m.catalog
	if err := em.Send(ctx, stream.EventAgentError, cat.agentError(cause)); err != nil {
		return err
	}
	if err := em.Send(ctx, stream.EventFallback, cat.Fallback); err != nil {
		return err
	}
	if err := em.Emit(ctx, stream.Event{
		Type:     stream.EventContent,
		Message:  cat.fallbackAnswer(cause),
		Progress: stream.Progress(0, 1),
	}); err != nil {
		return err
	}
	return em.Send(ctx, stream.EventComplete, cat.FallbackComplete)
}
