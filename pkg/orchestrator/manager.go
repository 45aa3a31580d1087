// Package orchestrator sequences session resolution, search augmentation,
// agent invocation, answer extraction, sanitization and streaming into the
// chat pipeline served by the gateway.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/deepchat/internal/observability"
	"github.com/harun/deepchat/pkg/agent"
	"github.com/harun/deepchat/pkg/clock"
	"github.com/harun/deepchat/pkg/sanitize"
	"github.com/harun/deepchat/pkg/search"
	"github.com/harun/deepchat/pkg/session"
	"github.com/harun/deepchat/pkg/stream"
)

// ErrInvalidRequest is returned for requests the pipeline refuses to run.
var ErrInvalidRequest = errors.New("invalid request")

const (
	// DefaultContextMessages is how many history turns accompany a
	// non-streaming request.
	DefaultContextMessages = 8

	sourceLimit        = 5
	sourceContentRunes = 200
	contextLimit       = 3
	contextRunes       = 500
)

// Request is one chat turn.
type Request struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	AgentType string `json:"agent_type"`
}

// Response is the non-streaming reply.
type Response struct {
	Message   string          `json:"message"`
	AgentType string          `json:"agent_type"`
	Sources   []search.Source `json:"sources"`
	SessionID string          `json:"session_id"`
	Timestamp time.Time       `json:"timestamp"`
}

// APIStatus reports which external collaborators are configured.
type APIStatus struct {
	PrimaryAPI bool `json:"primary_api"`
	SearchAPI  bool `json:"search_api"`
}

// Status is the process summary served by the status endpoint.
type Status struct {
	ActiveSessions int        `json:"active_sessions"`
	TotalRequests  int64      `json:"total_requests"`
	APIStatus      APIStatus  `json:"api_status"`
	LastActivity   *time.Time `json:"last_activity"`
}

// Deps are the components a Manager sequences. Store, Agents and Sanitizer
// are required.
type Deps struct {
	Store     *session.Store
	Stats     *session.Stats
	Decider   *search.Decider
	Search    *search.Invoker
	Agents    *agent.Invoker
	Sanitizer *sanitize.Sanitizer
}

// Manager runs chat requests through the pipeline.
type Manager struct {
	store     *session.Store
	stats     *session.Stats
	decider   *search.Decider
	searcher  *search.Invoker
	agents    *agent.Invoker
	sanitizer *sanitize.Sanitizer

	catalog         Catalog
	definitions     agent.Definitions
	streamCfg       stream.Config
	contextMessages int
	clock           clock.Clock
	logger          zerolog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the clock used for timestamps and stream pauses.
func WithClock(clk clock.Clock) Option {
	return func(m *Manager) {
		if clk != nil {
			m.clock = clk
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithLocale selects the message catalog.
func WithLocale(locale string) Option {
	return func(m *Manager) {
		m.catalog = CatalogFor(locale)
	}
}

// WithAgentDefinitions overrides the display names of agent variants.
func WithAgentDefinitions(defs agent.Definitions) Option {
	return func(m *Manager) {
		m.definitions = defs
	}
}

// WithStreamConfig sets chunking and pacing of streamed answers.
func WithStreamConfig(cfg stream.Config) Option {
	return func(m *Manager) {
		m.streamCfg = cfg
	}
}

// WithContextMessages sets how many history turns are sent with a
// non-streaming request. Zero sends none.
func WithContextMessages(n int) Option {
	return func(m *Manager) {
		if n >= 0 {
			m.contextMessages = n
		}
	}
}

// New creates a Manager.
func New(deps Deps, opts ...Option) (*Manager, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if deps.Agents == nil {
		return nil, fmt.Errorf("agent invoker is required")
	}
	if deps.Sanitizer == nil {
		return nil, fmt.Errorf("sanitizer is required")
	}

	m := &Manager{
		store:           deps.Store,
		stats:           deps.Stats,
		decider:         deps.Decider,
		searcher:        deps.Search,
		agents:          deps.Agents,
		sanitizer:       deps.Sanitizer,
		catalog:         CatalogFor(DefaultLocale),
		streamCfg:       stream.DefaultConfig(),
		contextMessages: DefaultContextMessages,
		clock:           clock.Real(),
		logger:          zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.stats == nil {
		m.stats = session.NewStats(m.clock)
	}
	if m.decider == nil {
		m.decider = search.NewDecider(nil, search.DefaultMinLength)
	}
	if m.searcher == nil {
		m.searcher = search.NewInvoker(search.InvokerConfig{Clock: m.clock, Logger: m.logger})
	}

	observability.EnsureRegistered()
	return m, nil
}

// Catalog returns the active message catalog.
func (m *Manager) Catalog() Catalog {
	return m.catalog
}

// validate normalizes req and resolves its agent type.
func (m *Manager) validate(req Request) (Request, agent.Type, error) {
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		return req, "", fmt.Errorf("%w: message is required", ErrInvalidRequest)
	}

	id, err := session.NormalizeID(req.SessionID)
	if err != nil {
		return req, "", fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	req.SessionID = id

	t, err := agent.ParseType(req.AgentType)
	if err != nil {
		return req, "", fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	req.AgentType = string(t)

	return req, t, nil
}

// Status summarizes the process.
func (m *Manager) Status() Status {
	primary := false
	for _, t := range agent.Types {
		if m.agents.Available(t) {
			primary = true
			break
		}
	}

	return Status{
		ActiveSessions: m.store.Len(),
		TotalRequests:  m.stats.TotalRequests(),
		APIStatus: APIStatus{
			PrimaryAPI: primary,
			SearchAPI:  m.searcher.Configured(),
		},
		LastActivity: m.stats.LastActivity(),
	}
}

// Reset drops one session and any agent runs still queued for it. It
// reports whether the session existed.
func (m *Manager) Reset(ctx context.Context, sessionID, actor string) (bool, error) {
	id, err := session.NormalizeID(sessionID)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	cancelled := m.agents.CancelPending(id)
	existed := m.store.Reset(id)

	removed := 0
	if existed {
		removed = 1
	}
	observability.RecordSessionAudit(ctx, "session.reset", actor, id, removed)
	m.logger.Info().
		Str("session_id", id).
		Bool("existed", existed).
		Int("cancelled_runs", cancelled).
		Msg("Session reset")

	return existed, nil
}

// ClearAll drops every session and returns how many were removed.
func (m *Manager) ClearAll(ctx context.Context, actor string) int {
	for _, id := range m.store.IDs() {
		m.agents.CancelPending(id)
	}
	n := m.store.ClearAll()

	observability.RecordSessionAudit(ctx, "session.clear_all", actor, "", n)
	m.logger.Info().Int("removed", n).Str("actor", actor).Msg("All sessions cleared")
	return n
}

// historyMessages converts the tail of a session history into agent messages.
func historyMessages(turns []session.Turn, limit int) []agent.Message {
	if limit <= 0 {
		return nil
	}
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}

	out := make([]agent.Message, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case session.RoleUser:
			out = append(out, agent.UserMessage{Content: turn.Content})
		case session.RoleAssistant:
			out = append(out, agent.AssistantMessage{Content: turn.Content})
		}
	}
	return out
}

// appended returns the messages out added on top of in.
func appended(in, out agent.State) []agent.Message {
	if len(out.Messages) < len(in.Messages) {
		return out.Messages
	}
	return out.Messages[len(in.Messages):]
}

func formatSources(results []search.Result) []search.Source {
	return search.Sources(results, sourceLimit, sourceContentRunes)
}
