package tracing

import (
	"context"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// RequestIDKey is the context key for the inbound request ID
	RequestIDKey ContextKey = "request_id"
	// SessionIDKey is the context key for the conversation session
	SessionIDKey ContextKey = "session_id"
	// AgentTypeKey is the context key for the selected agent variant
	AgentTypeKey ContextKey = "agent_type"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID   string
	RequestID string
	SessionID string
	AgentType string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewRequestID generates a short URL-safe request ID
func NewRequestID() string {
	id, err := gonanoid.New(12)
	if err != nil {
		return uuid.New().String()
	}
	return id
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithSessionID adds a session ID to the context
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// WithAgentType adds an agent type to the context
func WithAgentType(ctx context.Context, agentType string) context.Context {
	return context.WithValue(ctx, AgentTypeKey, agentType)
}

func getString(ctx context.Context, key ContextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string { return getString(ctx, TraceIDKey) }

// GetRequestID retrieves the request ID from the context
func GetRequestID(ctx context.Context) string { return getString(ctx, RequestIDKey) }

// GetSessionID retrieves the session ID from the context
func GetSessionID(ctx context.Context) string { return getString(ctx, SessionIDKey) }

// GetAgentType retrieves the agent type from the context
func GetAgentType(ctx context.Context) string { return getString(ctx, AgentTypeKey) }

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:   GetTraceID(ctx),
		RequestID: GetRequestID(ctx),
		SessionID: GetSessionID(ctx),
		AgentType: GetAgentType(ctx),
	}
}

// NewRequestContext starts a request scope: a fresh trace ID, the given
// request ID (generated when empty) and the session being served.
func NewRequestContext(ctx context.Context, requestID, sessionID string) context.Context {
	if requestID == "" {
		requestID = NewRequestID()
	}
	ctx = WithTraceID(ctx, NewTraceID())
	ctx = WithRequestID(ctx, requestID)
	if sessionID != "" {
		ctx = WithSessionID(ctx, sessionID)
	}
	return ctx
}

// Detach returns a context that keeps the tracing values of ctx but is not
// cancelled when ctx is. Used so a client disconnect does not abort work
// already handed to the agent.
func Detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
