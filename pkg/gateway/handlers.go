package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/harun/deepchat/internal/tracing"
	"github.com/harun/deepchat/pkg/orchestrator"
	"github.com/harun/deepchat/pkg/stream"
)

const maxBodyBytes = 1 << 20

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is served by /api/health.
type HealthResponse struct {
	Status           string `json:"status"`
	CustomAPI        bool   `json:"custom_api"`
	TavilyConfigured bool   `json:"tavily_configured"`
}

// ResetResponse confirms a single-session reset.
type ResetResponse struct {
	Message string `json:"message"`
	Existed bool   `json:"existed"`
}

// ClearResponse confirms a reset of every session.
type ClearResponse struct {
	Cleared int `json:"cleared"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func statusForPipelineError(err error) int {
	if errors.Is(err, orchestrator.ErrInvalidRequest) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	ctx := tracing.Detach(r.Context())
	resp, err := s.pipeline.ProcessMessage(ctx, req)
	if err != nil {
		writeError(w, statusForPipelineError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// sseSink writes events as SSE frames. Headers are sent with the first
// event so a rejected request can still answer with a JSON error.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	client  context.Context
	started bool
}

func (s *sseSink) Send(ctx context.Context, ev stream.Event) error {
	if err := s.client.Err(); err != nil {
		return err
	}
	if !s.started {
		h := s.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	if err := stream.WriteSSE(s.w, ev); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	q := r.URL.Query()
	req := orchestrator.Request{
		Message:   q.Get("message"),
		SessionID: r.PathValue("session_id"),
		AgentType: q.Get("agent_type"),
	}

	sink := &sseSink{w: w, flusher: flusher, client: r.Context()}
	if err := s.pipeline.StreamMessage(tracing.Detach(r.Context()), req, sink); err != nil && !sink.started {
		writeError(w, statusForPipelineError(err), err.Error())
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pipeline.Status())
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	existed, err := s.pipeline.Reset(r.Context(), r.PathValue("session_id"), "api:"+clientIP(r))
	if err != nil {
		writeError(w, statusForPipelineError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ResetResponse{
		Message: s.pipeline.Catalog().SessionReset,
		Existed: existed,
	})
}

func (s *Server) handleResetAll(w http.ResponseWriter, r *http.Request) {
	n := s.pipeline.ClearAll(r.Context(), "api:"+clientIP(r))
	writeJSON(w, http.StatusOK, ClearResponse{Cleared: n})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.pipeline.Status()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:           "healthy",
		CustomAPI:        st.APIStatus.PrimaryAPI,
		TavilyConfigured: st.APIStatus.SearchAPI,
	})
}
