package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/deepchat/internal/config"
	"github.com/harun/deepchat/internal/tracing"
	"github.com/harun/deepchat/pkg/agent"
	"github.com/harun/deepchat/pkg/orchestrator"
	"github.com/harun/deepchat/pkg/sanitize"
	"github.com/harun/deepchat/pkg/search"
	"github.com/harun/deepchat/pkg/session"
	"github.com/harun/deepchat/pkg/stream"
)

const stubResults = `[
	{"title":"One","url":"https://one.example","content":"first result"},
	{"title":"Two","url":"https://two.example","content":"second result"},
	{"title":"Three","url":"https://three.example","content":"third result"}
]`

const stubAnswer = "Here is a grounded answer about recent developments in AI."

func newTestManager(t *testing.T) *orchestrator.Manager {
	t.Helper()

	registry := agent.NewRegistry()
	registry.Register(agent.TypeResearch, agent.RunnerFunc(func(ctx context.Context, state agent.State) (agent.State, error) {
		return state.With(agent.AssistantMessage{Content: stubAnswer}), nil
	}))

	sanitizer, err := sanitize.New(sanitize.Config{
		LeakPatterns: config.DefaultLeakPatterns,
		LinePrefixes: config.DefaultLinePrefixes,
		MinLength:    10,
	})
	require.NoError(t, err)

	m, err := orchestrator.New(orchestrator.Deps{
		Store:   session.NewStore(session.DefaultConfig(), nil),
		Decider: search.NewDecider(config.DefaultSearchKeywords, 0),
		Search: search.NewInvoker(search.InvokerConfig{
			Client: search.ClientFunc(func(ctx context.Context, q search.Query) ([]byte, error) {
				return []byte(stubResults), nil
			}),
			Logger: zerolog.Nop(),
		}),
		Agents:    agent.NewInvoker(agent.InvokerConfig{Registry: registry, Logger: zerolog.Nop()}),
		Sanitizer: sanitizer,
	},
		orchestrator.WithLogger(zerolog.Nop()),
		orchestrator.WithStreamConfig(stream.Config{ChunkSize: 16}),
	)
	require.NoError(t, err)
	return m
}

func newTestServer(t *testing.T, cfg Config) (*Server, *httptest.Server) {
	t.Helper()
	if cfg.Pipeline == nil {
		cfg.Pipeline = newTestManager(t)
	}
	cfg.Logger = zerolog.Nop()

	s, err := NewServer(cfg)
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.limiter.Stop()
	})
	return s, ts
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestNewServerRequiresPipeline(t *testing.T) {
	_, err := NewServer(Config{})
	assert.Error(t, err)
}

func TestChatEndpoint(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	resp := postJSON(t, ts.URL+"/api/chat", map[string]string{
		"message":    "latest AI trends",
		"agent_type": "research",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))

	var body orchestrator.Response
	decode(t, resp, &body)
	assert.Equal(t, stubAnswer, body.Message)
	assert.Equal(t, "research", body.AgentType)
	assert.Equal(t, "default", body.SessionID)
	assert.Len(t, body.Sources, 3)
}

func TestChatEndpointRejectsBadRequests(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"message":`},
		{"empty message", `{"message":"  "}`},
		{"unknown agent", `{"message":"hi","agent_type":"wizard"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/api/chat", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var body ErrorResponse
			decode(t, resp, &body)
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestStreamEndpoint(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	resp, err := http.Get(ts.URL + "/api/chat/stream/s1?message=hello&agent_type=research")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := stream.NewSSEReader(resp.Body)
	var (
		events  []stream.Event
		content strings.Builder
	)
	for {
		ev, err := reader.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		events = append(events, ev)
		if ev.Type == stream.EventContent {
			content.WriteString(ev.Message)
		}
	}

	require.NotEmpty(t, events)
	assert.Equal(t, stream.EventStart, events[0].Type)
	last := events[len(events)-1]
	assert.Equal(t, stream.EventComplete, last.Type)
	require.NotNil(t, last.Stats)
	assert.Equal(t, "研究代理", last.Stats.AgentType)
	assert.Equal(t, stubAnswer, content.String())
	for _, ev := range events {
		assert.Equal(t, "s1", ev.SessionID)
	}
}

func TestStreamEndpointRejectsEmptyMessage(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	resp, err := http.Get(ts.URL + "/api/chat/stream/s1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	resp.Body.Close()
}

func TestStatusAndReset(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	resp := postJSON(t, ts.URL+"/api/chat", map[string]string{"message": "hi", "session_id": "abc"})
	resp.Body.Close()

	resp, err := http.Get(ts.URL + "/api/agents/status")
	require.NoError(t, err)
	var st map[string]interface{}
	decode(t, resp, &st)
	assert.EqualValues(t, 1, st["active_sessions"])
	assert.EqualValues(t, 1, st["total_requests"])
	assert.NotNil(t, st["last_activity"])
	assert.Equal(t, map[string]interface{}{"primary_api": true, "search_api": true}, st["api_status"])

	resp, err = http.Post(ts.URL+"/api/agents/reset/abc", "application/json", nil)
	require.NoError(t, err)
	var reset ResetResponse
	decode(t, resp, &reset)
	assert.Equal(t, "会话已重置", reset.Message)
	assert.True(t, reset.Existed)

	resp = postJSON(t, ts.URL+"/api/chat", map[string]string{"message": "hi", "session_id": "x"})
	resp.Body.Close()
	resp, err = http.Post(ts.URL+"/api/agents/reset", "application/json", nil)
	require.NoError(t, err)
	var cleared ClearResponse
	decode(t, resp, &cleared)
	assert.Equal(t, 1, cleared.Cleared)
}

func TestHealthEndpoints(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	var health HealthResponse
	decode(t, resp, &health)
	assert.Equal(t, HealthResponse{Status: "healthy", CustomAPI: true, TavilyConfigured: true}, health)

	resp, err = http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestRateLimitMiddleware(t *testing.T) {
	_, ts := newTestServer(t, Config{RateLimitPerMinute: 2})

	for i := 0; i < 2; i++ {
		resp, err := http.Get(ts.URL + "/api/health")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}

	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "health probe is exempt")
	resp.Body.Close()
}

func TestCORSMiddleware(t *testing.T) {
	_, ts := newTestServer(t, Config{CORSOrigins: []string{"https://app.example"}})

	preflight := func(origin string) *http.Response {
		req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/chat", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", "POST")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp
	}

	resp := preflight("https://app.example")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://app.example", resp.Header.Get("Access-Control-Allow-Origin"))

	resp = preflight("https://evil.example")
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestRequestIDIsEchoed(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set(RequestIDHeader, "req-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "req-123", resp.Header.Get(RequestIDHeader))
}

type panickyPipeline struct {
	*orchestrator.Manager
}

func (panickyPipeline) Status() orchestrator.Status {
	panic("status exploded")
}

func TestRecoveryMiddleware(t *testing.T) {
	_, ts := newTestServer(t, Config{Pipeline: panickyPipeline{newTestManager(t)}})

	resp, err := http.Get(ts.URL + "/api/agents/status")
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var body ErrorResponse
	decode(t, resp, &body)
	assert.Equal(t, "internal server error", body.Error)
}

func TestWebSocketConversation(t *testing.T) {
	s, ts := newTestServer(t, Config{})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"message": "hi", "session_id": "ws1"}))

	var types []stream.EventType
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var ev stream.Event
		require.NoError(t, conn.ReadJSON(&ev))
		types = append(types, ev.Type)
		if ev.Type.Terminal() {
			break
		}
	}
	assert.Equal(t, stream.EventStart, types[0])
	assert.Equal(t, stream.EventComplete, types[len(types)-1])

	require.NoError(t, conn.WriteJSON(map[string]string{"message": ""}))
	var rejected stream.Event
	require.NoError(t, conn.ReadJSON(&rejected))
	assert.Equal(t, stream.EventError, rejected.Type)
	assert.Contains(t, rejected.Message, "invalid request")

	assert.Eventually(t, func() bool { return len(s.ConnectedClients()) == 1 }, time.Second, 10*time.Millisecond)
}

type tracingPipeline struct {
	*orchestrator.Manager
	seen chan *tracing.TraceContext
}

func (p tracingPipeline) StreamMessage(ctx context.Context, req orchestrator.Request, sink stream.Sink) error {
	p.seen <- tracing.FromContext(ctx)
	return p.Manager.StreamMessage(ctx, req, sink)
}

func TestWebSocketFramesShareConnectionTrace(t *testing.T) {
	pipeline := tracingPipeline{Manager: newTestManager(t), seen: make(chan *tracing.TraceContext, 2)}
	_, ts := newTestServer(t, Config{Pipeline: pipeline})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	header := http.Header{}
	header.Set(RequestIDHeader, "conn-1")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var seen []*tracing.TraceContext
	for i := 0; i < 2; i++ {
		require.NoError(t, conn.WriteJSON(map[string]string{"message": "hi", "session_id": "ws-trace"}))
		for {
			var ev stream.Event
			require.NoError(t, conn.ReadJSON(&ev))
			if ev.Type.Terminal() {
				break
			}
		}
		seen = append(seen, <-pipeline.seen)
	}

	assert.NotEmpty(t, seen[0].TraceID)
	assert.Equal(t, seen[0].TraceID, seen[1].TraceID)
	assert.NotEqual(t, seen[0].RequestID, seen[1].RequestID)
	assert.NotEqual(t, "conn-1", seen[0].RequestID)
}

func TestStartStop(t *testing.T) {
	s, err := NewServer(Config{
		Addr:            "127.0.0.1:0",
		ShutdownTimeout: time.Second,
		Pipeline:        newTestManager(t),
		Logger:          zerolog.Nop(),
	})
	require.NoError(t, err)
	require.NoError(t, s.Start())

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	require.NoError(t, s.Stop(context.Background()))

	_, err = http.Get("http://" + s.Addr() + "/healthz")
	assert.Error(t, err)
}
