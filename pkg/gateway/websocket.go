package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/harun/deepchat/internal/tracing"
	"github.com/harun/deepchat/pkg/orchestrator"
	"github.com/harun/deepchat/pkg/stream"
)

const maxFrameBytes = 1 << 20

// handleWebSocket upgrades the connection and serves it in the background.
// Every client frame is a chat request answered by a full event stream.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to upgrade connection")
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	clientID, err := gonanoid.New()
	if err != nil {
		clientID = tracing.NewRequestID()
	}
	now := s.clock.Now()
	client := &Client{
		ID:           clientID,
		Conn:         conn,
		IPAddress:    clientIP(r),
		ConnectedAt:  now,
		connCtx:      r.Context(),
		lastActivity: now,
	}
	s.clients.Add(client)

	s.logger.Info().
		Str("client_id", clientID).
		Str("ip", client.IPAddress).
		Msg("Websocket client connected")

	go s.serveClient(client)
}

func (s *Server) serveClient(client *Client) {
	defer func() {
		_ = client.Conn.Close()
		s.clients.Remove(client.ID)
		s.logger.Info().Str("client_id", client.ID).Msg("Websocket client disconnected")
	}()

	for {
		_, frame, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Str("client_id", client.ID).Msg("Websocket read failed")
			}
			return
		}
		client.touch(s.clock.Now())

		if !s.beginFrame() {
			s.sendError(client, "server is shutting down")
			return
		}
		s.handleFrame(client, frame)
		s.inFlight.Done()
	}
}

// beginFrame registers a frame as in flight unless the server is stopping.
func (s *Server) beginFrame() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	if s.isShuttingDown {
		return false
	}
	s.inFlight.Add(1)
	return true
}

func (s *Server) handleFrame(client *Client, frame []byte) {
	if !s.limiter.Allow(client.IPAddress) {
		s.sendError(client, "rate limit exceeded")
		return
	}

	var req orchestrator.Request
	if err := json.Unmarshal(frame, &req); err != nil {
		s.sendError(client, "invalid JSON frame: "+err.Error())
		return
	}

	// Each frame is its own request within the connection's trace.
	ctx := tracing.WithRequestID(context.Background(), tracing.NewRequestID())
	ctx = tracing.MergeContext(ctx, client.connCtx)
	sink := stream.SinkFunc(func(ctx context.Context, ev stream.Event) error {
		return client.WriteJSON(ev)
	})

	if err := s.pipeline.StreamMessage(ctx, req, sink); err != nil {
		if errors.Is(err, orchestrator.ErrInvalidRequest) {
			s.sendError(client, err.Error())
			return
		}
		s.logger.Error().Err(err).Str("client_id", client.ID).Msg("Websocket conversation failed")
	}
}

// sendError answers a frame that could not start a conversation.
func (s *Server) sendError(client *Client, msg string) {
	ev := stream.Event{Type: stream.EventError, Message: msg, Timestamp: s.clock.Now()}
	if err := client.WriteJSON(ev); err != nil {
		s.logger.Warn().Err(err).Str("client_id", client.ID).Msg("Failed to send websocket error")
	}
}
