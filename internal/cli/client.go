package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/harun/deepchat/internal/config"
	"github.com/harun/deepchat/pkg/gateway"
	"github.com/harun/deepchat/pkg/orchestrator"
	"github.com/harun/deepchat/pkg/stream"
)

// apiClient talks to a running daemon over its HTTP API.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string, timeout time.Duration) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// resolveServerURL prefers --server, else the configured listen address with
// wildcard hosts mapped to loopback.
func resolveServerURL(cfg *config.Config) string {
	if serverURL != "" {
		return serverURL
	}
	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Server.Port))
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return responseError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func responseError(resp *http.Response) error {
	var apiErr gateway.ErrorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
		return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, apiErr.Error)
	}
	return fmt.Errorf("daemon returned %d", resp.StatusCode)
}

func (c *apiClient) Status(ctx context.Context) (orchestrator.Status, error) {
	var status orchestrator.Status
	err := c.do(ctx, http.MethodGet, "/api/agents/status", nil, &status)
	return status, err
}

func (c *apiClient) Reset(ctx context.Context, sessionID string) (gateway.ResetResponse, error) {
	var out gateway.ResetResponse
	err := c.do(ctx, http.MethodPost, "/api/agents/reset/"+url.PathEscape(sessionID), nil, &out)
	return out, err
}

func (c *apiClient) ClearAll(ctx context.Context) (gateway.ClearResponse, error) {
	var out gateway.ClearResponse
	err := c.do(ctx, http.MethodPost, "/api/agents/reset", nil, &out)
	return out, err
}

func (c *apiClient) Chat(ctx context.Context, req orchestrator.Request) (orchestrator.Response, error) {
	var out orchestrator.Response
	err := c.do(ctx, http.MethodPost, "/api/chat", req, &out)
	return out, err
}

// Stream opens the SSE endpoint and hands every event to fn until the
// terminal one.
func (c *apiClient) Stream(ctx context.Context, req orchestrator.Request, fn func(stream.Event)) error {
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = "default"
	}
	q := url.Values{}
	q.Set("message", req.Message)
	if req.AgentType != "" {
		q.Set("agent_type", req.AgentType)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/chat/stream/"+url.PathEscape(sessionID)+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	// The stream outlives any fixed client timeout; ctx bounds it instead.
	client := *c.http
	client.Timeout = 0

	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("daemon unreachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}

	reader := stream.NewSSEReader(resp.Body)
	for {
		ev, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("stream ended without a terminal event")
		}
		if err != nil {
			return fmt.Errorf("failed to read stream: %w", err)
		}
		fn(ev)
		if ev.Type.Terminal() {
			return nil
		}
	}
}
