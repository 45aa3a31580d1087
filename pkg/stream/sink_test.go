package stream

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/deepchat/pkg/search"
)

func TestEventJSONIsFlat(t *testing.T) {
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	data, err := json.Marshal(Event{
		Type:      EventComplete,
		Message:   "done",
		Stats:     &Stats{ResponseLength: 42, SearchResultsCount: 3, AgentType: "研究代理"},
		Seq:       9,
		SessionID: "s1",
		Timestamp: ts,
	})
	require.NoError(t, err)

	var obj map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &obj))
	assert.Equal(t, "complete", obj["type"])
	assert.Equal(t, []interface{}{}, obj["sources"])
	assert.Equal(t, float64(42), obj["stats"].(map[string]interface{})["response_length"])
	assert.Equal(t, float64(9), obj["seq"])
	_, hasProgress := obj["progress"]
	assert.False(t, hasProgress)

	data, err = json.Marshal(Event{Type: EventStart, Message: "go"})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sources")
	assert.NotContains(t, string(data), "stats")
}

func TestSSERoundTrip(t *testing.T) {
	var buf bytes.Buffer
	events := []Event{
		{Type: EventStart, Message: "🤖 start", Seq: 1},
		{Type: EventContent, Message: "line one\nline two", Progress: "1/1", Seq: 2},
		{Type: EventComplete, Message: "done", Sources: []search.Source{{Title: "t", URL: "u", Content: "c..."}}, Stats: &Stats{ResponseLength: 17}, Seq: 3},
	}
	for _, ev := range events {
		require.NoError(t, WriteSSE(&buf, ev))
	}
	assert.True(t, strings.HasPrefix(buf.String(), "event: start\ndata: {"))

	r := NewSSEReader(&buf)
	var got []Event
	for range events {
		ev, err := r.Next()
		require.NoError(t, err)
		got = append(got, ev)
	}
	for i, want := range events {
		assert.Equal(t, want.Type, got[i].Type)
		assert.Equal(t, want.Message, got[i].Message)
		assert.Equal(t, want.Seq, got[i].Seq)
	}
	assert.Equal(t, events[2].Sources, got[2].Sources)
	assert.Equal(t, 17, got[2].Stats.ResponseLength)
	assert.Equal(t, []search.Source{}, got[1].Sources)

	_, err := r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestSSEReaderRejectsGarbage(t *testing.T) {
	r := NewSSEReader(strings.NewReader("data: {not json\n\n"))
	_, err := r.Next()
	assert.Error(t, err)
}
