package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/deepchat/pkg/search"
)

type fakeSearcher struct {
	queries []search.Query
	outcome search.Outcome
}

func (f *fakeSearcher) SearchQuery(ctx context.Context, q search.Query, onRetry search.RetryFunc) search.Outcome {
	f.queries = append(f.queries, q)
	return f.outcome
}

func newSearchToolset(t *testing.T, s Searcher) *Toolset {
	t.Helper()
	ts, err := NewToolset(NewSearchTool(s))
	require.NoError(t, err)
	return ts
}

func TestSearchToolExecutes(t *testing.T) {
	s := &fakeSearcher{outcome: search.Outcome{Results: []search.Result{
		{Title: "Go 1.24", URL: "https://go.dev/blog", Content: strings.Repeat("x", 3000)},
	}}}
	ts := newSearchToolset(t, s)

	msg := ts.Execute(context.Background(), ToolCall{
		ID:   "call_1",
		Name: SearchToolName,
		Parameters: map[string]interface{}{
			"query":       "go release",
			"max_results": float64(3),
			"topic":       "news",
		},
	})

	assert.Equal(t, "call_1", msg.ToolCallID)
	assert.Equal(t, SearchToolName, msg.Name)
	require.Len(t, s.queries, 1)
	assert.Equal(t, search.Query{Text: "go release", MaxResults: 3, Topic: search.TopicNews}, s.queries[0])

	var results []search.Source
	require.NoError(t, json.Unmarshal([]byte(msg.Content), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "Go 1.24", results[0].Title)
	assert.Len(t, results[0].Content, searchToolContentRunes)
}

func TestSearchToolRejectsInvalidArguments(t *testing.T) {
	s := &fakeSearcher{}
	ts := newSearchToolset(t, s)

	cases := []map[string]interface{}{
		{},
		{"query": ""},
		{"query": "go", "max_results": float64(50)},
		{"query": "go", "topic": "sports"},
		{"query": "go", "extra": true},
	}
	for _, params := range cases {
		msg := ts.Execute(context.Background(), ToolCall{ID: "c", Name: SearchToolName, Parameters: params})
		assert.True(t, strings.HasPrefix(msg.Content, "error: invalid arguments"), msg.Content)
	}
	assert.Empty(t, s.queries)
}

func TestSearchToolReportsFailure(t *testing.T) {
	s := &fakeSearcher{outcome: search.Outcome{Failed: true, Attempts: 3, Err: errors.New("timeout")}}
	ts := newSearchToolset(t, s)

	msg := ts.Execute(context.Background(), ToolCall{ID: "c", Name: SearchToolName, Parameters: map[string]interface{}{"query": "go"}})
	assert.Contains(t, msg.Content, "search failed after 3 attempts")
}

func TestToolsetUnknownTool(t *testing.T) {
	ts := newSearchToolset(t, &fakeSearcher{})
	msg := ts.Execute(context.Background(), ToolCall{ID: "c", Name: "write_file"})
	assert.Equal(t, `error: unknown tool "write_file"`, msg.Content)

	var empty *Toolset
	assert.Nil(t, empty.Definitions())
	assert.Contains(t, empty.Execute(context.Background(), ToolCall{Name: "x"}).Content, "unknown tool")
}
