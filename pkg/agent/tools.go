package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/harun/deepchat/pkg/search"
)

// Tool is a capability the model may call during a run.
type Tool interface {
	Definition() ToolDefinition
	Execute(ctx context.Context, params map[string]interface{}) (string, error)
}

// Toolset validates tool-call arguments against each tool's schema before
// executing it.
type Toolset struct {
	tools   map[string]Tool
	schemas map[string]*gojsonschema.Schema
	order   []string
}

// NewToolset compiles the schema of every tool.
func NewToolset(tools ...Tool) (*Toolset, error) {
	ts := &Toolset{
		tools:   make(map[string]Tool, len(tools)),
		schemas: make(map[string]*gojsonschema.Schema, len(tools)),
	}
	for _, tool := range tools {
		def := tool.Definition()
		schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(def.InputSchema))
		if err != nil {
			return nil, fmt.Errorf("tool %s: invalid input schema: %w", def.Name, err)
		}
		if _, dup := ts.tools[def.Name]; !dup {
			ts.order = append(ts.order, def.Name)
		}
		ts.tools[def.Name] = tool
		ts.schemas[def.Name] = schema
	}
	return ts, nil
}

// Definitions returns the tool definitions in registration order.
func (ts *Toolset) Definitions() []ToolDefinition {
	if ts == nil {
		return nil
	}
	defs := make([]ToolDefinition, 0, len(ts.order))
	for _, name := range ts.order {
		defs = append(defs, ts.tools[name].Definition())
	}
	return defs
}

// Execute runs one tool call. Failures are reported to the model in the
// tool message rather than aborting the run.
func (ts *Toolset) Execute(ctx context.Context, call ToolCall) ToolMessage {
	msg := ToolMessage{ToolCallID: call.ID, Name: call.Name}

	tool, ok := ts.lookup(call.Name)
	if !ok {
		msg.Content = fmt.Sprintf("error: unknown tool %q", call.Name)
		return msg
	}
	params := call.Parameters
	if params == nil {
		params = map[string]interface{}{}
	}
	if err := validateParameters(ts.schemas[call.Name], params); err != nil {
		msg.Content = "error: " + err.Error()
		return msg
	}

	output, err := tool.Execute(ctx, params)
	if err != nil {
		msg.Content = "error: " + err.Error()
		return msg
	}
	msg.Content = output
	return msg
}

func (ts *Toolset) lookup(name string) (Tool, bool) {
	if ts == nil {
		return nil, false
	}
	tool, ok := ts.tools[name]
	return tool, ok
}

func validateParameters(schema *gojsonschema.Schema, params map[string]interface{}) error {
	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}
	if !result.Valid() {
		errs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return fmt.Errorf("invalid arguments: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Searcher is the part of search.Invoker the search tool needs.
type Searcher interface {
	SearchQuery(ctx context.Context, q search.Query, onRetry search.RetryFunc) search.Outcome
}

// SearchToolName is the name the model sees.
const SearchToolName = "internet_search"

const searchToolContentRunes = 2000

// SearchTool exposes the search invoker to the model.
type SearchTool struct {
	searcher Searcher
}

// NewSearchTool creates the internet_search tool.
func NewSearchTool(searcher Searcher) *SearchTool {
	return &SearchTool{searcher: searcher}
}

// Definition implements Tool.
func (t *SearchTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        SearchToolName,
		Description: "Run an internet search for a query. You can set the number of results, the topic, and whether raw page content is included.",
		InputSchema: map[string]interface{}{
			"type":                 "object",
			"additionalProperties": false,
			"properties": map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"minLength":   1,
					"description": "Search query",
				},
				"max_results": map[string]interface{}{
					"type":        "integer",
					"minimum":     1,
					"maximum":     20,
					"description": "Number of results to return",
				},
				"topic": map[string]interface{}{
					"type":        "string",
					"enum":        []interface{}{"general", "news", "finance"},
					"description": "Search index to use",
				},
				"include_raw_content": map[string]interface{}{
					"type":        "boolean",
					"description": "Include raw page content",
				},
			},
			"required": []interface{}{"query"},
		},
	}
}

// Execute implements Tool. The output is a JSON array of results.
func (t *SearchTool) Execute(ctx context.Context, params map[string]interface{}) (string, error) {
	q := search.Query{}
	q.Text, _ = params["query"].(string)
	if n, ok := params["max_results"].(float64); ok {
		q.MaxResults = int(n)
	}
	if topic, ok := params["topic"].(string); ok {
		q.Topic = search.ParseTopic(topic)
	}
	if raw, ok := params["include_raw_content"].(bool); ok {
		q.IncludeRawContent = raw
	}

	outcome := t.searcher.SearchQuery(ctx, q, nil)
	if outcome.Failed {
		return "", fmt.Errorf("search failed after %d attempts: %v", outcome.Attempts, outcome.Err)
	}

	results := make([]search.Source, 0, len(outcome.Results))
	for _, r := range outcome.Results {
		results = append(results, search.Source{
			Title:   r.Title,
			URL:     r.URL,
			Content: search.Truncate(r.Content, searchToolContentRunes),
		})
	}
	data, err := json.Marshal(results)
	if err != nil {
		return "", fmt.Errorf("encode results: %w", err)
	}
	return string(data), nil
}
