package search

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// Topic narrows the search provider's index.
type Topic string

const (
	TopicGeneral Topic = "general"
	TopicNews    Topic = "news"
	TopicFinance Topic = "finance"
)

// ParseTopic maps a config value to a Topic, defaulting to general.
func ParseTopic(s string) Topic {
	switch Topic(s) {
	case TopicNews, TopicFinance:
		return Topic(s)
	default:
		return TopicGeneral
	}
}

// Result is one search hit.
type Result struct {
	Title   string   `json:"title"`
	URL     string   `json:"url"`
	Content string   `json:"content"`
	Score   *float64 `json:"score,omitempty"`
}

// Source is a result as shown to users.
type Source struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// ParseResults accepts either {"results": [...]} or a bare array. Entries
// that are not objects are skipped.
func ParseResults(raw []byte) ([]Result, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("search response is not valid JSON")
	}

	root := gjson.ParseBytes(raw)
	var list gjson.Result
	switch {
	case root.IsArray():
		list = root
	case root.IsObject():
		list = root.Get("results")
		if !list.Exists() {
			return []Result{}, nil
		}
		if !list.IsArray() {
			return nil, fmt.Errorf("search response field results is %s, not an array", list.Type)
		}
	default:
		return nil, fmt.Errorf("unexpected search response shape: %s", root.Type)
	}

	results := make([]Result, 0, len(list.Array()))
	list.ForEach(func(_, item gjson.Result) bool {
		if !item.IsObject() {
			return true
		}
		r := Result{
			Title:   item.Get("title").String(),
			URL:     item.Get("url").String(),
			Content: item.Get("content").String(),
		}
		if score := item.Get("score"); score.Type == gjson.Number {
			f := score.Float()
			r.Score = &f
		}
		results = append(results, r)
		return true
	})

	return results, nil
}

// Truncate keeps the first n runes of s.
func Truncate(s string, n int) string {
	if n < 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// Sources formats up to limit results for display, cutting content to
// contentRunes runes followed by "...".
func Sources(results []Result, limit, contentRunes int) []Source {
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	out := make([]Source, 0, len(results))
	for _, r := range results {
		out = append(out, Source{
			Title:   r.Title,
			URL:     r.URL,
			Content: Truncate(r.Content, contentRunes) + "...",
		})
	}
	return out
}

// ContextLabels are the localized words used in a prompt context block.
type ContextLabels struct {
	Heading string
	Title   string
	Content string
}

// ContextBlock renders the top results as a prompt section. It returns ""
// when there is nothing to show.
func ContextBlock(results []Result, limit, contentRunes int, labels ContextLabels) string {
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	if len(results) == 0 {
		return ""
	}

	entries := make([]string, 0, len(results))
	for _, r := range results {
		entries = append(entries, fmt.Sprintf("%s: %s\n%s: %s...", labels.Title, r.Title, labels.Content, Truncate(r.Content, contentRunes)))
	}
	return labels.Heading + "\n" + strings.Join(entries, "\n")
}
