// Package stream turns a pipeline run into an ordered sequence of typed
// progress and content events with exactly one terminal event.
package stream

import (
	"encoding/json"
	"time"

	"github.com/harun/deepchat/pkg/search"
)

// EventType names a stream event.
type EventType string

const (
	EventStart              EventType = "start"
	EventAgentUnavailable   EventType = "agent_unavailable"
	EventAgentSelected      EventType = "agent_selected"
	EventSearch             EventType = "search"
	EventSearchRetry        EventType = "search_retry"
	EventSearchComplete     EventType = "search_complete"
	EventSearchEmpty        EventType = "search_empty"
	EventSearchFailed       EventType = "search_failed"
	EventAnalyzing          EventType = "analyzing"
	EventAgentThinking      EventType = "agent_thinking"
	EventProcessingComplete EventType = "processing_complete"
	EventGenerating         EventType = "generating"
	EventContent            EventType = "content"
	EventComplete           EventType = "complete"
	EventAgentError         EventType = "agent_error"
	EventFallback           EventType = "fallback"
	EventError              EventType = "error"
)

// Terminal reports whether t ends a stream.
func (t EventType) Terminal() bool {
	switch t {
	case EventAgentUnavailable, EventComplete, EventError:
		return true
	}
	return false
}

// Stats summarizes a completed answer.
type Stats struct {
	ResponseLength     int    `json:"response_length"`
	SearchResultsCount int    `json:"search_results_count"`
	AgentType          string `json:"agent_type"`
}

// Event is one stream frame. Seq, SessionID and Timestamp are stamped by the
// Emitter.
type Event struct {
	Type      EventType
	Message   string
	Progress  string
	Sources   []search.Source
	Stats     *Stats
	Seq       int
	SessionID string
	Timestamp time.Time
}

type wireEvent struct {
	Type      EventType        `json:"type"`
	Message   string           `json:"message"`
	Progress  string           `json:"progress,omitempty"`
	Sources   *[]search.Source `json:"sources,omitempty"`
	Stats     *Stats           `json:"stats,omitempty"`
	Seq       int              `json:"seq"`
	SessionID string           `json:"session_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// MarshalJSON flattens the payload into one object. Content and complete
// events always carry a sources array.
func (e Event) MarshalJSON() ([]byte, error) {
	w := wireEvent{
		Type:      e.Type,
		Message:   e.Message,
		Progress:  e.Progress,
		Stats:     e.Stats,
		Seq:       e.Seq,
		SessionID: e.SessionID,
		Timestamp: e.Timestamp,
	}
	if e.Type == EventContent || e.Type == EventComplete || len(e.Sources) > 0 {
		sources := e.Sources
		if sources == nil {
			sources = []search.Source{}
		}
		w.Sources = &sources
	}
	return json.Marshal(w)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = Event{
		Type:      w.Type,
		Message:   w.Message,
		Progress:  w.Progress,
		Stats:     w.Stats,
		Seq:       w.Seq,
		SessionID: w.SessionID,
		Timestamp: w.Timestamp,
	}
	if w.Sources != nil {
		e.Sources = *w.Sources
	}
	return nil
}
