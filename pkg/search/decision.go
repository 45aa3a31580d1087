package search

import (
	"strings"
	"sync"
	"unicode/utf8"
)

// DefaultMinLength is the rune count above which every message is searched.
const DefaultMinLength = 30

// Decider is the keyword/length/question-mark heuristic. Its keyword set can
// be swapped at runtime.
type Decider struct {
	mu        sync.RWMutex
	keywords  []string
	minLength int
}

// NewDecider builds a Decider. minLength <= 0 uses DefaultMinLength.
func NewDecider(keywords []string, minLength int) *Decider {
	if minLength <= 0 {
		minLength = DefaultMinLength
	}
	d := &Decider{minLength: minLength}
	d.SetKeywords(keywords)
	return d
}

// SetKeywords replaces the keyword set.
func (d *Decider) SetKeywords(keywords []string) {
	lowered := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			lowered = append(lowered, k)
		}
	}

	d.mu.Lock()
	d.keywords = lowered
	d.mu.Unlock()
}

// NeedsSearch reports whether message should be augmented with search results.
func (d *Decider) NeedsSearch(message string) bool {
	if utf8.RuneCountInString(message) > d.minLength {
		return true
	}
	if strings.ContainsAny(message, "?？") {
		return true
	}

	lower := strings.ToLower(message)

	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, k := range d.keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}
