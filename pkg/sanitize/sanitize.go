// Package sanitize strips internal artifacts (tool narration, code blocks,
// file chatter) from agent answers before they reach users.
//
// Cleaning is a fixed sequence of named passes applied until the text stops
// changing, so Clean(Clean(x)) == Clean(x). The phrase sets are data and can
// be replaced at runtime with SetPhrases.
package sanitize

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"
)

// DefaultPlaceholder replaces answers that are too short after cleaning.
const DefaultPlaceholder = "我正在为您分析这个问题，请稍等片刻..."

const (
	PassLeakage        = "leakage"
	PassFences         = "fences"
	PassInlineCode     = "inline-code"
	PassLeadingPhrases = "leading-phrases"
	PassCollapse       = "collapse"
)

var (
	fencePattern      = regexp.MustCompile("(?s)```.*?```")
	inlineCodePattern = regexp.MustCompile("`[^`]*`")
	blankRunPattern   = regexp.MustCompile(`\n\s*\n`)
)

// Pass is one named text transformation.
type Pass struct {
	Name  string
	Apply func(string) string
}

// Config configures a Sanitizer.
type Config struct {
	// LeakPatterns are regular expressions matched case-insensitively and removed.
	LeakPatterns []string
	// LinePrefixes drop whole lines whose trimmed text starts with one of them.
	LinePrefixes []string
	// MinLength is the rune count below which the placeholder is returned.
	MinLength   int
	Placeholder string
}

type phrases struct {
	leak     []*regexp.Regexp
	prefixes []string
}

// Sanitizer cleans answers. It is safe for concurrent use.
type Sanitizer struct {
	mu          sync.RWMutex
	phrases     phrases
	minLength   int
	placeholder string
}

// New compiles the configured phrase sets.
func New(cfg Config) (*Sanitizer, error) {
	if cfg.Placeholder == "" {
		cfg.Placeholder = DefaultPlaceholder
	}
	if cfg.MinLength < 0 {
		cfg.MinLength = 0
	}
	p, err := compilePhrases(cfg.LeakPatterns, cfg.LinePrefixes)
	if err != nil {
		return nil, err
	}
	return &Sanitizer{
		phrases:     p,
		minLength:   cfg.MinLength,
		placeholder: cfg.Placeholder,
	}, nil
}

func compilePhrases(patterns, prefixes []string) (phrases, error) {
	p := phrases{leak: make([]*regexp.Regexp, 0, len(patterns))}
	for _, pattern := range patterns {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return phrases{}, fmt.Errorf("leak pattern %q: %w", pattern, err)
		}
		p.leak = append(p.leak, re)
	}
	for _, prefix := range prefixes {
		prefix = strings.ToLower(strings.TrimSpace(prefix))
		if prefix != "" {
			p.prefixes = append(p.prefixes, prefix)
		}
	}
	return p, nil
}

// SetPhrases swaps the phrase sets. On error the current sets are kept.
func (s *Sanitizer) SetPhrases(leakPatterns, linePrefixes []string) error {
	p, err := compilePhrases(leakPatterns, linePrefixes)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.phrases = p
	s.mu.Unlock()
	return nil
}

// Passes returns the ordered passes bound to the current phrase sets.
func (s *Sanitizer) Passes() []Pass {
	s.mu.RLock()
	p := s.phrases
	s.mu.RUnlock()

	return []Pass{
		{Name: PassLeakage, Apply: func(text string) string {
			for _, re := range p.leak {
				text = re.ReplaceAllString(text, "")
			}
			return text
		}},
		{Name: PassFences, Apply: func(text string) string {
			return fencePattern.ReplaceAllString(text, "")
		}},
		{Name: PassInlineCode, Apply: func(text string) string {
			return inlineCodePattern.ReplaceAllString(text, "")
		}},
		{Name: PassLeadingPhrases, Apply: func(text string) string {
			return dropPrefixedLines(text, p.prefixes)
		}},
		{Name: PassCollapse, Apply: func(text string) string {
			return strings.TrimSpace(blankRunPattern.ReplaceAllString(text, "\n\n"))
		}},
	}
}

func dropPrefixedLines(text string, prefixes []string) string {
	if len(prefixes) == 0 {
		return text
	}
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if !hasAnyPrefix(strings.ToLower(strings.TrimSpace(line)), prefixes) {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

// Clean runs the passes to a fixpoint, then substitutes the placeholder for
// results shorter than the minimum length. Each pass either returns its input
// unchanged or a strictly shorter string, so the loop terminates.
func (s *Sanitizer) Clean(text string) string {
	passes := s.Passes()
	for {
		next := text
		for _, pass := range passes {
			next = pass.Apply(next)
		}
		if next == text {
			break
		}
		text = next
	}

	if utf8.RuneCountInString(text) < s.minLength {
		return s.placeholder
	}
	return text
}
