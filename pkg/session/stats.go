package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/harun/deepchat/pkg/clock"
)

// Stats holds process-wide request counters. Active sessions are read from
// the Store.
type Stats struct {
	clock         clock.Clock
	totalRequests atomic.Int64

	mu           sync.RWMutex
	lastActivity time.Time
}

// NewStats creates zeroed stats.
func NewStats(clk clock.Clock) *Stats {
	if clk == nil {
		clk = clock.Real()
	}
	return &Stats{clock: clk}
}

// RecordRequest counts one request and stamps last activity.
func (s *Stats) RecordRequest() {
	s.totalRequests.Add(1)

	s.mu.Lock()
	s.lastActivity = s.clock.Now()
	s.mu.Unlock()
}

// TotalRequests returns the number of recorded requests.
func (s *Stats) TotalRequests() int64 {
	return s.totalRequests.Load()
}

// LastActivity returns the time of the latest request, or nil if none.
func (s *Stats) LastActivity() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.lastActivity.IsZero() {
		return nil
	}
	t := s.lastActivity
	return &t
}
