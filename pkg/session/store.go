package session

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/harun/deepchat/internal/observability"
	"github.com/harun/deepchat/pkg/clock"
)

// DefaultID is used when a request names no session.
const DefaultID = "default"

const maxIDLength = 128

// Role of a turn author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message of a conversation.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Session is a snapshot of one conversation.
type Session struct {
	ID           string    `json:"id"`
	History      []Turn    `json:"history"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`

	// seq orders sessions created at the same instant.
	seq uint64
}

// Clone returns a deep copy.
func (s *Session) Clone() Session {
	out := *s
	out.History = append([]Turn(nil), s.History...)
	return out
}

// Config bounds the store.
type Config struct {
	MaxHistory  int
	MaxSessions int
	Timeout     time.Duration
}

// DefaultConfig returns the stock limits: 20 turns, 100 sessions, one hour idle.
func DefaultConfig() Config {
	return Config{
		MaxHistory:  20,
		MaxSessions: 100,
		Timeout:     time.Hour,
	}
}

// Store is the in-memory session table.
type Store struct {
	cfg      Config
	clock    clock.Clock
	mu       sync.Mutex
	sessions map[string]*Session
	nextSeq  uint64
}

// NewStore creates an empty store. Zero config fields take their defaults.
func NewStore(cfg Config, clk clock.Clock) *Store {
	def := DefaultConfig()
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = def.MaxHistory
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = def.MaxSessions
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if clk == nil {
		clk = clock.Real()
	}

	observability.EnsureRegistered()
	observability.SetActiveSessions(0)

	return &Store{
		cfg:      cfg,
		clock:    clk,
		sessions: make(map[string]*Session),
	}
}

// NormalizeID maps an empty id to DefaultID and rejects ids that are too long
// or contain control characters.
func NormalizeID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return DefaultID, nil
	}
	if len(id) > maxIDLength {
		return "", fmt.Errorf("session id longer than %d bytes", maxIDLength)
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return "", fmt.Errorf("session id contains control characters")
		}
	}
	return id, nil
}

// Resolve drops expired sessions, then returns the session for id, creating
// it when needed, and stamps its last activity.
func (s *Store) Resolve(id string) Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictExpiredLocked()
	sess := s.getOrCreateLocked(id)
	sess.LastActivity = s.clock.Now()

	observability.SetActiveSessions(len(s.sessions))
	return sess.Clone()
}

// AppendTurn records a user/assistant exchange and trims history to the
// configured bound.
func (s *Store) AppendTurn(id, userText, assistantText string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.getOrCreateLocked(id)
	sess.History = append(sess.History,
		Turn{Role: RoleUser, Content: userText},
		Turn{Role: RoleAssistant, Content: assistantText},
	)
	if over := len(sess.History) - s.cfg.MaxHistory; over > 0 {
		sess.History = append([]Turn(nil), sess.History[over:]...)
	}
	sess.LastActivity = s.clock.Now()

	observability.SetActiveSessions(len(s.sessions))
}

// History returns up to limit of the most recent turns; limit <= 0 returns all.
func (s *Store) History(id string, limit int) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	turns := sess.History
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return append([]Turn(nil), turns...)
}

// Reset deletes the session. It reports whether one existed.
func (s *Store) Reset(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
		observability.RecordSessionEvictions("reset", 1)
	}
	observability.SetActiveSessions(len(s.sessions))
	return ok
}

// ClearAll removes every session and returns how many there were.
func (s *Store) ClearAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.sessions)
	s.sessions = make(map[string]*Session)

	observability.RecordSessionEvictions("clear", n)
	observability.SetActiveSessions(0)
	return n
}

// EvictExpired removes idle sessions and returns how many were removed.
func (s *Store) EvictExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.evictExpiredLocked()
	observability.SetActiveSessions(len(s.sessions))
	return n
}

// Len returns the number of sessions held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// IDs returns the held session ids, sorted.
func (s *Store) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Store) getOrCreateLocked(id string) *Session {
	if sess, ok := s.sessions[id]; ok {
		return sess
	}

	if len(s.sessions) >= s.cfg.MaxSessions {
		s.evictOldestLocked()
	}

	now := s.clock.Now()
	s.nextSeq++
	sess := &Session{ID: id, CreatedAt: now, LastActivity: now, seq: s.nextSeq}
	s.sessions[id] = sess
	return sess
}

// A zero LastActivity means the timestamp was never set; it counts as expired.
func (s *Store) evictExpiredLocked() int {
	now := s.clock.Now()
	removed := 0
	for id, sess := range s.sessions {
		if sess.LastActivity.IsZero() || now.Sub(sess.LastActivity) > s.cfg.Timeout {
			delete(s.sessions, id)
			removed++
		}
	}
	observability.RecordSessionEvictions("expired", removed)
	return removed
}

func (s *Store) evictOldestLocked() {
	var oldest *Session
	for _, sess := range s.sessions {
		if oldest == nil || sess.CreatedAt.Before(oldest.CreatedAt) ||
			(sess.CreatedAt.Equal(oldest.CreatedAt) && sess.seq < oldest.seq) {
			oldest = sess
		}
	}
	if oldest != nil {
		delete(s.sessions, oldest.ID)
		observability.RecordSessionEvictions("capacity", 1)
	}
}
