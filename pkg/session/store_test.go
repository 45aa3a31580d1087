package session

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/deepchat/pkg/clock"
)

func newTestStore(cfg Config) (*Store, *clock.Fake) {
	fake := clock.NewFake(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	return NewStore(cfg, fake), fake
}

func TestResolveCreatesAndStamps(t *testing.T) {
	store, fake := newTestStore(DefaultConfig())

	sess := store.Resolve("s1")
	assert.Equal(t, "s1", sess.ID)
	assert.Empty(t, sess.History)
	assert.Equal(t, fake.Now(), sess.CreatedAt)

	fake.Advance(time.Minute)
	again := store.Resolve("s1")
	assert.Equal(t, sess.CreatedAt, again.CreatedAt)
	assert.Equal(t, fake.Now(), again.LastActivity)
	assert.Equal(t, 1, store.Len())
}

func TestHistoryBound(t *testing.T) {
	store, _ := newTestStore(Config{MaxHistory: 6, MaxSessions: 10, Timeout: time.Hour})

	for i := 0; i < 10; i++ {
		store.AppendTurn("s1", fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i))

		history := store.History("s1", 0)
		assert.LessOrEqual(t, len(history), 6)
	}

	history := store.History("s1", 0)
	require.Len(t, history, 6)
	assert.Equal(t, []Turn{
		{Role: RoleUser, Content: "q7"},
		{Role: RoleAssistant, Content: "a7"},
		{Role: RoleUser, Content: "q8"},
		{Role: RoleAssistant, Content: "a8"},
		{Role: RoleUser, Content: "q9"},
		{Role: RoleAssistant, Content: "a9"},
	}, history)

	assert.Equal(t, history[4:], store.History("s1", 2))
}

func TestCapacityEvictsOldestCreated(t *testing.T) {
	store, fake := newTestStore(Config{MaxHistory: 20, MaxSessions: 3, Timeout: time.Hour})

	for _, id := range []string{"a", "b", "c"} {
		store.Resolve(id)
		fake.Advance(time.Second)
	}

	// Touching "a" refreshes activity but not creation time.
	store.Resolve("a")
	fake.Advance(time.Second)

	store.Resolve("d")

	assert.Equal(t, []string{"b", "c", "d"}, store.IDs())
}

func TestExpiryOnNextResolve(t *testing.T) {
	store, fake := newTestStore(Config{MaxHistory: 20, MaxSessions: 10, Timeout: time.Hour})

	store.Resolve("idle")
	fake.Advance(30 * time.Minute)
	store.Resolve("busy")
	fake.Advance(31 * time.Minute)

	// "idle" is 61 minutes old, "busy" 31.
	store.Resolve("other")

	assert.Equal(t, []string{"busy", "other"}, store.IDs())
}

func TestCapacityTieBreaksByCreationOrder(t *testing.T) {
	store, _ := newTestStore(Config{MaxHistory: 20, MaxSessions: 3, Timeout: time.Hour})

	// The clock never moves, so every CreatedAt is equal.
	for _, id := range []string{"c", "b", "a"} {
		store.Resolve(id)
	}
	store.Resolve("d")
	assert.Equal(t, []string{"a", "b", "d"}, store.IDs())

	store.Resolve("e")
	assert.Equal(t, []string{"a", "d", "e"}, store.IDs())
}

func TestExpiredSessionIsRecreatedEmpty(t *testing.T) {
	store, fake := newTestStore(Config{MaxHistory: 20, MaxSessions: 10, Timeout: time.Minute})

	store.AppendTurn("s1", "hello", "hi")
	fake.Advance(2 * time.Minute)

	sess := store.Resolve("s1")
	assert.Empty(t, sess.History)
}

func TestZeroActivityCountsAsExpired(t *testing.T) {
	store, _ := newTestStore(DefaultConfig())
	store.Resolve("s1")

	store.mu.Lock()
	store.sessions["s1"].LastActivity = time.Time{}
	store.mu.Unlock()

	assert.Equal(t, 1, store.EvictExpired())
	assert.Equal(t, 0, store.Len())
}

func TestResetAndClearAll(t *testing.T) {
	store, _ := newTestStore(DefaultConfig())
	store.Resolve("a")
	store.Resolve("b")

	assert.True(t, store.Reset("a"))
	assert.False(t, store.Reset("a"))
	assert.False(t, store.Reset("missing"))

	assert.Equal(t, 1, store.ClearAll())
	assert.Equal(t, 0, store.ClearAll())
	assert.Equal(t, 0, store.Len())
}

func TestSnapshotsAreCopies(t *testing.T) {
	store, _ := newTestStore(DefaultConfig())
	store.AppendTurn("s1", "q", "a")

	sess := store.Resolve("s1")
	sess.History[0].Content = "mutated"

	assert.Equal(t, "q", store.History("s1", 0)[0].Content)
}

func TestConcurrentAppendsKeepEveryTurn(t *testing.T) {
	store, _ := newTestStore(Config{MaxHistory: 1000, MaxSessions: 10, Timeout: time.Hour})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			store.Resolve("shared")
			store.AppendTurn("shared", fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i))
		}(i)
	}
	wg.Wait()

	assert.Len(t, store.History("shared", 0), 100)
}

func TestNormalizeID(t *testing.T) {
	id, err := NormalizeID("  ")
	require.NoError(t, err)
	assert.Equal(t, DefaultID, id)

	id, err = NormalizeID("user-42")
	require.NoError(t, err)
	assert.Equal(t, "user-42", id)

	_, err = NormalizeID(strings.Repeat("x", 200))
	assert.Error(t, err)

	_, err = NormalizeID("bad\x00id")
	assert.Error(t, err)
}

func TestStats(t *testing.T) {
	fake := clock.NewFake(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	stats := NewStats(fake)

	assert.Nil(t, stats.LastActivity())
	assert.Equal(t, int64(0), stats.TotalRequests())

	stats.RecordRequest()
	stats.RecordRequest()

	assert.Equal(t, int64(2), stats.TotalRequests())
	require.NotNil(t, stats.LastActivity())
	assert.Equal(t, fake.Now(), *stats.LastActivity())
}
