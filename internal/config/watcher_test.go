package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	clearEnv(t)
	configPath := filepath.Join(t.TempDir(), "deepchat.json")
	require.NoError(t, os.WriteFile(configPath, []byte(`{"search": {"keywords": ["one"]}}`), 0644))

	var latest atomic.Value
	w, err := NewWatcher(NewLoader(configPath), func(cfg *Config) {
		latest.Store(cfg.Search.Keywords)
	}, zerolog.Nop())
	require.NoError(t, err)
	w.debounce = 10 * time.Millisecond

	require.NoError(t, w.Start())
	defer func() { _ = w.Stop() }()

	require.NoError(t, os.WriteFile(configPath, []byte(`{"search": {"keywords": ["two", "three"]}}`), 0644))

	require.Eventually(t, func() bool {
		v, ok := latest.Load().([]string)
		return ok && len(v) == 2
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, []string{"two", "three"}, latest.Load().([]string))
}

func TestWatcherIgnoresInvalidConfig(t *testing.T) {
	clearEnv(t)
	configPath := filepath.Join(t.TempDir(), "deepchat.json")
	require.NoError(t, os.WriteFile(configPath, []byte(`{}`), 0644))

	var calls atomic.Int32
	w, err := NewWatcher(NewLoader(configPath), func(*Config) { calls.Add(1) }, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(configPath, []byte(`{"locale": "xx"}`), 0644))
	w.reload()

	assert.Equal(t, int32(0), calls.Load())
	require.NoError(t, w.Stop())
}
