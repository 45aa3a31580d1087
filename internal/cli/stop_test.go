package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStopCommand(t *testing.T) {
	t.Run("help text", func(t *testing.T) {
		out, _, err := execute(t, "stop", "--help")
		require.NoError(t, err)

		assert.Contains(t, out, "Stop the DeepChat daemon")
		assert.Contains(t, out, "timeout")
	})

	t.Run("not running", func(t *testing.T) {
		path, _ := writeTestConfig(t, nil)

		_, _, err := execute(t, "stop", "--config", path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not running")
	})
}

func TestStopDaemonRemovesStalePIDFile(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "deepchat.pid")
	// PIDs are capped well below this on Linux.
	require.NoError(t, os.WriteFile(pidFile, []byte("99999999"), 0644))

	_, err := stopDaemon(pidFile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stale")

	_, statErr := os.Stat(pidFile)
	assert.True(t, os.IsNotExist(statErr))
}
