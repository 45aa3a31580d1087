package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLifecycleManager(t *testing.T) {
	cfg := testConfig(t)
	d := createTestDaemon(t, cfg)

	lm := NewLifecycleManager(d)
	assert.Equal(t, d, lm.daemon)
	assert.Equal(t, filepath.Join(cfg.DataDir, "deepchat.pid"), lm.pidFile)
}

func TestLifecycleManagerStartStop(t *testing.T) {
	d := createTestDaemon(t, testConfig(t))
	lm := NewLifecycleManager(d)

	require.NoError(t, lm.Start())

	_, err := os.Stat(lm.pidFile)
	assert.NoError(t, err)

	require.NoError(t, lm.Stop())

	_, err = os.Stat(lm.pidFile)
	assert.True(t, os.IsNotExist(err))

	// Removing a missing PID file is not an error.
	assert.NoError(t, lm.Stop())
}

func TestLifecycleManagerGetPID(t *testing.T) {
	d := createTestDaemon(t, testConfig(t))
	lm := NewLifecycleManager(d)

	_, err := lm.GetPID()
	assert.Error(t, err)

	require.NoError(t, lm.Start())
	defer lm.Stop()

	pid, err := lm.GetPID()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	assert.True(t, lm.IsRunning())
}

func TestLifecycleManagerRefusesLiveOwner(t *testing.T) {
	cfg := testConfig(t)
	d := createTestDaemon(t, cfg)
	lm := NewLifecycleManager(d)

	owner := strconv.Itoa(os.Getppid())
	require.NoError(t, os.WriteFile(lm.pidFile, []byte(owner), 0644))

	err := lm.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), owner)
}

func TestLifecycleManagerReplacesStalePIDFile(t *testing.T) {
	d := createTestDaemon(t, testConfig(t))
	lm := NewLifecycleManager(d)

	require.NoError(t, os.WriteFile(lm.pidFile, []byte("not-a-pid"), 0644))
	require.NoError(t, lm.Start())
	defer lm.Stop()

	pid, err := lm.GetPID()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestReadPID(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		want    int
		wantErr bool
	}{
		{name: "plain", content: "4242", want: 4242},
		{name: "trailing newline", content: "4242\n", want: 4242},
		{name: "garbage", content: "abc", wantErr: true},
		{name: "zero", content: "0", wantErr: true},
		{name: "negative", content: "-7", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".pid")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))

			pid, err := ReadPID(path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, pid)
		})
	}

	_, err := ReadPID(filepath.Join(dir, "missing.pid"))
	assert.True(t, os.IsNotExist(err))
}

func TestProcessRunning(t *testing.T) {
	assert.True(t, ProcessRunning(os.Getpid()))
}
