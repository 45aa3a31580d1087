package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigShowMasksSecrets(t *testing.T) {
	path, _ := writeTestConfig(t, map[string]interface{}{
		"agent":  map[string]interface{}{"api_key": "sk-abcdefghijkl"},
		"search": map[string]interface{}{"api_key": "tvly"},
	})

	out, _, err := execute(t, "config", "show", "--config", path)
	require.NoError(t, err)

	assert.Contains(t, out, `"sk-a****ijkl"`)
	assert.Contains(t, out, `"****"`)
	assert.NotContains(t, out, "sk-abcdefghijkl")
	assert.Contains(t, out, `"port": 18000`)
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "deepchat.json")

	out, _, err := execute(t, "config", "init", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	_, err = os.Stat(path)
	require.NoError(t, err)

	_, _, err = execute(t, "config", "init", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, _, err = execute(t, "config", "init", "--config", path, "--force")
	assert.NoError(t, err)
}

func TestConfigValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		path, _ := writeTestConfig(t, nil)

		out, _, err := execute(t, "config", "validate", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, out, "Configuration is valid")
	})

	t.Run("invalid", func(t *testing.T) {
		path, _ := writeTestConfig(t, map[string]interface{}{"locale": "fr"})

		_, errOut, err := execute(t, "config", "validate", "--config", path)
		require.Error(t, err)
		assert.Contains(t, errOut, "locale")
	})
}

func TestConfigPath(t *testing.T) {
	path, _ := writeTestConfig(t, nil)

	out, _, err := execute(t, "config", "path", "--config", path)
	require.NoError(t, err)
	assert.Equal(t, path+"\n", out)
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", maskSecret(""))
	assert.Equal(t, "****", maskSecret("short"))
	assert.Equal(t, "abcd****wxyz", maskSecret("abcdefghuvwxyz"))
}
