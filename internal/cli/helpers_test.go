package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

// writeTestConfig writes a config file whose data directory is a temp dir
// and returns the file path and the data directory.
func writeTestConfig(t *testing.T, overrides map[string]interface{}) (string, string) {
	t.Helper()
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")

	doc := map[string]interface{}{
		"data_dir": dataDir,
		"server":   map[string]interface{}{"host": "127.0.0.1", "port": 18000},
	}
	for k, v := range overrides {
		doc[k] = v
	}

	data, err := json.Marshal(doc)
	require.NoError(t, err)
	path := filepath.Join(dir, "deepchat.json")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path, dataDir
}

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	// Flag values persist on the package-level commands between runs.
	resetFlags(GetRootCmd())

	var stdout, stderr bytes.Buffer
	cmd := GetRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if f.Changed {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		}
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}
