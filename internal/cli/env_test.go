package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/roach88/disburse/internal/store"
	"github.com/roach88/disburse/internal/testutil"
)

// testEnv is a config file pointing at a temp database and a temp
// filesystem storage root.
type testEnv struct {
	dir        string
	dbPath     string
	dataDir    string
	configPath string
}

func newTestEnv(t *testing.T, overrides map[string]any) *testEnv {
	t.Helper()
	dir := t.TempDir()
	e := &testEnv{
		dir:        dir,
		dbPath:     filepath.Join(dir, "disburse.db"),
		dataDir:    filepath.Join(dir, "data"),
		configPath: filepath.Join(dir, "disburse.yaml"),
	}
	cfg := map[string]any{
		"database": map[string]any{"path": e.dbPath},
		"storage":  map[string]any{"driver": "fs", "root": e.dataDir},
		"log":      map[string]any{"level": "warn"},
	}
	for k, v := range overrides {
		cfg[k] = v
	}
	data, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(e.configPath, data, 0o644))
	return e
}

// exec runs the CLI against the env's config.
func (e *testEnv) exec(args ...string) (stdout, stderr string, code int) {
	var out, errOut bytes.Buffer
	code = Execute(context.Background(), append([]string{"--config", e.configPath}, args...), &out, &errOut)
	return out.String(), errOut.String(), code
}

// withStore opens the env's database for seeding or inspection and closes
// it before returning, so the CLI never shares it.
func (e *testEnv) withStore(t *testing.T, fn func(s *store.Store, fx *testutil.Fixtures)) {
	t.Helper()
	s, err := store.Open(e.dbPath)
	require.NoError(t, err)
	defer s.Close()
	fn(s, testutil.NewFixtures(t, s))
}

// put writes a file under the storage root.
func (e *testEnv) put(t *testing.T, key string, data []byte) {
	t.Helper()
	path := filepath.Join(e.dataDir, filepath.FromSlash(key))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

// files lists the files under a storage directory.
func (e *testEnv) files(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(e.dataDir, filepath.FromSlash(dir)))
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names
}

// decode reads the JSON responses written to stdout, in order.
func decode[T any](t *testing.T, stdout string) (T, []CLIResponse) {
	t.Helper()
	var data T
	var responses []CLIResponse
	dec := json.NewDecoder(bytes.NewBufferString(stdout))
	for dec.More() {
		var raw struct {
			CLIResponse
			Data json.RawMessage `json:"data"`
		}
		require.NoError(t, dec.Decode(&raw))
		if raw.Status == "ok" {
			require.NoError(t, json.Unmarshal(raw.Data, &data))
		}
		responses = append(responses, raw.CLIResponse)
	}
	return data, responses
}
