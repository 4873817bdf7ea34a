package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkrauska/nodepool/internal/catalog"
	"github.com/jkrauska/nodepool/internal/meshwire"
	"github.com/jkrauska/nodepool/internal/testutil/testlog"
)

// testEnv writes a config pointing at a throwaway database and seeds
// it through the catalog API.
func testEnv(t *testing.T, seed func(*catalog.Store)) string {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "nodepool.sqlite")
	cfgPath := filepath.Join(dir, "nodepool.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(
		"[database]\npath = %q\n", dbPath)), 0o644))

	if seed != nil {
		store, err := catalog.Open(dbPath)
		require.NoError(t, err)
		seed(store)
		require.NoError(t, store.Close())
	}
	return cfgPath
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	testlog.Start(t)
	root := NewRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestListShowsCataloguedNodes(t *testing.T) {
	cfg := testEnv(t, func(store *catalog.Store) {
		require.NoError(t, store.UpsertNode(catalog.Node{
			ID: "!00abc123", ShortName: "NP01", LongName: "Nodepool One",
			HWModel: "TBEAM", LastSeen: time.Now().UTC(),
		}))
	})

	out, err := runCommand(t, "--config", cfg, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "!00abc123")
	assert.Contains(t, out, "NP01")
}

func TestListManagedFilter(t *testing.T) {
	cfg := testEnv(t, func(store *catalog.Store) {
		now := time.Now().UTC()
		require.NoError(t, store.UpsertNode(catalog.Node{ID: "!00000001", LastSeen: now}))
		require.NoError(t, store.UpsertNode(catalog.Node{ID: "!00000002", LastSeen: now}))
		require.NoError(t, store.SetManaged("!00000002", true))
	})

	out, err := runCommand(t, "--config", cfg, "list", "--managed")
	require.NoError(t, err)
	assert.NotContains(t, out, "!00000001")
	assert.Contains(t, out, "!00000002")
}

func TestExportFormats(t *testing.T) {
	cfg := testEnv(t, func(store *catalog.Store) {
		require.NoError(t, store.UpsertNode(catalog.Node{
			ID: "!00abc123", ShortName: "NP01", LastSeen: time.Now().UTC(),
		}))
	})

	out, err := runCommand(t, "--config", cfg, "export", "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"id": "!00abc123"`)

	out, err = runCommand(t, "--config", cfg, "export", "--format", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "00abc123")

	_, err = runCommand(t, "--config", cfg, "export", "--format", "xml")
	require.Error(t, err)
}

func TestCheckEvaluatesLatestSnapshot(t *testing.T) {
	cfg := testEnv(t, func(store *catalog.Store) {
		require.NoError(t, store.UpsertNode(catalog.Node{ID: "!00abc123", LastSeen: time.Now().UTC()}))
		require.NoError(t, store.SaveSnapshot("!00abc123", meshwire.Snapshot{
			"lora": {"hop_limit": float64(3), "region": "US"},
			"security": {
				"admin_key": "deadbeef", "admin_key_set": true, "serial_enabled": false,
			},
		}))
	})

	out, err := runCommand(t, "--config", cfg, "check", "!00abc123")
	require.NoError(t, err, out)
	assert.Contains(t, out, "pass")

	// A failing snapshot turns into a nonzero exit.
	cfgBad := testEnv(t, func(store *catalog.Store) {
		require.NoError(t, store.UpsertNode(catalog.Node{ID: "!00abc123", LastSeen: time.Now().UTC()}))
		require.NoError(t, store.SaveSnapshot("!00abc123", meshwire.Snapshot{
			"lora": {"hop_limit": float64(7), "region": "UNSET"},
		}))
	})
	out, err = runCommand(t, "--config", cfgBad, "check", "!00abc123")
	require.Error(t, err)
	assert.Contains(t, out, "fail")
}

func TestCheckWithoutSnapshot(t *testing.T) {
	cfg := testEnv(t, nil)
	_, err := runCommand(t, "--config", cfg, "check", "!00abc123")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no snapshot")
}

func TestInfoUnknownNode(t *testing.T) {
	cfg := testEnv(t, nil)
	_, err := runCommand(t, "--config", cfg, "info", "!deadbeef")
	require.Error(t, err)
}

func TestEndpointCommandsRequireEndpoint(t *testing.T) {
	cfg := testEnv(t, nil)
	_, err := runCommand(t, "--config", cfg, "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--endpoint")
}
