package commands

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"reclameaqui-pipeline/internal/models"
	"reclameaqui-pipeline/internal/objectstore"

	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	previous, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() {
		os.Chdir(previous)
	})
}

func TestLoadConfigDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := loadConfig("reclameaqui-missing.json5")
	require.NoError(t, err)
	require.Equal(t, defaultConfig(), cfg)
}

func TestLoadConfigMergesDefaults(t *testing.T) {
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "reclameaqui-test.json5"), []byte(`{
		// only what differs from the defaults
		store: { endpoint: "minio.internal:9000", buckets: { raw: "custom-raw" } },
		http: { pacing_ms: { offers: 1500 } },
		pipeline: { workers: 6 },
	}`), 0644)
	require.NoError(t, err)
	nested := filepath.Join(dir, "nested", "deeper")
	require.NoError(t, os.MkdirAll(nested, 0755))
	chdir(t, nested)

	cfg, err := loadConfig("reclameaqui-test.json5")
	require.NoError(t, err)

	defaults := defaultConfig()
	require.Equal(t, "minio.internal:9000", cfg.Store.Endpoint)
	require.Equal(t, defaults.Store.AccessKey, cfg.Store.AccessKey)
	require.Equal(t, "custom-raw", cfg.Store.Buckets.Raw)
	require.Equal(t, objectstore.DefaultBuckets().Landing, cfg.Store.Buckets.Landing)
	require.Equal(t, 6, cfg.Pipeline.Workers)
	require.Equal(t, defaults.Pipeline.MaxCompanies, cfg.Pipeline.MaxCompanies)
	require.Equal(t, defaults.Finder, cfg.Finder)
	require.Equal(t, map[string]time.Duration{"offers": 1500 * time.Millisecond}, cfg.Http.pacing())
}

func TestOrConfig(t *testing.T) {
	require.Equal(t, 4, orConfig(4, 2))
	require.Equal(t, 2, orConfig(0, 2))
}

func TestParseDay(t *testing.T) {
	day, err := parseDay("2024-05-17")
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 5, 17, 0, 0, 0, 0, time.UTC), day)

	day, err = parseDay("")
	require.NoError(t, err)
	require.True(t, day.IsZero())

	_, err = parseDay("17/05/2024")
	require.Error(t, err)
}

func TestVerifyInMemory(t *testing.T) {
	chdir(t, t.TempDir())
	t.Cleanup(func() {
		if current != nil {
			current.close()
			current = nil
		}
	})

	rootCmd.SetArgs([]string{"--memory", "--config", "reclameaqui-missing.json5", "verify"})
	err := rootCmd.ExecuteContext(context.Background())
	require.NoError(t, err)
	require.NotNil(t, current)
	require.NoError(t, current.gateway.EnsureLayers(context.Background()))
}

func TestExecuteContextReturnsErrors(t *testing.T) {
	chdir(t, t.TempDir())
	t.Cleanup(func() {
		listLayer = string(models.LayerLanding)
	})

	rootCmd.SetArgs([]string{"--memory", "--config", "reclameaqui-missing.json5", "list", "--layer", "archive"})
	err := ExecuteContext(context.Background())
	require.ErrorContains(t, err, `unknown layer "archive"`)
	// the env was released and nothing exited the process
	require.Nil(t, current)
}
