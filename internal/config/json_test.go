package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, dir, name string, data map[string]any) string {
	t.Helper()
	if dir == "" {
		dir = t.TempDir()
	}
	if name == "" {
		name = "cfg.json"
	}
	path := filepath.Join(dir, name)
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseJson_SourcesAndPrecedence(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	dir := t.TempDir()
	pathFlag := writeTempJSON(t, dir, "flag.json", map[string]any{
		"s3_endpoint":      "http://minio:9000",
		"s3_bucket":        "backups",
		"retry_base_delay": "2s",
		"encrypt_algo":     "chacha20",
	})

	t.Run("loads from flags", func(t *testing.T) {
		os.Args = []string{"testbin", "-config", pathFlag}

		cfg := &Config{}
		parseJson(cfg)

		assert.Equal(t, "http://minio:9000", cfg.S3Endpoint)
		assert.Equal(t, "backups", cfg.S3Bucket)
		assert.Equal(t, 2*time.Second, cfg.RetryBaseDelay)
		assert.Equal(t, "chacha20", cfg.EncryptAlgo)
	})

	t.Run("no CONFIG and no flags → no changes", func(t *testing.T) {
		os.Args = []string{"testbin"}

		cfg := &Config{
			S3Endpoint: "defaults:1234",
			MaxWorkers: 42,
		}
		parseJson(cfg)

		assert.Equal(t, "defaults:1234", cfg.S3Endpoint)
		assert.Equal(t, 42, cfg.MaxWorkers)
	})

	t.Run("zero values in JSON do not clobber defaults", func(t *testing.T) {
		empty := writeTempJSON(t, dir, "empty.json", map[string]any{})
		os.Args = []string{"testbin", "-config", empty}

		cfg := &Config{}
		cfg.LoadDefaults()
		parseJson(cfg)

		assert.Equal(t, "skysync", cfg.S3Bucket)
		assert.Equal(t, 5, cfg.MaxWorkers)
	})

	t.Run("invalid JSON → panics", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{ this is not valid json`), 0o600))

		os.Args = []string{"testbin", "-config", bad}

		cfg := &Config{}
		require.Panics(t, func() { parseJson(cfg) })
	})
}
