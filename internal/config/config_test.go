package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, "skysync", c.S3Bucket)
	assert.Equal(t, int64(10<<20), c.ChunkSize)
	assert.Equal(t, 5, c.MaxWorkers)
	assert.Equal(t, 5, c.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, c.RetryBaseDelay)
	assert.Equal(t, "none", c.EncryptAlgo)
	assert.Equal(t, 3, c.EnvelopeVersion)
}

func TestLoadConfig_UsesDefaultsBeforeParsing(t *testing.T) {
	cfg := LoadConfig()

	require.NotNil(t, cfg, "LoadConfig must not return nil")
	assert.Equal(t, "skysync", cfg.S3Bucket)
	assert.Equal(t, "skysync.db", cfg.DatabaseDSN)
}
