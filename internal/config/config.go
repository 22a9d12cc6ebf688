package config

import "time"

// Config holds runtime settings for the skysync client engine.
//
// Fields:
//   - S3Endpoint / S3Region / S3Bucket: location of the remote object store.
//   - S3AccessKey / S3SecretKey: static credentials (e.g. MINIO_ROOT_USER).
//   - ChunkSize: transfer chunk size in bytes; capped by the backend's
//     maximum chunk size at plan time.
//   - MaxWorkers: number of concurrent chunk workers per task.
//   - MaxRetries: per-chunk retry budget before the task fails.
//   - RetryBaseDelay: initial backoff delay; doubles per attempt, capped.
//   - DatabaseDSN: SQLite DSN for the fingerprint cache and chunk ledger.
//   - EncryptAlgo: "none", "simple", "chacha20" or "aes256cbc".
//   - EnvelopeVersion: envelope format version written on upload (1 or 3).
//   - UserID: cache namespace, keeps fingerprints of different accounts apart.
type Config struct {
	S3Endpoint      string
	S3Region        string
	S3Bucket        string
	S3AccessKey     string
	S3SecretKey     string
	ChunkSize       int64
	MaxWorkers      int
	MaxRetries      int
	RetryBaseDelay  time.Duration
	DatabaseDSN     string
	EncryptAlgo     string
	EnvelopeVersion int
	UserID          int64
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.S3Region = "us-east-1"
	c.S3Bucket = "skysync"
	c.ChunkSize = 10 << 20
	c.MaxWorkers = 5
	c.MaxRetries = 5
	c.RetryBaseDelay = 500 * time.Millisecond
	c.DatabaseDSN = "skysync.db"
	c.EncryptAlgo = "none"
	c.EnvelopeVersion = 3
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
