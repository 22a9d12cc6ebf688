// Package config loads runtime configuration for the skysync client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-a string   endpoint URL of the S3-compatible object store
//	-b string   bucket name
//	-r string   region
//	-w int      concurrent chunk workers per task
//	-s int      chunk size (MiB)
//	-d string   SQLite DSN for the local cache
//
// # JSON schema
//
// The JSON loader uses timex.Duration for delays, so values can be either
// strings like "500ms" or integer nanoseconds:
//
//	{
//	  "s3_endpoint": "http://127.0.0.1:9000",
//	  "s3_bucket": "skysync",
//	  "chunk_size": 10485760,
//	  "max_workers": 5,
//	  "retry_base_delay": "500ms",
//	  "encrypt_algo": "chacha20",
//	  "envelope_version": 3
//	}
//
// Secrets (S3SecretKey, encryption passwords) are never logged by this or any
// other package.
//
// Note: This package does not read environment variables directly; use the
// JSON file or flags to configure values.
package config
