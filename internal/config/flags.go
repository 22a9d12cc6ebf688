package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/skysync/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   endpoint URL of the S3-compatible object store
//	-b string   bucket name
//	-r string   region
//	-w int      concurrent chunk workers per task
//	-s int      chunk size in MiB
//	-d string   SQLite DSN for the local cache
//
// Note: The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	// Filter args to include only those handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-b", "-r", "-w", "-s", "-d"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.S3Endpoint, "a", cfg.S3Endpoint, "endpoint URL of the object store")
	fs.StringVar(&cfg.S3Bucket, "b", cfg.S3Bucket, "bucket name")
	fs.StringVar(&cfg.S3Region, "r", cfg.S3Region, "region")
	fs.IntVar(&cfg.MaxWorkers, "w", cfg.MaxWorkers, "concurrent chunk workers per task")
	chunkMiB := fs.Int("s", int(cfg.ChunkSize>>20), "chunk size (in MiB)")
	fs.StringVar(&cfg.DatabaseDSN, "d", cfg.DatabaseDSN, "SQLite DSN for the local cache")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.ChunkSize = int64(*chunkMiB) << 20
}
