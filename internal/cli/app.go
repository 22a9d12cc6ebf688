// Package cli wires the engine into a small verb-style command line:
// upload, download, sync, link and links.
package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/skysync/internal/common"
	"github.com/dmitrijs2005/skysync/internal/config"
	"github.com/dmitrijs2005/skysync/internal/cryptox"
	"github.com/dmitrijs2005/skysync/internal/filex"
	"github.com/dmitrijs2005/skysync/internal/fingerprint"
	"github.com/dmitrijs2005/skysync/internal/logging"
	"github.com/dmitrijs2005/skysync/internal/remote"
	"github.com/dmitrijs2005/skysync/internal/storage"
	"github.com/dmitrijs2005/skysync/internal/syncx"
	"github.com/dmitrijs2005/skysync/internal/transfer"
)

type App struct {
	config       *config.Config
	log          logging.Logger
	backend      remote.Backend
	scheduler    *transfer.Scheduler
	fingerprints *storage.FingerprintRepository
	db           *sql.DB
	secret       []byte
	out          io.Writer
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	db, err := storage.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	backend, err := remote.NewS3Backend(ctx, remote.S3Config{
		Endpoint:  cfg.S3Endpoint,
		Region:    cfg.S3Region,
		Bucket:    cfg.S3Bucket,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	algo, err := cryptox.ParseAlgorithm(cfg.EncryptAlgo)
	if err != nil {
		db.Close()
		return nil, err
	}

	var secret []byte
	if algo != cryptox.AlgoNone {
		secret, err = GetPassword(os.Stdout)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("read password: %w", err)
		}
	}

	// Spools live next to the cache database so interrupted encrypted
	// transfers resume after a reboot.
	spoolDir, err := filex.EnsureSubdDir(".skysync")
	if err != nil {
		db.Close()
		return nil, err
	}

	out := os.Stdout
	fingerprints := storage.NewFingerprintRepository(db, cfg.UserID)
	scheduler, err := transfer.NewScheduler(transfer.Options{
		Backend:        backend,
		Ledger:         storage.NewLedgerRepository(db),
		Logger:         logger,
		Cache:          fingerprints,
		ChunkSize:      cfg.ChunkSize,
		MaxWorkers:     cfg.MaxWorkers,
		MaxRetries:     cfg.MaxRetries,
		RetryBaseDelay: cfg.RetryBaseDelay,
		SpoolDir:       spoolDir,
		Secret:         secret,
		Algorithm:      algo,
		Version:        cryptox.Version(cfg.EnvelopeVersion),
		Progress:       printProgress(out),
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &App{
		config:       cfg,
		log:          logger,
		backend:      backend,
		scheduler:    scheduler,
		fingerprints: fingerprints,
		db:           db,
		secret:       secret,
		out:          out,
	}, nil
}

// Close releases the database and wipes the secret from memory.
func (a *App) Close() {
	common.WipeByteArray(a.secret)
	if a.db != nil {
		a.db.Close()
	}
}

func printProgress(w io.Writer) transfer.ProgressFunc {
	return func(done, total int64, chunk int) {
		if total == 0 {
			return
		}
		fmt.Fprintf(w, "\r%d / %d bytes (%d%%)", done, total, done*100/total)
		if done >= total {
			fmt.Fprintln(w)
		}
	}
}

func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		a.usage()
		return errors.New("no command given")
	}

	switch args[0] {
	case "upload":
		if len(args) != 3 {
			return errors.New("usage: upload <local-file> <remote-path>")
		}
		return a.runTransfer(ctx, func() (*transfer.Handle, error) {
			return a.scheduler.Upload(ctx, args[1], args[2])
		})
	case "download":
		if len(args) != 3 {
			return errors.New("usage: download <remote-path> <local-file>")
		}
		return a.runTransfer(ctx, func() (*transfer.Handle, error) {
			return a.scheduler.Download(ctx, args[1], args[2])
		})
	case "sync":
		if len(args) != 3 {
			return errors.New("usage: sync <local-dir> <remote-prefix>")
		}
		return a.cmdSync(ctx, args[1], args[2])
	case "link":
		if len(args) < 2 {
			return errors.New("usage: link <local-file> [protocol] | link <hash-link>")
		}
		return a.cmdLink(args[1:])
	case "links":
		return a.cmdLinks(ctx, args[1:])
	default:
		a.usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func (a *App) runTransfer(ctx context.Context, start func() (*transfer.Handle, error)) error {
	h, err := start()
	if err != nil {
		return err
	}
	return h.Wait()
}

func (a *App) cmdSync(ctx context.Context, localRoot, remotePrefix string) error {
	runner := &syncx.Runner{
		Scheduler:   a.scheduler,
		Backend:     a.backend,
		Logger:      a.log,
		MaxParallel: a.config.MaxWorkers,
	}
	plan, err := runner.Run(ctx, localRoot, remotePrefix)
	if err != nil {
		return err
	}
	for _, e := range plan {
		fmt.Fprintf(a.out, "%-6s %s\n", e.Action.String(), e.RelPath)
	}
	return nil
}

// cmdLink either encodes a local file into a shareable hash link, or
// decodes a link passed on the command line.
func (a *App) cmdLink(args []string) error {
	target := args[0]

	if strings.Contains(target, "://") || strings.Contains(target, "#") {
		fp, err := fingerprint.Decode(target)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "filename: %s\nlength: %d\ncontent-md5: %s\nslice-md5: %s\ncrc32: %d\n",
			fp.Filename, fp.Length, fp.ContentMD5, fp.SliceMD5, fp.CRC32)
		return nil
	}

	protocol := fingerprint.DefaultProtocol
	if len(args) > 1 {
		protocol = fingerprint.Protocol(args[1])
	}

	fp, err := fingerprint.ComputeFile(target, filepath.Base(target))
	if err != nil {
		return err
	}
	link, err := fingerprint.Encode(fp, protocol)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, link)
	return nil
}

// cmdLinks prints hash links for every cached fingerprint, optionally
// filtered by a substring.
func (a *App) cmdLinks(ctx context.Context, args []string) error {
	var (
		cached []storage.CachedFingerprint
		err    error
	)
	if len(args) > 0 {
		cached, err = a.fingerprints.Search(ctx, args[0])
	} else {
		cached, err = a.fingerprints.List(ctx)
	}
	if err != nil {
		return err
	}

	for _, c := range cached {
		link, err := fingerprint.Encode(&c.Fingerprint, fingerprint.DefaultProtocol)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "%s\t%s\n", c.RemotePath, link)
	}
	return nil
}

func (a *App) usage() {
	fmt.Fprint(a.out, `skysync commands:
  upload <local-file> <remote-path>
  download <remote-path> <local-file>
  sync <local-dir> <remote-prefix>
  link <local-file> [cs3l|short|bdpan]
  link <hash-link>
  links [substring]
`)
}
