package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/skysync/internal/common"
	"github.com/dmitrijs2005/skysync/internal/cryptox"
	"github.com/dmitrijs2005/skysync/internal/fingerprint"
	"github.com/dmitrijs2005/skysync/internal/remote"
)

// Upload starts transferring localPath to remotePath and returns a handle
// controlling the running task.
//
// The instant-registration fast path is tried first: if the store already
// holds content with this fingerprint, the file is registered without
// transferring a byte. Otherwise the file (enveloped first, when an
// encryption algorithm is configured) is split into chunks and streamed
// concurrently. Progress survives restarts through the ledger: a re-issued
// upload of the same pair skips chunks already confirmed done.
func (s *Scheduler) Upload(ctx context.Context, localPath, remotePath string) (*Handle, error) {
	fi, err := os.Stat(localPath)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", localPath, err)
	}

	fp, err := s.fingerprintFor(ctx, localPath, remotePath, fi.Size(), fi.ModTime())
	if err != nil {
		return nil, err
	}

	transferSize := fi.Size()
	if s.opts.Algorithm != cryptox.AlgoNone {
		transferSize = cryptox.EncryptedSize(s.opts.Algorithm, s.opts.Version, fi.Size())
	}

	rec, err := s.ledger.OpenTask(ctx, DirectionUpload, localPath, remotePath, transferSize, s.opts.ChunkSize)
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}

	task := newTask(DirectionUpload, localPath, remotePath, transferSize, s.opts.ChunkSize)
	task.ID = rec.TaskID

	return s.start(ctx, task, func(ctx context.Context, h *Handle) error {
		return s.runUpload(ctx, h, rec, fp, fi.Size())
	}), nil
}

// fingerprintFor returns the file's fingerprint, consulting the cache when
// size and mtime are unchanged since the last computation.
func (s *Scheduler) fingerprintFor(ctx context.Context, localPath, remotePath string, size int64, mtime time.Time) (*fingerprint.Fingerprint, error) {
	if s.cache != nil {
		fp, err := s.cache.Lookup(ctx, localPath, size, mtime)
		if err != nil {
			s.log.Warn(ctx, "fingerprint cache lookup failed", "path", localPath, "error", err)
		} else if fp != nil {
			return fp, nil
		}
	}

	fp, err := fingerprint.ComputeFile(localPath, filepath.Base(localPath))
	if err != nil {
		return nil, fmt.Errorf("fingerprint %s: %w", localPath, err)
	}

	if s.cache != nil {
		if err := s.cache.Store(ctx, localPath, remotePath, fp, size, mtime); err != nil {
			s.log.Warn(ctx, "fingerprint cache store failed", "path", localPath, "error", err)
		}
	}
	return fp, nil
}

func (s *Scheduler) runUpload(ctx context.Context, h *Handle, rec *TaskRecord, fp *fingerprint.Fingerprint, origSize int64) error {
	task := h.task

	// The fingerprint describes the plaintext. When an encryption algorithm
	// is active the stored bytes are ciphertext, so registering or indexing
	// them under the plaintext digest would hand later uploads content that
	// does not match. Dedup is a plaintext-only path.
	if s.opts.Algorithm != cryptox.AlgoNone {
		fp = nil
	}

	// Dedup fast path: register by fingerprint, zero bytes transferred.
	if !s.opts.DisableRapid && fp != nil {
		err := s.backend.Register(ctx, fp, task.RemotePath)
		if err == nil {
			s.log.Info(ctx, "instant registration", "task", task.ID, "remote", task.RemotePath)
			s.opts.Progress(task.TotalSize, task.TotalSize, -1)
			if rec.SpoolPath != "" {
				os.Remove(rec.SpoolPath)
			}
			return s.ledger.CloseTask(ctx, task.ID)
		}
		if !errors.Is(err, common.ErrNotFound) {
			s.log.Warn(ctx, "instant registration failed, falling back to streaming",
				"task", task.ID, "error", err)
		}
	}

	src, cleanup, err := s.uploadSource(ctx, rec, origSize)
	if err != nil {
		return err
	}
	defer src.Close()

	// Chunks confirmed in an earlier run are skipped.
	for _, c := range task.Chunks {
		if rec.DoneChunks[c.Index] {
			c.MarkDone()
		}
	}

	up, err := s.openUploadSession(ctx, task, rec, fp)
	if err != nil {
		return err
	}
	h.bytesDone.Store(task.doneBytes())

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.MaxWorkers)
	for _, chunk := range task.pending() {
		chunk := chunk
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := h.waitIfPaused(gctx); err != nil {
				return err
			}
			if !chunk.Claim() {
				return nil
			}
			err := s.runChunk(gctx, task, chunk, func(ctx context.Context) error {
				r := io.NewSectionReader(src, chunk.Offset, chunk.Size)
				return up.UploadChunk(ctx, chunk.Index, chunk.Offset, r, chunk.Size)
			})
			if err != nil {
				chunk.Revert()
				return err
			}
			return s.markChunkDone(gctx, h, chunk)
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, common.ErrTaskCancelled) || ctx.Err() != nil {
			// Explicit cancellation destroys the task; an interrupted or
			// failed one keeps its ledger record for resume.
			_ = up.Abort(context.WithoutCancel(ctx))
			_ = s.ledger.CloseTask(context.WithoutCancel(ctx), task.ID)
			cleanup()
		}
		return err
	}

	if err := up.Complete(ctx); err != nil {
		return fmt.Errorf("complete upload %s: %w", task.RemotePath, err)
	}

	if s.opts.Verify && fp != nil && s.opts.Algorithm == cryptox.AlgoNone {
		info, err := s.backend.Stat(ctx, task.RemotePath)
		if err == nil && info.ContentMD5 != "" && info.ContentMD5 != fp.ContentMD5 {
			return fmt.Errorf("%w: task %s %s: remote %s, local %s",
				common.ErrChecksumMismatch, task.ID, task.RemotePath, info.ContentMD5, fp.ContentMD5)
		}
	}

	cleanup()
	return s.ledger.CloseTask(ctx, task.ID)
}

// uploadSource returns the ReaderAt the chunk workers read from. Plaintext
// uploads read the file directly. Encrypted uploads spool the enveloped
// stream to a temp file once so every chunk (and every resumed run) sees
// the same ciphertext bytes; re-encrypting would draw a fresh salt and
// invalidate chunks already uploaded.
func (s *Scheduler) uploadSource(ctx context.Context, rec *TaskRecord, origSize int64) (*os.File, func(), error) {
	if s.opts.Algorithm == cryptox.AlgoNone {
		f, err := os.Open(rec.LocalPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open %s: %w", rec.LocalPath, err)
		}
		return f, func() {}, nil
	}

	spool := rec.SpoolPath
	if spool != "" {
		if f, err := os.Open(spool); err == nil {
			return f, func() { os.Remove(spool) }, nil
		}
		// Spool lost between runs: chunks uploaded from it are useless
		// because a new envelope carries a new salt. Start over.
		rec.DoneChunks = map[int]bool{}
		rec.Session = ""
		if err := s.ledger.ResetChunks(ctx, rec.TaskID); err != nil {
			return nil, nil, fmt.Errorf("ledger: %w", err)
		}
		if err := s.ledger.SetSession(ctx, rec.TaskID, ""); err != nil {
			return nil, nil, fmt.Errorf("ledger: %w", err)
		}
	}

	spool = filepath.Join(s.opts.SpoolDir, "spool-"+rec.TaskID)
	if err := s.writeSpool(spool, rec.LocalPath, origSize); err != nil {
		return nil, nil, err
	}
	if err := s.ledger.SetSpool(ctx, rec.TaskID, spool); err != nil {
		os.Remove(spool)
		return nil, nil, fmt.Errorf("ledger: %w", err)
	}
	rec.SpoolPath = spool

	f, err := os.Open(spool)
	if err != nil {
		return nil, nil, fmt.Errorf("open spool: %w", err)
	}
	return f, func() { os.Remove(spool) }, nil
}

func (s *Scheduler) writeSpool(spool, localPath string, origSize int64) error {
	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer src.Close()

	_, enc, err := cryptox.NewEncryptor(s.opts.Secret, s.opts.Algorithm, s.opts.Version, src, origSize)
	if err != nil {
		return fmt.Errorf("encrypt %s: %w", localPath, err)
	}

	out, err := os.OpenFile(spool, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create spool: %w", err)
	}
	if _, err := io.Copy(out, enc); err != nil {
		out.Close()
		os.Remove(spool)
		return fmt.Errorf("spool %s: %w", localPath, err)
	}
	return out.Close()
}

// openUploadSession resumes the remote session recorded in the ledger, or
// creates a new one. A session the store no longer knows about resets the
// chunk progress: parts sent to a dead session are gone.
func (s *Scheduler) openUploadSession(ctx context.Context, task *Task, rec *TaskRecord, fp *fingerprint.Fingerprint) (remote.Upload, error) {
	if rec.Session != "" {
		up, err := s.backend.ResumeUpload(ctx, task.RemotePath, rec.Session)
		if err == nil {
			return up, nil
		}
		s.log.Warn(ctx, "upload session lost, restarting",
			"task", task.ID, "session", rec.Session, "error", err)
		for _, c := range task.Chunks {
			c.Reset()
		}
		rec.DoneChunks = map[int]bool{}
		if err := s.ledger.ResetChunks(ctx, rec.TaskID); err != nil {
			return nil, fmt.Errorf("ledger: %w", err)
		}
	}

	up, err := s.backend.CreateUpload(ctx, task.RemotePath, task.TotalSize, fp)
	if err != nil {
		return nil, fmt.Errorf("create upload %s: %w", task.RemotePath, err)
	}
	if err := s.ledger.SetSession(ctx, task.ID, up.ID()); err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	return up, nil
}
