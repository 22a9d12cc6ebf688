package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/skysync/internal/common"
	"github.com/dmitrijs2005/skysync/internal/cryptox"
	"github.com/dmitrijs2005/skysync/internal/fingerprint"
)

// Download starts transferring remotePath to localPath and returns a handle
// controlling the running task.
//
// Remote content is sniffed for an encryption envelope. Plain content and
// random-access ciphers are fetched as independent ranged chunks written
// positionally into the destination file. Sequential ciphers (ChaCha20,
// AES-CBC) still fetch in parallel, but into a ciphertext spool that is
// decrypted in one pass once every chunk landed.
func (s *Scheduler) Download(ctx context.Context, remotePath, localPath string) (*Handle, error) {
	info, err := s.backend.Stat(ctx, remotePath)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", remotePath, err)
	}

	env, err := s.sniffEnvelope(ctx, remotePath, info.Size)
	if err != nil {
		return nil, err
	}

	// Chunk offsets are relative to the ciphertext body, i.e. the remote
	// object minus the envelope header.
	bodyLen := info.Size
	if env != nil {
		bodyLen = info.Size - int64(env.HeaderLen())
	}

	rec, err := s.ledger.OpenTask(ctx, DirectionDownload, localPath, remotePath, bodyLen, s.opts.ChunkSize)
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}

	task := newTask(DirectionDownload, localPath, remotePath, bodyLen, s.opts.ChunkSize)
	task.ID = rec.TaskID

	return s.start(ctx, task, func(ctx context.Context, h *Handle) error {
		return s.runDownload(ctx, h, rec, env, info.ContentMD5)
	}), nil
}

// sniffEnvelope fetches the remote prefix and decides whether the content
// is enveloped. Unenveloped content, and enveloped content when no secret
// is configured, downloads as-is.
func (s *Scheduler) sniffEnvelope(ctx context.Context, remotePath string, size int64) (*cryptox.Envelope, error) {
	if size == 0 || len(s.opts.Secret) == 0 {
		return nil, nil
	}

	n := int64(cryptox.MaxHeaderLen)
	if n > size {
		n = size
	}
	rc, err := s.backend.ReadRange(ctx, remotePath, 0, n)
	if err != nil {
		return nil, fmt.Errorf("sniff %s: %w", remotePath, err)
	}
	prefix, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return nil, fmt.Errorf("sniff %s: %w", remotePath, err)
	}
	if !cryptox.Detect(prefix) {
		return nil, nil
	}

	env, err := cryptox.ParseEnvelope(bytes.NewReader(prefix))
	if err != nil {
		return nil, fmt.Errorf("envelope of %s: %w", remotePath, err)
	}
	return env, nil
}

func (s *Scheduler) runDownload(ctx context.Context, h *Handle, rec *TaskRecord, env *cryptox.Envelope, remoteMD5 string) error {
	task := h.task

	var headerLen int64
	if env != nil {
		headerLen = int64(env.HeaderLen())
	}

	sequential := env != nil && env.Sequential()

	// Destination of the parallel chunk writes: the final file for plain
	// and random-access content, a ciphertext spool for sequential ciphers.
	var (
		dest      *os.File
		spoolPath string
		err       error
	)
	if sequential {
		spoolPath, dest, err = s.openDownloadSpool(ctx, rec)
	} else {
		plainLen := task.TotalSize
		if env != nil {
			plainLen = env.OrigLen
		}
		dest, err = openSized(rec.LocalPath, plainLen)
	}
	if err != nil {
		return err
	}
	defer dest.Close()

	// The spool check above may have reset progress; apply the surviving
	// chunk completions only now.
	for _, c := range task.Chunks {
		if rec.DoneChunks[c.Index] {
			c.MarkDone()
		}
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
				return s.fetchChunk(ctx, task, chunk, env, headerLen, sequential, dest)
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
			_ = s.ledger.CloseTask(context.WithoutCancel(ctx), task.ID)
			if spoolPath != "" {
				os.Remove(spoolPath)
			}
		}
		return err
	}

	if sequential {
		if err := s.decryptSpool(dest, rec.LocalPath, env); err != nil {
			return err
		}
		os.Remove(spoolPath)
	}

	if s.opts.Verify && env == nil && remoteMD5 != "" {
		fp, err := fingerprint.ComputeFile(rec.LocalPath, filepath.Base(rec.LocalPath))
		if err != nil {
			return fmt.Errorf("verify %s: %w", rec.LocalPath, err)
		}
		if fp.ContentMD5 != remoteMD5 {
			// Every chunk is marked done at this point; clear them so a
			// re-issued download refetches instead of replaying the ledger
			// into the same mismatch.
			_ = s.ledger.ResetChunks(ctx, task.ID)
			return fmt.Errorf("%w: task %s %s: local %s, remote %s",
				common.ErrChecksumMismatch, task.ID, rec.LocalPath, fp.ContentMD5, remoteMD5)
		}
	}

	return s.ledger.CloseTask(ctx, task.ID)
}

// fetchChunk transfers one body chunk. Plain content goes straight to its
// offset. Random-access ciphertext is decrypted per chunk before the write.
// Sequential ciphertext lands in the spool untouched.
func (s *Scheduler) fetchChunk(ctx context.Context, task *Task, chunk *Chunk, env *cryptox.Envelope, headerLen int64, sequential bool, dest *os.File) error {
	rc, err := s.backend.ReadRange(ctx, task.RemotePath, headerLen+chunk.Offset, chunk.Size)
	if err != nil {
		return err
	}
	defer rc.Close()

	if env == nil || sequential {
		w := io.NewOffsetWriter(dest, chunk.Offset)
		n, err := io.Copy(w, rc)
		if err != nil {
			return err
		}
		if n != chunk.Size {
			return fmt.Errorf("chunk %d: short read, got %d of %d bytes", chunk.Index, n, chunk.Size)
		}
		return nil
	}

	// Random access: None passes through, Simple substitutes per byte.
	buf := make([]byte, chunk.Size)
	if _, err := io.ReadFull(rc, buf); err != nil {
		return fmt.Errorf("chunk %d: %w", chunk.Index, err)
	}
	if env.Algorithm == cryptox.AlgoSimple {
		buf = cryptox.DecryptRange(s.opts.Secret, env, buf)
	}
	if _, err := dest.WriteAt(buf, chunk.Offset); err != nil {
		return fmt.Errorf("chunk %d: write: %w", chunk.Index, err)
	}
	return nil
}

// openDownloadSpool opens (or creates) the ciphertext spool recorded in
// the ledger. Losing the spool between runs resets chunk progress, same
// as losing an upload spool.
func (s *Scheduler) openDownloadSpool(ctx context.Context, rec *TaskRecord) (string, *os.File, error) {
	if rec.SpoolPath != "" {
		if f, err := os.OpenFile(rec.SpoolPath, os.O_RDWR, 0o600); err == nil {
			return rec.SpoolPath, f, nil
		}
		rec.DoneChunks = map[int]bool{}
		if err := s.ledger.ResetChunks(ctx, rec.TaskID); err != nil {
			return "", nil, fmt.Errorf("ledger: %w", err)
		}
	}

	spool := filepath.Join(s.opts.SpoolDir, "spool-"+rec.TaskID)
	f, err := openSized(spool, rec.TotalSize)
	if err != nil {
		return "", nil, err
	}
	if err := s.ledger.SetSpool(ctx, rec.TaskID, spool); err != nil {
		f.Close()
		os.Remove(spool)
		return "", nil, fmt.Errorf("ledger: %w", err)
	}
	rec.SpoolPath = spool
	return spool, f, nil
}

// decryptSpool runs the whole-stream decryptor over the assembled
// ciphertext and writes the plaintext destination file.
func (s *Scheduler) decryptSpool(spool *os.File, localPath string, env *cryptox.Envelope) error {
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("spool seek: %w", err)
	}
	dec, err := cryptox.NewDecryptor(s.opts.Secret, env, spool)
	if err != nil {
		return fmt.Errorf("decrypt %s: %w", localPath, err)
	}

	out, err := os.OpenFile(localPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", localPath, err)
	}
	if _, err := io.Copy(out, dec); err != nil {
		out.Close()
		return fmt.Errorf("decrypt %s: %w", localPath, err)
	}
	return out.Close()
}

// openSized opens path for positional writes and extends it to size so
// out-of-order chunk writes never grow the file past concurrent readers.
func openSized(path string, size int64) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("truncate %s: %w", path, err)
	}
	return f, nil
}
