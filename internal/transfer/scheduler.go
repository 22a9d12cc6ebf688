// Package transfer implements the chunked, resumable transfer engine.
//
// A Scheduler turns an upload or download request into a Task: a chunk
// plan executed by a bounded worker pool, with per-chunk retry, durable
// completion tracking through a Ledger, and cooperative pause/resume/cancel
// at chunk boundaries. Content is piped through the cryptox envelope layer
// when a secret and algorithm are configured.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dmitrijs2005/skysync/internal/common"
	"github.com/dmitrijs2005/skysync/internal/cryptox"
	"github.com/dmitrijs2005/skysync/internal/fingerprint"
	"github.com/dmitrijs2005/skysync/internal/logging"
	"github.com/dmitrijs2005/skysync/internal/remote"
)

// ProgressFunc receives progress updates: bytes done so far, total bytes,
// and the index of the chunk that just completed (-1 for events not tied
// to a chunk, such as an instant registration).
type ProgressFunc func(done, total int64, chunk int)

// FingerprintCache avoids recomputing fingerprints for unchanged files.
// Lookup returns nil (no error) on a miss.
type FingerprintCache interface {
	Lookup(ctx context.Context, localPath string, size int64, mtime time.Time) (*fingerprint.Fingerprint, error)
	Store(ctx context.Context, localPath, remotePath string, fp *fingerprint.Fingerprint, size int64, mtime time.Time) error
}

// Options configures a Scheduler. Backend and Ledger are required; the
// rest defaults to sensible values.
type Options struct {
	Backend remote.Backend
	Ledger  Ledger
	Logger  logging.Logger
	Cache   FingerprintCache // optional

	ChunkSize      int64
	MaxWorkers     int
	MaxRetries     int
	RetryBaseDelay time.Duration

	// SpoolDir holds the ciphertext spool files of in-flight transfers.
	// It should survive restarts, or resumed encrypted transfers start
	// over. Defaults to the system temp directory.
	SpoolDir string

	// Secret plus Algorithm select envelope encryption for uploads and
	// decryption of enveloped downloads. AlgoNone transfers plaintext.
	Secret    []byte
	Algorithm cryptox.Algorithm
	Version   cryptox.Version

	// DisableRapid skips the instant-registration fast path on upload.
	DisableRapid bool

	// Verify recomputes the content digest after a transfer completes and
	// fails the task on mismatch.
	Verify bool

	Progress ProgressFunc
}

// Scheduler runs transfer tasks against a remote backend.
type Scheduler struct {
	backend remote.Backend
	ledger  Ledger
	log     logging.Logger
	cache   FingerprintCache
	opts    Options
}

func NewScheduler(opts Options) (*Scheduler, error) {
	if opts.Backend == nil {
		return nil, errors.New("transfer: backend is required")
	}
	if opts.Ledger == nil {
		opts.Ledger = NewMemLedger()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNullLogger()
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 10 << 20
	}
	minChunk, maxChunk := opts.Backend.ChunkSizeBounds()
	if minChunk > 0 && opts.ChunkSize < minChunk {
		opts.ChunkSize = minChunk
	}
	if maxChunk > 0 && opts.ChunkSize > maxChunk {
		opts.ChunkSize = maxChunk
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 5
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 500 * time.Millisecond
	}
	if opts.Version == 0 {
		opts.Version = cryptox.Version3
	}
	if opts.SpoolDir == "" {
		opts.SpoolDir = os.TempDir()
	}
	if opts.Progress == nil {
		opts.Progress = func(done, total int64, chunk int) {}
	}

	return &Scheduler{
		backend: opts.Backend,
		ledger:  opts.Ledger,
		log:     opts.Logger,
		cache:   opts.Cache,
		opts:    opts,
	}, nil
}

// Handle is the control surface of one running task.
type Handle struct {
	task *Task

	mu     sync.Mutex
	resume chan struct{} // non-nil while paused; closed on Resume

	cancel context.CancelFunc
	done   chan struct{}
	err    error

	bytesDone atomic.Int64
}

// Task returns the task this handle controls.
func (h *Handle) Task() *Task { return h.task }

// Pause asks workers to stop picking up new chunks. Chunks already being
// transferred run to completion; nothing is torn mid-write.
func (h *Handle) Pause() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.resume == nil {
		h.resume = make(chan struct{})
	}
}

// Resume lifts a pause.
func (h *Handle) Resume() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.resume != nil {
		close(h.resume)
		h.resume = nil
	}
}

// Cancel aborts the task. Workers observe it at their next chunk boundary;
// in-flight network calls finish or time out rather than being severed.
func (h *Handle) Cancel() {
	h.cancel()
}

// Wait blocks until the task finishes and returns its result.
func (h *Handle) Wait() error {
	<-h.done
	return h.err
}

// waitIfPaused blocks while the handle is paused. It returns an error only
// when the task is cancelled during the wait.
func (h *Handle) waitIfPaused(ctx context.Context) error {
	for {
		h.mu.Lock()
		ch := h.resume
		h.mu.Unlock()
		if ch == nil {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return fmt.Errorf("%w: task %s", common.ErrTaskCancelled, h.task.ID)
		}
	}
}

// start launches fn as the task body and returns immediately.
func (s *Scheduler) start(ctx context.Context, task *Task, fn func(ctx context.Context, h *Handle) error) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{task: task, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(h.done)
		defer cancel()
		err := fn(ctx, h)
		if err != nil && ctx.Err() != nil && !errors.Is(err, common.ErrTaskCancelled) {
			err = fmt.Errorf("%w: task %s: %v", common.ErrTaskCancelled, task.ID, err)
		}
		h.err = err
		if err != nil {
			s.log.Error(ctx, "task finished with error",
				"task", task.ID, "direction", task.Direction.String(),
				"remote", task.RemotePath, "error", err)
		} else {
			s.log.Info(ctx, "task finished",
				"task", task.ID, "direction", task.Direction.String(),
				"remote", task.RemotePath, "bytes", task.TotalSize)
		}
	}()
	return h
}

// runChunk executes one chunk transfer with bounded exponential backoff.
// Transient failures are retried up to the configured budget; fatal errors
// stop immediately. Exhaustion is reported as ErrChunkExhausted with task,
// chunk and remote-path context.
func (s *Scheduler) runChunk(ctx context.Context, task *Task, chunk *Chunk, attempt func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(uint64(s.opts.MaxRetries),
		retry.WithCappedDuration(30*time.Second, retry.NewExponential(s.opts.RetryBaseDelay)))

	var attempts int
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		err := attempt(ctx)
		if err == nil {
			return nil
		}
		if isFatal(err) || ctx.Err() != nil {
			return err
		}
		s.log.Warn(ctx, "chunk attempt failed, will retry",
			"task", task.ID, "chunk", chunk.Index, "attempt", attempts, "error", err)
		return retry.RetryableError(err)
	})
	if err == nil {
		return nil
	}
	if isFatal(err) || ctx.Err() != nil {
		return err
	}
	return fmt.Errorf("%w: task %s chunk %d (%s): %v",
		common.ErrChunkExhausted, task.ID, chunk.Index, task.RemotePath, err)
}

// isFatal reports whether an error must not be retried.
func isFatal(err error) bool {
	return errors.Is(err, common.ErrPermissionDenied) ||
		errors.Is(err, common.ErrQuotaExceeded) ||
		errors.Is(err, common.ErrNotFound) ||
		errors.Is(err, common.ErrUnsupportedAlgorithm) ||
		errors.Is(err, common.ErrCorruptEnvelope) ||
		errors.Is(err, common.ErrIncompatibleVersion) ||
		errors.Is(err, common.ErrTaskCancelled) ||
		errors.Is(err, context.Canceled)
}

// markChunkDone records completion durably and reports progress.
func (s *Scheduler) markChunkDone(ctx context.Context, h *Handle, chunk *Chunk) error {
	chunk.MarkDone()
	if err := s.ledger.MarkChunkDone(ctx, h.task.ID, chunk.Index); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	done := h.bytesDone.Add(chunk.Size)
	s.opts.Progress(done, h.task.TotalSize, chunk.Index)
	return nil
}
