package transfer

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// TaskRecord is the durable state of one transfer, enough to resume it
// after a restart: the chunk geometry, the remote upload session, and the
// set of chunks already confirmed done.
type TaskRecord struct {
	TaskID     string
	Direction  Direction
	LocalPath  string
	RemotePath string
	TotalSize  int64
	ChunkSize  int64
	Session    string
	SpoolPath  string
	DoneChunks map[int]bool
}

// Ledger persists chunk completion so an interrupted task can skip what it
// already transferred. Implementations must serialize writes per task; the
// scheduler calls MarkChunkDone from concurrent workers.
type Ledger interface {
	// OpenTask returns the existing record for (direction, localPath,
	// remotePath) if one survives from an earlier run, or creates a fresh
	// one with the given geometry. A surviving record whose size or chunk
	// geometry no longer matches is discarded and replaced.
	OpenTask(ctx context.Context, direction Direction, localPath, remotePath string, totalSize, chunkSize int64) (*TaskRecord, error)

	// SetSession stores the remote upload session ID for the task.
	SetSession(ctx context.Context, taskID, session string) error

	// SetSpool stores the path of the task's local spool file.
	SetSpool(ctx context.Context, taskID, path string) error

	// MarkChunkDone durably records one completed chunk.
	MarkChunkDone(ctx context.Context, taskID string, index int) error

	// ResetChunks clears every recorded chunk completion of the task,
	// used when the remote session or local spool backing them is lost.
	ResetChunks(ctx context.Context, taskID string) error

	// CloseTask removes the record after completion or cancellation.
	CloseTask(ctx context.Context, taskID string) error
}

// MemLedger is an in-memory Ledger for tests and one-shot runs where
// resumability across restarts is not needed.
type MemLedger struct {
	mu    sync.Mutex
	tasks map[string]*TaskRecord // key: direction|local|remote
	byID  map[string]*TaskRecord
}

func NewMemLedger() *MemLedger {
	return &MemLedger{
		tasks: make(map[string]*TaskRecord),
		byID:  make(map[string]*TaskRecord),
	}
}

func ledgerKey(d Direction, local, remote string) string {
	return d.String() + "|" + local + "|" + remote
}

func (l *MemLedger) OpenTask(ctx context.Context, d Direction, localPath, remotePath string, totalSize, chunkSize int64) (*TaskRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := ledgerKey(d, localPath, remotePath)
	if rec, ok := l.tasks[key]; ok {
		if rec.TotalSize == totalSize && rec.ChunkSize == chunkSize {
			return rec.clone(), nil
		}
		delete(l.byID, rec.TaskID)
		delete(l.tasks, key)
	}

	rec := &TaskRecord{
		TaskID:     uuid.NewString(),
		Direction:  d,
		LocalPath:  localPath,
		RemotePath: remotePath,
		TotalSize:  totalSize,
		ChunkSize:  chunkSize,
		DoneChunks: make(map[int]bool),
	}
	l.tasks[key] = rec
	l.byID[rec.TaskID] = rec
	return rec.clone(), nil
}

func (l *MemLedger) SetSession(ctx context.Context, taskID, session string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec, ok := l.byID[taskID]; ok {
		rec.Session = session
	}
	return nil
}

func (l *MemLedger) SetSpool(ctx context.Context, taskID, path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec, ok := l.byID[taskID]; ok {
		rec.SpoolPath = path
	}
	return nil
}

func (l *MemLedger) MarkChunkDone(ctx context.Context, taskID string, index int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec, ok := l.byID[taskID]; ok {
		rec.DoneChunks[index] = true
	}
	return nil
}

func (l *MemLedger) ResetChunks(ctx context.Context, taskID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec, ok := l.byID[taskID]; ok {
		rec.DoneChunks = make(map[int]bool)
	}
	return nil
}

func (l *MemLedger) CloseTask(ctx context.Context, taskID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.byID[taskID]
	if !ok {
		return nil
	}
	delete(l.byID, taskID)
	delete(l.tasks, ledgerKey(rec.Direction, rec.LocalPath, rec.RemotePath))
	return nil
}

func (r *TaskRecord) clone() *TaskRecord {
	cp := *r
	cp.DoneChunks = make(map[int]bool, len(r.DoneChunks))
	for k, v := range r.DoneChunks {
		cp.DoneChunks[k] = v
	}
	return &cp
}
