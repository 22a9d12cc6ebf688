package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/skysync/internal/dbx"
	"github.com/dmitrijs2005/skysync/internal/transfer"
)

// LedgerRepository is the SQLite implementation of the transfer ledger.
// Concurrent chunk workers write through it; a mutex keeps the
// read-modify-write sequences of OpenTask atomic alongside SQLite's
// single-writer model.
type LedgerRepository struct {
	db *sql.DB
	mu sync.Mutex
}

func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) OpenTask(ctx context.Context, d transfer.Direction, localPath, remotePath string, totalSize, chunkSize int64) (*transfer.TaskRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var rec *transfer.TaskRecord
	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		existing, err := loadTask(ctx, tx, d, localPath, remotePath)
		if err != nil {
			return err
		}
		if existing != nil {
			if existing.TotalSize == totalSize && existing.ChunkSize == chunkSize {
				rec = existing
				return nil
			}
			// Geometry changed, the old progress is meaningless.
			if err := deleteTask(ctx, tx, existing.TaskID); err != nil {
				return err
			}
		}

		rec = &transfer.TaskRecord{
			TaskID:     uuid.NewString(),
			Direction:  d,
			LocalPath:  localPath,
			RemotePath: remotePath,
			TotalSize:  totalSize,
			ChunkSize:  chunkSize,
			DoneChunks: make(map[int]bool),
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO transfer_tasks (task_id, direction, local_path, remote_path, total_size, chunk_size, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rec.TaskID, d.String(), localPath, remotePath, totalSize, chunkSize, time.Now().UnixNano())
		if err != nil {
			return fmt.Errorf("failed to insert task: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func loadTask(ctx context.Context, tx dbx.DBTX, d transfer.Direction, localPath, remotePath string) (*transfer.TaskRecord, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT task_id, total_size, chunk_size, session, spool_path
		 FROM transfer_tasks WHERE direction = ? AND local_path = ? AND remote_path = ?`,
		d.String(), localPath, remotePath)

	rec := &transfer.TaskRecord{
		Direction:  d,
		LocalPath:  localPath,
		RemotePath: remotePath,
		DoneChunks: make(map[int]bool),
	}
	err := row.Scan(&rec.TaskID, &rec.TotalSize, &rec.ChunkSize, &rec.Session, &rec.SpoolPath)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select task: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `SELECT chunk_index FROM task_chunks WHERE task_id = ?`, rec.TaskID)
	if err != nil {
		return nil, fmt.Errorf("failed to select chunks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var idx int
		if err := rows.Scan(&idx); err != nil {
			return nil, err
		}
		rec.DoneChunks[idx] = true
	}
	return rec, rows.Err()
}

func deleteTask(ctx context.Context, tx dbx.DBTX, taskID string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_chunks WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM transfer_tasks WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

func (r *LedgerRepository) SetSession(ctx context.Context, taskID, session string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.db.ExecContext(ctx, `UPDATE transfer_tasks SET session = ? WHERE task_id = ?`, session, taskID)
	if err != nil {
		return fmt.Errorf("failed to set session: %w", err)
	}
	return nil
}

func (r *LedgerRepository) SetSpool(ctx context.Context, taskID, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.db.ExecContext(ctx, `UPDATE transfer_tasks SET spool_path = ? WHERE task_id = ?`, path, taskID)
	if err != nil {
		return fmt.Errorf("failed to set spool path: %w", err)
	}
	return nil
}

func (r *LedgerRepository) MarkChunkDone(ctx context.Context, taskID string, index int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO task_chunks (task_id, chunk_index) VALUES (?, ?)
		 ON CONFLICT(task_id, chunk_index) DO NOTHING`, taskID, index)
	if err != nil {
		return fmt.Errorf("failed to mark chunk done: %w", err)
	}
	return nil
}

func (r *LedgerRepository) ResetChunks(ctx context.Context, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.db.ExecContext(ctx, `DELETE FROM task_chunks WHERE task_id = ?`, taskID)
	if err != nil {
		return fmt.Errorf("failed to reset chunks: %w", err)
	}
	return nil
}

func (r *LedgerRepository) CloseTask(ctx context.Context, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return deleteTask(ctx, tx, taskID)
	})
}
