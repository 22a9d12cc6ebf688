package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/skysync/internal/dbx"
	"github.com/dmitrijs2005/skysync/internal/fingerprint"
)

// CachedFingerprint is one fingerprint cache row.
type CachedFingerprint struct {
	LocalPath   string
	RemotePath  string
	Fingerprint fingerprint.Fingerprint
	LocalMtime  time.Time
	CreatedAt   time.Time
}

// FingerprintRepository stores computed fingerprints keyed by
// (local_path, remote_path, user_id) so unchanged files never get hashed
// twice. It satisfies the transfer scheduler's cache interface.
type FingerprintRepository struct {
	db     dbx.DBTX
	userID int64
}

func NewFingerprintRepository(db dbx.DBTX, userID int64) *FingerprintRepository {
	return &FingerprintRepository{db: db, userID: userID}
}

// Lookup returns the cached fingerprint for localPath when the recorded
// size and mtime still match, or nil on a miss.
func (r *FingerprintRepository) Lookup(ctx context.Context, localPath string, size int64, mtime time.Time) (*fingerprint.Fingerprint, error) {
	query := `SELECT content_md5, slice_md5, crc32, length, filename
		FROM fingerprints
		WHERE local_path = ? AND user_id = ? AND length = ? AND local_mtime = ?
		ORDER BY created_at DESC LIMIT 1`
	row := r.db.QueryRowContext(ctx, query, localPath, r.userID, size, mtime.UnixNano())

	fp := &fingerprint.Fingerprint{}
	err := row.Scan(&fp.ContentMD5, &fp.SliceMD5, &fp.CRC32, &fp.Length, &fp.Filename)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select fingerprint: %w", err)
	}
	return fp, nil
}

// Store upserts the fingerprint for a (local, remote) pair.
func (r *FingerprintRepository) Store(ctx context.Context, localPath, remotePath string, fp *fingerprint.Fingerprint, size int64, mtime time.Time) error {
	query := `INSERT INTO fingerprints
			(user_id, local_path, remote_path, content_md5, slice_md5, crc32, length, filename, local_mtime, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(local_path, remote_path, user_id) DO UPDATE SET
			content_md5 = excluded.content_md5,
			slice_md5 = excluded.slice_md5,
			crc32 = excluded.crc32,
			length = excluded.length,
			filename = excluded.filename,
			local_mtime = excluded.local_mtime,
			created_at = excluded.created_at`
	_, err := r.db.ExecContext(ctx, query,
		r.userID, localPath, remotePath,
		fp.ContentMD5, fp.SliceMD5, fp.CRC32, fp.Length, fp.Filename,
		mtime.UnixNano(), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to upsert fingerprint: %w", err)
	}
	return nil
}

// List returns every cached fingerprint of the repository's user, newest
// first.
func (r *FingerprintRepository) List(ctx context.Context) ([]CachedFingerprint, error) {
	query := `SELECT local_path, remote_path, content_md5, slice_md5, crc32, length, filename, local_mtime, created_at
		FROM fingerprints WHERE user_id = ? ORDER BY created_at DESC`
	return r.queryRows(ctx, query, r.userID)
}

// Search returns cached fingerprints whose local path, remote path or
// filename contains the substring.
func (r *FingerprintRepository) Search(ctx context.Context, substr string) ([]CachedFingerprint, error) {
	query := `SELECT local_path, remote_path, content_md5, slice_md5, crc32, length, filename, local_mtime, created_at
		FROM fingerprints
		WHERE user_id = ? AND (local_path LIKE ? OR remote_path LIKE ? OR filename LIKE ?)
		ORDER BY created_at DESC`
	pattern := "%" + substr + "%"
	return r.queryRows(ctx, query, r.userID, pattern, pattern, pattern)
}

func (r *FingerprintRepository) queryRows(ctx context.Context, query string, args ...any) ([]CachedFingerprint, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select fingerprints: %w", err)
	}
	defer rows.Close()

	var result []CachedFingerprint
	for rows.Next() {
		var item CachedFingerprint
		var mtime, created int64
		if err := rows.Scan(&item.LocalPath, &item.RemotePath,
			&item.Fingerprint.ContentMD5, &item.Fingerprint.SliceMD5,
			&item.Fingerprint.CRC32, &item.Fingerprint.Length,
			&item.Fingerprint.Filename, &mtime, &created); err != nil {
			return nil, err
		}
		item.LocalMtime = time.Unix(0, mtime)
		item.CreatedAt = time.Unix(0, created)
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
