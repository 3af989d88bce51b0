package store

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"
)

// RawArtifact is an archived copy of a fetched source file.
type RawArtifact struct {
	ID                int64
	RunID             sql.NullString
	FetchedAt         time.Time
	Source            string
	PayloadCompressed []byte
	PayloadHash       string
	SizeBytes         int64
}

// StoreRawArtifact archives a compressed copy of a fetched file.
// Returns the artifact ID, or 0 if identical content is already archived.
func (s *Store) StoreRawArtifact(ctx context.Context, runID, source string, payload []byte) (int64, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		return 0, fmt.Errorf("compress artifact: %w", err)
	}
	if err := gz.Close(); err != nil {
		return 0, fmt.Errorf("close gzip: %w", err)
	}

	hash := sha256.Sum256(payload)

	var run sql.NullString
	if runID != "" {
		run = sql.NullString{String: runID, Valid: true}
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO raw_artifacts (run_id, fetched_at, source, payload_compressed, payload_hash, size_bytes)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(payload_hash) DO NOTHING
	`, run, time.Now().UTC(), source, buf.Bytes(), hex.EncodeToString(hash[:]), len(payload))
	if err != nil {
		return 0, fmt.Errorf("insert raw artifact: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	return result.LastInsertId()
}

// GetRawArtifact retrieves and decompresses an archived file by ID.
func (s *Store) GetRawArtifact(ctx context.Context, id int64) ([]byte, error) {
	var compressed []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload_compressed FROM raw_artifacts WHERE id = ?`, id).
		Scan(&compressed)
	if err != nil {
		return nil, err
	}

	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	defer gz.Close()

	return io.ReadAll(gz)
}

// LatestRawArtifact returns the newest archived copy for source, or nil.
func (s *Store) LatestRawArtifact(ctx context.Context, source string) (*RawArtifact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, run_id, fetched_at, source, payload_compressed, payload_hash, size_bytes
		FROM raw_artifacts WHERE source = ?
		ORDER BY fetched_at DESC, id DESC
		LIMIT 1
	`, source)

	var a RawArtifact
	err := row.Scan(&a.ID, &a.RunID, &a.FetchedAt, &a.Source, &a.PayloadCompressed, &a.PayloadHash, &a.SizeBytes)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CleanupOldRawArtifacts deletes archived files older than retentionDays.
// Returns the number of deleted records.
func (s *Store) CleanupOldRawArtifacts(ctx context.Context, retentionDays int) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM raw_artifacts
		WHERE fetched_at < ?
	`, time.Now().UTC().AddDate(0, 0, -retentionDays))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
