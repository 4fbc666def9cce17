package container

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/okian/posefuse/internal/domain/model"
	"github.com/okian/posefuse/pkg/metrics"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// SQLite is a recording stored in a SQLite file.
type SQLite struct {
	db   *sql.DB
	path string
}

// Open opens an existing recording read-only.
func Open(path string) (*SQLite, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoRecording, path)
		}
		return nil, err
	}
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open recording %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open recording %s: %w", path, err)
	}
	return &SQLite{db: db, path: path}, nil
}

// Create opens path for writing, creating the file and tables as needed.
func Create(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("create recording %s: %w", path, err)
	}
	// One writer connection keeps the file consistent for concurrent builders.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create recording schema: %w", err)
	}
	return &SQLite{db: db, path: path}, nil
}

// Path is the file the recording lives in.
func (s *SQLite) Path() string { return s.path }

// Close releases the database handle.
func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) Views(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT path FROM samples WHERE path LIKE ?`, "%"+colorSuffix)
	if err != nil {
		return nil, fmt.Errorf("list views: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("list views: %w", err)
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list views: %w", err)
	}
	return sortedViews(paths), nil
}

func (s *SQLite) Times(ctx context.Context, path string) ([]time.Time, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreLatency("recording_times", time.Since(start)) }()

	rows, err := s.db.QueryContext(ctx, `SELECT idx, ts_ns FROM samples WHERE path = ? ORDER BY idx`, path)
	if err != nil {
		return nil, fmt.Errorf("read times of %s: %w", path, err)
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var idx, ns int64
		if err := rows.Scan(&idx, &ns); err != nil {
			return nil, fmt.Errorf("read times of %s: %w", path, err)
		}
		if idx != int64(len(out)) {
			return nil, fmt.Errorf("%w: %s has a gap at sample %d", model.ErrCorruptStream, path, len(out))
		}
		out = append(out, time.Unix(0, ns).UTC())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read times of %s: %w", path, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: stream %s", ErrNotFound, path)
	}
	return out, nil
}

func (s *SQLite) Payload(ctx context.Context, path string, idx int) ([]byte, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreLatency("recording_payload", time.Since(start)) }()

	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM samples WHERE path = ? AND idx = ?`, path, idx).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s[%d]", ErrNotFound, path, idx)
	}
	if err != nil {
		metrics.RecordStoreError("recording_payload")
		return nil, fmt.Errorf("read %s[%d]: %w", path, idx, err)
	}
	return payload, nil
}

func (s *SQLite) Index(ctx context.Context, path string) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT idx, value FROM indices WHERE path = ? ORDER BY idx`, path)
	if err != nil {
		return nil, fmt.Errorf("read index %s: %w", path, err)
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var idx, v int
		if err := rows.Scan(&idx, &v); err != nil {
			return nil, fmt.Errorf("read index %s: %w", path, err)
		}
		if idx != len(out) {
			return nil, fmt.Errorf("%w: index %s has a gap at %d", model.ErrCorruptStream, path, len(out))
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Attributes skips values that are not JSON number arrays.
func (s *SQLite) Attributes(ctx context.Context, path string) (map[string][]float64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, value FROM attributes WHERE path = ?`, path)
	if err != nil {
		return nil, fmt.Errorf("read attributes of %s: %w", path, err)
	}
	defer rows.Close()

	out := map[string][]float64{}
	for rows.Next() {
		var name, raw string
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, fmt.Errorf("read attributes of %s: %w", path, err)
		}
		if v, ok := decodeAttribute(raw); ok {
			out[name] = v
		}
	}
	return out, rows.Err()
}

func (s *SQLite) PutSample(ctx context.Context, path string, idx int, ts time.Time, payload []byte) error {
	if !validPath(path) || idx < 0 {
		return fmt.Errorf("%w: sample %s[%d]", ErrInvalidEntry, path, idx)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO samples (path, idx, ts_ns, payload) VALUES (?, ?, ?, ?)`,
		path, idx, ts.UnixNano(), payload)
	if err != nil {
		return fmt.Errorf("write %s[%d]: %w", path, idx, err)
	}
	return nil
}

func (s *SQLite) PutIndex(ctx context.Context, path string, values []int) error {
	if !validPath(path) {
		return fmt.Errorf("%w: index %q", ErrInvalidEntry, path)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM indices WHERE path = ?`, path); err != nil {
		return fmt.Errorf("write index %s: %w", path, err)
	}
	for i, v := range values {
		if _, err := tx.ExecContext(ctx, `INSERT INTO indices (path, idx, value) VALUES (?, ?, ?)`, path, i, v); err != nil {
			return fmt.Errorf("write index %s: %w", path, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) PutAttribute(ctx context.Context, path, name string, value []float64) error {
	if !validPath(path) || name == "" {
		return fmt.Errorf("%w: attribute %s@%s", ErrInvalidEntry, path, name)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode attribute %s@%s: %w", path, name, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO attributes (path, name, value) VALUES (?, ?, ?)`, path, name, string(raw))
	if err != nil {
		return fmt.Errorf("write attribute %s@%s: %w", path, name, err)
	}
	return nil
}

func decodeAttribute(raw string) ([]float64, bool) {
	var v []float64
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, false
	}
	return v, true
}
