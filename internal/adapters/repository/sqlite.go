package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/okian/posefuse/internal/domain/model"
	"github.com/okian/posefuse/pkg/logger"
	"github.com/okian/posefuse/pkg/metrics"
	_ "modernc.org/sqlite"
)

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
}

// SQLiteStore keeps job state and the output series in one SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	now    func() time.Time
	logger logger.Logger
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens or creates the output container at path and brings its
// schema up to date.
func OpenSQLite(path string, opts ...Option) (*SQLiteStore, error) {
	o := buildOptions(opts)
	if o.logger == nil {
		o.logger = logger.Get().Named("repository")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open output %s: %w", path, err)
	}
	// A single connection serializes writers and keeps pragmas in effect.
	db.SetMaxOpenConns(1)
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}
	if err := migrateUp(db, o.logger); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, now: o.now, logger: o.logger}, nil
}

// Close releases the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// SchemaVersion reports the applied migration version.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (uint, bool, error) {
	var version uint
	var dirty bool
	err := s.db.QueryRowContext(ctx, `SELECT version, dirty FROM schema_migrations LIMIT 1`).Scan(&version, &dirty)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (s *SQLiteStore) SaveJob(ctx context.Context, job model.Job) (err error) {
	if job.SubjectID == "" {
		return fmt.Errorf("%w: empty subject id", ErrInvalidJob)
	}
	defer s.observe("save_job", time.Now(), &err)

	now := s.now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO jobs (subject_id, container_path, run_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (subject_id) DO UPDATE SET
			container_path = excluded.container_path,
			run_id = excluded.run_id,
			updated_at = excluded.updated_at`,
		job.SubjectID, job.ContainerPath, job.RunID, job.CreatedAt.UnixNano(), now.UnixNano())
	if err != nil {
		return fmt.Errorf("save job %s: %w", job.SubjectID, err)
	}

	for id, v := range job.Views {
		if v.ViewID == "" {
			v.ViewID = id
		}
		samples, err := encodeSamples(v.ErrorSamples)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO job_views (subject_id, view_id, status, last_completed_frame, total_frames,
				frames_written, recoverable_errors, error_samples, fatal_cause, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (subject_id, view_id) DO UPDATE SET
				status = excluded.status,
				last_completed_frame = excluded.last_completed_frame,
				total_frames = excluded.total_frames,
				frames_written = excluded.frames_written,
				recoverable_errors = excluded.recoverable_errors,
				error_samples = excluded.error_samples,
				fatal_cause = excluded.fatal_cause,
				updated_at = excluded.updated_at`,
			job.SubjectID, v.ViewID, string(v.Status), v.LastCompletedFrame, v.TotalFrames,
			v.FramesWritten, v.RecoverableErrors, samples, v.FatalCause, now.UnixNano())
		if err != nil {
			return fmt.Errorf("save view %s/%s: %w", job.SubjectID, v.ViewID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Job(ctx context.Context, subjectID string) (job model.Job, err error) {
	defer s.observe("get_job", time.Now(), &err)

	var created, updated int64
	err = s.db.QueryRowContext(ctx,
		`SELECT subject_id, container_path, run_id, created_at, updated_at FROM jobs WHERE subject_id = ?`, subjectID).
		Scan(&job.SubjectID, &job.ContainerPath, &job.RunID, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Job{}, fmt.Errorf("%w: %s", ErrNotFound, subjectID)
	}
	if err != nil {
		return model.Job{}, fmt.Errorf("read job %s: %w", subjectID, err)
	}
	job.CreatedAt = time.Unix(0, created).UTC()
	job.UpdatedAt = time.Unix(0, updated).UTC()

	job.Views, err = s.views(ctx, subjectID)
	if err != nil {
		return model.Job{}, err
	}
	return job, nil
}

func (s *SQLiteStore) views(ctx context.Context, subjectID string) (map[string]model.ViewState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT view_id, status, last_completed_frame, total_frames, frames_written,
			recoverable_errors, error_samples, fatal_cause, updated_at
		FROM job_views WHERE subject_id = ? ORDER BY view_id`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("read views of %s: %w", subjectID, err)
	}
	defer rows.Close()

	out := map[string]model.ViewState{}
	for rows.Next() {
		var v model.ViewState
		var status, samples string
		var updated int64
		if err := rows.Scan(&v.ViewID, &status, &v.LastCompletedFrame, &v.TotalFrames, &v.FramesWritten,
			&v.RecoverableErrors, &samples, &v.FatalCause, &updated); err != nil {
			return nil, fmt.Errorf("read views of %s: %w", subjectID, err)
		}
		v.Status = model.ViewStatus(status)
		v.UpdatedAt = time.Unix(0, updated).UTC()
		if err := json.Unmarshal([]byte(samples), &v.ErrorSamples); err != nil {
			return nil, fmt.Errorf("decode error samples of %s/%s: %w", subjectID, v.ViewID, err)
		}
		if len(v.ErrorSamples) == 0 {
			v.ErrorSamples = nil
		}
		out[v.ViewID] = v
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Jobs(ctx context.Context) ([]model.Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT subject_id FROM jobs ORDER BY subject_id`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("list jobs: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	jobs := make([]model.Job, 0, len(ids))
	for _, id := range ids {
		job, err := s.Job(ctx, id)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (s *SQLiteStore) UpdateView(ctx context.Context, subjectID string, v model.ViewState) (err error) {
	defer s.observe("update_view", time.Now(), &err)

	res, err := s.db.ExecContext(ctx, `
		UPDATE job_views SET status = ?, total_frames = ?, fatal_cause = ?, updated_at = ?
		WHERE subject_id = ? AND view_id = ?`,
		string(v.Status), v.TotalFrames, v.FatalCause, s.now().UnixNano(), subjectID, v.ViewID)
	if err != nil {
		return fmt.Errorf("update view %s/%s: %w", subjectID, v.ViewID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s/%s", ErrUnknownView, subjectID, v.ViewID)
	}
	return nil
}

func (s *SQLiteStore) CommitFrame(ctx context.Context, frame model.FusedPoseFrame, progress model.FrameProgress) (err error) {
	defer s.observe("commit_frame", time.Now(), &err)

	record, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode frame %d: %w", frame.FrameIndex, err)
	}
	samples, err := encodeSamples(progress.ErrorSamples)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var last int
	err = tx.QueryRowContext(ctx,
		`SELECT last_completed_frame FROM job_views WHERE subject_id = ? AND view_id = ?`,
		frame.SubjectID, frame.ViewID).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s/%s", ErrUnknownView, frame.SubjectID, frame.ViewID)
	}
	if err != nil {
		return fmt.Errorf("read progress of %s/%s: %w", frame.SubjectID, frame.ViewID, err)
	}
	if frame.FrameIndex <= last {
		return fmt.Errorf("%w: %s/%s frame %d after %d", model.ErrOutOfOrderWrite,
			frame.SubjectID, frame.ViewID, frame.FrameIndex, last)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pose_frames (subject_id, series, view_id, frame_index, ts_ns, record)
		VALUES (?, ?, ?, ?, ?, ?)`,
		frame.SubjectID, model.PoseSeries(frame.ViewID), frame.ViewID, frame.FrameIndex,
		frame.Time.UnixNano(), string(record))
	if err != nil {
		return fmt.Errorf("insert frame %s/%s/%d: %w", frame.SubjectID, frame.ViewID, frame.FrameIndex, err)
	}

	now := s.now().UnixNano()
	_, err = tx.ExecContext(ctx, `
		UPDATE job_views SET last_completed_frame = ?, frames_written = frames_written + 1,
			recoverable_errors = ?, error_samples = ?, updated_at = ?
		WHERE subject_id = ? AND view_id = ?`,
		frame.FrameIndex, progress.RecoverableErrors, samples, now, frame.SubjectID, frame.ViewID)
	if err != nil {
		return fmt.Errorf("advance %s/%s: %w", frame.SubjectID, frame.ViewID, err)
	}
	if _, err = tx.ExecContext(ctx, `UPDATE jobs SET updated_at = ? WHERE subject_id = ?`, now, frame.SubjectID); err != nil {
		return fmt.Errorf("touch job %s: %w", frame.SubjectID, err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Frames(ctx context.Context, subjectID, viewID string) ([]model.FusedPoseFrame, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT record FROM pose_frames WHERE subject_id = ? AND series = ? ORDER BY frame_index`,
		subjectID, model.PoseSeries(viewID))
	if err != nil {
		return nil, fmt.Errorf("read frames of %s/%s: %w", subjectID, viewID, err)
	}
	defer rows.Close()

	var out []model.FusedPoseFrame
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("read frames of %s/%s: %w", subjectID, viewID, err)
		}
		var f model.FusedPoseFrame
		if err := json.Unmarshal([]byte(raw), &f); err != nil {
			return nil, fmt.Errorf("decode frame of %s/%s: %w", subjectID, viewID, err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// observe records latency and, for unexpected failures, an error metric.
func (s *SQLiteStore) observe(op string, start time.Time, err *error) {
	metrics.RecordStoreLatency(op, time.Since(start))
	if *err == nil || errors.Is(*err, ErrNotFound) || errors.Is(*err, model.ErrOutOfOrderWrite) {
		return
	}
	metrics.RecordStoreError(op)
	s.logger.Error(context.Background(), "store operation failed", logger.String("op", op), logger.Error(*err))
}

func encodeSamples(samples []string) (string, error) {
	if samples == nil {
		samples = []string{}
	}
	b, err := json.Marshal(samples)
	if err != nil {
		return "", fmt.Errorf("encode error samples: %w", err)
	}
	return string(b), nil
}
