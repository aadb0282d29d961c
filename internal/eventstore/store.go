package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-narrator/internal/config"
	_ "modernc.org/sqlite"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobExists   = errors.New("job already exists")
)

// Job is the recorded history of one narration request.
type Job struct {
	ID            string
	Backend       string
	Voice         string
	Language      string
	Source        string
	Encoding      string
	Status        string
	Chunks        int
	ForcedChunks  int
	URL           string
	AudioDuration time.Duration
	Error         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// JobEvent is one stage transition of a job.
type JobEvent struct {
	ID        int64
	JobID     string
	Stage     string
	Detail    string
	CreatedAt time.Time
}

// Outcome is what a finished job reports.
type Outcome struct {
	Status        string
	Chunks        int
	ForcedChunks  int
	URL           string
	AudioDuration time.Duration
	Error         string
}

// Store wraps a SQLite-backed job history.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the job store according to config. The ephemeral
// retention mode keeps nothing and needs no database.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	log = log.With(slog.String("component", "eventstore"))
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("event store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("event store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS jobs (
    job_id TEXT PRIMARY KEY,
    backend TEXT NOT NULL,
    voice TEXT,
    language TEXT,
    source TEXT,
    encoding TEXT,
    status TEXT NOT NULL,
    chunks INTEGER NOT NULL DEFAULT 0,
    forced_chunks INTEGER NOT NULL DEFAULT 0,
    url TEXT,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    error TEXT,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS job_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id TEXT NOT NULL,
    stage TEXT NOT NULL,
    detail TEXT,
    created_at INTEGER NOT NULL,
    FOREIGN KEY(job_id) REFERENCES jobs(job_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_job_events_job_created ON job_events(job_id, created_at);
CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) disabled() bool {
	return s.cfg.RetentionMode == "ephemeral" || s.db == nil
}

func (s *Store) now() int64 {
	return s.clock().UTC().UnixMilli()
}

// CreateJob records a newly accepted job.
func (s *Store) CreateJob(ctx context.Context, job Job) error {
	if s.disabled() {
		return nil
	}
	now := s.now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs(job_id, backend, voice, language, source, encoding, status, created_at, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(job_id) DO NOTHING`,
		job.ID, job.Backend, job.Voice, job.Language, job.Source, job.Encoding, job.Status, now, now)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrJobExists, job.ID)
	}
	return nil
}

// RecordStage appends a stage event and moves the job to that stage.
func (s *Store) RecordStage(ctx context.Context, jobID, stage, detail string) error {
	if s.disabled() {
		return nil
	}
	now := s.now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE jobs SET status = ?, updated_at = ? WHERE job_id = ?`, stage, now, jobID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO job_events(job_id, stage, detail, created_at) VALUES(?, ?, ?, ?)`,
		jobID, stage, detail, now); err != nil {
		return err
	}
	return tx.Commit()
}

// CompleteJob stores the final outcome of a job.
func (s *Store) CompleteJob(ctx context.Context, jobID string, out Outcome) error {
	if s.disabled() {
		return nil
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, chunks = ?, forced_chunks = ?, url = ?, duration_ms = ?, error = ?, updated_at = ?
		 WHERE job_id = ?`,
		out.Status, out.Chunks, out.ForcedChunks, out.URL, out.AudioDuration.Milliseconds(), out.Error, s.now(), jobID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return nil
}

// GetJob loads one job.
func (s *Store) GetJob(ctx context.Context, jobID string) (Job, error) {
	if s.disabled() {
		return Job{}, ErrJobNotFound
	}
	var (
		j                        Job
		voice, lang, src, enc    sql.NullString
		url, errText             sql.NullString
		durationMS, created, upd int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT job_id, backend, voice, language, source, encoding, status, chunks, forced_chunks, url, duration_ms, error, created_at, updated_at
		 FROM jobs WHERE job_id = ?`, jobID).
		Scan(&j.ID, &j.Backend, &voice, &lang, &src, &enc, &j.Status, &j.Chunks, &j.ForcedChunks, &url, &durationMS, &errText, &created, &upd)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err != nil {
		return Job{}, err
	}
	j.Voice, j.Language, j.Source, j.Encoding = voice.String, lang.String, src.String, enc.String
	j.URL, j.Error = url.String, errText.String
	j.AudioDuration = time.Duration(durationMS) * time.Millisecond
	j.CreatedAt = time.UnixMilli(created).UTC()
	j.UpdatedAt = time.UnixMilli(upd).UTC()
	return j, nil
}

// ListJobEvents retrieves up to limit events for a job in the order they
// happened.
func (s *Store) ListJobEvents(ctx context.Context, jobID string, limit int) ([]JobEvent, error) {
	if s.disabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, stage, detail, created_at
		 FROM job_events WHERE job_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`, jobID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []JobEvent
	for rows.Next() {
		var e JobEvent
		var detail sql.NullString
		var created int64
		if err := rows.Scan(&e.ID, &e.JobID, &e.Stage, &detail, &created); err != nil {
			return nil, err
		}
		e.Detail = detail.String
		e.CreatedAt = time.UnixMilli(created).UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) (err error) {
	if s.disabled() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionMode != "persistent" && s.cfg.RetentionMode != "session" {
		// nothing to prune
		return tx.Commit()
	}
	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UTC().UnixMilli()
		if _, err = tx.ExecContext(ctx, `DELETE FROM jobs WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if s.cfg.MaxJobs > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM jobs WHERE job_id IN (
			SELECT job_id FROM jobs ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxJobs)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

// Ensure supplies a no-op store when persistence disabled.
func (s *Store) Ensure() error {
	if s.cfg.RetentionMode == "ephemeral" && s.db != nil {
		return errors.New("ephemeral store should not have database connection")
	}
	return nil
}
