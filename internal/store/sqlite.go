package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/greenline-analytics/lca-cli/internal/joblog"
	"github.com/greenline-analytics/lca-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY,
	status       TEXT NOT NULL DEFAULT 'pending',
	file_count   INTEGER NOT NULL DEFAULT 0,
	user_context TEXT NOT NULL DEFAULT '',
	result       TEXT,
	error        TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS file_records (
	file_id     TEXT PRIMARY KEY,
	job_id      TEXT NOT NULL REFERENCES jobs(id),
	name        TEXT NOT NULL,
	type        TEXT NOT NULL,
	agent       TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'pending',
	confidence  REAL NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	word_count  INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS artifacts (
	id           TEXT PRIMARY KEY,
	job_id       TEXT NOT NULL,
	key          TEXT NOT NULL,
	content_type TEXT NOT NULL DEFAULT 'application/octet-stream',
	data         BLOB NOT NULL,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE(job_id, key)
);

CREATE TABLE IF NOT EXISTS job_logs (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id  TEXT NOT NULL,
	ts      DATETIME NOT NULL,
	level   TEXT NOT NULL,
	stage   TEXT NOT NULL,
	file_id TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_file_records_job_id ON file_records(job_id);
CREATE INDEX IF NOT EXISTS idx_artifacts_job_id ON artifacts(job_id);
CREATE INDEX IF NOT EXISTS idx_job_logs_job_id ON job_logs(job_id, id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateJob(ctx context.Context, fileCount int, userContext string) (*model.Job, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, status, file_count, user_context, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, string(model.JobStatusPending), fileCount, userContext, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert job")
	}

	return &model.Job{
		ID:          id,
		Status:      model.JobStatusPending,
		FileCount:   fileCount,
		UserContext: userContext,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (s *SQLiteStore) UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job status %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) FailJob(ctx context.Context, jobID string, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(model.JobStatusFailed), errMsg, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail job %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) UpdateJobResult(ctx context.Context, jobID string, result *model.JobResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal job result")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET result = ?, status = ?, updated_at = ? WHERE id = ?`,
		string(resultJSON), string(model.JobStatusCompleted), time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job result %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, file_count, user_context, result, error, created_at, updated_at FROM jobs WHERE id = ?`,
		jobID,
	)
	return scanJob(row)
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT id, status, file_count, user_context, result, error, created_at, updated_at FROM jobs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

func (s *SQLiteStore) UpsertFileRecord(ctx context.Context, rec model.FileRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO file_records (file_id, job_id, name, type, agent, status, confidence, duration_ms, word_count, error, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(file_id) DO UPDATE SET
			agent = excluded.agent,
			status = excluded.status,
			confidence = excluded.confidence,
			duration_ms = excluded.duration_ms,
			word_count = excluded.word_count,
			error = excluded.error,
			updated_at = excluded.updated_at`,
		rec.FileID, rec.JobID, rec.Name, string(rec.Type), string(rec.Agent), string(rec.Status),
		rec.Confidence, rec.DurationMS, rec.WordCount, rec.Error, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: upsert file record %s", rec.FileID)
}

func (s *SQLiteStore) ListFileRecords(ctx context.Context, jobID string) ([]model.FileRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT file_id, job_id, name, type, agent, status, confidence, duration_ms, word_count, error
		 FROM file_records WHERE job_id = ? ORDER BY file_id`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list file records")
	}
	defer rows.Close()

	var recs []model.FileRecord
	for rows.Next() {
		var r model.FileRecord
		var fileType, agent, status string
		if err := rows.Scan(&r.FileID, &r.JobID, &r.Name, &fileType, &agent, &status,
			&r.Confidence, &r.DurationMS, &r.WordCount, &r.Error); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan file record")
		}
		r.Type = model.FileType(fileType)
		r.Agent = model.AgentKind(agent)
		r.Status = model.FileStatus(status)
		recs = append(recs, r)
	}
	return recs, eris.Wrap(rows.Err(), "sqlite: list file records iterate")
}

func (s *SQLiteStore) PutArtifact(ctx context.Context, jobID, key, contentType string, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO artifacts (id, job_id, key, content_type, data, created_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(job_id, key) DO UPDATE SET
			content_type = excluded.content_type,
			data = excluded.data,
			created_at = excluded.created_at`,
		uuid.New().String(), jobID, key, contentType, data, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: put artifact %s/%s", jobID, key)
}

func (s *SQLiteStore) GetArtifact(ctx context.Context, jobID, key string) ([]byte, string, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT data, content_type FROM artifacts WHERE job_id = ? AND key = ?`,
		jobID, key,
	)

	var data []byte
	var contentType string
	err := row.Scan(&data, &contentType)
	if err == sql.ErrNoRows {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", eris.Wrapf(err, "sqlite: get artifact %s/%s", jobID, key)
	}
	return data, contentType, nil
}

func (s *SQLiteStore) ListArtifactKeys(ctx context.Context, jobID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM artifacts WHERE job_id = ? ORDER BY key`, jobID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list artifact keys")
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan artifact key")
		}
		keys = append(keys, k)
	}
	return keys, eris.Wrap(rows.Err(), "sqlite: list artifact keys iterate")
}

func (s *SQLiteStore) AppendJobLog(ctx context.Context, jobID string, e joblog.Entry) error {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_logs (job_id, ts, level, stage, file_id, message) VALUES (?, ?, ?, ?, ?, ?)`,
		jobID, ts, e.Level, e.Stage, e.FileID, e.Message,
	)
	return eris.Wrapf(err, "sqlite: append job log %s", jobID)
}

func (s *SQLiteStore) TailJobLog(ctx context.Context, jobID string, n int) ([]joblog.Entry, error) {
	if n <= 0 {
		n = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, level, stage, file_id, message FROM
		 (SELECT id, ts, level, stage, file_id, message FROM job_logs WHERE job_id = ? ORDER BY id DESC LIMIT ?)
		 ORDER BY id ASC`,
		jobID, n,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: tail job log")
	}
	defer rows.Close()

	var entries []joblog.Entry
	for rows.Next() {
		var e joblog.Entry
		if err := rows.Scan(&e.Timestamp, &e.Level, &e.Stage, &e.FileID, &e.Message); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job log entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: tail job log iterate")
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.Job, error) {
	var j model.Job
	var status string
	var resultJSON sql.NullString

	err := row.Scan(&j.ID, &status, &j.FileCount, &j.UserContext, &resultJSON, &j.Error, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan job")
	}
	j.Status = model.JobStatus(status)

	if resultJSON.Valid && resultJSON.String != "" {
		var result model.JobResult
		if err := json.Unmarshal([]byte(resultJSON.String), &result); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal job result")
		}
		j.Result = &result
	}
	return &j, nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "sqlite: rows affected for %s %s", entity, id)
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
