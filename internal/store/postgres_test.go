package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenline-analytics/lca-cli/internal/joblog"
	"github.com/greenline-analytics/lca-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresWithPool(mock), mock
}

func TestPostgresStore_CreateJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO jobs`).
		WithArgs(pgxmock.AnyArg(), "pending", 2, "steel study", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	job, err := s.CreateJob(context.Background(), 2, "steel study")
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetJob_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, status, file_count, user_context, result, error, created_at, updated_at FROM jobs WHERE id = \$1`).
		WithArgs("nonexistent-job").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetJob(context.Background(), "nonexistent-job")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetJob_WithResult(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	rows := pgxmock.NewRows([]string{"id", "status", "file_count", "user_context", "result", "error", "created_at", "updated_at"}).
		AddRow("job-1", "completed", 2, "", []byte(`{"phase":"done","progress":100,"total_duration_ms":4200,"files_completed":2,"files_failed":0,"files_quarantined":0}`), "", now, now)

	mock.ExpectQuery(`SELECT id, status, file_count, user_context, result, error, created_at, updated_at FROM jobs WHERE id = \$1`).
		WithArgs("job-1").
		WillReturnRows(rows)

	job, err := s.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, job.Status)
	require.NotNil(t, job.Result)
	assert.Equal(t, model.PhaseDone, job.Result.Phase)
	assert.Equal(t, 2, job.Result.FilesCompleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateJobStatus_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE jobs SET status`).
		WithArgs("processing", pgxmock.AnyArg(), "missing-job").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateJobStatus(context.Background(), "missing-job", model.JobStatusProcessing)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateJobResult(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE jobs SET result`).
		WithArgs(pgxmock.AnyArg(), "completed", pgxmock.AnyArg(), "job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.UpdateJobResult(context.Background(), "job-1", &model.JobResult{Phase: model.PhaseDone, Progress: 100})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertFileRecord(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`ON CONFLICT \(file_id\)`).
		WithArgs("file-1", "job-1", "inventory.xlsx", "excel", "spreadsheet_agent", "completed",
			0.95, int64(1800), 420, "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.UpsertFileRecord(context.Background(), model.FileRecord{
		FileID:     "file-1",
		JobID:      "job-1",
		Name:       "inventory.xlsx",
		Type:       model.FileTypeExcel,
		Agent:      model.AgentSpreadsheet,
		Status:     model.FileStatusCompleted,
		Confidence: 0.95,
		DurationMS: 1800,
		WordCount:  420,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PutArtifact_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`ON CONFLICT \(job_id, key\)`).
		WithArgs(pgxmock.AnyArg(), "job-1", "report.md", "text/markdown", []byte("# Report"), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.PutArtifact(context.Background(), "job-1", "report.md", "text/markdown", []byte("# Report"))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetArtifact_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT data, content_type FROM artifacts`).
		WithArgs("job-1", "missing").
		WillReturnError(pgx.ErrNoRows)

	_, _, err := s.GetArtifact(context.Background(), "job-1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendJobLog(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO job_logs`).
		WithArgs("job-1", pgxmock.AnyArg(), "info", "routing", "", "routing 3 files").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.AppendJobLog(context.Background(), "job-1", joblog.Entry{
		Level:   "info",
		Stage:   "routing",
		Message: "routing 3 files",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListJobs_Filter(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	rows := pgxmock.NewRows([]string{"id", "status", "file_count", "user_context", "result", "error", "created_at", "updated_at"}).
		AddRow("job-1", "completed", 1, "", []byte(nil), "", now, now)

	mock.ExpectQuery(`SELECT .+ FROM jobs WHERE 1=1 AND status = \$1 ORDER BY created_at DESC LIMIT \$2`).
		WithArgs("completed", 100).
		WillReturnRows(rows)

	jobs, err := s.ListJobs(context.Background(), JobFilter{Status: model.JobStatusCompleted})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "job-1", jobs[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
