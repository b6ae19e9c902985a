package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenline-analytics/lca-cli/internal/joblog"
	"github.com/greenline-analytics/lca-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestSQLite_CreateAndGetJob(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	job, err := st.CreateJob(ctx, 3, "focus on steel production")
	require.NoError(t, err)
	require.NotEmpty(t, job.ID)
	assert.Equal(t, model.JobStatusPending, job.Status)

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.FileCount)
	assert.Equal(t, "focus on steel production", got.UserContext)
	assert.Nil(t, got.Result)
}

func TestSQLite_GetJob_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetJob(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_UpdateJobStatus(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	job, err := st.CreateJob(ctx, 1, "")
	require.NoError(t, err)

	require.NoError(t, st.UpdateJobStatus(ctx, job.ID, model.JobStatusProcessing))

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusProcessing, got.Status)

	err = st.UpdateJobStatus(ctx, "missing-id", model.JobStatusProcessing)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLite_FailJob(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	job, err := st.CreateJob(ctx, 1, "")
	require.NoError(t, err)

	require.NoError(t, st.FailJob(ctx, job.ID, "routing stage error"))

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Equal(t, "routing stage error", got.Error)
}

func TestSQLite_UpdateJobResult(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	job, err := st.CreateJob(ctx, 2, "")
	require.NoError(t, err)

	result := &model.JobResult{
		Phase:          model.PhaseDone,
		Progress:       100,
		FilesCompleted: 2,
		QuarantinedIDs: []string{"file-2"},
		ArtifactKeys:   map[string]string{"report": "report.md"},
	}
	require.NoError(t, st.UpdateJobResult(ctx, job.ID, result))

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, model.PhaseDone, got.Result.Phase)
	assert.Equal(t, []string{"file-2"}, got.Result.QuarantinedIDs)
	assert.Equal(t, "report.md", got.Result.ArtifactKeys["report"])
}

func TestSQLite_ListJobs_FilterAndLimit(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	a, err := st.CreateJob(ctx, 1, "")
	require.NoError(t, err)
	_, err = st.CreateJob(ctx, 1, "")
	require.NoError(t, err)
	require.NoError(t, st.UpdateJobStatus(ctx, a.ID, model.JobStatusCompleted))

	all, err := st.ListJobs(ctx, JobFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	completed, err := st.ListJobs(ctx, JobFilter{Status: model.JobStatusCompleted})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, a.ID, completed[0].ID)

	limited, err := st.ListJobs(ctx, JobFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSQLite_UpsertFileRecord(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	job, err := st.CreateJob(ctx, 1, "")
	require.NoError(t, err)

	rec := model.FileRecord{
		FileID: "file-1",
		JobID:  job.ID,
		Name:   "inventory.xlsx",
		Type:   model.FileTypeExcel,
		Status: model.FileStatusProcessing,
	}
	require.NoError(t, st.UpsertFileRecord(ctx, rec))

	rec.Status = model.FileStatusCompleted
	rec.Agent = model.AgentSpreadsheet
	rec.Confidence = 0.95
	rec.WordCount = 420
	rec.DurationMS = 1800
	require.NoError(t, st.UpsertFileRecord(ctx, rec))

	recs, err := st.ListFileRecords(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, model.FileStatusCompleted, recs[0].Status)
	assert.Equal(t, model.AgentSpreadsheet, recs[0].Agent)
	assert.Equal(t, 0.95, recs[0].Confidence)
	assert.Equal(t, 420, recs[0].WordCount)
}

func TestSQLite_Artifacts(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.PutArtifact(ctx, "job-1", "report.md", "text/markdown", []byte("# Report")))
	require.NoError(t, st.PutArtifact(ctx, "job-1", "analysis.json", "application/json", []byte("{}")))

	data, contentType, err := st.GetArtifact(ctx, "job-1", "report.md")
	require.NoError(t, err)
	assert.Equal(t, "# Report", string(data))
	assert.Equal(t, "text/markdown", contentType)

	// Overwrite under the same key.
	require.NoError(t, st.PutArtifact(ctx, "job-1", "report.md", "text/markdown", []byte("# Updated")))
	data, _, err = st.GetArtifact(ctx, "job-1", "report.md")
	require.NoError(t, err)
	assert.Equal(t, "# Updated", string(data))

	keys, err := st.ListArtifactKeys(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"analysis.json", "report.md"}, keys)

	_, _, err = st.GetArtifact(ctx, "job-1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_JobLogTail(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := st.AppendJobLog(ctx, "job-1", joblog.Entry{
			Level:   "info",
			Stage:   "routing",
			Message: string(rune('a' + i)),
		})
		require.NoError(t, err)
	}

	entries, err := st.TailJobLog(ctx, "job-1", 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "c", entries[0].Message)
	assert.Equal(t, "e", entries[2].Message)

	empty, err := st.TailJobLog(ctx, "other-job", 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestLogSink_RoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	sink := NewLogSink(st)

	sink.Append("job-1", joblog.Entry{Level: "warn", Stage: "validation", Message: "unit missing"})

	entries := sink.Tail("job-1", 10)
	require.Len(t, entries, 1)
	assert.Equal(t, "unit missing", entries[0].Message)
	assert.Equal(t, "validation", entries[0].Stage)
}
