package store

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/greenline-analytics/lca-cli/internal/joblog"
	"github.com/greenline-analytics/lca-cli/internal/model"
)

// ErrNotFound is returned by lookups when the requested row does not exist.
var ErrNotFound = eris.New("store: not found")

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	Status model.JobStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the analysis pipeline.
type Store interface {
	// Jobs
	CreateJob(ctx context.Context, fileCount int, userContext string) (*model.Job, error)
	UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus) error
	FailJob(ctx context.Context, jobID string, errMsg string) error
	UpdateJobResult(ctx context.Context, jobID string, result *model.JobResult) error
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error)

	// Per-file records
	UpsertFileRecord(ctx context.Context, rec model.FileRecord) error
	ListFileRecords(ctx context.Context, jobID string) ([]model.FileRecord, error)

	// Artifacts (raw file bytes, normalized markdown, reports)
	PutArtifact(ctx context.Context, jobID, key, contentType string, data []byte) error
	GetArtifact(ctx context.Context, jobID, key string) ([]byte, string, error)
	ListArtifactKeys(ctx context.Context, jobID string) ([]string, error)

	// Job logs
	AppendJobLog(ctx context.Context, jobID string, e joblog.Entry) error
	TailJobLog(ctx context.Context, jobID string, n int) ([]joblog.Entry, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// LogSink adapts a Store to the joblog.Sink interface. Persistence failures
// are logged and dropped; a sink problem must not affect a run.
type LogSink struct {
	store Store
}

// NewLogSink wraps the store as a durable joblog sink.
func NewLogSink(s Store) *LogSink {
	return &LogSink{store: s}
}

func (l *LogSink) Append(jobID string, e joblog.Entry) {
	if err := l.store.AppendJobLog(context.Background(), jobID, e); err != nil {
		zap.L().Warn("job log append failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (l *LogSink) Tail(jobID string, n int) []joblog.Entry {
	entries, err := l.store.TailJobLog(context.Background(), jobID, n)
	if err != nil {
		zap.L().Warn("job log tail failed", zap.String("job_id", jobID), zap.Error(err))
		return nil
	}
	return entries
}
