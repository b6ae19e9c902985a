package pipeline

import (
	"context"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/greenline-analytics/lca-cli/internal/agent"
	"github.com/greenline-analytics/lca-cli/internal/joblog"
	"github.com/greenline-analytics/lca-cli/internal/model"
	"github.com/greenline-analytics/lca-cli/internal/store"
)

const maxRecordedError = 500

// BlobLoader fetches the raw bytes behind a task's locator.
type BlobLoader interface {
	Load(ctx context.Context, task model.FileTask) ([]byte, error)
}

// DiskBlobs reads task bytes from the local filesystem.
type DiskBlobs struct{}

func (DiskBlobs) Load(_ context.Context, task model.FileTask) ([]byte, error) {
	data, err := os.ReadFile(task.Locator)
	return data, eris.Wrapf(err, "pipeline: read %s", task.Locator)
}

// StoreBlobs reads task bytes from the artifact store, keyed by locator.
type StoreBlobs struct {
	Store store.Store
}

func (b StoreBlobs) Load(ctx context.Context, task model.FileTask) ([]byte, error) {
	data, _, err := b.Store.GetArtifact(ctx, task.JobID, task.Locator)
	return data, err
}

// Dispatcher fans file tasks out to their assigned agents. One file's
// failure never affects another; a failed file becomes a FAILED output.
type Dispatcher struct {
	registry    map[model.AgentKind]agent.Agent
	blobs       BlobLoader
	store       store.Store
	limiter     *rate.Limiter
	concurrency int
}

// NewDispatcher builds a Dispatcher with the given concurrency bound and
// shared extraction rate limit.
func NewDispatcher(registry map[model.AgentKind]agent.Agent, blobs BlobLoader, st store.Store, concurrency int, ratePerSec float64) *Dispatcher {
	if concurrency <= 0 {
		concurrency = 8
	}
	limit := rate.Limit(ratePerSec)
	if ratePerSec <= 0 {
		limit = rate.Inf
	}
	return &Dispatcher{
		registry:    registry,
		blobs:       blobs,
		store:       st,
		limiter:     rate.NewLimiter(limit, 1),
		concurrency: concurrency,
	}
}

// Run processes all tasks concurrently and returns outputs in task order.
// The returned error is non-nil only when the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context, tasks []model.FileTask, log *joblog.Logger) ([]model.ParsedOutput, error) {
	outputs := make([]model.ParsedOutput, len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)

	for i := range tasks {
		g.Go(func() error {
			outputs[i] = d.processOne(gctx, tasks[i], log)
			return gctx.Err()
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "pipeline: dispatch cancelled")
	}
	return outputs, nil
}

func (d *Dispatcher) processOne(ctx context.Context, task model.FileTask, log *joblog.Logger) model.ParsedOutput {
	d.recordStatus(ctx, task, model.FileRecord{
		FileID: task.FileID,
		JobID:  task.JobID,
		Name:   task.Name,
		Type:   task.Type,
		Agent:  task.Agent,
		Status: model.FileStatusProcessing,
	})

	out, err := d.extract(ctx, task)
	if err != nil {
		msg := truncate(err.Error(), maxRecordedError)
		log.FileError("agent_processing", task.FileID, fmt.Sprintf("%s failed: %s", task.Agent, msg))

		d.recordStatus(ctx, task, model.FileRecord{
			FileID: task.FileID,
			JobID:  task.JobID,
			Name:   task.Name,
			Type:   task.Type,
			Agent:  task.Agent,
			Status: model.FileStatusFailed,
			Error:  msg,
		})
		return model.ParsedOutput{
			FileID:      task.FileID,
			JobID:       task.JobID,
			FileName:    task.Name,
			FileType:    task.Type,
			Agent:       task.Agent,
			Markdown:    "",
			Confidence:  0,
			LCARelevant: false,
			Errors:      []string{msg},
			Status:      model.FileStatusFailed,
		}
	}

	log.FileInfo("agent_processing", task.FileID,
		fmt.Sprintf("%s completed (confidence %.2f, %d words)", task.Agent, out.Confidence, out.WordCount))

	d.recordStatus(ctx, task, model.FileRecord{
		FileID:     task.FileID,
		JobID:      task.JobID,
		Name:       task.Name,
		Type:       task.Type,
		Agent:      task.Agent,
		Status:     model.FileStatusCompleted,
		Confidence: out.Confidence,
		DurationMS: out.DurationMS,
		WordCount:  out.WordCount,
	})
	return *out
}

func (d *Dispatcher) extract(ctx context.Context, task model.FileTask) (*model.ParsedOutput, error) {
	ag, ok := d.registry[task.Agent]
	if !ok {
		return nil, eris.Errorf("pipeline: no agent registered for %s", task.Agent)
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "pipeline: rate limit wait")
	}

	data, err := d.blobs.Load(ctx, task)
	if err != nil {
		return nil, err
	}
	return ag.Extract(ctx, task, data)
}

// recordStatus persists a per-file status row. Failures are logged only;
// bookkeeping must not fail the file.
func (d *Dispatcher) recordStatus(ctx context.Context, task model.FileTask, rec model.FileRecord) {
	if d.store == nil {
		return
	}
	if err := d.store.UpsertFileRecord(ctx, rec); err != nil {
		zap.L().Warn("file record update failed",
			zap.String("file_id", task.FileID), zap.Error(err))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
