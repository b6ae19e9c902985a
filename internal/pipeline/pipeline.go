package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/greenline-analytics/lca-cli/internal/joblog"
	"github.com/greenline-analytics/lca-cli/internal/model"
	"github.com/greenline-analytics/lca-cli/internal/store"
)

// Deps wires the stage implementations into a Controller.
type Deps struct {
	Store       store.Store
	Router      *Router
	Dispatcher  *Dispatcher
	Normalizer  *Normalizer
	Validator   *Validator
	Synthesizer *Synthesizer
	Reporter    *Reporter
	Sink        joblog.Sink
}

// Controller sequences the pipeline stages for one job at a time. It owns
// the JobState for the duration of a run; stages never share mutable state.
type Controller struct {
	deps Deps
}

// New creates a Controller.
func New(deps Deps) *Controller {
	return &Controller{deps: deps}
}

// Run executes the full pipeline for an already-created job. Per-file
// problems surface as FAILED or quarantined outputs; only a stage-level
// error fails the job.
func (c *Controller) Run(ctx context.Context, jobID string, tasks []model.FileTask, userContext string, forceInclude bool) (*model.JobState, error) {
	start := time.Now().UTC()
	log := joblog.New(jobID, c.deps.Sink)

	state := &model.JobState{
		JobID:                   jobID,
		UserContext:             userContext,
		ForceIncludeQuarantined: forceInclude,
		FileTasks:               tasks,
		Phase:                   model.PhaseStarting,
	}
	c.setStatus(ctx, jobID, model.JobStatusProcessing)
	log.Info("starting", fmt.Sprintf("Job started with %d files", len(tasks)))

	state.AdvancePhase(model.PhaseRouting)
	c.deps.Router.Route(ctx, state.FileTasks, log)

	state.AdvancePhase(model.PhaseAgentProcessing)
	outputs, err := c.deps.Dispatcher.Run(ctx, state.FileTasks, log)
	if err != nil {
		return state, c.fail(ctx, state, "agent_processing", err, log)
	}
	state.ParsedOutputs = outputs

	state.AdvancePhase(model.PhaseNormalization)
	state.ParsedOutputs = c.deps.Normalizer.NormalizeAll(ctx, state.ParsedOutputs, log)

	state.AdvancePhase(model.PhaseValidation)
	state.Outcomes, state.QuarantinedIDs = c.deps.Validator.ValidateAll(ctx, state.ParsedOutputs, forceInclude, log)

	state.AdvancePhase(model.PhaseSynthesis)
	state.Synthesis = c.deps.Synthesizer.Run(ctx, state.ParsedOutputs, userContext, log)

	state.AdvancePhase(model.PhaseOutput)
	keys := c.deps.Reporter.Publish(ctx, state, start, log)

	state.AdvancePhase(model.PhaseDone)
	result := c.buildResult(state, keys, start, forceInclude)
	if err := c.deps.Store.UpdateJobResult(ctx, jobID, result); err != nil {
		zap.L().Error("job result update failed", zap.String("job_id", jobID), zap.Error(err))
	}
	log.Info("done", fmt.Sprintf("Job completed in %.1fs", time.Since(start).Seconds()))
	return state, nil
}

// Replay re-enters the pipeline at synthesis using stored outputs and
// outcomes with the quarantine filter relaxed. Extraction and validation
// are not re-run; the new SynthesisResult supersedes the previous one.
func (c *Controller) Replay(ctx context.Context, jobID string) (*model.JobState, error) {
	start := time.Now().UTC()
	log := joblog.New(jobID, c.deps.Sink)

	job, err := c.deps.Store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Result == nil {
		return nil, eris.Errorf("pipeline: job %s has no stored result to replay", jobID)
	}

	outputs, tasks, err := c.loadStoredOutputs(ctx, jobID)
	if err != nil {
		return nil, err
	}
	// Relax the quarantine filter: every stored output joins synthesis.
	for i := range outputs {
		if outputs[i].Status == model.FileStatusQuarantined {
			outputs[i].Status = model.FileStatusCompleted
			log.FileInfo("synthesis", outputs[i].FileID, "Including previously quarantined document")
		}
	}

	state := &model.JobState{
		JobID:                   jobID,
		UserContext:             job.UserContext,
		ForceIncludeQuarantined: true,
		FileTasks:               tasks,
		ParsedOutputs:           outputs,
		Outcomes:                job.Result.Outcomes,
		QuarantinedIDs:          job.Result.QuarantinedIDs,
		Errors:                  job.Result.Errors,
	}
	c.setStatus(ctx, jobID, model.JobStatusProcessing)
	log.Info("synthesis", fmt.Sprintf("Replaying synthesis over %d stored outputs", len(outputs)))

	state.AdvancePhase(model.PhaseSynthesis)
	state.Synthesis = c.deps.Synthesizer.Run(ctx, state.ParsedOutputs, state.UserContext, log)

	state.AdvancePhase(model.PhaseOutput)
	keys := c.deps.Reporter.Publish(ctx, state, start, log)

	state.AdvancePhase(model.PhaseDone)
	result := c.buildResult(state, keys, start, true)
	if err := c.deps.Store.UpdateJobResult(ctx, jobID, result); err != nil {
		zap.L().Error("job result update failed", zap.String("job_id", jobID), zap.Error(err))
	}
	log.Info("done", fmt.Sprintf("Replay completed in %.1fs", time.Since(start).Seconds()))
	return state, nil
}

// loadStoredOutputs rebuilds the parsed output list from persisted
// normalization artifacts.
func (c *Controller) loadStoredOutputs(ctx context.Context, jobID string) ([]model.ParsedOutput, []model.FileTask, error) {
	recs, err := c.deps.Store.ListFileRecords(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}

	var outputs []model.ParsedOutput
	var tasks []model.FileTask
	for _, rec := range recs {
		data, _, err := c.deps.Store.GetArtifact(ctx, jobID, NormalizedMetadataKey(rec.FileID))
		if err != nil {
			zap.L().Warn("stored output missing, skipping",
				zap.String("file_id", rec.FileID), zap.Error(err))
			continue
		}
		var out model.ParsedOutput
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, nil, eris.Wrapf(err, "pipeline: unmarshal stored output %s", rec.FileID)
		}
		outputs = append(outputs, out)
		tasks = append(tasks, model.FileTask{
			FileID: rec.FileID,
			JobID:  jobID,
			Name:   rec.Name,
			Type:   rec.Type,
			Agent:  rec.Agent,
		})
	}
	if len(outputs) == 0 {
		return nil, nil, eris.Errorf("pipeline: no stored outputs for job %s", jobID)
	}
	return outputs, tasks, nil
}

func (c *Controller) buildResult(state *model.JobState, keys map[string]string, start time.Time, forced bool) *model.JobResult {
	var completed, failed int
	for _, out := range state.ParsedOutputs {
		switch out.Status {
		case model.FileStatusFailed:
			failed++
		case model.FileStatusQuarantined:
		default:
			completed++
		}
	}
	return &model.JobResult{
		Phase:            state.Phase,
		Progress:         state.Progress,
		QuarantinedIDs:   state.QuarantinedIDs,
		Outcomes:         state.Outcomes,
		Synthesis:        state.Synthesis,
		Errors:           state.Errors,
		ArtifactKeys:     keys,
		ForcedReprocess:  forced,
		TotalDurationMS:  time.Since(start).Milliseconds(),
		FilesCompleted:   completed,
		FilesFailed:      failed,
		FilesQuarantined: len(state.QuarantinedIDs),
	}
}

// fail marks the job failed with a truncated stage error. This is the only
// path that aborts a job; per-file errors never reach it.
func (c *Controller) fail(ctx context.Context, state *model.JobState, stage string, err error, log *joblog.Logger) error {
	msg := truncate(err.Error(), maxRecordedError)
	state.Errors = append(state.Errors, model.ErrorRecord{
		Stage:     stage,
		Message:   msg,
		Timestamp: time.Now().UTC(),
	})
	state.AdvancePhase(model.PhaseFailed)
	log.Error(stage, fmt.Sprintf("Stage failed: %s", msg))

	if storeErr := c.deps.Store.FailJob(ctx, state.JobID, msg); storeErr != nil {
		zap.L().Error("job failure update failed", zap.String("job_id", state.JobID), zap.Error(storeErr))
	}
	return eris.Wrapf(err, "pipeline: %s stage", stage)
}

func (c *Controller) setStatus(ctx context.Context, jobID string, status model.JobStatus) {
	if err := c.deps.Store.UpdateJobStatus(ctx, jobID, status); err != nil {
		zap.L().Warn("job status update failed", zap.String("job_id", jobID), zap.Error(err))
	}
}
