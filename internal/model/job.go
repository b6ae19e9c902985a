package model

import "time"

// JobStatus represents the externally visible state of an analysis job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Phase labels the pipeline stage a job is currently in. Transitions are
// linear; "failed" is reachable from any phase on a stage-level error.
type Phase string

const (
	PhaseStarting        Phase = "starting"
	PhaseRouting         Phase = "routing"
	PhaseAgentProcessing Phase = "agent_processing"
	PhaseNormalization   Phase = "normalization"
	PhaseValidation      Phase = "validation"
	PhaseSynthesis       Phase = "synthesis"
	PhaseOutput          Phase = "output"
	PhaseDone            Phase = "done"
	PhaseFailed          Phase = "failed"
)

// PhaseProgress maps each phase to its monotonic progress checkpoint.
// Checkpoints are fixed regardless of how many files are in the job.
var PhaseProgress = map[Phase]int{
	PhaseStarting:        0,
	PhaseRouting:         10,
	PhaseAgentProcessing: 40,
	PhaseNormalization:   55,
	PhaseValidation:      65,
	PhaseSynthesis:       80,
	PhaseOutput:          100,
	PhaseDone:            100,
}

// ErrorRecord captures a stage-level error, distinct from per-file errors.
type ErrorRecord struct {
	FileID    string    `json:"file_id,omitempty"`
	Stage     string    `json:"stage"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// JobState is the aggregate container threading through all pipeline stages.
// It is owned exclusively by the controller for the duration of one run; each
// stage receives the prior stage's output and the controller merges results.
type JobState struct {
	JobID                   string `json:"job_id"`
	UserContext             string `json:"user_context,omitempty"`
	ForceIncludeQuarantined bool   `json:"force_include_quarantined"`

	FileTasks      []FileTask          `json:"file_tasks"`
	ParsedOutputs  []ParsedOutput      `json:"parsed_outputs,omitempty"`
	Outcomes       []ValidationOutcome `json:"validation_outcomes,omitempty"`
	QuarantinedIDs []string            `json:"quarantined_ids,omitempty"`
	Synthesis      *SynthesisResult    `json:"synthesis,omitempty"`

	Errors   []ErrorRecord `json:"errors,omitempty"`
	Phase    Phase         `json:"phase"`
	Progress int           `json:"progress"`
}

// IsQuarantined reports whether the given file id is in the quarantine set.
func (s *JobState) IsQuarantined(fileID string) bool {
	for _, id := range s.QuarantinedIDs {
		if id == fileID {
			return true
		}
	}
	return false
}

// AdvancePhase records the phase transition and its progress checkpoint.
// Progress never decreases within a run.
func (s *JobState) AdvancePhase(p Phase) {
	s.Phase = p
	if pct, ok := PhaseProgress[p]; ok && pct > s.Progress {
		s.Progress = pct
	}
}

// Job is the persisted job row.
type Job struct {
	ID          string     `json:"id"`
	Status      JobStatus  `json:"status"`
	FileCount   int        `json:"file_count"`
	UserContext string     `json:"user_context,omitempty"`
	Result      *JobResult `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// JobResult holds the final outcome of a completed (or replayed) run.
type JobResult struct {
	Phase            Phase               `json:"phase"`
	Progress         int                 `json:"progress"`
	QuarantinedIDs   []string            `json:"quarantined_ids,omitempty"`
	Outcomes         []ValidationOutcome `json:"validation_outcomes,omitempty"`
	Synthesis        *SynthesisResult    `json:"synthesis,omitempty"`
	Errors           []ErrorRecord       `json:"errors,omitempty"`
	ArtifactKeys     map[string]string   `json:"artifact_keys,omitempty"`
	ForcedReprocess  bool                `json:"forced_reprocess,omitempty"`
	TotalDurationMS  int64               `json:"total_duration_ms"`
	FilesCompleted   int                 `json:"files_completed"`
	FilesFailed      int                 `json:"files_failed"`
	FilesQuarantined int                 `json:"files_quarantined"`
}
