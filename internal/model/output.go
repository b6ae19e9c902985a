package model

// FileStatus tracks a file's progress through the pipeline.
type FileStatus string

const (
	FileStatusPending     FileStatus = "pending"
	FileStatusProcessing  FileStatus = "processing"
	FileStatusCompleted   FileStatus = "completed"
	FileStatusFailed      FileStatus = "failed"
	FileStatusQuarantined FileStatus = "quarantined"
)

// ParsedOutput is one agent's result for one file. It is produced by the
// dispatcher, mutated in place by the normalizer, annotated by the validator,
// and immutable afterwards.
type ParsedOutput struct {
	FileID   string    `json:"file_id"`
	JobID    string    `json:"job_id"`
	FileName string    `json:"file_name"`
	FileType FileType  `json:"file_type"`
	Agent    AgentKind `json:"agent"`

	Markdown   string         `json:"markdown"`
	Structured map[string]any `json:"structured,omitempty"` // agent-specific side channel

	LCARelevant        bool    `json:"lca_relevant"`
	Confidence         float64 `json:"confidence"`
	LowConfidencePages []int   `json:"low_confidence_pages,omitempty"`
	WordCount          int     `json:"word_count"`
	DurationMS         int64   `json:"duration_ms"`

	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`

	Status FileStatus `json:"status"`

	Validation *ValidationOutcome `json:"validation,omitempty"`
}

// FileRecord is the persisted per-file status row updated by the dispatcher
// and normalizer as a file moves through the pipeline.
type FileRecord struct {
	FileID     string     `json:"file_id"`
	JobID      string     `json:"job_id"`
	Name       string     `json:"name"`
	Type       FileType   `json:"type"`
	Agent      AgentKind  `json:"agent,omitempty"`
	Status     FileStatus `json:"status"`
	Confidence float64    `json:"confidence"`
	DurationMS int64      `json:"duration_ms"`
	WordCount  int        `json:"word_count"`
	Error      string     `json:"error,omitempty"`
}
