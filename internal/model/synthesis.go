package model

// DocSummary is one per-document narrative produced by synthesis stage 1.
// A failed summarization yields a placeholder Summary with Error set.
type DocSummary struct {
	FileID     string    `json:"file_id"`
	FileName   string    `json:"file_name"`
	FileType   FileType  `json:"file_type"`
	Agent      AgentKind `json:"agent"`
	Confidence float64   `json:"confidence"`
	Summary    string    `json:"summary"`
	Error      string    `json:"error,omitempty"`
}

// ImpactResult is one quantitative impact-category result.
type ImpactResult struct {
	Category string  `json:"category"`
	Value    float64 `json:"value"`
	Unit     string  `json:"unit"`
	Stage    string  `json:"stage,omitempty"`
	Source   string  `json:"source,omitempty"`
}

// Hotspot names a process or stage contributing significantly to impact.
type Hotspot struct {
	Process         string   `json:"process"`
	ContributionPct *float64 `json:"contribution_pct,omitempty"`
	ImpactCategory  string   `json:"impact_category,omitempty"`
}

// StructuredInsights is the typed extraction from synthesis stage 3.
// When the extraction response cannot be parsed, the zero value (with
// DataQuality "Unknown") stands in rather than failing the stage.
type StructuredInsights struct {
	FunctionalUnit  string         `json:"functional_unit,omitempty"`
	SystemBoundary  string         `json:"system_boundary,omitempty"`
	ImpactMethod    string         `json:"impact_method,omitempty"`
	ImpactResults   []ImpactResult `json:"impact_results"`
	Hotspots        []Hotspot      `json:"hotspots"`
	DataQuality     string         `json:"data_quality"`
	Completeness    float64        `json:"completeness"`
	Recommendations []string       `json:"recommendations"`
}

// SynthesisResult is the job-level aggregate of all three synthesis stages.
type SynthesisResult struct {
	DocSummaries      []DocSummary       `json:"doc_summaries"`
	CrossDocSynthesis string             `json:"cross_doc_synthesis"`
	InsightsMarkdown  string             `json:"insights_markdown"`
	Structured        StructuredInsights `json:"structured_insights"`
}
