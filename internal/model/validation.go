package model

// ValidationStatus is the merged per-file verdict of both validation tracks.
type ValidationStatus string

const (
	ValidationPassed       ValidationStatus = "passed"
	ValidationPassedWarn   ValidationStatus = "passed_with_warnings"
	ValidationFailed       ValidationStatus = "failed"
	ValidationQuarantined  ValidationStatus = "quarantined"
)

// Severity grades a single rule finding.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// RuleFinding is the result of one deterministic rule check.
type RuleFinding struct {
	Rule     string   `json:"rule"`
	Passed   bool     `json:"passed"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// SemanticIssue is a single finding from the LLM taxonomy assessment.
type SemanticIssue struct {
	Category    string `json:"category"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	Location    string `json:"location,omitempty"`
	Suggestion  string `json:"suggestion,omitempty"`
}

// SemanticAssessment is the taxonomy/methodology half of the semantic track.
// Scores are 0-100; a failed external call yields the zero value.
type SemanticAssessment struct {
	Issues            []SemanticIssue `json:"issues"`
	MethodologyScore  int             `json:"methodology_score"`
	DataQualityScore  int             `json:"data_quality_score"`
	CompletenessScore int             `json:"completeness_score"`
	Summary           string          `json:"summary,omitempty"`
}

// PlausibilityFlag is a single implausible-value finding.
type PlausibilityFlag struct {
	Value         string `json:"value"`
	Context       string `json:"context,omitempty"`
	ExpectedRange string `json:"expected_range,omitempty"`
	Severity      string `json:"severity,omitempty"`
	Explanation   string `json:"explanation"`
}

// PlausibilityAssessment is the numeric-plausibility half of the semantic track.
type PlausibilityAssessment struct {
	Flags      []PlausibilityFlag `json:"flags"`
	Overall    string             `json:"overall_plausibility"`
	Confidence float64            `json:"confidence"`
}

// ValidationOutcome is the per-file verdict produced by the validator.
// CrossDocConflicts is populated later, during synthesis, if at all.
type ValidationOutcome struct {
	FileID   string           `json:"file_id"`
	FileName string           `json:"file_name"`
	Status   ValidationStatus `json:"status"`

	RuleErrors        []string `json:"rule_errors,omitempty"`
	RuleWarnings      []string `json:"rule_warnings,omitempty"`
	TaxonomyIssues    []string `json:"taxonomy_issues,omitempty"`
	CrossDocConflicts []string `json:"cross_doc_conflicts,omitempty"`
	PlausibilityFlags []string `json:"plausibility_flags,omitempty"`

	DataQualityRating string  `json:"data_quality_rating"`
	Confidence        float64 `json:"confidence"` // semantic completeness / 100
}
