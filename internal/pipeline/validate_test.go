package pipeline

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenline-analytics/lca-cli/internal/model"
)

// cleanDoc passes every rule check.
const cleanDoc = `# Goal and Scope
The functional unit is 1 kg of steel. System boundary: cradle-to-gate (A1-A3).
# Life Cycle Inventory
Inventory data was collected on site.
# Impact Assessment
Climate change: 2.1 kg CO2 eq.
# Interpretation
Conclusions and recommendations follow.`

func passingSemantic() *fixedSemantic {
	return &fixedSemantic{
		taxonomy: model.SemanticAssessment{
			MethodologyScore:  85,
			DataQualityScore:  80,
			CompletenessScore: 90,
		},
		plausibility: model.PlausibilityAssessment{Overall: "high", Confidence: 0.9},
	}
}

func TestValidatePassed(t *testing.T) {
	v := NewValidator(passingSemantic())
	outputs := []model.ParsedOutput{{FileID: "f1", FileName: "steel.pdf", Markdown: cleanDoc}}

	outcomes, quarantined := v.ValidateAll(context.Background(), outputs, false, testLog())
	require.Len(t, outcomes, 1)

	assert.Equal(t, model.ValidationPassed, outcomes[0].Status)
	assert.Empty(t, quarantined)
	assert.Equal(t, "Good", outcomes[0].DataQualityRating)
	assert.Equal(t, 0.9, outcomes[0].Confidence)
	require.NotNil(t, outputs[0].Validation)
}

func TestValidateWarningsFromRules(t *testing.T) {
	v := NewValidator(passingSemantic())
	outputs := []model.ParsedOutput{{FileID: "f1", FileName: "notes.txt", Markdown: "A short note with nothing declared."}}

	outcomes, quarantined := v.ValidateAll(context.Background(), outputs, false, testLog())
	require.Len(t, outcomes, 1)

	assert.Equal(t, model.ValidationPassedWarn, outcomes[0].Status)
	assert.NotEmpty(t, outcomes[0].RuleWarnings)
	assert.Empty(t, quarantined)
}

func TestValidateWarningsFromTaxonomyIssues(t *testing.T) {
	semantic := passingSemantic()
	semantic.taxonomy.Issues = []model.SemanticIssue{
		{Category: "unit_error", Severity: "warning", Description: "Mixed unit systems in table 3"},
	}
	v := NewValidator(semantic)
	outputs := []model.ParsedOutput{{FileID: "f1", FileName: "steel.pdf", Markdown: cleanDoc}}

	outcomes, _ := v.ValidateAll(context.Background(), outputs, false, testLog())
	assert.Equal(t, model.ValidationPassedWarn, outcomes[0].Status)
	require.Len(t, outcomes[0].TaxonomyIssues, 1)
	assert.Contains(t, outcomes[0].TaxonomyIssues[0], "[unit_error]")
}

func TestValidatePlausibilityFlagsAreAdvisory(t *testing.T) {
	semantic := passingSemantic()
	semantic.plausibility.Flags = []model.PlausibilityFlag{
		{Value: "9000", Explanation: "orders of magnitude above typical steel factors"},
	}
	v := NewValidator(semantic)
	outputs := []model.ParsedOutput{{FileID: "f1", FileName: "steel.pdf", Markdown: cleanDoc}}

	outcomes, quarantined := v.ValidateAll(context.Background(), outputs, false, testLog())
	assert.Equal(t, model.ValidationPassed, outcomes[0].Status, "flags never change the merged status")
	assert.NotEmpty(t, outcomes[0].PlausibilityFlags)
	assert.Empty(t, quarantined)
}

func TestValidateSemanticFailureDegrades(t *testing.T) {
	// Zero-valued assessments stand in when the semantic track fails.
	v := NewValidator(&fixedSemantic{})
	outputs := []model.ParsedOutput{{FileID: "f1", FileName: "steel.pdf", Markdown: cleanDoc}}

	outcomes, _ := v.ValidateAll(context.Background(), outputs, false, testLog())
	assert.Equal(t, model.ValidationPassed, outcomes[0].Status)
	assert.Equal(t, "Poor", outcomes[0].DataQualityRating)
	assert.Equal(t, 0.0, outcomes[0].Confidence)
}

func TestMergeOutcomeErrorFindingFails(t *testing.T) {
	findings := []model.RuleFinding{
		{Rule: "unit_check", Passed: true, Severity: model.SeverityInfo, Message: "units ok"},
		{Rule: "impact_category_check", Passed: false, Severity: model.SeverityError, Message: "contradictory impact values"},
		{Rule: "section_check", Passed: false, Severity: model.SeverityWarning, Message: "missing interpretation"},
	}

	outcome := mergeOutcome(findings, model.SemanticAssessment{}, model.PlausibilityAssessment{})
	assert.Equal(t, model.ValidationFailed, outcome.Status)
	require.Len(t, outcome.RuleErrors, 1)
	require.Len(t, outcome.RuleWarnings, 1)
}

func TestApplyQuarantine(t *testing.T) {
	cases := []struct {
		name         string
		status       model.ValidationStatus
		forceInclude bool
		quarantined  bool
		wantStatus   model.ValidationStatus
	}{
		{"failed", model.ValidationFailed, false, true, model.ValidationQuarantined},
		{"failed forced", model.ValidationFailed, true, false, model.ValidationFailed},
		{"passed", model.ValidationPassed, false, false, model.ValidationPassed},
		{"warnings", model.ValidationPassedWarn, false, false, model.ValidationPassedWarn},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			outcome := model.ValidationOutcome{Status: tc.status}
			out := model.ParsedOutput{FileID: "f1", Status: model.FileStatusCompleted}

			got := applyQuarantine(&outcome, &out, tc.forceInclude)
			assert.Equal(t, tc.quarantined, got)
			assert.Equal(t, tc.wantStatus, outcome.Status)
			if tc.quarantined {
				assert.Equal(t, model.FileStatusQuarantined, out.Status)
			} else {
				assert.Equal(t, model.FileStatusCompleted, out.Status)
			}
		})
	}
}

func TestDataQualityRatingBuckets(t *testing.T) {
	assert.Equal(t, "Good", dataQualityRating(75))
	assert.Equal(t, "Good", dataQualityRating(100))
	assert.Equal(t, "Fair", dataQualityRating(50))
	assert.Equal(t, "Fair", dataQualityRating(74))
	assert.Equal(t, "Poor", dataQualityRating(49))
	assert.Equal(t, "Poor", dataQualityRating(0))
}

func TestLLMValidatorTaxonomyParseFailure(t *testing.T) {
	client := &mockClient{response: "not json"}
	v := NewLLMValidator(client, "sonnet", 1000)

	assessment := v.AssessTaxonomy(context.Background(), "content")
	assert.Zero(t, assessment.CompletenessScore)
	assert.Equal(t, "LLM validation response could not be parsed.", assessment.Summary)
}

func TestLLMValidatorTaxonomyAPIFailure(t *testing.T) {
	client := &mockClient{err: eris.New("api down")}
	v := NewLLMValidator(client, "sonnet", 1000)

	assessment := v.AssessTaxonomy(context.Background(), "content")
	assert.Zero(t, assessment.MethodologyScore)
	assert.Contains(t, assessment.Summary, "LLM validation failed")
}

func TestLLMValidatorPlausibilityRoundTrip(t *testing.T) {
	client := &mockClient{response: `{"flags": [{"value": "42", "explanation": "too high"}], "overall_plausibility": "medium", "confidence": 0.7}`}
	v := NewLLMValidator(client, "sonnet", 1000)

	assessment := v.AssessPlausibility(context.Background(), "content")
	assert.Equal(t, "medium", assessment.Overall)
	assert.Equal(t, 0.7, assessment.Confidence)
	require.Len(t, assessment.Flags, 1)
}

func TestLLMValidatorTruncatesContent(t *testing.T) {
	client := &mockClient{response: `{"issues": [], "methodology_score": 50, "data_quality_score": 50, "completeness_score": 50}`}
	v := NewLLMValidator(client, "sonnet", 100)

	long := make([]byte, 1000)
	for i := range long {
		long[i] = 'x'
	}
	v.AssessTaxonomy(context.Background(), string(long))

	require.Equal(t, 1, client.callCount())
	assert.Less(t, len(promptOf(client.requests[0])), 1000)
}
