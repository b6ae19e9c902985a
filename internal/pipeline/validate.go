package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/greenline-analytics/lca-cli/internal/joblog"
	"github.com/greenline-analytics/lca-cli/internal/model"
	"github.com/greenline-analytics/lca-cli/internal/resilience"
	"github.com/greenline-analytics/lca-cli/pkg/claude"
)

const taxonomyPrompt = `You are an expert LCA (Life Cycle Assessment) validator.

Analyse the following extracted LCA content and validate it against standard LCA taxonomies
(EF 3.1, ReCiPe 2016, ISO 14040/14044).

For each issue, provide:
- "category": one of "unit_error", "taxonomy_mismatch", "plausibility", "completeness", "methodology"
- "severity": one of "info", "warning", "error"
- "description": clear description of the issue
- "location": approximate location in the text (quote relevant portion)
- "suggestion": recommended fix or action

Also evaluate overall:
- "methodology_score": 0-100 (how well the methodology follows ISO 14040/44)
- "data_quality_score": 0-100 (quality of reported data)
- "completeness_score": 0-100 (completeness of the LCA study)

Return a JSON object:
{
    "issues": [...],
    "methodology_score": <int>,
    "data_quality_score": <int>,
    "completeness_score": <int>,
    "summary": "<brief overall assessment>"
}

Content to validate:
---
%s
---`

const plausibilityPrompt = `You are an expert LCA data analyst.

Review the following LCA data and check each numeric value for plausibility.
Compare values against typical ranges for the materials, processes, and impact categories mentioned.

Flag any values that seem:
1. Unrealistically high or low
2. In the wrong order of magnitude
3. Using incorrect units
4. Inconsistent with other values in the same document

For each flagged value, provide:
- "value": the numeric value
- "context": what the value represents
- "expected_range": typical range for this type of value
- "severity": "warning" or "error"
- "explanation": why this value seems implausible

Return a JSON object:
{
    "flags": [...],
    "overall_plausibility": "high" | "medium" | "low",
    "confidence": 0.0-1.0
}

Data to validate:
---
%s
---`

// SemanticValidator runs the model-backed half of validation. A failing
// external call must degrade to a zero-valued assessment, never an error
// that fails the file.
type SemanticValidator interface {
	AssessTaxonomy(ctx context.Context, markdown string) model.SemanticAssessment
	AssessPlausibility(ctx context.Context, markdown string) model.PlausibilityAssessment
}

// LLMValidator implements SemanticValidator with Claude behind a circuit
// breaker, so a flapping API degrades the whole batch quickly instead of
// timing out file by file.
type LLMValidator struct {
	client     claude.Client
	model      string
	maxContent int
	breaker    *resilience.CircuitBreaker
}

// NewLLMValidator builds an LLMValidator truncating content to maxContent.
func NewLLMValidator(client claude.Client, mdl string, maxContent int) *LLMValidator {
	if maxContent <= 0 {
		maxContent = 15000
	}
	return &LLMValidator{
		client:     client,
		model:      mdl,
		maxContent: maxContent,
		breaker:    resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()),
	}
}

func (v *LLMValidator) invoke(ctx context.Context, system, prompt string) (string, error) {
	return resilience.ExecuteVal(ctx, v.breaker, func(ctx context.Context) (string, error) {
		resp, err := v.client.CreateMessage(ctx, claude.MessageRequest{
			Model:     v.model,
			MaxTokens: 4096,
			System:    []claude.SystemBlock{{Text: system}},
			Messages:  []claude.Message{{Role: "user", Content: prompt}},
		})
		if err != nil {
			return "", err
		}
		return resp.Text(), nil
	})
}

func (v *LLMValidator) AssessTaxonomy(ctx context.Context, markdown string) model.SemanticAssessment {
	content := truncate(markdown, v.maxContent)
	raw, err := v.invoke(ctx, "You are an LCA validation expert. Respond only with valid JSON.",
		fmt.Sprintf(taxonomyPrompt, content))
	if err != nil {
		zap.L().Error("taxonomy validation failed", zap.Error(err))
		return model.SemanticAssessment{Summary: fmt.Sprintf("LLM validation failed: %s", err)}
	}

	var result model.SemanticAssessment
	if err := claude.ParseJSON(raw, &result); err != nil {
		zap.L().Warn("taxonomy validation response unparseable", zap.Int("raw_length", len(raw)))
		return model.SemanticAssessment{Summary: "LLM validation response could not be parsed."}
	}
	return result
}

func (v *LLMValidator) AssessPlausibility(ctx context.Context, markdown string) model.PlausibilityAssessment {
	content := truncate(markdown, v.maxContent)
	raw, err := v.invoke(ctx, "You are an LCA data analyst. Respond only with valid JSON.",
		fmt.Sprintf(plausibilityPrompt, content))
	if err != nil {
		zap.L().Error("plausibility validation failed", zap.Error(err))
		return model.PlausibilityAssessment{Overall: "unknown"}
	}

	var result model.PlausibilityAssessment
	if err := claude.ParseJSON(raw, &result); err != nil {
		zap.L().Warn("plausibility validation response unparseable", zap.Int("raw_length", len(raw)))
		return model.PlausibilityAssessment{Overall: "unknown"}
	}
	return result
}

// Validator merges the deterministic rule track with the semantic track into
// one per-file verdict and decides quarantine.
type Validator struct {
	semantic SemanticValidator
}

// NewValidator builds a Validator over the given semantic implementation.
func NewValidator(semantic SemanticValidator) *Validator {
	return &Validator{semantic: semantic}
}

// ValidateAll produces one outcome per output plus the quarantine id set.
// Outcomes are attached to the outputs in place. With forceInclude set,
// failed files keep their failed status but skip quarantine.
func (v *Validator) ValidateAll(ctx context.Context, outputs []model.ParsedOutput, forceInclude bool, log *joblog.Logger) ([]model.ValidationOutcome, []string) {
	outcomes := make([]model.ValidationOutcome, 0, len(outputs))
	var quarantined []string

	for i := range outputs {
		out := &outputs[i]
		outcome := v.validateOne(ctx, out)

		if applyQuarantine(&outcome, out, forceInclude) {
			quarantined = append(quarantined, out.FileID)
			log.FileWarn("validation", out.FileID,
				fmt.Sprintf("%s quarantined: %s", out.FileName, strings.Join(outcome.RuleErrors, "; ")))
		} else {
			log.FileInfo("validation", out.FileID,
				fmt.Sprintf("%s validation %s (data quality %s)", out.FileName, outcome.Status, outcome.DataQualityRating))
		}

		out.Validation = &outcome
		outcomes = append(outcomes, outcome)
	}
	return outcomes, quarantined
}

// applyQuarantine flips a failed verdict to quarantined unless forceInclude
// keeps the file in scope. A forced file stays failed but is not quarantined.
func applyQuarantine(outcome *model.ValidationOutcome, out *model.ParsedOutput, forceInclude bool) bool {
	if outcome.Status != model.ValidationFailed || forceInclude {
		return false
	}
	outcome.Status = model.ValidationQuarantined
	out.Status = model.FileStatusQuarantined
	return true
}

func (v *Validator) validateOne(ctx context.Context, out *model.ParsedOutput) model.ValidationOutcome {
	var taxonomy model.SemanticAssessment
	var plausibility model.PlausibilityAssessment
	if v.semantic != nil {
		taxonomy = v.semantic.AssessTaxonomy(ctx, out.Markdown)
		plausibility = v.semantic.AssessPlausibility(ctx, out.Markdown)
	}

	outcome := mergeOutcome(RunRules(out.Markdown), taxonomy, plausibility)
	outcome.FileID = out.FileID
	outcome.FileName = out.FileName
	return outcome
}

// mergeOutcome folds rule findings and both semantic assessments into one
// verdict. Error-severity findings fail the file; warnings and taxonomy
// issues downgrade a pass to passed_with_warnings.
func mergeOutcome(findings []model.RuleFinding, taxonomy model.SemanticAssessment, plausibility model.PlausibilityAssessment) model.ValidationOutcome {
	var outcome model.ValidationOutcome

	for _, f := range findings {
		if f.Passed {
			continue
		}
		if f.Severity == model.SeverityError {
			outcome.RuleErrors = append(outcome.RuleErrors, f.Message)
		} else {
			outcome.RuleWarnings = append(outcome.RuleWarnings, f.Message)
		}
	}

	for _, issue := range taxonomy.Issues {
		outcome.TaxonomyIssues = append(outcome.TaxonomyIssues,
			fmt.Sprintf("[%s] %s", issue.Category, issue.Description))
	}
	for _, flag := range plausibility.Flags {
		outcome.PlausibilityFlags = append(outcome.PlausibilityFlags,
			fmt.Sprintf("%s: %s", flag.Value, flag.Explanation))
	}

	// Plausibility flags are advisory and never change the merged status.
	switch {
	case len(outcome.RuleErrors) > 0:
		outcome.Status = model.ValidationFailed
	case len(outcome.RuleWarnings) > 0 || len(outcome.TaxonomyIssues) > 0:
		outcome.Status = model.ValidationPassedWarn
	default:
		outcome.Status = model.ValidationPassed
	}

	outcome.DataQualityRating = dataQualityRating(taxonomy.DataQualityScore)
	outcome.Confidence = float64(taxonomy.CompletenessScore) / 100.0
	return outcome
}

func dataQualityRating(score int) string {
	switch {
	case score >= 75:
		return "Good"
	case score >= 50:
		return "Fair"
	default:
		return "Poor"
	}
}
