package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/greenline-analytics/lca-cli/internal/joblog"
	"github.com/greenline-analytics/lca-cli/internal/model"
	"github.com/greenline-analytics/lca-cli/pkg/claude"
)

const perDocSummaryPrompt = `You are an expert LCA (Life Cycle Assessment) analyst.

Produce a structured 300-500 word summary of the following extracted LCA document content.

Cover:
- What document this is (type, apparent purpose)
- What LCA data it contains (which impact categories, functional unit if identified, system boundary if stated)
- Data quality assessment based on the validation report provided
- Any red flags or missing information
- Key numeric findings (up to 5 most significant values)

Format the summary as Markdown with these EXACT sub-headings:
### Document Overview
### LCA Content
### Data Quality
### Key Findings
### Flags

Document filename: %s
Document type: %s
Agent used: %s
Confidence: %.2f

Validation summary:
%s

Extracted content:
---
%s
---`

const crossDocSynthesisPrompt = `You are an expert LCA (Life Cycle Assessment) analyst performing a cross-document synthesis.

You are given per-document summaries from %d LCA-related documents that have been individually analysed. Your task is to synthesise a unified analysis.

Identify:
1. Which documents cover which life cycle stages (A1-A3 manufacturing, A4-A5 construction, B1-B7 use, C1-C4 end-of-life, D benefits)
2. Any conflicts (different functional units, conflicting impact values for the same process)
3. Complementary data (documents that together cover a complete cradle-to-grave scope)
4. Overall methodological consistency (is the same impact assessment method used throughout?)
5. Write a unified narrative describing the complete LCA study covered by all documents

Return your analysis as a Markdown document with these EXACT sections:
## Study Overview
## Functional Unit
## System Boundary
## Coverage by Life Cycle Stage
## Methodological Consistency
## Conflicts and Discrepancies
## Cross-Document Synthesis

%s

Per-document summaries:
---
%s
---`

const insightExtractionPrompt = `You are an expert LCA (Life Cycle Assessment) analyst.

Given the following cross-document synthesis of an LCA study, extract specific insights.

**Hotspot Analysis:** Which processes, materials, or life cycle stages contribute most to environmental impact? List the top 5 hotspots with estimated percentage contribution if data allows.

**Uncertainty Assessment:** Where is data quality weakest? Which results are most uncertain and why?

**Completeness Assessment:** What percentage of the product system is covered? What is missing?

**Impact Results Table:** Extract ALL impact category results into a single consolidated table:
| Impact Category | Value | Unit | Life Cycle Stage | Source Document |

**Recommendations:** 3-5 specific, actionable recommendations for reducing the identified environmental hotspots.

Format the output as Markdown with these EXACT sections:
## Environmental Hotspots
## Consolidated Impact Results
## Uncertainty Assessment
## Completeness
## Recommendations

Cross-document synthesis:
---
%s
---`

const structuredInsightsPrompt = `You are an LCA data extraction specialist.

From the following LCA analysis text, extract structured data as JSON:

{
    "functional_unit": "<string or null>",
    "system_boundary": "<string or null>",
    "impact_method": "<string or null>",
    "impact_results": [
        {"category": "<name>", "value": <number>, "unit": "<unit>", "stage": "<stage or null>", "source": "<filename or null>"}
    ],
    "hotspots": [
        {"process": "<name>", "contribution_pct": <number or null>, "impact_category": "<category>"}
    ],
    "data_quality": "<Excellent|Good|Fair|Poor>",
    "completeness": <0.0-1.0>,
    "recommendations": ["<string>", ...]
}

Be precise with numeric values. If data is not available, use null.
Extract as many impact results and hotspots as possible from the text.

Analysis text:
---
%s
---`

const maxStructuredContent = 25000

// Synthesizer runs the three synthesis stages over validated outputs.
// Stage failures degrade to placeholder text; synthesis as a whole does
// not fail the job.
type Synthesizer struct {
	client      claude.Client
	model       string
	maxContent  int
	concurrency int
}

// NewSynthesizer builds a Synthesizer. maxContent caps per-document content
// sent to the model; concurrency bounds the stage 1 fan-out.
func NewSynthesizer(client claude.Client, mdl string, maxContent, concurrency int) *Synthesizer {
	if maxContent <= 0 {
		maxContent = 20000
	}
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Synthesizer{client: client, model: mdl, maxContent: maxContent, concurrency: concurrency}
}

func (s *Synthesizer) invoke(ctx context.Context, system, prompt string, maxTokens int64) (string, error) {
	resp, err := s.client.CreateMessage(ctx, claude.MessageRequest{
		Model:     s.model,
		MaxTokens: maxTokens,
		System:    []claude.SystemBlock{{Text: system}},
		Messages:  []claude.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text()), nil
}

// Run executes all three stages. Quarantined outputs are excluded from the
// summary fan-out; an empty input set short-circuits with a placeholder.
func (s *Synthesizer) Run(ctx context.Context, outputs []model.ParsedOutput, userContext string, log *joblog.Logger) *model.SynthesisResult {
	included := make([]model.ParsedOutput, 0, len(outputs))
	for _, out := range outputs {
		if out.Status == model.FileStatusQuarantined {
			log.FileInfo("synthesis", out.FileID, "Skipping quarantined document")
			continue
		}
		included = append(included, out)
	}

	if len(included) == 0 {
		return &model.SynthesisResult{
			CrossDocSynthesis: "No files available for synthesis.",
			Structured:        defaultStructuredInsights(),
		}
	}

	summaries := s.summarizeAll(ctx, included, log)

	synthesis := s.synthesizeAcross(ctx, summaries, userContext)
	log.Info("synthesis", fmt.Sprintf("Cross-document synthesis complete (%d documents)", len(summaries)))

	insights := s.extractInsights(ctx, synthesis)
	structured := s.extractStructured(ctx, synthesis, insights)

	return &model.SynthesisResult{
		DocSummaries:      summaries,
		CrossDocSynthesis: synthesis,
		InsightsMarkdown:  insights,
		Structured:        structured,
	}
}

// summarizeAll fans per-document summaries out concurrently, preserving
// input order in the result.
func (s *Synthesizer) summarizeAll(ctx context.Context, outputs []model.ParsedOutput, log *joblog.Logger) []model.DocSummary {
	summaries := make([]model.DocSummary, len(outputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i := range outputs {
		g.Go(func() error {
			summaries[i] = s.summarizeOne(gctx, outputs[i])
			return nil
		})
	}
	g.Wait() //nolint:errcheck

	log.Info("synthesis", fmt.Sprintf("Generated %d document summaries", len(summaries)))
	return summaries
}

func (s *Synthesizer) summarizeOne(ctx context.Context, out model.ParsedOutput) model.DocSummary {
	summary := model.DocSummary{
		FileID:     out.FileID,
		FileName:   out.FileName,
		FileType:   out.FileType,
		Agent:      out.Agent,
		Confidence: out.Confidence,
	}

	prompt := fmt.Sprintf(perDocSummaryPrompt,
		out.FileName, out.FileType, out.Agent, out.Confidence,
		validationSummaryText(out.Validation),
		truncate(out.Markdown, s.maxContent),
	)

	text, err := s.invoke(ctx, "You are an LCA document analyst. Return only Markdown formatted text.", prompt, 2048)
	if err != nil {
		zap.L().Error("per-document summary failed", zap.String("file_id", out.FileID), zap.Error(err))
		summary.Summary = fmt.Sprintf("*Summary generation failed: %s*", err)
		summary.Error = err.Error()
		return summary
	}
	summary.Summary = text
	return summary
}

// validationSummaryText renders a validation outcome for the summary prompt.
func validationSummaryText(v *model.ValidationOutcome) string {
	if v == nil {
		return "No validation data available."
	}
	var parts []string
	if len(v.RuleErrors) > 0 {
		parts = append(parts, "Rule errors: "+strings.Join(v.RuleErrors, ", "))
	}
	if len(v.RuleWarnings) > 0 {
		parts = append(parts, "Rule warnings: "+strings.Join(v.RuleWarnings, ", "))
	}
	if v.DataQualityRating != "" {
		parts = append(parts, "Data quality: "+v.DataQualityRating)
	}
	if len(parts) == 0 {
		return "No validation data available."
	}
	return strings.Join(parts, "\n")
}

func (s *Synthesizer) synthesizeAcross(ctx context.Context, summaries []model.DocSummary, userContext string) string {
	parts := make([]string, 0, len(summaries))
	for i, doc := range summaries {
		text := doc.Summary
		if text == "" {
			text = "No summary available."
		}
		parts = append(parts, fmt.Sprintf(
			"### Document %d: %s\n**Type:** %s | **Agent:** %s | **Confidence:** %.2f\n\n%s\n",
			i+1, doc.FileName, doc.FileType, doc.Agent, doc.Confidence, text))
	}

	contextClause := ""
	if userContext != "" {
		contextClause = fmt.Sprintf("\nUser-provided context: %s\n", userContext)
	}

	prompt := fmt.Sprintf(crossDocSynthesisPrompt, len(summaries), contextClause, strings.Join(parts, "\n---\n"))

	text, err := s.invoke(ctx,
		"You are an LCA synthesis expert. Produce a thorough cross-document analysis in Markdown format. Be specific about data, not generic.",
		prompt, 4096)
	if err != nil {
		zap.L().Error("cross-document synthesis failed", zap.Error(err))
		return fmt.Sprintf("## Cross-Document Synthesis\n\n*Synthesis generation failed: %s*\n\n"+
			"Individual document summaries are available in the appendix.", err)
	}
	return text
}

func (s *Synthesizer) extractInsights(ctx context.Context, synthesis string) string {
	text, err := s.invoke(ctx,
		"You are an LCA insight extraction expert. Produce detailed, specific insights in Markdown format. Include actual numbers and data wherever possible.",
		fmt.Sprintf(insightExtractionPrompt, synthesis), 4096)
	if err != nil {
		zap.L().Error("insight extraction failed", zap.Error(err))
		return fmt.Sprintf("## LCA Insights\n\n*Insight extraction failed: %s*", err)
	}
	return text
}

func (s *Synthesizer) extractStructured(ctx context.Context, synthesis, insights string) model.StructuredInsights {
	combined := truncate(synthesis+"\n\n---\n\n"+insights, maxStructuredContent)

	raw, err := s.invoke(ctx, "You are an LCA data extractor. Respond only with valid JSON.",
		fmt.Sprintf(structuredInsightsPrompt, combined), 4096)
	if err != nil {
		zap.L().Error("structured insight extraction failed", zap.Error(err))
		return defaultStructuredInsights()
	}

	var result model.StructuredInsights
	if err := claude.ParseJSON(raw, &result); err != nil {
		zap.L().Warn("structured insights unparseable", zap.Int("raw_length", len(raw)))
		return defaultStructuredInsights()
	}
	if result.DataQuality == "" {
		result.DataQuality = "Fair"
	}
	if result.ImpactResults == nil {
		result.ImpactResults = []model.ImpactResult{}
	}
	if result.Hotspots == nil {
		result.Hotspots = []model.Hotspot{}
	}
	if result.Recommendations == nil {
		result.Recommendations = []string{}
	}
	return result
}

func defaultStructuredInsights() model.StructuredInsights {
	return model.StructuredInsights{
		ImpactResults:   []model.ImpactResult{},
		Hotspots:        []model.Hotspot{},
		DataQuality:     "Unknown",
		Completeness:    0,
		Recommendations: []string{},
	}
}
