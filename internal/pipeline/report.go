package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/greenline-analytics/lca-cli/internal/joblog"
	"github.com/greenline-analytics/lca-cli/internal/model"
	"github.com/greenline-analytics/lca-cli/internal/store"
)

// Artifact keys for the output stage deliverables.
const (
	ArtifactReport   = "reports/full_report.md"
	ArtifactAnalysis = "reports/analysis.json"
	ArtifactVizData  = "reports/viz_data.json"
	ArtifactAudit    = "audit/audit.json"
)

// ValidationCounts aggregates per-file verdicts for reporting.
type ValidationCounts struct {
	Passed      int `json:"passed"`
	Warnings    int `json:"warnings"`
	Failed      int `json:"failed"`
	Quarantined int `json:"quarantined"`
}

func countOutcomes(outcomes []model.ValidationOutcome) ValidationCounts {
	var c ValidationCounts
	for _, o := range outcomes {
		switch o.Status {
		case model.ValidationPassed:
			c.Passed++
		case model.ValidationPassedWarn:
			c.Warnings++
		case model.ValidationFailed:
			c.Failed++
		case model.ValidationQuarantined:
			c.Quarantined++
		}
	}
	return c
}

// AnalysisJSON is the machine-readable analysis deliverable.
type AnalysisJSON struct {
	JobID             string               `json:"job_id"`
	AnalysisDate      time.Time            `json:"analysis_date"`
	FunctionalUnit    string               `json:"functional_unit,omitempty"`
	SystemBoundary    string               `json:"system_boundary,omitempty"`
	ImpactMethod      string               `json:"impact_method,omitempty"`
	ImpactResults     []model.ImpactResult `json:"impact_results"`
	Hotspots          []model.Hotspot      `json:"hotspots"`
	DataQuality       string               `json:"data_quality"`
	Completeness      float64              `json:"completeness"`
	FilesProcessed    int                  `json:"files_processed"`
	ValidationSummary ValidationCounts     `json:"validation_summary"`
	Recommendations   []string             `json:"recommendations"`
}

// BuildAnalysisJSON assembles the structured analysis deliverable.
func BuildAnalysisJSON(jobID string, synthesis *model.SynthesisResult, outcomes []model.ValidationOutcome, filesProcessed int) AnalysisJSON {
	structured := synthesis.Structured
	return AnalysisJSON{
		JobID:             jobID,
		AnalysisDate:      time.Now().UTC(),
		FunctionalUnit:    structured.FunctionalUnit,
		SystemBoundary:    structured.SystemBoundary,
		ImpactMethod:      structured.ImpactMethod,
		ImpactResults:     structured.ImpactResults,
		Hotspots:          structured.Hotspots,
		DataQuality:       structured.DataQuality,
		Completeness:      structured.Completeness,
		FilesProcessed:    filesProcessed,
		ValidationSummary: countOutcomes(outcomes),
		Recommendations:   structured.Recommendations,
	}
}

// VizData holds chart-ready objects for a frontend.
type VizData struct {
	ImpactBarChart       ImpactBarChart       `json:"impact_bar_chart"`
	HotspotPareto        HotspotPareto        `json:"hotspot_pareto"`
	CompletenessGauge    CompletenessGauge    `json:"completeness_gauge"`
	StageCoverageHeatmap StageCoverageHeatmap `json:"stage_coverage_heatmap"`
	DataQualityScores    DataQualityScores    `json:"data_quality_scores"`
}

type ImpactBarChart struct {
	Labels []string  `json:"labels"`
	Values []float64 `json:"values"`
	Units  []string  `json:"units"`
}

type HotspotPareto struct {
	Labels        []string  `json:"labels"`
	Values        []float64 `json:"values"`
	CumulativePct []float64 `json:"cumulative_pct"`
}

type CompletenessGauge struct {
	Value float64 `json:"value"`
	Label string  `json:"label"`
}

type StageCoverageHeatmap struct {
	Stages  []string `json:"stages"`
	Covered []bool   `json:"covered"`
}

type DataQualityScores struct {
	FileIDs []string `json:"file_ids"`
	Scores  []int    `json:"scores"`
	Labels  []string `json:"labels"`
}

var qualityScoreMap = map[string]int{
	"Excellent": 4,
	"Good":      3,
	"Fair":      2,
	"Poor":      1,
	"Unknown":   0,
}

// stageCodes returns EN 15804 codes in declaration order.
func stageCodes() []string {
	codes := make([]string, 0, len(lifeCycleStages))
	for code := range lifeCycleStages {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// BuildVizData assembles chart-ready data from the synthesis result.
func BuildVizData(synthesis *model.SynthesisResult, outcomes []model.ValidationOutcome) VizData {
	structured := synthesis.Structured

	bar := ImpactBarChart{Labels: []string{}, Values: []float64{}, Units: []string{}}
	for _, ir := range structured.ImpactResults {
		label := ir.Category
		if label == "" {
			label = "Unknown"
		}
		bar.Labels = append(bar.Labels, label)
		bar.Values = append(bar.Values, ir.Value)
		bar.Units = append(bar.Units, ir.Unit)
	}

	hotspots := append([]model.Hotspot(nil), structured.Hotspots...)
	sort.SliceStable(hotspots, func(i, j int) bool {
		return hotspotPct(hotspots[i]) > hotspotPct(hotspots[j])
	})
	pareto := HotspotPareto{Labels: []string{}, Values: []float64{}, CumulativePct: []float64{}}
	running := 0.0
	for _, h := range hotspots {
		label := h.Process
		if label == "" {
			label = "Unknown"
		}
		pct := hotspotPct(h)
		running += pct
		pareto.Labels = append(pareto.Labels, label)
		pareto.Values = append(pareto.Values, pct)
		pareto.CumulativePct = append(pareto.CumulativePct, math.Round(running*10)/10)
	}

	combined := strings.ToUpper(synthesis.CrossDocSynthesis + "\n" + synthesis.InsightsMarkdown)
	stages := stageCodes()
	covered := make([]bool, len(stages))
	for i, stage := range stages {
		covered[i] = strings.Contains(combined, stage)
	}

	quality := DataQualityScores{FileIDs: []string{}, Scores: []int{}, Labels: []string{}}
	for _, o := range outcomes {
		quality.FileIDs = append(quality.FileIDs, o.FileID)
		quality.Scores = append(quality.Scores, qualityScoreMap[o.DataQualityRating])
		quality.Labels = append(quality.Labels, o.FileName)
	}

	return VizData{
		ImpactBarChart: bar,
		HotspotPareto:  pareto,
		CompletenessGauge: CompletenessGauge{
			Value: structured.Completeness,
			Label: fmt.Sprintf("%d%% Complete", int(structured.Completeness*100)),
		},
		StageCoverageHeatmap: StageCoverageHeatmap{Stages: stages, Covered: covered},
		DataQualityScores:    quality,
	}
}

func hotspotPct(h model.Hotspot) float64 {
	if h.ContributionPct == nil {
		return 0
	}
	return *h.ContributionPct
}

// FileAudit is one file's entry in the audit trail.
type FileAudit struct {
	FileID           string   `json:"file_id"`
	OriginalName     string   `json:"original_name"`
	AgentAssigned    string   `json:"agent_assigned"`
	RoutingReason    string   `json:"routing_reason"`
	ProcessingTimeS  float64  `json:"processing_time_s"`
	Confidence       float64  `json:"confidence"`
	ValidationStatus string   `json:"validation_status"`
	Errors           []string `json:"errors,omitempty"`
}

// AuditTrail records what ran, with what outcome, for compliance review.
type AuditTrail struct {
	JobID             string              `json:"job_id"`
	StartTime         time.Time           `json:"start_time"`
	EndTime           time.Time           `json:"end_time"`
	TotalDurationSecs float64             `json:"total_duration_seconds"`
	Files             []FileAudit         `json:"files"`
	ModelsUsed        []string            `json:"models_used"`
	ValidationSummary ValidationCounts    `json:"validation_summary"`
	Errors            []model.ErrorRecord `json:"errors"`
}

// BuildAuditTrail assembles the audit deliverable from pipeline state.
func BuildAuditTrail(jobID string, start time.Time, tasks []model.FileTask, outputs []model.ParsedOutput, outcomes []model.ValidationOutcome, errs []model.ErrorRecord, modelsUsed []string) AuditTrail {
	end := time.Now().UTC()

	outcomeByID := make(map[string]model.ValidationOutcome, len(outcomes))
	for _, o := range outcomes {
		outcomeByID[o.FileID] = o
	}
	outputByID := make(map[string]model.ParsedOutput, len(outputs))
	for _, o := range outputs {
		outputByID[o.FileID] = o
	}

	files := make([]FileAudit, 0, len(tasks))
	for _, task := range tasks {
		out := outputByID[task.FileID]
		audit := FileAudit{
			FileID:          task.FileID,
			OriginalName:    task.Name,
			AgentAssigned:   string(task.Agent),
			RoutingReason:   task.RoutingReason,
			ProcessingTimeS: float64(out.DurationMS) / 1000,
			Confidence:      out.Confidence,
			Errors:          out.Errors,
		}
		if outcome, ok := outcomeByID[task.FileID]; ok {
			audit.ValidationStatus = string(outcome.Status)
		} else {
			audit.ValidationStatus = "unknown"
		}
		files = append(files, audit)
	}

	if errs == nil {
		errs = []model.ErrorRecord{}
	}
	return AuditTrail{
		JobID:             jobID,
		StartTime:         start,
		EndTime:           end,
		TotalDurationSecs: math.Round(end.Sub(start).Seconds()*100) / 100,
		Files:             files,
		ModelsUsed:        modelsUsed,
		ValidationSummary: countOutcomes(outcomes),
		Errors:            errs,
	}
}

// BuildMarkdownReport renders the human-readable report: the synthesis
// narrative, insights, a validation table, and the per-document appendix.
func BuildMarkdownReport(jobID string, synthesis *model.SynthesisResult, outcomes []model.ValidationOutcome) string {
	var b strings.Builder

	b.WriteString("# LCA Analysis Report\n\n")
	fmt.Fprintf(&b, "**Job:** %s  \n**Generated:** %s\n\n", jobID, time.Now().UTC().Format(time.RFC3339))

	if synthesis.CrossDocSynthesis != "" {
		b.WriteString(synthesis.CrossDocSynthesis)
		b.WriteString("\n\n")
	}
	if synthesis.InsightsMarkdown != "" {
		b.WriteString(synthesis.InsightsMarkdown)
		b.WriteString("\n\n")
	}

	if len(outcomes) > 0 {
		b.WriteString("## Validation Summary\n\n")
		b.WriteString("| File | Status | Data Quality | Warnings |\n")
		b.WriteString("| --- | --- | --- | --- |\n")
		for _, o := range outcomes {
			fmt.Fprintf(&b, "| %s | %s | %s | %d |\n",
				o.FileName, o.Status, o.DataQualityRating,
				len(o.RuleWarnings)+len(o.TaxonomyIssues))
		}
		b.WriteString("\n")
	}

	if len(synthesis.DocSummaries) > 0 {
		b.WriteString("## Appendix: Document Summaries\n\n")
		for _, doc := range synthesis.DocSummaries {
			fmt.Fprintf(&b, "### %s\n\n**Agent:** %s | **Confidence:** %.2f\n\n%s\n\n",
				doc.FileName, doc.Agent, doc.Confidence, doc.Summary)
		}
	}

	return b.String()
}

// Reporter assembles and persists all output-stage deliverables.
type Reporter struct {
	store      store.Store
	modelsUsed []string
}

// NewReporter builds a Reporter persisting to the given store.
func NewReporter(st store.Store, modelsUsed []string) *Reporter {
	return &Reporter{store: st, modelsUsed: modelsUsed}
}

// Publish writes all deliverables as job artifacts and returns their keys.
// Persistence failures are logged and leave that key out of the result.
func (r *Reporter) Publish(ctx context.Context, state *model.JobState, start time.Time, log *joblog.Logger) map[string]string {
	keys := make(map[string]string)

	report := BuildMarkdownReport(state.JobID, state.Synthesis, state.Outcomes)
	r.put(ctx, state.JobID, ArtifactReport, "text/markdown", []byte(report), keys, "report")

	analysis := BuildAnalysisJSON(state.JobID, state.Synthesis, state.Outcomes, len(state.FileTasks))
	r.putJSON(ctx, state.JobID, ArtifactAnalysis, analysis, keys, "analysis_json")

	viz := BuildVizData(state.Synthesis, state.Outcomes)
	r.putJSON(ctx, state.JobID, ArtifactVizData, viz, keys, "viz_data")

	audit := BuildAuditTrail(state.JobID, start, state.FileTasks, state.ParsedOutputs, state.Outcomes, state.Errors, r.modelsUsed)
	r.putJSON(ctx, state.JobID, ArtifactAudit, audit, keys, "audit")

	log.Info("output", fmt.Sprintf("Published %d report artifacts", len(keys)))
	return keys
}

func (r *Reporter) put(ctx context.Context, jobID, key, contentType string, data []byte, keys map[string]string, name string) {
	if r.store == nil {
		keys[name] = key
		return
	}
	if err := r.store.PutArtifact(ctx, jobID, key, contentType, data); err != nil {
		zap.L().Error("artifact store failed", zap.String("key", key), zap.Error(err))
		return
	}
	keys[name] = key
}

func (r *Reporter) putJSON(ctx context.Context, jobID, key string, v any, keys map[string]string, name string) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		zap.L().Error("artifact marshal failed", zap.String("key", key), zap.Error(err))
		return
	}
	r.put(ctx, jobID, key, "application/json", data, keys, name)
}
