// Package agent implements the per-file extraction agents. Each agent turns
// one file's raw bytes into a ParsedOutput; agents degrade through internal
// fallback ladders rather than failing outright wherever possible.
package agent

import (
	"context"
	"strings"
	"time"

	"github.com/greenline-analytics/lca-cli/internal/model"
	"github.com/greenline-analytics/lca-cli/internal/ocr"
	"github.com/greenline-analytics/lca-cli/internal/resilience"
	"github.com/greenline-analytics/lca-cli/pkg/claude"
)

// Agent extracts markdown and structured content from one file.
type Agent interface {
	Extract(ctx context.Context, task model.FileTask, data []byte) (*model.ParsedOutput, error)
}

// Deps carries the shared dependencies agents draw on.
type Deps struct {
	Claude      claude.Client
	OCR         ocr.Extractor
	HaikuModel  string
	SonnetModel string
	MaxTokens   int64
	Retry       resilience.RetryConfig
}

// NewRegistry builds the agent for every member of the closed agent set.
// Routing can therefore never produce a kind with no implementation.
func NewRegistry(deps Deps) map[model.AgentKind]Agent {
	return map[model.AgentKind]Agent{
		model.AgentSpreadsheet: &SpreadsheetAgent{deps: deps},
		model.AgentPDFText:     &PDFAgent{deps: deps, kind: model.AgentPDFText},
		model.AgentPDFHybrid:   &PDFAgent{deps: deps, kind: model.AgentPDFHybrid},
		model.AgentPDFScanned:  &PDFAgent{deps: deps, kind: model.AgentPDFScanned},
		model.AgentVision:      &VisionAgent{deps: deps},
		model.AgentMindmap:     &MindmapAgent{deps: deps},
		model.AgentGeneric:     &GenericAgent{deps: deps},
	}
}

// lcaKeywords marks content as relevant to life cycle assessment work.
var lcaKeywords = []string{
	"Impact Category", "CO2", "GWP", "Functional Unit", "Process",
	"Ecoinvent", "CO2 eq", "kg CO2", "MJ", "LCA", "emission",
	"inventory", "impact", "characterisation", "normalisation",
	"global warming", "acidification", "eutrophication", "ozone",
	"ecotoxicity", "human toxicity", "land use", "water",
}

// IsLCARelevant reports whether the text contains any LCA keyword,
// case-insensitively.
func IsLCARelevant(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range lcaKeywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

// newOutput seeds a ParsedOutput with the task's identity fields.
func newOutput(task model.FileTask, kind model.AgentKind) *model.ParsedOutput {
	return &model.ParsedOutput{
		FileID:   task.FileID,
		JobID:    task.JobID,
		FileName: task.Name,
		FileType: task.Type,
		Agent:    kind,
		Status:   model.FileStatusCompleted,
	}
}

// callModel sends a single prompt through the retry layer and returns the
// concatenated text response.
func (d Deps) callModel(ctx context.Context, mdl, system, prompt string, image *claude.ImageAttachment) (string, claude.TokenUsage, error) {
	req := claude.MessageRequest{
		Model:     mdl,
		MaxTokens: d.MaxTokens,
		Messages: []claude.Message{
			{Role: "user", Content: prompt, Image: image},
		},
	}
	if system != "" {
		req.System = claude.BuildCachedSystemBlocks(system)
	}

	resp, err := resilience.DoVal(ctx, d.Retry, func(ctx context.Context) (*claude.MessageResponse, error) {
		return d.Claude.CreateMessage(ctx, req)
	})
	if err != nil {
		return "", claude.TokenUsage{}, err
	}
	return resp.Text(), resp.Usage, nil
}

// timed runs fn and stamps the output's duration.
func timed(out *model.ParsedOutput, fn func()) {
	start := time.Now()
	fn()
	out.DurationMS = time.Since(start).Milliseconds()
}
