package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/greenline-analytics/lca-cli/internal/joblog"
	"github.com/greenline-analytics/lca-cli/internal/model"
	"github.com/greenline-analytics/lca-cli/pkg/claude"
)

// directRoutes covers file types whose agent assignment needs no inspection.
var directRoutes = map[model.FileType]model.AgentKind{
	model.FileTypeExcel:           model.AgentSpreadsheet,
	model.FileTypeCSV:             model.AgentSpreadsheet,
	model.FileTypeImage:           model.AgentVision,
	model.FileTypeMindmapXMind:    model.AgentMindmap,
	model.FileTypeMindmapFreeMind: model.AgentMindmap,
	model.FileTypeDocx:            model.AgentGeneric,
	model.FileTypeText:            model.AgentGeneric,
	model.FileTypePptx:            model.AgentGeneric,
}

// Router assigns exactly one extraction agent to every file task. Routing
// never fails a file: when nothing else applies the generic agent is chosen.
type Router struct {
	client claude.Client
	model  string
}

// NewRouter builds a Router using the given model for unknown-type fallback.
func NewRouter(client claude.Client, routingModel string) *Router {
	return &Router{client: client, model: routingModel}
}

// Route assigns an agent and reason to each task in place.
func (r *Router) Route(ctx context.Context, tasks []model.FileTask, log *joblog.Logger) {
	for i := range tasks {
		agent, reason := r.routeOne(ctx, &tasks[i])
		tasks[i].Agent = agent
		tasks[i].RoutingReason = reason
		log.FileInfo("routing", tasks[i].FileID,
			fmt.Sprintf("%s -> %s (%s)", tasks[i].Name, agent, reason))
	}
}

func (r *Router) routeOne(ctx context.Context, task *model.FileTask) (model.AgentKind, string) {
	if task.Type == model.FileTypePDF {
		return routePDF(task.PDF)
	}
	if agent, ok := directRoutes[task.Type]; ok {
		return agent, fmt.Sprintf("Direct mapping for file type '%s'", task.Type)
	}
	return r.routeUnknown(ctx, task)
}

// routePDF picks a PDF agent from structural hints gathered at ingestion.
func routePDF(hints *model.PDFHints) (model.AgentKind, string) {
	if hints != nil {
		if hints.IsScanned {
			return model.AgentPDFScanned, "PDF appears to be scanned (no text layer)"
		}
		if hints.HasEmbeddedImages || hints.HasTables {
			return model.AgentPDFHybrid, "PDF contains tables or embedded images"
		}
		if hints.HasTextLayer {
			return model.AgentPDFText, "PDF has a clean text layer"
		}
	}
	return model.AgentPDFHybrid, "PDF structure unclear - defaulting to hybrid agent"
}

type routingDecision struct {
	Agent  string `json:"agent"`
	Reason string `json:"reason"`
}

const routingPrompt = `You are a routing classifier for a document analysis pipeline.
Pick the best extraction agent for the file described below.

Available agents:
- spreadsheet_agent: tabular data (Excel, CSV)
- pdf_text_agent: PDFs with a clean text layer
- pdf_hybrid_agent: PDFs mixing text, tables, and images
- pdf_scanned_agent: scanned PDFs requiring OCR
- vision_agent: standalone images, charts, diagrams
- mindmap_agent: mind map files
- generic_agent: any other document

File name: %s
Detected type: %s

Respond with JSON only: {"agent": "<agent name>", "reason": "<one sentence>"}`

// routeUnknown asks the model to classify a file the direct rules missed.
// A failed or invalid response falls back to the generic agent.
func (r *Router) routeUnknown(ctx context.Context, task *model.FileTask) (model.AgentKind, string) {
	fallbackReason := fmt.Sprintf("Unknown file type '%s' - defaulting to generic agent", task.Type)

	resp, err := r.client.CreateMessage(ctx, claude.MessageRequest{
		Model:     r.model,
		MaxTokens: 256,
		Messages: []claude.Message{{
			Role:    "user",
			Content: fmt.Sprintf(routingPrompt, task.Name, task.Type),
		}},
	})
	if err != nil {
		zap.L().Warn("llm routing failed", zap.String("file", task.Name), zap.Error(err))
		return model.AgentGeneric, fallbackReason
	}

	var decision routingDecision
	if err := claude.ParseJSON(resp.Text(), &decision); err != nil {
		zap.L().Warn("llm routing response unparseable", zap.String("file", task.Name), zap.Error(err))
		return model.AgentGeneric, fallbackReason
	}

	agent := model.AgentKind(decision.Agent)
	if !agent.Valid() {
		return model.AgentGeneric, fallbackReason
	}
	reason := decision.Reason
	if reason == "" {
		reason = "LLM routing decision"
	}
	return agent, reason
}
