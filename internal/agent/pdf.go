package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/greenline-analytics/lca-cli/internal/model"
)

// pageConfidence values per extraction mode. Pages with almost no recovered
// text score lowConfidence regardless of mode.
const (
	textPageConfidence    = 0.90
	scannedPageConfidence = 0.75
	lowPageConfidence     = 0.30
	minPageChars          = 50
)

// PDFAgent handles the three PDF extraction modes. Text-layer PDFs read
// directly; scanned PDFs go through OCR; hybrid PDFs get an additional LLM
// pass to restructure tables and figures into markdown.
type PDFAgent struct {
	deps Deps
	kind model.AgentKind
}

func (a *PDFAgent) Extract(ctx context.Context, task model.FileTask, data []byte) (*model.ParsedOutput, error) {
	text, err := a.deps.OCR.ExtractText(ctx, data)
	if err != nil {
		return nil, eris.Wrapf(err, "pdf: extract %s", task.Name)
	}
	if strings.TrimSpace(text) == "" {
		return nil, eris.Errorf("pdf: no text recovered from %s", task.Name)
	}

	out := newOutput(task, a.kind)
	timed(out, func() {
		pages := splitPages(text)

		baseConf := textPageConfidence
		if a.kind == model.AgentPDFScanned {
			baseConf = scannedPageConfidence
		}

		var parts []string
		var confSum float64
		for i, page := range pages {
			pageNum := i + 1
			conf := baseConf
			if len(strings.TrimSpace(page)) < minPageChars {
				conf = lowPageConfidence
				out.LowConfidencePages = append(out.LowConfidencePages, pageNum)
				out.Warnings = append(out.Warnings, fmt.Sprintf("Page %d: low confidence (%.2f)", pageNum, conf))
			}
			confSum += conf
			parts = append(parts, page)
		}

		md := strings.Join(parts, "\n\n---\n\n")

		if a.kind == model.AgentPDFHybrid {
			if restructured, rerr := a.restructure(ctx, md); rerr == nil {
				md = restructured
			} else {
				zap.L().Warn("pdf: hybrid restructuring failed, keeping raw text",
					zap.String("file", task.Name), zap.Error(rerr))
				out.Warnings = append(out.Warnings, "Table restructuring failed, raw text retained")
				confSum = float64(len(pages)) * lowPageConfidence * 2
			}
		}

		avg := confSum / float64(max(len(pages), 1))
		if avg > 1.0 {
			avg = 1.0
		}

		out.Markdown = md
		out.Structured = map[string]any{
			"page_count": len(pages),
			"mode":       string(a.kind),
		}
		out.LCARelevant = true // relevance is judged downstream for prose documents
		out.Confidence = avg
		out.WordCount = wordCount(md)
	})

	return out, nil
}

// restructure asks the model to rebuild tables and figure captions lost in
// plain text extraction.
func (a *PDFAgent) restructure(ctx context.Context, text string) (string, error) {
	const limit = 30000
	if len(text) > limit {
		text = text[:limit]
	}

	system := "You restructure extracted PDF text into clean Markdown. Rebuild tabular data as Markdown tables and keep all numeric values exactly as given. Return only the Markdown document."
	prompt := "Restructure this extracted PDF text into well-formed Markdown:\n\n" + text

	result, usage, err := a.deps.callModel(ctx, a.deps.HaikuModel, system, prompt, nil)
	if err != nil {
		return "", err
	}
	usage.LogCost(a.deps.HaikuModel, "pdf_restructure")

	if strings.TrimSpace(result) == "" {
		return "", eris.New("pdf: empty restructuring response")
	}
	return result, nil
}

// splitPages splits pdftotext output on form feeds; OCR output without form
// feeds is treated as a single page.
func splitPages(text string) []string {
	pages := strings.Split(text, "\f")
	var out []string
	for _, p := range pages {
		if strings.TrimSpace(p) != "" {
			out = append(out, strings.TrimSpace(p))
		}
	}
	if len(out) == 0 {
		out = []string{strings.TrimSpace(text)}
	}
	return out
}
