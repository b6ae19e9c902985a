package agent

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/greenline-analytics/lca-cli/internal/model"
	"github.com/greenline-analytics/lca-cli/pkg/claude"
)

// maxSampleRows caps the number of rows sent to the model per sheet.
const maxSampleRows = 40

// SpreadsheetAgent parses Excel and CSV files. It attempts an LLM-guided
// analysis first and degrades to a plain local conversion, lowering the
// reported confidence at each rung.
type SpreadsheetAgent struct {
	deps Deps
}

type sheetData struct {
	Name string
	Rows [][]string
}

type sheetAnalysis struct {
	Sheets []struct {
		Name        string   `json:"name"`
		Markdown    string   `json:"markdown"`
		LCARelevant bool     `json:"lca_relevant"`
		Columns     []string `json:"columns"`
	} `json:"sheets"`
	LCADataFound bool     `json:"lca_data_found"`
	Errors       []string `json:"errors"`
}

func (a *SpreadsheetAgent) Extract(ctx context.Context, task model.FileTask, data []byte) (*model.ParsedOutput, error) {
	sheets, err := parseWorkbook(task, data)
	if err != nil {
		return nil, err
	}
	if len(sheets) == 0 {
		return nil, eris.Errorf("spreadsheet: no readable sheets in %s", task.Name)
	}

	out := newOutput(task, model.AgentSpreadsheet)
	timed(out, func() {
		// Attempt 1: full LLM-guided analysis.
		if analysis, uerr := a.llmAnalysis(ctx, sheets, a.fullPrompt(sheets)); uerr == nil {
			a.apply(out, analysis, 0.95)
			return
		} else {
			zap.L().Warn("spreadsheet: llm analysis failed, trying simpler prompt",
				zap.String("file", task.Name), zap.Error(uerr))
			out.Warnings = append(out.Warnings, "LLM analysis failed, used simpler prompt")
		}

		// Attempt 2: simpler conversion prompt.
		if analysis, uerr := a.llmAnalysis(ctx, sheets, a.simplePrompt(sheets)); uerr == nil {
			a.apply(out, analysis, 0.80)
			return
		} else {
			zap.L().Warn("spreadsheet: simple llm analysis failed, falling back to local parse",
				zap.String("file", task.Name), zap.Error(uerr))
			out.Warnings = append(out.Warnings, "Falling back to local parsing")
		}

		// Attempt 3: local conversion with keyword relevance.
		a.localFallback(out, sheets)
	})

	return out, nil
}

func (a *SpreadsheetAgent) llmAnalysis(ctx context.Context, sheets []sheetData, prompt string) (*sheetAnalysis, error) {
	system := "You are a spreadsheet analyst for life cycle assessment data. Respond with a single valid JSON object only."

	text, usage, err := a.deps.callModel(ctx, a.deps.HaikuModel, system, prompt, nil)
	if err != nil {
		return nil, err
	}
	usage.LogCost(a.deps.HaikuModel, "spreadsheet_analysis")

	var analysis sheetAnalysis
	if err := claude.ParseJSON(text, &analysis); err != nil {
		return nil, err
	}
	if len(analysis.Sheets) == 0 {
		return nil, eris.New("spreadsheet: analysis returned no sheets")
	}
	return &analysis, nil
}

func (a *SpreadsheetAgent) fullPrompt(sheets []sheetData) string {
	var sb strings.Builder
	sb.WriteString("Analyze this spreadsheet data for life cycle assessment content.\n")
	sb.WriteString("For each sheet: convert the rows to a Markdown table, check the columns for LCA keywords (")
	sb.WriteString(strings.Join(lcaKeywords, ", "))
	sb.WriteString("), and when LCA columns are present include summary statistics under the table.\n")
	sb.WriteString(`Respond with a JSON object: {"sheets": [{"name", "markdown", "lca_relevant", "columns"}], "lca_data_found": bool, "errors": []}` + "\n\n")
	writeSheetSample(&sb, sheets)
	return sb.String()
}

func (a *SpreadsheetAgent) simplePrompt(sheets []sheetData) string {
	var sb strings.Builder
	sb.WriteString("Convert each sheet below into a Markdown table. Mark a sheet lca_relevant when its columns mention impacts, emissions, energy, or life cycle data.\n")
	sb.WriteString(`Respond with a JSON object: {"sheets": [{"name", "markdown", "lca_relevant", "columns"}], "lca_data_found": bool, "errors": []}` + "\n\n")
	writeSheetSample(&sb, sheets)
	return sb.String()
}

func writeSheetSample(sb *strings.Builder, sheets []sheetData) {
	for _, sheet := range sheets {
		fmt.Fprintf(sb, "### Sheet: %s (%d rows)\n", sheet.Name, len(sheet.Rows))
		limit := len(sheet.Rows)
		if limit > maxSampleRows {
			limit = maxSampleRows
		}
		for _, row := range sheet.Rows[:limit] {
			sb.WriteString(strings.Join(row, "\t"))
			sb.WriteByte('\n')
		}
		if limit < len(sheet.Rows) {
			fmt.Fprintf(sb, "... (%d more rows)\n", len(sheet.Rows)-limit)
		}
		sb.WriteByte('\n')
	}
}

func (a *SpreadsheetAgent) apply(out *model.ParsedOutput, analysis *sheetAnalysis, confidence float64) {
	var parts []string
	for _, sheet := range analysis.Sheets {
		label := ""
		if sheet.LCARelevant {
			label = " *(LCA relevant)*"
		}
		parts = append(parts, fmt.Sprintf("## Sheet: %s%s\n\n%s", sheet.Name, label, sheet.Markdown))
	}
	md := strings.Join(parts, "\n\n")
	if md == "" {
		md = "# No data extracted"
	}

	structured, _ := json.Marshal(analysis)
	var structuredMap map[string]any
	_ = json.Unmarshal(structured, &structuredMap)

	out.Markdown = md
	out.Structured = structuredMap
	out.LCARelevant = analysis.LCADataFound
	out.Confidence = confidence
	out.WordCount = wordCount(md)
	out.Errors = append(out.Errors, analysis.Errors...)
}

func (a *SpreadsheetAgent) localFallback(out *model.ParsedOutput, sheets []sheetData) {
	var parts []string
	var sheetInfos []any
	lcaFound := false

	for _, sheet := range sheets {
		if len(sheet.Rows) == 0 {
			continue
		}
		md := rowsToMarkdown(sheet.Name, sheet.Rows)
		parts = append(parts, md)

		var all strings.Builder
		for _, row := range sheet.Rows {
			all.WriteString(strings.Join(row, " "))
			all.WriteByte(' ')
		}
		relevant := IsLCARelevant(all.String())
		if relevant {
			lcaFound = true
		}

		sheetInfos = append(sheetInfos, map[string]any{
			"name":         sheet.Name,
			"markdown":     md,
			"lca_relevant": relevant,
			"columns":      sheet.Rows[0],
		})
	}

	md := strings.Join(parts, "\n\n")
	if md == "" {
		md = "# No data extracted"
	}

	out.Markdown = md
	out.Structured = map[string]any{
		"sheets":         sheetInfos,
		"lca_data_found": lcaFound,
	}
	out.LCARelevant = lcaFound
	out.Confidence = 0.70
	out.WordCount = wordCount(md)
}

func rowsToMarkdown(name string, rows [][]string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Sheet: %s\n\n", name)

	header := rows[0]
	sb.WriteString("| " + strings.Join(header, " | ") + " |\n")
	sb.WriteString("|" + strings.Repeat(" --- |", len(header)) + "\n")
	for _, row := range rows[1:] {
		cells := make([]string, len(header))
		copy(cells, row)
		sb.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func parseWorkbook(task model.FileTask, data []byte) ([]sheetData, error) {
	switch task.Type {
	case model.FileTypeCSV:
		reader := csv.NewReader(bytes.NewReader(data))
		reader.FieldsPerRecord = -1
		var rows [][]string
		for {
			row, err := reader.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, eris.Wrapf(err, "spreadsheet: parse csv %s", task.Name)
			}
			rows = append(rows, row)
		}
		if len(rows) == 0 {
			return nil, nil
		}
		return []sheetData{{Name: "Sheet1", Rows: rows}}, nil

	default:
		f, err := xlsx.OpenBinary(data)
		if err != nil {
			return nil, eris.Wrapf(err, "spreadsheet: open workbook %s", task.Name)
		}
		var sheets []sheetData
		for _, sheet := range f.Sheets {
			sd := sheetData{Name: sheet.Name}
			for _, row := range sheet.Rows {
				cells := make([]string, len(row.Cells))
				for j, cell := range row.Cells {
					cells[j] = cell.String()
				}
				sd.Rows = append(sd.Rows, cells)
			}
			if len(sd.Rows) > 0 {
				sheets = append(sheets, sd)
			}
		}
		return sheets, nil
	}
}
