package agent

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenline-analytics/lca-cli/internal/model"
)

func csvTask() model.FileTask {
	return model.FileTask{
		FileID: "file-1",
		JobID:  "job-1",
		Name:   "impacts.csv",
		Type:   model.FileTypeCSV,
		Agent:  model.AgentSpreadsheet,
	}
}

var lcaCSV = []byte("Impact Category,Value,Unit\nGWP,2.1,kg CO2 eq\nAcidification,0.004,mol H+ eq\n")

func TestSpreadsheetLLMAnalysis(t *testing.T) {
	client := &mockClient{responses: []string{
		`{"sheets": [{"name": "Sheet1", "markdown": "| GWP |\n| 2.1 |", "lca_relevant": true, "columns": ["Impact Category", "Value", "Unit"]}], "lca_data_found": true, "errors": []}`,
	}}
	a := &SpreadsheetAgent{deps: testDeps(client, nil)}

	out, err := a.Extract(context.Background(), csvTask(), lcaCSV)
	require.NoError(t, err)

	assert.Equal(t, 0.95, out.Confidence)
	assert.True(t, out.LCARelevant)
	assert.Contains(t, out.Markdown, "Sheet: Sheet1")
	assert.Contains(t, out.Markdown, "*(LCA relevant)*")
	assert.Equal(t, model.FileStatusCompleted, out.Status)
	assert.Len(t, client.requests, 1)
}

func TestSpreadsheetSimplePromptFallback(t *testing.T) {
	client := &mockClient{responses: []string{
		"this is not json at all",
		`{"sheets": [{"name": "Sheet1", "markdown": "| GWP |", "lca_relevant": true}], "lca_data_found": true, "errors": []}`,
	}}
	a := &SpreadsheetAgent{deps: testDeps(client, nil)}

	out, err := a.Extract(context.Background(), csvTask(), lcaCSV)
	require.NoError(t, err)

	assert.Equal(t, 0.80, out.Confidence)
	assert.True(t, out.LCARelevant)
	assert.Len(t, client.requests, 2)
	assert.Contains(t, out.Warnings[0], "simpler prompt")
}

func TestSpreadsheetLocalFallback(t *testing.T) {
	client := &mockClient{errs: []error{
		eris.New("api down"),
		eris.New("api still down"),
	}}
	a := &SpreadsheetAgent{deps: testDeps(client, nil)}

	out, err := a.Extract(context.Background(), csvTask(), lcaCSV)
	require.NoError(t, err)

	assert.Equal(t, 0.70, out.Confidence)
	assert.True(t, out.LCARelevant, "GWP and kg CO2 eq headers mark the sheet as relevant")
	assert.GreaterOrEqual(t, out.Confidence, 0.7)
	assert.Contains(t, out.Markdown, "| Impact Category | Value | Unit |")
	assert.Contains(t, out.Markdown, "GWP")
	assert.Positive(t, out.WordCount)
}

func TestSpreadsheetLocalFallbackIrrelevant(t *testing.T) {
	client := &mockClient{errs: []error{eris.New("down"), eris.New("down")}}
	a := &SpreadsheetAgent{deps: testDeps(client, nil)}

	task := csvTask()
	out, err := a.Extract(context.Background(), task, []byte("Name,Age\nAlice,30\nBob,25\n"))
	require.NoError(t, err)

	assert.False(t, out.LCARelevant)
	assert.Equal(t, 0.70, out.Confidence)
}

func TestSpreadsheetEmptyFile(t *testing.T) {
	a := &SpreadsheetAgent{deps: testDeps(&mockClient{}, nil)}

	_, err := a.Extract(context.Background(), csvTask(), []byte(""))
	assert.Error(t, err)
}

func TestSpreadsheetInvalidExcel(t *testing.T) {
	a := &SpreadsheetAgent{deps: testDeps(&mockClient{}, nil)}

	task := csvTask()
	task.Name = "broken.xlsx"
	task.Type = model.FileTypeExcel

	_, err := a.Extract(context.Background(), task, []byte("definitely not a zip"))
	assert.Error(t, err)
}

func TestIsLCARelevant(t *testing.T) {
	assert.True(t, IsLCARelevant("Global Warming Potential in kg CO2 eq"))
	assert.True(t, IsLCARelevant("functional unit: 1 kg of product"))
	assert.True(t, IsLCARelevant("EUTROPHICATION"))
	assert.False(t, IsLCARelevant("quarterly sales report"))
	assert.False(t, IsLCARelevant(""))
}

func TestRegistryCoversAllKinds(t *testing.T) {
	reg := NewRegistry(testDeps(&mockClient{}, &mockOCR{}))

	for _, kind := range []model.AgentKind{
		model.AgentSpreadsheet, model.AgentPDFText, model.AgentPDFHybrid,
		model.AgentPDFScanned, model.AgentVision, model.AgentMindmap, model.AgentGeneric,
	} {
		assert.Contains(t, reg, kind)
	}
	assert.Len(t, reg, 7)
}
