package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenline-analytics/lca-cli/internal/model"
)

func findingFor(t *testing.T, findings []model.RuleFinding, rule string) model.RuleFinding {
	t.Helper()
	for _, f := range findings {
		if f.Rule == rule {
			return f
		}
	}
	t.Fatalf("no finding for rule %s", rule)
	return model.RuleFinding{}
}

func TestCheckUnitsRecognized(t *testing.T) {
	findings := checkUnits("GWP is 2.1 kg CO2 eq per functional unit, energy use 14 MJ.")
	require.Len(t, findings, 1)
	assert.True(t, findings[0].Passed)
	assert.Equal(t, model.SeverityInfo, findings[0].Severity)
	assert.Contains(t, findings[0].Message, "recognized")
}

func TestCheckUnitsNoneDetected(t *testing.T) {
	findings := checkUnits("A narrative document without quantitative data.")
	require.Len(t, findings, 1)
	assert.True(t, findings[0].Passed)
	assert.Equal(t, "No explicit LCA units detected in content.", findings[0].Message)
}

func TestCheckPlausibilityOutOfRange(t *testing.T) {
	findings := checkPlausibility("The steel emission factor was measured at 9000 kg CO2 eq per tonne.")
	require.NotEmpty(t, findings)
	f := findings[0]
	assert.False(t, f.Passed)
	assert.Equal(t, model.SeverityWarning, f.Severity)
	assert.Contains(t, f.Message, "steel")
	assert.Contains(t, f.Message, "outside plausible range")
}

func TestCheckPlausibilityInRange(t *testing.T) {
	findings := checkPlausibility("Steel: 2.1 kg CO2 eq per kg. Concrete: 0.12 kg CO2 eq per kg.")
	require.Len(t, findings, 1)
	assert.True(t, findings[0].Passed)
	assert.Equal(t, "No plausibility issues detected.", findings[0].Message)
}

func TestCheckPlausibilityDecadeTolerance(t *testing.T) {
	// 10x the high bound is still within tolerance; just above is not.
	ok := checkPlausibility("steel factor 35")
	assert.True(t, ok[0].Passed)

	flagged := checkPlausibility("steel factor 35.1")
	assert.False(t, flagged[0].Passed)
}

func TestCheckFunctionalUnit(t *testing.T) {
	found := checkFunctionalUnit("The functional unit is 1 kg of hot rolled coil.")
	assert.True(t, found[0].Passed)

	foundDeclared := checkFunctionalUnit("Declared unit: 1 m2 of facade panel")
	assert.True(t, foundDeclared[0].Passed)

	missing := checkFunctionalUnit("This document describes a factory.")
	assert.False(t, missing[0].Passed)
	assert.Equal(t, model.SeverityWarning, missing[0].Severity)
}

func TestCheckSystemBoundary(t *testing.T) {
	explicit := checkSystemBoundary("The system boundary is cradle-to-gate.")
	assert.True(t, explicit[0].Passed)

	viaStages := checkSystemBoundary("Results reported for A1, A2, A3 and C4 separately.")
	assert.True(t, viaStages[0].Passed)
	assert.Contains(t, viaStages[0].Message, "A1")

	twoStagesOnly := checkSystemBoundary("Only A1 and A2 are covered.")
	assert.False(t, twoStagesOnly[0].Passed)
}

func TestCheckRequiredSections(t *testing.T) {
	complete := checkRequiredSections(`
# Goal and Scope
# Life Cycle Inventory
# Impact Assessment
# Interpretation`)
	assert.True(t, complete[0].Passed)
	assert.Equal(t, "All required LCA sections detected.", complete[0].Message)

	partial := checkRequiredSections("# Goal and Scope\nSome text about conclusions.")
	assert.False(t, partial[0].Passed)
	assert.Contains(t, partial[0].Message, "inventory_analysis")
	assert.Contains(t, partial[0].Message, "impact_assessment")
	assert.NotContains(t, partial[0].Message, "interpretation")
}

func TestCheckImpactCategories(t *testing.T) {
	known := checkImpactCategories("Results cover climate change and acidification.")
	assert.True(t, known[0].Passed)
	assert.Contains(t, known[0].Message, "Found 2 impact categories")

	none := checkImpactCategories("No categories here.")
	assert.True(t, none[0].Passed)
	assert.Equal(t, "No explicit impact categories detected.", none[0].Message)
}

func TestRunRulesProducesAllSix(t *testing.T) {
	findings := RunRules("Functional unit: 1 kg steel. System boundary: cradle-to-gate. " +
		"Goal and scope, inventory analysis, impact assessment, interpretation. " +
		"Climate change: 2.1 kg CO2 eq.")

	rules := map[string]bool{}
	for _, f := range findings {
		rules[f.Rule] = true
	}
	for _, rule := range []string{
		"unit_check", "plausibility_check", "functional_unit_check",
		"system_boundary_check", "required_sections_check", "impact_category_check",
	} {
		assert.True(t, rules[rule], rule)
	}

	for _, f := range findings {
		assert.True(t, f.Passed, f.Rule)
	}
	findingFor(t, findings, "unit_check")
}
