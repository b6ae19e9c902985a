package pipeline

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/greenline-analytics/lca-cli/internal/model"
)

var unitPattern = regexp.MustCompile(`(?i)\b(kg\s*CO2[\s-]*eq\.?|` +
	`t\s*CO2[\s-]*eq\.?|` +
	`g\s*CO2[\s-]*eq\.?|` +
	`mol\s*H\+\s*eq\.?|` +
	`kg\s*SO2[\s-]*eq\.?|` +
	`kg\s*P[\s-]*eq\.?|` +
	`kg\s*N[\s-]*eq\.?|` +
	`kg\s*CFC[\s-]*11\s*eq\.?|` +
	`kg\s*PM2\.5\s*eq\.?|` +
	`kg\s*Sb[\s-]*eq\.?|` +
	`kg\s*NMVOC[\s-]*eq\.?|` +
	`kBq\s*U235\s*eq\.?|` +
	`CTUe|CTUh|` +
	`MJ|GJ|TJ|kWh|` +
	`m[²2][\s·]*(?:year|a)?|m3|` +
	`kg|g|mg|µg|` +
	`disease\s+incidence)`)

// checkUnits flags unit strings that are not recognized LCA units.
func checkUnits(markdown string) []model.RuleFinding {
	found := unitPattern.FindAllString(markdown, -1)
	if len(found) == 0 {
		return []model.RuleFinding{{
			Rule:     "unit_check",
			Passed:   true,
			Severity: model.SeverityInfo,
			Message:  "No explicit LCA units detected in content.",
		}}
	}

	seen := make(map[string]struct{})
	var unrecognized []string
	for _, unit := range found {
		if IsRecognizedUnit(unit) {
			continue
		}
		if _, ok := seen[unit]; ok {
			continue
		}
		seen[unit] = struct{}{}
		unrecognized = append(unrecognized, unit)
	}

	if len(unrecognized) > 0 {
		return []model.RuleFinding{{
			Rule:     "unit_check",
			Passed:   false,
			Severity: model.SeverityWarning,
			Message:  fmt.Sprintf("Unrecognized units found: %s", strings.Join(unrecognized, ", ")),
		}}
	}
	return []model.RuleFinding{{
		Rule:     "unit_check",
		Passed:   true,
		Severity: model.SeverityInfo,
		Message:  fmt.Sprintf("All %d detected units are recognized.", len(found)),
	}}
}

var numberPattern = regexp.MustCompile(`\d+[.,]?\d*`)

// checkPlausibility flags numeric values near known material mentions that
// fall far outside the expected emission factor range. The tolerance is a
// decade in each direction so only order-of-magnitude errors are reported.
func checkPlausibility(markdown string) []model.RuleFinding {
	contentLower := strings.ToLower(markdown)
	var findings []model.RuleFinding

	materials := make([]string, 0, len(plausibilityRanges))
	for m := range plausibilityRanges {
		materials = append(materials, m)
	}
	sort.Strings(materials)

	for _, material := range materials {
		r := plausibilityRanges[material]
		idx := 0
		for {
			pos := strings.Index(contentLower[idx:], material)
			if pos < 0 {
				break
			}
			start := idx + pos + len(material)
			end := start + 200
			if end > len(contentLower) {
				end = len(contentLower)
			}
			window := contentLower[start:end]
			if m := numberPattern.FindString(window); m != "" {
				value, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", "."), 64)
				if err == nil && (value < r.Low*0.1 || value > r.High*10) {
					findings = append(findings, model.RuleFinding{
						Rule:     "plausibility_check",
						Passed:   false,
						Severity: model.SeverityWarning,
						Message: fmt.Sprintf("Value %v for '%s' is outside plausible range (%v-%v kg CO2-eq).",
							value, material, r.Low, r.High),
					})
				}
			}
			idx = start
		}
	}

	if len(findings) == 0 {
		return []model.RuleFinding{{
			Rule:     "plausibility_check",
			Passed:   true,
			Severity: model.SeverityInfo,
			Message:  "No plausibility issues detected.",
		}}
	}
	return findings
}

var functionalUnitPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)functional\s+unit`),
	regexp.MustCompile(`(?i)declared\s+unit`),
	regexp.MustCompile(`(?i)reference\s+flow`),
	regexp.MustCompile(`(?i)FU\s*[:=]`),
	regexp.MustCompile(`(?i)DU\s*[:=]`),
}

// checkFunctionalUnit verifies the document declares a functional unit.
func checkFunctionalUnit(markdown string) []model.RuleFinding {
	for _, pat := range functionalUnitPatterns {
		if pat.MatchString(markdown) {
			return []model.RuleFinding{{
				Rule:     "functional_unit_check",
				Passed:   true,
				Severity: model.SeverityInfo,
				Message:  "Functional/declared unit reference found.",
			}}
		}
	}
	return []model.RuleFinding{{
		Rule:     "functional_unit_check",
		Passed:   false,
		Severity: model.SeverityWarning,
		Message:  "No functional unit or declared unit statement detected.",
	}}
}

var boundaryPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)system\s+boundar`),
	regexp.MustCompile(`(?i)cradle[\s-]*to[\s-]*gate`),
	regexp.MustCompile(`(?i)cradle[\s-]*to[\s-]*grave`),
	regexp.MustCompile(`(?i)gate[\s-]*to[\s-]*gate`),
	regexp.MustCompile(`(?i)A1[\s-]*[-–][\s-]*A3`),
	regexp.MustCompile(`(?i)A1[\s-]*[-–][\s-]*C4`),
	regexp.MustCompile(`(?i)A1[\s-]*[-–][\s-]*D`),
}

// checkSystemBoundary verifies a system boundary declaration, either by
// explicit phrase or by the presence of three or more stage codes.
func checkSystemBoundary(markdown string) []model.RuleFinding {
	found := false
	for _, pat := range boundaryPatterns {
		if pat.MatchString(markdown) {
			found = true
			break
		}
	}

	var stagesFound []string
	for code := range lifeCycleStages {
		pat := regexp.MustCompile(`\b` + code + `\b`)
		if pat.MatchString(markdown) {
			stagesFound = append(stagesFound, code)
		}
	}
	sort.Strings(stagesFound)

	if found || len(stagesFound) >= 3 {
		stages := "explicit declaration"
		if len(stagesFound) > 0 {
			stages = strings.Join(stagesFound, ", ")
		}
		return []model.RuleFinding{{
			Rule:     "system_boundary_check",
			Passed:   true,
			Severity: model.SeverityInfo,
			Message:  fmt.Sprintf("System boundary reference found. Life cycle stages: %s", stages),
		}}
	}
	return []model.RuleFinding{{
		Rule:     "system_boundary_check",
		Passed:   false,
		Severity: model.SeverityWarning,
		Message:  "No system boundary declaration detected.",
	}}
}

// requiredSections are the ISO 14040/44 section groups; each group passes if
// any of its patterns matches.
var requiredSections = []struct {
	name     string
	patterns []*regexp.Regexp
}{
	{"goal_and_scope", []*regexp.Regexp{
		regexp.MustCompile(`(?i)goal\s+(and|&)\s+scope`),
		regexp.MustCompile(`(?i)goal\s+of\s+the\s+study`),
		regexp.MustCompile(`(?i)scope\s+of\s+the\s+study`),
		regexp.MustCompile(`(?i)study\s+goal`),
	}},
	{"inventory_analysis", []*regexp.Regexp{
		regexp.MustCompile(`(?i)life\s+cycle\s+inventory`),
		regexp.MustCompile(`(?i)lci\b`),
		regexp.MustCompile(`(?i)inventory\s+analysis`),
		regexp.MustCompile(`(?i)inventory\s+data`),
	}},
	{"impact_assessment", []*regexp.Regexp{
		regexp.MustCompile(`(?i)life\s+cycle\s+impact\s+assessment`),
		regexp.MustCompile(`(?i)lcia\b`),
		regexp.MustCompile(`(?i)impact\s+assessment`),
		regexp.MustCompile(`(?i)impact\s+categor`),
		regexp.MustCompile(`(?i)characterization\s+factor`),
	}},
	{"interpretation", []*regexp.Regexp{
		regexp.MustCompile(`(?i)interpretation`),
		regexp.MustCompile(`(?i)sensitivity\s+analysis`),
		regexp.MustCompile(`(?i)uncertainty\s+analysis`),
		regexp.MustCompile(`(?i)conclusions?`),
		regexp.MustCompile(`(?i)recommendations?`),
	}},
}

// checkRequiredSections verifies the four ISO 14040/44 section groups appear.
func checkRequiredSections(markdown string) []model.RuleFinding {
	var missing []string
	for _, section := range requiredSections {
		found := false
		for _, pat := range section.patterns {
			if pat.MatchString(markdown) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, section.name)
		}
	}

	if len(missing) > 0 {
		return []model.RuleFinding{{
			Rule:     "required_sections_check",
			Passed:   false,
			Severity: model.SeverityWarning,
			Message:  fmt.Sprintf("Missing LCA sections: %s", strings.Join(missing, ", ")),
		}}
	}
	return []model.RuleFinding{{
		Rule:     "required_sections_check",
		Passed:   true,
		Severity: model.SeverityInfo,
		Message:  "All required LCA sections detected.",
	}}
}

var categoryPattern = regexp.MustCompile(`(?i)(climate\s+change|global\s+warming|ozone\s+depletion|` +
	`human\s+toxicity|particulate\s+matter|ionising\s+radiation|` +
	`photochemical\s+ozone|acidification|eutrophication|` +
	`ecotoxicity|land\s+use|water\s+use|water\s+consumption|` +
	`resource\s+use|mineral\s+resource|fossil\s+resource)`)

// checkImpactCategories verifies mentioned impact categories are recognized.
func checkImpactCategories(markdown string) []model.RuleFinding {
	seen := make(map[string]struct{})
	for _, m := range categoryPattern.FindAllString(markdown, -1) {
		seen[strings.ToLower(m)] = struct{}{}
	}

	if len(seen) == 0 {
		return []model.RuleFinding{{
			Rule:     "impact_category_check",
			Passed:   true,
			Severity: model.SeverityInfo,
			Message:  "No explicit impact categories detected.",
		}}
	}

	var unrecognized []string
	for c := range seen {
		if !IsKnownCategory(c) {
			unrecognized = append(unrecognized, c)
		}
	}
	sort.Strings(unrecognized)

	severity := model.SeverityInfo
	unrecognizedLabel := "none"
	if len(unrecognized) > 0 {
		severity = model.SeverityWarning
		unrecognizedLabel = strings.Join(unrecognized, ", ")
	}
	return []model.RuleFinding{{
		Rule:     "impact_category_check",
		Passed:   len(unrecognized) == 0,
		Severity: severity,
		Message:  fmt.Sprintf("Found %d impact categories. Unrecognized: %s", len(seen), unrecognizedLabel),
	}}
}

// RunRules applies all deterministic validation checks to normalized markdown.
func RunRules(markdown string) []model.RuleFinding {
	var findings []model.RuleFinding
	findings = append(findings, checkUnits(markdown)...)
	findings = append(findings, checkPlausibility(markdown)...)
	findings = append(findings, checkFunctionalUnit(markdown)...)
	findings = append(findings, checkSystemBoundary(markdown)...)
	findings = append(findings, checkRequiredSections(markdown)...)
	findings = append(findings, checkImpactCategories(markdown)...)

	passed := 0
	for _, f := range findings {
		if f.Passed {
			passed++
		}
	}
	zap.L().Debug("rule validation complete",
		zap.Int("total_checks", len(findings)),
		zap.Int("passed", passed),
		zap.Int("failed", len(findings)-passed),
	)
	return findings
}
