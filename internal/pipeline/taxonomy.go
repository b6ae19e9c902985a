// Package pipeline orchestrates analysis jobs from routing through synthesis.
package pipeline

import (
	_ "embed"
	"strings"

	"gopkg.in/yaml.v3"
)

// recognizedUnits are EF 3.1 and ReCiPe 2016 unit strings accepted by the
// unit rule. Any unit ending in "eq"/"eq." or containing one of these is
// also accepted.
var recognizedUnits = map[string]struct{}{
	// Mass
	"kg": {}, "g": {}, "t": {}, "tonne": {}, "ton": {}, "mg": {}, "µg": {},
	// GWP
	"kg CO2 eq": {}, "kg CO2-eq": {}, "CO2e": {}, "kg CO2": {}, "kg CO2e": {},
	"t CO2 eq": {}, "t CO2-eq": {}, "tCO2e": {}, "g CO2 eq": {},
	// Energy
	"MJ": {}, "kWh": {}, "GJ": {}, "TJ": {}, "J": {},
	// Acidification
	"mol H+ eq": {}, "kg SO2 eq": {}, "kg SO2-eq": {},
	// Eutrophication
	"kg P eq": {}, "kg P-eq": {}, "kg N eq": {}, "kg N-eq": {}, "mol N eq": {},
	// Water
	"m3": {}, "l": {}, "litre": {}, "liter": {}, "L": {},
	// Ecotoxicity
	"CTUe": {},
	// Human toxicity
	"CTUh": {},
	// Land use
	"m2": {}, "m2*year": {}, "m2·year": {}, "m²": {}, "m²·a": {},
	// Ozone
	"kg CFC-11 eq": {}, "kg CFC11 eq": {},
	// Particulate matter
	"disease incidence": {}, "kg PM2.5 eq": {},
	// Resource use
	"kg Sb eq": {}, "kg Sb-eq": {}, "MJ surplus": {},
	// Ionising radiation
	"kBq U235 eq": {},
	// Photochemical ozone
	"kg NMVOC eq": {}, "kg NMVOC-eq": {},
}

// IsRecognizedUnit reports whether a unit string is an accepted LCA unit.
func IsRecognizedUnit(unit string) bool {
	u := strings.TrimSpace(unit)
	if _, ok := recognizedUnits[u]; ok {
		return true
	}
	lower := strings.ToLower(u)
	if strings.HasSuffix(lower, "eq") || strings.HasSuffix(lower, "eq.") {
		return true
	}
	for ru := range recognizedUnits {
		if strings.Contains(lower, strings.ToLower(ru)) {
			return true
		}
	}
	return false
}

// ef31Categories are the EF 3.1 impact categories.
var ef31Categories = []string{
	"Climate change",
	"Climate change - fossil",
	"Climate change - biogenic",
	"Climate change - land use and land use change",
	"Ozone depletion",
	"Human toxicity, cancer",
	"Human toxicity, non-cancer",
	"Particulate matter",
	"Ionising radiation",
	"Photochemical ozone formation",
	"Acidification",
	"Eutrophication, terrestrial",
	"Eutrophication, freshwater",
	"Eutrophication, marine",
	"Ecotoxicity, freshwater",
	"Land use",
	"Water use",
	"Resource use, fossils",
	"Resource use, minerals and metals",
}

// recipe2016Midpoint are the ReCiPe 2016 midpoint categories.
var recipe2016Midpoint = []string{
	"Global warming",
	"Stratospheric ozone depletion",
	"Ionizing radiation",
	"Ozone formation, Human health",
	"Fine particulate matter formation",
	"Ozone formation, Terrestrial ecosystems",
	"Terrestrial acidification",
	"Freshwater eutrophication",
	"Marine eutrophication",
	"Terrestrial ecotoxicity",
	"Freshwater ecotoxicity",
	"Marine ecotoxicity",
	"Human carcinogenic toxicity",
	"Human non-carcinogenic toxicity",
	"Land use",
	"Mineral resource scarcity",
	"Fossil resource scarcity",
	"Water consumption",
}

// categoryAliases maps common shorthand to a canonical category.
var categoryAliases = map[string]string{
	"gwp":                        "Global warming",
	"global warming potential":   "Global warming",
	"carbon footprint":           "Climate change",
	"co2":                        "Climate change",
	"ap":                         "Acidification",
	"acidification potential":    "Acidification",
	"ep":                         "Eutrophication, freshwater",
	"eutrophication potential":   "Eutrophication, freshwater",
	"odp":                        "Ozone depletion",
	"ozone depletion potential":  "Ozone depletion",
	"pocp":                       "Photochemical ozone formation",
	"htp":                        "Human toxicity, cancer",
	"human toxicity potential":   "Human toxicity, cancer",
	"adp":                        "Resource use, minerals and metals",
	"abiotic depletion":          "Resource use, minerals and metals",
	"water footprint":            "Water use",
}

var allKnownCategories = buildKnownCategories()

func buildKnownCategories() map[string]struct{} {
	known := make(map[string]struct{})
	for _, c := range ef31Categories {
		known[strings.ToLower(c)] = struct{}{}
	}
	for _, c := range recipe2016Midpoint {
		known[strings.ToLower(c)] = struct{}{}
	}
	for alias := range categoryAliases {
		known[alias] = struct{}{}
	}
	return known
}

// IsKnownCategory reports whether a name matches an EF 3.1 or ReCiPe 2016
// category, an alias, or fuzzily contains (or is contained in) one.
func IsKnownCategory(name string) bool {
	n := strings.ToLower(strings.TrimSpace(name))
	if _, ok := allKnownCategories[n]; ok {
		return true
	}
	for known := range allKnownCategories {
		if strings.Contains(n, known) || strings.Contains(known, n) {
			return true
		}
	}
	return false
}

// lifeCycleStages maps EN 15804 stage codes to their descriptions.
var lifeCycleStages = map[string]string{
	"A1": "Raw material extraction",
	"A2": "Transport to manufacturer",
	"A3": "Manufacturing",
	"A4": "Transport to site",
	"A5": "Installation",
	"B1": "Use",
	"B2": "Maintenance",
	"B3": "Repair",
	"B4": "Replacement",
	"B5": "Refurbishment",
	"B6": "Operational energy use",
	"B7": "Operational water use",
	"C1": "Deconstruction",
	"C2": "Transport to waste processing",
	"C3": "Waste processing",
	"C4": "Disposal",
	"D":  "Benefits beyond system boundary",
}

// PlausibilityRange bounds an expected emission factor in kg CO2-eq.
type PlausibilityRange struct {
	Low  float64 `yaml:"low"`
	High float64 `yaml:"high"`
}

//go:embed ranges.yaml
var rangesYAML []byte

// plausibilityRanges holds per-material emission factor bounds.
var plausibilityRanges = loadPlausibilityRanges()

func loadPlausibilityRanges() map[string]PlausibilityRange {
	ranges := make(map[string]PlausibilityRange)
	if err := yaml.Unmarshal(rangesYAML, &ranges); err != nil {
		panic("pipeline: parse embedded ranges.yaml: " + err.Error())
	}
	return ranges
}
