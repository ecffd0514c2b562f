// Package clash holds the narrow phase of clash detection (pairwise testing,
// severity and categorisation) and the aggregation policy applied to its output.
package clash

import (
	"sort"
	"strings"
)

// Disciplines used to build pair categories.
const (
	DisciplineStructural    = "Structural"
	DisciplineArchitectural = "Architectural"
	DisciplineMEP           = "MEP"
	DisciplineOther         = "Other"
)

// disciplineRank orders disciplines inside a pair category ("Structural-MEP").
var disciplineRank = map[string]int{
	DisciplineStructural:    0,
	DisciplineArchitectural: 1,
	DisciplineMEP:           2,
}

// CategoryRules maps IFC type-name prefixes to disciplines.
// The longest matching prefix wins. Safe for concurrent reads once built.
type CategoryRules struct {
	prefixes []string // sorted longest first
	rules    map[string]string
}

// NewCategoryRules returns an empty rule table.
func NewCategoryRules() *CategoryRules {
	return &CategoryRules{rules: make(map[string]string)}
}

// DefaultCategoryRules returns the built-in IFC discipline table.
func DefaultCategoryRules() *CategoryRules {
	r := NewCategoryRules()
	for _, p := range []string{"IfcBeam", "IfcColumn", "IfcSlab", "IfcFooting", "IfcPile", "IfcMember", "IfcPlate", "IfcReinforcing", "IfcTendon"} {
		r.Add(p, DisciplineStructural)
	}
	for _, p := range []string{"IfcWall", "IfcDoor", "IfcWindow", "IfcCovering", "IfcRailing", "IfcRoof", "IfcStair", "IfcRamp", "IfcCurtainWall", "IfcFurnishing", "IfcBuildingElementProxy"} {
		r.Add(p, DisciplineArchitectural)
	}
	for _, p := range []string{"IfcDuct", "IfcPipe", "IfcCable", "IfcFlow", "IfcDistribution", "IfcEnergyConversion", "IfcAirTerminal", "IfcSanitaryTerminal", "IfcLightFixture", "IfcValve", "IfcPump", "IfcFan"} {
		r.Add(p, DisciplineMEP)
	}
	return r
}

// Add registers a prefix rule. Must not be called concurrently with Classify.
func (r *CategoryRules) Add(prefix, discipline string) {
	key := strings.ToLower(prefix)
	if _, exists := r.rules[key]; !exists {
		r.prefixes = append(r.prefixes, key)
		sort.SliceStable(r.prefixes, func(i, j int) bool {
			return len(r.prefixes[i]) > len(r.prefixes[j])
		})
	}
	r.rules[key] = discipline
}

// Discipline resolves a type name, falling back to the ingested category and
// then to "Other".
func (r *CategoryRules) Discipline(typeName, fallback string) string {
	name := strings.ToLower(typeName)
	for _, p := range r.prefixes {
		if strings.HasPrefix(name, p) {
			return r.rules[p]
		}
	}
	if fallback != "" {
		return fallback
	}
	return DisciplineOther
}

// Classify returns the pair category: both disciplines in rank order joined
// with "-", or a single discipline when both sides agree.
func (r *CategoryRules) Classify(typeA, categoryA, typeB, categoryB string) string {
	a := r.Discipline(typeA, categoryA)
	b := r.Discipline(typeB, categoryB)
	if a == b {
		return a
	}
	if rankOf(b) < rankOf(a) || (rankOf(a) == rankOf(b) && b < a) {
		a, b = b, a
	}
	return a + "-" + b
}

func rankOf(discipline string) int {
	if r, ok := disciplineRank[discipline]; ok {
		return r
	}
	return len(disciplineRank)
}
