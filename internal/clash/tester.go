package clash

import (
	"github.com/raphaelgruber/clashcheck/internal/geometry"
	"github.com/raphaelgruber/clashcheck/internal/models"
	"github.com/raphaelgruber/clashcheck/internal/spatial"
)

// Candidate is a clash found by the narrow phase, before aggregation.
type Candidate struct {
	Key      spatial.PairKey
	Element1 models.ElementSnapshot // lower guid
	Element2 models.ElementSnapshot
	Distance float64
	Severity int
	Category string
	TypePair [2]string     // sorted type names, the grouping identity
	Region   geometry.AABB // where the boxes meet
	Merged   int           // clashes absorbed by automatic grouping
}

// Tester is the pure pairwise test. It reads elements but never mutates them,
// so one Tester may be shared by many goroutines.
type Tester struct {
	tolerance  float64
	categories *CategoryRules
}

// NewTester creates a tester. A nil rule table uses DefaultCategoryRules.
func NewTester(tolerance float64, categories *CategoryRules) *Tester {
	if categories == nil {
		categories = DefaultCategoryRules()
	}
	return &Tester{tolerance: tolerance, categories: categories}
}

// Tolerance returns the clearance the tester checks against.
func (t *Tester) Tolerance() float64 {
	return t.tolerance
}

// Test reports whether a and b clash. The result does not depend on argument order.
func (t *Tester) Test(a, b *models.Element) (Candidate, bool) {
	if b.GUID < a.GUID {
		a, b = b, a
	}
	boxA, boxB := spatial.Box(a), spatial.Box(b)
	if !geometry.Overlaps(boxA, boxB, t.tolerance) {
		return Candidate{}, false
	}

	distance := geometry.GapOrPenetration(boxA, boxB)
	typePair := [2]string{a.TypeName, b.TypeName}
	if typePair[1] < typePair[0] {
		typePair[0], typePair[1] = typePair[1], typePair[0]
	}

	return Candidate{
		Key:      spatial.MakePairKey(a.GUID, b.GUID),
		Element1: a.Snapshot(),
		Element2: b.Snapshot(),
		Distance: distance,
		Severity: Severity(distance, t.tolerance),
		Category: t.categories.Classify(a.TypeName, a.Category, b.TypeName, b.Category),
		TypePair: typePair,
		Region:   boxA.Intersection(boxB),
	}, true
}

// TestPairs runs Test over a batch of broad-phase pairs, keeping input order.
func (t *Tester) TestPairs(pairs []spatial.Pair) []Candidate {
	var out []Candidate
	for _, p := range pairs {
		if c, ok := t.Test(p.A, p.B); ok {
			out = append(out, c)
		}
	}
	return out
}
