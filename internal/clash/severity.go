package clash

import "math"

// MinSeverityScale is the penetration scale used when the tolerance is zero.
const MinSeverityScale = 1e-3

// Severity maps a clash distance to 1-5. It depends only on the penetration
// ratio r = -distance / tolerance and never decreases as penetration grows:
//
//	r <= 0.25 (clearance-only, touching or grazing) -> 1
//	r <  1                                          -> 2
//	r <  2                                          -> 3
//	r <  4                                          -> 4
//	otherwise                                       -> 5
func Severity(distance, tolerance float64) int {
	scale := math.Max(tolerance, MinSeverityScale)
	r := -distance / scale
	switch {
	case r <= 0.25:
		return 1
	case r < 1:
		return 2
	case r < 2:
		return 3
	case r < 4:
		return 4
	default:
		return 5
	}
}
