package spatial

import (
	"cmp"

	"github.com/raphaelgruber/clashcheck/internal/models"
)

// PairKey identifies an unordered element pair: Lo < Hi by guid.
type PairKey struct {
	Lo string
	Hi string
}

// MakePairKey returns the canonical key so (a, b) and (b, a) coincide.
func MakePairKey(a, b string) PairKey {
	if b < a {
		a, b = b, a
	}
	return PairKey{Lo: a, Hi: b}
}

func (k PairKey) String() string {
	return k.Lo + "|" + k.Hi
}

// Compare orders keys by Lo then Hi.
func (k PairKey) Compare(o PairKey) int {
	if c := cmp.Compare(k.Lo, o.Lo); c != 0 {
		return c
	}
	return cmp.Compare(k.Hi, o.Hi)
}

// Pair is a broad-phase candidate. A has the smaller guid.
type Pair struct {
	A *models.Element
	B *models.Element
}

// Key returns the canonical pair key.
func (p Pair) Key() PairKey {
	return MakePairKey(p.A.GUID, p.B.GUID)
}
