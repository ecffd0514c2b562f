package clash

import (
	"cmp"
	"math"
	"slices"

	"github.com/raphaelgruber/clashcheck/internal/geometry"
	"github.com/raphaelgruber/clashcheck/internal/spatial"
)

// AggregatorOptions sets the aggregation policy of one job.
type AggregatorOptions struct {
	LimitResults      int
	AutomaticGrouping bool
	// GroupingRadius is the max distance between clash region centres for two
	// clashes of the same type pair to be merged.
	GroupingRadius float64
}

// Outcome is the final, ordered clash set of a job.
type Outcome struct {
	Clashes      []Candidate
	TotalClashes int // representatives before the result cap
}

// Aggregator deduplicates, groups and caps narrow-phase output.
// It is owned by a single goroutine; workers hand over their partial results.
type Aggregator struct {
	opts  AggregatorOptions
	seen  map[spatial.PairKey]struct{}
	items []Candidate
}

// NewAggregator creates an empty aggregator for one job run.
func NewAggregator(opts AggregatorOptions) *Aggregator {
	return &Aggregator{
		opts: opts,
		seen: make(map[spatial.PairKey]struct{}),
	}
}

// Add records a candidate. It returns false when the pair was already recorded.
func (a *Aggregator) Add(c Candidate) bool {
	if _, dup := a.seen[c.Key]; dup {
		return false
	}
	a.seen[c.Key] = struct{}{}
	a.items = append(a.items, c)
	return true
}

// AddAll records a batch and returns how many were new.
func (a *Aggregator) AddAll(cs []Candidate) int {
	added := 0
	for _, c := range cs {
		if a.Add(c) {
			added++
		}
	}
	return added
}

// Len returns the number of distinct candidates recorded.
func (a *Aggregator) Len() int {
	return len(a.items)
}

// Rank orders candidates best first: higher severity, then deeper penetration
// (smaller distance), then pair key.
func Rank(x, y Candidate) int {
	if c := cmp.Compare(y.Severity, x.Severity); c != 0 {
		return c
	}
	if c := cmp.Compare(x.Distance, y.Distance); c != 0 {
		return c
	}
	return x.Key.Compare(y.Key)
}

// Finalize ranks, groups and caps the recorded candidates.
//
// Grouping is greedy in rank order: a candidate joins the first earlier
// representative with the same type-name pair whose region centre lies within
// GroupingRadius, so the representative is always the highest-ranked member.
// The cap keeps the LimitResults best representatives.
func (a *Aggregator) Finalize() Outcome {
	ranked := slices.Clone(a.items)
	slices.SortFunc(ranked, Rank)

	var reps []Candidate
	if a.opts.AutomaticGrouping {
		reps = a.group(ranked)
	} else {
		reps = ranked
	}

	total := len(reps)
	if a.opts.LimitResults > 0 && len(reps) > a.opts.LimitResults {
		reps = reps[:a.opts.LimitResults]
	}
	return Outcome{Clashes: reps, TotalClashes: total}
}

// groupBucket keys representatives by type pair and by the cube of side
// reach their region centre falls in. Two centres within reach of each other
// are always in the same or in adjacent buckets.
type groupBucket struct {
	types   [2]string
	x, y, z int64
}

func (a *Aggregator) group(ranked []Candidate) []Candidate {
	reach := a.opts.GroupingRadius + geometry.BoundaryEpsilon
	bucketed := reach > 0 && !math.IsInf(reach, 0)

	reps := make([]Candidate, 0, len(ranked))
	buckets := make(map[groupBucket][]int)
	for _, c := range ranked {
		centre := c.Region.Center()
		home := groupBucket{types: c.TypePair}
		if bucketed {
			home.x, home.y, home.z = bucketOf(centre.X, reach), bucketOf(centre.Y, reach), bucketOf(centre.Z, reach)
		}

		leader := -1
		for dx := int64(-1); dx <= 1; dx++ {
			for dy := int64(-1); dy <= 1; dy++ {
				for dz := int64(-1); dz <= 1; dz++ {
					if !bucketed && (dx != 0 || dy != 0 || dz != 0) {
						continue
					}
					near := groupBucket{types: c.TypePair, x: home.x + dx, y: home.y + dy, z: home.z + dz}
					for _, idx := range buckets[near] {
						// indices within a bucket ascend, so the first hit is the
						// bucket's earliest representative in range
						if leader >= 0 && idx >= leader {
							break
						}
						if distanceBetween(reps[idx].Region.Center(), centre) <= reach {
							leader = idx
							break
						}
					}
				}
			}
		}

		if leader >= 0 {
			reps[leader].Merged++
			continue
		}
		buckets[home] = append(buckets[home], len(reps))
		reps = append(reps, c)
	}
	return reps
}

func bucketOf(v, size float64) int64 {
	return int64(math.Floor(v / size))
}

func distanceBetween(p, q geometry.Vec3) float64 {
	return p.Sub(q).Length()
}
