package ibtree

import (
	"fmt"
	"math"
	"strings"

	"github.com/kuandriy/mblearn/internal/distrib"
)

// Neighbor is one distance rank in a BestArray, holding every candidate
// distribution found at that distance.
type Neighbor struct {
	Distance float64
	Dists    []*distrib.Distribution
}

// BestArray is the bounded bag of nearest-neighbor candidates, ordered by
// distance ascending. Ranks are distinct distances: candidates within
// Epsilon of an existing rank join it, so the effective neighbor count can
// exceed the nominal k at the boundary.
type BestArray struct {
	k        int
	maxBests int
	recs     []Neighbor
}

// NewBestArray creates an array for k distance ranks, retaining at most
// maxBests ranks overall.
func NewBestArray(k, maxBests int) *BestArray {
	if maxBests < k {
		maxBests = k
	}
	return &BestArray{k: k, maxBests: maxBests, recs: make([]Neighbor, 0, k+1)}
}

// Reset empties the array for the next classification.
func (b *BestArray) Reset() { b.recs = b.recs[:0] }

// Size returns the number of distance ranks held.
func (b *BestArray) Size() int { return len(b.recs) }

// Threshold returns the k-th best distance, or +Inf while fewer than k
// ranks are known. The search engine cuts off accumulation above it.
func (b *BestArray) Threshold() float64 {
	if len(b.recs) < b.k {
		return math.Inf(1)
	}
	return b.recs[b.k-1].Distance
}

// Add admits a candidate at the given distance. Admission follows the
// expanding-threshold rule: always below capacity, on improvement with
// eviction of ranks beyond the new k-th, and always on a tie with the k-th.
func (b *BestArray) Add(dist float64, d *distrib.Distribution) {
	lo, hi := 0, len(b.recs)
	for lo < hi {
		mid := (lo + hi) / 2
		if b.recs[mid].Distance < dist-distrib.Epsilon {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(b.recs) && math.Abs(b.recs[lo].Distance-dist) < distrib.Epsilon {
		b.recs[lo].Dists = append(b.recs[lo].Dists, d)
		return
	}
	if len(b.recs) >= b.maxBests && lo >= b.maxBests {
		return
	}
	b.recs = append(b.recs, Neighbor{})
	copy(b.recs[lo+1:], b.recs[lo:])
	b.recs[lo] = Neighbor{Distance: dist, Dists: []*distrib.Distribution{d}}
	if len(b.recs) > b.maxBests {
		b.recs = b.recs[:b.maxBests]
	}
	// Ranks strictly beyond the k-th distance are no longer reachable.
	if len(b.recs) > b.k {
		kth := b.recs[b.k-1].Distance
		cut := len(b.recs)
		for cut > b.k && b.recs[cut-1].Distance > kth+distrib.Epsilon {
			cut--
		}
		b.recs = b.recs[:cut]
	}
}

// Distances returns the rank distances, ascending.
func (b *BestArray) Distances() []float64 {
	out := make([]float64, len(b.recs))
	for i, r := range b.recs {
		out[i] = r.Distance
	}
	return out
}

// Neighbors returns the ranks for verbose neighbor output.
func (b *BestArray) Neighbors() []Neighbor { return b.recs }

// Extract merges the retained candidates into one weighted class
// distribution, scaling each rank by decay of its distance. Ties within a
// rank contribute equally.
func (b *BestArray) Extract(decay func(float64) float64) *distrib.Distribution {
	out := distrib.NewWeighted()
	for _, r := range b.recs[:b.effective()] {
		w := 1.0
		if decay != nil {
			w = decay(r.Distance)
		}
		for _, d := range r.Dists {
			out.MergeScaled(d, w)
		}
	}
	return out
}

func (b *BestArray) effective() int {
	if len(b.recs) < b.k {
		return len(b.recs)
	}
	// keep boundary ties
	kth := b.recs[b.k-1].Distance
	n := b.k
	for n < len(b.recs) && b.recs[n].Distance <= kth+distrib.Epsilon {
		n++
	}
	return n
}

// Display renders the neighbor set the way the NEIGHBORS verbosity block
// reports it.
func (b *BestArray) Display() string {
	var sb strings.Builder
	for i, r := range b.recs[:b.effective()] {
		fmt.Fprintf(&sb, "# k=%d, %d Neighbor(s) at distance: %s\n",
			i+1, len(r.Dists), formatDistance(r.Distance))
		for _, d := range r.Dists {
			fmt.Fprintf(&sb, "#\t%s\n", d.Save())
		}
	}
	return sb.String()
}

func formatDistance(d float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.6f", d), "0"), ".")
}
