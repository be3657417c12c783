package metric

import (
	"math"

	"github.com/kuandriy/mblearn/internal/symbol"
)

const epsilon = 1e-9

// Kernel scores one feature-value pair. Implementations never return a
// negative distance. Numeric parseability is validated before a search
// starts, so kernels are branch-free on errors in the inner loop.
type Kernel interface {
	Distance(a, b *symbol.FeatureValue) float64
}

// NewKernel builds the kernel for one feature. Returns nil for Ignore.
func NewKernel(k Kind, feat *symbol.Feature, mvdmThreshold int, mvdmDefault Kind) Kernel {
	switch k {
	case Overlap:
		return overlapKernel{}
	case Levenshtein:
		return levenshteinKernel{}
	case Numeric:
		return &numericKernel{feat: feat}
	case JeffreyDiv:
		return &jeffreyKernel{}
	case ValueDiff:
		fallback := NewKernel(mvdmDefault, feat, 0, Unknown)
		if fallback == nil {
			fallback = overlapKernel{}
		}
		return &mvdmKernel{threshold: float64(mvdmThreshold), fallback: fallback,
			cache: make(map[[2]int]float64)}
	}
	return nil
}

type overlapKernel struct{}

func (overlapKernel) Distance(a, b *symbol.FeatureValue) float64 {
	if a == b {
		return 0
	}
	return 1
}

type levenshteinKernel struct{}

func (levenshteinKernel) Distance(a, b *symbol.FeatureValue) float64 {
	if a == b {
		return 0
	}
	return levenshtein(a.Name(), b.Name())
}

// levenshtein returns the edit distance between two value names, normalized
// to [0,1] by the longer length.
func levenshtein(s, t string) float64 {
	if s == t {
		return 0
	}
	if len(s) == 0 || len(t) == 0 {
		return 1
	}
	prev := make([]int, len(t)+1)
	cur := make([]int, len(t)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(s); i++ {
		cur[0] = i
		for j := 1; j <= len(t); j++ {
			cost := 1
			if s[i-1] == t[j-1] {
				cost = 0
			}
			cur[j] = min(cur[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	longer := len(s)
	if len(t) > longer {
		longer = len(t)
	}
	return float64(prev[len(t)]) / float64(longer)
}

// numericKernel scales the absolute difference by the feature's training
// range.
type numericKernel struct {
	feat *symbol.Feature
}

func (k *numericKernel) Distance(a, b *symbol.FeatureValue) float64 {
	if a == b {
		return 0
	}
	av, _ := a.Numeric()
	bv, _ := b.Numeric()
	lo, hi, ok := k.feat.Range()
	if !ok || hi-lo < epsilon {
		return 0
	}
	return math.Abs(av-bv) / (hi - lo)
}

// mvdmKernel implements the modified value-difference metric: the L1
// distance between the two values' conditional class distributions, falling
// back to the configured default when either value is too infrequent for its
// class statistics to be trusted. Computed pairs are cached; a tester (and
// its cache) is session-local, so no locking is needed.
type mvdmKernel struct {
	threshold float64
	fallback  Kernel
	cache     map[[2]int]float64
}

func (k *mvdmKernel) Distance(a, b *symbol.FeatureValue) float64 {
	if a == b {
		return 0
	}
	if a.Freq() < k.threshold || b.Freq() < k.threshold {
		return k.fallback.Distance(a, b)
	}
	key := [2]int{a.Index(), b.Index()}
	if key[0] > key[1] {
		key[0], key[1] = key[1], key[0]
	}
	if d, ok := k.cache[key]; ok {
		return d
	}
	d := 0.0
	for _, c := range unionClasses(a, b) {
		pa := a.ClassCount(c) / a.Freq()
		pb := b.ClassCount(c) / b.Freq()
		d += math.Abs(pa - pb)
	}
	k.cache[key] = d
	return d
}

// jeffreyKernel implements the Jeffrey divergence between the two values'
// conditional class distributions, with 0*log(0) taken as 0.
type jeffreyKernel struct{}

func (jeffreyKernel) Distance(a, b *symbol.FeatureValue) float64 {
	if a == b {
		return 0
	}
	d := 0.0
	for _, c := range unionClasses(a, b) {
		var pa, pb float64
		if a.Freq() > 0 {
			pa = a.ClassCount(c) / a.Freq()
		}
		if b.Freq() > 0 {
			pb = b.ClassCount(c) / b.Freq()
		}
		mean := (pa + pb) / 2
		if pa > 0 {
			d += pa * math.Log2(pa/mean)
		}
		if pb > 0 {
			d += pb * math.Log2(pb/mean)
		}
	}
	return d
}

func unionClasses(a, b *symbol.FeatureValue) []int {
	ca := a.ClassIndices()
	cb := b.ClassIndices()
	out := make([]int, 0, len(ca)+len(cb))
	i, j := 0, 0
	for i < len(ca) && j < len(cb) {
		switch {
		case ca[i] == cb[j]:
			out = append(out, ca[i])
			i++
			j++
		case ca[i] < cb[j]:
			out = append(out, ca[i])
			i++
		default:
			out = append(out, cb[j])
			j++
		}
	}
	out = append(out, ca[i:]...)
	out = append(out, cb[j:]...)
	return out
}
