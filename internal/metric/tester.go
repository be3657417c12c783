package metric

import (
	"math"

	"github.com/bits-and-blooms/bitset"
	"github.com/kuandriy/mblearn/internal/symbol"
)

// Tester scores a test instance against candidate vectors pulled from the
// instance base. Init fixes the test instance; Test accumulates per-feature
// distances from curPos and returns the position at which the running sum
// first exceeded threshold (or the effective size if it never did);
// Distance reads the accumulated distance at a position.
type Tester interface {
	Init(inst *symbol.Instance, effective, offset int)
	Test(g []*symbol.FeatureValue, curPos int, threshold float64) int
	Distance(pos int) float64
}

// Config carries everything needed to assemble a tester. Slices are indexed
// by the original (unpermuted) feature position; Permutation maps tree-order
// positions back to original positions.
type Config struct {
	Features      []*symbol.Feature
	Kinds         []Kind
	Weights       []float64
	Permutation   []int
	Ignored       *bitset.BitSet
	MVDMThreshold int
	MVDMDefault   Kind
}

// New builds a tester for the global metric. Cosine and DotProduct get the
// whole-vector similarity testers; everything else composes the per-feature
// kernels additively.
func New(global Kind, cfg Config) Tester {
	base := newBase(cfg)
	switch global {
	case Cosine:
		return &cosineTester{baseTester: base}
	case DotProduct:
		return &dotProductTester{baseTester: base}
	}
	n := len(cfg.Features)
	kernels := make([]Kernel, n)
	for i := 0; i < n; i++ {
		if cfg.Ignored != nil && cfg.Ignored.Test(uint(i)) {
			continue
		}
		kernels[i] = NewKernel(cfg.Kinds[i], cfg.Features[i], cfg.MVDMThreshold, cfg.MVDMDefault)
	}
	return &distanceTester{baseTester: base, kernels: kernels}
}

type baseTester struct {
	size      int
	effSize   int
	offset    int
	fv        []*symbol.FeatureValue
	perm      []int
	weights   []float64
	ignored   *bitset.BitSet
	distances []float64
}

func newBase(cfg Config) baseTester {
	n := len(cfg.Features)
	ignored := cfg.Ignored
	if ignored == nil {
		ignored = bitset.New(uint(n))
	}
	return baseTester{
		size:      n,
		effSize:   n,
		perm:      cfg.Permutation,
		weights:   cfg.Weights,
		ignored:   ignored,
		distances: make([]float64, n+1),
	}
}

func (t *baseTester) Init(inst *symbol.Instance, effective, offset int) {
	t.effSize = effective - offset
	t.offset = offset
	t.fv = inst.Values
}

func (t *baseTester) Distance(pos int) float64 { return t.distances[pos] }

// distanceTester sums weighted per-feature distances with early cutoff.
// One kernel per original feature position, picked through the permutation,
// so the inner loop does a single indirect call per feature.
type distanceTester struct {
	baseTester
	kernels []Kernel
}

func (t *distanceTester) Test(g []*symbol.FeatureValue, curPos int, threshold float64) int {
	for i := curPos; i < t.effSize; i++ {
		trueF := i + t.offset
		f := t.perm[trueF]
		var d float64
		if k := t.kernels[f]; k != nil {
			d = k.Distance(t.fv[trueF], g[i]) * t.weights[f]
		}
		t.distances[i+1] = t.distances[i] + d
		if t.distances[i+1] > threshold {
			return i
		}
	}
	return t.effSize
}

func innerProduct(a, b *symbol.FeatureValue) float64 {
	av, aok := a.Numeric()
	bv, bok := b.Numeric()
	if !aok || !bok {
		return 0
	}
	return av * bv
}

// cosineTester scores the whole vector at once; there is no early cutoff for
// similarity metrics. Distance is 1 - cosine.
type cosineTester struct {
	baseTester
}

func (t *cosineTester) Test(g []*symbol.FeatureValue, _ int, _ float64) int {
	var dot, normA, normB float64
	for i := 0; i < t.effSize; i++ {
		trueF := i + t.offset
		f := t.perm[trueF]
		if t.ignored.Test(uint(f)) {
			continue
		}
		w := t.weights[f]
		a, b := t.fv[trueF], g[i]
		normA += innerProduct(a, a) * w
		normB += innerProduct(b, b) * w
		dot += innerProduct(a, b) * w
	}
	t.distances[t.effSize] = dot / (math.Sqrt(normA*normB) + epsilon)
	return t.effSize
}

func (t *cosineTester) Distance(pos int) float64 { return 1 - t.distances[pos] }

// dotProductTester accumulates the weighted inner product over the whole
// vector. Distance is the negated product: larger products rank closer.
type dotProductTester struct {
	baseTester
}

func (t *dotProductTester) Test(g []*symbol.FeatureValue, curPos int, _ float64) int {
	for i := curPos; i < t.effSize; i++ {
		trueF := i + t.offset
		f := t.perm[trueF]
		var d float64
		if !t.ignored.Test(uint(f)) {
			d = innerProduct(t.fv[trueF], g[i]) * t.weights[f]
		}
		t.distances[i+1] = t.distances[i] + d
	}
	return t.effSize
}

func (t *dotProductTester) Distance(pos int) float64 { return -t.distances[pos] }
