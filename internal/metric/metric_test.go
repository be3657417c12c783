package metric

import (
	"math"
	"testing"

	"github.com/bits-and-blooms/bitset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuandriy/mblearn/internal/symbol"
)

func TestKindFromCode(t *testing.T) {
	for code, want := range map[byte]Kind{
		'O': Overlap, 'M': ValueDiff, 'N': Numeric, 'J': JeffreyDiv,
		'L': Levenshtein, 'D': DotProduct, 'C': Cosine, 'I': Ignore,
	} {
		got, ok := KindFromCode(code)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	_, ok := KindFromCode('Q')
	assert.False(t, ok)
}

func TestOverlap(t *testing.T) {
	f := symbol.NewFeature()
	a := f.Intern("a")
	b := f.Intern("b")
	k := NewKernel(Overlap, f, 0, Unknown)
	assert.Zero(t, k.Distance(a, a))
	assert.Equal(t, 1.0, k.Distance(a, b))
}

func TestLevenshtein(t *testing.T) {
	f := symbol.NewFeature()
	kitten := f.Intern("kitten")
	sitting := f.Intern("sitting")
	empty := f.Intern("")
	k := NewKernel(Levenshtein, f, 0, Unknown)

	assert.InDelta(t, 3.0/7.0, k.Distance(kitten, sitting), 1e-12)
	assert.Zero(t, k.Distance(kitten, kitten))
	assert.Equal(t, 1.0, k.Distance(kitten, empty))
}

func TestNumericScalesByRange(t *testing.T) {
	f := symbol.NewFeature()
	v0 := f.Intern("0")
	f.Intern("10")
	v4 := f.Intern("4")
	k := NewKernel(Numeric, f, 0, Unknown)
	assert.InDelta(t, 0.4, k.Distance(v0, v4), 1e-12)
}

// twoClassFeature sets up a value table where "x" only occurs with class 1
// and "y" only with class 2, each n times.
func twoClassFeature(n int) (*symbol.Feature, *symbol.FeatureValue, *symbol.FeatureValue) {
	f := symbol.NewFeature()
	var x, y *symbol.FeatureValue
	for i := 0; i < n; i++ {
		x = f.Intern("x")
		x.IncClass(1, 1)
		y = f.Intern("y")
		y.IncClass(2, 1)
	}
	return f, x, y
}

func TestMVDMFullySeparatedValues(t *testing.T) {
	f, x, y := twoClassFeature(3)
	k := NewKernel(ValueDiff, f, 2, Overlap)
	// P(c1|x)=1, P(c1|y)=0 and symmetric: L1 distance 2
	assert.InDelta(t, 2, k.Distance(x, y), 1e-12)
}

func TestMVDMFallsBackUnderThreshold(t *testing.T) {
	f, x, y := twoClassFeature(1)
	k := NewKernel(ValueDiff, f, 2, Overlap)
	assert.Equal(t, 1.0, k.Distance(x, y), "under-threshold pair must score as Overlap")
}

func TestJeffreyDivergence(t *testing.T) {
	f, x, y := twoClassFeature(2)
	k := NewKernel(JeffreyDiv, f, 0, Unknown)
	// disjoint class profiles: p*log2(2p/p) summed over both sides = 2
	assert.InDelta(t, 2, k.Distance(x, y), 1e-12)
	assert.Zero(t, k.Distance(x, x))
}

// buildTester sets up a three-feature overlap tester with unit weights.
func buildTester(t *testing.T) (Tester, []*symbol.Feature, *symbol.Instance, []*symbol.FeatureValue) {
	t.Helper()
	feats := make([]*symbol.Feature, 3)
	test := &symbol.Instance{Values: make([]*symbol.FeatureValue, 3)}
	cand := make([]*symbol.FeatureValue, 3)
	for i := range feats {
		feats[i] = symbol.NewFeature()
		test.Values[i] = feats[i].Intern("a")
		cand[i] = feats[i].Intern("b")
	}
	tester := New(Overlap, Config{
		Features:    feats,
		Kinds:       []Kind{Overlap, Overlap, Overlap},
		Weights:     []float64{1, 1, 1},
		Permutation: []int{0, 1, 2},
		Ignored:     bitset.New(3),
	})
	tester.Init(test, 3, 0)
	return tester, feats, test, cand
}

func TestTesterAccumulates(t *testing.T) {
	tester, _, test, cand := buildTester(t)
	end := tester.Test(cand, 0, math.Inf(1))
	assert.Equal(t, 3, end)
	assert.InDelta(t, 3, tester.Distance(3), 1e-12)

	// identical vector scores zero
	end = tester.Test(test.Values, 0, math.Inf(1))
	assert.Equal(t, 3, end)
	assert.Zero(t, tester.Distance(3))
}

func TestTesterEarlyCutoff(t *testing.T) {
	tester, _, _, cand := buildTester(t)
	end := tester.Test(cand, 0, 1.5)
	assert.Equal(t, 1, end, "the running sum passes 1.5 at the second feature")
	assert.InDelta(t, 2, tester.Distance(end+1), 1e-12)
}

func TestTesterRestartsMidVector(t *testing.T) {
	tester, feats, test, cand := buildTester(t)
	require.Equal(t, 3, tester.Test(cand, 0, math.Inf(1)))

	// only the last feature differs now; recompute from position 2
	cand2 := []*symbol.FeatureValue{test.Values[0], test.Values[1], feats[2].Intern("c")}
	require.Equal(t, 3, tester.Test(cand2, 0, math.Inf(1)))
	full := tester.Distance(3)

	tester.Test(test.Values, 0, math.Inf(1))
	tester.Test(cand2, 2, math.Inf(1))
	assert.InDelta(t, full, tester.Distance(3), 1e-12)
}

func TestTesterSkipsIgnoredFeature(t *testing.T) {
	feats := make([]*symbol.Feature, 2)
	test := &symbol.Instance{Values: make([]*symbol.FeatureValue, 2)}
	cand := make([]*symbol.FeatureValue, 2)
	for i := range feats {
		feats[i] = symbol.NewFeature()
		test.Values[i] = feats[i].Intern("a")
		cand[i] = feats[i].Intern("b")
	}
	ignored := bitset.New(2)
	ignored.Set(1)
	tester := New(Overlap, Config{
		Features:    feats,
		Kinds:       []Kind{Overlap, Ignore},
		Weights:     []float64{1, 1},
		Permutation: []int{0, 1},
		Ignored:     ignored,
	})
	tester.Init(test, 2, 0)
	tester.Test(cand, 0, math.Inf(1))
	assert.InDelta(t, 1, tester.Distance(2), 1e-12)
}

func TestCosineTester(t *testing.T) {
	feats := make([]*symbol.Feature, 2)
	test := &symbol.Instance{Values: make([]*symbol.FeatureValue, 2)}
	same := make([]*symbol.FeatureValue, 2)
	ortho := make([]*symbol.FeatureValue, 2)
	vals := [][3]string{{"1", "1", "0"}, {"0", "0", "1"}}
	for i := range feats {
		feats[i] = symbol.NewFeature()
		test.Values[i] = feats[i].Intern(vals[i][0])
		same[i] = feats[i].Intern(vals[i][1])
		ortho[i] = feats[i].Intern(vals[i][2])
	}
	tester := New(Cosine, Config{
		Features:    feats,
		Kinds:       []Kind{Numeric, Numeric},
		Weights:     []float64{1, 1},
		Permutation: []int{0, 1},
		Ignored:     bitset.New(2),
	})
	tester.Init(test, 2, 0)

	tester.Test(same, 0, 0)
	assert.InDelta(t, 0, tester.Distance(2), 1e-6, "parallel vectors are at distance 0")
	tester.Test(ortho, 0, 0)
	assert.InDelta(t, 1, tester.Distance(2), 1e-6, "orthogonal vectors are at distance 1")
}

func TestDotProductTester(t *testing.T) {
	feats := make([]*symbol.Feature, 2)
	test := &symbol.Instance{Values: make([]*symbol.FeatureValue, 2)}
	big := make([]*symbol.FeatureValue, 2)
	small := make([]*symbol.FeatureValue, 2)
	for i := range feats {
		feats[i] = symbol.NewFeature()
		test.Values[i] = feats[i].Intern("2")
		big[i] = feats[i].Intern("3")
		small[i] = feats[i].Intern("1")
	}
	tester := New(DotProduct, Config{
		Features:    feats,
		Kinds:       []Kind{Numeric, Numeric},
		Weights:     []float64{1, 1},
		Permutation: []int{0, 1},
		Ignored:     bitset.New(2),
	})
	tester.Init(test, 2, 0)

	tester.Test(big, 0, 0)
	dBig := tester.Distance(2)
	tester.Test(small, 0, 0)
	dSmall := tester.Distance(2)
	assert.Less(t, dBig, dSmall, "the larger product must rank closer")
}
