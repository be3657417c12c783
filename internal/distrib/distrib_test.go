package distrib

import (
	"bufio"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuandriy/mblearn/internal/symbol"
)

func threeTargets(t *testing.T) (*symbol.Targets, *symbol.TargetValue, *symbol.TargetValue, *symbol.TargetValue) {
	t.Helper()
	targets := symbol.NewTargets()
	a := targets.Add("A")
	b := targets.Add("B")
	c := targets.Add("C")
	return targets, a, b, c
}

func TestIncDecTotal(t *testing.T) {
	_, a, b, _ := threeTargets(t)
	d := New()
	assert.False(t, d.Inc(a, 1))
	assert.True(t, d.Inc(a, 1))
	assert.False(t, d.Inc(b, 2))
	assert.InDelta(t, 4, d.Total(), Epsilon)

	require.NoError(t, d.Dec(a, 1))
	assert.InDelta(t, 3, d.Total(), Epsilon)
	assert.InDelta(t, 1, d.Weight(a), Epsilon)
}

func TestDecUnderflow(t *testing.T) {
	_, a, b, _ := threeTargets(t)
	d := New()
	d.Inc(a, 1)
	err := d.Dec(a, 2)
	require.ErrorIs(t, err, ErrUnderflow)
	assert.ErrorIs(t, d.Dec(b, 1), ErrUnderflow)
}

func TestZeroAfterFullDecrement(t *testing.T) {
	_, a, _, _ := threeTargets(t)
	d := New()
	d.Inc(a, 1)
	assert.False(t, d.Zero())
	require.NoError(t, d.Dec(a, 1))
	assert.True(t, d.Zero())
}

func TestMerge(t *testing.T) {
	_, a, b, c := threeTargets(t)
	d := New()
	d.Inc(a, 2)
	d.Inc(b, 1)
	o := New()
	o.Inc(b, 3)
	o.Inc(c, 1)
	d.Merge(o)
	assert.InDelta(t, 2, d.Weight(a), Epsilon)
	assert.InDelta(t, 4, d.Weight(b), Epsilon)
	assert.InDelta(t, 1, d.Weight(c), Epsilon)
	assert.InDelta(t, 7, d.Total(), Epsilon)
}

func TestBestTargetDeterministicTie(t *testing.T) {
	_, a, b, _ := threeTargets(t)
	d := New()
	d.Inc(b, 2)
	d.Inc(a, 2)
	best, tied := d.BestTarget(false, nil)
	assert.True(t, tied)
	assert.Same(t, a, best, "tie must break to the lower target index")
}

func TestBestTargetRandomTiePicksFromTiedSet(t *testing.T) {
	_, a, b, c := threeTargets(t)
	d := New()
	d.Inc(a, 2)
	d.Inc(b, 2)
	d.Inc(c, 1)
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		best, tied := d.BestTarget(true, rng)
		assert.True(t, tied)
		assert.NotSame(t, c, best)
	}
}

func TestBestTargetNoTie(t *testing.T) {
	_, _, b, _ := threeTargets(t)
	d := New()
	d.Inc(b, 3)
	best, tied := d.BestTarget(false, nil)
	assert.False(t, tied)
	assert.Equal(t, "B", best.Name())
}

func TestSaveAscendingIndex(t *testing.T) {
	_, a, b, c := threeTargets(t)
	d := New()
	d.Inc(c, 1)
	d.Inc(a, 2.5)
	d.Inc(b, 3)
	assert.Equal(t, "{ A 2.5, B 3, C 1 }", d.Save())
	assert.Equal(t, "{ 1 2.5, 2 3, 3 1 }", d.SaveHashed())
}

func TestReadRoundTrip(t *testing.T) {
	_, a, b, _ := threeTargets(t)
	d := New()
	d.Inc(a, 2)
	d.Inc(b, 0.5)
	text := d.Save()

	targets2 := symbol.NewTargets()
	got, err := Read(bufio.NewReader(strings.NewReader(text)), targets2, true)
	require.NoError(t, err)
	assert.Equal(t, text, got.Save())
	assert.Equal(t, 1, targets2.Lookup("A").Index())
	assert.Equal(t, 2, targets2.Lookup("B").Index())
}

func TestReadUnknownLabelFails(t *testing.T) {
	targets := symbol.NewTargets()
	targets.Add("A")
	_, err := Read(bufio.NewReader(strings.NewReader("{ B 1 }")), targets, false)
	require.Error(t, err)
}

func TestReadHashedRoundTrip(t *testing.T) {
	targets, a, _, c := threeTargets(t)
	d := New()
	d.Inc(a, 1)
	d.Inc(c, 4)
	text := d.SaveHashed()
	got, err := ReadHashed(bufio.NewReader(strings.NewReader(text)), targets)
	require.NoError(t, err)
	assert.Equal(t, text, got.SaveHashed())
}

func TestWeightedCopy(t *testing.T) {
	_, a, _, _ := threeTargets(t)
	d := New()
	d.Inc(a, 3)
	w := d.WeightedCopy()
	assert.False(t, d.Weighted())
	assert.True(t, w.Weighted())
	assert.InDelta(t, 3, w.Weight(a), Epsilon)
	w.Inc(a, 1)
	assert.InDelta(t, 3, d.Weight(a), Epsilon, "copy must be independent")
}

func TestNormalize(t *testing.T) {
	targets, a, b, _ := threeTargets(t)
	d := New()
	d.Inc(a, 3)
	d.Inc(b, 1)
	d.Normalize(targets, 0)
	assert.InDelta(t, 0.75, d.Weight(a), Epsilon)
	assert.InDelta(t, 0.25, d.Weight(b), Epsilon)
	assert.InDelta(t, 1, d.Total(), Epsilon)
}

func TestMergeScaled(t *testing.T) {
	_, a, b, _ := threeTargets(t)
	src := New()
	src.Inc(a, 2)
	src.Inc(b, 1)
	dst := NewWeighted()
	dst.MergeScaled(src, 0.5)
	assert.InDelta(t, 1, dst.Weight(a), Epsilon)
	assert.InDelta(t, 0.5, dst.Weight(b), Epsilon)
}
