package ibtree

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuandriy/mblearn/internal/distrib"
	"github.com/kuandriy/mblearn/internal/symbol"
)

func singleTargetDist(tv *symbol.TargetValue, w float64) *distrib.Distribution {
	d := distrib.New()
	d.Inc(tv, w)
	return d
}

func TestBestArrayThresholdExpands(t *testing.T) {
	targets := symbol.NewTargets()
	a := targets.Add("A")
	b := NewBestArray(2, 10)

	assert.True(t, math.IsInf(b.Threshold(), 1), "+Inf until k ranks are known")
	b.Add(3, singleTargetDist(a, 1))
	assert.True(t, math.IsInf(b.Threshold(), 1))
	b.Add(1, singleTargetDist(a, 1))
	assert.InDelta(t, 3, b.Threshold(), distrib.Epsilon)
	b.Add(2, singleTargetDist(a, 1))
	assert.InDelta(t, 2, b.Threshold(), distrib.Epsilon)
	assert.Equal(t, []float64{1, 2}, b.Distances(), "the rank past the new k-th is evicted")
}

func TestBestArrayTiesJoinRank(t *testing.T) {
	targets := symbol.NewTargets()
	a := targets.Add("A")
	bb := targets.Add("B")
	b := NewBestArray(1, 10)

	b.Add(0.5, singleTargetDist(a, 1))
	b.Add(0.5, singleTargetDist(bb, 1))
	assert.Equal(t, 1, b.Size(), "ties share one distance rank")
	require.Len(t, b.Neighbors()[0].Dists, 2)

	merged := b.Extract(nil)
	assert.InDelta(t, 1, merged.Weight(a), distrib.Epsilon)
	assert.InDelta(t, 1, merged.Weight(bb), distrib.Epsilon)
}

func TestBestArrayOrderedDistances(t *testing.T) {
	targets := symbol.NewTargets()
	a := targets.Add("A")
	b := NewBestArray(3, 10)
	for _, d := range []float64{2, 0.1, 1, 0.5} {
		b.Add(d, singleTargetDist(a, 1))
	}
	assert.Equal(t, []float64{0.1, 0.5, 1}, b.Distances())
	assert.InDelta(t, 1, b.Threshold(), distrib.Epsilon)
}

func TestBestArrayDecayWeighting(t *testing.T) {
	targets := symbol.NewTargets()
	near := targets.Add("near")
	far := targets.Add("far")
	b := NewBestArray(2, 10)
	b.Add(1, singleTargetDist(near, 1))
	b.Add(3, singleTargetDist(far, 1))

	merged := b.Extract(func(d float64) float64 { return 1 / d })
	assert.InDelta(t, 1, merged.Weight(near), 1e-9)
	assert.InDelta(t, 1.0/3.0, merged.Weight(far), 1e-9)

	uniform := b.Extract(nil)
	assert.InDelta(t, uniform.Weight(near), uniform.Weight(far), distrib.Epsilon)
}

func TestBestArrayResetAndCap(t *testing.T) {
	targets := symbol.NewTargets()
	a := targets.Add("A")
	b := NewBestArray(2, 3)
	for i := 1; i <= 6; i++ {
		b.Add(float64(i), singleTargetDist(a, 1))
	}
	assert.LessOrEqual(t, b.Size(), 3)
	b.Reset()
	assert.Zero(t, b.Size())
	assert.True(t, math.IsInf(b.Threshold(), 1))
}
