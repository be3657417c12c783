package symbol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTargetInterning(t *testing.T) {
	targets := NewTargets()
	a := targets.Intern("yes")
	b := targets.Intern("no")
	again := targets.Intern("yes")

	assert.Same(t, a, again)
	assert.Equal(t, 1, a.Index())
	assert.Equal(t, 2, b.Index())
	assert.InDelta(t, 2, a.Freq(), 1e-12)
	assert.InDelta(t, 1, b.Freq(), 1e-12)
	assert.Same(t, b, targets.ByIndex(2))
	assert.Nil(t, targets.ByIndex(3))
}

func TestAddDoesNotCount(t *testing.T) {
	targets := NewTargets()
	a := targets.Add("yes")
	assert.Zero(t, a.Freq())
	assert.Equal(t, 1, a.Index())
}

func TestFeatureValueClassCounts(t *testing.T) {
	f := NewFeature()
	fv := f.Intern("red")
	f.Intern("red")
	fv.IncClass(1, 1)
	fv.IncClass(1, 1)
	fv.IncClass(3, 0)

	assert.InDelta(t, 2, fv.Freq(), 1e-12)
	assert.InDelta(t, 2, fv.ClassCount(1), 1e-12)
	assert.Equal(t, []int{1, 3}, fv.ClassIndices())
}

func TestReconstructDistribution(t *testing.T) {
	f := NewFeature()
	fv := f.Intern("red")
	fv.IncClass(1, 1)
	fv.ReconstructDistribution(map[int]float64{2: 3, 4: 1})

	assert.InDelta(t, 4, fv.Freq(), 1e-12, "frequency follows the new counts")
	assert.Zero(t, fv.ClassCount(1))
	assert.InDelta(t, 3, fv.ClassCount(2), 1e-12)
	assert.Equal(t, []int{2, 4}, fv.ClassIndices())
}

func TestNumericRange(t *testing.T) {
	f := NewFeature()
	f.Intern("2.5")
	f.Intern("10")
	f.Intern("-1")
	f.Intern("oops")

	lo, hi, ok := f.Range()
	require.True(t, ok)
	assert.InDelta(t, -1, lo, 1e-12)
	assert.InDelta(t, 10, hi, 1e-12)

	v, ok := f.Lookup("2.5").Numeric()
	require.True(t, ok)
	assert.InDelta(t, 2.5, v, 1e-12)
	_, ok = f.Lookup("oops").Numeric()
	assert.False(t, ok)
}

func TestValueOrderIsInsertionOrder(t *testing.T) {
	f := NewFeature()
	f.Intern("c")
	f.Intern("a")
	f.Intern("b")
	var names []string
	for _, fv := range f.Values() {
		names = append(names, fv.Name())
	}
	assert.Equal(t, []string{"c", "a", "b"}, names)
	assert.Equal(t, 2, f.Lookup("a").Index())
}
