package options

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuandriy/mblearn/internal/metric"
)

func TestDefaultsValidate(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestSetAlgorithmAndNeighbors(t *testing.T) {
	o := Default()
	require.NoError(t, o.SetOptions("-a IGTREE -k 3"))
	assert.Equal(t, IGTree, o.Algorithm)
	assert.Equal(t, 3, o.K)

	require.NoError(t, o.SetOptions("-a 4"))
	assert.Equal(t, TRIBL2, o.Algorithm)

	err := o.SetOptions("-a bogus")
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "-a", ce.Option)
}

func TestMetricGrammar(t *testing.T) {
	o := Default()
	require.NoError(t, o.SetOptions("-m M:N3:I1-2,5"))
	assert.Equal(t, metric.ValueDiff, o.GlobalMetric)
	assert.Equal(t, metric.Numeric, o.FeatureMetrics[2])
	assert.Equal(t, metric.Ignore, o.FeatureMetrics[0])
	assert.Equal(t, metric.Ignore, o.FeatureMetrics[1])
	assert.Equal(t, metric.Ignore, o.FeatureMetrics[4])
	assert.True(t, o.Ignored.Test(0))
	assert.True(t, o.Ignored.Test(4))
	assert.False(t, o.Ignored.Test(2))

	assert.Error(t, Default().SetOptions("-m Q"))
	assert.Error(t, Default().SetOptions("-m O:Z1"))
}

func TestMetricGrammarEmptyGlobalSegment(t *testing.T) {
	for _, spec := range []string{":N3", "OO:N1", "O:"} {
		err := Default().SetOptions("-m " + spec)
		require.Error(t, err, "spec %q", spec)
		var ce *ConfigError
		require.ErrorAs(t, err, &ce, "spec %q must report a config error, not panic", spec)
		assert.Equal(t, "-m", ce.Option)
	}
}

func TestEffectiveMetric(t *testing.T) {
	o := Default()
	require.NoError(t, o.SetOptions("-m O:N2"))
	assert.Equal(t, metric.Overlap, o.EffectiveMetric(0))
	assert.Equal(t, metric.Numeric, o.EffectiveMetric(1))
}

func TestDecayGrammar(t *testing.T) {
	o := Default()
	require.NoError(t, o.SetOptions("-d ED:0.5:2"))
	assert.Equal(t, ExpDecay, o.Decay)
	assert.InDelta(t, 0.5, o.DecayAlpha, 1e-12)
	assert.InDelta(t, 2, o.DecayBeta, 1e-12)

	require.NoError(t, o.SetOptions("-d IL"))
	assert.Equal(t, InvLinear, o.Decay)

	assert.Error(t, o.SetOptions("-d XX"))
}

func TestVerbosityMask(t *testing.T) {
	o := Default()
	require.NoError(t, o.SetOptions("+v db+di"))
	assert.NotZero(t, o.Verbosity&VDistrib)
	assert.NotZero(t, o.Verbosity&VDistance)
	require.NoError(t, o.SetOptions("-v db"))
	assert.Zero(t, o.Verbosity&VDistrib)
	assert.NotZero(t, o.Verbosity&VDistance)
	assert.Error(t, o.SetOptions("+v nope"))
}

func TestSingleAssignmentLocksAfterRealize(t *testing.T) {
	o := Default()
	require.NoError(t, o.SetOptions("-F C4.5 -N 3"))
	require.NoError(t, o.Realize())

	for _, line := range []string{"-F Columns", "-N 5", "-T 1", "+D", "--Threshold 2", "--TreeOrder 1,2,3"} {
		err := o.SetOptions(line)
		require.Error(t, err, "option %q must be locked", line)
		var ce *ConfigError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "LockError", ce.Code)
	}

	// session overrides stay available
	require.NoError(t, o.SetOptions("-k 5 -d IL +v db -w ig"))
	assert.Equal(t, 5, o.K)
}

func TestPerFeatureIgnoreLockedAfterRealize(t *testing.T) {
	o := Default()
	require.NoError(t, o.Realize())
	err := o.SetOptions("-m O:I1")
	require.Error(t, err)
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "LockError", ce.Code)
}

func TestSparseRequiresFeatureCount(t *testing.T) {
	o := Default()
	require.NoError(t, o.SetOptions("-F Sparse"))
	err := o.Validate()
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "-F", ce.Option)

	require.NoError(t, o.SetOptions("-N 10"))
	require.NoError(t, o.Validate())
}

func TestCosineRejectsFeatureMetricNamingFeature(t *testing.T) {
	o := Default()
	require.NoError(t, o.SetOptions("-m C:N2"))
	err := o.Validate()
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "-m", ce.Option)
	assert.Contains(t, ce.Msg, "feature 2")

	o2 := Default()
	require.NoError(t, o2.SetOptions("-m D:I1"))
	require.NoError(t, o2.Validate(), "Ignore is the only allowed override")
}

func TestSloppyRequiresLOO(t *testing.T) {
	o := Default()
	require.NoError(t, o.SetOptions("--sloppy"))
	assert.Error(t, o.Validate())
	require.NoError(t, o.SetOptions("-a LOO"))
	assert.NoError(t, o.Validate())
}

func TestIB2RequiresBootstrap(t *testing.T) {
	o := Default()
	require.NoError(t, o.SetOptions("-a IB2"))
	assert.Error(t, o.Validate())
	require.NoError(t, o.SetOptions("-b 10"))
	assert.NoError(t, o.Validate())
}

func TestThresholdRequiresTreeAlgorithm(t *testing.T) {
	o := Default()
	require.NoError(t, o.SetOptions("--Threshold 2"))
	assert.Error(t, o.Validate())
	require.NoError(t, o.SetOptions("-a TRIBL"))
	assert.NoError(t, o.Validate())
}

func TestCloneIsIndependent(t *testing.T) {
	o := Default()
	require.NoError(t, o.SetOptions("-m O:I1 -k 2"))
	c := o.Clone()
	require.NoError(t, c.SetOptions("-k 9 -m O:N2"))

	assert.Equal(t, 2, o.K)
	if diff := cmp.Diff(map[int]metric.Kind{0: metric.Ignore}, o.FeatureMetrics,
		cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("original feature metrics changed (-want +got):\n%s", diff)
	}
	assert.True(t, c.Ignored.Test(0))
	assert.False(t, o.Ignored.Test(1))
}

func TestShowSettings(t *testing.T) {
	o := Default()
	require.NoError(t, o.SetOptions("-a TRIBL2 -k 7 +v db"))
	var sb strings.Builder
	o.ShowSettings(&sb)
	out := sb.String()
	assert.Contains(t, out, "TRIBL2")
	assert.Contains(t, out, "NEIGHBORS (k)        : 7")
	assert.Contains(t, out, "db")
}

func TestMVDMThresholdOption(t *testing.T) {
	o := Default()
	require.NoError(t, o.SetOptions("-L 2:L"))
	assert.Equal(t, 2, o.MVDMThreshold)
	assert.Equal(t, metric.Levenshtein, o.MVDMDefault)
	assert.Error(t, o.SetOptions("-L 0"))
}
