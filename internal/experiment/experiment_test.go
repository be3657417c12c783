package experiment

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuandriy/mblearn/internal/options"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func learn(t *testing.T, optStr, training string) *Experiment {
	t.Helper()
	opts := options.Default()
	require.NoError(t, opts.SetOptions(optStr))
	e := New(opts, discardLogger())
	require.NoError(t, e.LearnFrom(strings.NewReader(training)))
	return e
}

func category(t *testing.T, e *Experiment, line string) string {
	t.Helper()
	res, err := e.Classify(line)
	require.NoError(t, err)
	require.NotNil(t, res.Category)
	return res.Category.Name()
}

const xorTraining = "0,0,-\n0,1,+\n1,0,+\n1,1,-\n"

func TestXOROverlapK1(t *testing.T) {
	e := learn(t, "-a IB1 -k 1 -m O -w nw", xorTraining)
	assert.Equal(t, "-", category(t, e, "0,0,-"))
	assert.Equal(t, "+", category(t, e, "1,0,+"))
	assert.Equal(t, "+", category(t, e, "0,1"))
	assert.Equal(t, "-", category(t, e, "1,1"))
}

const numericTraining = "1,A\n2,A\n10,B\n11,B\n"

func TestNumericNearest(t *testing.T) {
	e := learn(t, "-a IB1 -k 1 -m N -w nw", numericTraining)
	assert.Equal(t, "A", category(t, e, "3"))
	assert.Equal(t, "B", category(t, e, "9"))
}

func TestNumericK3InverseLinearTieBreaksLow(t *testing.T) {
	e := learn(t, "-a IB1 -k 3 -m N -w nw -d IL", numericTraining)
	// 6 sits symmetrically between both classes; the tie breaks to the
	// lower-indexed class, which is A.
	assert.Equal(t, "A", category(t, e, "6"))
}

func TestMVDMFallsBackToOverlapDistance(t *testing.T) {
	e := learn(t, "-a IB1 -k 1 -m M -L 2 -w nw", "a,p\nb,q\nc,r\n")
	res, err := e.Classify("d")
	require.NoError(t, err)
	// every stored value is under the frequency threshold, so the pair
	// scores as Overlap: the unseen value mismatches everything at 1.
	assert.InDelta(t, 1.0, res.Distance, 1e-9)
}

func TestIGTreeCollapsesAndAnswers(t *testing.T) {
	weights := "1 1.0\n2 0.5\n"
	dir := t.TempDir()
	wf := dir + "/weights"
	require.NoError(t, writeFile(wf, weights))

	e := learn(t, "-a IGTREE -w "+wf, "a,x,+\na,y,+\nb,x,-\nb,y,-\n")
	require.True(t, e.Tree().Pruned())
	assert.Equal(t, 3, e.Tree().NodeCount(), "the second feature collapses away")
	assert.Equal(t, "+", category(t, e, "a,z"))
	assert.Equal(t, "-", category(t, e, "b,q"))
}

func TestIGTreeUnknownPrefixAnswersTop(t *testing.T) {
	e := learn(t, "-a IGTREE -w nw", "a,x,+\na,y,+\nb,x,-\n")
	res, err := e.Classify("q,q")
	require.NoError(t, err)
	assert.Equal(t, "+", res.Category.Name(), "the majority class answers a full miss")
	assert.Equal(t, 0, res.MatchDepth)
}

func TestIB2InsertsOnlyOnMisclassification(t *testing.T) {
	training := xorTraining + xorTraining + xorTraining
	e := learn(t, "-a IB2 -b 4 -k 1 -m O -w nw", training)
	// after the bootstrap holds all four patterns, repeated passes add
	// nothing: every repeat classifies correctly
	assert.Equal(t, 4, e.Tree().LeafCount())
	assert.Len(t, e.instances, 4)
}

func TestIB2GrowsUntilPlateau(t *testing.T) {
	training := "a,1,X\nb,2,Y\na,2,X\nb,1,Y\na,1,X\nb,2,Y\n"
	e := learn(t, "-a IB2 -b 1 -k 1 -m O -w nw", training)
	leaves := e.Tree().LeafCount()
	assert.GreaterOrEqual(t, leaves, 2, "misclassified instances must be added")
	assert.LessOrEqual(t, leaves, 4)
}

func TestLeaveOneOut(t *testing.T) {
	e := learn(t, "-a LOO -k 1 -m O -w nw", "a,x,+\na,y,+\na,z,+\nb,x,-\nb,y,-\nb,z,-\n")
	score, err := e.LeaveOneOut()
	require.NoError(t, err)
	assert.Equal(t, 6, score.Total)
	assert.Equal(t, 6, score.Correct, "each held-out instance still has a same-class neighbor on feature 1")

	// the base must be intact afterwards
	assert.Equal(t, "+", category(t, e, "a,x"))
}

func TestCrossValidate(t *testing.T) {
	dir := t.TempDir()
	folds := []string{dir + "/f1", dir + "/f2", dir + "/f3"}
	data := []string{"a,x,+\nb,x,-\n", "a,y,+\nb,y,-\n", "a,z,+\nb,z,-\n"}
	for i, f := range folds {
		require.NoError(t, writeFile(f, data[i]))
	}
	opts := options.Default()
	require.NoError(t, opts.SetOptions("-k 1 -m O -w nw"))
	scores, err := CrossValidate(opts, discardLogger(), folds)
	require.NoError(t, err)
	require.Len(t, scores, 3)
	for i, s := range scores {
		assert.Equal(t, 2, s.Total, "fold %d", i+1)
		assert.Equal(t, 2, s.Correct, "fold %d: feature 1 separates the classes", i+1)
	}
}

func TestTriblFallsBackToNN(t *testing.T) {
	e := learn(t, "-a TRIBL --Threshold 1 -k 1 -m O -w nw", "a,x,1,+\na,y,2,-\nb,x,1,-\n")
	assert.Equal(t, "+", category(t, e, "a,x,1"))
	assert.Equal(t, "-", category(t, e, "a,y,2"))
}

func TestTribl2ExactAndPartial(t *testing.T) {
	e := learn(t, "-a TRIBL2 -k 1 -m O -w nw", "a,x,+\nb,y,-\n")
	assert.Equal(t, "+", category(t, e, "a,x"))
	assert.Equal(t, "-", category(t, e, "b,x"))
}

func TestExactMatchShortcut(t *testing.T) {
	e := learn(t, "-a IB1 -k 1 -m O -w nw +x", xorTraining)
	res, err := e.Classify("0,0")
	require.NoError(t, err)
	assert.True(t, res.ExactMatch)
	assert.Equal(t, "-", res.Category.Name())
}

func TestClassifyUnseenValueLeavesTablesUntouched(t *testing.T) {
	e := learn(t, "-a IB1 -k 1 -m O -w nw", xorTraining)
	before := []int{e.feats[0].Len(), e.feats[1].Len()}

	res, err := e.Classify("7,9")
	require.NoError(t, err)
	require.NotNil(t, res.Category)

	assert.Equal(t, before[0], e.feats[0].Len(), "a request must not intern new values")
	assert.Equal(t, before[1], e.feats[1].Len())
	assert.Nil(t, e.feats[0].Lookup("7"))
}

func TestUnseenNumericValueStillMeasures(t *testing.T) {
	e := learn(t, "-a IB1 -k 1 -m N -w nw", numericTraining)
	assert.Equal(t, "A", category(t, e, "3"))
	assert.Nil(t, e.feats[0].Lookup("3"), "the query value stays out of the shared table")
}

func TestNonNumericValueRejected(t *testing.T) {
	e := learn(t, "-a IB1 -m N -w nw", numericTraining)
	_, err := e.Classify("banana")
	require.Error(t, err)
}

func TestCloneSessionsAreIndependent(t *testing.T) {
	e := learn(t, "-a IB1 -k 1 -m O -w nw", xorTraining)
	s1 := e.Clone()
	s2 := e.Clone()
	require.NoError(t, s1.Opts.SetOptions("-k 4"))
	s1.RefreshSession()

	assert.Equal(t, 1, s2.Opts.K)
	assert.Equal(t, "+", category(t, s2, "1,0"))
	// s1 with k=4 sees the whole tied set
	res, err := s1.Classify("1,0")
	require.NoError(t, err)
	require.NotNil(t, res.Category)
}

func TestSaveAndLoadTreeClassifiesTheSame(t *testing.T) {
	e := learn(t, "-a IB1 -k 1 -m O -w nw", xorTraining)
	dir := t.TempDir()
	path := dir + "/base.ibase"
	require.NoError(t, e.SaveTree(path, false))

	opts := options.Default()
	require.NoError(t, opts.SetOptions("-a IB1 -k 1 -m O -w nw -N 2 -F C4.5"))
	loaded := New(opts, discardLogger())
	require.NoError(t, loaded.LoadTree(path))
	assert.Equal(t, "+", category(t, loaded, "1,0"))
	assert.Equal(t, "-", category(t, loaded, "0,0"))
}

func TestNormalizationProducesProbabilities(t *testing.T) {
	e := learn(t, "-a IB1 -k 3 -m O -w nw -G 0", xorTraining)
	res, err := e.Classify("0,0")
	require.NoError(t, err)
	require.NotNil(t, res.Distribution)
	assert.InDelta(t, 1.0, res.Distribution.Total(), 1e-9)
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
