// Package experiment wires the tables, trie, metrics, and option state into
// runnable train/classify pipelines for the supported algorithms.
package experiment

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"sort"
	"strings"

	"github.com/kuandriy/mblearn/internal/corpus"
	"github.com/kuandriy/mblearn/internal/distrib"
	"github.com/kuandriy/mblearn/internal/ibtree"
	"github.com/kuandriy/mblearn/internal/metric"
	"github.com/kuandriy/mblearn/internal/options"
	"github.com/kuandriy/mblearn/internal/symbol"
)

// ErrNotTrained is returned when classification is requested before Learn.
var ErrNotTrained = errors.New("no instance base has been built yet")

// Experiment holds one trained model and everything a classification needs.
// After training it is frozen; concurrent sessions work on Clones.
type Experiment struct {
	Opts *options.Options

	log *slog.Logger
	rng *rand.Rand

	feats     []*symbol.Feature // original feature order
	targets   *symbol.Targets
	weights   []float64 // per original feature
	perm      []int     // tree position -> original feature
	permFeats []*symbol.Feature
	tree      *ibtree.Root
	tester    metric.Tester
	bests     *ibtree.BestArray
	instances []*symbol.Instance // tree order, for LOO and IB2 passes
	trained   bool
}

// New creates an experiment over the given options.
func New(opts *options.Options, log *slog.Logger) *Experiment {
	if log == nil {
		log = slog.Default()
	}
	return &Experiment{
		Opts: opts,
		log:  log,
		rng:  rand.New(rand.NewSource(opts.Seed)),
	}
}

// Result is one classification answer.
type Result struct {
	Input        string
	Category     *symbol.TargetValue
	Distribution *distrib.Distribution
	Distance     float64
	Tie          bool
	ExactMatch   bool
	MatchDepth   int
	AtLeaf       bool
	Neighbors    []ibtree.Neighbor
}

// Trained reports whether Learn has completed.
func (e *Experiment) Trained() bool { return e.trained }

// Targets exposes the class-label table.
func (e *Experiment) Targets() *symbol.Targets { return e.targets }

// Tree exposes the instance base.
func (e *Experiment) Tree() *ibtree.Root { return e.tree }

// Weights exposes the per-feature weights in original feature order.
func (e *Experiment) Weights() []float64 { return e.weights }

// Learn reads the training file, builds the weighted and permuted instance
// base, and freezes the model.
func (e *Experiment) Learn(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("cannot open training file: %w", err)
	}
	defer f.Close()
	if err := e.LearnFrom(f); err != nil {
		return fmt.Errorf("training on %s: %w", path, err)
	}
	e.log.Info("training done", "file", path,
		"instances", len(e.instances),
		"nodes", e.tree.NodeCount(), "leaves", e.tree.LeafCount())
	return nil
}

// LearnFrom is Learn over an arbitrary reader.
func (e *Experiment) LearnFrom(r io.Reader) error {
	lines, err := e.readAll(r)
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		return errors.New("no instances found")
	}
	if err := e.Opts.Realize(); err != nil {
		return err
	}

	e.internAll(lines)
	if err := e.computeWeights(); err != nil {
		return err
	}
	e.buildPermutation()

	raw := e.buildInstances(lines)
	e.tree = ibtree.New(len(e.feats), e.Opts.RandomTies, e.keepDistributions(), e.rng)

	if e.Opts.Algorithm == options.IB2 {
		e.learnIB2(raw)
	} else {
		for _, inst := range raw {
			e.tree.Add(inst)
		}
		e.instances = raw
	}

	switch e.Opts.Algorithm {
	case options.IGTree:
		e.tree.AssignDefaults()
		e.tree.Prune()
	case options.TRIBL:
		e.tree.AssignDefaultsThreshold(e.triblThreshold())
	default:
		e.tree.AssignDefaults()
	}

	e.tester = e.newTester()
	e.bests = ibtree.NewBestArray(e.Opts.K, e.Opts.MaxBests)
	e.trained = true
	return nil
}

// keepDistributions reports whether internal nodes retain distributions.
// The TRIBL modes answer from internal nodes and hand out partitions, so
// they always keep them.
func (e *Experiment) keepDistributions() bool {
	return e.Opts.KeepDist ||
		e.Opts.Algorithm == options.TRIBL || e.Opts.Algorithm == options.TRIBL2
}

func (e *Experiment) triblThreshold() int {
	if e.Opts.IGThreshold > 0 {
		return e.Opts.IGThreshold
	}
	return 1
}

// readAll drains the corpus, skipping malformed lines with a warning.
func (e *Experiment) readAll(r io.Reader) ([]*corpus.Line, error) {
	cr := corpus.NewReader(r, e.Opts)
	var lines []*corpus.Line
	for {
		line, err := cr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, corpus.ErrParse) {
			e.log.Warn("skipping instance", "err", err)
			continue
		}
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if e.Opts.NumFeatures == 0 {
		e.Opts.NumFeatures = cr.NumFeatures()
	}
	if e.Opts.Format == options.UnknownFormat {
		e.Opts.Format = cr.Format()
	}
	return lines, nil
}

// internAll fills the value and target tables in data order.
func (e *Experiment) internAll(lines []*corpus.Line) {
	n := e.Opts.NumFeatures
	e.feats = make([]*symbol.Feature, n)
	for i := range e.feats {
		e.feats[i] = symbol.NewFeature()
	}
	e.targets = symbol.NewTargets()
	for _, line := range lines {
		tv := e.targets.Intern(line.Target)
		for i, name := range line.Fields {
			fv := e.feats[i].Intern(name)
			fv.IncClass(tv.Index(), line.Weight)
		}
	}
}

// buildPermutation fixes the tree order: an explicit order when given,
// otherwise features by decreasing weight with ignored features last.
func (e *Experiment) buildPermutation() {
	n := len(e.feats)
	if len(e.Opts.TreeOrder) == n {
		e.perm = append([]int(nil), e.Opts.TreeOrder...)
	} else {
		e.perm = make([]int, n)
		for i := range e.perm {
			e.perm[i] = i
		}
		sort.SliceStable(e.perm, func(a, b int) bool {
			fa, fb := e.perm[a], e.perm[b]
			ia, ib := e.Opts.Ignored.Test(uint(fa)), e.Opts.Ignored.Test(uint(fb))
			if ia != ib {
				return ib
			}
			return e.weights[fa] > e.weights[fb]
		})
	}
	e.permFeats = make([]*symbol.Feature, n)
	for pos, f := range e.perm {
		e.permFeats[pos] = e.feats[f]
	}
}

// buildInstances converts parsed lines into permuted instances.
func (e *Experiment) buildInstances(lines []*corpus.Line) []*symbol.Instance {
	out := make([]*symbol.Instance, len(lines))
	for i, line := range lines {
		inst := &symbol.Instance{
			Values: make([]*symbol.FeatureValue, len(e.perm)),
			Target: e.targets.Lookup(line.Target),
			Weight: line.Weight,
		}
		for pos, f := range e.perm {
			inst.Values[pos] = e.feats[f].Lookup(line.Fields[f])
		}
		out[i] = inst
	}
	return out
}

// learnIB2 inserts the bootstrap unconditionally, then only instances the
// current base misclassifies.
func (e *Experiment) learnIB2(raw []*symbol.Instance) {
	boot := e.Opts.Bootstrap
	if boot > len(raw) {
		boot = len(raw)
	}
	for _, inst := range raw[:boot] {
		e.tree.Add(inst)
		e.instances = append(e.instances, inst)
	}
	e.tester = e.newTester()
	e.bests = ibtree.NewBestArray(e.Opts.K, e.Opts.MaxBests)
	for _, inst := range raw[boot:] {
		res := e.classifyNN(e.tree, inst, 0)
		if res.Category != inst.Target {
			e.tree.Add(inst)
			e.instances = append(e.instances, inst)
		}
	}
}

func (e *Experiment) newTester() metric.Tester {
	n := len(e.feats)
	kinds := make([]metric.Kind, n)
	for i := 0; i < n; i++ {
		kinds[i] = e.Opts.EffectiveMetric(i)
	}
	return metric.New(e.Opts.GlobalMetric, metric.Config{
		Features:      e.feats,
		Kinds:         kinds,
		Weights:       e.weights,
		Permutation:   e.perm,
		Ignored:       e.Opts.Ignored,
		MVDMThreshold: e.Opts.MVDMThreshold,
		MVDMDefault:   e.Opts.MVDMDefault,
	})
}

// Clone returns a session view: the trie and tables are shared read-only,
// the options, tester, scratchpad, and best array are owned.
func (e *Experiment) Clone() *Experiment {
	out := &Experiment{
		Opts:      e.Opts.Clone(),
		log:       e.log,
		rng:       rand.New(rand.NewSource(e.Opts.Seed)),
		feats:     e.feats,
		targets:   e.targets,
		weights:   e.weights,
		perm:      e.perm,
		permFeats: e.permFeats,
		instances: e.instances,
		trained:   e.trained,
	}
	if e.tree != nil {
		out.tree = e.tree.Copy()
	}
	if e.trained {
		out.tester = out.newTester()
		out.bests = ibtree.NewBestArray(out.Opts.K, out.Opts.MaxBests)
	}
	return out
}

// RefreshSession rebuilds the session-owned pieces after a SET changed k,
// metric parameters, or decay.
func (e *Experiment) RefreshSession() {
	if !e.trained {
		return
	}
	e.tester = e.newTester()
	e.bests = ibtree.NewBestArray(e.Opts.K, e.Opts.MaxBests)
}

// Classify parses one instance line and classifies it.
func (e *Experiment) Classify(line string) (*Result, error) {
	if !e.trained {
		return nil, ErrNotTrained
	}
	inst, err := e.parseTest(line)
	if err != nil {
		return nil, err
	}
	res, err := e.classify(inst)
	if err != nil {
		return nil, err
	}
	res.Input = strings.TrimSpace(line)
	if e.Opts.Norm != options.NoNorm && res.Distribution != nil {
		d := res.Distribution.Clone()
		factor := 0.0
		if e.Opts.Norm == options.AddFactorNorm {
			factor = e.Opts.NormFactor
		}
		d.Normalize(e.targets, factor)
		res.Distribution = d
	}
	return res, nil
}

// parseTest converts a request line into a permuted instance. A line with
// one field fewer than training lines is taken as target-less.
func (e *Experiment) parseTest(line string) (*symbol.Instance, error) {
	sep := " "
	if e.Opts.Format == options.CommaSep || e.Opts.Format == options.SparseBin {
		sep = ","
	}
	cr := corpus.NewReader(strings.NewReader(line), e.Opts)
	parsed, err := cr.Next()
	if errors.Is(err, corpus.ErrParse) && e.Opts.Format != options.Sparse {
		cr = corpus.NewReader(strings.NewReader(line+sep+"?"), e.Opts)
		parsed, err = cr.Next()
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse instance: %w", err)
	}
	inst := &symbol.Instance{
		Values: make([]*symbol.FeatureValue, len(e.perm)),
		Weight: parsed.Weight,
	}
	if tv := e.targets.Lookup(parsed.Target); tv != nil {
		inst.Target = tv
	}
	for pos, f := range e.perm {
		// Look up only: sessions share the tables read-only, so an unseen
		// value gets a session-local stand-in rather than being interned.
		fv := e.feats[f].Lookup(parsed.Fields[f])
		if fv == nil {
			fv = symbol.NewUnknownValue(parsed.Fields[f])
		}
		kind := e.Opts.EffectiveMetric(f)
		if kind.RequiresNumeric() && kind != metric.Ignore {
			if _, ok := fv.Numeric(); !ok {
				return nil, fmt.Errorf("feature %d value %q is not numeric", f+1, fv.Name())
			}
		}
		inst.Values[pos] = fv
	}
	return inst, nil
}

// classify dispatches on the algorithm.
func (e *Experiment) classify(inst *symbol.Instance) (*Result, error) {
	switch e.Opts.Algorithm {
	case options.IGTree:
		return e.classifyIG(inst), nil
	case options.TRIBL:
		return e.classifyTribl(inst), nil
	case options.TRIBL2:
		return e.classifyTribl2(inst), nil
	default:
		if e.Opts.ExactMatch {
			if d := e.tree.ExactMatch(inst); d != nil {
				best, tie := d.BestTarget(e.Opts.RandomTies, e.rng)
				return &Result{Category: best, Distribution: d, Tie: tie, ExactMatch: true}, nil
			}
		}
		return e.classifyNN(e.tree, inst, 0), nil
	}
}

// classifyNN runs the nearest-neighbor search over the (sub)tree, with the
// tester's running sum cut off at the expanding k-th best distance.
func (e *Experiment) classifyNN(tree *ibtree.Root, inst *symbol.Instance, offset int) *Result {
	depth := tree.Depth()
	e.bests.Reset()
	e.tester.Init(inst, offset+depth, offset)
	path := make([]*symbol.FeatureValue, depth)

	dist := tree.InitTest(path, inst, offset, depth)
	curPos := 0
	for dist != nil {
		end := e.tester.Test(path, curPos, e.bests.Threshold()+distrib.Epsilon)
		pos := end
		if end == depth {
			e.bests.Add(e.tester.Distance(end), dist)
			pos = depth - 1
		}
		dist = tree.NextTest(path, &pos)
		curPos = pos
	}

	if e.bests.Size() == 0 {
		best, tie := tree.TopTarget()
		return &Result{Category: best, Distribution: tree.TopDist(), Tie: tie,
			Distance: math.Inf(1)}
	}
	merged := e.bests.Extract(e.decayFunc())
	best, tie := merged.BestTarget(e.Opts.RandomTies, e.rng)
	res := &Result{
		Category:     best,
		Distribution: merged,
		Distance:     e.bests.Distances()[0],
		Tie:          tie,
	}
	if e.Opts.Verbosity&options.VNearN != 0 {
		res.Neighbors = e.bests.Neighbors()
	}
	return res
}

func (e *Experiment) classifyIG(inst *symbol.Instance) *Result {
	d, best, level, leaf := e.tree.IGLookup(inst)
	res := &Result{
		Category:     best,
		Distribution: d,
		MatchDepth:   level,
		AtLeaf:       leaf,
		Distance:     float64(len(e.perm) - level),
	}
	if d != nil {
		_, res.Tie = d.BestTarget(e.Opts.RandomTies, e.rng)
	}
	return res
}

func (e *Experiment) classifyTribl(inst *symbol.Instance) *Result {
	threshold := e.triblThreshold()
	sub, best, d, level := e.tree.TriblLookup(inst, threshold)
	if sub == nil {
		return &Result{Category: best, Distribution: d, MatchDepth: level,
			Distance: float64(len(e.perm) - level)}
	}
	return e.classifyNN(sub, inst, threshold)
}

func (e *Experiment) classifyTribl2(inst *symbol.Instance) *Result {
	sub, d, level := e.tree.Tribl2Lookup(inst)
	if sub == nil {
		best, tie := d.BestTarget(e.Opts.RandomTies, e.rng)
		return &Result{Category: best, Distribution: d, Tie: tie, ExactMatch: true,
			MatchDepth: len(e.perm)}
	}
	return e.classifyNN(sub, inst, level)
}

// decayFunc materializes the configured neighbor decay.
func (e *Experiment) decayFunc() func(float64) float64 {
	alpha, beta := e.Opts.DecayAlpha, e.Opts.DecayBeta
	switch e.Opts.Decay {
	case options.InvLinear:
		return func(d float64) float64 { return 1 / (d + distrib.Epsilon) }
	case options.InvDistance:
		return func(d float64) float64 { return 1 / (math.Pow(d, alpha) + distrib.Epsilon) }
	case options.ExpDecay:
		return func(d float64) float64 { return math.Exp(-alpha * math.Pow(d, beta)) }
	default:
		return nil
	}
}

// SaveTree persists the instance base, hashed or plain.
func (e *Experiment) SaveTree(path string, hashed bool) error {
	if !e.trained {
		return ErrNotTrained
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if hashed {
		return e.tree.SaveHashed(f, e.permFeats, e.targets, e.keepDistributions())
	}
	return e.tree.Save(f, e.keepDistributions())
}

// LoadTree restores a persisted instance base in place of training. The
// permutation becomes the identity: a stored tree is already in tree order.
func (e *Experiment) LoadTree(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := e.Opts.Realize(); err != nil {
		return err
	}
	n := e.Opts.NumFeatures
	if n <= 0 {
		return fmt.Errorf("loading an instance base requires the feature count (-N)")
	}
	e.feats = make([]*symbol.Feature, n)
	for i := range e.feats {
		e.feats[i] = symbol.NewFeature()
	}
	e.targets = symbol.NewTargets()
	e.perm = make([]int, n)
	for i := range e.perm {
		e.perm[i] = i
	}
	e.permFeats = e.feats
	e.weights = make([]float64, n)
	for i := range e.weights {
		e.weights[i] = 1
	}
	e.tree = ibtree.New(n, e.Opts.RandomTies, e.keepDistributions(), e.rng)
	if err := e.tree.Read(f, e.permFeats, e.targets); err != nil {
		return fmt.Errorf("reading instance base %s: %w", path, err)
	}
	e.tester = e.newTester()
	e.bests = ibtree.NewBestArray(e.Opts.K, e.Opts.MaxBests)
	e.trained = true
	return nil
}
