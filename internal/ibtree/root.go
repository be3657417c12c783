package ibtree

import (
	"errors"
	"math/rand"

	"github.com/kuandriy/mblearn/internal/distrib"
	"github.com/kuandriy/mblearn/internal/symbol"
)

// Version is the persisted tree format version. Readers reject others.
const Version = 4

var (
	errNotStored = errors.New("instance is not in the instance base")
	// ErrVersion is returned when a persisted tree has the wrong version.
	ErrVersion = errors.New("unsupported instance base version")
)

// Root owns one instance trie plus its bookkeeping and the per-search
// scratchpad. A Root is single-goroutine; concurrent sessions each take a
// Copy sharing the frozen tree but owning their own scratchpad.
type Root struct {
	depth    int
	random   bool
	keepDist bool
	rng      *rand.Rand

	root      *node
	nodeCount int
	leafCount int

	pruned    bool
	defValid  bool
	defAss    bool
	threshold int

	topTV   *symbol.TargetValue
	tiedTop bool
	topDist *distrib.Distribution
	wTop    *distrib.Distribution

	// search scratchpad, one slot per level
	restart  []bool
	skip     []*node
	iters    []ibIter
	testInst *symbol.Instance
	offset   int
	effFeat  int
}

// New creates an empty instance base of the given depth. random selects
// random tie-breaking in best-target decisions; keep makes assign-defaults
// persist internal distributions.
func New(depth int, random, keep bool, rng *rand.Rand) *Root {
	return &Root{
		depth:     depth,
		random:    random,
		keepDist:  keep,
		rng:       rng,
		threshold: depth,
		restart:   make([]bool, depth),
		skip:      make([]*node, depth),
		iters:     make([]ibIter, depth),
	}
}

// Depth returns the number of feature levels.
func (r *Root) Depth() int { return r.depth }

// NodeCount returns the number of allocated trie nodes.
func (r *Root) NodeCount() int { return r.nodeCount }

// LeafCount returns the number of leaves ever created.
func (r *Root) LeafCount() int { return r.leafCount }

// Pruned reports whether the IGTree compression has run.
func (r *Root) Pruned() bool { return r.pruned }

// TopDist returns the distribution over the whole training set.
func (r *Root) TopDist() *distrib.Distribution { return r.topDist }

// Add inserts one instance. It returns false only for an exact duplicate of
// an already stored instance/target pair.
func (r *Root) Add(inst *symbol.Instance) bool {
	if r.root == nil {
		r.root = create(inst, 0, r.depth, &r.nodeCount, &r.leafCount)
		return true
	}
	return r.root.addInst(inst, 0, r.depth, &r.nodeCount, &r.leafCount)
}

// Delete removes one instance by tombstoning its leaf. The top distribution
// follows when defaults were already assigned.
func (r *Root) Delete(inst *symbol.Instance) error {
	if r.root == nil {
		return errNotStored
	}
	if err := r.root.delInst(inst, 0, r.depth); err != nil {
		return err
	}
	if r.topDist != nil {
		// the cached top target may flip with the changed counts
		r.topTV = nil
		return r.topDist.Dec(inst.Target, inst.Weight)
	}
	return nil
}

// ExactMatch returns the leaf distribution for the instance's exact path,
// or nil.
func (r *Root) ExactMatch(inst *symbol.Instance) *distrib.Distribution {
	if r.root == nil {
		return nil
	}
	return r.root.match(inst, 0, r.depth)
}

// AssignDefaults runs the post-order default-target pass. Whether internal
// distributions persist follows the keep-distributions mode of the tree.
func (r *Root) AssignDefaults() {
	if !r.defValid && r.root != nil {
		if r.root.dist == nil {
			r.root.assignDefaults(r.random, r.keepDist, r.depth, r.rng)
			r.root.dist = r.root.sumDistributions(r.keepDist)
		}
		r.root.best, r.tiedTop = r.root.dist.BestTarget(r.random, r.rng)
		r.topTV = r.root.best
		r.topDist = r.root.dist
	}
	r.defAss = true
	r.defValid = true
}

// AssignDefaultsThreshold is the TRIBL variant of AssignDefaults. A changed
// threshold invalidates the defaults; whether internal distributions persist
// follows the keep-distributions mode as in AssignDefaults, except that the
// root's children always keep theirs.
func (r *Root) AssignDefaultsThreshold(threshold int) {
	if r.threshold != threshold {
		r.threshold = threshold
		r.defValid = false
	}
	if !r.defValid && r.root != nil {
		if r.root.dist == nil {
			r.root.assignDefaults(r.random, r.keepDist, r.depth, r.rng)
			r.root.dist = r.root.sumDistributions(true)
		}
		r.root.best, r.tiedTop = r.root.dist.BestTarget(r.random, r.rng)
		r.topTV = r.root.best
		r.topDist = r.root.dist
	}
	r.defAss = true
	r.defValid = true
}

// RedoDistributions rebuilds all distributions and feature statistics after
// a load.
func (r *Root) RedoDistributions() {
	if r.root != nil {
		r.root.redoDistributions()
		r.topDist = r.root.dist
	}
}

// Prune applies the IGTree compression once: children answering exactly as
// their parent are folded away. Idempotent.
func (r *Root) Prune() {
	r.AssignDefaults()
	if r.pruned || r.root == nil {
		return
	}
	r.root.prune(&r.nodeCount)
	r.pruned = true
}

// TopTarget returns the default target of the whole training set and
// whether it was tied.
func (r *Root) TopTarget() (*symbol.TargetValue, bool) {
	if !r.defValid || !r.defAss {
		r.topTV = nil
	}
	if r.topTV == nil && r.topDist != nil {
		r.topTV, r.tiedTop = r.topDist.BestTarget(r.random, r.rng)
	}
	return r.topTV, r.tiedTop
}

// Copy returns a session view: the frozen tree is shared, the scratchpad is
// owned.
func (r *Root) Copy() *Root {
	out := New(r.depth, r.random, r.keepDist, r.rng)
	out.defAss = r.defAss
	out.defValid = r.defValid
	out.nodeCount = r.nodeCount
	out.leafCount = r.leafCount
	out.pruned = r.pruned
	out.threshold = r.threshold
	out.root = r.root
	out.topDist = r.topDist
	out.topTV = r.topTV
	return out
}

// partition wraps a matched subtree as an instance base of its own, for the
// TRIBL fallback search. The subtree is borrowed read-only: its distribution
// must already be in place (the TRIBL modes keep internal distributions), so
// no shared node is written during classification.
func (r *Root) partition(sub *node, depth int) *Root {
	out := New(r.depth-depth, r.random, r.keepDist, r.rng)
	out.nodeCount = r.nodeCount
	out.leafCount = r.leafCount
	out.root = sub
	out.defAss = r.defAss
	out.defValid = r.defValid
	out.topDist = sub.dist
	out.topTV = sub.best
	if out.topDist == nil && r.root != nil {
		out.AssignDefaults()
	}
	return out
}

// SummarizeNodes tallies terminal and non-terminal node counts per level.
func (r *Root) SummarizeNodes() (terminals, nonTerminals []int) {
	terminals = make([]int, r.depth+1)
	nonTerminals = make([]int, r.depth+1)
	if r.root != nil {
		r.root.countBranches(0, terminals, nonTerminals)
	}
	return terminals, nonTerminals
}
