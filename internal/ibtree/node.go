// Package ibtree implements the instance base: a prefix trie whose level-l
// edges are labeled with feature-l values and whose leaves collect class
// distributions. One tree serves four traversal regimes: exact match,
// nearest-neighbor search, IGTree deepest-match lookup, and the TRIBL
// hybrids.
package ibtree

import (
	"math/rand"
	"sort"

	"github.com/kuandriy/mblearn/internal/distrib"
	"github.com/kuandriy/mblearn/internal/symbol"
)

// edge pairs a feature value with its subtree. A node's edges are kept
// sorted by value index, which fixes the iteration order everywhere.
type edge struct {
	fv    *symbol.FeatureValue
	child *node
}

// node is one trie position. A node without edges is a leaf and owns a
// distribution; a branch's distribution stays nil until assign-defaults.
// terminal marks nodes created at full depth: only those may be folded away
// by prune, a branch emptied by pruning stays as a shallow leaf.
type node struct {
	best     *symbol.TargetValue
	dist     *distrib.Distribution
	edges    []edge
	terminal bool
}

func (n *node) isLeaf() bool { return len(n.edges) == 0 }

// find returns the subtree for fv, or nil.
func (n *node) find(fv *symbol.FeatureValue) *node {
	i := sort.Search(len(n.edges), func(i int) bool {
		return n.edges[i].fv.Index() >= fv.Index()
	})
	if i < len(n.edges) && n.edges[i].fv == fv {
		return n.edges[i].child
	}
	return nil
}

// attach inserts a new edge, keeping the index order.
func (n *node) attach(fv *symbol.FeatureValue, child *node) {
	i := sort.Search(len(n.edges), func(i int) bool {
		return n.edges[i].fv.Index() >= fv.Index()
	})
	n.edges = append(n.edges, edge{})
	copy(n.edges[i+1:], n.edges[i:])
	n.edges[i] = edge{fv: fv, child: child}
}

// create builds the subtree for the instance suffix starting at pos.
func create(inst *symbol.Instance, pos, depth int, ncnt, lcnt *int) *node {
	n := &node{terminal: pos == depth}
	*ncnt++
	if pos == depth {
		*lcnt++
	}
	n.addInst(inst, pos, depth, ncnt, lcnt)
	return n
}

// addInst routes the instance down to its leaf, creating nodes as needed.
// The return value is false only when the leaf already counted this exact
// instance/target pair (IB2 uses this as its duplicate signal).
func (n *node) addInst(inst *symbol.Instance, pos, depth int, ncnt, lcnt *int) bool {
	if pos >= depth {
		if n.dist == nil {
			if weightDiffers(inst.Weight) {
				n.dist = distrib.NewWeighted()
			} else {
				n.dist = distrib.New()
			}
		} else if weightDiffers(inst.Weight) && !n.dist.Weighted() {
			n.dist = n.dist.WeightedCopy()
		}
		return !n.dist.Inc(inst.Target, inst.Weight)
	}
	fv := inst.Values[pos]
	if child := n.find(fv); child != nil {
		return child.addInst(inst, pos+1, depth, ncnt, lcnt)
	}
	n.attach(fv, create(inst, pos+1, depth, ncnt, lcnt))
	return true
}

func weightDiffers(w float64) bool {
	d := w - 1
	return d > distrib.Epsilon || d < -distrib.Epsilon
}

// delInst decrements the instance's leaf. The leaf is never unlinked: a
// zero distribution tombstones it so iteration positions stay stable.
func (n *node) delInst(inst *symbol.Instance, pos, depth int) error {
	if pos >= depth {
		return n.dist.Dec(inst.Target, inst.Weight)
	}
	child := n.find(inst.Values[pos])
	if child == nil {
		return errNotStored
	}
	return child.delInst(inst, pos+1, depth)
}

// match walks the exact path for the instance and returns the leaf
// distribution, or nil on any miss or tombstone.
func (n *node) match(inst *symbol.Instance, pos, depth int) *distrib.Distribution {
	if pos >= depth {
		if n.dist == nil || n.dist.Zero() {
			return nil
		}
		return n.dist
	}
	fv := inst.Values[pos]
	if fv.Freq() == 0 {
		return nil
	}
	if child := n.find(fv); child != nil {
		return child.match(inst, pos+1, depth)
	}
	return nil
}

// getDistribution hands the node's distribution to an accumulating parent.
// Leaves always keep theirs and give out a copy when not keeping; a branch
// transfers ownership in non-keep mode.
func (n *node) getDistribution(keep bool) *distrib.Distribution {
	if n.isLeaf() {
		if keep {
			return n.dist
		}
		return n.dist.Clone()
	}
	d := n.dist
	if !keep {
		n.dist = nil
	}
	return d
}

// sumDistributions builds this node's distribution as the elementwise sum
// over its children.
func (n *node) sumDistributions(keep bool) *distrib.Distribution {
	var result *distrib.Distribution
	for _, e := range n.edges {
		tmp := e.child.getDistribution(keep)
		if tmp == nil {
			continue
		}
		if result == nil {
			result = distrib.New()
		}
		result.Merge(tmp)
	}
	if result == nil {
		result = distrib.New()
	}
	return result
}

// assignDefaults computes, post-order, the distribution and cached best
// target of every child lacking one. With persist, children above the
// deepest level retain their distributions for IGTree-style lookups;
// otherwise they are transferred upward.
func (n *node) assignDefaults(random, persist bool, level int, rng *rand.Rand) {
	for i := range n.edges {
		c := n.edges[i].child
		if c.dist == nil {
			c.assignDefaults(random, persist, level-1, rng)
			c.dist = c.sumDistributions(level > 1 && persist)
		}
		c.best, _ = c.dist.BestTarget(random, rng)
	}
}

// redoDistributions rebuilds distributions bottom-up after a load,
// reconstructing each feature value's class statistics along the way.
// Children end up stripped, as in a freshly built non-persistent tree.
func (n *node) redoDistributions() {
	if n.isLeaf() {
		return
	}
	n.dist = nil
	for _, e := range n.edges {
		e.child.redoDistributions()
		if e.child.dist == nil {
			e.child.dist = e.child.sumDistributions(false)
		}
		e.fv.MergeDistribution(e.child.dist.IndexCounts())
	}
	n.dist = n.sumDistributions(false)
}

// prune removes, post-order, every terminal child whose best target equals
// this node's. This is the IGTree compression rule.
func (n *node) prune(cnt *int) {
	for _, e := range n.edges {
		e.child.prune(cnt)
	}
	kept := n.edges[:0]
	for _, e := range n.edges {
		if e.child.best == n.best && e.child.terminal && len(e.child.edges) == 0 {
			*cnt--
			continue
		}
		kept = append(kept, e)
	}
	n.edges = kept
}

// countBranches tallies terminal and non-terminal nodes per level.
func (n *node) countBranches(level int, terminals, nonTerminals []int) {
	if len(n.edges) == 0 {
		terminals[level]++
		return
	}
	nonTerminals[level]++
	for _, e := range n.edges {
		e.child.countBranches(level+1, terminals, nonTerminals)
	}
}
