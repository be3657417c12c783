package ibtree

import (
	"sort"

	"github.com/kuandriy/mblearn/internal/distrib"
	"github.com/kuandriy/mblearn/internal/symbol"
)

// ibIter walks one node's edge list in value-index order.
type ibIter struct {
	edges []edge
	pos   int
}

func (it *ibIter) init(n *node) {
	it.edges = n.edges
	it.pos = 0
}

func (it *ibIter) value() *node {
	if it.pos < len(it.edges) {
		return it.edges[it.pos].child
	}
	return nil
}

func (it *ibIter) fvalue() *symbol.FeatureValue {
	if it.pos < len(it.edges) {
		return it.edges[it.pos].fv
	}
	return nil
}

func (it *ibIter) find(fv *symbol.FeatureValue) *node {
	i := sort.Search(len(it.edges), func(i int) bool {
		return it.edges[i].fv.Index() >= fv.Index()
	})
	if i < len(it.edges) && it.edges[i].fv == fv {
		it.pos = i
		return it.edges[i].child
	}
	return nil
}

func (it *ibIter) reset()     { it.pos = 0 }
func (it *ibIter) increment() { it.pos++ }

// InitTest starts a best-first traversal for the test instance. Wherever a
// level has a child matching the test value, that child is walked first and
// remembered in the skip slot so re-traversal passes over it; the restart
// flag records that the level's iterator still has to be rewound for the
// remaining children. Path receives the feature values of the first
// candidate leaf, whose distribution is returned (nil on an empty base).
func (r *Root) InitTest(path []*symbol.FeatureValue, inst *symbol.Instance, offset, effFeat int) *distrib.Distribution {
	if r.root == nil || len(r.root.edges) == 0 {
		return nil
	}
	var result *distrib.Distribution
	r.testInst = inst
	r.offset = offset
	r.effFeat = effFeat
	r.iters[0].init(r.root)
	for i := 0; i < r.depth; i++ {
		pnt := r.iters[i].find(inst.Values[i+offset])
		if pnt != nil {
			r.skip[i] = pnt
			r.restart[i] = true
		} else {
			r.restart[i] = false
			r.skip[i] = nil
			r.iters[i].reset()
			pnt = r.iters[i].value()
		}
		path[i] = r.iters[i].fvalue()
		if i == r.depth-1 {
			result = pnt.dist
		} else {
			r.iters[i+1].init(pnt)
		}
	}
	if result != nil && result.Zero() {
		// Tombstoned leaf, as left behind by leave-one-out runs.
		pos := r.effFeat - 1
		result = r.NextTest(path, &pos)
	}
	return result
}

// NextTest backtracks from level *pos and advances to the next candidate
// leaf, refilling Path and *pos. It returns nil when the traversal is
// exhausted.
func (r *Root) NextTest(path []*symbol.FeatureValue, pos *int) *distrib.Distribution {
	var result *distrib.Distribution
	var pnt *node
	for pnt == nil {
		if !r.restart[*pos] {
			r.iters[*pos].increment()
		} else {
			r.iters[*pos].reset()
			r.restart[*pos] = false
		}
		pnt = r.iters[*pos].value()
		if pnt != nil && pnt == r.skip[*pos] {
			r.iters[*pos].increment()
			pnt = r.iters[*pos].value()
			r.skip[*pos] = nil
		}
		if pnt == nil {
			if *pos == 0 {
				break
			}
			*pos--
		}
	}
	if pnt != nil {
		path[*pos] = r.iters[*pos].fvalue()
		if *pos < r.depth-1 {
			r.iters[*pos+1].init(pnt)
			for j := *pos + 1; j < r.depth; j++ {
				pnt2 := r.iters[j].find(r.testInst.Values[j+r.offset])
				if pnt2 != nil {
					r.skip[j] = pnt2
					r.restart[j] = true
				} else {
					r.skip[j] = nil
					r.iters[j].reset()
					pnt2 = r.iters[j].value()
					r.restart[j] = false
				}
				path[j] = r.iters[j].fvalue()
				if j == r.depth-1 {
					result = pnt2.dist
				} else {
					r.iters[j+1].init(pnt2)
				}
			}
		} else {
			result = r.iters[r.depth-1].value().dist
		}
	}
	if result != nil && result.Zero() {
		tmp := r.effFeat - 1
		result = r.NextTest(path, &tmp)
		if tmp < *pos {
			*pos = tmp
		}
	}
	return result
}

// IGLookup walks the exact prefix of the instance and answers from the
// deepest matching node: its cached best target, its distribution when the
// tree keeps them, the level reached, and whether the stop was a leaf.
// With no match at all, the top distribution (as a weighted copy) and top
// target answer.
func (r *Root) IGLookup(inst *symbol.Instance) (dist *distrib.Distribution, best *symbol.TargetValue, endLevel int, leaf bool) {
	if r.root == nil {
		return nil, nil, 0, false
	}
	pos := 0
	pnt := r.root.find(inst.Values[0])
	for pnt != nil {
		if pnt.isLeaf() && pnt.dist != nil && pnt.dist.Zero() {
			// tombstoned leaf: the deepest live match answers instead
			break
		}
		best = pnt.best
		if r.keepDist {
			dist = pnt.dist
		}
		pos++
		if pos < r.depth {
			leaf = pnt.isLeaf()
			pnt = pnt.find(inst.Values[pos])
		} else {
			pnt = nil
			leaf = true
		}
	}
	if pos == 0 {
		if r.wTop == nil && r.topDist != nil {
			r.wTop = r.topDist.WeightedCopy()
		}
		dist = r.wTop
		best, _ = r.TopTarget()
	}
	return dist, best, pos, leaf
}

// TriblLookup walks the exact prefix over the first threshold levels. A
// match surviving to level threshold-1 hands back an instance base over the
// matched subtree for the nearest-neighbor fallback; otherwise the deepest
// matched node answers directly.
func (r *Root) TriblLookup(inst *symbol.Instance, threshold int) (sub *Root, best *symbol.TargetValue, dist *distrib.Distribution, level int) {
	r.AssignDefaultsThreshold(threshold)
	if r.root == nil {
		return nil, nil, nil, 0
	}
	pnt := r.root.find(inst.Values[0])
	dist = r.topDist
	best = r.topTV
	pos := 0
	for pnt != nil && pos < threshold-1 {
		dist = pnt.dist
		best = pnt.best
		pos++
		if pos < r.depth {
			pnt = pnt.find(inst.Values[pos])
		} else {
			pnt = nil
		}
	}
	if pos == threshold-1 {
		if pnt != nil {
			sub = r.partition(pnt, threshold)
			dist = nil
		} else {
			level = pos
		}
		return sub, best, dist, level
	}
	if pos == 0 && dist == nil {
		if r.wTop == nil && r.topDist != nil {
			r.wTop = r.topDist.WeightedCopy()
		}
		dist = r.wTop
		best, _ = r.TopTarget()
	} else {
		level = pos
	}
	return sub, best, dist, level
}

// Tribl2Lookup walks as deep as any match goes. A full-depth match answers
// with the leaf distribution; a partial match hands back an instance base
// over the deepest matched subtree.
func (r *Root) Tribl2Lookup(inst *symbol.Instance) (sub *Root, dist *distrib.Distribution, level int) {
	r.AssignDefaults()
	if r.root == nil {
		return nil, nil, 0
	}
	pos := 0
	pnt := r.root
	var lastMatch *node
	for pnt != nil {
		lastMatch = pnt
		if pos < r.depth {
			pnt = pnt.find(inst.Values[pos])
		} else {
			dist = pnt.dist
			pnt = nil
			lastMatch = nil
		}
		if pnt != nil {
			pos++
		}
	}
	if lastMatch != nil {
		sub = r.partition(lastMatch, pos)
		level = pos
	}
	return sub, dist, level
}
