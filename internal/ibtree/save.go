package ibtree

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/kuandriy/mblearn/internal/distrib"
	"github.com/kuandriy/mblearn/internal/symbol"
)

// treeWriter funnels writes so one error check covers a whole save.
type treeWriter struct {
	w   *bufio.Writer
	err error
}

func (tw *treeWriter) str(s string) {
	if tw.err == nil {
		_, tw.err = tw.w.WriteString(s)
	}
}

func (n *node) save(tw *treeWriter) {
	tw.str(n.best.Name())
	tw.str(" ")
	if n.dist != nil {
		tw.str(n.dist.Save())
	}
	if len(n.edges) == 0 {
		return
	}
	tw.str("[")
	for i, e := range n.edges {
		tw.str(e.fv.Name())
		tw.str(" (")
		e.child.save(tw)
		tw.str(" )")
		if i < len(n.edges)-1 {
			tw.str("\n,")
		}
	}
	tw.str("\n]\n")
}

func (n *node) saveHashed(tw *treeWriter, dict map[string]int) {
	tw.str(strconv.Itoa(n.best.Index()))
	tw.str(" ")
	if n.dist != nil {
		tw.str(n.dist.SaveHashed())
	}
	if len(n.edges) == 0 {
		return
	}
	tw.str("[")
	for i, e := range n.edges {
		tw.str(strconv.Itoa(dict[e.fv.Name()]))
		tw.str(" (")
		e.child.saveHashed(tw, dict)
		tw.str(" )")
		if i < len(n.edges)-1 {
			tw.str("\n,")
		}
	}
	tw.str("\n]\n")
}

// Save writes the plain textual form. With persist, internal distributions
// are written out so the restored tree can answer IGTree lookups.
func (r *Root) Save(w io.Writer, persist bool) error {
	keep := r.keepDist
	r.keepDist = persist
	r.AssignDefaults()
	r.keepDist = keep
	tw := &treeWriter{w: bufio.NewWriter(w)}
	tw.str(fmt.Sprintf("# Version %d\n#\n(", Version))
	if r.root != nil {
		r.root.save(tw)
	}
	tw.str(")\n")
	if tw.err != nil {
		return tw.err
	}
	return tw.w.Flush()
}

// SaveHashed writes the hashed form: a class dictionary and one shared
// feature-value dictionary, then the tree with every symbol as an index.
func (r *Root) SaveHashed(w io.Writer, feats []*symbol.Feature, targets *symbol.Targets, persist bool) error {
	keep := r.keepDist
	r.keepDist = persist
	r.AssignDefaults()
	r.keepDist = keep

	dict := make(map[string]int)
	var names []string
	for _, f := range feats {
		for _, fv := range f.Values() {
			if _, ok := dict[fv.Name()]; !ok {
				dict[fv.Name()] = len(names) + 1
				names = append(names, fv.Name())
			}
		}
	}

	tw := &treeWriter{w: bufio.NewWriter(w)}
	tw.str(fmt.Sprintf("# Version %d (Hashed)\n#\n", Version))
	tw.str("Classes\n")
	for _, tv := range targets.Values() {
		tw.str(fmt.Sprintf("%d\t%s\n", tv.Index(), tv.Name()))
	}
	tw.str("\n")
	tw.str("Features\n")
	for i, name := range names {
		tw.str(fmt.Sprintf("%d\t%s\n", i+1, name))
	}
	tw.str("\n(")
	if r.root != nil {
		r.root.saveHashed(tw, dict)
	}
	tw.str(")\n")
	if tw.err != nil {
		return tw.err
	}
	return tw.w.Flush()
}

// readHeader consumes the "# Version N" header and any further comment
// lines, reporting whether the body is hashed.
func readHeader(br *bufio.Reader) (hashed bool, err error) {
	line, err := br.ReadString('\n')
	if err != nil {
		return false, err
	}
	line = strings.TrimSpace(line)
	fields := strings.Fields(line)
	if len(fields) < 3 || fields[0] != "#" || fields[1] != "Version" {
		return false, fmt.Errorf("missing '# Version' header in instance base file")
	}
	v, err := strconv.Atoi(fields[2])
	if err != nil {
		return false, fmt.Errorf("bad version %q in instance base file", fields[2])
	}
	if v != Version {
		return false, fmt.Errorf("%w: found %d, want %d", ErrVersion, v, Version)
	}
	hashed = strings.Contains(line, "(Hashed)")
	for {
		b, err := br.Peek(1)
		if err != nil {
			return hashed, err
		}
		if b[0] != '#' {
			return hashed, nil
		}
		if _, err := br.ReadString('\n'); err != nil {
			return hashed, err
		}
	}
}

// readNode parses one ( target dist? [ ... ] ) block. Children of the node
// are labeled with values of feats[level].
func readNode(br *bufio.Reader, feats []*symbol.Feature, targets *symbol.Targets, level int) (*node, error) {
	if err := expectDelim(br, '('); err != nil {
		return nil, err
	}
	tok, err := distrib.ReadToken(br)
	if err != nil {
		return nil, err
	}
	tv := targets.Lookup(tok)
	if tv == nil {
		return nil, fmt.Errorf("unknown class label %q in instance base file", tok)
	}
	n := &node{best: tv}
	next, err := distrib.PeekByte(br)
	if err != nil {
		return nil, err
	}
	if next == '{' {
		if n.dist, err = distrib.Read(br, targets, false); err != nil {
			return nil, err
		}
		if next, err = distrib.PeekByte(br); err != nil {
			return nil, err
		}
	}
	if next == '[' {
		if err := readMap(br, n, feats, targets, level, false, nil); err != nil {
			return nil, err
		}
	} else if n.dist == nil {
		return nil, fmt.Errorf("node without distribution or children in instance base file")
	}
	n.terminal = len(n.edges) == 0
	return n, expectDelim(br, ')')
}

func readNodeHashed(br *bufio.Reader, feats []*symbol.Feature, targets *symbol.Targets, level int, dict []string) (*node, error) {
	if err := expectDelim(br, '('); err != nil {
		return nil, err
	}
	tok, err := distrib.ReadToken(br)
	if err != nil {
		return nil, err
	}
	idx, err := strconv.Atoi(tok)
	if err != nil {
		return nil, fmt.Errorf("bad class index %q in instance base file", tok)
	}
	tv := targets.ByIndex(idx)
	if tv == nil {
		return nil, fmt.Errorf("class index %d out of range in instance base file", idx)
	}
	n := &node{best: tv}
	next, err := distrib.PeekByte(br)
	if err != nil {
		return nil, err
	}
	if next == '{' {
		if n.dist, err = distrib.ReadHashed(br, targets); err != nil {
			return nil, err
		}
		if next, err = distrib.PeekByte(br); err != nil {
			return nil, err
		}
	}
	if next == '[' {
		if err := readMap(br, n, feats, targets, level, true, dict); err != nil {
			return nil, err
		}
	} else if n.dist == nil {
		return nil, fmt.Errorf("node without distribution or children in instance base file")
	}
	n.terminal = len(n.edges) == 0
	return n, expectDelim(br, ')')
}

// readMap parses the [ fv ( ... ) , ... ] child list of a branch.
func readMap(br *bufio.Reader, n *node, feats []*symbol.Feature, targets *symbol.Targets, level int, hashed bool, dict []string) error {
	if err := expectDelim(br, '['); err != nil {
		return err
	}
	for {
		tok, err := distrib.ReadToken(br)
		if err != nil {
			return err
		}
		var fv *symbol.FeatureValue
		if hashed {
			idx, err := strconv.Atoi(tok)
			if err != nil || idx < 1 || idx > len(dict) {
				return fmt.Errorf("bad feature-value index %q in instance base file", tok)
			}
			fv = feats[level].Add(dict[idx-1])
		} else {
			fv = feats[level].Add(tok)
		}
		var child *node
		if hashed {
			child, err = readNodeHashed(br, feats, targets, level+1, dict)
		} else {
			child, err = readNode(br, feats, targets, level+1)
		}
		if err != nil {
			return err
		}
		n.attach(fv, child)
		next, err := distrib.PeekByte(br)
		if err != nil {
			return err
		}
		if next == ',' {
			if _, err := br.ReadByte(); err != nil {
				return err
			}
			continue
		}
		return expectDelim(br, ']')
	}
}

func expectDelim(br *bufio.Reader, want byte) error {
	b, err := distrib.PeekByte(br)
	if err != nil {
		return err
	}
	if b != want {
		return fmt.Errorf("missing %q in instance base file, found %q", string(want), string(b))
	}
	_, err = br.ReadByte()
	return err
}

// Read restores a tree from its plain or hashed textual form. The feature
// slice must be in tree order and match the persisted depth; value and
// label tables are filled in file order.
func (r *Root) Read(rd io.Reader, feats []*symbol.Feature, targets *symbol.Targets) error {
	br := bufio.NewReader(rd)
	hashed, err := readHeader(br)
	if err != nil {
		return err
	}
	if hashed {
		return r.readHashed(br, feats, targets)
	}
	if err := expectDelim(br, '('); err != nil {
		return err
	}
	topName, err := distrib.ReadToken(br)
	if err != nil {
		return err
	}
	next, err := distrib.PeekByte(br)
	if err != nil {
		return err
	}
	if next != '{' {
		return fmt.Errorf("missing top distribution in instance base file")
	}
	// The top distribution interns the labels, fixing their order.
	topDist, err := distrib.Read(br, targets, true)
	if err != nil {
		return err
	}
	return r.finishRead(br, feats, targets, targets.Lookup(topName), topDist, nil)
}

func (r *Root) readHashed(br *bufio.Reader, feats []*symbol.Feature, targets *symbol.Targets) error {
	dict, err := readHash(br, targets)
	if err != nil {
		return err
	}
	if err := expectDelim(br, '('); err != nil {
		return err
	}
	tok, err := distrib.ReadToken(br)
	if err != nil {
		return err
	}
	idx, err := strconv.Atoi(tok)
	if err != nil {
		return fmt.Errorf("bad top target index %q in instance base file", tok)
	}
	next, err := distrib.PeekByte(br)
	if err != nil {
		return err
	}
	if next != '{' {
		return fmt.Errorf("missing top distribution in instance base file")
	}
	topDist, err := distrib.ReadHashed(br, targets)
	if err != nil {
		return err
	}
	return r.finishRead(br, feats, targets, targets.ByIndex(idx), topDist, dict)
}

func (r *Root) finishRead(br *bufio.Reader, feats []*symbol.Feature, targets *symbol.Targets, topTV *symbol.TargetValue, topDist *distrib.Distribution, dict []string) error {
	next, err := distrib.PeekByte(br)
	if err != nil {
		return err
	}
	if next == '[' {
		r.root = &node{best: topTV, dist: topDist}
		if dict != nil {
			err = readMap(br, r.root, feats, targets, 0, true, dict)
		} else {
			err = readMap(br, r.root, feats, targets, 0, false, nil)
		}
		if err != nil {
			return err
		}
	}
	if err := expectDelim(br, ')'); err != nil {
		return err
	}
	r.defAss = true
	r.defValid = true
	r.topTV = topTV
	r.topDist = topDist
	r.RedoDistributions()
	if r.root != nil {
		r.topTV = r.root.best
		r.recount()
	}
	for _, f := range feats {
		f.RecomputeRange()
	}
	return nil
}

// readHash parses the Classes and Features dictionary sections.
func readHash(br *bufio.Reader, targets *symbol.Targets) ([]string, error) {
	line, err := nextNonEmptyLine(br)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(line, "Classes") {
		return nil, fmt.Errorf("missing 'Classes' keyword in instance base file")
	}
	for {
		if line, err = nextNonEmptyLine(br); err != nil {
			return nil, err
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			break
		}
		targets.Add(fields[1])
	}
	if !strings.EqualFold(line, "Features") {
		return nil, fmt.Errorf("missing 'Features' keyword in instance base file")
	}
	var dict []string
	for {
		b, err := br.Peek(1)
		if err != nil {
			return nil, err
		}
		if b[0] == '\n' || b[0] == '\r' || b[0] == '(' {
			return dict, nil
		}
		if line, err = nextNonEmptyLine(br); err != nil {
			return nil, err
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return dict, nil
		}
		dict = append(dict, fields[1])
	}
}

func nextNonEmptyLine(br *bufio.Reader) (string, error) {
	for {
		line, err := br.ReadString('\n')
		if err != nil && line == "" {
			return "", err
		}
		line = strings.TrimSpace(line)
		if line != "" {
			return line, nil
		}
		if err != nil {
			return "", err
		}
	}
}

// recount refreshes node and leaf counters after a load.
func (r *Root) recount() {
	terminals, nonTerminals := r.SummarizeNodes()
	nodes, leaves := 0, 0
	for i := range terminals {
		nodes += terminals[i] + nonTerminals[i]
		if i == r.depth {
			leaves += terminals[i]
		}
	}
	r.nodeCount = nodes
	r.leafCount = leaves
}
