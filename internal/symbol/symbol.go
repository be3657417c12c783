package symbol

import (
	"sort"
	"strconv"
)

// TargetValue is an interned class label. Index is stable and starts at 1.
type TargetValue struct {
	index int
	name  string
	freq  float64
}

// Index returns the 1-based interning index.
func (tv *TargetValue) Index() int { return tv.index }

// Name returns the label text.
func (tv *TargetValue) Name() string { return tv.name }

// Freq returns the global frequency of this label in the training data.
func (tv *TargetValue) Freq() float64 { return tv.freq }

// Targets is the class-label table. Labels keep insertion order; index
// assignment is monotonic.
type Targets struct {
	byName map[string]*TargetValue
	values []*TargetValue
}

// NewTargets creates an empty class-label table.
func NewTargets() *Targets {
	return &Targets{byName: make(map[string]*TargetValue)}
}

// Intern returns the label for name, creating it if needed, and increments
// its frequency.
func (t *Targets) Intern(name string) *TargetValue {
	tv := t.Add(name)
	tv.freq++
	return tv
}

// Add returns the label for name without touching its frequency, creating it
// if needed. Used when restoring a table from a persisted tree.
func (t *Targets) Add(name string) *TargetValue {
	if tv, ok := t.byName[name]; ok {
		return tv
	}
	tv := &TargetValue{index: len(t.values) + 1, name: name}
	t.byName[name] = tv
	t.values = append(t.values, tv)
	return tv
}

// Lookup returns the label for name, or nil if it was never seen.
func (t *Targets) Lookup(name string) *TargetValue { return t.byName[name] }

// ByIndex returns the label with the given 1-based index, or nil.
func (t *Targets) ByIndex(i int) *TargetValue {
	if i < 1 || i > len(t.values) {
		return nil
	}
	return t.values[i-1]
}

// Len returns the number of distinct labels.
func (t *Targets) Len() int { return len(t.values) }

// Values returns all labels in insertion order.
func (t *Targets) Values() []*TargetValue { return t.values }

// FeatureValue is an interned symbol unique within one feature.
type FeatureValue struct {
	index int
	name  string
	freq  float64

	// num holds the parsed numeric form of name; valid only when numOK.
	num   float64
	numOK bool

	// classCounts summarizes the instances carrying this value, keyed by
	// target index. Invariant: the counts sum to freq.
	classCounts map[int]float64
}

// Index returns the 1-based interning index within the owning feature.
func (fv *FeatureValue) Index() int { return fv.index }

// Name returns the value text.
func (fv *FeatureValue) Name() string { return fv.name }

// Freq returns the number of training instances carrying this value.
func (fv *FeatureValue) Freq() float64 { return fv.freq }

// Numeric returns the value parsed as a real number.
func (fv *FeatureValue) Numeric() (float64, bool) { return fv.num, fv.numOK }

// ClassCount returns the count of instances with this value labeled with the
// target at the given index.
func (fv *FeatureValue) ClassCount(targetIndex int) float64 {
	return fv.classCounts[targetIndex]
}

// ClassIndices returns the target indices that have a class-count entry,
// ascending; an entry may hold zero.
func (fv *FeatureValue) ClassIndices() []int {
	out := make([]int, 0, len(fv.classCounts))
	for i := range fv.classCounts {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// IncClass records one (weighted) training instance with this value and the
// given target.
func (fv *FeatureValue) IncClass(targetIndex int, weight float64) {
	if fv.classCounts == nil {
		fv.classCounts = make(map[int]float64)
	}
	fv.classCounts[targetIndex] += weight
}

// ReconstructDistribution replaces the per-class counts with the given set,
// after a pruning or redo pass over the tree. Frequency follows the new sum.
func (fv *FeatureValue) ReconstructDistribution(counts map[int]float64) {
	fv.classCounts = make(map[int]float64, len(counts))
	fv.freq = 0
	fv.MergeDistribution(counts)
}

// MergeDistribution accumulates per-class counts into the value's
// statistics. A value sits under one branch per prefix, so rebuilding after
// a load adds one contribution per occurrence.
func (fv *FeatureValue) MergeDistribution(counts map[int]float64) {
	if fv.classCounts == nil {
		fv.classCounts = make(map[int]float64, len(counts))
	}
	for i, w := range counts {
		fv.classCounts[i] += w
		fv.freq += w
	}
}

// Feature is the per-feature value table plus the training statistics the
// numeric metric needs.
type Feature struct {
	byName map[string]*FeatureValue
	values []*FeatureValue

	min, max float64
	ranged   bool
}

// NewFeature creates an empty value table.
func NewFeature() *Feature {
	return &Feature{byName: make(map[string]*FeatureValue)}
}

// Intern returns the value for name, creating it if needed, and increments
// its frequency.
func (f *Feature) Intern(name string) *FeatureValue {
	fv := f.Add(name)
	fv.freq++
	if fv.numOK {
		if !f.ranged || fv.num < f.min {
			f.min = fv.num
		}
		if !f.ranged || fv.num > f.max {
			f.max = fv.num
		}
		f.ranged = true
	}
	return fv
}

// Add returns the value for name without touching its frequency, creating it
// if needed.
func (f *Feature) Add(name string) *FeatureValue {
	if fv, ok := f.byName[name]; ok {
		return fv
	}
	fv := &FeatureValue{index: len(f.values) + 1, name: name}
	if n, err := strconv.ParseFloat(name, 64); err == nil {
		fv.num = n
		fv.numOK = true
	}
	f.byName[name] = fv
	f.values = append(f.values, fv)
	return fv
}

// Lookup returns the value for name, or nil.
func (f *Feature) Lookup(name string) *FeatureValue { return f.byName[name] }

// ByIndex returns the value with the given 1-based index, or nil.
func (f *Feature) ByIndex(i int) *FeatureValue {
	if i < 1 || i > len(f.values) {
		return nil
	}
	return f.values[i-1]
}

// Len returns the number of distinct values.
func (f *Feature) Len() int { return len(f.values) }

// Values returns all values in insertion order.
func (f *Feature) Values() []*FeatureValue { return f.values }

// Range returns the numeric training range of this feature.
func (f *Feature) Range() (min, max float64, ok bool) {
	return f.min, f.max, f.ranged
}

// RecomputeRange rebuilds the numeric range from the values that carry
// training frequency, after statistics were restored from a persisted tree.
func (f *Feature) RecomputeRange() {
	f.ranged = false
	for _, fv := range f.values {
		if !fv.numOK || fv.freq <= 0 {
			continue
		}
		if !f.ranged || fv.num < f.min {
			f.min = fv.num
		}
		if !f.ranged || fv.num > f.max {
			f.max = fv.num
		}
		f.ranged = true
	}
}

// NewUnknownValue returns a stand-in for a symbol never seen in training.
// It belongs to no table (index 0, frequency 0, no class counts), so the
// trie never matches it and Overlap, and MVDM through its Overlap fallback,
// score it as a mismatch with every stored value; Numeric and Levenshtein
// still measure it by its number or text. Classification uses it instead of
// interning, keeping the shared tables untouched by concurrent sessions.
func NewUnknownValue(name string) *FeatureValue {
	fv := &FeatureValue{name: name}
	if n, err := strconv.ParseFloat(name, 64); err == nil {
		fv.num = n
		fv.numOK = true
	}
	return fv
}

// Instance is one training or test example: a fixed-length feature-value
// vector, a class label, and an exemplar weight (1 unless set).
type Instance struct {
	Values []*FeatureValue
	Target *TargetValue
	Weight float64
}
