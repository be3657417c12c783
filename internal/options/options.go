// Package options holds the declarative experiment configuration: the
// algorithm/metric/weighting state machine, its compatibility rules, and the
// option-string grammar shared by the CLI, the server SET command, and the
// HTTP set= parameter.
package options

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/bits-and-blooms/bitset"
	"github.com/kuandriy/mblearn/internal/metric"
)

// Algorithm selects the classification regime.
type Algorithm int

const (
	IB1 Algorithm = iota
	IB2
	IGTree
	TRIBL
	TRIBL2
	LOO
	CV
)

func (a Algorithm) String() string {
	switch a {
	case IB1:
		return "IB1"
	case IB2:
		return "IB2"
	case IGTree:
		return "IGTREE"
	case TRIBL:
		return "TRIBL"
	case TRIBL2:
		return "TRIBL2"
	case LOO:
		return "LOO"
	case CV:
		return "CV"
	}
	return "unknown"
}

// Weighting selects how feature weights are estimated.
type Weighting int

const (
	NoWeighting Weighting = iota
	GainRatio
	InfoGain
	ChiSquare
	SharedVariance
	UserDefined
)

func (w Weighting) String() string {
	switch w {
	case NoWeighting:
		return "nw"
	case GainRatio:
		return "gr"
	case InfoGain:
		return "ig"
	case ChiSquare:
		return "x2"
	case SharedVariance:
		return "sv"
	case UserDefined:
		return "ud"
	}
	return "unknown"
}

// DecayKind selects the neighbor decay function.
type DecayKind int

const (
	ZeroDecay DecayKind = iota
	InvLinear
	InvDistance
	ExpDecay
)

func (d DecayKind) String() string {
	switch d {
	case ZeroDecay:
		return "Z"
	case InvLinear:
		return "IL"
	case InvDistance:
		return "ID"
	case ExpDecay:
		return "ED"
	}
	return "unknown"
}

// InputFormat selects the instance-file layout.
type InputFormat int

const (
	UnknownFormat InputFormat = iota
	Columns
	Compact
	CommaSep
	Sparse
	SparseBin
)

func (f InputFormat) String() string {
	switch f {
	case Columns:
		return "Columns"
	case Compact:
		return "Compact"
	case CommaSep:
		return "C4.5"
	case Sparse:
		return "Sparse"
	case SparseBin:
		return "SparseBinary"
	}
	return "Unknown"
}

// Normalization selects how output distributions are rescaled.
type Normalization int

const (
	NoNorm Normalization = iota
	ProbNorm
	AddFactorNorm
)

// Verbosity is a bit mask of optional outputs.
type Verbosity uint32

const (
	VSilent Verbosity = 1 << iota
	VOptions
	VFeatWeights
	VExact
	VDistance
	VDistrib
	VNearN
	VAllK
	VClientDebug
	VMatchDepth
	VBranching
	VConfidence
)

var verbosityCodes = []struct {
	code string
	flag Verbosity
}{
	{"s", VSilent}, {"o", VOptions}, {"f", VFeatWeights}, {"e", VExact},
	{"di", VDistance}, {"db", VDistrib}, {"n", VNearN}, {"k", VAllK},
	{"cd", VClientDebug}, {"md", VMatchDepth}, {"b", VBranching}, {"c", VConfidence},
}

// ErrConfigLocked is wrapped by the LockError ConfigError returned when a
// locked option is set after the model has been realized.
var ErrConfigLocked = errors.New("option is locked after realization")

// ConfigError reports one invalid option value or combination; Option names
// the offending option.
type ConfigError struct {
	Code   string
	Option string
	Msg    string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: option %q: %s", e.Code, e.Option, e.Msg)
}

// Unwrap lets errors.Is match a LockError against ErrConfigLocked.
func (e *ConfigError) Unwrap() error {
	if e.Code == "LockError" {
		return ErrConfigLocked
	}
	return nil
}

func confErr(code, option, format string, args ...any) *ConfigError {
	return &ConfigError{Code: code, Option: option, Msg: fmt.Sprintf(format, args...)}
}

// Options is the full experiment configuration. The fields under
// "single-assignment" lock once Realize has run, as do the per-feature
// Ignore and Numeric overrides of -m; everything else stays
// session-overridable.
type Options struct {
	Algorithm    Algorithm
	GlobalMetric metric.Kind
	// FeatureMetrics maps 0-based feature positions to an override of the
	// global metric.
	FeatureMetrics map[int]metric.Kind
	Ignored        *bitset.BitSet

	Weighting   Weighting
	WeightsFile string

	K             int
	Decay         DecayKind
	DecayAlpha    float64
	DecayBeta     float64
	MVDMThreshold int
	MVDMDefault   metric.Kind
	BinSize       int
	BeamSize      int
	Bootstrap     int
	ClipFreq      int
	Seed          int64
	Verbosity     Verbosity
	Progress      int
	Norm          Normalization
	NormFactor    float64
	ExWeights     bool
	ExactMatch    bool
	SloppyLOO     bool
	Silly         bool
	Diversify     bool
	RandomTies    bool
	MaxBests      int

	// single-assignment
	Format      InputFormat
	TargetPos   int // -1 means last field
	NumFeatures int
	TreeOrder   []int
	KeepDist    bool
	IGThreshold int

	// paths
	TrainFile   string
	TreeInFile  string
	TreeOutFile string

	// server
	Port    int
	MaxConn int

	realized bool
}

// Default returns the option set every experiment starts from.
func Default() *Options {
	return &Options{
		Algorithm:      IB1,
		GlobalMetric:   metric.Overlap,
		FeatureMetrics: make(map[int]metric.Kind),
		Ignored:        bitset.New(64),
		Weighting:      GainRatio,
		K:              1,
		Decay:          ZeroDecay,
		DecayAlpha:     1,
		DecayBeta:      1,
		MVDMThreshold:  1,
		MVDMDefault:    metric.Overlap,
		BinSize:        20,
		BeamSize:       0,
		Bootstrap:      0,
		ClipFreq:       10,
		Seed:           1,
		Progress:       10000,
		MaxBests:       500,
		TargetPos:      -1,
		MaxConn:        25,
		Port:           -1,
	}
}

// Clone returns a deep copy for a session.
func (o *Options) Clone() *Options {
	out := *o
	out.FeatureMetrics = make(map[int]metric.Kind, len(o.FeatureMetrics))
	for k, v := range o.FeatureMetrics {
		out.FeatureMetrics[k] = v
	}
	out.Ignored = o.Ignored.Clone()
	out.TreeOrder = append([]int(nil), o.TreeOrder...)
	return &out
}

// Realized reports whether the model behind these options has been built.
func (o *Options) Realized() bool { return o.realized }

// Realize validates the record and locks the single-assignment fields.
func (o *Options) Realize() error {
	if err := o.Validate(); err != nil {
		return err
	}
	o.realized = true
	return nil
}

// Validate checks every cross-option rule; it returns the first violation
// with its error code and the offending option name.
func (o *Options) Validate() error {
	if o.K < 1 {
		return confErr("ValueError", "-k", "number of neighbors must be positive, got %d", o.K)
	}
	if (o.Format == Sparse || o.Format == SparseBin) && o.NumFeatures <= 0 {
		return confErr("CombinationError", "-F", "%s input requires an explicit number of features (-N)", o.Format)
	}
	if o.SloppyLOO && o.Algorithm != LOO {
		return confErr("CombinationError", "--sloppy", "sloppy only applies to leave-one-out")
	}
	if o.IGThreshold > 0 && o.Algorithm != IGTree && o.Algorithm != TRIBL {
		return confErr("CombinationError", "--Threshold", "a threshold requires IGTREE or TRIBL")
	}
	if o.GlobalMetric.Similarity() {
		for f, k := range o.FeatureMetrics {
			if k != metric.Ignore {
				return confErr("CombinationError", "-m",
					"%s cannot combine with a %s override on feature %d; only Ignore is allowed",
					o.GlobalMetric, k, f+1)
			}
		}
	}
	if o.MVDMDefault != metric.Overlap && o.MVDMDefault != metric.Levenshtein {
		return confErr("ValueError", "-L", "the MVDM fallback must be Overlap or Levenshtein")
	}
	if o.Bootstrap < 0 {
		return confErr("ValueError", "-b", "bootstrap size cannot be negative")
	}
	if o.Algorithm == IB2 && o.Bootstrap == 0 {
		return confErr("CombinationError", "-a", "IB2 requires a bootstrap size (-b)")
	}
	if o.Norm == AddFactorNorm && o.NormFactor < 0 {
		return confErr("ValueError", "-G", "normalization factor cannot be negative")
	}
	return nil
}

// EffectiveMetric returns the metric for a 0-based feature position.
func (o *Options) EffectiveMetric(f int) metric.Kind {
	if k, ok := o.FeatureMetrics[f]; ok {
		return k
	}
	if o.Ignored.Test(uint(f)) {
		return metric.Ignore
	}
	if o.GlobalMetric.Similarity() {
		return metric.Numeric
	}
	return o.GlobalMetric
}

// VerbosityString renders the active verbosity codes.
func (o *Options) VerbosityString() string {
	var parts []string
	for _, vc := range verbosityCodes {
		if o.Verbosity&vc.flag != 0 {
			parts = append(parts, vc.code)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "+")
}

// ShowSettings writes the QUERY status block body.
func (o *Options) ShowSettings(w io.Writer) {
	fmt.Fprintf(w, "ALGORITHM            : %s\n", o.Algorithm)
	fmt.Fprintf(w, "METRIC               : %s\n", o.GlobalMetric)
	if len(o.FeatureMetrics) > 0 {
		feats := make([]int, 0, len(o.FeatureMetrics))
		for f := range o.FeatureMetrics {
			feats = append(feats, f)
		}
		sort.Ints(feats)
		for _, f := range feats {
			fmt.Fprintf(w, "METRIC feature %-6d: %s\n", f+1, o.FeatureMetrics[f])
		}
	}
	fmt.Fprintf(w, "WEIGHTING            : %s\n", o.Weighting)
	fmt.Fprintf(w, "NEIGHBORS (k)        : %d\n", o.K)
	fmt.Fprintf(w, "DECAY                : %s\n", o.Decay)
	if o.Decay == InvDistance || o.Decay == ExpDecay {
		fmt.Fprintf(w, "DECAY PARAMS         : %g %g\n", o.DecayAlpha, o.DecayBeta)
	}
	fmt.Fprintf(w, "MVDM THRESHOLD       : %d\n", o.MVDMThreshold)
	fmt.Fprintf(w, "EXACT MATCH          : %v\n", o.ExactMatch)
	fmt.Fprintf(w, "VERBOSITY            : %s\n", o.VerbosityString())
}
