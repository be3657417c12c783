package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kuandriy/mblearn/internal/options"
)

var rootCmd = &cobra.Command{
	Use:   "mblearn",
	Short: "Memory-based learning and classification",
	Long: `mblearn builds an indexed instance base from labeled examples and
classifies new instances by similarity to the stored set. One shared
representation serves nearest-neighbor search (IB1/IB2), decision-tree
traversal (IGTREE), and the TRIBL hybrids.`,
	SilenceUsage: true,
}

// option flags, passed through the shared option grammar
var (
	flagAlgorithm string
	flagNeighbors int
	flagMetric    string
	flagWeighting string
	flagDecay     string
	flagFormat    string
	flagNorm      string
	flagVerbosity []string
	flagFeatures  int
	flagTarget    int
	flagMVDM      string
	flagExact     bool
	flagKeepDist  bool
	flagExWeights bool
	flagBootstrap int
	flagSeed      int64
	flagBeam      int
	flagThreshold int
	flagClip      int
	flagMaxBests  int
	flagTreeOrder string
	flagDiversify bool
	flagSloppy    bool
	flagSilly     bool
	flagRandom    bool
	flagDebug     bool
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flagAlgorithm, "algorithm", "a", "", "algorithm: IB1, IB2, IGTREE, TRIBL, TRIBL2, LOO, CV (or 0-4)")
	pf.IntVarP(&flagNeighbors, "neighbors", "k", 0, "number of nearest neighbors")
	pf.StringVarP(&flagMetric, "metric", "m", "", "metric specification, e.g. O or M:N3:I1-2")
	pf.StringVarP(&flagWeighting, "weighting", "w", "", "feature weighting: nw, gr, ig, x2, sv, or a weights file")
	pf.StringVarP(&flagDecay, "decay", "d", "", "neighbor decay: Z, IL, ID[:a], ED[:a[:b]]")
	pf.StringVarP(&flagFormat, "input-format", "F", "", "input format: Columns, C4.5, Sparse, Binary, Compact")
	pf.StringVarP(&flagNorm, "normalize", "G", "", "normalize output distribution: 0 or 1[:factor]")
	pf.StringArrayVarP(&flagVerbosity, "verbosity", "v", nil, "verbosity codes, e.g. db, di, n, cd")
	pf.IntVarP(&flagFeatures, "features", "N", 0, "number of features (mandatory for sparse formats)")
	pf.IntVarP(&flagTarget, "target", "T", 0, "1-based target field position (default: last)")
	pf.StringVarP(&flagMVDM, "mvd-threshold", "L", "", "MVDM frequency threshold, e.g. 2 or 2:L")
	pf.BoolVarP(&flagExact, "exact", "x", false, "use exact-match shortcut")
	pf.BoolVarP(&flagKeepDist, "keep-distributions", "D", false, "keep distributions on internal nodes")
	pf.BoolVarP(&flagExWeights, "exemplar-weights", "s", false, "instances carry a leading exemplar weight")
	pf.IntVarP(&flagBootstrap, "bootstrap", "b", 0, "IB2 bootstrap size")
	pf.Int64Var(&flagSeed, "seed", 0, "random seed for tie-breaking")
	pf.IntVar(&flagBeam, "Beam", 0, "beam size for weight reporting")
	pf.IntVar(&flagThreshold, "Threshold", 0, "prefix depth for IGTREE/TRIBL")
	pf.IntVar(&flagClip, "clip", 0, "clip frequency for matrix output")
	pf.IntVar(&flagMaxBests, "maxbests", 0, "maximum retained neighbor ranks")
	pf.StringVar(&flagTreeOrder, "TreeOrder", "", "explicit feature order, e.g. 2,1,3")
	pf.BoolVar(&flagDiversify, "Diversify", false, "rescale feature weights apart")
	pf.BoolVar(&flagSloppy, "sloppy", false, "sloppy leave-one-out")
	pf.BoolVar(&flagSilly, "silly", false, "accepted and stored; does not change the search")
	pf.BoolVar(&flagRandom, "random", false, "random tie-breaking")
	pf.BoolVar(&flagDebug, "debug", false, "debug logging")
}

// buildOptions folds the changed flags into a fresh option record through
// the shared option grammar, so CLI, SET, and HTTP behave identically.
func buildOptions(cmd *cobra.Command) (*options.Options, error) {
	opts := options.Default()
	var parts []string
	add := func(name, opt string, args ...any) {
		if cmd.Flags().Changed(name) {
			parts = append(parts, fmt.Sprintf(opt, args...))
		}
	}
	add("algorithm", "-a %s", flagAlgorithm)
	add("neighbors", "-k %d", flagNeighbors)
	add("metric", "-m %s", flagMetric)
	add("weighting", "-w %s", flagWeighting)
	add("decay", "-d %s", flagDecay)
	add("input-format", "-F %s", flagFormat)
	add("normalize", "-G %s", flagNorm)
	add("features", "-N %d", flagFeatures)
	add("target", "-T %d", flagTarget)
	add("mvd-threshold", "-L %s", flagMVDM)
	add("bootstrap", "-b %d", flagBootstrap)
	add("seed", "--seed %d", flagSeed)
	add("Beam", "--Beam %d", flagBeam)
	add("Threshold", "--Threshold %d", flagThreshold)
	add("clip", "--clip %d", flagClip)
	add("maxbests", "--maxbests %d", flagMaxBests)
	add("TreeOrder", "--TreeOrder %s", flagTreeOrder)
	if flagExact {
		parts = append(parts, "+x")
	}
	if flagKeepDist {
		parts = append(parts, "+D")
	}
	if flagExWeights {
		parts = append(parts, "+s")
	}
	if flagDiversify {
		parts = append(parts, "--Diversify")
	}
	if flagSloppy {
		parts = append(parts, "--sloppy")
	}
	if flagSilly {
		parts = append(parts, "--silly")
	}
	if flagRandom {
		parts = append(parts, "--random")
	}
	for _, v := range flagVerbosity {
		parts = append(parts, "+v "+v)
	}
	if err := opts.SetOptions(strings.Join(parts, " ")); err != nil {
		return nil, err
	}
	return opts, nil
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if flagDebug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
