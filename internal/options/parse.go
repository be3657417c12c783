package options

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kuandriy/mblearn/internal/metric"
)

// SetOptions applies an option string like "-k 3 +v db+di -m O:I1". The same
// grammar serves the CLI, the server SET command, and the HTTP set=
// parameter. The first offending option aborts the parse.
func (o *Options) SetOptions(line string) error {
	fields := strings.Fields(line)
	for i := 0; i < len(fields); i++ {
		tok := fields[i]
		if len(tok) < 2 || (tok[0] != '-' && tok[0] != '+') {
			return confErr("ParseError", tok, "expected an option")
		}
		plus := tok[0] == '+'
		if strings.HasPrefix(tok, "--") {
			name, val, hasVal := strings.Cut(tok[2:], "=")
			if !hasVal && needsLongValue(name) {
				if i+1 >= len(fields) {
					return confErr("ValueError", tok, "missing value")
				}
				i++
				val = fields[i]
			}
			if err := o.setLong(name, val); err != nil {
				return err
			}
			continue
		}
		code := tok[1]
		val := tok[2:]
		if val == "" && needsValue(code) {
			if i+1 >= len(fields) {
				return confErr("ValueError", tok, "missing value")
			}
			i++
			val = fields[i]
		}
		if err := o.setShort(code, val, plus); err != nil {
			return err
		}
	}
	return nil
}

func needsValue(code byte) bool {
	switch code {
	case 'x', 'D', 's':
		return false
	}
	return true
}

func needsLongValue(name string) bool {
	switch strings.ToLower(name) {
	case "beam", "threshold", "clip", "maxbests", "seed", "treeorder":
		return true
	}
	return false
}

func (o *Options) locked(option string) error {
	if o.realized {
		return confErr("LockError", option, "%v", ErrConfigLocked)
	}
	return nil
}

func (o *Options) setShort(code byte, val string, plus bool) error {
	switch code {
	case 'a':
		return o.parseAlgorithm(val)
	case 'k':
		n, err := strconv.Atoi(val)
		if err != nil || n < 1 {
			return confErr("ValueError", "-k", "bad neighbor count %q", val)
		}
		o.K = n
	case 'm':
		return o.parseMetrics(val)
	case 'w':
		return o.parseWeighting(val)
	case 'd':
		return o.parseDecay(val)
	case 'L':
		return o.parseMVDMThreshold(val)
	case 'b':
		n, err := strconv.Atoi(val)
		if err != nil || n < 0 {
			return confErr("ValueError", "-b", "bad bootstrap size %q", val)
		}
		o.Bootstrap = n
	case 'B':
		n, err := strconv.Atoi(val)
		if err != nil || n < 1 {
			return confErr("ValueError", "-B", "bad bin count %q", val)
		}
		o.BinSize = n
	case 'q':
		if err := o.locked("-q"); err != nil {
			return err
		}
		n, err := strconv.Atoi(val)
		if err != nil || n < 1 {
			return confErr("ValueError", "-q", "bad threshold %q", val)
		}
		o.IGThreshold = n
	case 'F':
		if err := o.locked("-F"); err != nil {
			return err
		}
		return o.parseFormat(val)
	case 'N':
		if err := o.locked("-N"); err != nil {
			return err
		}
		n, err := strconv.Atoi(val)
		if err != nil || n < 1 {
			return confErr("ValueError", "-N", "bad feature count %q", val)
		}
		o.NumFeatures = n
	case 'T':
		if err := o.locked("-T"); err != nil {
			return err
		}
		n, err := strconv.Atoi(val)
		if err != nil || n < 1 {
			return confErr("ValueError", "-T", "bad target position %q", val)
		}
		o.TargetPos = n - 1
	case 'x':
		o.ExactMatch = plus
	case 'D':
		if err := o.locked("-D"); err != nil {
			return err
		}
		o.KeepDist = plus
	case 's':
		o.ExWeights = plus
	case 'v':
		return o.parseVerbosity(val, plus)
	case 'G':
		return o.parseNormalization(val)
	case 'f':
		o.TrainFile = val
	case 'i':
		o.TreeInFile = val
	case 'I':
		o.TreeOutFile = val
	case 'p':
		n, err := strconv.Atoi(val)
		if err != nil || n < 1 {
			return confErr("ValueError", "-p", "bad progress interval %q", val)
		}
		o.Progress = n
	case 'S':
		n, err := strconv.Atoi(val)
		if err != nil || n < 1 {
			return confErr("ValueError", "-S", "bad port %q", val)
		}
		o.Port = n
	case 'C':
		n, err := strconv.Atoi(val)
		if err != nil || n < 1 {
			return confErr("ValueError", "-C", "bad connection limit %q", val)
		}
		o.MaxConn = n
	default:
		return confErr("ParseError", fmt.Sprintf("-%c", code), "unknown option")
	}
	return nil
}

func (o *Options) setLong(name, val string) error {
	switch strings.ToLower(name) {
	case "beam":
		n, err := strconv.Atoi(val)
		if err != nil || n < 0 {
			return confErr("ValueError", "--Beam", "bad beam size %q", val)
		}
		o.BeamSize = n
	case "threshold":
		if err := o.locked("--Threshold"); err != nil {
			return err
		}
		n, err := strconv.Atoi(val)
		if err != nil || n < 1 {
			return confErr("ValueError", "--Threshold", "bad threshold %q", val)
		}
		o.IGThreshold = n
	case "clip":
		n, err := strconv.Atoi(val)
		if err != nil || n < 0 {
			return confErr("ValueError", "--clip", "bad clip frequency %q", val)
		}
		o.ClipFreq = n
	case "maxbests":
		n, err := strconv.Atoi(val)
		if err != nil || n < 1 {
			return confErr("ValueError", "--maxbests", "bad size %q", val)
		}
		o.MaxBests = n
	case "random":
		o.RandomTies = val == "" || strings.EqualFold(val, "true")
	case "seed":
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return confErr("ValueError", "--seed", "bad seed %q", val)
		}
		o.Seed = n
	case "treeorder":
		if err := o.locked("--TreeOrder"); err != nil {
			return err
		}
		return o.parseTreeOrder(val)
	case "diversify":
		o.Diversify = true
	case "sloppy":
		o.SloppyLOO = val == "" || strings.EqualFold(val, "true")
	case "silly":
		o.Silly = val == "" || strings.EqualFold(val, "true")
	default:
		return confErr("ParseError", "--"+name, "unknown option")
	}
	return nil
}

func (o *Options) parseAlgorithm(val string) error {
	switch strings.ToUpper(val) {
	case "0", "IB1", "IB":
		o.Algorithm = IB1
	case "1", "IGTREE":
		o.Algorithm = IGTree
	case "2", "TRIBL":
		o.Algorithm = TRIBL
	case "3", "IB2":
		o.Algorithm = IB2
	case "4", "TRIBL2":
		o.Algorithm = TRIBL2
	case "LOO":
		o.Algorithm = LOO
	case "CV":
		o.Algorithm = CV
	default:
		return confErr("ValueError", "-a", "unknown algorithm %q", val)
	}
	return nil
}

func (o *Options) parseWeighting(val string) error {
	switch strings.ToLower(val) {
	case "0", "nw":
		o.Weighting = NoWeighting
	case "1", "gr":
		o.Weighting = GainRatio
	case "2", "ig":
		o.Weighting = InfoGain
	case "3", "x2":
		o.Weighting = ChiSquare
	case "4", "sv":
		o.Weighting = SharedVariance
	default:
		// anything else names a weights file
		o.Weighting = UserDefined
		o.WeightsFile = val
	}
	return nil
}

func (o *Options) parseDecay(val string) error {
	parts := strings.Split(val, ":")
	switch strings.ToUpper(parts[0]) {
	case "Z", "0":
		o.Decay = ZeroDecay
	case "IL", "1":
		o.Decay = InvLinear
	case "ID", "2":
		o.Decay = InvDistance
	case "ED", "3":
		o.Decay = ExpDecay
	default:
		return confErr("ValueError", "-d", "unknown decay %q", parts[0])
	}
	if len(parts) > 1 {
		a, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return confErr("ValueError", "-d", "bad decay parameter %q", parts[1])
		}
		o.DecayAlpha = a
	}
	if len(parts) > 2 {
		b, err := strconv.ParseFloat(parts[2], 64)
		if err != nil {
			return confErr("ValueError", "-d", "bad decay parameter %q", parts[2])
		}
		o.DecayBeta = b
	}
	return nil
}

func (o *Options) parseMVDMThreshold(val string) error {
	num, def, hasDef := strings.Cut(val, ":")
	n, err := strconv.Atoi(num)
	if err != nil || n < 1 {
		return confErr("ValueError", "-L", "bad threshold %q", num)
	}
	o.MVDMThreshold = n
	if hasDef {
		k, ok := metric.KindFromCode(def[0])
		if !ok || len(def) != 1 {
			return confErr("ValueError", "-L", "bad fallback metric %q", def)
		}
		o.MVDMDefault = k
	}
	return nil
}

func (o *Options) parseFormat(val string) error {
	switch strings.ToLower(val) {
	case "columns":
		o.Format = Columns
	case "compact":
		o.Format = Compact
	case "c4.5", "comma":
		o.Format = CommaSep
	case "sparse":
		o.Format = Sparse
	case "binary", "sparsebinary":
		o.Format = SparseBin
	default:
		return confErr("ValueError", "-F", "unknown input format %q", val)
	}
	return nil
}

func (o *Options) parseNormalization(val string) error {
	kind, factor, hasFactor := strings.Cut(val, ":")
	switch kind {
	case "0":
		o.Norm = ProbNorm
	case "1":
		o.Norm = AddFactorNorm
		if hasFactor {
			f, err := strconv.ParseFloat(factor, 64)
			if err != nil || f < 0 {
				return confErr("ValueError", "-G", "bad normalization factor %q", factor)
			}
			o.NormFactor = f
		}
	default:
		return confErr("ValueError", "-G", "unknown normalization %q", kind)
	}
	return nil
}

func (o *Options) parseVerbosity(val string, plus bool) error {
	for _, code := range strings.Split(val, "+") {
		found := false
		for _, vc := range verbosityCodes {
			if vc.code == code {
				if plus {
					o.Verbosity |= vc.flag
				} else {
					o.Verbosity &^= vc.flag
				}
				found = true
				break
			}
		}
		if !found {
			return confErr("ValueError", "-v", "unknown verbosity code %q", code)
		}
	}
	return nil
}

func (o *Options) parseTreeOrder(val string) error {
	parts := strings.Split(val, ",")
	order := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 1 {
			return confErr("ValueError", "--TreeOrder", "bad feature index %q", p)
		}
		order = append(order, n-1)
	}
	o.TreeOrder = order
	return nil
}

// parseMetrics applies the -m grammar: a global metric code, then
// colon-separated per-feature overrides of the form <code><ranges>, where
// ranges are 1-based and comma- or hyphen-separated, e.g. "M:N3:I1-2,5".
func (o *Options) parseMetrics(val string) error {
	parts := strings.Split(strings.ToUpper(val), ":")
	if len(parts[0]) != 1 {
		return confErr("ValueError", "-m", "bad global metric %q", parts[0])
	}
	k, ok := metric.KindFromCode(parts[0][0])
	if !ok || k == metric.Ignore {
		return confErr("ValueError", "-m", "unknown global metric %q", parts[0])
	}
	o.GlobalMetric = k
	for _, part := range parts[1:] {
		if part == "" {
			return confErr("ValueError", "-m", "empty feature override")
		}
		fk, ok := metric.KindFromCode(part[0])
		if !ok {
			return confErr("ValueError", "-m", "unknown metric code %q", part[:1])
		}
		if (fk == metric.Ignore || fk == metric.Numeric) && o.realized {
			return confErr("LockError", "-m", "%s overrides must be set before the model is built", fk)
		}
		feats, err := parseRange(part[1:])
		if err != nil {
			return confErr("ValueError", "-m", "bad feature range %q", part[1:])
		}
		for _, f := range feats {
			o.FeatureMetrics[f] = fk
			if fk == metric.Ignore {
				o.Ignored.Set(uint(f))
			}
		}
	}
	return nil
}

// parseRange expands "1-3,5" into 0-based indices.
func parseRange(s string) ([]int, error) {
	if s == "" {
		return nil, fmt.Errorf("empty range")
	}
	var out []int
	for _, chunk := range strings.Split(s, ",") {
		lo, hi, isRange := strings.Cut(chunk, "-")
		a, err := strconv.Atoi(lo)
		if err != nil || a < 1 {
			return nil, fmt.Errorf("bad index %q", lo)
		}
		b := a
		if isRange {
			if b, err = strconv.Atoi(hi); err != nil || b < a {
				return nil, fmt.Errorf("bad range %q", chunk)
			}
		}
		for i := a; i <= b; i++ {
			out = append(out, i-1)
		}
	}
	return out, nil
}
