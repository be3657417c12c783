package experiment

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/kuandriy/mblearn/internal/options"
	"github.com/kuandriy/mblearn/internal/symbol"
)

// computeWeights estimates one weight per feature from the training
// statistics, under the configured weighting scheme.
func (e *Experiment) computeWeights() error {
	n := len(e.feats)
	e.weights = make([]float64, n)
	switch e.Opts.Weighting {
	case options.NoWeighting:
		for i := range e.weights {
			e.weights[i] = 1
		}
	case options.UserDefined:
		if err := e.readWeightsFile(e.Opts.WeightsFile); err != nil {
			return err
		}
	default:
		total, hc := targetEntropy(e.targets)
		for i, f := range e.feats {
			e.weights[i] = featureWeight(e.Opts.Weighting, f, e.targets, total, hc)
		}
	}
	if e.Opts.Diversify {
		diversify(e.weights)
	}
	return nil
}

// targetEntropy returns the training size and the class entropy H(C).
func targetEntropy(targets *symbol.Targets) (total, hc float64) {
	for _, tv := range targets.Values() {
		total += tv.Freq()
	}
	if total == 0 {
		return 0, 0
	}
	for _, tv := range targets.Values() {
		if p := tv.Freq() / total; p > 0 {
			hc -= p * math.Log2(p)
		}
	}
	return total, hc
}

func featureWeight(w options.Weighting, f *symbol.Feature, targets *symbol.Targets, total, hc float64) float64 {
	if total == 0 {
		return 0
	}
	switch w {
	case options.InfoGain:
		ig, _ := infoGain(f, total, hc)
		return ig
	case options.GainRatio:
		ig, si := infoGain(f, total, hc)
		if si < 1e-12 {
			return 0
		}
		return ig / si
	case options.ChiSquare:
		return chiSquare(f, targets, total)
	case options.SharedVariance:
		x2 := chiSquare(f, targets, total)
		df := targets.Len()
		if f.Len() < df {
			df = f.Len()
		}
		if df < 2 {
			return 0
		}
		return x2 / (total * float64(df-1))
	}
	return 1
}

// infoGain returns IG = H(C) - H(C|F) and the split info of the feature.
func infoGain(f *symbol.Feature, total, hc float64) (ig, splitInfo float64) {
	cond := 0.0
	for _, fv := range f.Values() {
		if fv.Freq() == 0 {
			continue
		}
		pv := fv.Freq() / total
		hv := 0.0
		for _, c := range fv.ClassIndices() {
			if p := fv.ClassCount(c) / fv.Freq(); p > 0 {
				hv -= p * math.Log2(p)
			}
		}
		cond += pv * hv
		splitInfo -= pv * math.Log2(pv)
	}
	return hc - cond, splitInfo
}

// chiSquare sums (observed-expected)^2/expected over the value/class grid.
func chiSquare(f *symbol.Feature, targets *symbol.Targets, total float64) float64 {
	x2 := 0.0
	for _, fv := range f.Values() {
		if fv.Freq() == 0 {
			continue
		}
		for _, tv := range targets.Values() {
			expected := fv.Freq() * tv.Freq() / total
			if expected <= 0 {
				continue
			}
			observed := fv.ClassCount(tv.Index())
			diff := observed - expected
			x2 += diff * diff / expected
		}
	}
	return x2
}

// diversify spreads the weight scale: every weight moves to 1 + (w - min),
// so the smallest informative feature still separates from an ignored one.
func diversify(weights []float64) {
	min := math.Inf(1)
	for _, w := range weights {
		if w < min {
			min = w
		}
	}
	for i, w := range weights {
		weights[i] = 1 + w - min
	}
}

// readWeightsFile loads "feature weight" lines, 1-based.
func (e *Experiment) readWeightsFile(path string) error {
	if path == "" {
		return fmt.Errorf("user weighting requires a weights file (-w <file>)")
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("cannot open weights file: %w", err)
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	seen := 0
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return fmt.Errorf("bad weights line %q", line)
		}
		idx, err := strconv.Atoi(fields[0])
		if err != nil || idx < 1 || idx > len(e.weights) {
			return fmt.Errorf("weights line names feature %q out of range", fields[0])
		}
		w, err := strconv.ParseFloat(fields[1], 64)
		if err != nil || w < 0 {
			return fmt.Errorf("bad weight %q for feature %d", fields[1], idx)
		}
		e.weights[idx-1] = w
		seen++
	}
	if err := s.Err(); err != nil {
		return err
	}
	if seen == 0 {
		return fmt.Errorf("weights file %s holds no weights", path)
	}
	return nil
}
