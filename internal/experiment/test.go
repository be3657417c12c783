package experiment

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kuandriy/mblearn/internal/corpus"
	"github.com/kuandriy/mblearn/internal/options"
)

// Score accumulates test outcomes.
type Score struct {
	Total   int
	Correct int
	Ties    int
}

// Accuracy returns the fraction classified correctly.
func (s Score) Accuracy() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Correct) / float64(s.Total)
}

// Test classifies every instance of a test file, optionally writing
// "<input> <category>" lines to out.
func (e *Experiment) Test(path string, out io.Writer) (Score, error) {
	f, err := os.Open(path)
	if err != nil {
		return Score{}, fmt.Errorf("cannot open test file: %w", err)
	}
	defer f.Close()

	var w *bufio.Writer
	if out != nil {
		w = bufio.NewWriter(out)
	}
	var score Score
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		res, err := e.Classify(line)
		if errors.Is(err, corpus.ErrParse) {
			e.log.Warn("skipping test instance", "err", err)
			continue
		}
		if err != nil {
			return score, err
		}
		score.Total++
		if res.Tie {
			score.Ties++
		}
		if want := e.targets.Lookup(lastField(line, e.Opts)); want != nil && want == res.Category {
			score.Correct++
		}
		if w != nil {
			fmt.Fprintf(w, "%s %s\n", line, res.Category.Name())
		}
		if e.Opts.Progress > 0 && score.Total%e.Opts.Progress == 0 {
			e.log.Info("testing", "done", score.Total)
		}
	}
	if err := s.Err(); err != nil {
		return score, err
	}
	if w != nil {
		if err := w.Flush(); err != nil {
			return score, err
		}
	}
	return score, nil
}

func lastField(line string, o *options.Options) string {
	var fields []string
	if o.Format == options.CommaSep || o.Format == options.SparseBin {
		fields = strings.Split(line, ",")
	} else {
		fields = strings.Fields(line)
	}
	if len(fields) == 0 {
		return ""
	}
	return strings.TrimSpace(fields[len(fields)-1])
}

// LeaveOneOut scores the training set by holding each stored instance out
// of its own classification: tombstone, classify, restore.
func (e *Experiment) LeaveOneOut() (Score, error) {
	if !e.trained {
		return Score{}, ErrNotTrained
	}
	var score Score
	for i, inst := range e.instances {
		if err := e.tree.Delete(inst); err != nil {
			return score, fmt.Errorf("leave-one-out on instance %d: %w", i+1, err)
		}
		res := e.classifyNN(e.tree, inst, 0)
		e.tree.Add(inst)
		if d := e.tree.TopDist(); d != nil {
			d.Inc(inst.Target, inst.Weight)
		}
		score.Total++
		if res.Tie {
			score.Ties++
		}
		if res.Category == inst.Target {
			score.Correct++
		}
		if e.Opts.Progress > 0 && score.Total%e.Opts.Progress == 0 {
			e.log.Info("leave-one-out", "done", score.Total)
		}
	}
	return score, nil
}

// CrossValidate treats each named file as one held-out fold, training on
// the concatenation of the others. Folds run concurrently.
func CrossValidate(opts *options.Options, log *slog.Logger, files []string) ([]Score, error) {
	if len(files) < 2 {
		return nil, fmt.Errorf("cross-validation needs at least two fold files, got %d", len(files))
	}
	scores := make([]Score, len(files))
	var g errgroup.Group
	for i := range files {
		g.Go(func() error {
			fold := New(opts.Clone(), log)
			fold.Opts.Algorithm = options.IB1
			var training strings.Builder
			for j, name := range files {
				if j == i {
					continue
				}
				data, err := os.ReadFile(name)
				if err != nil {
					return fmt.Errorf("fold %d: %w", i+1, err)
				}
				training.Write(data)
				training.WriteByte('\n')
			}
			if err := fold.LearnFrom(strings.NewReader(training.String())); err != nil {
				return fmt.Errorf("fold %d: %w", i+1, err)
			}
			score, err := fold.Test(files[i], nil)
			if err != nil {
				return fmt.Errorf("fold %d: %w", i+1, err)
			}
			scores[i] = score
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return scores, nil
}
