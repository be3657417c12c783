// Package corpus reads instance files: one example per line, a configurable
// field layout, `#` comments, and an optional leading exemplar weight.
package corpus

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/kuandriy/mblearn/internal/options"
)

// ErrParse marks a malformed instance line. Callers skip the line and
// continue.
var ErrParse = errors.New("malformed instance line")

// Line is one parsed instance, still in textual form.
type Line struct {
	Fields []string
	Target string
	Weight float64
	Number int
}

// Reader scans an instance file under the layout fixed by the options.
type Reader struct {
	s           *bufio.Scanner
	format      options.InputFormat
	numFeatures int
	targetPos   int
	exWeights   bool
	lineNo      int
}

// NewReader wraps r. The format may still be UnknownFormat, in which case
// the first data line fixes it (and the feature count) by sniffing.
func NewReader(r io.Reader, o *options.Options) *Reader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Reader{
		s:           s,
		format:      o.Format,
		numFeatures: o.NumFeatures,
		targetPos:   o.TargetPos,
		exWeights:   o.ExWeights,
	}
}

// Format returns the (possibly sniffed) input format.
func (r *Reader) Format() options.InputFormat { return r.format }

// NumFeatures returns the fixed feature count once known.
func (r *Reader) NumFeatures() int { return r.numFeatures }

// Next returns the next instance. io.EOF ends the stream; an ErrParse error
// reports one bad line and leaves the reader usable.
func (r *Reader) Next() (*Line, error) {
	for r.s.Scan() {
		r.lineNo++
		raw := strings.TrimSpace(r.s.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		if r.format == options.UnknownFormat {
			r.sniff(raw)
		}
		line, err := r.parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrParse, r.lineNo, err)
		}
		line.Number = r.lineNo
		return line, nil
	}
	if err := r.s.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// sniff fixes the format and feature count from the first data line.
func (r *Reader) sniff(raw string) {
	switch {
	case strings.HasPrefix(raw, "("):
		r.format = options.Sparse
	case strings.Contains(raw, ","):
		r.format = options.CommaSep
	default:
		r.format = options.Columns
	}
	if r.numFeatures == 0 {
		switch r.format {
		case options.CommaSep:
			r.numFeatures = len(splitComma(raw)) - 1
		case options.Columns:
			r.numFeatures = len(strings.Fields(raw)) - 1
		}
		if r.exWeights {
			r.numFeatures--
		}
	}
}

func splitComma(raw string) []string {
	parts := strings.Split(raw, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func (r *Reader) parse(raw string) (*Line, error) {
	weight := 1.0
	if r.exWeights {
		var wtok string
		var rest string
		if i := strings.IndexAny(raw, " \t,"); i < 0 {
			return nil, fmt.Errorf("missing fields after exemplar weight")
		} else {
			wtok, rest = raw[:i], strings.TrimLeft(raw[i:], " \t,")
		}
		w, err := strconv.ParseFloat(wtok, 64)
		if err != nil || w < 0 {
			return nil, fmt.Errorf("bad exemplar weight %q", wtok)
		}
		weight = w
		raw = rest
	}

	var fields []string
	switch r.format {
	case options.CommaSep:
		fields = splitComma(raw)
	case options.Columns:
		fields = strings.Fields(raw)
	case options.Compact:
		fields = strings.Split(raw, "")
	case options.Sparse:
		return r.parseSparse(raw, weight)
	case options.SparseBin:
		return r.parseSparseBin(raw, weight)
	default:
		return nil, fmt.Errorf("unknown input format")
	}

	want := r.numFeatures + 1
	if r.numFeatures > 0 && len(fields) != want {
		return nil, fmt.Errorf("expected %d fields, found %d", want, len(fields))
	}
	tpos := r.targetPos
	if tpos < 0 || tpos >= len(fields) {
		tpos = len(fields) - 1
	}
	target := fields[tpos]
	values := make([]string, 0, len(fields)-1)
	values = append(values, fields[:tpos]...)
	values = append(values, fields[tpos+1:]...)
	return &Line{Fields: values, Target: target, Weight: weight}, nil
}

// parseSparse reads "(idx,value) (idx,value) ... target"; unmentioned
// features take the null value "0".
func (r *Reader) parseSparse(raw string, weight float64) (*Line, error) {
	values := make([]string, r.numFeatures)
	for i := range values {
		values[i] = "0"
	}
	for strings.HasPrefix(raw, "(") {
		end := strings.IndexByte(raw, ')')
		if end < 0 {
			return nil, fmt.Errorf("unterminated sparse pair")
		}
		idxStr, val, ok := strings.Cut(raw[1:end], ",")
		if !ok {
			return nil, fmt.Errorf("bad sparse pair %q", raw[:end+1])
		}
		idx, err := strconv.Atoi(strings.TrimSpace(idxStr))
		if err != nil || idx < 1 || idx > r.numFeatures {
			return nil, fmt.Errorf("sparse feature index %q out of range", idxStr)
		}
		values[idx-1] = strings.TrimSpace(val)
		raw = strings.TrimSpace(raw[end+1:])
	}
	if raw == "" {
		return nil, fmt.Errorf("missing target")
	}
	return &Line{Fields: values, Target: raw, Weight: weight}, nil
}

// parseSparseBin reads "i1,i2,...,target": listed features are "1", the
// rest "0".
func (r *Reader) parseSparseBin(raw string, weight float64) (*Line, error) {
	values := make([]string, r.numFeatures)
	for i := range values {
		values[i] = "0"
	}
	parts := splitComma(raw)
	if len(parts) < 1 {
		return nil, fmt.Errorf("missing target")
	}
	target := parts[len(parts)-1]
	for _, p := range parts[:len(parts)-1] {
		idx, err := strconv.Atoi(p)
		if err != nil || idx < 1 || idx > r.numFeatures {
			return nil, fmt.Errorf("binary feature index %q out of range", p)
		}
		values[idx-1] = "1"
	}
	return &Line{Fields: values, Target: target, Weight: weight}, nil
}
