package distrib

import (
	"bufio"
	"fmt"
	"io"
	"strconv"

	"github.com/kuandriy/mblearn/internal/symbol"
)

// The persisted tree format interleaves distributions with tree structure, so
// the reading helpers below work on the caller's bufio.Reader and are shared
// with the tree reader.

// SkipSpace consumes whitespace, leaving the reader at the next token byte.
func SkipSpace(r *bufio.Reader) error {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		if b != ' ' && b != '\t' && b != '\n' && b != '\r' {
			return r.UnreadByte()
		}
	}
}

// PeekByte returns the next non-space byte without consuming it.
func PeekByte(r *bufio.Reader) (byte, error) {
	if err := SkipSpace(r); err != nil {
		return 0, err
	}
	b, err := r.Peek(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadToken returns the next whitespace- or delimiter-terminated token.
func ReadToken(r *bufio.Reader) (string, error) {
	if err := SkipSpace(r); err != nil {
		return "", err
	}
	var out []byte
	for {
		b, err := r.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		if b == ' ' || b == '\t' || b == '\n' || b == '\r' {
			break
		}
		if b == '(' || b == ')' || b == '[' || b == ']' || b == ',' || b == '{' || b == '}' {
			if len(out) == 0 {
				out = append(out, b)
			} else if err := r.UnreadByte(); err != nil {
				return "", err
			}
			break
		}
		out = append(out, b)
	}
	if len(out) == 0 {
		return "", io.ErrUnexpectedEOF
	}
	return string(out), nil
}

// expect consumes the next token and checks it equals want.
func expect(r *bufio.Reader, want string) error {
	tok, err := ReadToken(r)
	if err != nil {
		return err
	}
	if tok != want {
		return fmt.Errorf("expected %q, found %q", want, tok)
	}
	return nil
}

// Read parses a { label weight, ... } block. With intern true unseen labels
// are added to the table in file order; otherwise unknown labels are an
// error.
func Read(r *bufio.Reader, targets *symbol.Targets, intern bool) (*Distribution, error) {
	if err := expect(r, "{"); err != nil {
		return nil, err
	}
	d := New()
	for {
		name, err := ReadToken(r)
		if err != nil {
			return nil, err
		}
		if name == "}" {
			return d, nil
		}
		var tv *symbol.TargetValue
		if intern {
			tv = targets.Add(name)
		} else if tv = targets.Lookup(name); tv == nil {
			return nil, fmt.Errorf("unknown class label %q in distribution", name)
		}
		wtok, err := ReadToken(r)
		if err != nil {
			return nil, err
		}
		w, err := strconv.ParseFloat(wtok, 64)
		if err != nil {
			return nil, fmt.Errorf("bad weight %q in distribution: %v", wtok, err)
		}
		d.Inc(tv, w)
		next, err := PeekByte(r)
		if err != nil {
			return nil, err
		}
		if next == ',' {
			if _, err := r.ReadByte(); err != nil {
				return nil, err
			}
		}
	}
}

// ReadHashed parses a { index weight, ... } block. The label table must
// already hold every index, from the Classes header section.
func ReadHashed(r *bufio.Reader, targets *symbol.Targets) (*Distribution, error) {
	if err := expect(r, "{"); err != nil {
		return nil, err
	}
	d := New()
	for {
		tok, err := ReadToken(r)
		if err != nil {
			return nil, err
		}
		if tok == "}" {
			return d, nil
		}
		idx, err := strconv.Atoi(tok)
		if err != nil {
			return nil, fmt.Errorf("bad class index %q in distribution: %v", tok, err)
		}
		tv := targets.ByIndex(idx)
		if tv == nil {
			return nil, fmt.Errorf("class index %d out of range in distribution", idx)
		}
		wtok, err := ReadToken(r)
		if err != nil {
			return nil, err
		}
		w, err := strconv.ParseFloat(wtok, 64)
		if err != nil {
			return nil, fmt.Errorf("bad weight %q in distribution: %v", wtok, err)
		}
		d.Inc(tv, w)
		next, err := PeekByte(r)
		if err != nil {
			return nil, err
		}
		if next == ',' {
			if _, err := r.ReadByte(); err != nil {
				return nil, err
			}
		}
	}
}
