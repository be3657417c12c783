package server

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/kuandriy/mblearn/internal/options"
)

// httpReadTimeout bounds every header-line read so a stalled client cannot
// pin a session slot.
const httpReadTimeout = time.Second

// queryParam is one decoded key=value pair, in request order.
type queryParam struct {
	key   string
	value string
}

// handleHTTP serves one GET request: consume the headers, act on the query
// string parameters in order, and reply with a single XML document.
func (s *Server) handleHTTP(conn net.Conn, id int) {
	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	defer w.Flush()

	line, err := timedLine(conn, r)
	if err != nil {
		s.log.Warn("request line not received", "session", id, "err", err)
		return
	}
	if strings.Contains(line, "HTTP") {
		// drain the header block
		for {
			h, err := timedLine(conn, r)
			if err != nil || h == "" {
				break
			}
		}
	}

	target, ok := parseRequestLine(line)
	if !ok {
		fmt.Fprintf(w, "<error>ill-formed request line</error>\n")
		return
	}
	baseName, query, _ := strings.Cut(target, "?")
	baseName = strings.TrimPrefix(baseName, "/")

	exp, ok := s.exps[baseName]
	if !ok {
		s.log.Warn("invalid base", "session", id, "base", baseName)
		fmt.Fprintf(w, "invalid basename: '%s'\n", baseName)
		return
	}
	api := exp.Clone()
	doc := newXMLDoc("timblResult")
	doc.attr("algorithm", api.Opts.Algorithm.String())

	for _, p := range parseQuery(query) {
		switch p.key {
		case "set":
			opt := p.value
			if opt != "" && opt[0] != '-' && opt[0] != '+' {
				opt = "-" + opt
			}
			if err := api.Opts.SetOptions(opt); err != nil {
				doc.child("error", fmt.Sprintf("set %s failed: %v", p.value, err))
				continue
			}
			api.RefreshSession()
		case "show":
			switch p.value {
			case "settings":
				var sb strings.Builder
				api.Opts.ShowSettings(&sb)
				doc.child("settings", sb.String())
			case "weights":
				doc.child("weights", formatWeights(api.Weights()))
			default:
				s.log.Warn("unknown show target", "session", id, "show", p.value)
			}
		case "classify":
			input := strings.Trim(p.value, `"'`)
			res, err := api.Classify(input)
			if err != nil {
				doc.child("error", err.Error())
				continue
			}
			cl := doc.open("classification")
			cl.child("input", input)
			cl.child("category", res.Category.Name())
			if api.Opts.Verbosity&options.VDistrib != 0 && res.Distribution != nil {
				cl.child("distribution", res.Distribution.Save())
			}
			if api.Opts.Verbosity&options.VDistance != 0 {
				cl.child("distance", fmt.Sprintf("%g", res.Distance))
			}
			if api.Opts.Verbosity&options.VNearN != 0 && len(res.Neighbors) > 0 {
				nb := cl.open("neighbors")
				for _, n := range res.Neighbors {
					rank := nb.open("neighbor")
					rank.attr("distance", fmt.Sprintf("%g", n.Distance))
					for _, d := range n.Dists {
						rank.child("distribution", d.Save())
					}
					rank.close()
				}
				nb.close()
			}
			cl.close()
		default:
			s.log.Warn("unknown word in query", "session", id, "word", p.key)
		}
	}
	w.WriteString(doc.String())
	w.WriteString("\n")
}

func timedLine(conn net.Conn, r *bufio.Reader) (string, error) {
	if err := conn.SetReadDeadline(time.Now().Add(httpReadTimeout)); err != nil {
		return "", err
	}
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// parseRequestLine extracts the target from "GET <target> HTTP/1.x".
func parseRequestLine(line string) (string, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 || !strings.EqualFold(fields[0], "GET") {
		return "", false
	}
	return fields[1], true
}

// parseQuery splits the raw query, keeping parameter order; url.Values
// would lose it.
func parseQuery(query string) []queryParam {
	var out []queryParam
	for _, av := range strings.Split(query, "&") {
		if av == "" {
			continue
		}
		key, val, _ := strings.Cut(av, "=")
		if decoded, err := url.QueryUnescape(val); err == nil {
			val = decoded
		}
		out = append(out, queryParam{key: key, value: val})
	}
	return out
}

func formatWeights(weights []float64) string {
	parts := make([]string, len(weights))
	for i, w := range weights {
		parts[i] = fmt.Sprintf("%d=%g", i+1, w)
	}
	return strings.Join(parts, " ")
}

// xmlDoc builds the reply document with ordered children and escaped text.
type xmlDoc struct {
	sb      *strings.Builder
	stack   []string
	pending bool
}

func newXMLDoc(root string) *xmlDoc {
	d := &xmlDoc{sb: &strings.Builder{}}
	d.sb.WriteString("<" + root)
	d.stack = []string{root}
	d.pending = true
	return d
}

func (d *xmlDoc) attr(name, value string) {
	fmt.Fprintf(d.sb, " %s=%q", name, value)
}

func (d *xmlDoc) closeTag() {
	if d.pending {
		d.sb.WriteString(">")
		d.pending = false
	}
}

func (d *xmlDoc) open(name string) *xmlDoc {
	d.closeTag()
	d.sb.WriteString("<" + name)
	d.stack = append(d.stack, name)
	d.pending = true
	return d
}

func (d *xmlDoc) child(name, text string) {
	d.closeTag()
	d.sb.WriteString("<" + name + ">")
	xml.EscapeText(d.sb, []byte(text))
	d.sb.WriteString("</" + name + ">")
}

func (d *xmlDoc) close() {
	d.closeTag()
	last := d.stack[len(d.stack)-1]
	d.stack = d.stack[:len(d.stack)-1]
	d.sb.WriteString("</" + last + ">")
}

func (d *xmlDoc) String() string {
	for len(d.stack) > 0 {
		d.close()
	}
	return d.sb.String()
}
