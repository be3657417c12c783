package server

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strings"
	"sync"

	"github.com/kuandriy/mblearn/internal/experiment"
	"github.com/kuandriy/mblearn/internal/options"
)

// maxAcceptFailures is the number of consecutive accept failures the loop
// tolerates; the next consecutive failure ends it.
const maxAcceptFailures = 20

// Server owns the listener, the frozen experiments, and the session
// counter. Training finishes before Serve starts, so sessions only ever
// read the shared models.
type Server struct {
	cfg *Config
	log *slog.Logger

	exps map[string]*experiment.Experiment

	mu       sync.Mutex
	sessions int
	nextID   int
}

// New creates a server for the given configuration.
func New(cfg *Config, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{cfg: cfg, log: log, exps: make(map[string]*experiment.Experiment)}
}

// AddExperiment registers a trained model under a base name. An empty name
// registers the single default base.
func (s *Server) AddExperiment(name string, e *experiment.Experiment) {
	s.exps[name] = e
}

// TrainFromConfig builds every experiment the config file declares.
func (s *Server) TrainFromConfig() error {
	for name, optStr := range s.cfg.Experiments {
		opts := options.Default()
		if err := opts.SetOptions(optStr); err != nil {
			return fmt.Errorf("experiment %s: %w", name, err)
		}
		e := experiment.New(opts, s.log.With("base", name))
		switch {
		case opts.TreeInFile != "":
			if err := e.LoadTree(opts.TreeInFile); err != nil {
				return fmt.Errorf("experiment %s: %w", name, err)
			}
		case opts.TrainFile != "":
			if err := e.Learn(opts.TrainFile); err != nil {
				return fmt.Errorf("experiment %s: %w", name, err)
			}
		default:
			return fmt.Errorf("experiment %s: no training file (-f) or instance base (-i)", name)
		}
		s.exps[name] = e
	}
	if len(s.exps) == 0 {
		return errors.New("no experiments configured")
	}
	return nil
}

// baseNames returns the registered names, sorted, skipping the default.
func (s *Server) baseNames() []string {
	names := make([]string, 0, len(s.exps))
	for name := range s.exps {
		if name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// ListenAndServe binds the configured port and serves until accept fails
// too often.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("cannot bind port %d: %w", s.cfg.Port, err)
	}
	defer ln.Close()
	s.log.Info("starting to listen", "port", s.cfg.Port, "protocol", s.cfg.Protocol)
	return s.Serve(ln)
}

// Serve runs the accept loop on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	failures := 0
	for {
		conn, err := ln.Accept()
		if err != nil {
			failures++
			s.log.Error("accept failed", "err", err, "failures", failures)
			if failures > maxAcceptFailures {
				return fmt.Errorf("accept failcount > %d: %w", maxAcceptFailures, err)
			}
			continue
		}
		failures = 0
		go s.handle(conn)
	}
}

// handle runs one session: enforce the connection cap, dispatch the
// protocol, and guarantee the socket and the counter slot are released on
// every exit path.
func (s *Server) handle(conn net.Conn) {
	s.mu.Lock()
	s.sessions++
	s.nextID++
	id := s.nextID
	count := s.sessions
	over := count > s.cfg.MaxConn
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("session panicked", "session", id, "panic", r)
		}
		conn.Close()
		s.mu.Lock()
		s.sessions--
		count := s.sessions
		s.mu.Unlock()
		s.log.Info("session closed", "session", id, "sessions", count)
	}()

	s.log.Info("session started", "session", id, "sessions", count)
	if over {
		fmt.Fprintf(conn, "Maximum connections exceeded.\ntry again later...\n")
		s.log.Warn("session refused", "session", id)
		return
	}

	if s.cfg.Protocol == "http" {
		s.handleHTTP(conn, id)
		return
	}
	s.handleLine(conn, id)
}

// session commands of the line protocol
const (
	cmdClassify = "CLASSIFY"
	cmdBase     = "BASE"
	cmdSet      = "SET"
	cmdQuery    = "QUERY"
	cmdExit     = "EXIT"
)

// handleLine speaks the line-oriented protocol: one command per line,
// strictly request/reply, until EXIT or disconnect.
func (s *Server) handleLine(conn net.Conn, id int) {
	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	defer w.Flush()

	fmt.Fprintf(w, "Welcome to the Timbl server.\n")
	var cur *experiment.Experiment
	if def, ok := s.exps[""]; ok && len(s.exps) == 1 {
		cur = def.Clone()
	} else {
		fmt.Fprintf(w, "available bases: %s \n", strings.Join(s.baseNames(), " "))
	}
	w.Flush()

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			fmt.Fprintf(w, "SKIP '%s'\n", line)
			w.Flush()
			continue
		}
		command, param := splitCommand(line)
		debug := cur != nil && cur.Opts.Verbosity&options.VClientDebug != 0

		switch strings.ToUpper(command) {
		case cmdBase:
			if e, ok := s.exps[param]; ok {
				cur = e.Clone()
				fmt.Fprintf(w, "selected base: '%s'\n", param)
				s.log.Info("base selected", "session", id, "base", param)
			} else {
				fmt.Fprintf(w, "ERROR { Unknown basename: %s}\n", param)
			}
		case cmdSet:
			if cur == nil {
				fmt.Fprintf(w, "you haven't selected a base yet!\n")
				break
			}
			if err := cur.Opts.SetOptions(param); err != nil {
				fmt.Fprintf(w, "ERROR { %v }\n", err)
				break
			}
			cur.RefreshSession()
			if debug {
				s.log.Info("set", "session", id, "options", param)
			}
			fmt.Fprintf(w, "OK\n")
		case cmdQuery:
			if cur == nil {
				fmt.Fprintf(w, "you haven't selected a base yet!\n")
				break
			}
			fmt.Fprintf(w, "STATUS\n")
			cur.Opts.ShowSettings(w)
			fmt.Fprintf(w, "ENDSTATUS\n")
		case cmdExit:
			fmt.Fprintf(w, "OK Closing\n")
			return
		case cmdClassify:
			if cur == nil {
				fmt.Fprintf(w, "you haven't selected a base yet!\n")
				break
			}
			res, err := cur.Classify(param)
			if err != nil {
				fmt.Fprintf(w, "ERROR { %v }\n", err)
				break
			}
			if debug {
				s.log.Info("classified", "session", id, "input", param,
					"category", res.Category.Name())
			}
			writeLineResult(w, cur.Opts, res)
		default:
			fmt.Fprintf(w, "ERROR { Illegal instruction:'%s' in line:%s}\n", command, line)
		}
		if err := w.Flush(); err != nil {
			return
		}
	}
}

// writeLineResult renders one CATEGORY reply with its verbosity add-ons.
func writeLineResult(w *bufio.Writer, o *options.Options, res *experiment.Result) {
	fmt.Fprintf(w, "CATEGORY {%s}", res.Category.Name())
	if o.Verbosity&options.VDistrib != 0 && res.Distribution != nil {
		fmt.Fprintf(w, " DISTRIBUTION %s", res.Distribution.Save())
	}
	if o.Verbosity&options.VDistance != 0 {
		fmt.Fprintf(w, " DISTANCE {%g}", res.Distance)
	}
	if o.Verbosity&options.VNearN != 0 && len(res.Neighbors) > 0 {
		fmt.Fprintf(w, " NEIGHBORS\n")
		for i, nb := range res.Neighbors {
			fmt.Fprintf(w, "# k=%d, %d Neighbor(s) at distance: %g\n", i+1, len(nb.Dists), nb.Distance)
			for _, d := range nb.Dists {
				fmt.Fprintf(w, "#\t%s\n", d.Save())
			}
		}
		fmt.Fprintf(w, "ENDNEIGHBORS")
	}
	fmt.Fprintf(w, "\n")
}

// splitCommand separates the keyword from the rest of the line.
func splitCommand(line string) (command, param string) {
	line = strings.TrimSpace(line)
	if i := strings.IndexAny(line, " \t"); i >= 0 {
		return line[:i], strings.TrimSpace(line[i+1:])
	}
	return line, ""
}
