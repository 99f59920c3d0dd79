// Package daemon serves the local command socket that lets other processes
// (and `barpulse refresh`) poke a running bar.
//
// Protocol:
//   - Clients send newline-delimited commands on one connection.
//   - Every command gets one JSON line back.
//   - Commands: refresh <module>[.<instance>], refresh_all, list, status.
//   - An unknown command gets an error reply and the connection is closed.
package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrUnknownCommand is reported for commands the socket does not know.
var ErrUnknownCommand = errors.New("unknown command")

// maxLine bounds a single command line.
const maxLine = 4096

// SocketError reports a failure of the socket itself. It never stops the
// bar; the server restarts after RestartInterval.
type SocketError struct {
	Op   string
	Path string
	Err  error
}

func (e *SocketError) Error() string {
	return fmt.Sprintf("socket %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *SocketError) Unwrap() error { return e.Err }

// Backend carries out socket commands.
type Backend interface {
	// Refresh refreshes the instances ref names and returns their ids.
	Refresh(ref string) ([]string, error)
	RefreshAll()
	List() []string
	Status() any
}

// Reply is the JSON line written for each command.
type Reply struct {
	OK        bool     `json:"ok"`
	Error     string   `json:"error,omitempty"`
	Refreshed []string `json:"refreshed,omitempty"`
	Modules   []string `json:"modules,omitempty"`
	Status    any      `json:"status,omitempty"`
}

// ServerConfig configures a Server.
type ServerConfig struct {
	Path            string
	RestartInterval time.Duration
	Logger          *slog.Logger
}

// Server listens on a Unix domain socket and dispatches commands to a
// Backend.
type Server struct {
	path    string
	backend Backend
	logger  *slog.Logger
	restart *rate.Limiter
	pid     *PIDFile

	wg    sync.WaitGroup
	ready chan struct{}
	once  sync.Once
}

// NewServer creates a server for cfg.Path.
func NewServer(backend Backend, cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RestartInterval <= 0 {
		cfg.RestartInterval = 5 * time.Second
	}
	return &Server{
		path:    cfg.Path,
		backend: backend,
		logger:  cfg.Logger.With("component", "socket"),
		restart: rate.NewLimiter(rate.Every(cfg.RestartInterval), 1),
		pid:     NewPIDFile(cfg.Path + ".pid"),
		ready:   make(chan struct{}),
	}
}

// Ready is closed once the socket first accepts connections.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Run serves until ctx is done, restarting the listener after failures. It
// returns nil on cancellation and a *SocketError only if the socket path is
// owned by another live process.
func (s *Server) Run(ctx context.Context) error {
	if err := s.pid.Acquire(); err != nil {
		return &SocketError{Op: "lock", Path: s.path, Err: err}
	}
	defer func() {
		if err := s.pid.Release(); err != nil {
			s.logger.Debug("releasing pid file failed", "error", err)
		}
	}()

	for {
		if err := s.restart.Wait(ctx); err != nil {
			break
		}
		err := s.serve(ctx)
		if ctx.Err() != nil {
			break
		}
		s.logger.Warn("command socket failed, restarting", "error", err)
	}
	s.wg.Wait()
	return nil
}

// serve runs one listener until it fails or ctx is done.
func (s *Server) serve(ctx context.Context) error {
	// Stale socket files are ours to remove: the pid file is held.
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &SocketError{Op: "remove", Path: s.path, Err: err}
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "unix", s.path)
	if err != nil {
		return &SocketError{Op: "listen", Path: s.path, Err: err}
	}
	if err := os.Chmod(s.path, 0o600); err != nil {
		ln.Close()
		return &SocketError{Op: "chmod", Path: s.path, Err: err}
	}
	defer os.Remove(s.path)

	s.once.Do(func() { close(s.ready) })
	s.logger.Debug("command socket listening", "path", s.path)

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			ln.Close()
			return &SocketError{Op: "accept", Path: s.path, Err: err}
		}
		s.wg.Add(1)
		go s.handleConn(ctx, conn)
	}
}

// handleConn answers commands until the client hangs up, ctx ends or an
// unknown command arrives.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 256), maxLine)
	enc := json.NewEncoder(conn)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		reply, err := s.dispatch(line)
		if err != nil {
			reply = Reply{Error: err.Error()}
		}
		if werr := enc.Encode(reply); werr != nil {
			s.logger.Debug("writing socket reply failed", "error", werr)
			return
		}
		if errors.Is(err, ErrUnknownCommand) {
			return
		}
	}
}

// dispatch runs one command line.
func (s *Server) dispatch(line string) (Reply, error) {
	cmd, args := parseCommand(line)
	switch cmd {
	case "refresh":
		if args == "" {
			return Reply{}, errors.New("refresh: module name required")
		}
		ids, err := s.backend.Refresh(args)
		if err != nil {
			return Reply{}, err
		}
		s.logger.Debug("socket refresh", "ref", args, "ids", ids)
		return Reply{OK: true, Refreshed: ids}, nil
	case "refresh_all":
		s.backend.RefreshAll()
		return Reply{OK: true}, nil
	case "list":
		return Reply{OK: true, Modules: s.backend.List()}, nil
	case "status":
		return Reply{OK: true, Status: s.backend.Status()}, nil
	default:
		return Reply{}, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
	}
}

// parseCommand splits a line into a lowercase command and the remainder.
//
//	refresh clock          -> "refresh", "clock"
//	refresh disk /home     -> "refresh", "disk /home"
//	REFRESH_ALL            -> "refresh_all", ""
func parseCommand(line string) (cmd, args string) {
	cmd, args, _ = strings.Cut(strings.TrimSpace(line), " ")
	return strings.ToLower(cmd), strings.TrimSpace(args)
}
