// Package upstream runs an external status generator (i3status or any
// program speaking the i3bar protocol) and keeps its most recent frame.
//
// Frames are never queued: each parsed frame replaces the previous one and
// a single pending notification tells the output pipeline to re-render.
package upstream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"gitlab.com/tinyland/lab/barpulse/pkg/composite"
	"gitlab.com/tinyland/lab/barpulse/pkg/config"
	"gitlab.com/tinyland/lab/barpulse/pkg/protocol"
)

// maxLine bounds one protocol line from the child.
const maxLine = 1 << 20

// ErrExited is returned by Run when the child closes its stdout. The
// runtime treats it as fatal.
var ErrExited = errors.New("upstream exited")

// Reader owns the child process and the latest frame it produced.
type Reader struct {
	command  string
	logger   *slog.Logger
	errColor string

	mu        sync.Mutex
	header    protocol.Header
	hasHeader bool
	frame     protocol.Frame
	frameErr  error
	seq       uint64
	pid       int

	updates chan struct{}
	ready   chan struct{}
	once    sync.Once
}

// New creates a reader for command, which runs through sh -c. errColor
// colors the segment shown when a frame fails to parse.
func New(command, errColor string, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{
		command:  command,
		logger:   logger.With("component", "upstream"),
		errColor: errColor,
		updates:  make(chan struct{}, 1),
		ready:    make(chan struct{}),
	}
}

// Updates delivers a value whenever a new frame is available. Notifications
// coalesce; read Latest after receiving.
func (r *Reader) Updates() <-chan struct{} { return r.updates }

// Ready is closed once the header has been read, or Run has returned.
func (r *Reader) Ready() <-chan struct{} { return r.ready }

// Header returns the child's protocol header once it has been read.
func (r *Reader) Header() (protocol.Header, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.header, r.hasHeader
}

// Latest returns the most recent frame and its sequence number. The
// sequence is 0 before the first frame.
func (r *Reader) Latest() (protocol.Frame, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append(protocol.Frame(nil), r.frame...), r.seq
}

// Lookup returns the segments of the latest frame belonging to an order
// entry. "wireless _first_" matches name "wireless" and instance
// "_first_"; a bare name matches every instance of that name.
func (r *Reader) Lookup(entry string) []composite.Segment {
	name, instance := config.SplitModuleID(entry)
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []composite.Segment
	for _, seg := range r.frame {
		if seg.Name != name {
			continue
		}
		if instance != "" && seg.Instance != instance {
			continue
		}
		out = append(out, seg.Clone())
	}
	return out
}

// Run starts the child and consumes its output until ctx is done or the
// child exits.
func (r *Reader) Run(ctx context.Context) error {
	defer r.markReady()

	cmd := exec.CommandContext(ctx, "sh", "-c", r.command)
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return unix.Kill(-cmd.Process.Pid, unix.SIGTERM)
	}
	cmd.WaitDelay = 2 * time.Second
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("upstream: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("upstream: start %q: %w", r.command, err)
	}
	r.mu.Lock()
	r.pid = cmd.Process.Pid
	r.mu.Unlock()
	r.logger.Info("upstream started", "command", r.command, "pid", cmd.Process.Pid)

	consumeErr := r.Consume(ctx, stdout)
	waitErr := cmd.Wait()

	r.mu.Lock()
	r.pid = 0
	r.mu.Unlock()

	if ctx.Err() != nil {
		return nil
	}
	if consumeErr != nil && !errors.Is(consumeErr, ErrExited) {
		return consumeErr
	}
	if waitErr != nil {
		return fmt.Errorf("%w: %v", ErrExited, waitErr)
	}
	return ErrExited
}

// Consume reads the protocol stream from rd: header, opening bracket,
// then frames. Malformed frames become an error segment and reading
// continues. It returns ErrExited at end of stream.
func (r *Reader) Consume(ctx context.Context, rd io.Reader) error {
	defer r.markReady()

	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)

	lineNo := 0
	gotHeader := false
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		lineNo++
		line := sc.Bytes()
		trimmed := strings.TrimSpace(string(line))
		if trimmed == "" {
			continue
		}

		if !gotHeader {
			h, err := protocol.ParseHeader(line)
			if err != nil {
				return fmt.Errorf("upstream: %w", err)
			}
			r.mu.Lock()
			r.header, r.hasHeader = h, true
			r.mu.Unlock()
			gotHeader = true
			r.markReady()
			continue
		}
		if protocol.IsOpen(line) {
			continue
		}

		frame, err := protocol.ParseFrame(line)
		if err != nil {
			r.logger.Warn("bad upstream frame", "line", lineNo, "error", err)
		}
		r.publish(frame, err)
	}
	if err := sc.Err(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("upstream: read: %w", err)
	}
	if ctx.Err() != nil {
		return nil
	}
	return ErrExited
}

// Refresh asks the child to emit a new frame now.
func (r *Reader) Refresh() error { return r.Signal(unix.SIGUSR1) }

// Signal sends sig to the child's process group.
func (r *Reader) Signal(sig unix.Signal) error {
	r.mu.Lock()
	pid := r.pid
	r.mu.Unlock()
	if pid == 0 {
		return errors.New("upstream: not running")
	}
	if err := unix.Kill(-pid, sig); err != nil {
		return fmt.Errorf("upstream: signal %v: %w", sig, err)
	}
	return nil
}

// publish replaces the latest frame and posts a coalesced notification. A
// frame that failed to parse empties the frame and records err, so only
// the error segment shows until the next good frame.
func (r *Reader) publish(frame protocol.Frame, err error) {
	r.mu.Lock()
	if err != nil {
		r.frame = nil
		r.frameErr = err
	} else {
		r.frame = frame
		r.frameErr = nil
	}
	r.seq++
	r.mu.Unlock()
	select {
	case r.updates <- struct{}{}:
	default:
	}
}

// ErrorSegment returns the red error segment for the last frame if it
// failed to parse. The output pipeline shows it in the upstream slot.
func (r *Reader) ErrorSegment() (composite.Segment, bool) {
	r.mu.Lock()
	err := r.frameErr
	r.mu.Unlock()
	if err == nil {
		return composite.Segment{}, false
	}
	seg := composite.Text("upstream: " + err.Error())
	seg.Name = "upstream"
	if r.errColor != "" {
		seg.Color = r.errColor
	}
	return seg, true
}

func (r *Reader) markReady() {
	r.once.Do(func() { close(r.ready) })
}
