package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ErrAlreadyRunning is returned by Acquire when a live process holds the
// pid file.
var ErrAlreadyRunning = errors.New("already running")

// PIDFile guards a socket path against a second bar on the same path.
type PIDFile struct {
	path string
	held bool
}

// NewPIDFile returns a pid file at path. Nothing is written until Acquire.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// Path returns the file's location.
func (p *PIDFile) Path() string { return p.path }

// Acquire writes the current pid. A file left by a dead process is taken
// over; one held by a live process yields ErrAlreadyRunning.
//
// The write is atomic: content goes to a temporary file in the same
// directory, then is renamed into place.
func (p *PIDFile) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o700); err != nil {
		return fmt.Errorf("create pid directory: %w", err)
	}
	if pid, err := ReadPID(p.path); err == nil && pid != os.Getpid() && ProcessAlive(pid) {
		return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
	}

	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename pid file: %w", err)
	}
	p.held = true
	return nil
}

// Release removes the file if this process acquired it.
func (p *PIDFile) Release() error {
	if !p.held {
		return nil
	}
	p.held = false
	if err := os.Remove(p.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove pid file: %w", err)
	}
	return nil
}

// ReadPID reads the pid stored at path.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pid file: %w", err)
	}
	return pid, nil
}

// ProcessAlive reports whether pid exists, probing with signal 0. EPERM
// means the process exists but belongs to someone else.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
