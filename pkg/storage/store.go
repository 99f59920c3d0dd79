// Package storage persists small per-module key-value data across restarts.
//
// All modules share one CBOR file keyed module id -> key -> value. Every
// write rewrites the file atomically via temp-file-then-rename. Each module
// map carries _ctime and _mtime (unix seconds) maintained by the store.
package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Reserved keys maintained by the store.
const (
	KeyCreated  = "_ctime"
	KeyModified = "_mtime"
)

var decMode = func() cbor.DecMode {
	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}()

var encMode = func() cbor.EncMode {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// Store is the module key-value file. It is safe for concurrent use; one
// lock guards all modules since access is rare.
type Store struct {
	path   string
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	data map[string]map[string]cbor.RawMessage
}

// Open loads the store at path. A missing file yields an empty store. A
// corrupt file is moved aside to path+".corrupt" and an empty store is used.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		path:   path,
		logger: logger.With("component", "storage"),
		now:    time.Now,
		data:   make(map[string]map[string]cbor.RawMessage),
	}
	if path == "" {
		return s, nil
	}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}
	if len(raw) == 0 {
		return s, nil
	}
	if err := decMode.Unmarshal(raw, &s.data); err != nil {
		s.logger.Warn("storage file corrupt, starting empty", "path", path, "error", err)
		_ = os.Rename(path, path+".corrupt")
		s.data = make(map[string]map[string]cbor.RawMessage)
	}
	return s, nil
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Set stores value under module/key and persists the file.
func (s *Store) Set(module, key string, value any) error {
	if strings.HasPrefix(key, "_") {
		return fmt.Errorf("storage: key %q is reserved", key)
	}
	enc, err := encMode.Marshal(value)
	if err != nil {
		return fmt.Errorf("storage: encode %s/%s: %w", module, key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.data[module]
	now := float64(s.now().UnixNano()) / 1e9
	if !ok {
		m = make(map[string]cbor.RawMessage)
		s.data[module] = m
		m[KeyCreated] = mustEncode(now)
	}
	m[key] = enc
	m[KeyModified] = mustEncode(now)
	return s.flushLocked()
}

// Get decodes module/key into v. It reports false when the key is absent.
func (s *Store) Get(module, key string, v any) (bool, error) {
	s.mu.Lock()
	raw, ok := s.data[module][key]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := decMode.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("storage: decode %s/%s: %w", module, key, err)
	}
	return true, nil
}

// Value returns module/key decoded into a generic Go value. Positive
// integers decode as uint64, maps as map[string]any.
func (s *Store) Value(module, key string) (any, bool) {
	var v any
	ok, err := s.Get(module, key, &v)
	if err != nil || !ok {
		return nil, false
	}
	return v, true
}

// Delete removes module/key and persists the file. Deleting a missing key
// is not an error.
func (s *Store) Delete(module, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.data[module]
	if !ok {
		return nil
	}
	if _, ok := m[key]; !ok {
		return nil
	}
	delete(m, key)
	m[KeyModified] = mustEncode(float64(s.now().UnixNano()) / 1e9)
	return s.flushLocked()
}

// Keys returns the module's keys sorted, excluding reserved ones.
func (s *Store) Keys(module string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.data[module] {
		if !strings.HasPrefix(k, "_") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Modified returns the module's last modification time.
func (s *Store) Modified(module string) (time.Time, bool) {
	var secs float64
	ok, err := s.Get(module, KeyModified, &secs)
	if !ok || err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, int64(secs*1e9)), true
}

func (s *Store) flushLocked() error {
	if s.path == "" {
		return nil
	}
	data, err := encMode.Marshal(s.data)
	if err != nil {
		return fmt.Errorf("storage: encode: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: create directory %s: %w", dir, err)
	}
	if err := atomicWrite(s.path, data, dir); err != nil {
		return fmt.Errorf("storage: write %s: %w", s.path, err)
	}
	return nil
}

func mustEncode(v any) cbor.RawMessage {
	b, err := encMode.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// atomicWrite writes data to path via a temp file in tmpDir and rename.
func atomicWrite(path string, data []byte, tmpDir string) error {
	tmp, err := os.CreateTemp(tmpDir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	success = true
	return nil
}
