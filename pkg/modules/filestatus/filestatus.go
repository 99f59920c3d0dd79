// Package filestatus shows whether files matching a set of glob patterns
// exist. The containing directories are watched, so the block changes as
// soon as a matching file appears or disappears instead of waiting for the
// cache timeout.
//
// Parameters:
//
//	paths                  glob pattern or list of patterns (required)
//	format                 default "{icon}"
//	format_path            per-file format, default "{basename}"
//	format_path_separator  default " "
//	icon_available         default "●"
//	icon_unavailable       default "■"
//
// Placeholders: {path} (match count), {paths}, {icon}.
package filestatus

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"

	"gitlab.com/tinyland/lab/barpulse/pkg/composite"
	"gitlab.com/tinyland/lab/barpulse/pkg/config"
	"gitlab.com/tinyland/lab/barpulse/pkg/module"
)

// Name is the registry name.
const Name = "file_status"

type fileStatus struct {
	py3        *module.Py3
	patterns   []string
	format     string
	formatPath string
	pathSep    string
	iconOn     string
	iconOff    string

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// New is the module factory.
func New(py3 *module.Py3) (module.Module, error) {
	p := py3.Params()
	patterns := p.StringSlice("paths")
	if len(patterns) == 0 {
		return nil, &config.Error{Key: "paths", Msg: "at least one path is required"}
	}
	for i, pat := range patterns {
		if _, err := filepath.Match(pat, ""); err != nil {
			return nil, &config.Error{Key: "paths", Msg: fmt.Sprintf("bad pattern %q: %v", pat, err)}
		}
		patterns[i] = expandHome(pat)
	}
	return &fileStatus{
		py3:        py3,
		patterns:   patterns,
		format:     p.String("format", "{icon}"),
		formatPath: p.String("format_path", "{basename}"),
		pathSep:    p.String("format_path_separator", " "),
		iconOn:     p.String("icon_available", "●"),
		iconOff:    p.String("icon_unavailable", "■"),
		done:       make(chan struct{}),
	}, nil
}

func expandHome(p string) string {
	if len(p) < 2 || p[:2] != "~/" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}

// PostConfig starts watching the directories that hold the patterns.
// Directories that do not exist are skipped; those patterns are still
// checked on every update.
func (f *fileStatus) PostConfig(context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		f.py3.Logger().Warn("file watching disabled", "error", err)
		return nil
	}
	dirs := make(map[string]bool)
	for _, pat := range f.patterns {
		dir := filepath.Dir(pat)
		if dirs[dir] {
			continue
		}
		dirs[dir] = true
		if err := w.Add(dir); err != nil {
			f.py3.Logger().Debug("not watching", "dir", dir, "error", err)
		}
	}
	f.watcher = w
	f.wg.Add(1)
	go f.watch()
	return nil
}

func (f *fileStatus) watch() {
	defer f.wg.Done()
	for {
		select {
		case <-f.done:
			return
		case ev, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if f.matches(ev.Name) {
				if err := f.py3.UpdateSelf(); err != nil {
					f.py3.Logger().Debug("refresh failed", "error", err)
				}
			}
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			if !errors.Is(err, fsnotify.ErrEventOverflow) {
				f.py3.Logger().Warn("watch error", "error", err)
			}
		}
	}
}

func (f *fileStatus) matches(name string) bool {
	for _, pat := range f.patterns {
		if ok, _ := filepath.Match(pat, name); ok {
			return true
		}
	}
	return false
}

// Kill stops the watcher.
func (f *fileStatus) Kill() {
	f.once.Do(func() {
		close(f.done)
		if f.watcher != nil {
			f.watcher.Close()
		}
		f.wg.Wait()
	})
}

func (f *fileStatus) Methods() []module.Method {
	return []module.Method{{Name: "file_status", Fn: f.update}}
}

func (f *fileStatus) update(context.Context) (*module.Response, error) {
	var found []string
	seen := make(map[string]bool)
	for _, pat := range f.patterns {
		matches, _ := filepath.Glob(pat)
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				found = append(found, m)
			}
		}
	}
	sort.Strings(found)

	icon, color := f.iconOff, f.py3.Color("bad")
	if len(found) > 0 {
		icon, color = f.iconOn, f.py3.Color("good")
	}
	var paths []any
	if f.py3.FormatContains(f.format, "paths") {
		for _, m := range found {
			paths = append(paths, f.py3.SafeFormat(f.formatPath, map[string]any{
				"basename": filepath.Base(m),
				"path":     m,
			}))
		}
	}
	return &module.Response{
		Composite: f.py3.BuildComposite(f.format, map[string]any{
			"path": len(found),
			"icon": icon,
		}, map[string]*composite.Composite{
			"paths": f.py3.JoinComposites(f.pathSep, paths...),
		}),
		Attrs: map[string]any{"color": color},
	}, nil
}
