// Package watch reports changes to route source files.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Change is a debounced modification of a source file.
type Change struct {
	Path    string
	RouteID string
	Op      string
}

// Watcher monitors a directory tree for source changes.
type Watcher struct {
	watcher  *fsnotify.Watcher
	root     string
	debounce time.Duration
	OnChange func(Change)
	OnError  func(err error)
}

// NewWatcher creates a watcher for every directory below root.
func NewWatcher(root string, debounce time.Duration) (*Watcher, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = 300 * time.Millisecond
	}
	w := &Watcher{watcher: fsWatcher, root: absRoot, debounce: debounce}
	if err := w.addTree(absRoot); err != nil {
		fsWatcher.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if name := d.Name(); path != dir && (strings.HasPrefix(name, ".") || name == "node_modules") {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch directory: %w", err)
		}
		return nil
	})
}

// Run starts the watch loop. Blocks until context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	debounceTimers := make(map[string]*time.Timer)
	var timerMu sync.Mutex
	defer func() {
		timerMu.Lock()
		for _, t := range debounceTimers {
			t.Stop()
		}
		timerMu.Unlock()
		w.watcher.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(event.Name); err != nil && w.OnError != nil {
						w.OnError(err)
					}
					continue
				}
			}
			change := Change{Path: event.Name, RouteID: RouteID(w.root, event.Name), Op: opName(event.Op)}

			// Debounce rapid changes
			timerMu.Lock()
			if timer, exists := debounceTimers[event.Name]; exists {
				timer.Stop()
			}
			debounceTimers[event.Name] = time.AfterFunc(w.debounce, func() {
				timerMu.Lock()
				delete(debounceTimers, change.Path)
				timerMu.Unlock()
				if w.OnChange != nil {
					w.OnChange(change)
				}
			})
			timerMu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			if w.OnError != nil {
				w.OnError(err)
			}
		}
	}
}

func opName(op fsnotify.Op) string {
	switch {
	case op&fsnotify.Remove != 0:
		return "remove"
	case op&fsnotify.Rename != 0:
		return "rename"
	case op&fsnotify.Create != 0:
		return "create"
	default:
		return "write"
	}
}

// RouteID derives the route id of a file below the app directory:
// app/routes/blog/route.tsx becomes routes/blog and app/root.tsx becomes
// root. Files outside appDir yield an empty id.
func RouteID(appDir, path string) string {
	rel, err := filepath.Rel(appDir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return ""
	}
	rel = filepath.ToSlash(rel)
	rel = strings.TrimSuffix(rel, filepath.Ext(rel))
	rel = strings.TrimSuffix(rel, "/route")
	return rel
}
