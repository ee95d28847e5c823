package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 500 * time.Millisecond

// Reloader watches the host config file and triggers hot reload. It watches
// the parent directory so a file replaced by rename is still picked up.
type Reloader struct {
	watcher *fsnotify.Watcher
	reload  func() error
	paths   []string
	targets map[string]bool
}

// NewReloader creates a file watcher that calls server.ReloadConfig.
// Paths that do not exist are skipped.
func NewReloader(server *Server, paths []string) (*Reloader, error) {
	return newReloader(server.ReloadConfig, paths)
}

func newReloader(reload func() error, paths []string) (*Reloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	r := &Reloader{
		watcher: watcher,
		reload:  reload,
		targets: make(map[string]bool),
	}
	dirs := make(map[string]bool)
	for _, p := range paths {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		if _, err := os.Stat(abs); err != nil {
			continue
		}
		if dir := filepath.Dir(abs); !dirs[dir] {
			if err := watcher.Add(dir); err != nil {
				watcher.Close()
				return nil, fmt.Errorf("failed to watch %q: %w", dir, err)
			}
			dirs[dir] = true
		}
		r.targets[abs] = true
		r.paths = append(r.paths, p)
	}
	return r, nil
}

// Paths returns the files being watched.
func (r *Reloader) Paths() []string {
	return r.paths
}

// relevant reports whether ev writes or recreates a watched file.
func (r *Reloader) relevant(ev fsnotify.Event) bool {
	if !r.targets[filepath.Clean(ev.Name)] {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)
}

// Run watches for file changes and reloads once the writes settle.
// Blocks until ctx is cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	settle := time.NewTimer(reloadDebounce)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if r.relevant(ev) {
				settle.Reset(reloadDebounce)
			}

		case <-settle.C:
			if err := r.reload(); err != nil {
				fmt.Fprintf(os.Stderr, "hot-reload failed: %v\n", err)
			} else {
				fmt.Fprintf(os.Stderr, "hot-reload: config reloaded\n")
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "file watcher error: %v\n", err)
		}
	}
}
