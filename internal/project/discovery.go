// Package project discovers git repositories offered as session working
// directories. Project discovery is a collaborator of the session core,
// not part of it; the gateway only reads the cached listing.
package project

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tbulle/remote-ai-ide/internal/logging"
)

const debounceInterval = 500 * time.Millisecond

// Project is one discovered working directory.
type Project struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

// Discovery scans a root directory for git repositories, caching the
// result. A filesystem watcher invalidates the cache when the root or its
// immediate children change.
type Discovery struct {
	root     string
	maxDepth int

	mu     sync.Mutex
	cached []Project
	valid  bool

	fsWatcher *fsnotify.Watcher
	cancel    chan struct{}
}

// NewDiscovery creates a discovery over root, descending maxDepth levels.
func NewDiscovery(root string, maxDepth int) *Discovery {
	return &Discovery{root: root, maxDepth: maxDepth}
}

// List returns the discovered projects, rescanning if the cache is stale.
func (d *Discovery) List() []Project {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.valid {
		d.cached = findGitProjects(d.root, d.root, d.maxDepth, 0)
		sort.Slice(d.cached, func(i, j int) bool { return d.cached[i].Path < d.cached[j].Path })
		d.valid = true
	}

	result := make([]Project, len(d.cached))
	copy(result, d.cached)
	return result
}

// Start begins watching the root for changes. Safe to skip; List still
// works, it just never invalidates.
func (d *Discovery) Start() error {
	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsW.Add(d.root); err != nil {
		fsW.Close()
		return err
	}

	// Watch first-level children too so a repo appearing one level down
	// invalidates the cache.
	if entries, err := os.ReadDir(d.root); err == nil {
		for _, entry := range entries {
			if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
				fsW.Add(filepath.Join(d.root, entry.Name()))
			}
		}
	}

	d.fsWatcher = fsW
	d.cancel = make(chan struct{})
	go d.watchLoop()
	return nil
}

// Stop halts the watcher. Idempotent.
func (d *Discovery) Stop() {
	if d.cancel == nil {
		return
	}
	close(d.cancel)
	d.fsWatcher.Close()
	d.cancel = nil
	d.fsWatcher = nil
}

// watchLoop invalidates the cache on debounced filesystem events.
func (d *Discovery) watchLoop() {
	var timer *time.Timer

	for {
		select {
		case <-d.cancel:
			if timer != nil {
				timer.Stop()
			}
			return

		case _, ok := <-d.fsWatcher.Events:
			if !ok {
				return
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceInterval, d.invalidate)

		case err, ok := <-d.fsWatcher.Errors:
			if !ok {
				return
			}
			logging.Warn().Err(err).Msg("project watcher error")
		}
	}
}

func (d *Discovery) invalidate() {
	d.mu.Lock()
	d.valid = false
	d.mu.Unlock()
}

// findGitProjects walks base looking for directories containing .git,
// skipping hidden directories, down to maxDepth.
func findGitProjects(root, base string, maxDepth, depth int) []Project {
	if depth > maxDepth {
		return nil
	}

	var results []Project
	entries, err := os.ReadDir(base)
	if err != nil {
		return nil
	}

	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		full := filepath.Join(base, entry.Name())
		if _, err := os.Stat(filepath.Join(full, ".git")); err == nil {
			name, relErr := filepath.Rel(root, full)
			if relErr != nil {
				name = entry.Name()
			}
			results = append(results, Project{Path: full, Name: name})
		} else if depth < maxDepth {
			results = append(results, findGitProjects(root, full, maxDepth, depth+1)...)
		}
	}

	return results
}
