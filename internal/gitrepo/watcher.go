package gitrepo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// ErrNotWatchable is returned by HeadWatcher.Add for repositories whose .git
// is not a plain directory (linked worktrees, submodules).
var ErrNotWatchable = errors.New("repository HEAD cannot be watched")

// HeadWatcher reports repositories whose HEAD file changed. It watches each
// repository's .git directory rather than HEAD itself because git replaces
// HEAD by renaming a lock file over it.
type HeadWatcher struct {
	w      *fsnotify.Watcher
	log    zerolog.Logger
	events chan string

	mu    sync.Mutex
	repos map[string]string // .git dir -> repository root

	done chan struct{}
}

// NewHeadWatcher starts a watcher with nothing registered.
func NewHeadWatcher(log zerolog.Logger) (*HeadWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	h := &HeadWatcher{
		w:      w,
		log:    log,
		events: make(chan string, 16),
		repos:  make(map[string]string),
		done:   make(chan struct{}),
	}
	go h.loop()
	return h, nil
}

// Events delivers repository roots whose HEAD changed. Notifications are
// dropped while the channel is full.
func (h *HeadWatcher) Events() <-chan string {
	return h.events
}

// Add starts watching the repository rooted at dir.
func (h *HeadWatcher) Add(dir string) error {
	dir = filepath.Clean(dir)
	gitDir := filepath.Join(dir, ".git")
	info, err := os.Stat(gitDir)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNotWatchable, dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrNotWatchable, dir)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.repos[gitDir]; ok {
		return nil
	}
	if err := h.w.Add(gitDir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", gitDir, err)
	}
	h.repos[gitDir] = dir
	return nil
}

// Remove stops watching the repository rooted at dir.
func (h *HeadWatcher) Remove(dir string) {
	gitDir := filepath.Join(filepath.Clean(dir), ".git")

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.repos[gitDir]; !ok {
		return
	}
	delete(h.repos, gitDir)
	// The directory may already be gone, which removes the watch too.
	_ = h.w.Remove(gitDir)
}

// Watched returns the watched repository roots, sorted.
func (h *HeadWatcher) Watched() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.repos))
	for _, dir := range h.repos {
		out = append(out, dir)
	}
	sort.Strings(out)
	return out
}

// Reconcile makes the watch set equal to dirs. Repositories that cannot be
// watched are logged and skipped.
func (h *HeadWatcher) Reconcile(dirs []string) {
	want := make(map[string]bool, len(dirs))
	for _, dir := range dirs {
		want[filepath.Clean(dir)] = true
	}
	for _, dir := range h.Watched() {
		if !want[dir] {
			h.Remove(dir)
		}
	}
	for dir := range want {
		if err := h.Add(dir); err != nil {
			h.log.Debug().Err(err).Str("directory", dir).Msg("not watching HEAD")
		}
	}
}

// Close stops the watcher and closes the Events channel.
func (h *HeadWatcher) Close() error {
	err := h.w.Close()
	<-h.done
	return err
}

func (h *HeadWatcher) loop() {
	defer close(h.done)
	defer close(h.events)
	for {
		select {
		case event, ok := <-h.w.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != "HEAD" {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			h.mu.Lock()
			dir, tracked := h.repos[filepath.Dir(event.Name)]
			h.mu.Unlock()
			if !tracked {
				continue
			}
			select {
			case h.events <- dir:
			default:
				// The periodic branch sweep picks up anything dropped here.
			}

		case err, ok := <-h.w.Errors:
			if !ok {
				return
			}
			h.log.Warn().Err(err).Msg("HEAD watcher error")
		}
	}
}
