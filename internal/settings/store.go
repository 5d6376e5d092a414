// Package settings holds the live engine settings. Readers take a copy per
// use; writers clamp values, persist them when a path is configured, and
// notify watchers.
package settings

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"qibla-ng/internal/config"
	"qibla-ng/internal/engine"
)

type Store struct {
	path string

	mu       sync.RWMutex
	cur      engine.Settings
	watchers map[int]chan engine.Settings
	nextID   int
}

// New returns a store seeded with initial. When path is non-empty and the
// file exists, its contents replace initial.
func New(initial engine.Settings, path string) (*Store, error) {
	s := &Store{
		path:     path,
		cur:      initial.Clamped(),
		watchers: make(map[int]chan engine.Settings),
	}
	if path == "" {
		return s, nil
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read settings")
	}
	loaded := s.cur
	if err := yaml.Unmarshal(b, &loaded); err != nil {
		return nil, errors.Wrapf(err, "parse settings %s", path)
	}
	s.cur = loaded.Clamped()
	return s, nil
}

func (s *Store) Get() engine.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Set clamps next, persists it and notifies watchers. The clamped value is
// returned. On a persistence error the in-memory value is left unchanged.
func (s *Store) Set(next engine.Settings) (engine.Settings, error) {
	next = next.Clamped()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path != "" {
		b, err := yaml.Marshal(next)
		if err != nil {
			return s.cur, errors.Wrap(err, "marshal settings")
		}
		if err := config.WriteFileAtomic(s.path, b, 0o644); err != nil {
			return s.cur, errors.Wrap(err, "save settings")
		}
	}
	s.cur = next
	for _, ch := range s.watchers {
		// Keep only the newest value for slow watchers.
		select {
		case <-ch:
		default:
		}
		ch <- next
	}
	return next, nil
}

// Watch registers a watcher that receives every new value. Call Unwatch with
// the returned id to release it.
func (s *Store) Watch() (int, <-chan engine.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	ch := make(chan engine.Settings, 1)
	s.watchers[id] = ch
	return id, ch
}

func (s *Store) Unwatch(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.watchers[id]; ok {
		delete(s.watchers, id)
		close(ch)
	}
}

// Path is the persistence file, or "" when settings live in memory only.
func (s *Store) Path() string { return s.path }
