package settings

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// ChangeFunc is called after the settings changed.
type ChangeFunc func(old, cur Settings)

// Store is the in-memory view of the settings file.
type Store struct {
	path   string
	logger *slog.Logger

	mu        sync.RWMutex
	cur       Settings
	listeners []ChangeFunc

	writeMu sync.Mutex
}

// NewStore creates a Store for path. Call Load before use.
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{path: path, logger: logger}
	s.cur.Normalize()
	return s
}

// Path returns the settings file path.
func (s *Store) Path() string {
	return s.path
}

// OnChange registers fn for every subsequent change.
func (s *Store) OnChange(fn ChangeFunc) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Load reads the file. A missing file leaves an unregistered account.
func (s *Store) Load() error {
	next, err := readFile(s.path)
	if err != nil {
		return err
	}
	s.set(next)
	return nil
}

// Current returns a copy of the current settings.
func (s *Store) Current() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Update applies fn to a copy of the settings, writes the file and
// notifies listeners.
func (s *Store) Update(fn func(*Settings)) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next := s.Current()
	fn(&next)
	next.Normalize()

	data, err := yaml.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	// Write then rename so the watcher never sees a half-written file.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace settings: %w", err)
	}

	s.set(next)
	return nil
}

// Watch reloads the file whenever it changes until ctx is done.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	s.logger.Info("watching settings", "path", s.path)

	name := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			if err := s.Load(); err != nil {
				s.logger.Warn("reload settings failed", "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("settings watcher error", "error", err)
		}
	}
}

// Signal probes.

func (s *Store) Registered() bool     { return s.Current().Registered }
func (s *Store) Locked() bool         { return s.Current().Locked }
func (s *Store) PushEnabled() bool    { return s.Current().PushEnabled() }
func (s *Store) ForceWebsocket() bool { return s.Current().ForceWebsocket }
func (s *Store) Censored() bool       { return s.Current().IsCensored() }

// FetchStrategy returns the configured push fetch strategy.
func (s *Store) FetchStrategy() FetchStrategy {
	return s.Current().Push.FetchStrategy
}

func (s *Store) set(next Settings) {
	s.mu.Lock()
	old := s.cur
	if old == next {
		s.mu.Unlock()
		return
	}
	s.cur = next
	listeners := make([]ChangeFunc, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	s.logger.Info("settings changed", "settings", next.String())
	for _, fn := range listeners {
		fn(old, next)
	}
}

func readFile(path string) (Settings, error) {
	var st Settings
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		st.Normalize()
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("parse settings: %w", err)
	}
	st.Normalize()
	return st, nil
}
