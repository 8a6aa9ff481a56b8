package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dyike/cortexdesk/internal/logging"
)

const reloadDelay = 250 * time.Millisecond

// Manager owns a JSON config file. It keeps two layers: the stored config,
// exactly what the file holds, and the effective config, which is the stored
// one with the environment applied on top. Environment values are never
// written back to the file.
//
// A stored config is only accepted when its effective config validates and
// yields a usable RunConfig, both on Merge and on hot reload.
type Manager struct {
	path   string
	logger *logging.Logger

	mu        sync.RWMutex
	stored    Config
	effective Config
	subs      []func(Config)
	watching  bool
}

type ManagerOption func(*Manager)

func WithLogger(logger *logging.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// OpenManager opens the config file at path, creating it from defaults rooted
// at its directory when it does not exist. An empty path selects DefaultPath.
func OpenManager(path string, opts ...ManagerOption) (*Manager, error) {
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}
	m := &Manager{path: path, logger: logging.NopLogger()}
	for _, opt := range opts {
		opt(m)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}
	stored, err := m.readStored()
	switch {
	case errors.Is(err, os.ErrNotExist):
		stored = *DefaultConfigWithRoot(filepath.Dir(path))
		if err := writeConfigFile(path, stored); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	}

	effective, err := resolve(stored)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.stored, m.effective = stored, effective
	return m, nil
}

// DefaultPath is config.json under the user config directory, or under the
// working directory when there is none.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		if dir, err = os.Getwd(); err != nil {
			return "", err
		}
	}
	return filepath.Join(dir, "cortexdesk", "config.json"), nil
}

func (m *Manager) Path() string { return m.path }

// Get returns the effective config.
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return clone(m.effective)
}

// Stored returns the config as held in the file.
func (m *Manager) Stored() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return clone(m.stored)
}

// Merge decodes a full or partial JSON object over the stored config. Unknown
// keys are rejected. On success the file is rewritten and watchers receive
// the new effective config before Merge returns.
func (m *Manager) Merge(doc string) error {
	m.mu.Lock()
	next := clone(m.stored)
	dec := json.NewDecoder(strings.NewReader(doc))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&next); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("parse config json: %w", err)
	}
	effective, err := resolve(next)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if reflect.DeepEqual(next, m.stored) {
		m.mu.Unlock()
		return nil
	}
	if err := writeConfigFile(m.path, next); err != nil {
		m.mu.Unlock()
		return err
	}
	subs := m.commit(next, effective)
	m.mu.Unlock()

	notify(subs, effective)
	return nil
}

// Watch registers onChange and, on first call, starts following the file.
// External edits are picked up after a short quiet period; an edit that does
// not resolve is logged and the current config kept.
func (m *Manager) Watch(ctx context.Context, onChange func(Config)) error {
	m.mu.Lock()
	if onChange != nil {
		m.subs = append(m.subs, onChange)
	}
	if m.watching {
		m.mu.Unlock()
		return nil
	}
	m.watching = true
	m.mu.Unlock()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// the directory is watched so atomic replaces are seen
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch config dir: %w", err)
	}
	go m.follow(ctx, watcher)
	return nil
}

func (m *Manager) follow(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()
	target := filepath.Clean(m.path)

	var settle <-chan time.Time
	for {
		select {
		case evt, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(evt.Name) == target && evt.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				settle = time.After(reloadDelay)
			}
		case <-settle:
			settle = nil
			m.reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("config watcher error", "error", err)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) reload() {
	stored, err := m.readStored()
	if errors.Is(err, os.ErrNotExist) {
		m.logger.Warn("config file removed, keeping current config", "path", m.path)
		return
	}
	if err != nil {
		m.logger.Error("config reload failed", "error", err)
		return
	}

	m.mu.Lock()
	if reflect.DeepEqual(stored, m.stored) {
		m.mu.Unlock()
		return
	}
	effective, err := resolve(stored)
	if err != nil {
		m.mu.Unlock()
		m.logger.Warn("config change rejected, keeping current config", "path", m.path, "error", err)
		return
	}
	subs := m.commit(stored, effective)
	m.mu.Unlock()

	m.logger.Info("config reloaded", "path", m.path)
	notify(subs, effective)
}

// commit must be called with m.mu held.
func (m *Manager) commit(stored, effective Config) []func(Config) {
	m.stored, m.effective = stored, effective
	return slices.Clone(m.subs)
}

func notify(subs []func(Config), cfg Config) {
	for _, fn := range subs {
		fn(clone(cfg))
	}
}

// readStored decodes the file over defaults rooted at its directory, so keys
// missing from the file keep their default.
func (m *Manager) readStored() (Config, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return Config{}, err
	}
	cfg := *DefaultConfigWithRoot(filepath.Dir(m.path))
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", m.path, err)
	}
	return cfg, nil
}

// resolve applies the environment to stored and checks the result can drive
// a run.
func resolve(stored Config) (Config, error) {
	effective := clone(stored)
	effective.ApplyEnv()
	if err := effective.Validate(); err != nil {
		return Config{}, err
	}
	if _, err := effective.RunConfig(); err != nil {
		return Config{}, err
	}
	return effective, nil
}

func clone(c Config) Config {
	c.SelectedAnalysts = slices.Clone(c.SelectedAnalysts)
	c.Watchlist = slices.Clone(c.Watchlist)
	return c
}

// writeConfigFile replaces path atomically. The file may carry credentials,
// so it is private to the user.
func writeConfigFile(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}
