package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Status is a snapshot of the Manager's reload bookkeeping, exposed for
// admin/health endpoints.
type Status struct {
	Path        string
	Checksum    string
	LoadedAt    time.Time
	ReloadCount int
}

// Manager handles configuration loading and hot-reload.
// It uses atomic pointer swaps to ensure thread-safe config updates.
type Manager struct {
	config   atomic.Pointer[Config]
	path     string
	watcher  *fsnotify.Watcher
	onChange []func(*Config)
	logger   *slog.Logger

	mu          sync.Mutex
	checksum    string
	loadedAt    time.Time
	reloadCount int
}

// NewManager creates a new configuration manager.
func NewManager(path string, logger *slog.Logger) (*Manager, error) {
	cfg, checksum, err := loadAndChecksum(path)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		path:        path,
		logger:      logger,
		checksum:    checksum,
		loadedAt:    time.Now(),
		reloadCount: 1,
	}
	m.config.Store(cfg)

	return m, nil
}

// Get returns the current configuration.
// This is safe to call concurrently from multiple goroutines.
func (m *Manager) Get() *Config {
	return m.config.Load()
}

// Status returns a snapshot of the manager's current file and reload state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Path:        m.path,
		Checksum:    m.checksum,
		LoadedAt:    m.loadedAt,
		ReloadCount: m.reloadCount,
	}
}

// OnChange registers a callback to be invoked when configuration changes.
func (m *Manager) OnChange(fn func(*Config)) {
	m.onChange = append(m.onChange, fn)
}

// Reload re-reads the config file, atomically swaps the in-memory snapshot
// on success, and notifies OnChange listeners. On failure the current
// config is kept and the error is returned.
func (m *Manager) Reload() error {
	cfg, checksum, err := loadAndChecksum(m.path)
	if err != nil {
		if m.logger != nil {
			m.logger.Error("failed to reload config, keeping current", "error", err)
		}
		return err
	}

	m.config.Store(cfg)

	m.mu.Lock()
	m.checksum = checksum
	m.loadedAt = time.Now()
	m.reloadCount++
	m.mu.Unlock()

	if m.logger != nil {
		m.logger.Info("configuration reloaded successfully")
	}
	for _, fn := range m.onChange {
		fn(cfg)
	}
	return nil
}

// Watch starts watching the configuration file for changes.
// It debounces rapid changes and reloads configuration atomically.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	m.watcher = watcher

	if err := watcher.Add(m.path); err != nil {
		_ = watcher.Close()
		return err
	}

	go m.watchLoop(ctx)
	return nil
}

func (m *Manager) watchLoop(ctx context.Context) {
	// Debounce timer to avoid rapid reloads
	const debounceDelay = 500 * time.Millisecond
	var debounceTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			_ = m.watcher.Close()
			return

		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				// Reset debounce timer
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDelay, func() {
					_ = m.Reload()
				})
			}

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			if m.logger != nil {
				m.logger.Error("config watcher error", "error", err)
			}
		}
	}
}

// Close stops the configuration watcher.
func (m *Manager) Close() error {
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}

func loadAndChecksum(path string) (*Config, string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	sum := sha256.Sum256(raw)

	cfg, err := LoadFromFile(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, hex.EncodeToString(sum[:]), nil
}
