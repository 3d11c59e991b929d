package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"vitals/config"
)

// Manager owns the raw session store and the rollup store. Every
// ingested session is written to both; the configured query backend
// decides which one answers queries.
type Manager struct {
	config       config.StorageConfig
	logger       log.Logger
	sessionStore SessionStore
	rollupStore  RollupStore
	mu           sync.RWMutex
}

// NewManager creates a new storage manager
func NewManager(cfg config.StorageConfig, logger log.Logger) (*Manager, error) {
	manager := &Manager{
		config: cfg,
		logger: logger,
	}

	// Ensure data directory exists
	sessionsPath := resolvePath(cfg.Sessions.DataPath, logger)
	if err := ensureDir(sessionsPath); err != nil {
		return nil, fmt.Errorf("failed to create sessions data directory: %w", err)
	}
	level.Info(logger).Log("msg", "sessions data path", "path", sessionsPath)

	// Parse optional durations
	var gcInterval, sessionRetention, rollupRetention time.Duration
	var err error
	if cfg.Sessions.GCInterval != "" {
		gcInterval, err = config.ParseDuration(cfg.Sessions.GCInterval)
		if err != nil {
			return nil, fmt.Errorf("invalid sessions gc interval: %w", err)
		}
	}
	if cfg.Sessions.RetentionPeriod != "" {
		sessionRetention, err = config.ParseDuration(cfg.Sessions.RetentionPeriod)
		if err != nil {
			return nil, fmt.Errorf("invalid sessions retention period: %w", err)
		}
	} else {
		sessionRetention = 90 * 24 * time.Hour
	}
	if cfg.Rollups.RetentionPeriod != "" {
		rollupRetention, err = config.ParseDuration(cfg.Rollups.RetentionPeriod)
		if err != nil {
			return nil, fmt.Errorf("invalid rollup retention period: %w", err)
		}
	} else {
		rollupRetention = 90 * 24 * time.Hour
	}
	level.Info(logger).Log("msg", "session retention", "sessions", sessionRetention, "rollups", rollupRetention)

	// Initialize the raw session store
	sessionStore, err := NewBadgerStore(sessionsPath, cfg.Sessions.MaxFileSizeMB, gcInterval, sessionRetention)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sessions storage: %w", err)
	}
	manager.sessionStore = sessionStore

	// Initialize the rollup store
	manager.rollupStore = NewMemRollupStore(rollupRetention)

	return manager, nil
}

// IngestSession writes a session to both stores.
func (m *Manager) IngestSession(session *Session) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.sessionStore.StoreSession(session); err != nil {
		return err
	}
	return m.rollupStore.AddSession(session)
}

// Close closes all storage engines
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	level.Info(m.logger).Log("msg", "closing storage")
	var errs []error

	if m.sessionStore != nil {
		if err := m.sessionStore.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing session store: %w", err))
		}
	}

	if m.rollupStore != nil {
		if err := m.rollupStore.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing rollup store: %w", err))
		}
	}

	if len(errs) > 0 {
		errMsgs := []string{}
		for _, err := range errs {
			errMsgs = append(errMsgs, err.Error())
		}
		return fmt.Errorf("errors closing storage: %s", strings.Join(errMsgs, "; "))
	}

	return nil
}

// SessionStore returns the raw session store
func (m *Manager) SessionStore() SessionStore {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessionStore
}

// RollupStore returns the rollup store
func (m *Manager) RollupStore() RollupStore {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rollupStore
}

// ensureDir ensures that the specified directory exists
func ensureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// resolvePath resolves a path relative to the application root directory
func resolvePath(path string, logger log.Logger) string {
	// Already absolute, return as is
	if filepath.IsAbs(path) {
		return path
	}

	// Get the executable directory to find the app root
	execPath, err := os.Executable()
	if err != nil {
		// If we can't get the executable path, just use the path as is
		level.Warn(logger).Log("msg", "failed to get executable path", "err", err)
		return path
	}

	// The executable is at the app root, so resolve relative to that directory
	appRoot := filepath.Dir(execPath)

	path = strings.TrimPrefix(path, "./")
	path = strings.TrimPrefix(path, "../")

	return filepath.Join(appRoot, path)
}
