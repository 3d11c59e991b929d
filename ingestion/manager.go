package ingestion

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"

	"vitals/config"
	"vitals/storage"
)

// Manager manages session envelope ingestion
type Manager struct {
	config         config.IngestionConfig
	storageManager *storage.Manager
	logger         log.Logger
	httpServer     *http.Server
	wg             sync.WaitGroup
	mu             sync.RWMutex
	running        bool
	sessionHandler *SessionHandler
}

// NewManager creates a new ingestion manager
func NewManager(cfg config.IngestionConfig, storageManager *storage.Manager, logger log.Logger) (*Manager, error) {
	manager := &Manager{
		config:         cfg,
		storageManager: storageManager,
		logger:         logger,
	}

	manager.sessionHandler = NewSessionHandler(storageManager, logger)

	return manager, nil
}

// Start starts the ingestion manager
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	if err := m.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	m.running = true
	return nil
}

// Stop stops the ingestion manager
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	// Shutdown HTTP server
	if m.httpServer != nil {
		// Use a context with timeout for graceful shutdown
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := m.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown HTTP server: %w", err)
		}
	}

	m.wg.Wait()

	m.running = false
	return nil
}

// Close closes the ingestion manager
func (m *Manager) Close() error {
	return m.Stop()
}

// startHTTPServer starts the HTTP server
func (m *Manager) startHTTPServer() error {
	router := mux.NewRouter()
	router.HandleFunc("/api/ingest/sessions", m.sessionHandler.HandleHTTP).Methods("POST")

	m.httpServer = &http.Server{
		Addr:    m.config.HTTPEndpoint,
		Handler: router,
	}

	// Start server in a goroutine
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			level.Error(m.logger).Log("msg", "ingestion server error", "err", err)
		}
	}()

	level.Info(m.logger).Log("msg", "ingestion server listening", "addr", m.config.HTTPEndpoint)
	return nil
}
