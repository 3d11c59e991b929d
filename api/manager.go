package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vitals/access"
	"vitals/config"
	"vitals/query"
)

// Manager serves the query API: the sessions endpoint, the live
// totals stream, health and metrics.
type Manager struct {
	config       config.APIConfig
	directory    *access.Directory
	engine       *query.Engine
	logger       log.Logger
	server       *http.Server
	router       *mux.Router
	clients      map[*websocket.Conn]bool
	clientsMutex sync.Mutex
	wg           sync.WaitGroup
	mu           sync.RWMutex
	running      bool
}

// NewManager creates a new API manager
func NewManager(cfg config.APIConfig, directory *access.Directory, engine *query.Engine, logger log.Logger) (*Manager, error) {
	manager := &Manager{
		config:    cfg,
		directory: directory,
		engine:    engine,
		logger:    logger,
		router:    mux.NewRouter(),
		clients:   make(map[*websocket.Conn]bool),
	}

	// Setup routes
	manager.setupRoutes()

	return manager, nil
}

// Start starts the API server
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	m.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", m.config.Port),
		Handler: m.router,
	}

	// Start server in a goroutine
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			level.Error(m.logger).Log("msg", "API server error", "err", err)
		}
	}()

	m.running = true
	level.Info(m.logger).Log("msg", "API server started", "addr", m.server.Addr)
	return nil
}

// Stop stops the API server
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	// Close all WebSocket connections
	m.clientsMutex.Lock()
	for client := range m.clients {
		client.Close()
		delete(m.clients, client)
	}
	m.clientsMutex.Unlock()

	// Shutdown server with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("error shutting down API server: %w", err)
	}

	m.wg.Wait()

	m.running = false
	level.Info(m.logger).Log("msg", "API server stopped")
	return nil
}

// Close closes the API manager
func (m *Manager) Close() error {
	return m.Stop()
}

// Handler exposes the router, used by the HTTP tests.
func (m *Manager) Handler() http.Handler {
	return m.router
}

// setupRoutes sets up the HTTP routes
func (m *Manager) setupRoutes() {
	m.router.HandleFunc("/healthz", m.handleHealth).Methods("GET")
	m.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := m.router.PathPrefix("/api/0").Subrouter()
	api.HandleFunc("/organizations/{organization}/sessions", m.handleSessions).Methods("GET")
	api.HandleFunc("/organizations/{organization}/sessions/live", m.handleLive).Methods("GET")
}

func (m *Manager) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeDetail writes an error body in the {"detail": ...} shape.
func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// writeJSON writes the given value as JSON to the response writer
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.Encode(v)
}
