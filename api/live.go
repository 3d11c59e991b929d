package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"vitals/query"
)

// Upgrader for WebSocket connections
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

const livePushInterval = 10 * time.Second
const liveWindow = 5 * time.Minute

// liveUpdate is one pushed snapshot of session totals over the last
// five minutes.
type liveUpdate struct {
	Timestamp string              `json:"timestamp"`
	Window    string              `json:"window"`
	Totals    map[string]*float64 `json:"totals"`
}

// handleLive upgrades to a WebSocket and pushes organization-wide
// session totals on a fixed cadence.
func (m *Manager) handleLive(w http.ResponseWriter, r *http.Request) {
	org, err := m.directory.Resolve(mux.Vars(r)["organization"])
	if err != nil {
		writeDetail(w, http.StatusNotFound, "The requested resource does not exist")
		return
	}
	projects := org.ProjectIDs()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		level.Error(m.logger).Log("msg", "websocket upgrade failed", "err", err)
		return
	}

	// Register the client
	m.clientsMutex.Lock()
	m.clients[conn] = true
	m.clientsMutex.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.clientsMutex.Lock()
			delete(m.clients, conn)
			m.clientsMutex.Unlock()
			conn.Close()
		}()

		// Drain the read side so close frames are processed.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(livePushInterval)
		defer ticker.Stop()
		for {
			update, err := m.liveTotals(projects)
			if err != nil {
				level.Warn(m.logger).Log("msg", "live totals query failed", "err", err)
			} else if err := conn.WriteJSON(update); err != nil {
				return
			}
			select {
			case <-ticker.C:
			case <-done:
				return
			}
		}
	}()
}

// liveTotals computes the totals snapshot for the organization's
// projects.
func (m *Manager) liveTotals(projects []int64) (*liveUpdate, error) {
	fields := make([]query.Field, 0, 3)
	for _, name := range []string{"sum(session)", "count_unique(user)", "crash_free_rate(session)"} {
		f, err := query.ParseField(name)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}

	now := time.Now().UTC()
	req := &query.Request{
		Projects: projects,
		Start:    now.Add(-liveWindow),
		End:      now,
		Interval: liveWindow,
		Fields:   fields,
		Filter:   &query.Filter{},
		PerPage:  1,
	}

	ctx, cancel := context.WithTimeout(context.Background(), livePushInterval)
	defer cancel()
	res, err := m.engine.Query(ctx, req)
	if err != nil {
		return nil, err
	}

	update := &liveUpdate{
		Timestamp: now.Format("2006-01-02T15:04:05Z"),
		Window:    liveWindow.String(),
		Totals:    make(map[string]*float64),
	}
	if len(res.Groups) > 0 {
		update.Totals = res.Groups[0].Totals
	} else {
		zero := 0.0
		update.Totals["sum(session)"] = &zero
	}
	return update, nil
}
