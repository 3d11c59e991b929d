package ingestion

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"vitals/storage"
	"vitals/system"
)

// SessionHandler handles session envelope ingestion
type SessionHandler struct {
	manager *storage.Manager
	logger  log.Logger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(manager *storage.Manager, logger log.Logger) *SessionHandler {
	return &SessionHandler{
		manager: manager,
		logger:  logger,
	}
}

// SessionEnvelope is one reported session. Sessions arrive as
// terminal snapshots; a re-sent envelope with the same id and start
// time overwrites its earlier self.
type SessionEnvelope struct {
	SessionID  string            `json:"sid"`
	DistinctID string            `json:"did,omitempty"`
	ProjectID  int64             `json:"project_id"`
	Status     string            `json:"status"`
	Errors     int               `json:"errors"`
	Started    time.Time         `json:"started"`
	Received   time.Time         `json:"received,omitempty"`
	Duration   float64           `json:"duration"`
	Seq        int64             `json:"seq"`
	Attrs      map[string]string `json:"attrs,omitempty"`
}

// HandleHTTP handles a POST of a JSON array of session envelopes
func (h *SessionHandler) HandleHTTP(w http.ResponseWriter, r *http.Request) {
	// Read request body
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, fmt.Sprintf("Error reading request body: %v", err), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	// Parse envelopes
	var envelopes []SessionEnvelope
	if err := json.Unmarshal(body, &envelopes); err != nil {
		http.Error(w, fmt.Sprintf("Error parsing sessions: %v", err), http.StatusBadRequest)
		return
	}

	// Process envelopes
	if err := h.processSessions(envelopes); err != nil {
		http.Error(w, fmt.Sprintf("Error processing sessions: %v", err), http.StatusBadRequest)
		return
	}

	// Return success
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"success"}`))
}

// processSessions validates envelopes and writes them to both stores
func (h *SessionHandler) processSessions(envelopes []SessionEnvelope) error {
	for i := range envelopes {
		session, err := envelopeToSession(&envelopes[i])
		if err != nil {
			system.RejectedSessions.Inc()
			return err
		}
		if err := h.manager.IngestSession(session); err != nil {
			return fmt.Errorf("error storing session %s: %w", session.SessionID, err)
		}
		system.IngestedSessions.Inc()
	}
	level.Debug(h.logger).Log("msg", "sessions ingested", "count", len(envelopes))
	return nil
}

// envelopeToSession validates and converts one envelope
func envelopeToSession(e *SessionEnvelope) (*storage.Session, error) {
	if e.SessionID == "" {
		return nil, fmt.Errorf("session is missing a sid")
	}
	if e.ProjectID <= 0 {
		return nil, fmt.Errorf("session %s: invalid project_id %d", e.SessionID, e.ProjectID)
	}
	if !storage.ValidStatus(e.Status) {
		return nil, fmt.Errorf("session %s: invalid status %q", e.SessionID, e.Status)
	}
	if e.Started.IsZero() {
		return nil, fmt.Errorf("session %s: missing started timestamp", e.SessionID)
	}

	received := e.Received
	if received.IsZero() {
		received = time.Now().UTC()
	}

	return &storage.Session{
		SessionID:   e.SessionID,
		DistinctID:  e.DistinctID,
		ProjectID:   e.ProjectID,
		Release:     e.Attrs["release"],
		Environment: e.Attrs["environment"],
		Status:      e.Status,
		Errors:      e.Errors,
		Started:     e.Started.UTC(),
		Received:    received,
		Duration:    e.Duration,
		Seq:         e.Seq,
	}, nil
}
