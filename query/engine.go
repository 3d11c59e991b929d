package query

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"vitals/config"
	"vitals/storage"
	"vitals/system"
)

// Engine runs session queries against the configured backend:
// validated input, aligned window, translated filters, backend
// execution, shaped result. Any stage failure is terminal and
// surfaced untouched.
type Engine struct {
	backend Backend
	cfg     config.QueryConfig
	logger  log.Logger
	now     func() time.Time
}

// NewEngine creates a query engine over the storage manager. The
// configured backend decides which store answers queries.
func NewEngine(manager *storage.Manager, cfg config.QueryConfig, logger log.Logger) (*Engine, error) {
	var backend Backend
	switch cfg.Backend {
	case "", "sessions":
		backend = NewSessionsBackend(manager.SessionStore(), cfg.MaxRows)
	case "rollup":
		backend = NewRollupBackend(manager.RollupStore(), cfg.MaxRows)
	default:
		return nil, fmt.Errorf("unknown query backend: %q", cfg.Backend)
	}
	level.Info(logger).Log("msg", "query engine ready", "backend", backend.Name())
	return &Engine{
		backend: backend,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// SetClock overrides the engine clock.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// ParseRequest parses request parameters with the engine's limits
// and clock.
func (e *Engine) ParseRequest(q url.Values, minuteResolution bool) (*Request, error) {
	return ParseRequest(q, e.cfg, minuteResolution, e.now())
}

// Query executes one parsed request.
func (e *Engine) Query(ctx context.Context, req *Request) (*Result, error) {
	interval := req.Interval
	if interval < e.backend.MinInterval() {
		// The backend cannot resolve finer buckets; widen instead of
		// failing.
		interval = e.backend.MinInterval()
	}

	w, err := ComputeWindow(req.Start, req.End, e.now(), interval, e.cfg.MaxBuckets)
	if err != nil {
		return nil, err
	}

	// A status restriction that admits nothing can never match, skip
	// the backend entirely.
	if req.Filter.Impossible() {
		return shapeResult(req, w, &RawResult{}), nil
	}

	started := time.Now()
	raw, err := e.backend.Execute(ctx, req, w)
	if err != nil {
		return nil, fmt.Errorf("executing %s backend: %w", e.backend.Name(), err)
	}
	system.QueryDuration.Observe(time.Since(started).Seconds())
	if raw.Truncated {
		system.TruncatedResults.Inc()
	}

	level.Debug(e.logger).Log(
		"msg", "query executed",
		"backend", e.backend.Name(),
		"buckets", len(w.Buckets),
		"groups", len(raw.Groups),
		"truncated", raw.Truncated,
		"took", time.Since(started),
	)
	return shapeResult(req, w, raw), nil
}

// Total computes a single field total over the window, for callers
// that need one number rather than a shaped series (alert evaluation,
// the live totals stream).
func (e *Engine) Total(ctx context.Context, req *Request) (*float64, error) {
	res, err := e.Query(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(res.Groups) == 0 {
		return nil, nil
	}
	return res.Groups[0].Totals[req.Fields[0].Name], nil
}
