package query

import (
	"context"
	"fmt"
	"time"

	"vitals/storage"
)

// SessionsBackend answers queries by scanning raw session records and
// aggregating them exactly. Its resolution floor is one minute.
type SessionsBackend struct {
	store   storage.SessionStore
	maxRows int
}

// NewSessionsBackend creates a backend over the raw session store.
func NewSessionsBackend(store storage.SessionStore, maxRows int) *SessionsBackend {
	return &SessionsBackend{store: store, maxRows: maxRows}
}

func (b *SessionsBackend) Name() string { return "sessions" }

func (b *SessionsBackend) MinInterval() time.Duration { return time.Minute }

func (b *SessionsBackend) Execute(ctx context.Context, req *Request, w *Window) (*RawResult, error) {
	projects := make(map[int64]bool, len(req.Projects))
	for _, id := range req.Projects {
		projects[id] = true
	}

	groups := make(map[GroupKey]*RawGroup)
	scanned := 0
	err := b.store.ScanSessions(w.Start, w.DataEnd(), func(s *storage.Session) bool {
		scanned++
		if scanned%1024 == 0 && ctx.Err() != nil {
			return false
		}
		if !projects[s.ProjectID] {
			return true
		}
		if !matchEnvironment(req.Environments, s.Environment) {
			return true
		}
		if !req.Filter.MatchDims(s.Release, s.Environment) {
			return true
		}

		key := sessionGroupKey(req.GroupBy, s)
		g, ok := groups[key]
		if !ok {
			g = &RawGroup{Key: key, Buckets: make([]*cellAgg, len(w.Buckets)), Total: newCellAgg()}
			for i := range g.Buckets {
				g.Buckets[i] = newCellAgg()
			}
			groups[key] = g
		}

		if idx := int(s.Started.Sub(w.Start) / w.Interval); idx >= 0 && idx < len(g.Buckets) {
			g.Buckets[idx].addSession(s)
		}
		g.Total.addSession(s)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("scanning sessions: %w", err)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	list := make([]*RawGroup, 0, len(groups))
	for _, g := range groups {
		list = append(list, g)
	}
	list, truncated := sortAndTruncate(list, b.maxRows, len(w.Buckets))
	return &RawResult{Groups: list, Truncated: truncated}, nil
}

// sessionGroupKey projects the grouped dimensions out of a session.
// Status never appears here; status splitting happens at shaping time
// over the per-status counters.
func sessionGroupKey(g GroupBySet, s *storage.Session) GroupKey {
	var key GroupKey
	if g.Project {
		key.Project = s.ProjectID
		key.HasProject = true
	}
	if g.Release {
		key.Release = s.Release
		key.HasRelease = true
	}
	if g.Environment {
		key.Environment = s.Environment
		key.HasEnvironment = true
	}
	return key
}
