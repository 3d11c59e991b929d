package storage

import (
	"time"
)

// Session statuses as reported by clients.
const (
	StatusExited   = "exited"
	StatusErrored  = "errored"
	StatusCrashed  = "crashed"
	StatusAbnormal = "abnormal"
)

// Health statuses derived from a session. Every session maps to
// exactly one of these.
const (
	HealthHealthy  = "healthy"
	HealthErrored  = "errored"
	HealthCrashed  = "crashed"
	HealthAbnormal = "abnormal"
)

// Session represents one recorded run of a client application.
type Session struct {
	SessionID   string    `json:"sid"`
	DistinctID  string    `json:"did,omitempty"`
	ProjectID   int64     `json:"project_id"`
	Release     string    `json:"release"`
	Environment string    `json:"environment"`
	Status      string    `json:"status"`
	Errors      int       `json:"errors"`
	Started     time.Time `json:"started"`
	Received    time.Time `json:"received"`
	Duration    float64   `json:"duration"`
	Seq         int64     `json:"seq"`
}

// Health derives the health status of the session. Crashed and
// abnormal take the reported status, any other session with errors
// counts as errored, the rest are healthy.
func (s *Session) Health() string {
	switch s.Status {
	case StatusCrashed:
		return HealthCrashed
	case StatusAbnormal:
		return HealthAbnormal
	}
	if s.Errors > 0 || s.Status == StatusErrored {
		return HealthErrored
	}
	return HealthHealthy
}

// ValidStatus reports whether status is one of the reportable session
// statuses.
func ValidStatus(status string) bool {
	switch status {
	case StatusExited, StatusErrored, StatusCrashed, StatusAbnormal:
		return true
	}
	return false
}

// SessionStore stores raw session records ordered by start time.
type SessionStore interface {
	StoreSession(session *Session) error
	// ScanSessions calls fn for every session started in [start, end)
	// in ascending start order. Returning false from fn stops the scan.
	ScanSessions(start, end time.Time, fn func(*Session) bool) error
	Close() error
}

// RollupBucket is one pre-aggregated ten-second bucket of a series.
type RollupBucket struct {
	Time time.Time

	// Session counts per health status.
	Exited   uint64
	Errored  uint64
	Crashed  uint64
	Abnormal uint64

	// Distinct user sets. Healthy users are derived by subtracting
	// the union of the error sets from All, matching the aggregate
	// status a raw scan would assign.
	AllUsers      map[string]struct{}
	ErroredUsers  map[string]struct{}
	CrashedUsers  map[string]struct{}
	AbnormalUsers map[string]struct{}

	// Duration aggregate over healthy sessions only.
	Durations DurationAgg
}

// DurationAgg is a fixed-bound histogram plus exact sum/count/max over
// healthy session durations, in seconds.
type DurationAgg struct {
	Counts [len(DurationBounds) + 1]uint64
	Sum    float64
	Count  uint64
	Max    float64
}

// DurationBounds are the histogram bucket upper bounds in seconds,
// log-spaced from 10ms to one day. An array so the bound count is
// usable as the Counts array length.
var DurationBounds = [...]float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
	10, 25, 50, 100, 250, 500, 1000, 2500, 5000,
	10000, 25000, 50000, 86400,
}

// RollupSeries identifies one rollup series.
type RollupSeries struct {
	ProjectID   int64
	Release     string
	Environment string
}

// RollupStore stores sessions pre-aggregated into ten-second buckets
// per (project, release, environment) series.
type RollupStore interface {
	AddSession(session *Session) error
	// ScanBuckets calls fn for every bucket of every series
	// overlapping [start, end). Bucket iteration order within a
	// series is ascending by time, series order is unspecified.
	ScanBuckets(start, end time.Time, fn func(RollupSeries, *RollupBucket) bool) error
	Close() error
}
