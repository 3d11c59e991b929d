package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBadgerStore(t *testing.T) *BadgerStore {
	t.Helper()
	store, err := NewBadgerStore(t.TempDir(), 0, time.Hour, 0)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBadgerStoreRoundTrip(t *testing.T) {
	store := newTestBadgerStore(t)

	session := &Session{
		SessionID:   "abc123",
		DistinctID:  "user1",
		ProjectID:   42,
		Release:     "foo@1.0.0",
		Environment: "production",
		Status:      StatusExited,
		Errors:      0,
		Started:     time.Date(2021, 1, 14, 12, 0, 0, 0, time.UTC),
		Received:    time.Date(2021, 1, 14, 12, 1, 0, 0, time.UTC),
		Duration:    60.5,
		Seq:         1,
	}
	require.NoError(t, store.StoreSession(session))

	var got []*Session
	err := store.ScanSessions(
		session.Started.Add(-time.Minute),
		session.Started.Add(time.Minute),
		func(s *Session) bool {
			got = append(got, s)
			return true
		})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, session, got[0])
}

func TestBadgerStoreScanOrder(t *testing.T) {
	store := newTestBadgerStore(t)
	base := time.Date(2021, 1, 14, 12, 0, 0, 0, time.UTC)

	// Insert out of order, expect the scan in start time order.
	for _, offset := range []time.Duration{30 * time.Second, 0, 10 * time.Second, 20 * time.Second} {
		require.NoError(t, store.StoreSession(&Session{
			SessionID: "s" + offset.String(),
			ProjectID: 1,
			Status:    StatusExited,
			Started:   base.Add(offset),
		}))
	}

	var starts []time.Time
	err := store.ScanSessions(base, base.Add(time.Minute), func(s *Session) bool {
		starts = append(starts, s.Started)
		return true
	})
	require.NoError(t, err)
	require.Len(t, starts, 4)
	for i := 1; i < len(starts); i++ {
		assert.True(t, starts[i-1].Before(starts[i]) || starts[i-1].Equal(starts[i]))
	}
}

func TestBadgerStoreScanBounds(t *testing.T) {
	store := newTestBadgerStore(t)
	base := time.Date(2021, 1, 14, 12, 0, 0, 0, time.UTC)

	for i, offset := range []time.Duration{-time.Minute, 0, 30 * time.Second, time.Minute} {
		require.NoError(t, store.StoreSession(&Session{
			SessionID: string(rune('a' + i)),
			ProjectID: 1,
			Status:    StatusExited,
			Started:   base.Add(offset),
		}))
	}

	// The range is half open: the start is included, the end is not.
	var count int
	err := store.ScanSessions(base, base.Add(time.Minute), func(s *Session) bool {
		count++
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestBadgerStoreScanStops(t *testing.T) {
	store := newTestBadgerStore(t)
	base := time.Date(2021, 1, 14, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.StoreSession(&Session{
			SessionID: string(rune('a' + i)),
			ProjectID: 1,
			Status:    StatusExited,
			Started:   base.Add(time.Duration(i) * time.Second),
		}))
	}

	var count int
	err := store.ScanSessions(base, base.Add(time.Minute), func(s *Session) bool {
		count++
		return count < 2
	})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestBadgerStoreOverwrite(t *testing.T) {
	store := newTestBadgerStore(t)
	started := time.Date(2021, 1, 14, 12, 0, 0, 0, time.UTC)

	// Re-sending a session with the same id and start time replaces the
	// earlier record.
	require.NoError(t, store.StoreSession(&Session{
		SessionID: "dup", ProjectID: 1, Status: StatusExited, Started: started,
	}))
	require.NoError(t, store.StoreSession(&Session{
		SessionID: "dup", ProjectID: 1, Status: StatusCrashed, Started: started,
	}))

	var got []*Session
	err := store.ScanSessions(started, started.Add(time.Second), func(s *Session) bool {
		got = append(got, s)
		return true
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, StatusCrashed, got[0].Status)
}

func TestSessionHealth(t *testing.T) {
	tests := []struct {
		session Session
		want    string
	}{
		{Session{Status: StatusExited}, HealthHealthy},
		{Session{Status: StatusExited, Errors: 2}, HealthErrored},
		{Session{Status: StatusErrored}, HealthErrored},
		{Session{Status: StatusCrashed}, HealthCrashed},
		{Session{Status: StatusCrashed, Errors: 5}, HealthCrashed},
		{Session{Status: StatusAbnormal}, HealthAbnormal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.session.Health())
	}
}
