package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRollupBucketFolding(t *testing.T) {
	store := NewMemRollupStore(0)
	defer store.Close()

	base := time.Date(2021, 1, 14, 12, 0, 0, 0, time.UTC)
	sessions := []*Session{
		{SessionID: "s1", ProjectID: 1, Release: "foo@1.0.0", Environment: "production",
			Status: StatusExited, Started: base.Add(time.Second), Duration: 60},
		{SessionID: "s2", ProjectID: 1, Release: "foo@1.0.0", Environment: "production",
			Status: StatusExited, Errors: 1, Started: base.Add(2 * time.Second)},
		{SessionID: "s3", ProjectID: 1, Release: "foo@1.0.0", Environment: "production",
			Status: StatusCrashed, Started: base.Add(3 * time.Second)},
	}
	for _, s := range sessions {
		require.NoError(t, store.AddSession(s))
	}

	var buckets []*RollupBucket
	err := store.ScanBuckets(base, base.Add(time.Minute), func(key RollupSeries, b *RollupBucket) bool {
		assert.Equal(t, RollupSeries{ProjectID: 1, Release: "foo@1.0.0", Environment: "production"}, key)
		buckets = append(buckets, b)
		return true
	})
	require.NoError(t, err)

	// All three sessions land in the same ten second bucket.
	require.Len(t, buckets, 1)
	b := buckets[0]
	assert.Equal(t, base, b.Time)
	assert.Equal(t, uint64(1), b.Exited)
	assert.Equal(t, uint64(1), b.Errored)
	assert.Equal(t, uint64(1), b.Crashed)
	assert.Equal(t, uint64(0), b.Abnormal)

	// Only the cleanly exited session contributes a duration.
	assert.Equal(t, uint64(1), b.Durations.Count)
	assert.Equal(t, 60.0, b.Durations.Sum)
	assert.Equal(t, 60.0, b.Durations.Max)
}

func TestRollupSeriesSplit(t *testing.T) {
	store := NewMemRollupStore(0)
	defer store.Close()

	base := time.Date(2021, 1, 14, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.AddSession(&Session{
		SessionID: "s1", ProjectID: 1, Release: "foo@1.0.0", Environment: "production",
		Status: StatusExited, Started: base,
	}))
	require.NoError(t, store.AddSession(&Session{
		SessionID: "s2", ProjectID: 1, Release: "foo@2.0.0", Environment: "production",
		Status: StatusExited, Started: base,
	}))

	seen := make(map[string]uint64)
	err := store.ScanBuckets(base, base.Add(time.Minute), func(key RollupSeries, b *RollupBucket) bool {
		seen[key.Release] = b.Exited
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]uint64{"foo@1.0.0": 1, "foo@2.0.0": 1}, seen)
}

func TestRollupUserSets(t *testing.T) {
	store := NewMemRollupStore(0)
	defer store.Close()

	base := time.Date(2021, 1, 14, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.AddSession(&Session{
		SessionID: "s1", DistinctID: "user1", ProjectID: 1,
		Status: StatusExited, Started: base,
	}))
	require.NoError(t, store.AddSession(&Session{
		SessionID: "s2", DistinctID: "user1", ProjectID: 1,
		Status: StatusCrashed, Started: base.Add(time.Second),
	}))
	require.NoError(t, store.AddSession(&Session{
		SessionID: "s3", ProjectID: 1,
		Status: StatusExited, Started: base.Add(2 * time.Second),
	}))

	err := store.ScanBuckets(base, base.Add(time.Minute), func(_ RollupSeries, b *RollupBucket) bool {
		// Sessions without a distinct id never enter the user sets.
		assert.Len(t, b.AllUsers, 1)
		assert.Len(t, b.CrashedUsers, 1)
		assert.Empty(t, b.ErroredUsers)
		return true
	})
	require.NoError(t, err)
}

func TestRollupScanWindow(t *testing.T) {
	store := NewMemRollupStore(0)
	defer store.Close()

	base := time.Date(2021, 1, 14, 12, 0, 0, 0, time.UTC)
	for _, offset := range []time.Duration{-time.Minute, 0, 30 * time.Second, time.Minute} {
		require.NoError(t, store.AddSession(&Session{
			SessionID: "s" + offset.String(), ProjectID: 1,
			Status: StatusExited, Started: base.Add(offset),
		}))
	}

	var times []time.Time
	err := store.ScanBuckets(base, base.Add(time.Minute), func(_ RollupSeries, b *RollupBucket) bool {
		times = append(times, b.Time)
		return true
	})
	require.NoError(t, err)
	require.Len(t, times, 2)
	assert.Equal(t, base, times[0])
	assert.Equal(t, base.Add(30*time.Second), times[1])
}

func TestDurationAggObserve(t *testing.T) {
	var agg DurationAgg
	for _, v := range []float64{15, 30, 60, 120} {
		agg.Observe(v)
	}
	assert.Equal(t, uint64(4), agg.Count)
	assert.Equal(t, 225.0, agg.Sum)
	assert.Equal(t, 120.0, agg.Max)

	var total uint64
	for _, c := range agg.Counts {
		total += c
	}
	assert.Equal(t, uint64(4), total)
}

func TestDurationAggMerge(t *testing.T) {
	var a, b DurationAgg
	a.Observe(10)
	b.Observe(100)
	b.Observe(200)

	a.Merge(&b)
	assert.Equal(t, uint64(3), a.Count)
	assert.Equal(t, 310.0, a.Sum)
	assert.Equal(t, 200.0, a.Max)
}

func TestRollupDropExpired(t *testing.T) {
	store := NewMemRollupStore(0)
	defer store.Close()

	base := time.Date(2021, 1, 14, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.AddSession(&Session{
		SessionID: "old", ProjectID: 1, Status: StatusExited, Started: base.Add(-time.Hour),
	}))
	require.NoError(t, store.AddSession(&Session{
		SessionID: "new", ProjectID: 1, Status: StatusExited, Started: base,
	}))

	store.dropExpired(base.Add(-time.Minute))

	var count int
	err := store.ScanBuckets(base.Add(-2*time.Hour), base.Add(time.Hour), func(_ RollupSeries, b *RollupBucket) bool {
		count++
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
