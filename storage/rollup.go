package storage

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/prometheus/model/labels"
)

// RollupGranularity is the bucket width of the rollup store.
const RollupGranularity = 10 * time.Second

// MemRollupStore keeps pre-aggregated session buckets in memory, one
// series per (project, release, environment) label set.
type MemRollupStore struct {
	mu        sync.RWMutex
	series    map[string]*rollupSeries
	retention time.Duration
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

type rollupSeries struct {
	key     RollupSeries
	labels  labels.Labels
	buckets map[int64]*RollupBucket
}

// NewMemRollupStore creates a new in-memory rollup store. A positive
// retention starts a background loop that drops buckets older than
// the retention period.
func NewMemRollupStore(retention time.Duration) *MemRollupStore {
	s := &MemRollupStore{
		series:    make(map[string]*rollupSeries),
		retention: retention,
		stopChan:  make(chan struct{}),
	}
	if retention > 0 {
		s.startRetention()
	}
	return s
}

// Close stops the retention loop.
func (s *MemRollupStore) Close() error {
	close(s.stopChan)
	s.wg.Wait()
	return nil
}

// AddSession folds one session into its series bucket.
func (s *MemRollupStore) AddSession(session *Session) error {
	lbls := seriesLabels(session)
	key := lbls.String()
	bucketTime := session.Started.Truncate(RollupGranularity)

	s.mu.Lock()
	defer s.mu.Unlock()

	ser, ok := s.series[key]
	if !ok {
		ser = &rollupSeries{
			key: RollupSeries{
				ProjectID:   session.ProjectID,
				Release:     session.Release,
				Environment: session.Environment,
			},
			labels:  lbls,
			buckets: make(map[int64]*RollupBucket),
		}
		s.series[key] = ser
	}

	bucket, ok := ser.buckets[bucketTime.Unix()]
	if !ok {
		bucket = &RollupBucket{
			Time:          bucketTime,
			AllUsers:      make(map[string]struct{}),
			ErroredUsers:  make(map[string]struct{}),
			CrashedUsers:  make(map[string]struct{}),
			AbnormalUsers: make(map[string]struct{}),
		}
		ser.buckets[bucketTime.Unix()] = bucket
	}

	health := session.Health()
	switch health {
	case HealthCrashed:
		bucket.Crashed++
	case HealthAbnormal:
		bucket.Abnormal++
	case HealthErrored:
		bucket.Errored++
	default:
		bucket.Exited++
	}

	if session.DistinctID != "" {
		bucket.AllUsers[session.DistinctID] = struct{}{}
		switch health {
		case HealthCrashed:
			bucket.CrashedUsers[session.DistinctID] = struct{}{}
		case HealthAbnormal:
			bucket.AbnormalUsers[session.DistinctID] = struct{}{}
		case HealthErrored:
			bucket.ErroredUsers[session.DistinctID] = struct{}{}
		}
	}

	// Durations are only meaningful for cleanly exited sessions.
	if health == HealthHealthy {
		bucket.Durations.Observe(session.Duration)
	}

	return nil
}

// Observe folds one duration value into the aggregate.
func (d *DurationAgg) Observe(v float64) {
	i := sort.SearchFloat64s(DurationBounds[:], v)
	d.Counts[i]++
	d.Sum += v
	d.Count++
	if v > d.Max {
		d.Max = v
	}
}

// Merge folds another aggregate into this one.
func (d *DurationAgg) Merge(o *DurationAgg) {
	for i, c := range o.Counts {
		d.Counts[i] += c
	}
	d.Sum += o.Sum
	d.Count += o.Count
	if o.Max > d.Max {
		d.Max = o.Max
	}
}

// ScanBuckets iterates all buckets overlapping [start, end). Buckets
// within a series are visited in ascending time order.
func (s *MemRollupStore) ScanBuckets(start, end time.Time, fn func(RollupSeries, *RollupBucket) bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ser := range s.series {
		times := make([]int64, 0, len(ser.buckets))
		for t := range ser.buckets {
			times = append(times, t)
		}
		sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })

		for _, t := range times {
			bucket := ser.buckets[t]
			if bucket.Time.Before(start) || !bucket.Time.Before(end) {
				continue
			}
			if !fn(ser.key, bucket) {
				return nil
			}
		}
	}
	return nil
}

// seriesLabels builds the sorted label set identifying the session's
// series.
func seriesLabels(session *Session) labels.Labels {
	b := labels.NewBuilder(labels.EmptyLabels())
	b.Set("project_id", formatProjectID(session.ProjectID))
	b.Set("release", session.Release)
	b.Set("environment", session.Environment)
	return b.Labels()
}

func formatProjectID(id int64) string {
	// Fixed-width so label sort order matches numeric order.
	const digits = 20
	var buf [digits]byte
	for i := digits - 1; i >= 0; i-- {
		buf[i] = byte('0' + id%10)
		id /= 10
	}
	return string(buf[:])
}

func (s *MemRollupStore) startRetention() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.dropExpired(time.Now().Add(-s.retention))
			case <-s.stopChan:
				return
			}
		}
	}()
}

func (s *MemRollupStore) dropExpired(cutoff time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cut := cutoff.Unix()
	for key, ser := range s.series {
		for t := range ser.buckets {
			if t < cut {
				delete(ser.buckets, t)
			}
		}
		if len(ser.buckets) == 0 {
			delete(s.series, key)
		}
	}
}
