package query

import (
	"context"
	"sort"
	"time"

	"vitals/storage"
)

// Health status ranks, ordered by severity. A user's status within a
// scope is the highest rank among their sessions.
const (
	rankHealthy = iota
	rankErrored
	rankAbnormal
	rankCrashed
	rankCount
)

func healthRank(health string) int {
	switch health {
	case storage.HealthCrashed:
		return rankCrashed
	case storage.HealthAbnormal:
		return rankAbnormal
	case storage.HealthErrored:
		return rankErrored
	}
	return rankHealthy
}

func rankHealth(rank int) string {
	switch rank {
	case rankCrashed:
		return storage.HealthCrashed
	case rankAbnormal:
		return storage.HealthAbnormal
	case rankErrored:
		return storage.HealthErrored
	}
	return storage.HealthHealthy
}

// GroupKey identifies one result group. Only the dimensions that were
// requested in groupBy are set.
type GroupKey struct {
	Project     int64
	Release     string
	Environment string
	Status      string

	HasProject     bool
	HasRelease     bool
	HasEnvironment bool
	HasStatus      bool
}

// less orders keys by the structural tuple (project, release,
// environment, status), project numerically.
func (k GroupKey) less(o GroupKey) bool {
	if k.Project != o.Project {
		return k.Project < o.Project
	}
	if k.Release != o.Release {
		return k.Release < o.Release
	}
	if k.Environment != o.Environment {
		return k.Environment < o.Environment
	}
	return k.Status < o.Status
}

// cellAgg accumulates one group×bucket cell. Both backends reduce to
// this shape; they differ only in whether durations are exact values
// or a histogram.
type cellAgg struct {
	counts    [rankCount]int64
	userWorst map[string]int

	durExact []float64
	durHist  *storage.DurationAgg
	durSum   float64
	durCount int64
	durMax   float64
}

func newCellAgg() *cellAgg {
	return &cellAgg{userWorst: make(map[string]int)}
}

func (c *cellAgg) addSession(s *storage.Session) {
	rank := healthRank(s.Health())
	c.counts[rank]++
	if s.DistinctID != "" {
		if prev, ok := c.userWorst[s.DistinctID]; !ok || rank > prev {
			c.userWorst[s.DistinctID] = rank
		}
	}
	if rank == rankHealthy {
		c.durExact = append(c.durExact, s.Duration)
		c.durSum += s.Duration
		c.durCount++
		if s.Duration > c.durMax {
			c.durMax = s.Duration
		}
	}
}

// value computes one field over the cell, restricted to the given
// status scope. A nil return renders as null.
func (c *cellAgg) value(f Field, scope map[string]struct{}) *float64 {
	switch f.Kind {
	case KindSessionCount:
		var total int64
		for rank := 0; rank < rankCount; rank++ {
			if _, ok := scope[rankHealth(rank)]; ok {
				total += c.counts[rank]
			}
		}
		return f64(float64(total))

	case KindUserCount:
		var total int64
		for _, rank := range c.userWorst {
			if _, ok := scope[rankHealth(rank)]; ok {
				total++
			}
		}
		return f64(float64(total))

	case KindDurationAvg, KindDurationPercentile, KindDurationMax:
		if _, ok := scope[storage.HealthHealthy]; !ok {
			return nil
		}
		if c.durCount == 0 {
			return nil
		}
		switch f.Kind {
		case KindDurationAvg:
			return f64(c.durSum / float64(c.durCount))
		case KindDurationMax:
			return f64(c.durMax)
		default:
			return f64(c.percentile(f.Percentile))
		}

	case KindCrashRate, KindCrashFreeRate:
		var crashed, total float64
		if f.Subject == "user" {
			for _, rank := range c.userWorst {
				total++
				if rank == rankCrashed {
					crashed++
				}
			}
		} else {
			for rank := 0; rank < rankCount; rank++ {
				total += float64(c.counts[rank])
			}
			crashed = float64(c.counts[rankCrashed])
		}
		if total == 0 {
			return nil
		}
		rate := crashed / total
		if f.Kind == KindCrashFreeRate {
			rate = 1 - rate
		}
		return f64(rate)
	}
	return nil
}

func (c *cellAgg) percentile(q float64) float64 {
	if c.durHist != nil {
		return histogramQuantile(c.durHist, q)
	}
	return exactQuantile(c.durExact, q)
}

func f64(v float64) *float64 { return &v }

// exactQuantile computes a linear-interpolated quantile over the raw
// values.
func exactQuantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	pos := q * float64(len(sorted)-1)
	lo := int(pos)
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

// histogramQuantile estimates a quantile from the fixed-bound
// duration histogram, interpolating within the hit bucket.
func histogramQuantile(h *storage.DurationAgg, q float64) float64 {
	if h.Count == 0 {
		return 0
	}
	target := q * float64(h.Count)
	var cum float64
	for i, c := range h.Counts {
		prev := cum
		cum += float64(c)
		if cum >= target && c > 0 {
			var lower, upper float64
			if i > 0 {
				lower = storage.DurationBounds[i-1]
			}
			if i < len(storage.DurationBounds) {
				upper = storage.DurationBounds[i]
			} else {
				upper = h.Max
			}
			if upper > h.Max {
				upper = h.Max
			}
			frac := 0.0
			if c > 0 {
				frac = (target - prev) / float64(c)
			}
			return lower + frac*(upper-lower)
		}
	}
	return h.Max
}

// RawGroup is one computed group: a cell per bucket plus a cell
// aggregated over the whole range. Totals are computed independently
// because distinct counts and percentiles do not sum across buckets.
type RawGroup struct {
	Key     GroupKey
	Buckets []*cellAgg
	Total   *cellAgg
}

// RawResult is the backend output, groups in structural key order.
type RawResult struct {
	Groups    []*RawGroup
	Truncated bool
}

// Backend answers session queries from one of the stores.
type Backend interface {
	Name() string
	// MinInterval is the finest interval the backend can resolve.
	// Requests below it are clamped up to it.
	MinInterval() time.Duration
	Execute(ctx context.Context, req *Request, w *Window) (*RawResult, error)
}

// sortAndTruncate orders groups by structural key and enforces the
// row budget on group×bucket cells. The first floor(maxRows/buckets)
// groups survive, so truncation is deterministic.
func sortAndTruncate(groups []*RawGroup, maxRows, buckets int) ([]*RawGroup, bool) {
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].Key.less(groups[j].Key)
	})
	if buckets == 0 || maxRows <= 0 {
		return groups, false
	}
	limit := maxRows / buckets
	if len(groups) <= limit {
		return groups, false
	}
	return groups[:limit], true
}

// matchEnvironment applies the environment query parameters. These
// intersect every filter clause. Unknown values match nothing.
func matchEnvironment(envs []string, environment string) bool {
	if len(envs) == 0 {
		return true
	}
	for _, e := range envs {
		if e == environment {
			return true
		}
	}
	return false
}
