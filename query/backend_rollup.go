package query

import (
	"context"
	"fmt"
	"time"

	"vitals/storage"
)

// RollupBackend answers queries from the pre-aggregated ten-second
// buckets. Percentiles come out as histogram estimates rather than
// exact values.
type RollupBackend struct {
	store   storage.RollupStore
	maxRows int
}

// NewRollupBackend creates a backend over the rollup store.
func NewRollupBackend(store storage.RollupStore, maxRows int) *RollupBackend {
	return &RollupBackend{store: store, maxRows: maxRows}
}

func (b *RollupBackend) Name() string { return "rollup" }

func (b *RollupBackend) MinInterval() time.Duration { return storage.RollupGranularity }

func (b *RollupBackend) Execute(ctx context.Context, req *Request, w *Window) (*RawResult, error) {
	projects := make(map[int64]bool, len(req.Projects))
	for _, id := range req.Projects {
		projects[id] = true
	}

	groups := make(map[GroupKey]*RawGroup)
	err := b.store.ScanBuckets(w.Start, w.DataEnd(), func(series storage.RollupSeries, bucket *storage.RollupBucket) bool {
		if ctx.Err() != nil {
			return false
		}
		if !projects[series.ProjectID] {
			return true
		}
		if !matchEnvironment(req.Environments, series.Environment) {
			return true
		}
		if !req.Filter.MatchDims(series.Release, series.Environment) {
			return true
		}

		key := rollupGroupKey(req.GroupBy, series)
		g, ok := groups[key]
		if !ok {
			g = &RawGroup{Key: key, Buckets: make([]*cellAgg, len(w.Buckets)), Total: newCellAgg()}
			for i := range g.Buckets {
				g.Buckets[i] = newCellAgg()
			}
			groups[key] = g
		}

		if idx := int(bucket.Time.Sub(w.Start) / w.Interval); idx >= 0 && idx < len(g.Buckets) {
			mergeRollupBucket(g.Buckets[idx], bucket)
		}
		mergeRollupBucket(g.Total, bucket)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("scanning rollup buckets: %w", err)
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

func rollupGroupKey(g GroupBySet, series storage.RollupSeries) GroupKey {
	var key GroupKey
	if g.Project {
		key.Project = series.ProjectID
		key.HasProject = true
	}
	if g.Release {
		key.Release = series.Release
		key.HasRelease = true
	}
	if g.Environment {
		key.Environment = series.Environment
		key.HasEnvironment = true
	}
	return key
}

// mergeRollupBucket folds one stored bucket into a cell. User sets
// fold into the worst-status map: a user seen crashed anywhere in the
// cell stays crashed, which reproduces the aggregate status a raw
// scan would assign.
func mergeRollupBucket(c *cellAgg, b *storage.RollupBucket) {
	c.counts[rankHealthy] += int64(b.Exited)
	c.counts[rankErrored] += int64(b.Errored)
	c.counts[rankAbnormal] += int64(b.Abnormal)
	c.counts[rankCrashed] += int64(b.Crashed)

	for did := range b.AllUsers {
		if _, ok := c.userWorst[did]; !ok {
			c.userWorst[did] = rankHealthy
		}
	}
	bumpUsers(c, b.ErroredUsers, rankErrored)
	bumpUsers(c, b.AbnormalUsers, rankAbnormal)
	bumpUsers(c, b.CrashedUsers, rankCrashed)

	if b.Durations.Count > 0 {
		if c.durHist == nil {
			c.durHist = &storage.DurationAgg{}
		}
		c.durHist.Merge(&b.Durations)
		c.durSum += b.Durations.Sum
		c.durCount += int64(b.Durations.Count)
		if b.Durations.Max > c.durMax {
			c.durMax = b.Durations.Max
		}
	}
}

func bumpUsers(c *cellAgg, users map[string]struct{}, rank int) {
	for did := range users {
		if prev, ok := c.userWorst[did]; !ok || rank > prev {
			c.userWorst[did] = rank
		}
	}
}
