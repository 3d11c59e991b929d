package query

import (
	"sort"
)

const timestampFormat = "2006-01-02T15:04:05Z"

// Group is one shaped result group.
type Group struct {
	By     map[string]interface{} `json:"by"`
	Series map[string][]*float64  `json:"series"`
	Totals map[string]*float64    `json:"totals"`
}

// Result is the shaped response of a sessions query.
type Result struct {
	Start     string   `json:"start"`
	End       string   `json:"end"`
	Query     string   `json:"query"`
	Intervals []string `json:"intervals"`
	Groups    []Group  `json:"groups"`

	// Pagination metadata for the Link headers, not part of the body.
	Prev PageLink `json:"-"`
	Next PageLink `json:"-"`
}

// PageLink describes one pagination direction.
type PageLink struct {
	Cursor  Cursor
	Results bool
}

// shapeResult turns the backend output into the response shape:
// every requested field present in every group, zero or null filled,
// status groups enumerated, groups ordered and paginated.
func shapeResult(req *Request, w *Window, raw *RawResult) *Result {
	res := &Result{
		Start:     w.Start.UTC().Format(timestampFormat),
		End:       w.ResponseEnd.UTC().Format(timestampFormat),
		Query:     req.Filter.Raw,
		Intervals: make([]string, len(w.Buckets)),
		Groups:    []Group{},
	}
	for i, t := range w.Buckets {
		res.Intervals[i] = t.UTC().Format(timestampFormat)
	}

	groups := expandGroups(req, w, raw)
	if req.OrderBy != nil {
		orderGroups(groups, req.OrderBy)
	}

	shaped := make([]Group, len(groups))
	for i, g := range groups {
		shaped[i] = shapeGroup(req, w, g)
	}

	res.Groups, res.Prev, res.Next = paginate(shaped, req.Cursor, req.PerPage)
	return res
}

// expandedGroup pairs a backend group with the status scope its
// fields are computed over.
type expandedGroup struct {
	raw    *RawGroup
	status string // set when grouping by session.status
	scope  map[string]struct{}
}

// expandGroups applies the status dimension. Grouping by
// session.status splits every backend group into one row per allowed
// status; a status filter without the grouping restricts the scope
// and drops groups left without any session in it.
func expandGroups(req *Request, w *Window, raw *RawResult) []*expandedGroup {
	allowed := req.Filter.AllowedStatuses()

	source := raw.Groups
	if req.GroupBy.Status && !req.GroupBy.AnyDimension() && len(source) == 0 {
		// The statuses are enumerated even when nothing matched, so a
		// status breakdown always carries its zero rows.
		empty := &RawGroup{Buckets: make([]*cellAgg, len(w.Buckets)), Total: newCellAgg()}
		for i := range empty.Buckets {
			empty.Buckets[i] = newCellAgg()
		}
		source = []*RawGroup{empty}
	}

	var out []*expandedGroup
	for _, g := range source {
		if req.GroupBy.Status {
			for _, status := range canonicalStatuses {
				if _, ok := allowed[status]; !ok {
					continue
				}
				out = append(out, &expandedGroup{
					raw:    g,
					status: status,
					scope:  map[string]struct{}{status: {}},
				})
			}
			continue
		}
		if req.Filter.StatusFiltered && scopeCount(g.Total, allowed) == 0 {
			continue
		}
		out = append(out, &expandedGroup{raw: g, scope: allowed})
	}
	return out
}

func scopeCount(c *cellAgg, scope map[string]struct{}) int64 {
	var total int64
	for rank := 0; rank < rankCount; rank++ {
		if _, ok := scope[rankHealth(rank)]; ok {
			total += c.counts[rank]
		}
	}
	return total
}

func shapeGroup(req *Request, w *Window, g *expandedGroup) Group {
	by := make(map[string]interface{})
	if g.raw.Key.HasProject {
		by["project"] = g.raw.Key.Project
	}
	if g.raw.Key.HasRelease {
		by["release"] = g.raw.Key.Release
	}
	if g.raw.Key.HasEnvironment {
		by["environment"] = g.raw.Key.Environment
	}
	if req.GroupBy.Status {
		by["session.status"] = g.status
	}

	series := make(map[string][]*float64, len(req.Fields))
	totals := make(map[string]*float64, len(req.Fields))
	for _, f := range req.Fields {
		vals := make([]*float64, len(w.Buckets))
		for i := range w.Buckets {
			vals[i] = fillValue(f, g.raw.Buckets[i].value(f, g.scope))
		}
		series[f.Name] = vals
		totals[f.Name] = fillValue(f, g.raw.Total.value(f, g.scope))
	}
	return Group{By: by, Series: series, Totals: totals}
}

// fillValue applies the field's value domain: counters zero-fill,
// durations and rates stay null.
func fillValue(f Field, v *float64) *float64 {
	if v == nil && !f.NullFilled() {
		return f64(0)
	}
	return v
}

// orderGroups sorts by the totals of the ordered field, ties broken
// by the structural key order. Null totals sort before any value.
func orderGroups(groups []*expandedGroup, ob *OrderBy) {
	sort.SliceStable(groups, func(i, j int) bool {
		vi := groups[i].raw.Total.value(ob.Field, groups[i].scope)
		vj := groups[j].raw.Total.value(ob.Field, groups[j].scope)
		less, eq := compareValues(vi, vj)
		if eq {
			return groups[i].raw.Key.less(groups[j].raw.Key)
		}
		if ob.Desc {
			return !less
		}
		return less
	})
}

func compareValues(a, b *float64) (less, eq bool) {
	switch {
	case a == nil && b == nil:
		return false, true
	case a == nil:
		return true, false
	case b == nil:
		return false, false
	case *a == *b:
		return false, true
	}
	return *a < *b, false
}

// paginate cuts the shaped groups down to the requested page. The
// next link never claims rows beyond what was actually computed, so
// a truncated backend result terminates pagination naturally.
func paginate(groups []Group, c Cursor, perPage int) ([]Group, PageLink, PageLink) {
	if perPage <= 0 {
		perPage = len(groups)
	}
	offset := c.Offset
	if offset > len(groups) {
		offset = len(groups)
	}
	end := offset + perPage
	if end > len(groups) {
		end = len(groups)
	}

	prevOffset := offset - perPage
	if prevOffset < 0 {
		prevOffset = 0
	}
	prev := PageLink{
		Cursor:  Cursor{Offset: prevOffset, IsPrev: true},
		Results: offset > 0,
	}
	next := PageLink{
		Cursor:  Cursor{Offset: offset + perPage},
		Results: offset+perPage < len(groups),
	}
	return groups[offset:end], prev, next
}
