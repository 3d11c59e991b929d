package query

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/common/model"

	"vitals/config"
)

// OrderBy is a requested result ordering by one field's totals.
type OrderBy struct {
	Field Field
	Desc  bool
}

// Cursor is an offset pagination cursor.
type Cursor struct {
	Offset int
	IsPrev bool
}

// String renders the cursor in its wire form.
func (c Cursor) String() string {
	prev := 0
	if c.IsPrev {
		prev = 1
	}
	return fmt.Sprintf("0:%d:%d", c.Offset, prev)
}

// ParseCursor parses a "0:<offset>:<isPrev>" cursor.
func ParseCursor(s string) (Cursor, error) {
	if s == "" {
		return Cursor{}, nil
	}
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return Cursor{}, invalidParams("Invalid cursor parameter.")
	}
	offset, err := strconv.Atoi(parts[1])
	if err != nil || offset < 0 {
		return Cursor{}, invalidParams("Invalid cursor parameter.")
	}
	return Cursor{Offset: offset, IsPrev: parts[2] == "1"}, nil
}

// Request is a fully parsed and validated session query.
type Request struct {
	Projects         []int64
	Start            time.Time
	End              time.Time
	Interval         time.Duration
	Fields           []Field
	GroupBy          GroupBySet
	Filter           *Filter
	Environments     []string
	OrderBy          *OrderBy
	MinuteResolution bool
	PerPage          int
	Cursor           Cursor
}

// ParseRequest parses the query string parameters of a sessions
// request. Project resolution happens in the API layer; everything
// else, including the cross-parameter compatibility rules, is decided
// here before any backend work.
func ParseRequest(q url.Values, cfg config.QueryConfig, minuteResolution bool, now time.Time) (*Request, error) {
	req := &Request{MinuteResolution: minuteResolution}

	fields, err := ParseFields(q["field"])
	if err != nil {
		return nil, err
	}
	req.Fields = fields

	req.GroupBy, err = ParseGroupBy(q["groupBy"])
	if err != nil {
		return nil, err
	}

	req.Interval, err = parseInterval(q.Get("interval"), cfg.DefaultInterval)
	if err != nil {
		return nil, err
	}
	if err := ValidateInterval(req.Interval, minuteResolution); err != nil {
		return nil, err
	}

	req.Start, req.End, err = parseTimeRange(q, cfg.DefaultStatsPeriod, now)
	if err != nil {
		return nil, err
	}

	req.Filter, err = ParseFilter(q.Get("query"))
	if err != nil {
		return nil, err
	}

	req.Environments = q["environment"]

	if err := parseOrderBy(q["orderBy"], req); err != nil {
		return nil, err
	}

	if err := validateCompat(req); err != nil {
		return nil, err
	}

	req.PerPage = cfg.DefaultPerPage
	if v := q.Get("per_page"); v != "" {
		perPage, err := strconv.Atoi(v)
		if err != nil || perPage < 1 {
			return nil, invalidParams("Invalid per_page value.")
		}
		if perPage > cfg.MaxPerPage {
			return nil, invalidParams("Invalid per_page value. Cannot exceed %d.", cfg.MaxPerPage)
		}
		req.PerPage = perPage
	}

	req.Cursor, err = ParseCursor(q.Get("cursor"))
	if err != nil {
		return nil, err
	}

	return req, nil
}

func parseInterval(raw, fallback string) (time.Duration, error) {
	if raw == "" {
		raw = fallback
	}
	d, err := model.ParseDuration(raw)
	if err != nil {
		return 0, invalidParams("Invalid interval")
	}
	return time.Duration(d), nil
}

// parseTimeRange resolves statsPeriod or explicit start/end into an
// UTC range. An explicit end is inclusive, so one second is added
// before alignment.
func parseTimeRange(q url.Values, defaultPeriod string, now time.Time) (time.Time, time.Time, error) {
	startRaw, endRaw := q.Get("start"), q.Get("end")
	if startRaw != "" || endRaw != "" {
		start, err := parseTimestamp(startRaw)
		if err != nil {
			return time.Time{}, time.Time{}, invalidParams("Invalid start")
		}
		end, err := parseTimestamp(endRaw)
		if err != nil {
			return time.Time{}, time.Time{}, invalidParams("Invalid end")
		}
		if !start.Before(end) {
			return time.Time{}, time.Time{}, invalidParams("start must be before end")
		}
		return start.UTC(), end.UTC().Add(time.Second), nil
	}

	period := q.Get("statsPeriod")
	if period == "" {
		period = defaultPeriod
	}
	d, err := model.ParseDuration(period)
	if err != nil {
		return time.Time{}, time.Time{}, invalidParams("Invalid statsPeriod")
	}
	end := now.UTC()
	return end.Add(-time.Duration(d)), end, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", raw)
}

func parseOrderBy(tokens []string, req *Request) error {
	if len(tokens) == 0 {
		return nil
	}
	if len(tokens) > 1 {
		return invalidParams("Cannot order by multiple fields")
	}
	raw := tokens[0]
	desc := strings.HasPrefix(raw, "-")
	name := strings.TrimPrefix(raw, "-")
	for _, f := range req.Fields {
		if f.Name == name {
			req.OrderBy = &OrderBy{Field: f, Desc: desc}
			return nil
		}
	}
	return invalidParams("'orderBy' must be one of the provided 'fields'")
}

// validateCompat enforces the cross-parameter rules that make a query
// unanswerable: rate fields cannot coexist with status restrictions,
// user counts cannot split across statuses without grouping by them,
// and ordering needs a stable per-group total.
func validateCompat(req *Request) error {
	for _, f := range req.Fields {
		if f.IsRate() {
			if req.Filter.StatusFiltered {
				return invalidParams("Cannot filter field %s by session.status", f.Name)
			}
			if req.GroupBy.Status {
				return invalidParams("Cannot group field %s by session.status", f.Name)
			}
		}
		if f.Kind == KindUserCount && req.Filter.StatusFiltered &&
			len(req.Filter.Statuses) > 1 && !req.GroupBy.Status {
			return invalidParams("Cannot filter count_unique by multiple session.status unless it is in groupBy")
		}
	}
	if req.OrderBy != nil {
		if req.GroupBy.Status {
			return invalidParams("Cannot use 'orderBy' when grouping by sessions.status")
		}
		if req.Filter.StatusFiltered {
			return invalidParams("Cannot order by %s with the current filters", req.OrderBy.Field.Name)
		}
	}
	return nil
}
