package query

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitals/config"
)

var testQueryConfig = config.QueryConfig{
	Backend:            "sessions",
	MaxBuckets:         1000,
	MaxRows:            10000,
	DefaultStatsPeriod: "90d",
	DefaultInterval:    "1h",
	DefaultPerPage:     100,
	MaxPerPage:         1000,
}

func parseTestRequest(t *testing.T, params url.Values) (*Request, error) {
	t.Helper()
	return ParseRequest(params, testQueryConfig, true, testNow)
}

func TestParseRequestDefaults(t *testing.T) {
	req, err := parseTestRequest(t, url.Values{"field": {"sum(session)"}})
	require.NoError(t, err)

	assert.Equal(t, time.Hour, req.Interval)
	assert.Equal(t, testNow, req.End)
	assert.Equal(t, testNow.Add(-90*24*time.Hour), req.Start)
	assert.Equal(t, 100, req.PerPage)
	assert.Equal(t, Cursor{}, req.Cursor)
	assert.Nil(t, req.OrderBy)
}

func TestParseRequestMissingField(t *testing.T) {
	_, err := parseTestRequest(t, url.Values{})
	require.Error(t, err)
	assert.Equal(t, `Request is missing a "field"`, err.Error())
}

func TestParseRequestExplicitRange(t *testing.T) {
	req, err := parseTestRequest(t, url.Values{
		"field": {"sum(session)"},
		"start": {"2021-01-01T00:00:00Z"},
		"end":   {"2021-01-02T00:00:00Z"},
	})
	require.NoError(t, err)

	assert.Equal(t, time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), req.Start)
	// An explicit end is inclusive.
	assert.Equal(t, time.Date(2021, 1, 2, 0, 0, 1, 0, time.UTC), req.End)
}

func TestParseRequestInvertedRange(t *testing.T) {
	_, err := parseTestRequest(t, url.Values{
		"field": {"sum(session)"},
		"start": {"2021-01-02T00:00:00Z"},
		"end":   {"2021-01-01T00:00:00Z"},
	})
	require.Error(t, err)
	assert.Equal(t, "start must be before end", err.Error())
}

func TestParseRequestIntervalValidation(t *testing.T) {
	// Without the minute resolution capability sub-hour intervals are
	// rejected.
	_, err := ParseRequest(url.Values{
		"field":    {"sum(session)"},
		"interval": {"10m"},
	}, testQueryConfig, false, testNow)
	require.Error(t, err)
	assert.Equal(t,
		"The interval has to be a multiple of the minimum interval of one hour.",
		err.Error())

	req, err := parseTestRequest(t, url.Values{
		"field":    {"sum(session)"},
		"interval": {"10m"},
	})
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, req.Interval)
}

func TestParseRequestOrderBy(t *testing.T) {
	req, err := parseTestRequest(t, url.Values{
		"field":   {"sum(session)", "count_unique(user)"},
		"orderBy": {"-count_unique(user)"},
	})
	require.NoError(t, err)
	require.NotNil(t, req.OrderBy)
	assert.Equal(t, "count_unique(user)", req.OrderBy.Field.Name)
	assert.True(t, req.OrderBy.Desc)
}

func TestParseRequestOrderByErrors(t *testing.T) {
	tests := []struct {
		name   string
		params url.Values
		want   string
	}{
		{
			"not in fields",
			url.Values{
				"field":   {"sum(session)"},
				"orderBy": {"count_unique(user)"},
			},
			"'orderBy' must be one of the provided 'fields'",
		},
		{
			"multiple",
			url.Values{
				"field":   {"sum(session)", "count_unique(user)"},
				"orderBy": {"sum(session)", "count_unique(user)"},
			},
			"Cannot order by multiple fields",
		},
		{
			"with status grouping",
			url.Values{
				"field":   {"sum(session)"},
				"groupBy": {"session.status"},
				"orderBy": {"sum(session)"},
			},
			"Cannot use 'orderBy' when grouping by sessions.status",
		},
		{
			"with status filter",
			url.Values{
				"field":   {"sum(session)"},
				"query":   {"session.status:healthy"},
				"orderBy": {"sum(session)"},
			},
			"Cannot order by sum(session) with the current filters",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseTestRequest(t, tt.params)
			require.Error(t, err)
			assert.Equal(t, tt.want, err.Error())
		})
	}
}

func TestParseRequestRateCompat(t *testing.T) {
	_, err := parseTestRequest(t, url.Values{
		"field": {"crash_rate(session)"},
		"query": {"session.status:healthy"},
	})
	require.Error(t, err)
	assert.Equal(t, "Cannot filter field crash_rate(session) by session.status", err.Error())

	_, err = parseTestRequest(t, url.Values{
		"field":   {"crash_free_rate(user)"},
		"groupBy": {"session.status"},
	})
	require.Error(t, err)
	assert.Equal(t, "Cannot group field crash_free_rate(user) by session.status", err.Error())
}

func TestParseRequestUserCountCompat(t *testing.T) {
	_, err := parseTestRequest(t, url.Values{
		"field": {"count_unique(user)"},
		"query": {"session.status:[healthy, errored]"},
	})
	require.Error(t, err)
	assert.Equal(t,
		"Cannot filter count_unique by multiple session.status unless it is in groupBy",
		err.Error())

	// A single status, or grouping by status, is fine.
	_, err = parseTestRequest(t, url.Values{
		"field": {"count_unique(user)"},
		"query": {"session.status:errored"},
	})
	require.NoError(t, err)

	_, err = parseTestRequest(t, url.Values{
		"field":   {"count_unique(user)"},
		"query":   {"session.status:[healthy, errored]"},
		"groupBy": {"session.status"},
	})
	require.NoError(t, err)
}

func TestParseRequestPerPage(t *testing.T) {
	req, err := parseTestRequest(t, url.Values{
		"field":    {"sum(session)"},
		"per_page": {"25"},
	})
	require.NoError(t, err)
	assert.Equal(t, 25, req.PerPage)

	for _, v := range []string{"0", "-1", "abc"} {
		_, err := parseTestRequest(t, url.Values{
			"field":    {"sum(session)"},
			"per_page": {v},
		})
		require.Error(t, err, v)
		assert.Equal(t, "Invalid per_page value.", err.Error())
	}

	_, err = parseTestRequest(t, url.Values{
		"field":    {"sum(session)"},
		"per_page": {"5000"},
	})
	require.Error(t, err)
	assert.Equal(t, "Invalid per_page value. Cannot exceed 1000.", err.Error())
}

func TestCursorRoundTrip(t *testing.T) {
	c := Cursor{Offset: 42, IsPrev: true}
	parsed, err := ParseCursor(c.String())
	require.NoError(t, err)
	assert.Equal(t, c, parsed)

	parsed, err = ParseCursor("")
	require.NoError(t, err)
	assert.Equal(t, Cursor{}, parsed)

	for _, raw := range []string{"nope", "0:x:0", "0:-1:0", "1:2"} {
		_, err := ParseCursor(raw)
		require.Error(t, err, raw)
		assert.Equal(t, "Invalid cursor parameter.", err.Error())
	}
}
