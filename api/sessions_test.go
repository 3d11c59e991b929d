package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitals/access"
	"vitals/config"
	"vitals/query"
	"vitals/storage"
)

var apiTestNow = time.Date(2021, 1, 14, 12, 27, 28, 0, time.UTC)

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	mgr, err := storage.NewManager(config.StorageConfig{
		Sessions: config.SessionsStorageConfig{DataPath: t.TempDir()},
	}, log.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })

	base := apiTestNow.Add(-30 * time.Minute)
	for i, status := range []string{
		storage.StatusExited, storage.StatusExited, storage.StatusCrashed,
	} {
		require.NoError(t, mgr.IngestSession(&storage.Session{
			SessionID:   string(rune('a' + i)),
			ProjectID:   1,
			Release:     "foo@1.0.0",
			Environment: "production",
			Status:      status,
			Started:     base.Add(time.Duration(i) * time.Second),
			Received:    base,
			Duration:    60,
		}))
	}

	engine, err := query.NewEngine(mgr, config.QueryConfig{
		Backend:            "sessions",
		MaxBuckets:         1000,
		MaxRows:            10000,
		DefaultStatsPeriod: "90d",
		DefaultInterval:    "1h",
		DefaultPerPage:     100,
		MaxPerPage:         1000,
	}, log.NewNopLogger())
	require.NoError(t, err)
	engine.SetClock(func() time.Time { return apiTestNow })

	directory := access.NewDirectory([]config.OrganizationConfig{
		{
			Slug: "acme",
			Projects: []config.ProjectConfig{
				{ID: 1, Name: "frontend"},
				{ID: 2, Name: "backend"},
			},
			Features: []string{access.FeatureMinuteResolution},
		},
		{Slug: "basic", Projects: []config.ProjectConfig{{ID: 3, Name: "app"}}},
	})

	m, err := NewManager(config.APIConfig{Port: 0}, directory, engine, log.NewNopLogger())
	require.NoError(t, err)
	return m
}

func get(t *testing.T, m *Manager, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)
	return rec
}

func detail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["detail"]
}

func TestSessionsEndpoint(t *testing.T) {
	m := newTestManager(t)
	rec := get(t, m, "/api/0/organizations/acme/sessions"+
		"?project=-1&field=sum(session)&statsPeriod=1d&interval=1d")
	require.Equal(t, http.StatusOK, rec.Code)

	var res struct {
		Start     string   `json:"start"`
		End       string   `json:"end"`
		Intervals []string `json:"intervals"`
		Groups    []struct {
			By     map[string]interface{} `json:"by"`
			Series map[string][]*float64  `json:"series"`
			Totals map[string]*float64    `json:"totals"`
		} `json:"groups"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))

	assert.Equal(t, "2021-01-14T00:00:00Z", res.Start)
	assert.Equal(t, "2021-01-14T12:28:00Z", res.End)
	require.Len(t, res.Intervals, 1)
	require.Len(t, res.Groups, 1)
	require.NotNil(t, res.Groups[0].Totals["sum(session)"])
	assert.Equal(t, 3.0, *res.Groups[0].Totals["sum(session)"])

	link := rec.Header().Get("Link")
	assert.Contains(t, link, `rel="previous"; results="false"`)
	assert.Contains(t, link, `rel="next"; results="false"`)
	assert.Contains(t, link, `cursor="0:0:1"`)
	assert.Contains(t, link, `cursor="0:100:0"`)
}

func TestSessionsUnknownOrganization(t *testing.T) {
	m := newTestManager(t)
	rec := get(t, m, "/api/0/organizations/nope/sessions?project=-1&field=sum(session)")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "The requested resource does not exist", detail(t, rec))
}

func TestSessionsProjectErrors(t *testing.T) {
	m := newTestManager(t)

	rec := get(t, m, "/api/0/organizations/acme/sessions?field=sum(session)")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No projects available", detail(t, rec))

	rec = get(t, m, "/api/0/organizations/acme/sessions?project=3&field=sum(session)")
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "You do not have permission to perform this action.", detail(t, rec))

	rec = get(t, m, "/api/0/organizations/acme/sessions?project=abc&field=sum(session)")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, `Invalid project: "abc"`, detail(t, rec))
}

func TestSessionsParamErrors(t *testing.T) {
	m := newTestManager(t)

	rec := get(t, m, "/api/0/organizations/acme/sessions?project=-1")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, `Request is missing a "field"`, detail(t, rec))

	rec = get(t, m, "/api/0/organizations/acme/sessions?project=-1&field=sum(foo)")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, `Invalid field: "sum(foo)"`, detail(t, rec))
}

func TestSessionsMinuteResolutionFeature(t *testing.T) {
	m := newTestManager(t)

	// The acme organization has the feature, sub-hour intervals work.
	rec := get(t, m, "/api/0/organizations/acme/sessions"+
		"?project=-1&field=sum(session)&statsPeriod=1h&interval=10m")
	assert.Equal(t, http.StatusOK, rec.Code)

	// The basic organization does not.
	rec = get(t, m, "/api/0/organizations/basic/sessions"+
		"?project=-1&field=sum(session)&statsPeriod=1h&interval=10m")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t,
		"The interval has to be a multiple of the minimum interval of one hour.",
		detail(t, rec))
}

func TestHealthz(t *testing.T) {
	m := newTestManager(t)
	rec := get(t, m, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
