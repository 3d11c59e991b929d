package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"

	"vitals/access"
	"vitals/query"
	"vitals/system"
)

// handleSessions serves GET /api/0/organizations/{org}/sessions.
func (m *Manager) handleSessions(w http.ResponseWriter, r *http.Request) {
	status := m.serveSessions(w, r)
	system.HTTPRequests.WithLabelValues("sessions", strconv.Itoa(status)).Inc()
}

func (m *Manager) serveSessions(w http.ResponseWriter, r *http.Request) int {
	org, err := m.directory.Resolve(mux.Vars(r)["organization"])
	if err != nil {
		writeDetail(w, http.StatusNotFound, "The requested resource does not exist")
		return http.StatusNotFound
	}

	q := r.URL.Query()

	requested, err := parseProjectParams(q["project"])
	if err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return http.StatusBadRequest
	}
	projects, err := org.ResolveProjects(requested)
	if err != nil {
		switch {
		case errors.Is(err, access.ErrForbidden):
			writeDetail(w, http.StatusForbidden, "You do not have permission to perform this action.")
			return http.StatusForbidden
		default:
			writeDetail(w, http.StatusBadRequest, "No projects available")
			return http.StatusBadRequest
		}
	}

	req, err := m.engine.ParseRequest(q, org.HasFeature(access.FeatureMinuteResolution))
	if err != nil {
		return m.writeQueryError(w, err)
	}
	req.Projects = projects

	res, err := m.engine.Query(r.Context(), req)
	if err != nil {
		return m.writeQueryError(w, err)
	}

	w.Header().Set("Link", linkHeader(r.URL, res))
	writeJSON(w, http.StatusOK, res)
	return http.StatusOK
}

func (m *Manager) writeQueryError(w http.ResponseWriter, err error) int {
	var invalid *query.InvalidParamsError
	if errors.As(err, &invalid) {
		writeDetail(w, http.StatusBadRequest, invalid.Detail)
		return http.StatusBadRequest
	}
	level.Error(m.logger).Log("msg", "session query failed", "err", err)
	writeDetail(w, http.StatusBadGateway, "Query backend unavailable")
	return http.StatusBadGateway
}

// parseProjectParams parses the repeated project id parameters. A
// single -1 means every accessible project.
func parseProjectParams(values []string) ([]int64, error) {
	ids := make([]int64, 0, len(values))
	for _, v := range values {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("Invalid project: %q", v)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// linkHeader builds the pagination Link header pair.
func linkHeader(u *url.URL, res *query.Result) string {
	return fmt.Sprintf("%s, %s",
		linkEntry(u, "previous", res.Prev),
		linkEntry(u, "next", res.Next))
}

func linkEntry(u *url.URL, rel string, page query.PageLink) string {
	linked := *u
	q := linked.Query()
	q.Set("cursor", page.Cursor.String())
	linked.RawQuery = q.Encode()
	return fmt.Sprintf(`<%s>; rel="%s"; results="%t"; cursor="%s"`,
		linked.String(), rel, page.Results, page.Cursor.String())
}
