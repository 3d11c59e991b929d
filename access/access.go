package access

import (
	"fmt"
	"sort"

	"vitals/config"
)

// FeatureMinuteResolution unlocks sub-hour query intervals for an
// organization.
const FeatureMinuteResolution = "minute-resolution"

// Organization is a resolved organization with its project directory.
type Organization struct {
	Slug     string
	projects map[int64]string
	features map[string]bool
}

// Directory resolves organization slugs and project access from the
// static configuration.
type Directory struct {
	orgs map[string]*Organization
}

// NewDirectory builds the access directory from configuration.
func NewDirectory(orgs []config.OrganizationConfig) *Directory {
	d := &Directory{orgs: make(map[string]*Organization, len(orgs))}
	for _, oc := range orgs {
		org := &Organization{
			Slug:     oc.Slug,
			projects: make(map[int64]string, len(oc.Projects)),
			features: make(map[string]bool, len(oc.Features)),
		}
		for _, p := range oc.Projects {
			org.projects[p.ID] = p.Name
		}
		for _, f := range oc.Features {
			org.features[f] = true
		}
		d.orgs[oc.Slug] = org
	}
	return d
}

// Resolve looks up an organization by slug.
func (d *Directory) Resolve(slug string) (*Organization, error) {
	org, ok := d.orgs[slug]
	if !ok {
		return nil, fmt.Errorf("unknown organization: %s", slug)
	}
	return org, nil
}

// HasFeature reports whether the organization has a feature enabled.
func (o *Organization) HasFeature(feature string) bool {
	return o.features[feature]
}

// ProjectIDs returns all project ids of the organization in ascending
// order.
func (o *Organization) ProjectIDs() []int64 {
	ids := make([]int64, 0, len(o.projects))
	for id := range o.projects {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// HasProject reports whether the project belongs to the organization.
func (o *Organization) HasProject(id int64) bool {
	_, ok := o.projects[id]
	return ok
}

// ResolveProjects expands the requested project ids against the
// organization. A single -1 selects every project the organization
// has. Requesting a project outside the organization is a permission
// error, an organization with no projects at all is reported
// separately so callers can map the two cases to different responses.
func (o *Organization) ResolveProjects(requested []int64) ([]int64, error) {
	if len(requested) == 1 && requested[0] == -1 {
		ids := o.ProjectIDs()
		if len(ids) == 0 {
			return nil, ErrNoProjects
		}
		return ids, nil
	}
	if len(requested) == 0 {
		return nil, ErrNoProjects
	}
	for _, id := range requested {
		if !o.HasProject(id) {
			return nil, ErrForbidden
		}
	}
	out := make([]int64, len(requested))
	copy(out, requested)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Sentinel errors for project resolution.
var (
	ErrForbidden  = fmt.Errorf("project access denied")
	ErrNoProjects = fmt.Errorf("no projects available")
)
