package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitals/config"
)

func newTestDirectory() *Directory {
	return NewDirectory([]config.OrganizationConfig{
		{
			Slug: "acme",
			Projects: []config.ProjectConfig{
				{ID: 2, Name: "backend"},
				{ID: 1, Name: "frontend"},
			},
			Features: []string{FeatureMinuteResolution},
		},
		{Slug: "empty"},
	})
}

func TestDirectoryResolve(t *testing.T) {
	d := newTestDirectory()

	org, err := d.Resolve("acme")
	require.NoError(t, err)
	assert.Equal(t, "acme", org.Slug)
	assert.True(t, org.HasFeature(FeatureMinuteResolution))
	assert.False(t, org.HasFeature("something-else"))

	_, err = d.Resolve("nope")
	assert.Error(t, err)
}

func TestProjectIDsSorted(t *testing.T) {
	d := newTestDirectory()
	org, err := d.Resolve("acme")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, org.ProjectIDs())
}

func TestResolveProjects(t *testing.T) {
	d := newTestDirectory()
	org, err := d.Resolve("acme")
	require.NoError(t, err)

	// -1 expands to every project of the organization.
	ids, err := org.ResolveProjects([]int64{-1})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids)

	ids, err = org.ResolveProjects([]int64{2, 1})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids)

	_, err = org.ResolveProjects([]int64{1, 3})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = org.ResolveProjects(nil)
	assert.ErrorIs(t, err, ErrNoProjects)
}

func TestResolveProjectsEmptyOrganization(t *testing.T) {
	d := newTestDirectory()
	org, err := d.Resolve("empty")
	require.NoError(t, err)

	_, err = org.ResolveProjects([]int64{-1})
	assert.ErrorIs(t, err, ErrNoProjects)
}
