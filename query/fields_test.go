package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseField(t *testing.T) {
	f, err := ParseField("p95(session.duration)")
	require.NoError(t, err)
	assert.Equal(t, "p95(session.duration)", f.Name)
	assert.Equal(t, KindDurationPercentile, f.Kind)
	assert.Equal(t, 0.95, f.Percentile)
	assert.True(t, f.IsDuration())
	assert.True(t, f.NullFilled())

	f, err = ParseField("crash_rate(user)")
	require.NoError(t, err)
	assert.True(t, f.IsRate())
	assert.Equal(t, "user", f.Subject)

	f, err = ParseField("sum(session)")
	require.NoError(t, err)
	assert.False(t, f.NullFilled())
}

func TestParseFieldUnknown(t *testing.T) {
	// The grammar is closed, anything outside it is rejected verbatim.
	for _, tok := range []string{"sum(user)", "p42(session.duration)", "count(session)", ""} {
		_, err := ParseField(tok)
		require.Error(t, err, tok)
		assert.Equal(t, `Invalid field: "`+tok+`"`, err.Error())
	}
}

func TestParseFieldsDeduplicates(t *testing.T) {
	fields, err := ParseFields([]string{"sum(session)", "sum(session)", "count_unique(user)"})
	require.NoError(t, err)
	require.Len(t, fields, 2)
	assert.Equal(t, "sum(session)", fields[0].Name)
	assert.Equal(t, "count_unique(user)", fields[1].Name)
}

func TestParseGroupBy(t *testing.T) {
	g, err := ParseGroupBy([]string{"project", "session.status"})
	require.NoError(t, err)
	assert.True(t, g.Project)
	assert.True(t, g.Status)
	assert.False(t, g.Release)
	assert.True(t, g.AnyDimension())

	_, err = ParseGroupBy([]string{"user"})
	require.Error(t, err)
	assert.Equal(t, `Invalid groupBy: "user"`, err.Error())
}
