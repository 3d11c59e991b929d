package query

// FieldKind classifies a requested session metric.
type FieldKind int

const (
	// KindSessionCount counts sessions: sum(session).
	KindSessionCount FieldKind = iota
	// KindUserCount counts distinct users: count_unique(user).
	KindUserCount
	// KindDurationAvg, KindDurationPercentile and KindDurationMax
	// aggregate healthy session durations.
	KindDurationAvg
	KindDurationPercentile
	KindDurationMax
	// KindCrashRate and KindCrashFreeRate are ratios of crashed
	// sessions or users over the respective total.
	KindCrashRate
	KindCrashFreeRate
)

// Field is one parsed metric of the closed field grammar.
type Field struct {
	Name       string
	Kind       FieldKind
	Subject    string  // "session" or "user", set for rate fields
	Percentile float64 // set for percentile fields
}

// NullFilled reports whether missing values of this field render as
// null. Counters are zero-filled, durations and rates null-filled.
func (f Field) NullFilled() bool {
	switch f.Kind {
	case KindSessionCount, KindUserCount:
		return false
	}
	return true
}

// IsDuration reports whether the field aggregates session durations.
func (f Field) IsDuration() bool {
	switch f.Kind {
	case KindDurationAvg, KindDurationPercentile, KindDurationMax:
		return true
	}
	return false
}

// IsRate reports whether the field is a crash rate or crash-free rate.
func (f Field) IsRate() bool {
	return f.Kind == KindCrashRate || f.Kind == KindCrashFreeRate
}

// The grammar is closed: exactly these field tokens exist.
var fieldRegistry = map[string]Field{
	"sum(session)":          {Kind: KindSessionCount},
	"count_unique(user)":    {Kind: KindUserCount},
	"avg(session.duration)": {Kind: KindDurationAvg},
	"p50(session.duration)": {Kind: KindDurationPercentile, Percentile: 0.5},
	"p75(session.duration)": {Kind: KindDurationPercentile, Percentile: 0.75},
	"p90(session.duration)": {Kind: KindDurationPercentile, Percentile: 0.9},
	"p95(session.duration)": {Kind: KindDurationPercentile, Percentile: 0.95},
	"p99(session.duration)": {Kind: KindDurationPercentile, Percentile: 0.99},
	"max(session.duration)": {Kind: KindDurationMax},
	"crash_rate(session)":   {Kind: KindCrashRate, Subject: "session"},
	"crash_rate(user)":      {Kind: KindCrashRate, Subject: "user"},
	"crash_free_rate(session)": {
		Kind: KindCrashFreeRate, Subject: "session"},
	"crash_free_rate(user)": {Kind: KindCrashFreeRate, Subject: "user"},
}

// ParseField resolves one field token.
func ParseField(token string) (Field, error) {
	f, ok := fieldRegistry[token]
	if !ok {
		return Field{}, invalidParams("Invalid field: %q", token)
	}
	f.Name = token
	return f, nil
}

// ParseFields resolves the requested field list, rejecting duplicates
// by keeping the first occurrence.
func ParseFields(tokens []string) ([]Field, error) {
	if len(tokens) == 0 {
		return nil, invalidParams(`Request is missing a "field"`)
	}
	seen := make(map[string]bool, len(tokens))
	fields := make([]Field, 0, len(tokens))
	for _, tok := range tokens {
		if seen[tok] {
			continue
		}
		seen[tok] = true
		f, err := ParseField(tok)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, nil
}

// GroupBySet records which grouping dimensions were requested.
type GroupBySet struct {
	Project     bool
	Release     bool
	Environment bool
	Status      bool
}

// Any reports whether any non-status dimension is grouped.
func (g GroupBySet) AnyDimension() bool {
	return g.Project || g.Release || g.Environment
}

// ParseGroupBy resolves the groupBy tokens.
func ParseGroupBy(tokens []string) (GroupBySet, error) {
	var g GroupBySet
	for _, tok := range tokens {
		switch tok {
		case "project":
			g.Project = true
		case "release":
			g.Release = true
		case "environment":
			g.Environment = true
		case "session.status":
			g.Status = true
		default:
			return GroupBySet{}, invalidParams("Invalid groupBy: %q", tok)
		}
	}
	return g, nil
}
