package query

import (
	"strings"

	"vitals/storage"
)

// canonicalStatuses is the closed session.status vocabulary, in the
// order status groups are enumerated.
var canonicalStatuses = []string{
	storage.HealthAbnormal,
	storage.HealthCrashed,
	storage.HealthErrored,
	storage.HealthHealthy,
}

func validStatusValue(v string) bool {
	switch v {
	case storage.HealthHealthy, storage.HealthErrored,
		storage.HealthCrashed, storage.HealthAbnormal:
		return true
	}
	return false
}

// ValueSet is one per-dimension condition: an include set or its
// negation.
type ValueSet struct {
	Negated bool
	Values  map[string]struct{}
}

// Match reports whether a dimension value satisfies the condition.
func (v *ValueSet) Match(s string) bool {
	_, ok := v.Values[s]
	if v.Negated {
		return !ok
	}
	return ok
}

// Cond is a condition on a single dimension key.
type Cond struct {
	Key string // "release" or "environment"
	Set ValueSet
}

// Clause is a conjunction of dimension conditions.
type Clause struct {
	Conds []Cond
}

func (c *Clause) match(release, environment string) bool {
	for i := range c.Conds {
		var val string
		switch c.Conds[i].Key {
		case "release":
			val = release
		case "environment":
			val = environment
		}
		if !c.Conds[i].Set.Match(val) {
			return false
		}
	}
	return true
}

// Filter is the translated form of a query string: a disjunction of
// dimension clauses plus the resolved session.status restriction.
type Filter struct {
	Raw     string
	Clauses []Clause

	// StatusFiltered is set when the query constrains
	// session.status; Statuses then holds the allowed statuses.
	StatusFiltered bool
	Statuses       map[string]struct{}
}

// MatchDims reports whether a (release, environment) pair satisfies
// the dimension clauses. Status restrictions are applied separately
// because user-level aggregates need every session of a user.
func (f *Filter) MatchDims(release, environment string) bool {
	if len(f.Clauses) == 0 {
		return true
	}
	for i := range f.Clauses {
		if f.Clauses[i].match(release, environment) {
			return true
		}
	}
	return false
}

// AllowedStatuses returns the set of health statuses the filter
// admits. Without a status filter every status is allowed.
func (f *Filter) AllowedStatuses() map[string]struct{} {
	if f.StatusFiltered {
		return f.Statuses
	}
	all := make(map[string]struct{}, len(canonicalStatuses))
	for _, s := range canonicalStatuses {
		all[s] = struct{}{}
	}
	return all
}

// Impossible reports whether the status restriction can never match.
// Unknown status values are not errors, they just select nothing.
func (f *Filter) Impossible() bool {
	return f.StatusFiltered && len(f.Statuses) == 0
}

// ParseFilter translates the query string grammar: `key:value`,
// `key:"quoted"`, `key:[v1, v2]`, `!key:value`, terms joined by
// whitespace or AND, and a single level of OR.
func ParseFilter(raw string) (*Filter, error) {
	f := &Filter{Raw: raw}
	if strings.TrimSpace(raw) == "" {
		return f, nil
	}

	tokens := tokenizeQuery(raw)

	// Split the flat token stream on OR into clauses of terms.
	var clauses [][]string
	var current []string
	for _, tok := range tokens {
		switch strings.ToUpper(tok) {
		case "OR":
			clauses = append(clauses, current)
			current = nil
		case "AND":
			// AND is the implicit joiner, skip it.
		default:
			current = append(current, tok)
		}
	}
	clauses = append(clauses, current)

	type parsedClause struct {
		conds    []Cond
		status   map[string]struct{}
		hasOther bool
	}
	parsed := make([]parsedClause, 0, len(clauses))
	anyStatus := false
	for _, terms := range clauses {
		var pc parsedClause
		for _, term := range terms {
			key, set, err := parseTerm(term)
			if err != nil {
				return nil, err
			}
			if key == "session.status" {
				allowed := resolveStatusSet(set)
				if pc.status == nil {
					pc.status = allowed
				} else {
					pc.status = intersectStatuses(pc.status, allowed)
				}
				anyStatus = true
				continue
			}
			pc.conds = append(pc.conds, Cond{Key: key, Set: set})
			pc.hasOther = true
		}
		parsed = append(parsed, pc)
	}

	if anyStatus && len(parsed) > 1 {
		// Disjunctions touching session.status only compose when
		// every branch is a pure status restriction; those merge
		// into one union.
		for _, pc := range parsed {
			if pc.hasOther || pc.status == nil {
				return nil, invalidParams("Unable to parse condition with session.status")
			}
		}
		union := make(map[string]struct{})
		for _, pc := range parsed {
			for s := range pc.status {
				union[s] = struct{}{}
			}
		}
		f.StatusFiltered = true
		f.Statuses = union
		return f, nil
	}

	for _, pc := range parsed {
		if pc.status != nil {
			f.StatusFiltered = true
			f.Statuses = pc.status
		}
		if len(pc.conds) > 0 {
			f.Clauses = append(f.Clauses, Clause{Conds: pc.conds})
		}
	}
	return f, nil
}

// resolveStatusSet maps a status condition to the set of allowed
// statuses. Values outside the vocabulary select nothing.
func resolveStatusSet(set ValueSet) map[string]struct{} {
	allowed := make(map[string]struct{})
	if set.Negated {
		for _, s := range canonicalStatuses {
			if _, ok := set.Values[s]; !ok {
				allowed[s] = struct{}{}
			}
		}
		return allowed
	}
	for v := range set.Values {
		if validStatusValue(v) {
			allowed[v] = struct{}{}
		}
	}
	return allowed
}

func intersectStatuses(a, b map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{})
	for s := range a {
		if _, ok := b[s]; ok {
			out[s] = struct{}{}
		}
	}
	return out
}

// parseTerm parses one `[!]key:value` term.
func parseTerm(term string) (string, ValueSet, error) {
	negated := strings.HasPrefix(term, "!")
	body := strings.TrimPrefix(term, "!")

	idx := strings.Index(body, ":")
	if idx < 0 {
		// Free text searches the event message column, which has no
		// counterpart here.
		return "", ValueSet{}, invalidParams("Invalid query field: %q", "message")
	}
	key := body[:idx]
	rawVal := body[idx+1:]

	switch key {
	case "release", "environment", "session.status":
	default:
		// Event-domain keys are rejected naming the column they
		// would query.
		mapped := key
		if key == "issue.id" {
			mapped = "group_id"
		}
		return "", ValueSet{}, invalidParams("Invalid query field: %q", mapped)
	}

	set := ValueSet{Negated: negated, Values: make(map[string]struct{})}
	if strings.HasPrefix(rawVal, "[") {
		inner := strings.TrimPrefix(rawVal, "[")
		inner = strings.TrimSuffix(inner, "]")
		for _, part := range strings.Split(inner, ",") {
			set.Values[unquote(strings.TrimSpace(part))] = struct{}{}
		}
	} else {
		set.Values[unquote(rawVal)] = struct{}{}
	}
	return key, set, nil
}

func unquote(v string) string {
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		return v[1 : len(v)-1]
	}
	return v
}

// tokenizeQuery splits the query on whitespace, keeping quoted
// strings and bracket lists intact.
func tokenizeQuery(s string) []string {
	var tokens []string
	i := 0
	for i < len(s) {
		if s[i] == ' ' || s[i] == '\t' {
			i++
			continue
		}
		start := i
		inQuote, inBracket := false, false
		for i < len(s) {
			c := s[i]
			switch {
			case inQuote:
				if c == '"' {
					inQuote = false
				}
			case inBracket:
				if c == ']' {
					inBracket = false
				}
			case c == '"':
				inQuote = true
			case c == '[':
				inBracket = true
			case c == ' ' || c == '\t':
				goto done
			}
			i++
		}
	done:
		tokens = append(tokens, s[start:i])
	}
	return tokens
}
