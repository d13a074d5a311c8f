package domain

import "strings"

// ResultType selects between data return, count only and validation only.
type ResultType string

// Result types.
const (
	ResultTypeResults  ResultType = "results"
	ResultTypeHits     ResultType = "hits"
	ResultTypeValidate ResultType = "validate"
)

// ParseResultType parses a result type case-insensitively. An empty value
// yields the zero ResultType so callers can apply their default.
func ParseResultType(s string) (ResultType, error) {
	switch ResultType(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return "", nil
	case ResultTypeResults:
		return ResultTypeResults, nil
	case ResultTypeHits:
		return ResultTypeHits, nil
	case ResultTypeValidate:
		return ResultTypeValidate, nil
	}
	return "", InvalidParameter("resultType", "unknown result type %q", s)
}

// DefaultMaxRecords is used when a request does not limit its window.
const DefaultMaxRecords = 10

// Unbounded marks a query without a record limit.
const Unbounded = -1

// SortBy orders results on one property.
type SortBy struct {
	Property   string
	Descending bool
}

// Query is a backend query against a single type.
type Query struct {
	TypeName     QName
	Filter       Filter
	Properties   []QName // nil means every property
	SortBy       []SortBy
	StartIndex   int // 0-based
	MaxRecords   int // Unbounded or >= 0
	Namespace    string
	OutputSchema string
}

// Limited reports whether the query carries a record limit.
func (q Query) Limited() bool {
	return q.MaxRecords != Unbounded
}

// CountQuery returns a copy without window and projection, suitable for
// counting matches.
func (q Query) CountQuery() Query {
	q.StartIndex = 0
	q.MaxRecords = Unbounded
	q.Properties = nil
	q.SortBy = nil
	return q
}

// Window returns a copy limited to [start, start+limit).
func (q Query) Window(start, limit int) Query {
	q.StartIndex = start
	q.MaxRecords = limit
	return q
}

// QueryPlan is the resolved query for one declared type of a request.
type QueryPlan struct {
	Descriptor TypeDescriptor
	Query      Query
}

// ExecutionPlan groups the per-type plans of one request together with the
// request wide paging window. Paging across plans is resolved when the plan
// is executed.
type ExecutionPlan struct {
	Plans        []QueryPlan
	ResultType   ResultType
	Offset       int // 0-based
	Limit        int // >= 0
	ElementSet   ElementSet
	OutputSchema string
}
