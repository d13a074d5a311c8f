package domain

import "time"

// AggregateResult is the outcome of executing an ExecutionPlan.
type AggregateResult struct {
	ResultType     ResultType
	ElementSet     ElementSet
	OutputSchema   string
	NumberMatched  int
	NumberReturned int
	NextRecord     int // 1-based, 0 when no record remains
	Timestamp      time.Time
	Records        Collection
}

// DescribeResult lists the descriptors of the requested types.
type DescribeResult struct {
	SchemaLanguage string
	Types          []TypeDescriptor
}

// DomainValues holds the values of one GetDomain parameter or property.
type DomainValues struct {
	ParameterName string
	PropertyName  string
	Values        []string
}

// TransactionResult summarises an applied transaction.
type TransactionResult struct {
	Inserted    int
	Updated     int
	Deleted     int
	InsertedIDs []string
}

// DownloadLink points to one downloadable resource file.
type DownloadLink struct {
	ResourceID string
	FileID     string
	Name       string
	Size       int64
}
