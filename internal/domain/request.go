package domain

// CapabilitiesRequest asks for the service capabilities.
type CapabilitiesRequest struct {
	AcceptVersions []string
	Sections       []string
	BaseURL        string // used for operation endpoints
}

// DescribeTypeRequest asks for the schema of record types.
type DescribeTypeRequest struct {
	TypeNames      []QName
	SchemaLanguage string
	OutputFormat   string
}

// QueryRequest is a GetRecords or GetFeature invocation.
type QueryRequest struct {
	TypeNames     []QName
	Filter        Filter
	ElementSet    ElementSet // empty when not given
	ElementNames  []QName
	SortBy        []SortBy
	ResultType    ResultType // empty means results
	MaxRecords    *int
	StartPosition *int // 1-based
	OutputSchema  string
}

// QueryByIDRequest is a GetRecordById invocation.
type QueryByIDRequest struct {
	IDs          []string
	ElementSet   ElementSet
	OutputSchema string
}

// DomainRequest is a GetDomain invocation. Exactly one of the lists is
// expected to be set.
type DomainRequest struct {
	ParameterNames []string
	PropertyNames  []string
}

// TransactionKind is the kind of a transaction action.
type TransactionKind string

// Transaction action kinds.
const (
	TransactionInsert TransactionKind = "insert"
	TransactionUpdate TransactionKind = "update"
	TransactionDelete TransactionKind = "delete"
)

// TransactionAction is one action of a transaction.
type TransactionAction struct {
	Kind     TransactionKind
	TypeName QName
	Records  []Record       // insert
	Filter   Filter         // update, delete
	Set      map[string]any // update
}

// TransactionRequest is a Transaction invocation.
type TransactionRequest struct {
	Actions []TransactionAction
}

// HarvestRequest is a Harvest invocation.
type HarvestRequest struct {
	Source       string
	ResourceType string
}

// DirectDownloadRequest asks for the files of a resource or one of them.
type DirectDownloadRequest struct {
	ResourceID string
	FileID     string // empty lists the resource files
}
