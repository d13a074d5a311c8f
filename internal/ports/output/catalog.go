package output

import (
	"context"
	"io"

	"github.com/jobrunner/owsgate/internal/domain"
)

// RecordIterator streams query results. Close must be called on every path.
type RecordIterator interface {
	Next() bool
	Record() domain.Record
	Err() error
	Close() error
}

// StoreCapabilities is the operation metadata a store reports. Callers must
// copy before mutating.
type StoreCapabilities struct {
	OperationParameters  map[string][]domain.Domain
	OperationConstraints map[string][]domain.Domain
	Queryables           map[string][]string // keyed by prefixed type name
	Transactions         bool
}

// SupportsTransactions reports whether the store accepts Transaction.
func (c StoreCapabilities) SupportsTransactions() bool {
	return c.Transactions
}

// CatalogStore defines the secondary port for record backends.
// Implementations must be safe for concurrent use.
type CatalogStore interface {
	// Name identifies the implementation, used for store selection.
	Name() string

	// RecordDescriptors returns the types served by the store.
	RecordDescriptors(ctx context.Context) ([]domain.TypeDescriptor, error)

	// Count returns how many records match q, ignoring its window.
	Count(ctx context.Context, q domain.Query) (int, error)

	// Query returns the records matching q within its window.
	Query(ctx context.Context, q domain.Query) (RecordIterator, error)

	// DomainValues returns the distinct values of a property.
	DomainValues(ctx context.Context, typeName domain.QName, property string) ([]string, error)

	// Capabilities returns operation parameters, constraints and queryables.
	Capabilities(ctx context.Context) (StoreCapabilities, error)

	// TranslateProperty maps a property reference of desc to the backend
	// property it is stored under.
	TranslateProperty(desc domain.TypeDescriptor, name string) (string, error)
}

// TransactionalStore is a CatalogStore accepting writes.
type TransactionalStore interface {
	CatalogStore

	// Apply executes all actions atomically.
	Apply(ctx context.Context, req domain.TransactionRequest) (domain.TransactionResult, error)
}

// SeedLoader is implemented by stores that can be filled from seed files.
type SeedLoader interface {
	// LoadSeed replaces the records previously loaded from source.
	LoadSeed(ctx context.Context, source string, r io.Reader) (int, error)

	// RemoveSeed drops the records loaded from source.
	RemoveSeed(ctx context.Context, source string) error
}

// CapabilitiesDecorator amends an assembled capabilities document.
type CapabilitiesDecorator interface {
	Decorate(ctx context.Context, caps *domain.Capabilities, store CatalogStore) (*domain.Capabilities, error)
}
