// Package store defines the document-store boundary the repositories run
// against. A Container holds one entity family's documents, addressed by
// (partition key, id), with optimistic concurrency via an integer version.
// Adapters (postgres, mssql, memory) translate their driver's error surface
// onto the apperrors taxonomy so the retry executor can classify failures
// uniformly.
package store

import (
	"context"
	"time"

	"github.com/meridianhq/meridian-core/pkg/query"
)

// Item is the stored form of an entity: the serialized document plus the
// columns the store needs for routing, concurrency and default filtering.
type Item struct {
	ID           string
	PartitionKey string
	TenantID     string
	Doc          []byte
	Version      int64
	IsDeleted    bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Embedding    []float32 // vector-bearing families only
}

// Page is a bounded query result. Continuation is empty on the last page.
// RequestCharge reports per-call consumption where the backing store
// provides it; observability only, never used for control flow.
type Page struct {
	Items         []Item
	Continuation  string
	RequestCharge float64
}

// Container is one entity family's storage handle.
//
// Error surface: Insert returns apperrors.ErrAlreadyExists on an (id,
// partition key) collision; Read and Delete return apperrors.ErrNotFound for
// absent items; Replace returns apperrors.ErrVersionConflict when the stored
// version differs from expectedVersion and apperrors.ErrNotFound when the
// item is gone. Transient failures wrap apperrors.ErrUnavailable or are
// *apperrors.ThrottledError.
type Container interface {
	Insert(ctx context.Context, item Item) (Item, error)
	Read(ctx context.Context, partitionKey, id string) (Item, error)
	Replace(ctx context.Context, item Item, expectedVersion int64) (Item, error)
	Delete(ctx context.Context, partitionKey, id string) error
	Query(ctx context.Context, spec *query.Spec) (Page, error)
	Ping(ctx context.Context) error
}

// VectorSearcher is implemented by containers that can rank items by
// embedding distance within a partition scope.
type VectorSearcher interface {
	SimilarSearch(ctx context.Context, scopes []query.Scope, vector []float32, topK int) ([]Item, error)
}
