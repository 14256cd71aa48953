package repositories

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/meridianhq/meridian-core/pkg/apperrors"
	"github.com/meridianhq/meridian-core/pkg/database"
	"github.com/meridianhq/meridian-core/pkg/models"
	"github.com/meridianhq/meridian-core/pkg/partition"
	"github.com/meridianhq/meridian-core/pkg/query"
	"github.com/meridianhq/meridian-core/pkg/retry"
	"github.com/meridianhq/meridian-core/pkg/store"
)

// ChunkRepository defines data access for embedded document chunks.
type ChunkRepository interface {
	Create(ctx context.Context, chunk *models.Chunk) (*models.Chunk, error)
	Get(ctx context.Context, tenantID, projectID, chunkID string) (*models.Chunk, error)
	Update(ctx context.Context, chunk *models.Chunk, expectedVersion int64) (*models.Chunk, error)
	Query(ctx context.Context, req query.Request) ([]*models.Chunk, string, error)
	SoftDelete(ctx context.Context, tenantID, projectID, chunkID string, expectedVersion int64) error
	HardDelete(ctx context.Context, tenantID, projectID, chunkID string) error

	// SimilarSearch returns the topK chunks in the project closest to the
	// query vector. Fails with ErrVectorSearchUnsupported when the backing
	// store has no vector capability.
	SimilarSearch(ctx context.Context, tenantID, projectID string, vector []float32, topK int) ([]*models.Chunk, error)
}

type chunkRepository struct {
	base[models.Chunk, *models.Chunk]
	dimensions int
}

// NewChunkRepository creates a chunk repository. dimensions fixes the
// accepted embedding length; vectors of any other length are rejected at
// the boundary.
func NewChunkRepository(registry *database.Registry, exec *retry.Executor, dimensions int, logger *zap.Logger) ChunkRepository {
	return &chunkRepository{
		base:       newBase[models.Chunk, *models.Chunk](partition.FamilyChunk, registry, exec, logger),
		dimensions: dimensions,
	}
}

var _ ChunkRepository = (*chunkRepository)(nil)

func (r *chunkRepository) checkDimensions(vector []float32) error {
	if len(vector) != r.dimensions {
		return fmt.Errorf("embedding has %d dimensions, want %d: %w",
			len(vector), r.dimensions, apperrors.ErrInvalidIdentity)
	}
	return nil
}

func (r *chunkRepository) Create(ctx context.Context, chunk *models.Chunk) (*models.Chunk, error) {
	if err := r.checkDimensions(chunk.Embedding); err != nil {
		return nil, err
	}
	return r.create(ctx, chunk)
}

func (r *chunkRepository) Get(ctx context.Context, tenantID, projectID, chunkID string) (*models.Chunk, error) {
	return r.get(ctx, false, tenantID, projectID, chunkID)
}

func (r *chunkRepository) Update(ctx context.Context, chunk *models.Chunk, expectedVersion int64) (*models.Chunk, error) {
	if err := r.checkDimensions(chunk.Embedding); err != nil {
		return nil, err
	}
	return r.update(ctx, chunk, expectedVersion)
}

func (r *chunkRepository) Query(ctx context.Context, req query.Request) ([]*models.Chunk, string, error) {
	return r.queryPage(ctx, req)
}

func (r *chunkRepository) SoftDelete(ctx context.Context, tenantID, projectID, chunkID string, expectedVersion int64) error {
	return r.softDelete(ctx, expectedVersion, tenantID, projectID, chunkID)
}

func (r *chunkRepository) HardDelete(ctx context.Context, tenantID, projectID, chunkID string) error {
	return r.hardDelete(ctx, tenantID, projectID, chunkID)
}

func (r *chunkRepository) SimilarSearch(ctx context.Context, tenantID, projectID string, vector []float32, topK int) ([]*models.Chunk, error) {
	if err := r.checkDimensions(vector); err != nil {
		return nil, err
	}
	if !partition.ValidIdentifier(tenantID) {
		return nil, fmt.Errorf("tenant_id %q: %w", tenantID, apperrors.ErrInvalidIdentity)
	}
	if !partition.ValidIdentifier(projectID) {
		return nil, fmt.Errorf("project_id %q: %w", projectID, apperrors.ErrInvalidIdentity)
	}
	if topK <= 0 || topK > query.MaxPageSize {
		topK = query.DefaultPageSize
	}

	c, err := r.container()
	if err != nil {
		return nil, err
	}
	searcher, ok := c.(store.VectorSearcher)
	if !ok {
		return nil, apperrors.ErrVectorSearchUnsupported
	}

	scopes := []query.Scope{
		{Field: "tenant_id", Value: tenantID},
		{Field: "project_id", Value: projectID},
	}
	items, err := retry.DoWithResult(ctx, r.exec, r.op("similar_search"), func(ctx context.Context) ([]store.Item, error) {
		return searcher.SimilarSearch(ctx, scopes, vector, topK)
	})
	if err != nil {
		return nil, err
	}

	chunks := make([]*models.Chunk, 0, len(items))
	for _, item := range items {
		chunk, err := r.fromItem(item)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}
