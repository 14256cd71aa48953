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
)

// KnowledgeRepository defines data access for knowledge articles.
type KnowledgeRepository interface {
	Create(ctx context.Context, article *models.KnowledgeArticle) (*models.KnowledgeArticle, error)
	Get(ctx context.Context, tenantID, articleID string) (*models.KnowledgeArticle, error)
	Update(ctx context.Context, article *models.KnowledgeArticle, expectedVersion int64) (*models.KnowledgeArticle, error)
	Query(ctx context.Context, req query.Request) ([]*models.KnowledgeArticle, string, error)
	SoftDelete(ctx context.Context, tenantID, articleID string, expectedVersion int64) error
	HardDelete(ctx context.Context, tenantID, articleID string) error

	// ApplyClassification stores the external classifier's output for an
	// article under the usual version check. The classifier itself is a
	// collaborator outside this layer; only its result contract is stored.
	ApplyClassification(ctx context.Context, tenantID, articleID string, c models.Classification, citations []models.Citation, expectedVersion int64) (*models.KnowledgeArticle, error)
}

type knowledgeRepository struct {
	base[models.KnowledgeArticle, *models.KnowledgeArticle]
}

// NewKnowledgeRepository creates a knowledge article repository on the
// shared registry and retry executor.
func NewKnowledgeRepository(registry *database.Registry, exec *retry.Executor, logger *zap.Logger) KnowledgeRepository {
	return &knowledgeRepository{
		base: newBase[models.KnowledgeArticle, *models.KnowledgeArticle](partition.FamilyKnowledgeArticle, registry, exec, logger),
	}
}

var _ KnowledgeRepository = (*knowledgeRepository)(nil)

func (r *knowledgeRepository) Create(ctx context.Context, article *models.KnowledgeArticle) (*models.KnowledgeArticle, error) {
	return r.create(ctx, article)
}

func (r *knowledgeRepository) Get(ctx context.Context, tenantID, articleID string) (*models.KnowledgeArticle, error) {
	return r.get(ctx, false, tenantID, models.EntityTypeKnowledge, articleID)
}

func (r *knowledgeRepository) Update(ctx context.Context, article *models.KnowledgeArticle, expectedVersion int64) (*models.KnowledgeArticle, error) {
	return r.update(ctx, article, expectedVersion)
}

func (r *knowledgeRepository) Query(ctx context.Context, req query.Request) ([]*models.KnowledgeArticle, string, error) {
	return r.queryPage(ctx, req)
}

func (r *knowledgeRepository) SoftDelete(ctx context.Context, tenantID, articleID string, expectedVersion int64) error {
	return r.softDelete(ctx, expectedVersion, tenantID, models.EntityTypeKnowledge, articleID)
}

func (r *knowledgeRepository) HardDelete(ctx context.Context, tenantID, articleID string) error {
	return r.hardDelete(ctx, tenantID, models.EntityTypeKnowledge, articleID)
}

func (r *knowledgeRepository) ApplyClassification(ctx context.Context, tenantID, articleID string, c models.Classification, citations []models.Citation, expectedVersion int64) (*models.KnowledgeArticle, error) {
	article, err := r.get(ctx, false, tenantID, models.EntityTypeKnowledge, articleID)
	if err != nil {
		return nil, err
	}
	if article == nil {
		return nil, fmt.Errorf("article %s: %w", articleID, apperrors.ErrNotFound)
	}

	article.Classification = c
	article.Citations = citations
	return r.update(ctx, article, expectedVersion)
}
