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

// DocumentRepository defines data access for uploaded documents.
type DocumentRepository interface {
	Create(ctx context.Context, doc *models.Document) (*models.Document, error)
	Get(ctx context.Context, tenantID, projectID, documentID string) (*models.Document, error)
	Update(ctx context.Context, doc *models.Document, expectedVersion int64) (*models.Document, error)
	Query(ctx context.Context, req query.Request) ([]*models.Document, string, error)
	SoftDelete(ctx context.Context, tenantID, projectID, documentID string, expectedVersion int64) error
	HardDelete(ctx context.Context, tenantID, projectID, documentID string) error

	// UpdateStatus moves the document through its processing state machine.
	// An illegal transition fails with ErrInvalidTransition before any
	// write. failureReason is recorded only when next is failed.
	UpdateStatus(ctx context.Context, tenantID, projectID, documentID, next, failureReason string, expectedVersion int64) (*models.Document, error)
}

type documentRepository struct {
	base[models.Document, *models.Document]
}

// NewDocumentRepository creates a document repository on the shared registry
// and retry executor.
func NewDocumentRepository(registry *database.Registry, exec *retry.Executor, logger *zap.Logger) DocumentRepository {
	return &documentRepository{
		base: newBase[models.Document, *models.Document](partition.FamilyDocument, registry, exec, logger),
	}
}

var _ DocumentRepository = (*documentRepository)(nil)

func (r *documentRepository) Create(ctx context.Context, doc *models.Document) (*models.Document, error) {
	if doc.Status == "" {
		doc.Status = models.DocumentStatusUploaded
	}
	return r.create(ctx, doc)
}

func (r *documentRepository) Get(ctx context.Context, tenantID, projectID, documentID string) (*models.Document, error) {
	return r.get(ctx, false, tenantID, projectID, documentID)
}

func (r *documentRepository) Update(ctx context.Context, doc *models.Document, expectedVersion int64) (*models.Document, error) {
	return r.update(ctx, doc, expectedVersion)
}

func (r *documentRepository) Query(ctx context.Context, req query.Request) ([]*models.Document, string, error) {
	return r.queryPage(ctx, req)
}

func (r *documentRepository) SoftDelete(ctx context.Context, tenantID, projectID, documentID string, expectedVersion int64) error {
	return r.softDelete(ctx, expectedVersion, tenantID, projectID, documentID)
}

func (r *documentRepository) HardDelete(ctx context.Context, tenantID, projectID, documentID string) error {
	return r.hardDelete(ctx, tenantID, projectID, documentID)
}

func (r *documentRepository) UpdateStatus(ctx context.Context, tenantID, projectID, documentID, next, failureReason string, expectedVersion int64) (*models.Document, error) {
	doc, err := r.get(ctx, false, tenantID, projectID, documentID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("document %s: %w", documentID, apperrors.ErrNotFound)
	}
	if !doc.CanTransitionTo(next) {
		return nil, fmt.Errorf("document %s cannot move %s -> %s: %w",
			documentID, doc.Status, next, apperrors.ErrInvalidTransition)
	}

	doc.Status = next
	doc.FailureReason = ""
	if next == models.DocumentStatusFailed {
		doc.FailureReason = failureReason
	}
	return r.update(ctx, doc, expectedVersion)
}
