package repositories

import (
	"context"

	"go.uber.org/zap"

	"github.com/meridianhq/meridian-core/pkg/database"
	"github.com/meridianhq/meridian-core/pkg/models"
	"github.com/meridianhq/meridian-core/pkg/partition"
	"github.com/meridianhq/meridian-core/pkg/query"
	"github.com/meridianhq/meridian-core/pkg/retry"
)

// ProjectRepository defines data access for projects.
type ProjectRepository interface {
	Create(ctx context.Context, project *models.Project) (*models.Project, error)
	// Get returns (nil, nil) when the project does not exist or is
	// soft-deleted.
	Get(ctx context.Context, tenantID, projectID string) (*models.Project, error)
	Update(ctx context.Context, project *models.Project, expectedVersion int64) (*models.Project, error)
	Query(ctx context.Context, req query.Request) ([]*models.Project, string, error)
	SoftDelete(ctx context.Context, tenantID, projectID string, expectedVersion int64) error
	// HardDelete physically removes the project record. Admin-only.
	HardDelete(ctx context.Context, tenantID, projectID string) error
}

type projectRepository struct {
	base[models.Project, *models.Project]
}

// NewProjectRepository creates a project repository on the shared registry
// and retry executor.
func NewProjectRepository(registry *database.Registry, exec *retry.Executor, logger *zap.Logger) ProjectRepository {
	return &projectRepository{
		base: newBase[models.Project, *models.Project](partition.FamilyProject, registry, exec, logger),
	}
}

var _ ProjectRepository = (*projectRepository)(nil)

func (r *projectRepository) Create(ctx context.Context, project *models.Project) (*models.Project, error) {
	return r.create(ctx, project)
}

func (r *projectRepository) Get(ctx context.Context, tenantID, projectID string) (*models.Project, error) {
	return r.get(ctx, false, tenantID, projectID, models.EntityTypeProject)
}

func (r *projectRepository) Update(ctx context.Context, project *models.Project, expectedVersion int64) (*models.Project, error) {
	return r.update(ctx, project, expectedVersion)
}

func (r *projectRepository) Query(ctx context.Context, req query.Request) ([]*models.Project, string, error) {
	return r.queryPage(ctx, req)
}

func (r *projectRepository) SoftDelete(ctx context.Context, tenantID, projectID string, expectedVersion int64) error {
	return r.softDelete(ctx, expectedVersion, tenantID, projectID, models.EntityTypeProject)
}

func (r *projectRepository) HardDelete(ctx context.Context, tenantID, projectID string) error {
	return r.hardDelete(ctx, tenantID, projectID, models.EntityTypeProject)
}
