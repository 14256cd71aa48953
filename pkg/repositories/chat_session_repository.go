package repositories

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/meridianhq/meridian-core/pkg/apperrors"
	"github.com/meridianhq/meridian-core/pkg/database"
	"github.com/meridianhq/meridian-core/pkg/models"
	"github.com/meridianhq/meridian-core/pkg/partition"
	"github.com/meridianhq/meridian-core/pkg/query"
	"github.com/meridianhq/meridian-core/pkg/retry"
)

// ChatSessionRepository defines data access for chat sessions.
type ChatSessionRepository interface {
	Create(ctx context.Context, session *models.ChatSession) (*models.ChatSession, error)
	Get(ctx context.Context, tenantID, userID, sessionID string) (*models.ChatSession, error)
	Update(ctx context.Context, session *models.ChatSession, expectedVersion int64) (*models.ChatSession, error)
	Query(ctx context.Context, req query.Request) ([]*models.ChatSession, string, error)
	SoftDelete(ctx context.Context, tenantID, userID, sessionID string, expectedVersion int64) error
	HardDelete(ctx context.Context, tenantID, userID, sessionID string) error

	// AppendMessage adds one turn under the caller's version check,
	// accumulating usage and refreshing the activity stamp. A concurrent
	// writer who appended first wins; the loser gets ErrVersionConflict and
	// must re-read.
	AppendMessage(ctx context.Context, tenantID, userID, sessionID string, msg models.Message, usage models.Usage, expectedVersion int64) (*models.ChatSession, error)
}

type chatSessionRepository struct {
	base[models.ChatSession, *models.ChatSession]
}

// NewChatSessionRepository creates a chat session repository on the shared
// registry and retry executor.
func NewChatSessionRepository(registry *database.Registry, exec *retry.Executor, logger *zap.Logger) ChatSessionRepository {
	return &chatSessionRepository{
		base: newBase[models.ChatSession, *models.ChatSession](partition.FamilyChatSession, registry, exec, logger),
	}
}

var _ ChatSessionRepository = (*chatSessionRepository)(nil)

func (r *chatSessionRepository) Create(ctx context.Context, session *models.ChatSession) (*models.ChatSession, error) {
	if session.LastActivityAt.IsZero() {
		session.LastActivityAt = time.Now().UTC()
	}
	return r.create(ctx, session)
}

func (r *chatSessionRepository) Get(ctx context.Context, tenantID, userID, sessionID string) (*models.ChatSession, error) {
	return r.get(ctx, false, tenantID, userID, sessionID)
}

func (r *chatSessionRepository) Update(ctx context.Context, session *models.ChatSession, expectedVersion int64) (*models.ChatSession, error) {
	return r.update(ctx, session, expectedVersion)
}

func (r *chatSessionRepository) Query(ctx context.Context, req query.Request) ([]*models.ChatSession, string, error) {
	return r.queryPage(ctx, req)
}

func (r *chatSessionRepository) SoftDelete(ctx context.Context, tenantID, userID, sessionID string, expectedVersion int64) error {
	return r.softDelete(ctx, expectedVersion, tenantID, userID, sessionID)
}

func (r *chatSessionRepository) HardDelete(ctx context.Context, tenantID, userID, sessionID string) error {
	return r.hardDelete(ctx, tenantID, userID, sessionID)
}

func (r *chatSessionRepository) AppendMessage(ctx context.Context, tenantID, userID, sessionID string, msg models.Message, usage models.Usage, expectedVersion int64) (*models.ChatSession, error) {
	session, err := r.get(ctx, false, tenantID, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, apperrors.ErrNotFound)
	}
	if session.Version != expectedVersion {
		return nil, fmt.Errorf("session %s stored version %d, expected %d: %w",
			sessionID, session.Version, expectedVersion, apperrors.ErrVersionConflict)
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	session.Messages = append(session.Messages, msg)
	session.Usage.PromptTokens += usage.PromptTokens
	session.Usage.CompletionTokens += usage.CompletionTokens
	session.Usage.TotalTokens += usage.TotalTokens
	session.LastActivityAt = msg.Timestamp

	return r.update(ctx, session, expectedVersion)
}
