// Package repositories provides data access for every entity family. A
// generic base carries the shared discipline (validation before network,
// key derivation through the partition codec, stamping, optimistic
// concurrency, retries through the shared executor); per-family
// repositories add their own operations on top.
//
// Failure semantics, uniform across all operations: transient store errors
// are retried by the executor and surface only after exhaustion; malformed
// identities fail fast and never reach the store; version conflicts are
// never retried here because resolving one needs a fresh read, which is the
// caller's call.
package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meridianhq/meridian-core/pkg/apperrors"
	"github.com/meridianhq/meridian-core/pkg/audit"
	"github.com/meridianhq/meridian-core/pkg/database"
	"github.com/meridianhq/meridian-core/pkg/models"
	"github.com/meridianhq/meridian-core/pkg/partition"
	"github.com/meridianhq/meridian-core/pkg/query"
	"github.com/meridianhq/meridian-core/pkg/retry"
	"github.com/meridianhq/meridian-core/pkg/store"
)

// entityPtr constrains P to a pointer to T implementing models.Entity.
type entityPtr[T any] interface {
	*T
	models.Entity
}

// embeddingCarrier is implemented by families whose vector lives in a store
// column rather than the document body.
type embeddingCarrier interface {
	EmbeddingVector() []float32
	SetEmbeddingVector([]float32)
}

// base wires one family through codec, executor and registry.
type base[T any, P entityPtr[T]] struct {
	family   partition.Family
	registry *database.Registry
	exec     *retry.Executor
	logger   *zap.Logger
	auditor  *audit.SecurityAuditor
}

func newBase[T any, P entityPtr[T]](family partition.Family, registry *database.Registry, exec *retry.Executor, logger *zap.Logger) base[T, P] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return base[T, P]{
		family:   family,
		registry: registry,
		exec:     exec,
		logger:   logger,
		auditor:  audit.NewSecurityAuditor(logger),
	}
}

func (b *base[T, P]) container() (store.Container, error) {
	return b.registry.Container(b.family)
}

func (b *base[T, P]) op(name string) string {
	return string(b.family) + "." + name
}

// locate derives the partition key and the item id from an identity tuple.
// The id segment's position varies per family shape, so it is resolved
// through the codec rather than assumed.
func (b *base[T, P]) locate(fields []string) (key, id string, err error) {
	key, err = partition.Build(b.family, fields...)
	if err != nil {
		return "", "", err
	}
	idx, err := partition.IDSegment(b.family)
	if err != nil {
		return "", "", err
	}
	return key, fields[idx], nil
}

// create validates, stamps and inserts a new entity. The id is generated
// when absent; createdAt/updatedAt/version are always server-stamped here,
// never trusted from the caller.
func (b *base[T, P]) create(ctx context.Context, e P) (P, error) {
	if err := e.Validate(); err != nil {
		if errors.Is(err, apperrors.ErrInvalidIdentity) {
			b.auditor.LogIdentityValidationFailure(e.Meta().TenantID, b.family, err.Error())
		}
		return nil, err
	}

	meta := e.Meta()
	if meta.ID == "" {
		meta.ID = uuid.New().String()
	}

	key, err := partition.Build(b.family, e.PartitionValues()...)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	meta.CreatedAt = now
	meta.UpdatedAt = now
	meta.Version = 1
	meta.IsDeleted = false

	item, err := b.toItem(e, key)
	if err != nil {
		return nil, err
	}

	c, err := b.container()
	if err != nil {
		return nil, err
	}
	_, err = retry.DoWithResult(ctx, b.exec, b.op("create"), func(ctx context.Context) (store.Item, error) {
		return c.Insert(ctx, item)
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// get performs a point read. Absence is a normal outcome: a missing item, or
// a soft-deleted one when includeDeleted is false, returns (nil, nil). A key
// shape that does not match the family's arity fails fast before any I/O.
func (b *base[T, P]) get(ctx context.Context, includeDeleted bool, fields ...string) (P, error) {
	key, id, err := b.locate(fields)
	if err != nil {
		return nil, err
	}

	c, err := b.container()
	if err != nil {
		return nil, err
	}
	item, err := retry.DoWithResult(ctx, b.exec, b.op("get"), func(ctx context.Context) (store.Item, error) {
		return c.Read(ctx, key, id)
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if item.IsDeleted && !includeDeleted {
		return nil, nil
	}
	return b.fromItem(item)
}

// update is the write half of a read-modify-write cycle. The key is
// re-derived from the entity, so a mutated partition field can only miss its
// original row (surfacing as not found), never move the entity between
// partitions. Version conflicts surface as-is and are never retried.
func (b *base[T, P]) update(ctx context.Context, e P, expectedVersion int64) (P, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if expectedVersion < 1 {
		return nil, fmt.Errorf("expected version %d: %w", expectedVersion, apperrors.ErrVersionConflict)
	}

	key, err := partition.Build(b.family, e.PartitionValues()...)
	if err != nil {
		return nil, err
	}

	// Stamps land on the caller's entity because toItem serializes it; on any
	// failure they are rolled back so a re-read-and-retry cycle starts clean.
	meta := e.Meta()
	prevUpdatedAt, prevVersion := meta.UpdatedAt, meta.Version
	restore := func() {
		meta.UpdatedAt, meta.Version = prevUpdatedAt, prevVersion
	}
	meta.UpdatedAt = time.Now().UTC()
	meta.Version = expectedVersion + 1

	item, err := b.toItem(e, key)
	if err != nil {
		restore()
		return nil, err
	}

	c, err := b.container()
	if err != nil {
		restore()
		return nil, err
	}
	stored, err := retry.DoWithResult(ctx, b.exec, b.op("update"), func(ctx context.Context) (store.Item, error) {
		return c.Replace(ctx, item, expectedVersion)
	})
	if err != nil {
		restore()
		return nil, err
	}
	meta.CreatedAt = stored.CreatedAt
	return e, nil
}

// queryPage runs a validated query and decodes the page.
func (b *base[T, P]) queryPage(ctx context.Context, req query.Request) ([]P, string, error) {
	spec, err := query.Build(b.family, req)
	if err != nil {
		var injection *query.InjectionError
		if errors.As(err, &injection) {
			b.auditor.LogInjectionAttempt(req.TenantID, b.family, audit.InjectionDetails{
				Field:       injection.Field,
				Value:       injection.Value,
				Fingerprint: injection.Fingerprint,
			})
		}
		return nil, "", err
	}

	c, err := b.container()
	if err != nil {
		return nil, "", err
	}
	page, err := retry.DoWithResult(ctx, b.exec, b.op("query"), func(ctx context.Context) (store.Page, error) {
		return c.Query(ctx, spec)
	})
	if err != nil {
		return nil, "", err
	}

	entities := make([]P, 0, len(page.Items))
	for _, item := range page.Items {
		e, err := b.fromItem(item)
		if err != nil {
			return nil, "", err
		}
		entities = append(entities, e)
	}
	return entities, page.Continuation, nil
}

// softDelete flips the deleted flag under the usual version check. The
// record stays in the store for audit.
func (b *base[T, P]) softDelete(ctx context.Context, expectedVersion int64, fields ...string) error {
	e, err := b.get(ctx, true, fields...)
	if err != nil {
		return err
	}
	if e == nil {
		_, id, idErr := b.locate(fields)
		if idErr != nil {
			return idErr
		}
		return fmt.Errorf("entity %s: %w", id, apperrors.ErrNotFound)
	}
	e.Meta().IsDeleted = true
	_, err = b.update(ctx, e, expectedVersion)
	return err
}

// hardDelete physically removes the record. Admin-only paths; most callers
// want softDelete.
func (b *base[T, P]) hardDelete(ctx context.Context, fields ...string) error {
	key, id, err := b.locate(fields)
	if err != nil {
		return err
	}

	c, err := b.container()
	if err != nil {
		return err
	}
	return b.exec.Do(ctx, b.op("delete"), func(ctx context.Context) error {
		return c.Delete(ctx, key, id)
	})
}

func (b *base[T, P]) toItem(e P, key string) (store.Item, error) {
	doc, err := json.Marshal(e)
	if err != nil {
		return store.Item{}, fmt.Errorf("failed to marshal %s document: %w", b.family, err)
	}
	meta := e.Meta()
	item := store.Item{
		ID:           meta.ID,
		PartitionKey: key,
		TenantID:     meta.TenantID,
		Doc:          doc,
		Version:      meta.Version,
		IsDeleted:    meta.IsDeleted,
		CreatedAt:    meta.CreatedAt,
		UpdatedAt:    meta.UpdatedAt,
	}
	if carrier, ok := any(e).(embeddingCarrier); ok {
		item.Embedding = carrier.EmbeddingVector()
	}
	return item, nil
}

func (b *base[T, P]) fromItem(item store.Item) (P, error) {
	e := P(new(T))
	if err := json.Unmarshal(item.Doc, e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s document %s: %w", b.family, item.ID, err)
	}
	// Store columns are authoritative for metadata.
	meta := e.Meta()
	meta.ID = item.ID
	meta.Version = item.Version
	meta.IsDeleted = item.IsDeleted
	meta.CreatedAt = item.CreatedAt
	meta.UpdatedAt = item.UpdatedAt
	if carrier, ok := any(e).(embeddingCarrier); ok && len(item.Embedding) > 0 {
		carrier.SetEmbeddingVector(item.Embedding)
	}
	return e, nil
}
