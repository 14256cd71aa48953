// Package postgres implements the store contract on PostgreSQL via pgx.
// Each family maps to one table whose columns mirror the partition key
// segments; the entity body lives in a jsonb column, and vector-bearing
// families add a pgvector column for similarity search.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/meridianhq/meridian-core/pkg/apperrors"
	"github.com/meridianhq/meridian-core/pkg/partition"
	"github.com/meridianhq/meridian-core/pkg/store"
)

// Container is one family's table handle.
type Container struct {
	pool      *pgxpool.Pool
	family    partition.Family
	table     string
	segments  []string // partition key segment columns, in shape order
	hasVector bool
}

// NewContainer creates a handle for family backed by table. The table's
// segment columns must match the family's declared shape.
func NewContainer(pool *pgxpool.Pool, family partition.Family, table string, hasVector bool) (*Container, error) {
	segments, err := partition.Segments(family)
	if err != nil {
		return nil, err
	}
	return &Container{
		pool:      pool,
		family:    family,
		table:     table,
		segments:  segments,
		hasVector: hasVector,
	}, nil
}

var _ store.Container = (*Container)(nil)
var _ store.VectorSearcher = (*Container)(nil)

func (c *Container) Insert(ctx context.Context, item store.Item) (store.Item, error) {
	values, err := partition.Parse(c.family, item.PartitionKey)
	if err != nil {
		return store.Item{}, err
	}

	cols := []string{"id", "partition_key"}
	cols = append(cols, c.segments...)
	cols = append(cols, "doc", "version", "is_deleted", "created_at", "updated_at")

	args := []any{item.ID, item.PartitionKey}
	for _, v := range values {
		args = append(args, v)
	}
	args = append(args, item.Doc, item.Version, item.IsDeleted, item.CreatedAt, item.UpdatedAt)

	if c.hasVector {
		cols = append(cols, "embedding")
		args = append(args, pgvector.NewVector(item.Embedding))
	}

	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		c.table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	if _, err := c.pool.Exec(ctx, sql, args...); err != nil {
		return store.Item{}, mapError("insert", err)
	}
	return item, nil
}

func (c *Container) Read(ctx context.Context, partitionKey, id string) (store.Item, error) {
	cols := "doc, version, is_deleted, created_at, updated_at"
	if c.hasVector {
		cols += ", embedding"
	}
	sql := fmt.Sprintf(
		"SELECT %s FROM %s WHERE partition_key = $1 AND id = $2", cols, c.table)

	item := store.Item{ID: id, PartitionKey: partitionKey}
	dest := []any{&item.Doc, &item.Version, &item.IsDeleted, &item.CreatedAt, &item.UpdatedAt}
	var emb pgvector.Vector
	if c.hasVector {
		dest = append(dest, &emb)
	}
	err := c.pool.QueryRow(ctx, sql, partitionKey, id).Scan(dest...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Item{}, fmt.Errorf("item %s: %w", id, apperrors.ErrNotFound)
		}
		return store.Item{}, mapError("read", err)
	}
	if c.hasVector {
		item.Embedding = emb.Slice()
	}
	item.TenantID = tenantFromKey(partitionKey)
	return item, nil
}

func (c *Container) Replace(ctx context.Context, item store.Item, expectedVersion int64) (store.Item, error) {
	set := "doc = $3, version = $4, is_deleted = $5, updated_at = $6"
	args := []any{item.PartitionKey, item.ID, item.Doc, item.Version, item.IsDeleted, item.UpdatedAt}
	if c.hasVector {
		set += ", embedding = $7"
		args = append(args, pgvector.NewVector(item.Embedding))
	}
	args = append(args, expectedVersion)

	sql := fmt.Sprintf(
		"UPDATE %s SET %s WHERE partition_key = $1 AND id = $2 AND version = $%d RETURNING created_at",
		c.table, set, len(args))

	err := c.pool.QueryRow(ctx, sql, args...).Scan(&item.CreatedAt)
	if err == nil {
		return item, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return store.Item{}, mapError("replace", err)
	}

	// No row matched: distinguish a missing item from a lost race.
	var storedVersion int64
	probe := fmt.Sprintf("SELECT version FROM %s WHERE partition_key = $1 AND id = $2", c.table)
	err = c.pool.QueryRow(ctx, probe, item.PartitionKey, item.ID).Scan(&storedVersion)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Item{}, fmt.Errorf("item %s: %w", item.ID, apperrors.ErrNotFound)
	}
	if err != nil {
		return store.Item{}, mapError("replace", err)
	}
	return store.Item{}, fmt.Errorf("item %s stored version %d, expected %d: %w",
		item.ID, storedVersion, expectedVersion, apperrors.ErrVersionConflict)
}

func (c *Container) Delete(ctx context.Context, partitionKey, id string) error {
	sql := fmt.Sprintf("DELETE FROM %s WHERE partition_key = $1 AND id = $2", c.table)
	tag, err := c.pool.Exec(ctx, sql, partitionKey, id)
	if err != nil {
		return mapError("delete", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("item %s: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

func (c *Container) Ping(ctx context.Context) error {
	sql := fmt.Sprintf("SELECT 1 FROM %s LIMIT 1", c.table)
	rows, err := c.pool.Query(ctx, sql)
	if err != nil {
		return mapError("ping", err)
	}
	rows.Close()
	return mapError("ping", rows.Err())
}

func tenantFromKey(key string) string {
	if i := strings.Index(key, partition.Delimiter); i > 0 {
		return key[:i]
	}
	return key
}

// mapError translates pgx/network failures onto the shared taxonomy so the
// retry executor can classify them.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505": // unique_violation
			return fmt.Errorf("%s: %w", op, apperrors.ErrAlreadyExists)
		case pgErr.Code == "40001", pgErr.Code == "40P01": // serialization, deadlock
			return fmt.Errorf("%s: %s: %w", op, pgErr.Code, apperrors.ErrUnavailable)
		case strings.HasPrefix(pgErr.Code, "08"): // connection failures
			return fmt.Errorf("%s: %s: %w", op, pgErr.Code, apperrors.ErrUnavailable)
		case strings.HasPrefix(pgErr.Code, "53"): // insufficient resources
			return fmt.Errorf("%s: %s: %w", op, pgErr.Code, apperrors.ErrUnavailable)
		}
		return fmt.Errorf("%s failed: %w", op, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%s: %v: %w", op, netErr, apperrors.ErrUnavailable)
	}
	if pgconn.SafeToRetry(err) {
		return fmt.Errorf("%s: %v: %w", op, err, apperrors.ErrUnavailable)
	}
	return fmt.Errorf("%s failed: %w", op, err)
}
