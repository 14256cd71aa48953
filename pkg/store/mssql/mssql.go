// Package mssql implements the store contract on SQL Server via
// database/sql and go-mssqldb, for deployments whose managed database is
// Azure SQL rather than PostgreSQL. The layout mirrors the postgres adapter
// (one table per family, document body in an NVARCHAR(MAX) JSON column)
// except that embeddings persist as JSON and vector similarity search is not
// offered.
package mssql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	mssqldb "github.com/microsoft/go-mssqldb"

	"github.com/meridianhq/meridian-core/pkg/apperrors"
	"github.com/meridianhq/meridian-core/pkg/partition"
	"github.com/meridianhq/meridian-core/pkg/query"
	"github.com/meridianhq/meridian-core/pkg/store"
)

// Container is one family's table handle.
type Container struct {
	db       *sql.DB
	family   partition.Family
	table    string
	segments []string
}

// NewContainer creates a handle for family backed by table.
func NewContainer(db *sql.DB, family partition.Family, table string) (*Container, error) {
	segments, err := partition.Segments(family)
	if err != nil {
		return nil, err
	}
	return &Container{db: db, family: family, table: table, segments: segments}, nil
}

var _ store.Container = (*Container)(nil)

func (c *Container) Insert(ctx context.Context, item store.Item) (store.Item, error) {
	values, err := partition.Parse(c.family, item.PartitionKey)
	if err != nil {
		return store.Item{}, err
	}

	cols := []string{"id", "partition_key"}
	cols = append(cols, c.segments...)
	cols = append(cols, "doc", "version", "is_deleted", "created_at", "updated_at", "embedding")

	args := []any{item.ID, item.PartitionKey}
	for _, v := range values {
		args = append(args, v)
	}
	embJSON, err := embeddingJSON(item.Embedding)
	if err != nil {
		return store.Item{}, err
	}
	args = append(args, string(item.Doc), item.Version, item.IsDeleted, item.CreatedAt, item.UpdatedAt, embJSON)

	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("@p%d", i+1)
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		c.table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	if _, err := c.db.ExecContext(ctx, stmt, args...); err != nil {
		return store.Item{}, mapError("insert", err)
	}
	return item, nil
}

func (c *Container) Read(ctx context.Context, partitionKey, id string) (store.Item, error) {
	stmt := fmt.Sprintf(
		"SELECT doc, version, is_deleted, created_at, updated_at, embedding FROM %s WHERE partition_key = @p1 AND id = @p2",
		c.table)

	item := store.Item{ID: id, PartitionKey: partitionKey}
	var doc string
	var embJSON sql.NullString
	err := c.db.QueryRowContext(ctx, stmt, partitionKey, id).Scan(
		&doc, &item.Version, &item.IsDeleted, &item.CreatedAt, &item.UpdatedAt, &embJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Item{}, fmt.Errorf("item %s: %w", id, apperrors.ErrNotFound)
		}
		return store.Item{}, mapError("read", err)
	}
	item.Doc = []byte(doc)
	item.TenantID = tenantFromKey(partitionKey)
	if item.Embedding, err = embeddingFromJSON(embJSON); err != nil {
		return store.Item{}, err
	}
	return item, nil
}

func (c *Container) Replace(ctx context.Context, item store.Item, expectedVersion int64) (store.Item, error) {
	embJSON, err := embeddingJSON(item.Embedding)
	if err != nil {
		return store.Item{}, err
	}

	stmt := fmt.Sprintf(
		"UPDATE %s SET doc = @p3, version = @p4, is_deleted = @p5, updated_at = @p6, embedding = @p7 WHERE partition_key = @p1 AND id = @p2 AND version = @p8",
		c.table)

	res, err := c.db.ExecContext(ctx, stmt,
		item.PartitionKey, item.ID, string(item.Doc), item.Version, item.IsDeleted, item.UpdatedAt, embJSON, expectedVersion)
	if err != nil {
		return store.Item{}, mapError("replace", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return store.Item{}, mapError("replace", err)
	}
	if affected > 0 {
		probe := fmt.Sprintf("SELECT created_at FROM %s WHERE partition_key = @p1 AND id = @p2", c.table)
		if err := c.db.QueryRowContext(ctx, probe, item.PartitionKey, item.ID).Scan(&item.CreatedAt); err != nil {
			return store.Item{}, mapError("replace", err)
		}
		return item, nil
	}

	// No row matched: distinguish a missing item from a lost race.
	var storedVersion int64
	probe := fmt.Sprintf("SELECT version FROM %s WHERE partition_key = @p1 AND id = @p2", c.table)
	err = c.db.QueryRowContext(ctx, probe, item.PartitionKey, item.ID).Scan(&storedVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Item{}, fmt.Errorf("item %s: %w", item.ID, apperrors.ErrNotFound)
	}
	if err != nil {
		return store.Item{}, mapError("replace", err)
	}
	return store.Item{}, fmt.Errorf("item %s stored version %d, expected %d: %w",
		item.ID, storedVersion, expectedVersion, apperrors.ErrVersionConflict)
}

func (c *Container) Delete(ctx context.Context, partitionKey, id string) error {
	stmt := fmt.Sprintf("DELETE FROM %s WHERE partition_key = @p1 AND id = @p2", c.table)
	res, err := c.db.ExecContext(ctx, stmt, partitionKey, id)
	if err != nil {
		return mapError("delete", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return mapError("delete", err)
	}
	if affected == 0 {
		return fmt.Errorf("item %s: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

func (c *Container) Query(ctx context.Context, spec *query.Spec) (store.Page, error) {
	var (
		where []string
		args  []any
	)
	bind := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("@p%d", len(args))
	}

	for _, s := range spec.Scopes {
		where = append(where, fmt.Sprintf("%s = %s", s.Field, bind(s.Value)))
	}
	if !spec.IncludeDeleted {
		where = append(where, "is_deleted = 0")
	}
	for _, f := range spec.Filters {
		clause, err := renderFilter(f, bind)
		if err != nil {
			return store.Page{}, err
		}
		where = append(where, clause)
	}

	dir := "DESC"
	if spec.Sort.Direction == query.Ascending {
		dir = "ASC"
	}

	stmt := fmt.Sprintf(
		"SELECT id, partition_key, doc, version, is_deleted, created_at, updated_at FROM %s WHERE %s ORDER BY %s %s, id %s OFFSET %s ROWS FETCH NEXT %s ROWS ONLY",
		c.table, strings.Join(where, " AND "),
		spec.Sort.Field, dir, dir,
		bind(spec.Offset), bind(spec.PageSize+1))

	rows, err := c.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return store.Page{}, mapError("query", err)
	}
	defer rows.Close()

	var items []store.Item
	for rows.Next() {
		var item store.Item
		var doc string
		if err := rows.Scan(&item.ID, &item.PartitionKey, &doc, &item.Version,
			&item.IsDeleted, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return store.Page{}, mapError("query", err)
		}
		item.Doc = []byte(doc)
		item.TenantID = tenantFromKey(item.PartitionKey)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return store.Page{}, mapError("query", err)
	}

	page := store.Page{}
	if len(items) > spec.PageSize {
		items = items[:spec.PageSize]
		page.Continuation = spec.NextContinuation()
	}
	page.Items = items
	return page, nil
}

func (c *Container) Ping(ctx context.Context) error {
	stmt := fmt.Sprintf("SELECT TOP (1) 1 FROM %s", c.table)
	rows, err := c.db.QueryContext(ctx, stmt)
	if err != nil {
		return mapError("ping", err)
	}
	defer rows.Close()
	return mapError("ping", rows.Err())
}

// renderFilter builds one predicate over the JSON document column using
// JSON_VALUE. Field names were validated by the query builder; values are
// always bound parameters.
func renderFilter(f query.Filter, bind func(any) string) (string, error) {
	ops := map[query.Op]string{
		query.OpEq:  "=",
		query.OpNeq: "<>",
		query.OpGt:  ">",
		query.OpGte: ">=",
		query.OpLt:  "<",
		query.OpLte: "<=",
	}

	path := fmt.Sprintf("JSON_VALUE(doc, '$.%s')", f.Field)

	if f.Op == query.OpContains {
		return fmt.Sprintf("LOWER(%s) LIKE '%%' + LOWER(%s) + '%%'", path, bind(f.Value)), nil
	}
	op, ok := ops[f.Op]
	if !ok {
		return "", fmt.Errorf("unsupported filter operator %q", f.Op)
	}

	switch v := f.Value.(type) {
	case string:
		return fmt.Sprintf("%s %s %s", path, op, bind(v)), nil
	case bool:
		b := "false"
		if v {
			b = "true"
		}
		return fmt.Sprintf("%s %s %s", path, op, bind(b)), nil
	case time.Time:
		return fmt.Sprintf("CAST(%s AS DATETIMEOFFSET) %s %s", path, op, bind(v)), nil
	case int, int32, int64, float32, float64:
		return fmt.Sprintf("CAST(%s AS FLOAT) %s %s", path, op, bind(v)), nil
	default:
		return "", fmt.Errorf("unsupported filter value type %T", f.Value)
	}
}

func tenantFromKey(key string) string {
	if i := strings.Index(key, partition.Delimiter); i > 0 {
		return key[:i]
	}
	return key
}

func embeddingJSON(embedding []float32) (sql.NullString, error) {
	if len(embedding) == 0 {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(embedding)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal embedding: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func embeddingFromJSON(raw sql.NullString) ([]float32, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var embedding []float32
	if err := json.Unmarshal([]byte(raw.String), &embedding); err != nil {
		return nil, fmt.Errorf("failed to unmarshal embedding: %w", err)
	}
	return embedding, nil
}

// mapError translates driver/network failures onto the shared taxonomy.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var sqlErr mssqldb.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Number {
		case 2627, 2601: // primary key / unique index violation
			return fmt.Errorf("%s: %w", op, apperrors.ErrAlreadyExists)
		case 1205: // deadlock victim
			return fmt.Errorf("%s: deadlock: %w", op, apperrors.ErrUnavailable)
		case 10928, 10929, 40501, 40544: // Azure SQL throttling
			return fmt.Errorf("%s: %w", op, &apperrors.ThrottledError{})
		}
		return fmt.Errorf("%s failed: %w", op, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%s: %v: %w", op, netErr, apperrors.ErrUnavailable)
	}
	return fmt.Errorf("%s failed: %w", op, err)
}
