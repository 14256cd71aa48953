package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/meridianhq/meridian-core/pkg/apperrors"
	"github.com/meridianhq/meridian-core/pkg/query"
	"github.com/meridianhq/meridian-core/pkg/store"
)

// Query renders the validated spec into a single-table SELECT. Scope
// predicates come first on indexed segment columns; secondary filters read
// from the jsonb document with bound parameters.
func (c *Container) Query(ctx context.Context, spec *query.Spec) (store.Page, error) {
	var (
		where []string
		args  []any
	)
	bind := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	for _, s := range spec.Scopes {
		where = append(where, fmt.Sprintf("%s = %s", s.Field, bind(s.Value)))
	}
	if !spec.IncludeDeleted {
		where = append(where, "is_deleted = FALSE")
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

	// Fetch one extra row to decide whether a continuation token is due.
	sql := fmt.Sprintf(
		"SELECT id, partition_key, doc, version, is_deleted, created_at, updated_at FROM %s WHERE %s ORDER BY %s %s, id %s LIMIT %s OFFSET %s",
		c.table, strings.Join(where, " AND "),
		spec.Sort.Field, dir, dir,
		bind(spec.PageSize+1), bind(spec.Offset))

	rows, err := c.pool.Query(ctx, sql, args...)
	if err != nil {
		return store.Page{}, mapError("query", err)
	}
	defer rows.Close()

	var items []store.Item
	for rows.Next() {
		var item store.Item
		if err := rows.Scan(&item.ID, &item.PartitionKey, &item.Doc, &item.Version,
			&item.IsDeleted, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return store.Page{}, mapError("query", err)
		}
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

// renderFilter builds one predicate over the jsonb document. Field names
// were validated by the query builder; values are always bound parameters.
func renderFilter(f query.Filter, bind func(any) string) (string, error) {
	ops := map[query.Op]string{
		query.OpEq:  "=",
		query.OpNeq: "<>",
		query.OpGt:  ">",
		query.OpGte: ">=",
		query.OpLt:  "<",
		query.OpLte: "<=",
	}

	if f.Op == query.OpContains {
		return fmt.Sprintf("doc->>'%s' ILIKE '%%' || %s || '%%'", f.Field, bind(f.Value)), nil
	}
	op, ok := ops[f.Op]
	if !ok {
		return "", fmt.Errorf("unsupported filter operator %q", f.Op)
	}

	switch f.Value.(type) {
	case string:
		return fmt.Sprintf("doc->>'%s' %s %s", f.Field, op, bind(f.Value)), nil
	case bool:
		return fmt.Sprintf("(doc->>'%s')::boolean %s %s", f.Field, op, bind(f.Value)), nil
	case time.Time:
		return fmt.Sprintf("(doc->>'%s')::timestamptz %s %s", f.Field, op, bind(f.Value)), nil
	case int, int32, int64, float32, float64:
		return fmt.Sprintf("(doc->>'%s')::numeric %s %s", f.Field, op, bind(f.Value)), nil
	default:
		return "", fmt.Errorf("unsupported filter value type %T", f.Value)
	}
}

// SimilarSearch ranks items by pgvector cosine distance within the scope.
// Only containers created with a vector column support it.
func (c *Container) SimilarSearch(ctx context.Context, scopes []query.Scope, vector []float32, topK int) ([]store.Item, error) {
	if !c.hasVector {
		return nil, fmt.Errorf("container %s has no embedding column: %w", c.table, apperrors.ErrVectorSearchUnsupported)
	}

	var (
		where []string
		args  []any
	)
	bind := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	for _, s := range scopes {
		where = append(where, fmt.Sprintf("%s = %s", s.Field, bind(s.Value)))
	}
	where = append(where, "is_deleted = FALSE")

	sql := fmt.Sprintf(
		"SELECT id, partition_key, doc, version, is_deleted, created_at, updated_at, embedding FROM %s WHERE %s ORDER BY embedding <=> %s LIMIT %s",
		c.table, strings.Join(where, " AND "),
		bind(pgvector.NewVector(vector)), bind(topK))

	rows, err := c.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError("similar_search", err)
	}
	defer rows.Close()

	var items []store.Item
	for rows.Next() {
		var item store.Item
		var emb pgvector.Vector
		if err := rows.Scan(&item.ID, &item.PartitionKey, &item.Doc, &item.Version,
			&item.IsDeleted, &item.CreatedAt, &item.UpdatedAt, &emb); err != nil {
			return nil, mapError("similar_search", err)
		}
		item.TenantID = tenantFromKey(item.PartitionKey)
		item.Embedding = emb.Slice()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("similar_search", err)
	}
	return items, nil
}
