package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/meridianhq/meridian-core/pkg/apperrors"
	"github.com/meridianhq/meridian-core/pkg/partition"
	"github.com/meridianhq/meridian-core/pkg/query"
	"github.com/meridianhq/meridian-core/pkg/store"
)

func mustKey(t *testing.T, f partition.Family, fields ...string) string {
	t.Helper()
	key, err := partition.Build(f, fields...)
	if err != nil {
		t.Fatalf("Build(%s, %v): %v", f, fields, err)
	}
	return key
}

func docItem(t *testing.T, tenant, project, id string, doc map[string]any, createdAt time.Time) store.Item {
	t.Helper()
	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal doc: %v", err)
	}
	return store.Item{
		ID:           id,
		PartitionKey: mustKey(t, partition.FamilyDocument, tenant, project, id),
		TenantID:     tenant,
		Doc:          raw,
		Version:      1,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
}

func TestInsertReadDelete(t *testing.T) {
	ctx := context.Background()
	c := NewContainer(partition.FamilyDocument)
	item := docItem(t, "t1", "p1", "d1", map[string]any{"file_name": "a.pdf"}, time.Now().UTC())

	if _, err := c.Insert(ctx, item); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := c.Read(ctx, item.PartitionKey, item.ID)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Version != 1 || got.ID != "d1" {
		t.Errorf("read returned %+v", got)
	}

	if _, err := c.Insert(ctx, item); !errors.Is(err, apperrors.ErrAlreadyExists) {
		t.Errorf("duplicate insert: expected ErrAlreadyExists, got %v", err)
	}

	if err := c.Delete(ctx, item.PartitionKey, item.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := c.Read(ctx, item.PartitionKey, item.ID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("read after delete: expected ErrNotFound, got %v", err)
	}
	if err := c.Delete(ctx, item.PartitionKey, item.ID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("double delete: expected ErrNotFound, got %v", err)
	}
}

func TestReplace_VersionCheck(t *testing.T) {
	ctx := context.Background()
	c := NewContainer(partition.FamilyDocument)
	item := docItem(t, "t1", "p1", "d1", map[string]any{"file_name": "a.pdf"}, time.Now().UTC())
	if _, err := c.Insert(ctx, item); err != nil {
		t.Fatalf("insert: %v", err)
	}

	next := item
	next.Version = 2
	if _, err := c.Replace(ctx, next, 1); err != nil {
		t.Fatalf("replace: %v", err)
	}

	// Stale writer keeps its original expected version and must lose.
	stale := item
	stale.Version = 2
	if _, err := c.Replace(ctx, stale, 1); !errors.Is(err, apperrors.ErrVersionConflict) {
		t.Errorf("stale replace: expected ErrVersionConflict, got %v", err)
	}

	missing := docItem(t, "t1", "p1", "ghost", nil, time.Now().UTC())
	if _, err := c.Replace(ctx, missing, 1); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("replace of absent item: expected ErrNotFound, got %v", err)
	}
}

func TestQuery_ScopesAndSoftDelete(t *testing.T) {
	ctx := context.Background()
	c := NewContainer(partition.FamilyDocument)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	seed := []struct {
		tenant, project, id string
		deleted             bool
	}{
		{"t1", "p1", "d1", false},
		{"t1", "p1", "d2", true},
		{"t1", "p2", "d3", false},
		{"t2", "p1", "d4", false},
	}
	for i, s := range seed {
		item := docItem(t, s.tenant, s.project, s.id, map[string]any{"file_name": s.id + ".pdf"}, base.Add(time.Duration(i)*time.Minute))
		item.IsDeleted = s.deleted
		if _, err := c.Insert(ctx, item); err != nil {
			t.Fatalf("seed %s: %v", s.id, err)
		}
	}

	spec, err := query.Build(partition.FamilyDocument, query.Request{TenantID: "t1"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	page, err := c.Query(ctx, spec)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	// d2 is soft-deleted, d4 belongs to another tenant.
	if len(page.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(page.Items))
	}
	for _, item := range page.Items {
		if item.TenantID != "t1" {
			t.Errorf("item %s leaked from tenant %s", item.ID, item.TenantID)
		}
		if item.IsDeleted {
			t.Errorf("soft-deleted item %s returned by default", item.ID)
		}
	}

	spec, err = query.Build(partition.FamilyDocument, query.Request{TenantID: "t1", IncludeDeleted: true})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	page, err = c.Query(ctx, spec)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(page.Items) != 3 {
		t.Errorf("IncludeDeleted: expected 3 items, got %d", len(page.Items))
	}

	spec, err = query.Build(partition.FamilyDocument, query.Request{TenantID: "t1", Scope: []string{"p1"}})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	page, err = c.Query(ctx, spec)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != "d1" {
		t.Errorf("project scope: expected [d1], got %+v", page.Items)
	}
}

func TestQuery_FiltersAndSort(t *testing.T) {
	ctx := context.Background()
	c := NewContainer(partition.FamilyDocument)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	docs := []map[string]any{
		{"file_name": "alpha.pdf", "status": "completed", "size_bytes": 100},
		{"file_name": "beta.pdf", "status": "failed", "size_bytes": 300},
		{"file_name": "gamma.pdf", "status": "completed", "size_bytes": 200},
	}
	for i, doc := range docs {
		id := fmt.Sprintf("d%d", i+1)
		item := docItem(t, "t1", "p1", id, doc, base.Add(time.Duration(i)*time.Hour))
		if _, err := c.Insert(ctx, item); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}

	spec, err := query.Build(partition.FamilyDocument, query.Request{
		TenantID: "t1",
		Filters:  []query.Filter{{Field: "status", Op: query.OpEq, Value: "completed"}},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	page, err := c.Query(ctx, spec)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(page.Items) != 2 {
		t.Fatalf("status filter: expected 2 items, got %d", len(page.Items))
	}
	// Default sort is created_at desc.
	if page.Items[0].ID != "d3" || page.Items[1].ID != "d1" {
		t.Errorf("expected [d3 d1], got [%s %s]", page.Items[0].ID, page.Items[1].ID)
	}

	spec, err = query.Build(partition.FamilyDocument, query.Request{
		TenantID: "t1",
		Filters:  []query.Filter{{Field: "size_bytes", Op: query.OpGt, Value: 150}},
		Sort:     &query.Sort{Field: "created_at", Direction: query.Ascending},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	page, err = c.Query(ctx, spec)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(page.Items) != 2 || page.Items[0].ID != "d2" || page.Items[1].ID != "d3" {
		t.Errorf("numeric filter asc: got %+v", page.Items)
	}

	spec, err = query.Build(partition.FamilyDocument, query.Request{
		TenantID: "t1",
		Filters:  []query.Filter{{Field: "file_name", Op: query.OpContains, Value: "AMM"}},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	page, err = c.Query(ctx, spec)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != "d3" {
		t.Errorf("contains filter: got %+v", page.Items)
	}
}

func TestQuery_Pagination(t *testing.T) {
	ctx := context.Background()
	c := NewContainer(partition.FamilyDocument)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 7; i++ {
		id := fmt.Sprintf("d%d", i)
		item := docItem(t, "t1", "p1", id, map[string]any{"file_name": id}, base.Add(time.Duration(i)*time.Minute))
		if _, err := c.Insert(ctx, item); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}

	var seen []string
	token := ""
	pages := 0
	for {
		spec, err := query.Build(partition.FamilyDocument, query.Request{
			TenantID:     "t1",
			PageSize:     3,
			Continuation: token,
		})
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		page, err := c.Query(ctx, spec)
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		pages++
		if len(page.Items) > 3 {
			t.Fatalf("page %d exceeds page size: %d items", pages, len(page.Items))
		}
		for _, item := range page.Items {
			seen = append(seen, item.ID)
		}
		if page.Continuation == "" {
			break
		}
		token = page.Continuation
	}

	if pages != 3 {
		t.Errorf("expected 3 pages, got %d", pages)
	}
	if len(seen) != 7 {
		t.Fatalf("expected 7 items across pages, got %d", len(seen))
	}
	unique := make(map[string]bool, len(seen))
	for _, id := range seen {
		if unique[id] {
			t.Errorf("item %s returned twice across pages", id)
		}
		unique[id] = true
	}
}

func TestSimilarSearch(t *testing.T) {
	ctx := context.Background()
	c := NewContainer(partition.FamilyChunk)

	vectors := map[string][]float32{
		"c1": {1, 0, 0},
		"c2": {0.9, 0.1, 0},
		"c3": {0, 1, 0},
	}
	for id, vec := range vectors {
		raw, _ := json.Marshal(map[string]any{"excerpt": id})
		item := store.Item{
			ID:           id,
			PartitionKey: mustKey(t, partition.FamilyChunk, "t1", "p1", id),
			TenantID:     "t1",
			Doc:          raw,
			Version:      1,
			Embedding:    vec,
			CreatedAt:    time.Now().UTC(),
		}
		if _, err := c.Insert(ctx, item); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}
	// A chunk in another project must never rank.
	raw, _ := json.Marshal(map[string]any{"excerpt": "other"})
	other := store.Item{
		ID:           "c9",
		PartitionKey: mustKey(t, partition.FamilyChunk, "t1", "p2", "c9"),
		TenantID:     "t1",
		Doc:          raw,
		Version:      1,
		Embedding:    []float32{1, 0, 0},
		CreatedAt:    time.Now().UTC(),
	}
	if _, err := c.Insert(ctx, other); err != nil {
		t.Fatalf("seed c9: %v", err)
	}

	scopes := []query.Scope{
		{Field: "tenant_id", Value: "t1"},
		{Field: "project_id", Value: "p1"},
	}
	items, err := c.SimilarSearch(ctx, scopes, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("similar search: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].ID != "c1" || items[1].ID != "c2" {
		t.Errorf("expected [c1 c2] by distance, got [%s %s]", items[0].ID, items[1].ID)
	}
}

func TestFailNext(t *testing.T) {
	ctx := context.Background()
	c := NewContainer(partition.FamilyDocument)

	c.FailNext(apperrors.ErrUnavailable, &apperrors.ThrottledError{RetryAfter: time.Millisecond})

	item := docItem(t, "t1", "p1", "d1", nil, time.Now().UTC())
	if _, err := c.Insert(ctx, item); !errors.Is(err, apperrors.ErrUnavailable) {
		t.Errorf("first fault: expected ErrUnavailable, got %v", err)
	}
	var throttled *apperrors.ThrottledError
	if _, err := c.Insert(ctx, item); !errors.As(err, &throttled) {
		t.Errorf("second fault: expected ThrottledError, got %v", err)
	}
	// Faults drained; the operation goes through.
	if _, err := c.Insert(ctx, item); err != nil {
		t.Errorf("after faults drained: %v", err)
	}
}

func TestContextCancellation(t *testing.T) {
	c := NewContainer(partition.FamilyDocument)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.Read(ctx, "t1/p1/d1", "d1"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
