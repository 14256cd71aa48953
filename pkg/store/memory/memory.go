// Package memory is an in-process Container implementation honoring the full
// store contract: id+key uniqueness, version-checked replace, scope-first
// queries, soft-delete filtering, and continuation tokens. It backs the
// repository unit tests and can inject faults to exercise the retry path.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/meridianhq/meridian-core/pkg/apperrors"
	"github.com/meridianhq/meridian-core/pkg/partition"
	"github.com/meridianhq/meridian-core/pkg/query"
	"github.com/meridianhq/meridian-core/pkg/store"
)

// Container stores one family's items in memory. Safe for concurrent use.
type Container struct {
	family partition.Family

	mu    sync.Mutex
	items map[string]store.Item
	queue []error // injected faults, consumed one per operation
}

// NewContainer creates an empty container for a family.
func NewContainer(family partition.Family) *Container {
	return &Container{
		family: family,
		items:  make(map[string]store.Item),
	}
}

var _ store.Container = (*Container)(nil)
var _ store.VectorSearcher = (*Container)(nil)

// FailNext queues errs to be returned, in order, by the next operations
// before they touch stored data.
func (c *Container) FailNext(errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, errs...)
}

// Len reports the number of stored items, including soft-deleted ones.
func (c *Container) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *Container) nextFault() error {
	if len(c.queue) == 0 {
		return nil
	}
	err := c.queue[0]
	c.queue = c.queue[1:]
	return err
}

func itemKey(partitionKey, id string) string {
	return partitionKey + "\x00" + id
}

func (c *Container) Insert(ctx context.Context, item store.Item) (store.Item, error) {
	if err := ctx.Err(); err != nil {
		return store.Item{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.nextFault(); err != nil {
		return store.Item{}, err
	}

	key := itemKey(item.PartitionKey, item.ID)
	if _, exists := c.items[key]; exists {
		return store.Item{}, fmt.Errorf("item %s: %w", item.ID, apperrors.ErrAlreadyExists)
	}
	c.items[key] = cloneItem(item)
	return cloneItem(item), nil
}

func (c *Container) Read(ctx context.Context, partitionKey, id string) (store.Item, error) {
	if err := ctx.Err(); err != nil {
		return store.Item{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.nextFault(); err != nil {
		return store.Item{}, err
	}

	item, ok := c.items[itemKey(partitionKey, id)]
	if !ok {
		return store.Item{}, fmt.Errorf("item %s: %w", id, apperrors.ErrNotFound)
	}
	return cloneItem(item), nil
}

func (c *Container) Replace(ctx context.Context, item store.Item, expectedVersion int64) (store.Item, error) {
	if err := ctx.Err(); err != nil {
		return store.Item{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.nextFault(); err != nil {
		return store.Item{}, err
	}

	key := itemKey(item.PartitionKey, item.ID)
	stored, ok := c.items[key]
	if !ok {
		return store.Item{}, fmt.Errorf("item %s: %w", item.ID, apperrors.ErrNotFound)
	}
	if stored.Version != expectedVersion {
		return store.Item{}, fmt.Errorf("item %s stored version %d, expected %d: %w",
			item.ID, stored.Version, expectedVersion, apperrors.ErrVersionConflict)
	}
	c.items[key] = cloneItem(item)
	return cloneItem(item), nil
}

func (c *Container) Delete(ctx context.Context, partitionKey, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.nextFault(); err != nil {
		return err
	}

	key := itemKey(partitionKey, id)
	if _, ok := c.items[key]; !ok {
		return fmt.Errorf("item %s: %w", id, apperrors.ErrNotFound)
	}
	delete(c.items, key)
	return nil
}

func (c *Container) Query(ctx context.Context, spec *query.Spec) (store.Page, error) {
	if err := ctx.Err(); err != nil {
		return store.Page{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.nextFault(); err != nil {
		return store.Page{}, err
	}

	segments, err := partition.Segments(c.family)
	if err != nil {
		return store.Page{}, err
	}

	var matched []store.Item
	for _, item := range c.items {
		ok, err := c.matches(segments, spec, item)
		if err != nil {
			return store.Page{}, err
		}
		if ok {
			matched = append(matched, cloneItem(item))
		}
	}

	sortItems(matched, spec.Sort)

	if spec.Offset >= len(matched) {
		return store.Page{}, nil
	}
	matched = matched[spec.Offset:]

	page := store.Page{}
	if len(matched) > spec.PageSize {
		matched = matched[:spec.PageSize]
		page.Continuation = spec.NextContinuation()
	}
	page.Items = matched
	return page, nil
}

func (c *Container) Ping(ctx context.Context) error {
	return ctx.Err()
}

// SimilarSearch ranks items in the given scope by cosine distance to vector.
func (c *Container) SimilarSearch(ctx context.Context, scopes []query.Scope, vector []float32, topK int) ([]store.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.nextFault(); err != nil {
		return nil, err
	}

	segments, err := partition.Segments(c.family)
	if err != nil {
		return nil, err
	}

	type scored struct {
		item store.Item
		dist float64
	}
	var candidates []scored
	for _, item := range c.items {
		if item.IsDeleted || len(item.Embedding) != len(vector) {
			continue
		}
		if !scopesMatch(segments, scopes, item.PartitionKey) {
			continue
		}
		candidates = append(candidates, scored{cloneItem(item), cosineDistance(item.Embedding, vector)})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].dist != candidates[j].dist {
			return candidates[i].dist < candidates[j].dist
		}
		return candidates[i].item.ID < candidates[j].item.ID
	})
	if topK < len(candidates) {
		candidates = candidates[:topK]
	}
	items := make([]store.Item, 0, len(candidates))
	for _, s := range candidates {
		items = append(items, s.item)
	}
	return items, nil
}

func (c *Container) matches(segments []string, spec *query.Spec, item store.Item) (bool, error) {
	if item.IsDeleted && !spec.IncludeDeleted {
		return false, nil
	}
	if !scopesMatch(segments, spec.Scopes, item.PartitionKey) {
		return false, nil
	}
	if len(spec.Filters) == 0 {
		return true, nil
	}

	var doc map[string]any
	if err := json.Unmarshal(item.Doc, &doc); err != nil {
		return false, fmt.Errorf("failed to decode stored document %s: %w", item.ID, err)
	}
	for _, f := range spec.Filters {
		ok, err := evalFilter(doc, f)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func scopesMatch(segments []string, scopes []query.Scope, key string) bool {
	parts := strings.Split(key, partition.Delimiter)
	if len(parts) != len(segments) {
		return false
	}
	for _, s := range scopes {
		idx := -1
		for i, name := range segments {
			if name == s.Field {
				idx = i
				break
			}
		}
		if idx == -1 || parts[idx] != s.Value {
			return false
		}
	}
	return true
}

func sortItems(items []store.Item, s query.Sort) {
	stamp := func(it store.Item) time.Time {
		if s.Field == "updated_at" {
			return it.UpdatedAt
		}
		return it.CreatedAt
	}
	sort.Slice(items, func(i, j int) bool {
		a, b := stamp(items[i]), stamp(items[j])
		if !a.Equal(b) {
			if s.Direction == query.Ascending {
				return a.Before(b)
			}
			return a.After(b)
		}
		return items[i].ID < items[j].ID
	})
}

func cloneItem(item store.Item) store.Item {
	out := item
	out.Doc = append([]byte(nil), item.Doc...)
	out.Embedding = append([]float32(nil), item.Embedding...)
	return out
}

func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
