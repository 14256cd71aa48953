package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/meridianhq/meridian-core/pkg/partition"
	"github.com/meridianhq/meridian-core/pkg/store"
	mssqlstore "github.com/meridianhq/meridian-core/pkg/store/mssql"
	pgstore "github.com/meridianhq/meridian-core/pkg/store/postgres"
)

// TablePrefix namespaces the data layer's tables.
const TablePrefix = "core_"

// TableName derives a family's table name, e.g. chat_session ->
// core_chat_sessions.
func TableName(f partition.Family) string {
	return TablePrefix + inflection.Plural(string(f))
}

// ContainerFactory resolves one family's storage handle.
type ContainerFactory func(f partition.Family) (store.Container, error)

// Registry owns the per-family container handles. It is constructed once at
// process start and injected into every repository. Handles are resolved
// lazily and memoized; resolution is safe under concurrent first use
// (exactly one handle per family is ever created).
type Registry struct {
	factory ContainerFactory
	logger  *zap.Logger

	mu         sync.RWMutex
	containers map[partition.Family]store.Container
}

// NewRegistry creates a registry around a container factory.
func NewRegistry(factory ContainerFactory, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		factory:    factory,
		logger:     logger,
		containers: make(map[partition.Family]store.Container),
	}
}

// NewPostgresRegistry creates a registry whose containers run on the shared
// pgx pool. The chunk family's container carries the pgvector column.
func NewPostgresRegistry(db *DB, logger *zap.Logger) *Registry {
	return NewRegistry(func(f partition.Family) (store.Container, error) {
		return pgstore.NewContainer(db.Pool, f, TableName(f), f == partition.FamilyChunk)
	}, logger)
}

// NewSQLServerRegistry creates a registry whose containers run on SQL
// Server. Vector similarity search is unavailable on this backend.
func NewSQLServerRegistry(db *sql.DB, logger *zap.Logger) *Registry {
	return NewRegistry(func(f partition.Family) (store.Container, error) {
		return mssqlstore.NewContainer(db, f, TableName(f))
	}, logger)
}

// Container returns the family's handle, resolving it on first use.
func (r *Registry) Container(f partition.Family) (store.Container, error) {
	r.mu.RLock()
	c, ok := r.containers[f]
	r.mu.RUnlock()
	if ok {
		return c, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Double-checked: another caller may have resolved it while we waited.
	if c, ok := r.containers[f]; ok {
		return c, nil
	}

	c, err := r.factory(f)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve container for family %s: %w", f, err)
	}
	r.containers[f] = c
	r.logger.Debug("resolved container handle", zap.String("family", string(f)))
	return c, nil
}

// FamilyHealth is one family's probe outcome.
type FamilyHealth struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// Health is the aggregate outcome of probing every known family.
type Health struct {
	Healthy  bool                              `json:"healthy"`
	Families map[partition.Family]FamilyHealth `json:"families"`
}

// HealthCheck performs a lightweight round-trip per known family. Used by
// liveness probes; a single unhealthy family marks the aggregate unhealthy.
func (r *Registry) HealthCheck(ctx context.Context) Health {
	h := Health{Healthy: true, Families: make(map[partition.Family]FamilyHealth)}
	for _, f := range partition.Families() {
		c, err := r.Container(f)
		if err == nil {
			err = c.Ping(ctx)
		}
		if err != nil {
			h.Healthy = false
			h.Families[f] = FamilyHealth{Error: err.Error()}
			r.logger.Warn("family health probe failed", zap.String("family", string(f)), zap.Error(err))
			continue
		}
		h.Families[f] = FamilyHealth{Healthy: true}
	}
	return h
}
