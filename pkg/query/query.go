// Package query builds the parameterized query specifications executed by
// store adapters. Partition-scoping predicates always come first and are
// exact-equality matches, so the store can route to a single partition;
// every spec carries a tenant predicate by construction. Caller-supplied
// values are never concatenated into query text; adapters bind them as
// parameters, and string values are additionally screened for SQL injection
// patterns before a spec is accepted.
package query

import (
	"fmt"
	"regexp"
	"time"

	libinjection "github.com/corazawaf/libinjection-go"

	"github.com/meridianhq/meridian-core/pkg/apperrors"
	"github.com/meridianhq/meridian-core/pkg/partition"
)

// Page size bounds. Requests above MaxPageSize are clamped, never honored.
const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// Op is a secondary-filter comparison operator.
type Op string

const (
	OpEq       Op = "eq"
	OpNeq      Op = "neq"
	OpGt       Op = "gt"
	OpGte      Op = "gte"
	OpLt       Op = "lt"
	OpLte      Op = "lte"
	OpContains Op = "contains" // case-insensitive substring, string fields only
)

// Direction orders a sort.
type Direction string

const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

// Filter is a secondary predicate on a document field.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Sort orders results by a stamped column.
type Sort struct {
	Field     string
	Direction Direction
}

// Scope is a partition-scoping predicate: always exact equality on one of
// the family's declared key fields.
type Scope struct {
	Field string
	Value string
}

// Request is the caller's query input, validated by Build.
type Request struct {
	TenantID       string
	Scope          []string // further partition fields in shape order, optional prefix
	Filters        []Filter
	Sort           *Sort
	PageSize       int
	Continuation   string
	IncludeDeleted bool
}

// Spec is a validated, structured query. Adapters render it into their own
// SQL dialect with bound parameters.
type Spec struct {
	Family         partition.Family
	Scopes         []Scope
	Filters        []Filter
	Sort           Sort
	PageSize       int
	Offset         int
	IncludeDeleted bool
}

// InjectionError is returned when a string filter value trips the SQL
// injection screen. The fingerprint is libinjection's pattern signature,
// kept for audit logging. Unwraps to ErrInvalidIdentity so callers treat it
// like any other validation failure.
type InjectionError struct {
	Field       string
	Value       string
	Fingerprint string
}

func (e *InjectionError) Error() string {
	return fmt.Sprintf("filter value for %q rejected by injection screen (fingerprint %s): %v",
		e.Field, e.Fingerprint, apperrors.ErrInvalidIdentity)
}

func (e *InjectionError) Unwrap() error { return apperrors.ErrInvalidIdentity }

var fieldNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// sortable lists the columns a spec may order by.
var sortable = map[string]bool{
	"created_at": true,
	"updated_at": true,
}

// Build validates a request into a Spec. The first scope predicate is always
// tenant_id; a request can never produce a query that crosses tenants.
func Build(f partition.Family, req Request) (*Spec, error) {
	segments, err := partition.Segments(f)
	if err != nil {
		return nil, err
	}

	if !partition.ValidIdentifier(req.TenantID) {
		return nil, fmt.Errorf("tenant_id %q: %w", req.TenantID, apperrors.ErrInvalidIdentity)
	}
	if len(req.Scope) > len(segments)-1 {
		return nil, fmt.Errorf("family %s accepts at most %d scope fields, got %d: %w",
			f, len(segments)-1, len(req.Scope), apperrors.ErrPartitionMismatch)
	}

	scopes := []Scope{{Field: segments[0], Value: req.TenantID}}
	for i, v := range req.Scope {
		if !partition.ValidIdentifier(v) {
			return nil, fmt.Errorf("scope field %s %q: %w", segments[i+1], v, apperrors.ErrInvalidIdentity)
		}
		scopes = append(scopes, Scope{Field: segments[i+1], Value: v})
	}

	for _, flt := range req.Filters {
		if err := validateFilter(flt); err != nil {
			return nil, err
		}
	}

	sort := Sort{Field: "created_at", Direction: Descending}
	if req.Sort != nil {
		if !sortable[req.Sort.Field] {
			return nil, fmt.Errorf("cannot sort by %q: %w", req.Sort.Field, apperrors.ErrInvalidIdentity)
		}
		sort.Field = req.Sort.Field
		if req.Sort.Direction == Ascending {
			sort.Direction = Ascending
		}
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	offset := 0
	if req.Continuation != "" {
		offset, err = decodeContinuation(req.Continuation)
		if err != nil {
			return nil, err
		}
	}

	return &Spec{
		Family:         f,
		Scopes:         scopes,
		Filters:        req.Filters,
		Sort:           sort,
		PageSize:       pageSize,
		Offset:         offset,
		IncludeDeleted: req.IncludeDeleted,
	}, nil
}

func validateFilter(f Filter) error {
	if !fieldNameRe.MatchString(f.Field) {
		return fmt.Errorf("filter field %q: %w", f.Field, apperrors.ErrInvalidIdentity)
	}
	switch f.Op {
	case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte:
	case OpContains:
		if _, ok := f.Value.(string); !ok {
			return fmt.Errorf("contains filter on %q requires a string value: %w", f.Field, apperrors.ErrInvalidIdentity)
		}
	default:
		return fmt.Errorf("filter operator %q: %w", f.Op, apperrors.ErrInvalidIdentity)
	}

	switch v := f.Value.(type) {
	case string:
		if isSQLi, fingerprint := libinjection.IsSQLi(v); isSQLi {
			return &InjectionError{Field: f.Field, Value: v, Fingerprint: fingerprint}
		}
	case bool, int, int32, int64, float32, float64, time.Time:
	default:
		return fmt.Errorf("filter value type %T for %q not supported: %w", f.Value, f.Field, apperrors.ErrInvalidIdentity)
	}
	return nil
}

// NextContinuation mints the token for the page following this spec's.
func (s *Spec) NextContinuation() string {
	return encodeContinuation(s.Offset + s.PageSize)
}
