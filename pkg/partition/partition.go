// Package partition implements the hierarchical partition key convention
// shared by every entity family: two or three identity fields joined in a
// fixed per-family order. The field order and count are frozen for the
// lifetime of the system; the underlying store co-locates data by this key,
// so changing a shape requires a full data migration.
package partition

import (
	"fmt"
	"strings"

	"github.com/meridianhq/meridian-core/pkg/apperrors"
)

// Family identifies an entity family and therefore a partition key shape.
type Family string

const (
	FamilyProject          Family = "project"
	FamilyDocument         Family = "document"
	FamilyChatSession      Family = "chat_session"
	FamilyChunk            Family = "chunk"
	FamilyKnowledgeArticle Family = "knowledge_article"
)

// Delimiter joins key segments. It is outside the identifier charset, which
// makes Build injective for a fixed arity.
const Delimiter = "/"

// MaxSegmentLength bounds a single identity field.
const MaxSegmentLength = 128

// shapes declares the ordered segment names per family. The first segment is
// always tenant_id: every key is tenant-scoped by construction.
var shapes = map[Family][]string{
	FamilyProject:          {"tenant_id", "project_id", "entity_type"},
	FamilyDocument:         {"tenant_id", "project_id", "document_id"},
	FamilyChatSession:      {"tenant_id", "user_id", "session_id"},
	FamilyChunk:            {"tenant_id", "project_id", "chunk_id"},
	FamilyKnowledgeArticle: {"tenant_id", "entity_type", "article_id"},
}

// idIndex locates the entity id within each shape. For most families the id
// is the final segment; the project key ends in a constant entity_type
// marker, so its id sits in the middle.
var idIndex = map[Family]int{
	FamilyProject:          1,
	FamilyDocument:         2,
	FamilyChatSession:      2,
	FamilyChunk:            2,
	FamilyKnowledgeArticle: 2,
}

// IDSegment returns the position of the entity id within the family's
// ordered key fields.
func IDSegment(f Family) (int, error) {
	i, ok := idIndex[f]
	if !ok {
		return 0, fmt.Errorf("unknown entity family %q: %w", f, apperrors.ErrPartitionMismatch)
	}
	return i, nil
}

// Families returns all known families in a stable order.
func Families() []Family {
	return []Family{
		FamilyProject,
		FamilyDocument,
		FamilyChatSession,
		FamilyChunk,
		FamilyKnowledgeArticle,
	}
}

// Segments returns the ordered segment names for a family.
func Segments(f Family) ([]string, error) {
	s, ok := shapes[f]
	if !ok {
		return nil, fmt.Errorf("unknown entity family %q: %w", f, apperrors.ErrPartitionMismatch)
	}
	return s, nil
}

// Arity returns the number of key segments for a family.
func Arity(f Family) (int, error) {
	s, err := Segments(f)
	if err != nil {
		return 0, err
	}
	return len(s), nil
}

// ValidIdentifier reports whether s is a legal identity field: lowercase
// alphanumerics and hyphens, not starting with a hyphen, at most
// MaxSegmentLength bytes.
func ValidIdentifier(s string) bool {
	if s == "" || len(s) > MaxSegmentLength {
		return false
	}
	if s[0] == '-' {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '-' {
			continue
		}
		return false
	}
	return true
}

// Build joins fields into the family's partition key. It is deterministic
// and injective per family: distinct tuples never collide, and the same
// tuple always yields the same key, so idempotent retries re-derive the
// identical key.
func Build(f Family, fields ...string) (string, error) {
	shape, err := Segments(f)
	if err != nil {
		return "", err
	}
	if len(fields) != len(shape) {
		return "", fmt.Errorf("family %s expects %d key fields, got %d: %w",
			f, len(shape), len(fields), apperrors.ErrPartitionMismatch)
	}
	for i, v := range fields {
		if !ValidIdentifier(v) {
			return "", fmt.Errorf("field %s %q: %w", shape[i], v, apperrors.ErrInvalidIdentity)
		}
	}
	return strings.Join(fields, Delimiter), nil
}

// Parse is the exact inverse of Build for the same family. A key built under
// a different family shape fails with ErrMalformedKey.
func Parse(f Family, key string) ([]string, error) {
	shape, err := Segments(f)
	if err != nil {
		return nil, err
	}
	if key == "" {
		return nil, fmt.Errorf("empty key for family %s: %w", f, apperrors.ErrMalformedKey)
	}
	parts := strings.Split(key, Delimiter)
	if len(parts) != len(shape) {
		return nil, fmt.Errorf("key %q has %d segments, family %s expects %d: %w",
			key, len(parts), f, len(shape), apperrors.ErrMalformedKey)
	}
	for i, v := range parts {
		if !ValidIdentifier(v) {
			return nil, fmt.Errorf("segment %s %q: %w", shape[i], v, apperrors.ErrMalformedKey)
		}
	}
	return parts, nil
}
