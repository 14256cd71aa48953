// Package models contains the entity families stored by the data layer.
//
// Every entity embeds Metadata and implements Entity. Partition key fields
// are immutable after creation; one key segment carries the entity id
// (partition.IDSegment says which), unique within its partition. Validation
// happens at the repository boundary before any network call.
package models

import (
	"fmt"
	"time"

	"github.com/meridianhq/meridian-core/pkg/apperrors"
	"github.com/meridianhq/meridian-core/pkg/partition"
)

// Metadata carries the fields every stored document shares.
type Metadata struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
	IsDeleted bool      `json:"is_deleted,omitempty"`
}

// Entity is implemented by pointer types of every family.
type Entity interface {
	// DocumentID returns the id unique within the entity's partition. It is
	// always the final partition key segment.
	DocumentID() string
	// PartitionValues returns the ordered key fields matching the family's
	// declared shape.
	PartitionValues() []string
	// Meta exposes the embedded metadata for stamping by the repository.
	Meta() *Metadata
	// Validate checks required fields and identity charsets.
	Validate() error
}

// Citation references source material backing a message or article claim.
type Citation struct {
	Reference string `json:"reference"`
	Context   string `json:"context,omitempty"`
}

func requireIdentifier(field, value string) error {
	if !partition.ValidIdentifier(value) {
		return fmt.Errorf("%s %q: %w", field, value, apperrors.ErrInvalidIdentity)
	}
	return nil
}

func requireNonEmpty(field, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required: %w", field, apperrors.ErrInvalidIdentity)
	}
	return nil
}
