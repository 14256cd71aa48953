package models

import (
	"fmt"

	"github.com/meridianhq/meridian-core/pkg/apperrors"
)

// Chunk is an embedded slice of a document: the vector plus the source text
// it was computed from. Keyed on (tenant_id, project_id, chunk_id), which
// co-locates a project's chunks for retrieval.
type Chunk struct {
	Metadata

	ProjectID        string    `json:"project_id"`
	OwningDocumentID string    `json:"owning_document_id"`
	Embedding        []float32 `json:"-"` // persisted in a vector column, not in the document body
	Excerpt          string    `json:"excerpt"`
	Page             int       `json:"page,omitempty"`
	Offset           int       `json:"offset,omitempty"`
}

func (c *Chunk) DocumentID() string { return c.ID }

func (c *Chunk) PartitionValues() []string {
	return []string{c.TenantID, c.ProjectID, c.ID}
}

func (c *Chunk) Meta() *Metadata { return &c.Metadata }

// EmbeddingVector exposes the vector stored outside the document body.
func (c *Chunk) EmbeddingVector() []float32 { return c.Embedding }

// SetEmbeddingVector restores the vector when loading from the store.
func (c *Chunk) SetEmbeddingVector(v []float32) { c.Embedding = v }

func (c *Chunk) Validate() error {
	if err := requireIdentifier("tenant_id", c.TenantID); err != nil {
		return err
	}
	if err := requireIdentifier("project_id", c.ProjectID); err != nil {
		return err
	}
	if c.ID != "" {
		if err := requireIdentifier("chunk_id", c.ID); err != nil {
			return err
		}
	}
	if err := requireIdentifier("owning_document_id", c.OwningDocumentID); err != nil {
		return err
	}
	if len(c.Embedding) == 0 {
		return fmt.Errorf("embedding is required: %w", apperrors.ErrInvalidIdentity)
	}
	if err := requireNonEmpty("excerpt", c.Excerpt); err != nil {
		return err
	}
	return nil
}
