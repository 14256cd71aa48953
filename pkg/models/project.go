package models

import (
	"fmt"

	"github.com/meridianhq/meridian-core/pkg/apperrors"
)

// Project status values.
const (
	ProjectStatusActive   = "active"
	ProjectStatusArchived = "archived"
)

// EntityTypeProject is the fixed third key segment of the project family.
const EntityTypeProject = "project"

// Security classification levels, most to least restrictive.
const (
	ClassificationRestricted   = "restricted"
	ClassificationConfidential = "confidential"
	ClassificationInternal     = "internal"
	ClassificationPublic       = "public"
)

// RAGConfig holds per-project retrieval settings.
type RAGConfig struct {
	ChunkingStrategy   string `json:"chunking_strategy"` // e.g. "fixed", "semantic"
	ChunkSizeTokens    int    `json:"chunk_size_tokens"`
	ChunkOverlapTokens int    `json:"chunk_overlap_tokens"`
	RetrievalTopK      int    `json:"retrieval_top_k"`
	GuardrailsEnabled  bool   `json:"guardrails_enabled"`
	StrictCitations    bool   `json:"strict_citations"`
}

// Project is the top-level workspace an organization's documents, chunks and
// knowledge live under. Keyed on (tenant_id, project_id, entity_type).
type Project struct {
	Metadata

	Name           string    `json:"name"`
	Owner          string    `json:"owner"`
	Status         string    `json:"status"`
	Classification string    `json:"classification"`
	RAG            RAGConfig `json:"rag"`
}

func (p *Project) DocumentID() string { return p.ID }

func (p *Project) PartitionValues() []string {
	return []string{p.TenantID, p.ID, EntityTypeProject}
}

func (p *Project) Meta() *Metadata { return &p.Metadata }

func (p *Project) Validate() error {
	if err := requireIdentifier("tenant_id", p.TenantID); err != nil {
		return err
	}
	if p.ID != "" {
		if err := requireIdentifier("project_id", p.ID); err != nil {
			return err
		}
	}
	if err := requireNonEmpty("name", p.Name); err != nil {
		return err
	}
	if err := requireNonEmpty("owner", p.Owner); err != nil {
		return err
	}
	switch p.Status {
	case "", ProjectStatusActive, ProjectStatusArchived:
	default:
		return fmt.Errorf("status %q: %w", p.Status, apperrors.ErrInvalidIdentity)
	}
	switch p.Classification {
	case "", ClassificationRestricted, ClassificationConfidential, ClassificationInternal, ClassificationPublic:
	default:
		return fmt.Errorf("classification %q: %w", p.Classification, apperrors.ErrInvalidIdentity)
	}
	return nil
}
