package models

import (
	"fmt"

	"github.com/meridianhq/meridian-core/pkg/apperrors"
)

// EntityTypeKnowledge is the fixed second key segment of the knowledge
// article family, keeping articles addressable at tenant scope.
const EntityTypeKnowledge = "knowledge"

// Risk levels assigned by the external classifier.
const (
	RiskLevelLow    = "low"
	RiskLevelMedium = "medium"
	RiskLevelHigh   = "high"
)

// Classification holds the output of the out-of-scope article classifier.
// The data layer stores the contract; it never computes these values.
type Classification struct {
	RegulationType string   `json:"regulation_type,omitempty"`
	RelevanceScore float64  `json:"relevance_score"`
	RiskLevel      string   `json:"risk_level,omitempty"`
	Tags           []string `json:"tags,omitempty"`
}

// KnowledgeArticle is curated reference content. Keyed on
// (tenant_id, entity_type, article_id).
type KnowledgeArticle struct {
	Metadata

	Title          string         `json:"title"`
	Content        string         `json:"content"`
	SecurityLevel  string         `json:"security_level"`
	Classification Classification `json:"classification"`
	Citations      []Citation     `json:"citations,omitempty"`
}

func (a *KnowledgeArticle) DocumentID() string { return a.ID }

func (a *KnowledgeArticle) PartitionValues() []string {
	return []string{a.TenantID, EntityTypeKnowledge, a.ID}
}

func (a *KnowledgeArticle) Meta() *Metadata { return &a.Metadata }

func (a *KnowledgeArticle) Validate() error {
	if err := requireIdentifier("tenant_id", a.TenantID); err != nil {
		return err
	}
	if a.ID != "" {
		if err := requireIdentifier("article_id", a.ID); err != nil {
			return err
		}
	}
	if err := requireNonEmpty("title", a.Title); err != nil {
		return err
	}
	if err := requireNonEmpty("content", a.Content); err != nil {
		return err
	}
	switch a.SecurityLevel {
	case "", ClassificationRestricted, ClassificationConfidential, ClassificationInternal, ClassificationPublic:
	default:
		return fmt.Errorf("security_level %q: %w", a.SecurityLevel, apperrors.ErrInvalidIdentity)
	}
	switch a.Classification.RiskLevel {
	case "", RiskLevelLow, RiskLevelMedium, RiskLevelHigh:
	default:
		return fmt.Errorf("risk_level %q: %w", a.Classification.RiskLevel, apperrors.ErrInvalidIdentity)
	}
	if s := a.Classification.RelevanceScore; s < 0 || s > 1 {
		return fmt.Errorf("relevance_score %v out of range [0,1]: %w", s, apperrors.ErrInvalidIdentity)
	}
	return nil
}
