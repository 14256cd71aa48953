package models

import (
	"fmt"

	"github.com/meridianhq/meridian-core/pkg/apperrors"
)

// Document processing states. A document is uploaded, picked up for chunking
// and embedding, and ends completed or failed.
const (
	DocumentStatusUploaded   = "uploaded"
	DocumentStatusProcessing = "processing"
	DocumentStatusCompleted  = "completed"
	DocumentStatusFailed     = "failed"
)

// documentTransitions declares the legal status state machine.
var documentTransitions = map[string][]string{
	DocumentStatusUploaded:   {DocumentStatusProcessing},
	DocumentStatusProcessing: {DocumentStatusCompleted, DocumentStatusFailed},
	DocumentStatusCompleted:  {},
	DocumentStatusFailed:     {DocumentStatusProcessing}, // reprocessing after a fix
}

// Document is an uploaded source file. Keyed on
// (tenant_id, project_id, document_id).
type Document struct {
	Metadata

	ProjectID     string   `json:"project_id"`
	FileName      string   `json:"file_name"`
	SizeBytes     int64    `json:"size_bytes"`
	ContentType   string   `json:"content_type"`
	Status        string   `json:"status"`
	FailureReason string   `json:"failure_reason,omitempty"`
	ChunkIDs      []string `json:"chunk_ids,omitempty"`
}

func (d *Document) DocumentID() string { return d.ID }

func (d *Document) PartitionValues() []string {
	return []string{d.TenantID, d.ProjectID, d.ID}
}

func (d *Document) Meta() *Metadata { return &d.Metadata }

// CanTransitionTo reports whether the status state machine permits moving
// from the document's current status to next.
func (d *Document) CanTransitionTo(next string) bool {
	for _, allowed := range documentTransitions[d.Status] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (d *Document) Validate() error {
	if err := requireIdentifier("tenant_id", d.TenantID); err != nil {
		return err
	}
	if err := requireIdentifier("project_id", d.ProjectID); err != nil {
		return err
	}
	if d.ID != "" {
		if err := requireIdentifier("document_id", d.ID); err != nil {
			return err
		}
	}
	if err := requireNonEmpty("file_name", d.FileName); err != nil {
		return err
	}
	if d.SizeBytes < 0 {
		return fmt.Errorf("size_bytes must be non-negative: %w", apperrors.ErrInvalidIdentity)
	}
	switch d.Status {
	case "", DocumentStatusUploaded, DocumentStatusProcessing, DocumentStatusCompleted, DocumentStatusFailed:
	default:
		return fmt.Errorf("status %q: %w", d.Status, apperrors.ErrInvalidIdentity)
	}
	return nil
}
