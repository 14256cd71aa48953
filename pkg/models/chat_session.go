package models

import (
	"fmt"
	"time"

	"github.com/meridianhq/meridian-core/pkg/apperrors"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is a single turn in a chat session.
type Message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	Timestamp time.Time  `json:"timestamp"`
	Citations []Citation `json:"citations,omitempty"`
}

// Usage accumulates token consumption across a session's turns.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatSession is an ordered conversation owned by one user. Keyed on
// (tenant_id, user_id, session_id).
type ChatSession struct {
	Metadata

	UserID         string    `json:"user_id"`
	Title          string    `json:"title,omitempty"`
	Messages       []Message `json:"messages"`
	Usage          Usage     `json:"usage"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

func (s *ChatSession) DocumentID() string { return s.ID }

func (s *ChatSession) PartitionValues() []string {
	return []string{s.TenantID, s.UserID, s.ID}
}

func (s *ChatSession) Meta() *Metadata { return &s.Metadata }

func (s *ChatSession) Validate() error {
	if err := requireIdentifier("tenant_id", s.TenantID); err != nil {
		return err
	}
	if err := requireIdentifier("user_id", s.UserID); err != nil {
		return err
	}
	if s.ID != "" {
		if err := requireIdentifier("session_id", s.ID); err != nil {
			return err
		}
	}
	for i := range s.Messages {
		if err := s.Messages[i].validate(); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
	}
	return nil
}

func (m *Message) validate() error {
	switch m.Role {
	case RoleUser, RoleAssistant, RoleSystem:
	default:
		return fmt.Errorf("role %q: %w", m.Role, apperrors.ErrInvalidIdentity)
	}
	if m.Content == "" {
		return fmt.Errorf("content is required: %w", apperrors.ErrInvalidIdentity)
	}
	return nil
}
