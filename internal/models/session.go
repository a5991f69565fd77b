package models

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// SessionStatus is the lifecycle state of a research session.
type SessionStatus string

// Session statuses. Completed and abandoned are terminal.
const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionAbandoned SessionStatus = "abandoned"
)

// Valid reports whether s is a known status.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionActive, SessionCompleted, SessionAbandoned:
		return true
	}
	return false
}

// CanTransition reports whether a session may move from s to next.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	return s == SessionActive && (next == SessionCompleted || next == SessionAbandoned)
}

// ResearchSession groups source documents and synthesis operations under one goal.
type ResearchSession struct {
	ID                string         `json:"id"`
	ProjectID         string         `json:"project_id"`
	UserID            string         `json:"user_id"`
	Name              string         `json:"name"`
	SourceDocumentIDs []string       `json:"source_document_ids"`
	TargetDocumentID  *string        `json:"target_document_id"`
	Status            SessionStatus  `json:"status"`
	DocumentCount     int            `json:"document_count"`
	Metadata          map[string]any `json:"metadata"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// Validate checks the caller-supplied fields of a new session.
func (s *ResearchSession) Validate() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.ProjectID, validation.Required),
		validation.Field(&s.UserID, validation.Required),
		validation.Field(&s.Name, validation.Required, validation.Length(1, 200)),
	)
}

// Refresh recomputes derived fields.
func (s *ResearchSession) Refresh() {
	if s.SourceDocumentIDs == nil {
		s.SourceDocumentIDs = []string{}
	}
	s.DocumentCount = len(s.SourceDocumentIDs)
}
