package api

import (
	"github.com/starford/loom/internal/blocks"
	"github.com/starford/loom/internal/links"
	"github.com/starford/loom/internal/models"
	"github.com/starford/loom/internal/sessions"
	"github.com/starford/loom/internal/synthesis"
)

// DocumentRequest registers or refreshes a document in the mirror.
type DocumentRequest struct {
	ProjectID string `json:"project_id" example:"proj-1" validate:"required,max=200"`
	Title     string `json:"title" example:"Civil Code" validate:"max=500"`
}

// CreateBlockRequest is the body of POST /documents/{id}/blocks.
type CreateBlockRequest struct {
	Title         string   `json:"title" example:"ARTÍCULO 1"`
	Content       string   `json:"content" example:"texto"`
	ParentBlockID *string  `json:"parent_block_id,omitempty"`
	BlockType     string   `json:"block_type,omitempty" validate:"omitempty,block_type"`
	Tags          []string `json:"tags,omitempty" validate:"omitempty,max=50,dive,max=100"`
}

func (r CreateBlockRequest) input(documentID string) blocks.CreateInput {
	return blocks.CreateInput{
		DocumentID: documentID,
		Title:      r.Title,
		Content:    r.Content,
		ParentID:   r.ParentBlockID,
		Type:       models.BlockType(r.BlockType),
		Tags:       r.Tags,
	}
}

// UpdateBlockRequest is the body of PATCH /blocks/{id}. Absent fields are kept.
type UpdateBlockRequest struct {
	Title     *string   `json:"title,omitempty"`
	Content   *string   `json:"content,omitempty"`
	BlockType *string   `json:"block_type,omitempty" validate:"omitempty,block_type"`
	Tags      *[]string `json:"tags,omitempty" validate:"omitempty,max=50"`
}

func (r UpdateBlockRequest) input() blocks.UpdateInput {
	in := blocks.UpdateInput{Title: r.Title, Content: r.Content, Tags: r.Tags}
	if r.BlockType != nil {
		t := models.BlockType(*r.BlockType)
		in.Type = &t
	}
	return in
}

// CreateLinkRequest is the body of POST /links.
type CreateLinkRequest struct {
	SourceBlockID    string         `json:"source_block_id" validate:"required"`
	TargetBlockID    *string        `json:"target_block_id,omitempty"`
	TargetDocumentID *string        `json:"target_document_id,omitempty"`
	LinkType         string         `json:"link_type" example:"manual_ref" validate:"required,link_type"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

func (r CreateLinkRequest) input() links.CreateInput {
	return links.CreateInput{
		SourceBlockID:    r.SourceBlockID,
		TargetBlockID:    r.TargetBlockID,
		TargetDocumentID: r.TargetDocumentID,
		Type:             models.LinkType(r.LinkType),
		Metadata:         r.Metadata,
	}
}

// ProposeRequest is the body of POST /documents/{id}/propose.
type ProposeRequest struct {
	Text string `json:"text" validate:"required,max=1000000"`
}

// MergeRequest is the body of POST /merge.
type MergeRequest struct {
	BlockIDs         []string `json:"block_ids" validate:"max=100,dive,required"`
	TargetDocumentID string   `json:"target_document_id" validate:"required"`
	SessionID        string   `json:"session_id,omitempty"`
	Instructions     string   `json:"instructions,omitempty" validate:"max=4000"`
}

func (r MergeRequest) input() synthesis.MergeInput {
	return synthesis.MergeInput{
		BlockIDs:         r.BlockIDs,
		TargetDocumentID: r.TargetDocumentID,
		SessionID:        r.SessionID,
		Instructions:     r.Instructions,
	}
}

// CreateSessionRequest is the body of POST /sessions.
type CreateSessionRequest struct {
	ProjectID         string         `json:"project_id" validate:"required"`
	UserID            string         `json:"user_id" validate:"required"`
	Name              string         `json:"name" validate:"required,max=200"`
	SourceDocumentIDs []string       `json:"source_document_ids,omitempty" validate:"omitempty,dive,required"`
	TargetDocumentID  *string        `json:"target_document_id,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

func (r CreateSessionRequest) input() sessions.CreateInput {
	return sessions.CreateInput{
		ProjectID:         r.ProjectID,
		UserID:            r.UserID,
		Name:              r.Name,
		SourceDocumentIDs: r.SourceDocumentIDs,
		TargetDocumentID:  r.TargetDocumentID,
		Metadata:          r.Metadata,
	}
}

// SessionDocumentsRequest adds source documents to a session.
type SessionDocumentsRequest struct {
	DocumentIDs []string `json:"document_ids" validate:"required,min=1,dive,required"`
}

// SessionTargetRequest sets or clears a session's target document.
type SessionTargetRequest struct {
	DocumentID string `json:"document_id"`
}

// SessionStatusRequest moves a session to a terminal status.
type SessionStatusRequest struct {
	Status string `json:"status" example:"completed" validate:"required,session_status"`
}

// ApprovalRequest records the editor's verdict on an operation.
type ApprovalRequest struct {
	Approved *bool `json:"approved" validate:"required"`
}
