// Package models defines the persisted records of the block and provenance engine.
package models

import (
	"sort"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// BlockType classifies a block within its document.
type BlockType string

// Block types. Title, chapter and article mirror the three import levels.
const (
	BlockTitle     BlockType = "title"
	BlockChapter   BlockType = "chapter"
	BlockArticle   BlockType = "article"
	BlockSection   BlockType = "section"
	BlockParagraph BlockType = "paragraph"
	BlockNote      BlockType = "note"
	BlockSynthesis BlockType = "synthesis"
)

// BlockTypes lists every accepted block_type token.
var BlockTypes = []BlockType{
	BlockTitle, BlockChapter, BlockArticle, BlockSection, BlockParagraph, BlockNote, BlockSynthesis,
}

// Valid reports whether t is a known block type.
func (t BlockType) Valid() bool {
	for _, k := range BlockTypes {
		if t == k {
			return true
		}
	}
	return false
}

// Block is a hierarchically organised content unit inside a document.
type Block struct {
	ID            string    `json:"id"`
	DocumentID    string    `json:"document_id"`
	Title         string    `json:"title"`
	Content       string    `json:"content"`
	OrderIndex    int       `json:"order_index"`
	ParentBlockID *string   `json:"parent_block_id"`
	BlockType     BlockType `json:"block_type"`
	Tags          []string  `json:"tags"`
	IsDeleted     bool      `json:"is_deleted"`
	LastEditedAt  time.Time `json:"last_edited_at"`
}

// Validate checks the fields a caller must supply before a block is written.
func (b *Block) Validate() error {
	return validation.ValidateStruct(b,
		validation.Field(&b.DocumentID, validation.Required),
		validation.Field(&b.BlockType, validation.Required, validation.By(func(v any) error {
			if t, _ := v.(BlockType); !t.Valid() {
				return validation.NewError("validation_block_type", "unknown block type")
			}
			return nil
		})),
		validation.Field(&b.OrderIndex, validation.Min(0)),
	)
}

// BlockSummary is the lightweight projection of a block used when resolving
// the far endpoint of a link.
type BlockSummary struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Title      string    `json:"title"`
	BlockType  BlockType `json:"block_type"`
	IsDeleted  bool      `json:"is_deleted"`
}

// Summary returns the lightweight view of b.
func (b *Block) Summary() BlockSummary {
	return BlockSummary{
		ID:         b.ID,
		DocumentID: b.DocumentID,
		Title:      b.Title,
		BlockType:  b.BlockType,
		IsDeleted:  b.IsDeleted,
	}
}

// NormalizeTags trims, deduplicates and sorts tags. The result is never nil.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Document is the core's read-only mirror of a document owned by the
// document/project collaborator.
type Document struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updated_at"`
}
