package store

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/starford/loom/internal/models"
)

// Reader is the read side shared by DB and Tx.
type Reader interface {
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	GetBlock(ctx context.Context, id string) (*models.Block, error)
	GetBlocks(ctx context.Context, ids []string) ([]models.Block, error)
	ListActiveBlocks(ctx context.Context, documentID string) ([]models.Block, error)
	ProvenanceForBlocks(ctx context.Context, blockIDs []string) ([]models.BlockProvenance, error)
	GetSession(ctx context.Context, id string) (*models.ResearchSession, error)
}

// Writer is the write side used inside a transaction.
type Writer interface {
	Reader
	AllocateOrder(ctx context.Context, documentID string, n int) (int, error)
	InsertBlock(ctx context.Context, b *models.Block) error
	InsertLink(ctx context.Context, l *models.SemanticLink) error
	InsertProvenance(ctx context.Context, p *models.BlockProvenance) error
	InsertOperation(ctx context.Context, op *models.SynthesisOperation) error
}

// Verify *DB and *Tx satisfy Writer at compile time.
var (
	_ Writer = (*DB)(nil)
	_ Writer = (*Tx)(nil)
)

type rowScanner interface {
	Scan(dest ...any) error
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stringArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func encodeJSON(v any, empty string) string {
	if v == nil {
		return empty
	}
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return empty
	}
	return string(b)
}

func decodeStrings(raw string) []string {
	out := []string{}
	_ = json.Unmarshal([]byte(raw), &out)
	if out == nil {
		out = []string{}
	}
	return out
}

func decodeMap(raw string) map[string]any {
	out := map[string]any{}
	_ = json.Unmarshal([]byte(raw), &out)
	if out == nil {
		out = map[string]any{}
	}
	return out
}

func nullable(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}

func ptr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// dedupe returns ids without duplicates, preserving first occurrence order.
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
