package models

import (
	"encoding/json"
	"time"
)

// LinkType is the kind of a semantic link. The string values are wire tokens.
type LinkType string

// Link types.
const (
	LinkHierarchy          LinkType = "hierarchy"
	LinkManualRef          LinkType = "manual_ref"
	LinkAutoMention        LinkType = "auto_mention"
	LinkTagSimilarity      LinkType = "tag_similarity"
	LinkSemanticSimilarity LinkType = "semantic_similarity"
)

// LinkTypes lists every accepted link_type token.
var LinkTypes = []LinkType{
	LinkHierarchy, LinkManualRef, LinkAutoMention, LinkTagSimilarity, LinkSemanticSimilarity,
}

// Valid reports whether t is a known link type.
func (t LinkType) Valid() bool {
	for _, k := range LinkTypes {
		if t == k {
			return true
		}
	}
	return false
}

// Presentation labels.
const (
	LabelLinkedReference     = "linked reference"
	LabelAutomaticConnection = "automatic connection"
	LabelHierarchy           = "hierarchy"
	LabelSemanticConnection  = "semantic connection"
)

// Label is the caller-facing classification. Curated references and
// inferred connections are traversed the same way; only the label differs.
func (t LinkType) Label() string {
	switch t {
	case LinkManualRef:
		return LabelLinkedReference
	case LinkAutoMention, LinkTagSimilarity:
		return LabelAutomaticConnection
	case LinkHierarchy:
		return LabelHierarchy
	default:
		return LabelSemanticConnection
	}
}

// Curated reports whether links of this type were placed by an editor.
func (t LinkType) Curated() bool {
	return t == LinkManualRef || t == LinkHierarchy
}

// Metadata keys understood by the engine.
const (
	MetaReason     = "reason"
	MetaConfidence = "confidence"
	MetaCommonTags = "common_tags"
)

// SemanticLink is a typed directed edge from a block to a block or a document.
// Exactly one of TargetBlockID and TargetDocumentID is set.
type SemanticLink struct {
	ID               string         `json:"id"`
	SourceBlockID    string         `json:"source_block_id"`
	TargetBlockID    *string        `json:"target_block_id"`
	TargetDocumentID *string        `json:"target_document_id"`
	LinkType         LinkType       `json:"link_type"`
	Metadata         map[string]any `json:"metadata"`
	CreatedAt        time.Time      `json:"created_at"`
}

// Confidence returns the numeric confidence stored in metadata, if any.
func (l *SemanticLink) Confidence() (float64, bool) {
	switch v := l.Metadata[MetaConfidence].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

// Endpoint is the resolved far side of a link.
type Endpoint struct {
	Kind     string        `json:"kind"` // "block" or "document"
	Block    *BlockSummary `json:"block,omitempty"`
	Document *Document     `json:"document,omitempty"`
}

// ResolvedLink is a link together with its opposite endpoint and label.
type ResolvedLink struct {
	SemanticLink
	Label    string   `json:"label"`
	Curated  bool     `json:"curated"`
	Endpoint Endpoint `json:"endpoint"`
}
