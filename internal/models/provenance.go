package models

import "time"

// ContributionType describes how a source fed a synthesised block.
type ContributionType string

// Contribution types.
const (
	ContributionMerged     ContributionType = "merged"
	ContributionDerived    ContributionType = "derived"
	ContributionReferenced ContributionType = "referenced"
)

// Valid reports whether t is a known contribution type.
func (t ContributionType) Valid() bool {
	switch t {
	case ContributionMerged, ContributionDerived, ContributionReferenced:
		return true
	}
	return false
}

// BlockProvenance maps a synthesised block back to one of its sources.
type BlockProvenance struct {
	ID                     string           `json:"id"`
	BlockID                string           `json:"block_id"`
	SourceDocumentID       string           `json:"source_document_id"`
	SourceBlockID          *string          `json:"source_block_id"`
	ContributionType       ContributionType `json:"contribution_type"`
	ContributionPercentage float64          `json:"contribution_percentage"`
	ConfidenceScore        float64          `json:"confidence_score"`
	CreatedAt              time.Time        `json:"created_at"`
}

// OperationType is the kind of a synthesis operation.
type OperationType string

// Operation types.
const (
	OperationMerge       OperationType = "merge"
	OperationSplit       OperationType = "split"
	OperationConsolidate OperationType = "consolidate"
)

// Valid reports whether t is a known operation type.
func (t OperationType) Valid() bool {
	switch t {
	case OperationMerge, OperationSplit, OperationConsolidate:
		return true
	}
	return false
}

// SynthesisOperation is an audit-log entry. Only UserApproved may change,
// and only once from nil.
type SynthesisOperation struct {
	ID            string        `json:"id"`
	SessionID     string        `json:"session_id"`
	OperationType OperationType `json:"operation_type"`
	InputBlockIDs []string      `json:"input_block_ids"`
	OutputBlockID string        `json:"output_block_id"`
	AIReasoning   string        `json:"ai_reasoning"`
	UserApproved  *bool         `json:"user_approved"`
	CreatedAt     time.Time     `json:"created_at"`
}
