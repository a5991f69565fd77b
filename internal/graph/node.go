package graph

import (
	"encoding/json"

	"github.com/starford/loom/internal/models"
)

// Node types as they appear on the wire.
const (
	TypeBlock    = "block"
	TypeDocument = "document"
)

// Node is a graph vertex: either a *BlockNode or a *DocumentNode.
type Node interface {
	NodeID() string
	NodeType() string
	node()
}

// BlockNode is a block in scope.
type BlockNode struct {
	Block models.BlockSummary
}

func (n *BlockNode) NodeID() string   { return n.Block.ID }
func (n *BlockNode) NodeType() string { return TypeBlock }
func (*BlockNode) node()              {}

// MarshalJSON renders {id, name, type, group}; blocks group by document.
func (n *BlockNode) MarshalJSON() ([]byte, error) {
	name := n.Block.Title
	if name == "" {
		name = "Untitled block"
	}
	return json.Marshal(wireNode{ID: n.Block.ID, Name: name, Type: TypeBlock, Group: n.Block.DocumentID})
}

// DocumentNode stands in for a source document whose contributing block is
// not itself a node.
type DocumentNode struct {
	Document models.Document
}

func (n *DocumentNode) NodeID() string   { return n.Document.ID }
func (n *DocumentNode) NodeType() string { return TypeDocument }
func (*DocumentNode) node()              {}

// MarshalJSON renders {id, name, type, group}; documents group by themselves.
func (n *DocumentNode) MarshalJSON() ([]byte, error) {
	name := n.Document.Title
	if name == "" {
		name = n.Document.ID
	}
	return json.Marshal(wireNode{ID: n.Document.ID, Name: name, Type: TypeDocument, Group: n.Document.ID})
}

type wireNode struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Type  string `json:"type"`
	Group string `json:"group"`
}

// Edge is a provenance edge from a contributor to the synthesised block.
type Edge struct {
	Source string  `json:"source"`
	Target string  `json:"target"`
	Type   string  `json:"type"`
	Value  float64 `json:"value"`
}

// Graph is the projector's output.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Links []Edge `json:"links"`
}
