// Package proposal parses and validates block-tree proposals produced by
// external (usually AI) collaborators. Proposal content is untrusted.
package proposal

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starford/loom/internal/apperr"
	"github.com/starford/loom/internal/models"
)

// MaxDepth is the number of tree levels an import keeps. Deeper nodes are dropped.
const MaxDepth = 3

// Node is one proposed block with optional children.
type Node struct {
	Title    string   `json:"title" yaml:"title"`
	Content  string   `json:"content,omitempty" yaml:"content"`
	Type     string   `json:"type,omitempty" yaml:"type"`
	Tags     []string `json:"tags,omitempty" yaml:"tags"`
	Children []Node   `json:"children,omitempty" yaml:"children"`
}

// CandidateLink pairs two nodes by their index in the pre-order flattening.
type CandidateLink struct {
	SourceIndex int      `json:"source_index" yaml:"source_index"`
	TargetIndex int      `json:"target_index" yaml:"target_index"`
	Reason      string   `json:"reason,omitempty" yaml:"reason"`
	Confidence  *float64 `json:"confidence,omitempty" yaml:"confidence"`
}

// Proposal is a block tree plus index-paired candidate links.
type Proposal struct {
	DocumentID string          `json:"document_id,omitempty" yaml:"document_id"`
	Blocks     []Node          `json:"blocks" yaml:"blocks"`
	Links      []CandidateLink `json:"links,omitempty" yaml:"links"`
}

// Proposer produces a proposal from raw document text.
type Proposer interface {
	Propose(ctx context.Context, documentID, text string) (*Proposal, error)
}

// Parse decodes a proposal from YAML or JSON (JSON is valid YAML).
func Parse(data []byte) (*Proposal, error) {
	var p Proposal
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, apperr.Invalidf("proposal", "cannot decode: %v", err)
	}
	return &p, nil
}

// Validate checks required fields on every node within MaxDepth. Deeper
// nodes are dropped at import time and are not checked. Link indices are
// not checked either: out-of-range candidates are skipped at import time.
func (p *Proposal) Validate() error {
	if len(p.Blocks) == 0 {
		return apperr.Invalid("blocks", "proposal has no blocks")
	}
	var err error
	Walk(p.Blocks, func(f Flat) bool {
		if err != nil {
			return false
		}
		if f.Depth >= MaxDepth {
			return true
		}
		n := f.Node
		if strings.TrimSpace(n.Title) == "" && strings.TrimSpace(n.Content) == "" {
			err = apperr.Invalidf(fmt.Sprintf("blocks[%d]", f.Index), "node needs a title or content")
			return false
		}
		if n.Type != "" && !models.BlockType(n.Type).Valid() {
			err = apperr.Invalidf(fmt.Sprintf("blocks[%d].type", f.Index), "unknown block type %q", n.Type)
			return false
		}
		return true
	})
	return err
}

// Flat is a node positioned in the pre-order flattening.
type Flat struct {
	Node        *Node
	Index       int
	Depth       int
	ParentIndex int // -1 for roots
}

// Walk visits every node of the forest in pre-order with an explicit stack,
// so input depth cannot exhaust the goroutine stack. Returning false stops
// the walk.
func Walk(roots []Node, visit func(Flat) bool) {
	type frame struct {
		node   *Node
		depth  int
		parent int
	}
	stack := make([]frame, 0, len(roots))
	for i := len(roots) - 1; i >= 0; i-- {
		stack = append(stack, frame{node: &roots[i], parent: -1})
	}
	index := 0
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if !visit(Flat{Node: top.node, Index: index, Depth: top.depth, ParentIndex: top.parent}) {
			return
		}
		self := index
		index++
		for i := len(top.node.Children) - 1; i >= 0; i-- {
			stack = append(stack, frame{node: &top.node.Children[i], depth: top.depth + 1, parent: self})
		}
	}
}

// Count returns the total number of nodes and how many lie within MaxDepth.
func Count(roots []Node) (total, kept int) {
	Walk(roots, func(f Flat) bool {
		total++
		if f.Depth < MaxDepth {
			kept++
		}
		return true
	})
	return total, kept
}

// DepthTag is the tag auto-assigned to imported nodes at each level.
func DepthTag(depth int) string {
	switch depth {
	case 0:
		return "TÍTULO"
	case 1:
		return "CAPÍTULO"
	case 2:
		return "ARTÍCULO"
	}
	return ""
}

// DepthType is the block type used when a node leaves Type empty.
func DepthType(depth int) models.BlockType {
	switch depth {
	case 0:
		return models.BlockTitle
	case 1:
		return models.BlockChapter
	default:
		return models.BlockArticle
	}
}
