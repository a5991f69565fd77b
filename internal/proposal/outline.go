package proposal

import (
	"context"
	"regexp"
	"strings"
)

var (
	headingRe  = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*#*\s*$`)
	wikilinkRe = regexp.MustCompile(`\[\[(.*?)\]\]`)
)

// OutlineProposer derives a proposal from Markdown headings without any
// model call: "#" opens a title, "##" a chapter, "###" and deeper an
// article. Text under a heading becomes its content, and [[Heading]]
// references between sections become candidate links.
type OutlineProposer struct{}

// Propose implements Proposer.
func (OutlineProposer) Propose(_ context.Context, documentID, text string) (*Proposal, error) {
	p := Outline(text)
	p.DocumentID = documentID
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Outline builds the heading tree for text.
func Outline(text string) *Proposal {
	type open struct {
		level int
		node  *Node
	}
	var (
		roots []Node
		stack []open
		body  strings.Builder
		cur   *Node
	)
	flush := func() {
		if cur != nil {
			cur.Content = strings.TrimSpace(cur.Content + body.String())
		}
		body.Reset()
	}

	for _, line := range strings.Split(text, "\n") {
		m := headingRe.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			if cur == nil && strings.TrimSpace(line) != "" {
				roots = append(roots, Node{Title: "Preamble"})
				cur = &roots[len(roots)-1]
				stack = []open{{level: 1, node: cur}}
			}
			body.WriteString(line)
			body.WriteByte('\n')
			continue
		}
		flush()

		level := len(m[1])
		if level > MaxDepth {
			level = MaxDepth
		}
		for len(stack) > 0 && stack[len(stack)-1].level >= level {
			stack = stack[:len(stack)-1]
		}
		n := Node{Title: strings.TrimSpace(m[2])}
		if len(stack) == 0 {
			roots = append(roots, n)
			cur = &roots[len(roots)-1]
		} else {
			parent := stack[len(stack)-1].node
			parent.Children = append(parent.Children, n)
			cur = &parent.Children[len(parent.Children)-1]
		}
		stack = append(stack, open{level: level, node: cur})
	}
	flush()

	return &Proposal{Blocks: roots, Links: outlineLinks(roots)}
}

// outlineLinks turns [[Title]] references into candidate links.
func outlineLinks(roots []Node) []CandidateLink {
	byTitle := map[string]int{}
	Walk(roots, func(f Flat) bool {
		key := strings.ToLower(f.Node.Title)
		if _, dup := byTitle[key]; !dup {
			byTitle[key] = f.Index
		}
		return true
	})

	var out []CandidateLink
	Walk(roots, func(f Flat) bool {
		seen := map[int]bool{}
		for _, m := range wikilinkRe.FindAllStringSubmatch(f.Node.Content, -1) {
			target := m[1]
			if i := strings.Index(target, "|"); i >= 0 {
				target = target[:i]
			}
			idx, ok := byTitle[strings.ToLower(strings.TrimSpace(target))]
			if !ok || idx == f.Index || seen[idx] {
				continue
			}
			seen[idx] = true
			out = append(out, CandidateLink{
				SourceIndex: f.Index,
				TargetIndex: idx,
				Reason:      "explicit reference to " + strings.TrimSpace(target),
			})
		}
		return true
	})
	return out
}
