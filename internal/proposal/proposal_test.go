package proposal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/loom/internal/apperr"
)

func TestParseJSONAndYAML(t *testing.T) {
	jsonDoc := []byte(`{"document_id":"d1","blocks":[{"title":"TÍTULO I","children":[{"title":"CAPÍTULO 1"}]}],
		"links":[{"source_index":0,"target_index":1,"reason":"contains","confidence":0.6}]}`)
	p, err := Parse(jsonDoc)
	require.NoError(t, err)
	assert.Equal(t, "d1", p.DocumentID)
	require.Len(t, p.Blocks, 1)
	assert.Equal(t, "CAPÍTULO 1", p.Blocks[0].Children[0].Title)
	require.Len(t, p.Links, 1)
	require.NotNil(t, p.Links[0].Confidence)
	assert.InDelta(t, 0.6, *p.Links[0].Confidence, 1e-9)

	yamlDoc := []byte(`
document_id: d2
blocks:
  - title: Intro
    content: hello
links:
  - source_index: 0
    target_index: 5
`)
	p, err = Parse(yamlDoc)
	require.NoError(t, err)
	assert.Equal(t, "hello", p.Blocks[0].Content)
	assert.Nil(t, p.Links[0].Confidence)

	_, err = Parse([]byte("blocks: [unclosed"))
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestValidate(t *testing.T) {
	assert.ErrorIs(t, (&Proposal{}).Validate(), apperr.ErrValidation)

	empty := &Proposal{Blocks: []Node{{Title: "ok", Children: []Node{{}}}}}
	assert.ErrorIs(t, empty.Validate(), apperr.ErrValidation)

	badType := &Proposal{Blocks: []Node{{Title: "ok", Type: "sonnet"}}}
	assert.ErrorIs(t, badType.Validate(), apperr.ErrValidation)

	good := &Proposal{Blocks: []Node{{Title: "ok", Type: "paragraph"}, {Content: "only content"}}}
	assert.NoError(t, good.Validate())
}

func TestWalkIsPreOrder(t *testing.T) {
	roots := []Node{
		{Title: "A", Children: []Node{
			{Title: "A1", Children: []Node{{Title: "A1a"}}},
			{Title: "A2"},
		}},
		{Title: "B"},
	}
	var titles []string
	var depths, parents []int
	Walk(roots, func(f Flat) bool {
		titles = append(titles, f.Node.Title)
		depths = append(depths, f.Depth)
		parents = append(parents, f.ParentIndex)
		return true
	})
	assert.Equal(t, []string{"A", "A1", "A1a", "A2", "B"}, titles)
	assert.Equal(t, []int{0, 1, 2, 1, 0}, depths)
	assert.Equal(t, []int{-1, 0, 1, 0, -1}, parents)
}

func TestWalkHandlesVeryDeepInput(t *testing.T) {
	root := Node{Title: "0"}
	cur := &root
	for i := 0; i < 10000; i++ {
		cur.Children = []Node{{Title: "n"}}
		cur = &cur.Children[0]
	}
	total, kept := Count([]Node{root})
	assert.Equal(t, 10001, total)
	assert.Equal(t, MaxDepth, kept)
}

func TestDepthTags(t *testing.T) {
	assert.Equal(t, "TÍTULO", DepthTag(0))
	assert.Equal(t, "CAPÍTULO", DepthTag(1))
	assert.Equal(t, "ARTÍCULO", DepthTag(2))
	assert.Equal(t, "", DepthTag(3))
}

func TestOutline(t *testing.T) {
	text := `# TÍTULO I
Opening words.

## CAPÍTULO 1
### ARTÍCULO 1
texto, see [[ARTÍCULO 2]]
### ARTÍCULO 2
more
#### Deep heading
deep text
# TÍTULO II
`
	p := Outline(text)
	require.Len(t, p.Blocks, 2)
	assert.Equal(t, "TÍTULO I", p.Blocks[0].Title)
	assert.Equal(t, "Opening words.", p.Blocks[0].Content)

	chapter := p.Blocks[0].Children[0]
	assert.Equal(t, "CAPÍTULO 1", chapter.Title)
	require.Len(t, chapter.Children, 3)
	assert.Equal(t, "texto, see [[ARTÍCULO 2]]", chapter.Children[0].Content)
	assert.Equal(t, "Deep heading", chapter.Children[2].Title)

	require.Len(t, p.Links, 1)
	assert.Equal(t, 2, p.Links[0].SourceIndex)
	assert.Equal(t, 3, p.Links[0].TargetIndex)
}

func TestOutlineProposerRejectsEmptyText(t *testing.T) {
	_, err := OutlineProposer{}.Propose(context.Background(), "d", "   ")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestOutlinePreamble(t *testing.T) {
	p := Outline("intro text\n## Section\nbody\n")
	require.Len(t, p.Blocks, 1)
	assert.Equal(t, "Preamble", p.Blocks[0].Title)
	assert.Equal(t, "intro text", p.Blocks[0].Content)
	require.Len(t, p.Blocks[0].Children, 1)
	assert.Equal(t, "Section", p.Blocks[0].Children[0].Title)
}

func TestValidateIgnoresNodesBeyondMaxDepth(t *testing.T) {
	p := &Proposal{Blocks: []Node{{
		Title: "a",
		Children: []Node{{
			Title: "b",
			Children: []Node{{
				Title:    "c",
				Children: []Node{{Title: "", Type: "bogus"}},
			}},
		}},
	}}}
	assert.NoError(t, p.Validate())

	p.Blocks[0].Children[0].Children[0].Type = "bogus"
	assert.ErrorIs(t, p.Validate(), apperr.ErrValidation)
}
