package synthesis

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/starford/loom/internal/models"
)

// Request is what a synthesizer receives: the live source blocks in the
// order the caller listed them.
type Request struct {
	Sources          []models.Block
	TargetDocumentID string
	Instructions     string
}

// Result is the collaborator's answer. ContributionPercentages is aligned
// with Request.Sources and may be shorter or empty. The result is untrusted
// and validated before anything is written.
type Result struct {
	Title                   string    `json:"title"`
	Content                 string    `json:"content"`
	Citations               []string  `json:"citations"`
	ContributionPercentages []float64 `json:"contribution_percentages"`
	Reasoning               string    `json:"reasoning"`
}

// Synthesizer merges source blocks into new content.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) (*Result, error)
}

// ConcatSynthesizer is the offline synthesizer. It stitches sources together
// under their titles and weights each by its share of the total content length.
type ConcatSynthesizer struct{}

// Synthesize implements Synthesizer.
func (ConcatSynthesizer) Synthesize(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(req.Sources) == 0 {
		return nil, fmt.Errorf("concat synthesizer: no sources")
	}

	titles := make([]string, 0, len(req.Sources))
	citations := make([]string, 0, len(req.Sources))
	lengths := make([]int, len(req.Sources))
	var body strings.Builder
	for i, src := range req.Sources {
		title := strings.TrimSpace(src.Title)
		if title == "" {
			title = "Untitled"
		}
		titles = append(titles, title)
		citations = append(citations, src.ID)
		lengths[i] = utf8.RuneCountInString(src.Content)

		if i > 0 {
			body.WriteString("\n\n")
		}
		body.WriteString("## ")
		body.WriteString(title)
		body.WriteString("\n\n")
		body.WriteString(strings.TrimSpace(src.Content))
	}

	return &Result{
		Title:                   "Synthesis: " + strings.Join(titles, " + "),
		Content:                 body.String(),
		Citations:               citations,
		ContributionPercentages: Weights(lengths),
		Reasoning:               fmt.Sprintf("concatenated %d sources, weighted by content length", len(req.Sources)),
	}, nil
}

// Weights turns sizes into percentages that sum to exactly 100, rounded to
// two decimals. All-zero sizes share equally.
func Weights(sizes []int) []float64 {
	if len(sizes) == 0 {
		return nil
	}
	total := 0
	for _, n := range sizes {
		total += n
	}
	out := make([]float64, len(sizes))
	sum := 0.0
	for i, n := range sizes {
		var pct float64
		if total == 0 {
			pct = 100 / float64(len(sizes))
		} else {
			pct = 100 * float64(n) / float64(total)
		}
		if i == len(sizes)-1 {
			pct = max(100-sum, 0)
		}
		out[i] = math.Round(pct*100) / 100
		sum += out[i]
	}
	return out
}
