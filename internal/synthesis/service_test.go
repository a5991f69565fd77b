package synthesis

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/loom/internal/apperr"
	"github.com/starford/loom/internal/models"
	"github.com/starford/loom/internal/store"
	"github.com/starford/loom/internal/testutil"
)

type fixedSynth struct {
	res *Result
	err error
}

func (f fixedSynth) Synthesize(context.Context, Request) (*Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := *f.res
	return &out, nil
}

// brokenLedger lets block inserts through but fails every provenance write.
type brokenLedger struct {
	*store.DB
}

func (b brokenLedger) Atomic(ctx context.Context, fn func(w store.Writer) error) error {
	return b.DB.Atomic(ctx, func(w store.Writer) error { return fn(ledgerWriter{w}) })
}

type ledgerWriter struct {
	store.Writer
}

func (ledgerWriter) InsertProvenance(context.Context, *models.BlockProvenance) error {
	return errors.New("disk full")
}

type fixture struct {
	db     *store.DB
	b1, b2 *models.Block
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := testutil.TestDB(t)
	testutil.Document(t, db, "docA", "proj")
	testutil.Document(t, db, "src", "proj")
	return fixture{
		db: db,
		b1: testutil.Block(t, db, "src", "b1"),
		b2: testutil.Block(t, db, "src", "b2"),
	}
}

func (f fixture) rows(t *testing.T) (blocks int, provenance int) {
	t.Helper()
	ctx := context.Background()
	n, err := f.db.CountBlocks(ctx, "docA")
	require.NoError(t, err)
	live, err := f.db.ListActiveBlocks(ctx, "docA")
	require.NoError(t, err)
	ids := make([]string, len(live))
	for i, b := range live {
		ids[i] = b.ID
	}
	prov, err := f.db.ProvenanceForBlocks(ctx, ids)
	require.NoError(t, err)
	return n, len(prov)
}

func TestMergeSeventyThirty(t *testing.T) {
	f := newFixture(t)
	synth := fixedSynth{res: &Result{Title: "merged", Content: "both", ContributionPercentages: []float64{70, 30}, Reasoning: "r"}}
	svc := NewService(f.db, synth, 0, testutil.Logger())

	res, err := svc.MergeBlocks(context.Background(), MergeInput{BlockIDs: []string{f.b1.ID, f.b2.ID}, TargetDocumentID: "docA"})
	require.NoError(t, err)

	assert.Equal(t, models.BlockSynthesis, res.Block.BlockType)
	assert.Equal(t, 0, res.Block.OrderIndex)
	assert.Nil(t, res.Operation)

	stored, err := f.db.ProvenanceForBlocks(context.Background(), []string{res.Block.ID})
	require.NoError(t, err)
	require.Len(t, stored, 2)
	sum := 0.0
	for _, p := range stored {
		sum += p.ContributionPercentage
		assert.Equal(t, models.ContributionMerged, p.ContributionType)
		assert.InDelta(t, 0.85, p.ConfidenceScore, 1e-9)
		assert.Equal(t, "src", p.SourceDocumentID)
	}
	assert.InDelta(t, 100, sum, 1e-9)
}

func TestMergeRecordsOperationForSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := &models.ResearchSession{ProjectID: "proj", UserID: "u", Name: "s"}
	require.NoError(t, f.db.InsertSession(ctx, sess))

	svc := NewService(f.db, nil, 0.9, testutil.Logger())
	res, err := svc.MergeBlocks(ctx, MergeInput{BlockIDs: []string{f.b1.ID, f.b2.ID}, TargetDocumentID: "docA", SessionID: sess.ID})
	require.NoError(t, err)
	require.NotNil(t, res.Operation)
	assert.Equal(t, models.OperationMerge, res.Operation.OperationType)
	assert.Nil(t, res.Operation.UserApproved)
	assert.Equal(t, []string{f.b1.ID, f.b2.ID}, res.Operation.InputBlockIDs)
	assert.InDelta(t, 0.9, res.Provenance[0].ConfidenceScore, 1e-9)

	ops, err := f.db.OperationsBySession(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, res.Block.ID, ops[0].OutputBlockID)
}

func TestMergeMissingOrDeletedHasNoSideEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.db.SoftDeleteBlock(ctx, f.b2.ID))
	svc := NewService(f.db, nil, 0, testutil.Logger())

	for name, ids := range map[string][]string{
		"empty":   nil,
		"deleted": {f.b2.ID},
		"mixed":   {f.b1.ID, "ghost"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.MergeBlocks(ctx, MergeInput{BlockIDs: ids, TargetDocumentID: "docA"})
			assert.ErrorIs(t, err, apperr.ErrNotFound)
		})
	}

	_, err := svc.MergeBlocks(ctx, MergeInput{BlockIDs: []string{f.b1.ID}, TargetDocumentID: "nowhere"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = svc.MergeBlocks(ctx, MergeInput{BlockIDs: []string{f.b1.ID}, TargetDocumentID: "docA", SessionID: "ghost"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	blocks, prov := f.rows(t)
	assert.Zero(t, blocks)
	assert.Zero(t, prov)
}

func TestMergeRejectsBadCollaboratorOutput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ids := []string{f.b1.ID, f.b2.ID}

	cases := map[string]*Result{
		"no content":     {Title: "t"},
		"too many":       {Content: "c", ContributionPercentages: []float64{50, 25, 25}},
		"out of range":   {Content: "c", ContributionPercentages: []float64{120, -20}},
		"negative value": {Content: "c", ContributionPercentages: []float64{-1, 101}},
	}
	for name, out := range cases {
		t.Run(name, func(t *testing.T) {
			svc := NewService(f.db, fixedSynth{res: out}, 0, testutil.Logger())
			_, err := svc.MergeBlocks(ctx, MergeInput{BlockIDs: ids, TargetDocumentID: "docA"})
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}

	svc := NewService(f.db, fixedSynth{err: errors.New("model offline")}, 0, testutil.Logger())
	_, err := svc.MergeBlocks(ctx, MergeInput{BlockIDs: ids, TargetDocumentID: "docA"})
	assert.ErrorContains(t, err, "model offline")

	blocks, _ := f.rows(t)
	assert.Zero(t, blocks)
}

func TestMergeToleratesUnbalancedPercentages(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.db, fixedSynth{res: &Result{Content: "c", ContributionPercentages: []float64{40}}}, 0, testutil.Logger())

	res, err := svc.MergeBlocks(context.Background(), MergeInput{BlockIDs: []string{f.b1.ID, f.b2.ID}, TargetDocumentID: "docA"})
	require.NoError(t, err)
	require.Len(t, res.Provenance, 2)
	assert.InDelta(t, 40, res.Provenance[0].ContributionPercentage, 1e-9)
	assert.Zero(t, res.Provenance[1].ContributionPercentage)
	assert.Equal(t, "Synthesis of 2 blocks", res.Block.Title)
}

func TestMergeProvenanceFailureIsPartial(t *testing.T) {
	f := newFixture(t)
	svc := NewService(brokenLedger{f.db}, nil, 0, testutil.Logger())

	_, err := svc.MergeBlocks(context.Background(), MergeInput{BlockIDs: []string{f.b1.ID, f.b2.ID}, TargetDocumentID: "docA"})
	require.ErrorIs(t, err, apperr.ErrPartial)

	pf, ok := apperr.AsPartial(err)
	require.True(t, ok)
	require.Len(t, pf.CommittedIDs, 1)

	b, err := f.db.GetBlock(context.Background(), pf.CommittedIDs[0])
	require.NoError(t, err)
	assert.Equal(t, models.BlockSynthesis, b.BlockType)

	blocks, prov := f.rows(t)
	assert.Equal(t, 1, blocks)
	assert.Zero(t, prov)
}

func TestMergeRejectsClosedSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := &models.ResearchSession{ProjectID: "proj", UserID: "u", Name: "s", Status: models.SessionCompleted}
	require.NoError(t, f.db.InsertSession(ctx, sess))

	svc := NewService(f.db, nil, 0, testutil.Logger())
	_, err := svc.MergeBlocks(ctx, MergeInput{BlockIDs: []string{f.b1.ID}, TargetDocumentID: "docA", SessionID: sess.ID})
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestConcurrentMergesOverSameSources(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.db, nil, 0, testutil.Logger())
	const n = 6

	var wg sync.WaitGroup
	order := make(chan int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.MergeBlocks(context.Background(), MergeInput{BlockIDs: []string{f.b1.ID, f.b2.ID}, TargetDocumentID: "docA"})
			if err != nil {
				t.Error(err)
				return
			}
			order <- res.Block.OrderIndex
		}()
	}
	wg.Wait()
	close(order)

	seen := map[int]bool{}
	for idx := range order {
		assert.False(t, seen[idx])
		seen[idx] = true
	}
	assert.Len(t, seen, n)
}

func TestConcatSynthesizer(t *testing.T) {
	out, err := ConcatSynthesizer{}.Synthesize(context.Background(), Request{Sources: []models.Block{
		{ID: "a", Title: "Alpha", Content: "xxx"},
		{ID: "b", Title: "", Content: "x"},
	}})
	require.NoError(t, err)
	assert.Equal(t, "Synthesis: Alpha + Untitled", out.Title)
	assert.Equal(t, "## Alpha\n\nxxx\n\n## Untitled\n\nx", out.Content)
	assert.Equal(t, []string{"a", "b"}, out.Citations)
	assert.Equal(t, []float64{75, 25}, out.ContributionPercentages)
}

func TestWeights(t *testing.T) {
	tests := []struct {
		sizes []int
		want  []float64
	}{
		{nil, nil},
		{[]int{0, 0}, []float64{50, 50}},
		{[]int{1, 1, 1}, []float64{33.33, 33.33, 33.34}},
		{[]int{7, 3}, []float64{70, 30}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Weights(tt.sizes))
	}
}
