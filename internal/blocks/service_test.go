package blocks

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/loom/internal/apperr"
	"github.com/starford/loom/internal/models"
	"github.com/starford/loom/internal/testutil"
)

func newService(t *testing.T) (*Service, context.Context) {
	t.Helper()
	db := testutil.TestDB(t)
	testutil.Document(t, db, "doc-a", "proj")
	testutil.Document(t, db, "doc-b", "proj")
	return NewService(db, testutil.Logger()), context.Background()
}

func TestCreateBlockAssignsIncreasingOrder(t *testing.T) {
	svc, ctx := newService(t)

	for i := 0; i < 3; i++ {
		b, err := svc.CreateBlock(ctx, CreateInput{DocumentID: "doc-a", Title: "t", Type: models.BlockParagraph})
		require.NoError(t, err)
		assert.Equal(t, i, b.OrderIndex)
	}
	b, err := svc.CreateBlock(ctx, CreateInput{DocumentID: "doc-b", Title: "other"})
	require.NoError(t, err)
	assert.Equal(t, 0, b.OrderIndex)
	assert.Equal(t, models.BlockSection, b.BlockType)
}

func TestCreateBlockConcurrentWritersGetDistinctOrder(t *testing.T) {
	svc, ctx := newService(t)
	const n = 12

	var wg sync.WaitGroup
	results := make(chan int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := svc.CreateBlock(ctx, CreateInput{DocumentID: "doc-a", Title: "x"})
			if err != nil {
				t.Error(err)
				return
			}
			results <- b.OrderIndex
		}()
	}
	wg.Wait()
	close(results)

	seen := map[int]bool{}
	for idx := range results {
		assert.False(t, seen[idx], "duplicate order_index %d", idx)
		seen[idx] = true
	}
	assert.Len(t, seen, n)
}

func TestCreateBlockParentRules(t *testing.T) {
	svc, ctx := newService(t)
	parent, err := svc.CreateBlock(ctx, CreateInput{DocumentID: "doc-a", Title: "parent"})
	require.NoError(t, err)

	child, err := svc.CreateBlock(ctx, CreateInput{DocumentID: "doc-a", Title: "child", ParentID: &parent.ID})
	require.NoError(t, err)
	assert.Equal(t, parent.ID, *child.ParentBlockID)

	_, err = svc.CreateBlock(ctx, CreateInput{DocumentID: "doc-b", Title: "stranger", ParentID: &parent.ID})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	missing := "nope"
	_, err = svc.CreateBlock(ctx, CreateInput{DocumentID: "doc-a", Title: "orphan", ParentID: &missing})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCreateBlockValidation(t *testing.T) {
	svc, ctx := newService(t)

	_, err := svc.CreateBlock(ctx, CreateInput{DocumentID: "", Title: "x"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = svc.CreateBlock(ctx, CreateInput{DocumentID: "doc-a", Type: "poem"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = svc.CreateBlock(ctx, CreateInput{DocumentID: "unknown-doc", Title: "x"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestUpdateBlock(t *testing.T) {
	svc, ctx := newService(t)
	b, err := svc.CreateBlock(ctx, CreateInput{DocumentID: "doc-a", Title: "old", Content: "c"})
	require.NoError(t, err)

	title := "new"
	tags := []string{"x", "x", " y "}
	updated, err := svc.UpdateBlock(ctx, b.ID, UpdateInput{Title: &title, Tags: &tags})
	require.NoError(t, err)
	assert.Equal(t, "new", updated.Title)
	assert.Equal(t, "c", updated.Content)
	assert.Equal(t, []string{"x", "y"}, updated.Tags)
	assert.False(t, updated.LastEditedAt.Before(b.LastEditedAt))

	bad := models.BlockType("nope")
	_, err = svc.UpdateBlock(ctx, b.ID, UpdateInput{Type: &bad})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestSoftDeleteRefusesLinkedBlockWithoutCascade(t *testing.T) {
	svc, ctx := newService(t)
	a, _ := svc.CreateBlock(ctx, CreateInput{DocumentID: "doc-a", Title: "a"})
	b, _ := svc.CreateBlock(ctx, CreateInput{DocumentID: "doc-a", Title: "b"})
	require.NoError(t, svc.db.InsertLink(ctx, &models.SemanticLink{SourceBlockID: a.ID, TargetBlockID: &b.ID, LinkType: models.LinkManualRef}))

	_, err := svc.SoftDelete(ctx, b.ID, false)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	res, err := svc.SoftDelete(ctx, b.ID, true)
	require.NoError(t, err)
	assert.Len(t, res.RemovedLinkIDs, 1)

	active, err := svc.ListActiveBlocks(ctx, "doc-a")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, a.ID, active[0].ID)

	got, err := svc.GetBlock(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, got.IsDeleted, "row must survive as soft-deleted")

	_, err = svc.UpdateBlock(ctx, b.ID, UpdateInput{})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestSoftDeleteProvenanceSourceIsAllowed(t *testing.T) {
	svc, ctx := newService(t)
	src, _ := svc.CreateBlock(ctx, CreateInput{DocumentID: "doc-a", Title: "src"})
	out, _ := svc.CreateBlock(ctx, CreateInput{DocumentID: "doc-b", Title: "out", Type: models.BlockSynthesis})
	testutil.Provenance(t, svc.db, out, src, 100)

	_, err := svc.SoftDelete(ctx, src.ID, false)
	require.NoError(t, err)

	rows, err := svc.db.ProvenanceForBlocks(ctx, []string{out.ID})
	require.NoError(t, err)
	assert.Len(t, rows, 1, "provenance survives soft delete")
}

func TestListActiveBlocksUnknownDocument(t *testing.T) {
	svc, ctx := newService(t)
	_, err := svc.ListActiveBlocks(ctx, "ghost")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRegisterDocumentRequiresID(t *testing.T) {
	svc, ctx := newService(t)
	err := svc.RegisterDocument(ctx, &models.Document{Title: "x"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
