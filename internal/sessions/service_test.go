package sessions

import (
	"context"
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
	testutil.Document(t, db, "d1", "proj")
	testutil.Document(t, db, "d2", "proj")
	testutil.Document(t, db, "out", "proj")
	return NewService(db, testutil.Logger()), context.Background()
}

func TestCreateAndList(t *testing.T) {
	svc, ctx := newService(t)

	sess, err := svc.Create(ctx, CreateInput{ProjectID: "proj", UserID: "u", Name: "Reform", SourceDocumentIDs: []string{"d1", "d1", " d2 "}})
	require.NoError(t, err)
	assert.Equal(t, models.SessionActive, sess.Status)
	assert.Equal(t, []string{"d1", "d2"}, sess.SourceDocumentIDs)
	assert.Equal(t, 2, sess.DocumentCount)

	_, err = svc.Create(ctx, CreateInput{ProjectID: "other", UserID: "u", Name: "x"})
	require.NoError(t, err)

	list, err := svc.List(ctx, "proj")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, sess.ID, list[0].ID)

	all, err := svc.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestCreateValidation(t *testing.T) {
	svc, ctx := newService(t)

	_, err := svc.Create(ctx, CreateInput{ProjectID: "proj", UserID: "u"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = svc.Create(ctx, CreateInput{ProjectID: "proj", UserID: "u", Name: "n", SourceDocumentIDs: []string{"ghost"}})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestSourcesAndTarget(t *testing.T) {
	svc, ctx := newService(t)
	sess, err := svc.Create(ctx, CreateInput{ProjectID: "proj", UserID: "u", Name: "n", SourceDocumentIDs: []string{"d1"}})
	require.NoError(t, err)

	sess, err = svc.AddSourceDocuments(ctx, sess.ID, []string{"d1", "d2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"d1", "d2"}, sess.SourceDocumentIDs)

	sess, err = svc.SetTarget(ctx, sess.ID, "out")
	require.NoError(t, err)
	require.NotNil(t, sess.TargetDocumentID)
	assert.Equal(t, "out", *sess.TargetDocumentID)

	_, err = svc.SetTarget(ctx, sess.ID, "ghost")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	got, err := svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "out", *got.TargetDocumentID)
}

func TestTransitionsAreTerminal(t *testing.T) {
	svc, ctx := newService(t)
	sess, err := svc.Create(ctx, CreateInput{ProjectID: "proj", UserID: "u", Name: "n"})
	require.NoError(t, err)

	_, err = svc.Transition(ctx, sess.ID, "paused")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	done, err := svc.Transition(ctx, sess.ID, models.SessionCompleted)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, done.Status)

	_, err = svc.Transition(ctx, sess.ID, models.SessionAbandoned)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	_, err = svc.AddSourceDocuments(ctx, sess.ID, []string{"d2"})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = svc.Transition(ctx, "ghost", models.SessionCompleted)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
