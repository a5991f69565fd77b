// Package testutil provides shared test helpers for databases and fixtures.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/starford/loom/internal/models"
	"github.com/starford/loom/internal/store"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *store.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "loom-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() {
		os.Remove(dbFile.Name())
		os.Remove(dbFile.Name() + "-wal")
		os.Remove(dbFile.Name() + "-shm")
	})

	db, err := store.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// Logger returns a logger that discards output.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Document registers a document in the mirror and returns its id.
func Document(t *testing.T, db *store.DB, id, projectID string) string {
	t.Helper()
	if err := db.UpsertDocument(context.Background(), &models.Document{ID: id, ProjectID: projectID, Title: "Doc " + id}); err != nil {
		t.Fatal(err)
	}
	return id
}

// Block inserts a live block at the end of documentID and returns it.
func Block(t *testing.T, db *store.DB, documentID, title string) *models.Block {
	t.Helper()
	ctx := context.Background()
	b := &models.Block{DocumentID: documentID, Title: title, Content: title + " content", BlockType: models.BlockSection}
	err := db.WithTx(ctx, func(tx *store.Tx) error {
		idx, err := tx.AllocateOrder(ctx, documentID, 1)
		if err != nil {
			return err
		}
		b.OrderIndex = idx
		return tx.InsertBlock(ctx, b)
	})
	if err != nil {
		t.Fatal(err)
	}
	return b
}

// Provenance writes a merged provenance row from source into output.
func Provenance(t *testing.T, db *store.DB, output, source *models.Block, pct float64) *models.BlockProvenance {
	t.Helper()
	p := &models.BlockProvenance{
		BlockID:                output.ID,
		SourceDocumentID:       source.DocumentID,
		SourceBlockID:          &source.ID,
		ContributionType:       models.ContributionMerged,
		ContributionPercentage: pct,
		ConfidenceScore:        0.85,
	}
	if err := db.InsertProvenance(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	return p
}
