package internal

import (
	"path/filepath"
	"testing"

	"github.com/starford/loom/internal/proposal"
	"github.com/starford/loom/internal/testutil"
)

func TestNewServicesDefaultsToOutlineProposer(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.SQLite.Path = filepath.Join(t.TempDir(), "loom.db")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	svc, err := newServices(cfg, testutil.Logger())
	if err != nil {
		t.Fatalf("newServices: %v", err)
	}
	t.Cleanup(func() { svc.db.Close() })

	if _, ok := svc.proposer.(proposal.OutlineProposer); !ok {
		t.Fatalf("proposer = %T, want proposal.OutlineProposer", svc.proposer)
	}
	p, err := svc.proposer.Propose(t.Context(), "doc", "# Heading\nbody\n")
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if len(p.Blocks) != 1 || p.Blocks[0].Title != "Heading" {
		t.Errorf("blocks = %+v", p.Blocks)
	}
}
