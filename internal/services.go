package internal

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/starford/loom/internal/blocks"
	"github.com/starford/loom/internal/graph"
	"github.com/starford/loom/internal/importer"
	"github.com/starford/loom/internal/lineage"
	"github.com/starford/loom/internal/links"
	"github.com/starford/loom/internal/llm"
	"github.com/starford/loom/internal/oplog"
	"github.com/starford/loom/internal/proposal"
	"github.com/starford/loom/internal/sessions"
	"github.com/starford/loom/internal/store"
	"github.com/starford/loom/internal/synthesis"
)

// services is the wired domain layer shared by every entry point.
type services struct {
	db       *store.DB
	blocks   *blocks.Service
	links    *links.Service
	importer *importer.Service
	proposer proposal.Proposer
	merger   *synthesis.Service
	lineage  *lineage.Resolver
	graph    *graph.Projector
	sessions *sessions.Service
	oplog    *oplog.Service
}

func (a *application) init() (*Config, *slog.Logger, error) {
	if a.config == nil {
		return nil, nil, fmt.Errorf("config is required")
	}
	out := a.logOutput
	if out == nil {
		out = os.Stdout
	}
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: a.config.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return a.config, logger, nil
}

// newServices opens the database and builds the services. The caller owns
// the returned db.
func newServices(cfg *Config, logger *slog.Logger) (*services, error) {
	db, err := store.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	var (
		synth    synthesis.Synthesizer
		proposer proposal.Proposer = proposal.OutlineProposer{}
	)
	if cfg.Synthesis.Provider == ProviderOpenAI {
		client, err := llm.New(cfg.Synthesis.OpenAI.Client(), logger)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("init llm: %w", err)
		}
		synth, proposer = client, client
	}

	return &services{
		db:       db,
		blocks:   blocks.NewService(db, logger),
		links:    links.NewService(db, logger),
		importer: importer.NewService(db, logger),
		proposer: proposer,
		merger:   synthesis.NewService(db, synth, cfg.Synthesis.DefaultConfidence, logger),
		lineage:  lineage.NewResolver(db, cfg.Lineage.MaxDepth, logger),
		graph:    graph.NewProjector(db, logger),
		sessions: sessions.NewService(db, logger),
		oplog:    oplog.NewService(db, logger),
	}, nil
}
