package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/loom/internal"
	"github.com/starford/loom/internal/importer"
	pkgconfig "github.com/starford/loom/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	loaded, err := pkgconfig.LoadOptional(configPath, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if !loaded {
		slog.Warn("config file not found, using defaults", slog.String("path", configPath))
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func mcp(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.RunMCP(ctx, internal.WithConfig(cfg))
}

func importProposal(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return fmt.Errorf("usage: loom import [--document ID] [--streaming] <proposal-file>")
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	mode := importer.ModeAtomic
	if cmd.Bool("streaming") {
		mode = importer.ModeStreaming
	}
	res, err := internal.ImportFile(ctx, path, cmd.String("document"), mode, internal.WithConfig(cfg))
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func main() {
	cmd := &cli.Command{
		Name:   "loom",
		Usage:  "Block store with semantic links, AI-assisted import and provenance tracking",
		Action: serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API, event stream and proposal inbox",
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Serve the MCP tools over stdio",
				Action: mcp,
			},
			{
				Name:      "import",
				Usage:     "Import a proposal file into a document",
				ArgsUsage: "<proposal-file>",
				Action:    importProposal,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "document",
						Aliases: []string{"d"},
						Usage:   "Target document id (defaults to the document_id in the file)",
					},
					&cli.BoolFlag{
						Name:  "streaming",
						Usage: "Commit block by block instead of in one transaction",
					},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
