// Package inbox imports proposal files dropped into a watched directory.
// Each file is imported into the document it names and then moved to
// processed/ or, with an .error.txt report, to failed/.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/starford/loom/internal/apperr"
	"github.com/starford/loom/internal/checksum"
	"github.com/starford/loom/internal/importer"
	"github.com/starford/loom/internal/proposal"
	"github.com/starford/loom/internal/storage"
)

// Sub-directories that receive handled files.
const (
	ProcessedDir = "processed"
	FailedDir    = "failed"
)

// Outcome is what happened to one file.
type Outcome string

// Outcomes.
const (
	Imported  Outcome = "imported"
	Duplicate Outcome = "duplicate"
	Failed    Outcome = "failed"
)

// Importer persists a proposal. *importer.Service satisfies it.
type Importer interface {
	Import(ctx context.Context, documentID string, p *proposal.Proposal, opts importer.Options) (*importer.Result, error)
}

// Ledger remembers which file contents were already imported. *store.DB
// satisfies it.
type Ledger interface {
	InboxImported(ctx context.Context, checksum string) (bool, error)
	RecordInboxImport(ctx context.Context, checksum, path, documentID string, blockCount int) error
}

// ImportCallback is called after a file was imported.
type ImportCallback func(file string, res *importer.Result)

// Processor handles individual inbox files.
type Processor struct {
	files    storage.Provider
	importer Importer
	ledger   Ledger
	mode     importer.Mode
	logger   *slog.Logger
	onImport ImportCallback
	now      func() time.Time
}

// NewProcessor creates a processor. onImport may be nil.
func NewProcessor(files storage.Provider, imp Importer, ledger Ledger, mode importer.Mode, logger *slog.Logger, onImport ImportCallback) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		files:    files,
		importer: imp,
		ledger:   ledger,
		mode:     mode,
		logger:   logger,
		onImport: onImport,
		now:      time.Now,
	}
}

// Process imports the file at rel (relative to the inbox root). Import
// failures are reported through the failed/ folder and the Failed outcome;
// the returned error is reserved for problems handling the file itself.
func (p *Processor) Process(ctx context.Context, rel string) (Outcome, error) {
	data, err := p.files.Read(rel)
	if err != nil {
		return "", err
	}
	sum := checksum.Sum(data)

	seen, err := p.ledger.InboxImported(ctx, sum)
	if err != nil {
		return "", err
	}
	if seen {
		p.logger.Info("inbox: duplicate content, skipping import",
			slog.String("file", rel),
			slog.String("checksum", checksum.Short(data)))
		return Duplicate, p.files.Move(rel, p.target(ProcessedDir, rel))
	}

	res, importErr := p.importFile(ctx, rel, data)
	if importErr != nil {
		if errors.Is(importErr, context.Canceled) {
			return "", importErr
		}
		p.logger.Warn("inbox: import failed",
			slog.String("file", rel),
			slog.String("error", importErr.Error()))
		return Failed, p.reject(rel, importErr)
	}

	if err := p.ledger.RecordInboxImport(ctx, sum, rel, res.DocumentID, len(res.BlockIDs)); err != nil {
		p.logger.Warn("inbox: ledger write failed", slog.String("file", rel), slog.String("error", err.Error()))
	}
	if err := p.files.Move(rel, p.target(ProcessedDir, rel)); err != nil {
		return Imported, err
	}
	p.logger.Info("inbox: imported",
		slog.String("file", rel),
		slog.String("document_id", res.DocumentID),
		slog.Int("blocks", len(res.BlockIDs)))
	if p.onImport != nil {
		p.onImport(rel, res)
	}
	return Imported, nil
}

func (p *Processor) importFile(ctx context.Context, rel string, data []byte) (*importer.Result, error) {
	prop, err := proposal.Parse(data)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(prop.DocumentID) == "" {
		return nil, apperr.Invalid("document_id", "inbox proposals must name their document")
	}
	return p.importer.Import(ctx, prop.DocumentID, prop, importer.Options{Mode: p.mode})
}

// reject moves rel to failed/ and writes a report next to it.
func (p *Processor) reject(rel string, cause error) error {
	dst := p.target(FailedDir, rel)
	if err := p.files.Move(rel, dst); err != nil {
		return err
	}
	var report strings.Builder
	fmt.Fprintf(&report, "file: %s\ntime: %s\nerror: %v\n", rel, p.now().UTC().Format(time.RFC3339), cause)
	if pf, ok := apperr.AsPartial(cause); ok {
		fmt.Fprintf(&report, "committed_ids: %s\n", strings.Join(pf.CommittedIDs, ", "))
	}
	return p.files.Write(dst+".error.txt", []byte(report.String()))
}

// target builds a collision-free destination under dir.
func (p *Processor) target(dir, rel string) string {
	return path.Join(dir, p.now().UTC().Format("20060102T150405.000000000")+"-"+path.Base(rel))
}

// Sync processes every file already waiting in the inbox.
func (p *Processor) Sync(ctx context.Context) error {
	files, err := p.files.List("")
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := p.Process(ctx, f.Path); err != nil {
			p.logger.Warn("inbox: sync failed", slog.String("file", f.Path), slog.String("error", err.Error()))
		}
	}
	return nil
}
