package inbox

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/loom/internal/storage"
)

// settle is how long a file must stay quiet before it is processed. Editors
// and copy tools emit several writes per file.
const settle = 300 * time.Millisecond

// Watch processes existing files, then watches the inbox root until ctx is
// cancelled. Only the root is watched; processed/ and failed/ are not.
func Watch(ctx context.Context, proc *Processor, logger *slog.Logger) error {
	root := proc.files.Root()
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(root); err != nil {
		return err
	}
	logger.Info("inbox: watching", slog.String("root", root))

	if err := proc.Sync(ctx); err != nil {
		logger.Warn("inbox: initial sync failed", slog.String("error", err.Error()))
	}

	pending := map[string]time.Time{}
	tick := time.NewTicker(settle / 3)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("inbox: stopped")
			return nil

		case now := <-tick.C:
			for rel, last := range pending {
				if now.Sub(last) < settle {
					continue
				}
				delete(pending, rel)
				if _, err := proc.Process(ctx, rel); err != nil {
					logger.Warn("inbox: process failed", slog.String("file", rel), slog.String("error", err.Error()))
				}
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if filepath.Dir(ev.Name) != root || !storage.Accepted(ev.Name) {
				continue
			}
			pending[filepath.Base(ev.Name)] = time.Now()

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("inbox: watcher error", slog.String("error", watchErr.Error()))
		}
	}
}
