package registry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/54b3r/studycrew-go/internal/index"
	"github.com/54b3r/studycrew-go/internal/logging"
)

// Watch drops registry entries whose index directory is removed or renamed
// out from under the process. It blocks until ctx is cancelled.
func (r *Registry) Watch(ctx context.Context) error {
	log := logging.FromContext(ctx)

	if err := os.MkdirAll(r.root, 0o755); err != nil {
		return fmt.Errorf("registry: create %s: %w", r.root, err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("registry: create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(r.root); err != nil {
		return fmt.Errorf("registry: watch %s: %w", r.root, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			base := filepath.Base(ev.Name)
			if !strings.HasSuffix(base, indexSuffix) {
				continue
			}
			name := strings.TrimSuffix(base, indexSuffix)
			if _, err := os.Stat(filepath.Join(ev.Name, index.ManifestFile)); err == nil {
				continue
			}
			r.drop(name, index.Handle(ev.Name))
			log.Info("registry: index directory removed, document unregistered", slog.String("document", name))
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("registry: watcher error", slog.String("error", err.Error()))
		}
	}
}
