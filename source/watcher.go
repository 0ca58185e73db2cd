package source

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/flarexio/ragblade"
)

const DefaultDebounce = 500 * time.Millisecond

// Ingester is the part of ragblade.Service a Watcher needs.
type Ingester interface {
	Ingest(ctx context.Context, sourceRef string, text string, replace ...bool) (*ragblade.IngestReport, error)
}

// Watcher re-ingests files under a set of paths once they stop changing.
// Re-ingestion always replaces the earlier records of the file.
type Watcher struct {
	log      *zap.Logger
	ingester Ingester
	watcher  *fsnotify.Watcher
	ref      RefFunc
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]time.Time
}

func NewWatcher(ingester Ingester, ref RefFunc) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if ref == nil {
		ref = PathRef
	}

	return &Watcher{
		log:      zap.L().With(zap.String("component", "watcher")),
		ingester: ingester,
		watcher:  fsWatcher,
		ref:      ref,
		debounce: DefaultDebounce,
		pending:  make(map[string]time.Time),
	}, nil
}

// SetDebounce sets how long a file must stay unchanged before it is ingested.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Add watches a file or a directory tree.
func (w *Watcher) Add(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		return w.watcher.Add(path)
	}

	return filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}

		if !d.IsDir() {
			return nil
		}

		if p != path && skipDir(d.Name()) {
			return filepath.SkipDir
		}

		return w.watcher.Add(p)
	})
}

// Run processes events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}

			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}

			w.log.Error("watch failed", zap.Error(err))

		case <-ticker.C:
			w.processPending(ctx)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.Add(event.Name); err != nil {
				w.log.Error("watch failed", zap.String("path", event.Name), zap.Error(err))
			}

			return
		}
	}

	if !Supported(event.Name) {
		return
	}

	w.mu.Lock()
	w.pending[event.Name] = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) processPending(ctx context.Context) {
	now := time.Now()

	var ready []string

	w.mu.Lock()
	for path, lastChange := range w.pending {
		if now.Sub(lastChange) >= w.debounce {
			ready = append(ready, path)
		}
	}

	for _, path := range ready {
		delete(w.pending, path)
	}
	w.mu.Unlock()

	for _, path := range ready {
		w.ingest(ctx, path)
	}
}

func (w *Watcher) ingest(ctx context.Context, path string) {
	log := w.log.With(zap.String("path", path))

	text, err := Load(path)
	if err != nil {
		// removed or unreadable files keep their records
		log.Warn("file skipped", zap.Error(err))
		return
	}

	sourceRef := w.ref(path)

	report, err := w.ingester.Ingest(ctx, sourceRef, text, true)
	if err != nil {
		log.Error("re-ingest failed", zap.String("source_ref", sourceRef), zap.Error(err))
		return
	}

	log.Info("file re-ingested",
		zap.String("source_ref", sourceRef),
		zap.Int("stored", report.Stored),
		zap.Int("replaced", report.Replaced),
	)
}
