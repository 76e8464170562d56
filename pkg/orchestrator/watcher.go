package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sheetforge/sheetforge/pkg/telemetry"
)

// settleDelay gives the producer time to finish writing a sheet before the
// watcher reads it. Uploads usually land via rename, but a slow copy into the
// inbox would otherwise be read half-written.
const settleDelay = 500 * time.Millisecond

// Watcher submits a job for every CSV that lands in an inbox directory.
type Watcher struct {
	orch       *Orchestrator
	dir        string
	schemaName string
	log        *telemetry.Logger
	settle     time.Duration
}

// NewWatcher builds a watcher over an inbox directory. Every sheet is
// transformed against the named target schema.
func NewWatcher(orch *Orchestrator, dir, schemaName string, log *telemetry.Logger) *Watcher {
	if log == nil {
		log = telemetry.NopLogger()
	}
	return &Watcher{orch: orch, dir: dir, schemaName: schemaName, log: log, settle: settleDelay}
}

// Run watches the inbox until the context is cancelled. Sheets already in
// the inbox at startup are picked up first, so nothing dropped during a
// restart is lost.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting inbox watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}
	w.log.Infof("watching inbox %s", w.dir)

	if err := w.sweep(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Rename) {
				continue
			}
			if !isSheet(ev.Name) {
				continue
			}
			go w.handle(ctx, ev.Name)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.WithError(err).Warn("inbox watcher error")
		}
	}
}

// sweep submits jobs for sheets already sitting in the inbox.
func (w *Watcher) sweep(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("reading inbox %s: %w", w.dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !isSheet(e.Name()) {
			continue
		}
		go w.handle(ctx, filepath.Join(w.dir, e.Name()))
	}
	return nil
}

func (w *Watcher) handle(ctx context.Context, path string) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(w.settle):
	}

	job, err := w.orch.Submit(ctx, path, w.schemaName)
	if err != nil {
		w.log.WithError(err).Errorf("submitting %s", path)
		return
	}
	if _, err := w.orch.Run(ctx, job.ID); err != nil {
		w.log.WithJobID(job.ID).WithError(err).Error("job run failed")
	}
}

func isSheet(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".csv")
}
