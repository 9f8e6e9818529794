package spool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDefault is the debounce interval for inbox file events.
// Producers that write-then-rename settle well inside it.
const debounceDefault = 200 * time.Millisecond

// maxConcurrentFiles bounds how many request files are ingested at
// once. The appender serializes commits anyway; the pool only bounds
// file I/O under burst drops.
const maxConcurrentFiles = 5

// maxQueueSize buffers the work queue between the debounce flush and
// the worker pool so a burst of drops never blocks the event loop.
const maxQueueSize = 200

// Watcher watches the spool inbox and feeds new request files to an
// ingester.
type Watcher struct {
	ingester *Ingester
	debounce time.Duration
	onError  func(path string, err error)
}

// NewWatcher creates a watcher over the ingester's inbox. onError is
// called for each file that could not be handled; nil logs to stderr.
func NewWatcher(ingester *Ingester, onError func(path string, err error)) *Watcher {
	if onError == nil {
		onError = func(path string, err error) {
			fmt.Fprintf(os.Stderr, "spool: %s: %v\n", filepath.Base(path), err)
		}
	}
	return &Watcher{
		ingester: ingester,
		debounce: debounceDefault,
		onError:  onError,
	}
}

// Run sweeps the inbox once, then watches it for new request files
// until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.ingester.Dirs().EnsureDirs(); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("spool: start watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(w.ingester.Dirs().Inbox()); err != nil {
		return fmt.Errorf("spool: watch inbox: %w", err)
	}

	// ready collects paths that passed debounce. A single timer resets
	// on each event; when it fires, all accumulated paths flush to the
	// work queue. No per-file goroutines.
	var mu sync.Mutex
	ready := make(map[string]bool)

	queue := make(chan string, maxQueueSize)

	var wg sync.WaitGroup
	for i := 0; i < maxConcurrentFiles; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range queue {
				if err := w.ingester.Process(ctx, path); err != nil {
					w.onError(path, err)
				}
			}
		}()
	}

	flush := func() {
		mu.Lock()
		batch := make([]string, 0, len(ready))
		for p := range ready {
			batch = append(batch, p)
		}
		ready = make(map[string]bool)
		mu.Unlock()

		for _, p := range batch {
			select {
			case queue <- p:
			case <-ctx.Done():
				return
			}
		}
	}

	// Files already waiting when the watcher starts.
	if _, err := w.ingester.Sweep(ctx); err != nil {
		w.onError(w.ingester.Dirs().Inbox(), err)
	}

	debounceTimer := time.NewTimer(w.debounce)
	debounceTimer.Stop()

	defer func() {
		debounceTimer.Stop()
		flush()
		close(queue)
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-debounceTimer.C:
			flush()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) {
				continue
			}
			if !isRequestFile(event.Name) {
				continue
			}

			mu.Lock()
			ready[event.Name] = true
			mu.Unlock()

			if !debounceTimer.Stop() {
				select {
				case <-debounceTimer.C:
				default:
				}
			}
			debounceTimer.Reset(w.debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.onError(w.ingester.Dirs().Inbox(), err)
		}
	}
}
