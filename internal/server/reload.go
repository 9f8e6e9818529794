package server

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ppiankov/trustlog/internal/config"
)

func logf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "trustlog: "+format+"\n", args...)
}

// ReloadConfig re-reads the configuration file and applies what can
// change without a restart: the Kafka relay is swapped to the new
// brokers and topic. Listen address and store selection require a
// restart and are reported, not applied.
func (s *Server) ReloadConfig(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if cfg.Listen != s.cfg.Listen {
		logf("hot-reload: listen address change requires a restart")
	}
	if cfg.Store != s.cfg.Store {
		logf("hot-reload: store change requires a restart")
	}

	s.stopRelay()
	s.startRelay(cfg.Stream.Kafka)
	s.cfg.Stream = cfg.Stream
	return nil
}

// Reloader watches the configuration file and hot-reloads it on change.
type Reloader struct {
	watcher *fsnotify.Watcher
	server  *Server
	path    string
}

// NewReloader creates a file watcher for the config path. A missing
// file is not an error; the reloader is simply inert.
func NewReloader(server *Server, path string) (*Reloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("server: create file watcher: %w", err)
	}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := watcher.Add(path); err != nil {
				watcher.Close()
				return nil, fmt.Errorf("server: watch %q: %w", path, err)
			}
		}
	}
	return &Reloader{watcher: watcher, server: server, path: path}, nil
}

// Run watches for file changes and reloads config. Blocks until ctx is
// cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	// Debounce: wait 500ms after the last write before reloading.
	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, func() {
					if err := r.server.ReloadConfig(r.path); err != nil {
						logf("hot-reload failed: %v", err)
					} else {
						logf("hot-reload: config reloaded")
					}
				})
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			logf("file watcher error: %v", err)
		}
	}
}
