package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustlog/internal/server"
	"github.com/ppiankov/trustlog/internal/spool"
)

var serveListen string

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address (overrides config)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the audit log server",
	Long:  "Runs the HTTP/JSON API: append, query, live tail, verification and export.\nWhen a spool directory is configured, JSON files dropped there are ingested too.\nThe config file hot-reloads on change.",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveListen != "" {
		cfg.Listen = serveListen
	}

	srv, err := server.New(cfg)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Hot-reload of the config file.
	reloader, err := server.NewReloader(srv, cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: hot-reload disabled: %v\n", err)
	} else {
		go reloader.Run(ctx)
	}

	// File-drop ingestion, sharing the server's commit lock.
	if cfg.Spool.Dir != "" {
		watcher := spool.NewWatcher(spool.NewIngester(cfg.Spool.Dir, srv.Appender()), nil)
		go func() {
			if err := watcher.Run(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "spool watcher stopped: %v\n", err)
			}
		}()
		fmt.Fprintf(os.Stderr, "spool: watching %s\n", cfg.Spool.Dir)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down audit log server...")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	fmt.Fprintf(os.Stderr, "trustlog server listening on %s (store: %s)\n", cfg.Listen, cfg.Store.Driver)
	if len(cfg.Stream.Kafka.Brokers) > 0 {
		fmt.Fprintf(os.Stderr, "kafka relay: topic %s\n", cfg.Stream.Kafka.Topic)
	}

	return srv.Serve()
}
