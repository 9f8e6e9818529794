package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustlog/internal/ledger"
	"github.com/ppiankov/trustlog/internal/spool"
)

var (
	spoolDir  string
	spoolOnce bool
)

func init() {
	rootCmd.AddCommand(spoolCmd)
	spoolCmd.Flags().StringVar(&spoolDir, "dir", "", "Spool root directory (overrides config)")
	spoolCmd.Flags().BoolVar(&spoolOnce, "once", false, "Process the current backlog and exit")
}

var spoolCmd = &cobra.Command{
	Use:   "spool",
	Short: "Ingest append requests dropped as JSON files",
	Long:  "Watches <dir>/inbox for *.json append requests. Committed files move to\ndone/, rejected ones to failed/ with a .reason note. With --once the\nbacklog is processed without watching.",
	RunE:  runSpool,
}

func runSpool(cmd *cobra.Command, args []string) error {
	dir := spoolDir
	if dir == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		dir = cfg.Spool.Dir
	}
	if dir == "" {
		return fmt.Errorf("no spool directory: set --dir or spool.dir in config")
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ingester := spool.NewIngester(dir, ledger.NewAppender(st, nil))
	if err := ingester.Dirs().EnsureDirs(); err != nil {
		return err
	}

	if spoolOnce {
		n, err := ingester.Sweep(context.Background())
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "spool: committed %d entries\n", n)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nStopping spool watcher...")
		cancel()
	}()

	fmt.Fprintf(os.Stderr, "spool: watching %s\n", dir)
	return spool.NewWatcher(ingester, nil).Run(ctx)
}
