// Package cli implements the trustlog command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustlog/internal/config"
	"github.com/ppiankov/trustlog/internal/integrity"
	"github.com/ppiankov/trustlog/internal/store"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "trustlog",
	Short: "Tamper-evident audit log",
	Long:  "Append-only audit log where every entry is hash-chained to its predecessor.\nAny after-the-fact modification, deletion or reordering is detectable.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := integrity.Verify(); err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
			os.Exit(78) // EX_CONFIG
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to config YAML (default ~/.trustlog/config.yaml)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the configured (or default) YAML config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// openStore opens the store the config selects. Caller closes it.
func openStore() (store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	st, err := cfg.OpenStore()
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}
