package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var (
	configPath string
	onlyPass   string
	noColor    bool
)

var rootCmd = &cobra.Command{
	Use:   "schemaferry [config.toml]",
	Short: "Relational → document → wide-column schema migration tool",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runMigration,
}

func init() {
	rootCmd.Version = versionString()
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to migration TOML config file")
	rootCmd.Flags().StringVar(&onlyPass, "pass", "", "run a single pass: relational_to_document or document_to_wide_column")
	rootCmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runMigration(cmd *cobra.Command, args []string) error {
	// Resolve config path: positional arg takes precedence over --config flag
	cfgPath := configPath
	if len(args) > 0 {
		cfgPath = args[0]
	}
	if cfgPath == "" {
		return fmt.Errorf("config file required: schemaferry <config.toml> or schemaferry --config <config.toml>")
	}

	cfg, err := loadConfig(cfgPath, onlyPass)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	start := time.Now()

	log.Printf("schemaferry %s — relational → document → wide-column migration", cmd.Root().Version)
	log.Printf(
		"config: schema=%s relational=%s workers=%d passes=[relational_to_document=%t document_to_wide_column=%t] isolation=[%s %s]",
		cfg.Schema,
		cfg.Relational.Type,
		cfg.Workers,
		cfg.Passes.RelationalToDocument,
		cfg.Passes.DocumentToWideColumn,
		cfg.Isolation.RelationalToDocument,
		cfg.Isolation.DocumentToWideColumn,
	)

	color := !noColor && isatty.IsTerminal(os.Stdout.Fd())
	m := newMigrator(cfg, newReporter(cmd.OutOrStdout(), color))
	if err := m.Run(ctx); err != nil {
		log.Printf("migration finished with errors in %s", time.Since(start).Round(time.Millisecond))
		return err
	}

	log.Printf("migration completed in %s", time.Since(start).Round(time.Millisecond))
	return nil
}
