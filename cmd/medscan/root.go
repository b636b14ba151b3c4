package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"medscan-go/config"
	"medscan-go/internal/catalog"
	"medscan-go/internal/core/recognizer"
	"medscan-go/internal/logger"
	"medscan-go/internal/util/timezone"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Version is the application version.
const Version = "0.3.0"

var (
	configPath string

	// cfg is loaded once before any subcommand runs
	cfg       *config.Config
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:     "medscan",
	Short:   "Real-time medicine package recognition from a camera feed",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		logCloser = logger.Init(cfg.Log)
		timezone.Initialize(cfg.Server.Timezone)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
	// ohne Unterbefehl läuft der Server
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

// Execute runs the root command with a context that ends on SIGINT/SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/config/config.yaml", "path to the YAML configuration file")
}

// loadLabels liefert Katalog und Labelreihenfolge gemäß Konfiguration
func loadLabels(cfg *config.Config) (*catalog.Catalog, *recognizer.LabelSet, error) {
	cat, err := catalog.Load(cfg.Labels.CatalogFile)
	if err != nil {
		return nil, nil, err
	}
	labels, err := catalog.LoadLabels(cfg.Labels.File, cat)
	if err != nil {
		return nil, nil, err
	}
	for _, name := range labels.Names() {
		if _, ok := cat.Lookup(name); !ok {
			log.Warnf("Label %q has no catalog entry", name)
		}
	}
	return cat, labels, nil
}
