package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/bfsujason/llm-corpus-annotation/pkg/config"
	"github.com/bfsujason/llm-corpus-annotation/pkg/logger"
	"github.com/bfsujason/llm-corpus-annotation/pkg/metrics"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type globalFlags struct {
	configPath string
	corpusPath string
	limit      int
	logLevel   string
	format     string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	g := &globalFlags{}
	var cfg *config.Config

	root := &cobra.Command{
		Use:   "corpusdiff",
		Short: "Compare annotated translation versions of a parallel corpus",
		Long: `corpusdiff loads an annotated JSONL corpus in which every record carries
several versions of the same source text and reports how the versions differ:
pairwise similarity, tag frequency tables and feature divergence examples.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			var err error
			cfg, err = loadConfig(cmd, g)
			if err != nil {
				return err
			}
			logger.SetupWriter(stderr, cfg.Logging.Level, cfg.Logging.Format)
			return nil
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "path to config file (defaults, then file, then CD_* env)")
	pf.StringVar(&g.corpusPath, "corpus", "", "annotated JSONL corpus (overrides corpus.path)")
	pf.IntVar(&g.limit, "limit", 0, "read at most this many records (overrides corpus.limit)")
	pf.StringVar(&g.logLevel, "log-level", "", "debug, info, warn or error (overrides logging.level)")
	pf.StringVar(&g.format, "format", "text", "result format: text or json")

	withApp := func(run func(cmd *cobra.Command, a *app) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			if g.format != "text" && g.format != "json" {
				return fmt.Errorf("--format must be text or json, got %q", g.format)
			}
			a, err := openApp(cmd.Context(), cfg, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					slog.Warn("shutdown incomplete", "error", err)
				}
			}()
			return run(cmd, a)
		}
	}
	// Batch commands get their own metrics listener; serve mounts /metrics
	// on the API.
	withMetrics := func(run func(cmd *cobra.Command, a *app) error) func(*cobra.Command, *app) error {
		return func(cmd *cobra.Command, a *app) error {
			if a.cfg.Metrics.Enabled {
				shutdown := metrics.StartServer(a.cfg.Metrics.Port, a.registry)
				defer shutdown(cmd.Context())
			}
			return run(cmd, a)
		}
	}

	root.AddCommand(
		newSimilarityCmd(g, withApp, withMetrics),
		newFrequencyCmd(g, withApp, withMetrics),
		newDivergenceCmd(g, withApp, withMetrics),
		newServeCmd(withApp),
		&cobra.Command{
			Use:   "version",
			Short: "Print the corpusdiff version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), "corpusdiff", version)
			},
		},
	)
	return root
}

func loadConfig(cmd *cobra.Command, g *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("corpus") {
		cfg.Corpus.Path = g.corpusPath
	}
	if flags.Changed("limit") {
		if g.limit < 0 {
			return nil, fmt.Errorf("--limit must be >= 0, got %d", g.limit)
		}
		cfg.Corpus.Limit = g.limit
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = g.logLevel
	}
	return cfg, nil
}
