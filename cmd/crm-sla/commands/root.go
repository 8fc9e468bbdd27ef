package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"crm-sla/internal/config"
	"crm-sla/internal/logging"
	"crm-sla/internal/mcp"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	// Version, Commit, and BuildDate are set at build time via ldflags.
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"

	verbose bool
	cfg     *config.AppConfig
)

var rootCmd = &cobra.Command{
	Use:   "crm-sla",
	Short: "crm-sla measures order stage times against working hours and SLA limits",
	Long: `An MCP server and CLI over KeyCRM order status webhooks. It keeps an append-only
status history per project and reports working-hours stage durations, cycle times,
SLA states and order urgency.

Without a subcommand it serves MCP over stdio.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logging.Init(verbose)

		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}

		log.Info().
			Str("version", Version).
			Str("commit", Commit).
			Str("buildDate", BuildDate).
			Str("dataPath", cfg.DataPath).
			Msg("crm-sla starting")
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func serve(parent context.Context) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	server := mcp.NewServer(a.aggregator, a.snapshots, a.settings, a.ingestor, mcp.Options{
		Version:             Version,
		EnableMermaidCharts: cfg.EnableMermaidCharts,
		Metrics:             a.metrics,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// The client closing stdin ends the session and everything else with it.
		defer cancel()
		return server.Serve(gctx)
	})
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return a.metrics.Serve(gctx, cfg.MetricsAddr)
		})
	}
	return g.Wait()
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.AddCommand(ingestCmd, ordersCmd, timelineCmd, reportCmd, recomputeCmd)
}
