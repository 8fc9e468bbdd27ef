package commands

import (
	"fmt"
	"io"
	"os"
	"time"

	"crm-sla/internal/ingest"
	"crm-sla/internal/orders"
	"crm-sla/internal/visuals"

	"github.com/pkg/browser"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	projectID  int64
	orderID    int64
	fromDate   string
	toDate     string
	limit      int
	urgencyArg string
	noEnrich   bool
	withChart  bool
	openReport bool
)

func filterFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&fromDate, "from", "", "only orders started at or after this date (YYYY-MM-DD or timestamp)")
	cmd.Flags().StringVar(&toDate, "to", "", "only orders started at or before this date (YYYY-MM-DD or timestamp)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of orders (default from DEFAULT_LIST_LIMIT)")
	cmd.Flags().StringVar(&urgencyArg, "urgency", "all", "all, urgent or normal")
}

func projectFlag(cmd *cobra.Command) {
	cmd.Flags().Int64VarP(&projectID, "project", "p", 0, "KeyCRM project ID")
	_ = cmd.MarkFlagRequired("project")
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Ingest status-change webhooks from a JSON-lines file or stdin",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		var r io.Reader = cmd.InOrStdin()
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			r = f
		}

		in := a.ingestor
		if noEnrich {
			in = ingest.New(a.events, a.snapshots, a.settings, ingest.WithPublisher(a.publisher), ingest.WithMetrics(a.metrics))
		}
		summary, err := in.IngestLines(cmd.Context(), projectID, r)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), summary)
	},
}

var ordersCmd = &cobra.Command{
	Use:   "orders",
	Short: "List orders with working-hours stage durations and SLA states",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := orders.ParseFilter(fromDate, toDate, limit, urgencyArg)
		if err != nil {
			return err
		}
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.aggregator.BuildOrderViews(cmd.Context(), projectID, f)
		if err != nil {
			return err
		}
		for _, w := range res.Warnings {
			log.Warn().Msg(w)
		}
		return printJSON(cmd.OutOrStdout(), res.Views)
	},
}

var timelineCmd = &cobra.Command{
	Use:   "timeline",
	Short: "Show one order's status intervals",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		tl, err := a.aggregator.Timeline(cmd.Context(), projectID, orderID)
		if err != nil {
			return err
		}
		if withChart {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), visuals.GenerateTimelineGantt(orderID, tl.Intervals))
			return err
		}
		return printJSON(cmd.OutOrStdout(), tl)
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Write a standalone HTML stage-time and SLA report",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := orders.ParseFilter(fromDate, toDate, limit, urgencyArg)
		if err != nil {
			return err
		}
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		list, err := a.aggregator.BuildOrderViews(ctx, projectID, f)
		if err != nil {
			return err
		}
		stage, _, err := a.aggregator.StageTimeReport(ctx, projectID, f)
		if err != nil {
			return err
		}
		sla, _, err := a.aggregator.SLAReport(ctx, projectID, f)
		if err != nil {
			return err
		}

		path, err := visuals.WriteReport(cfg.ReportDir, visuals.ReportData{
			ProjectID:   projectID,
			GeneratedAt: time.Now(),
			Stage:       stage,
			SLA:         sla,
			Orders:      list.Views,
			Warnings:    list.Warnings,
		})
		if err != nil {
			return err
		}
		log.Info().Str("path", path).Int("orders", len(list.Views)).Msg("Report written")
		fmt.Fprintln(cmd.OutOrStdout(), path)

		if openReport {
			return browser.OpenFile(path)
		}
		return nil
	},
}

var recomputeCmd = &cobra.Command{
	Use:   "recompute-urgency",
	Short: "Re-evaluate order urgency against the current urgent rules",
	Long:  "Re-evaluates every order with fetched items. Without --project every configured project is processed.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		projects := []int64{projectID}
		if projectID == 0 {
			if projects, err = a.settings.Projects(); err != nil {
				return err
			}
		}

		source := orders.SettingsConfig{Store: a.settings}
		changed := make(map[int64]int, len(projects))
		for _, p := range projects {
			n, err := orders.RecomputeUrgency(cmd.Context(), a.snapshots, source, p, a.metrics)
			if err != nil {
				return fmt.Errorf("project %d: %w", p, err)
			}
			changed[p] = n
		}
		return printJSON(cmd.OutOrStdout(), changed)
	},
}

func init() {
	projectFlag(ingestCmd)
	ingestCmd.Flags().BoolVar(&noEnrich, "no-enrich", false, "do not fetch order items from the CRM")

	projectFlag(ordersCmd)
	filterFlags(ordersCmd)

	projectFlag(timelineCmd)
	timelineCmd.Flags().Int64VarP(&orderID, "order", "o", 0, "KeyCRM order ID")
	_ = timelineCmd.MarkFlagRequired("order")
	timelineCmd.Flags().BoolVar(&withChart, "chart", false, "print a Mermaid gantt instead of JSON")

	projectFlag(reportCmd)
	filterFlags(reportCmd)
	reportCmd.Flags().BoolVar(&openReport, "open", false, "open the report in the default browser")

	recomputeCmd.Flags().Int64VarP(&projectID, "project", "p", 0, "KeyCRM project ID (default: all projects)")
}
