package mcp

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"crm-sla/internal/eventlog"
	"crm-sla/internal/orders"
	"crm-sla/internal/settings"
	"crm-sla/internal/stats"
	"crm-sla/internal/urgency"
	"crm-sla/internal/visuals"

	"github.com/rs/zerolog/log"
)

// NoInput is the argument set of tools that take none.
type NoInput struct{}

const maskedToken = "********"

func (s *Server) handleListOrders(ctx context.Context, in ListOrdersInput) (any, error) {
	if err := requireProject(in.ProjectID); err != nil {
		return nil, err
	}
	f, err := orders.ParseFilter(in.From, in.To, in.Limit, in.Urgency)
	if err != nil {
		return nil, err
	}
	res, err := s.aggregator.BuildOrderViews(ctx, in.ProjectID, f)
	if err != nil {
		return nil, err
	}

	guidance := []string{
		"stage_seconds and cycle_seconds are WORKING seconds; stage_calendar_seconds are wall-clock.",
		"Stage maps are keyed by status group ID. A stage without an SLA limit is 'neutral'.",
	}
	if len(res.Views) == 0 {
		guidance = append(guidance, "No orders matched. Check the date window, or ingest webhooks first.")
	}
	return WrapResponse(map[string]any{
		"count":  len(res.Views),
		"orders": res.Views,
	}, res.Warnings, guidance...), nil
}

func (s *Server) handleGetOrderTimeline(ctx context.Context, in OrderInput) (any, error) {
	if err := requireProject(in.ProjectID); err != nil {
		return nil, err
	}
	tl, err := s.aggregator.Timeline(ctx, in.ProjectID, in.OrderID)
	if err != nil {
		if errors.Is(err, orders.ErrOrderNotFound) {
			return nil, fmt.Errorf("order %d has no recorded history in project %d", in.OrderID, in.ProjectID)
		}
		return nil, err
	}

	data := map[string]any{
		"order":     tl.View,
		"intervals": tl.Intervals,
	}
	if s.mermaid {
		data["chart"] = visuals.GenerateTimelineGantt(in.OrderID, tl.Intervals)
	}
	return WrapResponse(data, tl.Warnings,
		"The last interval is open (still running) unless the order reached a terminal stage.",
		"Render 'chart' as-is when present; bar lengths are wall-clock, labels are working hours.",
	), nil
}

func (s *Server) handleGetStageTimeReport(ctx context.Context, in ReportInput) (any, error) {
	if err := requireProject(in.ProjectID); err != nil {
		return nil, err
	}
	f, err := orders.ParseFilter(in.From, in.To, in.Limit, in.Urgency)
	if err != nil {
		return nil, err
	}
	report, warnings, err := s.aggregator.StageTimeReport(ctx, in.ProjectID, f)
	if err != nil {
		return nil, err
	}

	data := map[string]any{"report": report}
	if s.mermaid {
		data["chart"] = visuals.GenerateStageTimeChart(report)
	}
	return WrapResponse(data, warnings,
		"All seconds are working seconds except *_calendar_seconds.",
		"The report samples the same orders list_orders would return for these filters.",
	), nil
}

func (s *Server) handleGetSLAReport(ctx context.Context, in ReportInput) (any, error) {
	if err := requireProject(in.ProjectID); err != nil {
		return nil, err
	}
	f, err := orders.ParseFilter(in.From, in.To, in.Limit, in.Urgency)
	if err != nil {
		return nil, err
	}
	report, warnings, err := s.aggregator.SLAReport(ctx, in.ProjectID, f)
	if err != nil {
		return nil, err
	}

	data := map[string]any{"report": report}
	if s.mermaid {
		data["chart"] = visuals.GenerateSLAChart(report)
	}
	guidance := []string{"breach_share is the share of orders with at least one stage over its limit."}
	if report.Orders > 0 && tracked(report) == 0 {
		guidance = append(guidance, "No stage has an SLA limit configured; add sla_rules with set_project_settings.")
	}
	return WrapResponse(data, warnings, guidance...), nil
}

func tracked(r stats.SLAReport) int {
	n := 0
	for _, g := range r.Groups {
		n += g.Ok + g.Near + g.Over
	}
	return n
}

func (s *Server) handleIngestWebhook(ctx context.Context, in IngestWebhookInput) (any, error) {
	var body []byte
	switch b := in.Body.(type) {
	case nil:
		return nil, fmt.Errorf("body is required")
	case string:
		body = []byte(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("invalid body: %w", err)
		}
		body = raw
	}

	res, err := s.ingestor.Ingest(ctx, in.ProjectID, body)
	if err != nil {
		return nil, err
	}
	guidance := []string{}
	if res.Duplicate {
		guidance = append(guidance, "This status change was already recorded; history is unchanged.")
	}
	return WrapResponse(res, res.Warnings, guidance...), nil
}

func (s *Server) handleGetProjectSettings(_ context.Context, in ProjectInput) (any, error) {
	if err := requireProject(in.ProjectID); err != nil {
		return nil, err
	}
	doc, err := s.settings.Load(in.ProjectID)
	if err != nil {
		return nil, err
	}
	overrides, err := s.settings.Overrides(in.ProjectID)
	if err != nil {
		return nil, err
	}
	if doc.CRM.APIToken != "" {
		doc.CRM.APIToken = maskedToken
	}

	list := make([]settings.OrderOverride, 0, len(overrides))
	for _, o := range overrides {
		list = append(list, o)
	}
	slices.SortFunc(list, func(a, b settings.OrderOverride) int {
		return cmp.Compare(a.OrderID, b.OrderID)
	})

	return WrapResponse(map[string]any{
		"settings":  doc,
		"overrides": list,
	}, nil,
		"Weekdays run 0 = Monday to 6 = Sunday. A weekday without a working_hours rule is open all day; a rule with no ranges closes it.",
		"The api_token is masked; send it back unchanged to keep the stored token.",
	), nil
}

func (s *Server) handleSetProjectSettings(ctx context.Context, in SetProjectSettingsInput) (any, error) {
	if err := requireProject(in.ProjectID); err != nil {
		return nil, err
	}
	doc, err := s.settings.Update(in.ProjectID, func(d *settings.Document) error {
		token := d.CRM.APIToken
		*d = in.Settings
		if d.CRM.APIToken == maskedToken {
			d.CRM.APIToken = token
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	changed, err := orders.RecomputeUrgency(ctx, s.snapshots, s.configSource(), in.ProjectID, s.metrics)
	if err != nil {
		return nil, fmt.Errorf("settings saved but urgency recompute failed: %w", err)
	}
	if doc.CRM.APIToken != "" {
		doc.CRM.APIToken = maskedToken
	}
	return WrapResponse(map[string]any{
		"settings":           doc,
		"urgency_recomputed": changed,
	}, nil), nil
}

func (s *Server) handleSetUrgentRules(ctx context.Context, in SetUrgentRulesInput) (any, error) {
	if err := requireProject(in.ProjectID); err != nil {
		return nil, err
	}
	doc, err := s.settings.Update(in.ProjectID, func(d *settings.Document) error {
		d.UrgentRules = in.Rules
		return nil
	})
	if err != nil {
		return nil, err
	}

	changed, err := orders.RecomputeUrgency(ctx, s.snapshots, s.configSource(), in.ProjectID, s.metrics)
	if err != nil {
		return nil, fmt.Errorf("rules saved but urgency recompute failed: %w", err)
	}
	log.Info().Int64("project", in.ProjectID).Int("rules", len(doc.UrgentRules)).Int("changed", changed).Msg("Urgent rules replaced")

	guidance := []string{"Orders whose items were never fetched keep their urgency until the next webhook enriches them."}
	return WrapResponse(map[string]any{
		"urgent_rules":       doc.UrgentRules,
		"urgency_recomputed": changed,
	}, nil, guidance...), nil
}

func (s *Server) handleSetOrderOverride(ctx context.Context, in SetOrderOverrideInput) (any, error) {
	if err := requireProject(in.ProjectID); err != nil {
		return nil, err
	}
	if in.OrderID <= 0 {
		return nil, fmt.Errorf("order_id must be positive")
	}

	o := settings.OrderOverride{OrderID: in.OrderID}
	if !in.Clear {
		existing, err := s.settings.Override(in.ProjectID, in.OrderID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			o = *existing
		}
		if in.IsUrgent != nil {
			o.IsUrgentOverride = in.IsUrgent
		}
		if in.CycleStart != "" {
			t, err := eventlog.ParseTimestamp(in.CycleStart)
			if err != nil {
				return nil, fmt.Errorf("invalid cycle_start: %w", err)
			}
			o.CycleStartOverride = &t
		}
		if in.CycleEnd != "" {
			t, err := eventlog.ParseTimestamp(in.CycleEnd)
			if err != nil {
				return nil, fmt.Errorf("invalid cycle_end: %w", err)
			}
			o.CycleEndOverride = &t
		}
		if in.SLAProfile != "" {
			o.SLAProfileOverride = stats.SLAProfile(in.SLAProfile)
		}
	}
	if err := s.settings.SetOverride(in.ProjectID, o); err != nil {
		return nil, err
	}

	data := map[string]any{"override": o, "cleared": o.Empty()}
	var warnings []string
	tl, err := s.aggregator.Timeline(ctx, in.ProjectID, in.OrderID)
	switch {
	case err == nil:
		data["order"] = tl.View
		warnings = tl.Warnings
	case errors.Is(err, orders.ErrOrderNotFound):
		warnings = []string{fmt.Sprintf("order %d has no recorded history yet; the override applies once it does", in.OrderID)}
	default:
		return nil, err
	}
	return WrapResponse(data, warnings), nil
}

func (s *Server) handleGetSettingsSchema(_ context.Context, _ NoInput) (any, error) {
	schema, err := settings.Schema()
	if err != nil {
		return nil, err
	}
	return WrapResponse(schema, nil,
		"match_type is one of "+urgency.MatchSKU.String()+", "+urgency.MatchOfferID.String()+" or "+urgency.MatchProductID.String()+".",
	), nil
}
