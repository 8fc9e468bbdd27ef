package mcp

import (
	"context"
	"testing"
	"time"

	"crm-sla/internal/eventlog"
	"crm-sla/internal/ingest"
	"crm-sla/internal/orders"
	"crm-sla/internal/settings"
	"crm-sla/internal/stats"
	"crm-sla/internal/urgency"
)

var testNow = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

const testWebhook = `{"event":"order.change_order_status","context":{"id":42,"status_id":3,"status_group_id":2,
"status_changed_at":"2025-01-01 10:00:00","created_at":"2025-01-01 08:00:00"}}`

type testEnv struct {
	server    *Server
	snapshots *orders.SnapshotStore
	settings  *settings.Store
}

func newTestEnv(t *testing.T, mermaid bool) testEnv {
	t.Helper()
	events := eventlog.NewLogProvider(eventlog.NewEventStore(), t.TempDir())
	snapshots := orders.NewSnapshotStore(t.TempDir())
	store := settings.NewStore(t.TempDir())

	agg := orders.NewAggregator(events, orders.SettingsConfig{Store: store}, snapshots,
		orders.WithClock(func() time.Time { return testNow }))
	in := ingest.New(events, snapshots, store)

	return testEnv{
		server:    NewServer(agg, snapshots, store, in, Options{Version: "test", EnableMermaidCharts: mermaid}),
		snapshots: snapshots,
		settings:  store,
	}
}

func (e testEnv) ingest(t *testing.T) {
	t.Helper()
	if _, err := e.server.handleIngestWebhook(context.Background(), IngestWebhookInput{ProjectID: 1, Body: testWebhook}); err != nil {
		t.Fatalf("ingest webhook: %v", err)
	}
}

func envelope(t *testing.T, v any) Envelope {
	t.Helper()
	env, ok := v.(Envelope)
	if !ok {
		t.Fatalf("expected an Envelope, got %T", v)
	}
	if env.Warnings == nil {
		t.Error("warnings must never be null")
	}
	return env
}

func TestHandleListOrders(t *testing.T) {
	env := newTestEnv(t, false)
	env.ingest(t)

	res, err := env.server.handleListOrders(context.Background(), ListOrdersInput{ProjectID: 1})
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	data := envelope(t, res).Data.(map[string]any)
	views := data["orders"].([]orders.View)
	if len(views) != 1 || views[0].OrderID != 42 {
		t.Fatalf("expected order 42, got %+v", views)
	}
	if got := views[0].StageSeconds[2]; got != 7200 {
		t.Errorf("expected 2h in group 2, got %d", got)
	}

	if _, err := env.server.handleListOrders(context.Background(), ListOrdersInput{}); err == nil {
		t.Error("expected an error without project_id")
	}
}

func TestHandleSLAReport_WithLimits(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, true)
	env.ingest(t)

	doc := settings.Empty(1)
	doc.SLARules = []stats.SLARule{{GroupID: 2, LimitHours: 1}}
	if _, err := env.server.handleSetProjectSettings(ctx, SetProjectSettingsInput{ProjectID: 1, Settings: doc}); err != nil {
		t.Fatalf("set settings: %v", err)
	}

	res, err := env.server.handleGetSLAReport(ctx, ReportInput{ProjectID: 1})
	if err != nil {
		t.Fatalf("sla report: %v", err)
	}
	data := envelope(t, res).Data.(map[string]any)
	report := data["report"].(stats.SLAReport)
	if report.Orders != 1 || report.OrdersOver != 1 || report.BreachShare != 1 {
		t.Errorf("expected the only order over its limit, got %+v", report)
	}
	if chart, _ := data["chart"].(string); chart == "" {
		t.Error("expected a chart when mermaid is enabled")
	}
}

func TestHandleGetOrderTimeline(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, false)
	env.ingest(t)

	res, err := env.server.handleGetOrderTimeline(ctx, OrderInput{ProjectID: 1, OrderID: 42})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	data := envelope(t, res).Data.(map[string]any)
	intervals := data["intervals"].([]stats.MeasuredInterval)
	if len(intervals) != 1 || !intervals[0].Open || intervals[0].WorkingSeconds != 7200 {
		t.Errorf("unexpected intervals %+v", intervals)
	}
	if _, ok := data["chart"]; ok {
		t.Error("expected no chart when mermaid is disabled")
	}

	if _, err := env.server.handleGetOrderTimeline(ctx, OrderInput{ProjectID: 1, OrderID: 7}); err == nil {
		t.Error("expected an error for an unknown order")
	}
}

func TestHandleSetOrderOverride(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, false)
	env.ingest(t)

	urgent := true
	res, err := env.server.handleSetOrderOverride(ctx, SetOrderOverrideInput{ProjectID: 1, OrderID: 42, IsUrgent: &urgent})
	if err != nil {
		t.Fatalf("set override: %v", err)
	}
	view := envelope(t, res).Data.(map[string]any)["order"].(orders.View)
	if !view.IsUrgent || view.UrgencySource != urgency.SourceOverride {
		t.Errorf("expected an urgent override, got %+v", view)
	}

	// Later calls merge into the stored override.
	if _, err := env.server.handleSetOrderOverride(ctx, SetOrderOverrideInput{ProjectID: 1, OrderID: 42, CycleEnd: "2025-01-01 11:00:00"}); err != nil {
		t.Fatalf("set cycle end: %v", err)
	}
	o, err := env.settings.Override(1, 42)
	if err != nil || o == nil {
		t.Fatalf("expected a stored override, got %v (%v)", o, err)
	}
	if o.IsUrgentOverride == nil || !*o.IsUrgentOverride || o.CycleEndOverride == nil {
		t.Errorf("expected merged override, got %+v", o)
	}

	if _, err := env.server.handleSetOrderOverride(ctx, SetOrderOverrideInput{ProjectID: 1, OrderID: 42, Clear: true}); err != nil {
		t.Fatalf("clear override: %v", err)
	}
	if o, _ := env.settings.Override(1, 42); o != nil {
		t.Errorf("expected the override to be removed, got %+v", o)
	}

	if _, err := env.server.handleSetOrderOverride(ctx, SetOrderOverrideInput{ProjectID: 1, OrderID: 42, CycleStart: "soon"}); err == nil {
		t.Error("expected an error for a bad timestamp")
	}
}

func TestHandleSetUrgentRules_Recomputes(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, false)
	env.ingest(t)

	items := []urgency.Item{{SKU: "RUSH", Quantity: 1}}
	if _, err := env.snapshots.SetItems(ctx, 1, 42, items, urgency.Result{}); err != nil {
		t.Fatalf("set items: %v", err)
	}

	rules := []urgency.Rule{{ID: 1, Name: "rush", MatchType: urgency.MatchSKU, MatchValue: "RUSH", Active: true}}
	res, err := env.server.handleSetUrgentRules(ctx, SetUrgentRulesInput{ProjectID: 1, Rules: rules})
	if err != nil {
		t.Fatalf("set rules: %v", err)
	}
	if got := envelope(t, res).Data.(map[string]any)["urgency_recomputed"]; got != 1 {
		t.Errorf("expected one order recomputed, got %v", got)
	}

	snap, err := env.snapshots.GetSnapshot(ctx, 1, 42)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !snap.IsUrgent || snap.UrgentRule != "rush" {
		t.Errorf("expected the snapshot to turn urgent, got %+v", snap)
	}
}

func TestHandleProjectSettings_MasksToken(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, false)

	doc := settings.Empty(1)
	doc.CRM = settings.CRM{BaseURL: "https://crm.example/v1", APIToken: "secret"}
	if err := env.settings.Save(doc); err != nil {
		t.Fatalf("save: %v", err)
	}

	res, err := env.server.handleGetProjectSettings(ctx, ProjectInput{ProjectID: 1})
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	got := envelope(t, res).Data.(map[string]any)["settings"].(settings.Document)
	if got.CRM.APIToken != maskedToken {
		t.Fatalf("expected a masked token, got %q", got.CRM.APIToken)
	}

	got.NearThreshold = 0.9
	if _, err := env.server.handleSetProjectSettings(ctx, SetProjectSettingsInput{ProjectID: 1, Settings: got}); err != nil {
		t.Fatalf("set settings: %v", err)
	}
	stored, err := env.settings.Load(1)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if stored.CRM.APIToken != "secret" || stored.NearThreshold != 0.9 {
		t.Errorf("expected the token kept and threshold updated, got %+v", stored)
	}
}

func TestHandleIngestWebhook(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, false)

	body := map[string]any{
		"event": "order.change_order_status",
		"context": map[string]any{
			"id": 42, "status_id": 3, "status_group_id": 2,
			"status_changed_at": "2025-01-01 10:00:00",
		},
	}
	first, err := env.server.handleIngestWebhook(ctx, IngestWebhookInput{ProjectID: 1, Body: body})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if envelope(t, first).Data.(ingest.Result).Duplicate {
		t.Error("expected a new change")
	}

	again, err := env.server.handleIngestWebhook(ctx, IngestWebhookInput{ProjectID: 1, Body: body})
	if err != nil {
		t.Fatalf("ingest again: %v", err)
	}
	e := envelope(t, again)
	if !e.Data.(ingest.Result).Duplicate || len(e.Guidance) == 0 {
		t.Errorf("expected a flagged duplicate, got %+v", e)
	}

	if _, err := env.server.handleIngestWebhook(ctx, IngestWebhookInput{ProjectID: 1, Body: "{not json"}); err == nil {
		t.Error("expected an error for a broken body")
	}
	if _, err := env.server.handleIngestWebhook(ctx, IngestWebhookInput{ProjectID: 1}); err == nil {
		t.Error("expected an error without a body")
	}
}
