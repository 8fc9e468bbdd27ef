package orders

import (
	"context"

	"crm-sla/internal/calendar"
	"crm-sla/internal/eventlog"
	"crm-sla/internal/settings"
	"crm-sla/internal/stats"
	"crm-sla/internal/urgency"
)

// EventSource yields the status history of orders.
type EventSource interface {
	EventsForOrders(ctx context.Context, projectID int64, orderIDs []int64) (map[int64][]eventlog.StatusEvent, error)
}

// SnapshotSource yields current-order snapshots.
type SnapshotSource interface {
	ListSnapshots(ctx context.Context, projectID int64) ([]Snapshot, error)
	GetSnapshot(ctx context.Context, projectID, orderID int64) (Snapshot, error)
}

// ConfigSource yields the configuration a project is evaluated with. It is read fresh per call.
type ConfigSource interface {
	ProjectConfig(ctx context.Context, projectID int64) (Config, error)
}

// Config is the materialised configuration of one project.
type Config struct {
	Calendar    *calendar.Calendar
	Cycle       *stats.CycleRule
	Limits      stats.LimitTable
	Near        float64
	UrgentRules []urgency.Rule
	Overrides   map[int64]settings.OrderOverride
	// Warnings are configuration problems that were worked around.
	Warnings []string
}

// SettingsConfig reads project configuration from a settings store.
type SettingsConfig struct {
	Store *settings.Store
}

func (c SettingsConfig) ProjectConfig(ctx context.Context, projectID int64) (Config, error) {
	if err := ctx.Err(); err != nil {
		return Config{}, err
	}
	doc, err := c.Store.Load(projectID)
	if err != nil {
		return Config{}, err
	}
	overrides, err := c.Store.Overrides(projectID)
	if err != nil {
		return Config{}, err
	}
	return NewConfig(doc, overrides), nil
}

// NewConfig materialises a settings document.
func NewConfig(doc settings.Document, overrides map[int64]settings.OrderOverride) Config {
	cfg := Config{
		Cycle:       doc.DefaultCycle(),
		Limits:      doc.Limits(),
		Near:        doc.Near(),
		UrgentRules: doc.UrgentRules,
		Overrides:   overrides,
	}
	cfg.Warnings = append(cfg.Warnings, doc.SkippedHours()...)
	cal, err := doc.Calendar()
	if err != nil {
		cfg.Warnings = append(cfg.Warnings, err.Error())
	}
	cfg.Calendar = cal
	if doc.DefaultCycleID != 0 && cfg.Cycle == nil {
		cfg.Warnings = append(cfg.Warnings, "default cycle rule is missing; cycle times are unknown")
	}
	return cfg
}
