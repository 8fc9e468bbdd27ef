package orders

import (
	"context"
	"fmt"
	"time"

	"crm-sla/internal/metrics"
	"crm-sla/internal/urgency"

	"github.com/rs/zerolog/log"
)

// RecomputeUrgency reclassifies every order whose items are known against the
// project's current urgent rules. Orders with a manual urgency override are
// left alone. It returns the number of snapshots whose decision changed.
func RecomputeUrgency(ctx context.Context, store *SnapshotStore, source ConfigSource, projectID int64, m *metrics.Metrics) (int, error) {
	cfg, err := source.ProjectConfig(ctx, projectID)
	if err != nil {
		return 0, fmt.Errorf("load config: %w", err)
	}

	now := time.Now().UTC()
	changed, err := store.Update(ctx, projectID, func(snap *Snapshot) bool {
		if !snap.ItemsFetched {
			return false
		}
		if o, ok := cfg.Overrides[snap.OrderID]; ok && o.IsUrgentOverride != nil {
			return false
		}
		res := urgency.Classify(snap.Items, cfg.UrgentRules)
		if snap.UrgencyEvaluatedAt != nil && res.Urgent == snap.IsUrgent && res.RuleName == snap.UrgentRule {
			return false
		}
		snap.IsUrgent = res.Urgent
		snap.UrgentRule = res.RuleName
		snap.UrgencyEvaluatedAt = &now
		snap.UpdatedAt = now
		return true
	})
	if err != nil {
		return changed, fmt.Errorf("recompute urgency: %w", err)
	}

	m.Recomputed(changed)
	log.Info().Int64("project", projectID).Int("changed", changed).Msg("Recomputed order urgency")
	return changed, nil
}
