package orders

import (
	"time"

	"crm-sla/internal/eventlog"
	"crm-sla/internal/stats"
	"crm-sla/internal/urgency"
)

// View is the computed state of an order. It is derived on every read and never stored.
type View struct {
	ProjectID     int64     `json:"project_id"`
	OrderID       int64     `json:"order_id"`
	StartedAt     time.Time `json:"started_at"`
	LastStatusID  int64     `json:"last_status_id"`
	LastGroupID   int64     `json:"last_status_group_id"`
	LastChangedAt time.Time `json:"last_changed_at"`

	StageSeconds         map[int64]int64          `json:"stage_seconds"`
	StageCalendarSeconds map[int64]int64          `json:"stage_calendar_seconds"`
	SLAStates            map[int64]stats.SLAState `json:"sla_states"`

	CycleStartAt *time.Time `json:"cycle_start_at"`
	CycleEndAt   *time.Time `json:"cycle_end_at"`
	CycleSeconds *int64     `json:"cycle_seconds"`

	IsUrgent       bool             `json:"is_urgent"`
	UrgentRuleName string           `json:"urgent_rule_name,omitempty"`
	UrgencySource  urgency.Source   `json:"urgency_source"`
	SLAProfile     stats.SLAProfile `json:"sla_profile"`
}

// Sample converts the view into report input.
func (v View) Sample() stats.OrderSample {
	return stats.OrderSample{
		OrderID:      v.OrderID,
		IsUrgent:     v.IsUrgent,
		Residency:    stats.Residency{Working: v.StageSeconds, Calendar: v.StageCalendarSeconds},
		CycleSeconds: v.CycleSeconds,
		SLAStates:    v.SLAStates,
	}
}

// ComputeView derives an order's view from its snapshot, its events and the
// project configuration as of now.
func ComputeView(snap Snapshot, events []eventlog.StatusEvent, cfg Config, now time.Time) View {
	v := View{
		ProjectID:     snap.ProjectID,
		OrderID:       snap.OrderID,
		StartedAt:     snap.StartedAt,
		LastStatusID:  snap.LastStatusID,
		LastGroupID:   snap.LastGroupID,
		LastChangedAt: snap.LastChangedAt,
	}

	res := stats.CalculateResidency(events, cfg.Calendar, now)
	v.StageSeconds = res.Working
	v.StageCalendarSeconds = res.Calendar

	override, hasOverride := cfg.Overrides[snap.OrderID]

	in := urgency.Input{
		Items:        snap.Items,
		ItemsFetched: snap.ItemsFetched,
		Rules:        cfg.UrgentRules,
	}
	if hasOverride {
		in.Override = override.IsUrgentOverride
	}
	if snap.UrgencyEvaluatedAt != nil {
		in.Cached = &urgency.Result{Urgent: snap.IsUrgent, RuleName: snap.UrgentRule}
	}
	decision := urgency.Resolve(in)
	v.IsUrgent = decision.Urgent
	v.UrgentRuleName = decision.RuleName
	v.UrgencySource = decision.Source

	cycle := stats.ExtractCycle(events, cfg.Cycle, cfg.Calendar, now)
	if hasOverride {
		cycle = stats.ApplyCycleOverride(cycle, override.CycleStartOverride, override.CycleEndOverride, events, cfg.Calendar, now)
	}
	v.CycleStartAt = cycle.StartAt
	v.CycleEndAt = cycle.EndAt
	v.CycleSeconds = cycle.Seconds

	profile := stats.ProfileAuto
	if hasOverride {
		profile = override.SLAProfileOverride
	}
	useUrgent := profile.UseUrgentLimits(v.IsUrgent)
	v.SLAProfile = stats.ProfileNormal
	if useUrgent {
		v.SLAProfile = stats.ProfileUrgent
	}
	v.SLAStates = stats.Classify(v.StageSeconds, cfg.Limits.Limits(useUrgent), cfg.Near)

	// Fill last_* from the log when the snapshot has none.
	if v.LastChangedAt.IsZero() && len(events) > 0 {
		last := eventlog.SortChronologically(events)[len(events)-1]
		v.LastStatusID = last.StatusID
		v.LastGroupID = last.GroupID
		v.LastChangedAt = last.EnteredAt
	}
	return v
}
