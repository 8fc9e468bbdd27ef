package stats

import (
	"fmt"
	"strings"
)

// SLAState is the classification of a stage residency against its limit.
type SLAState string

const (
	SLANeutral SLAState = "neutral"
	SLAOk      SLAState = "ok"
	SLANear    SLAState = "near"
	SLAOver    SLAState = "over"
)

// Severity orders states so that a higher value is worse. Neutral ranks lowest.
func (s SLAState) Severity() int {
	switch s {
	case SLAOk:
		return 1
	case SLANear:
		return 2
	case SLAOver:
		return 3
	default:
		return 0
	}
}

// DefaultNearThreshold is the share of the limit from which a stage is "near".
const DefaultNearThreshold = 0.8

// NormalizeNearThreshold maps unset or out-of-range thresholds to the default.
func NormalizeNearThreshold(v float64) float64 {
	if v <= 0 || v > 1 {
		return DefaultNearThreshold
	}
	return v
}

// SLARule is the time limit of one stage for urgent or normal orders.
type SLARule struct {
	ID         int64   `json:"id,omitempty"`
	ProjectID  int64   `json:"project_id,omitempty"`
	GroupID    int64   `json:"status_group_id" validate:"gte=0"`
	IsUrgent   bool    `json:"is_urgent"`
	LimitHours float64 `json:"limit_hours" validate:"gte=0"`
}

// SLAProfile picks which limit table an order is measured against.
type SLAProfile string

const (
	ProfileAuto   SLAProfile = ""
	ProfileNormal SLAProfile = "normal"
	ProfileUrgent SLAProfile = "urgent"
)

func ParseSLAProfile(s string) (SLAProfile, error) {
	switch p := SLAProfile(strings.ToLower(strings.TrimSpace(s))); p {
	case ProfileAuto, ProfileNormal, ProfileUrgent:
		return p, nil
	default:
		return ProfileAuto, fmt.Errorf("unknown sla profile %q", s)
	}
}

// UseUrgentLimits resolves the table for an order: an explicit profile wins over urgency.
func (p SLAProfile) UseUrgentLimits(isUrgent bool) bool {
	switch p {
	case ProfileNormal:
		return false
	case ProfileUrgent:
		return true
	default:
		return isUrgent
	}
}

type limitKey struct {
	group  int64
	urgent bool
}

// LimitTable holds two independent limit tables, one for urgent and one for normal orders.
type LimitTable struct {
	limits map[limitKey]float64
}

// NewLimitTable indexes rules by (group, urgency). A later rule overrides an earlier one.
func NewLimitTable(rules []SLARule) LimitTable {
	t := LimitTable{limits: make(map[limitKey]float64, len(rules))}
	for _, r := range rules {
		t.limits[limitKey{group: r.GroupID, urgent: r.IsUrgent}] = r.LimitHours
	}
	return t
}

// Limit returns the limit in hours for a group, if configured.
func (t LimitTable) Limit(groupID int64, urgent bool) (float64, bool) {
	h, ok := t.limits[limitKey{group: groupID, urgent: urgent}]
	return h, ok
}

// Limits returns the per-group limit hours of one table.
func (t LimitTable) Limits(urgent bool) map[int64]float64 {
	out := make(map[int64]float64)
	for k, h := range t.limits {
		if k.urgent == urgent {
			out[k.group] = h
		}
	}
	return out
}

// Empty reports whether no limit is configured at all.
func (t LimitTable) Empty() bool {
	return len(t.limits) == 0
}

// ClassifyStage compares one residency with its limit.
// A limit of zero or less means the stage is not tracked.
func ClassifyStage(seconds int64, limitHours float64, near float64) SLAState {
	if limitHours <= 0 {
		return SLANeutral
	}
	limit := limitHours * 3600
	s := float64(seconds)
	switch {
	case s > limit:
		return SLAOver
	case s >= limit*near:
		return SLANear
	default:
		return SLAOk
	}
}

// Classify assigns a state to every stage the order visited.
func Classify(stageSeconds map[int64]int64, limits map[int64]float64, near float64) map[int64]SLAState {
	near = NormalizeNearThreshold(near)
	states := make(map[int64]SLAState, len(stageSeconds))
	for group, seconds := range stageSeconds {
		limit, ok := limits[group]
		if !ok {
			states[group] = SLANeutral
			continue
		}
		states[group] = ClassifyStage(seconds, limit, near)
	}
	return states
}
