package stats

import (
	"cmp"
	"slices"
)

// OrderSample is the per-order input of the reports.
type OrderSample struct {
	OrderID      int64
	IsUrgent     bool
	Residency    Residency
	CycleSeconds *int64
	SLAStates    map[int64]SLAState
}

// GroupTiming summarises how long orders stay in one stage.
type GroupTiming struct {
	GroupID               int64   `json:"status_group_id"`
	Orders                int     `json:"orders"`
	AvgWorkingSeconds     float64 `json:"avg_working_seconds"`
	MedianWorkingSeconds  float64 `json:"median_working_seconds"`
	MaxWorkingSeconds     int64   `json:"max_working_seconds"`
	AvgCalendarSeconds    float64 `json:"avg_calendar_seconds"`
	MedianCalendarSeconds float64 `json:"median_calendar_seconds"`
}

// StageTimeReport is the stage residency overview of a set of orders.
type StageTimeReport struct {
	Orders             int           `json:"orders"`
	Groups             []GroupTiming `json:"groups"`
	CycleOrders        int           `json:"cycle_orders"`
	AvgCycleSeconds    *float64      `json:"avg_cycle_seconds"`
	MedianCycleSeconds *float64      `json:"median_cycle_seconds"`
}

// BuildStageTimeReport aggregates residency per group. Groups are sorted by ID.
func BuildStageTimeReport(samples []OrderSample) StageTimeReport {
	working := make(map[int64][]float64)
	wall := make(map[int64][]float64)
	maxWorking := make(map[int64]int64)
	var cycles []float64

	for _, s := range samples {
		for g, sec := range s.Residency.Working {
			working[g] = append(working[g], float64(sec))
			maxWorking[g] = max(maxWorking[g], sec)
		}
		for g, sec := range s.Residency.Calendar {
			wall[g] = append(wall[g], float64(sec))
		}
		if s.CycleSeconds != nil {
			cycles = append(cycles, float64(*s.CycleSeconds))
		}
	}

	report := StageTimeReport{
		Orders:      len(samples),
		Groups:      make([]GroupTiming, 0, len(working)),
		CycleOrders: len(cycles),
	}
	for g, values := range working {
		report.Groups = append(report.Groups, GroupTiming{
			GroupID:               g,
			Orders:                len(values),
			AvgWorkingSeconds:     mean(values),
			MedianWorkingSeconds:  median(values),
			MaxWorkingSeconds:     maxWorking[g],
			AvgCalendarSeconds:    mean(wall[g]),
			MedianCalendarSeconds: median(wall[g]),
		})
	}
	slices.SortFunc(report.Groups, func(a, b GroupTiming) int { return cmp.Compare(a.GroupID, b.GroupID) })

	if len(cycles) > 0 {
		avg := mean(cycles)
		med := median(cycles)
		report.AvgCycleSeconds = &avg
		report.MedianCycleSeconds = &med
	}
	return report
}

// GroupSLA counts SLA states of one stage.
type GroupSLA struct {
	GroupID     int64   `json:"status_group_id"`
	Ok          int     `json:"ok"`
	Near        int     `json:"near"`
	Over        int     `json:"over"`
	Neutral     int     `json:"neutral"`
	BreachShare float64 `json:"breach_share"`
}

// SLAReport is the SLA compliance overview of a set of orders.
type SLAReport struct {
	Orders      int        `json:"orders"`
	OrdersOver  int        `json:"orders_over"`
	OrdersNear  int        `json:"orders_near"`
	BreachShare float64    `json:"breach_share"`
	Groups      []GroupSLA `json:"groups"`
}

// BuildSLAReport counts states per group. A group's breach share only
// considers tracked (non-neutral) stages.
func BuildSLAReport(samples []OrderSample) SLAReport {
	byGroup := make(map[int64]*GroupSLA)
	report := SLAReport{Orders: len(samples)}

	for _, s := range samples {
		worst := SLANeutral
		for g, state := range s.SLAStates {
			gs, ok := byGroup[g]
			if !ok {
				gs = &GroupSLA{GroupID: g}
				byGroup[g] = gs
			}
			switch state {
			case SLAOk:
				gs.Ok++
			case SLANear:
				gs.Near++
			case SLAOver:
				gs.Over++
			default:
				gs.Neutral++
			}
			if state.Severity() > worst.Severity() {
				worst = state
			}
		}
		switch worst {
		case SLAOver:
			report.OrdersOver++
		case SLANear:
			report.OrdersNear++
		}
	}

	report.Groups = make([]GroupSLA, 0, len(byGroup))
	for _, gs := range byGroup {
		if tracked := gs.Ok + gs.Near + gs.Over; tracked > 0 {
			gs.BreachShare = float64(gs.Over) / float64(tracked)
		}
		report.Groups = append(report.Groups, *gs)
	}
	slices.SortFunc(report.Groups, func(a, b GroupSLA) int { return cmp.Compare(a.GroupID, b.GroupID) })

	if report.Orders > 0 {
		report.BreachShare = float64(report.OrdersOver) / float64(report.Orders)
	}
	return report
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// median averages the two middle values of an even-sized sample.
func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
