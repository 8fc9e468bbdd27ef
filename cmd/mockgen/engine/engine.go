package engine

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"crm-sla/internal/calendar"
	"crm-sla/internal/eventlog"
	"crm-sla/internal/settings"
	"crm-sla/internal/stats"
	"crm-sla/internal/urgency"
)

const crmTime = "2006-01-02 15:04:05"

type GeneratorConfig struct {
	ProjectID    int64
	Scenario     string // mild, chaos or drift
	Distribution string // uniform or weibull
	Count        int
	Now          time.Time
	Seed         uint64
}

// stage is one status group orders pass through, with the statuses used in it.
type stage struct {
	GroupID  int64
	Statuses []int64
	// Share of the total order duration spent here.
	Share float64
}

var pipeline = []stage{
	{GroupID: 1, Statuses: []int64{1}, Share: 0.10},
	{GroupID: 2, Statuses: []int64{2, 3}, Share: 0.20},
	{GroupID: 3, Statuses: []int64{4, 5}, Share: 0.45},
	{GroupID: 4, Statuses: []int64{6}, Share: 0.25},
	{GroupID: 5, Statuses: []int64{7}},
}

// Generate produces status-change webhooks for Count orders, one arriving per
// eight hours up to Now. Orders still in flight at Now stop mid-pipeline.
func Generate(cfg GeneratorConfig) []eventlog.Webhook {
	if cfg.Now.IsZero() {
		cfg.Now = time.Now().UTC()
	}
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))

	var hooks []eventlog.Webhook
	firstArrival := cfg.Now.Add(-time.Duration(cfg.Count) * 8 * time.Hour)

	for i := 0; i < cfg.Count; i++ {
		orderID := int64(1000 + i)
		created := firstArrival.Add(time.Duration(i) * 8 * time.Hour)

		k, lambda := 2.5, 3.0 // mild: about three days end to end
		switch cfg.Scenario {
		case "chaos":
			k = 0.8
		case "drift":
			ratio := float64(i) / float64(cfg.Count)
			k = 2.5 - 1.7*ratio
			lambda = 3.0 + 2.0*ratio
		}

		var totalDays float64
		if cfg.Distribution == "weibull" {
			totalDays = weibullSample(rng, k, lambda)
		} else {
			totalDays = 1.5 + rng.Float64()*3.0
			if cfg.Scenario == "chaos" && rng.Float64() < 0.2 {
				totalDays += 4 + rng.Float64()*6
			}
			if cfg.Scenario == "drift" && i > cfg.Count/2 {
				totalDays *= 2.0
			}
		}
		total := time.Duration(totalDays * 24 * float64(time.Hour))

		at := created
		for _, st := range pipeline {
			if at.After(cfg.Now) {
				break
			}
			spent := time.Duration(st.Share * float64(total))
			step := spent / time.Duration(len(st.Statuses))
			for _, status := range st.Statuses {
				if at.After(cfg.Now) {
					break
				}
				hooks = append(hooks, webhook(cfg.ProjectID, orderID, status, st.GroupID, at, created))
				at = at.Add(step)
			}
		}
	}
	return hooks
}

func webhook(projectID, orderID, statusID, groupID int64, at, created time.Time) eventlog.Webhook {
	return eventlog.Webhook{
		Event:   "order.change_order_status",
		Project: eventlog.FlexInt(projectID),
		Context: &eventlog.WebhookContext{
			ID:              eventlog.FlexInt(orderID),
			StatusID:        eventlog.FlexInt(statusID),
			StatusGroupID:   eventlog.FlexInt(groupID),
			StatusChangedAt: at.UTC().Format(crmTime),
			CreatedAt:       created.UTC().Format(crmTime),
		},
	}
}

func weibullSample(rng *rand.Rand, k, lambda float64) float64 {
	u := rng.Float64()
	if u == 0 {
		u = 0.0001
	}
	// X = lambda * (-ln(1-u))^(1/k)
	return lambda * math.Pow(-math.Log(1.0-u), 1.0/k)
}

// Settings is a document matching the generated pipeline: weekday office hours
// for the manual stages, limits on approval and production, and one urgent SKU.
func Settings(projectID int64) settings.Document {
	doc := settings.Empty(projectID)
	doc.Timezone = "Europe/Warsaw"
	doc.DefaultCycleID = 1
	start, end := int64(1), int64(5)
	doc.CycleRules = []stats.CycleRule{{ID: 1, Title: "New to completed", StartGroupID: &start, EndGroupID: &end}}

	office := []calendar.Range{{Start: calendar.MustClock("09:00"), End: calendar.MustClock("18:00")}}
	for _, group := range []int64{2, 3} {
		for day := calendar.Monday; day <= calendar.Friday; day++ {
			doc.WorkingHours = append(doc.WorkingHours, calendar.Rule{GroupID: group, Weekday: day, Ranges: office})
		}
		for _, day := range []calendar.Weekday{calendar.Saturday, calendar.Sunday} {
			doc.WorkingHours = append(doc.WorkingHours, calendar.Rule{GroupID: group, Weekday: day, Ranges: []calendar.Range{}})
		}
	}

	doc.SLARules = []stats.SLARule{
		{GroupID: 2, LimitHours: 8},
		{GroupID: 2, IsUrgent: true, LimitHours: 2},
		{GroupID: 3, LimitHours: 16},
		{GroupID: 3, IsUrgent: true, LimitHours: 6},
	}
	doc.UrgentRules = []urgency.Rule{{ID: 1, Name: "express", MatchType: urgency.MatchSKU, MatchValue: "EXPRESS", Active: true}}
	return doc
}

// Save writes the webhooks as JSON lines and stores the settings document in
// outDir/settings, where crm-sla reads it when DATA_PATH is outDir.
func Save(outDir string, projectID int64, hooks []eventlog.Webhook, doc settings.Document) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", err
	}

	path := filepath.Join(outDir, fmt.Sprintf("webhooks-%d.jsonl", projectID))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, h := range hooks {
		if err := enc.Encode(h); err != nil {
			return "", err
		}
	}
	if err := w.Flush(); err != nil {
		return "", err
	}

	if err := settings.NewStore(filepath.Join(outDir, "settings")).Save(doc); err != nil {
		return "", err
	}
	return path, nil
}
