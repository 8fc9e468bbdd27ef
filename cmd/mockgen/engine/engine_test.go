package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"crm-sla/internal/eventlog"
	"crm-sla/internal/settings"
)

func TestGenerate_EventsAreOrderedPerOrder(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, scenario := range []string{"mild", "chaos", "drift"} {
		for _, dist := range []string{"uniform", "weibull"} {
			t.Run(scenario+"/"+dist, func(t *testing.T) {
				hooks := Generate(GeneratorConfig{ProjectID: 7, Scenario: scenario, Distribution: dist, Count: 30, Now: now, Seed: 1})
				if len(hooks) < 30 {
					t.Fatalf("expected at least one webhook per order, got %d", len(hooks))
				}

				last := map[int64]time.Time{}
				for _, h := range hooks {
					body, err := jsonBody(h)
					if err != nil {
						t.Fatal(err)
					}
					change, err := eventlog.TransformWebhook(0, body)
					if err != nil {
						t.Fatalf("generated webhook does not parse: %v", err)
					}
					if change.Event.ProjectID != 7 {
						t.Errorf("expected project 7, got %d", change.Event.ProjectID)
					}
					if change.Event.EnteredAt.After(now) {
						t.Errorf("event after now: %v", change.Event.EnteredAt)
					}
					if prev, ok := last[change.Event.OrderID]; ok && change.Event.EnteredAt.Before(prev) {
						t.Errorf("order %d goes back in time", change.Event.OrderID)
					}
					last[change.Event.OrderID] = change.Event.EnteredAt
				}
			})
		}
	}
}

func TestSave_IngestableOutput(t *testing.T) {
	dir := t.TempDir()
	hooks := Generate(GeneratorConfig{ProjectID: 3, Count: 5, Now: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), Seed: 2})

	path, err := Save(dir, 3, hooks, Settings(3))
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines++
	}
	if lines != len(hooks) {
		t.Errorf("expected %d lines, got %d", len(hooks), lines)
	}

	doc, err := settings.NewStore(filepath.Join(dir, "settings")).Load(3)
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}
	if doc.DefaultCycle() == nil || len(doc.SLARules) != 4 || len(doc.UrgentRules) != 1 {
		t.Errorf("unexpected settings %+v", doc)
	}

	events := eventlog.NewLogProvider(eventlog.NewEventStore(), t.TempDir())
	var changes []eventlog.StatusEvent
	for _, h := range hooks {
		body, _ := jsonBody(h)
		c, err := eventlog.TransformWebhook(3, body)
		if err != nil {
			t.Fatal(err)
		}
		changes = append(changes, c.Event)
	}
	added, err := events.Append(context.Background(), 3, changes)
	if err != nil || added != len(hooks) {
		t.Errorf("expected %d distinct events, got %d (%v)", len(hooks), added, err)
	}
}

func jsonBody(h eventlog.Webhook) ([]byte, error) {
	return json.Marshal(h)
}
