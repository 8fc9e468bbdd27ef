package settings

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"crm-sla/internal/calendar"
	"crm-sla/internal/stats"
	"crm-sla/internal/urgency"
)

func id(v int64) *int64 { return &v }

func sampleDocument(projectID int64) Document {
	return Document{
		ProjectID:      projectID,
		Timezone:       "UTC",
		NearThreshold:  0.75,
		DefaultCycleID: 3,
		CycleRules: []stats.CycleRule{
			{ID: 3, Title: "New to shipped", StartGroupID: id(1), EndGroupID: id(4)},
		},
		WorkingHours: []calendar.Rule{
			{GroupID: 2, Weekday: calendar.Monday, Ranges: []calendar.Range{{Start: calendar.MustClock("09:00"), End: calendar.MustClock("18:00")}}},
			{GroupID: 2, Weekday: calendar.Sunday, Ranges: []calendar.Range{}},
		},
		SLARules: []stats.SLARule{
			{GroupID: 2, IsUrgent: false, LimitHours: 24},
			{GroupID: 2, IsUrgent: true, LimitHours: 4},
		},
		UrgentRules: []urgency.Rule{
			{ID: 1, Name: "rush", MatchType: urgency.MatchSKU, MatchValue: "RUSH", Active: true},
		},
	}
}

func TestStore_LoadMissingReturnsEmpty(t *testing.T) {
	s := NewStore(t.TempDir())
	doc, err := s.Load(5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.ProjectID != 5 || doc.DefaultCycle() != nil || len(doc.SLARules) != 0 {
		t.Errorf("expected empty document, got %+v", doc)
	}
	if doc.Near() != stats.DefaultNearThreshold {
		t.Errorf("expected default near threshold, got %v", doc.Near())
	}
}

func TestStore_SaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	if err := s.Save(sampleDocument(7)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "project-7.json")); err != nil {
		t.Fatalf("expected document file: %v", err)
	}

	doc, err := s.Load(7)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if doc.DefaultCycle() == nil || doc.DefaultCycle().Title != "New to shipped" {
		t.Errorf("default cycle lost: %+v", doc.CycleRules)
	}
	if len(doc.WorkingHours) != 2 || doc.WorkingHours[1].Ranges == nil || len(doc.WorkingHours[1].Ranges) != 0 {
		t.Errorf("closed day should survive as an explicit empty list: %+v", doc.WorkingHours)
	}
	if doc.UrgentRules[0].ProjectID != 7 {
		t.Errorf("rules should carry their project")
	}

	cal, err := doc.Calendar()
	if err != nil {
		t.Fatalf("calendar: %v", err)
	}
	sunday := time.Date(2025, 1, 5, 10, 0, 0, 0, time.UTC)
	if got := cal.WorkingSecondsBetween(sunday, sunday.Add(time.Hour), 2); got != 0 {
		t.Errorf("expected closed Sunday, got %d", got)
	}

	limit, ok := doc.Limits().Limit(2, true)
	if !ok || limit != 4 {
		t.Errorf("expected urgent limit 4h, got %v %v", limit, ok)
	}

	ids, err := s.Projects()
	if err != nil || len(ids) != 1 || ids[0] != 7 {
		t.Errorf("expected [7], got %v (%v)", ids, err)
	}
}

func TestStore_ValidationRejects(t *testing.T) {
	s := NewStore(t.TempDir())

	tests := []struct {
		name   string
		mutate func(*Document)
	}{
		{"inverted range", func(d *Document) {
			d.WorkingHours[0].Ranges[0] = calendar.Range{Start: calendar.MustClock("18:00"), End: calendar.MustClock("09:00")}
		}},
		{"bad weekday", func(d *Document) { d.WorkingHours[0].Weekday = 7 }},
		{"negative limit", func(d *Document) { d.SLARules[0].LimitHours = -1 }},
		{"near above one", func(d *Document) { d.NearThreshold = 1.5 }},
		{"unknown zone", func(d *Document) { d.Timezone = "Mars/Olympus" }},
		{"dangling default cycle", func(d *Document) { d.DefaultCycleID = 99 }},
		{"duplicate rule ids", func(d *Document) { d.UrgentRules = append(d.UrgentRules, d.UrgentRules[0]) }},
		{"missing match type", func(d *Document) { d.UrgentRules[0].MatchType = 0 }},
		{"empty match value", func(d *Document) { d.UrgentRules[0].MatchValue = "" }},
		{"bad crm url", func(d *Document) { d.CRM.BaseURL = "not a url" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := sampleDocument(1)
			tt.mutate(&doc)
			if err := s.Save(doc); !errors.Is(err, ErrInvalidDocument) {
				t.Errorf("expected ErrInvalidDocument, got %v", err)
			}
		})
	}
}

func TestStore_LoadRejectsUnknownMatchType(t *testing.T) {
	dir := t.TempDir()
	raw := `{"project_id":2,"urgent_rules":[{"id":1,"name":"x","match_type":"barcode","match_value":"1","is_active":true}]}`
	if err := os.WriteFile(filepath.Join(dir, "project-2.json"), []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewStore(dir).Load(2); !errors.Is(err, ErrInvalidDocument) {
		t.Errorf("expected ErrInvalidDocument, got %v", err)
	}
}

func TestStore_LoadSkipsMalformedHours(t *testing.T) {
	dir := t.TempDir()
	raw := `{"project_id":2,"working_hours":[
		{"group_id":2,"weekday":0,"ranges":[{"start":"09:00","end":"18:00"}]},
		{"group_id":2,"weekday":1,"ranges":[{"start":"9am","end":"18:00"}]},
		{"group_id":2,"weekday":2,"ranges":[{"start":"18:00","end":"09:00"}]},
		{"group_id":2,"weekday":9,"ranges":[]}
	]}`
	if err := os.WriteFile(filepath.Join(dir, "project-2.json"), []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	doc, err := NewStore(dir).Load(2)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(doc.WorkingHours) != 1 || doc.WorkingHours[0].Weekday != calendar.Monday {
		t.Errorf("expected only the Monday rule kept, got %+v", doc.WorkingHours)
	}
	if got := len(doc.SkippedHours()); got != 3 {
		t.Errorf("expected 3 skipped rules, got %d: %v", got, doc.SkippedHours())
	}

	cal, err := doc.Calendar()
	if err != nil {
		t.Fatalf("calendar: %v", err)
	}
	tests := []struct {
		name string
		at   time.Time
		want int64
	}{
		{"valid rule applies", time.Date(2025, 1, 6, 8, 0, 0, 0, time.UTC), 0},
		{"bad clock falls back to open", time.Date(2025, 1, 7, 3, 0, 0, 0, time.UTC), 3600},
		{"inverted range falls back to open", time.Date(2025, 1, 8, 3, 0, 0, 0, time.UTC), 3600},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cal.WorkingSecondsBetween(tt.at, tt.at.Add(time.Hour), 2); got != tt.want {
				t.Errorf("expected %d working seconds, got %d", tt.want, got)
			}
		})
	}
}

func TestStore_Update(t *testing.T) {
	s := NewStore(t.TempDir())
	if err := s.Save(sampleDocument(3)); err != nil {
		t.Fatal(err)
	}

	doc, err := s.Update(3, func(d *Document) error {
		d.UrgentRules = append(d.UrgentRules, urgency.Rule{ID: 2, Name: "vip", MatchType: urgency.MatchProductID, MatchValue: "42", Active: true})
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if len(doc.UrgentRules) != 2 {
		t.Errorf("expected 2 urgent rules, got %d", len(doc.UrgentRules))
	}

	_, err = s.Update(3, func(d *Document) error { return errors.New("abort") })
	if err == nil {
		t.Errorf("mutation error should propagate")
	}
}

func TestStore_Overrides(t *testing.T) {
	s := NewStore(t.TempDir())
	no := false
	start := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)

	if err := s.SetOverride(4, OrderOverride{OrderID: 10, IsUrgentOverride: &no, CycleStartOverride: &start}); err != nil {
		t.Fatalf("SetOverride failed: %v", err)
	}
	if err := s.SetOverride(4, OrderOverride{OrderID: 11, SLAProfileOverride: stats.ProfileUrgent}); err != nil {
		t.Fatalf("SetOverride failed: %v", err)
	}

	o, err := s.Override(4, 10)
	if err != nil || o == nil {
		t.Fatalf("expected override, got %v (%v)", o, err)
	}
	if o.IsUrgentOverride == nil || *o.IsUrgentOverride {
		t.Errorf("expected is_urgent_override=false")
	}
	if !o.CycleStartOverride.Equal(start) {
		t.Errorf("unexpected cycle start %v", o.CycleStartOverride)
	}

	// Clearing every field removes the override.
	if err := s.SetOverride(4, OrderOverride{OrderID: 10}); err != nil {
		t.Fatal(err)
	}
	all, err := s.Overrides(4)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := all[10]; ok || len(all) != 1 {
		t.Errorf("expected only order 11 left, got %v", all)
	}

	if err := s.SetOverride(4, OrderOverride{OrderID: 12, SLAProfileOverride: "express"}); !errors.Is(err, ErrInvalidDocument) {
		t.Errorf("expected ErrInvalidDocument for unknown profile, got %v", err)
	}
}

func TestSchema(t *testing.T) {
	schema, err := Schema()
	if err != nil {
		t.Fatalf("Schema failed: %v", err)
	}
	b, err := json.Marshal(schema)
	if err != nil {
		t.Fatal(err)
	}
	var top map[string]any
	if err := json.Unmarshal(b, &top); err != nil {
		t.Fatal(err)
	}
	props, ok := top["properties"].(map[string]any)
	if !ok {
		t.Fatalf("expected properties in schema: %s", b)
	}
	for _, key := range []string{"working_hours", "sla_rules", "urgent_rules", "cycle_rules", "near_threshold"} {
		if _, ok := props[key]; !ok {
			t.Errorf("schema is missing %q", key)
		}
	}
}
