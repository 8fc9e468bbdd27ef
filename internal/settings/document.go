package settings

import (
	"fmt"
	"time"

	"crm-sla/internal/calendar"
	"crm-sla/internal/stats"
	"crm-sla/internal/urgency"
)

// CRM holds project-specific API credentials. Empty fields fall back to the environment.
type CRM struct {
	BaseURL  string `json:"base_url,omitempty" validate:"omitempty,url" jsonschema:"CRM API root, e.g. https://openapi.keycrm.app/v1"`
	APIToken string `json:"api_token,omitempty" jsonschema:"bearer token for the CRM API"`
}

// Document is the complete configuration of one project.
type Document struct {
	ProjectID      int64   `json:"project_id" validate:"gt=0"`
	Timezone       string  `json:"timezone,omitempty" validate:"omitempty,timezone" jsonschema:"IANA zone working hours are read in; empty means UTC"`
	NearThreshold  float64 `json:"near_threshold,omitempty" validate:"gte=0,lte=1" jsonschema:"share of an SLA limit from which a stage is near; 0 means 0.8"`
	DefaultCycleID int64   `json:"default_cycle_id,omitempty" validate:"gte=0" jsonschema:"ID of the cycle rule used for order views"`

	CycleRules   []stats.CycleRule `json:"cycle_rules" validate:"unique=ID,dive"`
	WorkingHours []calendar.Rule   `json:"working_hours" validate:"dive"`
	SLARules     []stats.SLARule   `json:"sla_rules" validate:"dive"`
	UrgentRules  []urgency.Rule    `json:"urgent_rules" validate:"unique=ID,dive"`

	CRM CRM `json:"crm"`

	// skipped lists stored working-hours rules that could not be used.
	skipped []string
}

// SkippedHours describes the stored working-hours rules that were dropped on load.
// Their days stay open around the clock.
func (d Document) SkippedHours() []string {
	return d.skipped
}

// Empty is the configuration of a project nobody has configured yet:
// open around the clock, no cycle, no limits and no urgent rules.
func Empty(projectID int64) Document {
	return Document{
		ProjectID:    projectID,
		CycleRules:   []stats.CycleRule{},
		WorkingHours: []calendar.Rule{},
		SLARules:     []stats.SLARule{},
		UrgentRules:  []urgency.Rule{},
	}
}

// DefaultCycle returns the rule selected by DefaultCycleID, or nil.
func (d Document) DefaultCycle() *stats.CycleRule {
	if d.DefaultCycleID == 0 {
		return nil
	}
	for i := range d.CycleRules {
		if d.CycleRules[i].ID == d.DefaultCycleID {
			r := d.CycleRules[i]
			return &r
		}
	}
	return nil
}

// Location resolves the project timezone. An unknown zone falls back to UTC.
func (d Document) Location() (*time.Location, error) {
	if d.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(d.Timezone)
	if err != nil {
		return time.UTC, fmt.Errorf("unknown timezone %q, using UTC: %w", d.Timezone, err)
	}
	return loc, nil
}

// Calendar builds the working calendar of the project.
func (d Document) Calendar() (*calendar.Calendar, error) {
	loc, err := d.Location()
	return calendar.New(d.WorkingHours, calendar.WithLocation(loc)), err
}

// Limits indexes the SLA rules.
func (d Document) Limits() stats.LimitTable {
	return stats.NewLimitTable(d.SLARules)
}

// Near returns the effective near threshold.
func (d Document) Near() float64 {
	return stats.NormalizeNearThreshold(d.NearThreshold)
}

// normalize replaces nil slices so that stored documents are explicit.
func (d *Document) normalize() {
	if d.CycleRules == nil {
		d.CycleRules = []stats.CycleRule{}
	}
	if d.WorkingHours == nil {
		d.WorkingHours = []calendar.Rule{}
	}
	if d.SLARules == nil {
		d.SLARules = []stats.SLARule{}
	}
	if d.UrgentRules == nil {
		d.UrgentRules = []urgency.Rule{}
	}
	for i := range d.UrgentRules {
		d.UrgentRules[i].ProjectID = d.ProjectID
	}
	for i := range d.CycleRules {
		d.CycleRules[i].ProjectID = d.ProjectID
	}
	for i := range d.SLARules {
		d.SLARules[i].ProjectID = d.ProjectID
	}
}

// OrderOverride is a manual correction an admin applied to one order.
type OrderOverride struct {
	OrderID            int64            `json:"order_id" validate:"gt=0"`
	IsUrgentOverride   *bool            `json:"is_urgent_override,omitempty"`
	CycleStartOverride *time.Time       `json:"cycle_start_override,omitempty"`
	CycleEndOverride   *time.Time       `json:"cycle_end_override,omitempty"`
	SLAProfileOverride stats.SLAProfile `json:"sla_profile_override,omitempty" validate:"omitempty,oneof=normal urgent"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// Empty reports whether the override no longer changes anything.
func (o OrderOverride) Empty() bool {
	return o.IsUrgentOverride == nil &&
		o.CycleStartOverride == nil &&
		o.CycleEndOverride == nil &&
		o.SLAProfileOverride == stats.ProfileAuto
}

type overridesFile struct {
	ProjectID int64           `json:"project_id"`
	Orders    []OrderOverride `json:"orders"`
}
