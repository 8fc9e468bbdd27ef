package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"sync"
	"time"

	"crm-sla/internal/calendar"
	"crm-sla/internal/urgency"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

// ErrInvalidDocument wraps every validation failure of a settings document or override.
var ErrInvalidDocument = errors.New("invalid settings document")

// Store keeps one JSON document per project under a directory.
// Reads always go to disk so that edits made by other processes are seen.
type Store struct {
	dir      string
	validate *validator.Validate
	mu       sync.Mutex
}

func NewStore(dir string) *Store {
	return &Store{dir: dir, validate: newValidator()}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		r := sl.Current().Interface().(calendar.Range)
		if r.End <= r.Start {
			sl.ReportError(r.End, "End", "end", "after_start", r.Start.String())
		}
		if r.End > calendar.SecondsPerDay {
			sl.ReportError(r.End, "End", "end", "max_24h", "")
		}
	}, calendar.Range{})
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		r := sl.Current().Interface().(urgency.Rule)
		if !r.MatchType.Valid() {
			sl.ReportError(r.MatchType, "MatchType", "match_type", "match_type", "")
		}
	}, urgency.Rule{})
	return v
}

func (s *Store) documentPath(projectID int64) string {
	return filepath.Join(s.dir, fmt.Sprintf("project-%d.json", projectID))
}

func (s *Store) overridesPath(projectID int64) string {
	return filepath.Join(s.dir, fmt.Sprintf("project-%d-overrides.json", projectID))
}

// Validate checks a document against its constraints.
func (s *Store) Validate(doc Document) error {
	if err := s.validate.Struct(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if doc.DefaultCycleID != 0 && doc.DefaultCycle() == nil {
		return fmt.Errorf("%w: default_cycle_id %d does not match any cycle rule", ErrInvalidDocument, doc.DefaultCycleID)
	}
	return nil
}

// Load returns a project's document, or the empty document if none is stored.
func (s *Store) Load(projectID int64) (Document, error) {
	data, err := os.ReadFile(s.documentPath(projectID))
	if err != nil {
		if os.IsNotExist(err) {
			return Empty(projectID), nil
		}
		return Document{}, fmt.Errorf("failed to read settings: %w", err)
	}

	var stored storedDocument
	if err := json.Unmarshal(data, &stored); err != nil {
		return Document{}, fmt.Errorf("%w: project %d: %v", ErrInvalidDocument, projectID, err)
	}
	doc := stored.Document
	doc.ProjectID = projectID
	doc.WorkingHours, doc.skipped = s.decodeHours(stored.WorkingHours)
	for _, msg := range doc.skipped {
		log.Warn().Int64("project", projectID).Str("rule", msg).Msg("Ignoring malformed working hours")
	}
	doc.normalize()
	return doc, nil
}

// storedDocument defers working hours so that one broken rule does not fail the document.
type storedDocument struct {
	Document
	WorkingHours []json.RawMessage `json:"working_hours"`
}

// decodeHours keeps the rules that decode and validate. The others are reported
// and their (group, weekday) falls back to open 24h.
func (s *Store) decodeHours(raw []json.RawMessage) ([]calendar.Rule, []string) {
	rules := make([]calendar.Rule, 0, len(raw))
	var skipped []string
	for i, r := range raw {
		var rule calendar.Rule
		err := json.Unmarshal(r, &rule)
		if err == nil {
			err = s.validate.Struct(rule)
		}
		if err != nil {
			skipped = append(skipped, fmt.Sprintf("working_hours[%d] ignored, day treated as open 24h: %v", i, err))
			continue
		}
		rules = append(rules, rule)
	}
	return rules, skipped
}

// Save validates and atomically writes a project's document.
func (s *Store) Save(doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(doc)
}

func (s *Store) save(doc Document) error {
	doc.normalize()
	if err := s.Validate(doc); err != nil {
		return err
	}
	if err := writeJSON(s.documentPath(doc.ProjectID), doc); err != nil {
		return err
	}
	log.Info().Int64("project", doc.ProjectID).
		Int("cycle_rules", len(doc.CycleRules)).
		Int("working_hours", len(doc.WorkingHours)).
		Int("sla_rules", len(doc.SLARules)).
		Int("urgent_rules", len(doc.UrgentRules)).
		Msg("Project settings saved")
	return nil
}

// Update loads, mutates and saves a document under the store lock.
func (s *Store) Update(projectID int64, mutate func(*Document) error) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.Load(projectID)
	if err != nil {
		return Document{}, err
	}
	if err := mutate(&doc); err != nil {
		return Document{}, err
	}
	doc.ProjectID = projectID
	doc.normalize()
	if err := s.save(doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

var documentName = regexp.MustCompile(`^project-(\d+)\.json$`)

// Projects lists the IDs of all configured projects in ascending order.
func (s *Store) Projects() ([]int64, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	var ids []int64
	for _, e := range entries {
		m := documentName.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		if id, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// Overrides returns all order overrides of a project keyed by order ID.
func (s *Store) Overrides(projectID int64) (map[int64]OrderOverride, error) {
	data, err := os.ReadFile(s.overridesPath(projectID))
	if err != nil {
		if os.IsNotExist(err) {
			return map[int64]OrderOverride{}, nil
		}
		return nil, fmt.Errorf("failed to read overrides: %w", err)
	}

	var f overridesFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: overrides of project %d: %v", ErrInvalidDocument, projectID, err)
	}
	out := make(map[int64]OrderOverride, len(f.Orders))
	for _, o := range f.Orders {
		out[o.OrderID] = o
	}
	return out, nil
}

// Override returns a single order's override, nil when there is none.
func (s *Store) Override(projectID, orderID int64) (*OrderOverride, error) {
	all, err := s.Overrides(projectID)
	if err != nil {
		return nil, err
	}
	o, ok := all[orderID]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

// SetOverride stores an order override. An override that changes nothing is removed.
func (s *Store) SetOverride(projectID int64, o OrderOverride) error {
	if err := s.validate.Struct(o); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.Overrides(projectID)
	if err != nil {
		return err
	}
	if o.Empty() {
		delete(all, o.OrderID)
	} else {
		o.UpdatedAt = time.Now().UTC()
		all[o.OrderID] = o
	}

	f := overridesFile{ProjectID: projectID, Orders: make([]OrderOverride, 0, len(all))}
	for _, v := range all {
		f.Orders = append(f.Orders, v)
	}
	slices.SortFunc(f.Orders, func(a, b OrderOverride) int {
		switch {
		case a.OrderID < b.OrderID:
			return -1
		case a.OrderID > b.OrderID:
			return 1
		}
		return 0
	})

	if err := writeJSON(s.overridesPath(projectID), f); err != nil {
		return err
	}
	log.Info().Int64("project", projectID).Int64("order", o.OrderID).Bool("cleared", o.Empty()).Msg("Order override stored")
	return nil
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create settings dir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp settings file: %w", err)
	}
	// Atomic rename
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename settings file: %w", err)
	}
	return nil
}
