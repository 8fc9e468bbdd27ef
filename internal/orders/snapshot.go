package orders

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"crm-sla/internal/eventlog"
	"crm-sla/internal/urgency"

	"github.com/rs/zerolog/log"
)

// ErrOrderNotFound is returned when neither a snapshot nor any event exists for an order.
var ErrOrderNotFound = errors.New("order not found")

// Snapshot is the denormalized current state of an order.
type Snapshot struct {
	ProjectID     int64          `json:"project_id"`
	OrderID       int64          `json:"order_id"`
	StartedAt     time.Time      `json:"started_at"`
	LastStatusID  int64          `json:"last_status_id"`
	LastGroupID   int64          `json:"last_status_group_id"`
	LastChangedAt time.Time      `json:"last_changed_at"`
	Items         []urgency.Item `json:"items,omitempty"`
	ItemsFetched  bool           `json:"items_fetched"`
	IsUrgent      bool           `json:"is_urgent"`
	UrgentRule    string         `json:"urgent_rule,omitempty"`
	// UrgencyEvaluatedAt is set once IsUrgent holds a real decision.
	UrgencyEvaluatedAt *time.Time `json:"urgency_evaluated_at,omitempty"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// SnapshotStore keeps current-order snapshots in memory, one JSON file per project.
type SnapshotStore struct {
	dir string
	now func() time.Time

	mu     sync.RWMutex
	orders map[int64]map[int64]*Snapshot
	loaded map[int64]bool
}

func NewSnapshotStore(dir string) *SnapshotStore {
	return &SnapshotStore{
		dir:    dir,
		now:    time.Now,
		orders: make(map[int64]map[int64]*Snapshot),
		loaded: make(map[int64]bool),
	}
}

func (s *SnapshotStore) path(projectID int64) string {
	return filepath.Join(s.dir, fmt.Sprintf("project-%d.json", projectID))
}

// ensureLocked hydrates a project from disk. Callers hold the write lock.
func (s *SnapshotStore) ensureLocked(projectID int64) error {
	if s.loaded[projectID] {
		return nil
	}
	byOrder := make(map[int64]*Snapshot)
	if s.dir != "" {
		data, err := os.ReadFile(s.path(projectID))
		switch {
		case err == nil:
			var list []Snapshot
			if err := json.Unmarshal(data, &list); err != nil {
				return fmt.Errorf("failed to decode snapshots of project %d: %w", projectID, err)
			}
			for i := range list {
				snap := list[i]
				byOrder[snap.OrderID] = &snap
			}
			log.Debug().Int64("project", projectID).Int("count", len(list)).Msg("Loaded order snapshots")
		case !os.IsNotExist(err):
			return fmt.Errorf("failed to read snapshots: %w", err)
		}
	}
	s.orders[projectID] = byOrder
	s.loaded[projectID] = true
	return nil
}

func (s *SnapshotStore) ensure(projectID int64) error {
	s.mu.RLock()
	ok := s.loaded[projectID]
	s.mu.RUnlock()
	if ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureLocked(projectID)
}

// saveLocked writes a project's snapshots atomically. Callers hold the write lock.
func (s *SnapshotStore) saveLocked(projectID int64) error {
	if s.dir == "" {
		return nil
	}
	list := make([]Snapshot, 0, len(s.orders[projectID]))
	for _, snap := range s.orders[projectID] {
		list = append(list, *snap)
	}
	slices.SortFunc(list, func(a, b Snapshot) int { return cmp.Compare(a.OrderID, b.OrderID) })

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot dir: %w", err)
	}
	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("failed to encode snapshots: %w", err)
	}
	path := s.path(projectID)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp snapshot file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename snapshot file: %w", err)
	}
	return nil
}

// Upsert folds a status change into the order's snapshot. The start time keeps
// its first value and the last_* fields never move back in time.
func (s *SnapshotStore) Upsert(ctx context.Context, change eventlog.Change) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	e := change.Event

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLocked(e.ProjectID); err != nil {
		return Snapshot{}, err
	}

	byOrder := s.orders[e.ProjectID]
	snap, ok := byOrder[e.OrderID]
	if !ok {
		snap = &Snapshot{ProjectID: e.ProjectID, OrderID: e.OrderID, StartedAt: change.StartedAt}
		byOrder[e.OrderID] = snap
	}
	if snap.StartedAt.IsZero() {
		snap.StartedAt = change.StartedAt
	}
	if !e.EnteredAt.Before(snap.LastChangedAt) {
		snap.LastStatusID = e.StatusID
		snap.LastGroupID = e.GroupID
		snap.LastChangedAt = e.EnteredAt
	}
	snap.UpdatedAt = s.now().UTC()

	if err := s.saveLocked(e.ProjectID); err != nil {
		return *snap, err
	}
	return *snap, nil
}

// SetItems stores fetched line items together with the urgency decided for them.
func (s *SnapshotStore) SetItems(ctx context.Context, projectID, orderID int64, items []urgency.Item, decision urgency.Result) (Snapshot, error) {
	var out Snapshot
	_, err := s.Update(ctx, projectID, func(snap *Snapshot) bool {
		if snap.OrderID != orderID {
			return false
		}
		now := s.now().UTC()
		snap.Items = slices.Clone(items)
		snap.ItemsFetched = true
		snap.IsUrgent = decision.Urgent
		snap.UrgentRule = decision.RuleName
		snap.UrgencyEvaluatedAt = &now
		snap.UpdatedAt = now
		out = *snap
		return true
	})
	if err != nil {
		return Snapshot{}, err
	}
	if out.OrderID == 0 {
		return Snapshot{}, fmt.Errorf("%w: project %d order %d", ErrOrderNotFound, projectID, orderID)
	}
	return out, nil
}

// Update applies fn to every snapshot of a project and persists when any call
// reports a change. It returns the number of changed snapshots.
func (s *SnapshotStore) Update(ctx context.Context, projectID int64, fn func(*Snapshot) bool) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLocked(projectID); err != nil {
		return 0, err
	}

	changed := 0
	for _, snap := range s.orders[projectID] {
		if fn(snap) {
			changed++
		}
	}
	if changed == 0 {
		return 0, nil
	}
	return changed, s.saveLocked(projectID)
}

// ListSnapshots returns copies of all snapshots of a project.
func (s *SnapshotStore) ListSnapshots(ctx context.Context, projectID int64) ([]Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ensure(projectID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]Snapshot, 0, len(s.orders[projectID]))
	for _, snap := range s.orders[projectID] {
		list = append(list, *snap)
	}
	return list, nil
}

// GetSnapshot returns one order's snapshot.
func (s *SnapshotStore) GetSnapshot(ctx context.Context, projectID, orderID int64) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	if err := s.ensure(projectID); err != nil {
		return Snapshot{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.orders[projectID][orderID]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: project %d order %d", ErrOrderNotFound, projectID, orderID)
	}
	return *snap, nil
}
