package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"
)

// EventStore provides thread-safe, chronological storage for StatusEvents.
type EventStore struct {
	mu   sync.RWMutex
	logs map[int64][]StatusEvent       // Partitioned by project
	seen map[int64]map[string]struct{} // Dedup keys per project
}

// NewEventStore creates a new empty EventStore.
func NewEventStore() *EventStore {
	return &EventStore{
		logs: make(map[int64][]StatusEvent),
		seen: make(map[int64]map[string]struct{}),
	}
}

// Append adds events to a project's log, skipping already known status changes.
// It returns the number of events actually added.
func (s *EventStore) Append(projectID int64, events []StatusEvent) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen, ok := s.seen[projectID]
	if !ok {
		seen = make(map[string]struct{})
		s.seen[projectID] = seen
	}

	entries := s.logs[projectID]
	added := 0
	for _, e := range events {
		e.ProjectID = projectID
		key := e.DedupKey()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		entries = append(entries, e)
		added++
	}

	if added == 0 {
		return 0
	}

	// Stable so that same-instant events keep their arrival order.
	slices.SortStableFunc(entries, func(a, b StatusEvent) int {
		return a.EnteredAt.Compare(b.EnteredAt)
	})

	s.logs[projectID] = entries
	return added
}

// EventsForOrder returns the full history of a single order.
func (s *EventStore) EventsForOrder(projectID, orderID int64) []StatusEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []StatusEvent
	for _, e := range s.logs[projectID] {
		if e.OrderID == orderID {
			result = append(result, e)
		}
	}
	return result
}

// EventsForOrders groups the history of the requested orders by order ID.
// Orders without events are absent from the result.
func (s *EventStore) EventsForOrders(projectID int64, orderIDs []int64) map[int64][]StatusEvent {
	want := make(map[int64]struct{}, len(orderIDs))
	for _, id := range orderIDs {
		want[id] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[int64][]StatusEvent, len(orderIDs))
	for _, e := range s.logs[projectID] {
		if _, ok := want[e.OrderID]; ok {
			result[e.OrderID] = append(result[e.OrderID], e)
		}
	}
	return result
}

// Count returns the number of events stored for a project.
func (s *EventStore) Count(projectID int64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.logs[projectID])
}

// Clear drops a project's log from memory.
func (s *EventStore) Clear(projectID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.logs, projectID)
	delete(s.seen, projectID)
}

func cachePath(cacheDir string, projectID int64) string {
	return filepath.Join(cacheDir, fmt.Sprintf("project-%d.jsonl", projectID))
}

// Load reads a project's events from its JSONL cache file.
func (s *EventStore) Load(cacheDir string, projectID int64) error {
	file, err := os.Open(cachePath(cacheDir, projectID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil // No cache yet, not an error
		}
		return fmt.Errorf("failed to open cache: %w", err)
	}
	defer file.Close()

	var events []StatusEvent
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var e StatusEvent
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			log.Warn().Err(err).Int64("project", projectID).Msg("Skipping invalid JSON line in cache")
			continue
		}
		events = append(events, e)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading cache: %w", err)
	}

	added := s.Append(projectID, events)
	log.Info().Int64("project", projectID).Int("count", added).Msg("Loaded events from cache")
	return nil
}

// Save persists a project's events to its JSONL cache file.
func (s *EventStore) Save(cacheDir string, projectID int64) error {
	s.mu.RLock()
	logData := slices.Clone(s.logs[projectID])
	s.mu.RUnlock()

	if len(logData) == 0 {
		return nil
	}

	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache dir: %w", err)
	}

	path := cachePath(cacheDir, projectID)

	file, err := os.CreateTemp(cacheDir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp cache file: %w", err)
	}
	tmpPath := file.Name()

	writer := bufio.NewWriter(file)
	encoder := json.NewEncoder(writer)

	for _, e := range logData {
		if err := encoder.Encode(e); err != nil {
			file.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("failed to encode event: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to flush writer: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close file: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename cache file: %w", err)
	}

	log.Debug().Int64("project", projectID).Int("count", len(logData)).Msg("Events saved to cache")
	return nil
}
