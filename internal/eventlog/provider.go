package eventlog

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// LogProvider loads project logs from the cache directory on first use and
// persists every accepted append.
type LogProvider struct {
	store    *EventStore
	cacheDir string

	mu     sync.Mutex
	loaded map[int64]bool
	writes map[int64]*sync.Mutex
}

func NewLogProvider(store *EventStore, cacheDir string) *LogProvider {
	return &LogProvider{
		store:    store,
		cacheDir: cacheDir,
		loaded:   make(map[int64]bool),
		writes:   make(map[int64]*sync.Mutex),
	}
}

// ensure hydrates a project's log from disk once.
func (p *LogProvider) ensure(projectID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.loaded[projectID] {
		return nil
	}
	if p.cacheDir != "" {
		if err := p.store.Load(p.cacheDir, projectID); err != nil {
			return fmt.Errorf("load events for project %d: %w", projectID, err)
		}
	}
	p.loaded[projectID] = true
	return nil
}

// writeLock serializes appends of one project so each save sees a settled log.
func (p *LogProvider) writeLock(projectID int64) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()

	l, ok := p.writes[projectID]
	if !ok {
		l = &sync.Mutex{}
		p.writes[projectID] = l
	}
	return l
}

// Append records events and writes the project's log back to disk when anything new arrived.
func (p *LogProvider) Append(ctx context.Context, projectID int64, events []StatusEvent) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := p.ensure(projectID); err != nil {
		return 0, err
	}

	l := p.writeLock(projectID)
	l.Lock()
	defer l.Unlock()

	added := p.store.Append(projectID, events)
	if added == 0 {
		log.Debug().Int64("project", projectID).Int("received", len(events)).Msg("No new events, duplicates skipped")
		return 0, nil
	}

	if p.cacheDir != "" {
		if err := p.store.Save(p.cacheDir, projectID); err != nil {
			return added, fmt.Errorf("persist events for project %d: %w", projectID, err)
		}
	}
	return added, nil
}

// EventsForOrder returns the history of one order.
func (p *LogProvider) EventsForOrder(ctx context.Context, projectID, orderID int64) ([]StatusEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.ensure(projectID); err != nil {
		return nil, err
	}
	return p.store.EventsForOrder(projectID, orderID), nil
}

// EventsForOrders returns the histories of several orders keyed by order ID.
func (p *LogProvider) EventsForOrders(ctx context.Context, projectID int64, orderIDs []int64) (map[int64][]StatusEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.ensure(projectID); err != nil {
		return nil, err
	}
	return p.store.EventsForOrders(projectID, orderIDs), nil
}

// EventCount returns the number of events known for a project.
func (p *LogProvider) EventCount(projectID int64) (int, error) {
	if err := p.ensure(projectID); err != nil {
		return 0, err
	}
	return p.store.Count(projectID), nil
}
