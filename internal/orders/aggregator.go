package orders

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"crm-sla/internal/eventlog"
	"crm-sla/internal/metrics"
	"crm-sla/internal/stats"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// DefaultLimit caps list results when the filter sets no limit.
const DefaultLimit = 50

// UrgencyFilter restricts results to urgent or normal orders.
type UrgencyFilter string

const (
	UrgencyAll    UrgencyFilter = "all"
	UrgencyUrgent UrgencyFilter = "urgent"
	UrgencyNormal UrgencyFilter = "normal"
)

func ParseUrgencyFilter(s string) (UrgencyFilter, error) {
	switch f := UrgencyFilter(s); f {
	case "", UrgencyAll:
		return UrgencyAll, nil
	case UrgencyUrgent, UrgencyNormal:
		return f, nil
	default:
		return UrgencyAll, fmt.Errorf("unknown urgency filter %q: expected all, urgent or normal", s)
	}
}

func (f UrgencyFilter) accepts(v View) bool {
	switch f {
	case UrgencyUrgent:
		return v.IsUrgent
	case UrgencyNormal:
		return !v.IsUrgent
	default:
		return true
	}
}

// Filter selects the orders of a list.
type Filter struct {
	// From and To bound the order start time, both inclusive.
	From    *time.Time
	To      *time.Time
	Limit   int
	Urgency UrgencyFilter
}

// Aggregator builds order views from snapshots, event logs and project configuration.
type Aggregator struct {
	events       EventSource
	config       ConfigSource
	snapshots    SnapshotSource
	metrics      *metrics.Metrics
	now          func() time.Time
	defaultLimit int
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock replaces time.Now, the evaluation time of open intervals.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

func WithDefaultLimit(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.defaultLimit = n
		}
	}
}

func NewAggregator(events EventSource, config ConfigSource, snapshots SnapshotSource, opts ...Option) *Aggregator {
	a := &Aggregator{
		events:       events,
		config:       config,
		snapshots:    snapshots,
		now:          time.Now,
		defaultLimit: DefaultLimit,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Result is a list of views plus configuration warnings met while building it.
type Result struct {
	Views    []View   `json:"orders"`
	Warnings []string `json:"warnings,omitempty"`
}

// BuildOrderViews lists the most recently changed orders of a project.
func (a *Aggregator) BuildOrderViews(ctx context.Context, projectID int64, f Filter) (Result, error) {
	started := time.Now()

	snaps, err := a.snapshots.ListSnapshots(ctx, projectID)
	if err != nil {
		return Result{}, fmt.Errorf("list orders: %w", err)
	}
	candidates := selectCandidates(snaps, f)

	limit := f.Limit
	if limit <= 0 {
		limit = a.defaultLimit
	}
	// The urgency of an order is only known after computing its view.
	if f.Urgency == "" || f.Urgency == UrgencyAll {
		candidates = candidates[:min(limit, len(candidates))]
	}

	ids := make([]int64, len(candidates))
	for i, s := range candidates {
		ids[i] = s.OrderID
	}

	var (
		byOrder map[int64][]eventlog.StatusEvent
		cfg     Config
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		byOrder, err = a.events.EventsForOrders(gctx, projectID, ids)
		if err != nil {
			return fmt.Errorf("load events: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		cfg, err = a.config.ProjectConfig(gctx, projectID)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	now := a.now()
	views := make([]View, 0, len(candidates))
	for _, snap := range candidates {
		v := ComputeView(snap, byOrder[snap.OrderID], cfg, now)
		if !f.Urgency.accepts(v) {
			continue
		}
		views = append(views, v)
		if len(views) == limit {
			break
		}
	}

	a.metrics.ViewsBuilt(len(views), time.Since(started))
	log.Debug().Int64("project", projectID).Int("candidates", len(candidates)).Int("count", len(views)).Msg("Order views built")
	return Result{Views: views, Warnings: cfg.Warnings}, nil
}

// selectCandidates applies the start-time window and orders by last change, newest first.
func selectCandidates(snaps []Snapshot, f Filter) []Snapshot {
	out := make([]Snapshot, 0, len(snaps))
	for _, s := range snaps {
		if f.From != nil && s.StartedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && s.StartedAt.After(*f.To) {
			continue
		}
		out = append(out, s)
	}
	slices.SortStableFunc(out, func(a, b Snapshot) int {
		if c := b.LastChangedAt.Compare(a.LastChangedAt); c != 0 {
			return c
		}
		switch {
		case a.OrderID > b.OrderID:
			return -1
		case a.OrderID < b.OrderID:
			return 1
		}
		return 0
	})
	return out
}

// Timeline is the interval-level history of one order.
type Timeline struct {
	View      View                     `json:"order"`
	Intervals []stats.MeasuredInterval `json:"intervals"`
	Warnings  []string                 `json:"warnings,omitempty"`
}

// Timeline returns an order's view together with each interval it went through.
func (a *Aggregator) Timeline(ctx context.Context, projectID, orderID int64) (Timeline, error) {
	var (
		snap    Snapshot
		snapErr error
		events  []eventlog.StatusEvent
		cfg     Config
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		snap, snapErr = a.snapshots.GetSnapshot(gctx, projectID, orderID)
		if snapErr != nil && !errors.Is(snapErr, ErrOrderNotFound) {
			return snapErr
		}
		return nil
	})
	g.Go(func() error {
		byOrder, err := a.events.EventsForOrders(gctx, projectID, []int64{orderID})
		if err != nil {
			return fmt.Errorf("load events: %w", err)
		}
		events = byOrder[orderID]
		return nil
	})
	g.Go(func() error {
		var err error
		cfg, err = a.config.ProjectConfig(gctx, projectID)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Timeline{}, err
	}

	if snapErr != nil {
		if len(events) == 0 {
			return Timeline{}, snapErr
		}
		snap = Snapshot{ProjectID: projectID, OrderID: orderID, StartedAt: eventlog.SortChronologically(events)[0].EnteredAt}
	}

	now := a.now()
	return Timeline{
		View:      ComputeView(snap, events, cfg, now),
		Intervals: stats.MeasureIntervals(events, cfg.Calendar, now),
		Warnings:  cfg.Warnings,
	}, nil
}

// StageTimeReport aggregates stage residency over the orders selected by f.
func (a *Aggregator) StageTimeReport(ctx context.Context, projectID int64, f Filter) (stats.StageTimeReport, []string, error) {
	res, err := a.BuildOrderViews(ctx, projectID, f)
	if err != nil {
		return stats.StageTimeReport{}, nil, err
	}
	return stats.BuildStageTimeReport(samples(res.Views)), res.Warnings, nil
}

// SLAReport counts SLA states over the orders selected by f.
func (a *Aggregator) SLAReport(ctx context.Context, projectID int64, f Filter) (stats.SLAReport, []string, error) {
	res, err := a.BuildOrderViews(ctx, projectID, f)
	if err != nil {
		return stats.SLAReport{}, nil, err
	}
	return stats.BuildSLAReport(samples(res.Views)), res.Warnings, nil
}

func samples(views []View) []stats.OrderSample {
	out := make([]stats.OrderSample, len(views))
	for i, v := range views {
		out[i] = v.Sample()
	}
	return out
}
