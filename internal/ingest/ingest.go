package ingest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"crm-sla/internal/eventlog"
	"crm-sla/internal/keycrm"
	"crm-sla/internal/metrics"
	"crm-sla/internal/notify"
	"crm-sla/internal/orders"
	"crm-sla/internal/settings"
	"crm-sla/internal/urgency"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// ItemFetcher loads the line items of an order from the CRM.
type ItemFetcher interface {
	FetchOrderItems(ctx context.Context, creds keycrm.Credentials, orderID int64) ([]urgency.Item, error)
}

// Ingestor turns CRM webhooks into log events, snapshot updates and notifications.
type Ingestor struct {
	events    *eventlog.LogProvider
	snapshots *orders.SnapshotStore
	settings  *settings.Store
	fetcher   ItemFetcher
	envCreds  keycrm.Credentials
	publisher notify.Publisher
	metrics   *metrics.Metrics

	// inflight collapses concurrent enrichments of the same order.
	inflight singleflight.Group
}

type Option func(*Ingestor)

// WithFetcher enables item enrichment. env holds the fallback credentials.
func WithFetcher(f ItemFetcher, env keycrm.Credentials) Option {
	return func(in *Ingestor) {
		in.fetcher = f
		in.envCreds = env
	}
}

func WithPublisher(p notify.Publisher) Option {
	return func(in *Ingestor) {
		if p != nil {
			in.publisher = p
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(in *Ingestor) { in.metrics = m }
}

func New(events *eventlog.LogProvider, snapshots *orders.SnapshotStore, store *settings.Store, opts ...Option) *Ingestor {
	in := &Ingestor{
		events:    events,
		snapshots: snapshots,
		settings:  store,
		publisher: notify.Nop{},
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Result describes what one webhook changed.
type Result struct {
	ProjectID int64            `json:"project_id"`
	OrderID   int64            `json:"order_id"`
	Duplicate bool             `json:"duplicate"`
	Snapshot  orders.Snapshot  `json:"snapshot"`
	Enriched  bool             `json:"enriched"`
	Urgency   urgency.Decision `json:"urgency"`
	Warnings  []string         `json:"warnings,omitempty"`
}

// Ingest processes one webhook body. A zero projectID takes the project from the body.
// Enrichment failures are reported as warnings; the status change is kept.
func (in *Ingestor) Ingest(ctx context.Context, projectID int64, body []byte) (Result, error) {
	change, err := eventlog.TransformWebhook(projectID, body)
	if err != nil {
		in.metrics.Webhook("invalid")
		return Result{}, err
	}
	e := change.Event
	res := Result{ProjectID: e.ProjectID, OrderID: e.OrderID}

	added, err := in.events.Append(ctx, e.ProjectID, []eventlog.StatusEvent{e})
	if err != nil {
		in.metrics.Webhook("error")
		return res, fmt.Errorf("append event: %w", err)
	}
	in.metrics.Appended(added, 1)
	res.Duplicate = added == 0

	snap, err := in.snapshots.Upsert(ctx, change)
	if err != nil {
		in.metrics.Webhook("error")
		return res, fmt.Errorf("update snapshot: %w", err)
	}
	res.Snapshot = snap

	if res.Duplicate {
		in.metrics.Webhook("duplicate")
	} else {
		in.metrics.Webhook("accepted")
		in.publish(ctx, notify.OrderUpdated(e.ProjectID, e.OrderID, map[string]any{
			"status_id":         e.StatusID,
			"status_group_id":   e.GroupID,
			"status_changed_at": e.EnteredAt,
		}))
	}
	log.Info().Int64("project", e.ProjectID).Int64("order", e.OrderID).Int64("status", e.StatusID).Bool("duplicate", res.Duplicate).Msg("Webhook ingested")

	if in.fetcher == nil || (res.Duplicate && snap.ItemsFetched) {
		return res, nil
	}
	enriched, decision, err := in.Enrich(ctx, e.ProjectID, e.OrderID)
	if err != nil {
		log.Warn().Err(err).Int64("project", e.ProjectID).Int64("order", e.OrderID).Msg("Item enrichment failed")
		res.Warnings = append(res.Warnings, fmt.Sprintf("items not fetched: %v", err))
		return res, nil
	}
	res.Snapshot = enriched
	res.Enriched = true
	res.Urgency = decision
	return res, nil
}

// enrichTimeout bounds one shared item fetch.
const enrichTimeout = 30 * time.Second

type enrichment struct {
	snapshot orders.Snapshot
	decision urgency.Decision
}

// Enrich fetches an order's items, classifies it and stores the result.
// Concurrent calls for the same order share one fetch, which keeps running
// when a caller gives up.
func (in *Ingestor) Enrich(ctx context.Context, projectID, orderID int64) (orders.Snapshot, urgency.Decision, error) {
	if in.fetcher == nil {
		return orders.Snapshot{}, urgency.Decision{}, errors.New("item enrichment is disabled")
	}
	key := strconv.FormatInt(projectID, 10) + ":" + strconv.FormatInt(orderID, 10)
	ch := in.inflight.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), enrichTimeout)
		defer cancel()
		return in.enrich(fctx, projectID, orderID)
	})

	select {
	case <-ctx.Done():
		return orders.Snapshot{}, urgency.Decision{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return orders.Snapshot{}, urgency.Decision{}, r.Err
		}
		if r.Shared {
			log.Debug().Str("key", key).Msg("Shared in-flight item fetch")
		}
		out := r.Val.(enrichment)
		return out.snapshot, out.decision, nil
	}
}

func (in *Ingestor) enrich(ctx context.Context, projectID, orderID int64) (enrichment, error) {
	doc, err := in.settings.Load(projectID)
	if err != nil {
		return enrichment{}, err
	}
	creds, err := keycrm.ResolveCredentials(
		keycrm.Credentials{BaseURL: doc.CRM.BaseURL, Token: doc.CRM.APIToken},
		in.envCreds,
	)
	if err != nil {
		return enrichment{}, fmt.Errorf("project %d: %w", projectID, err)
	}

	items, err := in.fetcher.FetchOrderItems(ctx, creds, orderID)
	if err != nil {
		return enrichment{}, err
	}
	classified := urgency.Classify(items, doc.UrgentRules)
	snap, err := in.snapshots.SetItems(ctx, projectID, orderID, items, classified)
	if err != nil {
		return enrichment{}, err
	}

	override, err := in.settings.Override(projectID, orderID)
	if err != nil {
		return enrichment{}, err
	}
	input := urgency.Input{Items: items, ItemsFetched: true, Rules: doc.UrgentRules}
	if override != nil {
		input.Override = override.IsUrgentOverride
	}
	decision := urgency.Resolve(input)

	in.publish(ctx, notify.OrderUpdated(projectID, orderID, map[string]any{
		"is_urgent":        decision.Urgent,
		"urgent_rule_name": decision.RuleName,
	}))
	log.Info().Int64("project", projectID).Int64("order", orderID).Int("items", len(items)).Bool("urgent", decision.Urgent).Msg("Order enriched")
	return enrichment{snapshot: snap, decision: decision}, nil
}

func (in *Ingestor) publish(ctx context.Context, msg notify.Message) {
	if err := in.publisher.Publish(ctx, msg); err != nil {
		in.metrics.PublishFailed()
		log.Warn().Err(err).Int64("project", msg.ProjectID).Int64("order", msg.OrderID).Msg("Failed to publish order update")
	}
}

// Summary counts the outcome of a batch.
type Summary struct {
	Accepted   int      `json:"accepted"`
	Duplicates int      `json:"duplicates"`
	Invalid    int      `json:"invalid"`
	Enriched   int      `json:"enriched"`
	Errors     []string `json:"errors,omitempty"`
}

// maxErrors bounds the error messages kept in a Summary.
const maxErrors = 20

// IngestLines ingests one webhook body per line. Invalid lines are counted
// and skipped; storage failures abort the batch.
func (in *Ingestor) IngestLines(ctx context.Context, projectID int64, r io.Reader) (Summary, error) {
	var sum Summary
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	started := time.Now()
	line := 0
	for scanner.Scan() {
		line++
		body := bytes.TrimSpace(scanner.Bytes())
		if len(body) == 0 {
			continue
		}
		res, err := in.Ingest(ctx, projectID, body)
		switch {
		case errors.Is(err, eventlog.ErrInvalidPayload):
			sum.Invalid++
			if len(sum.Errors) < maxErrors {
				sum.Errors = append(sum.Errors, fmt.Sprintf("line %d: %v", line, err))
			}
			continue
		case err != nil:
			return sum, fmt.Errorf("line %d: %w", line, err)
		}
		if res.Duplicate {
			sum.Duplicates++
		} else {
			sum.Accepted++
		}
		if res.Enriched {
			sum.Enriched++
		}
	}
	if err := scanner.Err(); err != nil {
		return sum, err
	}

	log.Info().Int("accepted", sum.Accepted).Int("duplicates", sum.Duplicates).Int("invalid", sum.Invalid).Dur("took", time.Since(started)).Msg("Batch ingested")
	return sum, nil
}
