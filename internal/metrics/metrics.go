package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics holds the instruments of the service. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	WebhooksTotal     *prometheus.CounterVec
	EventsAppended    prometheus.Counter
	DuplicateEvents   prometheus.Counter
	ItemFetches       *prometheus.CounterVec
	ItemFetchDuration prometheus.Histogram
	ViewsComputed     prometheus.Counter
	BuildDuration     prometheus.Histogram
	UrgencyRecomputed prometheus.Counter
	PublishFailures   prometheus.Counter
}

// New creates the instruments on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		WebhooksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crm_sla_webhooks_total",
				Help: "Webhooks received, by outcome",
			},
			[]string{"outcome"},
		),
		EventsAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crm_sla_events_appended_total",
			Help: "Status events appended to the log",
		}),
		DuplicateEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crm_sla_events_duplicate_total",
			Help: "Redelivered status events skipped by deduplication",
		}),
		ItemFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crm_sla_item_fetches_total",
				Help: "Order line item fetches from the CRM, by status",
			},
			[]string{"status"},
		),
		ItemFetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "crm_sla_item_fetch_duration_seconds",
			Help:    "Duration of order line item fetches",
			Buckets: prometheus.DefBuckets,
		}),
		ViewsComputed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crm_sla_order_views_total",
			Help: "Order views computed",
		}),
		BuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "crm_sla_order_views_build_duration_seconds",
			Help:    "Duration of order view list builds",
			Buckets: prometheus.DefBuckets,
		}),
		UrgencyRecomputed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crm_sla_urgency_recomputed_total",
			Help: "Order snapshots whose urgency was rewritten by a bulk recompute",
		}),
		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crm_sla_publish_failures_total",
			Help: "Order update notifications that could not be published",
		}),
	}
	reg.MustRegister(
		m.WebhooksTotal,
		m.EventsAppended,
		m.DuplicateEvents,
		m.ItemFetches,
		m.ItemFetchDuration,
		m.ViewsComputed,
		m.BuildDuration,
		m.UrgencyRecomputed,
		m.PublishFailures,
	)
	return m
}

// Registry exposes the registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Webhook(outcome string) {
	if m == nil {
		return
	}
	m.WebhooksTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Appended(added, received int) {
	if m == nil {
		return
	}
	m.EventsAppended.Add(float64(added))
	if received > added {
		m.DuplicateEvents.Add(float64(received - added))
	}
}

func (m *Metrics) ItemFetch(status int, d time.Duration) {
	if m == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.ItemFetches.WithLabelValues(label).Inc()
	m.ItemFetchDuration.Observe(d.Seconds())
}

func (m *Metrics) ViewsBuilt(n int, d time.Duration) {
	if m == nil {
		return
	}
	m.ViewsComputed.Add(float64(n))
	m.BuildDuration.Observe(d.Seconds())
}

func (m *Metrics) Recomputed(n int) {
	if m == nil {
		return
	}
	m.UrgencyRecomputed.Add(float64(n))
}

func (m *Metrics) PublishFailed() {
	if m == nil {
		return
	}
	m.PublishFailures.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("Serving metrics")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
