package commands

import (
	"encoding/json"
	"io"

	"crm-sla/internal/config"
	"crm-sla/internal/eventlog"
	"crm-sla/internal/ingest"
	"crm-sla/internal/keycrm"
	"crm-sla/internal/metrics"
	"crm-sla/internal/notify"
	"crm-sla/internal/orders"
	"crm-sla/internal/settings"

	"github.com/rs/zerolog/log"
)

// app is the wired object graph shared by every command.
type app struct {
	metrics    *metrics.Metrics
	events     *eventlog.LogProvider
	snapshots  *orders.SnapshotStore
	settings   *settings.Store
	aggregator *orders.Aggregator
	ingestor   *ingest.Ingestor
	publisher  notify.Publisher
}

func newApp(cfg *config.AppConfig) (*app, error) {
	publisher, err := notify.New(cfg.RedisURL, cfg.RedisChannel)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	client := keycrm.NewClient(cfg.CRMClientConfig())
	client.OnFetch = m.ItemFetch

	a := &app{
		metrics:   m,
		events:    eventlog.NewLogProvider(eventlog.NewEventStore(), cfg.CacheDir),
		snapshots: orders.NewSnapshotStore(cfg.SnapshotDir),
		settings:  settings.NewStore(cfg.SettingsDir),
		publisher: publisher,
	}
	a.aggregator = orders.NewAggregator(a.events, orders.SettingsConfig{Store: a.settings}, a.snapshots,
		orders.WithMetrics(m),
		orders.WithDefaultLimit(cfg.DefaultListLimit),
	)
	a.ingestor = ingest.New(a.events, a.snapshots, a.settings,
		ingest.WithFetcher(client, cfg.CRMCredentials()),
		ingest.WithPublisher(publisher),
		ingest.WithMetrics(m),
	)
	return a, nil
}

func (a *app) Close() {
	if err := a.publisher.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close publisher")
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
