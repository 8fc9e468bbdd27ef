package mcp

import (
	"context"

	"crm-sla/internal/ingest"
	"crm-sla/internal/metrics"
	"crm-sla/internal/orders"
	"crm-sla/internal/settings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"
)

const serverName = "crm-sla"

// Options tune the MCP server.
type Options struct {
	Version             string
	EnableMermaidCharts bool
	Metrics             *metrics.Metrics
}

// Server exposes the order views, reports and settings as MCP tools.
type Server struct {
	aggregator *orders.Aggregator
	snapshots  *orders.SnapshotStore
	settings   *settings.Store
	ingestor   *ingest.Ingestor
	metrics    *metrics.Metrics

	mermaid bool
	version string
}

// NewServer creates a new MCP server.
func NewServer(aggregator *orders.Aggregator, snapshots *orders.SnapshotStore, store *settings.Store, ingestor *ingest.Ingestor, opts Options) *Server {
	if opts.Version == "" {
		opts.Version = "dev"
	}
	return &Server{
		aggregator: aggregator,
		snapshots:  snapshots,
		settings:   store,
		ingestor:   ingestor,
		metrics:    opts.Metrics,
		mermaid:    opts.EnableMermaidCharts,
		version:    opts.Version,
	}
}

// MCPServer builds the protocol server with every tool registered.
func (s *Server) MCPServer() *mcpsdk.Server {
	server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: serverName, Version: s.version}, nil)
	s.registerTools(server)
	return server
}

// Serve runs the MCP session over stdio until the client disconnects or ctx ends.
func (s *Server) Serve(ctx context.Context) error {
	log.Info().Str("version", s.version).Bool("mermaid", s.mermaid).Msg("MCP server listening on stdio")
	return s.MCPServer().Run(ctx, &mcpsdk.StdioTransport{})
}

func (s *Server) configSource() orders.ConfigSource {
	return orders.SettingsConfig{Store: s.settings}
}
