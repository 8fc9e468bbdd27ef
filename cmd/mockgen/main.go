package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"crm-sla/cmd/mockgen/engine"
)

func main() {
	scenario := flag.String("scenario", "mild", "Scenario to generate: mild, chaos, drift")
	distribution := flag.String("distribution", "uniform", "Distribution to use: uniform, weibull")
	outDir := flag.String("out", "./data", "Data directory to write webhooks and settings into")
	count := flag.Int("count", 200, "Number of orders to generate")
	project := flag.Int64("project", 1, "KeyCRM project ID")
	seed := flag.Uint64("seed", uint64(time.Now().UnixNano()), "Random seed")
	flag.Parse()

	cfg := engine.GeneratorConfig{
		ProjectID:    *project,
		Scenario:     *scenario,
		Distribution: *distribution,
		Count:        *count,
		Now:          time.Now().UTC(),
		Seed:         *seed,
	}

	fmt.Printf("Generating scenario '%s' (Distribution: %s, Count: %d) to %s...\n", cfg.Scenario, cfg.Distribution, cfg.Count, *outDir)

	hooks := engine.Generate(cfg)
	path, err := engine.Save(*outDir, cfg.ProjectID, hooks, engine.Settings(cfg.ProjectID))
	if err != nil {
		fmt.Printf("Failed to save mock data: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Done. %d webhooks in %s; ingest with: crm-sla ingest -p %d %s\n", len(hooks), path, cfg.ProjectID, path)
}
