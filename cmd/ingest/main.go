package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dvloznov/finance-analyst/internal/app"
	"github.com/dvloznov/finance-analyst/internal/config"
	"github.com/dvloznov/finance-analyst/internal/extract"
	"github.com/dvloznov/finance-analyst/internal/logger"
	"github.com/dvloznov/finance-analyst/internal/pipeline"
	"github.com/dvloznov/finance-analyst/internal/source"
)

// sourceFlags collects repeated -source name=location values.
type sourceFlags []pipeline.SourceSpec

func (s *sourceFlags) String() string {
	parts := make([]string, 0, len(*s))
	for _, spec := range *s {
		parts = append(parts, spec.Source+"="+spec.Location)
	}
	return strings.Join(parts, ",")
}

func (s *sourceFlags) Set(v string) error {
	spec, err := parseSourceSpec(v)
	if err != nil {
		return err
	}
	*s = append(*s, spec)
	return nil
}

func parseSourceSpec(v string) (pipeline.SourceSpec, error) {
	name, loc, ok := strings.Cut(v, "=")
	name, loc = strings.TrimSpace(name), strings.TrimSpace(loc)
	if !ok || name == "" || loc == "" {
		return pipeline.SourceSpec{}, fmt.Errorf("expected name=location, got %q", v)
	}
	if _, ok := extract.ForSource(name); !ok {
		return pipeline.SourceSpec{}, fmt.Errorf("unknown source %q", name)
	}
	return pipeline.SourceSpec{Source: name, Location: loc}, nil
}

func main() {
	var sources sourceFlags
	flag.Var(&sources, "source", "source document as name=location (repeatable); defaults to the configured sources")
	timeout := flag.Duration("timeout", 30*time.Minute, "overall ingestion timeout")
	jsonOut := flag.Bool("json", false, "print run results as JSON")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logger.Configure(cfg.LogLevel, cfg.LogFormat)

	if len(sources) == 0 {
		sources = app.DefaultSources(cfg)
	}
	if len(sources) == 0 {
		log.Fatal().Msg("No sources configured: pass -source or set QUICKBOOKS_SOURCE / ROOTFI_SOURCE")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	repo, err := app.OpenRepository(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer repo.Close()

	opts, err := app.PipelineOptions(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build pipeline options")
	}
	store := source.NewStore()
	defer store.Close()

	log.Info().Str("sources", sources.String()).Msg("Starting ingestion")

	results, err := pipeline.NewRunner(repo, store, opts).Run(ctx, sources)
	if err != nil {
		log.Error().Err(err).Msg("Ingestion failed")
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(results)
	} else {
		for _, r := range results {
			fmt.Printf("%-10s %-9s run=%s loaded=%d filtered=%d failed=%d\n",
				r.Source, r.Status, r.RunID, r.Counts.Loaded, r.Counts.Filtered, r.Counts.Failed)
			if r.FailedRecordsFile != "" {
				fmt.Printf("           failed records: %s\n", r.FailedRecordsFile)
			}
		}
	}

	if err != nil || !allSucceeded(results) {
		os.Exit(1)
	}
}

func allSucceeded(results []pipeline.Result) bool {
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if r.Error != "" {
			return false
		}
	}
	return true
}
