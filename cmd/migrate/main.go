package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/user"
	"time"

	"github.com/dvloznov/finance-analyst/internal/app"
	"github.com/dvloznov/finance-analyst/internal/config"
	"github.com/dvloznov/finance-analyst/internal/infra/postgres"
	"github.com/dvloznov/finance-analyst/internal/logger"
)

func main() {
	list := flag.Bool("list", false, "list embedded migrations and exit")
	seed := flag.Bool("seed-dates", true, "seed dim_date for the configured date range")
	flag.Parse()

	log := logger.New()

	if *list {
		migrations, err := postgres.Migrations()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read migrations")
		}
		for _, m := range migrations {
			fmt.Printf("%04d_%s  %s\n", m.Version, m.Name, m.Checksum[:12])
		}
		return
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log = logger.Configure(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	repo, err := app.OpenRepository(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer repo.Close()

	applied, err := postgres.Migrate(ctx, repo.DB(), appliedBy(os.Getenv))
	if err != nil {
		log.Fatal().Err(err).Int("applied", applied).Msg("Migration failed")
	}
	if applied == 0 {
		log.Info().Msg("No new migrations to apply. Database is up to date.")
	} else {
		log.Info().Int("applied", applied).Msg("Migrations applied")
	}

	if !*seed {
		return
	}

	dr := app.DateRange(cfg)
	inserted, err := repo.SeedDates(ctx, dr, cfg.Pipeline.BatchSize)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to seed dim_date")
	}
	covered, err := repo.DateCoverage(ctx, dr)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to check dim_date coverage")
	}

	log.Info().
		Str("start", dr.Start.String()).
		Str("end", dr.End.String()).
		Int64("inserted", inserted).
		Int("covered", covered).
		Msg("Date dimension seeded")
}

// appliedBy names who ran the migration: MIGRATE_APPLIED_BY, then the OS
// user, then "migrate".
func appliedBy(getenv func(string) string) string {
	if v := getenv("MIGRATE_APPLIED_BY"); v != "" {
		return v
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "migrate"
}
