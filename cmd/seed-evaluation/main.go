package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/stemsi/exstem-assess/internal/config"
	"github.com/stemsi/exstem-assess/internal/database"
	"github.com/stemsi/exstem-assess/internal/logger"
	"github.com/stemsi/exstem-assess/internal/repository"
	"github.com/stemsi/exstem-assess/internal/seed"
)

func main() {
	cfg := config.Load()

	var file string
	var migrateFirst bool
	flag.StringVar(&file, "file", cfg.SeedFile, "Path to the evaluation JSON file")
	flag.BoolVar(&migrateFirst, "migrate", cfg.AutoMigrate, "Apply pending migrations before seeding")
	flag.Parse()

	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	if file == "" {
		fmt.Fprintln(os.Stderr, "Usage: seed-evaluation -file <evaluation.json>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if migrateFirst {
		if err := database.MigrateUp(cfg.MigrationsPath, cfg.DatabaseURL, log); err != nil {
			log.Fatal().Err(err).Msg("Migration failed")
		}
	}

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	evaluation, attempts, err := seed.Apply(ctx, repository.NewEvaluationRepository(pool), file)
	if errors.Is(err, repository.ErrDuplicateCode) {
		log.Fatal().Err(err).Msg("An access code in the file is already in use")
	}
	if err != nil {
		log.Fatal().Err(err).Str("file", file).Msg("Seeding failed")
	}

	log.Info().
		Str("evaluation_id", evaluation.ID.String()).
		Int("questions", len(evaluation.Questions)).
		Msg("Evaluation created")
	for _, a := range attempts {
		log.Info().
			Str("attempt_id", a.ID.String()).
			Str("unique_code", a.UniqueCode).
			Time("start_time", a.StartTime).
			Time("end_time", a.EndTime).
			Msg("Attempt created")
	}
}
