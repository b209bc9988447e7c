package main

import (
	"flag"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/enterprise/fraud-scorer/configs"
	"github.com/enterprise/fraud-scorer/internal/repositories"
)

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	cfg := configs.Load()
	setupLogging(cfg.Server.Environment)

	down := flag.Bool("down", false, "roll back every migration instead of applying them")
	flag.Parse()

	if cfg.Database.URL == "" {
		log.Fatal().Msg("DATABASE_URL is required")
	}

	if !*down {
		if err := repositories.Migrate(cfg.Database.URL); err != nil {
			log.Fatal().Err(err).Msg("Migration failed")
		}
		return
	}

	mm, err := repositories.NewMigrationManager(cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open migrations")
	}
	err = mm.Down()
	mm.Close()
	if err != nil {
		log.Fatal().Err(err).Msg("Rollback failed")
	}
	log.Info().Msg("Database migrations rolled back")
}

func setupLogging(env string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
