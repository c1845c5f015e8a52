// Command seed creates the booking schema and loads the demo hotel directory.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/aymenesoualem/bookingagent/internal/booking"
	"github.com/aymenesoualem/bookingagent/internal/logging"
)

func main() {
	databaseURL := flag.String("database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
	timeout := flag.Duration("timeout", 30*time.Second, "overall deadline")
	flag.Parse()

	logging.Configure(logging.Config{Level: os.Getenv("APP_LOG_LEVEL"), Service: "seed"})
	logger := logging.WithComponent("seed")

	if *databaseURL == "" {
		logger.Fatal().Msg("DATABASE_URL or -database-url is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, err := booking.NewPostgresStore(ctx, *databaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect")
	}
	defer store.Close()

	hotels, err := store.ListHotels(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("list hotels")
	}
	if len(hotels) > 0 {
		logger.Info().Int("hotels", len(hotels)).Msg("directory already seeded")
		return
	}
	if err := booking.SeedDemoData(ctx, store); err != nil {
		logger.Fatal().Err(err).Msg("seed")
	}
	logger.Info().Msg("demo data loaded")
}
