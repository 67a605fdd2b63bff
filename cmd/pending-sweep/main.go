// Command pending-sweep cancels prepaid orders stuck in PENDING/PENDING
// past a cutoff. These are orders whose payment session was created but
// whose gateway outcome never arrived (abandoned checkout, gateway outage
// after local commit). Run it on a schedule.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"

	"github.com/oakmarket/checkout/internal/repository"
)

func main() {
	var (
		databaseURL string
		olderThan   time.Duration
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.DurationVar(&olderThan, "older-than", time.Hour, "cancel pending orders older than this")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, olderThan); err != nil {
		slog.Error("sweep failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, databaseURL string, olderThan time.Duration) error {
	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	cutoff := time.Now().Add(-olderThan)
	swept, err := repository.NewOrderRepository(pool).ExpirePending(ctx, cutoff)
	if err != nil {
		return errors.Wrap(err, "expire pending orders")
	}

	slog.Info("sweep completed",
		slog.Int64("cancelled", swept),
		slog.Time("cutoff", cutoff),
	)
	return nil
}
