package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"edgarrag/internal/activities"
	"edgarrag/internal/app"
	"edgarrag/internal/config"
	"edgarrag/internal/logging"
	"edgarrag/internal/queue"
	"edgarrag/internal/workflows"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

func main() {
	_ = godotenv.Load(".env")
	cfg := config.Load()
	logging.Setup(cfg.LogLevel, cfg.LogJSON)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer svc.Close()

	if cfg.TemporalEnabled() {
		c, err := client.Dial(client.Options{HostPort: cfg.TemporalAddress})
		if err != nil {
			log.Fatal().Err(err).Str("address", cfg.TemporalAddress).Msg("temporal dial failed")
		}
		defer c.Close()
		w := worker.New(c, cfg.TemporalTaskQueue, worker.Options{})
		workflows.Register(w)
		activities.Register(w, activities.New(cfg, svc.Research, svc.Ingest, svc.Comparer))
		if err := w.Start(); err != nil {
			log.Fatal().Err(err).Msg("temporal worker start failed")
		}
		defer w.Stop()
		log.Info().Msgf("edgarrag temporal worker listening on %s queue=%s", cfg.TemporalAddress, cfg.TemporalTaskQueue)
	}

	poller := &queue.Worker{Processor: svc.Queue, PollInterval: cfg.WorkerPollInterval()}
	log.Info().Msgf("edgarrag ingestion worker polling every %s vector_store=%s embed_provider=%q",
		cfg.WorkerPollInterval(), cfg.VectorStore, cfg.EmbedProvider)
	if err := poller.Run(ctx); err != nil {
		log.Error().Err(err).Msg("ingestion worker stopped")
	}
}
