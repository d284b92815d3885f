package main

import (
	"context"
	"net/http"

	"edgarrag/internal/api"
	"edgarrag/internal/app"
	"edgarrag/internal/config"
	"edgarrag/internal/logging"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	tclient "go.temporal.io/sdk/client"
)

func main() {
	_ = godotenv.Load(".env")
	cfg := config.Load()
	logging.Setup(cfg.LogLevel, cfg.LogJSON)

	svc, err := app.Build(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer svc.Close()

	deps := api.Deps{
		Gateways:  svc.Gateways,
		Pipeline:  svc.Pipeline,
		Ingester:  svc.Ingest,
		Research:  svc.Research,
		Comparer:  svc.Comparer,
		EDGAR:     svc.EDGAR,
		Index:     svc.Index,
		Documents: svc.Documents,
		Filings:   svc.Filings,
		Jobs:      svc.Jobs,
		Queue:     svc.Queue,
		Queries:   svc.Queries,
	}
	if cfg.TemporalEnabled() {
		tc, err := tclient.Dial(tclient.Options{HostPort: cfg.TemporalAddress})
		if err != nil {
			log.Fatal().Err(err).Str("address", cfg.TemporalAddress).Msg("temporal dial failed")
		}
		defer tc.Close()
		deps.Temporal = tc
	}

	h := api.NewServer(cfg, deps)
	log.Info().Msgf("edgarrag api listening on %s vector_store=%s llm_provider=%q embed_provider=%q temporal=%t",
		cfg.APIAddr, cfg.VectorStore, cfg.LLMProvider, cfg.EmbedProvider, cfg.TemporalEnabled())
	if err := http.ListenAndServe(cfg.APIAddr, h.Routes()); err != nil {
		log.Fatal().Err(err).Msg("api server stopped")
	}
}
