package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"pixproxy/internal/http/handlers"
	httpapi "pixproxy/internal/http/httpapi"
	"pixproxy/internal/imagegen"
	"pixproxy/internal/infra"
	"pixproxy/internal/metrics"
)

func main() {
	if err := infra.LoadDotEnv(); err != nil {
		panic(err)
	}

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg)

	collector := metrics.NewCollector()
	svc, err := imagegen.NewServiceFromConfig(cfg, imagegen.Dependencies{Logger: &logger, Metrics: collector})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to wire providers")
	}
	logProviders(logger, cfg)

	app := handlers.NewApp(svc, &logger)
	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:          logger,
		Metrics:         collector,
		AllowedOrigins:  cfg.CORSAllowOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
	})
	server := infra.NewHTTPServer(cfg, router)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx, logger); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("server stopped")
}

func logProviders(logger infra.Logger, cfg *infra.Config) {
	logger.Info().
		Bool("openrouter_configured", cfg.OpenRouterAPIKey != "").
		Bool("huggingface_configured", cfg.HuggingFaceAPIKey != "").
		Bool("replicate_configured", cfg.ReplicateAPIKey != "").
		Msg("provider credentials")
	if cfg.HuggingFaceAPIKey == "" && cfg.ReplicateAPIKey == "" {
		logger.Warn().Msg("no image provider key configured; image generation requests will fail")
	}
}
