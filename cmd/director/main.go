// Command director runs the trading engine: one feed, one agent coordinator
// and one execution hot loop per configured symbol, plus the metrics endpoint
// and the optional NATS control plane.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"perpdirector/internal/alerts"
	"perpdirector/internal/config"
	"perpdirector/internal/control"
	"perpdirector/internal/engine"
	"perpdirector/internal/exchange"
	"perpdirector/internal/llm"
	"perpdirector/internal/metrics"
	"perpdirector/internal/risk"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	paperMode := flag.Bool("paper", false, "run against the in-memory mock venue")
	flag.Parse()

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	logger := config.NewLogger("director")
	logger.Info().
		Str("environment", cfg.Environment()).
		Strs("symbols", cfg.Trading.Symbols).
		Bool("paper", *paperMode).
		Msg("Starting perpdirector")

	breakers := risk.NewTransportBreakers()

	var venue exchange.Client
	if *paperMode {
		venue = exchange.NewMockClient()
	} else {
		venue = exchange.NewRESTClient(exchange.RESTConfig{
			BaseURL:    cfg.Exchange.BaseURL,
			APIKey:     cfg.Exchange.APIKey,
			SecretKey:  cfg.Exchange.SecretKey,
			Passphrase: cfg.Exchange.Passphrase,
			Timeout:    cfg.Exchange.ExchangeTimeout(),
			RatePerSec: float64(cfg.Exchange.RatePerSec),
			Breaker:    breakers.Exchange(),
		}, logger)
	}

	model := llm.NewClient(llm.ClientConfig{
		Endpoint:    cfg.LLM.Endpoint,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.Timeout(cfg.Trading.AgentInterval),
		Retries:     cfg.LLM.Retries,
		Breaker:     breakers.LLM(),
	})

	alertChannels := []alerts.Alerter{alerts.NewLogAlerter(config.NewLogger("alerts"))}
	if cfg.Telegram.BotToken != "" && len(cfg.Telegram.ChatIDs) > 0 {
		tg, err := alerts.NewTelegramAlerter(cfg.Telegram.BotToken, cfg.Telegram.ChatIDs[0], logger)
		if err != nil {
			logger.Warn().Err(err).Msg("Telegram alerter disabled")
		} else {
			alertChannels = append(alertChannels, tg)
		}
	}
	alertManager := alerts.NewManager(logger, alertChannels...)

	supervisor := engine.NewSupervisor(engine.SupervisorOptions{
		Config:   cfg,
		Exchange: venue,
		LLM:      model,
		Alerts:   alertManager,
		Logger:   logger,
	})

	var metricsServer *metrics.Server
	if cfg.Monitoring.EnableMetrics {
		metricsServer = metrics.NewServer(cfg.Monitoring.MetricsPort, logger, supervisor.Healthy)
		if err := metricsServer.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start metrics server")
		}
	}

	var controlPlane *control.Plane
	if cfg.NATS.URL != "" {
		controlPlane, err = control.Connect(cfg.NATS.URL, control.DefaultSubject, supervisor, logger)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect control plane")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := supervisor.Start(ctx); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("Failed to start supervisor")
	}

	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received")

	supervisor.Stop()
	if controlPlane != nil {
		controlPlane.Close()
	}
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}

	logger.Info().Msg("Shutdown complete")
	os.Exit(0)
}
