package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/okx-scalper/core/internal/config"
	"github.com/okx-scalper/core/internal/engine"
	"github.com/okx-scalper/core/internal/notify"
	"github.com/okx-scalper/core/internal/storage"
	"github.com/okx-scalper/core/internal/strategy"
)

const VERSION = "v1.0"

func main() {
	// ═══════════════════════════════════════════════════════════════════
	// BOOTSTRAP
	// ═══════════════════════════════════════════════════════════════════

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("no .env file found")
	} else {
		log.Info().Msg("✅ .env file loaded")
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().Msg("═══════════════════════════════════════════════════════════")
	log.Info().Msgf("        OKX SCALPER CORE %s - EXECUTION RUNTIME", VERSION)
	log.Info().Msg("═══════════════════════════════════════════════════════════")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	store, err := storage.Open(cfg.DatabasePath, cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open storage")
	}
	defer store.Close()

	var notifier notify.Notifier
	if cfg.TelegramToken != "" {
		tg, err := notify.NewTelegramNotifier()
		if err != nil {
			log.Warn().Err(err).Msg("telegram notifier unavailable, alerts will be dropped")
			notifier = notify.NullNotifier{}
		} else {
			notifier = tg
		}
	} else {
		notifier = notify.NullNotifier{}
	}

	eng := engine.New(cfg, store, notifier)
	demo := strategy.NewOrderFlowDemo(eng, cfg)

	if err := eng.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start engine")
	}

	tickTicker := time.NewTicker(time.Second)
	defer tickTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.Info().Str("symbol", cfg.Symbol).Msg("🚀 runtime live, awaiting market data")

	for {
		select {
		case <-tickTicker.C:
			demo.OnTick(cfg.Symbol)
		case sig := <-sigCh:
			log.Info().Str("signal", sig.String()).Msg("shutdown requested")
			eng.Stop()
			log.Info().Msg("shutdown complete")
			return
		}
	}
}
