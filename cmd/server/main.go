// Package main is the entry point for the live trading core: it loads
// configuration, wires the Broker Port, Event Bus, Risk Validator, Signal
// Adapter, and State Recovery into one LiveTradingService, starts the
// control-surface HTTP listener, and waits for a shutdown signal.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/tradingcore/internal/adapter"
	"github.com/aristath/tradingcore/internal/audit"
	"github.com/aristath/tradingcore/internal/backup"
	"github.com/aristath/tradingcore/internal/broker"
	"github.com/aristath/tradingcore/internal/broker/binancefutures"
	"github.com/aristath/tradingcore/internal/broker/mockbroker"
	"github.com/aristath/tradingcore/internal/config"
	"github.com/aristath/tradingcore/internal/domain/session"
	"github.com/aristath/tradingcore/internal/events"
	"github.com/aristath/tradingcore/internal/recovery"
	"github.com/aristath/tradingcore/internal/risk"
	"github.com/aristath/tradingcore/internal/server"
	"github.com/aristath/tradingcore/internal/trading"
	"github.com/aristath/tradingcore/pkg/logger"
)

const startingPaperBalance = 100000

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: true})
	log.Info().Str("mode", string(cfg.TradingMode)).Msg("starting live trading core")

	bus := events.New(log, 500)

	brokerPort, err := newBrokerPort(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct broker driver")
	}

	validator := risk.New(cfg.Risk, nil, log)
	adapt := adapter.New(cfg.Sizing, cfg.Risk, cfg.Order)

	rec, err := recovery.New(recovery.Config{
		StateDir:         cfg.State.Dir,
		SnapshotInterval: time.Duration(cfg.State.SnapshotIntervalSecs) * time.Second,
		MaxSnapshots:     cfg.State.MaxSnapshots,
		RetentionDays:    cfg.State.RetentionDays,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize state recovery")
	}

	var auditRepo *audit.Repository
	if cfg.Audit.Enabled {
		auditRepo, err = audit.Open(cfg.Audit.Path)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open audit database")
		}
		defer auditRepo.Close()
		audit.NewRecorder(bus, auditRepo, log)
		log.Info().Str("path", cfg.Audit.Path).Msg("audit trail enabled")
	}

	svc := trading.New(cfg, brokerPort, bus, validator, adapt, rec, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.TradingEnabled {
		if err := svc.Start(ctx, uuid.New(), decimal.NewFromInt(startingPaperBalance)); err != nil {
			log.Fatal().Err(err).Msg("failed to start trading session")
		}
	}

	if cfg.Backup.Enabled {
		startBackupMirror(ctx, cfg, auditRepo, log)
	}

	srv := server.New(server.Config{
		Log:     log,
		Port:    cfg.ControlPort,
		DevMode: cfg.DevMode,
		Trading: svc,
		Bus:     bus,
		Audit:   auditRepo,
		ReloadCfg: func() error {
			reloaded, err := config.Load()
			if err != nil {
				return err
			}
			*cfg = *reloaded
			return nil
		},
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Error().Err(err).Msg("control surface stopped unexpectedly")
		}
	}()
	log.Info().Int("port", cfg.ControlPort).Msg("control surface listening")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutdown signal received")
	cancel()

	if status, _ := svc.GetSessionStatus(); status == session.StatusRunning || status == session.StatusPaused {
		if err := svc.Stop(context.Background(), "process shutdown"); err != nil {
			log.Error().Err(err).Msg("failed to stop trading session cleanly")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("control surface forced to shutdown")
	}

	log.Info().Msg("live trading core stopped")
}

// newBrokerPort selects the Broker Port driver by trading mode: PAPER runs
// against the in-memory mock, TESTNET/MAINNET run the real Binance USDT-M
// futures driver against its respective base URL.
func newBrokerPort(cfg *config.Config, log zerolog.Logger) (broker.Port, error) {
	if cfg.TradingMode == config.ModePaper {
		return mockbroker.New(decimal.NewFromInt(startingPaperBalance)), nil
	}

	driverCfg := binancefutures.Config{
		APIKey:    cfg.BrokerAPIKey,
		APISecret: cfg.BrokerAPISecret,
	}
	if cfg.TradingMode == config.ModeTestnet {
		driverCfg.BaseURL = "https://testnet.binancefuture.com"
		driverCfg.StreamURL = "wss://stream.binancefuture.com/ws"
	} else {
		driverCfg.BaseURL = "https://fapi.binance.com"
		driverCfg.StreamURL = "wss://fstream.binance.com/ws"
	}

	return binancefutures.New(driverCfg, log), nil
}

// startBackupMirror runs one mirror-and-rotate pass immediately, then every
// 6 hours until ctx is cancelled. A failed mirror is logged and retried on
// the next tick rather than escalated, since it only risks losing history
// a local snapshot restore already has.
func startBackupMirror(ctx context.Context, cfg *config.Config, auditRepo *audit.Repository, log zerolog.Logger) {
	client, err := backup.NewClient(ctx, cfg.Backup.Bucket, cfg.Backup.Region, cfg.Backup.Endpoint)
	if err != nil {
		log.Error().Err(err).Msg("failed to construct backup client, mirroring disabled")
		return
	}

	auditPath := ""
	if auditRepo != nil {
		auditPath = cfg.Audit.Path
	}
	svc := backup.NewService(client, cfg.State.Dir, auditPath, log)

	run := func() {
		mirrorCtx, mirrorCancel := context.WithTimeout(ctx, 5*time.Minute)
		defer mirrorCancel()
		if err := svc.MirrorOnce(mirrorCtx); err != nil {
			log.Error().Err(err).Msg("backup mirror failed")
			return
		}
		if err := svc.Rotate(mirrorCtx, cfg.State.RetentionDays); err != nil {
			log.Error().Err(err).Msg("backup rotation failed")
		}
	}

	go func() {
		run()
		ticker := time.NewTicker(6 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run()
			}
		}
	}()
}
