// Package wiring constructs every component of the trading service in
// dependency order and bundles them into a Container — grounded on the
// teacher's internal/di.Wire step sequence (databases, then
// repositories, then services, then jobs, cleaning up what was already
// opened if a later step fails), generalized from the teacher's
// multi-database stock-portfolio container to this service's single
// journal database plus its exchange/feature/model/risk/oms pipeline.
package wiring

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aristath/cryptotrader/internal/clock"
	"github.com/aristath/cryptotrader/internal/config"
	"github.com/aristath/cryptotrader/internal/domain"
	"github.com/aristath/cryptotrader/internal/events"
	"github.com/aristath/cryptotrader/internal/exchange"
	"github.com/aristath/cryptotrader/internal/exchange/signer"
	"github.com/aristath/cryptotrader/internal/exchange/stream"
	"github.com/aristath/cryptotrader/internal/features"
	"github.com/aristath/cryptotrader/internal/journal"
	"github.com/aristath/cryptotrader/internal/journal/archive"
	"github.com/aristath/cryptotrader/internal/models"
	"github.com/aristath/cryptotrader/internal/oms"
	"github.com/aristath/cryptotrader/internal/orchestrator"
	"github.com/aristath/cryptotrader/internal/prices"
	"github.com/aristath/cryptotrader/internal/risk"
	"github.com/aristath/cryptotrader/internal/server"
	"github.com/aristath/cryptotrader/internal/signal"
)

// Container bundles every wired component cmd/server needs to start and
// stop the service.
type Container struct {
	Config       *config.Config
	Clock        clock.Clock
	Store        *journal.Store
	Bus          *events.Bus
	Orchestrator *orchestrator.Orchestrator
	Server       *server.Server
	Stream       *stream.Client // nil in halt mode

	archiveCron *cron.Cron // nil when cfg.ArchiveEnabled is false
}

// Wire builds every component in dependency order: clock, journal
// store (replaying its on-disk log), feature store, model host, signal
// policy, risk engine and circuit breaker, event bus, price cache,
// exchange client, OMS (live broker or paper simulator depending on
// cfg.Mode), orchestrator, market data stream client (unless halted),
// journal archive job (if enabled), and finally the operator HTTP
// server. Any failure after the journal is opened closes it before
// returning the error.
func Wire(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	clk := clock.New()

	store, err := journal.Open(journalPath(cfg), clk, log)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	featureStore := features.NewStore(features.DefaultConfig())

	host := models.NewHost([]models.Scorer{
		models.NewTrendModel(),
		models.NewMeanReversionModel(),
		models.NewVolatilityRegimeModel(),
	}, clk, log)

	policy := signal.NewPolicy(signal.Config{
		MinAgreeCount:       cfg.MinAgreeCount,
		ConfidenceThreshold: cfg.ConfidenceThreshold,
	})

	circuitMode := domain.Mode(cfg.Mode)
	circuit := risk.NewCircuitBreaker(circuitMode)
	riskEng := risk.NewEngine(risk.Config{
		MaxOpenPositions:        cfg.MaxOpenPositions,
		PerSymbolCapUsd:         cfg.PerSymbolCapUsd,
		MaxPortfolioExposurePct: cfg.MaxPortfolioExposurePct,
		DailyLossLimitPct:       cfg.DailyLossLimitPct,
		VaRLimitPct:             cfg.VaRLimitPct,
		VaRConfidence:           cfg.VaRConfidence,
		RiskPerTradePct:         cfg.RiskPerTradePct,
		KellyCapPct:             cfg.KellyCapPct,
		StopLossPct:             cfg.StopLossPct,
		TakeProfitPct:           cfg.TakeProfitPct,
		ConfidenceThreshold:     cfg.ConfidenceThreshold,
	}, circuit, clk, log)

	bus := events.NewBus()
	sink := orchestrator.NewEventSink(store, bus, log)

	priceCache := prices.NewCache()

	restClient := exchange.NewClient(cfg, clk, log)

	var broker oms.Broker
	switch cfg.Mode {
	case config.ModeLive:
		broker = restClient
	default:
		broker = oms.NewPaperBroker(oms.DefaultPaperConfig(), priceCache, clk, log)
	}

	omsManager := oms.NewManager(oms.DefaultConfig(), broker, sink, clk, log)

	orchCfg := orchestrator.DefaultConfig()
	orchCfg.Symbols = cfg.Symbols
	orchCfg.ReconcileEvery = cfg.ReconciliationInterval
	orchCfg.JournalRetentionDays = cfg.JournalRetentionDays

	orch := orchestrator.New(orchCfg, featureStore, host, policy, riskEng, circuit, omsManager, store, bus, clk, log)

	for _, sym := range cfg.Symbols {
		info, err := restClient.GetInstrumentInfo(context.Background(), sym)
		if err != nil {
			log.Warn().Err(err).Str("symbol", sym).Msg("failed to fetch instrument info at boot, using zero-value limits")
			continue
		}
		orch.SetExchangeInfo(sym, info)
	}

	var streamClient *stream.Client
	if cfg.Mode != config.ModeHalt {
		urls := exchange.ResolveBaseURLs(cfg.Environment)
		sgnr := signer.New(cfg.APIKey, cfg.APISecret)
		onEvent := func(ev domain.MarketEvent) {
			priceCache.Update(ev)
			orch.HandleMarketEvent(context.Background(), ev)
		}
		onHalt := func(err error) {
			log.Error().Err(err).Msg("market data stream exhausted reconnect attempts, halting")
			_ = orch.HaltAll(context.Background(), "stream_disconnected")
		}
		streamClient = stream.New(urls.WSPublic, urls.WSPrivate, cfg.Symbols, sgnr, clk, log, onEvent, onHalt)
	}

	var archiveCron *cron.Cron
	if cfg.ArchiveEnabled {
		archiveClient, err := archive.NewClient(context.Background(), archive.Config{
			Bucket:    cfg.ArchiveBucket,
			Endpoint:  cfg.ArchiveEndpoint,
			AccessKey: cfg.ArchiveAccessKey,
			SecretKey: cfg.ArchiveSecretKey,
			Region:    cfg.ArchiveRegion,
		}, log)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize journal archive client, archival disabled")
		} else {
			archiveService := archive.NewService(archiveClient, log)
			archiveCron = cron.New(cron.WithSeconds())
			journalDBPath := journalPath(cfg)
			retentionDays := cfg.JournalRetentionDays
			if _, err := archiveCron.AddFunc("0 30 2 * * *", func() {
				ctx := context.Background()
				if err := archiveService.CreateAndUpload(ctx, journalDBPath); err != nil {
					log.Error().Err(err).Msg("journal archive upload failed")
					return
				}
				if err := archiveService.RotateOld(ctx, retentionDays); err != nil {
					log.Error().Err(err).Msg("journal archive rotation failed")
				}
			}); err != nil {
				log.Warn().Err(err).Msg("failed to register journal archive job, archival disabled")
				archiveCron = nil
			} else {
				archiveCron.Start()
			}
		}
	}

	srv := server.New(server.Config{
		Port:         cfg.Port,
		DevMode:      cfg.Environment != config.EnvironmentLive,
		Orchestrator: orch,
		Store:        store,
		Bus:          bus,
		Clk:          clk,
		Log:          log,
	})

	return &Container{
		Config:       cfg,
		Clock:        clk,
		Store:        store,
		Bus:          bus,
		Orchestrator: orch,
		Server:       srv,
		Stream:       streamClient,
		archiveCron:  archiveCron,
	}, nil
}

// Close releases every resource the Container opened, in reverse
// dependency order.
func (c *Container) Close() error {
	if c.archiveCron != nil {
		<-c.archiveCron.Stop().Done()
	}
	if c.Stream != nil {
		c.Stream.Stop()
	}
	c.Orchestrator.Stop()
	return c.Store.Close()
}

func journalPath(cfg *config.Config) string {
	return cfg.DataDir + "/journal.db"
}
