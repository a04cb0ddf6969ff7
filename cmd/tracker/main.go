// Package main runs the live trade tracker: program subscription, position
// ledger, price poller, event sinks and the HTTP API.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"solana-trade-ledger/internal/config"
	"solana-trade-ledger/internal/decoder"
	"solana-trade-ledger/internal/ingestion"
	"solana-trade-ledger/internal/ledger"
	"solana-trade-ledger/internal/metadata"
	"solana-trade-ledger/internal/notify"
	"solana-trade-ledger/internal/observability"
	"solana-trade-ledger/internal/orchestrator"
	"solana-trade-ledger/internal/pricing"
	"solana-trade-ledger/internal/server"
	"solana-trade-ledger/internal/solana"
)

func main() {
	configPath := flag.String("config", "", "Path to TOML config file (defaults and TRACKER_* env when empty)")
	verbose := flag.Bool("verbose", false, "Enable verbose logging")
	flag.Parse()

	logger := log.New(os.Stdout, "[tracker] ", log.LstdFlags)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	if *verbose {
		cfg.Verbose = true
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatalf("Tracker stopped: %v", err)
	}
	logger.Println("Shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	m := observability.NewMetrics("", prometheus.DefaultRegisterer)

	rpc := solana.NewHTTPClient(cfg.Solana.RPCEndpoint,
		solana.WithCommitment(cfg.Solana.Commitment),
		solana.WithTimeout(cfg.Ingestion.FetchTimeout.Duration),
	)

	program := decoder.PumpFun()
	program.ID = cfg.Solana.ProgramID
	dec := decoder.New(decoder.Options{
		Programs:        []decoder.Program{program},
		ExcludedWallets: cfg.Decoder.ExcludedWallets,
	})

	book := ledger.New(ledger.Config{
		MinOpenQuantity:    cfg.Ledger.MinOpenQuantity,
		SignificantMovePct: cfg.Ledger.SignificantMovePct,
		ActiveEpsilon:      cfg.Ledger.ActiveEpsilon,
		AppliedCapacity:    cfg.Ledger.AppliedCapacity,
	})

	wsLogger := log.New(os.Stdout, "[ws] ", log.LstdFlags)
	dial := func(ctx context.Context) (solana.WSClient, error) {
		return solana.NewWSClient(ctx, cfg.Solana.WSEndpoint, &solana.WSClientConfig{
			ReconnectDelay:    time.Second,
			MaxReconnectDelay: 30 * time.Second,
			PingInterval:      30 * time.Second,
			ReadTimeout:       60 * time.Second,
			WriteTimeout:      10 * time.Second,
			Commitment:        cfg.Solana.Commitment,
			Logger:            wsLogger,
		})
	}
	primary := ingestion.NewWSSource(dial, cfg.Solana.ProgramID, wsLogger)
	fallback := ingestion.NewSlotSource(rpc, cfg.Solana.ProgramID, ingestion.SlotSourceOptions{
		Interval: cfg.Ingestion.SlotPollInterval.Duration,
		Logger:   log.New(os.Stdout, "[slot] ", log.LstdFlags),
	})

	oracle := pricing.NewJupiterClient(cfg.Pricing.Endpoint,
		pricing.WithAPIKey(cfg.Pricing.APIKey),
		pricing.WithBatchSize(cfg.Pricing.BatchSize),
	)

	hub := server.NewHub(log.New(os.Stdout, "[ws-hub] ", log.LstdFlags))
	sinks := []notify.Sink{hub}
	if cfg.Redis.Enabled {
		redisSink, err := notify.NewRedisSink(ctx, notify.RedisConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			TLSEnabled: cfg.Redis.TLSEnabled,
			Channel:    cfg.Redis.Channel,
			Stream:     cfg.Redis.Stream,
		})
		if err != nil {
			return err
		}
		defer redisSink.Close()
		sinks = append(sinks, redisSink)
		logger.Printf("Publishing events to redis %s", cfg.Redis.Addr)
	}

	var resolver metadata.Resolver
	if cfg.Metadata.Enabled {
		rpcResolver := metadata.NewRPCResolver(rpc, log.New(os.Stdout, "[metadata] ", log.LstdFlags))
		resolver = metadata.NewCachingResolver(rpcResolver, cfg.Metadata.CacheTTL.Duration)
	}

	orch, err := orchestrator.New(orchestrator.Options{
		Ledger:   book,
		Decoder:  dec,
		Primary:  primary,
		Fallback: fallback,
		RPC:      rpc,
		Oracle:   oracle,
		Pricing: pricing.Options{
			Interval:       cfg.Pricing.Interval.Duration,
			Timeout:        cfg.Pricing.Timeout.Duration,
			ReferenceAsset: cfg.Pricing.ReferenceAsset,
			Logger:         log.New(os.Stdout, "[pricing] ", log.LstdFlags),
		},
		Resolver: resolver,
		Sink:     notify.NewFanout(sinks...),
		Metrics:  m,
		Workers:  cfg.Ingestion.Workers,
		Fetch: ingestion.FetchOptions{
			Attempts: cfg.Ingestion.FetchRetries,
			Timeout:  cfg.Ingestion.FetchTimeout.Duration,
		},
		StallTimeout:        cfg.Ingestion.StallTimeout.Duration,
		MaxResubscribes:     cfg.Ingestion.MaxResubscribes,
		MetadataConcurrency: cfg.Metadata.Concurrency,
		MinValuation:        cfg.Filter.MinValuation,
		MaxValuation:        cfg.Filter.MaxValuation,
		Logger:              log.New(os.Stdout, "[orchestrator] ", log.LstdFlags),
		Verbose:             cfg.Verbose,
	})
	if err != nil {
		return err
	}

	logger.Printf("Tracking program %s (rpc %s, ws %s)",
		cfg.Solana.ProgramID, cfg.Solana.RPCEndpoint, cfg.Solana.WSEndpoint)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return orch.Run(gctx)
	})
	if cfg.Server.Enabled {
		var prices server.PriceRefresher
		if p := orch.Poller(); p != nil {
			prices = p
		}
		srv := server.New(server.Options{
			Addr:    cfg.Server.Addr,
			Ledger:  book,
			Stats:   orch.Stats,
			Prices:  prices,
			Hub:     hub,
			Metrics: m,
			Logger:  log.New(os.Stdout, "[http] ", log.LstdFlags),
		})
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}
	return g.Wait()
}
