package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"

	"github.com/wagerpay/settlement_service/internal/adapters/evm"
	"github.com/wagerpay/settlement_service/internal/api/handlers"
	"github.com/wagerpay/settlement_service/internal/api/routes"
	"github.com/wagerpay/settlement_service/internal/domain/services/gas"
	"github.com/wagerpay/settlement_service/internal/domain/services/pipeline"
	"github.com/wagerpay/settlement_service/internal/domain/services/split"
	"github.com/wagerpay/settlement_service/internal/domain/services/swap"
	"github.com/wagerpay/settlement_service/internal/domain/services/wallet"
	"github.com/wagerpay/settlement_service/internal/domain/services/watcher"
	"github.com/wagerpay/settlement_service/internal/infrastructure/cache"
	"github.com/wagerpay/settlement_service/internal/infrastructure/config"
	"github.com/wagerpay/settlement_service/internal/infrastructure/database"
	"github.com/wagerpay/settlement_service/internal/infrastructure/repositories"
	"github.com/wagerpay/settlement_service/pkg/graceful"
	"github.com/wagerpay/settlement_service/pkg/logger"
	"github.com/wagerpay/settlement_service/pkg/metrics"
	"github.com/wagerpay/settlement_service/pkg/retry"
	"github.com/wagerpay/settlement_service/pkg/secrets"
	"github.com/wagerpay/settlement_service/pkg/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log := logger.New(cfg.LogLevel, cfg.Environment)
	defer log.Sync()

	ctx := context.Background()

	tracingShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		CollectorURL: cfg.Tracing.CollectorURL,
		Environment:  cfg.Environment,
		SampleRate:   cfg.Tracing.SampleRate,
		Insecure:     cfg.Tracing.Insecure,
	}, log.Zap())
	if err != nil {
		log.Fatal("Failed to initialize tracing", "error", err)
	}
	defer tracingShutdown(ctx)

	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", "error", err)
	}

	if err := database.RunMigrations(cfg.Database.URL); err != nil {
		log.Fatal("Failed to run migrations", "error", err)
	}

	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			stats := db.Stats()
			metrics.DatabaseConnectionsGauge.WithLabelValues("open").Set(float64(stats.OpenConnections))
			metrics.DatabaseConnectionsGauge.WithLabelValues("in_use").Set(float64(stats.InUse))
			metrics.DatabaseConnectionsGauge.WithLabelValues("idle").Set(float64(stats.Idle))
		}
	}()

	redis, err := cache.NewRedisClient(&cfg.Redis, log.Zap())
	if err != nil {
		log.Fatal("Failed to connect to Redis", "error", err)
	}

	secretProvider, err := buildSecretProvider(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to initialize secret provider", "error", err)
	}

	deriver, err := wallet.NewDeriver(ctx, secretProvider, cfg.Wallet.DerivationPath)
	if err != nil {
		log.Fatal("Failed to open HD wallet", "error", err)
	}

	sponsorKey := loadSponsorKey(ctx, cfg, secretProvider, log)

	settlementRepo := repositories.NewSettlementRepository(db, log.Zap())
	userRepo := repositories.NewUserRepository(db, log.Zap())

	// Per-chain runtimes: RPC client, swap router, splitter, sponsor.
	chains := make(map[string]*pipeline.ChainRuntime, len(cfg.Chains))
	sweepers := make(map[string]*gas.Sweeper, len(cfg.Chains))
	withdrawers := make(map[string]*gas.Withdrawer)
	var sweeperList []*gas.Sweeper

	for key, chainCfg := range cfg.Chains {
		client, err := evm.Dial(ctx, key, chainCfg, log)
		if err != nil {
			log.Fatal("Failed to connect to chain", "chain", key, "error", err)
		}
		defer client.Close()

		// Unconfigured stable decimals resolve from the contract once at
		// startup, so amount conversions never guess.
		if chainCfg.StableTokenDecimals == 0 && chainCfg.StableToken != "" {
			dec, err := client.TokenDecimals(ctx, common.HexToAddress(chainCfg.StableToken))
			if err != nil {
				log.Fatal("Failed to read stable token decimals", "chain", key, "error", err)
			}
			chainCfg.StableTokenDecimals = int(dec)
			log.Info("Resolved stable token decimals", "chain", key, "decimals", dec)
		}

		router, err := swap.NewRouter(client, chainCfg, log)
		if err != nil {
			log.Fatal("Failed to build swap router", "chain", key, "error", err)
		}
		log.Info("Swap router ready", "chain", key, "strategies", router.Strategies())

		runtime := &pipeline.ChainRuntime{
			Client:   client,
			Cfg:      chainCfg,
			Router:   router,
			Splitter: split.NewService(client, cfg.Settlement, chainCfg, sponsorKey, log),
		}
		if cfg.Sponsor.Enabled && sponsorKey != nil {
			runtime.Sponsor = gas.NewSponsor(client, sponsorKey, cfg.Sponsor, chainCfg, log)
			withdrawers[key] = gas.NewWithdrawer(client, sponsorKey, chainCfg, log)
		}
		sweeper := gas.NewSweeper(client, deriver, userRepo, cfg.Sweep, chainCfg, log)
		sweepers[key] = sweeper
		sweeperList = append(sweeperList, sweeper)
		if cfg.Sweep.Enabled {
			runtime.Sweeper = sweeper
		}
		chains[key] = runtime
	}

	retrier := retry.NewRetrier(retry.DefaultPolicy(), log.Zap())
	processor := pipeline.NewProcessor(db, settlementRepo, userRepo, deriver, chains, cfg.Settlement, retrier, log)
	queue := pipeline.NewQueue(processor, cfg.Settlement.QueueConcurrency, cfg.Settlement.QueueCapacity, log)
	queue.Start()

	resyncInterval := time.Duration(cfg.Settlement.ResyncInterval) * time.Second
	watchers := make([]*watcher.Watcher, 0, len(chains))
	for key, runtime := range chains {
		w := watcher.New(runtime.Client, redis, userRepo, queue, runtime.Cfg, resyncInterval, log)
		if err := w.Start(ctx); err != nil {
			log.Fatal("Failed to start chain watcher", "chain", key, "error", err)
		}
		watchers = append(watchers, w)
	}

	scheduler := gas.NewMaintenanceScheduler(sweeperList, settlementRepo, cfg.Sweep, cfg.Settlement, log)
	if err := scheduler.Start(); err != nil {
		log.Fatal("Failed to start maintenance scheduler", "error", err)
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	routes.Setup(router,
		handlers.NewHealthHandler(db, redis, queue, log.Zap()),
		handlers.NewAdminHandler(settlementRepo, queue, sweepers, withdrawers, log.Zap()),
		log.Zap(),
	)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		log.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", "error", err)
		}
	}()

	// Watchers stop first so nothing new enters the queue, then the
	// queue drains, then periodic jobs, then the server and database.
	shutdown := graceful.NewShutdownManager(server, db.DB, log)
	for _, w := range watchers {
		shutdown.Register(w)
	}
	shutdown.Register(queue)
	shutdown.Register(scheduler)
	shutdown.WaitForShutdown()

	if err := redis.Close(); err != nil {
		log.Warn("Failed to close Redis connection", "error", err)
	}
}

func buildSecretProvider(ctx context.Context, cfg *config.Config) (secrets.Provider, error) {
	if cfg.Secrets.Provider == "aws" {
		return secrets.NewAWSSecretsManagerProvider(ctx,
			cfg.Secrets.Region,
			cfg.Secrets.Prefix,
			time.Duration(cfg.Secrets.CacheTTL)*time.Second)
	}
	return secrets.NewEnvProvider(), nil
}

// loadSponsorKey fetches the sponsor key when anything needs it. Missing
// key material is fatal only if a feature depends on it; the split
// service checks again at execution time.
func loadSponsorKey(ctx context.Context, cfg *config.Config, provider secrets.Provider, log *logger.Logger) *ecdsa.PrivateKey {
	needed := cfg.Sponsor.Enabled || cfg.Settlement.GaslessSplit
	if !needed {
		return nil
	}

	raw, err := provider.GetSecret(ctx, secrets.KeySponsorPrivateKey)
	if err != nil {
		log.Fatal("Sponsor key is required but not available", "error", err)
	}
	key, err := crypto.HexToECDSA(trimHexPrefix(raw))
	if err != nil {
		log.Fatal("Sponsor key is not a valid secp256k1 key", "error", err)
	}
	return key
}

func trimHexPrefix(s string) string {
	if len(s) > 1 && s[0:2] == "0x" {
		return s[2:]
	}
	return s
}
