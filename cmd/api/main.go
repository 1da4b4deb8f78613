package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"custodial-ledger/config"
	"custodial-ledger/internal/adapter/chain/neo"
	"custodial-ledger/internal/adapter/events/kafka"
	httpHandler "custodial-ledger/internal/adapter/http/handler"
	"custodial-ledger/internal/adapter/storage/memory"
	pgStorage "custodial-ledger/internal/adapter/storage/postgres"
	redisStorage "custodial-ledger/internal/adapter/storage/redis"
	"custodial-ledger/internal/core/ports"
	"custodial-ledger/internal/service"
	"custodial-ledger/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

func main() {
	// A missing .env is fine; real deployments use the environment.
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("CTL_CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)
	gin.SetMode(cfg.Server.Mode)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Str("network", cfg.Chain.Network).
		Msg("Starting custodial ledger")

	ctx := context.Background()

	// PostgreSQL
	if cfg.Database.AutoMigrate {
		if err := pgStorage.Migrate(cfg.Database, log); err != nil {
			log.Fatal().Err(err).Msg("Failed to apply migrations")
		}
	}
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	accountRepo := pgStorage.NewAccountRepo(pool)
	ledgerRepo := pgStorage.NewLedgerRepo(pool)
	settlementRepo := pgStorage.NewSettlementRepo(pool)
	withdrawalRepo := pgStorage.NewWithdrawalRepo(pool)
	directoryRepo := pgStorage.NewDirectoryRepo(pool)
	settingsRepo := pgStorage.NewSettingsRepo(pool)
	transactor := pgStorage.NewTransactor(pool)

	checkers := []ports.HealthChecker{pgStorage.NewHealthCheck(pool)}

	// Redis backs the per-account signing lock and rate limits across
	// replicas. Without it both fall back to in-process implementations.
	var (
		locker    ports.AccountLocker
		rateStore ports.RateLimiter
	)
	if cfg.Redis.Enabled {
		rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()
		locker = redisStorage.NewAccountLock(rdb, cfg.Redis.LockTTL)
		rateStore = redisStorage.NewRateLimitStore(rdb)
		checkers = append(checkers, redisStorage.NewHealthCheck(rdb))
	} else {
		log.Warn().Msg("Redis disabled, using in-process account locks")
		locker = memory.NewKeyedLocker()
		rateStore = memory.NewRateLimiter()
	}

	// Neo N3
	chain, err := neo.Dial(ctx, neo.Options{
		Endpoint:       cfg.Chain.RPCURL,
		ContractHash:   cfg.Chain.ContractHash,
		ConfirmTimeout: cfg.Chain.ConfirmTimeout,
		PollInterval:   cfg.Chain.PollInterval,
		RPCRate:        cfg.Chain.RPCRate,
		RPCBurst:       cfg.Chain.RPCBurst,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Neo RPC node")
	}
	defer chain.Close()
	checkers = append(checkers, neo.NewHealthCheck(chain))

	// Ledger events
	var events ports.LedgerEventPublisher = kafka.Nop{}
	if cfg.Kafka.Enabled {
		publisher := kafka.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		defer func() {
			if err := publisher.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close ledger event publisher")
			}
		}()
		events = publisher
	}

	// Core services
	vault, err := service.NewAESKeyVault(cfg.Vault.Secret)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize key vault")
	}
	defaultRate, err := decimal.NewFromString(cfg.Treasury.DefaultUSDPerToken)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid treasury.default_usd_per_token")
	}

	accountSvc := service.NewAccountService(accountRepo, vault, neo.NewKeyGenerator(), cfg.Chain.Network, log)
	if _, err := accountSvc.ImportTreasury(ctx, cfg.Treasury.PrivateKeyWIF); err != nil {
		log.Fatal().Err(err).Msg("Failed to load treasury account")
	}

	treasury := service.NewTreasuryManager(chain, accountSvc, settingsRepo, service.TreasuryConfig{
		ContractHash:       cfg.Chain.ContractHash,
		Network:            cfg.Chain.Network,
		DefaultUSDPerToken: defaultRate,
	}, log)
	if _, err := treasury.Settings(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to resolve token and treasury settings")
	}

	gasSvc := service.NewGasService(chain, treasury, accountSvc, service.GasConfig{
		MinBalance:   cfg.Gas.MinBalance,
		TopUpAmount:  cfg.Gas.TopUpAmount,
		MaxAttempts:  cfg.Gas.MaxAttempts,
		RetryBackoff: cfg.Gas.RetryBackoff,
	}, log)
	transferSvc := service.NewTransferService(accountSvc, ledgerRepo, chain, gasSvc, treasury, locker, events, log)
	walletSvc := service.NewWalletService(accountSvc, transferSvc, ledgerRepo, chain, treasury, directoryRepo, log)
	withdrawalSvc := service.NewWithdrawalService(withdrawalRepo, accountSvc, transferSvc, chain, treasury, locker, log)
	settlementSvc := service.NewSettlementService(
		settlementRepo,
		directoryRepo,
		accountSvc,
		transferSvc,
		chain,
		treasury,
		locker,
		transactor,
		log,
	)
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Issuer)

	// Reconciler for entries left en_proceso by a crash or closed with an
	// unknown outcome
	reconciler := service.NewReconciler(ledgerRepo, chain, events, withdrawalRepo, service.ReconcilerConfig{
		MinAge: cfg.Reconcile.MinAge,
		MaxAge: cfg.Reconcile.MaxAge,
		Batch:  cfg.Reconcile.Batch,
	}, log)
	if cfg.Reconcile.Enabled {
		if err := reconciler.Start(cfg.Reconcile.Schedule); err != nil {
			log.Fatal().Err(err).Msg("Failed to start reconciler")
		}
	}

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		WalletSvc:      walletSvc,
		WithdrawalSvc:  withdrawalSvc,
		SettlementSvc:  settlementSvc,
		Treasury:       treasury,
		Rates:          treasury,
		TokenSvc:       tokenSvc,
		RateLimitStore: rateStore,
		HealthCheckers: checkers,
		Logger:         log,
	})

	// HTTP server with graceful shutdown. Write timeout covers a full
	// confirmation wait plus a gas top-up.
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      2*cfg.Chain.ConfirmTimeout + 30*time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Chain.ConfirmTimeout+10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if cfg.Reconcile.Enabled {
		select {
		case <-reconciler.Stop().Done():
		case <-shutdownCtx.Done():
			log.Warn().Msg("Reconciler pass still running at shutdown")
		}
	}

	log.Info().Msg("Server exited")
}
