package handler

import (
	"custodial-ledger/internal/adapter/http/middleware"
	"custodial-ledger/internal/core/ports"
	"custodial-ledger/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	WalletSvc      ports.WalletService
	WithdrawalSvc  ports.WithdrawalService
	SettlementSvc  ports.SettlementService
	Treasury       ports.TreasuryProvider
	Rates          RateUpdater
	TokenSvc       ports.TokenService
	RateLimitStore ports.RateLimiter // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()

	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(metrics.GinMiddleware())
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	r.GET("/health", HealthCheck(deps.HealthCheckers...))
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	rules := middleware.DefaultRateLimitRules()
	rl := func(group string) gin.HandlerFunc {
		rule, ok := rules[group]
		if deps.RateLimitStore == nil || !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	walletHandler := NewWalletHandler(deps.WalletSvc)
	withdrawalHandler := NewWithdrawalHandler(deps.WithdrawalSvc)
	settlementHandler := NewSettlementHandler(deps.SettlementSvc)
	treasuryHandler := NewTreasuryHandler(deps.Treasury, deps.Rates)

	v1 := r.Group("/api/v1", middleware.JWTAuth(deps.TokenSvc, deps.Logger))

	wallet := v1.Group("/wallet")
	{
		wallet.POST("", rl("requests"), walletHandler.CreateWallet)
		wallet.GET("/balance", rl("read"), walletHandler.GetBalance)
		wallet.GET("/ledger", rl("read"), walletHandler.GetLedger)
		wallet.POST("/transfer", rl("movements"), walletHandler.Transfer)
		wallet.POST("/pay", rl("movements"), walletHandler.Pay)
	}

	withdrawals := v1.Group("/withdrawals")
	{
		withdrawals.POST("", rl("requests"), withdrawalHandler.Create)
		withdrawals.GET("", rl("read"), withdrawalHandler.List)
		withdrawals.GET("/:id", rl("read"), withdrawalHandler.Get)
	}

	settlements := v1.Group("/settlements")
	{
		settlements.POST("", rl("requests"), settlementHandler.Create)
	}

	// --- Operator routes ---
	operator := v1.Group("", middleware.RequireRole(ports.RoleOperator), rl("operator"), middleware.OperatorAudit(deps.Logger))
	{
		operator.POST("/withdrawals/:id/approve", withdrawalHandler.Approve)
		operator.POST("/withdrawals/:id/reject", withdrawalHandler.Reject)
		operator.GET("/settlements/:id", settlementHandler.Get)
		operator.POST("/settlements/:id/approve", settlementHandler.Approve)
		operator.POST("/settlements/:id/reject", settlementHandler.Reject)
		operator.GET("/events/:id/settlements", settlementHandler.ListByEvent)
		operator.POST("/recharges", walletHandler.Recharge)
		operator.GET("/treasury", treasuryHandler.GetSettings)
		operator.PUT("/treasury/rate", treasuryHandler.UpdateRate)
	}

	return r
}
