package routes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/crowdfund/internal/auth"
	"github.com/congo-pay/crowdfund/internal/config"
	"github.com/congo-pay/crowdfund/internal/crowdfund"
	"github.com/congo-pay/crowdfund/internal/funding"
	"github.com/congo-pay/crowdfund/internal/identity"
	"github.com/congo-pay/crowdfund/internal/ledger"
	"github.com/congo-pay/crowdfund/internal/metrics"
	"github.com/congo-pay/crowdfund/internal/middleware"
	"github.com/congo-pay/crowdfund/internal/notification"
	"github.com/congo-pay/crowdfund/internal/oracle"
	"github.com/congo-pay/crowdfund/internal/payments"
	"github.com/congo-pay/crowdfund/internal/wallet"
)

const (
	devOwnerPhone = "owner"
	devOwnerPIN   = "0000"
)

// Deps aggregates shared dependencies required to wire routes. DB and Cache
// may be nil in development; Notifier defaults to the log notifier.
type Deps struct {
	Cfg      config.Config
	DB       *pgxpool.Pool
	Cache    *redis.Client
	Logger   *slog.Logger
	Notifier notification.Notifier
	Metrics  *metrics.Registry
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	if d.Notifier == nil {
		d.Notifier = notification.NewLoggerNotifier(d.Logger)
	}
	if d.Metrics == nil {
		d.Metrics = metrics.NewRegistry()
	}
	ctx := context.Background()

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))

	// Storage
	var (
		ledgerBackend ledger.Ledger
		walletRepo    wallet.Repository
		identityRepo  identity.Repository
	)
	if d.DB != nil {
		ledgerBackend = ledger.NewPostgresLedger(d.DB)
		walletRepo = wallet.NewPostgresRepository(d.DB)
		identityRepo = identity.NewPostgresRepository(d.DB)
	} else {
		ledgerBackend = ledger.NewInMemory()
		walletRepo = wallet.NewMemoryRepository()
		identityRepo = identity.NewMemoryRepository()
	}

	if err := ledgerBackend.EnsureAccount(ctx, ledger.GenesisAccountCode); err != nil {
		return fmt.Errorf("genesis account: %w", err)
	}

	// Services
	walletSvc := wallet.NewService(walletRepo, ledgerBackend)
	identitySvc := identity.NewService(identityRepo)
	authSvc := auth.NewService(d.Cfg, identityRepo)

	treasury, err := payments.NewTreasury(ctx, ledgerBackend, walletSvc, d.Notifier, d.Logger)
	if err != nil {
		return fmt.Errorf("treasury: %w", err)
	}
	fundingSvc, err := funding.NewService(ctx, ledgerBackend, walletSvc, funding.StaticAcquirer{}, d.Cfg.Crowdfund.NativeDecimals, d.Logger)
	if err != nil {
		return fmt.Errorf("funding: %w", err)
	}
	priceFeed, err := buildPriceFeed(d)
	if err != nil {
		return fmt.Errorf("price feed: %w", err)
	}
	ownerID, err := ensureOwner(ctx, d, identitySvc, walletSvc)
	if err != nil {
		return fmt.Errorf("crowdfund owner: %w", err)
	}
	// Records held before a restart are rebuilt from the escrow postings.
	held, err := treasury.Holdings(ctx)
	if err != nil {
		return fmt.Errorf("crowdfund holdings: %w", err)
	}
	fund, err := crowdfund.New(crowdfund.Config{
		Owner:          crowdfund.Identity(ownerID),
		MinimumUSD:     d.Cfg.Crowdfund.MinimumUSD,
		NativeDecimals: d.Cfg.Crowdfund.NativeDecimals,
	}, priceFeed, treasury,
		crowdfund.WithLogger(d.Logger),
		crowdfund.WithRecorder(d.Metrics),
		crowdfund.WithNotifier(treasury),
		crowdfund.WithOpeningRecords(held),
	)
	if err != nil {
		return err
	}
	d.Logger.Info("crowdfund ready",
		slog.String("owner", ownerID),
		slog.String("price_feed", fund.PriceOracleAddress()),
		slog.String("minimum_usd", fund.MinimumUSD().String()),
		slog.Int("contributors", fund.ContributorCount()),
		slog.String("balance", fund.Balance().String()),
	)

	// Handlers
	provision := func(ctx context.Context, user identity.User) (string, error) {
		w, err := walletSvc.Create(ctx, wallet.CreateInput{OwnerID: user.ID})
		return w.ID, err
	}
	identityHandler := identity.NewHandler(identitySvc, provision, d.Logger)
	authHandler := auth.NewHandler(identitySvc, authSvc, walletSvc)
	walletHandler := wallet.NewHandler(walletSvc)
	crowdfundHandler := crowdfund.NewHandler(fund)
	fundingHandler := funding.NewHandler(fundingSvc)

	RegisterHealthRoutes(app, d, priceFeed)
	app.Get("/metrics", d.Metrics.Handler())

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Public routes
	RegisterIdentityRoutes(api, identityHandler)
	RegisterAuthRoutes(api, authHandler, middleware.LoginRateLimit(d.Cache, 5))
	RegisterCrowdfundReadRoutes(api, crowdfundHandler)

	// Protected routes
	protected := api.Group("", middleware.JWTAuth(authSvc))
	var idempotent fiber.Handler
	if d.Cache != nil {
		idempotent = middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger)
	}
	protected.Get("/me", identityHandler.Me)
	protected.Post("/auth/logout", authHandler.Logout)
	RegisterWalletMeRoute(protected, walletSvc, identitySvc)
	RegisterWalletRoutes(protected, walletHandler, d.Cfg.IsDev())
	RegisterFundingRoutes(protected, fundingHandler)
	RegisterCrowdfundRoutes(protected, crowdfundHandler, idempotent)

	return nil
}

// buildPriceFeed selects the static development feed when no URL is configured,
// otherwise the HTTP feed, cached in Redis when available.
func buildPriceFeed(d Deps) (oracle.Feed, error) {
	if d.Cfg.PriceFeed.URL == "" {
		return oracle.NewStatic("eth-usd", d.Cfg.PriceFeed.Decimals, d.Cfg.PriceFeed.InitialAnswer), nil
	}
	feed, err := oracle.NewHTTPFeed(d.Cfg.PriceFeed.URL, oracle.HTTPFeedOptions{
		RequestsPerSecond: d.Cfg.PriceFeed.RequestsPerSecond,
	})
	if err != nil {
		return nil, err
	}
	if d.Cache == nil {
		return feed, nil
	}
	return oracle.NewCached(feed, d.Cache, d.Cfg.PriceFeed.CacheTTL, d.Logger), nil
}

// ensureOwner resolves the withdrawing identity and makes sure it has a wallet
// to receive payouts. In development an owner account is registered when none
// is configured.
func ensureOwner(ctx context.Context, d Deps, ids *identity.Service, wallets *wallet.Service) (string, error) {
	ownerID := d.Cfg.Crowdfund.OwnerID
	if ownerID == "" {
		if !d.Cfg.IsDev() {
			return "", errors.New("owner id is required")
		}
		user, err := ids.Register(ctx, identity.Credentials{Phone: devOwnerPhone, PIN: devOwnerPIN})
		if errors.Is(err, identity.ErrUserExists) {
			user, err = ids.GetByPhone(ctx, devOwnerPhone)
		}
		if err != nil {
			return "", err
		}
		d.Logger.Warn("development owner registered",
			slog.String("user_id", user.ID),
			slog.String("phone", devOwnerPhone),
		)
		ownerID = user.ID
	}

	if _, err := wallets.GetByOwner(ctx, ownerID); err == nil {
		return ownerID, nil
	} else if !errors.Is(err, wallet.ErrNotFound) {
		return "", err
	}
	if _, err := wallets.Create(ctx, wallet.CreateInput{OwnerID: ownerID}); err != nil {
		return "", err
	}
	return ownerID, nil
}
