package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/loyalpass/loyalpass/internal/asset"
	"github.com/loyalpass/loyalpass/internal/chain"
	"github.com/loyalpass/loyalpass/internal/config"
	"github.com/loyalpass/loyalpass/internal/distribution"
	"github.com/loyalpass/loyalpass/internal/entropy"
	"github.com/loyalpass/loyalpass/internal/ledger"
	"github.com/loyalpass/loyalpass/internal/metrics"
	"github.com/loyalpass/loyalpass/internal/middleware"
	"github.com/loyalpass/loyalpass/internal/notification"
	"github.com/loyalpass/loyalpass/internal/passes"
	"github.com/loyalpass/loyalpass/internal/redemption"
	"github.com/loyalpass/loyalpass/internal/replay"
	"github.com/loyalpass/loyalpass/internal/wallet"
)

const redeemRequestsPerMinute = 60

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg     config.Config
	DB      *pgxpool.Pool
	Cache   *redis.Client
	Logger  *slog.Logger
	Issuer  chain.Keypair
	Network ledger.Network
	// Metrics is created when nil.
	Metrics *metrics.Metrics
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Enforce a durable replay store outside of dev, even though config also checks.
	if !isDev(d.Cfg.AppEnv) && d.DB == nil && d.Cache == nil {
		return fmt.Errorf("postgres or redis is required when APP_ENV=%s", d.Cfg.AppEnv)
	}
	if d.Network == nil {
		return fmt.Errorf("ledger network is required")
	}
	if d.Issuer.IsZero() {
		return fmt.Errorf("issuer keypair is required")
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	// Health and metrics
	RegisterHealthRoutes(app, d)
	app.Get("/metrics", adaptor.HTTPHandler(d.Metrics.Handler()))

	// Services and handlers
	var journal ledger.Journal
	if d.DB != nil {
		journal = ledger.NewPostgresJournal(d.DB)
	} else {
		journal = ledger.NewMemoryJournal()
	}
	engine := ledger.NewEngine(d.Network, journal, d.Metrics, d.Logger)

	var assetStore asset.Store
	if d.DB != nil {
		assetStore = asset.NewPostgresStore(d.DB)
	} else {
		assetStore = asset.NewFileStore(d.Cfg.AssetFile)
	}
	assetSvc := asset.NewService(assetStore, engine, d.Issuer, d.Logger)

	var replays replay.Store
	switch {
	case d.DB != nil:
		replays = replay.NewPostgresStore(d.DB)
	case d.Cache != nil:
		replays = replay.NewRedisStore(d.Cache, d.Cfg.ReplayTTL)
	default:
		d.Logger.Warn("replay nonces kept in memory; they are forgotten on restart")
		replays = replay.NewMemoryStore()
	}

	var walletRepo wallet.Repository
	if d.DB != nil {
		walletRepo = wallet.NewPostgresRepository(d.DB)
	} else {
		walletRepo = wallet.NewMemoryRepository()
	}

	notifier := notification.NewLoggerNotifier(d.Logger)
	redemptionSvc := redemption.NewService(assetSvc, engine, replays, notifier, d.Metrics, redemption.Policy{
		AllowedDomains: d.Cfg.AllowedDomains,
		Limiter:        redemption.NewLimiter(d.Cfg.RedeemRate, d.Cfg.RedeemBurst, 10*time.Minute),
	}, d.Logger)
	// session nonces are not persisted; passes.Sessions is the hook for it
	passSvc := passes.NewService(assetSvc, engine, entropy.Default, replays, nil, d.Metrics, passes.Policy{
		AllowedDomains: d.Cfg.AllowedDomains,
	}, d.Logger)
	distributionSvc := distribution.NewService(assetSvc, engine, notifier, d.Logger)
	walletSvc := wallet.NewService(walletRepo, assetSvc, engine, d.Cfg.AirdropEnabled, d.Logger)

	// API routes
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"network":    d.Cfg.Network,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Public routes
	redeemLimiter := middleware.RateLimit(d.Cache, "redeem", redeemRequestsPerMinute)
	RegisterPassRoutes(api, passes.NewHandler(passSvc), redemption.NewHandler(redemptionSvc), redeemLimiter)
	RegisterWalletRoutes(api, wallet.NewHandler(walletSvc))

	// Issuer routes
	admin := middleware.AdminAuth(d.Cfg.AdminTokenHash)
	idempotent := middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger)
	RegisterTokenRoutes(api, asset.NewHandler(assetSvc), distribution.NewHandler(distributionSvc), admin, idempotent)

	return nil
}

func isDev(env string) bool {
	switch strings.ToLower(env) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}
