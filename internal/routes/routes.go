package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/calmtalk/calmtalk/internal/call"
	"github.com/calmtalk/calmtalk/internal/calllog"
	"github.com/calmtalk/calmtalk/internal/config"
	"github.com/calmtalk/calmtalk/internal/gateway"
	"github.com/calmtalk/calmtalk/internal/ledger"
	"github.com/calmtalk/calmtalk/internal/middleware"
	"github.com/calmtalk/calmtalk/internal/notification"
	"github.com/calmtalk/calmtalk/internal/recharge"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Enforce DB/Redis presence outside of dev, even though main also checks.
	if !config.IsDev(d.Cfg.Env) {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.Env)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.Env)
		}
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))

	// Health
	RegisterHealthRoutes(app, d)

	// Backends: Postgres-backed in production, in-memory in dev.
	var wallets ledger.Store
	if d.DB != nil {
		wallets = ledger.NewPostgresStore(d.DB)
	} else {
		wallets = ledger.NewInMemory()
	}

	var logs calllog.Repository
	if d.DB != nil {
		logs = calllog.NewPostgresRepository(d.DB)
	} else {
		logs = calllog.NewMemoryRepository()
	}

	var gw gateway.Client
	if d.Cfg.Gateway.MerchantID != "" && d.Cfg.Gateway.SaltKey != "" {
		gw = gateway.NewHTTPClient(d.Cfg.Gateway)
	} else {
		gw = gateway.NewStub()
	}

	notifier := notification.NewLoggerNotifier(d.Logger)
	rechargeSvc := recharge.NewService(gw, wallets, d.Cfg.MinRecharge, d.Logger)
	callSvc := call.NewService(call.NewRegistry(), wallets, logs, notifier, d.Logger, d.Cfg.Calls)

	rechargeHandler := recharge.NewHandler(rechargeSvc)
	callHandler := call.NewHandler(callSvc)

	// The payment initiation endpoint is replay-protected through Redis; the
	// validate endpoint is idempotent by construction and stays open for
	// gateway redirects.
	var idem fiber.Handler
	if d.Cache != nil {
		idem = middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger)
	}

	// API routes
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	RegisterRechargeRoutes(api, rechargeHandler, idem)
	RegisterCallRoutes(api, callHandler)

	return nil
}
