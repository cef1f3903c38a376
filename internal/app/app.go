package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"finora/internal/auth"
	"finora/internal/config"
	"finora/internal/db"
	"finora/internal/ledger"
	"finora/internal/mail"
	"finora/internal/maintenance"
	"finora/internal/media"
	"finora/internal/observability"
	"finora/internal/user"
)

const (
	startupTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
	rateLimitPrefix = "finora:ratelimit:auth:"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

type Runtime struct {
	Config  config.Config
	Logger  *observability.Logger
	Handler http.Handler
	Close   func() error
}

func Build(options Options) (*Runtime, error) {
	cfg, err := config.Load(options.LoadDotEnv)
	if err != nil {
		return nil, err
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	if err := observability.InitSentry(cfg.SentryDSN, cfg.AppEnv); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	stores, err := OpenStores(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StoreDriver, err)
	}

	if options.RunMigrations || cfg.RunMigrations || stores.autoMigrate {
		applied, err := stores.Migrate(ctx)
		if err != nil {
			_ = stores.Close(context.Background())
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("migrations_applied", map[string]any{"driver": stores.Driver, "applied": applied})
	}

	rt, err := assemble(ctx, cfg, stores, logger)
	if err != nil {
		_ = stores.Close(context.Background())
		return nil, err
	}
	return rt, nil
}

// assemble wires services and routes on top of opened stores.
func assemble(ctx context.Context, cfg config.Config, stores *Stores, logger *observability.Logger) (*Runtime, error) {
	issuer, err := auth.NewIssuer(cfg.Tokens)
	if err != nil {
		return nil, fmt.Errorf("init token issuer: %w", err)
	}

	registry := observability.NewRegistry()
	metrics := auth.NewMetrics(registry)
	httpMetrics := observability.NewHTTPMetrics(registry)
	hasher := auth.NewBcryptHasher(cfg.BcryptCost)

	proxies, err := observability.NewProxyTrust(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("init trusted proxies: %w", err)
	}

	sender, err := newMailSender(cfg.Mail, logger)
	if err != nil {
		return nil, err
	}
	dispatcher := mail.NewDispatcher(sender, mail.NewComposer(cfg.ServerURL, cfg.ClientURL), logger, cfg.Mail.Workers, cfg.Mail.QueueSize)

	limiter, redisClient, err := newRateLimiter(ctx, cfg, logger)
	if err != nil {
		dispatcher.Close()
		return nil, err
	}

	var uploader media.ImageUploader
	if cfg.CloudinaryURL != "" {
		cloudinary, err := media.NewCloudinary(cfg.CloudinaryURL, media.DefaultAvatarFolder)
		if err != nil {
			dispatcher.Close()
			return nil, fmt.Errorf("init cloudinary: %w", err)
		}
		uploader = cloudinary
	}

	sessions := auth.NewSessionService(stores.Auth, hasher, issuer).
		WithLoginPolicy(cfg.RequireVerifiedLogin).
		WithMetrics(metrics)
	credentials := auth.NewCredentialService(stores.Auth, hasher, issuer, dispatcher, logger).
		WithMetrics(metrics)
	cookies := auth.NewCookieWriter(cfg.Production(), issuer.TTL(auth.KindAccess), issuer.TTL(auth.KindRefresh))
	gate := auth.NewGate(issuer, stores.Auth, cookies)

	authHandler := auth.NewHandler(sessions, credentials, cookies, logger)
	userHandler := user.NewHandler(stores.Auth, uploader, logger)
	ledgerHandler := ledger.NewHandler(ledger.NewService(stores.Ledger))
	cleanupHandler := maintenance.NewCleanupHandler(stores.Auth, logger, cfg.CronSecret)

	limited := func(h http.HandlerFunc) http.Handler {
		return auth.RateLimitMiddleware(limiter, logger, metrics, h)
	}
	gated := func(h http.HandlerFunc) http.Handler {
		return gate.Middleware(h)
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/auth/register", limited(authHandler.Register))
	mux.Handle("POST /api/auth/login", limited(authHandler.Login))
	mux.Handle("POST /api/auth/logout", gated(authHandler.Logout))
	mux.Handle("POST /api/auth/refresh-token", limited(authHandler.RefreshToken))
	mux.Handle("POST /api/auth/forgot-password", limited(authHandler.ForgotPassword))
	mux.Handle("POST /api/auth/reset-password", limited(authHandler.ResetPassword))
	mux.Handle("GET /api/auth/verify-email", limited(authHandler.VerifyEmail))
	mux.Handle("POST /api/auth/verify-email", limited(authHandler.VerifyEmail))
	mux.Handle("POST /api/auth/resend-verification-email", limited(authHandler.ResendVerification))
	mux.Handle("POST /api/auth/change-password", gated(authHandler.ChangePassword))

	mux.Handle("GET /api/users/profile", gated(userHandler.GetProfile))
	mux.Handle("PUT /api/users/profile", gated(userHandler.UpdateProfile))
	mux.Handle("POST /api/users/avatar", gated(userHandler.UploadAvatar))

	mux.Handle("GET /api/transactions", gated(ledgerHandler.ListTransactions))
	mux.Handle("GET /api/transactions/recent", gated(ledgerHandler.RecentTransactions))
	mux.Handle("POST /api/transactions", gated(ledgerHandler.CreateTransaction))
	mux.Handle("PUT /api/transactions/{id}", gated(ledgerHandler.UpdateTransaction))
	mux.Handle("POST /api/transactions/update/{id}", gated(ledgerHandler.UpdateTransaction))
	mux.Handle("DELETE /api/transactions/{id}", gated(ledgerHandler.DeleteTransaction))
	mux.Handle("POST /api/transactions/delete/{id}", gated(ledgerHandler.DeleteTransaction))
	mux.Handle("GET /api/budgets", gated(ledgerHandler.ListBudgets))
	mux.Handle("POST /api/budgets", gated(ledgerHandler.CreateBudget))

	mux.HandleFunc("GET /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("GET /health", healthHandler(stores.Auth))
	mux.Handle("GET /metrics", observability.MetricsHandler(registry))

	handler := observability.RecoverMiddleware(logger,
		observability.RequestIDMiddleware(
			observability.ClientIPMiddleware(proxies,
				observability.RequestLoggingMiddleware(logger, httpMetrics, mux))))

	return &Runtime{
		Config:  cfg,
		Logger:  logger,
		Handler: handler,
		Close: func() error {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			dispatcher.Close()
			observability.FlushSentry()

			var errs []error
			if redisClient != nil {
				errs = append(errs, redisClient.Close())
			}
			errs = append(errs, stores.Close(ctx))
			_ = logger.Sync()
			return errors.Join(errs...)
		},
	}, nil
}

func newMailSender(cfg config.MailConfig, logger *observability.Logger) (mail.Sender, error) {
	if cfg.Host == "" {
		logger.Warn("smtp_not_configured", map[string]any{"fallback": "log"})
		return mail.NewLogSender(logger), nil
	}

	sender, err := mail.NewSMTPSender(cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.From)
	if err != nil {
		return nil, fmt.Errorf("init smtp sender: %w", err)
	}
	return sender, nil
}

// newRateLimiter prefers Redis so the window is shared across instances. The
// returned client is nil when the in-memory limiter is used.
func newRateLimiter(ctx context.Context, cfg config.Config, logger *observability.Logger) (auth.RateLimiter, *redis.Client, error) {
	if cfg.RedisURL == "" {
		return auth.NewMemoryRateLimiter(cfg.RateLimitMax, cfg.RateLimitWindow), nil, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ping := func(ctx context.Context) error { return client.Ping(ctx).Err() }
	if err := db.WaitFor(ctx, ping); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}

	logger.Info("rate_limiter_ready", map[string]any{"backend": "redis"})
	return auth.NewRedisRateLimiter(client, rateLimitPrefix, cfg.RateLimitMax, cfg.RateLimitWindow), client, nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

func healthHandler(store pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := store.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
