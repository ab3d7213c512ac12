package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/omnily-coupons/internal/domain/coupon"
	"github.com/xenking/omnily-coupons/internal/domain/transaction"
	"github.com/xenking/omnily-coupons/internal/handler"
	"github.com/xenking/omnily-coupons/internal/storage/memcache"
	"github.com/xenking/omnily-coupons/internal/storage/postgres"
	"github.com/xenking/omnily-coupons/pkg/health"
	"github.com/xenking/omnily-coupons/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server and the expiry job,
// and handles graceful shutdown. It is the single wiring point for the
// application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool), health.WithSuccessThreshold(2))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc_pause", time.Second, health.GCMaxPauseCheck(time.Second), health.WithFailureThreshold(5))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	couponRepo := postgres.NewCouponRepository(pool)
	usageRepo := postgres.NewUsageRepository(pool)
	txRepo := postgres.NewTransactionRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	// Domain services.
	couponSvc, err := coupon.NewService(couponRepo, usageRepo, txRepo,
		coupon.Config{
			ExpiringSoonWindow: cfg.Coupons.ExpiringSoonWindow,
			DefaultPageSize:    cfg.Coupons.DefaultPageSize,
			MaxPageSize:        cfg.Coupons.MaxPageSize,
		},
		coupon.WithTracerProvider(m.TracerProvider()),
		coupon.WithMeterProvider(m.MeterProvider()),
		coupon.WithStatsCache(memcache.NewStatsCache(cfg.Coupons.StatsCacheTTL)),
	)
	if err != nil {
		return errors.Wrap(err, "create coupon service")
	}
	checkoutSvc := transaction.NewService(couponSvc, txRepo)

	// HTTP handlers.
	security := handler.NewSecurity(apikeyRepo, []byte(cfg.APIKeyPepper))
	h := handler.NewHandler(couponSvc, checkoutSvc)
	router := handler.NewRouter(h, security, healthSvc,
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.Instrument("omnily-coupons", httpmiddleware.ChiRoute, m),
		httpmiddleware.LogRequests(httpmiddleware.ChiRoute),
	)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", handler.APIKeyHeader},
				ExposeHeaders:    []string{httpmiddleware.RequestIDHeader},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimit(httpmiddleware.RateLimitConfig{
				Max:     cfg.RateLimit.Max,
				Window:  cfg.RateLimit.Window,
				KeyFunc: security.RateLimitKey,
			}),
		),
	}

	// Background expiry of coupons past their validity window.
	expireDone := make(chan struct{})
	go func() {
		defer close(expireDone)
		runExpirer(ctx, lg.Named("expirer"), couponSvc, cfg.Coupons.ExpireInterval)
	}()

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		<-expireDone
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
