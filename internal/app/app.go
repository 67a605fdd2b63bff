// Package app wires configuration, storage, domain services, and the HTTP
// server into a runnable application.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/oakmarket/checkout/internal/domain/coupon"
	"github.com/oakmarket/checkout/internal/domain/order"
	"github.com/oakmarket/checkout/internal/domain/pricing"
	"github.com/oakmarket/checkout/internal/events"
	"github.com/oakmarket/checkout/internal/gateway"
	"github.com/oakmarket/checkout/internal/handler"
	"github.com/oakmarket/checkout/internal/repository"
	"github.com/oakmarket/checkout/pkg/health"
	"github.com/oakmarket/checkout/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.DatabasePingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc-pause", time.Second, health.GCMaxPauseCheck(time.Second))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	productRepo := repository.NewProductRepository(pool)
	cartRepo := repository.NewCartRepository(pool)
	couponRepo := repository.NewCouponRepository(pool)
	orderRepo := repository.NewOrderRepository(pool)
	apikeyRepo := repository.NewAPIKeyRepository(pool)

	// Pricing engines: one per payment path, same rules, different tax.
	codPricing := pricing.New(pricing.Config{
		TaxRate:         decimal.NewFromFloat(cfg.Pricing.CODTaxRate),
		FlatShippingFee: decimal.NewFromFloat(cfg.Pricing.ShippingFee),
		FreeShipCity:    cfg.Pricing.FreeShipCity,
		FreeShipWeight:  decimal.NewFromFloat(cfg.Pricing.FreeShipWeight),
	})
	prepaidPricing := pricing.New(pricing.Config{
		TaxRate:         decimal.NewFromFloat(cfg.Pricing.PrepaidTaxRate),
		FlatShippingFee: decimal.NewFromFloat(cfg.Pricing.ShippingFee),
		FreeShipCity:    cfg.Pricing.FreeShipCity,
		FreeShipWeight:  decimal.NewFromFloat(cfg.Pricing.FreeShipWeight),
	})

	// Payment gateway client. Left nil when no credentials are configured:
	// the COD path still works, gateway routes report the misconfiguration.
	var gatewayClient gateway.Client
	if cfg.Gateway.KeyID != "" {
		c, err := gateway.NewHTTPClient(cfg.Gateway)
		if err != nil {
			return errors.Wrap(err, "create gateway client")
		}
		gatewayClient = c
	} else {
		lg.Warn("payment gateway credentials not configured, prepaid checkout disabled")
	}

	// Order event publisher (no-op when no brokers are configured).
	publisher := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, lg)
	defer func() {
		if err := publisher.Close(); err != nil {
			lg.Warn("close event publisher", zap.Error(err))
		}
	}()

	// Domain services.
	couponEvaluator := coupon.NewRepoEvaluator(couponRepo)
	orderService := order.NewService(
		cartRepo, couponEvaluator, orderRepo,
		codPricing, prepaidPricing,
		gatewayClient, publisher,
		order.Config{ReleaseCouponOnCancel: cfg.Pricing.ReleaseCoupon},
		lg,
	)

	// HTTP routes.
	h := handler.New(productRepo, cartRepo, couponEvaluator, orderService, gatewayClient, lg)
	authn := handler.APIKeyAuth(apikeyRepo, []byte(cfg.APIKeyPepper))

	router := chi.NewRouter()
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)
	h.Register(router, authn)

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
				AllowHeaders:     []string{"Content-Type", "Authorization", "api_key"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("checkout-api", m),
			httpmiddleware.LogRequests(),
		),
	}

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
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
