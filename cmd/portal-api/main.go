package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/tradesight/portal/internal/cache"
	"github.com/tradesight/portal/internal/catalog"
	"github.com/tradesight/portal/internal/config"
	"github.com/tradesight/portal/internal/database"
	"github.com/tradesight/portal/internal/events"
	"github.com/tradesight/portal/internal/gateway"
	"github.com/tradesight/portal/internal/logger"
	"github.com/tradesight/portal/internal/pricing"
	ws "github.com/tradesight/portal/internal/websocket"
)

const couponCacheTTL = 30 * time.Second

func main() {
	log := logger.New("portal-api")
	cfg := config.Load()

	// Plan catalog: file if present, built-in defaults otherwise.
	cat, err := catalog.Load(cfg.PlansConfigPath)
	if err != nil {
		log.Warn("Plans config not loaded, using defaults", "path", cfg.PlansConfigPath, "error", err)
		cat = catalog.Default()
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to connect to database", "error", err)
	}
	defer db.Close()
	log.Info("Connected to database")

	redisClient, err := cache.New(cfg.RedisURL)
	if err != nil {
		log.Fatal("Failed to connect to Redis", "error", err)
	}
	defer redisClient.Close()
	log.Info("Connected to Redis")

	store := NewPortalStore(db)

	couponSource := catalog.NewCachedSource(store, redisClient, couponCacheTTL)
	validator := catalog.NewValidator(couponSource, cat)
	calculator := pricing.NewCalculator(cat)

	// Gateways: COP routes to the regional gateway, everything else to Stripe.
	selector := gateway.NewSelector("stripe", map[string]string{"COP": "wompi"})
	selector.Register(gateway.NewStripeGateway(cfg.StripeAPIKey, cfg.StripeWebhookSecret, cfg.CheckoutSuccessURL, cfg.CheckoutCancelURL))
	selector.Register(gateway.NewWompiGateway(cfg.WompiBaseURL, cfg.WompiPrivateKey, cfg.WompiEventsSecret, cfg.CheckoutSuccessURL, cfg.GatewayTimeout))

	hub := ws.NewHub(nil)
	go hub.Run()
	publisher := events.NewPublisher(hub)

	handler := NewHandler(store, cat, validator, calculator, selector, redisClient, redisClient, publisher, hub, log, cfg)

	var sweeper *Sweeper
	if cfg.SweepInterval > 0 {
		sweeper = NewSweeper(handler, cfg.SweepInterval, cfg.PendingPaymentMaxAge, log)
		sweeper.Start()
	}

	r := mux.NewRouter()
	r.Use(AuthContext)

	// Health check
	r.HandleFunc("/health", handler.HealthCheck).Methods("GET")

	// Catalog and coupons
	r.HandleFunc("/plans", handler.ListPlans).Methods("GET")
	r.HandleFunc("/coupons/validate", handler.ValidateCoupon).Methods("POST")

	// Registration and checkout
	r.HandleFunc("/companies", handler.RegisterCompany).Methods("POST")
	r.HandleFunc("/checkout/session", handler.RequireCompany(handler.CreateCheckoutSession)).Methods("POST")

	// Subscription self-service
	r.HandleFunc("/subscription", handler.RequireCompany(handler.GetSubscription)).Methods("GET")
	r.HandleFunc("/subscription/payments", handler.RequireCompany(handler.ListPayments)).Methods("GET")
	r.HandleFunc("/subscription/cancel", handler.RequireCompany(handler.CancelSubscription)).Methods("POST")

	// Gateway webhooks
	r.HandleFunc("/webhooks/{gateway}", handler.HandleWebhook).Methods("POST")

	// Admin
	r.HandleFunc("/admin/subscriptions", handler.RequireAdmin(handler.AdminListSubscriptions)).Methods("GET")
	r.HandleFunc("/admin/companies", handler.RequireAdmin(handler.AdminListCompanies)).Methods("GET")
	r.HandleFunc("/admin/audit-logs", handler.RequireAdmin(handler.AdminListAuditLogs)).Methods("GET")
	r.HandleFunc("/admin/live", handler.RequireAdmin(hub.ServeWs)).Methods("GET")

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("Portal API starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down")
	if sweeper != nil {
		sweeper.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server shutdown failed", "error", err)
	}
}
