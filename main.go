package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	appcatalog "github.com/levelupgamer/backend/internal/application/catalog"
	apporder "github.com/levelupgamer/backend/internal/application/order"
	"github.com/levelupgamer/backend/internal/config"
	"github.com/levelupgamer/backend/internal/domain/catalog"
	"github.com/levelupgamer/backend/internal/domain/order"
	"github.com/levelupgamer/backend/internal/domain/payment"
	"github.com/levelupgamer/backend/internal/domain/pricing"
	httptransport "github.com/levelupgamer/backend/internal/infrastructure/http"
	"github.com/levelupgamer/backend/internal/infrastructure/id"
	"github.com/levelupgamer/backend/internal/infrastructure/memory"
	"github.com/levelupgamer/backend/internal/infrastructure/mysql"
	"github.com/levelupgamer/backend/internal/infrastructure/payment/simulator"
	"github.com/levelupgamer/backend/internal/infrastructure/payment/webpay"
	"github.com/levelupgamer/backend/internal/pkg/logging"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	log := logging.MustNewLogger(cfg.App.Name, cfg.App.Env)
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	orderRepo, productRepo, err := buildStore(cfg, log)
	if err != nil {
		log.Fatal("store_init_failed", zap.String("type", cfg.Store.Type), zap.Error(err))
	}

	orderMetrics := apporder.Metrics{
		OrdersResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orders_resolved_total",
			Help: "Orders reaching a terminal status, by flow and status.",
		}, []string{"flow", "status"}),
		Callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_callbacks_total",
			Help: "Payment provider callbacks by outcome.",
		}, []string{"outcome"}),
	}
	prometheus.MustRegister(orderMetrics.OrdersResolved, orderMetrics.Callbacks)

	gateway := buildGateway(cfg, log)

	catalogService := appcatalog.NewService(productRepo)
	orderService := apporder.NewService(
		orderRepo,
		catalogService,
		gateway,
		id.NewUUIDGenerator(),
		pricing.Config{TaxRate: cfg.Pricing.TaxRate, ShippingCost: cfg.Pricing.ShippingCost},
		orderMetrics,
	)

	httpMetrics := httptransport.NewMetrics(prometheus.DefaultRegisterer)
	handler := httptransport.NewHandler(orderService, catalogService, log)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", handler.Routes(
		httptransport.Trace,
		httptransport.RequestID(log),
		httptransport.Instrument(httpMetrics),
	))

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go runExpirySweep(ctx, log, orderService, cfg.Checkout)

	go func() {
		log.Info("http_server_start", zap.String("addr", server.Addr))
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http_server_error", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http_server_shutdown_error", zap.Error(err))
	} else {
		log.Info("http_server_stopped")
	}
}

func buildStore(cfg *config.Config, log *zap.Logger) (order.Repository, catalog.Repository, error) {
	switch cfg.Store.Type {
	case "mysql":
		db, err := mysql.Open(cfg.Store.MySQL)
		if err != nil {
			return nil, nil, err
		}
		return mysql.NewOrderRepository(db), mysql.NewProductRepository(db), nil
	default:
		productRepo := memory.NewProductRepository()
		seedProducts(cfg.Seed, productRepo, log)
		return memory.NewOrderRepository(), productRepo, nil
	}
}

func seedProducts(seed []config.SeedProduct, repo catalog.Repository, log *zap.Logger) {
	ctx := context.Background()
	for _, s := range seed {
		p, err := catalog.NewProduct(s.ID, s.Name, s.Price, s.Stock)
		if err != nil {
			log.Warn("seed_product_skipped", zap.String("product_id", s.ID), zap.Error(err))
			continue
		}
		if err := repo.Save(ctx, p); err != nil {
			log.Warn("seed_product_failed", zap.String("product_id", s.ID), zap.Error(err))
		}
	}
	if len(seed) > 0 {
		log.Info("catalog_seeded", zap.Int("products", len(seed)))
	}
}

func buildGateway(cfg *config.Config, log *zap.Logger) payment.Gateway {
	switch cfg.Payment.Backend {
	case "webpay":
		metrics := webpay.Metrics{
			Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "payment_requests_total",
				Help: "Payment provider requests by endpoint and outcome.",
			}, []string{"endpoint", "outcome"}),
			Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "payment_request_duration_seconds",
				Help:    "Payment provider request latency by endpoint.",
				Buckets: prometheus.DefBuckets,
			}, []string{"endpoint"}),
		}
		prometheus.MustRegister(metrics.Requests, metrics.Duration)
		return webpay.NewClient(webpay.Config{
			BaseURL:        cfg.Payment.Webpay.BaseURL,
			ReturnURL:      cfg.Payment.Webpay.ReturnURL,
			ConnectTimeout: cfg.Payment.Webpay.ConnectTimeout,
			ReadTimeout:    cfg.Payment.Webpay.ReadTimeout,
		}, metrics)
	default:
		log.Info("payment_backend_simulator", zap.Float64("approval_rate", cfg.Payment.Simulator.ApprovalRate))
		return simulator.New(cfg.Payment.Simulator.ApprovalRate, cfg.Payment.Simulator.ReturnURL)
	}
}

// runExpirySweep rejects abandoned PENDING checkouts on a fixed interval so
// async orders whose callback never arrives do not stay open forever.
func runExpirySweep(ctx context.Context, log *zap.Logger, svc *apporder.Service, cfg config.CheckoutConfig) {
	if cfg.PendingTTL <= 0 || cfg.SweepInterval <= 0 {
		return
	}
	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := svc.ExpirePending(ctx, cfg.PendingTTL)
			if err != nil {
				log.Error("pending_sweep_failed", zap.Error(err))
				continue
			}
			if expired > 0 {
				log.Info("pending_orders_expired", zap.Int("count", expired))
			}
		}
	}
}
