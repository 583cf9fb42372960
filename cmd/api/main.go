package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-shop-engine.git/internal/cart"
	"github.com/ariefcatur/go-shop-engine.git/internal/catalog"
	"github.com/ariefcatur/go-shop-engine.git/internal/config"
	"github.com/ariefcatur/go-shop-engine.git/internal/gateway"
	"github.com/ariefcatur/go-shop-engine.git/internal/httpx"
	"github.com/ariefcatur/go-shop-engine.git/internal/invoices"
	kafkax "github.com/ariefcatur/go-shop-engine.git/internal/kafka"
	"github.com/ariefcatur/go-shop-engine.git/internal/logx"
	"github.com/ariefcatur/go-shop-engine.git/internal/orders"
	"github.com/ariefcatur/go-shop-engine.git/internal/payments"
	"github.com/ariefcatur/go-shop-engine.git/internal/postgres"
	"github.com/ariefcatur/go-shop-engine.git/internal/redisx"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logx.MustNew(cfg.ServiceName, cfg.Env)
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("db_connect_failed", zap.Error(err))
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producers, one per topic, routed by event type
	pCreated := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderCreated, 1024, log)
	pCancelled := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderCancelled, 1024, log)
	pCompleted := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderCompleted, 1024, log)
	pPayment := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicPaymentCompleted, 1024, log)
	for _, p := range []*kafkax.Producer{pCreated, pCancelled, pCompleted, pPayment} {
		p.Start(ctx)
	}
	events := kafkax.NewRouter().
		Route(orders.EventOrderCreated, pCreated).
		Route(orders.EventOrderCancelled, pCancelled).
		Route(orders.EventOrderCompleted, pCompleted).
		Route(orders.EventPaymentCompleted, pPayment)

	// Repos
	catalogRepo := &catalog.Repo{DB: db}
	cartRepo := &cart.Repo{DB: db}
	orderRepo := &orders.Repo{DB: db, Pricing: orders.Pricing{
		FreeShippingCents: cfg.FreeShippingCents,
		ShippingRateCents: cfg.ShippingRateCents,
		DefaultCurrency:   cfg.DefaultCurrency,
	}}
	paymentRepo := &payments.Repo{DB: db}

	// Services
	orderSvc := orders.NewService(orderRepo, cartRepo, events, cfg.ServiceName, log)
	notifier := &invoices.Notifier{
		Mailer: invoices.LogMailer{Log: log},
		IBAN:   cfg.BankTransferIBAN,
	}
	paymentSvc := payments.NewService(
		paymentRepo, orderSvc, cartRepo,
		gateway.New(cfg.GatewayBaseURL, cfg.GatewayAPIKey),
		notifier, events, cfg.ServiceName,
		payments.Config{
			SuccessURL:     cfg.CheckoutSuccessURL,
			CancelURL:      cfg.CheckoutCancelURL,
			GatewayTimeout: cfg.GatewayTimeout,
		}, log)
	trigger := &invoices.Trigger{
		Dir:    cfg.InvoiceDir,
		Orders: orderSvc,
		Mailer: invoices.LogMailer{Log: log},
		Log:    log,
	}

	// Router & handlers
	router := httpx.NewRouter()
	(&httpx.OrdersHandler{
		Orders:   orderSvc,
		Payments: paymentSvc,
		Invoices: trigger,
		Redis:    rdb,
		Log:      log,
	}).Register(router)
	(&httpx.PaymentsHandler{
		Payments: paymentSvc,
		Orders:   orderSvc,
		Redis:    rdb,
		Service:  cfg.ServiceName,
		Log:      log,
	}).Register(router)
	(&httpx.CartHandler{
		Carts:   cartRepo,
		Catalog: catalogRepo,
		Redis:   rdb,
		Log:     log,
	}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Info("http_listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("listen_failed", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting_down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)

	for _, p := range []*kafkax.Producer{pCreated, pCancelled, pCompleted, pPayment} {
		p.Close()
	}
	cancel()
	for _, p := range []*kafkax.Producer{pCreated, pCancelled, pCompleted, pPayment} {
		p.WaitClosed()
	}
}
