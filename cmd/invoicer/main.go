package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ariefcatur/go-shop-engine.git/internal/config"
	"github.com/ariefcatur/go-shop-engine.git/internal/invoices"
	kafkax "github.com/ariefcatur/go-shop-engine.git/internal/kafka"
	"github.com/ariefcatur/go-shop-engine.git/internal/logx"
	"github.com/ariefcatur/go-shop-engine.git/internal/orders"
	"github.com/ariefcatur/go-shop-engine.git/internal/payments"
	"github.com/ariefcatur/go-shop-engine.git/internal/postgres"
	"github.com/ariefcatur/go-shop-engine.git/internal/redisx"
	"github.com/joho/godotenv"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logx.MustNew(cfg.ServiceName+"-invoicer", cfg.Env)
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("db_connect_failed", zap.Error(err))
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	orderRepo := &orders.Repo{DB: db, Pricing: orders.Pricing{
		FreeShippingCents: cfg.FreeShippingCents,
		ShippingRateCents: cfg.ShippingRateCents,
		DefaultCurrency:   cfg.DefaultCurrency,
	}}
	paymentRepo := &payments.Repo{DB: db}
	orderSvc := orders.NewService(orderRepo, nil, nil, cfg.ServiceName+"-invoicer", log)

	trigger := &invoices.Trigger{
		Dir:    cfg.InvoiceDir,
		Orders: orderSvc,
		Mailer: invoices.LogMailer{Log: log},
		Log:    log,
	}

	handle := func(ctx context.Context, m kafkago.Message) error {
		var env orders.Envelope
		if err := kafkax.UnmarshalEnvelope(m.Value, &env); err != nil {
			log.Warn("envelope_decode_failed", zap.Error(err))
			return nil // poison message, commit and move on
		}
		if env.EventType != orders.EventOrderCompleted {
			return nil
		}

		// Events are delivered at least once; skip replays by event id. The
		// artifact write is an overwrite anyway, so a missed dedup is harmless.
		key := fmt.Sprintf(redisx.KeyDedup, "invoicer", env.EventID)
		if fresh, err := redisx.SetNX(ctx, rdb, key, redisx.TTLDedup); err == nil && !fresh {
			return nil
		}

		payload, err := kafkax.UnwrapPayload[orders.OrderCompletedPayload](env.Payload)
		if err != nil {
			log.Warn("payload_decode_failed", zap.String("event_id", env.EventID), zap.Error(err))
			return nil
		}

		o, err := orderRepo.Get(ctx, payload.OrderID)
		if err != nil {
			if errors.Is(err, orders.ErrNotFound) {
				log.Warn("order_missing", zap.String("order_id", payload.OrderID))
				return nil
			}
			_ = rdb.Del(ctx, key).Err()
			return err
		}
		p, err := paymentRepo.GetByOrder(ctx, o.ID)
		if err != nil {
			if !errors.Is(err, payments.ErrNotFound) {
				_ = rdb.Del(ctx, key).Err()
				return err
			}
			p = nil
		}

		locale := payload.Locale
		if locale == "" {
			locale = "pt"
		}
		if err := trigger.Generate(ctx, o, p, locale); err != nil {
			_ = rdb.Del(ctx, key).Err()
			return err
		}
		return nil
	}

	group := getenv("INVOICER_GROUP", "invoicer-svc")
	workers := mustAtoi(os.Getenv("INVOICER_WORKERS"), "4")
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, orders.TopicOrderCompleted, workers, log)

	go func() {
		log.Info("invoicer_consumer_started",
			zap.String("group", group),
			zap.String("topic", orders.TopicOrderCompleted),
			zap.Int("workers", workers),
		)
		if err := cons.Start(ctx, handle); err != nil {
			log.Error("consumer_exit", zap.Error(err))
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting_down")
	cancel()
	time.Sleep(500 * time.Millisecond)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func mustAtoi(s, def string) int {
	if s == "" {
		s = def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 1
	}
	return i
}
