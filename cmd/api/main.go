package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hilmist/OrderService/internal/bus"
	"github.com/hilmist/OrderService/internal/config"
	"github.com/hilmist/OrderService/internal/httpx"
	"github.com/hilmist/OrderService/internal/idempotency"
	"github.com/hilmist/OrderService/internal/logging"
	"github.com/hilmist/OrderService/internal/postgres"
	"github.com/hilmist/OrderService/internal/redisx"
	"github.com/hilmist/OrderService/internal/store"
	"github.com/hilmist/OrderService/internal/tracing"
)

// cmd/api is the HTTP Edge: order creation/inspection/cancel/ship/
// deliver. It never touches Kafka consumer groups directly;
// everything it publishes goes through a Producer, either via the
// outbox relay (order.created) or directly with PublishConfirm (the
// terminal events). The inventory admin surface lives in cmd/worker
// instead of here: the reservation engine is process-wide state, and
// cmd/worker is the only process that reserves against it, so it is
// also the only process allowed to mutate or report it.
func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log_ := logging.New(cfg.ServiceName + "-api")
	defer func() { _ = log_.Sync() }()

	shutdownTracing, err := tracing.Init(cfg.ServiceName + "-api")
	if err != nil {
		log_.Fatal("tracing init failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.OrdersConn)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	orderStore := store.NewOrderStore(db)
	idemStore := idempotency.NewStore(db)

	cancelledProd := bus.NewProducer(cfg.KafkaBrokers, bus.TopicOrderCancelled, 256)
	shippedProd := bus.NewProducer(cfg.KafkaBrokers, bus.TopicOrderShipped, 256)
	deliveredProd := bus.NewProducer(cfg.KafkaBrokers, bus.TopicOrderDelivered, 256)
	cancelledProd.Start(ctx)
	shippedProd.Start(ctx)
	deliveredProd.Start(ctx)

	router := httpx.NewRouter()
	oh := &httpx.OrdersHandler{
		Orders:      orderStore,
		Idempotency: idemStore,
		Redis:       rdb,
		Cancelled:   cancelledProd,
		Shipped:     shippedProd,
		Delivered:   deliveredProd,
		ServiceName: cfg.ServiceName + "-api",
	}
	oh.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Printf("HTTP listening at %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	cancelledProd.Close()
	shippedProd.Close()
	deliveredProd.Close()
	cancel()
	cancelledProd.WaitClosed()
	shippedProd.WaitClosed()
	deliveredProd.WaitClosed()
	_ = shutdownTracing(shutdownCtx)
}
