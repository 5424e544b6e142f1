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

	"github.com/hilmist/OrderService/internal/adminauth"
	"github.com/hilmist/OrderService/internal/bus"
	"github.com/hilmist/OrderService/internal/config"
	"github.com/hilmist/OrderService/internal/httpx"
	"github.com/hilmist/OrderService/internal/inventory"
	"github.com/hilmist/OrderService/internal/logging"
	"github.com/hilmist/OrderService/internal/postgres"
	"github.com/hilmist/OrderService/internal/redisx"
	"github.com/hilmist/OrderService/internal/saga"
	"github.com/hilmist/OrderService/internal/store"
	"github.com/hilmist/OrderService/internal/tracing"
)

// cmd/worker runs every saga consumer group, the reservation engine's
// TTL sweeper and the outbox relay. It also owns the only
// *inventory.Engine in the deployment: the Reservation Consumer below
// reserves directly against it, so the inventory admin HTTP surface
// (stock seeding, flash-sale configuration, availability reads) is
// served from this same process instead of cmd/api's, on its own
// address, to keep the reservation state a single process-wide source
// of truth instead of two independent engines that never see each
// other's writes.
func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log_ := logging.New(cfg.ServiceName + "-worker")
	defer func() { _ = log_.Sync() }()

	shutdownTracing, err := tracing.Init(cfg.ServiceName + "-worker")
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
	reservationProjection := store.NewReservationProjection(db)
	invEngine := inventory.NewEngine(log_)
	invCache := inventory.NewCache(rdb, invEngine)

	go invEngine.StartSweeper(ctx, 30*time.Second)

	reservedProd := bus.NewProducer(cfg.KafkaBrokers, bus.TopicStockReserved, 256)
	stockFailedProd := bus.NewProducer(cfg.KafkaBrokers, bus.TopicStockFailed, 256)
	releasedProd := bus.NewProducer(cfg.KafkaBrokers, bus.TopicStockReleased, 256)
	paymentProcessedProd := bus.NewProducer(cfg.KafkaBrokers, bus.TopicPaymentProcessed, 256)
	paymentFailedProd := bus.NewProducer(cfg.KafkaBrokers, bus.TopicPaymentFailed, 256)
	refundProcessedProd := bus.NewProducer(cfg.KafkaBrokers, bus.TopicRefundProcessed, 256)
	refundFailedProd := bus.NewProducer(cfg.KafkaBrokers, bus.TopicRefundFailed, 256)
	outboxProd := bus.NewProducer(cfg.KafkaBrokers, bus.TopicOrderCreated, 256)

	producers := []*bus.Producer{
		reservedProd, stockFailedProd, releasedProd,
		paymentProcessedProd, paymentFailedProd,
		refundProcessedProd, refundFailedProd, outboxProd,
	}
	for _, p := range producers {
		p.Start(ctx)
	}

	reservation := &saga.ReservationConsumer{
		Engine:       invEngine,
		Cache:        invCache,
		Projection:   reservationProjection,
		Redis:        rdb,
		Reserved:     reservedProd,
		Failed:       stockFailedProd,
		ServiceName:  cfg.ServiceName + "-worker",
		InventoryTTL: cfg.InventoryTTL,
		Log:          log_,
	}
	payment := &saga.PaymentConsumer{
		Orders:      orderStore,
		Gateway:     saga.MockGateway{},
		Processed:   paymentProcessedProd,
		Failed:      paymentFailedProd,
		ServiceName: cfg.ServiceName + "-worker",
		Log:         log_,
	}
	status := &saga.StatusConsumer{
		Orders:      orderStore,
		Released:    releasedProd,
		ServiceName: cfg.ServiceName + "-worker",
		Log:         log_,
	}
	refund := &saga.RefundConsumer{
		Processed:   refundProcessedProd,
		Failed:      refundFailedProd,
		Released:    releasedProd,
		ServiceName: cfg.ServiceName + "-worker",
		Log:         log_,
	}

	group := getenv("WORKER_GROUP", "order-saga-worker")

	runConsumer(ctx, log_, cfg.KafkaBrokers, group, bus.TopicOrderCreated, 10, reservation.HandleOrderCreated)
	runConsumer(ctx, log_, cfg.KafkaBrokers, group, bus.TopicStockReleased, 4, reservation.HandleStockReleased)
	runConsumer(ctx, log_, cfg.KafkaBrokers, group, bus.TopicStockReserved, 10, payment.HandleStockReserved)
	runConsumer(ctx, log_, cfg.KafkaBrokers, group, bus.TopicPaymentProcessed, 10, status.HandlePaymentProcessed)
	runConsumer(ctx, log_, cfg.KafkaBrokers, group, bus.TopicPaymentFailed, 10, status.HandlePaymentFailed)
	runConsumer(ctx, log_, cfg.KafkaBrokers, group, bus.TopicStockFailed, 10, status.HandleStockFailed)
	runConsumer(ctx, log_, cfg.KafkaBrokers, group, bus.TopicOrderCancelled, 6, refund.HandleOrderCancelled)

	relay := &store.OutboxRelay{DB: db, Producer: outboxProd, Log: log_, Interval: 2 * time.Second}
	go relay.Run(ctx)

	adminAuth, err := adminauth.NewAuthenticator(
		cfg.AdminJWTSecret,
		getenv("ADMIN_USERNAME", "admin"),
		getenv("ADMIN_PASSWORD", "change-me"),
	)
	if err != nil {
		log.Fatalf("admin auth init: %v", err)
	}

	invRouter := httpx.NewRouter()
	ih := &httpx.InventoryHandler{Engine: invEngine, Cache: invCache, AdminAuth: adminAuth}
	ih.Register(invRouter)
	ah := &httpx.AdminHandler{Auth: adminAuth}
	ah.Register(invRouter)

	invSrv := &http.Server{Addr: cfg.InventoryHTTPAddr, Handler: invRouter}
	go func() {
		log.Printf("inventory admin HTTP listening at %s", cfg.InventoryHTTPAddr)
		if err := invSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("inventory listen: %v", err)
		}
	}()

	log_.Info("worker started", zap.String("group", group))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down worker...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = invSrv.Shutdown(shutdownCtx)

	cancel()
	time.Sleep(500 * time.Millisecond)

	for _, p := range producers {
		p.Close()
		p.WaitClosed()
	}
	_ = shutdownTracing(shutdownCtx)
}

func runConsumer(ctx context.Context, log_ *zap.Logger, brokers []string, group, topic string, workers int, h bus.Handler) {
	c := bus.NewConsumer(brokers, group, topic, workers, log_)
	go func() {
		if err := c.Start(ctx, h); err != nil {
			log_.Warn("consumer exited", zap.String("topic", topic), zap.Error(err))
		}
	}()
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
