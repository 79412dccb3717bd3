package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	cartsvc "github.com/example/vending-commerce/internal/cart"
	"github.com/example/vending-commerce/internal/config"
	"github.com/example/vending-commerce/internal/infrastructure/kafka"
	"github.com/example/vending-commerce/internal/infrastructure/store"
	ordersvc "github.com/example/vending-commerce/internal/order"
	paymentsvc "github.com/example/vending-commerce/internal/payment"
	"github.com/example/vending-commerce/internal/pkg/logging"
	"github.com/example/vending-commerce/internal/worker"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.Load()
	logger := logging.MustNewLogger("fulfillment-core", cfg.Env)
	defer logger.Sync()

	logger.Info("starting fulfillment core",
		zap.Strings("kafka_brokers", cfg.KafkaBrokers),
		zap.String("events_topic", cfg.EventsTopic),
		zap.String("webhook_topic", cfg.WebhookTopic),
		zap.String("inventory_backend", cfg.InventoryBackend))

	db, err := store.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer db.Close()

	if err := runMigrations(db); err != nil {
		logger.Fatal("run migrations", zap.Error(err))
	}
	logger.Info("database ready")

	producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.EventsTopic)
	defer producer.Close()

	// Stores. The machine store is switchable: slot inventory can live
	// in DynamoDB while everything else stays in Postgres.
	var machines store.MachineStore = store.NewPostgresMachineStore(db)
	if cfg.InventoryBackend == "dynamo" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			logger.Fatal("load aws config", zap.Error(err))
		}
		machines = store.NewDynamoMachineStore(dynamodb.NewFromConfig(awsCfg), cfg.DynamoMachinesTable)
		logger.Info("using dynamodb inventory", zap.String("table", cfg.DynamoMachinesTable))
	}
	products := store.NewPostgresProductStore(db)
	carts := store.NewPostgresCartStore(db)
	orders := store.NewPostgresOrderStore(db)
	payments := store.NewPostgresPaymentStore(db)

	// Services.
	cartService := cartsvc.NewService(carts, products, machines, logger)
	engine := ordersvc.NewEngine(orders, machines, products, cartService, producer, logger)
	gateways := paymentsvc.NewRegistry(
		paymentsvc.RazorpayAdapter{},
		paymentsvc.StripeAdapter{},
		paymentsvc.CashAdapter{},
	)
	ledger := paymentsvc.NewLedger(payments, orders, engine, gateways, producer, logger)

	var wg sync.WaitGroup

	// Webhook consumer: gateway callbacks arrive on their own topic and
	// feed the ledger.
	webhookConsumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.WebhookTopic, "fulfillment-webhooks", logger)
	defer webhookConsumer.Close()
	webhookHandler := worker.NewWebhookHandler(ledger, logger)

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("webhook consumer started", zap.String("topic", cfg.WebhookTopic))
		if err := webhookConsumer.Consume(ctx, webhookHandler.Handle); err != nil && ctx.Err() == nil {
			logger.Error("webhook consumer stopped", zap.Error(err))
		}
	}()

	// Expiry sweeper.
	sweeper := worker.NewSweeper(payments, ledger, cfg.SweepInterval, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("payment sweeper started", zap.Duration("interval", cfg.SweepInterval))
		if err := sweeper.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("payment sweeper stopped", zap.Error(err))
		}
	}()

	// Metrics and health.
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	server := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}

	go func() {
		logger.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("metrics server", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)

	wg.Wait()
}

func runMigrations(db *sql.DB) error {
	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithDatabaseInstance("file://migrations", "postgres", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
