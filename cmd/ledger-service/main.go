package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"ms-ledger/internal/auth"
	"ms-ledger/internal/config"
	"ms-ledger/internal/database/migrations"
	"ms-ledger/internal/ledger"
	"ms-ledger/internal/ledger/api"
	ledgerdb "ms-ledger/internal/ledger/db"
	ledgerkafka "ms-ledger/internal/ledger/kafka"
	rediswrap "ms-ledger/internal/ledger/redis"
	"ms-ledger/internal/logger"
	"ms-ledger/internal/models"
	"ms-ledger/internal/pass"
	"ms-ledger/internal/payment"
)

// noopPublisher stands in when Kafka is disabled.
type noopPublisher struct{}

func (noopPublisher) Publish(models.LedgerEvent) error { return nil }

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	appLog := logger.NewLogger()
	defer appLog.Close()

	// --- PostgreSQL ---
	connector := pgdriver.NewConnector(pgdriver.WithDSN(cfg.Database.DSN))
	sqldb := sql.OpenDB(connector)
	defer sqldb.Close()

	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	if err := sqldb.Ping(); err != nil {
		log.Fatalf("failed to connect to Postgres: %v", err)
	}
	bunDB := bun.NewDB(sqldb, pgdialect.New())

	runner := migrations.NewRunner(bunDB, migrations.DefaultOptions())
	if err := runner.Run(); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	// --- Redis ---
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("failed to connect to Redis: %v", err)
	}

	// --- Kafka ---
	var publisher ledger.Publisher = noopPublisher{}
	var producer *ledgerkafka.Producer
	if cfg.Kafka.Enabled {
		producer = ledgerkafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		publisher = producer
		defer producer.Close()
	} else {
		appLog.Warn("KAFKA", "Kafka publishing disabled, ledger events will not be streamed")
	}

	// --- Services ---
	dbLayer := &ledgerdb.DB{Bun: bunDB}
	optionLock := rediswrap.NewRedis(redisClient)
	service := ledger.NewService(dbLayer, optionLock, publisher)

	var gateway payment.Gateway
	if stripeGW, err := payment.NewStripeGateway(cfg.Stripe.SecretKey, appLog); err != nil {
		appLog.Warn("PAYMENT", "Stripe gateway not configured: "+err.Error())
	} else {
		gateway = stripeGW
	}
	processor := payment.NewProcessor(service, gateway)

	eventStore, err := payment.NewPostgresEventStoreWithDB(sqldb, appLog)
	if err != nil {
		log.Fatalf("failed to set up webhook event store: %v", err)
	}
	webhooks := payment.NewWebhookHandler(service, eventStore, cfg.Stripe.WebhookSecret)

	passes := pass.NewGenerator(cfg.Ledger.PassSecret)
	handler := api.NewHandler(service, processor, webhooks, passes)

	// --- Router ---
	r := chi.NewRouter()

	r.Post("/webhook/stripe", handler.StripeWebhook)

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.Auth.OIDCIssuer != "" {
			mw, err := auth.Middleware(cfg.Auth.OIDCIssuer)
			if err != nil {
				log.Fatalf("failed to set up auth middleware: %v", err)
			}
			r.Use(mw)
		} else {
			appLog.Warn("AUTH", "OIDC_ISSUER not set, API is unauthenticated")
			r.Use(auth.ClaimsOnly())
		}

		r.Post("/orders", handler.CreateOrder)
		r.Get("/orders/{orderId}", handler.GetOrder)
		r.Get("/orders/{orderId}/items", handler.GetOrderItems)
		r.Get("/orders/{orderId}/summary", handler.GetOrderSummary)
		r.Get("/orders/{orderId}/transactions", handler.GetOrderTransactions)
		r.Post("/orders/{orderId}/items", handler.ReserveItem)
		r.Post("/orders/{orderId}/checkout", handler.CheckoutCart)
		r.Post("/orders/{orderId}/discounts", handler.EnterDiscount)
		r.Post("/orders/{orderId}/pay", handler.PayOrder)

		r.Delete("/items/{itemId}", handler.RemoveItem)
		r.Post("/items/{itemId}/discounts", handler.ApplyItemDiscount)
		r.Post("/items/{itemId}/attendee", handler.AssignAttendee)
		r.Get("/items/{itemId}/pass", handler.GetItemPass)

		r.Post("/attendees", handler.AddAttendee)

		// Back-office operations.
		r.Group(func(r chi.Router) {
			if cfg.Auth.OIDCIssuer != "" {
				r.Use(auth.RequireRole(auth.StaffRole))
			}
			r.Get("/events/{eventId}/orders/{code}", handler.LookupOrder)
			r.Post("/orders/{orderId}/transactions", handler.RecordTransaction)
			r.Post("/transactions/{txnId}/refund", handler.RefundTransaction)
			r.Post("/items/{itemId}/transfer", handler.TransferItem)
		})
	})

	// --- Reservation expiry sweep ---
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(cfg.Ledger.ExpiryInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case now := <-ticker.C:
				if _, err := service.ExpireReservations(now); err != nil {
					appLog.Error("LEDGER", "reservation expiry sweep failed: "+err.Error())
				}
			}
		}
	}()

	// --- HTTP Server ---
	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		appLog.Info("SERVER", "Ledger service running on "+cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLog.Info("SERVER", "Shutdown signal received, cleaning up")

	stopSweep()

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Fatalf("server forced to shutdown: %v", err)
	}
	appLog.Info("SERVER", "Server exited gracefully")
}
