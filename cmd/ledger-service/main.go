/**
 * @description
 * This is the main entry point for the ledger-service. It is responsible for
 * initializing all components of the service: configuration, the database
 * connection pool, the RabbitMQ consumer that projects wallet events into
 * ledger entries, and the read-only HTTP API. It wires everything together
 * and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/joho/godotenv: Loads .env files during local development.
 * - internal/config, internal/ledger/...: Internal packages for the service.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/finx/finx-backend/internal/config"
	"github.com/finx/finx-backend/internal/domain"
	"github.com/finx/finx-backend/internal/ledger/api"
	"github.com/finx/finx-backend/internal/ledger/app"
	"github.com/finx/finx-backend/internal/ledger/store"
	rmrabbit "github.com/finx/finx-backend/pkg/rabbitmq"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url must be configured\" env=DATABASE_URL")
	}
	if strings.TrimSpace(cfg.RabbitMQURL) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"rabbitmq url must be configured\" env=RABBITMQ_URL")
	}

	log.Printf("level=info component=bootstrap msg=\"starting ledger-service\" port=%s queue=%s", cfg.ServerPort, cfg.LedgerEventQueue)

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 50
	poolConfig.MinConns = 10
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	repository := store.NewPostgresRepository(dbpool)
	projector := app.NewProjector(repository)
	ledgerService := app.NewService(repository)

	consumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL, rmrabbit.ConsumerOptions{
		Exchange:    cfg.EventExchange,
		Queue:       cfg.LedgerEventQueue,
		MaxAttempts: cfg.LedgerEventMaxAttempts,
	})
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"rabbitmq consumer init failed\" err=%v", err)
	}

	bindings := map[string]rmrabbit.HandlerFunc{
		domain.RoutingKeyWalletCredited:    projector.HandleMessage,
		domain.RoutingKeyWalletDebited:     projector.HandleMessage,
		domain.RoutingKeyWalletTransferred: projector.HandleMessage,
	}

	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()
	go func() {
		if err := consumer.Run(consumerCtx, bindings); err != nil && consumerCtx.Err() == nil {
			log.Fatalf("level=fatal component=consumer msg=\"consumer stopped unexpectedly\" err=%v", err)
		}
	}()

	ledgerHandlers := api.NewLedgerHandlers(ledgerService)

	router := chi.NewRouter()
	router.Mount("/ledger", api.LedgerRoutes(ledgerHandlers))

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}
	stopConsumer()

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
