/**
 * @description
 * This is the main entry point for the wallet-service. It is responsible for
 * initializing all components of the service, including configuration, the
 * database connection pool, the RabbitMQ producer, the outbox dispatcher,
 * the core application service, and the HTTP server. It wires everything
 * together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/joho/godotenv: Loads .env files during local development.
 * - github.com/redis/go-redis/v9: Optional Redis-backed rate limiting.
 * - internal/config, internal/wallet/...: Internal packages for the service.
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
	"github.com/redis/go-redis/v9"

	"github.com/finx/finx-backend/internal/config"
	"github.com/finx/finx-backend/internal/wallet/api"
	"github.com/finx/finx-backend/internal/wallet/app"
	"github.com/finx/finx-backend/internal/wallet/store"
	rmrabbit "github.com/finx/finx-backend/pkg/rabbitmq"
)

func main() {
	// Load .env when present; the container environment usually provides
	// everything directly.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url must be configured\" env=DATABASE_URL")
	}

	log.Printf("level=info component=bootstrap msg=\"starting wallet-service\" port=%s exchange=%s", cfg.ServerPort, cfg.EventExchange)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts behind poolers.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// The producer tolerates a broker that is down at boot; the outbox
	// dispatcher replays anything accepted while disconnected.
	dialTimeout := time.Duration(cfg.BrokerConnectTimeoutSeconds) * time.Second
	producer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL, dialTimeout)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"rabbitmq url invalid\" err=%v", err)
	}
	defer producer.Close()

	repository := store.NewPostgresRepository(dbpool)

	dispatcher := app.NewOutboxDispatcher(repository, producer)
	dispatcher.SetBatching(cfg.OutboxBatchSize, time.Duration(cfg.OutboxPollIntervalMS)*time.Millisecond)

	walletService := app.NewService(repository, cfg.EventExchange, dispatcher)

	// Optional Redis-backed rate limiting on mutating endpoints. A missing or
	// unreachable Redis only disables the limiter; it never blocks boot.
	if cfg.MutationRateLimitPerMinute > 0 {
		if strings.TrimSpace(cfg.RedisURL) == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; mutation rate limiting disabled\" env=REDIS_URL")
		} else if redisOptions, parseErr := redis.ParseURL(cfg.RedisURL); parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; mutation rate limiting disabled\" err=%v", parseErr)
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			pingErr := redisClient.Ping(pingCtx).Err()
			cancelPing()
			if pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; mutation rate limiting disabled\" err=%v", pingErr)
				redisClient.Close()
			} else {
				defer redisClient.Close()
				walletService.SetRateLimiter(app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix), cfg.MutationRateLimitPerMinute)
				log.Println("level=info component=bootstrap msg=\"redis connected; mutation rate limiting enabled\"")
			}
		}
	}

	dispatcherCtx, stopDispatcher := context.WithCancel(context.Background())
	defer stopDispatcher()
	go dispatcher.Run(dispatcherCtx)

	walletHandlers := api.NewWalletHandlers(walletService)

	router := chi.NewRouter()
	router.Mount("/wallets", api.WalletRoutes(walletHandlers))

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
	stopDispatcher()

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
