/**
 * @description
 * This is the main entry point for the screening-service. It is responsible for
 * initializing all components of the service, including configuration, database connection,
 * external API clients, message brokers, repositories, the core application service,
 * and the HTTP server. It wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/stripeclient: Client for the payment processor API.
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
	"github.com/redis/go-redis/v9"
	"github.com/rentora/screening-service/internal/api"
	"github.com/rentora/screening-service/internal/app"
	"github.com/rentora/screening-service/internal/config"
	"github.com/rentora/screening-service/internal/store"
	rmrabbit "github.com/rentora/screening-service/pkg/rabbitmq"
	"github.com/rentora/screening-service/pkg/stripeclient"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.StripeWebhookSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"webhook secret must be configured\" env=STRIPE_WEBHOOK_SECRET")
	}

	log.Printf("level=info component=bootstrap msg=\"starting screening-service\" port=%s env=%s", cfg.ServerPort, cfg.Environment)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer to publish events. When the broker is
	// unreachable the fallback producer keeps the service booting; result
	// processing then runs inline on the webhook path.
	var producer rmrabbit.Publisher
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rmrabbit.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		producer = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the client for the payment processor API.
	stripeClient := stripeclient.NewClient(cfg.StripeAPIBaseURL, cfg.StripeSecretKey)
	if !stripeClient.Configured() {
		log.Println("level=warn component=bootstrap msg=\"stripe api key missing; checkout creation disabled\" env=STRIPE_SECRET_KEY")
	}

	// Redis backs the distributed rate limiter. Missing or unreachable Redis
	// degrades to unlimited rather than blocking startup.
	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; rate limiting disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; rate limiting disabled\" err=%v", parseErr)
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; rate limiting disabled\" err=%v", pingErr)
				redisClient.Close()
				redisClient = nil
			} else {
				defer redisClient.Close()
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core application service with its dependencies.
	screeningService := app.NewService(
		repository,
		stripeClient,
		producer,
		nil, // default result provider
		app.NewProviderHealth(),
		cfg.FrontendOrigin,
		cfg.RedirectOrigins(),
		cfg.Environment,
		cfg.ConsentTextVersion,
		cfg.ReportURLSigningKey,
		time.Duration(cfg.ReportURLTTLMinutes)*time.Minute,
	)
	if redisClient != nil {
		screeningService.SetRateLimiter(
			app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix),
			cfg.CheckoutRateLimitPerMinute,
			cfg.ConfirmRateLimitPerMinute,
		)
	}

	// Initialize the API handlers.
	screeningHandlers := api.NewScreeningHandlers(screeningService)
	webhookHandler := api.NewWebhookHandler(screeningService, cfg.StripeWebhookSecret)

	// Set up the HTTP router and define the API routes.
	router := chi.NewRouter()
	router.Mount("/", api.ScreeningRoutes(screeningHandlers, webhookHandler, cfg.JWKSURL))

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	// Wire up the consumer: bind order-finalized events to the result
	// processor. A missing broker degrades to inline processing only.
	finalizedConsumer := app.NewFinalizedOrderConsumer(screeningService)

	rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; result processing runs inline\" err=%v", err)
	} else {
		defer rabbitConsumer.Close()

		finalizedBindings := map[string]func([]byte) bool{
			rmrabbit.RoutingKeyOrderFinalized: finalizedConsumer.HandleMessage,
		}
		if err := rabbitConsumer.ConsumeWithBindings(rmrabbit.ScreeningExchange, cfg.ScreeningEventQueue, finalizedBindings); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"finalized consumer start failed\" err=%v", err)
		}
	}

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

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
