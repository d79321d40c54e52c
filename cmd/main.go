/**
 * @description
 * This is the main entry point for the funnel-service. It is responsible for
 * initializing all components of the service, including configuration,
 * database connection, external API clients, message brokers, the session
 * registry, and the HTTP server. It wires everything together and starts the
 * service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/funnel,
 *   internal/session, internal/store: Internal packages for the service.
 * - pkg/pixgateway, pkg/userlookup: Upstream API clients.
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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/rbxrewards/funnel-service/internal/api"
	"github.com/rbxrewards/funnel-service/internal/app"
	"github.com/rbxrewards/funnel-service/internal/config"
	"github.com/rbxrewards/funnel-service/internal/domain"
	"github.com/rbxrewards/funnel-service/internal/funnel"
	"github.com/rbxrewards/funnel-service/internal/metrics"
	"github.com/rbxrewards/funnel-service/internal/session"
	"github.com/rbxrewards/funnel-service/internal/store"
	"github.com/rbxrewards/funnel-service/pkg/pixgateway"
	rmrabbit "github.com/rbxrewards/funnel-service/pkg/rabbitmq"
	"github.com/rbxrewards/funnel-service/pkg/retryhttp"
	"github.com/rbxrewards/funnel-service/pkg/userlookup"
)

// gatewayIssuer adapts the PIX gateway client to the per-session charge
// interface, filling in the payer block from the verified username.
type gatewayIssuer struct {
	gateway    *pixgateway.Client
	payerName  func() string
	webhookURL string
}

func (g *gatewayIssuer) Authenticate(ctx context.Context) (string, error) {
	return g.gateway.Authenticate(ctx)
}

func (g *gatewayIssuer) IssueCharge(ctx context.Context, token string, amountCentavos int64, description string) (*domain.Charge, error) {
	return g.gateway.CreateCharge(ctx, token, pixgateway.ChargeRequest{
		AmountCentavos: amountCentavos,
		Description:    description,
		PayerName:      g.payerName(),
		WebhookURL:     g.webhookURL,
	})
}

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.AdminPassword) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"admin password must be configured\" env=ADMIN_PASSWORD")
	}
	if strings.TrimSpace(cfg.AdminJWTSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"admin jwt secret must be configured\" env=ADMIN_JWT_SECRET")
	}

	log.Printf("level=info component=bootstrap msg=\"starting funnel-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
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

	// Initialize the RabbitMQ producer to publish events. Publishing is
	// best-effort; the service keeps running without a broker.
	var producer rmrabbit.Publisher
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = rmrabbit.NopPublisher{}
	} else {
		defer rabbitProducer.Close()
		producer = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Optional Redis connection for rate limiting.
	var limiter app.RateLimiter
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; rate limiting disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; rate limiting disabled\" err=%v", parseErr)
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; rate limiting disabled\" err=%v", pingErr)
				redisClient.Close()
			} else {
				defer redisClient.Close()
				limiter = app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Register Prometheus collectors before anything increments them.
	metrics.Register()

	// Upstream clients: the backoff transport, the PIX gateway and the
	// Roblox lookup chain.
	transport := retryhttp.NewClient(
		time.Duration(cfg.HTTPTimeoutSeconds)*time.Second,
		uint(cfg.HTTPRetryMaxAttempts),
		time.Duration(cfg.HTTPRetryBaseDelayMillis)*time.Millisecond,
	)
	transport.SetOnRetry(func(attempt uint, err error) {
		metrics.GatewayRetries.Inc()
	})
	gateway := pixgateway.NewClient(cfg.GatewayAPIBaseURL, cfg.GatewayClientID, cfg.GatewayClientSecret, transport)
	lookup := userlookup.NewClient(cfg.UserLookupBaseURL, cfg.ThumbnailBaseURL, time.Duration(cfg.HTTPTimeoutSeconds)*time.Second)

	// Initialize the data access layer and the order service.
	repository := store.NewPostgresRepository(dbpool)
	orderService := app.NewService(repository, producer)
	pricer := &app.Pricer{Catalog: domain.DefaultCatalog(), BaseFeeCentavos: cfg.BaseFeeCentavos}

	webhookURL := ""
	if base := strings.TrimRight(strings.TrimSpace(cfg.WebhookPublicBaseURL), "/"); base != "" {
		webhookURL = base + "/webhook/pix"
	}

	sessionCfg := session.Config{
		ExpirySeconds: cfg.ChargeExpirySeconds,
		DebounceQuiet: time.Duration(cfg.RegenDebounceMillis) * time.Millisecond,
		VerifyDelay:   time.Duration(cfg.PaymentVerifyDelaySeconds) * time.Second,
	}

	// Each session pairs a funnel sequencer with a charge controller. The
	// first successful charge persists the order record.
	factory := func(id string) (*funnel.Sequencer, *session.Controller) {
		var seq *funnel.Sequencer
		issuer := &gatewayIssuer{
			gateway:    gateway,
			payerName:  func() string { return seq.Username() },
			webhookURL: webhookURL,
		}
		ctrl := session.NewController(issuer, func() int64 {
			return pricer.TotalPayable(domain.SelectionFromIDs(seq.SelectedAddOnIDs()))
		}, func() string {
			if pkg, ok := seq.SelectedPackage(); ok {
				return fmt.Sprintf("Robux package %d", pkg.Robux)
			}
			return "Robux package"
		}, sessionCfg)
		seq = funnel.NewSequencer(pricer.Catalog, lookup, ctrl, funnel.Config{})
		ctrl.SetOnFirstCharge(func(charge *domain.Charge, amountCentavos int64) {
			robux := 0
			if pkg, ok := seq.SelectedPackage(); ok {
				robux = pricer.TotalRobux(pkg, domain.SelectionFromIDs(seq.SelectedAddOnIDs()))
			}
			order, createErr := orderService.CreateOrder(context.Background(), domain.CreateOrderRequest{
				Username:       seq.Username(),
				RobuxAmount:    robux,
				AmountCentavos: amountCentavos,
				PixCode:        charge.PayableCode,
				TransactionID:  charge.Identifier,
				Reference:      seq.OrderReference(),
			})
			if createErr != nil {
				log.Printf("level=error component=bootstrap msg=\"order record failed for session\" session_id=%s err=%v", id, createErr)
				return
			}
			metrics.OrdersCreated.Inc()
			log.Printf("level=info component=bootstrap msg=\"order recorded\" session_id=%s order_id=%s", id, order.ID)
		})
		return seq, ctrl
	}

	registry := session.NewRegistry(factory, time.Duration(cfg.SessionIdleTTLMinutes)*time.Minute)
	if err := registry.StartJanitor(); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"session janitor start failed\" err=%v", err)
	}
	defer registry.StopJanitor()

	// Initialize the API handlers.
	auth := api.NewAdminAuthenticator(api.NewSharedSecretVerifier(cfg.AdminPassword), cfg.AdminJWTSecret, time.Duration(cfg.AdminTokenTTLMinutes)*time.Minute)
	handlers := api.NewFunnelHandlers(registry, orderService, lookup, pricer, auth, producer)

	// Set up the HTTP router and define the API routes.
	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.Handler())
	router.Mount("/", api.FunnelRoutes(handlers, api.RouterOptions{
		Limiter:              limiter,
		AllowedOrigins:       cfg.AllowedOrigins(),
		ChargeLimitPerMinute: cfg.ChargeRateLimitPerMinute,
		LookupLimitPerMinute: cfg.LookupRateLimitPerMinute,
	}))

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

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
