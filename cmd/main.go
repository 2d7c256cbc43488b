package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/dig"

	"github.com/davidbz/hestia/internal/adapter"
	"github.com/davidbz/hestia/internal/agentstore"
	"github.com/davidbz/hestia/internal/breaker"
	"github.com/davidbz/hestia/internal/config"
	"github.com/davidbz/hestia/internal/dedup"
	"github.com/davidbz/hestia/internal/domain"
	"github.com/davidbz/hestia/internal/http"
	"github.com/davidbz/hestia/internal/http/middleware"
	"github.com/davidbz/hestia/internal/limiter"
	"github.com/davidbz/hestia/internal/observability"
	"github.com/davidbz/hestia/internal/retry"
	"github.com/davidbz/hestia/internal/session"
	"github.com/davidbz/hestia/internal/upstream"
)

const shutdownTimeout = 30 * time.Second

func main() {
	container := buildContainer()

	err := container.Invoke(func(server *http.Server) {
		go func() {
			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			<-stop

			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				log.Printf("Shutdown failed: %v", err)
			}
		}()

		if err := server.Start(); err != nil {
			log.Fatalf("Server failed to start: %v", err)
		}
	})
	if err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}
}

func buildContainer() *dig.Container {
	container := dig.New()

	// Configuration
	if err := container.Provide(config.Load); err != nil {
		log.Fatalf("Failed to provide config: %v", err)
	}
	if err := container.Provide(config.ParseDependenciesConfig); err != nil {
		log.Fatalf("Failed to provide config dependencies: %v", err)
	}

	// Observability
	if err := container.Provide(observability.InitLogger); err != nil {
		log.Fatalf("Failed to provide logger: %v", err)
	}

	// Shared state store. An empty address keeps everything in process
	// memory, which is correct for a single-instance deployment.
	if err := container.Provide(func(cfg *config.RedisConfig) *redis.Client {
		if cfg.Addr == "" {
			return nil
		}
		return redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
	}); err != nil {
		log.Fatalf("Failed to provide redis client: %v", err)
	}

	// Agent configuration
	if err := container.Provide(func(cfg *config.AgentCacheConfig) (domain.AgentConfigStore, error) {
		payload, err := os.ReadFile(cfg.File)
		if err != nil {
			if os.IsNotExist(err) {
				observability.FromContext(context.Background()).Warn("agents file not found, starting with empty agent store",
					observability.String("file", cfg.File))
				return agentstore.NewCache(agentstore.NewMemory(), cfg.TTL()), nil
			}
			return nil, err
		}

		store, err := agentstore.NewMemoryFromJSON(payload)
		if err != nil {
			return nil, err
		}
		return agentstore.NewCache(store, cfg.TTL()), nil
	}); err != nil {
		log.Fatalf("Failed to provide agent store: %v", err)
	}

	// Adapters
	if err := container.Provide(func() domain.AdapterResolver {
		return adapter.NewFactory()
	}); err != nil {
		log.Fatalf("Failed to provide adapter factory: %v", err)
	}

	// Rate limiter
	if err := container.Provide(func(cfg *config.RateLimitConfig, client *redis.Client) domain.Admitter {
		if client != nil {
			return limiter.NewLimiter(limiter.NewRedisStore(client, cfg.Capacity, cfg.Window()))
		}
		return limiter.NewLimiter(limiter.NewMemoryStore(cfg.Capacity, cfg.Window()))
	}); err != nil {
		log.Fatalf("Failed to provide rate limiter: %v", err)
	}

	// Circuit breaker
	if err := container.Provide(func(cfg *config.BreakerConfig, client *redis.Client) domain.CircuitGate {
		if client != nil {
			return breaker.NewBreaker(breaker.NewRedisStore(client), cfg.FailureThreshold, cfg.Cooldown())
		}
		return breaker.NewBreaker(breaker.NewMemoryStore(), cfg.FailureThreshold, cfg.Cooldown())
	}); err != nil {
		log.Fatalf("Failed to provide circuit breaker: %v", err)
	}

	// Retry coordinator
	if err := container.Provide(func(cfg *config.RetryConfig) domain.Retrier {
		return retry.NewCoordinator(cfg.MaxAttempts, cfg.BaseDelay(), cfg.MaxDelay(), cfg.BackoffFactor, cfg.JitterFactor)
	}); err != nil {
		log.Fatalf("Failed to provide retry coordinator: %v", err)
	}

	// Deduplicator
	if err := container.Provide(func(cfg *config.DedupConfig) domain.Deduper {
		return dedup.NewTable(cfg.TTL(), cfg.SubscriberBuffer)
	}); err != nil {
		log.Fatalf("Failed to provide deduplicator: %v", err)
	}

	// Upstream HTTP client
	if err := container.Provide(func() domain.UpstreamClient {
		return upstream.NewClient()
	}); err != nil {
		log.Fatalf("Failed to provide upstream client: %v", err)
	}

	// Session persistence and analytics
	if err := container.Provide(func() domain.SessionStore {
		return session.NewDispatcher(session.NewLogStore())
	}); err != nil {
		log.Fatalf("Failed to provide session store: %v", err)
	}
	if err := container.Provide(func() domain.EventPublisher {
		return session.NewAnalytics()
	}); err != nil {
		log.Fatalf("Failed to provide analytics publisher: %v", err)
	}

	// Upstream timeout policy
	if err := container.Provide(func(cfg *config.UpstreamConfig) domain.TimeoutPolicy {
		return cfg
	}); err != nil {
		log.Fatalf("Failed to provide timeout policy: %v", err)
	}

	// Domain Services
	if err := container.Provide(domain.NewGatewayService); err != nil {
		log.Fatalf("Failed to provide gateway service: %v", err)
	}

	// HTTP Layer
	if err := container.Provide(middleware.BuildMiddlewareChain); err != nil {
		log.Fatalf("Failed to provide middleware chain: %v", err)
	}
	if err := container.Provide(http.NewHandler); err != nil {
		log.Fatalf("Failed to provide HTTP handler: %v", err)
	}
	if err := container.Provide(http.NewServer); err != nil {
		log.Fatalf("Failed to provide HTTP server: %v", err)
	}

	return container
}
