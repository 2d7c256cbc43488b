package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/hestia/internal/config"
	"github.com/davidbz/hestia/internal/domain"
)

func TestLoad(t *testing.T) {
	t.Run("should load config with defaults", func(t *testing.T) {
		// Clear environment
		os.Clearenv()

		cfg := config.Load()

		require.NotNil(t, cfg)

		// Verify defaults
		require.Equal(t, 8080, cfg.Server.Port)
		require.Equal(t, 30, cfg.Server.ReadTimeout)
		require.Equal(t, 300, cfg.Server.WriteTimeout)

		require.Equal(t, 1000, cfg.RateLimit.Capacity)
		require.Equal(t, time.Minute, cfg.RateLimit.Window())

		require.Equal(t, 5, cfg.Breaker.FailureThreshold)
		require.Equal(t, 30*time.Second, cfg.Breaker.Cooldown())

		require.Equal(t, 3, cfg.Retry.MaxAttempts)
		require.Equal(t, 200*time.Millisecond, cfg.Retry.BaseDelay())
		require.Equal(t, 5*time.Second, cfg.Retry.MaxDelay())
		require.InDelta(t, 2.0, cfg.Retry.BackoffFactor, 0.001)
		require.InDelta(t, 0.2, cfg.Retry.JitterFactor, 0.001)

		require.Equal(t, 2*time.Minute, cfg.Dedup.TTL())
		require.Equal(t, 256, cfg.Dedup.SubscriberBuffer)

		require.Equal(t, 2*time.Minute, cfg.Upstream.TimeoutFor(domain.ProviderOpenAI))

		require.Equal(t, "agents.json", cfg.Agents.File)
		require.Equal(t, 30*time.Second, cfg.Agents.TTL())

		require.Empty(t, cfg.Redis.Addr)
	})

	t.Run("should load config from environment variables", func(t *testing.T) {
		t.Setenv("SERVER_PORT", "9000")
		t.Setenv("RATE_LIMIT_CAPACITY", "50")
		t.Setenv("RATE_LIMIT_WINDOW_SECONDS", "10")
		t.Setenv("BREAKER_FAILURE_THRESHOLD", "7")
		t.Setenv("RETRY_MAX_ATTEMPTS", "5")
		t.Setenv("DEDUP_TTL_SECONDS", "45")
		t.Setenv("REDIS_ADDR", "localhost:6379")
		t.Setenv("AGENTS_FILE", "/etc/hestia/agents.json")

		cfg := config.Load()

		require.NotNil(t, cfg)
		require.Equal(t, 9000, cfg.Server.Port)
		require.Equal(t, 50, cfg.RateLimit.Capacity)
		require.Equal(t, 10*time.Second, cfg.RateLimit.Window())
		require.Equal(t, 7, cfg.Breaker.FailureThreshold)
		require.Equal(t, 5, cfg.Retry.MaxAttempts)
		require.Equal(t, 45*time.Second, cfg.Dedup.TTL())
		require.Equal(t, "localhost:6379", cfg.Redis.Addr)
		require.Equal(t, "/etc/hestia/agents.json", cfg.Agents.File)
	})

	t.Run("should apply per-provider upstream timeout overrides", func(t *testing.T) {
		t.Setenv("UPSTREAM_TIMEOUT_SECONDS", "60")
		t.Setenv("UPSTREAM_FASTGPT_TIMEOUT_SECONDS", "240")

		cfg := config.Load()

		require.Equal(t, 240*time.Second, cfg.Upstream.TimeoutFor(domain.ProviderFastGPT))
		require.Equal(t, 60*time.Second, cfg.Upstream.TimeoutFor(domain.ProviderOpenAI))
		require.Equal(t, 60*time.Second, cfg.Upstream.TimeoutFor(domain.ProviderAnthropic))
	})
}

func TestParseDependenciesConfig(t *testing.T) {
	t.Run("should expose pointers into the loaded config", func(t *testing.T) {
		os.Clearenv()
		cfg := config.Load()

		deps := config.ParseDependenciesConfig(cfg)

		require.Same(t, &cfg.Server, deps.ServerConfig)
		require.Same(t, &cfg.RateLimit, deps.RateLimitConfig)
		require.Same(t, &cfg.Redis, deps.RedisConfig)
	})
}
