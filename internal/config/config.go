package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/dig"

	"github.com/davidbz/hestia/internal/domain"
)

// Config represents the gateway configuration.
type Config struct {
	Server    ServerConfig
	CORS      CORSConfig
	RateLimit RateLimitConfig
	Breaker   BreakerConfig
	Retry     RetryConfig
	Dedup     DedupConfig
	Upstream  UpstreamConfig
	Agents    AgentCacheConfig
	Redis     RedisConfig
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port         int `env:"SERVER_PORT"          envDefault:"8080"`
	ReadTimeout  int `env:"SERVER_READ_TIMEOUT"  envDefault:"30"`
	WriteTimeout int `env:"SERVER_WRITE_TIMEOUT" envDefault:"300"`
}

// CORSConfig contains CORS policy settings.
type CORSConfig struct {
	AllowedOrigins   []string `env:"CORS_ALLOWED_ORIGINS"   envSeparator:"," envDefault:"*"`
	AllowedMethods   []string `env:"CORS_ALLOWED_METHODS"   envSeparator:"," envDefault:"GET,POST,PUT,DELETE,OPTIONS"`
	AllowedHeaders   []string `env:"CORS_ALLOWED_HEADERS"   envSeparator:"," envDefault:"Content-Type,Authorization,X-Caller-Id"`
	AllowCredentials bool     `env:"CORS_ALLOW_CREDENTIALS"                  envDefault:"true"`
	MaxAge           int      `env:"CORS_MAX_AGE"                            envDefault:"86400"`
}

// RateLimitConfig contains per-caller admission control settings. The default
// is the windowed equivalent of 1000 admissions per 60 seconds.
type RateLimitConfig struct {
	Capacity      int `env:"RATE_LIMIT_CAPACITY"       envDefault:"1000"`
	WindowSeconds int `env:"RATE_LIMIT_WINDOW_SECONDS" envDefault:"60"`
}

// Window returns the refill window as a duration.
func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// BreakerConfig contains per-provider circuit breaker settings.
type BreakerConfig struct {
	FailureThreshold int `env:"BREAKER_FAILURE_THRESHOLD" envDefault:"5"`
	CooldownSeconds  int `env:"BREAKER_COOLDOWN_SECONDS"  envDefault:"30"`
}

// Cooldown returns the open-state cooldown as a duration.
func (c BreakerConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

// RetryConfig contains retry coordinator settings.
type RetryConfig struct {
	MaxAttempts   int     `env:"RETRY_MAX_ATTEMPTS"   envDefault:"3"`
	BaseDelayMs   int     `env:"RETRY_BASE_DELAY_MS"  envDefault:"200"`
	MaxDelayMs    int     `env:"RETRY_MAX_DELAY_MS"   envDefault:"5000"`
	BackoffFactor float64 `env:"RETRY_BACKOFF_FACTOR" envDefault:"2.0"`
	JitterFactor  float64 `env:"RETRY_JITTER_FACTOR"  envDefault:"0.2"`
}

// BaseDelay returns the initial retry delay.
func (c RetryConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMs) * time.Millisecond
}

// MaxDelay returns the retry delay ceiling.
func (c RetryConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelayMs) * time.Millisecond
}

// DedupConfig contains deduplicator settings.
type DedupConfig struct {
	TTLSeconds       int `env:"DEDUP_TTL_SECONDS"       envDefault:"120"`
	SubscriberBuffer int `env:"DEDUP_SUBSCRIBER_BUFFER" envDefault:"256"`
}

// TTL returns the force-eviction deadline for unsettled entries.
func (c DedupConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// UpstreamConfig contains per-provider upstream call ceilings. A zero
// per-provider override falls back to the default.
type UpstreamConfig struct {
	DefaultTimeoutSeconds   int `env:"UPSTREAM_TIMEOUT_SECONDS"           envDefault:"120"`
	OpenAITimeoutSeconds    int `env:"UPSTREAM_OPENAI_TIMEOUT_SECONDS"    envDefault:"0"`
	AzureTimeoutSeconds     int `env:"UPSTREAM_AZURE_TIMEOUT_SECONDS"     envDefault:"0"`
	AnthropicTimeoutSeconds int `env:"UPSTREAM_ANTHROPIC_TIMEOUT_SECONDS" envDefault:"0"`
	FastGPTTimeoutSeconds   int `env:"UPSTREAM_FASTGPT_TIMEOUT_SECONDS"   envDefault:"0"`
}

// TimeoutFor returns the hard ceiling for calls to the given provider.
func (c UpstreamConfig) TimeoutFor(provider domain.Provider) time.Duration {
	seconds := c.DefaultTimeoutSeconds

	override := 0
	switch provider {
	case domain.ProviderOpenAI:
		override = c.OpenAITimeoutSeconds
	case domain.ProviderAzure:
		override = c.AzureTimeoutSeconds
	case domain.ProviderAnthropic:
		override = c.AnthropicTimeoutSeconds
	case domain.ProviderFastGPT:
		override = c.FastGPTTimeoutSeconds
	}
	if override > 0 {
		seconds = override
	}

	return time.Duration(seconds) * time.Second
}

// AgentCacheConfig contains agent configuration source and cache settings.
type AgentCacheConfig struct {
	File       string `env:"AGENTS_FILE"             envDefault:"agents.json"`
	TTLSeconds int    `env:"AGENT_CACHE_TTL_SECONDS" envDefault:"30"`
}

// TTL returns the agent config cache lifetime.
func (c AgentCacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// RedisConfig contains the optional shared-state store settings. An empty
// Addr selects the in-memory stores (single-instance deployment).
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// DepConfig is used for dependency injection with dig.
type DepConfig struct {
	dig.Out
	*ServerConfig
	*CORSConfig
	*RateLimitConfig
	*BreakerConfig
	*RetryConfig
	*DedupConfig
	*UpstreamConfig
	*AgentCacheConfig
	*RedisConfig
}

// Load loads environment files and parses configuration.
func Load() *Config {
	for _, file := range []string{".env"} {
		_ = godotenv.Load(file)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		panic(err)
	}

	return &cfg
}

// ParseDependenciesConfig returns pointers to sub-configs for dependency injection.
func ParseDependenciesConfig(cfg *Config) DepConfig {
	return DepConfig{
		dig.Out{},
		&cfg.Server,
		&cfg.CORS,
		&cfg.RateLimit,
		&cfg.Breaker,
		&cfg.Retry,
		&cfg.Dedup,
		&cfg.Upstream,
		&cfg.Agents,
		&cfg.Redis,
	}
}
