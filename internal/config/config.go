package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	defaultAppName         = "Crowdfund"
	defaultAppEnv          = "development"
	defaultPort            = "8080"
	defaultLogLevel        = "info"
	defaultShutdownDelay   = 10 * time.Second
	defaultIdempotencyTTL  = 24 * time.Hour
	defaultAccessTokenTTL  = 15 * time.Minute
	defaultRefreshTokenTTL = 7 * 24 * time.Hour
	defaultMinimumUSD      = "50"
	defaultNativeDecimals  = 18
	defaultFeedDecimals    = 8
	defaultFeedAnswer      = "200000000000"
	defaultFeedCacheTTL    = 30 * time.Second
	defaultFeedRPS         = 5.0
	defaultKafkaTopic      = "crowdfund.events"
	devJWTSecret           = "dev-access-secret"
	devRefreshSecret       = "dev-refresh-secret"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	JWTSecret       string
	RefreshSecret   string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	Crowdfund CrowdfundConfig
	PriceFeed PriceFeedConfig
	Kafka     KafkaConfig
}

// CrowdfundConfig parameterises the contribution ledger.
type CrowdfundConfig struct {
	// OwnerID is the identity allowed to withdraw. Empty in development means
	// an owner account is provisioned at startup.
	OwnerID        string
	MinimumUSD     decimal.Decimal
	NativeDecimals int32
}

// PriceFeedConfig selects and tunes the price oracle. An empty URL selects the
// static development feed seeded with Decimals and InitialAnswer.
type PriceFeedConfig struct {
	URL               string
	Decimals          uint8
	InitialAnswer     decimal.Decimal
	CacheTTL          time.Duration
	RequestsPerSecond float64
}

// KafkaConfig enables event publishing when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// Load reads configuration values from the environment and populates a Config
// instance. A .env file in the working directory is loaded first when present;
// variables already set in the environment win.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		AppName:       getEnv("APP_NAME", defaultAppName),
		AppEnv:        getEnv("APP_ENV", defaultAppEnv),
		Port:          getEnv("PORT", defaultPort),
		LogLevel:      strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		RefreshSecret: os.Getenv("REFRESH_SECRET"),
		Crowdfund: CrowdfundConfig{
			OwnerID: os.Getenv("CROWDFUND_OWNER_ID"),
		},
		PriceFeed: PriceFeedConfig{
			URL: os.Getenv("PRICE_FEED_URL"),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(os.Getenv("KAFKA_BROKERS")),
			Topic:   getEnv("KAFKA_TOPIC", defaultKafkaTopic),
		},
	}

	var err error
	if cfg.ShutdownPeriod, err = durationEnv("SHUTDOWN_TIMEOUT", defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationEnv("IDEMPOTENCY_TTL", defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.AccessTokenTTL, err = durationEnv("ACCESS_TOKEN_TTL", defaultAccessTokenTTL); err != nil {
		return Config{}, err
	}
	if cfg.RefreshTokenTTL, err = durationEnv("REFRESH_TOKEN_TTL", defaultRefreshTokenTTL); err != nil {
		return Config{}, err
	}
	if cfg.PriceFeed.CacheTTL, err = durationEnv("PRICE_FEED_CACHE_TTL", defaultFeedCacheTTL); err != nil {
		return Config{}, err
	}

	if cfg.Crowdfund.MinimumUSD, err = decimalEnv("CROWDFUND_MINIMUM_USD", defaultMinimumUSD); err != nil {
		return Config{}, err
	}
	if cfg.Crowdfund.MinimumUSD.IsNegative() {
		return Config{}, fmt.Errorf("invalid CROWDFUND_MINIMUM_USD: must not be negative")
	}
	nativeDecimals, err := intEnv("NATIVE_DECIMALS", defaultNativeDecimals)
	if err != nil {
		return Config{}, err
	}
	if nativeDecimals <= 0 || nativeDecimals > 36 {
		return Config{}, fmt.Errorf("invalid NATIVE_DECIMALS: %d", nativeDecimals)
	}
	cfg.Crowdfund.NativeDecimals = int32(nativeDecimals)

	feedDecimals, err := intEnv("PRICE_FEED_DECIMALS", defaultFeedDecimals)
	if err != nil {
		return Config{}, err
	}
	if feedDecimals < 0 || feedDecimals > 36 {
		return Config{}, fmt.Errorf("invalid PRICE_FEED_DECIMALS: %d", feedDecimals)
	}
	cfg.PriceFeed.Decimals = uint8(feedDecimals)
	if cfg.PriceFeed.InitialAnswer, err = decimalEnv("PRICE_FEED_INITIAL_ANSWER", defaultFeedAnswer); err != nil {
		return Config{}, err
	}
	cfg.PriceFeed.RequestsPerSecond = defaultFeedRPS
	if v := os.Getenv("PRICE_FEED_RPS"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil || rps <= 0 {
			return Config{}, fmt.Errorf("invalid PRICE_FEED_RPS: %q", v)
		}
		cfg.PriceFeed.RequestsPerSecond = rps
	}

	if cfg.IsDev() {
		if cfg.JWTSecret == "" {
			cfg.JWTSecret = devJWTSecret
		}
		if cfg.RefreshSecret == "" {
			cfg.RefreshSecret = devRefreshSecret
		}
		return cfg, nil
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL must be set")
	}
	if cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("REDIS_URL must be set")
	}
	if cfg.JWTSecret == "" || cfg.RefreshSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET and REFRESH_SECRET must be set")
	}
	if cfg.Crowdfund.OwnerID == "" {
		return Config{}, fmt.Errorf("CROWDFUND_OWNER_ID must be set")
	}
	if cfg.PriceFeed.URL == "" {
		return Config{}, fmt.Errorf("PRICE_FEED_URL must be set")
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsDev reports whether in-memory backends and the static price feed may be used.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// durationEnv reads KEY_SECONDS as an integer first, then KEY as a Go duration.
func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	secondsKey := key + "_SECONDS"
	if v := os.Getenv(secondsKey); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func decimalEnv(key, fallback string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(getEnv(key, fallback))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
