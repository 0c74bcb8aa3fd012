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

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	JWT         JWTConfig
	Payment     PaymentConfig
	Reconcile   ReconcileConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Notify      NotifyConfig
	Stripe      StripeConfig
	CinetPay    CinetPayConfig
	MoneyFusion MoneyFusionConfig
	PaymentHub  PaymentHubConfig
	Mpesa       MpesaConfig
	Swapuzi     SwapuziConfig

	// Warnings lists settings Load could not use. The caller logs them once
	// a logger exists.
	Warnings []string
}

type ServerConfig struct {
	Port         string
	Env          string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// WebhookRatePerMinute caps webhook requests per client IP.
	WebhookRatePerMinute int
}

type DatabaseConfig struct {
	Driver          string // mysql or postgres
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

type JWTConfig struct {
	AccessSecret string
	AccessExpiry time.Duration
	Issuer       string
}

type PaymentConfig struct {
	ProviderTimeout time.Duration
	DeepLinkBase    string
	PlatformPercent decimal.Decimal
	EnableStub      bool

	// NodeID seeds the payment reference generator; unique per instance (0-1023).
	NodeID int64

	// PublicBaseURL is where providers reach us, e.g. https://pay.example.org.
	// Callbacks go to PublicBaseURL + /api/v1/webhooks/<provider>.
	PublicBaseURL string
}

type ReconcileConfig struct {
	Enabled            bool
	Interval           time.Duration
	Threshold          time.Duration
	ProviderThresholds map[string]time.Duration
	Attempts           int
	RetryDelay         time.Duration
	Concurrency        int
	BatchSize          int
	LockTTL            time.Duration
}

type RedisConfig struct {
	URL string // empty disables the distributed sweep lock
}

type KafkaConfig struct {
	Brokers []string // empty disables event publishing
	Topic   string
}

type NotifyConfig struct {
	Workers   int
	QueueSize int
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	APIURL        string
}

type CinetPayConfig struct {
	BaseURL   string
	APIKey    string
	SiteID    string
	SecretKey string
}

type MoneyFusionConfig struct {
	PayURL  string
	BaseURL string
}

type PaymentHubConfig struct {
	BaseURL       string
	TokenURL      string
	ClientID      string
	ClientSecret  string
	WebhookSecret string
}

// MpesaConfig for M-Pesa STK via TheLiberec Card API
type MpesaConfig struct {
	BaseURL       string
	Email         string
	Password      string
	WebhookSecret string
	STKExpiry     time.Duration
}

type SwapuziConfig struct {
	BaseURL  string
	Email    string
	Password string
}

const (
	minProviderTimeout = 15 * time.Second
	maxProviderTimeout = 30 * time.Second
)

// Load reads .env (if present) and the environment. Secrets have no defaults;
// a provider whose credentials are unset is simply not registered. Values
// that fail to parse fall back to their default and are listed in Warnings.
func Load() *Config {
	e := &env{}
	if err := godotenv.Load(); err != nil {
		e.warnf("no .env file found, using environment variables")
	}
	cfg := &Config{
		Server: ServerConfig{
			Port:                 e.str("PORT", "8099"),
			Env:                  e.str("APP_ENV", "development"),
			ReadTimeout:          e.duration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:         e.duration("SERVER_WRITE_TIMEOUT", 40*time.Second),
			WebhookRatePerMinute: e.integer("WEBHOOK_RATE_PER_MINUTE", 120),
		},
		Database: DatabaseConfig{
			Driver:          e.str("DB_DRIVER", "mysql"),
			DSN:             e.str("DB_DSN", "paycore:paycore@tcp(localhost:3306)/paycore?charset=utf8mb4&parseTime=True&loc=UTC"),
			MaxIdleConns:    e.integer("DB_MAX_IDLE_CONNS", 10),
			MaxOpenConns:    e.integer("DB_MAX_OPEN_CONNS", 100),
			ConnMaxLifetime: e.duration("DB_CONN_MAX_LIFETIME", time.Hour),
		},
		JWT: JWTConfig{
			AccessSecret: e.str("JWT_ACCESS_SECRET", ""),
			AccessExpiry: e.duration("JWT_ACCESS_EXPIRY", 15*time.Minute),
			Issuer:       e.str("JWT_ISSUER", "paycore"),
		},
		Payment: PaymentConfig{
			ProviderTimeout: ClampProviderTimeout(e.duration("PROVIDER_TIMEOUT", 20*time.Second)),
			PublicBaseURL:   strings.TrimRight(e.str("PUBLIC_BASE_URL", "http://localhost:8099"), "/"),
			DeepLinkBase:    e.str("DEEP_LINK_BASE", "app://payment/return"),
			PlatformPercent: e.number("PLATFORM_FEE_PERCENT", decimal.Zero),
			EnableStub:      e.boolean("ENABLE_STUB_PROVIDER", false),
			NodeID:          int64(e.integer("NODE_ID", 1)),
		},
		Reconcile: ReconcileConfig{
			Enabled:            e.boolean("RECONCILE_ENABLED", true),
			Interval:           e.duration("RECONCILE_INTERVAL", 30*time.Minute),
			Threshold:          e.duration("RECONCILE_THRESHOLD", 2*time.Hour),
			ProviderThresholds: e.thresholds("RECONCILE_PROVIDER_THRESHOLDS"),
			Attempts:           e.integer("RECONCILE_ATTEMPTS", 3),
			RetryDelay:         e.duration("RECONCILE_RETRY_DELAY", 2*time.Second),
			Concurrency:        e.integer("RECONCILE_CONCURRENCY", 4),
			BatchSize:          e.integer("RECONCILE_BATCH_SIZE", 200),
			LockTTL:            e.duration("RECONCILE_LOCK_TTL", 25*time.Minute),
		},
		Redis: RedisConfig{URL: e.str("REDIS_URL", "")},
		Kafka: KafkaConfig{
			Brokers: splitList(e.str("KAFKA_BROKERS", "")),
			Topic:   e.str("KAFKA_PAYMENT_TOPIC", "payment-events"),
		},
		Notify: NotifyConfig{
			Workers:   e.integer("NOTIFY_WORKERS", 4),
			QueueSize: e.integer("NOTIFY_QUEUE_SIZE", 256),
		},
		Stripe: StripeConfig{
			SecretKey:     e.str("STRIPE_SECRET_KEY", ""),
			WebhookSecret: e.str("STRIPE_WEBHOOK_SECRET", ""),
			APIURL:        e.str("STRIPE_API_URL", ""),
		},
		CinetPay: CinetPayConfig{
			BaseURL:   e.str("CINETPAY_BASE_URL", ""),
			APIKey:    e.str("CINETPAY_API_KEY", ""),
			SiteID:    e.str("CINETPAY_SITE_ID", ""),
			SecretKey: e.str("CINETPAY_SECRET_KEY", ""),
		},
		MoneyFusion: MoneyFusionConfig{
			PayURL:  e.str("MONEYFUSION_PAY_URL", ""),
			BaseURL: e.str("MONEYFUSION_BASE_URL", ""),
		},
		PaymentHub: PaymentHubConfig{
			BaseURL:       e.str("PAYMENTHUB_BASE_URL", ""),
			TokenURL:      e.str("PAYMENTHUB_TOKEN_URL", ""),
			ClientID:      e.str("PAYMENTHUB_CLIENT_ID", ""),
			ClientSecret:  e.str("PAYMENTHUB_CLIENT_SECRET", ""),
			WebhookSecret: e.str("PAYMENTHUB_WEBHOOK_SECRET", ""),
		},
		Mpesa: MpesaConfig{
			BaseURL:       e.str("MPESA_BASE_URL", "https://card-api.theliberec.com"),
			Email:         e.str("MPESA_EMAIL", ""),
			Password:      e.str("MPESA_PASSWORD", ""),
			WebhookSecret: e.str("MPESA_WEBHOOK_SECRET", ""),
			STKExpiry:     e.duration("MPESA_STK_EXPIRY", 10*time.Minute),
		},
		Swapuzi: SwapuziConfig{
			BaseURL:  e.str("SWAPUZI_BASE_URL", ""),
			Email:    e.str("SWAPUZI_EMAIL", ""),
			Password: e.str("SWAPUZI_PASSWORD", ""),
		},
	}
	cfg.Warnings = e.warnings
	return cfg
}

// ClampProviderTimeout keeps provider calls within 15-30s.
func ClampProviderTimeout(d time.Duration) time.Duration {
	if d < minProviderTimeout {
		return minProviderTimeout
	}
	if d > maxProviderTimeout {
		return maxProviderTimeout
	}
	return d
}

// ParseThresholds reads "mpesa=30m,stripe=1h". Malformed entries are skipped
// and returned as rejected.
func ParseThresholds(s string) (map[string]time.Duration, []string) {
	out := make(map[string]time.Duration)
	var rejected []string
	for _, part := range splitList(s) {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			rejected = append(rejected, part)
			continue
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil || d <= 0 {
			rejected = append(rejected, part)
			continue
		}
		out[strings.TrimSpace(k)] = d
	}
	return out, rejected
}

// env reads typed settings, falling back to defaults and remembering every
// value it had to ignore.
type env struct {
	warnings []string
}

func (e *env) warnf(format string, args ...any) {
	e.warnings = append(e.warnings, fmt.Sprintf(format, args...))
}

func (e *env) str(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func (e *env) integer(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.warnf("%s=%q is not an integer, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func (e *env) boolean(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.warnf("%s=%q is not a boolean, using %t", key, v, fallback)
		return fallback
	}
	return b
}

func (e *env) duration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.warnf("%s=%q is not a duration, using %s", key, v, fallback)
		return fallback
	}
	return d
}

func (e *env) number(key string, fallback decimal.Decimal) decimal.Decimal {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		e.warnf("%s=%q is not a number, using %s", key, v, fallback)
		return fallback
	}
	return d
}

func (e *env) thresholds(key string) map[string]time.Duration {
	out, rejected := ParseThresholds(e.str(key, ""))
	for _, part := range rejected {
		e.warnf("%s: ignoring %q", key, part)
	}
	return out
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
