package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Database. DatabaseURL wins over the discrete DB_* settings when set;
	// a "sqlite:" or "file:" prefix selects the embedded SQLite driver.
	DatabaseURL string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	DBSSLMode   string

	// JWT
	JWTSecret        string
	JWTAccessExpiry  time.Duration
	JWTRefreshExpiry time.Duration
	ResetTokenExpiry time.Duration

	// Entitlement
	TrialLimit           int
	SubscriptionDisabled bool

	// Retrieval pipeline
	RAGAPIURL    string
	RAGAPIKey    string
	RAGTimeout   time.Duration
	// Outbound answer requests per second; 0 disables throttling.
	RAGRateLimit float64
	RAGRateBurst int
	HistoryTurns int

	// LLM providers (OpenAI-compatible chat completions)
	GroqAPIKey string
	GroqAPIURL string
	GroqModel  string

	DeepSeekAPIKey string
	DeepSeekAPIURL string
	DeepSeekModel  string

	// Stripe
	StripeSecretKey      string
	StripeWebhookSecret  string
	StripeMonthlyPriceID string
	StripeYearlyPriceID  string
	StripePriceIDs       map[string]string

	// Cache
	RedisAddr            string
	RedisPassword        string
	RedisDB              int
	SubscriptionCacheTTL time.Duration

	// Google sign-in
	GoogleClientID string

	// Mail
	SMTPHost     string
	SMTPPort     string
	SMTPUser     string
	SMTPPassword string
	SMTPFrom     string

	// Admin
	AdminEmails  string
	AdminUserIDs string
	AdminToken   string

	// Server
	Port        string
	CORSOrigins string
	FrontendURL string
	AppEnv      string
	LogLevel    string
	SentryDSN   string
}

func Load() *Config {
	cfg := &Config{
		DatabaseURL: getEnv("DATABASE_URL", ""),
		DBHost:      getEnv("DB_HOST", "localhost"),
		DBPort:      getEnv("DB_PORT", "5432"),
		DBUser:      getEnv("DB_USER", "postgres"),
		DBPassword:  getEnv("DB_PASSWORD", ""),
		DBName:      getEnv("DB_NAME", "legal_chat"),
		DBSSLMode:   getEnv("DB_SSLMODE", "disable"),

		JWTSecret:        getEnv("JWT_SECRET", ""),
		JWTAccessExpiry:  parseDuration(getEnv("JWT_ACCESS_EXPIRY", "30m")),
		JWTRefreshExpiry: parseDuration(getEnv("JWT_REFRESH_EXPIRY", "168h")),
		ResetTokenExpiry: parseDuration(getEnv("RESET_TOKEN_EXPIRY", "1h")),

		TrialLimit:           parseInt(getEnv("TRIAL_LIMIT", "20"), 20),
		SubscriptionDisabled: parseBool(getEnv("DISABLE_SUBSCRIPTION", "false")),

		RAGAPIURL:    getEnv("RAG_API_URL", ""),
		RAGAPIKey:    getEnv("RAG_API_KEY", ""),
		RAGTimeout:   parseDuration(getEnv("RAG_TIMEOUT", "60s")),
		RAGRateLimit: parseFloat(getEnv("RAG_RATE_LIMIT", "0")),
		RAGRateBurst: parseInt(getEnv("RAG_RATE_BURST", "5"), 5),
		HistoryTurns: parseInt(getEnv("RAG_HISTORY_TURNS", "10"), 10),

		GroqAPIKey: getEnv("GROQ_API_KEY", ""),
		GroqAPIURL: getEnv("GROQ_API_URL", "https://api.groq.com/openai/v1/chat/completions"),
		GroqModel:  getEnv("GROQ_MODEL", "llama-3.3-70b-versatile"),

		DeepSeekAPIKey: getEnv("DEEPSEEK_API_KEY", ""),
		DeepSeekAPIURL: getEnv("DEEPSEEK_API_URL", "https://api.deepseek.com/v1/chat/completions"),
		DeepSeekModel:  getEnv("DEEPSEEK_MODEL", "deepseek-chat"),

		StripeSecretKey:      getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret:  getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripeMonthlyPriceID: getEnv("STRIPE_MONTHLY_PRICE_ID", ""),
		StripeYearlyPriceID:  getEnv("STRIPE_YEARLY_PRICE_ID", ""),

		RedisAddr:            getEnv("REDIS_ADDR", ""),
		RedisPassword:        getEnv("REDIS_PASSWORD", ""),
		RedisDB:              parseInt(getEnv("REDIS_DB", "0"), 0),
		SubscriptionCacheTTL: parseDuration(getEnv("SUBSCRIPTION_CACHE_TTL", "5m")),

		GoogleClientID: getEnv("GOOGLE_CLIENT_ID", ""),

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnv("SMTP_PORT", "587"),
		SMTPUser:     getEnv("SMTP_USER", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:     getEnv("SMTP_FROM", "no-reply@onir.world"),

		AdminEmails:  getEnv("ADMIN_EMAILS", ""),
		AdminUserIDs: getEnv("ADMIN_USER_IDS", ""),
		AdminToken:   getEnv("ADMIN_TOKEN", ""),

		Port:        getEnv("PORT", "8080"),
		CORSOrigins: getEnv("CORS_ORIGINS", "*"),
		FrontendURL: strings.TrimRight(getEnv("FRONTEND_URL", "https://onir.world"), "/"),
		AppEnv:      getEnv("APP_ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		SentryDSN:   getEnv("SENTRY_DSN", ""),
	}

	cfg.StripePriceIDs = parsePriceIDs(getEnv("STRIPE_PRICE_IDS", ""))
	if cfg.StripeMonthlyPriceID != "" {
		cfg.StripePriceIDs["monthly"] = cfg.StripeMonthlyPriceID
	}
	if cfg.StripeYearlyPriceID != "" {
		cfg.StripePriceIDs["yearly"] = cfg.StripeYearlyPriceID
	}
	return cfg
}

func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return "host=" + c.DBHost +
		" user=" + c.DBUser +
		" password=" + c.DBPassword +
		" dbname=" + c.DBName +
		" port=" + c.DBPort +
		" sslmode=" + c.DBSSLMode +
		" TimeZone=UTC"
}

// UsesSQLite reports whether DATABASE_URL points at an embedded SQLite file.
func (c *Config) UsesSQLite() bool {
	return strings.HasPrefix(c.DatabaseURL, "sqlite:") || strings.HasPrefix(c.DatabaseURL, "file:")
}

// SQLitePath strips the "sqlite:" scheme so the rest can be handed to the driver.
func (c *Config) SQLitePath() string {
	p := strings.TrimPrefix(c.DatabaseURL, "sqlite:")
	return strings.TrimPrefix(p, "//")
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func parseDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 15 * time.Minute
	}
	return d
}

func parseInt(s string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f < 0 {
		return 0
	}
	return f
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	return err == nil && b
}

// parsePriceIDs reads "monthly=price_123,yearly_eur=price_456".
func parsePriceIDs(s string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(s, ",") {
		plan, price, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		plan = strings.TrimSpace(plan)
		price = strings.TrimSpace(price)
		if plan != "" && price != "" {
			out[plan] = price
		}
	}
	return out
}
