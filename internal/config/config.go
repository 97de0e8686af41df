package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	HTTPAddr string
	GRPCAddr string
	Storage  string // postgres | memory

	RedisAddr string
	RedisPass string
	RedisDB   int

	KafkaBrokers []string
	KafkaTopic   string
	RedisChannel string

	GatewayBaseURL     string
	GatewaySecretKey   string
	GatewayTimeout     time.Duration
	CheckoutCallback   string
	UtilityBaseURL     string
	UtilitySecretKey   string
	CORSAllowedOrigins []string

	TickInterval          time.Duration
	SweepInterval         time.Duration
	SweepStaleAfter       time.Duration
	ReminderInterval      time.Duration
	BillReminderDays      int
	RecurringReminderDays int
	SchedulerConcurrency  int
	SchedulerBatchSize    int
	LockTTL               time.Duration

	NotifyBatchSize     int
	NotifyFlushInterval time.Duration

	DefaultCurrency string
}

// LoadDotEnv reads .env files into the environment when present. Variables
// already set win.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			_ = godotenv.Load(f)
		}
	}
}

func Load() AppConfig {
	return AppConfig{
		HTTPAddr: getEnv("HTTP_ADDR", ":8040"),
		GRPCAddr: getEnv("GRPC_ADDR", ":8041"),
		Storage:  strings.ToLower(getEnv("STORAGE", "postgres")),

		RedisAddr: getEnv("REDIS_ADDR", "redis:6379"),
		RedisPass: getEnv("REDIS_PASS", ""),
		RedisDB:   getEnvInt("REDIS_DB", 0),

		KafkaBrokers: getEnvSlice("KAFKA_BROKERS", ""),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "settlement.events"),
		RedisChannel: getEnv("REDIS_CHANNEL", "settlement_events"),

		GatewayBaseURL:     getEnv("GATEWAY_BASE_URL", "https://api.paystack.co"),
		GatewaySecretKey:   getEnv("GATEWAY_SECRET_KEY", ""),
		GatewayTimeout:     getEnvDuration("GATEWAY_TIMEOUT", 30*time.Second),
		CheckoutCallback:   getEnv("CHECKOUT_CALLBACK_URL", ""),
		UtilityBaseURL:     getEnv("UTILITY_BASE_URL", "https://api.flutterwave.com/v3"),
		UtilitySecretKey:   getEnv("UTILITY_SECRET_KEY", ""),
		CORSAllowedOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS", "*"),

		TickInterval:          getEnvDuration("TICK_INTERVAL", time.Minute),
		SweepInterval:         getEnvDuration("SWEEP_INTERVAL", 5*time.Minute),
		SweepStaleAfter:       getEnvDuration("SWEEP_STALE_AFTER", 15*time.Minute),
		ReminderInterval:      getEnvDuration("REMINDER_INTERVAL", time.Hour),
		BillReminderDays:      getEnvInt("BILL_REMINDER_DAYS", 3),
		RecurringReminderDays: getEnvInt("RECURRING_REMINDER_DAYS", 1),
		SchedulerConcurrency:  getEnvInt("SCHEDULER_CONCURRENCY", 8),
		SchedulerBatchSize:    getEnvInt("SCHEDULER_BATCH_SIZE", 500),
		LockTTL:               getEnvDuration("SCHEDULER_LOCK_TTL", 5*time.Minute),

		NotifyBatchSize:     getEnvInt("NOTIFY_BATCH_SIZE", 100),
		NotifyFlushInterval: getEnvDuration("NOTIFY_FLUSH_INTERVAL", 2*time.Second),

		DefaultCurrency: strings.ToUpper(getEnv("DEFAULT_CURRENCY", "NGN")),
	}
}

func (c AppConfig) GatewayEnabled() bool { return c.GatewaySecretKey != "" }

func (c AppConfig) UtilityEnabled() bool { return c.UtilitySecretKey != "" }

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// getEnvSlice splits a comma separated variable, dropping empty entries.
func getEnvSlice(key, fallback string) []string {
	val := getEnv(key, fallback)
	var out []string
	for _, p := range strings.Split(val, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
