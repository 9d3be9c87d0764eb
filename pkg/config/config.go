package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database       DatabaseConfig
	Redis          RedisConfig
	JWT            JWTConfig
	CORS           CORSConfig
	Log            LogConfig
	Cache          CacheConfig
	Penalty        PenaltyConfig
	Waitlist       WaitlistConfig
	Circulation    CirculationConfig
	Reconciliation ReconciliationConfig
	Notifications  NotificationsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
	Issuer string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// CacheConfig tunes the Redis read-view cache for list endpoints.
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

// PenaltyConfig is the fine tariff. Late fees accrue per overdue day as a
// fraction of the book's MRP; damage and loss use flat replacement fees.
type PenaltyConfig struct {
	LateDailyFactor     decimal.Decimal
	DamageFee           decimal.Decimal
	LostFee             decimal.Decimal
	AllowPartialPayment bool
}

// WaitlistConfig parameterises the priority ranking policy. The score is
// waitingDays*WaitWeight plus the boost for the member tier; it never
// decreases as waiting time grows.
type WaitlistConfig struct {
	WaitWeight        float64
	HonorsBoost       float64
	FacultyBoost      float64
	EstimatedLoanDays int
}

// CirculationConfig governs loan issuance defaults.
type CirculationConfig struct {
	DefaultLoanDays int
}

// ReconciliationConfig schedules the nightly penalty sweep.
type ReconciliationConfig struct {
	Enabled    bool
	RunAt      string // "HH:MM" local time
	MaxRetries int
}

// NotificationsConfig sizes the async notification dispatcher.
type NotificationsConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret: v.GetString("JWT_SECRET"),
		Issuer: v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Cache = CacheConfig{
		Enabled: v.GetBool("ENABLE_CACHE"),
		TTL:     parseDuration(v.GetString("CACHE_TTL"), 5*time.Minute),
	}

	cfg.Penalty = PenaltyConfig{
		LateDailyFactor:     parseDecimal(v.GetString("PENALTY_LATE_DAILY_FACTOR"), "0.10"),
		DamageFee:           parseDecimal(v.GetString("PENALTY_DAMAGE_FEE"), "250"),
		LostFee:             parseDecimal(v.GetString("PENALTY_LOST_FEE"), "500"),
		AllowPartialPayment: v.GetBool("PENALTY_ALLOW_PARTIAL_PAYMENT"),
	}

	cfg.Waitlist = WaitlistConfig{
		WaitWeight:        v.GetFloat64("WAITLIST_WAIT_WEIGHT"),
		HonorsBoost:       v.GetFloat64("WAITLIST_HONORS_BOOST"),
		FacultyBoost:      v.GetFloat64("WAITLIST_FACULTY_BOOST"),
		EstimatedLoanDays: v.GetInt("WAITLIST_ESTIMATED_LOAN_DAYS"),
	}

	cfg.Circulation = CirculationConfig{
		DefaultLoanDays: v.GetInt("CIRCULATION_DEFAULT_LOAN_DAYS"),
	}

	cfg.Reconciliation = ReconciliationConfig{
		Enabled:    v.GetBool("ENABLE_RECONCILIATION"),
		RunAt:      v.GetString("RECONCILIATION_RUN_AT"),
		MaxRetries: v.GetInt("RECONCILIATION_MAX_RETRIES"),
	}

	cfg.Notifications = NotificationsConfig{
		Workers:    v.GetInt("NOTIFICATIONS_WORKERS"),
		BufferSize: v.GetInt("NOTIFICATIONS_BUFFER_SIZE"),
		MaxRetries: v.GetInt("NOTIFICATIONS_MAX_RETRIES"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "lms_circulation")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "lms-auth")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("ENABLE_CACHE", false)
	v.SetDefault("CACHE_TTL", "5m")

	v.SetDefault("PENALTY_LATE_DAILY_FACTOR", "0.10")
	v.SetDefault("PENALTY_DAMAGE_FEE", "250")
	v.SetDefault("PENALTY_LOST_FEE", "500")
	v.SetDefault("PENALTY_ALLOW_PARTIAL_PAYMENT", true)

	v.SetDefault("WAITLIST_WAIT_WEIGHT", 1.0)
	v.SetDefault("WAITLIST_HONORS_BOOST", 5.0)
	v.SetDefault("WAITLIST_FACULTY_BOOST", 10.0)
	v.SetDefault("WAITLIST_ESTIMATED_LOAN_DAYS", 14)

	v.SetDefault("CIRCULATION_DEFAULT_LOAN_DAYS", 14)

	v.SetDefault("ENABLE_RECONCILIATION", true)
	v.SetDefault("RECONCILIATION_RUN_AT", "02:00")
	v.SetDefault("RECONCILIATION_MAX_RETRIES", 3)

	v.SetDefault("NOTIFICATIONS_WORKERS", 2)
	v.SetDefault("NOTIFICATIONS_BUFFER_SIZE", 64)
	v.SetDefault("NOTIFICATIONS_MAX_RETRIES", 3)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func parseDecimal(raw, fallback string) decimal.Decimal {
	if raw != "" {
		if d, err := decimal.NewFromString(raw); err == nil {
			return d
		}
	}
	return decimal.RequireFromString(fallback)
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
