package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Kafka    KafkaConfig
	Redis    RedisConfig
	Quotes   QuotesConfig
	Refresh  RefreshConfig
	Stream   StreamConfig
	Log      LogConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host           string
	Port           string
	User           string
	Password       string
	DBName         string
	SSLMode        string
	MigrationsPath string
}

// KafkaConfig holds Kafka/Redpanda configuration
type KafkaConfig struct {
	Brokers       []string
	EventsTopic   string
	QuotesTopic   string
	ConsumerGroup string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	QuoteTTL time.Duration
}

// QuotesConfig holds the quote service endpoints
type QuotesConfig struct {
	ChartURL  string
	QuoteURL  string
	Timeout   time.Duration
	UserAgent string
}

// RefreshConfig controls price refresh runs
type RefreshConfig struct {
	Mode       string // "single" or "batch"
	Pacing     time.Duration
	BatchSize  int
	BatchDelay time.Duration
	OnStart    bool
	Schedule   string // cron spec, empty disables scheduled refresh
}

// StreamConfig holds the live tick source configuration
type StreamConfig struct {
	Source       string // "websocket", "kafka" or "none"
	Host         string
	Port         int
	Path         string
	PollInterval time.Duration
	FeedCapacity int
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from environment variables, after loading an optional .env file
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8081"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Host:           getEnv("DB_HOST", "localhost"),
			Port:           getEnv("DB_PORT", "5433"),
			User:           getEnv("DB_USER", "portfolio"),
			Password:       getEnv("DB_PASSWORD", "portfolio"),
			DBName:         getEnv("DB_NAME", "stock_portfolio"),
			SSLMode:        getEnv("DB_SSLMODE", "disable"),
			MigrationsPath: getEnv("DB_MIGRATIONS_PATH", "file://./db/migrations"),
		},
		Kafka: KafkaConfig{
			Brokers:       parseBrokers(getEnv("KAFKA_BROKERS", "localhost:19092")),
			EventsTopic:   getEnv("KAFKA_EVENTS_TOPIC", "portfolio.events"),
			QuotesTopic:   getEnv("KAFKA_QUOTES_TOPIC", "market.quotes"),
			ConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "portfolio-tracker"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			QuoteTTL: getEnvDuration("REDIS_QUOTE_TTL", 15*time.Second),
		},
		Quotes: QuotesConfig{
			ChartURL:  getEnv("QUOTE_CHART_URL", "https://query1.finance.yahoo.com/v8/finance/chart/"),
			QuoteURL:  getEnv("QUOTE_BATCH_URL", "https://query1.finance.yahoo.com/v7/finance/quote"),
			Timeout:   getEnvDuration("QUOTE_TIMEOUT", 10*time.Second),
			UserAgent: getEnv("QUOTE_USER_AGENT", "Mozilla/5.0"),
		},
		Refresh: RefreshConfig{
			Mode:       strings.ToLower(getEnv("REFRESH_MODE", "single")),
			Pacing:     getEnvDuration("REFRESH_PACING", 500*time.Millisecond),
			BatchSize:  getEnvInt("REFRESH_BATCH_SIZE", 50),
			BatchDelay: getEnvDuration("REFRESH_BATCH_DELAY", 300*time.Millisecond),
			OnStart:    getEnvBool("REFRESH_ON_START", true),
			Schedule:   getEnv("REFRESH_SCHEDULE", ""),
		},
		Stream: StreamConfig{
			Source:       strings.ToLower(getEnv("STREAM_SOURCE", "websocket")),
			Host:         getEnv("STREAM_HOST", "localhost"),
			Port:         getEnvInt("STREAM_PORT", 5012),
			Path:         getEnv("STREAM_PATH", "/quotes"),
			PollInterval: getEnvDuration("STREAM_POLL_INTERVAL", time.Second),
			FeedCapacity: getEnvInt("STREAM_FEED_CAPACITY", 1000),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}
}

// ConnectionString returns the PostgreSQL connection string
func (d *DatabaseConfig) ConnectionString() string {
	return "postgres://" + d.User + ":" + d.Password + "@" + d.Host + ":" + d.Port + "/" + d.DBName + "?sslmode=" + d.SSLMode
}

// Address returns the Redis address in host:port format
func (r *RedisConfig) Address() string {
	return r.Host + ":" + r.Port
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d >= 0 {
		return d
	}
	return defaultValue
}

// parseBrokers splits a comma-separated broker list
func parseBrokers(brokers string) []string {
	parts := strings.Split(brokers, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
