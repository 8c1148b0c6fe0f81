package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Providers ProviderConfig
	Cache     CacheConfig
	Analytics AnalyticsConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds the analysis-cache Redis configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// KafkaConfig holds Kafka configuration
type KafkaConfig struct {
	Brokers          []string
	AuditTopic       string
	CorrectionsTopic string
	ConsumerGroup    string
}

// ProviderConfig selects and tunes the market-data providers
type ProviderConfig struct {
	// Primary is "alphavantage" or "yahoo"; the other becomes the fallback.
	Primary            string
	AlphaVantageAPIKey string
	AlphaVantageRPS    float64
	AlphaVantageBurst  int
	YahooRPS           float64
	YahooBurst         int
	RequestTimeout     time.Duration
}

// CacheConfig holds cache tier tuning
type CacheConfig struct {
	MemoryMaxEntries int
	TTLLive          time.Duration
	TTLHistorical    time.Duration
	TTLAnalysis      time.Duration
	// MergePolicy decides the winner on conflicting bar values for the same
	// date: "freshest" (new fetch wins) or "stored" (existing bar wins).
	MergePolicy string
}

// AnalyticsConfig holds defaults for metric computation
type AnalyticsConfig struct {
	RiskFreeRate    float64
	ConfidenceLevel float64
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "marketrisk"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:          strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			AuditTopic:       getEnv("KAFKA_AUDIT_TOPIC", "market-data-events"),
			CorrectionsTopic: getEnv("KAFKA_CORRECTIONS_TOPIC", "price-corrections"),
			ConsumerGroup:    getEnv("KAFKA_CONSUMER_GROUP", "market-risk-service"),
		},
		Providers: ProviderConfig{
			Primary:            getEnv("PROVIDER_PRIMARY", "alphavantage"),
			AlphaVantageAPIKey: getEnv("ALPHA_VANTAGE_API_KEY", "demo"),
			AlphaVantageRPS:    getEnvFloat("ALPHA_VANTAGE_RPS", 0.2),
			AlphaVantageBurst:  getEnvInt("ALPHA_VANTAGE_BURST", 5),
			YahooRPS:           getEnvFloat("YAHOO_RPS", 2),
			YahooBurst:         getEnvInt("YAHOO_BURST", 10),
			RequestTimeout:     getEnvDuration("PROVIDER_TIMEOUT", 30*time.Second),
		},
		Cache: CacheConfig{
			MemoryMaxEntries: getEnvInt("CACHE_MEMORY_MAX_ENTRIES", 1024),
			TTLLive:          getEnvDuration("CACHE_TTL_LIVE", 5*time.Minute),
			TTLHistorical:    getEnvDuration("CACHE_TTL_HISTORICAL", 24*time.Hour),
			TTLAnalysis:      getEnvDuration("CACHE_TTL_ANALYSIS", 24*time.Hour),
			MergePolicy:      getEnv("CACHE_MERGE_POLICY", "freshest"),
		},
		Analytics: AnalyticsConfig{
			RiskFreeRate:    getEnvFloat("RISK_FREE_RATE", 0.02),
			ConfidenceLevel: getEnvFloat("CONFIDENCE_LEVEL", 0.95),
		},
	}
}

// ConnectionString returns the PostgreSQL connection string
func (d *DatabaseConfig) ConnectionString() string {
	return "postgres://" + d.User + ":" + d.Password + "@" + d.Host + ":" + d.Port + "/" + d.DBName + "?sslmode=" + d.SSLMode
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
