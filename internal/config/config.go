package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	App      AppConfig
	Broker   BrokerConfig
	Redis    RedisConfig
	Database DatabaseConfig
	SMTP     SMTPConfig
}

type AppConfig struct {
	Port               string
	ServiceName        string `validate:"required"`
	Environment        string
	LogFilePath        string
	CorsAllowedOrigins string
	ShutdownTimeoutSec int
}

// BrokerConfig describes the append-log broker connection.
type BrokerConfig struct {
	Brokers            []string `validate:"required,min=1"`
	ClientID           string   `validate:"required"`
	GroupID            string   `validate:"required"`
	RetryInitialTimeMs int      `validate:"gte=0"`
	RetryMaxRetries    int      `validate:"gte=0"`
}

type RedisConfig struct {
	Host     string `validate:"required"`
	Port     string `validate:"required"`
	Password string
	DB       int
}

type DatabaseConfig struct {
	Connection string `validate:"required"`
}

type SMTPConfig struct {
	Host           string
	Port           int
	Email          string
	Password       string
	SenderName     string
	AlertRecipient string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3000"),
			ServiceName:        getEnv("SERVICE_NAME", "event-backbone"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "logs/app.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
			ShutdownTimeoutSec: getEnvAsInt("SHUTDOWN_TIMEOUT_SEC", 30),
		},
		Broker: BrokerConfig{
			Brokers:            splitList(getEnv("EVENT_BROKERS", "nats://localhost:4222")),
			ClientID:           getEnv("EVENT_CLIENT_ID", "event-backbone"),
			GroupID:            getEnv("EVENT_GROUP_ID", "event-backbone-group"),
			RetryInitialTimeMs: getEnvAsInt("EVENT_RETRY_INITIAL_MS", 300),
			RetryMaxRetries:    getEnvAsInt("EVENT_RETRY_MAX", 3),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Database: DatabaseConfig{
			Connection: getEnv("DB_CONNECTION_STRING", ""),
		},
		SMTP: SMTPConfig{
			Host:           getEnv("SMTP_HOST", ""),
			Port:           getEnvAsInt("SMTP_PORT", 587),
			Email:          getEnv("SMTP_EMAIL", ""),
			Password:       getEnv("SMTP_PASSWORD", ""),
			SenderName:     getEnv("SMTP_SENDER_NAME", "EventMesh"),
			AlertRecipient: getEnv("SMTP_ALERT_RECIPIENT", ""),
		},
	}
}

// Validate checks the loaded configuration before the process starts serving.
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

/// Addr returns the host:port pair for the Redis client.
func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}
