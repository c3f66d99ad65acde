package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Mission backends
const (
	BackendNotion   = "notion"
	BackendPostgres = "postgres"
)

// Config holds all configuration for mission-bot
type Config struct {
	Server     ServerConfig
	Backend    string
	Database   DatabaseConfig
	Notion     NotionConfig
	Discord    DiscordConfig
	Sync       SyncConfig
	Validation ValidationConfig
	Redis      RedisConfig
	Webhook    WebhookConfig
	LogLevel   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	APIKeys         []string
	ReadOnlyAPIKeys []string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	DSN           string
	MaxConns      int
	MinConns      int
	MigrationsDir string
	Listen        bool
}

// NotionConfig holds Notion API configuration
type NotionConfig struct {
	APIKey      string
	DatabaseID  string
	PageSize    int
	RefAsNumber bool
}

// DiscordConfig holds the bot credentials and target channel
type DiscordConfig struct {
	Token       string
	ChannelID   string
	EmbedLayout string
}

// SyncConfig holds sync loop configuration
type SyncConfig struct {
	Interval  time.Duration
	IOTimeout time.Duration
}

// ValidationConfig holds mission validation thresholds
type ValidationConfig struct {
	MinDescriptionLength int
	MinPrice             float64
	MaxPrice             float64
}

// RedisConfig holds the Redis notifier configuration; empty URL disables it
type RedisConfig struct {
	URL          string
	Channel      string
	ReconcileKey string
	Retries      int
}

// WebhookConfig holds the webhook notifier configuration; empty URL disables it
type WebhookConfig struct {
	URL     string
	Retries int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			APIKeys:         getEnvAsList("API_KEYS"),
			ReadOnlyAPIKeys: getEnvAsList("API_READONLY_KEYS"),
		},
		Backend: strings.ToLower(getEnv("MISSION_BACKEND", BackendNotion)),
		Database: DatabaseConfig{
			DSN:           getEnv("DATABASE_DSN", ""),
			MaxConns:      getEnvAsInt("DATABASE_MAX_CONNS", 5),
			MinConns:      getEnvAsInt("DATABASE_MIN_CONNS", 1),
			MigrationsDir: getEnv("MIGRATIONS_DIR", ""),
			Listen:        getEnvAsBool("DATABASE_LISTEN", true),
		},
		Notion: NotionConfig{
			APIKey:      getEnv("NOTION_API_KEY", ""),
			DatabaseID:  getEnv("NOTION_DATABASE_ID", ""),
			PageSize:    getEnvAsInt("NOTION_PAGE_SIZE", 100),
			RefAsNumber: getEnvAsBool("NOTION_REF_AS_NUMBER", false),
		},
		Discord: DiscordConfig{
			Token:       getEnv("DISCORD_TOKEN", ""),
			ChannelID:   getEnv("DISCORD_CHANNEL_ID", ""),
			EmbedLayout: getEnv("DISCORD_EMBED_LAYOUT", ""),
		},
		Sync: SyncConfig{
			Interval:  getEnvAsDuration("SYNC_INTERVAL", 5*time.Minute),
			IOTimeout: getEnvAsDuration("SYNC_IO_TIMEOUT", 30*time.Second),
		},
		Validation: ValidationConfig{
			MinDescriptionLength: getEnvAsInt("VALIDATION_MIN_DESCRIPTION", 50),
			MinPrice:             getEnvAsFloat("VALIDATION_MIN_PRICE", 0),
			MaxPrice:             getEnvAsFloat("VALIDATION_MAX_PRICE", 100000),
		},
		Redis: RedisConfig{
			URL:          getEnv("REDIS_URL", ""),
			Channel:      getEnv("REDIS_CHANNEL", "missionbot:events"),
			ReconcileKey: getEnv("REDIS_RECONCILE_KEY", "missionbot:reconcile"),
			Retries:      getEnvAsInt("REDIS_RETRIES", 3),
		},
		Webhook: WebhookConfig{
			URL:     getEnv("WEBHOOK_URL", ""),
			Retries: getEnvAsInt("WEBHOOK_RETRIES", 3),
		},
		LogLevel: strings.ToLower(getEnv("LOG_LEVEL", "info")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration needed by every command
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server port: %d", c.Server.Port))
	}

	switch c.Backend {
	case BackendNotion:
		if c.Notion.APIKey == "" {
			errs = append(errs, errors.New("NOTION_API_KEY is required for the notion backend"))
		}
		if c.Notion.DatabaseID == "" {
			errs = append(errs, errors.New("NOTION_DATABASE_ID is required for the notion backend"))
		}
	case BackendPostgres:
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("DATABASE_DSN is required for the postgres backend"))
		}
		if c.Database.MinConns > c.Database.MaxConns {
			errs = append(errs, fmt.Errorf("DATABASE_MIN_CONNS (%d) exceeds DATABASE_MAX_CONNS (%d)",
				c.Database.MinConns, c.Database.MaxConns))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown mission backend %q (want %s or %s)", c.Backend, BackendNotion, BackendPostgres))
	}

	if c.Sync.Interval <= 0 {
		errs = append(errs, fmt.Errorf("sync interval must be positive, got %s", c.Sync.Interval))
	}
	if c.Sync.IOTimeout <= 0 {
		errs = append(errs, fmt.Errorf("sync I/O timeout must be positive, got %s", c.Sync.IOTimeout))
	}

	if c.Validation.MinPrice > c.Validation.MaxPrice {
		errs = append(errs, fmt.Errorf("minimum price %g exceeds maximum price %g",
			c.Validation.MinPrice, c.Validation.MaxPrice))
	}

	if c.Redis.Retries < 0 {
		errs = append(errs, fmt.Errorf("REDIS_RETRIES must not be negative, got %d", c.Redis.Retries))
	}
	if c.Webhook.Retries < 0 {
		errs = append(errs, fmt.Errorf("WEBHOOK_RETRIES must not be negative, got %d", c.Webhook.Retries))
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid log level %q", c.LogLevel))
	}

	return errors.Join(errs...)
}

// ValidateDiscord checks the settings needed to publish
func (c *Config) ValidateDiscord() error {
	var errs []error
	if c.Discord.Token == "" {
		errs = append(errs, errors.New("DISCORD_TOKEN is required"))
	}
	if c.Discord.ChannelID == "" {
		errs = append(errs, errors.New("DISCORD_CHANNEL_ID is required"))
	}
	return errors.Join(errs...)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvAsList splits a comma separated value, dropping empty items
func getEnvAsList(key string) []string {
	value, exists := os.LookupEnv(key)
	if !exists {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
