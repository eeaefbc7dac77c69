package config

import (
	"fmt"
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
	Logger    LoggerConfig
	App       AppConfig
	Auth      AuthConfig
	Webhook   WebhookConfig
	Actions   ActionsConfig
	Query     QueryConfig
	Health    HealthConfig
	LLM       LLMConfig
	Messaging MessagingConfig
	Workspace WorkspaceConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// DatabaseConfig holds PostgreSQL configuration. The database is optional;
// without it executions and alert history are kept in memory only.
type DatabaseConfig struct {
	Enabled         bool
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled       bool
	Host          string
	Port          int
	Password      string
	DB            int
	PoolSize      int
	DialTimeout   time.Duration
	SlowThreshold time.Duration
}

// LoggerConfig holds logging configuration
type LoggerConfig struct {
	Level  string
	Format string // json or text
}

// AppConfig holds application-specific configuration
type AppConfig struct {
	Environment string
	Version     string
	Name        string
}

// AuthConfig holds bearer token validation settings
type AuthConfig struct {
	JWTSecret string
	Required  bool
}

// WebhookConfig holds webhook ingestion and queue settings
type WebhookConfig struct {
	QueueInterval time.Duration
	BatchSize     int
	MaxRetries    int
	RateLimit     float64
	RateBurst     int
}

// ActionsConfig holds action execution settings
type ActionsConfig struct {
	TemplatesFile       string
	DefaultStepTimeout  time.Duration
	ConfirmationTimeout time.Duration
}

// QueryConfig holds query orchestration settings
type QueryConfig struct {
	CacheBackend    string // memory or redis
	CacheTTL        time.Duration
	CacheMaxEntries int
	PlatformTimeout time.Duration
	MinConfidence   float64
}

// HealthConfig holds health monitor settings
type HealthConfig struct {
	Interval      time.Duration
	SlowThreshold time.Duration
}

// LLMConfig holds intent classifier provider settings
type LLMConfig struct {
	Provider string // anthropic, openai or empty to use keyword matching only
	APIKey   string
	BaseURL  string
	Model    string
	Timeout  time.Duration
}

// MessagingConfig holds WhatsApp Cloud API settings
type MessagingConfig struct {
	Enabled       bool
	BaseURL       string
	APIVersion    string
	PhoneNumberID string
	AccessToken   string
	VerifyToken   string
	AppSecret     string
	SendRate      float64
	Timeout       time.Duration
}

// WorkspaceConfig holds Google Workspace settings
type WorkspaceConfig struct {
	Enabled      bool
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	RefreshToken string
	CalendarID   string
	FolderID     string
	ChannelToken string
	VerifyToken  string
	Timeout      time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			AllowedOrigins:  getEnvAsSlice("SERVER_ALLOWED_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Enabled:         getEnvAsBool("DB_ENABLED", false),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "postgres"),
			Database:        getEnv("DB_NAME", "site_integrations"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Enabled:       getEnvAsBool("REDIS_ENABLED", false),
			Host:          getEnv("REDIS_HOST", "localhost"),
			Port:          getEnvAsInt("REDIS_PORT", 6379),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            getEnvAsInt("REDIS_DB", 0),
			PoolSize:      getEnvAsInt("REDIS_POOL_SIZE", 10),
			DialTimeout:   getEnvAsDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			SlowThreshold: getEnvAsDuration("REDIS_SLOW_THRESHOLD", 100*time.Millisecond),
		},
		Logger: LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		App: AppConfig{
			Environment: getEnv("APP_ENV", "development"),
			Version:     getEnv("APP_VERSION", "0.1.0"),
			Name:        getEnv("APP_NAME", "site-integrations"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			Required:  getEnvAsBool("AUTH_REQUIRED", false),
		},
		Webhook: WebhookConfig{
			QueueInterval: getEnvAsDuration("WEBHOOK_QUEUE_INTERVAL", time.Second),
			BatchSize:     getEnvAsInt("WEBHOOK_BATCH_SIZE", 50),
			MaxRetries:    getEnvAsInt("WEBHOOK_MAX_RETRIES", 3),
			RateLimit:     getEnvAsFloat("WEBHOOK_RATE_LIMIT", 50),
			RateBurst:     getEnvAsInt("WEBHOOK_RATE_BURST", 100),
		},
		Actions: ActionsConfig{
			TemplatesFile:       getEnv("ACTION_TEMPLATES_FILE", ""),
			DefaultStepTimeout:  getEnvAsDuration("ACTION_STEP_TIMEOUT", 30*time.Second),
			ConfirmationTimeout: getEnvAsDuration("ACTION_CONFIRMATION_TIMEOUT", 5*time.Minute),
		},
		Query: QueryConfig{
			CacheBackend:    getEnv("QUERY_CACHE_BACKEND", "memory"),
			CacheTTL:        getEnvAsDuration("QUERY_CACHE_TTL", 5*time.Minute),
			CacheMaxEntries: getEnvAsInt("QUERY_CACHE_MAX_ENTRIES", 100),
			PlatformTimeout: getEnvAsDuration("QUERY_PLATFORM_TIMEOUT", 10*time.Second),
			MinConfidence:   getEnvAsFloat("QUERY_MIN_CONFIDENCE", 0.6),
		},
		Health: HealthConfig{
			Interval:      getEnvAsDuration("HEALTH_CHECK_INTERVAL", 5*time.Minute),
			SlowThreshold: getEnvAsDuration("HEALTH_SLOW_THRESHOLD", 2*time.Second),
		},
		LLM: LLMConfig{
			Provider: getEnv("LLM_PROVIDER", ""),
			APIKey:   getEnv("LLM_API_KEY", ""),
			BaseURL:  getEnv("LLM_BASE_URL", ""),
			Model:    getEnv("LLM_MODEL", ""),
			Timeout:  getEnvAsDuration("LLM_TIMEOUT", 15*time.Second),
		},
		Messaging: MessagingConfig{
			Enabled:       getEnvAsBool("WHATSAPP_ENABLED", true),
			BaseURL:       getEnv("WHATSAPP_BASE_URL", "https://graph.facebook.com"),
			APIVersion:    getEnv("WHATSAPP_API_VERSION", "v19.0"),
			PhoneNumberID: getEnv("WHATSAPP_PHONE_NUMBER_ID", ""),
			AccessToken:   getEnv("WHATSAPP_ACCESS_TOKEN", ""),
			VerifyToken:   getEnv("WHATSAPP_VERIFY_TOKEN", ""),
			AppSecret:     getEnv("WHATSAPP_APP_SECRET", ""),
			SendRate:      getEnvAsFloat("WHATSAPP_SEND_RATE", 20),
			Timeout:       getEnvAsDuration("WHATSAPP_TIMEOUT", 10*time.Second),
		},
		Workspace: WorkspaceConfig{
			Enabled:      getEnvAsBool("GOOGLE_WORKSPACE_ENABLED", true),
			BaseURL:      getEnv("GOOGLE_API_BASE_URL", "https://www.googleapis.com"),
			TokenURL:     getEnv("GOOGLE_TOKEN_URL", "https://oauth2.googleapis.com/token"),
			ClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
			ClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
			RefreshToken: getEnv("GOOGLE_REFRESH_TOKEN", ""),
			CalendarID:   getEnv("GOOGLE_CALENDAR_ID", "primary"),
			FolderID:     getEnv("GOOGLE_DRIVE_FOLDER_ID", ""),
			ChannelToken: getEnv("GOOGLE_CHANNEL_TOKEN", ""),
			VerifyToken:  getEnv("GOOGLE_VERIFY_TOKEN", ""),
			Timeout:      getEnvAsDuration("GOOGLE_TIMEOUT", 10*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Enabled {
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	if c.Redis.Enabled && c.Redis.Host == "" {
		return fmt.Errorf("redis host is required")
	}

	switch c.Query.CacheBackend {
	case "memory":
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("redis cache backend requires REDIS_ENABLED")
		}
	default:
		return fmt.Errorf("invalid query cache backend: %s", c.Query.CacheBackend)
	}

	if c.Query.CacheTTL <= 0 {
		return fmt.Errorf("query cache ttl must be positive")
	}

	if c.Query.MinConfidence < 0 || c.Query.MinConfidence > 1 {
		return fmt.Errorf("query min confidence must be within [0,1]: %v", c.Query.MinConfidence)
	}

	if c.Webhook.MaxRetries <= 0 {
		return fmt.Errorf("webhook max retries must be positive")
	}

	switch c.LLM.Provider {
	case "", "anthropic", "openai":
	default:
		return fmt.Errorf("unsupported llm provider: %s", c.LLM.Provider)
	}

	if c.LLM.Provider != "" && c.LLM.APIKey == "" {
		return fmt.Errorf("llm api key is required for provider %s", c.LLM.Provider)
	}

	if c.Auth.Required && c.Auth.JWTSecret == "" {
		return fmt.Errorf("jwt secret is required when auth is required")
	}

	return nil
}

// DatabaseDSN returns the PostgreSQL connection string
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Database,
		c.Database.SSLMode,
	)
}

// RedisAddr returns the Redis address
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
