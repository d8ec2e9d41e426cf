package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerConfig       ServerConfig       `json:"server"`
	DatabaseConfig     DatabaseConfig     `json:"database"`
	AuthConfig         AuthConfig         `json:"auth"`
	RedisConfig        RedisConfig        `json:"redis"`
	VaultConfig        VaultConfig        `json:"vault"`
	LoggingConfig      LoggingConfig      `json:"logging"`
	TelegramConfig     TelegramConfig     `json:"telegram"`
	ActivationConfig   ActivationConfig   `json:"activation"`
	OperatorSeedConfig OperatorSeedConfig `json:"operator_seed"`
}

type LoggingConfig struct {
	Level       string `json:"level"`        // DEBUG, INFO, WARN, ERROR
	Output      string `json:"output"`       // stdout, stderr, or file path
	JSONFormat  bool   `json:"json_format"`  // Output as JSON
	IncludeFile bool   `json:"include_file"` // Include file and line number
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"` // CORS allowed origins
	TLSEnabled      bool   `json:"tls_enabled"`
	TLSCertFile     string `json:"tls_cert_file"`
	TLSKeyFile      string `json:"tls_key_file"`
	ReadTimeout     int    `json:"read_timeout"`     // Seconds
	WriteTimeout    int    `json:"write_timeout"`    // Seconds
	ShutdownTimeout int    `json:"shutdown_timeout"` // Seconds
	AuthRateLimit   int    `json:"auth_rate_limit"`  // Requests per minute per IP on auth endpoints
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret              string        `json:"jwt_secret"`
	AccessTokenDuration    time.Duration `json:"access_token_duration"`
	RefreshTokenDuration   time.Duration `json:"refresh_token_duration"`
	MinPasswordLength      int           `json:"min_password_length"`
	TempPasswordLength     int           `json:"temp_password_length"`
	SessionCleanupInterval time.Duration `json:"session_cleanup_interval"`
	MaxSessionsPerUser     int           `json:"max_sessions_per_user"`
}

// VaultConfig holds HashiCorp Vault configuration
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`  // KV secrets engine mount path
	SecretPath string `json:"secret_path"` // Path of the application secrets
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// RedisConfig holds Redis configuration for caching
type RedisConfig struct {
	Enabled  bool          `json:"enabled"`
	Address  string        `json:"address"`
	Password string        `json:"password"`
	DB       int           `json:"db"`
	PoolSize int           `json:"pool_size"`
	TTL      time.Duration `json:"ttl"`
}

// TelegramConfig holds the announcement channel reader settings
type TelegramConfig struct {
	Enabled      bool          `json:"enabled"`
	BotToken     string        `json:"bot_token"`
	ChannelID    int64         `json:"channel_id"`
	PollInterval time.Duration `json:"poll_interval"`
	MaxPosts     int           `json:"max_posts"`
}

// ActivationConfig holds bot activation behaviour
type ActivationConfig struct {
	// ResumePolicy is "banked" (default) or "explicit"
	ResumePolicy string `json:"resume_policy"`
}

// OperatorSeedConfig describes the operator account created at startup
type OperatorSeedConfig struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func Load() (*Config, error) {
	// Variables from a .env file never override the real environment
	if err := godotenv.Load(getEnvOrDefault("ENV_FILE", ".env")); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read env file: %w", err)
	}

	// First try to load base config from file
	cfg, err := loadFromFile(getEnvOrDefault("CONFIG_FILE", "config.json"))
	if err != nil {
		// If no config file, start with empty config
		cfg = &Config{}
	}

	// Apply environment variable overrides (these take precedence)
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that would otherwise fail at first use
func (c *Config) Validate() error {
	if c.AuthConfig.JWTSecret == "" && !c.VaultConfig.Enabled {
		return fmt.Errorf("AUTH_JWT_SECRET is required")
	}
	if c.TelegramConfig.Enabled && c.TelegramConfig.BotToken == "" && !c.VaultConfig.Enabled {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is required when telegram is enabled")
	}
	if c.ActivationConfig.ResumePolicy != "banked" && c.ActivationConfig.ResumePolicy != "explicit" {
		return fmt.Errorf("invalid ACTIVATION_RESUME_POLICY %q", c.ActivationConfig.ResumePolicy)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) {
	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", orString(cfg.LoggingConfig.Level, "INFO"))
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", orString(cfg.LoggingConfig.Output, "stdout"))
	cfg.LoggingConfig.JSONFormat = getEnvBoolOrDefault("LOG_JSON", true)
	cfg.LoggingConfig.IncludeFile = getEnvBoolOrDefault("LOG_INCLUDE_FILE", cfg.LoggingConfig.IncludeFile)

	// Server config
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", orInt(cfg.ServerConfig.Port, 8080))
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", orString(cfg.ServerConfig.Host, "0.0.0.0"))
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", orString(cfg.ServerConfig.AllowedOrigins, "*"))
	cfg.ServerConfig.TLSEnabled = getEnvBoolOrDefault("SERVER_TLS_ENABLED", cfg.ServerConfig.TLSEnabled)
	cfg.ServerConfig.TLSCertFile = getEnvOrDefault("SERVER_TLS_CERT", cfg.ServerConfig.TLSCertFile)
	cfg.ServerConfig.TLSKeyFile = getEnvOrDefault("SERVER_TLS_KEY", cfg.ServerConfig.TLSKeyFile)
	cfg.ServerConfig.ReadTimeout = getEnvIntOrDefault("SERVER_READ_TIMEOUT", orInt(cfg.ServerConfig.ReadTimeout, 30))
	cfg.ServerConfig.WriteTimeout = getEnvIntOrDefault("SERVER_WRITE_TIMEOUT", orInt(cfg.ServerConfig.WriteTimeout, 30))
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", orInt(cfg.ServerConfig.ShutdownTimeout, 10))
	cfg.ServerConfig.AuthRateLimit = getEnvIntOrDefault("SERVER_AUTH_RATE_LIMIT", orInt(cfg.ServerConfig.AuthRateLimit, 10))

	// Database config
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", orString(cfg.DatabaseConfig.Host, "localhost"))
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", orInt(cfg.DatabaseConfig.Port, 5432))
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", orString(cfg.DatabaseConfig.User, "dashboard"))
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", orString(cfg.DatabaseConfig.Database, "dashboard"))
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", orString(cfg.DatabaseConfig.SSLMode, "disable"))

	// Auth config
	cfg.AuthConfig.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.AuthConfig.JWTSecret)
	cfg.AuthConfig.AccessTokenDuration = getEnvDurationOrDefault("AUTH_ACCESS_TOKEN_DURATION", orDuration(cfg.AuthConfig.AccessTokenDuration, 15*time.Minute))
	cfg.AuthConfig.RefreshTokenDuration = getEnvDurationOrDefault("AUTH_REFRESH_TOKEN_DURATION", orDuration(cfg.AuthConfig.RefreshTokenDuration, 7*24*time.Hour))
	cfg.AuthConfig.MinPasswordLength = getEnvIntOrDefault("AUTH_MIN_PASSWORD_LENGTH", orInt(cfg.AuthConfig.MinPasswordLength, 8))
	cfg.AuthConfig.TempPasswordLength = getEnvIntOrDefault("AUTH_TEMP_PASSWORD_LENGTH", orInt(cfg.AuthConfig.TempPasswordLength, 12))
	cfg.AuthConfig.SessionCleanupInterval = getEnvDurationOrDefault("AUTH_SESSION_CLEANUP_INTERVAL", orDuration(cfg.AuthConfig.SessionCleanupInterval, time.Hour))
	cfg.AuthConfig.MaxSessionsPerUser = getEnvIntOrDefault("AUTH_MAX_SESSIONS_PER_USER", orInt(cfg.AuthConfig.MaxSessionsPerUser, 10))

	// Redis config
	cfg.RedisConfig.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.RedisConfig.Enabled)
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDR", orString(cfg.RedisConfig.Address, "localhost:6379"))
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", orInt(cfg.RedisConfig.PoolSize, 10))
	cfg.RedisConfig.TTL = getEnvDurationOrDefault("REDIS_TTL", orDuration(cfg.RedisConfig.TTL, 30*time.Second))

	// Vault config
	cfg.VaultConfig.Enabled = getEnvBoolOrDefault("VAULT_ENABLED", cfg.VaultConfig.Enabled)
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", orString(cfg.VaultConfig.Address, "http://localhost:8200"))
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", orString(cfg.VaultConfig.MountPath, "secret"))
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", orString(cfg.VaultConfig.SecretPath, "bot-dashboard/app"))
	cfg.VaultConfig.TLSEnabled = getEnvBoolOrDefault("VAULT_TLS_ENABLED", cfg.VaultConfig.TLSEnabled)
	cfg.VaultConfig.CACert = getEnvOrDefault("VAULT_CACERT", cfg.VaultConfig.CACert)

	// Telegram announcement channel
	cfg.TelegramConfig.Enabled = getEnvBoolOrDefault("TELEGRAM_ENABLED", cfg.TelegramConfig.Enabled)
	cfg.TelegramConfig.BotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", cfg.TelegramConfig.BotToken)
	cfg.TelegramConfig.ChannelID = getEnvInt64OrDefault("TELEGRAM_CHANNEL_ID", cfg.TelegramConfig.ChannelID)
	cfg.TelegramConfig.PollInterval = getEnvDurationOrDefault("TELEGRAM_POLL_INTERVAL", orDuration(cfg.TelegramConfig.PollInterval, 30*time.Second))
	cfg.TelegramConfig.MaxPosts = getEnvIntOrDefault("TELEGRAM_MAX_POSTS", orInt(cfg.TelegramConfig.MaxPosts, 50))

	// Activation config
	cfg.ActivationConfig.ResumePolicy = getEnvOrDefault("ACTIVATION_RESUME_POLICY", orString(cfg.ActivationConfig.ResumePolicy, "banked"))

	// Operator seed
	cfg.OperatorSeedConfig.Email = getEnvOrDefault("OPERATOR_EMAIL", cfg.OperatorSeedConfig.Email)
	cfg.OperatorSeedConfig.Password = getEnvOrDefault("OPERATOR_PASSWORD", cfg.OperatorSeedConfig.Password)
	cfg.OperatorSeedConfig.FirstName = getEnvOrDefault("OPERATOR_FIRST_NAME", orString(cfg.OperatorSeedConfig.FirstName, "Operator"))
	cfg.OperatorSeedConfig.LastName = getEnvOrDefault("OPERATOR_LAST_NAME", cfg.OperatorSeedConfig.LastName)
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64OrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func orString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func orInt(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}

func orDuration(v, fallback time.Duration) time.Duration {
	if v == 0 {
		return fallback
	}
	return v
}

// GenerateSampleConfig creates a sample configuration file
func GenerateSampleConfig(filename string) error {
	config := Config{
		ServerConfig: ServerConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			AllowedOrigins:  "http://localhost:5173",
			ShutdownTimeout: 10,
			AuthRateLimit:   10,
		},
		DatabaseConfig: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "dashboard",
			Database: "dashboard",
			SSLMode:  "disable",
		},
		AuthConfig: AuthConfig{
			AccessTokenDuration:  15 * time.Minute,
			RefreshTokenDuration: 7 * 24 * time.Hour,
			MinPasswordLength:    8,
		},
		RedisConfig: RedisConfig{
			Enabled: false,
			Address: "localhost:6379",
		},
		TelegramConfig: TelegramConfig{
			Enabled:      false,
			PollInterval: 30 * time.Second,
			MaxPosts:     50,
		},
		ActivationConfig: ActivationConfig{
			ResumePolicy: "banked",
		},
		LoggingConfig: LoggingConfig{
			Level:      "INFO",
			Output:     "stdout",
			JSONFormat: true,
		},
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}
