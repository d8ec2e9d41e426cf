// Package vault loads application secrets from a HashiCorp Vault KV v2 mount.
package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"bot-dashboard/config"

	"github.com/hashicorp/vault/api"
)

// Secret field names under the application secret path
const (
	FieldJWTSecret     = "jwt_secret"
	FieldDBPassword    = "db_password"
	FieldRedisPassword = "redis_password"
	FieldTelegramToken = "telegram_bot_token"
	FieldTelegramChat  = "telegram_channel_id"
)

// Secrets holds the values read from Vault. Empty fields are left unset.
type Secrets struct {
	JWTSecret         string
	DBPassword        string
	RedisPassword     string
	TelegramBotToken  string
	TelegramChannelID int64
}

// Reader reads a logical path
type Reader interface {
	ReadWithContext(ctx context.Context, path string) (*api.Secret, error)
}

// Client wraps the HashiCorp Vault client
type Client struct {
	logical Reader
	sys     *api.Sys
	config  config.VaultConfig
}

// NewClient creates a new Vault client. A disabled config yields a client
// whose Load returns empty secrets.
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{config: cfg}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{
			CACert: cfg.CACert,
		}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	client.SetToken(cfg.Token)

	return &Client{
		logical: client.Logical(),
		sys:     client.Sys(),
		config:  cfg,
	}, nil
}

// NewWithReader builds a client over an existing reader
func NewWithReader(r Reader, cfg config.VaultConfig) *Client {
	cfg.Enabled = true
	return &Client{logical: r, config: cfg}
}

// IsEnabled returns whether Vault is enabled
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// Load reads the application secrets
func (c *Client) Load(ctx context.Context) (*Secrets, error) {
	if !c.config.Enabled {
		return &Secrets{}, nil
	}

	secret, err := c.logical.ReadWithContext(ctx, c.secretPath())
	if err != nil {
		return nil, fmt.Errorf("failed to read secrets from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("secrets not found at %s", c.secretPath())
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format")
	}

	return &Secrets{
		JWTSecret:         getString(data, FieldJWTSecret),
		DBPassword:        getString(data, FieldDBPassword),
		RedisPassword:     getString(data, FieldRedisPassword),
		TelegramBotToken:  getString(data, FieldTelegramToken),
		TelegramChannelID: getInt64(data, FieldTelegramChat),
	}, nil
}

// Apply overlays non-empty secrets onto cfg
func (s *Secrets) Apply(cfg *config.Config) {
	if s.JWTSecret != "" {
		cfg.AuthConfig.JWTSecret = s.JWTSecret
	}
	if s.DBPassword != "" {
		cfg.DatabaseConfig.Password = s.DBPassword
	}
	if s.RedisPassword != "" {
		cfg.RedisConfig.Password = s.RedisPassword
	}
	if s.TelegramBotToken != "" {
		cfg.TelegramConfig.BotToken = s.TelegramBotToken
	}
	if s.TelegramChannelID != 0 {
		cfg.TelegramConfig.ChannelID = s.TelegramChannelID
	}
}

// Health checks the Vault connection
func (c *Client) Health(ctx context.Context) error {
	if !c.config.Enabled || c.sys == nil {
		return nil
	}

	health, err := c.sys.HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}

	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}

	return nil
}

// secretPath returns the KV v2 data path of the application secrets
func (c *Client) secretPath() string {
	return fmt.Sprintf("%s/data/%s", c.config.MountPath, c.config.SecretPath)
}

// Helper functions
func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

func getInt64(data map[string]interface{}, key string) int64 {
	if val, ok := data[key]; ok {
		switch v := val.(type) {
		case json.Number:
			n, _ := v.Int64()
			return n
		case float64:
			return int64(v)
		case string:
			n, _ := strconv.ParseInt(v, 10, 64)
			return n
		}
	}
	return 0
}
