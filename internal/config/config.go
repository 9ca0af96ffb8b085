package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Inventory InventoryConfig `yaml:"inventory"`
	Currency  CurrencyConfig  `yaml:"currency"`
	Import    ImportConfig    `yaml:"import"`
	Inbox     InboxConfig     `yaml:"inbox"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// GetHost returns the configured bind host, defaulting to localhost.
func (s ServerConfig) GetHost() string {
	if s.Host == "" {
		return "localhost"
	}
	return s.Host
}

// DatabaseConfig holds the Postgres connection for the import log and audit trail
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_minutes"`
}

// RedisConfig holds the Redis connection for the currency rate cache
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// InventoryConfig holds the catalog service API connection
type InventoryConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIToken       string `yaml:"api_token"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// CurrencyConfig holds exchange rate provider settings.
// Supplier invoices are quoted in USD; sale prices are in local currency.
type CurrencyConfig struct {
	RateURL         string  `yaml:"rate_url"`
	CacheTTLMinutes int     `yaml:"cache_ttl_minutes"`
	FallbackRate    float64 `yaml:"fallback_rate"`
	TimeoutSeconds  int     `yaml:"timeout_seconds"`
}

// ImportConfig holds defaults for the supplier invoice import pipeline
type ImportConfig struct {
	MaxUploadMB        int     `yaml:"max_upload_mb"`
	TruckCostPerBox    float64 `yaml:"truck_cost_per_box"`
	TransferFeePercent float64 `yaml:"transfer_fee_percent"`
	TaxPerStem         float64 `yaml:"tax_per_stem"`
}

// InboxConfig holds S3 drop-folder watcher settings. Suppliers push
// invoice spreadsheets into the bucket; the watcher queues them as
// pending previews for operator review.
type InboxConfig struct {
	Enabled         bool   `yaml:"enabled"`
	S3Bucket        string `yaml:"s3_bucket"`
	S3Region        string `yaml:"s3_region"`
	AWSProfile      string `yaml:"aws_profile"`
	IntervalMinutes int    `yaml:"interval_minutes"`
}

// CacheTTL returns the currency cache TTL as a duration.
func (c CurrencyConfig) CacheTTL() time.Duration {
	if c.CacheTTLMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(c.CacheTTLMinutes) * time.Minute
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Inventory.TimeoutSeconds == 0 {
		cfg.Inventory.TimeoutSeconds = 30
	}
	if cfg.Currency.CacheTTLMinutes == 0 {
		cfg.Currency.CacheTTLMinutes = 60
	}
	if cfg.Currency.TimeoutSeconds == 0 {
		cfg.Currency.TimeoutSeconds = 15
	}
	if cfg.Currency.FallbackRate == 0 {
		cfg.Currency.FallbackRate = 90.0
	}
	if cfg.Import.MaxUploadMB == 0 {
		cfg.Import.MaxUploadMB = 16
	}
	if cfg.Import.TransferFeePercent == 0 {
		cfg.Import.TransferFeePercent = 3.5
	}
	if cfg.Inbox.IntervalMinutes == 0 {
		cfg.Inbox.IntervalMinutes = 5
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in deployment.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("INVENTORY_BASE_URL"); v != "" {
		cfg.Inventory.BaseURL = v
	}
	if v := os.Getenv("INVENTORY_API_TOKEN"); v != "" {
		cfg.Inventory.APIToken = v
	}
	if v := os.Getenv("CURRENCY_RATE_URL"); v != "" {
		cfg.Currency.RateURL = v
	}
	if v := os.Getenv("INBOX_S3_BUCKET"); v != "" {
		cfg.Inbox.S3Bucket = v
		cfg.Inbox.Enabled = true
	}
	if v := os.Getenv("INBOX_S3_REGION"); v != "" {
		cfg.Inbox.S3Region = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			cfg.Server.Port = p
		}
	}

	return cfg, nil
}
