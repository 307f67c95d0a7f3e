// Package config loads application configuration from the environment with
// an optional YAML file overlay.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" envconfig:"SERVER"`
	Security SecurityConfig `yaml:"security" envconfig:"SECURITY"`
	Logging  LoggingConfig  `yaml:"logging" envconfig:"LOGGING"`
	Storage  StorageConfig  `yaml:"storage" envconfig:"STORAGE"`
	SMTP     SMTPConfig     `yaml:"smtp" envconfig:"SMTP"`
	Pricing  PricingConfig  `yaml:"pricing" envconfig:"PRICING"`
	Payment  PaymentConfig  `yaml:"payment" envconfig:"PAYMENT"`
	Company  CompanyConfig  `yaml:"company" envconfig:"COMPANY"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"60s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES" default:"1048576"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// SecurityConfig contains auth and rate limiting configuration
type SecurityConfig struct {
	// AdminKey protects the admin surface. An empty key makes every admin
	// request fail with a server misconfiguration error rather than
	// silently opening the surface.
	AdminKey string `yaml:"admin_key" envconfig:"ADMIN_KEY"`
	// WebhookKey authenticates the trusted payment processor.
	WebhookKey     string          `yaml:"webhook_key" envconfig:"WEBHOOK_KEY"`
	AllowedOrigins []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS" default:"http://localhost:8080"`
	EnableCORS     bool            `yaml:"enable_cors" envconfig:"ENABLE_CORS" default:"true"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	IncludeStack   bool            `yaml:"include_stack" envconfig:"INCLUDE_STACK" default:"false"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" default:"20"`
	Burst   int     `yaml:"burst" envconfig:"BURST" default:"10"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Format      string `yaml:"format" envconfig:"FORMAT" default:"json"`
	Output      string `yaml:"output" envconfig:"OUTPUT" default:"both"`
	FilePath    string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/app.log"`
	Development bool   `yaml:"development" envconfig:"DEVELOPMENT" default:"false"`
}

// StorageConfig contains database configuration
type StorageConfig struct {
	Path string `yaml:"path" envconfig:"PATH" default:"data/licshop.db"`
}

// SMTPConfig contains outbound mail configuration
type SMTPConfig struct {
	Host     string        `yaml:"host" envconfig:"HOST"`
	Port     int           `yaml:"port" envconfig:"PORT" default:"587"`
	Username string        `yaml:"username" envconfig:"USERNAME"`
	Password string        `yaml:"password" envconfig:"PASSWORD"`
	From     string        `yaml:"from" envconfig:"FROM"`
	Timeout  time.Duration `yaml:"timeout" envconfig:"TIMEOUT" default:"30s"`
}

// PricingConfig fixes the single product price. Amounts are euro cents.
// TotalCents is authoritative for what the customer pays; the base, VAT and
// retention lines only break it down on the invoice.
type PricingConfig struct {
	BaseCents        int64   `yaml:"base_cents" envconfig:"BASE_CENTS" default:"10000"`
	IVAPercent       float64 `yaml:"iva_percent" envconfig:"IVA_PERCENT" default:"21"`
	RetentionPercent float64 `yaml:"retention_percent" envconfig:"RETENTION_PERCENT" default:"7"`
	TotalCents       int64   `yaml:"total_cents" envconfig:"TOTAL_CENTS" default:"11400"`
	Currency         string  `yaml:"currency" envconfig:"CURRENCY" default:"EUR"`
}

// PaymentConfig describes the out-of-band payment channels shown to
// customers placing a manual order.
type PaymentConfig struct {
	BizumPhone    string `yaml:"bizum_phone" envconfig:"BIZUM_PHONE"`
	BankIBAN      string `yaml:"bank_iban" envconfig:"BANK_IBAN"`
	BankHolder    string `yaml:"bank_holder" envconfig:"BANK_HOLDER"`
	ReferenceHint string `yaml:"reference_hint" envconfig:"REFERENCE_HINT" default:"Include the order reference in the transfer concept"`
}

// CompanyConfig is the issuer identity printed on invoices and emails.
type CompanyConfig struct {
	Name         string `yaml:"name" envconfig:"NAME"`
	FiscalID     string `yaml:"fiscal_id" envconfig:"FISCAL_ID"`
	Address      string `yaml:"address" envconfig:"ADDRESS"`
	Phone        string `yaml:"phone" envconfig:"PHONE"`
	ProductName  string `yaml:"product_name" envconfig:"PRODUCT_NAME" default:"licshop"`
	ProductURL   string `yaml:"product_url" envconfig:"PRODUCT_URL"`
	SupportEmail string `yaml:"support_email" envconfig:"SUPPORT_EMAIL"`
}

// Load loads configuration from environment variables and config file.
// Environment variables take precedence over the file.
func Load() (*Config, error) {
	var cfg Config

	configFile := getConfigFilePath()
	if configFile != "" {
		fileCfg, err := loadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg = *fileCfg
	}

	if err := envconfig.Process("LICSHOP", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadFromFile loads configuration from YAML file
func loadFromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}

	if c.Pricing.TotalCents <= 0 {
		return fmt.Errorf("pricing total must be positive")
	}

	if c.Pricing.IVAPercent < 0 || c.Pricing.RetentionPercent < 0 {
		return fmt.Errorf("pricing percentages must not be negative")
	}

	if c.Storage.Path == "" {
		return fmt.Errorf("storage path must be set")
	}

	if c.Logging.Format != "json" {
		c.Logging.Format = "json"
	}

	if c.Logging.Output != "both" && c.Logging.Output != "file" && c.Logging.Output != "console" {
		c.Logging.Output = "both"
	}

	if c.Logging.FilePath == "" {
		c.Logging.FilePath = "logs/app.log"
	}

	return nil
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	locations := []string{
		"config.yaml",
		"configs/config.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return ""
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20,
			ShutdownTimeout: 30 * time.Second,
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"http://localhost:8080"},
			EnableCORS:     true,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     20,
				Burst:   10,
			},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "both",
			FilePath: "logs/app.log",
		},
		Storage: StorageConfig{
			Path: "data/licshop.db",
		},
		SMTP: SMTPConfig{
			Port:    587,
			Timeout: 30 * time.Second,
		},
		Pricing: PricingConfig{
			BaseCents:        10000,
			IVAPercent:       21,
			RetentionPercent: 7,
			TotalCents:       11400,
			Currency:         "EUR",
		},
		Company: CompanyConfig{
			ProductName: "licshop",
		},
	}
}
