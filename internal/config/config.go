package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env                  string        `mapstructure:"ENV"`
	LogLevel             string        `mapstructure:"LOG_LEVEL"`
	DatabaseURL          string        `mapstructure:"DATABASE_URL"`
	DBMaxConns           int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns           int32         `mapstructure:"DB_MIN_CONNS"`
	DBSchema             string        `mapstructure:"DB_SCHEMA"`
	OrgUnit              string        `mapstructure:"DEST_ORG_UNIT"`
	CreatedBy            string        `mapstructure:"DEST_CREATED_BY"`
	LockTimeout          time.Duration `mapstructure:"DEST_LOCK_TIMEOUT"`
	StatementTimeout     time.Duration `mapstructure:"DEST_STATEMENT_TIMEOUT"`
	AXRegBaseURL         string        `mapstructure:"AXREG_BASE_URL"`
	AXRegAPIKey          string        `mapstructure:"AXREG_API_KEY"`
	AXRegAPISecret       string        `mapstructure:"AXREG_API_SECRET"`
	AXRegAuthMode        string        `mapstructure:"AXREG_AUTH_MODE"`
	AXRegTimeout         time.Duration `mapstructure:"AXREG_TIMEOUT"`
	AXRegTimezone        string        `mapstructure:"AXREG_TIMEZONE"`
	LookbackHours        int           `mapstructure:"LOOKBACK_HOURS"`
	PageSize             int           `mapstructure:"PAGE_SIZE"`
	TransferDocumentType string        `mapstructure:"TRANSFER_DOCUMENT_TYPE"`
	MaxConcurrency       int           `mapstructure:"MAX_CONCURRENCY"`
	MaxDocumentBytes     int64         `mapstructure:"MAX_DOCUMENT_BYTES"`
	ValidatePDF          bool          `mapstructure:"VALIDATE_PDF"`
	ErrorLogDir          string        `mapstructure:"ERROR_LOG_DIR"`
	ErrorLogFallbackDir  string        `mapstructure:"ERROR_LOG_FALLBACK_DIR"`
	MetricsFile          string        `mapstructure:"METRICS_FILE"`
}

var keys = []string{
	"ENV", "LOG_LEVEL",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_SCHEMA",
	"DEST_ORG_UNIT", "DEST_CREATED_BY", "DEST_LOCK_TIMEOUT", "DEST_STATEMENT_TIMEOUT",
	"AXREG_BASE_URL", "AXREG_API_KEY", "AXREG_API_SECRET", "AXREG_AUTH_MODE",
	"AXREG_TIMEOUT", "AXREG_TIMEZONE",
	"LOOKBACK_HOURS", "PAGE_SIZE", "TRANSFER_DOCUMENT_TYPE", "MAX_CONCURRENCY",
	"MAX_DOCUMENT_BYTES", "VALIDATE_PDF",
	"ERROR_LOG_DIR", "ERROR_LOG_FALLBACK_DIR", "METRICS_FILE",
}

// Load reads configuration from the process environment. Env files are
// loaded into the environment by the caller before Load runs.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("ENV", "production")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("DB_SCHEMA", "public")
	v.SetDefault("DEST_ORG_UNIT", "1")
	v.SetDefault("DEST_CREATED_BY", "AXREG")
	v.SetDefault("DEST_LOCK_TIMEOUT", "15s")
	v.SetDefault("DEST_STATEMENT_TIMEOUT", "60s")
	v.SetDefault("AXREG_AUTH_MODE", "header")
	v.SetDefault("AXREG_TIMEOUT", "30s")
	v.SetDefault("AXREG_TIMEZONE", "America/Sao_Paulo")
	v.SetDefault("LOOKBACK_HOURS", 24)
	v.SetDefault("PAGE_SIZE", 100)
	v.SetDefault("TRANSFER_DOCUMENT_TYPE", "TRANS")
	v.SetDefault("MAX_CONCURRENCY", 8)
	v.SetDefault("MAX_DOCUMENT_BYTES", 50*1024*1024)
	v.SetDefault("VALIDATE_PDF", true)
	v.SetDefault("ERROR_LOG_DIR", "./logs")
	v.SetDefault("ERROR_LOG_FALLBACK_DIR", "./logs-fallback")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.AXRegBaseURL = strings.TrimRight(strings.TrimSpace(cfg.AXRegBaseURL), "/")
	cfg.AXRegAuthMode = strings.ToLower(strings.TrimSpace(cfg.AXRegAuthMode))
	cfg.TransferDocumentType = strings.TrimSpace(cfg.TransferDocumentType)

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Lookback returns the eligibility window as a duration.
func (c *Config) Lookback() time.Duration {
	return time.Duration(c.LookbackHours) * time.Hour
}

// SourceLocation returns the time zone used for AXReg timestamps that carry
// no offset.
func (c *Config) SourceLocation() (*time.Location, error) {
	if c.AXRegTimezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.AXRegTimezone)
	if err != nil {
		return nil, fmt.Errorf("AXREG_TIMEZONE %q: %w", c.AXRegTimezone, err)
	}
	return loc, nil
}

// Validate checks the settings needed by the sync run. Commands that only
// touch the database (migrate, check) skip it.
func (c *Config) Validate() error {
	if c.AXRegBaseURL == "" {
		return fmt.Errorf("AXREG_BASE_URL is required")
	}
	u, err := url.Parse(c.AXRegBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("AXREG_BASE_URL must be an absolute http(s) URL, got %q", c.AXRegBaseURL)
	}
	if c.AXRegAPIKey == "" {
		return fmt.Errorf("AXREG_API_KEY is required")
	}
	switch c.AXRegAuthMode {
	case "header", "jwt":
	default:
		return fmt.Errorf("AXREG_AUTH_MODE must be \"header\" or \"jwt\", got %q", c.AXRegAuthMode)
	}
	if c.AXRegAuthMode == "jwt" && c.AXRegAPISecret == "" {
		return fmt.Errorf("AXREG_API_SECRET is required when AXREG_AUTH_MODE is \"jwt\"")
	}
	if c.LookbackHours <= 0 {
		return fmt.Errorf("LOOKBACK_HOURS must be positive, got %d", c.LookbackHours)
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("PAGE_SIZE must be positive, got %d", c.PageSize)
	}
	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("MAX_CONCURRENCY must be positive, got %d", c.MaxConcurrency)
	}
	if c.TransferDocumentType == "" {
		return fmt.Errorf("TRANSFER_DOCUMENT_TYPE must not be empty")
	}
	if strings.TrimSpace(c.OrgUnit) == "" {
		return fmt.Errorf("DEST_ORG_UNIT must not be empty")
	}
	if c.ErrorLogDir == "" || c.ErrorLogFallbackDir == "" {
		return fmt.Errorf("ERROR_LOG_DIR and ERROR_LOG_FALLBACK_DIR are required")
	}
	if _, err := c.SourceLocation(); err != nil {
		return err
	}
	return nil
}
