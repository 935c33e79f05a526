package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                  string   `mapstructure:"PORT"`
	Env                   string   `mapstructure:"ENV"`
	DatabaseURL           string   `mapstructure:"DATABASE_URL"`
	DBMaxConns            int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns            int32    `mapstructure:"DB_MIN_CONNS"`
	JWTSecret             string   `mapstructure:"JWT_SECRET"`
	AuthIssuer            string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience          string   `mapstructure:"AUTH_AUDIENCE"`
	OverrideApproverRoles []string `mapstructure:"OVERRIDE_APPROVER_ROLES"`
	EvaluateTimeoutMS     int      `mapstructure:"EVALUATE_TIMEOUT_MS"`
	WebhookWorkers        int      `mapstructure:"WEBHOOK_WORKERS"`
	WebhookTimeoutSec     int      `mapstructure:"WEBHOOK_TIMEOUT_SEC"`
	MonitorInterval       string   `mapstructure:"MONITOR_INTERVAL"`
	CompanyHolderID       string   `mapstructure:"COMPANY_HOLDER_ID"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("OVERRIDE_APPROVER_ROLES", "compliance-officer,qp")
	v.SetDefault("EVALUATE_TIMEOUT_MS", 3000)
	v.SetDefault("WEBHOOK_WORKERS", 4)
	v.SetDefault("WEBHOOK_TIMEOUT_SEC", 10)
	v.SetDefault("MONITOR_INTERVAL", "1h")
	v.SetDefault("COMPANY_HOLDER_ID", "company")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("JWT_SECRET")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_AUDIENCE")
	v.BindEnv("OVERRIDE_APPROVER_ROLES")
	v.BindEnv("EVALUATE_TIMEOUT_MS")
	v.BindEnv("WEBHOOK_WORKERS")
	v.BindEnv("WEBHOOK_TIMEOUT_SEC")
	v.BindEnv("MONITOR_INTERVAL")
	v.BindEnv("COMPANY_HOLDER_ID")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.OverrideApproverRoles == nil {
		roles := v.GetString("OVERRIDE_APPROVER_ROLES")
		if roles != "" {
			cfg.OverrideApproverRoles = strings.Split(roles, ",")
		}
	}
	for i, r := range cfg.OverrideApproverRoles {
		cfg.OverrideApproverRoles[i] = strings.TrimSpace(r)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: requests without a bearer token are granted admin access.")
		log.Println("WARNING: set ENV=production and configure JWT_SECRET for production.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// EvaluateTimeout returns the evaluator deadline as a duration.
func (c *Config) EvaluateTimeout() time.Duration {
	return time.Duration(c.EvaluateTimeoutMS) * time.Millisecond
}

// MonitorEvery parses MONITOR_INTERVAL, falling back to one hour.
func (c *Config) MonitorEvery() time.Duration {
	d, err := time.ParseDuration(c.MonitorInterval)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

// Validate checks that the configuration is safe to run. Outside development
// a JWT secret or an external issuer must be configured so that approver
// identity on the override workflow is authenticated.
func (c *Config) Validate() error {
	if !c.IsDev() && c.JWTSecret == "" && c.AuthIssuer == "" {
		return fmt.Errorf(
			"JWT_SECRET or AUTH_ISSUER must be set when ENV=%q; refusing to start without authentication", c.Env)
	}
	if len(c.OverrideApproverRoles) == 0 {
		return fmt.Errorf("OVERRIDE_APPROVER_ROLES must name at least one role")
	}
	if c.EvaluateTimeoutMS <= 0 {
		return fmt.Errorf("EVALUATE_TIMEOUT_MS must be positive, got %d", c.EvaluateTimeoutMS)
	}
	return nil
}
