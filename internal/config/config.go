package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"kasirlite/backend/internal/domain"
)

type Config struct {
	Port                  string `yaml:"port"`
	AppEnv                string `yaml:"app_env"`
	AllowedOrigin         string `yaml:"allowed_origin"`
	DBDriver              string `yaml:"db_driver"`
	DatabaseURL           string `yaml:"database_url"`
	SQLitePath            string `yaml:"sqlite_path"`
	RedisAddr             string `yaml:"redis_addr"`
	RedisPassword         string `yaml:"redis_password"`
	RedisDB               int    `yaml:"redis_db"`
	ReportCacheTTLSeconds int    `yaml:"report_cache_ttl_seconds"`
	LowStockThreshold     int    `yaml:"low_stock_threshold"`
	CartStockPolicy       string `yaml:"cart_stock_policy"`
}

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

func defaults() Config {
	return Config{
		Port:                  "8080",
		AppEnv:                "development",
		AllowedOrigin:         "http://127.0.0.1:3000",
		SQLitePath:            "pos.db",
		ReportCacheTTLSeconds: 60,
		LowStockThreshold:     5,
		CartStockPolicy:       domain.CartStockPolicyLive,
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// POS_CONFIG (if any), then environment variables.
func Load() (Config, error) {
	cfg := defaults()

	if path := strings.TrimSpace(os.Getenv("POS_CONFIG")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.AppEnv = getEnv("APP_ENV", cfg.AppEnv)
	cfg.AllowedOrigin = getEnv("ALLOWED_ORIGIN", cfg.AllowedOrigin)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.SQLitePath = getEnv("SQLITE_PATH", cfg.SQLitePath)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = getEnvInt("REDIS_DB", cfg.RedisDB)
	cfg.ReportCacheTTLSeconds = getEnvInt("REPORT_CACHE_TTL_SECONDS", cfg.ReportCacheTTLSeconds)
	cfg.LowStockThreshold = getEnvInt("LOW_STOCK_THRESHOLD", cfg.LowStockThreshold)
	cfg.CartStockPolicy = strings.ToLower(getEnv("CART_STOCK_POLICY", cfg.CartStockPolicy))
	cfg.DBDriver = strings.ToLower(getEnv("DB_DRIVER", cfg.DBDriver))

	if cfg.DBDriver == "" {
		if cfg.DatabaseURL != "" {
			cfg.DBDriver = DriverPostgres
		} else {
			cfg.DBDriver = DriverSQLite
		}
	}
	if cfg.ReportCacheTTLSeconds < 1 {
		cfg.ReportCacheTTLSeconds = 60
	}

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	switch c.DBDriver {
	case DriverMemory, DriverSQLite:
	case DriverMySQL, DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("DATABASE_URL is required for DB_DRIVER=%s", c.DBDriver))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver))
	}
	if c.CartStockPolicy != domain.CartStockPolicyLive && c.CartStockPolicy != domain.CartStockPolicyReserved {
		errs = append(errs, fmt.Errorf("unsupported CART_STOCK_POLICY %q", c.CartStockPolicy))
	}
	if c.LowStockThreshold < 0 {
		errs = append(errs, errors.New("LOW_STOCK_THRESHOLD must not be negative"))
	}
	if c.AllowedOrigin == "*" && c.IsProduction() {
		errs = append(errs, errors.New("ALLOWED_ORIGIN=* is not allowed in production"))
	}
	return errors.Join(errs...)
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getEnvInt(key string, fallback int) int {
	val, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil {
		return fallback
	}
	return val
}
