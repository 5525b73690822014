package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the adperf dashboard service.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Warehouse WarehouseConfig `yaml:"warehouse"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Cache     CacheConfig     `yaml:"cache"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	Env             string        `yaml:"env"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
}

// DatabaseConfig is the settings store. An empty Host keeps settings in
// memory, seeded from the warehouse.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// Enabled reports whether a Postgres settings store is configured.
func (d DatabaseConfig) Enabled() bool { return d.Host != "" }

// RedisConfig backs the snapshot version and table cache. An empty Addr
// keeps both in process.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// Enabled reports whether a Redis address is configured.
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// Warehouse backends.
const (
	BackendBigQuery   = "bigquery"
	BackendClickHouse = "clickhouse"
	BackendMemory     = "memory"
)

type WarehouseConfig struct {
	Backend         string        `yaml:"backend"`
	Project         string        `yaml:"project"`
	Dataset         string        `yaml:"dataset"`
	Location        string        `yaml:"location"`
	CredentialsFile string        `yaml:"credentials_file"`
	ClickHouseAddr  []string      `yaml:"clickhouse_addr"`
	ClickHouseUser  string        `yaml:"clickhouse_user"`
	ClickHousePass  string        `yaml:"clickhouse_password"`
	RetryAttempts   int           `yaml:"retry_attempts"`
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
	// SeedFile is a YAML fixture of tables for the memory backend.
	SeedFile string `yaml:"seed_file"`
}

// DashboardConfig holds the view options.
type DashboardConfig struct {
	ObjectiveContains string `yaml:"kpi_eval_objective_contains"`
	AchievementRule   string `yaml:"achievement_rule"`
	PriorYearOverlay  bool   `yaml:"prior_year_overlay"`
	MaxBannerGallery  int    `yaml:"max_banner_gallery"`
	MonthFormat       string `yaml:"month_format"`
	// RateUnit is how CVR/CTR thresholds are stored: fraction, percent or auto.
	RateUnit string `yaml:"rate_unit"`
}

type CacheConfig struct {
	TableTTL   time.Duration `yaml:"table_ttl"`
	MemEntries int           `yaml:"mem_entries"`
}

type AuthConfig struct {
	Enabled   bool     `yaml:"enabled"`
	MasterKey string   `yaml:"master_key"`
	SkipPaths []string `yaml:"skip_paths"`
}

type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
	// Export and settings writes get their own, tighter bucket.
	HeavyRPS   float64 `yaml:"heavy_rps"`
	HeavyBurst int     `yaml:"heavy_burst"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			Env:             "development",
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Port:     5432,
			User:     "adperf",
			DBName:   "adperf",
			SSLMode:  "disable",
			MaxConns: 10,
			MinConns: 2,
		},
		Redis: RedisConfig{Prefix: "adperf"},
		Warehouse: WarehouseConfig{
			Backend:       BackendBigQuery,
			Location:      "asia-northeast1",
			RetryAttempts: 3,
			RetryBackoff:  500 * time.Millisecond,
		},
		Dashboard: DashboardConfig{
			ObjectiveContains: "コンバージョン",
			AchievementRule:   "cpa_grade_or_target_cpa",
			PriorYearOverlay:  true,
			MaxBannerGallery:  100,
			MonthFormat:       "YYYY/MM",
			RateUnit:          "auto",
		},
		Cache: CacheConfig{
			TableTTL:   6 * time.Hour,
			MemEntries: 32,
		},
		Auth: AuthConfig{
			Enabled:   true,
			SkipPaths: []string{"/health", "/metrics"},
		},
		RateLimit: RateLimitConfig{
			Enabled:    true,
			RPS:        50,
			Burst:      20,
			HeavyRPS:   2,
			HeavyBurst: 5,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "adperf",
		},
	}
}

// Load reads the optional ADPERF_CONFIG_FILE, then applies environment
// overrides on top of it.
func Load() (*Config, error) {
	cfg := Defaults()
	if path := getEnv("ADPERF_CONFIG_FILE", ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Addr = getEnv("ADPERF_HTTP_ADDR", c.Server.Addr)
	c.Server.Env = getEnv("ADPERF_ENV", c.Server.Env)
	c.Server.ShutdownTimeout = getDurationEnv("ADPERF_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.RequestTimeout = getDurationEnv("ADPERF_REQUEST_TIMEOUT", c.Server.RequestTimeout)

	c.Database.Host = getEnv("ADPERF_DB_HOST", c.Database.Host)
	c.Database.Port = getIntEnv("ADPERF_DB_PORT", c.Database.Port)
	c.Database.User = getEnv("ADPERF_DB_USER", c.Database.User)
	c.Database.Password = getEnv("ADPERF_DB_PASSWORD", c.Database.Password)
	c.Database.DBName = getEnv("ADPERF_DB_NAME", c.Database.DBName)
	c.Database.SSLMode = getEnv("ADPERF_DB_SSLMODE", c.Database.SSLMode)
	c.Database.MaxConns = getIntEnv("ADPERF_DB_MAX_CONNS", c.Database.MaxConns)
	c.Database.MinConns = getIntEnv("ADPERF_DB_MIN_CONNS", c.Database.MinConns)

	c.Redis.Addr = getEnv("ADPERF_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("ADPERF_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getIntEnv("ADPERF_REDIS_DB", c.Redis.DB)
	c.Redis.Prefix = getEnv("ADPERF_REDIS_PREFIX", c.Redis.Prefix)

	c.Warehouse.Backend = getEnv("ADPERF_WAREHOUSE_BACKEND", c.Warehouse.Backend)
	c.Warehouse.Project = getEnv("ADPERF_WAREHOUSE_PROJECT", c.Warehouse.Project)
	c.Warehouse.Dataset = getEnv("ADPERF_WAREHOUSE_DATASET", c.Warehouse.Dataset)
	c.Warehouse.Location = getEnv("ADPERF_WAREHOUSE_LOCATION", c.Warehouse.Location)
	c.Warehouse.CredentialsFile = getEnv("ADPERF_WAREHOUSE_CREDENTIALS_FILE", c.Warehouse.CredentialsFile)
	c.Warehouse.ClickHouseAddr = getSliceEnv("ADPERF_CLICKHOUSE_ADDR", c.Warehouse.ClickHouseAddr)
	c.Warehouse.ClickHouseUser = getEnv("ADPERF_CLICKHOUSE_USER", c.Warehouse.ClickHouseUser)
	c.Warehouse.ClickHousePass = getEnv("ADPERF_CLICKHOUSE_PASSWORD", c.Warehouse.ClickHousePass)
	c.Warehouse.RetryAttempts = getIntEnv("ADPERF_WAREHOUSE_RETRY_ATTEMPTS", c.Warehouse.RetryAttempts)
	c.Warehouse.RetryBackoff = getDurationEnv("ADPERF_WAREHOUSE_RETRY_BACKOFF", c.Warehouse.RetryBackoff)
	c.Warehouse.SeedFile = getEnv("ADPERF_WAREHOUSE_SEED_FILE", c.Warehouse.SeedFile)

	c.Dashboard.ObjectiveContains = getEnv("ADPERF_KPI_EVAL_OBJECTIVE_CONTAINS", c.Dashboard.ObjectiveContains)
	c.Dashboard.AchievementRule = getEnv("ADPERF_ACHIEVEMENT_RULE", c.Dashboard.AchievementRule)
	c.Dashboard.PriorYearOverlay = getBoolEnv("ADPERF_PRIOR_YEAR_OVERLAY", c.Dashboard.PriorYearOverlay)
	c.Dashboard.MaxBannerGallery = getIntEnv("ADPERF_MAX_BANNER_GALLERY", c.Dashboard.MaxBannerGallery)
	c.Dashboard.MonthFormat = getEnv("ADPERF_MONTH_FORMAT", c.Dashboard.MonthFormat)
	c.Dashboard.RateUnit = getEnv("ADPERF_RATE_UNIT", c.Dashboard.RateUnit)

	c.Cache.TableTTL = getDurationEnv("ADPERF_CACHE_TABLE_TTL", c.Cache.TableTTL)
	c.Cache.MemEntries = getIntEnv("ADPERF_CACHE_MEM_ENTRIES", c.Cache.MemEntries)

	c.Auth.Enabled = getBoolEnv("ADPERF_AUTH_ENABLED", c.Auth.Enabled)
	c.Auth.MasterKey = getEnv("ADPERF_API_KEY_MASTER", c.Auth.MasterKey)
	c.Auth.SkipPaths = getSliceEnv("ADPERF_AUTH_SKIP_PATHS", c.Auth.SkipPaths)

	c.RateLimit.Enabled = getBoolEnv("ADPERF_RATE_LIMIT_ENABLED", c.RateLimit.Enabled)
	c.RateLimit.RPS = getFloatEnv("ADPERF_RATE_LIMIT_RPS", c.RateLimit.RPS)
	c.RateLimit.Burst = getIntEnv("ADPERF_RATE_LIMIT_BURST", c.RateLimit.Burst)
	c.RateLimit.HeavyRPS = getFloatEnv("ADPERF_RATE_LIMIT_HEAVY_RPS", c.RateLimit.HeavyRPS)
	c.RateLimit.HeavyBurst = getIntEnv("ADPERF_RATE_LIMIT_HEAVY_BURST", c.RateLimit.HeavyBurst)

	c.Log.Level = getEnv("ADPERF_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("ADPERF_LOG_FORMAT", c.Log.Format)

	c.Metrics.Enabled = getBoolEnv("ADPERF_METRICS_ENABLED", c.Metrics.Enabled)
	c.Metrics.Path = getEnv("ADPERF_METRICS_PATH", c.Metrics.Path)
	c.Metrics.Namespace = getEnv("ADPERF_METRICS_NAMESPACE", c.Metrics.Namespace)
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	var errs []error
	if c.Auth.Enabled && c.Auth.MasterKey == "" {
		errs = append(errs, fmt.Errorf("ADPERF_API_KEY_MASTER is required when auth is enabled"))
	}
	switch c.Warehouse.Backend {
	case BackendBigQuery:
		if c.Warehouse.Project == "" || c.Warehouse.Dataset == "" {
			errs = append(errs, fmt.Errorf("warehouse project and dataset are required for bigquery"))
		}
	case BackendClickHouse:
		if len(c.Warehouse.ClickHouseAddr) == 0 {
			errs = append(errs, fmt.Errorf("ADPERF_CLICKHOUSE_ADDR is required for clickhouse"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown warehouse backend %q", c.Warehouse.Backend))
	}
	switch c.Dashboard.AchievementRule {
	case "cpa_grade_or_target_cpa", "cpa_grade_only":
	default:
		errs = append(errs, fmt.Errorf("unknown achievement rule %q", c.Dashboard.AchievementRule))
	}
	switch c.Dashboard.RateUnit {
	case "auto", "fraction", "percent":
	default:
		errs = append(errs, fmt.Errorf("unknown rate unit %q", c.Dashboard.RateUnit))
	}
	if c.Dashboard.MaxBannerGallery <= 0 {
		errs = append(errs, fmt.Errorf("max_banner_gallery must be positive"))
	}
	return errors.Join(errs...)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Helper functions for reading environment variables

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getFloatEnv(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getSliceEnv(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				result = append(result, p)
			}
		}
		return result
	}
	return def
}
