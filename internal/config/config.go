package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-viper/mapstructure/v2"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"rate-annualizer/internal/logging"
	"rate-annualizer/internal/rates"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	BCB        BCBConfig        `mapstructure:"bcb"`
	Annualizer AnnualizerConfig `mapstructure:"annualizer"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Refresh    RefreshConfig    `mapstructure:"refresh"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Export     ExportConfig     `mapstructure:"export"`
	Server     ServerConfig     `mapstructure:"server"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// BCBConfig covers access to the central bank SGS API.
type BCBConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	Timezone       string        `mapstructure:"timezone"`
	LatestWindow   int           `mapstructure:"latest_window"`
}

// AnnualizerConfig selects the reduction defaults.
type AnnualizerConfig struct {
	DefaultStrategy  string  `mapstructure:"default_strategy"`
	CurrentCDIPolicy string  `mapstructure:"current_cdi_policy"`
	SelicSpreadPP    float64 `mapstructure:"selic_spread_pp"`
	DefaultLookback  int     `mapstructure:"default_lookback_months"`
}

// DatabaseConfig selects the snapshot store. A postgres:// DSN uses pgx, a
// sqlite path uses the embedded driver.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// SchedulerConfig governs refresh cadence. Cron takes precedence over Interval.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	Cron            string        `mapstructure:"cron"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// WatchConfig is one series/strategy/look-back triple refreshed on schedule.
type WatchConfig struct {
	Series         string `mapstructure:"series"`
	Strategy       string `mapstructure:"strategy"`
	LookbackMonths int    `mapstructure:"lookback_months"`
}

// RefreshConfig lists the watches the refresher computes on each tick.
type RefreshConfig struct {
	Watches []WatchConfig `mapstructure:"watches"`
}

// AlertingConfig defines alert thresholds and routing.
type AlertingConfig struct {
	Enabled     bool           `mapstructure:"enabled"`
	ThresholdPP float64        `mapstructure:"threshold_pp"`
	Channels    []string       `mapstructure:"channels"`
	Retention   time.Duration  `mapstructure:"retention"`
	Telegram    TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes Telegram alert parameters.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// ServerConfig configures the HTTP API used by the simulation page.
type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Compress       bool          `mapstructure:"compress"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RATESIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "ratesim")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("bcb.base_url", "https://api.bcb.gov.br")
	v.SetDefault("bcb.request_timeout", "15s")
	v.SetDefault("bcb.user_agent", "ratesim/1.0")
	v.SetDefault("bcb.timezone", "America/Sao_Paulo")
	v.SetDefault("bcb.latest_window", rates.LatestWindow)

	v.SetDefault("annualizer.default_strategy", "compounding")
	v.SetDefault("annualizer.current_cdi_policy", "selic-spread")
	v.SetDefault("annualizer.selic_spread_pp", 0.1)
	v.SetDefault("annualizer.default_lookback_months", 12)

	v.SetDefault("database.driver", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("scheduler.interval", "6h")
	v.SetDefault("scheduler.cron", "")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x72617465))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("refresh.watches", []map[string]any{
		{"series": "cdi", "strategy": "compounding", "lookback_months": 12},
		{"series": "ipca", "strategy": "compounding", "lookback_months": 12},
		{"series": "selic-target", "strategy": "latest", "lookback_months": 0},
	})

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.threshold_pp", 0.25)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.retention", "2160h")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 5000)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("server.compress", true)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Cron != "" {
		if _, err := cron.ParseStandard(c.Scheduler.Cron); err != nil {
			return fmt.Errorf("scheduler.cron invalid: %w", err)
		}
	} else if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("bcb.timezone invalid: %w", err)
	}
	if c.BCB.LatestWindow <= 0 {
		return fmt.Errorf("bcb.latest_window must be greater than zero")
	}
	if _, err := rates.ParseStrategy(c.Annualizer.DefaultStrategy); err != nil {
		return fmt.Errorf("annualizer.default_strategy: %w", err)
	}
	switch c.Annualizer.CurrentCDIPolicy {
	case "selic-spread", "cdi-compounded":
	default:
		return fmt.Errorf("annualizer.current_cdi_policy must be selic-spread or cdi-compounded")
	}
	if c.Annualizer.SelicSpreadPP < 0 {
		return fmt.Errorf("annualizer.selic_spread_pp cannot be negative")
	}
	if c.Annualizer.DefaultLookback <= 0 {
		return fmt.Errorf("annualizer.default_lookback_months must be greater than zero")
	}
	for i, w := range c.Refresh.Watches {
		if err := w.Validate(); err != nil {
			return fmt.Errorf("refresh.watches[%d]: %w", i, err)
		}
	}
	switch c.Database.Driver {
	case "", "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite")
	}
	if c.Alerting.Retention < 0 {
		return fmt.Errorf("alerting.retention cannot be negative")
	}
	if c.Alerting.ThresholdPP < 0 {
		return fmt.Errorf("alerting.threshold_pp cannot be negative")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// Validate checks a single watch entry.
func (w WatchConfig) Validate() error {
	if _, err := rates.Lookup(w.Series); err != nil {
		return err
	}
	strategy, err := rates.ParseStrategy(w.Strategy)
	if err != nil {
		return err
	}
	if strategy.UsesLookback() && w.LookbackMonths <= 0 {
		return fmt.Errorf("lookback_months must be greater than zero for %s", strategy.Name())
	}
	return nil
}

// Location resolves bcb.timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.BCB.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.BCB.Timezone)
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

// StoreDriver infers the snapshot store driver when none is configured.
func (c *Config) StoreDriver() string {
	if c.Database.Driver != "" {
		return c.Database.Driver
	}
	dsn := strings.ToLower(c.Database.DSN)
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}
