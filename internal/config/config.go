package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Database   DatabaseConfig
	Documents  DocumentsConfig
	Aggregator AggregatorConfig
	Sync       SyncConfig
	GapCache   GapCacheConfig
	Log        LogConfig
}

// DatabaseConfig holds sqlite settings. An empty path disables the
// persisted store and the pipeline falls back to in-memory output.
type DatabaseConfig struct {
	Path string
}

// DocumentsConfig locates the source statement documents.
type DocumentsConfig struct {
	Dir string
}

// AggregatorConfig holds the remote aggregation API settings. An empty
// access URL disables gap filling.
type AggregatorConfig struct {
	AccessURL  string  `mapstructure:"access_url"`
	RatePerSec float64 `mapstructure:"rate_per_sec"`
}

// SyncConfig holds the reconciliation tolerances.
type SyncConfig struct {
	DateToleranceDays  int     `mapstructure:"date_tolerance_days"`
	AmountTolerancePct float64 `mapstructure:"amount_tolerance_pct"`
	MerchantThreshold  float64 `mapstructure:"merchant_threshold"`
}

// GapCacheConfig holds the fallback file location used when no
// database is configured.
type GapCacheConfig struct {
	Path string
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string
}

// Load reads configuration from file and env. Env var overrides use prefix BANKSYNC_.
func Load() (Config, error) {
	v := viper.New()

	dataDir := filepath.Join(os.Getenv("HOME"), ".local", "share", "banksync")

	// default values
	v.SetDefault("database.path", filepath.Join(dataDir, "banksync.db"))
	v.SetDefault("documents.dir", filepath.Join(os.Getenv("HOME"), "statements"))
	v.SetDefault("aggregator.access_url", "")
	v.SetDefault("aggregator.rate_per_sec", 2.0)
	v.SetDefault("sync.date_tolerance_days", 3)
	v.SetDefault("sync.amount_tolerance_pct", 1.0)
	v.SetDefault("sync.merchant_threshold", 0.6)
	v.SetDefault("gapcache.path", filepath.Join(dataDir, "gapcache.json"))
	v.SetDefault("log.level", "info")

	v.SetConfigType("toml")

	cfgPath := os.Getenv("BANKSYNC_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "banksync"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("BANKSYNC")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// read config file if present
	_ = v.ReadInConfig()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return c, nil
}
