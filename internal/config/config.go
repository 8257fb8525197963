// Package config provides configuration management for the analytics engine.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Defaults applied by Normalize when a field is left unset.
const (
	defaultCacheTTL             = 5 * time.Second
	defaultGreeksPollInterval   = 30 * time.Second
	defaultReconnectDelay       = 5 * time.Second
	defaultCascadeThreshold     = 10
	defaultOptionTTL            = 10 * time.Second
	defaultWallZoneThreshold    = 0.7
	defaultSmartRangePct        = 0.30
	defaultSmartRangeGEXPct     = 0.02
	defaultAnomalyZThreshold    = 2.0
	defaultOrderBookTopN        = 10
	defaultOrderBookHistorySecs = 60
	defaultLiquidationRetention = 24 * time.Hour
	defaultEscapeTickInterval   = 1 * time.Second
	defaultHTTPPort             = 8089
)

// Config is the complete engine configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Market      MarketConfig      `yaml:"market"`
	Ingestion   IngestionConfig   `yaml:"ingestion"`
	Cache       CacheConfig       `yaml:"cache"`
	OptionStore OptionStoreConfig `yaml:"option_store"`
	GEX         GEXConfig         `yaml:"gex"`
	Volatility  VolatilityConfig  `yaml:"volatility"`
	OrderBook   OrderBookConfig   `yaml:"order_book"`
	Liquidation LiquidationConfig `yaml:"liquidation"`
	Iceberg     IcebergConfig     `yaml:"iceberg"`
	Escape      EscapeConfig      `yaml:"escape"`
	API         APIConfig         `yaml:"api"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // live | replay
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// MarketConfig names the underlying this engine instance tracks.
type MarketConfig struct {
	Underlying string `yaml:"underlying"` // e.g. "BTC"
}

// IngestionConfig configures the (external) producers the engine consumes
// from. The engine never dials these itself; they describe the reconnect
// policy an ingestion adapter should honor.
type IngestionConfig struct {
	WebSocketURL          string        `yaml:"websocket_url"`
	RESTURL               string        `yaml:"rest_url"`
	GreeksPollInterval    time.Duration `yaml:"greeks_poll_interval"`
	ReconnectDelay        time.Duration `yaml:"reconnect_delay"`
}

// CacheConfig configures the metric cache TTL.
type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// OptionStoreConfig configures option staleness.
type OptionStoreConfig struct {
	StaleTTL time.Duration `yaml:"stale_ttl"`
}

// GEXConfig configures wall-zone and smart-range defaults.
type GEXConfig struct {
	WallZoneThreshold float64 `yaml:"wall_zone_threshold"`
	SmartRangePct     float64 `yaml:"smart_range_pct"`
	SmartRangeGEXPct  float64 `yaml:"smart_range_gex_pct"`
}

// VolatilityConfig configures the anomaly detector's z-score threshold.
type VolatilityConfig struct {
	AnomalyZThreshold float64 `yaml:"anomaly_z_threshold"`
}

// OrderBookConfig configures the order-book analyzer.
type OrderBookConfig struct {
	TopN               int     `yaml:"top_n"`
	HistoryWindowSecs  int     `yaml:"history_window_secs"`
	WallSizeMultiplier float64 `yaml:"wall_size_multiplier"`
}

// LiquidationConfig configures the liquidation tracker.
type LiquidationConfig struct {
	Retention        time.Duration `yaml:"retention"`
	CascadeThreshold int           `yaml:"cascade_threshold"`
}

// IcebergConfig configures the iceberg detector's signal thresholds.
type IcebergConfig struct {
	RefillingMinOccurrences   int     `yaml:"refilling_min_occurrences"`
	RefillingMaxSize          float64 `yaml:"refilling_max_size"`
	VolumeAnomalyRatio        float64 `yaml:"volume_anomaly_ratio"`
	RejectionMinCount         int     `yaml:"rejection_min_count"`
	RegenMinDropPct           float64 `yaml:"regen_min_drop_pct"`
	RegenMinRecoveryPct       float64 `yaml:"regen_min_recovery_pct"`
	ConsistentSizeMinOccurs   int     `yaml:"consistent_size_min_occurrences"`
}

// EscapeConfig configures the escape-type detector's tick interval.
type EscapeConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"`
}

// APIConfig configures the thin HTTP gateway.
type APIConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is an operator-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file %q: %w", configPath, err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", configPath, err)
	}

	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Normalize fills in defaults for unset fields.
func (c *Config) Normalize() {
	if strings.TrimSpace(c.Environment.Mode) == "" {
		c.Environment.Mode = "live"
	}
	if strings.TrimSpace(c.Environment.LogLevel) == "" {
		c.Environment.LogLevel = "info"
	}
	if strings.TrimSpace(c.Market.Underlying) == "" {
		c.Market.Underlying = "BTC"
	}
	if c.Ingestion.GreeksPollInterval <= 0 {
		c.Ingestion.GreeksPollInterval = defaultGreeksPollInterval
	}
	if c.Ingestion.ReconnectDelay <= 0 {
		c.Ingestion.ReconnectDelay = defaultReconnectDelay
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = defaultCacheTTL
	}
	if c.OptionStore.StaleTTL <= 0 {
		c.OptionStore.StaleTTL = defaultOptionTTL
	}
	if c.GEX.WallZoneThreshold <= 0 {
		c.GEX.WallZoneThreshold = defaultWallZoneThreshold
	}
	if c.GEX.SmartRangePct <= 0 {
		c.GEX.SmartRangePct = defaultSmartRangePct
	}
	if c.GEX.SmartRangeGEXPct <= 0 {
		c.GEX.SmartRangeGEXPct = defaultSmartRangeGEXPct
	}
	if c.Volatility.AnomalyZThreshold <= 0 {
		c.Volatility.AnomalyZThreshold = defaultAnomalyZThreshold
	}
	if c.OrderBook.TopN <= 0 {
		c.OrderBook.TopN = defaultOrderBookTopN
	}
	if c.OrderBook.HistoryWindowSecs <= 0 {
		c.OrderBook.HistoryWindowSecs = defaultOrderBookHistorySecs
	}
	if c.OrderBook.WallSizeMultiplier <= 0 {
		c.OrderBook.WallSizeMultiplier = 10
	}
	if c.Liquidation.Retention <= 0 {
		c.Liquidation.Retention = defaultLiquidationRetention
	}
	if c.Liquidation.CascadeThreshold <= 0 {
		c.Liquidation.CascadeThreshold = defaultCascadeThreshold
	}
	if c.Iceberg.RefillingMinOccurrences <= 0 {
		c.Iceberg.RefillingMinOccurrences = 5
	}
	if c.Iceberg.RefillingMaxSize <= 0 {
		c.Iceberg.RefillingMaxSize = 5
	}
	if c.Iceberg.VolumeAnomalyRatio <= 0 {
		c.Iceberg.VolumeAnomalyRatio = 2.0
	}
	if c.Iceberg.RejectionMinCount <= 0 {
		c.Iceberg.RejectionMinCount = 3
	}
	if c.Iceberg.RegenMinDropPct <= 0 {
		c.Iceberg.RegenMinDropPct = 0.20
	}
	if c.Iceberg.RegenMinRecoveryPct <= 0 {
		c.Iceberg.RegenMinRecoveryPct = 0.15
	}
	if c.Iceberg.ConsistentSizeMinOccurs <= 0 {
		c.Iceberg.ConsistentSizeMinOccurs = 5
	}
	if c.Escape.TickInterval <= 0 {
		c.Escape.TickInterval = defaultEscapeTickInterval
	}
	if c.API.Port == 0 {
		c.API.Port = defaultHTTPPort
	}
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	switch c.Environment.Mode {
	case "live", "replay":
	default:
		return fmt.Errorf("environment.mode must be 'live' or 'replay'")
	}

	switch strings.ToLower(c.Environment.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("environment.log_level must be one of: debug, info, warn, error")
	}

	if strings.TrimSpace(c.Market.Underlying) == "" {
		return fmt.Errorf("market.underlying is required")
	}

	if c.GEX.WallZoneThreshold <= 0 || c.GEX.WallZoneThreshold > 1 {
		return fmt.Errorf("gex.wall_zone_threshold must be in (0,1]")
	}

	if c.Volatility.AnomalyZThreshold <= 0 {
		return fmt.Errorf("volatility.anomaly_z_threshold must be > 0")
	}

	if c.Liquidation.CascadeThreshold <= 0 {
		return fmt.Errorf("liquidation.cascade_threshold must be > 0")
	}

	if c.Liquidation.Retention < 24*time.Hour {
		return fmt.Errorf("liquidation.retention must be >= 24h")
	}

	if c.API.Enabled && (c.API.Port <= 0 || c.API.Port > 65535) {
		return fmt.Errorf("api.port must be between 1 and 65535")
	}

	return nil
}

// IsLive reports whether the engine is configured against a live feed.
func (c *Config) IsLive() bool {
	return c.Environment.Mode == "live"
}
