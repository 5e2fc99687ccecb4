package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"bookview/internal/price"
)

const (
	// DefaultPath is the configuration file used when no path is given.
	DefaultPath = "config/config.yml"

	FeedSourceUI      = "uifeed"
	FeedSourceBinance = "binance"
)

var envConfigPaths = map[string]string{
	environmentProduction: "config/config.production.yml",
	environmentStaging:    "config/config.staging.yml",
}

type Config struct {
	Bookview  BookviewConfig  `yaml:"bookview"`
	Book      BookConfig      `yaml:"book"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Processor ProcessorConfig `yaml:"processor"`
	Feed      FeedConfig      `yaml:"feed"`
	API       APIConfig       `yaml:"api"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type BookviewConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type BookConfig struct {
	LevelCap      int            `yaml:"level_cap"`
	DefaultMarket string         `yaml:"default_market"`
	Markets       []MarketConfig `yaml:"markets"`
}

// MarketConfig lists the grouping sizes offered for one market. The first
// option is the default grouping.
type MarketConfig struct {
	Symbol    string   `yaml:"symbol"`
	Groupings []string `yaml:"groupings"`
}

type ChannelsConfig struct {
	FeedBuffer int `yaml:"feed_buffer"`
}

type ProcessorConfig struct {
	ReportInterval time.Duration `yaml:"report_interval"`
}

type FeedConfig struct {
	Source         string        `yaml:"source"`
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	Keepalive      time.Duration `yaml:"keepalive"`
	ReconnectRate  float64       `yaml:"reconnect_rate"`
	ReconnectBurst int           `yaml:"reconnect_burst"`
	Binance        BinanceConfig `yaml:"binance"`
}

type BinanceConfig struct {
	Interval time.Duration `yaml:"interval"`
	Limit    int           `yaml:"limit"`
}

type APIConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Address    string `yaml:"address"`
	LogHistory int    `yaml:"log_history"`
}

type MetricsConfig struct {
	Prometheus bool             `yaml:"prometheus"`
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// Market returns the catalogue entry for symbol.
func (c *Config) Market(symbol string) (MarketConfig, bool) {
	for _, m := range c.Book.Markets {
		if m.Symbol == symbol {
			return m, true
		}
	}
	return MarketConfig{}, false
}

// NextMarket returns the market that follows current in the catalogue,
// wrapping around. With two markets this flips between them.
func (c *Config) NextMarket(current string) string {
	n := len(c.Book.Markets)
	if n == 0 {
		return current
	}
	for i, m := range c.Book.Markets {
		if m.Symbol == current {
			return c.Book.Markets[(i+1)%n].Symbol
		}
	}
	return c.Book.Markets[0].Symbol
}

// DefaultGrouping returns the first configured grouping for the market.
func (m MarketConfig) DefaultGrouping() string {
	if len(m.Groupings) == 0 {
		return ""
	}
	return m.Groupings[0]
}

// Allows reports whether tick is one of the configured groupings. Ticks are
// compared numerically so "1.0" matches "1".
func (m MarketConfig) Allows(tick string) bool {
	want, err := price.Parse(tick)
	if err != nil {
		return false
	}
	for _, g := range m.Groupings {
		if d, err := price.Parse(g); err == nil && d.Equal(want) {
			return true
		}
	}
	return false
}

// LoadConfig reads path, or the environment specific default when path is
// empty, and applies environment overrides.
func LoadConfig(path string) (*Config, error) {
	path = resolveEnvSpecificPath(path, DefaultPath, envConfigPaths)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Book: BookConfig{LevelCap: 25},
		Channels: ChannelsConfig{
			FeedBuffer: 1024,
		},
		Processor: ProcessorConfig{ReportInterval: 30 * time.Second},
		Feed: FeedConfig{
			Source:         FeedSourceUI,
			ReconnectDelay: 5 * time.Second,
			Keepalive:      30 * time.Second,
			ReconnectRate:  0.2,
			ReconnectBurst: 1,
			Binance:        BinanceConfig{Interval: 100 * time.Millisecond, Limit: 100},
		},
		API: APIConfig{Address: ":8080", LogHistory: 200},
		Metrics: MetricsConfig{
			Prometheus: true,
			CloudWatch: CloudWatchConfig{Namespace: "Bookview"},
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("BOOKVIEW_MARKET")); v != "" {
		cfg.Book.DefaultMarket = v
	}
	if v := strings.TrimSpace(os.Getenv("BOOKVIEW_FEED_URL")); v != "" {
		cfg.Feed.URL = v
	}
	if cfg.Metrics.CloudWatch.Enabled {
		if v := strings.TrimSpace(os.Getenv("AWS_REGION")); v != "" {
			cfg.Metrics.CloudWatch.Region = v
		}
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Bookview.Name == "" {
		return fmt.Errorf("bookview.name is required")
	}
	if cfg.Bookview.Version == "" {
		return fmt.Errorf("bookview.version is required")
	}

	if cfg.Book.LevelCap <= 0 {
		return fmt.Errorf("book.level_cap must be greater than 0")
	}
	if len(cfg.Book.Markets) == 0 {
		return fmt.Errorf("book.markets must list at least one market")
	}
	seen := make(map[string]struct{}, len(cfg.Book.Markets))
	for _, m := range cfg.Book.Markets {
		if m.Symbol == "" {
			return fmt.Errorf("book.markets: symbol is required")
		}
		if _, dup := seen[m.Symbol]; dup {
			return fmt.Errorf("book.markets: duplicate symbol %s", m.Symbol)
		}
		seen[m.Symbol] = struct{}{}
		if len(m.Groupings) == 0 {
			return fmt.Errorf("book.markets.%s: at least one grouping is required", m.Symbol)
		}
		for _, g := range m.Groupings {
			d, err := price.Parse(g)
			if err != nil || !price.ValidTick(d) {
				return fmt.Errorf("book.markets.%s: grouping '%s' must be a positive decimal", m.Symbol, g)
			}
		}
	}
	if cfg.Book.DefaultMarket == "" {
		cfg.Book.DefaultMarket = cfg.Book.Markets[0].Symbol
	}
	if _, ok := cfg.Market(cfg.Book.DefaultMarket); !ok {
		return fmt.Errorf("book.default_market '%s' is not in book.markets", cfg.Book.DefaultMarket)
	}

	if cfg.Channels.FeedBuffer <= 0 {
		return fmt.Errorf("channels.feed_buffer must be greater than 0")
	}
	if cfg.Processor.ReportInterval <= 0 {
		return fmt.Errorf("processor.report_interval must be greater than 0")
	}

	switch cfg.Feed.Source {
	case FeedSourceUI:
		if cfg.Feed.URL == "" {
			return fmt.Errorf("feed.url is required for source %s", FeedSourceUI)
		}
	case FeedSourceBinance:
		if cfg.Feed.Binance.Limit <= 0 {
			return fmt.Errorf("feed.binance.limit must be greater than 0")
		}
	default:
		return fmt.Errorf("feed.source '%s' is not supported", cfg.Feed.Source)
	}
	if cfg.Feed.ReconnectDelay <= 0 {
		return fmt.Errorf("feed.reconnect_delay must be greater than 0")
	}
	if cfg.Feed.ReconnectRate <= 0 || cfg.Feed.ReconnectBurst <= 0 {
		return fmt.Errorf("feed.reconnect_rate and feed.reconnect_burst must be greater than 0")
	}

	if cfg.API.Enabled && cfg.API.Address == "" {
		return fmt.Errorf("api.address is required when the api is enabled")
	}

	if cfg.Metrics.CloudWatch.Enabled && cfg.Metrics.CloudWatch.Region == "" {
		return fmt.Errorf("metrics.cloudwatch.region is required when CloudWatch is enabled")
	}

	return nil
}
