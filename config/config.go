package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
)

// DefaultEndpoint is the PageSpeed Insights v5 runPagespeed endpoint.
const DefaultEndpoint = "https://www.googleapis.com/pagespeedonline/v5/runPagespeed"

// Config holds batch scorer configuration.
type Config struct {
	APIKey        string        `mapstructure:"api_key"`
	Endpoint      string        `mapstructure:"endpoint"`
	Strategy      string        `mapstructure:"strategy"`
	MaxInFlight   int           `mapstructure:"parallel"`
	Timeout       time.Duration `mapstructure:"timeout"` // 0 leaves the transport default
	UserAgent     string        `mapstructure:"user_agent"`
	SitemapURL    string        `mapstructure:"sitemap"`
	URLsFile      string        `mapstructure:"urls_file"`
	URLs          []string      `mapstructure:"url"`
	Dedupe        bool          `mapstructure:"dedupe"`
	DedupeMaxSize int           `mapstructure:"dedupe_max_size"`
	OutputFile    string        `mapstructure:"output"`
	OutputFormats []string      `mapstructure:"format"` // csv, xlsx, json
	MetricsAddr   string        `mapstructure:"metrics_addr"`
	LogFormat     string        `mapstructure:"log_format"` // auto, console, json
	Verbose       bool          `mapstructure:"verbose"`
}

// DefaultConfig returns defaults matching the public API's throughput limits.
func DefaultConfig() *Config {
	return &Config{
		Endpoint:      DefaultEndpoint,
		Strategy:      "mobile",
		MaxInFlight:   3,
		Timeout:       0,
		UserAgent:     "go-pagespeed/1.0 (+https://github.com/aluiziolira/go-pagespeed)",
		DedupeMaxSize: 100000,
		OutputFile:    "output/pagespeed_results",
		OutputFormats: []string{"csv", "xlsx"},
		LogFormat:     "auto",
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}
	parsedURL, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("endpoint must include a host")
	}

	switch strings.ToLower(c.Strategy) {
	case "mobile", "desktop":
	default:
		return fmt.Errorf("strategy must be mobile or desktop, got %q", c.Strategy)
	}

	if c.MaxInFlight <= 0 {
		return fmt.Errorf("parallel must be positive")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.Dedupe && c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive when dedupe is enabled")
	}

	for _, format := range c.OutputFormats {
		switch format {
		case "csv", "xlsx", "json":
		default:
			return fmt.Errorf("output format must be csv, xlsx, or json, got %q", format)
		}
	}
	if len(c.OutputFormats) > 0 && c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}

	switch c.LogFormat {
	case "auto", "console", "json":
	default:
		return fmt.Errorf("log format must be auto, console, or json")
	}

	return nil
}

// Load reads configuration from v: defaults, an optional pagespeed.yaml, then
// PAGESPEED_* environment variables and any flags already bound to v.
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.New()
	}

	v.SetConfigName("pagespeed")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PAGESPEED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	d := DefaultConfig()
	v.SetDefault("api_key", d.APIKey)
	v.SetDefault("endpoint", d.Endpoint)
	v.SetDefault("strategy", d.Strategy)
	v.SetDefault("parallel", d.MaxInFlight)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("user_agent", d.UserAgent)
	v.SetDefault("sitemap", "")
	v.SetDefault("urls_file", "")
	v.SetDefault("url", []string{})
	v.SetDefault("dedupe", d.Dedupe)
	v.SetDefault("dedupe_max_size", d.DedupeMaxSize)
	v.SetDefault("output", d.OutputFile)
	v.SetDefault("format", d.OutputFormats)
	v.SetDefault("metrics_addr", "")
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("verbose", false)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	cfg.Strategy = strings.ToLower(strings.TrimSpace(cfg.Strategy))
	for i, format := range cfg.OutputFormats {
		cfg.OutputFormats[i] = strings.ToLower(strings.TrimSpace(format))
	}

	return cfg, nil
}
