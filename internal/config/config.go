// Package config builds the single run configuration. Defaults are overlaid
// by an optional YAML file, then by environment variables; the CLI applies
// its flags last.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

const DefaultQuery = `("artificial intelligence" OR "generative ai" OR "large language model" ` +
	`OR "ai safety" OR "frontier model" OR OpenAI OR Anthropic OR DeepMind ` +
	`OR "Google DeepMind" OR "Meta AI" OR "Mistral AI" OR "Llama 3" ` +
	`OR "GPT-4o" OR "Claude 3")`

type Config struct {
	// GDELT query settings
	Query       string `yaml:"query"`
	OnlyEnglish bool   `yaml:"only_english"`
	Timespan    string `yaml:"timespan"`
	MaxRecords  int    `yaml:"max_records"`
	UserAgent   string `yaml:"user_agent"`
	Endpoint    string `yaml:"endpoint"`

	// HTTP behaviour. RequestInterval spaces every request, retries included;
	// zero disables pacing.
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	RequestInterval time.Duration `yaml:"request_interval"`
	RetryAttempts   int           `yaml:"retry_attempts"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
	RetryGrowth     float64       `yaml:"retry_growth"`
	RetryMaxDelay   time.Duration `yaml:"retry_max_delay"`
	JitterMin       time.Duration `yaml:"jitter_min"`
	JitterMax       time.Duration `yaml:"jitter_max"`

	// Output
	OutRoot          string `yaml:"out_root"`
	BaseURL          string `yaml:"base_url"`
	ManifestMaxFiles int    `yaml:"manifest_max_files"`

	// Optional sinks
	DatabaseURL     string `yaml:"database_url"`
	MetricsTextfile string `yaml:"metrics_textfile"`

	Debug bool `yaml:"debug"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Query:            DefaultQuery,
		OnlyEnglish:      true,
		Timespan:         "1h",
		MaxRecords:       200,
		UserAgent:        "newsgraph/1.0 (+https://github.com/deusflow/newsgraph)",
		Endpoint:         "https://api.gdeltproject.org/api/v2/doc/doc",
		RequestTimeout:   30 * time.Second,
		RetryAttempts:    6,
		RetryDelay:       1500 * time.Millisecond,
		RetryGrowth:      1.5,
		RetryMaxDelay:    2 * time.Minute,
		JitterMin:        500 * time.Millisecond,
		JitterMax:        2 * time.Second,
		OutRoot:          ".",
		ManifestMaxFiles: 30,
	}
}

// DefaultConfigPath is where Load looks when no explicit file is given.
func DefaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, "newsgraph", "config.yaml")
}

// Load builds the configuration from defaults, the YAML file at path and the
// environment. An empty path falls back to DefaultConfigPath, which may be
// missing.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath()
	}
	if err := cfg.loadFile(path, explicit); err != nil {
		return nil, err
	}

	cfg.applyEnv(os.LookupEnv)
	return cfg, nil
}

func (c *Config) loadFile(path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			return nil
		}
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	if v := get("GDELT_QUERY"); v != "" {
		c.Query = v
	}
	if v := get("GDELT_ONLY_ENGLISH"); v != "" {
		c.OnlyEnglish = v == "1" || strings.EqualFold(v, "true")
	}
	if v := get("GDELT_TIMESPAN"); v != "" {
		c.Timespan = v
	}
	if v := get("GDELT_MAXRECORDS"); v != "" {
		if val, err := strconv.Atoi(v); err == nil {
			c.MaxRecords = val
		}
	}
	if v := get("USER_AGENT"); v != "" {
		c.UserAgent = v
	}
	if v := get("REPO_BASE_URL"); v != "" {
		c.BaseURL = v
	}
	if v := get("MANIFEST_MAX_FILES"); v != "" {
		if val, err := strconv.Atoi(v); err == nil {
			c.ManifestMaxFiles = val
		}
	}
	if v := get("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := get("METRICS_TEXTFILE"); v != "" {
		c.MetricsTextfile = v
	}
	if get("DEBUG") == "true" {
		c.Debug = true
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Query) == "" {
		return fmt.Errorf("query is required")
	}
	if c.MaxRecords < 1 || c.MaxRecords > 250 {
		return fmt.Errorf("max records must be between 1 and 250, got %d", c.MaxRecords)
	}
	if c.Timespan == "" {
		return fmt.Errorf("timespan is required")
	}
	if c.ManifestMaxFiles < 1 {
		return fmt.Errorf("manifest max files must be positive, got %d", c.ManifestMaxFiles)
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("retry attempts must be positive, got %d", c.RetryAttempts)
	}
	if c.RequestInterval < 0 {
		return fmt.Errorf("request interval must not be negative, got %s", c.RequestInterval)
	}
	if c.JitterMax < c.JitterMin {
		return fmt.Errorf("jitter max %s is below jitter min %s", c.JitterMax, c.JitterMin)
	}
	if c.OutRoot == "" {
		return fmt.Errorf("output root is required")
	}
	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil {
			return fmt.Errorf("invalid base url: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("base url scheme must be http or https, got %q", u.Scheme)
		}
	}
	return nil
}

// SearchQuery is the query actually sent upstream.
func (c *Config) SearchQuery() string {
	if c.OnlyEnglish {
		return "(" + c.Query + ") sourcelang:english"
	}
	return c.Query
}
