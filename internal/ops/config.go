// Package ops loads and validates the runtime configuration.
package ops

import (
	"os"
	"time"

	"github.com/yanun0323/errors"
	"gopkg.in/yaml.v3"

	"main/pkg/conn"
)

const (
	defaultCollectInterval = time.Minute
	defaultRetryInterval   = 5 * time.Second
	defaultMaxRetries      = 3
	defaultExtractInterval = 10 * time.Minute
	defaultExtractWindow   = 24 * time.Hour
	defaultMirrorPath      = "data/mirror.db"
)

// Duration parses YAML scalars like "30s" or "5m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", raw)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full runtime configuration.
type Config struct {
	Postgres   PostgresConfig   `yaml:"postgres"`
	Mirror     MirrorConfig     `yaml:"mirror"`
	Collection CollectionConfig `yaml:"collection"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Enrichment EnrichmentConfig `yaml:"enrichment"`
	Profiling  ProfilingConfig  `yaml:"profiling"`
}

// PostgresConfig describes the primary store connection.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// ConnOption maps the section onto the connection options.
func (c PostgresConfig) ConnOption() conn.Option {
	return conn.Option{
		Host:     c.Host,
		Port:     c.Port,
		User:     c.User,
		Password: c.Password,
		Database: c.Database,
		SSLMode:  c.SSLMode,
	}
}

// MirrorConfig describes the local search mirror.
type MirrorConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// CollectionConfig describes the collector fleet.
type CollectionConfig struct {
	Symbols       []string   `yaml:"symbols"`
	Interval      Duration   `yaml:"interval"`
	RetryInterval Duration   `yaml:"retry_interval"`
	MaxRetries    int        `yaml:"max_retries"`
	EnableRest    *bool      `yaml:"enable_rest"`
	EnableStream  *bool      `yaml:"enable_stream"`
	News          NewsConfig `yaml:"news"`
}

// NewsConfig describes the news feed collector.
type NewsConfig struct {
	Enabled    bool     `yaml:"enabled"`
	AuthToken  string   `yaml:"auth_token"`
	Currencies []string `yaml:"currencies"`
}

// ExtractionConfig describes the feature extraction schedule.
type ExtractionConfig struct {
	Interval Duration `yaml:"interval"`
	Window   Duration `yaml:"window"`
}

// EnrichmentConfig describes the optional sentiment model.
type EnrichmentConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
}

// ProfilingConfig describes continuous profiling.
type ProfilingConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ServerAddress string `yaml:"server_address"`
}

// Load reads a YAML config file, applies environment overrides for
// secrets and fills defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config")
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "parse config")
	}
	cfg = cfg.withEnv().withDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// withEnv lets secrets come from the environment instead of the file.
func (c Config) withEnv() Config {
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		c.Postgres.Password = v
	}
	if v := os.Getenv("CRYPTOPANIC_AUTH_TOKEN"); v != "" {
		c.Collection.News.AuthToken = v
	}
	if v := os.Getenv("ENRICHMENT_API_KEY"); v != "" {
		c.Enrichment.APIKey = v
	}
	return c
}

func (c Config) withDefaults() Config {
	if c.Collection.Interval <= 0 {
		c.Collection.Interval = Duration(defaultCollectInterval)
	}
	if c.Collection.RetryInterval <= 0 {
		c.Collection.RetryInterval = Duration(defaultRetryInterval)
	}
	if c.Collection.MaxRetries <= 0 {
		c.Collection.MaxRetries = defaultMaxRetries
	}
	if len(c.Collection.Symbols) == 0 {
		c.Collection.Symbols = []string{"BTCUSDT", "ETHUSDT"}
	}
	if c.Extraction.Interval <= 0 {
		c.Extraction.Interval = Duration(defaultExtractInterval)
	}
	if c.Extraction.Window <= 0 {
		c.Extraction.Window = Duration(defaultExtractWindow)
	}
	if c.Mirror.Enabled && c.Mirror.Path == "" {
		c.Mirror.Path = defaultMirrorPath
	}
	return c
}

// RestEnabled reports whether the REST collector should run. Defaults on.
func (c CollectionConfig) RestEnabled() bool {
	return c.EnableRest == nil || *c.EnableRest
}

// StreamEnabled reports whether the streaming collector should run.
// Defaults on.
func (c CollectionConfig) StreamEnabled() bool {
	return c.EnableStream == nil || *c.EnableStream
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	if c.Postgres.Database == "" {
		return errors.New("invalid config: postgres.database is empty")
	}
	if c.Collection.News.Enabled && c.Collection.News.AuthToken == "" {
		return errors.New("invalid config: news is enabled but auth_token is empty")
	}
	if c.Enrichment.Enabled {
		if c.Enrichment.Endpoint == "" {
			return errors.New("invalid config: enrichment is enabled but endpoint is empty")
		}
		if c.Enrichment.Model == "" {
			return errors.New("invalid config: enrichment is enabled but model is empty")
		}
	}
	if c.Profiling.Enabled && c.Profiling.ServerAddress == "" {
		return errors.New("invalid config: profiling is enabled but server_address is empty")
	}
	return nil
}
