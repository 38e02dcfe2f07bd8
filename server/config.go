package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the daemon configuration, loaded from file with environment
// overrides under the FEEDPULSE_ prefix.
type Config struct {
	HTTP    HTTPConfig    `mapstructure:"http"`
	Store   StoreConfig   `mapstructure:"store"`
	Ingest  IngestConfig  `mapstructure:"ingest"`
	Replay  ReplayConfig  `mapstructure:"replay"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type HTTPConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// StoreConfig selects the key-value substrate. Backend is one of "memory",
// "local", "dynamodb", "s3", or "minio".
type StoreConfig struct {
	Backend string `mapstructure:"backend"`

	// Path is the data directory of the local backend.
	Path string `mapstructure:"path"`

	// Table is the DynamoDB table, Bucket the S3/MinIO bucket.
	Table  string `mapstructure:"table"`
	Bucket string `mapstructure:"bucket"`

	// Endpoint and credentials apply to the minio backend.
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

type IngestConfig struct {
	// RateLimit is the per-client budget per window; <= 0 disables limiting.
	RateLimit  int           `mapstructure:"rate_limit"`
	RateWindow time.Duration `mapstructure:"rate_window"`

	// Compression is the record compression: "none", "zstd", or "lz4".
	Compression string `mapstructure:"compression"`
}

type ReplayConfig struct {
	// Interval between background replay passes; <= 0 disables the loop.
	Interval time.Duration `mapstructure:"interval"`

	// EventsPerSec paces each pass; <= 0 means unpaced.
	EventsPerSec float64 `mapstructure:"events_per_sec"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads the configuration file at path. A missing file is not an
// error; defaults plus environment overrides apply.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("feedpulse")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8787")
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 15*time.Second)
	v.SetDefault("store.backend", "memory")
	v.SetDefault("ingest.rate_limit", 100)
	v.SetDefault("ingest.rate_window", time.Minute)
	v.SetDefault("ingest.compression", "none")
	v.SetDefault("replay.interval", 5*time.Second)
	v.SetDefault("replay.events_per_sec", 0)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

func (c Config) Validate() error {
	switch c.Store.Backend {
	case "memory":
	case "local":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the local backend")
		}
	case "dynamodb":
		if c.Store.Table == "" {
			return fmt.Errorf("store.table is required for the dynamodb backend")
		}
	case "s3", "minio":
		if c.Store.Bucket == "" {
			return fmt.Errorf("store.bucket is required for the %s backend", c.Store.Backend)
		}

		if c.Store.Backend == "minio" && c.Store.Endpoint == "" {
			return fmt.Errorf("store.endpoint is required for the minio backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	switch c.Ingest.Compression {
	case "none", "zstd", "lz4":
	default:
		return fmt.Errorf("unknown compression %q", c.Ingest.Compression)
	}

	return nil
}
