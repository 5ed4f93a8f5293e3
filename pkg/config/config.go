// Package config loads the engine configuration from a TOML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/grafana/traceql-engine/tempodb/backend/s3"
)

// S3 configures the object store holding the blocks.
type S3 struct {
	Endpoint          string `mapstructure:"endpoint"`
	Bucket            string `mapstructure:"bucket"`
	Prefix            string `mapstructure:"prefix"`
	Region            string `mapstructure:"region"`
	AccessKeyID       string `mapstructure:"access_key_id"`
	SecretAccessKey   string `mapstructure:"secret_access_key"`
	SessionToken      string `mapstructure:"session_token"`
	AllowHTTP         bool   `mapstructure:"allow_http"`
	UseEnvCredentials bool   `mapstructure:"use_env_credentials"`

	PoolMaxIdlePerHost  int `mapstructure:"pool_max_idle_per_host"`
	PoolIdleTimeoutSecs int `mapstructure:"pool_idle_timeout_secs"`

	// CutoffHours drops blocks whose end time is older than this.
	CutoffHours int `mapstructure:"cutoff_hours"`
}

// DataFusion configures the columnar query engine.
type DataFusion struct {
	ParquetPruning bool `mapstructure:"parquet_pruning"`
}

type Config struct {
	S3         S3         `mapstructure:"s3"`
	DataFusion DataFusion `mapstructure:"datafusion"`
}

// Load reads configuration in layers: defaults, then the TOML file when
// given, then environment variables (S3_*, DATAFUSION_*), then the AWS
// credential environment as a fallback for empty credential fields.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.prefix", "")
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.access_key_id", "")
	v.SetDefault("s3.secret_access_key", "")
	v.SetDefault("s3.session_token", "")
	v.SetDefault("s3.allow_http", false)
	v.SetDefault("s3.use_env_credentials", false)
	v.SetDefault("s3.pool_max_idle_per_host", 30)
	v.SetDefault("s3.pool_idle_timeout_secs", 120)
	v.SetDefault("s3.cutoff_hours", 24)
	v.SetDefault("datafusion.parquet_pruning", true)

	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", configFile, err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// AWS credential chain fallback for empty explicit fields.
	if cfg.S3.AccessKeyID == "" {
		cfg.S3.AccessKeyID = os.Getenv("AWS_ACCESS_KEY_ID")
	}
	if cfg.S3.SecretAccessKey == "" {
		cfg.S3.SecretAccessKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}
	if cfg.S3.SessionToken == "" {
		cfg.S3.SessionToken = os.Getenv("AWS_SESSION_TOKEN")
	}

	return cfg, nil
}

// Validate enforces the boot-time rules: bucket and prefix are always
// required; explicit credentials require an endpoint and both keys.
func (c *Config) Validate() error {
	if c.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket must not be empty")
	}
	if c.S3.Prefix == "" {
		return fmt.Errorf("s3.prefix must not be empty")
	}

	if !c.S3.UseEnvCredentials {
		if c.S3.Endpoint == "" {
			return fmt.Errorf("s3.endpoint must not be empty unless s3.use_env_credentials is set")
		}
		if c.S3.AccessKeyID == "" {
			return fmt.Errorf("s3.access_key_id must not be empty unless s3.use_env_credentials is set")
		}
		if c.S3.SecretAccessKey == "" {
			return fmt.Errorf("s3.secret_access_key must not be empty unless s3.use_env_credentials is set")
		}
	}

	return nil
}

// S3BackendConfig maps the configuration onto the s3 backend's config.
func (c *Config) S3BackendConfig() *s3.Config {
	return &s3.Config{
		Endpoint:           c.S3.Endpoint,
		Bucket:             c.S3.Bucket,
		Prefix:             c.S3.Prefix,
		Region:             c.S3.Region,
		AccessKeyID:        c.S3.AccessKeyID,
		SecretAccessKey:    c.S3.SecretAccessKey,
		SessionToken:       c.S3.SessionToken,
		AllowHTTP:          c.S3.AllowHTTP,
		UseEnvCredentials:  c.S3.UseEnvCredentials,
		PoolMaxIdlePerHost: c.S3.PoolMaxIdlePerHost,
		PoolIdleTimeout:    time.Duration(c.S3.PoolIdleTimeoutSecs) * time.Second,
	}
}
