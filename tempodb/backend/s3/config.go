package s3

import "time"

// Config holds the settings for the S3-compatible backend. The same
// values appear under the `s3` table in the TOML configuration.
type Config struct {
	Endpoint        string `yaml:"endpoint"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`

	// AllowHTTP permits non-TLS endpoints, e.g. a local MinIO.
	AllowHTTP bool `yaml:"allow_http"`

	// UseEnvCredentials selects the AWS credential chain instead of the
	// explicit keys above.
	UseEnvCredentials bool `yaml:"use_env_credentials"`

	// HTTP connection pool tuning.
	PoolMaxIdlePerHost  int           `yaml:"pool_max_idle_per_host"`
	PoolIdleTimeout     time.Duration `yaml:"pool_idle_timeout"`
}

func DefaultConfig() *Config {
	return &Config{
		Region:             "us-east-1",
		PoolMaxIdlePerHost: 30,
		PoolIdleTimeout:    120 * time.Second,
	}
}
