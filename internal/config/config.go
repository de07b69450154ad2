package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`

	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`

	JWTSecret   string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	JWTTTL      time.Duration `mapstructure:"jwt_ttl" yaml:"jwt_ttl"`

	MediaDir        string `mapstructure:"media_dir" yaml:"media_dir"`
	MediaBaseURL    string `mapstructure:"media_base_url" yaml:"media_base_url"`
	MaxUploadBytes  int64  `mapstructure:"max_upload_bytes" yaml:"max_upload_bytes"`
	MaxMessageBytes int64  `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`

	TenorAPIKey    string `mapstructure:"tenor_api_key" yaml:"tenor_api_key"`
	TenorBaseURL   string `mapstructure:"tenor_base_url" yaml:"tenor_base_url"`
	TenorClientKey string `mapstructure:"tenor_client_key" yaml:"tenor_client_key"`

	// Empty RedisAddr keeps change notification in-process.
	RedisAddr     string `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password" yaml:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db" yaml:"redis_db"`
	RedisChannel  string `mapstructure:"redis_channel" yaml:"redis_channel"`

	RateLimitPerMinute int `mapstructure:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:               ":8080",
		ReadHeaderTimeout:  5 * time.Second,
		ShutdownTimeout:    5 * time.Second,
		LogLevel:           "info",
		LogFormat:          "console",
		DatabasePath:       "roomfeed.db",
		JWTSecret:          "change-me-in-production",
		JWTIssuer:          "roomfeed",
		JWTAudience:        "roomfeed-clients",
		JWTTTL:             24 * time.Hour,
		MediaDir:           "media",
		MediaBaseURL:       "http://localhost:8080/media",
		MaxUploadBytes:     10 << 20,
		MaxMessageBytes:    4096,
		TenorBaseURL:       "https://tenor.googleapis.com/v2",
		TenorClientKey:     "roomfeed",
		RedisChannel:       "roomfeed:changes",
		RateLimitPerMinute: 120,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	setString(&c.Addr, other.Addr)
	setDuration(&c.ReadHeaderTimeout, other.ReadHeaderTimeout)
	setDuration(&c.ShutdownTimeout, other.ShutdownTimeout)
	setString(&c.LogLevel, other.LogLevel)
	setString(&c.LogFormat, other.LogFormat)
	setString(&c.DatabasePath, other.DatabasePath)
	setString(&c.JWTSecret, other.JWTSecret)
	setString(&c.JWTIssuer, other.JWTIssuer)
	setString(&c.JWTAudience, other.JWTAudience)
	setDuration(&c.JWTTTL, other.JWTTTL)
	setString(&c.MediaDir, other.MediaDir)
	setString(&c.MediaBaseURL, other.MediaBaseURL)
	if other.MaxUploadBytes != 0 {
		c.MaxUploadBytes = other.MaxUploadBytes
	}
	if other.MaxMessageBytes != 0 {
		c.MaxMessageBytes = other.MaxMessageBytes
	}
	setString(&c.TenorAPIKey, other.TenorAPIKey)
	setString(&c.TenorBaseURL, other.TenorBaseURL)
	setString(&c.TenorClientKey, other.TenorClientKey)
	setString(&c.RedisAddr, other.RedisAddr)
	setString(&c.RedisPassword, other.RedisPassword)
	if other.RedisDB != 0 {
		c.RedisDB = other.RedisDB
	}
	setString(&c.RedisChannel, other.RedisChannel)
	if other.RateLimitPerMinute != 0 {
		c.RateLimitPerMinute = other.RateLimitPerMinute
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}
