package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration. Precedence: defaults, then an
// optional YAML file, then PROCTOR_* environment variables.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Proctor  ProctorConfig  `mapstructure:"proctor"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxConnections  int           `mapstructure:"max_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type AuthConfig struct {
	Secret   string        `mapstructure:"secret"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// ProctorConfig tunes the session policy knobs.
type ProctorConfig struct {
	WarningCooldown      time.Duration `mapstructure:"warning_cooldown"`
	MaxDisconnections    int           `mapstructure:"max_disconnections"`
	PollInterval         time.Duration `mapstructure:"poll_interval"`
	ReconnectMaxAttempts int           `mapstructure:"reconnect_max_attempts"`
	ReconnectTimeout     time.Duration `mapstructure:"reconnect_timeout"`
	AnalysisWindow       time.Duration `mapstructure:"analysis_window"`
	ActivityWindow       time.Duration `mapstructure:"activity_window"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Load reads configuration with the documented precedence. path may be empty,
// in which case only defaults and environment variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PROCTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("database.path", "./proctor.db")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.token_ttl", 12*time.Hour)

	v.SetDefault("proctor.warning_cooldown", 60*time.Second)
	v.SetDefault("proctor.max_disconnections", 3)
	v.SetDefault("proctor.poll_interval", 30*time.Second)
	v.SetDefault("proctor.reconnect_max_attempts", 3)
	v.SetDefault("proctor.reconnect_timeout", 30*time.Second)
	v.SetDefault("proctor.analysis_window", 10*time.Minute)
	v.SetDefault("proctor.activity_window", 5*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
}

// Validate rejects configurations that would fail at runtime.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535")
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.MaxConnections <= 0 {
		return fmt.Errorf("database max connections must be positive")
	}
	if c.Auth.Secret == "" {
		return fmt.Errorf("auth secret is required; set PROCTOR_AUTH_SECRET")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth token TTL must be positive")
	}
	if c.Proctor.WarningCooldown <= 0 {
		return fmt.Errorf("warning cooldown must be positive")
	}
	if c.Proctor.MaxDisconnections <= 0 {
		return fmt.Errorf("max disconnections must be positive")
	}
	if c.Proctor.PollInterval <= 0 {
		return fmt.Errorf("monitoring poll interval must be positive")
	}
	if c.Proctor.ReconnectMaxAttempts <= 0 {
		return fmt.Errorf("reconnect max attempts must be positive")
	}
	if c.Proctor.ReconnectTimeout <= 0 {
		return fmt.Errorf("reconnect timeout must be positive")
	}
	if c.Proctor.AnalysisWindow <= 0 {
		return fmt.Errorf("analysis window must be positive")
	}
	if c.Proctor.ActivityWindow <= 0 {
		return fmt.Errorf("activity window must be positive")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log level must be one of debug, info, warn, error")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log format must be json or console")
	}
	return nil
}

// Addr is the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
