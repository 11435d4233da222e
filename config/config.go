package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Config struct {
	App struct {
		Name           string   `mapstructure:"name"`
		Port           string   `mapstructure:"port"`
		JWTSecret      string   `mapstructure:"jwt_secret"`
		AllowedOrigins []string `mapstructure:"allowed_origins"`
	} `mapstructure:"app"`
	Database struct {
		Host         string `mapstructure:"host"`
		Port         string `mapstructure:"port"`
		User         string `mapstructure:"user"`
		Password     string `mapstructure:"password"`
		Name         string `mapstructure:"name"`
		Sslmode      string `mapstructure:"sslmode"`
		Timezone     string `mapstructure:"timezone"`
		MaxIdleConns int    `mapstructure:"max_idle_conns"`
		MaxOpenConns int    `mapstructure:"max_open_conns"`
	} `mapstructure:"database"`
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`
	Refresh struct {
		// Every and the other durations below are in seconds.
		Every            int    `mapstructure:"every"`
		Iterations       int    `mapstructure:"iterations"`
		PostLimit        int    `mapstructure:"post_limit"`
		RoutingKeyPrefix string `mapstructure:"routing_key_prefix"`
		Workers          int    `mapstructure:"workers"`
		RunOnStart       bool   `mapstructure:"run_on_start"`
	} `mapstructure:"refresh"`
	Lock struct {
		Expire    int    `mapstructure:"expire"`
		KeyFormat string `mapstructure:"key_format"`
	} `mapstructure:"lock"`
	Fetch struct {
		Timeout      int    `mapstructure:"timeout"`
		MaxBodyBytes int64  `mapstructure:"max_body_bytes"`
		UserAgent    string `mapstructure:"user_agent"`
	} `mapstructure:"fetch"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

var envBindings = map[string]string{
	"refresh.every":              "REFRESH_EVERY",
	"refresh.iterations":         "REFRESH_ITERATIONS",
	"refresh.post_limit":         "DEFAULT_POST_LIMIT",
	"refresh.routing_key_prefix": "ROUTING_KEY_PREFIX",
	"refresh.workers":            "REFRESH_WORKERS",
	"refresh.run_on_start":       "REFRESH_RUN_ON_START",
	"lock.expire":                "FEED_LOCK_EXPIRE",
	"lock.key_format":            "FEED_LOCK_CACHE_KEY_FORMAT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "feedrefresh")
	v.SetDefault("app.port", ":8080")
	v.SetDefault("app.jwt_secret", "")
	v.SetDefault("app.allowed_origins", []string{"http://localhost:5173", "http://localhost:8080"})

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "feedrefresh")
	v.SetDefault("database.password", "feedrefresh")
	v.SetDefault("database.name", "feedrefresh")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.timezone", "UTC")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("refresh.every", 10800)
	v.SetDefault("refresh.iterations", 4)
	v.SetDefault("refresh.post_limit", 5)
	v.SetDefault("refresh.routing_key_prefix", "feedrefresh")
	v.SetDefault("refresh.workers", 4)
	v.SetDefault("refresh.run_on_start", true)

	v.SetDefault("lock.expire", 180)
	v.SetDefault("lock.key_format", "feedrefresh.import_lock.%s")

	v.SetDefault("fetch.timeout", 20)
	v.SetDefault("fetch.max_body_bytes", 4<<20)
	v.SetDefault("fetch.user_agent", "feedrefresh/1.0")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads defaults, the optional YAML file and the environment. With an
// empty path config/config.yaml is used when present.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, err
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		log.Debug("No config file found, using defaults and environment")
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Refresh.Every <= 0:
		return errors.New("refresh.every must be > 0")
	case c.Refresh.Iterations <= 0:
		return errors.New("refresh.iterations must be > 0")
	case c.Refresh.Workers <= 0:
		return errors.New("refresh.workers must be > 0")
	case c.Refresh.PostLimit <= 0:
		return errors.New("refresh.post_limit must be > 0")
	case c.Lock.Expire <= 0:
		return errors.New("lock.expire must be > 0")
	case strings.Count(c.Lock.KeyFormat, "%s") != 1:
		return fmt.Errorf("lock.key_format %q must contain exactly one %%s", c.Lock.KeyFormat)
	}
	return nil
}

func (c *Config) RefreshEvery() time.Duration {
	return time.Duration(c.Refresh.Every) * time.Second
}

func (c *Config) LockExpire() time.Duration {
	return time.Duration(c.Lock.Expire) * time.Second
}

func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.Timeout) * time.Second
}

// SetupLogging applies log.level and log.format to the standard logrus logger.
func (c *Config) SetupLogging() error {
	level, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	log.SetLevel(level)

	switch strings.ToLower(c.Log.Format) {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "", "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("log.format %q must be text or json", c.Log.Format)
	}
	return nil
}
