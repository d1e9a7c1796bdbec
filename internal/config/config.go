// Package config loads service configuration from an optional .env file and
// the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
	AllowedOrigins []string
}

type DatabaseConfig struct {
	Driver          string
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	Isolation       string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	SQLitePath        string
	SQLiteBusyTimeout time.Duration

	MongoURI      string
	MongoDatabase string
}

// DSN is the lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

type RedisConfig struct {
	Enabled   bool
	Host      string
	Port      string
	Password  string
	DB        int
	RecordTTL time.Duration
}

func (r RedisConfig) Addr() string { return r.Host + ":" + r.Port }

type JWTConfig struct {
	SecretKey string
}

type LogConfig struct {
	Level  string
	Format string
}

var envBindings = map[string]string{
	"server.port":            "PORT",
	"server.read_timeout":    "SERVER_READ_TIMEOUT",
	"server.write_timeout":   "SERVER_WRITE_TIMEOUT",
	"server.idle_timeout":    "SERVER_IDLE_TIMEOUT",
	"server.request_timeout": "SERVER_REQUEST_TIMEOUT",
	"server.allowed_origins": "CORS_ALLOWED_ORIGINS",

	"database.driver":            "DATABASE_DRIVER",
	"database.host":              "DATABASE_HOST",
	"database.port":              "DATABASE_PORT",
	"database.user":              "DATABASE_USER",
	"database.password":          "DATABASE_PASSWORD",
	"database.name":              "DATABASE_NAME",
	"database.ssl_mode":          "DATABASE_SSL_MODE",
	"database.isolation":         "DATABASE_ISOLATION",
	"database.max_open_conns":    "DATABASE_MAX_OPEN_CONNS",
	"database.max_idle_conns":    "DATABASE_MAX_IDLE_CONNS",
	"database.conn_max_lifetime": "DATABASE_CONN_MAX_LIFETIME",
	"database.sqlite_path":       "SQLITE_PATH",
	"database.sqlite_busy":       "SQLITE_BUSY_TIMEOUT",
	"database.mongo_uri":         "MONGO_URI",
	"database.mongo_database":    "MONGO_DATABASE",

	"redis.enabled":    "REDIS_ENABLED",
	"redis.host":       "REDIS_HOST",
	"redis.port":       "REDIS_PORT",
	"redis.password":   "REDIS_PASSWORD",
	"redis.db":         "REDIS_DB",
	"redis.record_ttl": "REDIS_RECORD_TTL",

	"jwt.secret_key": "JWT_SECRET_KEY",

	"log.level":  "LOG_LEVEL",
	"log.format": "LOG_FORMAT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.request_timeout", 60*time.Second)
	v.SetDefault("server.allowed_origins", "https://*,http://*")

	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.name", "ledger")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.isolation", "repeatable_read")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.sqlite_path", "ledger.db")
	v.SetDefault("database.sqlite_busy", 5*time.Second)
	v.SetDefault("database.mongo_uri", "mongodb://localhost:27017/?replicaSet=rs0")
	v.SetDefault("database.mongo_database", "ledger")

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.record_ttl", 24*time.Hour)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads configFile if it exists (a missing file is not an error) and
// applies environment overrides on top of the defaults.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("config: bind %s: %w", env, err)
		}
	}

	if configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			v.SetConfigFile(configFile)
			v.SetConfigType("env")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("config: read %s: %w", configFile, err)
			}
			// .env keys are flat (DATABASE_HOST=...); map them onto the nested keys.
			for key, env := range envBindings {
				if os.Getenv(env) != "" {
					continue
				}
				if raw := v.GetString(strings.ToLower(env)); raw != "" {
					v.Set(key, raw)
				}
			}
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:           v.GetString("server.port"),
			ReadTimeout:    v.GetDuration("server.read_timeout"),
			WriteTimeout:   v.GetDuration("server.write_timeout"),
			IdleTimeout:    v.GetDuration("server.idle_timeout"),
			RequestTimeout: v.GetDuration("server.request_timeout"),
			AllowedOrigins: splitList(v.GetString("server.allowed_origins")),
		},
		Database: DatabaseConfig{
			Driver:            strings.ToLower(v.GetString("database.driver")),
			Host:              v.GetString("database.host"),
			Port:              v.GetString("database.port"),
			User:              v.GetString("database.user"),
			Password:          v.GetString("database.password"),
			Name:              v.GetString("database.name"),
			SSLMode:           v.GetString("database.ssl_mode"),
			Isolation:         v.GetString("database.isolation"),
			MaxOpenConns:      v.GetInt("database.max_open_conns"),
			MaxIdleConns:      v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime:   v.GetDuration("database.conn_max_lifetime"),
			SQLitePath:        v.GetString("database.sqlite_path"),
			SQLiteBusyTimeout: v.GetDuration("database.sqlite_busy"),
			MongoURI:          v.GetString("database.mongo_uri"),
			MongoDatabase:     v.GetString("database.mongo_database"),
		},
		Redis: RedisConfig{
			Enabled:   v.GetBool("redis.enabled"),
			Host:      v.GetString("redis.host"),
			Port:      v.GetString("redis.port"),
			Password:  v.GetString("redis.password"),
			DB:        v.GetInt("redis.db"),
			RecordTTL: v.GetDuration("redis.record_ttl"),
		},
		JWT: JWTConfig{
			SecretKey: v.GetString("jwt.secret_key"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite, DriverMongo, DriverMemory:
	default:
		return fmt.Errorf("config: unsupported database driver %q", c.Database.Driver)
	}
	if c.JWT.SecretKey == "" {
		return errors.New("config: JWT_SECRET_KEY is required")
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
