// Package config loads taskflow settings from an optional taskflow.yaml, a
// .env file and TASKFLOW_* environment variables, in increasing priority.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	DB        DBConfig
	HTTP      HTTPConfig
	Log       LogConfig
	Telemetry TelemetryConfig
	Store     StoreConfig
}

type DBConfig struct {
	URL            string
	ConnectTimeout time.Duration
	MaxRetries     uint64
}

type HTTPConfig struct {
	Port int
}

type LogConfig struct {
	Level string
}

type TelemetryConfig struct {
	Enabled bool
	Stdout  bool
}

type StoreConfig struct {
	Driver string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db.url", "")
	v.SetDefault("db.connect_timeout", 5*time.Second)
	v.SetDefault("db.max_retries", 5)
	v.SetDefault("http.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.stdout", false)
	v.SetDefault("store.driver", DriverPostgres)
}

// Load reads configuration. path may name a config file; when empty,
// taskflow.yaml is looked up in the working directory and a missing file is
// not an error. Non-empty overrides (keyed like "db.url") win over every
// other source, which is how command-line flags are applied.
func Load(path string, overrides map[string]string) (*Config, error) {
	// .env values become plain environment variables; real env wins.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("TASKFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("taskflow")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, errors.Wrap(err, "reading taskflow config")
		}
	}
	for key, val := range overrides {
		if val != "" {
			v.Set(key, val)
		}
	}

	cfg := &Config{
		DB: DBConfig{
			URL:            v.GetString("db.url"),
			ConnectTimeout: v.GetDuration("db.connect_timeout"),
			MaxRetries:     uint64(v.GetInt("db.max_retries")),
		},
		HTTP:      HTTPConfig{Port: v.GetInt("http.port")},
		Log:       LogConfig{Level: v.GetString("log.level")},
		Telemetry: TelemetryConfig{Enabled: v.GetBool("telemetry.enabled"), Stdout: v.GetBool("telemetry.stdout")},
		Store:     StoreConfig{Driver: strings.ToLower(v.GetString("store.driver"))},
	}
	if cfg.DB.URL == "" {
		cfg.DB.URL = URLFromEnv()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// URLFromEnv builds a Postgres URL from DB_USERNAME, DB_PASSWORD, DB_HOST,
// DB_PORT and DB_NAME. It returns "" unless all of them are set.
func URLFromEnv() string {
	dbUsername := os.Getenv("DB_USERNAME")
	dbPassword := os.Getenv("DB_PASSWORD")
	dbHost := os.Getenv("DB_HOST")
	dbPort := os.Getenv("DB_PORT")
	dbName := os.Getenv("DB_NAME")
	if dbUsername == "" || dbPassword == "" || dbHost == "" || dbPort == "" || dbName == "" {
		return ""
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		dbUsername, dbPassword, dbHost, dbPort, dbName)
}

// Validate checks settings that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.DB.URL == "" {
			return errors.New("db.url or complete DB_* env vars (DB_USERNAME, DB_PASSWORD, DB_HOST, DB_PORT, DB_NAME) required for the postgres store")
		}
	default:
		return errors.Errorf("unknown store driver %q (want postgres or memory)", c.Store.Driver)
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return errors.Errorf("invalid http.port %d", c.HTTP.Port)
	}
	return nil
}
