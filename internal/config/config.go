// Package config loads service settings from an optional YAML file, then .env, then the
// process environment. Later sources override earlier ones.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	DatabaseURL    string `yaml:"database_url"`
	DBMaxConns     int32  `yaml:"db_max_conns"`
	Store          string `yaml:"store"`
	AutoMigrate    bool   `yaml:"auto_migrate"`
	ServerPort     string `yaml:"server_port"`
	AllowedOrigins string `yaml:"allowed_origins"`
	JWTSecret      string `yaml:"jwt_secret"`

	ReservationTTL       time.Duration `yaml:"reservation_ttl"`
	ReservationOpTimeout time.Duration `yaml:"reservation_op_timeout"`
	SweepInterval        time.Duration `yaml:"sweep_interval"`
	SweepBatchSize       int           `yaml:"sweep_batch_size"`
	RestockAlertInterval time.Duration `yaml:"restock_alert_interval"`

	RedisAddr         string   `yaml:"redis_addr"`
	KafkaBrokers      []string `yaml:"kafka_brokers"`
	KafkaRestockTopic string   `yaml:"kafka_restock_topic"`
	JaegerEndpoint    string   `yaml:"jaeger_endpoint"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		Store:                StorePostgres,
		ServerPort:           "8080",
		ReservationTTL:       15 * time.Minute,
		ReservationOpTimeout: 5 * time.Second,
		SweepInterval:        60 * time.Second,
		SweepBatchSize:       500,
		RestockAlertInterval: 15 * time.Minute,
		KafkaRestockTopic:    "inventory.restock-alerts",
		LogLevel:             "info",
		LogFormat:            "json",
	}
}

// Load reads .env (if present), the YAML file named by CONFIG_FILE (if set) and the
// environment, then validates the result.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		*dst = d
		return nil
	}
	integer := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		*dst = n
		return nil
	}

	str("DATABASE_URL", &c.DatabaseURL)
	str("STORE", &c.Store)
	str("SERVER_PORT", &c.ServerPort)
	str("ALLOWED_ORIGINS", &c.AllowedOrigins)
	str("JWT_SECRET", &c.JWTSecret)
	str("REDIS_ADDR", &c.RedisAddr)
	str("KAFKA_RESTOCK_TOPIC", &c.KafkaRestockTopic)
	str("JAEGER_ENDPOINT", &c.JaegerEndpoint)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)

	if v, ok := lookup("KAFKA_BROKERS"); ok && v != "" {
		c.KafkaBrokers = splitAndTrim(v)
	}
	if v, ok := lookup("AUTO_MIGRATE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid AUTO_MIGRATE %q: %w", v, err)
		}
		c.AutoMigrate = b
	}

	var maxConns int
	if err := integer("DB_MAX_CONNS", &maxConns); err != nil {
		return err
	}
	if maxConns > 0 {
		c.DBMaxConns = int32(maxConns)
	}
	for key, dst := range map[string]*time.Duration{
		"RESERVATION_TTL":        &c.ReservationTTL,
		"RESERVATION_OP_TIMEOUT": &c.ReservationOpTimeout,
		"SWEEP_INTERVAL":         &c.SweepInterval,
		"RESTOCK_ALERT_INTERVAL": &c.RestockAlertInterval,
	} {
		if err := dur(key, dst); err != nil {
			return err
		}
	}
	return integer("SWEEP_BATCH_SIZE", &c.SweepBatchSize)
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE=%s", StorePostgres)
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown STORE %q, expected %s or %s", c.Store, StorePostgres, StoreMemory)
	}
	if c.ReservationTTL <= 0 {
		return fmt.Errorf("RESERVATION_TTL must be positive, got %s", c.ReservationTTL)
	}
	if c.ReservationOpTimeout <= 0 {
		return fmt.Errorf("RESERVATION_OP_TIMEOUT must be positive, got %s", c.ReservationOpTimeout)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive, got %s", c.SweepInterval)
	}
	if c.SweepBatchSize <= 0 {
		return fmt.Errorf("SWEEP_BATCH_SIZE must be positive, got %d", c.SweepBatchSize)
	}
	if c.RestockAlertInterval < 0 {
		return fmt.Errorf("RESTOCK_ALERT_INTERVAL cannot be negative, got %s", c.RestockAlertInterval)
	}
	return nil
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
