package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

type AppConfig struct {
	ListenAddr      string   `yaml:"listen_addr"`
	WSPath          string   `yaml:"ws_path"`
	MaxMessageBytes int64    `yaml:"max_message_bytes"`
	AllowedOrigins  []string `yaml:"allowed_origins"`

	StoreBackend string `yaml:"store"`
	RedisURL     string `yaml:"redis_url"`
	DatabaseURL  string `yaml:"database_url"`
	// AutoMigrate applies the embedded schema on startup (postgres only).
	AutoMigrate bool `yaml:"auto_migrate"`

	SweepInterval time.Duration `yaml:"sweep_interval"`
	SendTimeout   time.Duration `yaml:"send_timeout"`

	// MessagesDir may hold messages.*.yaml overriding the built-in catalog.
	MessagesDir string `yaml:"messages_dir"`
}

func defaults() *AppConfig {
	return &AppConfig{
		ListenAddr:      ":8080",
		WSPath:          "/ws",
		MaxMessageBytes: 4096,
		StoreBackend:    StoreMemory,
		AutoMigrate:     true,
		SweepInterval:   5 * time.Second,
		SendTimeout:     5 * time.Second,
	}
}

// LoadDotEnv reads .env style files into the environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load builds the config from defaults, the YAML file named by
// CHESS_CONFIG_FILE, then environment variables, later sources winning.
func Load() (*AppConfig, error) {
	return LoadFile(strings.TrimSpace(os.Getenv("CHESS_CONFIG_FILE")))
}

func LoadFile(path string) (*AppConfig, error) {
	cfg := defaults()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *AppConfig) error {
	if v := env("CHESS_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := env("CHESS_WS_PATH"); v != "" {
		cfg.WSPath = v
	}
	if v := env("CHESS_MAX_MESSAGE_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return fmt.Errorf("CHESS_MAX_MESSAGE_BYTES: invalid value %q", v)
		}
		cfg.MaxMessageBytes = n
	}
	if v := env("ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitList(v)
	}

	if v := env("CHESS_STORE"); v != "" {
		cfg.StoreBackend = strings.ToLower(v)
	}
	if v := env("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := env("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := env("CHESS_AUTO_MIGRATE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CHESS_AUTO_MIGRATE: %w", err)
		}
		cfg.AutoMigrate = b
	}

	var err error
	if cfg.SweepInterval, err = envDuration("CHESS_SWEEP_INTERVAL", cfg.SweepInterval); err != nil {
		return err
	}
	if cfg.SendTimeout, err = envDuration("CHESS_SEND_TIMEOUT", cfg.SendTimeout); err != nil {
		return err
	}
	if v := env("CHESS_MESSAGES_DIR"); v != "" {
		cfg.MessagesDir = v
	}
	return nil
}

// Validate checks cross-field requirements, e.g. a URL for the chosen store.
func (c *AppConfig) Validate() error {
	switch c.StoreBackend {
	case StoreMemory:
	case StoreRedis:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required for the redis store")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}
	if !strings.HasPrefix(c.WSPath, "/") {
		return fmt.Errorf("ws path must start with '/': %q", c.WSPath)
	}
	if c.SweepInterval <= 0 || c.SendTimeout <= 0 {
		return errors.New("sweep interval and send timeout must be positive")
	}
	return nil
}

func env(k string) string { return strings.TrimSpace(os.Getenv(k)) }

// envDuration accepts Go durations ("5s") or plain seconds ("5").
func envDuration(k string, def time.Duration) (time.Duration, error) {
	v := env(k)
	if v == "" {
		return def, nil
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s: invalid duration %q", k, v)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
