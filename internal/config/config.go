package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	ErrMissingBaseURL = errors.New("kalatori base url is required")
	ErrInvalidMode    = errors.New("mode must be embedded or offsite")
)

type Mode string

const (
	ModeEmbedded Mode = "embedded"
	ModeOffsite  Mode = "offsite"
)

type Config struct {
	Kalatori KalatoriConfig `mapstructure:"kalatori"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Server   ServerConfig   `mapstructure:"server"`
	Store    StoreConfig    `mapstructure:"store"`
	Shop     ShopConfig     `mapstructure:"shop"`
}

// KalatoriConfig points the client at a daemon.
type KalatoriConfig struct {
	BaseURL string            `mapstructure:"base_url"`
	Mode    Mode              `mapstructure:"mode"`
	Timeout time.Duration     `mapstructure:"timeout"`
	Headers map[string]string `mapstructure:"headers"`
}

// MonitorConfig bounds polling: the effective wall-clock budget is
// Interval * MaxAttempts.
type MonitorConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	AutoStart   bool          `mapstructure:"auto_start"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type ShopConfig struct {
	AllowedCurrencies []string `mapstructure:"allowed_currencies"`
}

// CurrencyAllowed reports whether code may be used for new orders.
// An empty list allows everything.
func (s ShopConfig) CurrencyAllowed(code string) bool {
	if len(s.AllowedCurrencies) == 0 {
		return true
	}
	for _, c := range s.AllowedCurrencies {
		if c == code {
			return true
		}
	}
	return false
}

func Default() *Config {
	return &Config{
		Kalatori: KalatoriConfig{
			Mode:    ModeEmbedded,
			Timeout: 30 * time.Second,
			Headers: map[string]string{},
		},
		Monitor: MonitorConfig{
			Interval:    5 * time.Second,
			MaxAttempts: 120,
			AutoStart:   true,
		},
		Server: ServerConfig{
			Port: "8080",
			Env:  "development",
		},
		Store: StoreConfig{
			Driver: "memory",
		},
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (skipped when path is empty), then environment variables, then overrides
// such as command line flags.
func Load(path string, overrides ...func(*Config)) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	for _, o := range overrides {
		o(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return err
	}

	return v.Unmarshal(cfg)
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("KALATORI_BASE_URL"); v != "" {
		cfg.Kalatori.BaseURL = v
	}
	if v := os.Getenv("KALATORI_MODE"); v != "" {
		cfg.Kalatori.Mode = Mode(v)
	}
	if v := os.Getenv("KALATORI_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("KALATORI_TIMEOUT: %w", err)
		}
		cfg.Kalatori.Timeout = d
	}
	if v := os.Getenv("KALATORI_HEADERS"); v != "" {
		headers, err := parseHeaders(v)
		if err != nil {
			return fmt.Errorf("KALATORI_HEADERS: %w", err)
		}
		if cfg.Kalatori.Headers == nil {
			cfg.Kalatori.Headers = map[string]string{}
		}
		for k, val := range headers {
			cfg.Kalatori.Headers[k] = val
		}
	}

	if v := os.Getenv("MONITOR_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("MONITOR_INTERVAL: %w", err)
		}
		cfg.Monitor.Interval = d
	}
	if v := os.Getenv("MONITOR_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MONITOR_MAX_ATTEMPTS: %w", err)
		}
		cfg.Monitor.MaxAttempts = n
	}
	if v := os.Getenv("MONITOR_AUTO_START"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("MONITOR_AUTO_START: %w", err)
		}
		cfg.Monitor.AutoStart = b
	}

	if v := os.Getenv("SERVER_PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		cfg.Server.Env = v
	}
	if v := os.Getenv("STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("DB_SOURCE"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("SHOP_ALLOWED_CURRENCIES"); v != "" {
		cfg.Shop.AllowedCurrencies = splitList(v)
	}
	return nil
}

// parseHeaders reads "Name=value,Other=value".
func parseHeaders(s string) (map[string]string, error) {
	out := map[string]string{}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("malformed header %q", pair)
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out, nil
}

// splitList accepts commas, spaces or both as separators.
func splitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
}

func (c *Config) Validate() error {
	if c.Kalatori.BaseURL == "" {
		return ErrMissingBaseURL
	}
	u, err := url.Parse(c.Kalatori.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("kalatori base url %q must be an absolute http(s) url", c.Kalatori.BaseURL)
	}
	if c.Kalatori.Mode != ModeEmbedded && c.Kalatori.Mode != ModeOffsite {
		return fmt.Errorf("%w: got %q", ErrInvalidMode, c.Kalatori.Mode)
	}
	if c.Kalatori.Timeout <= 0 {
		return fmt.Errorf("kalatori timeout must be positive")
	}
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor interval must be positive")
	}
	if c.Monitor.MaxAttempts <= 0 {
		return fmt.Errorf("monitor max attempts must be positive")
	}

	switch c.Store.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store driver %s requires a dsn", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	return nil
}
