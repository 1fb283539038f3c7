package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	BackendURL  string `yaml:"backend_url" validate:"required,url"`
	HTTPPort    string `yaml:"http_port" validate:"required,numeric"`
	MetricsPort string `yaml:"metrics_port" validate:"omitempty,numeric"`
	// AllowedOrigins lists the browser origins, besides the dashboard's own
	// host, that may open the map websocket.
	AllowedOrigins []string `yaml:"allowed_origins" validate:"dive,http_url"`

	// RedisAddr empty disables the fleet mirror.
	RedisAddr string        `yaml:"redis_addr" validate:"omitempty,hostname_port"`
	RedisDB   int           `yaml:"redis_db" validate:"gte=0"`
	MirrorTTL time.Duration `yaml:"mirror_ttl" validate:"gte=0"`

	// Optional credentials used to log in at startup.
	Username string `yaml:"username" validate:"required_with=Password"`
	Password string `yaml:"password"`

	FleetInterval       time.Duration `yaml:"fleet_interval" validate:"gt=0"`
	DetailInterval      time.Duration `yaml:"detail_interval" validate:"gt=0"`
	RequestTimeout      time.Duration `yaml:"request_timeout" validate:"gt=0"`
	LocationConcurrency int           `yaml:"location_concurrency" validate:"gte=1"`

	Timezone string `yaml:"timezone"`
	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

func Defaults() Config {
	return Config{
		BackendURL:          "http://localhost:5000",
		HTTPPort:            "8080",
		MetricsPort:         "9000",
		MirrorTTL:           10 * time.Minute,
		FleetInterval:       5 * time.Second,
		DetailInterval:      10 * time.Second,
		RequestTimeout:      10 * time.Second,
		LocationConcurrency: 8,
		Timezone:            "Local",
		LogLevel:            "info",
	}
}

// Load builds the configuration from defaults, the YAML file at path (skipped
// when path is empty) and environment overrides, then validates it.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.BackendURL = getEnv("BACKEND_URL", cfg.BackendURL)
	cfg.HTTPPort = getEnv("HTTP_PORT", cfg.HTTPPort)
	cfg.MetricsPort = getEnv("METRICS_PORT", cfg.MetricsPort)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.Username = getEnv("DASHBOARD_USERNAME", cfg.Username)
	cfg.Password = getEnv("DASHBOARD_PASSWORD", cfg.Password)
	cfg.Timezone = getEnv("DASHBOARD_TZ", cfg.Timezone)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.AllowedOrigins = getEnvList("ALLOWED_ORIGINS", cfg.AllowedOrigins)

	var err error
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", cfg.RedisDB); err != nil {
		return Config{}, err
	}
	if cfg.FleetInterval, err = getEnvDuration("FLEET_INTERVAL", cfg.FleetInterval); err != nil {
		return Config{}, err
	}
	if cfg.DetailInterval, err = getEnvDuration("DETAIL_INTERVAL", cfg.DetailInterval); err != nil {
		return Config{}, err
	}
	if cfg.RequestTimeout, err = getEnvDuration("REQUEST_TIMEOUT", cfg.RequestTimeout); err != nil {
		return Config{}, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	if _, err := cfg.Location(); err != nil {
		return Config{}, fmt.Errorf("invalid config: timezone %q: %w", cfg.Timezone, err)
	}
	return cfg, nil
}

// Location resolves the timezone used for popup labels.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvInt(key string, fallback int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
