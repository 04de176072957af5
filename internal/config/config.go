package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Defaults center the search on Vienna with a 20 km radius.
const (
	DefaultOpenAQAPIURL    = "https://api.openaq.org/v2"
	DefaultCenterLatitude  = 48.2082
	DefaultCenterLongitude = 16.3738
	DefaultRadiusMeters    = 20000

	// maxRadiusMeters is the largest radius the OpenAQ locations endpoint accepts.
	maxRadiusMeters = 100000
)

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort string

	OpenAQAPIKey     string
	OpenAQAPIURL     string
	OpenAQAPITimeout time.Duration

	CenterLatitude  float64
	CenterLongitude float64
	RadiusMeters    int
	// CutoffLocation is the zone whose midnight starts "today" for the location recency filter.
	CutoffLocation *time.Location

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	RequestTimeout time.Duration
	RateLimitRPS   int
	RateLimitBurst int

	// RefreshInterval rebuilds the snapshot periodically when positive. Zero keeps the
	// startup snapshot for the life of the process.
	RefreshInterval time.Duration
	StartupTimeout  time.Duration

	ShutdownTimeout               time.Duration
	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	OpenAQ struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"openaq"`

	Area struct {
		Latitude     *float64 `yaml:"latitude"`
		Longitude    *float64 `yaml:"longitude"`
		RadiusMeters int      `yaml:"radius_meters"`
		TimeZone     string   `yaml:"time_zone"`
	} `yaml:"area"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Reliability struct {
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		RateLimitRPS     int    `yaml:"rate_limit_rps"`
		RateLimitBurst   int    `yaml:"rate_limit_burst"`
	} `yaml:"reliability"`

	Snapshot struct {
		RefreshInterval string `yaml:"refresh_interval"`
		StartupTimeout  string `yaml:"startup_timeout"`
	} `yaml:"snapshot"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`
}

type secretsFile struct {
	OpenAQAPIKey string `yaml:"openaq_api_key"`
}

// envOverrides are applied on top of the YAML file. Empty values leave the file setting alone.
type envOverrides struct {
	EnvName         string `envconfig:"ENV_NAME" default:"dev"`
	APIKey          string `envconfig:"OPENAQ_API_KEY"`
	APIURL          string `envconfig:"OPENAQ_API_URL"`
	ServerPort      string `envconfig:"SERVER_PORT"`
	RefreshInterval string `envconfig:"REFRESH_INTERVAL"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) and config/secrets.yaml.
// API key comes from OPENAQ_API_KEY env or secrets file. Call from project root.
func Load() (*Config, error) {
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("config: read environment: %w", err)
	}
	if strings.TrimSpace(env.EnvName) == "" {
		env.EnvName = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env.EnvName+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}

	cfg.ServerPort = firstNonEmpty(env.ServerPort, fc.Server.Port, "8080")

	cfg.OpenAQAPIKey = strings.TrimSpace(env.APIKey)
	if cfg.OpenAQAPIKey == "" {
		secretsPath := filepath.Join(cwd, "config", "secrets.yaml")
		secretsData, err := os.ReadFile(secretsPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read secrets file: %w", err)
			}
		} else {
			var sec secretsFile
			if err := yaml.Unmarshal(secretsData, &sec); err != nil {
				return nil, fmt.Errorf("parse secrets file: %w", err)
			}
			cfg.OpenAQAPIKey = strings.TrimSpace(sec.OpenAQAPIKey)
		}
	}
	if cfg.OpenAQAPIKey == "" {
		return nil, fmt.Errorf("OPENAQ_API_KEY required (set env or config/secrets.yaml openaq_api_key)")
	}

	cfg.OpenAQAPIURL = strings.TrimRight(firstNonEmpty(env.APIURL, fc.OpenAQ.URL, DefaultOpenAQAPIURL), "/")
	cfg.OpenAQAPITimeout = parseDurationOrZero(fc.OpenAQ.Timeout, 10*time.Second)

	cfg.CenterLatitude = DefaultCenterLatitude
	if fc.Area.Latitude != nil {
		cfg.CenterLatitude = *fc.Area.Latitude
	}
	cfg.CenterLongitude = DefaultCenterLongitude
	if fc.Area.Longitude != nil {
		cfg.CenterLongitude = *fc.Area.Longitude
	}
	cfg.RadiusMeters = fc.Area.RadiusMeters
	if cfg.RadiusMeters == 0 {
		cfg.RadiusMeters = DefaultRadiusMeters
	}
	cfg.CutoffLocation = time.Local
	if tz := strings.TrimSpace(fc.Area.TimeZone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("area.time_zone: %w", err)
		}
		cfg.CutoffLocation = loc
	}

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 5*time.Second)

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}

	refresh := firstNonEmpty(env.RefreshInterval, fc.Snapshot.RefreshInterval)
	cfg.RefreshInterval = parseDurationOrZero(refresh, 0)
	cfg.StartupTimeout = parseDuration(fc.Snapshot.StartupTimeout, 60*time.Second)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation. RequestTimeout is not tied to the upstream
// timeout because handlers never call upstream.
func validate(cfg *Config) error {
	if cfg.OpenAQAPITimeout <= 0 {
		return fmt.Errorf("openaq.timeout must be positive")
	}
	if cfg.RadiusMeters <= 0 || cfg.RadiusMeters > maxRadiusMeters {
		return fmt.Errorf("area.radius_meters must be in (0, %d], got %d", maxRadiusMeters, cfg.RadiusMeters)
	}
	if cfg.CenterLatitude < -90 || cfg.CenterLatitude > 90 {
		return fmt.Errorf("area.latitude out of range: %v", cfg.CenterLatitude)
	}
	if cfg.CenterLongitude < -180 || cfg.CenterLongitude > 180 {
		return fmt.Errorf("area.longitude out of range: %v", cfg.CenterLongitude)
	}
	if cfg.RefreshInterval < 0 {
		return fmt.Errorf("snapshot.refresh_interval must not be negative")
	}
	if cfg.RefreshInterval > 0 && cfg.RefreshInterval < time.Minute {
		return fmt.Errorf("snapshot.refresh_interval must be at least 1m, got %s", cfg.RefreshInterval)
	}
	return nil
}
