package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultWeatherAPIURL is the apihz.cn current-weather endpoint.
const DefaultWeatherAPIURL = "https://cn.apihz.cn/api/tianqi/tqyb.php"

// Config holds service configuration loaded from .env, YAML and env.
type Config struct {
	TestingMode bool

	ServerPort string

	WeatherAppID      string
	WeatherAppKey     string
	WeatherAPIURL     string
	WeatherAPITimeout time.Duration

	DatasetPath string

	RequestTimeout   time.Duration
	CacheTTL         time.Duration
	QueryMinInterval time.Duration

	RateLimitRPS   int
	RateLimitBurst int

	ShutdownTimeout time.Duration

	TrackedProvinces []string
}

type fileConfig struct {
	TestingMode *bool `yaml:"testing_mode"`

	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	WeatherAPI struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"weather_api"`

	Dataset struct {
		Path string `yaml:"path"`
	} `yaml:"dataset"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		TTL string `yaml:"ttl"`
	} `yaml:"cache"`

	Query struct {
		MinInterval string `yaml:"min_interval"`
	} `yaml:"query"`

	RateLimit struct {
		RPS   int `yaml:"rps"`
		Burst int `yaml:"burst"`
	} `yaml:"rate_limit"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Metrics struct {
		TrackedProvinces []string `yaml:"tracked_provinces"`
	} `yaml:"metrics"`
}

type secretsFile struct {
	WeatherAppID  string `yaml:"weather_app_id"`
	WeatherAppKey string `yaml:"weather_app_key"`
}

// Load reads .env, config/{ENV_NAME}.yaml (default dev) and config/secrets.yaml
// from the working directory. Credentials come from WEATHER_APP_ID and
// WEATHER_APP_KEY or the secrets file and are required.
func Load() (*Config, error) {
	return load(true)
}

// LoadForCatalog is Load without the credential requirement, for commands
// that only read the location dataset.
func LoadForCatalog() (*Config, error) {
	return load(false)
}

func load(requireCredentials bool) (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}

	// Existing environment variables take precedence over .env entries.
	if err := godotenv.Load(filepath.Join(cwd, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	configPath := filepath.Join(cwd, "config", env+".yaml")
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
	if fc.TestingMode != nil {
		cfg.TestingMode = *fc.TestingMode
	}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	cfg.WeatherAppID = strings.TrimSpace(os.Getenv("WEATHER_APP_ID"))
	cfg.WeatherAppKey = strings.TrimSpace(os.Getenv("WEATHER_APP_KEY"))
	if cfg.WeatherAppID == "" || cfg.WeatherAppKey == "" {
		sec, err := loadSecrets(filepath.Join(cwd, "config", "secrets.yaml"))
		if err != nil {
			return nil, err
		}
		if cfg.WeatherAppID == "" {
			cfg.WeatherAppID = strings.TrimSpace(sec.WeatherAppID)
		}
		if cfg.WeatherAppKey == "" {
			cfg.WeatherAppKey = strings.TrimSpace(sec.WeatherAppKey)
		}
	}
	if requireCredentials && (cfg.WeatherAppID == "" || cfg.WeatherAppKey == "") {
		return nil, fmt.Errorf("WEATHER_APP_ID and WEATHER_APP_KEY required (set env, .env or config/secrets.yaml weather_app_id/weather_app_key)")
	}

	cfg.WeatherAPIURL = strings.TrimSpace(fc.WeatherAPI.URL)
	if cfg.WeatherAPIURL == "" {
		cfg.WeatherAPIURL = DefaultWeatherAPIURL
	}
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 10*time.Second)

	cfg.DatasetPath = strings.TrimSpace(os.Getenv("CITY_DATASET"))
	if cfg.DatasetPath == "" {
		cfg.DatasetPath = strings.TrimSpace(fc.Dataset.Path)
	}
	if cfg.DatasetPath == "" {
		cfg.DatasetPath = filepath.Join("data", "ChinaCitys.json")
	}
	if !filepath.IsAbs(cfg.DatasetPath) {
		cfg.DatasetPath = filepath.Join(cwd, cfg.DatasetPath)
	}

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 35*time.Second)
	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 600*time.Second)
	cfg.QueryMinInterval = parseDuration(fc.Query.MinInterval, 3*time.Second)

	cfg.RateLimitRPS = fc.RateLimit.RPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 5
	}
	cfg.RateLimitBurst = fc.RateLimit.Burst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 10
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 10*time.Second)
	cfg.TrackedProvinces = fc.Metrics.TrackedProvinces

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadSecrets(path string) (secretsFile, error) {
	var sec secretsFile
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return sec, nil
		}
		return sec, fmt.Errorf("read secrets file: %w", err)
	}
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return sec, fmt.Errorf("parse secrets file: %w", err)
	}
	return sec, nil
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
// Zero or negative durations are returned as-is for validate to reject.
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

// maxCandidates is the longest fallback chain (district, city, province).
const maxCandidates = 3

// validate checks loaded values. RequestTimeout is raised so a POST /queries
// can outlive a full fallback chain of API calls.
func validate(cfg *Config) error {
	if cfg.WeatherAPITimeout <= 0 {
		return fmt.Errorf("weather_api.timeout must be positive")
	}
	if minimum := maxCandidates*cfg.WeatherAPITimeout + time.Second; cfg.RequestTimeout < minimum {
		cfg.RequestTimeout = minimum
	}
	if !strings.HasPrefix(cfg.WeatherAPIURL, "http://") && !strings.HasPrefix(cfg.WeatherAPIURL, "https://") {
		return fmt.Errorf("weather_api.url must be an http(s) URL, got %q", cfg.WeatherAPIURL)
	}
	return nil
}
