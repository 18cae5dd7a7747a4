package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"

	"healthrisk/logging"
)

const (
	ScalePercent  = "percent"
	ScaleFraction = "fraction"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       logging.Config  `mapstructure:"log"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	Inference InferenceConfig `mapstructure:"inference"`
	History   HistoryConfig   `mapstructure:"history"`
	Alerts    AlertsConfig    `mapstructure:"alerts"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	Admin           bool          `mapstructure:"admin"`
}

type ArtifactsConfig struct {
	Dir      string      `mapstructure:"dir"`
	Maternal string      `mapstructure:"maternal"`
	PCOS     string      `mapstructure:"pcos"`
	Watch    bool        `mapstructure:"watch"`
	Cache    CacheConfig `mapstructure:"cache"`
}

type CacheConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Size    int  `mapstructure:"size"`
}

type InferenceConfig struct {
	// ProbabilityScale is "percent" (x100, 2 decimals) or "fraction" (4 decimals).
	ProbabilityScale string `mapstructure:"probability_scale"`
	NormalizeRisk    bool   `mapstructure:"normalize_risk"`
}

type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type AlertsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Buffer  int  `mapstructure:"buffer"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load reads configuration from the given file, or config.yaml in the
// usual locations when path is empty. HEALTHRISK_* environment variables
// override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/healthrisk")
	}

	v.SetEnvPrefix("HEALTHRISK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration used when no file or environment
// override is present.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.admin", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", true)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 10)
	v.SetDefault("log.max_age_days", 7)
	v.SetDefault("log.compress", true)

	v.SetDefault("artifacts.dir", "models")
	v.SetDefault("artifacts.maternal", "maternal_lite")
	v.SetDefault("artifacts.pcos", "pcos_lite")
	v.SetDefault("artifacts.watch", true)
	v.SetDefault("artifacts.cache.enabled", true)
	v.SetDefault("artifacts.cache.size", 8)

	v.SetDefault("inference.probability_scale", ScalePercent)
	v.SetDefault("inference.normalize_risk", false)

	v.SetDefault("history.enabled", false)
	v.SetDefault("history.path", "data/predictions.db")

	v.SetDefault("alerts.enabled", true)
	v.SetDefault("alerts.buffer", 256)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

func (c *Config) Validate() error {
	var result *multierror.Error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		result = multierror.Append(result, errors.New("server.port must be between 1 and 65535"))
	}
	if c.Server.MaxBodyBytes <= 0 {
		result = multierror.Append(result, errors.New("server.max_body_bytes must be positive"))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		result = multierror.Append(result, fmt.Errorf("log.level: %w", err))
	}
	if c.Artifacts.Dir == "" {
		result = multierror.Append(result, errors.New("artifacts.dir is required"))
	}
	if c.Artifacts.Maternal == "" {
		result = multierror.Append(result, errors.New("artifacts.maternal is required"))
	}
	if c.Artifacts.PCOS == "" {
		result = multierror.Append(result, errors.New("artifacts.pcos is required"))
	}
	if c.Artifacts.Cache.Enabled && c.Artifacts.Cache.Size <= 0 {
		result = multierror.Append(result, errors.New("artifacts.cache.size must be positive"))
	}
	switch c.Inference.ProbabilityScale {
	case ScalePercent, ScaleFraction:
	default:
		result = multierror.Append(result, fmt.Errorf("inference.probability_scale must be one of: %s, %s", ScalePercent, ScaleFraction))
	}
	if c.History.Enabled && c.History.Path == "" {
		result = multierror.Append(result, errors.New("history.path is required when history is enabled"))
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		result = multierror.Append(result, errors.New("metrics.path must start with /"))
	}
	return result.ErrorOrNil()
}
