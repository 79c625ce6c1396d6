package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const DefaultBaseURL = "https://emkc.org/api/v2/piston"

// DefaultsConfig supplies the language and version used when a job does not
// name one.
type DefaultsConfig struct {
	Language string `mapstructure:"language"`
	Version  string `mapstructure:"version"`
}

// LimitsConfig holds the sandbox policy. Nil limits are left to the service.
type LimitsConfig struct {
	CompileTimeout     *int64   `mapstructure:"compile_timeout"`
	CompileCPUTime     *int64   `mapstructure:"compile_cpu_time"`
	CompileMemoryLimit *int64   `mapstructure:"compile_memory_limit"`
	RunTimeout         *int64   `mapstructure:"run_timeout"`
	RunCPUTime         *int64   `mapstructure:"run_cpu_time"`
	RunMemoryLimit     *int64   `mapstructure:"run_memory_limit"`
	Languages          []string `mapstructure:"languages"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	ServiceName string  `mapstructure:"service_name"`
}

type Config struct {
	BaseURL     string            `mapstructure:"base_url"`
	Headers     map[string]string `mapstructure:"headers"`
	HTTPTimeout time.Duration     `mapstructure:"http_timeout"`
	Defaults    DefaultsConfig    `mapstructure:"defaults"`
	Limits      LimitsConfig      `mapstructure:"limits"`
	Server      ServerConfig      `mapstructure:"server"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Log         LogConfig         `mapstructure:"log"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Tracing     TracingConfig     `mapstructure:"tracing"`
}

// Keys without a default that can still be set from the environment.
var envOnlyKeys = []string{
	"defaults.language",
	"defaults.version",
	"limits.compile_timeout",
	"limits.compile_cpu_time",
	"limits.compile_memory_limit",
	"limits.run_timeout",
	"limits.run_cpu_time",
	"limits.run_memory_limit",
	"tracing.endpoint",
}

// Load reads piston.yaml from path, or from ./ and $HOME/.piston when path is
// empty. A missing file is only an error when path is given. A .env file in
// the working directory is loaded first, and PISTON_* variables override the
// file (PISTON_BASE_URL, PISTON_SERVER_PORT, ...).
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("piston")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.piston")
	}

	v.SetEnvPrefix("PISTON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envOnlyKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	v.SetDefault("base_url", DefaultBaseURL)
	v.SetDefault("http_timeout", time.Duration(0))
	v.SetDefault("server.port", 8080)
	v.SetDefault("storage.db_path", filepath.Join(os.Getenv("HOME"), ".piston", "history.db"))
	v.SetDefault("log.level", "info")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.insecure", false)
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.service_name", "piston-go")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Expand environment variables in header values
	for name, value := range cfg.Headers {
		cfg.Headers[name] = expandEnv(value)
	}

	return &cfg, nil
}

func expandEnv(value string) string {
	if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
		return os.Getenv(value[2 : len(value)-1])
	}
	return value
}
