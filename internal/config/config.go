// Package config loads lifionfs configuration from the environment, an
// optional .env file and an optional YAML file.
//
// Precedence, lowest first: defaults, YAML file, .env file, process
// environment. Command-line flags are applied by the caller on top.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/fruitsalade/lifionfs/pkg/dircache"
	"github.com/fruitsalade/lifionfs/pkg/provider"
	"github.com/fruitsalade/lifionfs/pkg/retry"
	"github.com/fruitsalade/lifionfs/pkg/textenc"
	"github.com/fruitsalade/lifionfs/pkg/vpath"
)

const envPrefix = "LIFIONFS_"

// Config holds all lifionfs configuration.
type Config struct {
	// Remote document store
	Endpoint       string        `yaml:"endpoint"`
	AuthToken      string        `yaml:"auth_token"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RetryAttempts  int           `yaml:"retry_attempts"`
	RateLimit      float64       `yaml:"rate_limit"`

	// Namespace
	Scheme   string `yaml:"scheme"`
	RootName string `yaml:"root_name"`
	RootPath string `yaml:"root_path"`
	Encoding string `yaml:"encoding"`

	// Behaviour
	CacheSize   int    `yaml:"cache_size"`
	CachePolicy string `yaml:"cache_policy"`
	ErrorPolicy string `yaml:"error_policy"`
	SizeSource  string `yaml:"size_source"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Hosts
	ListenAddr  string `yaml:"listen_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	MountPoint  string `yaml:"mount_point"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Endpoint:       "http://localhost:8000",
		RequestTimeout: 30 * time.Second,
		RetryAttempts:  3,
		Scheme:         vpath.DefaultScheme,
		RootName:       provider.DefaultRootName,
		RootPath:       "/test/a/test/",
		Encoding:       textenc.Default,
		CacheSize:      dircache.DefaultSize,
		CachePolicy:    string(dircache.PolicyPrune),
		ErrorPolicy:    string(provider.PolicyDegrade),
		SizeSource:     string(provider.SizeFromScript),
		LogLevel:       "info",
		LogFormat:      "json",
		ListenAddr:     ":8080",
		MetricsAddr:    ":9090",
	}
}

// Load reads configuration using LIFIONFS_ENV_FILE (default ".env", optional)
// and LIFIONFS_CONFIG (YAML, optional).
func Load() (*Config, error) {
	envFile := os.Getenv(envPrefix + "ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	return LoadFiles(envFile, os.Getenv(envPrefix+"CONFIG"))
}

// LoadFiles reads configuration from the given files and the environment.
// A missing envFile is ignored; a missing yamlFile is an error unless
// yamlFile is empty.
func LoadFiles(envFile, yamlFile string) (*Config, error) {
	cfg := Default()

	if yamlFile != "" {
		data, err := os.ReadFile(yamlFile)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", yamlFile, err)
		}
	}

	dotenv := map[string]string{}
	if envFile != "" {
		m, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			dotenv = m
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("read env file %s: %w", envFile, err)
		}
	}

	e := env{dotenv: dotenv}
	cfg.Endpoint = e.str("ENDPOINT", cfg.Endpoint)
	cfg.AuthToken = e.str("AUTH_TOKEN", cfg.AuthToken)
	cfg.RequestTimeout = e.duration("REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.RetryAttempts = e.integer("RETRY_ATTEMPTS", cfg.RetryAttempts)
	cfg.RateLimit = e.float("RATE_LIMIT", cfg.RateLimit)
	cfg.Scheme = e.str("SCHEME", cfg.Scheme)
	cfg.RootName = e.str("ROOT_NAME", cfg.RootName)
	cfg.RootPath = e.str("ROOT_PATH", cfg.RootPath)
	cfg.Encoding = e.str("ENCODING", cfg.Encoding)
	cfg.CacheSize = e.integer("CACHE_SIZE", cfg.CacheSize)
	cfg.CachePolicy = e.str("CACHE_POLICY", cfg.CachePolicy)
	cfg.ErrorPolicy = e.str("ERROR_POLICY", cfg.ErrorPolicy)
	cfg.SizeSource = e.str("SIZE_SOURCE", cfg.SizeSource)
	cfg.LogLevel = e.str("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = e.str("LOG_FORMAT", cfg.LogFormat)
	cfg.ListenAddr = e.str("LISTEN_ADDR", cfg.ListenAddr)
	cfg.MetricsAddr = e.str("METRICS_ADDR", cfg.MetricsAddr)
	cfg.MountPoint = e.str("MOUNT_POINT", cfg.MountPoint)

	return cfg, nil
}

// Validate checks values that Load cannot.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("endpoint %q must be an http(s) URL", c.Endpoint)
	}
	if c.Scheme == "" || strings.ContainsAny(c.Scheme, ":/") {
		return fmt.Errorf("invalid scheme %q", c.Scheme)
	}
	if c.RootName == "" || strings.Contains(c.RootName, "/") {
		return fmt.Errorf("invalid root name %q", c.RootName)
	}
	if _, err := textenc.Lookup(c.Encoding); err != nil {
		return err
	}
	if _, err := dircache.ParsePolicy(c.CachePolicy); err != nil {
		return err
	}
	if _, err := provider.ParseErrorPolicy(c.ErrorPolicy); err != nil {
		return err
	}
	if _, err := provider.ParseSizeSource(c.SizeSource); err != nil {
		return err
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("retry_attempts must be at least 1, got %d", c.RetryAttempts)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative, got %g", c.RateLimit)
	}
	if c.CacheSize < 1 {
		return fmt.Errorf("cache_size must be at least 1, got %d", c.CacheSize)
	}
	return nil
}

// RootURI returns the URI hosts mount as the directory.
func (c *Config) RootURI() vpath.URI {
	return vpath.URI{Scheme: c.Scheme, Path: c.RootPath}
}

// Retry returns the retry policy for remote calls.
func (c *Config) Retry() retry.Config {
	r := retry.DefaultConfig()
	r.MaxAttempts = c.RetryAttempts
	return r
}

// env reads LIFIONFS_* keys from the process environment, then the .env file.
type env struct {
	dotenv map[string]string
}

func (e env) lookup(key string) string {
	key = envPrefix + key
	if v := os.Getenv(key); v != "" {
		return v
	}
	return e.dotenv[key]
}

func (e env) str(key, fallback string) string {
	if v := e.lookup(key); v != "" {
		return v
	}
	return fallback
}

func (e env) integer(key string, fallback int) int {
	v := e.lookup(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func (e env) float(key string, fallback float64) float64 {
	v := e.lookup(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func (e env) duration(key string, fallback time.Duration) time.Duration {
	v := e.lookup(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
