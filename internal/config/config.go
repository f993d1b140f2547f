// Package config loads service settings from defaults, an optional TOML
// file, environment variables and command-line flags, in that order.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultAddr            = ":5000"
	DefaultDBPath          = "todo.db"
	DefaultLogLevel        = "info"
	DefaultTraceExporter   = "none"
	DefaultRateLimitBurst  = 10
	DefaultShutdownTimeout = 10 * time.Second
	DefaultConfigFile      = "todo.toml"
)

type Config struct {
	Addr            string   `toml:"addr"`
	DBPath          string   `toml:"db_path"`
	LogLevel        string   `toml:"log_level"`
	RateLimitRPS    float64  `toml:"rate_limit_rps"`
	RateLimitBurst  int      `toml:"rate_limit_burst"`
	TraceExporter   string   `toml:"trace_exporter"`
	OTLPEndpoint    string   `toml:"otlp_endpoint"`
	CORSOrigins     []string `toml:"cors_origins"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

// Duration decodes TOML strings such as "5s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func setDefaults(cfg *Config) {
	cfg.Addr = DefaultAddr
	cfg.DBPath = DefaultDBPath
	cfg.LogLevel = DefaultLogLevel
	cfg.RateLimitBurst = DefaultRateLimitBurst
	cfg.TraceExporter = DefaultTraceExporter
	cfg.ShutdownTimeout = Duration{DefaultShutdownTimeout}
}

// Load builds the configuration. fs receives the service flags; args are
// usually os.Args[1:].
func Load(fs *flag.FlagSet, args []string) (*Config, error) {
	cfg := &Config{}
	setDefaults(cfg)

	configFile := fs.String("config", "", "path to a TOML config file")
	addr := fs.String("addr", "", "listen address")
	dbPath := fs.String("db", "", "path of the SQLite task store")
	logLevel := fs.String("log-level", "", "debug|info|warn|error")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	path := *configFile
	if path == "" {
		path = os.Getenv("TODO_CONFIG")
	}
	explicit := path != ""
	if path == "" {
		path = DefaultConfigFile
	}
	if err := loadFile(cfg, path, explicit); err != nil {
		return nil, err
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, err
	}

	if *addr != "" {
		cfg.Addr = *addr
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	if err := finalize(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile decodes path into cfg. A missing file is an error only when the
// caller named it explicitly.
func loadFile(cfg *Config, path string, explicit bool) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("config file %s: %w", path, err)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("loading config file %s: %w", path, err)
	}
	return nil
}

func loadFromEnv(cfg *Config) error {
	if v := os.Getenv("TODO_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("TODO_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("TODO_RATE_LIMIT_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("TODO_RATE_LIMIT_RPS: %w", err)
		}
		cfg.RateLimitRPS = f
	}
	if v := os.Getenv("TODO_RATE_LIMIT_BURST"); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TODO_RATE_LIMIT_BURST: %w", err)
		}
		cfg.RateLimitBurst = i
	}
	if v := os.Getenv("TODO_TRACE_EXPORTER"); v != "" {
		cfg.TraceExporter = v
	}
	if v := os.Getenv("TODO_OTLP_ENDPOINT"); v != "" {
		cfg.OTLPEndpoint = v
	}
	if v := os.Getenv("TODO_CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitList(v)
	}
	if v := os.Getenv("TODO_SHUTDOWN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("TODO_SHUTDOWN_TIMEOUT: %w", err)
		}
		cfg.ShutdownTimeout = Duration{d}
	}
	return nil
}

func finalize(cfg *Config) error {
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.TraceExporter = strings.ToLower(strings.TrimSpace(cfg.TraceExporter))

	if strings.TrimSpace(cfg.DBPath) == "" {
		return errors.New("db_path must not be empty")
	}
	switch cfg.TraceExporter {
	case "none", "stdout", "otlp":
	default:
		return fmt.Errorf("unknown trace_exporter %q", cfg.TraceExporter)
	}
	if cfg.RateLimitRPS < 0 {
		return fmt.Errorf("rate_limit_rps must not be negative, got %v", cfg.RateLimitRPS)
	}
	if cfg.ShutdownTimeout.Duration <= 0 {
		cfg.ShutdownTimeout = Duration{DefaultShutdownTimeout}
	}

	abs, err := filepath.Abs(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("resolving db_path: %w", err)
	}
	cfg.DBPath = abs
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
