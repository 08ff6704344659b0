// Package config loads process settings from flags, the environment and an
// optional .env file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

const (
	BindLoopback = "127.0.0.1"
	BindAll      = "0.0.0.0"

	DefaultPort       = 2009
	DefaultIntervalMS = 1000
	DefaultLogLevel   = "info"
	DefaultWSRate     = 30

	envFile = ".env"
)

// Config is the validated process configuration.
type Config struct {
	Port       int    `validate:"min=1,max=65535"`
	IntervalMS int    `validate:"min=50,max=3600000"`
	Bind       string `validate:"oneof=127.0.0.1 0.0.0.0"`
	LogLevel   string `validate:"oneof=trace debug info warn error"`
	LogFile    string
	NATMap     bool
	WSRate     int `validate:"min=1"`

	// DotEnvLoaded reports whether a .env file was found and applied.
	DotEnvLoaded bool `validate:"-"`
}

// Interval returns the sampling period.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.IntervalMS) * time.Millisecond
}

// Addr returns the host:port to listen on.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Bind, strconv.Itoa(c.Port))
}

// AllInterfaces reports whether the listener is exposed beyond loopback.
func (c *Config) AllInterfaces() bool {
	return c.Bind == BindAll
}

// Load applies .env (without overriding variables already set), then reads
// the environment and finally args. pflag.ErrHelp is returned unchanged when
// --help is requested.
func Load(args []string) (*Config, error) {
	loaded, err := LoadDotEnv(envFile)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(args, os.LookupEnv)
	if err != nil {
		return nil, err
	}
	cfg.DotEnvLoaded = loaded
	return cfg, nil
}

// Parse builds a Config from args with defaults taken from lookup.
func Parse(args []string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := &Config{
		Port:       DefaultPort,
		IntervalMS: DefaultIntervalMS,
		Bind:       BindLoopback,
		LogLevel:   DefaultLogLevel,
		WSRate:     DefaultWSRate,
	}

	var envErrs []error
	envInt := func(key string, dst *int) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				envErrs = append(envErrs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	envString := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	envInt("PORT", &cfg.Port)
	envInt("INTERVAL", &cfg.IntervalMS)
	envString("BIND", &cfg.Bind)
	envString("LOG_LEVEL", &cfg.LogLevel)
	envString("LOG_FILE", &cfg.LogFile)
	envInt("WS_RATE", &cfg.WSRate)
	if v, ok := lookup("NAT_MAP"); ok && strings.TrimSpace(v) != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			envErrs = append(envErrs, fmt.Errorf("NAT_MAP: %w", err))
		} else {
			cfg.NATMap = b
		}
	}
	if len(envErrs) > 0 {
		return nil, fmt.Errorf("invalid environment: %w", errors.Join(envErrs...))
	}

	fs := pflag.NewFlagSet("hwcast", pflag.ContinueOnError)
	fs.IntVarP(&cfg.Port, "port", "p", cfg.Port, "listen port (PORT)")
	fs.IntVarP(&cfg.IntervalMS, "interval", "i", cfg.IntervalMS, "sampling interval in milliseconds (INTERVAL)")
	fs.StringVar(&cfg.Bind, "bind", cfg.Bind, "listen address, 127.0.0.1 or 0.0.0.0 (BIND)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "trace, debug, info, warn or error (LOG_LEVEL)")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "append logs to this file instead of stderr (LOG_FILE)")
	fs.BoolVar(&cfg.NATMap, "nat-map", cfg.NATMap, "map the port on a UPnP/NAT-PMP gateway when bound to all interfaces (NAT_MAP)")
	fs.IntVar(&cfg.WSRate, "ws-rate", cfg.WSRate, "websocket upgrades per minute per client IP (WS_RATE)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadDotEnv sets KEY=VALUE pairs from path into the process environment,
// leaving variables that are already set alone. A missing file is not an
// error; it returns false.
func LoadDotEnv(path string) (bool, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err := godotenv.Load(path); err != nil {
		return false, fmt.Errorf("%s: %w", path, err)
	}
	return true, nil
}
