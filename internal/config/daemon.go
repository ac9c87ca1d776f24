// Package config holds the daemon configuration. Precedence is
// defaults < file < env < flags.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	commoncfg "github.com/tonbridge/tonbridge/core/config"
)

// DaemonConfig holds configuration for tonbridged.
type DaemonConfig struct {
	Port           int           `yaml:"port"`
	MetricsAddr    string        `yaml:"metrics_addr"`
	ClientKey      string        `yaml:"client_key"`
	RedisAddr      string        `yaml:"redis_addr"`
	SessionTTL     time.Duration `yaml:"session_ttl"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	AppName        string        `yaml:"app_name"`
	AppVersion     string        `yaml:"app_version"`
	MaxMessages    int           `yaml:"max_messages"`
	Testnet        bool          `yaml:"testnet"`
	WalletAddress  string        `yaml:"wallet_address"`
	WalletPubKey   string        `yaml:"wallet_public_key"`
	ConfigFile     string        `yaml:"-"`
	LogLevel       string        `yaml:"log_level"`
}

// SetDefaults initializes c with built-in defaults.
func (c *DaemonConfig) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = fmt.Sprintf(":%d", c.Port)
	}
	if c.SessionTTL == 0 {
		c.SessionTTL = 14 * 24 * time.Hour
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 2 * time.Minute
	}
	if c.AppName == "" {
		c.AppName = "tonbridge"
	}
	if c.MaxMessages == 0 {
		c.MaxMessages = 4
	}
	if c.ConfigFile == "" {
		c.ConfigFile = commoncfg.DefaultConfigPath("tonbridged.yaml")
	}
}

// ApplyEnv overlays environment variables onto the current config values.
func (c *DaemonConfig) ApplyEnv() {
	if v := commoncfg.GetEnv("CONFIG_FILE", ""); v != "" {
		c.ConfigFile = v
	}
	if v := commoncfg.GetEnv("LOG_LEVEL", ""); v != "" {
		c.LogLevel = v
	}
	if v := commoncfg.GetEnv("PORT", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Port = n
		}
	}
	if v := commoncfg.GetEnv("METRICS_PORT", ""); v != "" {
		if strings.Contains(v, ":") {
			c.MetricsAddr = v
		} else {
			c.MetricsAddr = ":" + v
		}
	} else if c.MetricsAddr == "" {
		c.MetricsAddr = fmt.Sprintf(":%d", c.Port)
	}
	if v := commoncfg.GetEnv("CLIENT_KEY", ""); v != "" {
		c.ClientKey = v
	}
	if v := commoncfg.GetEnv("REDIS_ADDR", ""); v != "" {
		c.RedisAddr = v
	}
	if v := commoncfg.GetEnv("SESSION_TTL", ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.SessionTTL = d
		}
	}
	if v := commoncfg.GetEnv("REQUEST_TIMEOUT", ""); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.RequestTimeout = time.Duration(f * float64(time.Second))
		}
	}
	if v := commoncfg.GetEnv("ALLOWED_ORIGINS", ""); v != "" {
		c.AllowedOrigins = splitComma(v)
	}
	if v := commoncfg.GetEnv("APP_NAME", ""); v != "" {
		c.AppName = v
	}
	if v := commoncfg.GetEnv("APP_VERSION", ""); v != "" {
		c.AppVersion = v
	}
	if v := commoncfg.GetEnv("MAX_MESSAGES", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxMessages = n
		}
	}
	if v := commoncfg.GetEnv("TESTNET", ""); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Testnet = b
		}
	}
	if v := commoncfg.GetEnv("WALLET_ADDRESS", ""); v != "" {
		c.WalletAddress = v
	}
	if v := commoncfg.GetEnv("WALLET_PUBLIC_KEY", ""); v != "" {
		c.WalletPubKey = v
	}
}

// BindFlagsFromCurrent binds command line flags using the current config
// values as defaults.
func (c *DaemonConfig) BindFlagsFromCurrent() {
	flag.StringVar(&c.ConfigFile, "config", c.ConfigFile, "daemon config file path")
	flag.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log verbosity (all, debug, info, warn, error, fatal, none)")
	flag.IntVar(&c.Port, "port", c.Port, "HTTP listen port for the bridge endpoint")
	flag.StringVar(&c.MetricsAddr, "metrics-port", c.MetricsAddr, "Prometheus metrics listen address or port; defaults to the value of --port")
	flag.StringVar(&c.ClientKey, "client-key", c.ClientKey, "shared key dapp hosts must present when registering")
	flag.StringVar(&c.RedisAddr, "redis-addr", c.RedisAddr, "redis connection URL for session persistence; empty keeps sessions in memory")
	flag.DurationVar(&c.SessionTTL, "session-ttl", c.SessionTTL, "idle lifetime of a granted session")
	flag.Func("request-timeout", "request timeout in seconds", func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		c.RequestTimeout = time.Duration(f * float64(time.Second))
		return nil
	})
	flag.Func("allowed-origins", "comma separated list of allowed CORS origins", func(v string) error {
		c.AllowedOrigins = splitComma(v)
		return nil
	})
	flag.StringVar(&c.AppName, "app-name", c.AppName, "wallet application name advertised to dapps")
	flag.BoolVar(&c.Testnet, "testnet", c.Testnet, "serve testnet accounts")
	flag.StringVar(&c.WalletAddress, "wallet-address", c.WalletAddress, "address granted to connecting dapps")
	flag.StringVar(&c.WalletPubKey, "wallet-public-key", c.WalletPubKey, "hex public key of the granted account")
}

// LoadFile populates the config from a YAML file.
func (c *DaemonConfig) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, c)
}

func splitComma(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
