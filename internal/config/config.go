// Package config loads iorelay's runtime configuration through viper,
// following the env-prefixed, file-optional pattern used by the host agent
// config loader this module was grounded on.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the iorelay server.
type Config struct {
	Port         int           `mapstructure:"port"`
	MasterSecret string        `mapstructure:"master_secret"`
	GinMode      string        `mapstructure:"gin_mode"`
	TLSCertFile  string        `mapstructure:"tls_cert_file"`
	TLSKeyFile   string        `mapstructure:"tls_key_file"`
	TokenExpiry  time.Duration `mapstructure:"token_expiry"`

	// MachinesStateFile is where the store persists machine records across
	// restarts. Empty means in-memory only.
	MachinesStateFile string `mapstructure:"machines_state_file"`

	// Resource is the path prefix the Engine/Messaging transport listens
	// under, e.g. "socket.io".
	Resource string `mapstructure:"resource"`

	// Transports is the handshake transport allow-list.
	Transports []string `mapstructure:"transports"`

	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PingTimeout    time.Duration `mapstructure:"ping_timeout"`
	UpgradeTimeout time.Duration `mapstructure:"upgrade_timeout"`
}

// TransportSet returns Transports as the map[string]bool allow-list the
// engineio.ServerConfig expects.
func (c Config) TransportSet() map[string]bool {
	set := make(map[string]bool, len(c.Transports))
	for _, t := range c.Transports {
		set[t] = true
	}
	return set
}

// LoadConfig reads configuration from the environment (prefix IORELAY_),
// falling back to the defaults below when a variable is unset. It never
// reads a config file path from a command-line flag; set IORELAY_CONFIG_FILE
// to point at an optional file, mirroring the agent loader this is
// grounded on.
func LoadConfig() (Config, error) {
	v := viper.New()

	v.SetDefault("port", 3000)
	v.SetDefault("gin_mode", "release")
	v.SetDefault("token_expiry", 7*24*time.Hour)
	v.SetDefault("machines_state_file", "")
	v.SetDefault("resource", "socket.io")
	v.SetDefault("transports", []string{"polling", "websocket"})
	v.SetDefault("ping_interval", 25*time.Second)
	v.SetDefault("ping_timeout", 60*time.Second)
	v.SetDefault("upgrade_timeout", 30*time.Second)

	if configFile := os.Getenv("IORELAY_CONFIG_FILE"); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("IORELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	envBindings := []string{
		"port", "master_secret", "gin_mode", "tls_cert_file", "tls_key_file",
		"token_expiry", "machines_state_file", "resource", "transports",
		"ping_interval", "ping_timeout", "upgrade_timeout",
	}
	for _, key := range envBindings {
		_ = v.BindEnv(key)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("invalid port %d", cfg.Port)
	}
	if cfg.MasterSecret == "" {
		return Config{}, fmt.Errorf("IORELAY_MASTER_SECRET is required")
	}
	if cfg.TokenExpiry <= 0 {
		return Config{}, fmt.Errorf("invalid token_expiry")
	}
	if len(cfg.Transports) == 0 {
		return Config{}, fmt.Errorf("transports must name at least one transport")
	}

	return cfg, nil
}
