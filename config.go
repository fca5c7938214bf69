package main

import (
	"flag"
	"os"
	"strconv"
)

// Config holds the application configuration
type Config struct {
	// BindAddress is the address the server listens on (e.g. "0.0.0.0:8080")
	BindAddress string
	// SerialPort is the path to the module's serial port (e.g. "/dev/ttyUSB0")
	SerialPort string
	// BaudRate is the baud rate for serial communication with the module (e.g. 115200)
	BaudRate int
	// LogLevel sets the logging level (e.g. "debug", "info", "warn", "error")
	LogLevel string
	// WifiSSID is the access point joined at startup; empty keeps the module's current association
	WifiSSID string
	// WifiPassword is the passphrase of WifiSSID
	WifiPassword string
	// MuxCount is the number of multiplexed connections exposed over HTTP
	MuxCount int
}

// ConfigOption is a function that modifies a Config
type ConfigOption func(*Config) error

// LoadConfig creates a new config by applying the given options in order
func LoadConfig(opts ...ConfigOption) (*Config, error) {
	config := &Config{}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}

	return config, nil
}

// WithDefaults applies default configuration values
func WithDefaults() ConfigOption {
	return func(c *Config) error {
		c.BindAddress = "0.0.0.0:8080"
		c.SerialPort = "/dev/ttyUSB0"
		c.BaudRate = 115200
		c.LogLevel = "info"
		c.MuxCount = 5
		return nil
	}
}

// setting binds one Config field to its environment variable and flag.
type setting struct {
	env, flag string
	set       func(*Config, string)
}

var settings = []setting{
	{"BIND_ADDRESS", "bind-address", func(c *Config, v string) { c.BindAddress = v }},
	{"SERIAL_PORT", "serial-port", func(c *Config, v string) { c.SerialPort = v }},
	{"BAUD_RATE", "baud-rate", intSetter(func(c *Config) *int { return &c.BaudRate })},
	{"LOG_LEVEL", "log-level", func(c *Config, v string) { c.LogLevel = v }},
	{"WIFI_SSID", "wifi-ssid", func(c *Config, v string) { c.WifiSSID = v }},
	{"WIFI_PASSWORD", "wifi-password", func(c *Config, v string) { c.WifiPassword = v }},
	{"MUX_COUNT", "mux-count", intSetter(func(c *Config) *int { return &c.MuxCount })},
}

// intSetter ignores values that do not parse.
func intSetter(field func(*Config) *int) func(*Config, string) {
	return func(c *Config, v string) {
		if n, err := strconv.Atoi(v); err == nil {
			*field(c) = n
		}
	}
}

// WithEnv loads the non-empty environment variables of settings
func WithEnv() ConfigOption {
	return func(c *Config) error {
		for _, s := range settings {
			if v := os.Getenv(s.env); v != "" {
				s.set(c, v)
			}
		}
		return nil
	}
}

// WithFlags loads the flags of settings that were set on fSet
func WithFlags(fSet *flag.FlagSet) ConfigOption {
	return func(c *Config) error {
		byFlag := make(map[string]setting, len(settings))
		for _, s := range settings {
			byFlag[s.flag] = s
		}
		fSet.Visit(func(f *flag.Flag) {
			if s, ok := byFlag[f.Name]; ok {
				s.set(c, f.Value.String())
			}
		})
		return nil
	}
}
