package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	// BindAddress is the address the HTTP server listens on (e.g. "0.0.0.0:8080")
	BindAddress string
	// SerialPort is the path to the modem's primary AT port (e.g. "/dev/ttyUSB0")
	SerialPort string
	// SecondarySerialPort is a second AT port used for long running commands
	// such as operator scans. Empty means the primary port is shared.
	SecondarySerialPort string
	// BaudRate is the baud rate for serial communication with the modem (e.g. 115200)
	BaudRate int
	// LogLevel sets the logging level (e.g. "debug", "info", "warn", "error")
	LogLevel string
	// LogFile is an optional rotated log file written next to stderr
	LogFile string
	// SimPIN is the SIM card PIN code
	SimPIN string
	// ATTimeout bounds the response time of a single AT command
	ATTimeout time.Duration
	// MinSendInterval is the minimum gap between two AT commands on a port
	MinSendInterval time.Duration
	// ObexAddress is the TCP address of the OBEX push server. Empty disables it.
	ObexAddress string
	// InboxDir receives the objects pushed over OBEX
	InboxDir string
	// BusinessCard is the path of the vCard served to OBEX pulls
	BusinessCard string
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
		c.ATTimeout = 5 * time.Second
		c.ObexAddress = ":6500"
		c.InboxDir = "inbox"
		return nil
	}
}

// WithFile loads configuration from a YAML, TOML or JSON file. Keys that are
// absent from the file keep their current value. An empty path is ignored.
func WithFile(path string) ConfigOption {
	return func(c *Config) error {
		if path == "" {
			return nil
		}

		v := viper.New()
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config file %s: %w", path, err)
		}

		setString := func(key string, dst *string) {
			if v.IsSet(key) {
				*dst = v.GetString(key)
			}
		}
		setDuration := func(key string, dst *time.Duration) {
			if v.IsSet(key) {
				*dst = v.GetDuration(key)
			}
		}

		setString("bind_address", &c.BindAddress)
		setString("serial_port", &c.SerialPort)
		setString("secondary_serial_port", &c.SecondarySerialPort)
		setString("log_level", &c.LogLevel)
		setString("log_file", &c.LogFile)
		setString("sim_pin", &c.SimPIN)
		setString("obex_address", &c.ObexAddress)
		setString("inbox_dir", &c.InboxDir)
		setString("business_card", &c.BusinessCard)
		setDuration("at_timeout", &c.ATTimeout)
		setDuration("min_send_interval", &c.MinSendInterval)
		if v.IsSet("baud_rate") {
			c.BaudRate = v.GetInt("baud_rate")
		}
		return nil
	}
}

// WithEnv loads configuration from environment variables
func WithEnv() ConfigOption {
	return func(c *Config) error {
		if addr := os.Getenv("BIND_ADDRESS"); addr != "" {
			c.BindAddress = addr
		}

		if serial := os.Getenv("SERIAL_PORT"); serial != "" {
			c.SerialPort = serial
		}

		if serial := os.Getenv("SECONDARY_SERIAL_PORT"); serial != "" {
			c.SecondarySerialPort = serial
		}

		if baud := os.Getenv("BAUD_RATE"); baud != "" {
			if b, err := strconv.Atoi(baud); err == nil {
				c.BaudRate = b
			}
		}

		if level := os.Getenv("LOG_LEVEL"); level != "" {
			c.LogLevel = level
		}

		if file := os.Getenv("LOG_FILE"); file != "" {
			c.LogFile = file
		}

		if simPIN := os.Getenv("SIM_PIN"); simPIN != "" {
			c.SimPIN = simPIN
		}

		if timeout := os.Getenv("AT_TIMEOUT"); timeout != "" {
			if d, err := time.ParseDuration(timeout); err == nil {
				c.ATTimeout = d
			}
		}

		if interval := os.Getenv("MIN_SEND_INTERVAL"); interval != "" {
			if d, err := time.ParseDuration(interval); err == nil {
				c.MinSendInterval = d
			}
		}

		if addr, ok := os.LookupEnv("OBEX_ADDRESS"); ok {
			c.ObexAddress = addr
		}

		if dir := os.Getenv("INBOX_DIR"); dir != "" {
			c.InboxDir = dir
		}

		if card := os.Getenv("BUSINESS_CARD"); card != "" {
			c.BusinessCard = card
		}

		return nil
	}
}

// WithFlags loads configuration from command-line flags
func WithFlags(fSet *flag.FlagSet) ConfigOption {
	return func(c *Config) error {
		var err error
		fSet.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "bind-address":
				c.BindAddress = f.Value.String()
			case "serial-port":
				c.SerialPort = f.Value.String()
			case "secondary-serial-port":
				c.SecondarySerialPort = f.Value.String()
			case "baud-rate":
				if b, err := strconv.Atoi(f.Value.String()); err == nil {
					c.BaudRate = b
				}
			case "log-level":
				c.LogLevel = f.Value.String()
			case "log-file":
				c.LogFile = f.Value.String()
			case "sim-pin":
				c.SimPIN = f.Value.String()
			case "at-timeout":
				err = errors.Join(err, parseDuration(f, &c.ATTimeout))
			case "min-send-interval":
				err = errors.Join(err, parseDuration(f, &c.MinSendInterval))
			case "obex-address":
				c.ObexAddress = f.Value.String()
			case "inbox-dir":
				c.InboxDir = f.Value.String()
			case "business-card":
				c.BusinessCard = f.Value.String()
			}
		})
		return err
	}
}

func parseDuration(f *flag.Flag, dst *time.Duration) error {
	d, err := time.ParseDuration(f.Value.String())
	if err != nil {
		return fmt.Errorf("flag -%s: %w", f.Name, err)
	}
	*dst = d
	return nil
}
