package modem

import (
	"log/slog"
	"strings"
	"time"
)

// Config holds the settings of a Modem. Use NewConfigBuilder to create one.
type Config struct {
	dialer          Dialer
	simPIN          string
	atTimeout       time.Duration
	initTimeout     time.Duration
	minSendInterval time.Duration
	cmdTimeouts     map[string]time.Duration
	dispatcher      *Dispatcher
	logger          *slog.Logger
}

func (c *Config) validate() error {
	if c.dialer == nil {
		return ErrNoDialer
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.atTimeout == 0 {
		c.atTimeout = 5 * time.Second
	}
	if c.initTimeout == 0 {
		c.initTimeout = 30 * time.Second
	}
	if c.cmdTimeouts == nil {
		c.cmdTimeouts = map[string]time.Duration{}
	}
	// a network scan routinely takes minutes
	if _, ok := c.cmdTimeouts["AT+COPS=?"]; !ok {
		c.cmdTimeouts["AT+COPS=?"] = 3 * time.Minute
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
}

// timeoutFor returns the response timeout for cmd.
func (c *Config) timeoutFor(cmd string) time.Duration {
	if d, ok := c.cmdTimeouts[strings.ToUpper(strings.TrimSpace(cmd))]; ok {
		return d
	}
	return c.atTimeout
}

// ConfigBuilder assembles a Config.
type ConfigBuilder struct {
	config Config
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{}
}

func (b *ConfigBuilder) WithDialer(d Dialer) *ConfigBuilder {
	b.config.dialer = d
	return b
}

func (b *ConfigBuilder) WithSimPIN(pin string) *ConfigBuilder {
	b.config.simPIN = pin
	return b
}

// WithATTimeout sets how long a command may wait for its final result.
func (b *ConfigBuilder) WithATTimeout(d time.Duration) *ConfigBuilder {
	b.config.atTimeout = d
	return b
}

// WithCommandTimeout overrides the AT timeout for one exact command line.
func (b *ConfigBuilder) WithCommandTimeout(cmd string, d time.Duration) *ConfigBuilder {
	if b.config.cmdTimeouts == nil {
		b.config.cmdTimeouts = map[string]time.Duration{}
	}
	b.config.cmdTimeouts[strings.ToUpper(strings.TrimSpace(cmd))] = d
	return b
}

func (b *ConfigBuilder) WithInitTimeout(d time.Duration) *ConfigBuilder {
	b.config.initTimeout = d
	return b
}

// WithMinSendInterval spaces consecutive command writes at least d apart.
func (b *ConfigBuilder) WithMinSendInterval(d time.Duration) *ConfigBuilder {
	b.config.minSendInterval = d
	return b
}

// WithDispatcher makes the modem run its callbacks on d. Sharing one
// Dispatcher between several modems serialises all of their callbacks.
func (b *ConfigBuilder) WithDispatcher(d *Dispatcher) *ConfigBuilder {
	b.config.dispatcher = d
	return b
}

func (b *ConfigBuilder) WithLogger(l *slog.Logger) *ConfigBuilder {
	b.config.logger = l
	return b
}

// Build validates the settings and fills in defaults.
func (b *ConfigBuilder) Build() (Config, error) {
	if err := b.config.validate(); err != nil {
		return Config{}, err
	}
	cfg := b.config
	cfg.setDefaults()
	return cfg, nil
}
