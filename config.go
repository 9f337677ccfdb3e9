package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	// SerialPort is the path to the modem's serial port (e.g. "/dev/ttyUSB2")
	SerialPort string `yaml:"serial_port"`
	// BaudRate is the baud rate for serial communication with the modem (e.g. 115200)
	BaudRate int `yaml:"baud_rate"`
	// LogLevel sets the logging level (e.g. "debug", "info", "warn", "error")
	LogLevel string `yaml:"log_level"`
	// BotToken is the Telegram Bot API token
	BotToken string `yaml:"bot_token"`
	// ChatID is the Telegram chat authorized to use the bridge
	ChatID string `yaml:"chat_id"`
	// ProxyURL routes Telegram API traffic through an HTTP proxy when set
	ProxyURL string `yaml:"proxy_url"`
	// HealthFile is touched by the supervisor while both components run
	HealthFile string `yaml:"health_file"`
}

func (c *Config) validate() error {
	if c.BotToken == "" {
		return errors.New("bot token is required (BOT_TOKEN or config file)")
	}
	if c.ChatID == "" {
		return errors.New("chat ID is required (CHAT_ID or config file)")
	}
	return nil
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

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// WithDefaults applies default configuration values
func WithDefaults() ConfigOption {
	return func(c *Config) error {
		c.SerialPort = "/dev/ttyUSB2"
		c.BaudRate = 115200
		c.LogLevel = "info"
		c.HealthFile = "/tmp/healthy"
		return nil
	}
}

// WithFile loads configuration from a YAML file. An empty path is a no-op so
// the option can be applied unconditionally.
func WithFile(path string) ConfigOption {
	return func(c *Config) error {
		if path == "" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse config file %s: %w", path, err)
		}
		return nil
	}
}

// WithEnv loads configuration from environment variables
func WithEnv() ConfigOption {
	return func(c *Config) error {
		if port := os.Getenv("SMS_PORT"); port != "" {
			c.SerialPort = port
		}

		if baud := os.Getenv("SMS_BAUDRATE"); baud != "" {
			if b, err := strconv.Atoi(baud); err == nil {
				c.BaudRate = b
			}
		}

		if level := os.Getenv("LOG_LEVEL"); level != "" {
			c.LogLevel = level
		}

		if token := os.Getenv("BOT_TOKEN"); token != "" {
			c.BotToken = token
		}

		if chatID := os.Getenv("CHAT_ID"); chatID != "" {
			c.ChatID = chatID
		}

		if proxy := os.Getenv("PROXY_URL"); proxy != "" {
			c.ProxyURL = proxy
		}

		if health := os.Getenv("HEALTH_FILE"); health != "" {
			c.HealthFile = health
		}

		return nil
	}
}

// WithFlags loads configuration from command-line flags
func WithFlags(fSet *flag.FlagSet) ConfigOption {
	return func(c *Config) error {
		fSet.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "serial-port":
				c.SerialPort = f.Value.String()
			case "baud-rate":
				if b, err := strconv.Atoi(f.Value.String()); err == nil {
					c.BaudRate = b
				}
			case "log-level":
				c.LogLevel = f.Value.String()
			case "proxy-url":
				c.ProxyURL = f.Value.String()
			case "health-file":
				c.HealthFile = f.Value.String()
			}

		})
		return nil
	}

}
