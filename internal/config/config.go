package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Config holds the gateway configuration
type Config struct {
	// HTTP settings
	ListenAddr string
	LogLevel   string

	// Audit store
	StorePath string

	// IMAP settings
	IMAPPort           int
	InsecureSkipVerify bool
	DecodeHeaders      bool
	ConnectTimeout     time.Duration
	CommandTimeout     time.Duration
	LogoutTimeout      time.Duration
	FetchLimit         int

	// Connect rate limiting, per identity. A zero rate disables it.
	ConnectRatePerMinute int
	ConnectBurst         int

	// Connects are refused once an identity has AuthFailureLimit recorded
	// authentication failures within AuthFailureWindow. Zero disables it.
	AuthFailureLimit  int
	AuthFailureWindow time.Duration

	// Hosts maps a mail domain to its IMAP host. It starts from the
	// well-known providers and is extended by HOSTS_FILE.
	HostsFile string
	Hosts     map[string]string
}

// DefaultHosts lists the IMAP hosts of well-known providers.
func DefaultHosts() map[string]string {
	return map[string]string{
		"gmail.com":   "imap.gmail.com",
		"yahoo.com":   "imap.mail.yahoo.com",
		"outlook.com": "outlook.office365.com",
		"hotmail.com": "outlook.office365.com",
		"icloud.com":  "imap.mail.me.com",
		"aol.com":     "imap.aol.com",
		"t-online.de": "imap.t-online.de",
	}
}

// LoadConfig loads configuration from the environment. A .env file in the
// working directory is read first if present; variables already set win.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	listen := getEnv("LISTEN_ADDR", "")
	if listen == "" {
		listen = ":" + getEnv("PORT", "3000")
	}

	cfg := &Config{
		ListenAddr:           listen,
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		StorePath:            getEnv("STORE_PATH", "./data/gateway.db"),
		IMAPPort:             getEnvInt("IMAP_PORT", 993),
		InsecureSkipVerify:   getEnvBool("IMAP_INSECURE_SKIP_VERIFY", true),
		DecodeHeaders:        getEnvBool("IMAP_DECODE_HEADERS", false),
		ConnectTimeout:       getEnvDuration("CONNECT_TIMEOUT", 30*time.Second),
		CommandTimeout:       getEnvDuration("COMMAND_TIMEOUT", 60*time.Second),
		LogoutTimeout:        getEnvDuration("LOGOUT_TIMEOUT", 5*time.Second),
		FetchLimit:           getEnvInt("FETCH_LIMIT", 5),
		ConnectRatePerMinute: getEnvInt("CONNECT_RATE_PER_MINUTE", 10),
		ConnectBurst:         getEnvInt("CONNECT_BURST", 5),
		AuthFailureLimit:     getEnvInt("AUTH_FAILURE_LIMIT", 5),
		AuthFailureWindow:    getEnvDuration("AUTH_FAILURE_WINDOW", 15*time.Minute),
		HostsFile:            getEnv("HOSTS_FILE", ""),
		Hosts:                DefaultHosts(),
	}

	if cfg.HostsFile != "" {
		extra, err := loadHosts(cfg.HostsFile)
		if err != nil {
			return nil, err
		}
		for domain, host := range extra {
			cfg.Hosts[domain] = host
		}
	}

	return cfg, nil
}

// loadHosts reads a YAML mapping of mail domain to IMAP host
func loadHosts(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read hosts file: %w", err)
	}

	var raw map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse hosts file %s: %w", path, err)
	}

	hosts := make(map[string]string, len(raw))
	for domain, host := range raw {
		domain = strings.ToLower(strings.TrimSpace(domain))
		host = strings.TrimSpace(host)
		if domain == "" || host == "" {
			return nil, fmt.Errorf("hosts file %s: empty domain or host", path)
		}
		hosts[domain] = host
	}
	return hosts, nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as an integer or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets an environment variable as a boolean or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration gets an environment variable as a duration or returns a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("LISTEN_ADDR is required")
	}

	if c.StorePath == "" {
		return fmt.Errorf("STORE_PATH is required")
	}

	if c.IMAPPort < 1 || c.IMAPPort > 65535 {
		return fmt.Errorf("invalid IMAP_PORT")
	}

	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("CONNECT_TIMEOUT must be positive")
	}

	if c.CommandTimeout <= 0 {
		return fmt.Errorf("COMMAND_TIMEOUT must be positive")
	}

	if c.LogoutTimeout <= 0 {
		return fmt.Errorf("LOGOUT_TIMEOUT must be positive")
	}

	if c.FetchLimit < 1 || c.FetchLimit > 50 {
		return fmt.Errorf("FETCH_LIMIT must be between 1 and 50")
	}

	if c.ConnectRatePerMinute < 0 {
		return fmt.Errorf("CONNECT_RATE_PER_MINUTE must not be negative")
	}

	if c.ConnectRatePerMinute > 0 && c.ConnectBurst < 1 {
		return fmt.Errorf("CONNECT_BURST must be at least 1 when rate limiting is on")
	}

	if c.AuthFailureLimit < 0 {
		return fmt.Errorf("AUTH_FAILURE_LIMIT must not be negative")
	}

	if c.AuthFailureLimit > 0 && c.AuthFailureWindow <= 0 {
		return fmt.Errorf("AUTH_FAILURE_WINDOW must be positive when AUTH_FAILURE_LIMIT is set")
	}

	return nil
}
