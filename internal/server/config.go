// Package server provides configuration helpers that define runtime defaults,
// validation, and admission parameters for the msger relay.
package server

import (
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"
)

const (
	defaultBindAddress    = "127.0.0.1"
	defaultBindPort       = 2004
	defaultMessageTimeout = 5 * time.Second
	defaultMessageBurst   = 5
	defaultMaxMessageSize = 16 << 20
	defaultSendTimeout    = 10 * time.Second
)

// Config holds the relay configuration. It is read once at startup and never
// mutated afterwards.
type Config struct {
	BindAddress string `koanf:"ip_addr"`
	BindPort    int    `koanf:"port"`
	// Banned lists client IPs that may not join.
	Banned []string `koanf:"banned_users"`
	// SharedSecret seals the handshake challenge when set.
	SharedSecret string `koanf:"auth"`
	// RequireProof makes the server verify that clients hold SharedSecret.
	RequireProof bool `koanf:"require_proof"`
	AllowFiles   bool `koanf:"allow_files"`
	// MessageTimeout is the window within which a client may send at most
	// MessageBurst messages.
	MessageTimeout time.Duration `koanf:"message_timeout"`
	MessageBurst   int           `koanf:"message_burst"`
	MaxMessageSize int64         `koanf:"max_message_size"`
	// SendTimeout bounds a single write to a recipient during broadcast.
	SendTimeout    time.Duration `koanf:"send_timeout"`
	AllowedOrigins []string      `koanf:"allowed_origins"`
	LogLevel       string        `koanf:"log_level"`
	LogFormat      string        `koanf:"log_format"`

	banned map[netip.Addr]struct{}
}

func defaultConfig() Config {
	return Config{
		BindAddress:    defaultBindAddress,
		BindPort:       defaultBindPort,
		AllowFiles:     true,
		MessageTimeout: defaultMessageTimeout,
		MessageBurst:   defaultMessageBurst,
		MaxMessageSize: defaultMaxMessageSize,
		SendTimeout:    defaultSendTimeout,
		LogLevel:       "info",
		LogFormat:      "text",
	}
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// Addr returns the host:port the HTTP listener binds to.
func (c Config) Addr() string {
	return net.JoinHostPort(c.BindAddress, strconv.Itoa(c.BindPort))
}

// IsBanned reports whether the IP part of a remote address is banned.
func (c Config) IsBanned(remoteAddr string) bool {
	if len(c.banned) == 0 {
		return false
	}
	ip, ok := addrIP(remoteAddr)
	if !ok {
		return false
	}
	_, banned := c.banned[ip]
	return banned
}

func addrIP(remoteAddr string) (netip.Addr, bool) {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return ip.Unmap(), true
}

// sanitizeConfig fills unset values with defaults and resolves the ban list.
// Invalid ban entries are logged and ignored.
func sanitizeConfig(cfg Config, logger *slog.Logger) Config {
	if cfg.BindAddress == "" {
		cfg.BindAddress = defaultBindAddress
	}

	if cfg.BindPort <= 0 || cfg.BindPort > 65535 {
		cfg.BindPort = defaultBindPort
	}

	if cfg.MessageTimeout <= 0 {
		cfg.MessageTimeout = defaultMessageTimeout
	}

	if cfg.MessageBurst <= 0 {
		cfg.MessageBurst = defaultMessageBurst
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}

	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}

	if cfg.RequireProof && cfg.SharedSecret == "" {
		logger.Warn("require_proof has no effect without a shared secret")
		cfg.RequireProof = false
	}

	cfg.Banned = parseList(cfg.Banned)
	cfg.banned = make(map[netip.Addr]struct{}, len(cfg.Banned))
	for _, entry := range cfg.Banned {
		ip, err := netip.ParseAddr(entry)
		if err != nil {
			logger.Warn("ignoring invalid banned address", "entry", entry, "error", err)
			continue
		}
		cfg.banned[ip.Unmap()] = struct{}{}
	}

	cfg.AllowedOrigins = parseList(cfg.AllowedOrigins)
	return cfg
}

// parseList trims entries and splits any comma separated values, which is how
// lists arrive from environment variables and repeated flags.
func parseList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate reports configuration that cannot be served at all.
func (c Config) Validate() error {
	if _, err := net.ResolveTCPAddr("tcp", c.Addr()); err != nil {
		return fmt.Errorf("invalid bind address %q: %w", c.Addr(), err)
	}
	return nil
}
