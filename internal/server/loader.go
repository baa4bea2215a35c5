package server

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	toml "github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix for configuration environment variables, e.g.
// MSGER_PORT=2005 or MSGER_BANNED_USERS=10.0.0.1,10.0.0.2.
const EnvPrefix = "MSGER_"

var errReadBytesNotSupported = errors.New("server: ReadBytes not supported by map provider")

// mapProvider feeds an in-memory map (defaults, CLI flags) into koanf.
type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, errReadBytesNotSupported
}

func (m mapProvider) Read() (map[string]any, error) {
	return m, nil
}

func defaultsMap() map[string]any {
	d := defaultConfig()
	return map[string]any{
		"ip_addr":          d.BindAddress,
		"port":             d.BindPort,
		"allow_files":      d.AllowFiles,
		"message_timeout":  d.MessageTimeout.String(),
		"message_burst":    d.MessageBurst,
		"max_message_size": d.MaxMessageSize,
		"send_timeout":     d.SendTimeout.String(),
		"log_level":        d.LogLevel,
		"log_format":       d.LogFormat,
	}
}

// LoadConfig merges configuration sources. Later sources win:
//  1. built-in defaults
//  2. the config file at path (YAML, or TOML for a .toml extension)
//  3. MSGER_* environment variables
//  4. overrides, typically the flags set explicitly on the command line
func LoadConfig(path string, overrides map[string]any) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(mapProvider(defaultsMap()), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		var parser koanf.Parser = yaml.Parser()
		if strings.EqualFold(filepath.Ext(path), ".toml") {
			parser = toml.Parser()
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	envTransformer := func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformer), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	if len(overrides) > 0 {
		if err := k.Load(mapProvider(overrides), nil); err != nil {
			return nil, fmt.Errorf("load overrides: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
