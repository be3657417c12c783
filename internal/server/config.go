// Package server exposes one or more trained experiments over the
// line-oriented TCP protocol or the HTTP query protocol, capping concurrent
// sessions and giving every session its own read-only model view.
package server

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the server configuration file: `key = value` lines where port,
// maxconn, and protocol configure the listener, and every other key declares
// one pre-loaded experiment with its option string.
type Config struct {
	Port        int
	MaxConn     int
	Protocol    string
	Experiments map[string]string
}

// LoadConfig reads a properties-style config file.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("properties")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("problem reading %s: %w", path, err)
	}
	cfg := &Config{
		Port:        -1,
		MaxConn:     25,
		Protocol:    "tcp",
		Experiments: make(map[string]string),
	}
	for _, key := range v.AllKeys() {
		val := strings.TrimSpace(v.GetString(key))
		switch strings.ToLower(key) {
		case "port":
			if cfg.Port = v.GetInt(key); cfg.Port <= 0 {
				return nil, fmt.Errorf("invalid value for port: %q", val)
			}
		case "maxconn":
			if cfg.MaxConn = v.GetInt(key); cfg.MaxConn <= 0 {
				return nil, fmt.Errorf("invalid value for maxconn: %q", val)
			}
		case "protocol":
			p := strings.ToLower(val)
			if p != "tcp" && p != "http" {
				return nil, fmt.Errorf("invalid protocol: %q", val)
			}
			cfg.Protocol = p
		default:
			cfg.Experiments[key] = strings.Trim(val, `"`)
		}
	}
	if cfg.Port < 0 {
		return nil, fmt.Errorf("missing 'port=' entry in config file %s", path)
	}
	return cfg, nil
}
