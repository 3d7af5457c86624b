package config

import (
	"fmt"
	"strconv"
)

// keyInfo maps a dotted key to a getter and setter on *Config.
type keyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

func setInt(dst *int) func(*Config, string) error {
	return func(_ *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid integer %q: %w", v, err)
		}
		*dst = n
		return nil
	}
}

func setBool(dst *bool) func(*Config, string) error {
	return func(_ *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid boolean %q: %w", v, err)
		}
		*dst = b
		return nil
	}
}

// keyOrder is every supported key in TOML section order.
var keyOrder = []string{
	"server.bind",
	"server.port",
	"database.path",
	"encryption.key_env",
	"encryption.key_file",
	"embedding.provider",
	"embedding.ollama_url",
	"embedding.model",
	"embedding.dimensions",
	"context.limit",
	"log.debug",
	"log.json",
	"log.pretty",
}

func keyTable(c *Config) map[string]keyInfo {
	str := func(p *string) keyInfo {
		return keyInfo{
			get: func(*Config) string { return *p },
			set: func(_ *Config, v string) error { *p = v; return nil },
		}
	}
	num := func(p *int) keyInfo {
		return keyInfo{get: func(*Config) string { return strconv.Itoa(*p) }, set: setInt(p)}
	}
	flag := func(p *bool) keyInfo {
		return keyInfo{get: func(*Config) string { return strconv.FormatBool(*p) }, set: setBool(p)}
	}
	return map[string]keyInfo{
		"server.bind":          str(&c.Server.Bind),
		"server.port":          num(&c.Server.Port),
		"database.path":        str(&c.Database.Path),
		"encryption.key_env":   str(&c.Encryption.KeyEnv),
		"encryption.key_file":  str(&c.Encryption.KeyFile),
		"embedding.provider":   str(&c.Embedding.Provider),
		"embedding.ollama_url": str(&c.Embedding.OllamaURL),
		"embedding.model":      str(&c.Embedding.Model),
		"embedding.dimensions": num(&c.Embedding.Dimensions),
		"context.limit":        num(&c.Context.Limit),
		"log.debug":            flag(&c.Log.Debug),
		"log.json":             flag(&c.Log.JSON),
		"log.pretty":           flag(&c.Log.Pretty),
	}
}

// Keys returns all supported dotted keys in TOML section order.
func Keys() []string {
	return append([]string(nil), keyOrder...)
}

// IsValidKey reports whether key is a supported dotted key.
func IsValidKey(key string) bool {
	_, ok := keyTable(&Config{})[key]
	return ok
}

// Get returns the string form of the value at key.
func (c *Config) Get(key string) (string, error) {
	info, ok := keyTable(c)[key]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	return info.get(c), nil
}

// Set parses v and stores it at key.
func (c *Config) Set(key, v string) error {
	info, ok := keyTable(c)[key]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	if err := info.set(c, v); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}
