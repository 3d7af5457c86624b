package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. CHRONICLE_SERVER_PORT.
const EnvPrefix = "CHRONICLE"

// NewViper returns a viper instance seeded from Default(), reading
// config.toml from dir (DefaultDir() when empty) and CHRONICLE_* env vars.
//
// Precedence, highest first: bound flags, env, config.toml, defaults.
func NewViper(dir string) (*viper.Viper, error) {
	if dir == "" {
		dir = DefaultDir()
	}
	v := viper.New()

	d := Default()
	for _, k := range keyOrder {
		val, _ := d.Get(k)
		v.SetDefault(k, val)
	}

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(dir)
	if err := v.ReadInConfig(); err != nil {
		// Missing file is fine, defaults apply.
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v, nil
}

// FromViper resolves every known key through v into a Config.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := Default()
	for _, k := range keyOrder {
		if err := cfg.Set(k, v.GetString(k)); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// Load resolves the configuration for dir.
func Load(dir string) (*Config, error) {
	v, err := NewViper(dir)
	if err != nil {
		return nil, err
	}
	return FromViper(v)
}
