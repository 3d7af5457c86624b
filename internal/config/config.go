package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

const configFile = "config.toml"

// ErrUnknownKey is returned for dotted keys that are not part of Config.
var ErrUnknownKey = errors.New("unknown config key")

// Config holds all chronicle configuration.
type Config struct {
	Server     ServerConfig     `toml:"server"`
	Database   DatabaseConfig   `toml:"database"`
	Encryption EncryptionConfig `toml:"encryption"`
	Embedding  EmbeddingConfig  `toml:"embedding"`
	Context    ContextConfig    `toml:"context"`
	Log        LogConfig        `toml:"log"`
}

type ServerConfig struct {
	Bind string `toml:"bind"`
	Port int    `toml:"port"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

// EncryptionConfig says where the 32-byte key comes from. A set KeyEnv
// variable wins over KeyFile.
type EncryptionConfig struct {
	KeyEnv  string `toml:"key_env"`
	KeyFile string `toml:"key_file"`
}

type EmbeddingConfig struct {
	Provider   string `toml:"provider"` // "ollama", "tfidf", "none"
	OllamaURL  string `toml:"ollama_url"`
	Model      string `toml:"model"` // e.g. "nomic-embed-text"
	Dimensions int    `toml:"dimensions"`
}

type ContextConfig struct {
	Limit int `toml:"limit"`
}

type LogConfig struct {
	Debug  bool `toml:"debug"`
	JSON   bool `toml:"json"`
	Pretty bool `toml:"pretty"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37788,
		},
		Database: DatabaseConfig{
			Path: "", // resolved at runtime via store.DefaultDBPath()
		},
		Encryption: EncryptionConfig{
			KeyEnv: "CHRONICLE_KEY",
		},
		Embedding: EmbeddingConfig{
			Provider:   "tfidf",
			OllamaURL:  "http://localhost:11434",
			Model:      "nomic-embed-text",
			Dimensions: 768,
		},
		Context: ContextConfig{
			Limit: 10,
		},
	}
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

// DefaultDir returns ~/.chronicle, falling back to .chronicle in the working
// directory when there is no home.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chronicle"
	}
	return filepath.Join(home, ".chronicle")
}

// Path returns the config file location inside dir.
func Path(dir string) string {
	if dir == "" {
		dir = DefaultDir()
	}
	return filepath.Join(dir, configFile)
}

// ParseTOML parses raw TOML over the defaults. Keys that do not map to a
// Config field are rejected.
func ParseTOML(data []byte) (*Config, error) {
	cfg := Default()
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config TOML: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, strings.Join(keys, ", "))
	}
	return &cfg, nil
}

// ReadFile parses the config file at path. A missing file yields defaults.
func ReadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := Default()
			return &cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return ParseTOML(data)
}

// Save writes cfg to path as TOML, creating the parent directory.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("cannot save nil config")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}
