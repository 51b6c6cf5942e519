// Package config loads the host's settings: built-in defaults, then an optional YAML file,
// then command line flags and environment variables applied by the caller.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"github.com/guseggert/nativehost/codec"
	"github.com/guseggert/nativehost/fabric"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// ExecutablePath is used when a request carries no path of its own.
	ExecutablePath string   `yaml:"executable_path"`
	BinaryNames    []string `yaml:"binary_names"`
	SearchDirs     []string `yaml:"search_dirs"`

	LogLevel string `yaml:"log_level"`
	// LogFile receives logs instead of stderr when set.
	LogFile string `yaml:"log_file"`

	MaxMessageSize int `yaml:"max_message_size"`

	Bridge BridgeConfig `yaml:"bridge"`
}

type BridgeConfig struct {
	ListenAddr     string   `yaml:"listen_addr"`
	OriginPatterns []string `yaml:"origin_patterns"`
}

func Default() Config {
	return Config{
		BinaryNames: append([]string(nil), fabric.DefaultBinaryNames...),
		SearchDirs: []string{
			"~/go/bin",
			"~/.local/bin",
			"/usr/local/bin",
			"/opt/homebrew/bin",
		},
		LogLevel:       "info",
		MaxMessageSize: codec.DefaultMaxMessageSize,
		Bridge: BridgeConfig{
			ListenAddr: "127.0.0.1:8765",
		},
	}
}

// DefaultPath is where the config file is looked for when none is given.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "nativehost", "config.yaml")
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// interpolateEnv replaces ${VAR} with the value of VAR.
func interpolateEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(m string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(m)[1])
	})
}

// Load returns the defaults overlaid with the YAML file at path.
// A missing file is only an error when required is set.
func Load(path string, required bool) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) && !required {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := Parse(bytes.NewReader(b), &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse overlays the YAML document in r onto cfg. Unknown keys are rejected.
func Parse(r io.Reader, cfg *Config) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader([]byte(interpolateEnv(string(b)))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return err
	}
	return nil
}

func (c Config) Validate() error {
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("max_message_size must be positive, got %d", c.MaxMessageSize)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if len(c.BinaryNames) == 0 {
		return errors.New("binary_names must not be empty")
	}
	return nil
}

// Level parses LogLevel.
func (c Config) Level() (zapcore.Level, error) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return l, fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	return l, nil
}
