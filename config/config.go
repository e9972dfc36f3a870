// Package config loads slot definitions and server settings from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/guseggert/procrelay/agent/supervisor"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

const (
	FileName = "procrelay.yaml"

	DefaultListenAddr      = "127.0.0.1:3000"
	DefaultBufferSize      = 256
	DefaultDrainTimeout    = 2 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultLogLevel        = "info"
)

// Slot defines one supervised process.
type Slot struct {
	Name    string            `yaml:"name"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
	Dir     string            `yaml:"dir"`
	// EchoInput publishes input sent to the process back to controllers.
	EchoInput bool `yaml:"echo_input"`
}

type Config struct {
	ListenAddr      string        `yaml:"listen_addr"`
	BufferSize      int           `yaml:"buffer_size"`
	DrainTimeout    time.Duration `yaml:"drain_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	LogLevel        string        `yaml:"log_level"`
	Slots           []Slot        `yaml:"slots"`
}

// Default returns a config with every setting at its default and no slots.
func Default() Config {
	return Config{
		ListenAddr:      DefaultListenAddr,
		BufferSize:      DefaultBufferSize,
		DrainTimeout:    DefaultDrainTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		LogLevel:        DefaultLogLevel,
	}
}

// Load reads and validates the config at path. Settings missing from the file keep their defaults.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	return Parse(b)
}

func Parse(b []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if len(c.Slots) == 0 {
		errs = append(errs, errors.New("at least one slot is required"))
	}
	seen := map[string]bool{}
	for i, s := range c.Slots {
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("slot %d: name is required", i))
		} else if seen[s.Name] {
			errs = append(errs, fmt.Errorf("slot %d: duplicate name %q", i, s.Name))
		}
		seen[s.Name] = true
		if s.Command == "" {
			errs = append(errs, fmt.Errorf("slot %d: command is required", i))
		}
	}
	if c.BufferSize < 0 {
		errs = append(errs, fmt.Errorf("buffer_size must not be negative, got %d", c.BufferSize))
	}
	if c.DrainTimeout < 0 {
		errs = append(errs, fmt.Errorf("drain_timeout must not be negative, got %s", c.DrainTimeout))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c Config) Level() (zapcore.Level, error) {
	if c.LogLevel == "" {
		return zapcore.InfoLevel, nil
	}
	l, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return l, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}

// SupervisorConfigs converts the slots to supervisor configs, in file order.
func (c Config) SupervisorConfigs() []supervisor.Config {
	cfgs := make([]supervisor.Config, 0, len(c.Slots))
	for _, s := range c.Slots {
		cfgs = append(cfgs, supervisor.Config{
			Slot:         s.Name,
			Path:         s.Command,
			Args:         s.Args,
			Env:          envList(s.Env),
			Dir:          s.Dir,
			EchoInput:    s.EchoInput,
			DrainTimeout: c.DrainTimeout,
		})
	}
	return cfgs
}

func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	l := make([]string, 0, len(env))
	for _, k := range keys {
		l = append(l, k+"="+env[k])
	}
	return l
}
