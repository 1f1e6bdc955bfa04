// Package config holds the recording configuration pushed to plugins.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

const (
	// MaxSampleRate means every entrance call is recorded.
	MaxSampleRate = 10000

	defaultSampleRate         = MaxSampleRate
	defaultExceptionThreshold = 1000
)

// Behavior selects methods of a class for the java plugins.
type Behavior struct {
	ClassPattern      string   `yaml:"classPattern"`
	MethodPatterns    []string `yaml:"methodPatterns"`
	IncludeSubClasses bool     `yaml:"includeSubClasses"`
}

// Equal reports whether both behaviors select the same methods.
func (b Behavior) Equal(o Behavior) bool {
	return b.ClassPattern == o.ClassPattern &&
		b.IncludeSubClasses == o.IncludeSubClasses &&
		slices.Equal(b.MethodPatterns, o.MethodPatterns)
}

// Config is the recording configuration.
type Config struct {
	// PluginIdentities lists the plugins allowed to watch.
	PluginIdentities []string `yaml:"pluginIdentities"`
	// RepeatIdentities lists the plugins allowed to replay.
	RepeatIdentities []string `yaml:"repeatIdentities"`
	// SampleRate is out of MaxSampleRate.
	SampleRate int `yaml:"sampleRate"`
	// Degrade freezes every plugin while set.
	Degrade            bool `yaml:"degrade"`
	ExceptionThreshold int  `yaml:"exceptionThreshold"`

	HTTPEntrancePatterns   []string   `yaml:"httpEntrancePatterns"`
	JavaEntranceBehaviors  []Behavior `yaml:"javaEntranceBehaviors"`
	JavaSubInvokeBehaviors []Behavior `yaml:"javaSubInvokeBehaviors"`
}

// DefaultConfig records everything and enables no plugin.
func DefaultConfig() *Config {
	return &Config{
		SampleRate:         defaultSampleRate,
		ExceptionThreshold: defaultExceptionThreshold,
	}
}

// HasPlugin reports whether identity is enabled for watching.
func (c *Config) HasPlugin(identity string) bool {
	return c != nil && slices.Contains(c.PluginIdentities, identity)
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := *c
	out.PluginIdentities = slices.Clone(c.PluginIdentities)
	out.RepeatIdentities = slices.Clone(c.RepeatIdentities)
	out.HTTPEntrancePatterns = slices.Clone(c.HTTPEntrancePatterns)
	out.JavaEntranceBehaviors = cloneBehaviors(c.JavaEntranceBehaviors)
	out.JavaSubInvokeBehaviors = cloneBehaviors(c.JavaSubInvokeBehaviors)
	return &out
}

func cloneBehaviors(in []Behavior) []Behavior {
	if in == nil {
		return nil
	}
	out := make([]Behavior, len(in))
	for i, b := range in {
		b.MethodPatterns = slices.Clone(b.MethodPatterns)
		out[i] = b
	}
	return out
}

// BehaviorsDiffer reports whether two behavior lists select different methods.
func BehaviorsDiffer(a, b []Behavior) bool {
	return !slices.EqualFunc(a, b, Behavior.Equal)
}

// Verify checks cfg for values no plugin can work with.
func Verify(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if cfg.SampleRate < 0 || cfg.SampleRate > MaxSampleRate {
		return fmt.Errorf("sampleRate must be in [0, %d], got %d", MaxSampleRate, cfg.SampleRate)
	}
	if cfg.ExceptionThreshold < 0 {
		return fmt.Errorf("exceptionThreshold must not be negative, got %d", cfg.ExceptionThreshold)
	}
	for _, id := range cfg.PluginIdentities {
		if id == "" {
			return errors.New("pluginIdentities contains an empty identity")
		}
	}
	for name, list := range map[string][]Behavior{
		"javaEntranceBehaviors":  cfg.JavaEntranceBehaviors,
		"javaSubInvokeBehaviors": cfg.JavaSubInvokeBehaviors,
	} {
		for i, b := range list {
			if b.ClassPattern == "" {
				return fmt.Errorf("%s[%d]: classPattern is empty", name, i)
			}
			if len(b.MethodPatterns) == 0 {
				return fmt.Errorf("%s[%d]: methodPatterns is empty", name, i)
			}
		}
	}
	return nil
}

// Load decodes a YAML document on top of DefaultConfig and verifies it.
func Load(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := Verify(cfg); err != nil {
		return nil, fmt.Errorf("verify config: %w", err)
	}
	return cfg, nil
}

// LoadFile reads the YAML config at path.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	return Load(f)
}
