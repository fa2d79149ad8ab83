// Package config loads the instrument-endpoint configuration: how to reach
// the VNA and the two motor controllers, plus filesystem paths for
// persisted artifacts.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// VNAConfig describes how to reach the SCPI instrument.
type VNAConfig struct {
	Address string       `yaml:"address"`
	Timeout yamlDuration `yaml:"timeout"`
}

// LinearConfig describes the Zaber linear-stage serial link.
type LinearConfig struct {
	Port     string  `yaml:"port"`
	Baud     int     `yaml:"baud"`
	Address  int     `yaml:"address"`
	Axis     int     `yaml:"axis"`
	StepToMM float64 `yaml:"step_to_mm"`
	Binary   bool    `yaml:"binary"`
}

// RotaryConfig describes the TMCL rotary-stage serial link.
type RotaryConfig struct {
	Port    string `yaml:"port"`
	Baud    int    `yaml:"baud"`
	Address byte   `yaml:"address"`
}

// Config is the full on-disk configuration document.
type Config struct {
	Verbose     bool         `yaml:"verbose"`
	DataPath    string       `yaml:"data_path"`
	LookupTable string       `yaml:"lookup_table"`
	VNA         VNAConfig    `yaml:"vna"`
	Linear      LinearConfig `yaml:"linear"`
	Rotary      RotaryConfig `yaml:"rotary"`
}

// Load reads and parses a YAML configuration document from path. A missing
// file is a fatal initialization error, matching the lookup table's
// missing-file policy in spec.md §6.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if c.Linear.StepToMM == 0 {
		c.Linear.StepToMM = 0.047625e-3
	}
	return &c, nil
}

// yamlDuration unmarshals a plain string like "5s" via time.ParseDuration,
// kept small so config.go doesn't need a full custom (Un)MarshalYAML type
// for the rest of Config.
type yamlDuration struct {
	Seconds float64
}

func (d *yamlDuration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: parse duration %q: %w", s, err)
	}
	d.Seconds = dur.Seconds()
	return nil
}
