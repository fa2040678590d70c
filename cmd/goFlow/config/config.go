/////////////////////////////////////////////////////////////////////////////////
//
// config.go
//
// Written by Lennart Elsen lel@open.ch, December 2015
// Copyright (c) 2015 Open Systems AG, Switzerland
// All Rights Reserved.
//
/////////////////////////////////////////////////////////////////////////////////

// Package config is for parsing goFlow config files.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// ServiceName is the name of this service used in metrics and logs
const ServiceName = "goflow"

// MaxWorkers limits the fan-out of the demo pipeline
const MaxWorkers = 64

// Config stores goFlow's configuration
type Config struct {
	Input    string         `json:"input" yaml:"input"`
	Workers  int            `json:"workers" yaml:"workers"`
	MaxFlows uint64         `json:"max_flows" yaml:"max_flows"`
	FlowLog  string         `json:"flow_log" yaml:"flow_log"`
	Logging  LogConfig      `json:"logging" yaml:"logging"`
	Metrics  *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
}

// LogConfig stores the logging configuration
type LogConfig struct {
	Destination string `json:"destination" yaml:"destination"`
	Level       string `json:"level" yaml:"level"`
	Encoding    string `json:"encoding" yaml:"encoding"`
}

// MetricsConfig stores the prometheus endpoint configuration
type MetricsConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

// New creates a new configuration struct with default settings
func New() *Config {
	return &Config{
		Workers: min(runtime.NumCPU(), MaxWorkers),
		Logging: LogConfig{
			Encoding: "logfmt",
			Level:    "info",
		},
	}
}

// Validate checks the configured value ranges
func (c *Config) Validate() error {
	if c.Input == "" {
		return fmt.Errorf("no input capture file provided")
	}
	if c.Workers < 1 || c.Workers > MaxWorkers {
		return fmt.Errorf("workers must be in [1, %d]", MaxWorkers)
	}
	return nil
}

// Parse reads a JSON configuration from src into c
func (c *Config) Parse(src io.Reader) error {
	return json.NewDecoder(src).Decode(c)
}

// ParseFile reads the configuration file at path. YAML is dispatched on
// the file extension, everything else is treated as JSON.
func ParseFile(path string) (*Config, error) {
	fd, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer fd.Close()

	cfg := New()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		err = yaml.NewDecoder(fd).Decode(cfg)
	default:
		err = cfg.Parse(fd)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}
