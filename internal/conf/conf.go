// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package conf

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Database configuration.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// Configuration for the monitoring module.
type MonitoringConfig struct {
	// Labels attached to all exported metrics.
	Labels map[string]string `yaml:"labels,omitempty"`
	// The port to expose the metrics on.
	Port int `yaml:"port"`
}

// Configuration for the placement core.
type PlacementConfig struct {
	// Maximum number of candidate providers kept per resource constraint.
	// Bounds the result set when matching against large topologies.
	CandidatePoolSize int `yaml:"candidatePoolSize"`
	// Maximum number of provider combinations the claim builder will try
	// before giving up on a request group.
	MaxCombinations int `yaml:"maxCombinations"`
	// Bounded lock wait for claim execution, in milliseconds. Expiry is
	// surfaced as a conflict, not as a store failure.
	LockWaitTimeoutMS int `yaml:"lockWaitTimeoutMS"`
}

// Configuration for the http API.
type APIConfig struct {
	// The port to listen on.
	Port int `yaml:"port"`
}

// Configuration values for the service.
type Config struct {
	DB         DBConfig         `yaml:"db"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Placement  PlacementConfig  `yaml:"placement"`
	API        APIConfig        `yaml:"api"`
}

// Fill in defaults for values not given in the yaml file.
func (c *Config) applyDefaults() {
	if c.DB.Host == "" {
		c.DB.Host = Getenv("POSTGRES_HOST", "localhost")
	}
	if c.DB.Port == "" {
		c.DB.Port = Getenv("POSTGRES_PORT", "5432")
	}
	if c.DB.User == "" {
		c.DB.User = Getenv("POSTGRES_USER", "postgres")
	}
	if c.DB.Password == "" {
		c.DB.Password = Getenv("POSTGRES_PASSWORD", "secret")
	}
	if c.DB.Database == "" {
		c.DB.Database = Getenv("POSTGRES_DB", "postgres")
	}
	if c.Placement.CandidatePoolSize == 0 {
		c.Placement.CandidatePoolSize = 50
	}
	if c.Placement.MaxCombinations == 0 {
		c.Placement.MaxCombinations = 1000
	}
	if c.Placement.LockWaitTimeoutMS == 0 {
		c.Placement.LockWaitTimeoutMS = 5000
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.Monitoring.Port == 0 {
		c.Monitoring.Port = 2112
	}
}

// Load the configuration from the given yaml file.
func NewConfigFromFile(path string) (Config, error) {
	var c Config
	content, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(content, &c); err != nil {
		return c, fmt.Errorf("failed to parse config file: %w", err)
	}
	c.applyDefaults()
	return c, nil
}

// Default configuration when no config file is given.
func NewDefaultConfig() Config {
	var c Config
	c.applyDefaults()
	return c
}
