package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// fileConfig is the optional YAML overlay:
//
//	dispatch:
//	  default_delay: 8s
//	  poll_interval: 5s
//	  reconcile_spec: "@every 15m"
type fileConfig struct {
	Dispatch struct {
		DefaultDelay  string `yaml:"default_delay"`
		PollInterval  string `yaml:"poll_interval"`
		ReconcileSpec string `yaml:"reconcile_spec"`
	} `yaml:"dispatch"`
}

// LoadFile reads path and applies the values it sets on top of base.
func LoadFile(path string, base Dispatch) (Dispatch, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("config: read %s: %w", path, err)
	}
	return parseFile(b, base)
}

func parseFile(b []byte, base Dispatch) (Dispatch, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return base, fmt.Errorf("config: yaml: %w", err)
	}

	out := base
	if v := strings.TrimSpace(fc.Dispatch.DefaultDelay); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return base, fmt.Errorf("config: dispatch.default_delay: %w", err)
		}
		out.DefaultDelay = d
	}
	if v := strings.TrimSpace(fc.Dispatch.PollInterval); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return base, fmt.Errorf("config: dispatch.poll_interval: %w", err)
		}
		if d <= 0 {
			return base, fmt.Errorf("config: dispatch.poll_interval must be positive")
		}
		out.PollInterval = d
	}
	if v := strings.TrimSpace(fc.Dispatch.ReconcileSpec); v != "" {
		out.ReconcileSpec = v
	}
	return out, nil
}
