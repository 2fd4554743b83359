package runtime

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is a runtime profile loaded from a YAML file (SPEC_FULL.md §1
// "Configuration"), consumed by cmd/smog and any other embedder that wants
// file-driven tuning rather than constructing a Config literal in Go.
type Config struct {
	GCThreshold  int    `yaml:"gc_threshold"`
	TimeoutMs    int    `yaml:"timeout_ms"`
	MaxCallDepth int    `yaml:"max_call_depth"`
	LogLevel     string `yaml:"log_level"`
}

// LoadConfig reads and parses a YAML runtime profile from path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read runtime config")
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "parse runtime config")
	}
	return &cfg, nil
}
