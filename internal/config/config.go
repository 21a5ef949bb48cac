// Package config loads workspace configuration from YAML and validates it.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/forgeworks/forge/internal/providers"
	"github.com/forgeworks/forge/pkg/models"
)

// Workspace identifies where conversation state lives.
type Workspace struct {
	// ID scopes conversations in the shared database.
	ID int64 `yaml:"id"`
	// Database is the SQLite path; empty means <state_dir>/forge.db.
	Database string `yaml:"database"`
	// SnapshotsDir holds file snapshots; empty means <state_dir>/snapshots.
	SnapshotsDir string `yaml:"snapshots_dir"`
}

// Config is the root workspace configuration.
type Config struct {
	DefaultModel models.ModelID       `yaml:"default_model"`
	Providers    []providers.Config   `yaml:"providers"`
	Workspace    Workspace            `yaml:"workspace"`
	Compact      models.CompactConfig `yaml:"compact"`
	Agents       []models.Agent       `yaml:"agents"`
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults(filepath.Dir(path))
	return &cfg, nil
}

// Validate checks provider records and agent sampling bounds.
func (c *Config) Validate() error {
	seen := map[string]struct{}{}
	for _, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("provider missing id")
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("duplicate provider id %q", p.ID)
		}
		seen[p.ID] = struct{}{}
		switch p.Dialect {
		case providers.DialectOpenAI, providers.DialectOpenAIResponses,
			providers.DialectAnthropic, providers.DialectGoogle:
		default:
			return fmt.Errorf("provider %s has unknown dialect %q", p.ID, p.Dialect)
		}
	}

	for _, agent := range c.Agents {
		if agent.ID == "" {
			return fmt.Errorf("agent missing id")
		}
		if agent.Temperature != nil {
			if err := models.ValidateTemperature(*agent.Temperature); err != nil {
				return fmt.Errorf("agent %s: %w", agent.ID, err)
			}
		}
		if agent.TopP != nil {
			if err := models.ValidateTopP(*agent.TopP); err != nil {
				return fmt.Errorf("agent %s: %w", agent.ID, err)
			}
		}
		if agent.TopK != nil {
			if err := models.ValidateTopK(*agent.TopK); err != nil {
				return fmt.Errorf("agent %s: %w", agent.ID, err)
			}
		}
		if agent.MaxTokens != nil {
			if err := models.ValidateMaxTokens(*agent.MaxTokens); err != nil {
				return fmt.Errorf("agent %s: %w", agent.ID, err)
			}
		}
	}
	return nil
}

func (c *Config) applyDefaults(baseDir string) {
	stateDir := filepath.Join(baseDir, ".forge")
	if c.Workspace.Database == "" {
		c.Workspace.Database = filepath.Join(stateDir, "forge.db")
	}
	if c.Workspace.SnapshotsDir == "" {
		c.Workspace.SnapshotsDir = filepath.Join(stateDir, "snapshots")
	}
	if c.Compact.SummaryTag == "" {
		c.Compact.SummaryTag = "summary"
	}
	if c.Compact.Model == "" {
		c.Compact.Model = c.DefaultModel
	}
}

// ProviderFor returns the provider record with the given id, or the first
// one when id is empty.
func (c *Config) ProviderFor(id string) (providers.Config, error) {
	if id == "" && len(c.Providers) > 0 {
		return c.Providers[0], nil
	}
	for _, p := range c.Providers {
		if p.ID == id {
			return p, nil
		}
	}
	return providers.Config{}, fmt.Errorf("no provider configured with id %q", id)
}
