package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DBPathEnv overrides session.db_path when set
const DBPathEnv = "KVIT_PATCH_DB"

type Config struct {
	Patch PatchConfig `yaml:"patch"`

	Workspace struct {
		Root             string   `yaml:"root"`
		AllowedPaths     []string `yaml:"allowed_paths"`
		AllowedReadPaths []string `yaml:"allowed_read_paths"`
		DeniedPaths      []string `yaml:"denied_paths"`
		LockTimeout      int      `yaml:"lock_timeout_seconds"` // wait for another run to finish (0 = fail immediately)
	} `yaml:"workspace"`

	Log struct {
		Path        string `yaml:"path"`        // JSON log file (empty = no logging)
		Development bool   `yaml:"development"` // keep debug entries
	} `yaml:"log"`

	Session struct {
		DBPath string `yaml:"db_path"`
	} `yaml:"session"`

	Output struct {
		Color   *bool `yaml:"color"`    // nil = auto-detect terminal
		Context int   `yaml:"context"` // context lines in printed diffs
	} `yaml:"output"`
}

// PatchConfig configures the patch engine
type PatchConfig struct {
	ContextLines      int   `yaml:"context_lines"`      // context width of generated diffs (default: 3)
	AppendFallback    bool  `yaml:"append_fallback"`    // append unplaceable pure additions at EOF for every file kind
	ConversationLimit int   `yaml:"conversation_limit"` // messages kept per session (default and max: 1000)
	Validate          *bool `yaml:"validate"`           // nil = default true
}

// ValidateContent returns whether patched content is checked before commit.
// Defaults to true.
func (p *PatchConfig) ValidateContent() bool {
	if p.Validate == nil {
		return true
	}
	return *p.Validate
}

// Default returns the configuration used when no file is given
func Default() *Config {
	var cfg Config
	_ = cfg.applyDefaults() // an empty workspace root always resolves
	return &cfg
}

// Load reads a YAML config file. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() error {
	if c.Patch.ContextLines <= 0 {
		c.Patch.ContextLines = 3
	}
	if c.Patch.ConversationLimit <= 0 || c.Patch.ConversationLimit > 1000 {
		c.Patch.ConversationLimit = 1000
	}
	if c.Output.Context <= 0 {
		c.Output.Context = c.Patch.ContextLines
	}

	// Convert workspace root to absolute path
	if c.Workspace.Root != "" {
		absRoot, err := filepath.Abs(expandPath(c.Workspace.Root))
		if err != nil {
			return fmt.Errorf("failed to resolve workspace root: %w", err)
		}
		c.Workspace.Root = absRoot
	}

	// Apply environment overrides
	if dbPath := os.Getenv(DBPathEnv); dbPath != "" {
		c.Session.DBPath = dbPath
	}
	if c.Session.DBPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		c.Session.DBPath = filepath.Join(home, ".kvit-patch", "sessions.db")
	}
	c.Session.DBPath = expandPath(c.Session.DBPath)
	c.Log.Path = expandPath(c.Log.Path)

	return nil
}
