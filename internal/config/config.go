package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const appName = "threaddeck"

// Environment overrides applied by Load.
const (
	EnvLogLevel  = "THREADDECK_LOG_LEVEL"
	EnvLogPath   = "THREADDECK_LOG_PATH"
	EnvClaudeBin = "THREADDECK_CLAUDE_BIN"
)

// Workspace kinds
const (
	KindMain     = "main"
	KindWorktree = "worktree"
)

// WorkspaceConfig describes one workspace the backend may run threads in
type WorkspaceConfig struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Path     string `json:"path"`
	Kind     string `json:"kind,omitempty"`      // main or worktree
	ParentID string `json:"parent_id,omitempty"` // worktrees only
	// ClaudeBin overrides the global claude binary for this workspace
	ClaudeBin string `json:"claude_bin,omitempty"`
}

// Config represents application configuration
type Config struct {
	LogLevel        string            `json:"log_level"` // debug, info, warn, error, none
	LogPath         string            `json:"log_path"`  // "-" logs to stderr
	DataDir         string            `json:"data_dir"`
	NamesDBPath     string            `json:"names_db_path,omitempty"`
	ClaudeBin       string            `json:"claude_bin,omitempty"`
	ListenAddr      string            `json:"listen_addr"`
	AuthToken       string            `json:"auth_token,omitempty"`
	DebugBufferSize int               `json:"debug_buffer_size"`
	EventBufferSize int               `json:"event_buffer_size"`
	Workspaces      []WorkspaceConfig `json:"workspaces"`
}

func defaultConfigDir() string {
	switch runtime.GOOS {
	case "linux":
		if configHome := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); configHome != "" {
			return filepath.Join(configHome, appName)
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", appName)
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, appName)
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Roaming", appName)
	default:
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", appName)
	}
}

func defaultStateDir() string {
	switch runtime.GOOS {
	case "linux":
		if stateHome := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); stateHome != "" {
			return filepath.Join(stateHome, appName)
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".local", "state", appName)
	case "windows":
		if localAppData := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); localAppData != "" {
			return filepath.Join(localAppData, appName)
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Local", appName)
	default:
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", appName)
	}
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	stateDir := defaultStateDir()

	return &Config{
		LogLevel:        "info",
		LogPath:         filepath.Join(stateDir, appName+".log"),
		DataDir:         stateDir,
		ClaudeBin:       "claude",
		ListenAddr:      "127.0.0.1:7420",
		DebugBufferSize: 200,
		EventBufferSize: 256,
		Workspaces:      []WorkspaceConfig{},
	}
}

// Load loads configuration from file. A missing file yields the defaults.
// Environment overrides are applied last.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		// Unmarshal into default config (overrides only provided fields)
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	config.applyDefaults()
	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.LogLevel == "" {
		c.LogLevel = defaults.LogLevel
	}
	if c.DataDir == "" {
		c.DataDir = defaults.DataDir
	}
	if c.ClaudeBin == "" {
		c.ClaudeBin = defaults.ClaudeBin
	}
	if c.ListenAddr == "" {
		c.ListenAddr = defaults.ListenAddr
	}
	if c.DebugBufferSize <= 0 {
		c.DebugBufferSize = defaults.DebugBufferSize
	}
	if c.EventBufferSize <= 0 {
		c.EventBufferSize = defaults.EventBufferSize
	}
	if c.Workspaces == nil {
		c.Workspaces = []WorkspaceConfig{}
	}
	for i := range c.Workspaces {
		ws := &c.Workspaces[i]
		if ws.Kind == "" {
			ws.Kind = KindMain
		}
		if ws.Name == "" {
			ws.Name = filepath.Base(ws.Path)
		}
	}
}

func (c *Config) applyEnv() {
	if level := strings.TrimSpace(os.Getenv(EnvLogLevel)); level != "" {
		c.LogLevel = level
	}
	if path, ok := os.LookupEnv(EnvLogPath); ok {
		c.LogPath = strings.TrimSpace(path)
	}
	if bin := strings.TrimSpace(os.Getenv(EnvClaudeBin)); bin != "" {
		c.ClaudeBin = bin
	}
}

// Validate checks workspace entries for missing or conflicting fields.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Workspaces))
	for _, ws := range c.Workspaces {
		if ws.ID == "" {
			return fmt.Errorf("workspace %q has no id", ws.Path)
		}
		if ws.Path == "" {
			return fmt.Errorf("workspace %s has no path", ws.ID)
		}
		if seen[ws.ID] {
			return fmt.Errorf("duplicate workspace id %s", ws.ID)
		}
		seen[ws.ID] = true

		switch ws.Kind {
		case KindMain:
		case KindWorktree:
			if ws.ParentID == "" {
				return fmt.Errorf("worktree workspace %s has no parent_id", ws.ID)
			}
		default:
			return fmt.Errorf("workspace %s has unknown kind %q", ws.ID, ws.Kind)
		}
	}
	for _, ws := range c.Workspaces {
		if ws.Kind == KindWorktree && !seen[ws.ParentID] {
			return fmt.Errorf("worktree workspace %s references unknown parent %s", ws.ID, ws.ParentID)
		}
	}
	return nil
}

// NamesDB returns the path of the thread names database.
func (c *Config) NamesDB() string {
	if c.NamesDBPath != "" {
		return c.NamesDBPath
	}
	return filepath.Join(c.DataDir, "names.db")
}

// Workspace finds a workspace entry by id.
func (c *Config) Workspace(id string) (WorkspaceConfig, bool) {
	for _, ws := range c.Workspaces {
		if ws.ID == id {
			return ws, true
		}
	}
	return WorkspaceConfig{}, false
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	// The file may carry the auth token.
	return os.WriteFile(path, data, 0600)
}

// GetConfigPath returns the default config path
func GetConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.json")
}
