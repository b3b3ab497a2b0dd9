package workspace

import (
	"os"
	"path/filepath"
	"strings"
)

// ResolveClaudeHome returns the project-level .claude directory of a
// workspace, or "" when it has none. Worktrees prefer their parent's.
func ResolveClaudeHome(info Info, parentPath string) string {
	if info.IsWorktree() && parentPath != "" {
		if home := filepath.Join(parentPath, ".claude"); isDir(home) {
			return home
		}
	}
	if home := filepath.Join(info.Path, ".claude"); isDir(home) {
		return home
	}
	return ""
}

// DefaultClaudeHome resolves CLAUDE_HOME, then CODEX_HOME, then ~/.claude.
func DefaultClaudeHome() string {
	for _, key := range []string{"CLAUDE_HOME", "CODEX_HOME"} {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return value
		}
	}
	home := homeDir()
	if home == "" {
		return ""
	}
	return filepath.Join(home, ".claude")
}

func homeDir() string {
	for _, key := range []string{"HOME", "USERPROFILE"} {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return value
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
