package claudecli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/codefionn/threaddeck/internal/approval"
)

const settingsFileName = "settings.local.json"

// ruleEntry renders an approval rule as a permissions.allow entry.
func ruleEntry(rule approval.Rule) (string, error) {
	command := approval.Normalize(rule.Command)
	if len(command) > 0 {
		return "Bash(" + approval.Join(command) + ":*)", nil
	}
	if tool := strings.TrimSpace(rule.ToolName); tool != "" {
		return tool, nil
	}
	return "", errors.New("approval rule names neither a command nor a tool")
}

// appendAllowRule adds entry to permissions.allow of the workspace's
// settings.local.json, keeping every other setting. Returns false when the
// entry was already present.
func appendAllowRule(workspacePath, entry string) (bool, error) {
	path := filepath.Join(workspacePath, ".claude", settingsFileName)

	settings := map[string]any{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return false, err
	case len(strings.TrimSpace(string(data))) > 0:
		if err := json.Unmarshal(data, &settings); err != nil {
			return false, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	perms, _ := settings["permissions"].(map[string]any)
	if perms == nil {
		perms = map[string]any{}
	}
	rawAllow, _ := perms["allow"].([]any)
	allow := make([]string, 0, len(rawAllow)+1)
	for _, v := range rawAllow {
		if s, ok := v.(string); ok {
			allow = append(allow, s)
		}
	}
	if slices.Contains(allow, entry) {
		return false, nil
	}
	perms["allow"] = append(allow, entry)
	settings["permissions"] = perms

	out, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, err
	}
	if err := os.WriteFile(path, append(out, '\n'), 0644); err != nil {
		return false, err
	}
	return true, nil
}
