package claudecli

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not supported on windows")
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755))
	return path
}

func TestPathEnvAddsInstallDirsOnce(t *testing.T) {
	home := t.TempDir()
	nvmBin := filepath.Join(home, ".nvm", "versions", "node", "v20.0.0", "bin")
	require.NoError(t, os.MkdirAll(nvmBin, 0755))
	t.Setenv("HOME", home)
	t.Setenv("PATH", "/usr/bin:/custom/bin:/usr/bin")

	path := PathEnv("/opt/claude/bin/claude")
	entries := strings.Split(path, string(os.PathListSeparator))

	assert.Equal(t, "/usr/bin", entries[0])
	assert.Equal(t, "/custom/bin", entries[1])
	assert.Contains(t, entries, "/opt/homebrew/bin")
	assert.Contains(t, entries, filepath.Join(home, ".local", "bin"))
	assert.Contains(t, entries, nvmBin)
	assert.Contains(t, entries, "/opt/claude/bin")

	seen := map[string]bool{}
	for _, e := range entries {
		assert.False(t, seen[e], "duplicate %s", e)
		seen[e] = true
	}
}

func TestResolveBin(t *testing.T) {
	assert.Equal(t, "/ws/claude", ResolveBin("/ws/claude", "/global/claude"))
	assert.Equal(t, "/global/claude", ResolveBin(" ", "/global/claude"))
	assert.Equal(t, DefaultBin, ResolveBin("", ""))
}

func TestCheckInstallation(t *testing.T) {
	dir := t.TempDir()

	ok := writeScript(t, dir, "claude-ok", "echo '2.0.1 (Claude Code)'\n")
	version, err := CheckInstallation(context.Background(), ok)
	require.NoError(t, err)
	assert.Equal(t, "2.0.1 (Claude Code)", version)

	failing := writeScript(t, dir, "claude-fail", "echo 'broken install' >&2\nexit 3\n")
	_, err = CheckInstallation(context.Background(), failing)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken install")

	_, err = CheckInstallation(context.Background(), filepath.Join(dir, "missing-claude"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
