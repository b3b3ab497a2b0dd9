package claudecli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// DefaultBin is used when neither the workspace nor the config names a binary.
const DefaultBin = "claude"

const versionTimeout = 5 * time.Second

// PathEnv returns PATH extended with the usual install locations of the
// claude CLI and the directory of claudeBin. Entries are deduplicated.
func PathEnv(claudeBin string) string {
	sep := string(os.PathListSeparator)
	var paths []string
	for _, p := range strings.Split(os.Getenv("PATH"), sep) {
		if p != "" && !slices.Contains(paths, p) {
			paths = append(paths, p)
		}
	}

	extras := []string{"/opt/homebrew/bin", "/usr/local/bin", "/usr/bin", "/bin", "/usr/sbin", "/sbin"}
	if home := os.Getenv("HOME"); home != "" {
		extras = append(extras,
			filepath.Join(home, ".local", "bin"),
			filepath.Join(home, ".local", "share", "mise", "shims"),
			filepath.Join(home, ".cargo", "bin"),
			filepath.Join(home, ".bun", "bin"),
		)
		nvmRoot := filepath.Join(home, ".nvm", "versions", "node")
		if entries, err := os.ReadDir(nvmRoot); err == nil {
			for _, entry := range entries {
				bin := filepath.Join(nvmRoot, entry.Name(), "bin")
				if info, err := os.Stat(bin); err == nil && info.IsDir() {
					extras = append(extras, bin)
				}
			}
		}
	}
	if strings.TrimSpace(claudeBin) != "" && strings.ContainsRune(claudeBin, filepath.Separator) {
		extras = append(extras, filepath.Dir(claudeBin))
	}

	for _, extra := range extras {
		if !slices.Contains(paths, extra) {
			paths = append(paths, extra)
		}
	}
	return strings.Join(paths, sep)
}

// ResolveBin picks the first non-empty candidate, falling back to DefaultBin.
func ResolveBin(candidates ...string) string {
	for _, c := range candidates {
		if c = strings.TrimSpace(c); c != "" {
			return c
		}
	}
	return DefaultBin
}

func commandEnv(claudeBin string, extra ...string) []string {
	env := make([]string, 0, len(os.Environ())+len(extra)+1)
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "PATH=") {
			continue
		}
		env = append(env, kv)
	}
	env = append(env, "PATH="+PathEnv(claudeBin))
	return append(env, extra...)
}

// lookBin resolves bare binary names against the augmented PATH.
func lookBin(claudeBin string) string {
	if strings.ContainsRune(claudeBin, filepath.Separator) {
		return claudeBin
	}
	for _, dir := range filepath.SplitList(PathEnv(claudeBin)) {
		candidate := filepath.Join(dir, claudeBin)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() && info.Mode()&0111 != 0 {
			return candidate
		}
	}
	return claudeBin
}

// CheckInstallation runs `claude --version` and returns the reported
// version. Errors carry a message meant for the user.
func CheckInstallation(ctx context.Context, claudeBin string) (string, error) {
	claudeBin = ResolveBin(claudeBin)

	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, lookBin(claudeBin), "--version")
	cmd.Env = commandEnv(claudeBin)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", errors.New("timed out while checking Claude Code CLI; make sure `claude --version` runs in a terminal")
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
				return "", errors.New("Claude Code CLI not found; install Claude Code and ensure `claude` is on your PATH")
			}
			return "", err
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = strings.TrimSpace(stdout.String())
		}
		if detail == "" {
			return "", errors.New("Claude Code CLI failed to start; try running `claude --version` in a terminal")
		}
		return "", fmt.Errorf("Claude Code CLI failed to start: %s; try running `claude --version` in a terminal", detail)
	}
	return strings.TrimSpace(stdout.String()), nil
}
