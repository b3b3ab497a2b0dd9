// Package approval holds the command-prefix matcher and the per-workspace
// allow-list of remembered approval rules.
package approval

import (
	"path/filepath"
	"strings"

	"github.com/kballard/go-shellquote"
)

// shellWrappers are interpreters whose "-c <script>" form is unwrapped so
// "bash -lc 'git status'" and "git status" normalize to the same tokens.
var shellWrappers = map[string]bool{
	"sh":   true,
	"bash": true,
	"zsh":  true,
}

var shellScriptFlags = map[string]bool{
	"-c":  true,
	"-lc": true,
	"-ic": true,
}

// shellControl are the characters that let one shell string run more than
// one command or redirect its output.
const shellControl = ";&|<>`\n"

// commandTools are the tool names whose input carries a command.
var commandTools = map[string]bool{
	"bash":          true,
	"shell":         true,
	"local_shell":   true,
	"exec_command":  true,
	"shell_command": true,
}

// Normalize turns a command argument list into canonical tokens: every token
// is trimmed, empty tokens are dropped and a single shell wrapper is unwrapped.
// An empty result means there is no prefix to record.
func Normalize(command []string) []string {
	tokens := make([]string, 0, len(command))
	for _, token := range command {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		tokens = append(tokens, token)
	}

	if len(tokens) == 3 && shellWrappers[filepath.Base(tokens[0])] && shellScriptFlags[tokens[1]] {
		if inner, err := shellquote.Split(tokens[2]); err == nil && len(inner) > 0 {
			return Normalize(inner)
		}
	}
	return tokens
}

// Matches reports whether tokens equals some allow-list entry element-wise.
// It performs exact membership; see MatchesPrefix for prefix lookups.
func Matches(tokens []string, allowlist [][]string) bool {
	if len(tokens) == 0 {
		return false
	}
	for _, entry := range allowlist {
		if equalTokens(tokens, entry) {
			return true
		}
	}
	return false
}

// MatchesPrefix reports whether some allow-list entry is a leading prefix of
// tokens. The candidate is cut to each entry's length before the exact
// comparison done by Matches.
func MatchesPrefix(tokens []string, allowlist [][]string) bool {
	if len(tokens) == 0 {
		return false
	}
	for _, entry := range allowlist {
		if len(entry) == 0 || len(entry) > len(tokens) {
			continue
		}
		if Matches(tokens[:len(entry)], [][]string{entry}) {
			return true
		}
	}
	return false
}

// IsCommandTool reports whether a tool name carries a command payload.
func IsCommandTool(toolName string) bool {
	return commandTools[strings.ToLower(strings.TrimSpace(toolName))]
}

// ExtractCommandTokens pulls normalized command tokens out of a tool input.
// The command may be an argument array or a single shell string. Tools that
// do not carry a command yield ok=false and are never auto-matched.
func ExtractCommandTokens(toolName string, input map[string]any) (tokens []string, ok bool) {
	if !IsCommandTool(toolName) || input == nil {
		return nil, false
	}

	var raw []string
	switch command := input["command"].(type) {
	case []string:
		raw = command
	case []any:
		raw = make([]string, 0, len(command))
		for _, part := range command {
			s, isString := part.(string)
			if !isString {
				return nil, false
			}
			raw = append(raw, s)
		}
	case string:
		if compound(command) {
			return nil, false
		}
		split, err := shellquote.Split(command)
		if err != nil {
			split = strings.Fields(command)
		}
		raw = split
	default:
		return nil, false
	}

	if script, wrapped := wrappedScript(raw); wrapped && compound(script) {
		return nil, false
	}

	tokens = Normalize(raw)
	if len(tokens) == 0 {
		return nil, false
	}
	return tokens, true
}

// compound reports whether a shell string may chain, substitute or redirect
// commands. Such strings never match an allow-list entry by prefix.
func compound(script string) bool {
	return strings.ContainsAny(script, shellControl) || strings.Contains(script, "$(")
}

func wrappedScript(command []string) (string, bool) {
	tokens := make([]string, 0, len(command))
	for _, token := range command {
		if token = strings.TrimSpace(token); token != "" {
			tokens = append(tokens, token)
		}
	}
	if len(tokens) == 3 && shellWrappers[filepath.Base(tokens[0])] && shellScriptFlags[tokens[1]] {
		return tokens[2], true
	}
	return "", false
}

// Join renders tokens as a single shell-quoted command line.
func Join(tokens []string) string {
	return shellquote.Join(tokens...)
}

func equalTokens(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
