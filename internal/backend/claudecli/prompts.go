package claudecli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// commandFrontmatter is the YAML header of a custom slash command.
type commandFrontmatter struct {
	Description  string `yaml:"description"`
	ArgumentHint string `yaml:"argument-hint"`
	AllowedTools any    `yaml:"allowed-tools"`
	Model        string `yaml:"model"`
}

// expandedPrompt is a prompt after slash-command expansion.
type expandedPrompt struct {
	Text         string
	AllowedTools []string
	Model        string
}

// expandPrompt replaces a leading `/name args` with the body of
// commands/name.md from the first home that has it. Namespaced commands
// (`/ns:name`) live in commands/ns/name.md.
func expandPrompt(text string, homes ...string) expandedPrompt {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		return expandedPrompt{Text: text}
	}
	name, args, _ := strings.Cut(trimmed[1:], " ")
	name = strings.TrimSpace(name)
	args = strings.TrimSpace(args)
	if name == "" || strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return expandedPrompt{Text: text}
	}
	rel := filepath.Join(strings.Split(name, ":")...) + ".md"

	for _, home := range homes {
		if home == "" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(home, "commands", rel))
		if err != nil {
			continue
		}
		meta, body := splitFrontmatter(data)
		return expandedPrompt{
			Text:         strings.TrimSpace(strings.ReplaceAll(body, "$ARGUMENTS", args)),
			AllowedTools: meta.allowedTools(),
			Model:        meta.Model,
		}
	}
	return expandedPrompt{Text: text}
}

func splitFrontmatter(data []byte) (commandFrontmatter, string) {
	var meta commandFrontmatter
	content := string(bytes.TrimPrefix(data, []byte("\ufeff")))
	if !strings.HasPrefix(content, "---") {
		return meta, content
	}
	rest := strings.TrimPrefix(content[3:], "\r")
	rest = strings.TrimPrefix(rest, "\n")
	header, body, found := strings.Cut(rest, "\n---")
	if !found {
		return meta, content
	}
	if err := yaml.Unmarshal([]byte(header), &meta); err != nil {
		return commandFrontmatter{}, content
	}
	body = strings.TrimPrefix(body, "\r")
	return meta, strings.TrimPrefix(body, "\n")
}

func (m commandFrontmatter) allowedTools() []string {
	switch v := m.AllowedTools.(type) {
	case string:
		var tools []string
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tools = append(tools, t)
			}
		}
		return tools
	case []any:
		var tools []string
		for _, t := range v {
			if s, ok := t.(string); ok && strings.TrimSpace(s) != "" {
				tools = append(tools, strings.TrimSpace(s))
			}
		}
		return tools
	}
	return nil
}
