package approval

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Rule is an approval rule as persisted through the backend. Command holds
// the normalized prefix; an empty Command records nothing locally. ToolName
// names the tool for rules that do not carry a command.
type Rule struct {
	ToolName string   `json:"tool_name,omitempty"`
	Command  []string `json:"command,omitempty"`
}

// Allowlist maps workspace ids to an insertion-ordered set of remembered
// command-token sequences. It lives for the session and is shared by the
// orchestrator (writes) and the permission reducer (reads).
type Allowlist struct {
	mu         sync.RWMutex
	workspaces map[string]*workspaceRules
}

type workspaceRules struct {
	ordered [][]string
	// index buckets entry positions by token-sequence hash
	index map[uint64][]int
}

// NewAllowlist creates an empty allow-list.
func NewAllowlist() *Allowlist {
	return &Allowlist{workspaces: make(map[string]*workspaceRules)}
}

// Remember appends tokens to the workspace's list unless an identical entry
// is already present. Empty tokens are ignored. It reports whether the list
// changed.
func (a *Allowlist) Remember(workspaceID string, tokens []string) bool {
	if len(tokens) == 0 {
		return false
	}

	entry := append([]string(nil), tokens...)
	key := hashTokens(entry)

	a.mu.Lock()
	defer a.mu.Unlock()

	rules := a.workspaces[workspaceID]
	if rules == nil {
		rules = &workspaceRules{index: make(map[uint64][]int)}
		a.workspaces[workspaceID] = rules
	}

	for _, pos := range rules.index[key] {
		if equalTokens(rules.ordered[pos], entry) {
			return false
		}
	}

	rules.index[key] = append(rules.index[key], len(rules.ordered))
	rules.ordered = append(rules.ordered, entry)
	return true
}

// Lookup returns a copy of the workspace's entries in insertion order. An
// unknown workspace yields an empty, non-nil slice.
func (a *Allowlist) Lookup(workspaceID string) [][]string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	rules := a.workspaces[workspaceID]
	if rules == nil {
		return [][]string{}
	}

	out := make([][]string, len(rules.ordered))
	for i, entry := range rules.ordered {
		out[i] = append([]string(nil), entry...)
	}
	return out
}

// Allows reports whether tokens are covered by a remembered prefix.
func (a *Allowlist) Allows(workspaceID string, tokens []string) bool {
	return MatchesPrefix(tokens, a.Lookup(workspaceID))
}

func hashTokens(tokens []string) uint64 {
	d := xxhash.New()
	for _, token := range tokens {
		_, _ = d.WriteString(token)
		// NUL cannot appear inside an argv element, so it separates tokens
		// unambiguously.
		_, _ = d.Write([]byte{0})
	}
	return d.Sum64()
}
