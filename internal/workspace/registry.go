package workspace

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/codefionn/threaddeck/internal/config"
	"github.com/codefionn/threaddeck/internal/logger"
)

// ErrUnknown is returned for workspace ids that were never registered.
var ErrUnknown = errors.New("unknown workspace")

// Info describes a registered workspace
type Info struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	Kind         string    `json:"kind"`
	ParentID     string    `json:"parent_id,omitempty"`
	ClaudeBin    string    `json:"claude_bin,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

// IsWorktree reports whether the workspace is a worktree of another one.
func (i Info) IsWorktree() bool {
	return i.Kind == config.KindWorktree
}

// Registry holds the known workspaces, keyed by id and by path.
type Registry struct {
	mu sync.RWMutex

	workspaces map[string]*Info // workspace ID -> Info
	pathToID   map[string]string

	log *logger.Logger
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		workspaces: make(map[string]*Info),
		pathToID:   make(map[string]string),
		log:        logger.Global().WithPrefix("workspace"),
	}
}

// Register adds or updates a configured workspace.
func (r *Registry) Register(entry config.WorkspaceConfig) (Info, error) {
	if strings.TrimSpace(entry.Path) == "" {
		return Info{}, fmt.Errorf("workspace %s has no path", entry.ID)
	}
	absPath, err := filepath.Abs(entry.Path)
	if err != nil {
		return Info{}, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	id := entry.ID
	if id == "" {
		id = generateWorkspaceID(absPath)
	}
	kind := entry.Kind
	if kind == "" {
		kind = config.KindMain
	}
	name := entry.Name
	if name == "" {
		name = filepath.Base(absPath)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	info := &Info{
		ID:           id,
		Name:         name,
		Path:         absPath,
		Kind:         kind,
		ParentID:     entry.ParentID,
		ClaudeBin:    entry.ClaudeBin,
		RegisteredAt: time.Now(),
	}
	if existing, ok := r.workspaces[id]; ok {
		info.RegisteredAt = existing.RegisteredAt
		delete(r.pathToID, existing.Path)
	} else {
		r.log.Info("registered workspace %s at %s", name, absPath)
	}

	r.workspaces[id] = info
	r.pathToID[absPath] = id
	return *info, nil
}

// ResolvePath returns the workspace registered at dir, registering a new
// main workspace when none exists.
func (r *Registry) ResolvePath(ctx context.Context, dir string) (Info, error) {
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return Info{}, fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	if info, ok := r.GetByPath(absPath); ok {
		return info, nil
	}
	if _, err := os.Stat(absPath); err != nil {
		return Info{}, fmt.Errorf("working directory does not exist: %s", absPath)
	}
	return r.Register(config.WorkspaceConfig{Path: absPath})
}

// Sync makes the registry match the configured workspaces. Entries missing
// from entries are removed.
func (r *Registry) Sync(entries []config.WorkspaceConfig) error {
	keep := make(map[string]bool, len(entries))
	for _, entry := range entries {
		info, err := r.Register(entry)
		if err != nil {
			return err
		}
		keep[info.ID] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, info := range r.workspaces {
		if keep[id] {
			continue
		}
		delete(r.workspaces, id)
		delete(r.pathToID, info.Path)
		r.log.Info("removed workspace %s", info.Name)
	}
	return nil
}

// Get retrieves a workspace by id
func (r *Registry) Get(id string) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.workspaces[id]
	if !ok {
		return Info{}, false
	}
	return *info, true
}

// GetByPath retrieves a workspace by its directory
func (r *Registry) GetByPath(path string) (Info, bool) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Info{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.pathToID[absPath]
	if !ok {
		return Info{}, false
	}
	return *r.workspaces[id], true
}

// List returns all workspaces ordered by name, then id
func (r *Registry) List() []Info {
	r.mu.RLock()
	list := make([]Info, 0, len(r.workspaces))
	for _, info := range r.workspaces {
		list = append(list, *info)
	}
	r.mu.RUnlock()

	slices.SortFunc(list, func(a, b Info) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return list
}

// ClaudeHome resolves the Claude home directory of a workspace. Falls back
// to DefaultClaudeHome when the workspace carries no project home.
func (r *Registry) ClaudeHome(id string) (string, error) {
	info, ok := r.Get(id)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknown, id)
	}
	parentPath := ""
	if info.IsWorktree() {
		if parent, ok := r.Get(info.ParentID); ok {
			parentPath = parent.Path
		}
	}
	if home := ResolveClaudeHome(info, parentPath); home != "" {
		return home, nil
	}
	return DefaultClaudeHome(), nil
}

func generateWorkspaceID(workingDir string) string {
	h := sha256.New()
	h.Write([]byte(workingDir))
	return hex.EncodeToString(h.Sum(nil))[:16]
}
