package claudecli

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/codefionn/threaddeck/internal/backend"
	"github.com/codefionn/threaddeck/internal/permissions"
	"github.com/codefionn/threaddeck/internal/threads"
)

const (
	listPageSize   = 25
	maxTitleRunes  = 48
	maxLineBytes   = 16 * 1024 * 1024
	archiveDirName = "archived"
)

// transcriptLine is one record of a session transcript.
type transcriptLine struct {
	Type      string         `json:"type"`
	UUID      string         `json:"uuid,omitempty"`
	Timestamp time.Time      `json:"timestamp,omitzero"`
	Summary   string         `json:"summary,omitempty"`
	IsMeta    bool           `json:"isMeta,omitempty"`
	Message   *streamMessage `json:"message,omitempty"`
}

// projectDirName encodes a workspace path the way the CLI names its
// per-project transcript directories.
func projectDirName(path string) string {
	var b strings.Builder
	for _, r := range path {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}

func transcriptDir(claudeHome, workspacePath string) string {
	return filepath.Join(claudeHome, "projects", projectDirName(workspacePath))
}

func transcriptPath(claudeHome, workspacePath, threadID string) string {
	return filepath.Join(transcriptDir(claudeHome, workspacePath), threadID+".jsonl")
}

func scanTranscript(path string, fn func(transcriptLine) bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var entry transcriptLine
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		if !fn(entry) {
			return nil
		}
	}
	return scanner.Err()
}

// readTranscript loads a transcript into thread items.
func readTranscript(path, threadID string) (backend.Snapshot, error) {
	snapshot := backend.Snapshot{ThreadID: threadID, Items: []threads.Item{}}

	err := scanTranscript(path, func(entry transcriptLine) bool {
		if entry.Type == "summary" && entry.Summary != "" {
			snapshot.Name = entry.Summary
			return true
		}
		if entry.IsMeta || entry.Message == nil {
			return true
		}
		if entry.Timestamp.After(snapshot.UpdatedAt) {
			snapshot.UpdatedAt = entry.Timestamp
		}
		snapshot.Items = append(snapshot.Items, transcriptItems(entry)...)
		return true
	})
	if err != nil {
		return backend.Snapshot{}, err
	}
	if snapshot.Name == "" {
		snapshot.Name = titleFromItems(snapshot.Items)
	}
	return snapshot, nil
}

func transcriptItems(entry transcriptLine) []threads.Item {
	var items []threads.Item
	blocks := entry.Message.blocks()
	for i, block := range blocks {
		id := entry.UUID
		if len(blocks) > 1 {
			id = fmt.Sprintf("%s-%d", entry.UUID, i)
		}
		item := threads.Item{ID: id, CreatedAt: entry.Timestamp}

		switch {
		case entry.Type == "user" && block.Type == "text":
			item.Kind = threads.ItemUserMessage
			item.Text = block.Text
		case entry.Type == "user" && block.Type == "tool_result":
			item.ID = block.ToolUseID + "-result"
			item.Kind = threads.ItemToolResult
			if block.IsError {
				item.Kind = threads.ItemError
			}
			item.Text = resultText(block.Content)
		case entry.Type == "assistant" && block.Type == "text":
			item.Kind = threads.ItemAgentMessage
			item.Text = block.Text
		case entry.Type == "assistant" && block.Type == "thinking":
			item.Kind = threads.ItemReasoning
			item.Text = block.Thinking
		case entry.Type == "assistant" && block.Type == "tool_use" && block.Name != permissions.AskUserQuestionTool:
			item.ID = block.ID
			item.Kind = threads.ItemToolCall
			item.ToolName = block.Name
			item.ToolInput = block.Input
		default:
			continue
		}
		if item.Text == "" && item.Kind != threads.ItemToolCall {
			continue
		}
		items = append(items, item)
	}
	return items
}

func titleFromItems(items []threads.Item) string {
	for _, item := range items {
		if item.Kind == threads.ItemUserMessage {
			return truncateTitle(item.Text)
		}
	}
	return ""
}

func truncateTitle(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= maxTitleRunes {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:maxTitleRunes])) + "…"
}

// transcriptTitle reads just enough of a transcript to name it.
func transcriptTitle(path string) string {
	title := ""
	_ = scanTranscript(path, func(entry transcriptLine) bool {
		if entry.Type == "summary" && entry.Summary != "" {
			title = entry.Summary
			return false
		}
		if entry.Type == "user" && !entry.IsMeta && title == "" {
			for _, block := range entry.Message.blocks() {
				if block.Type == "text" && strings.TrimSpace(block.Text) != "" {
					title = truncateTitle(block.Text)
					break
				}
			}
		}
		return true
	})
	return title
}

// listTranscripts pages through a workspace's transcripts, most recently
// modified first. The cursor is the offset of the next page.
func listTranscripts(claudeHome, workspaceID, workspacePath, cursor string) (backend.Page, error) {
	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return backend.Page{}, fmt.Errorf("invalid cursor %q", cursor)
		}
		offset = n
	}

	dir := transcriptDir(claudeHome, workspacePath)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return backend.Page{Threads: []threads.Thread{}}, nil
	}
	if err != nil {
		return backend.Page{}, err
	}

	type transcriptFile struct {
		id      string
		path    string
		modTime time.Time
	}
	files := make([]transcriptFile, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, transcriptFile{
			id:      strings.TrimSuffix(entry.Name(), ".jsonl"),
			path:    filepath.Join(dir, entry.Name()),
			modTime: info.ModTime(),
		})
	}
	slices.SortFunc(files, func(a, b transcriptFile) int {
		if c := b.modTime.Compare(a.modTime); c != 0 {
			return c
		}
		return strings.Compare(a.id, b.id)
	})

	page := backend.Page{Threads: []threads.Thread{}}
	if offset >= len(files) {
		return page, nil
	}
	end := min(offset+listPageSize, len(files))
	for _, f := range files[offset:end] {
		page.Threads = append(page.Threads, threads.Thread{
			ID:          f.id,
			WorkspaceID: workspaceID,
			Name:        transcriptTitle(f.path),
			UpdatedAt:   f.modTime,
		})
	}
	if end < len(files) {
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}

// archiveTranscript moves a transcript into the archive directory. A
// missing transcript is not an error.
func archiveTranscript(claudeHome, workspacePath, threadID string) error {
	src := transcriptPath(claudeHome, workspacePath, threadID)
	if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	archiveDir := filepath.Join(transcriptDir(claudeHome, workspacePath), archiveDirName)
	if err := os.MkdirAll(archiveDir, 0755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}
	return os.Rename(src, filepath.Join(archiveDir, threadID+".jsonl"))
}

func transcriptExists(claudeHome, workspacePath, threadID string) bool {
	_, err := os.Stat(transcriptPath(claudeHome, workspacePath, threadID))
	return err == nil
}
