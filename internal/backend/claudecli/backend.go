// Package claudecli runs threads through the Claude Code CLI. Each turn is
// one `claude -p` process speaking stream-json on stdin and stdout; thread
// history is read back from the CLI's session transcripts.
package claudecli

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codefionn/threaddeck/internal/approval"
	"github.com/codefionn/threaddeck/internal/backend"
	"github.com/codefionn/threaddeck/internal/logger"
	"github.com/codefionn/threaddeck/internal/workspace"
)

// PendingTurnID matches whatever turn is running on the thread.
const PendingTurnID = "pending"

// Workspaces resolves workspace ids for the backend.
type Workspaces interface {
	Get(id string) (workspace.Info, bool)
	ClaudeHome(id string) (string, error)
}

// Options configure a Backend.
type Options struct {
	Workspaces Workspaces
	// ClaudeBin is the global binary; workspaces may override it.
	ClaudeBin string
	Logger    *logger.Logger
	Now       func() time.Time
}

type session struct {
	workspaceID string
	// resumable is set once a turn ran, so later turns pass --resume.
	resumable bool
	turn      *turn
}

type turn struct {
	id     string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	// done is closed once the turn is no longer registered on its thread.
	done chan struct{}

	mu          sync.Mutex
	stdinClosed bool
	requests    map[string]bool
	interrupted bool
}

func (t *turn) write(payload any) error {
	line, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stdinClosed {
		return fmt.Errorf("turn %s no longer accepts input", t.id)
	}
	_, err = t.stdin.Write(append(line, '\n'))
	return err
}

func (t *turn) closeStdin() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.stdinClosed {
		t.stdinClosed = true
		if t.stdin != nil {
			_ = t.stdin.Close()
		}
	}
}

func (t *turn) kill() error {
	t.mu.Lock()
	t.interrupted = true
	var proc *os.Process
	if t.cmd != nil {
		proc = t.cmd.Process
	}
	t.mu.Unlock()
	t.closeStdin()
	if proc == nil {
		return nil
	}
	if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func (t *turn) wasInterrupted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interrupted
}

// Backend implements backend.Backend over the claude CLI.
type Backend struct {
	workspaces Workspaces
	claudeBin  string
	events     *backend.Broadcaster
	log        *logger.Logger
	now        func() time.Time

	mu         sync.Mutex
	sessions   map[string]*session // thread ID -> session
	closed     bool
	wg         sync.WaitGroup
	settingsMu sync.Mutex
}

var _ backend.Backend = (*Backend)(nil)

// New creates a Backend.
func New(opts Options) *Backend {
	log := opts.Logger
	if log == nil {
		log = logger.Global().WithPrefix("claude")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Backend{
		workspaces: opts.Workspaces,
		claudeBin:  opts.ClaudeBin,
		events:     backend.NewBroadcaster(),
		log:        log,
		now:        now,
		sessions:   make(map[string]*session),
	}
}

func (b *Backend) workspace(id string) (workspace.Info, string, error) {
	info, ok := b.workspaces.Get(id)
	if !ok {
		return workspace.Info{}, "", fmt.Errorf("%w: %s", backend.ErrUnknownWorkspace, id)
	}
	home, err := b.workspaces.ClaudeHome(id)
	if err != nil {
		return workspace.Info{}, "", err
	}
	return info, home, nil
}

// CheckInstallation checks the binary a workspace would use.
func (b *Backend) CheckInstallation(ctx context.Context, workspaceID string) (string, error) {
	bin := b.claudeBin
	if workspaceID != "" {
		if info, ok := b.workspaces.Get(workspaceID); ok {
			bin = ResolveBin(info.ClaudeBin, b.claudeBin)
		}
	}
	return CheckInstallation(ctx, bin)
}

// StartThread allocates a session id. Nothing runs until the first message.
func (b *Backend) StartThread(ctx context.Context, workspaceID string) (string, error) {
	if _, _, err := b.workspace(workspaceID); err != nil {
		return "", err
	}
	threadID := uuid.NewString()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", backend.ErrClosed
	}
	b.sessions[threadID] = &session{workspaceID: workspaceID}
	b.log.Debug("started thread %s in workspace %s", threadID, workspaceID)
	return threadID, nil
}

// ResumeThread reads the thread's transcript.
func (b *Backend) ResumeThread(ctx context.Context, workspaceID, threadID string, activation bool) (backend.Snapshot, error) {
	info, home, err := b.workspace(workspaceID)
	if err != nil {
		return backend.Snapshot{}, err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return backend.Snapshot{}, backend.ErrClosed
	}
	sess := b.sessions[threadID]
	b.mu.Unlock()

	path := transcriptPath(home, info.Path, threadID)
	if _, err := os.Stat(path); err != nil {
		if sess == nil {
			return backend.Snapshot{}, fmt.Errorf("thread %s not found: %w", threadID, err)
		}
		snapshot := backend.Snapshot{ThreadID: threadID}
		b.fillActiveTurn(&snapshot)
		return snapshot, nil
	}

	snapshot, err := readTranscript(path, threadID)
	if err != nil {
		return backend.Snapshot{}, fmt.Errorf("failed to read transcript: %w", err)
	}

	b.mu.Lock()
	if sess = b.sessions[threadID]; sess == nil {
		sess = &session{workspaceID: workspaceID}
		b.sessions[threadID] = sess
	}
	sess.resumable = true
	b.mu.Unlock()

	b.fillActiveTurn(&snapshot)
	return snapshot, nil
}

func (b *Backend) fillActiveTurn(snapshot *backend.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sess := b.sessions[snapshot.ThreadID]; sess != nil && sess.turn != nil {
		snapshot.ActiveTurnID = sess.turn.id
		snapshot.Processing = true
	}
}

// SendMessage spawns one CLI process for the turn and streams its output
// as events. It returns once the turn started.
func (b *Backend) SendMessage(ctx context.Context, workspaceID, threadID, text string, images []string, opts backend.SendOptions) error {
	info, home, err := b.workspace(workspaceID)
	if err != nil {
		return err
	}

	prompt := expandedPrompt{Text: text}
	if !opts.SkipPromptExpansion {
		prompt = expandPrompt(text, home, workspace.DefaultClaudeHome())
	}
	payload, err := userMessage(prompt.Text, images)
	if err != nil {
		return err
	}

	t := &turn{id: uuid.NewString(), requests: make(map[string]bool), done: make(chan struct{})}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return backend.ErrClosed
	}
	sess := b.sessions[threadID]
	if sess == nil {
		sess = &session{
			workspaceID: workspaceID,
			resumable:   transcriptExists(home, info.Path, threadID),
		}
		b.sessions[threadID] = sess
	}
	if sess.turn != nil {
		b.mu.Unlock()
		return fmt.Errorf("thread %s already has a running turn", threadID)
	}
	resume := sess.resumable
	sess.turn = t
	b.wg.Add(1)
	b.mu.Unlock()

	bin := ResolveBin(info.ClaudeBin, b.claudeBin)
	cmd := exec.Command(lookBin(bin), turnArgs(threadID, resume, prompt)...)
	cmd.Dir = info.Path
	cmd.Env = commandEnv(bin, "CLAUDE_CONFIG_DIR="+home)

	t.mu.Lock()
	t.cmd = cmd
	err = b.startProcess(t)
	t.mu.Unlock()
	if err != nil {
		b.clearTurn(threadID, t)
		b.wg.Done()
		return fmt.Errorf("failed to start claude: %w", err)
	}
	// Fails when the turn was killed while starting.
	if err := t.write(payload); err != nil {
		_ = t.kill()
		_ = cmd.Wait()
		b.clearTurn(threadID, t)
		b.wg.Done()
		return fmt.Errorf("failed to write prompt: %w", err)
	}

	b.mu.Lock()
	sess.resumable = true
	b.mu.Unlock()

	b.log.Info("turn %s started on thread %s", t.id, threadID)
	b.events.Publish(backend.Event{
		Kind:        backend.EventTurnStarted,
		WorkspaceID: workspaceID,
		ThreadID:    threadID,
		TurnID:      t.id,
		At:          b.now(),
	})

	go b.runTurn(workspaceID, threadID, t)
	return nil
}

func turnArgs(threadID string, resume bool, prompt expandedPrompt) []string {
	args := []string{
		"-p",
		"--input-format", "stream-json",
		"--output-format", "stream-json",
		"--verbose",
		"--include-partial-messages",
	}
	if resume {
		args = append(args, "--resume", threadID)
	} else {
		args = append(args, "--session-id", threadID)
	}
	if prompt.Model != "" {
		args = append(args, "--model", prompt.Model)
	}
	for _, tool := range prompt.AllowedTools {
		args = append(args, "--allowedTools", tool)
	}
	return args
}

// startProcess runs with t.mu held.
func (b *Backend) startProcess(t *turn) error {
	stdin, err := t.cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := t.cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := t.cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err := t.cmd.Start(); err != nil {
		return err
	}
	t.stdin = stdin
	t.stdout = stdout

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				b.log.Debug("[stderr %s] %s", t.id, line)
			}
		}
	}()
	return nil
}

func (b *Backend) runTurn(workspaceID, threadID string, t *turn) {
	defer b.wg.Done()

	parser := newStreamParser(workspaceID, threadID, t.id, b.now)
	// turn/completed goes out after the process exited so the thread
	// accepts the next message as soon as it is seen.
	var completed *backend.Event
	scanner := bufio.NewScanner(t.stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		events, err := parser.parse(line)
		if err != nil {
			b.log.Warn("turn %s: %v", t.id, err)
			continue
		}
		for _, ev := range events {
			switch ev.Kind {
			case backend.EventThreadLinked:
				b.relink(ev.ThreadID, ev.NewThreadID)
			case backend.EventInputRequested:
				t.mu.Lock()
				t.requests[ev.Request.ID] = true
				t.mu.Unlock()
			case backend.EventTurnCompleted:
				// The CLI keeps reading stream-json input until EOF.
				t.closeStdin()
				completed = &ev
				continue
			}
			b.events.Publish(ev)
		}
	}
	if err := scanner.Err(); err != nil {
		b.log.Warn("turn %s: reading output: %v", t.id, err)
	}

	t.closeStdin()
	waitErr := t.cmd.Wait()
	threadID = parser.threadID
	b.clearTurn(threadID, t)

	if completed != nil {
		completed.ThreadID = threadID
		b.log.Info("turn %s completed", t.id)
		b.events.Publish(*completed)
		return
	}

	ev := backend.Event{
		Kind:        backend.EventTurnCompleted,
		WorkspaceID: workspaceID,
		ThreadID:    threadID,
		TurnID:      t.id,
		At:          b.now(),
	}
	switch {
	case t.wasInterrupted():
		b.log.Info("turn %s interrupted", t.id)
	case waitErr != nil:
		ev.Message = fmt.Sprintf("Claude exited before finishing the turn: %v", waitErr)
		b.log.Warn("turn %s: %v", t.id, waitErr)
	default:
		ev.Message = "Claude exited without a result"
	}
	b.events.Publish(ev)
}

// clearTurn unregisters t and releases anyone waiting on it. Each turn is
// cleared exactly once.
func (b *Backend) clearTurn(threadID string, t *turn) {
	b.mu.Lock()
	if sess := b.sessions[threadID]; sess != nil && sess.turn == t {
		sess.turn = nil
	}
	b.mu.Unlock()
	close(t.done)
}

func (b *Backend) relink(oldID, newID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sess, ok := b.sessions[oldID]; ok {
		delete(b.sessions, oldID)
		sess.resumable = true
		b.sessions[newID] = sess
	}
	b.log.Info("thread %s continues as %s", oldID, newID)
}

func (b *Backend) activeTurn(threadID string) *turn {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sess := b.sessions[threadID]; sess != nil {
		return sess.turn
	}
	return nil
}

// InterruptTurn kills the turn's process and returns once the thread can
// take a new turn. Turns that are not running, or that no longer match
// turnID, are left alone.
func (b *Backend) InterruptTurn(ctx context.Context, workspaceID, threadID, turnID string) error {
	t := b.activeTurn(threadID)
	if t == nil {
		return nil
	}
	if turnID != PendingTurnID && turnID != t.id {
		return nil
	}
	if err := t.kill(); err != nil {
		return err
	}
	// Wait until the thread accepts a new turn so a resend can follow.
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RespondToUserInput answers an AskUserQuestion tool call of the running
// turn with a tool_result.
func (b *Backend) RespondToUserInput(ctx context.Context, workspaceID, threadID, requestID string, answers map[string]string) error {
	t := b.activeTurn(threadID)
	if t == nil {
		return backend.ErrNoActiveTurn
	}
	t.mu.Lock()
	pending := t.requests[requestID]
	delete(t.requests, requestID)
	t.mu.Unlock()
	if !pending {
		return fmt.Errorf("%w: no pending request %s", backend.ErrNoActiveTurn, requestID)
	}

	result, err := json.Marshal(map[string]any{"answers": answers})
	if err != nil {
		return err
	}
	return t.write(map[string]any{
		"type": "user",
		"message": map[string]any{
			"role": "user",
			"content": []any{map[string]any{
				"type":        "tool_result",
				"tool_use_id": requestID,
				"content":     string(result),
			}},
		},
	})
}

// RememberApprovalRule persists the rule in the workspace's
// .claude/settings.local.json.
func (b *Backend) RememberApprovalRule(ctx context.Context, workspaceID string, rule approval.Rule) error {
	info, ok := b.workspaces.Get(workspaceID)
	if !ok {
		return fmt.Errorf("%w: %s", backend.ErrUnknownWorkspace, workspaceID)
	}
	entry, err := ruleEntry(rule)
	if err != nil {
		return err
	}

	b.settingsMu.Lock()
	defer b.settingsMu.Unlock()
	added, err := appendAllowRule(info.Path, entry)
	if err != nil {
		return fmt.Errorf("failed to persist approval rule: %w", err)
	}
	if added {
		b.log.Info("remembered %s for workspace %s", entry, workspaceID)
	}
	return nil
}

// ListThreads pages through the workspace's transcripts.
func (b *Backend) ListThreads(ctx context.Context, workspaceID, cursor string) (backend.Page, error) {
	info, home, err := b.workspace(workspaceID)
	if err != nil {
		return backend.Page{}, err
	}
	return listTranscripts(home, workspaceID, info.Path, cursor)
}

// ArchiveThread stops the thread and moves its transcript aside.
func (b *Backend) ArchiveThread(ctx context.Context, workspaceID, threadID string) error {
	info, home, err := b.workspace(workspaceID)
	if err != nil {
		return err
	}

	b.mu.Lock()
	sess := b.sessions[threadID]
	delete(b.sessions, threadID)
	b.mu.Unlock()
	if sess != nil && sess.turn != nil {
		_ = sess.turn.kill()
	}

	if err := archiveTranscript(home, info.Path, threadID); err != nil {
		return fmt.Errorf("failed to archive thread %s: %w", threadID, err)
	}
	return nil
}

// Subscribe returns the event stream.
func (b *Backend) Subscribe(ctx context.Context) <-chan backend.Event {
	return b.events.Subscribe(ctx)
}

// Close kills every running turn and ends all subscriptions.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var running []*turn
	for _, sess := range b.sessions {
		if sess.turn != nil {
			running = append(running, sess.turn)
		}
	}
	b.mu.Unlock()

	for _, t := range running {
		_ = t.kill()
	}
	b.wg.Wait()
	b.events.Close()
	return nil
}

// userMessage builds the stream-json input line for a prompt. Images are
// data URLs or file paths.
func userMessage(text string, images []string) (map[string]any, error) {
	content := make([]any, 0, len(images)+1)
	for _, image := range images {
		mediaType, data, err := imageData(image)
		if err != nil {
			return nil, err
		}
		content = append(content, map[string]any{
			"type": "image",
			"source": map[string]any{
				"type":       "base64",
				"media_type": mediaType,
				"data":       data,
			},
		})
	}
	if text != "" {
		content = append(content, map[string]any{"type": "text", "text": text})
	}
	return map[string]any{
		"type":    "user",
		"message": map[string]any{"role": "user", "content": content},
	}, nil
}

func imageData(image string) (string, string, error) {
	if rest, ok := strings.CutPrefix(image, "data:"); ok {
		header, data, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(header, ";base64") {
			return "", "", errors.New("unsupported image data URL")
		}
		return strings.TrimSuffix(header, ";base64"), data, nil
	}
	raw, err := os.ReadFile(image)
	if err != nil {
		return "", "", fmt.Errorf("failed to read image: %w", err)
	}
	mediaType := mime.TypeByExtension(strings.ToLower(filepath.Ext(image)))
	if mediaType == "" {
		mediaType = "image/png"
	}
	return mediaType, base64.StdEncoding.EncodeToString(raw), nil
}
