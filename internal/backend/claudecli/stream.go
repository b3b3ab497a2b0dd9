package claudecli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/codefionn/threaddeck/internal/backend"
	"github.com/codefionn/threaddeck/internal/permissions"
	"github.com/codefionn/threaddeck/internal/threads"
)

// streamLine is one line of `--output-format stream-json`.
type streamLine struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Event     *streamEvent    `json:"event,omitempty"`
	Message   *streamMessage  `json:"message,omitempty"`
	Result    string          `json:"result,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Denials   []streamDenial  `json:"permission_denials,omitempty"`
	Error     json.RawMessage `json:"error,omitempty"`
}

type streamEvent struct {
	Type         string         `json:"type"`
	Index        int            `json:"index"`
	Message      *streamMessage `json:"message,omitempty"`
	ContentBlock *contentBlock  `json:"content_block,omitempty"`
	Delta        *streamDelta   `json:"delta,omitempty"`
}

type streamDelta struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type streamMessage struct {
	ID      string          `json:"id,omitempty"`
	Role    string          `json:"role,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
}

type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     map[string]any  `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type streamDenial struct {
	ToolName  string         `json:"tool_name"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	ToolInput map[string]any `json:"tool_input,omitempty"`
}

// blocks decodes message content, which is either a string or a list of
// content blocks.
func (m *streamMessage) blocks() []contentBlock {
	if m == nil || len(m.Content) == 0 {
		return nil
	}
	var text string
	if err := json.Unmarshal(m.Content, &text); err == nil {
		return []contentBlock{{Type: "text", Text: text}}
	}
	var blocks []contentBlock
	if err := json.Unmarshal(m.Content, &blocks); err != nil {
		return nil
	}
	return blocks
}

// resultText flattens a tool_result content value.
func resultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		parts := make([]string, 0, len(blocks))
		for _, b := range blocks {
			if b.Type == "text" && b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return string(raw)
}

type textBlock struct {
	id   string
	text strings.Builder
	done bool
}

// streamParser turns stream-json lines of one turn into backend events.
type streamParser struct {
	workspaceID string
	threadID    string
	turnID      string
	now         func() time.Time

	messageID string
	blocks    []*textBlock
	byIndex   map[int]*textBlock
	seenTools map[string]bool

	resultSeen bool
}

func newStreamParser(workspaceID, threadID, turnID string, now func() time.Time) *streamParser {
	return &streamParser{
		workspaceID: workspaceID,
		threadID:    threadID,
		turnID:      turnID,
		now:         now,
		byIndex:     make(map[int]*textBlock),
		seenTools:   make(map[string]bool),
	}
}

func (p *streamParser) event(kind backend.EventKind) backend.Event {
	return backend.Event{
		Kind:        kind,
		WorkspaceID: p.workspaceID,
		ThreadID:    p.threadID,
		TurnID:      p.turnID,
		At:          p.now(),
	}
}

func (p *streamParser) startMessage(id string) {
	if id != "" && id == p.messageID {
		return
	}
	if id == "" {
		id = "msg-" + uuid.NewString()
	}
	p.messageID = id
	p.blocks = nil
	p.byIndex = make(map[int]*textBlock)
}

func (p *streamParser) newBlock() *textBlock {
	b := &textBlock{id: fmt.Sprintf("%s-%d", p.messageID, len(p.blocks))}
	p.blocks = append(p.blocks, b)
	return b
}

// parse handles one output line. Malformed lines return an error and no
// events.
func (p *streamParser) parse(line []byte) ([]backend.Event, error) {
	var msg streamLine
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse stream line: %w", err)
	}

	switch msg.Type {
	case "system":
		if msg.Subtype == "init" && msg.SessionID != "" && msg.SessionID != p.threadID {
			ev := p.event(backend.EventThreadLinked)
			ev.NewThreadID = msg.SessionID
			p.threadID = msg.SessionID
			return []backend.Event{ev}, nil
		}
	case "stream_event":
		return p.parseStreamEvent(msg.Event), nil
	case "assistant":
		return p.parseAssistant(msg.Message), nil
	case "user":
		return p.parseToolResults(msg.Message), nil
	case "result":
		return p.parseResult(msg), nil
	case "error":
		ev := p.event(backend.EventError)
		ev.Message = errorText(msg.Error)
		return []backend.Event{ev}, nil
	}
	return nil, nil
}

func (p *streamParser) parseStreamEvent(inner *streamEvent) []backend.Event {
	if inner == nil {
		return nil
	}
	switch inner.Type {
	case "message_start":
		if inner.Message != nil {
			p.startMessage(inner.Message.ID)
		}
	case "content_block_start":
		if inner.ContentBlock != nil && inner.ContentBlock.Type == "text" {
			if p.messageID == "" {
				p.startMessage("")
			}
			p.byIndex[inner.Index] = p.newBlock()
		}
	case "content_block_delta":
		if inner.Delta == nil || inner.Delta.Type != "text_delta" || inner.Delta.Text == "" {
			return nil
		}
		block, ok := p.byIndex[inner.Index]
		if !ok {
			if p.messageID == "" {
				p.startMessage("")
			}
			block = p.newBlock()
			p.byIndex[inner.Index] = block
		}
		block.text.WriteString(inner.Delta.Text)
		ev := p.event(backend.EventItemDelta)
		ev.ItemID = block.id
		ev.Delta = inner.Delta.Text
		return []backend.Event{ev}
	}
	return nil
}

// completeText matches a finished text block against the streamed ones.
// Repeated snapshots of the same block are dropped.
func (p *streamParser) completeText(text string) (string, bool) {
	for _, b := range p.blocks {
		if b.done && b.text.String() == text {
			return "", false
		}
	}
	for _, b := range p.blocks {
		if !b.done {
			b.done = true
			b.text.Reset()
			b.text.WriteString(text)
			return b.id, true
		}
	}
	b := p.newBlock()
	b.done = true
	b.text.WriteString(text)
	return b.id, true
}

func (p *streamParser) parseAssistant(message *streamMessage) []backend.Event {
	if message == nil {
		return nil
	}
	p.startMessage(message.ID)

	var events []backend.Event
	for _, block := range message.blocks() {
		switch block.Type {
		case "text":
			if block.Text == "" {
				continue
			}
			id, ok := p.completeText(block.Text)
			if !ok {
				continue
			}
			ev := p.event(backend.EventItemCompleted)
			ev.Item = &threads.Item{ID: id, Kind: threads.ItemAgentMessage, Text: block.Text, CreatedAt: ev.At}
			events = append(events, ev)
		case "thinking":
			if block.Thinking == "" {
				continue
			}
			ev := p.event(backend.EventItemCompleted)
			ev.Item = &threads.Item{ID: p.messageID + "-thinking", Kind: threads.ItemReasoning, Text: block.Thinking, CreatedAt: ev.At}
			events = append(events, ev)
		case "tool_use":
			if block.ID == "" || p.seenTools[block.ID] {
				continue
			}
			p.seenTools[block.ID] = true
			if block.Name == permissions.AskUserQuestionTool {
				ev := p.event(backend.EventInputRequested)
				ev.Request = &threads.UserInputRequest{
					ID:          block.ID,
					WorkspaceID: p.workspaceID,
					ThreadID:    p.threadID,
					TurnID:      p.turnID,
					Questions:   parseQuestions(block.Input),
				}
				events = append(events, ev)
				continue
			}
			ev := p.event(backend.EventItemCompleted)
			ev.Item = &threads.Item{ID: block.ID, Kind: threads.ItemToolCall, ToolName: block.Name, ToolInput: block.Input, CreatedAt: ev.At}
			events = append(events, ev)
		}
	}
	return events
}

func (p *streamParser) parseToolResults(message *streamMessage) []backend.Event {
	var events []backend.Event
	for _, block := range message.blocks() {
		if block.Type != "tool_result" || block.ToolUseID == "" {
			continue
		}
		kind := threads.ItemToolResult
		if block.IsError {
			kind = threads.ItemError
		}
		ev := p.event(backend.EventItemCompleted)
		ev.Item = &threads.Item{ID: block.ToolUseID + "-result", Kind: kind, Text: resultText(block.Content), CreatedAt: ev.At}
		events = append(events, ev)
	}
	return events
}

func (p *streamParser) parseResult(msg streamLine) []backend.Event {
	p.resultSeen = true

	var events []backend.Event
	if len(msg.Denials) > 0 {
		ev := p.event(backend.EventPermissionDenied)
		for _, d := range msg.Denials {
			id := d.ToolUseID
			if id == "" {
				id = "denial-" + uuid.NewString()
			}
			ev.Denials = append(ev.Denials, threads.PermissionDenial{
				ID:          id,
				WorkspaceID: p.workspaceID,
				ThreadID:    p.threadID,
				TurnID:      p.turnID,
				ToolName:    d.ToolName,
				ToolInput:   d.ToolInput,
				CreatedAt:   ev.At,
			})
		}
		events = append(events, ev)
	}

	done := p.event(backend.EventTurnCompleted)
	if msg.IsError {
		done.Message = strings.TrimSpace(msg.Result)
		if done.Message == "" {
			done.Message = "Turn failed: " + msg.Subtype
		}
	}
	return append(events, done)
}

func parseQuestions(input map[string]any) []threads.UserInputQuestion {
	raw, _ := input["questions"].([]any)
	questions := make([]threads.UserInputQuestion, 0, len(raw))
	for i, entry := range raw {
		q, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		question := threads.UserInputQuestion{ID: fmt.Sprintf("q%d", i)}
		question.Question, _ = q["question"].(string)
		question.Header, _ = q["header"].(string)
		question.MultiSelect, _ = q["multiSelect"].(bool)
		options, _ := q["options"].([]any)
		for _, opt := range options {
			switch v := opt.(type) {
			case string:
				question.Options = append(question.Options, v)
			case map[string]any:
				if label, ok := v["label"].(string); ok {
					question.Options = append(question.Options, label)
				}
			}
		}
		questions = append(questions, question)
	}
	return questions
}

func errorText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "Claude reported an error"
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}
