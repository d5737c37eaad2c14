// Package chatlog holds the host-native conversation history.
//
// A ChatLog is an ordered, append-only sequence of content entries owned
// by one conversation session. The agent loop holds a reference only for
// the duration of a single turn; cross-turn exclusion is the caller's
// responsibility (single-writer discipline per turn).
package chatlog

import (
	"context"
	"log/slog"
)

// Content is one entry in the conversation history. It is a closed set:
// SystemContent, UserContent, AssistantContent, or ToolResultContent.
type Content interface {
	isContent()
}

// SystemContent is the conversation's system prompt.
type SystemContent struct {
	Text string
}

// UserContent is one user utterance.
type UserContent struct {
	Text string
}

// AssistantContent is one assistant turn. Content may be empty when the
// turn consists solely of tool calls; ToolCalls may be nil for a plain
// text reply.
type AssistantContent struct {
	Content   string
	ToolCalls []ToolCall
}

// ToolResultContent is the host's response to a single tool call,
// keyed by the originating call's ID.
type ToolResultContent struct {
	ToolCallID string
	ToolName   string
	Result     any
}

func (SystemContent) isContent()     {}
func (UserContent) isContent()       {}
func (AssistantContent) isContent()  {}
func (ToolResultContent) isContent() {}

// ToolCall is a model-issued request to invoke a host tool. The ID is
// assigned by the model backend and echoed back in the matching
// ToolResultContent.
type ToolCall struct {
	ID       string
	ToolName string
	ToolArgs map[string]any
}

// ToolCaller executes a single tool call on behalf of the chat log.
// Execution errors are not fatal to the turn; the caller converts them
// into an error-shaped result the model can read.
type ToolCaller interface {
	CallTool(ctx context.Context, call ToolCall) (any, error)
}

// ChatLog is the ordered conversation history for one session.
type ChatLog struct {
	contents    []Content
	toolCaller  ToolCaller
	unresponded int
	logger      *slog.Logger
}

// New creates an empty chat log. toolCaller may be nil when no tools
// are available; assistant tool calls are then recorded but never
// executed.
func New(toolCaller ToolCaller, logger *slog.Logger) *ChatLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatLog{toolCaller: toolCaller, logger: logger}
}

// Contents returns the ordered history. The returned slice is the
// log's backing store; callers must not mutate it.
func (l *ChatLog) Contents() []Content {
	return l.contents
}

// Append adds a system, user, or tool-result entry without side
// effects. Assistant entries go through AddAssistantContent so tool
// execution is triggered.
func (l *ChatLog) Append(c Content) {
	l.contents = append(l.contents, c)
}

// AddAssistantContent appends an assistant entry and synchronously
// executes any tool calls it carries, appending one ToolResultContent
// per call. It returns only after every tool in the batch has
// completed, so a caller that checks HasUnrespondedToolResults
// immediately afterward sees the full batch.
func (l *ChatLog) AddAssistantContent(ctx context.Context, c AssistantContent) error {
	l.contents = append(l.contents, c)
	l.unresponded = 0

	if len(c.ToolCalls) == 0 {
		return nil
	}

	for _, call := range c.ToolCalls {
		result := l.runTool(ctx, call)
		l.contents = append(l.contents, ToolResultContent{
			ToolCallID: call.ID,
			ToolName:   call.ToolName,
			Result:     result,
		})
		l.unresponded++
	}

	return ctx.Err()
}

func (l *ChatLog) runTool(ctx context.Context, call ToolCall) any {
	if l.toolCaller == nil {
		l.logger.Warn("tool call with no tool caller configured", "tool", call.ToolName)
		return map[string]any{"error": "no tools are available"}
	}

	result, err := l.toolCaller.CallTool(ctx, call)
	if err != nil {
		// Tool failures go back to the model as data, not up the stack.
		l.logger.Error("tool execution failed",
			"tool", call.ToolName,
			"tool_call_id", call.ID,
			"error", err,
		)
		return map[string]any{"error": err.Error()}
	}

	l.logger.Debug("tool executed",
		"tool", call.ToolName,
		"tool_call_id", call.ID,
	)
	return result
}

// HasUnrespondedToolResults reports whether the most recent assistant
// entry produced tool results the model has not yet seen. It is
// cleared by the next AddAssistantContent call.
func (l *ChatLog) HasUnrespondedToolResults() bool {
	return l.unresponded > 0
}

// SystemText returns the text of the leading system entry, or "" when
// the log does not start with one.
func (l *ChatLog) SystemText() string {
	if len(l.contents) == 0 {
		return ""
	}
	if sys, ok := l.contents[0].(SystemContent); ok {
		return sys.Text
	}
	return ""
}

// LastAssistantText returns the content of the most recent assistant
// entry, or "" when none exists.
func (l *ChatLog) LastAssistantText() string {
	for i := len(l.contents) - 1; i >= 0; i-- {
		if a, ok := l.contents[i].(AssistantContent); ok {
			return a.Content
		}
	}
	return ""
}
