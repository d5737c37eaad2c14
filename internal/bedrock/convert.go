package bedrock

import (
	"fmt"

	"github.com/nugget/ember-agent/internal/chatlog"
)

// ConvertMessages translates the host chat log into Converse wire
// messages. hostToWire maps host tool names onto wire-safe names; a
// nil map leaves names untouched.
//
// System entries are skipped — the Converse API carries the system
// prompt in a dedicated request field, never as a message.
//
// The Converse API requires the message after an assistant toolUse to
// be the matching toolResult, with nothing in between. Two rules keep
// that invariant:
//
//   - Tool results are buffered and flushed as a single user message
//     immediately before the next user/assistant message (or at end of
//     input), so they always directly follow the assistant message
//     that introduced them.
//   - A plain-text assistant entry that arrives while tool calls are
//     still outstanding is host-injected progress narration for the UI
//     ("Calling HassTurnOn…"); it is dropped rather than translated.
func ConvertMessages(contents []chatlog.Content, hostToWire map[string]string) []Message {
	var (
		messages       []Message
		pendingResults []ContentBlock
		awaitingTools  bool
	)

	flushResults := func() {
		if len(pendingResults) == 0 {
			return
		}
		messages = append(messages, Message{Role: "user", Content: pendingResults})
		pendingResults = nil
		awaitingTools = false
	}

	for _, content := range contents {
		switch c := content.(type) {
		case chatlog.SystemContent:
			// Transmitted via ConverseRequest.System.

		case chatlog.UserContent:
			flushResults()
			messages = append(messages, Message{
				Role:    "user",
				Content: []ContentBlock{{Text: c.Text}},
			})

		case chatlog.AssistantContent:
			if awaitingTools && len(c.ToolCalls) == 0 && len(pendingResults) == 0 {
				// UI-only narration between toolUse and toolResult.
				continue
			}
			flushResults()

			var blocks []ContentBlock
			if c.Content != "" {
				blocks = append(blocks, ContentBlock{Text: c.Content})
			}
			for _, call := range c.ToolCalls {
				name := call.ToolName
				if mapped, ok := hostToWire[name]; ok {
					name = mapped
				}
				blocks = append(blocks, ContentBlock{ToolUse: &ToolUseBlock{
					ToolUseID: call.ID,
					Name:      name,
					Input:     call.ToolArgs,
				}})
				awaitingTools = true
			}
			if len(blocks) > 0 {
				messages = append(messages, Message{Role: "assistant", Content: blocks})
			}

		case chatlog.ToolResultContent:
			pendingResults = append(pendingResults, ContentBlock{ToolResult: &ToolResultBlock{
				ToolUseID: c.ToolCallID,
				Content:   []ToolResultContent{toolResultContent(c.Result)},
			}})
		}
	}

	flushResults()
	return messages
}

// toolResultContent wraps a tool result for the wire: structured
// mappings travel as JSON, everything else is stringified.
func toolResultContent(result any) ToolResultContent {
	if m, ok := result.(map[string]any); ok {
		return ToolResultContent{JSON: m}
	}
	return ToolResultContent{Text: fmt.Sprint(result)}
}
