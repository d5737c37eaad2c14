// Package bedrock speaks the Amazon Bedrock runtime Converse protocol.
//
// The package has two halves: pure translation helpers that turn
// host-native conversation state into Converse wire shapes (convert.go,
// schema.go, names.go, thinking.go), and an HTTP client for the runtime
// endpoint (client.go). The agent loop depends only on the Client
// interface, so tests substitute a fake backend.
package bedrock

// ConverseRequest is one Converse API call. ModelID travels in the URL
// path, not the body.
type ConverseRequest struct {
	ModelID                      string           `json:"-"`
	Messages                     []Message        `json:"messages"`
	System                       []SystemBlock    `json:"system,omitempty"`
	InferenceConfig              *InferenceConfig `json:"inferenceConfig,omitempty"`
	ToolConfig                   *ToolConfig      `json:"toolConfig,omitempty"`
	AdditionalModelRequestFields map[string]any   `json:"additionalModelRequestFields,omitempty"`
}

// Message is one wire-format conversation turn. Role is "user" or
// "assistant"; system content travels in ConverseRequest.System.
type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// ContentBlock is one part of a message. Exactly one field is set.
type ContentBlock struct {
	Text       string           `json:"text,omitempty"`
	ToolUse    *ToolUseBlock    `json:"toolUse,omitempty"`
	ToolResult *ToolResultBlock `json:"toolResult,omitempty"`
}

// ToolUseBlock is a model-issued tool invocation.
type ToolUseBlock struct {
	ToolUseID string         `json:"toolUseId"`
	Name      string         `json:"name"`
	Input     map[string]any `json:"input"`
}

// ToolResultBlock carries the host's answer to a prior toolUse,
// correlated by ToolUseID.
type ToolResultBlock struct {
	ToolUseID string              `json:"toolUseId"`
	Content   []ToolResultContent `json:"content"`
}

// ToolResultContent is one part of a tool result: structured results
// travel as JSON, everything else as text.
type ToolResultContent struct {
	JSON any    `json:"json,omitempty"`
	Text string `json:"text,omitempty"`
}

// SystemBlock is one system prompt segment.
type SystemBlock struct {
	Text string `json:"text"`
}

// InferenceConfig holds decoding parameters. Temperature is a pointer
// so an explicit zero (forced for Nova models with tools) survives
// serialization.
type InferenceConfig struct {
	MaxTokens   int      `json:"maxTokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// ToolConfig lists the tools offered to the model.
type ToolConfig struct {
	Tools []ToolEntry `json:"tools"`
}

// ToolEntry wraps a single tool spec, matching the Converse nesting.
type ToolEntry struct {
	ToolSpec ToolSpec `json:"toolSpec"`
}

// ToolSpec describes one tool on the wire. Name must match
// [0-9A-Za-z_]+ and not start with a digit; see SanitizeToolName.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema ToolInputSchema `json:"inputSchema"`
}

// ToolInputSchema wraps the JSON-schema parameter description.
type ToolInputSchema struct {
	JSON any `json:"json"`
}

// ConverseResponse is the Converse API reply.
type ConverseResponse struct {
	Output struct {
		Message Message `json:"message"`
	} `json:"output"`
	StopReason string `json:"stopReason"`
	Usage      Usage  `json:"usage"`
}

// Usage reports token consumption for one call.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
	TotalTokens  int `json:"totalTokens"`
}
