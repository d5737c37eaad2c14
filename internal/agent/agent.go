// Package agent implements the bounded tool-calling loop between the
// conversation history and the model backend.
package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/nugget/ember-agent/internal/bedrock"
	"github.com/nugget/ember-agent/internal/chatlog"
	"github.com/nugget/ember-agent/internal/tools"
)

const (
	// defaultMaxIterations bounds backend round-trips per turn.
	defaultMaxIterations = 10

	// minToolCallTokens is the response budget floor whenever tools
	// are offered; truncated tool calls are unparseable.
	minToolCallTokens = 3000

	// novaTopK pins Nova sampling for reliable tool call syntax.
	novaTopK = 1
)

// Options configures an Agent.
type Options struct {
	Model         string
	Temperature   float64
	MaxTokens     int
	MaxIterations int
}

// TokenObserver receives token usage from completed backend calls.
// Implementations must be safe for concurrent use.
type TokenObserver interface {
	OnTokens(inputTokens, outputTokens int)
}

// Agent drives conversation turns against a model backend. It is
// stateless across turns; all conversation state lives in the ChatLog.
type Agent struct {
	backend bedrock.Client
	opts    Options
	tokens  TokenObserver
	logger  *slog.Logger
}

// New creates an agent.
func New(backend bedrock.Client, opts Options, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = defaultMaxIterations
	}
	return &Agent{backend: backend, opts: opts, logger: logger}
}

// SetTokenObserver wires a sink for per-call token usage.
func (a *Agent) SetTokenObserver(o TokenObserver) {
	a.tokens = o
}

// HandleTurn runs one conversation turn: it calls the backend, executes
// any tool calls through the chat log, feeds results back, and repeats
// until the model produces a plain text answer or the iteration budget
// runs out. It returns the final assistant text.
func (a *Agent) HandleTurn(ctx context.Context, clog *chatlog.ChatLog, reg *tools.Registry) (string, error) {
	return a.run(ctx, clog, reg, "", nil)
}

// HandleStructuredTurn runs one turn whose answer must conform to the
// given JSON schema. The schema is offered to the model as a synthetic
// tool; calling it ends the turn and its input becomes the answer. A
// plain text answer is accepted only if it parses as JSON.
func (a *Agent) HandleStructuredTurn(ctx context.Context, clog *chatlog.ChatLog, reg *tools.Registry, structureName string, structure map[string]any) (string, error) {
	if structureName == "" {
		structureName = "structured_output"
	}
	return a.run(ctx, clog, reg, structureName, structure)
}

func (a *Agent) run(ctx context.Context, clog *chatlog.ChatLog, reg *tools.Registry, structureName string, structure map[string]any) (string, error) {
	model := a.opts.Model
	nova := bedrock.IsNovaModel(model)

	// The structured-output pseudo-tool participates in name mapping
	// like any host tool.
	hostNames := reg.Names()
	structureTool := ""
	if structure != nil {
		structureTool = bedrock.Slugify(structureName)
		hostNames = append(hostNames, structureTool)
	}
	hostToWire, wireToHost := bedrock.BuildToolNameMaps(hostNames)

	toolConfig := a.buildToolConfig(reg, hostToWire, structureTool, structure, nova)

	maxTokens := a.opts.MaxTokens
	if toolConfig != nil && maxTokens < minToolCallTokens {
		maxTokens = minToolCallTokens
	}

	temperature := a.opts.Temperature
	var extraFields map[string]any
	if nova && toolConfig != nil {
		// Nova models need greedy decoding to emit well-formed tool
		// calls.
		temperature = 0
		extraFields = map[string]any{
			"inferenceConfig": map[string]any{"topK": novaTopK},
		}
	}

	var system []bedrock.SystemBlock
	if text := clog.SystemText(); text != "" {
		system = []bedrock.SystemBlock{{Text: text}}
	}

	for i := range a.opts.MaxIterations {
		req := &bedrock.ConverseRequest{
			ModelID:                      model,
			Messages:                     bedrock.ConvertMessages(clog.Contents(), hostToWire),
			System:                       system,
			InferenceConfig:              &bedrock.InferenceConfig{MaxTokens: maxTokens, Temperature: &temperature},
			ToolConfig:                   toolConfig,
			AdditionalModelRequestFields: extraFields,
		}

		a.logger.Debug("model call",
			"model", model,
			"iter", i,
			"messages", len(req.Messages),
			"tools", len(hostNames),
		)

		resp, err := a.backend.Converse(ctx, req)
		if err != nil {
			return "", &BackendError{Err: err}
		}
		if a.tokens != nil {
			a.tokens.OnTokens(resp.Usage.InputTokens, resp.Usage.OutputTokens)
		}

		text, calls, err := a.parseResponse(resp, wireToHost)
		if err != nil {
			return "", err
		}

		// A structured-output call ends the turn; its arguments are
		// the answer.
		if structureTool != "" {
			if answer, ok := extractStructured(calls, structureTool); ok {
				if err := clog.AddAssistantContent(ctx, chatlog.AssistantContent{Content: answer}); err != nil {
					return "", err
				}
				return answer, nil
			}
		}

		// A reply that was nothing but thinking is retried without
		// entering the history.
		if text == "" && len(calls) == 0 && responseWasThinkingOnly(resp) {
			a.logger.Debug("thinking-only response, retrying", "iter", i)
			continue
		}

		if err := clog.AddAssistantContent(ctx, chatlog.AssistantContent{Content: text, ToolCalls: calls}); err != nil {
			return "", err
		}

		if len(calls) > 0 {
			continue
		}

		if structure != nil {
			var parsed any
			if err := json.Unmarshal([]byte(text), &parsed); err != nil {
				return "", &StructuredOutputError{Raw: text, Err: err}
			}
		}
		return text, nil
	}

	// Budget exhausted mid tool chain. Stop quietly with whatever the
	// model said last.
	a.logger.Warn("iteration budget exhausted", "model", model, "max_iterations", a.opts.MaxIterations)
	return clog.LastAssistantText(), nil
}

// buildToolConfig assembles the wire tool list. Returns nil when no
// tools and no structure are available, which keeps toolConfig off the
// request entirely.
func (a *Agent) buildToolConfig(reg *tools.Registry, hostToWire map[string]string, structureTool string, structure map[string]any, nova bool) *bedrock.ToolConfig {
	defs := reg.List()
	if len(defs) == 0 && structure == nil {
		return nil
	}

	entries := make([]bedrock.ToolEntry, 0, len(defs)+1)
	for _, t := range defs {
		schema := any(t.Parameters)
		if nova {
			schema = bedrock.CleanSchema(schema)
		}
		entries = append(entries, bedrock.ToolEntry{ToolSpec: bedrock.ToolSpec{
			Name:        hostToWire[t.Name],
			Description: t.Description,
			InputSchema: bedrock.ToolInputSchema{JSON: schema},
		}})
	}

	if structure != nil {
		schema := any(structure)
		if nova {
			schema = bedrock.CleanSchema(schema)
		}
		entries = append(entries, bedrock.ToolEntry{ToolSpec: bedrock.ToolSpec{
			Name:        hostToWire[structureTool],
			Description: "Record the final answer in the required output format. Call this exactly once when the answer is complete.",
			InputSchema: bedrock.ToolInputSchema{JSON: schema},
		}})
	}

	return &bedrock.ToolConfig{Tools: entries}
}

// parseResponse splits a backend reply into cleaned text and host-side
// tool calls.
func (a *Agent) parseResponse(resp *bedrock.ConverseResponse, wireToHost map[string]string) (string, []chatlog.ToolCall, error) {
	var parts []string
	var calls []chatlog.ToolCall

	for _, block := range resp.Output.Message.Content {
		switch {
		case block.ToolUse != nil:
			if block.ToolUse.Name == "" {
				return "", nil, &MalformedResponseError{Reason: "tool invocation with no tool name"}
			}
			hostName := wireToHost[block.ToolUse.Name]
			if hostName == "" {
				// Unmapped names pass through; the registry reports
				// them back to the model as unavailable.
				hostName = block.ToolUse.Name
			}
			id := block.ToolUse.ToolUseID
			if id == "" {
				id = uuid.NewString()
			}
			calls = append(calls, chatlog.ToolCall{
				ID:       id,
				ToolName: hostName,
				ToolArgs: block.ToolUse.Input,
			})
		case block.Text != "":
			cleaned, _ := bedrock.StripThinking(block.Text)
			if cleaned != "" {
				parts = append(parts, cleaned)
			}
		}
	}

	return strings.Join(parts, " "), calls, nil
}

// responseWasThinkingOnly reports whether the reply carried thinking
// markup and nothing else.
func responseWasThinkingOnly(resp *bedrock.ConverseResponse) bool {
	sawThinking := false
	for _, block := range resp.Output.Message.Content {
		if block.ToolUse != nil {
			return false
		}
		if block.Text == "" {
			continue
		}
		cleaned, had := bedrock.StripThinking(block.Text)
		if cleaned != "" {
			return false
		}
		if had {
			sawThinking = true
		}
	}
	return sawThinking
}

// extractStructured pulls the structured answer out of a pseudo-tool
// call, serialized back to JSON text.
func extractStructured(calls []chatlog.ToolCall, structureTool string) (string, bool) {
	for _, call := range calls {
		if call.ToolName != structureTool {
			continue
		}
		raw, err := json.Marshal(call.ToolArgs)
		if err != nil {
			return "", false
		}
		return string(raw), true
	}
	return "", false
}
