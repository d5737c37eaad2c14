package chatlog

import (
	"context"
	"fmt"
	"testing"
)

// recordingCaller executes tool calls from a canned result table.
type recordingCaller struct {
	results map[string]any
	errs    map[string]error
	calls   []ToolCall
}

func (r *recordingCaller) CallTool(ctx context.Context, call ToolCall) (any, error) {
	r.calls = append(r.calls, call)
	if err := r.errs[call.ToolName]; err != nil {
		return nil, err
	}
	return r.results[call.ToolName], nil
}

func TestChatLog_AppendOrder(t *testing.T) {
	log := New(nil, nil)
	log.Append(SystemContent{Text: "system"})
	log.Append(UserContent{Text: "hello"})

	contents := log.Contents()
	if len(contents) != 2 {
		t.Fatalf("len = %d, want 2", len(contents))
	}
	if log.SystemText() != "system" {
		t.Errorf("SystemText() = %q", log.SystemText())
	}
}

func TestChatLog_SystemTextOnlyLeading(t *testing.T) {
	log := New(nil, nil)
	log.Append(UserContent{Text: "hello"})
	log.Append(SystemContent{Text: "late system"})

	if log.SystemText() != "" {
		t.Errorf("SystemText() = %q, want empty for non-leading system", log.SystemText())
	}
}

func TestChatLog_AddAssistantContentExecutesTools(t *testing.T) {
	caller := &recordingCaller{results: map[string]any{
		"get_state": map[string]any{"state": "on"},
	}}
	log := New(caller, nil)
	log.Append(UserContent{Text: "is the light on?"})

	err := log.AddAssistantContent(context.Background(), AssistantContent{
		ToolCalls: []ToolCall{
			{ID: "c1", ToolName: "get_state", ToolArgs: map[string]any{"entity_id": "light.x"}},
		},
	})
	if err != nil {
		t.Fatalf("AddAssistantContent failed: %v", err)
	}

	if len(caller.calls) != 1 || caller.calls[0].ToolName != "get_state" {
		t.Fatalf("calls = %+v", caller.calls)
	}

	contents := log.Contents()
	if len(contents) != 3 {
		t.Fatalf("len = %d, want 3 (user, assistant, result)", len(contents))
	}

	result, ok := contents[2].(ToolResultContent)
	if !ok {
		t.Fatalf("entry 2 type = %T", contents[2])
	}
	if result.ToolCallID != "c1" || result.ToolName != "get_state" {
		t.Errorf("result = %+v", result)
	}
	if m := result.Result.(map[string]any); m["state"] != "on" {
		t.Errorf("result payload = %v", m)
	}

	if !log.HasUnrespondedToolResults() {
		t.Error("HasUnrespondedToolResults() = false after tool batch")
	}
}

func TestChatLog_ToolErrorBecomesResult(t *testing.T) {
	caller := &recordingCaller{errs: map[string]error{
		"broken": fmt.Errorf("device unreachable"),
	}}
	log := New(caller, nil)

	err := log.AddAssistantContent(context.Background(), AssistantContent{
		ToolCalls: []ToolCall{{ID: "c1", ToolName: "broken", ToolArgs: map[string]any{}}},
	})
	if err != nil {
		t.Fatalf("AddAssistantContent failed: %v", err)
	}

	result := log.Contents()[1].(ToolResultContent)
	m, ok := result.Result.(map[string]any)
	if !ok {
		t.Fatalf("result type = %T", result.Result)
	}
	if m["error"] != "device unreachable" {
		t.Errorf("error payload = %v", m)
	}
}

func TestChatLog_NoToolCallerStillResponds(t *testing.T) {
	log := New(nil, nil)

	err := log.AddAssistantContent(context.Background(), AssistantContent{
		ToolCalls: []ToolCall{{ID: "c1", ToolName: "anything", ToolArgs: map[string]any{}}},
	})
	if err != nil {
		t.Fatalf("AddAssistantContent failed: %v", err)
	}

	result := log.Contents()[1].(ToolResultContent)
	if m := result.Result.(map[string]any); m["error"] == nil {
		t.Errorf("expected error-shaped result, got %v", m)
	}
}

func TestChatLog_UnrespondedClearedByNextAssistant(t *testing.T) {
	caller := &recordingCaller{results: map[string]any{"t": map[string]any{}}}
	log := New(caller, nil)

	if err := log.AddAssistantContent(context.Background(), AssistantContent{
		ToolCalls: []ToolCall{{ID: "c1", ToolName: "t", ToolArgs: map[string]any{}}},
	}); err != nil {
		t.Fatal(err)
	}
	if !log.HasUnrespondedToolResults() {
		t.Fatal("expected unresponded results")
	}

	if err := log.AddAssistantContent(context.Background(), AssistantContent{Content: "done"}); err != nil {
		t.Fatal(err)
	}
	if log.HasUnrespondedToolResults() {
		t.Error("unresponded flag not cleared by plain assistant entry")
	}
}

func TestChatLog_LastAssistantText(t *testing.T) {
	log := New(nil, nil)
	if log.LastAssistantText() != "" {
		t.Errorf("empty log LastAssistantText() = %q", log.LastAssistantText())
	}

	log.Append(UserContent{Text: "hi"})
	_ = log.AddAssistantContent(context.Background(), AssistantContent{Content: "first"})
	log.Append(UserContent{Text: "again"})
	_ = log.AddAssistantContent(context.Background(), AssistantContent{Content: "second"})

	if log.LastAssistantText() != "second" {
		t.Errorf("LastAssistantText() = %q, want second", log.LastAssistantText())
	}
}
