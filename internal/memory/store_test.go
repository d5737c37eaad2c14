package memory

import (
	"database/sql"
	"fmt"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/nugget/ember-agent/internal/chatlog"
)

func setupTestStore(t *testing.T, maxHistory int) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db, maxHistory)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestStore_LoadEmpty(t *testing.T) {
	store := setupTestStore(t, 0)

	contents, err := store.Load("missing")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(contents) != 0 {
		t.Errorf("expected empty conversation, got %d entries", len(contents))
	}
}

func TestStore_AppendAndLoad(t *testing.T) {
	store := setupTestStore(t, 0)

	entries := []chatlog.Content{
		chatlog.SystemContent{Text: "You are a helpful assistant."},
		chatlog.UserContent{Text: "Turn on the kitchen light."},
		chatlog.AssistantContent{
			ToolCalls: []chatlog.ToolCall{{
				ID:       "call-1",
				ToolName: "call_service",
				ToolArgs: map[string]any{"domain": "light", "service": "turn_on"},
			}},
		},
		chatlog.ToolResultContent{
			ToolCallID: "call-1",
			ToolName:   "call_service",
			Result:     map[string]any{"success": true},
		},
		chatlog.AssistantContent{Content: "Done, the kitchen light is on."},
	}

	for _, c := range entries {
		if err := store.Append("conv-1", c); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	loaded, err := store.Load("conv-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != len(entries) {
		t.Fatalf("loaded %d entries, want %d", len(loaded), len(entries))
	}

	if sc, ok := loaded[0].(chatlog.SystemContent); !ok || sc.Text != "You are a helpful assistant." {
		t.Errorf("entry 0 = %#v", loaded[0])
	}

	ac, ok := loaded[2].(chatlog.AssistantContent)
	if !ok {
		t.Fatalf("entry 2 type = %T", loaded[2])
	}
	if len(ac.ToolCalls) != 1 || ac.ToolCalls[0].ToolName != "call_service" {
		t.Errorf("tool calls = %+v", ac.ToolCalls)
	}
	if ac.ToolCalls[0].ToolArgs["domain"] != "light" {
		t.Errorf("tool args = %v", ac.ToolCalls[0].ToolArgs)
	}

	tr, ok := loaded[3].(chatlog.ToolResultContent)
	if !ok {
		t.Fatalf("entry 3 type = %T", loaded[3])
	}
	if tr.ToolCallID != "call-1" || tr.ToolName != "call_service" {
		t.Errorf("tool result = %+v", tr)
	}
	result, ok := tr.Result.(map[string]any)
	if !ok || result["success"] != true {
		t.Errorf("result = %#v", tr.Result)
	}

	if fc, ok := loaded[4].(chatlog.AssistantContent); !ok || fc.Content != "Done, the kitchen light is on." {
		t.Errorf("entry 4 = %#v", loaded[4])
	}
}

func TestStore_PruneKeepsNewest(t *testing.T) {
	store := setupTestStore(t, 5)

	for i := range 12 {
		if err := store.Append("conv-1", chatlog.UserContent{Text: fmt.Sprintf("message %d", i)}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	loaded, err := store.Load("conv-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 5 {
		t.Fatalf("loaded %d entries, want 5", len(loaded))
	}

	first := loaded[0].(chatlog.UserContent)
	if first.Text != "message 7" {
		t.Errorf("oldest retained = %q, want %q", first.Text, "message 7")
	}
	last := loaded[4].(chatlog.UserContent)
	if last.Text != "message 11" {
		t.Errorf("newest retained = %q, want %q", last.Text, "message 11")
	}
}

func TestStore_Conversations(t *testing.T) {
	store := setupTestStore(t, 0)

	if err := store.Append("conv-a", chatlog.UserContent{Text: "hi"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Append("conv-b", chatlog.UserContent{Text: "hello"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Append("conv-b", chatlog.AssistantContent{Content: "hey"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	conv, err := store.GetConversation("conv-b")
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if conv == nil {
		t.Fatal("conv-b not found")
	}
	if conv.Messages != 2 {
		t.Errorf("conv-b messages = %d, want 2", conv.Messages)
	}

	missing, err := store.GetConversation("conv-c")
	if err != nil {
		t.Fatalf("get missing conversation: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for unknown conversation, got %+v", missing)
	}

	convs, err := store.ListConversations()
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("listed %d conversations, want 2", len(convs))
	}
}

func TestStore_Clear(t *testing.T) {
	store := setupTestStore(t, 0)

	if err := store.Append("conv-1", chatlog.UserContent{Text: "hi"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Clear("conv-1"); err != nil {
		t.Fatalf("clear: %v", err)
	}

	contents, err := store.Load("conv-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(contents) != 0 {
		t.Errorf("expected empty conversation after clear, got %d", len(contents))
	}

	stats := store.Stats()
	if stats["conversations"] != 0 {
		t.Errorf("conversations stat = %v, want 0", stats["conversations"])
	}
}
