package web

import (
	"encoding/json"
	"net/http"

	"github.com/nugget/ember-agent/internal/chatlog"
	"github.com/nugget/ember-agent/internal/memory"
)

// TranscriptsData is the template context for the conversation list.
type TranscriptsData struct {
	Title         string
	Conversations []memory.Conversation
}

// TranscriptData is the template context for a single transcript.
type TranscriptData struct {
	Title        string
	Conversation *memory.Conversation
	Messages     []*messageRow
}

// messageRow is a display-friendly wrapper around one history entry.
type messageRow struct {
	Role      string
	Text      string
	ToolName  string
	Result    string
	ToolCalls []string
}

func (s *WebServer) handleTranscriptList(w http.ResponseWriter, r *http.Request) {
	convs, err := s.store.ListConversations()
	if err != nil {
		s.logger.Error("transcript list failed", "error", err)
		http.Error(w, "list failed", http.StatusInternalServerError)
		return
	}

	s.render(w, "transcripts.html", TranscriptsData{
		Title:         "Conversations",
		Conversations: convs,
	})
}

func (s *WebServer) handleTranscript(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	conv, err := s.store.GetConversation(id)
	if err != nil {
		s.logger.Error("transcript load failed", "conversation_id", id, "error", err)
		http.Error(w, "load failed", http.StatusInternalServerError)
		return
	}
	if conv == nil {
		http.NotFound(w, r)
		return
	}

	contents, err := s.store.Load(id)
	if err != nil {
		s.logger.Error("transcript load failed", "conversation_id", id, "error", err)
		http.Error(w, "load failed", http.StatusInternalServerError)
		return
	}

	s.render(w, "transcript.html", TranscriptData{
		Title:        "Transcript " + shortID(id),
		Conversation: conv,
		Messages:     contentsToRows(contents),
	})
}

func contentsToRows(contents []chatlog.Content) []*messageRow {
	rows := make([]*messageRow, 0, len(contents))
	for _, c := range contents {
		switch v := c.(type) {
		case chatlog.SystemContent:
			rows = append(rows, &messageRow{Role: "system", Text: v.Text})
		case chatlog.UserContent:
			rows = append(rows, &messageRow{Role: "user", Text: v.Text})
		case chatlog.AssistantContent:
			row := &messageRow{Role: "assistant", Text: v.Content}
			for _, call := range v.ToolCalls {
				row.ToolCalls = append(row.ToolCalls, call.ToolName)
			}
			rows = append(rows, row)
		case chatlog.ToolResultContent:
			rows = append(rows, &messageRow{
				Role:     "tool",
				ToolName: v.ToolName,
				Result:   compactJSON(v.Result),
			})
		}
	}
	return rows
}

// compactJSON renders a tool result for display. Non-marshalable
// results fall back to their string form.
func compactJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "(unrenderable result)"
	}
	return string(data)
}
