package bedrock

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPClient_Converse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/model/anthropic.claude-3-5-sonnet-20240620-v1:0/converse" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}

		var req ConverseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Messages) != 1 || req.Messages[0].Content[0].Text != "hello" {
			t.Errorf("messages = %+v", req.Messages)
		}

		resp := ConverseResponse{StopReason: "end_turn"}
		resp.Output.Message = Message{
			Role:    "assistant",
			Content: []ContentBlock{{Text: "hi"}},
		}
		resp.Usage = Usage{InputTokens: 10, OutputTokens: 2, TotalTokens: 12}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "test-key", nil)
	resp, err := client.Converse(context.Background(), &ConverseRequest{
		ModelID: "anthropic.claude-3-5-sonnet-20240620-v1:0",
		Messages: []Message{
			{Role: "user", Content: []ContentBlock{{Text: "hello"}}},
		},
	})
	if err != nil {
		t.Fatalf("Converse failed: %v", err)
	}
	if resp.Output.Message.Content[0].Text != "hi" {
		t.Errorf("response text = %q", resp.Output.Message.Content[0].Text)
	}
	if resp.Usage.TotalTokens != 12 {
		t.Errorf("total tokens = %d", resp.Usage.TotalTokens)
	}
}

func TestHTTPClient_ConverseAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message": "The security token is invalid."}`, http.StatusForbidden)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "bad-key", nil)
	_, err := client.Converse(context.Background(), &ConverseRequest{
		ModelID:  "m",
		Messages: []Message{{Role: "user", Content: []ContentBlock{{Text: "x"}}}},
	})
	if err == nil {
		t.Fatal("expected error for 403")
	}
}

func TestHTTPClient_ConverseRequiresModel(t *testing.T) {
	client := NewHTTPClient("http://unused", "key", nil)
	_, err := client.Converse(context.Background(), &ConverseRequest{})
	if err == nil {
		t.Fatal("expected error for missing model id")
	}
}

func TestHTTPClient_ModelIDEscapedInPath(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		json.NewEncoder(w).Encode(ConverseResponse{})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "key", nil)
	_, err := client.Converse(context.Background(), &ConverseRequest{
		ModelID:  "us.amazon.nova-pro-v1:0",
		Messages: []Message{{Role: "user", Content: []ContentBlock{{Text: "x"}}}},
	})
	if err != nil {
		t.Fatalf("Converse failed: %v", err)
	}
	if gotPath != "/model/us.amazon.nova-pro-v1:0/converse" {
		t.Errorf("path = %q", gotPath)
	}
}
