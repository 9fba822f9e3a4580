package openai

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/joseph-ayodele/thermo-extraction/internal/llm"
)

func TestCompleteChatCompletions(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" || r.Header.Get("Authorization") != "Bearer sk" {
			t.Errorf("path %s auth %q", r.URL.Path, r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = io.WriteString(w, `{"model":"gpt-4o","choices":[{"message":{"content":" a,b\n1,2 "}}],"usage":{"prompt_tokens":50,"completion_tokens":7}}`)
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "sk", BaseURL: srv.URL + "/"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	resp, err := c.Complete(context.Background(), llm.Request{
		System:      "sys",
		Prompt:      "extract",
		Attachments: []llm.Attachment{{MIMEType: "image/png", Data: []byte{0x89}}},
		MaxTokens:   8000,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Text != "a,b\n1,2" || resp.Usage.InputTokens != 50 || resp.Usage.OutputTokens != 7 {
		t.Errorf("got %+v", resp)
	}
	msgs := body["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages = %v", msgs)
	}
	parts := msgs[1].(map[string]any)["content"].([]any)
	if parts[0].(map[string]any)["type"] != "image_url" {
		t.Errorf("parts = %v", parts)
	}
}

func TestCompleteNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"choices":[]}`)
	}))
	defer srv.Close()
	c := NewClient(Config{APIKey: "sk", BaseURL: srv.URL}, nil)
	if _, err := c.Complete(context.Background(), llm.Request{Prompt: "x"}); err == nil {
		t.Fatal("expected error")
	}
}
