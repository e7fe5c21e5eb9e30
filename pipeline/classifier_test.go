package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestAnthropicClassifierClassify(t *testing.T) {
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %s, want /v1/messages", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("x-api-key = %q", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") != "2023-06-01" {
			t.Errorf("anthropic-version = %q", r.Header.Get("anthropic-version"))
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"content": [{"type": "text", "text": "{\"isNewLead\": false, \"leadConfidence\": 10, \"customerIntent\": \"accept_quote\", \"intentConfidence\": 92, \"suggestedAction\": \"move_to_accepted\", \"reasoning\": \"Customer accepts.\"}"}]}`))
	}))
	defer srv.Close()

	c := NewAnthropicClassifier(srv.Client(), srv.URL+"/", "test-key", "")
	got, err := c.Classify(context.Background(), "Hej, vi kör på offerten!", &CustomerContext{
		Name:       "Erik Berg",
		DealTitles: []string{"Badrumsrenovering"},
	})
	if err != nil {
		t.Fatalf("Classify() failed: %v", err)
	}

	if got.SuggestedAction != SuggestMoveToAccepted || got.IntentConfidence != 92 {
		t.Errorf("analysis = %+v", got)
	}
	if gotBody["model"] != DefaultAnthropicModel {
		t.Errorf("model = %v, want default", gotBody["model"])
	}
	msgs, _ := gotBody["messages"].([]any)
	if len(msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(msgs))
	}
	content, _ := msgs[0].(map[string]any)["content"].(string)
	if !strings.Contains(content, "Erik Berg") || !strings.Contains(content, "Badrumsrenovering") {
		t.Errorf("user prompt should carry customer context, got %q", content)
	}
}

func TestAnthropicClassifierErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{"error": "overloaded"}`},
		{"not json", http.StatusOK, `<html>`},
		{"no text blocks", http.StatusOK, `{"content": []}`},
		{"prose reply", http.StatusOK, `{"content": [{"type": "text", "text": "Sorry, I cannot help."}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewAnthropicClassifier(srv.Client(), srv.URL, "k", "m")
			if _, err := c.Classify(context.Background(), "hello", nil); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestAnthropicClassifierEmptyTranscript(t *testing.T) {
	c := NewAnthropicClassifier(nil, "http://127.0.0.1:0", "k", "m")
	if _, err := c.Classify(context.Background(), "   ", nil); err == nil {
		t.Error("empty transcript should be rejected before any request")
	}
}

func TestBuildUserPromptTruncates(t *testing.T) {
	long := strings.Repeat("a", maxTranscriptChars+500)
	prompt := buildUserPrompt(long, nil)
	if !strings.Contains(prompt, "Existing customer: none") {
		t.Error("prompt should say there is no existing customer")
	}
	if strings.Count(prompt, "a") > maxTranscriptChars+10 {
		t.Error("transcript should be truncated")
	}
}

func TestBuildUserPromptTruncatesOnRuneBoundary(t *testing.T) {
	long := "x" + strings.Repeat("å", maxTranscriptChars+10)
	prompt := buildUserPrompt(long, nil)
	if !utf8.ValidString(prompt) {
		t.Fatal("truncated prompt should be valid UTF-8")
	}
	if got := strings.Count(prompt, "å"); got != maxTranscriptChars-1 {
		t.Errorf("kept %d runes of å, want %d", got, maxTranscriptChars-1)
	}
}
