package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

// CustomerContext is what is already known about the caller.
type CustomerContext struct {
	Name       string
	DealTitles []string
}

// Classifier turns a call transcript into a CallAnalysis.
type Classifier interface {
	Classify(ctx context.Context, transcript string, customer *CustomerContext) (CallAnalysis, error)
}

const (
	DefaultAnthropicBaseURL = "https://api.anthropic.com"
	DefaultAnthropicModel   = "claude-3-5-haiku-latest"
	anthropicVersion        = "2023-06-01"
	maxTranscriptChars      = 12000
)

// AnthropicClassifier calls the Anthropic Messages API.
type AnthropicClassifier struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
}

// NewAnthropicClassifier creates a classifier. Empty baseURL and model fall
// back to the defaults; a nil client gets a 30 second timeout.
func NewAnthropicClassifier(client *http.Client, baseURL, apiKey, model string) *AnthropicClassifier {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultAnthropicBaseURL
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultAnthropicModel
	}
	return &AnthropicClassifier{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
	}
}

func buildSystemPrompt() string {
	return strings.TrimSpace(`You classify phone calls to a Swedish trades business (electrician, plumber, carpenter).
Return STRICT JSON ONLY with keys: isNewLead, leadConfidence, customerIntent, intentConfidence, suggestedAction, extractedInfo, reasoning.
Rules:
- isNewLead is true only when the caller is not an existing customer and asks for new work
- leadConfidence and intentConfidence are integers 0-100
- customerIntent is one of: new_job, accept_quote, decline_quote, reschedule, question, complaint, unclear
- suggestedAction is one of: create_lead, move_to_accepted, move_to_lost, schedule_callback, no_action
- extractedInfo is an object with optional keys: name, phone, address, jobDescription, urgency, preferredDate
- urgency is one of: low, normal, high, emergency
- reasoning is one or two sentences
- use ONLY what is said in the transcript; never invent names or numbers`)
}

func buildUserPrompt(transcript string, customer *CustomerContext) string {
	var b strings.Builder
	if customer != nil && (customer.Name != "" || len(customer.DealTitles) > 0) {
		b.WriteString("Existing customer:\n")
		if customer.Name != "" {
			b.WriteString(fmt.Sprintf("- name: %s\n", customer.Name))
		}
		for _, title := range customer.DealTitles {
			b.WriteString(fmt.Sprintf("- previous job: %s\n", title))
		}
	} else {
		b.WriteString("Existing customer: none\n")
	}

	text := strings.TrimSpace(transcript)
	if utf8.RuneCountInString(text) > maxTranscriptChars {
		text = string([]rune(text)[:maxTranscriptChars]) + "…"
	}
	b.WriteString("Transcript:\n")
	b.WriteString(text)
	return b.String()
}

// Classify sends the transcript to the model and parses its reply with ParseAnalysis.
func (c *AnthropicClassifier) Classify(ctx context.Context, transcript string, customer *CustomerContext) (CallAnalysis, error) {
	if strings.TrimSpace(transcript) == "" {
		return CallAnalysis{}, errors.New("empty transcript")
	}

	payload := map[string]any{
		"model":       c.model,
		"max_tokens":  1024,
		"temperature": 0,
		"system":      buildSystemPrompt(),
		"messages": []map[string]string{
			{"role": "user", "content": buildUserPrompt(transcript, customer)},
		},
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return CallAnalysis{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(buf))
	if err != nil {
		return CallAnalysis{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.client.Do(req)
	if err != nil {
		return CallAnalysis{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return CallAnalysis{}, fmt.Errorf("classifier status %d: %s", resp.StatusCode, string(body))
	}

	var wrapper struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wrapper); err != nil {
		return CallAnalysis{}, err
	}

	var text strings.Builder
	for _, block := range wrapper.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return CallAnalysis{}, errors.New("empty classifier response")
	}

	return ParseAnalysis(text.String())
}
