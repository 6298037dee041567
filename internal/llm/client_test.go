package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
)

type roundTrip func(*http.Request) *http.Response

func (rt roundTrip) RoundTrip(req *http.Request) (*http.Response, error) {
	return rt(req), nil
}

func TestReviewTopicsSuccess(t *testing.T) {
	client := &Client{
		BaseURL:     "https://api.test/v1/chat/completions",
		Model:       "gpt-test",
		MaxTokens:   100,
		Temperature: 0.3,
		HTTPClient: &http.Client{
			Transport: roundTrip(func(req *http.Request) *http.Response {
				body, _ := io.ReadAll(req.Body)
				var payload chatRequest
				if err := json.Unmarshal(body, &payload); err != nil {
					t.Fatalf("bad payload: %v", err)
				}
				if payload.MaxTokens != 100 || payload.Temperature == nil || *payload.Temperature != 0.3 {
					t.Fatalf("sampling params not sent: %s", body)
				}
				if !strings.Contains(payload.Messages[1].Content, "food arrived cold") {
					t.Fatalf("expected review in prompt")
				}
				return &http.Response{
					StatusCode: 200,
					Body: io.NopCloser(strings.NewReader(`{
						"choices":[{"message":{"role":"assistant","content":" Cold food, Late delivery \n"}}]
					}`)),
					Header: make(http.Header),
				}
			}),
		},
	}

	out, err := client.ReviewTopics(context.Background(), "food arrived cold")
	if err != nil {
		t.Fatalf("ReviewTopics: %v", err)
	}
	if out != "Cold food, Late delivery" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestReviewTopicsError(t *testing.T) {
	client := &Client{
		BaseURL: "https://api.test/v1/chat/completions",
		Model:   "gpt-test",
		HTTPClient: &http.Client{
			Transport: roundTrip(func(req *http.Request) *http.Response {
				return &http.Response{
					StatusCode: 200,
					Body:       io.NopCloser(strings.NewReader(`{"error":{"message":"bad"}}`)),
					Header:     make(http.Header),
				}
			}),
		},
	}
	if _, err := client.ReviewTopics(context.Background(), "q"); err == nil {
		t.Fatal("expected error")
	}
}

func TestChatHTTPStatus(t *testing.T) {
	client := &Client{
		BaseURL: "https://api.test/v1/chat/completions",
		Model:   "gpt-test",
		HTTPClient: &http.Client{
			Transport: roundTrip(func(req *http.Request) *http.Response {
				return &http.Response{
					StatusCode: 503,
					Body:       io.NopCloser(strings.NewReader(`upstream down`)),
					Header:     make(http.Header),
				}
			}),
		},
	}
	if _, err := client.Chat(context.Background(), "s", "u"); err == nil || !strings.Contains(err.Error(), "503") {
		t.Fatalf("expected http 503 error, got %v", err)
	}
}

func TestChat(t *testing.T) {
	client := &Client{
		BaseURL: "https://api.test/v1/chat/completions",
		Model:   "gpt-test",
		HTTPClient: &http.Client{
			Transport: roundTrip(func(req *http.Request) *http.Response {
				body, _ := io.ReadAll(req.Body)
				if strings.Contains(string(body), "temperature") {
					t.Fatalf("zero temperature should be omitted: %s", body)
				}
				return &http.Response{
					StatusCode: 200,
					Body:       io.NopCloser(strings.NewReader(`{"choices":[{"message":{"role":"assistant","content":"hi"}}]}`)),
					Header:     make(http.Header),
				}
			}),
		},
	}
	out, err := client.Chat(context.Background(), "system", "user prompt")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if out != "hi" {
		t.Fatalf("unexpected chat output %s", out)
	}
}

func TestChatRequiresModel(t *testing.T) {
	client := &Client{BaseURL: "https://api.test/v1/chat/completions"}
	if _, err := client.Chat(context.Background(), "s", "u"); err == nil {
		t.Fatal("expected configuration error")
	}
}
