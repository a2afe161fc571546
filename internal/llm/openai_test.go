package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIClientRequiresConfig(t *testing.T) {
	if _, err := NewOpenAIClient(OpenAIConfig{APIKey: "k"}); err == nil {
		t.Fatal("expected error for missing base URL")
	}
	if _, err := NewOpenAIClient(OpenAIConfig{BaseURL: "https://api.example.com"}); err == nil {
		t.Fatal("expected error for missing api key")
	}
}

func TestOpenAIClientInvoke(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Fatalf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Fatalf("Authorization = %q", got)
		}
		var payload struct {
			Model    string    `json:"model"`
			Messages []Message `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload.Model != "test-model" {
			t.Fatalf("model = %q", payload.Model)
		}
		if len(payload.Messages) != 2 || payload.Messages[0].Role != RoleSystem {
			t.Fatalf("messages = %#v", payload.Messages)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "SELECT 1;"}},
			},
			"usage": map[string]int{"total_tokens": 37},
		})
	}))
	defer server.Close()

	client, err := NewOpenAIClient(OpenAIConfig{BaseURL: server.URL, APIKey: "test-key", Model: "test-model"})
	if err != nil {
		t.Fatalf("NewOpenAIClient() error = %v", err)
	}
	reply, err := client.Invoke(context.Background(), []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "question"},
	})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if reply.Text != "SELECT 1;" {
		t.Fatalf("reply.Text = %q", reply.Text)
	}
	if reply.TokensUsed != 37 {
		t.Fatalf("reply.TokensUsed = %d", reply.TokensUsed)
	}
}

func TestOpenAIClientInvokeErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client, err := NewOpenAIClient(OpenAIConfig{BaseURL: server.URL, APIKey: "k"})
	if err != nil {
		t.Fatalf("NewOpenAIClient() error = %v", err)
	}
	if _, err := client.Invoke(context.Background(), []Message{{Role: RoleUser, Content: "q"}}); err == nil {
		t.Fatal("expected error for 429 response")
	}
}

func TestOpenAIClientEmbed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Fatalf("path = %q", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"embedding": []float32{0.1, 0.2, 0.3}},
			},
		})
	}))
	defer server.Close()

	client, err := NewOpenAIClient(OpenAIConfig{BaseURL: server.URL, APIKey: "k"})
	if err != nil {
		t.Fatalf("NewOpenAIClient() error = %v", err)
	}
	vector, err := client.Embed(context.Background(), "how many orders")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vector) != 3 {
		t.Fatalf("len(vector) = %d", len(vector))
	}
}
