package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		wantName string
		wantErr  error
	}{
		{name: "default is static", cfg: Config{}, wantName: "static"},
		{name: "static", cfg: Config{Provider: "Static"}, wantName: "static"},
		{name: "openai with base url", cfg: Config{Provider: "openai", BaseURL: "http://localhost:11434/v1", Model: "llama3"}, wantName: "openai/llama3"},
		{name: "openai default model", cfg: Config{Provider: "openai", APIKey: "sk-test"}, wantName: "openai/" + DefaultOpenAIModel},
		{name: "openai without key", cfg: Config{Provider: "openai"}, wantErr: ErrMissingAPIKey},
		{name: "gemini without key", cfg: Config{Provider: "gemini"}, wantErr: ErrMissingAPIKey},
		{name: "unknown", cfg: Config{Provider: "carrier-pigeon"}, wantErr: ErrUnknownProvider},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen, err := New(context.Background(), tt.cfg)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("New err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if gen.Name() != tt.wantName {
				t.Errorf("Name() = %q, want %q", gen.Name(), tt.wantName)
			}
		})
	}
}

func TestStatic(t *testing.T) {
	s := NewStatic("")
	got, err := s.Generate(context.Background(), "anything")
	if err != nil || got != DefaultStaticResponse {
		t.Errorf("Generate = %q, %v", got, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Generate(ctx, "x"); !errors.Is(err, context.Canceled) {
		t.Errorf("Generate with cancelled ctx err = %v", err)
	}
}

func TestOpenAI_Generate(t *testing.T) {
	var gotPrompt, gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.Unmarshal(body, &req); err == nil {
			gotModel = req.Model
			if len(req.Messages) > 0 {
				gotPrompt = req.Messages[0].Content
			}
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "test-model",
			"choices": [{
				"index": 0,
				"message": {"role": "assistant", "content": "{\"start\":[],\"loop\":[\"200,100\"]}"},
				"finish_reason": "stop"
			}]
		}`))
	}))
	defer srv.Close()

	gen, err := NewOpenAI(Config{APIKey: "sk-test", BaseURL: srv.URL, Model: "test-model"})
	if err != nil {
		t.Fatalf("NewOpenAI: %v", err)
	}

	got, err := gen.Generate(context.Background(), "describe waves")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != `{"start":[],"loop":["200,100"]}` {
		t.Errorf("Generate = %q", got)
	}
	if gotPrompt != "describe waves" || gotModel != "test-model" {
		t.Errorf("request prompt = %q, model = %q", gotPrompt, gotModel)
	}
}

func TestOpenAI_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error": {"message": "overloaded", "type": "server_error"}}`))
	}))
	defer srv.Close()

	gen, err := NewOpenAI(Config{APIKey: "sk-test", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewOpenAI: %v", err)
	}
	if _, err := gen.Generate(context.Background(), "x"); err == nil {
		t.Error("Generate succeeded against failing server")
	}
}
