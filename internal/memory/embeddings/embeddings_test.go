package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewDisabled(t *testing.T) {
	c, err := New(Config{})
	if err != nil || c != nil {
		t.Fatalf("New(empty) = (%v, %v), want (nil, nil)", c, err)
	}
}

func TestNewUnknownProvider(t *testing.T) {
	if _, err := New(Config{Provider: "cuda-farm"}); err == nil {
		t.Fatal("unknown provider accepted")
	}
}

func TestNewOpenAIRequiresKey(t *testing.T) {
	if _, err := New(Config{Provider: "openai"}); err == nil {
		t.Fatal("missing api key accepted")
	}
}

func TestOpenAIDimension(t *testing.T) {
	cases := []struct {
		model string
		want  int
	}{
		{"", 1536},
		{"text-embedding-3-small", 1536},
		{"text-embedding-3-large", 3072},
	}
	for _, tc := range cases {
		c, err := New(Config{Provider: "openai", APIKey: "k", Model: tc.model})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if got := c.Dimension(); got != tc.want {
			t.Errorf("Dimension(%q) = %d, want %d", tc.model, got, tc.want)
		}
	}
}

func TestOllamaEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Prompt != "hello" {
			t.Errorf("prompt = %q", req.Prompt)
		}
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float32{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	c, err := New(Config{Provider: "ollama", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	vec, err := c.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 || vec[0] != 0.1 {
		t.Errorf("vec = %v", vec)
	}
}

func TestOllamaEmbedServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c, err := New(Config{Provider: "ollama", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Embed(context.Background(), "hello"); err == nil {
		t.Fatal("server error not surfaced")
	}
}
