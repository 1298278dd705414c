package ollama

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kiliankoe/lastword/internal/ai"
)

func TestCompleteSendsOptions(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"message":{"content":"[1, 2]"}}`))
	}))
	defer srv.Close()

	out, err := New(srv.URL).Complete(t.Context(), ai.Request{Model: "llama3", Prompt: "rank", Temperature: 0.5, MaxTokens: 64})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out != "[1, 2]" {
		t.Fatalf("unexpected output %q", out)
	}
	if got["stream"] != false {
		t.Fatal("streaming should be off")
	}
	opts, _ := got["options"].(map[string]any)
	if opts["temperature"] != 0.5 || opts["num_predict"] != float64(64) {
		t.Fatalf("unexpected options %v", opts)
	}
}

func TestCompleteEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":{"content":"  "}}`))
	}))
	defer srv.Close()
	if _, err := New(srv.URL).Complete(t.Context(), ai.Request{Prompt: "x"}); !errors.Is(err, ai.ErrEmptyCompletion) {
		t.Fatalf("expected ErrEmptyCompletion, got %v", err)
	}
}
