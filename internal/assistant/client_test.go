package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func chatServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func okResponse(w http.ResponseWriter, text string) {
	json.NewEncoder(w).Encode(map[string]interface{}{
		"choices": []map[string]interface{}{
			{"index": 0, "message": map[string]string{"role": "assistant", "content": text}},
		},
	})
}

func TestReplyRetriesConflict(t *testing.T) {
	var calls int32
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusConflict)
			return
		}
		okResponse(w, "all set")
	})

	c := NewClient(Config{BaseURL: srv.URL, Model: "test", Retries: 3, Backoff: time.Millisecond})
	got, err := c.Reply(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if got != "all set" {
		t.Fatalf("Reply = %q, want %q", got, "all set")
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Fatalf("calls = %d, want 3", n)
	}
}

func TestReplyExhaustedConflicts(t *testing.T) {
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	c := NewClient(Config{BaseURL: srv.URL, Model: "test", Retries: 2, Backoff: time.Millisecond})
	_, err := c.Reply(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if !errors.Is(err, ErrRunConflict) {
		t.Fatalf("err = %v, want ErrRunConflict", err)
	}
}

func TestReplyAttemptBudgetIsTotal(t *testing.T) {
	var calls int32
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	c := NewClient(Config{BaseURL: srv.URL, Model: "test", Retries: 3, Backoff: time.Millisecond})
	if _, err := c.Reply(context.Background(), []Message{{Role: "user", Content: "hi"}}); err == nil {
		t.Fatal("Reply: expected error after exhausted attempts")
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Fatalf("calls = %d, want exactly 3 total attempts", n)
	}
}

func TestReplyDoesNotRetryClientError(t *testing.T) {
	var calls int32
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	c := NewClient(Config{BaseURL: srv.URL, Model: "test", Retries: 3, Backoff: time.Millisecond})
	_, err := c.Reply(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if err == nil {
		t.Fatal("Reply: expected error")
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("calls = %d, want 1 (4xx must not be retried)", n)
	}
}

func TestReplyPrependsSystemPrompt(t *testing.T) {
	var got chatRequest
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		okResponse(w, "ok")
	})

	c := NewClient(Config{BaseURL: srv.URL, Model: "test", SystemPrompt: "be helpful", Retries: 0, Backoff: time.Millisecond})
	if _, err := c.Reply(context.Background(), []Message{{Role: "user", Content: "hi"}}); err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[0].Content != "be helpful" {
		t.Fatalf("messages = %+v, want system prompt first", got.Messages)
	}
}
