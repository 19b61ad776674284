package main

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

// fakeOpenAI answers every chat completion with reply.
func fakeOpenAI(t *testing.T, reply string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		io.Copy(io.Discard, r.Body)
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":"chatcmpl-1","object":"chat.completion","created":1,"model":"gpt-4.1",
"choices":[{"index":0,"message":{"role":"assistant","content":%q},"finish_reason":"stop"}],
"usage":{"prompt_tokens":10,"completion_tokens":3,"total_tokens":13}}`, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func seededConfig(t *testing.T, llmURL string) string {
	t.Helper()
	path := writeConfig(t, llmURL)
	if out, err := run(t, "db", "migrate", "-c", path); err != nil {
		t.Fatalf("db migrate: %v\n%s", err, out)
	}
	if out, err := run(t, "db", "seed", "-c", path, "--owner", "bob", "--project", "Pproj0000001", "--map", "Mmap00000001"); err != nil {
		t.Fatalf("db seed: %v\n%s", err, out)
	}
	return path
}

func TestSend_PrintsReply(t *testing.T) {
	srv, calls := fakeOpenAI(t, "Hello from Kue.")
	path := seededConfig(t, srv.URL+"/v1")

	out, err := run(t, "send", "-c", path, "-m", "Mmap00000001", "-u", "bob", "what", "is", "here?")
	if err != nil {
		t.Fatalf("send: %v\n%s", err, out)
	}
	if !strings.Contains(out, "* Kue is thinking...") {
		t.Errorf("output missing thinking notice: %q", out)
	}
	if !strings.Contains(out, "kue: Hello from Kue.") {
		t.Errorf("output missing reply: %q", out)
	}
	if !strings.Contains(out, "conversation 1: completed") {
		t.Errorf("output missing final state: %q", out)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("completion calls = %d, want 1", got)
	}

	out, err = run(t, "transcript", "-c", path, "-u", "bob", "1")
	if err != nil {
		t.Fatalf("transcript: %v\n%s", err, out)
	}
	if !strings.Contains(out, "you: what is here?") || !strings.Contains(out, "kue: Hello from Kue.") {
		t.Errorf("transcript = %q", out)
	}
}

func TestSend_UnknownMap(t *testing.T) {
	srv, calls := fakeOpenAI(t, "unused")
	path := seededConfig(t, srv.URL+"/v1")

	_, err := run(t, "send", "-c", path, "-m", "Mnope0000000", "-u", "bob", "hi")
	if err == nil {
		t.Fatal("expected error for unknown map")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("error = %q", err.Error())
	}
	if calls.Load() != 0 {
		t.Error("model should not be called for an unknown map")
	}
}

func TestTranscript_OtherUser(t *testing.T) {
	srv, _ := fakeOpenAI(t, "ok")
	path := seededConfig(t, srv.URL+"/v1")
	if _, err := run(t, "send", "-c", path, "-m", "Mmap00000001", "-u", "bob", "hi"); err != nil {
		t.Fatal(err)
	}

	if _, err := run(t, "transcript", "-c", path, "-u", "eve", "1"); err == nil {
		t.Fatal("expected error reading another user's conversation")
	}
	if _, err := run(t, "transcript", "-c", path, "-u", "bob", "abc"); err == nil {
		t.Fatal("expected error for non-numeric id")
	}
}

func TestCancel(t *testing.T) {
	srv, _ := fakeOpenAI(t, "ok")
	path := seededConfig(t, srv.URL+"/v1")

	out, err := run(t, "cancel", "-c", path, "-m", "Mmap00000001", "-u", "bob")
	if err != nil {
		t.Fatalf("cancel: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Cancellation requested for map Mmap00000001") {
		t.Errorf("output = %q", out)
	}

	if _, err := run(t, "cancel", "-c", path, "-m", "Mmap00000001", "-u", "eve"); err == nil {
		t.Fatal("expected error cancelling another user's map")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("a\nb", 10); got != "a b" {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate(strings.Repeat("x", 12), 10); got != strings.Repeat("x", 10)+"..." {
		t.Errorf("truncate = %q", got)
	}
}
