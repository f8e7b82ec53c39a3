package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCompleteRequestsJSON(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "gemini-test:generateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"{\"outcome\":\"booked\"}"}]}}]}`))
	}))
	defer srv.Close()

	client, err := New(context.Background(), Config{APIKey: "k", BaseURL: srv.URL, Model: "gemini-test"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	out, err := client.Complete(context.Background(), "system", "transcript")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out != `{"outcome":"booked"}` {
		t.Fatalf("unexpected text %q", out)
	}
	gen, _ := body["generationConfig"].(map[string]any)
	if gen["responseMimeType"] != "application/json" {
		t.Fatalf("expected JSON mime type, got %v", body["generationConfig"])
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected missing key error")
	}
}
