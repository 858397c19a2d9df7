package inference

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestWorkerClient_Generate(t *testing.T) {
	var got workerRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(workerResponse{Text: "<doctag><text>hi</text></doctag>"})
	}))
	defer srv.Close()

	c := NewWorkerClient(srv.URL+"/", "secret", time.Second)
	defer c.Close()

	out, err := c.Generate(context.Background(), []byte("png-bytes"), DefaultPrompt, 64)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "<doctag><text>hi</text></doctag>" {
		t.Errorf("unexpected output %q", out)
	}
	if got.Prompt != DefaultPrompt || got.MaxNewTokens != 64 {
		t.Errorf("unexpected request %+v", got)
	}
	raw, _ := base64.StdEncoding.DecodeString(got.ImageBase64)
	if string(raw) != "png-bytes" {
		t.Errorf("image not base64 encoded as expected, got %q", raw)
	}
	if auth != "Bearer secret" {
		t.Errorf("expected bearer auth header, got %q", auth)
	}
}

func TestWorkerClient_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "out of memory", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewWorkerClient(srv.URL, "", time.Second).Generate(context.Background(), nil, "p", 1)
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("expected status in error, got %v", err)
	}
}

func TestWorkerClient_ErrorField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(workerResponse{Error: "model not loaded"})
	}))
	defer srv.Close()

	_, err := NewWorkerClient(srv.URL, "", time.Second).Generate(context.Background(), nil, "p", 1)
	if err == nil || !strings.Contains(err.Error(), "model not loaded") {
		t.Fatalf("expected worker error, got %v", err)
	}
}

func TestWorkerClient_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	if _, err := NewWorkerClient(srv.URL, "", time.Second).Generate(context.Background(), nil, "p", 1); err == nil {
		t.Fatal("expected decode error")
	}
}
