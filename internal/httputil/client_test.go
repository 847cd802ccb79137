package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewClientDefaults(t *testing.T) {
	c := NewClient(ClientConfig{BaseURL: "http://localhost:8080/"})
	if c.baseURL != "http://localhost:8080" {
		t.Errorf("baseURL = %s, want trailing slash trimmed", c.baseURL)
	}
	if c.maxRetries != 2 {
		t.Errorf("default maxRetries = %d, want 2", c.maxRetries)
	}
	if c.httpClient.Timeout != 15*time.Second {
		t.Errorf("default timeout = %s, want 15s", c.httpClient.Timeout)
	}
}

func TestPostJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/requests" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %s", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token" {
			t.Errorf("Authorization = %s", got)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"echo": body["name"]})
	}))
	defer server.Close()

	c := NewClient(ClientConfig{BaseURL: server.URL, Token: "token"})
	resp, err := c.PostJSON(context.Background(), "/v1/requests", map[string]string{"name": "raffle"})
	if err != nil {
		t.Fatalf("PostJSON() error = %v", err)
	}
	if !resp.OK() || resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(resp.Body), `"echo":"raffle"`) {
		t.Fatalf("body = %s", resp.Body)
	}
}

func TestRetriesUnavailable(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := NewClient(ClientConfig{BaseURL: server.URL, Backoff: time.Millisecond})
	resp, err := c.Get(context.Background(), "/")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if resp.StatusCode != http.StatusOK || calls.Load() != 3 {
		t.Fatalf("status = %d after %d calls", resp.StatusCode, calls.Load())
	}
}

func TestDoesNotRetryServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c := NewClient(ClientConfig{BaseURL: server.URL, Backoff: time.Millisecond})
	resp, err := c.PostJSON(context.Background(), "/", map[string]int{"n": 1})
	if err != nil {
		t.Fatalf("PostJSON() error = %v", err)
	}
	if resp.StatusCode != http.StatusBadGateway || calls.Load() != 1 {
		t.Fatalf("status = %d after %d calls", resp.StatusCode, calls.Load())
	}
}

func TestReadAllWithLimit(t *testing.T) {
	data, err := ReadAllWithLimit(strings.NewReader("abcd"), 4)
	if err != nil || string(data) != "abcd" {
		t.Fatalf("ReadAllWithLimit() = %q, %v", data, err)
	}
	if _, err := ReadAllWithLimit(strings.NewReader("abcde"), 4); !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("expected ErrBodyTooLarge, got %v", err)
	}
}
