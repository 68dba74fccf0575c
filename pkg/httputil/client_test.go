package httputil

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wonny/aegis-narrator/pkg/config"
	"github.com/wonny/aegis-narrator/pkg/logger"
)

func TestNew(t *testing.T) {
	cfg := &config.Config{
		Env:      "test",
		LogLevel: "error",
		LLM:      config.LLMConfig{Timeout: 7 * time.Second},
	}

	client := New(cfg, logger.Nop())
	if client == nil {
		t.Fatal("Expected client to be created")
	}
	if client.httpClient.Timeout != 7*time.Second {
		t.Errorf("Expected timeout=7s, got %v", client.httpClient.Timeout)
	}
}

func TestNewDefaultsTimeout(t *testing.T) {
	client := New(&config.Config{}, nil)
	if client.httpClient.Timeout != 30*time.Second {
		t.Errorf("Expected default timeout=30s, got %v", client.httpClient.Timeout)
	}
}

func TestWithHeaderDoesNotMutateOriginal(t *testing.T) {
	base := NewWithTimeout(logger.Nop(), time.Second)
	authed := base.WithHeader("Authorization", "Bearer x")

	if len(base.headers) != 0 {
		t.Errorf("Expected base headers untouched, got %v", base.headers)
	}
	if authed.headers["Authorization"] != "Bearer x" {
		t.Errorf("Expected header on copy, got %v", authed.headers)
	}
}

func TestDoJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST request, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Expected Content-Type=application/json, got %s", ct)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer k" {
			t.Errorf("Expected auth header, got %q", auth)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"text":"hello"}`))
	}))
	defer server.Close()

	client := NewWithTimeout(logger.Nop(), time.Second).WithHeader("Authorization", "Bearer k")

	var out struct {
		Text string `json:"text"`
	}
	if err := client.DoJSON(context.Background(), server.URL, map[string]string{"q": "x"}, &out); err != nil {
		t.Fatalf("DoJSON failed: %v", err)
	}
	if out.Text != "hello" {
		t.Errorf("Expected text=hello, got %q", out.Text)
	}
}

func TestDoJSONStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"slow down"}`))
	}))
	defer server.Close()

	client := NewWithTimeout(logger.Nop(), time.Second)
	err := client.DoJSON(context.Background(), server.URL, map[string]string{}, nil)

	statusErr, ok := err.(*StatusError)
	if !ok {
		t.Fatalf("Expected *StatusError, got %T (%v)", err, err)
	}
	if statusErr.HTTPStatusCode() != 429 {
		t.Errorf("Expected 429, got %d", statusErr.StatusCode)
	}
	if statusErr.RetryAfter != 3*time.Second {
		t.Errorf("Expected Retry-After 3s, got %v", statusErr.RetryAfter)
	}
}

func TestIsRetryableStatus(t *testing.T) {
	tests := []struct {
		statusCode int
		want       bool
	}{
		{200, false},
		{400, false},
		{404, false},
		{408, true},
		{429, true}, // Too Many Requests - should retry
		{500, true},
		{503, true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.statusCode), func(t *testing.T) {
			if got := IsRetryableStatus(tt.statusCode); got != tt.want {
				t.Errorf("IsRetryableStatus(%d) = %v, want %v", tt.statusCode, got, tt.want)
			}
		})
	}
}
