package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/schemapilot/schemapilot/internal/config"
	"github.com/schemapilot/schemapilot/internal/embedding"
)

func TestAskArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after question are moved first",
			args:     []string{"which table stores users", "-output", "json"},
			expected: []string{"-output", "json", "which table stores users"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"-output", "json", "which table stores users"},
			expected: []string{"-output", "json", "which table stores users"},
		},
		{
			name:     "question only returns unchanged",
			args:     []string{"which table stores users"},
			expected: []string{"which table stores users"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
		{
			name:     "multiple positionals then flags",
			args:     []string{"orders", "per", "customer", "-timeout", "30s"},
			expected: []string{"-timeout", "30s", "orders", "per", "customer"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := askArgsReorder(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("askArgsReorder() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestBuildQuestion(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"orders"}, "orders"},
		{"multiple words", []string{"which", "table", "stores", "users"}, "which table stores users"},
		{"single quoted phrase", []string{"which table stores users"}, "which table stores users"},
		{"empty args", []string{}, ""},
		{"blank args", []string{"  ", "  "}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildQuestion(tt.args)
			if got != tt.expected {
				t.Errorf("buildQuestion(%v) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
server:
  host: "localhost"
  port: 3000
storage:
  driver: "memory"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chdir(origWd) }()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	// On macOS, cwd can be /private/var/... while configPath from t.TempDir() is /var/...; compare canonical paths.
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s (canon %s), want %s (canon %s)", resolved, resolvedCanon, configPath, configPathCanon)
	}
	if !cfg.Debug {
		t.Error("debug should be true from cwd config.yaml")
	}
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  driver: "memory"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != configPath {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
}

func TestAskViaHTTP(t *testing.T) {
	var gotMethod, gotPath, gotContentType, gotBody string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("The users table stores accounts."))
	}))
	defer ts.Close()

	answer, err := askViaHTTP(ts.URL, "which table stores users", 5*time.Second)
	if err != nil {
		t.Fatalf("askViaHTTP: %v", err)
	}
	if answer != "The users table stores accounts." {
		t.Errorf("answer: got %q", answer)
	}
	if gotMethod != http.MethodPost {
		t.Errorf("method: got %s, want POST", gotMethod)
	}
	if gotPath != "/generate" {
		t.Errorf("path: got %s, want /generate", gotPath)
	}
	if gotContentType != "text/plain" {
		t.Errorf("content type: got %q, want text/plain", gotContentType)
	}
	if gotBody != "which table stores users" {
		t.Errorf("body: got %q", gotBody)
	}
}

func TestAskViaHTTP_serverError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("llm error in complete (status 500): backend down"))
	}))
	defer ts.Close()

	_, err := askViaHTTP(ts.URL, "anything", 5*time.Second)
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
	if !strings.Contains(err.Error(), "server returned 500") {
		t.Errorf("error should name the status: %v", err)
	}
	if !strings.Contains(err.Error(), "backend down") {
		t.Errorf("error should include the response body: %v", err)
	}
}

func TestStatusViaHTTP(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/status" {
			t.Errorf("path: got %s, want /api/v1/status", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"collection": "tables",
			"rows":       3,
			"dimension":  384,
			"config": map[string]interface{}{
				"embedding_provider": "openai",
				"top_k":              20,
			},
		})
	}))
	defer ts.Close()

	status, err := statusViaHTTP(ts.URL)
	if err != nil {
		t.Fatalf("statusViaHTTP: %v", err)
	}
	if status.Collection != "tables" || status.Rows != 3 || status.Dimension != 384 {
		t.Errorf("unexpected status: %+v", status)
	}
	if status.Config == nil || status.Config.TopK != 20 {
		t.Errorf("unexpected status config: %+v", status.Config)
	}
}

func TestNewEmbedder(t *testing.T) {
	t.Run("mock provider", func(t *testing.T) {
		cfg := &config.Config{}
		config.ApplyDefaults(cfg)
		cfg.Embedding.Provider = "mock"
		e, err := newEmbedder(cfg)
		if err != nil {
			t.Fatalf("newEmbedder(mock): %v", err)
		}
		defer e.Close()
		if _, ok := e.(*embedding.MockEmbedder); !ok {
			t.Errorf("expected *embedding.MockEmbedder, got %T", e)
		}
	})

	t.Run("openai provider without key fails", func(t *testing.T) {
		cfg := &config.Config{}
		config.ApplyDefaults(cfg)
		cfg.Embedding.Provider = "openai"
		cfg.Embedding.APIKeyEnv = "SCHEMAPILOT_TEST_UNSET_KEY"
		if _, err := newEmbedder(cfg); err == nil {
			t.Error("expected error when the key env var is unset")
		}
	})

	t.Run("unknown provider fails", func(t *testing.T) {
		cfg := &config.Config{}
		config.ApplyDefaults(cfg)
		cfg.Embedding.Provider = "carrier-pigeon"
		if _, err := newEmbedder(cfg); err == nil {
			t.Error("expected error for unknown provider")
		}
	})
}
