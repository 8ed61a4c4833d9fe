package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseEnvDefaults(t *testing.T) {
	var cfg Client
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.TypingIdle != 3*time.Second {
		t.Fatalf("expected default typing idle 3s, got %v", cfg.TypingIdle)
	}
	if cfg.APIURL != "http://localhost:8090" {
		t.Fatalf("unexpected api url %q", cfg.APIURL)
	}
}

func TestParseEnvError(t *testing.T) {
	var cfg Client
	t.Setenv("WOVE_TYPING_IDLE", "soon")

	err := ParseEnv(&cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

func TestLoadClientDerivesWSURL(t *testing.T) {
	t.Setenv("WOVE_API_URL", "https://wove.example")
	t.Setenv("WOVE_WS_URL", "")
	os.Unsetenv("WOVE_WS_URL")

	cfg, err := LoadClient()
	if err != nil {
		t.Fatalf("load client: %v", err)
	}
	if cfg.WSURL != "wss://wove.example" {
		t.Fatalf("expected derived ws url, got %q", cfg.WSURL)
	}
}

func TestServerOriginsSplit(t *testing.T) {
	t.Setenv("WOVE_ALLOWED_ORIGINS", "http://a.test,http://b.test")

	cfg, err := LoadServer()
	if err != nil {
		t.Fatalf("load server: %v", err)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "http://b.test" {
		t.Fatalf("unexpected origins %v", cfg.AllowedOrigins)
	}
}

func TestLoadDotenv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("WOVE_DOTENV_MARKER=loaded\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("WOVE_DOTENV_MARKER", "")
	os.Unsetenv("WOVE_DOTENV_MARKER")

	if err := LoadDotenv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("load dotenv: %v", err)
	}
	if got := os.Getenv("WOVE_DOTENV_MARKER"); got != "loaded" {
		t.Fatalf("expected dotenv value, got %q", got)
	}
}

func TestDeriveWSURL(t *testing.T) {
	tests := map[string]string{
		"http://localhost:8090": "ws://localhost:8090",
		"https://wove.example":  "wss://wove.example",
		"ws://already":          "ws://already",
	}
	for in, want := range tests {
		if got := DeriveWSURL(in); got != want {
			t.Fatalf("DeriveWSURL(%q) = %q, want %q", in, got, want)
		}
	}
}
