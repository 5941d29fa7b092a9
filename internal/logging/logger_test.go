package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitWritesToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "slipway.log")

	cleanup, err := Init(Options{Level: "debug", File: path})
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer cleanup()

	Get().Info().Str("component", "test").Msg("hello from test")

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(b), "hello from test") {
		t.Fatalf("log file missing message, got: %s", string(b))
	}
}

func TestParseLevelFallsBackToInfo(t *testing.T) {
	if got := parseLevel("nonsense"); got.String() != "info" {
		t.Fatalf("expected info fallback, got %s", got)
	}
	if got := parseLevel("WARN"); got.String() != "warn" {
		t.Fatalf("expected warn, got %s", got)
	}
}
