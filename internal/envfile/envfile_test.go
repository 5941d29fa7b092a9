package envfile

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeEnv(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAssignmentsAndComments(t *testing.T) {
	path := writeEnv(t, "# bot credentials\nDISCORD_BOT_TOKEN=abc123\n\nLOG_LEVEL=debug\n")
	env, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []string{"DISCORD_BOT_TOKEN=abc123", "LOG_LEVEL=debug"}
	if !reflect.DeepEqual(env, want) {
		t.Fatalf("got %v, want %v", env, want)
	}
}

func TestLoadQuotedValues(t *testing.T) {
	path := writeEnv(t, `GREETING="hello world"`)
	env, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(env) != 1 || env[0] != "GREETING=hello world" {
		t.Fatalf("quotes not stripped: %v", env)
	}
}

func TestLoadPassthroughKeys(t *testing.T) {
	t.Setenv("SLIPWAY_TEST_PASSTHROUGH", "from-process")
	path := writeEnv(t, "SLIPWAY_TEST_PASSTHROUGH\nSLIPWAY_TEST_UNSET_KEY\nA=1\n")
	env, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []string{"A=1", "SLIPWAY_TEST_PASSTHROUGH=from-process"}
	if !reflect.DeepEqual(env, want) {
		t.Fatalf("got %v, want %v", env, want)
	}
}

func TestLoadOptionalMissingFile(t *testing.T) {
	env, err := LoadOptional(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("expected missing file to be tolerated, got %v", err)
	}
	if env != nil {
		t.Fatalf("expected empty env, got %v", env)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
