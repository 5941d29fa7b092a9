package main

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/slipway/slipway/internal/config"
)

func TestApplyFlagOverrides(t *testing.T) {
	cfg := config.DefaultConfig()
	applyFlagOverrides(cfg, "/srv/bot", "mybot", "mybot:latest", "/srv/bot/.env", true, true)

	if cfg.ContextDir != "/srv/bot" {
		t.Errorf("ContextDir = %q", cfg.ContextDir)
	}
	if cfg.ContainerName != "mybot" {
		t.Errorf("ContainerName = %q", cfg.ContainerName)
	}
	if cfg.ImageTag != "mybot:latest" {
		t.Errorf("ImageTag = %q", cfg.ImageTag)
	}
	if cfg.EnvFile != "/srv/bot/.env" {
		t.Errorf("EnvFile = %q", cfg.EnvFile)
	}
	if !cfg.Watch || !cfg.DryRun {
		t.Errorf("Watch=%v DryRun=%v, want both true", cfg.Watch, cfg.DryRun)
	}
}

func TestApplyFlagOverridesLeavesConfigUntouched(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ContainerName = "from-file"
	applyFlagOverrides(cfg, "", "", "", "", false, false)

	if cfg.ContainerName != "from-file" {
		t.Errorf("empty flags must not override config, got %q", cfg.ContainerName)
	}
	if cfg.Watch || cfg.DryRun {
		t.Errorf("false flags must not enable modes")
	}
}

func TestCheckDockerSocketAccessMissingIsOK(t *testing.T) {
	if err := checkDockerSocketAccess(filepath.Join(t.TempDir(), "nope.sock")); err != nil {
		t.Errorf("missing socket should not be an error, got %v", err)
	}
}

func TestCheckDockerSocketAccessRegularFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "sock")
	if err := os.WriteFile(p, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := checkDockerSocketAccess(p); err != nil {
		t.Errorf("readable path should pass the preflight, got %v", err)
	}
}

func TestShutdownSignalChannel(t *testing.T) {
	sig := make(chan os.Signal, 1)
	done := make(chan bool, 1)

	go func() {
		<-sig
		done <- true
	}()

	sig <- syscall.SIGTERM

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("signal handler did not receive signal")
	}
}
