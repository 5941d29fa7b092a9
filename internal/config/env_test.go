package config_test

import (
	"testing"
	"time"

	"github.com/slipway/slipway/internal/config"
)

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("SLIPWAY_CONTAINER_NAME", "envbot")
	t.Setenv("SLIPWAY_VERIFY_TIMEOUT", "45s")
	t.Setenv("SLIPWAY_KEEP_OLD", "false")
	t.Setenv("SLIPWAY_METRICS_ENABLED", "true")
	t.Setenv("SLIPWAY_METRICS_PORT", "9100")

	cfg := config.DefaultConfig()
	if err := config.ApplyEnvOverrides(cfg); err != nil {
		t.Fatalf("apply env overrides: %v", err)
	}
	if cfg.ContainerName != "envbot" {
		t.Fatalf("container name override missing: %q", cfg.ContainerName)
	}
	if cfg.VerifyTimeout != 45*time.Second {
		t.Fatalf("verify timeout override missing: %v", cfg.VerifyTimeout)
	}
	if cfg.KeepOld {
		t.Fatal("keep_old override missing")
	}
	if !cfg.MetricsEnabled || cfg.MetricsPort != 9100 {
		t.Fatalf("metrics overrides missing: enabled=%v port=%d", cfg.MetricsEnabled, cfg.MetricsPort)
	}
}

func TestApplyEnvOverridesRejectsBadValues(t *testing.T) {
	t.Setenv("SLIPWAY_STOP_TIMEOUT", "soon")
	if err := config.ApplyEnvOverrides(config.DefaultConfig()); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestApplyEnvOverridesRejectsBadBool(t *testing.T) {
	t.Setenv("SLIPWAY_DRY_RUN", "yep")
	if err := config.ApplyEnvOverrides(config.DefaultConfig()); err == nil {
		t.Fatal("expected error for invalid boolean")
	}
}
