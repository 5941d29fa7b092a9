package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/slipway/slipway/internal/config"
	"github.com/slipway/slipway/internal/deploy"
	"github.com/slipway/slipway/internal/docker"
)

// This integration test is skipped by default. To run it locally, set
// RUN_DOCKER_INTEGRATION=1 in your environment. It requires a reachable
// Docker engine.
func TestRedeployRoundTrip(t *testing.T) {
	if os.Getenv("RUN_DOCKER_INTEGRATION") != "1" {
		t.Skip("skipping integration test; set RUN_DOCKER_INTEGRATION=1 to enable")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	cli, err := docker.NewClient()
	if err != nil {
		t.Fatalf("docker client: %v", err)
	}
	if err := cli.Ping(ctx); err != nil {
		t.Fatalf("docker engine unreachable: %v", err)
	}

	dir := t.TempDir()
	dockerfile := "FROM busybox\nCMD [\"sleep\", \"300\"]\n"
	if err := os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte(dockerfile), 0o644); err != nil {
		t.Fatal(err)
	}
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("SMOKE=1\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("SLIPWAY_STATE_DIR", t.TempDir())

	cfg := config.DefaultConfig()
	cfg.ContainerName = "slipway-smoke"
	cfg.ImageTag = "slipway-smoke:latest"
	cfg.ContextDir = dir
	cfg.EnvFile = envPath
	cfg.VerifyTimeout = 30 * time.Second
	cfg.NotificationLevel = "none"

	t.Cleanup(func() {
		cleanCtx, cleanCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cleanCancel()
		if c, ok, _ := cli.FindContainerByName(cleanCtx, cfg.ContainerName); ok {
			_ = cli.StopContainer(cleanCtx, c.ID, time.Second)
			_ = cli.RemoveContainer(cleanCtx, c.ID)
		}
	})

	d := deploy.New(cfg, cli)

	// First deploy: fresh container.
	if err := d.DeployOnce(ctx); err != nil {
		t.Fatalf("first deploy: %v", err)
	}
	first, ok, err := cli.FindContainerByName(ctx, cfg.ContainerName)
	if err != nil || !ok {
		t.Fatalf("container missing after first deploy: ok=%v err=%v", ok, err)
	}

	// Second deploy: replacement under the same name.
	if err := d.DeployOnce(ctx); err != nil {
		t.Fatalf("second deploy: %v", err)
	}
	second, ok, err := cli.FindContainerByName(ctx, cfg.ContainerName)
	if err != nil || !ok {
		t.Fatalf("container missing after second deploy: ok=%v err=%v", ok, err)
	}
	if second.ID == first.ID {
		t.Fatalf("second deploy did not replace the container (id %s)", first.ID)
	}
	if second.State != "running" {
		t.Fatalf("replacement container state = %q, want running", second.State)
	}
}
