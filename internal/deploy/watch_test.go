package deploy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func countBuilds(cli *fakeClient) int {
	n := 0
	for _, c := range cli.callLog() {
		if c == "build bot:latest" {
			n++
		}
	}
	return n
}

func waitForBuilds(t *testing.T, cli *fakeClient, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if countBuilds(cli) >= want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("saw %d builds, want at least %d (calls: %v)", countBuilds(cli), want, cli.callLog())
}

func TestWatchDeploysOnContextChange(t *testing.T) {
	cfg := testConfig(t)
	cfg.Debounce = 50 * time.Millisecond
	cli := newFakeClient()
	d := newTestDeployer(cfg, cli)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watchDone := make(chan error, 1)
	go func() { watchDone <- d.Watch(ctx) }()

	// Initial convergence pass.
	waitForBuilds(t, cli, 1)

	if err := os.WriteFile(filepath.Join(cfg.ContextDir, "bot.py"), []byte("print('hi')\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitForBuilds(t, cli, 2)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	d.Stop(stopCtx)

	select {
	case <-watchDone:
	case <-time.After(2 * time.Second):
		t.Fatal("watch loop did not exit after Stop")
	}
}

func TestWatchDebouncesBursts(t *testing.T) {
	cfg := testConfig(t)
	cfg.Debounce = 200 * time.Millisecond
	cli := newFakeClient()
	d := newTestDeployer(cfg, cli)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Watch(ctx) }()
	waitForBuilds(t, cli, 1)

	// A burst of writes inside one debounce window should coalesce into a
	// single pass.
	for i := 0; i < 5; i++ {
		name := filepath.Join(cfg.ContextDir, "file"+string(rune('a'+i)))
		if err := os.WriteFile(name, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	waitForBuilds(t, cli, 2)

	// Allow any stray passes to land, then check the count stayed at 2.
	time.Sleep(500 * time.Millisecond)
	if got := countBuilds(cli); got != 2 {
		t.Fatalf("builds after burst = %d, want 2", got)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	d.Stop(stopCtx)
}

func TestRelevantEventFiltersNoise(t *testing.T) {
	d := &Deployer{}
	cases := []struct {
		name string
		op   fsnotify.Op
		want bool
	}{
		{"/ctx/bot.py", fsnotify.Write, true},
		{"/ctx/Dockerfile", fsnotify.Create, true},
		{"/ctx/.env", fsnotify.Write, true},
		{"/ctx/.dockerignore", fsnotify.Write, true},
		{"/ctx/.git", fsnotify.Write, false},
		{"/ctx/bot.py~", fsnotify.Write, false},
		{"/ctx/.bot.py.swp", fsnotify.Write, false},
		{"/ctx/bot.py", fsnotify.Chmod, false},
	}
	for _, c := range cases {
		if got := d.relevantEvent(fsnotify.Event{Name: c.name, Op: c.op}); got != c.want {
			t.Errorf("relevantEvent(%q, %v) = %v, want %v", c.name, c.op, got, c.want)
		}
	}
}

func TestBaseChangedPrimesThenDetects(t *testing.T) {
	cfg := testConfig(t)
	cfg.BaseImage = "library/python:3"
	r := &fakeResolver{digest: "sha256:aaa"}
	d := newTestDeployer(cfg, newFakeClient())
	d.resolver = r

	if d.baseChanged(context.Background()) {
		t.Fatal("first poll must only prime the cache")
	}
	if d.baseChanged(context.Background()) {
		t.Fatal("unchanged digest reported as changed")
	}
	r.digest = "sha256:bbb"
	if !d.baseChanged(context.Background()) {
		t.Fatal("digest change not detected")
	}
	if d.baseChanged(context.Background()) {
		t.Fatal("change reported twice for the same digest")
	}
}
