package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/slipway/slipway/internal/config"
	"github.com/slipway/slipway/internal/deploy"
	"github.com/slipway/slipway/internal/docker"
	"github.com/slipway/slipway/internal/logging"
	"github.com/slipway/slipway/internal/metrics"
)

func main() {
	cfgFile := flag.String("config", "", "Path to config file")
	contextDir := flag.String("context", "", "Build context directory (overrides config)")
	name := flag.String("name", "", "Container name (overrides config)")
	tag := flag.String("tag", "", "Image tag to build and run (overrides config)")
	envFile := flag.String("env-file", "", "Env file passed to the container (overrides config)")
	watch := flag.Bool("watch", false, "Watch the build context and redeploy on change")
	dryRun := flag.Bool("dry-run", false, "Build the image but do not touch containers")
	flag.Parse()

	cfg := loadConfig(*cfgFile)
	applyFlagOverrides(cfg, *contextDir, *name, *tag, *envFile, *watch, *dryRun)

	cleanup := initLogging()
	defer cleanup()

	initMetricsAndInflux(cfg)

	// Verify the Docker socket is accessible (common pitfall when running in
	// containers).
	ensureDockerSocketAccessible(cfg)

	ctx := context.Background()
	cli := createDockerClientOrFatal(cfg)

	if cfg.Watch {
		runWatchAndWait(ctx, cfg, cli)
		return
	}
	runOnce(ctx, cfg, cli)
}

// loadConfig layers defaults, the optional config file, and env overrides.
func loadConfig(path string) *config.Config {
	cfg := config.DefaultConfig()
	if path != "" {
		c, err := config.LoadConfigFromFile(path)
		if err != nil {
			log.Fatalf("failed loading config: %v", err)
		}
		cfg = c
	}
	if err := config.ApplyEnvOverrides(cfg); err != nil {
		log.Fatalf("invalid environment configuration: %v", err)
	}
	return cfg
}

// applyFlagOverrides gives CLI flags the highest precedence.
func applyFlagOverrides(cfg *config.Config, contextDir, name, tag, envFile string, watch, dryRun bool) {
	if contextDir != "" {
		cfg.ContextDir = contextDir
	}
	if name != "" {
		cfg.ContainerName = name
	}
	if tag != "" {
		cfg.ImageTag = tag
	}
	if envFile != "" {
		cfg.EnvFile = envFile
	}
	if watch {
		cfg.Watch = true
	}
	if dryRun {
		cfg.DryRun = true
	}
}

// initLogging initializes the log subsystem from env and returns a cleanup func.
func initLogging() func() {
	cleanup, err := logging.Init(logging.Options{
		Level:   os.Getenv("SLIPWAY_LOG_LEVEL"),
		File:    os.Getenv("SLIPWAY_LOG_FILE"),
		Console: os.Getenv("SLIPWAY_LOG_CONSOLE") == "true",
	})
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	return cleanup
}

// initMetricsAndInflux starts the optional metrics server and Influx pusher.
func initMetricsAndInflux(cfg *config.Config) {
	if cfg.MetricsEnabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.PromHandler())
			mux.Handle("/status", metrics.JSONHandler())
			addr := fmt.Sprintf(":%d", cfg.MetricsPort)
			logging.Get().Info().Str("addr", addr).Msg("starting metrics server")
			_ = http.ListenAndServe(addr, mux)
		}()
	}
	if cfg.InfluxURL != "" {
		go metrics.StartInfluxPusher(context.Background(), cfg.InfluxURL, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket, cfg.InfluxInterval)
	}
}

// checkDockerSocketAccess verifies the socket exists and is openable for
// read/write. A missing socket is not fatal here; the engine may live behind
// DOCKER_HOST instead.
func checkDockerSocketAccess(path string) error {
	_, err := os.Stat(path)
	if err == nil {
		f, err := os.OpenFile(path, os.O_RDWR, 0)
		if err != nil {
			return err
		}
		_ = f.Close()
		return nil
	}
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func ensureDockerSocketAccessible(cfg *config.Config) {
	if cfg.DockerHost != "" || os.Getenv("DOCKER_HOST") != "" {
		return
	}
	if err := checkDockerSocketAccess("/var/run/docker.sock"); err != nil {
		if os.IsPermission(err) {
			logging.Get().Fatal().Msg("permission denied accessing /var/run/docker.sock: ensure the user has docker group access (e.g., --group-add docker)")
		} else {
			logging.Get().Warn().Err(err).Msg("problem accessing /var/run/docker.sock; continuing but operations may fail")
		}
	}
}

func createDockerClientOrFatal(cfg *config.Config) docker.Client {
	cli, err := docker.NewClientForHost(cfg.DockerHost)
	if err != nil {
		logging.Get().Fatal().Err(err).Msg("failed to create docker client")
	}
	return cli
}

// runOnce performs crash recovery and a single deploy pass.
func runOnce(ctx context.Context, cfg *config.Config, cli docker.Client) {
	d := deploy.New(cfg, cli)
	d.Recover(ctx)
	if err := d.DeployOnce(ctx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		d.Stop(shutdownCtx)
		os.Exit(1)
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	d.Stop(shutdownCtx)
}

// runWatchAndWait starts the watch loop and blocks until a shutdown signal.
func runWatchAndWait(ctx context.Context, cfg *config.Config, cli docker.Client) {
	d := deploy.New(cfg, cli)
	go func() {
		if err := d.Watch(ctx); err != nil && err != context.Canceled {
			logging.Get().Error().Err(err).Msg("watch loop terminated")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logging.Get().Info().Msg("shutdown signal received, waiting for active operations to complete")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	d.Stop(shutdownCtx)
}
