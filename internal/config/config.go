// Package config holds runtime configuration for slipway: which container to
// replace, how to build its image, and how the daemon around it behaves.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds runtime configuration for slipway.
type Config struct {
	// DockerHost overrides the engine endpoint; empty uses DOCKER_HOST / the
	// default socket.
	DockerHost string `json:"docker_host" yaml:"docker_host"`

	// Target container and image.
	ContainerName string `json:"container_name" yaml:"container_name"`
	ImageTag      string `json:"image_tag" yaml:"image_tag"`

	// Build inputs.
	ContextDir string            `json:"context_dir" yaml:"context_dir"`
	Dockerfile string            `json:"dockerfile" yaml:"dockerfile"`
	BuildArgs  map[string]string `json:"build_args" yaml:"build_args"`
	// PullBase forces the engine to pull a newer base image during build.
	PullBase bool `json:"pull_base" yaml:"pull_base"`

	// Base image freshness (optional). BaseImage names the image the build is
	// derived from; BasePolicy is a semver constraint (e.g. "3.12.x") resolved
	// against the registry and injected as the BaseArg build argument.
	BaseImage           string        `json:"base_image" yaml:"base_image"`
	BasePolicy          string        `json:"base_policy" yaml:"base_policy"`
	BaseArg             string        `json:"base_arg" yaml:"base_arg"`
	BaseRefreshInterval time.Duration `json:"base_refresh_interval" yaml:"base_refresh_interval"`

	// Run settings for the replacement container.
	EnvFile       string            `json:"env_file" yaml:"env_file"`
	RestartPolicy string            `json:"restart_policy" yaml:"restart_policy"`
	Ports         []string          `json:"ports" yaml:"ports"`
	Binds         []string          `json:"binds" yaml:"binds"`
	Labels        map[string]string `json:"labels" yaml:"labels"`

	// Replacement behaviour. KeepOld retains the stopped old container under a
	// temporary name until the new one passes verification, enabling rollback.
	// When false the old container is force-removed before the new one starts,
	// matching the plain stop/remove/run order.
	KeepOld        bool          `json:"keep_old" yaml:"keep_old"`
	StopTimeout    time.Duration `json:"stop_timeout" yaml:"stop_timeout"`
	VerifyTimeout  time.Duration `json:"verify_timeout" yaml:"verify_timeout"`
	VerifyInterval time.Duration `json:"verify_interval" yaml:"verify_interval"`
	RemoveOldImage bool          `json:"remove_old_image" yaml:"remove_old_image"`

	// Watch mode.
	Watch    bool          `json:"watch" yaml:"watch"`
	Debounce time.Duration `json:"debounce" yaml:"debounce"`

	// Dry-run: report what would be done without touching the engine state.
	DryRun bool `json:"dry_run" yaml:"dry_run"`

	// Registry credentials for private base images.
	RegistryUser string `json:"registry_user" yaml:"registry_user"`
	RegistryPass string `json:"registry_pass" yaml:"registry_pass"`

	// Notifications. Level is "all", "failure" or "none".
	NotificationLevel string `json:"notification_level" yaml:"notification_level"`
	DiscordWebhook    string `json:"discord_webhook" yaml:"discord_webhook"`
	SlackWebhook      string `json:"slack_webhook" yaml:"slack_webhook"`
	TelegramToken     string `json:"telegram_token" yaml:"telegram_token"`
	TelegramChatID    string `json:"telegram_chat_id" yaml:"telegram_chat_id"`
	GenericWebhookURL string `json:"generic_webhook_url" yaml:"generic_webhook_url"`

	// Metrics.
	MetricsEnabled bool `json:"metrics_enabled" yaml:"metrics_enabled"`
	MetricsPort    int  `json:"metrics_port" yaml:"metrics_port"`

	// InfluxDB (push).
	InfluxURL      string        `json:"influx_url" yaml:"influx_url"`
	InfluxToken    string        `json:"influx_token" yaml:"influx_token"`
	InfluxOrg      string        `json:"influx_org" yaml:"influx_org"`
	InfluxBucket   string        `json:"influx_bucket" yaml:"influx_bucket"`
	InfluxInterval time.Duration `json:"influx_interval" yaml:"influx_interval"`
}

// DefaultConfig returns a configuration mirroring the classic one-container
// redeploy flow: build ./ as <name>:latest, run it under a fixed name with
// env loaded from .env and an always-restart policy.
func DefaultConfig() *Config {
	return &Config{
		ContainerName: "app",
		ImageTag:      "app:latest",
		ContextDir:    ".",
		Dockerfile:    "Dockerfile",
		EnvFile:       ".env",
		RestartPolicy: "always",
		BaseArg:       "BASE_TAG",

		KeepOld:        true,
		StopTimeout:    10 * time.Second,
		VerifyTimeout:  30 * time.Second,
		VerifyInterval: 500 * time.Millisecond,
		RemoveOldImage: false,

		Debounce: 2 * time.Second,

		NotificationLevel: "all",

		MetricsEnabled: false,
		MetricsPort:    9812,

		InfluxInterval: time.Minute,
	}
}

// Validate returns non-fatal configuration warnings, such as incomplete
// notifier credentials or suspicious replacement settings.
func (c *Config) Validate() []string {
	var warnings []string
	checks := []struct {
		cond bool
		msg  string
	}{
		{c.ContainerName == "", "container_name is empty"},
		{c.ImageTag == "", "image_tag is empty"},
		{c.TelegramToken != "" && c.TelegramChatID == "", "telegram token provided but chat id is missing"},
		{c.TelegramChatID != "" && c.TelegramToken == "", "telegram chat id provided but token is missing"},
		{c.BasePolicy != "" && c.BaseImage == "", "base_policy set but base_image is empty"},
		{c.BaseRefreshInterval > 0 && c.BaseImage == "", "base_refresh_interval set but base_image is empty"},
		{c.KeepOld && c.VerifyTimeout <= 0, "keep_old enabled but verify_timeout is not positive"},
		{c.InfluxURL != "" && c.InfluxBucket == "", "influx URL provided but bucket is missing"},
	}
	for _, ch := range checks {
		if ch.cond {
			warnings = append(warnings, ch.msg)
		}
	}
	if c.RestartPolicy != "" && !validRestartPolicy(c.RestartPolicy) {
		warnings = append(warnings, fmt.Sprintf("unknown restart_policy %q (expected no, always, on-failure or unless-stopped)", c.RestartPolicy))
	}
	return warnings
}

func validRestartPolicy(p string) bool {
	switch p {
	case "no", "always", "on-failure", "unless-stopped":
		return true
	}
	return false
}

// LoadConfigFromFile loads config from a YAML (or JSON) file on top of the
// defaults.
func LoadConfigFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
