package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// ApplyEnvOverrides reads configuration values from SLIPWAY_* environment
// variables and overrides fields in the provided Config. Environment values
// take precedence over file values; CLI flags are applied after this and win.
func ApplyEnvOverrides(cfg *Config) error {
	if err := applyTargetEnv(cfg); err != nil {
		return err
	}
	if err := applyReplacementEnv(cfg); err != nil {
		return err
	}
	if err := applyNotificationEnv(cfg); err != nil {
		return err
	}
	if err := applyMetricsEnv(cfg); err != nil {
		return err
	}
	return applyInfluxEnv(cfg)
}

// applyTargetEnv covers the build/run target fields.
func applyTargetEnv(cfg *Config) error {
	setStringEnv("SLIPWAY_DOCKER_HOST", &cfg.DockerHost)
	setStringEnv("SLIPWAY_CONTAINER_NAME", &cfg.ContainerName)
	setStringEnv("SLIPWAY_IMAGE_TAG", &cfg.ImageTag)
	setStringEnv("SLIPWAY_CONTEXT_DIR", &cfg.ContextDir)
	setStringEnv("SLIPWAY_DOCKERFILE", &cfg.Dockerfile)
	setStringEnv("SLIPWAY_ENV_FILE", &cfg.EnvFile)
	setStringEnv("SLIPWAY_RESTART_POLICY", &cfg.RestartPolicy)
	setStringEnv("SLIPWAY_BASE_IMAGE", &cfg.BaseImage)
	setStringEnv("SLIPWAY_BASE_POLICY", &cfg.BasePolicy)
	setStringEnv("SLIPWAY_BASE_ARG", &cfg.BaseArg)
	setStringEnv("SLIPWAY_REGISTRY_USER", &cfg.RegistryUser)
	setStringEnv("SLIPWAY_REGISTRY_PASS", &cfg.RegistryPass)
	if err := setBoolEnv("SLIPWAY_PULL_BASE", func(b bool) { cfg.PullBase = b }); err != nil {
		return err
	}
	return setDurationEnv("SLIPWAY_BASE_REFRESH_INTERVAL", func(d time.Duration) { cfg.BaseRefreshInterval = d })
}

// applyReplacementEnv covers replacement and watch behaviour.
func applyReplacementEnv(cfg *Config) error {
	if err := setBoolEnv("SLIPWAY_KEEP_OLD", func(b bool) { cfg.KeepOld = b }); err != nil {
		return err
	}
	if err := setBoolEnv("SLIPWAY_REMOVE_OLD_IMAGE", func(b bool) { cfg.RemoveOldImage = b }); err != nil {
		return err
	}
	if err := setBoolEnv("SLIPWAY_DRY_RUN", func(b bool) { cfg.DryRun = b }); err != nil {
		return err
	}
	if err := setBoolEnv("SLIPWAY_WATCH", func(b bool) { cfg.Watch = b }); err != nil {
		return err
	}
	if err := setDurationEnv("SLIPWAY_STOP_TIMEOUT", func(d time.Duration) { cfg.StopTimeout = d }); err != nil {
		return err
	}
	if err := setDurationEnv("SLIPWAY_VERIFY_TIMEOUT", func(d time.Duration) { cfg.VerifyTimeout = d }); err != nil {
		return err
	}
	if err := setDurationEnv("SLIPWAY_VERIFY_INTERVAL", func(d time.Duration) { cfg.VerifyInterval = d }); err != nil {
		return err
	}
	return setDurationEnv("SLIPWAY_DEBOUNCE", func(d time.Duration) { cfg.Debounce = d })
}

func applyNotificationEnv(cfg *Config) error {
	setStringEnv("SLIPWAY_NOTIFICATION_LEVEL", &cfg.NotificationLevel)
	setStringEnv("SLIPWAY_DISCORD_WEBHOOK", &cfg.DiscordWebhook)
	setStringEnv("SLIPWAY_SLACK_WEBHOOK", &cfg.SlackWebhook)
	setStringEnv("SLIPWAY_TELEGRAM_TOKEN", &cfg.TelegramToken)
	setStringEnv("SLIPWAY_TELEGRAM_CHAT_ID", &cfg.TelegramChatID)
	setStringEnv("SLIPWAY_GENERIC_WEBHOOK_URL", &cfg.GenericWebhookURL)
	return nil
}

func applyMetricsEnv(cfg *Config) error {
	if err := setBoolEnv("SLIPWAY_METRICS_ENABLED", func(b bool) { cfg.MetricsEnabled = b }); err != nil {
		return err
	}
	if v := os.Getenv("SLIPWAY_METRICS_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SLIPWAY_METRICS_PORT: %w", err)
		}
		cfg.MetricsPort = p
	}
	return nil
}

func applyInfluxEnv(cfg *Config) error {
	setStringEnv("SLIPWAY_INFLUX_URL", &cfg.InfluxURL)
	setStringEnv("SLIPWAY_INFLUX_TOKEN", &cfg.InfluxToken)
	setStringEnv("SLIPWAY_INFLUX_ORG", &cfg.InfluxOrg)
	setStringEnv("SLIPWAY_INFLUX_BUCKET", &cfg.InfluxBucket)
	return setDurationEnv("SLIPWAY_INFLUX_INTERVAL", func(d time.Duration) { cfg.InfluxInterval = d })
}

func setStringEnv(env string, dst *string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func setBoolEnv(env string, setter func(bool)) error {
	if v := os.Getenv(env); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", env, err)
		}
		setter(b)
	}
	return nil
}

func setDurationEnv(env string, setter func(time.Duration)) error {
	if v := os.Getenv(env); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", env, err)
		}
		setter(d)
	}
	return nil
}
