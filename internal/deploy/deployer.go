// Package deploy orchestrates the redeploy pipeline: build the image from
// the context directory, retire the container holding the fixed name, run a
// replacement from the new image, and verify it before the old one is
// discarded.
package deploy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/slipway/slipway/internal/config"
	"github.com/slipway/slipway/internal/docker"
	"github.com/slipway/slipway/internal/envfile"
	"github.com/slipway/slipway/internal/logging"
	"github.com/slipway/slipway/internal/metrics"
	"github.com/slipway/slipway/internal/notify"
	"github.com/slipway/slipway/internal/registry"
	"github.com/slipway/slipway/internal/state"
)

// baseResolver is the registry surface the deployer needs; tests substitute
// a fake.
type baseResolver interface {
	ResolveTag(ctx context.Context, image, policy string) (string, error)
	Digest(ctx context.Context, image string) (string, error)
}

// Deployer drives deploy passes against a single engine.
type Deployer struct {
	cfg      *config.Config
	cli      docker.Client
	resolver baseResolver
	notifier *notify.MultiNotifier
	quit     chan struct{}
	wg       sync.WaitGroup
	cancel   func()
	// deployMu serializes deploy passes; watch events and manual triggers
	// must never interleave replacements.
	deployMu sync.Mutex
	// Now is an injectable clock for tests.
	Now func() time.Time

	baseMu         sync.Mutex
	lastBaseDigest string
}

// New creates a deployer with an injected engine client.
func New(cfg *config.Config, cli docker.Client) *Deployer {
	d := &Deployer{
		cfg:      cfg,
		cli:      cli,
		resolver: registry.NewResolver(cfg.RegistryUser, cfg.RegistryPass),
		quit:     make(chan struct{}),
		Now:      time.Now,
	}
	d.initNotifiers()
	for _, w := range cfg.Validate() {
		logging.Get().Warn().Str("warning", w).Msg("config validation")
	}
	return d
}

func (d *Deployer) initNotifiers() {
	d.notifier = notify.NewMultiNotifier()
	cfg := d.cfg
	entries := []struct {
		enabled bool
		add     func()
	}{
		{cfg.DiscordWebhook != "", func() { d.notifier.Add(&notify.Discord{WebhookURL: cfg.DiscordWebhook}) }},
		{cfg.SlackWebhook != "", func() { d.notifier.Add(&notify.Slack{WebhookURL: cfg.SlackWebhook}) }},
		{cfg.TelegramToken != "" && cfg.TelegramChatID != "", func() {
			d.notifier.Add(&notify.Telegram{BotToken: cfg.TelegramToken, ChatID: cfg.TelegramChatID})
		}},
		{cfg.GenericWebhookURL != "", func() { d.notifier.Add(&notify.Generic{WebhookURL: cfg.GenericWebhookURL}) }},
	}
	for _, e := range entries {
		if e.enabled {
			e.add()
		}
	}
}

// DeployOnce runs a single deploy pass. Passes never overlap.
func (d *Deployer) DeployOnce(ctx context.Context) error {
	d.deployMu.Lock()
	defer d.deployMu.Unlock()
	d.wg.Add(1)
	defer d.wg.Done()
	return d.deploy(ctx)
}

func (d *Deployer) deploy(ctx context.Context) error {
	start := d.Now()
	cfg := d.cfg
	logging.Get().Info().Str("container", cfg.ContainerName).Str("tag", cfg.ImageTag).Msg("starting deploy pass")

	imageID, err := d.buildImage(ctx)
	if err != nil {
		d.failDeploy(ctx, "Build failed", err)
		return err
	}

	old, found, err := d.cli.FindContainerByName(ctx, cfg.ContainerName)
	if err != nil {
		d.failDeploy(ctx, "Deploy failed", err)
		return err
	}

	if cfg.DryRun {
		d.reportDryRun(old, found, imageID)
		return nil
	}

	if found && imageID != "" && old.ImageID == imageID {
		logging.Get().Info().Str("container", old.ID).Str("image", imageID).Msg("container already runs the freshly built image")
	}

	env, err := d.loadEnv()
	if err != nil {
		d.failDeploy(ctx, "Deploy failed", err)
		return err
	}

	newID, prevImageID, err := d.replace(ctx, old, found, env)
	if err != nil {
		d.failDeploy(ctx, fmt.Sprintf("Deploy failed: %s", cfg.ContainerName), err)
		return err
	}

	d.finishDeploy(ctx, start, newID, imageID, prevImageID)
	return nil
}

// buildImage resolves the base tag when a policy is configured and builds
// the image.
func (d *Deployer) buildImage(ctx context.Context) (string, error) {
	cfg := d.cfg
	args := make(map[string]string, len(cfg.BuildArgs)+1)
	for k, v := range cfg.BuildArgs {
		args[k] = v
	}
	if cfg.BasePolicy != "" && cfg.BaseImage != "" {
		tag, err := d.resolver.ResolveTag(ctx, cfg.BaseImage, cfg.BasePolicy)
		if err != nil {
			return "", fmt.Errorf("resolve base tag: %w", err)
		}
		logging.Get().Info().Str("base", cfg.BaseImage).Str("tag", tag).Msg("resolved base image tag")
		args[cfg.BaseArg] = tag
	}
	return d.cli.BuildImage(ctx, docker.BuildOptions{
		ContextDir: cfg.ContextDir,
		Dockerfile: cfg.Dockerfile,
		Tag:        cfg.ImageTag,
		BuildArgs:  args,
		PullBase:   cfg.PullBase,
	})
}

func (d *Deployer) loadEnv() ([]string, error) {
	if d.cfg.EnvFile == "" {
		return nil, nil
	}
	return envfile.Load(d.cfg.EnvFile)
}

// replace retires the old container (when present) and starts the new one.
// It returns the new container ID and the image ID the old container ran.
func (d *Deployer) replace(ctx context.Context, old docker.Container, found bool, env []string) (string, string, error) {
	cfg := d.cfg
	run := docker.RunOptions{
		Image:         cfg.ImageTag,
		Name:          cfg.ContainerName,
		Env:           env,
		RestartPolicy: cfg.RestartPolicy,
		Ports:         cfg.Ports,
		Binds:         cfg.Binds,
		Labels:        d.containerLabels(),
	}

	if !found {
		return d.runFresh(ctx, run)
	}
	if !cfg.KeepOld {
		return d.replaceDestructive(ctx, old, run)
	}
	return d.replaceWithRollback(ctx, old, run)
}

func (d *Deployer) containerLabels() map[string]string {
	labels := map[string]string{"io.slipway.managed": "true"}
	for k, v := range d.cfg.Labels {
		labels[k] = v
	}
	return labels
}

// runFresh handles the first deploy: no previous container to retire.
func (d *Deployer) runFresh(ctx context.Context, run docker.RunOptions) (string, string, error) {
	newID, err := d.cli.RunContainer(ctx, run)
	if err != nil {
		return "", "", err
	}
	if err := d.verify(ctx, newID); err != nil {
		return "", "", err
	}
	return newID, "", nil
}

// replaceDestructive mirrors the plain redeploy order: stop and remove the
// old container first, then run the replacement. There is nothing to roll
// back to if the new container fails.
func (d *Deployer) replaceDestructive(ctx context.Context, old docker.Container, run docker.RunOptions) (string, string, error) {
	if err := d.cli.StopContainer(ctx, old.ID, d.cfg.StopTimeout); err != nil {
		return "", "", err
	}
	if err := d.cli.RemoveContainer(ctx, old.ID); err != nil {
		return "", "", err
	}
	newID, err := d.cli.RunContainer(ctx, run)
	if err != nil {
		return "", "", err
	}
	if err := d.verify(ctx, newID); err != nil {
		return "", "", err
	}
	return newID, old.ImageID, nil
}

// replaceWithRollback renames the old container aside, starts the new one
// under the original name, and only discards the old container once the new
// one verifies. Any failure restores the old container.
func (d *Deployer) replaceWithRollback(ctx context.Context, old docker.Container, run docker.RunOptions) (string, string, error) {
	tmpName := fmt.Sprintf("%s-old-%d", run.Name, d.Now().UnixNano())
	if err := d.cli.RenameContainer(ctx, old.ID, tmpName); err != nil {
		return "", "", err
	}
	if err := state.AddRenameRecord(state.RenameRecord{ContainerID: old.ID, TmpName: tmpName, OrigName: run.Name, Timestamp: d.Now()}); err != nil {
		logging.Get().Warn().Err(err).Str("container", old.ID).Msg("failed to journal rename")
	}
	if err := d.cli.StopContainer(ctx, old.ID, d.cfg.StopTimeout); err != nil {
		d.restoreOld(ctx, old.ID, run.Name, false)
		return "", "", err
	}

	newID, err := d.cli.RunContainer(ctx, run)
	if err != nil {
		d.restoreOld(ctx, old.ID, run.Name, true)
		return "", "", err
	}

	if err := d.verify(ctx, newID); err != nil {
		logging.Get().Warn().Err(err).Str("new", newID).Msg("verification failed; rolling back")
		if remErr := d.cli.RemoveContainer(ctx, newID); remErr != nil {
			logging.Get().Warn().Err(remErr).Str("new", newID).Msg("failed removing new container during rollback")
		}
		d.restoreOld(ctx, old.ID, run.Name, true)
		return "", "", err
	}

	// New container is good: discard the old one.
	if err := d.cli.RemoveContainer(ctx, old.ID); err != nil {
		logging.Get().Warn().Err(err).Str("old", old.ID).Msg("failed removing old container after deploy")
		metrics.IncCleanupFailed()
	}
	if err := state.RemoveRenameRecordByContainerID(old.ID); err != nil {
		logging.Get().Warn().Err(err).Str("container", old.ID).Msg("failed to clean rename journal")
	}
	return newID, old.ImageID, nil
}

// restoreOld renames the retired container back and restarts it when asked.
func (d *Deployer) restoreOld(ctx context.Context, oldID, origName string, restart bool) {
	metrics.IncRollback()
	if err := d.cli.RenameContainer(ctx, oldID, origName); err != nil {
		logging.Get().Error().Err(err).Str("container", oldID).Msg("failed restoring old container name; keeping journal entry for recovery")
		return
	}
	if err := state.RemoveRenameRecordByContainerID(oldID); err != nil {
		logging.Get().Warn().Err(err).Str("container", oldID).Msg("failed to clean rename journal after rollback")
	}
	if restart {
		if err := d.cli.StartContainer(ctx, oldID); err != nil {
			logging.Get().Error().Err(err).Str("container", oldID).Msg("failed restarting old container during rollback")
		}
	}
	logging.Get().Info().Str("container", oldID).Str("name", origName).Msg("rolled back to previous container")
}

func (d *Deployer) verify(ctx context.Context, id string) error {
	if d.cfg.VerifyTimeout <= 0 {
		return nil
	}
	return d.cli.VerifyRunning(ctx, id, docker.VerifyOptions{Timeout: d.cfg.VerifyTimeout, Interval: d.cfg.VerifyInterval})
}

func (d *Deployer) reportDryRun(old docker.Container, found bool, imageID string) {
	switch {
	case !found:
		logging.Get().Info().Str("image", imageID).Msg("dry-run: would start a fresh container")
	case old.ImageID == imageID:
		logging.Get().Info().Str("container", old.ID).Msg("dry-run: image unchanged, would still replace the container")
	default:
		logging.Get().Info().Str("container", old.ID).Str("new_image", imageID).Str("old_image", old.ImageID).Msg("dry-run: would replace container")
	}
}

// finishDeploy records success in metrics, state and notifications, and
// removes the superseded image when configured.
func (d *Deployer) finishDeploy(ctx context.Context, start time.Time, newID, imageID, prevImageID string) {
	cfg := d.cfg
	duration := d.Now().Sub(start).Seconds()
	metrics.IncDeploy()
	metrics.ObserveDeployDuration(duration)
	metrics.SetLastDeploy(d.Now())

	if err := state.SetLastDeploy(state.DeployRecord{
		ContainerID: newID,
		ImageTag:    cfg.ImageTag,
		ImageID:     imageID,
		PrevImageID: prevImageID,
		Timestamp:   d.Now(),
	}); err != nil {
		logging.Get().Warn().Err(err).Msg("failed to journal deploy record")
	}

	logging.Get().Info().Str("container", newID).Str("image", imageID).Float64("duration_seconds", duration).Msg("deploy completed")
	d.notify(ctx, "success", fmt.Sprintf("Deployed: %s", cfg.ContainerName), fmt.Sprintf("image=%s duration=%.1fs", cfg.ImageTag, duration))

	if cfg.RemoveOldImage && prevImageID != "" && prevImageID != imageID {
		if err := d.cli.RemoveImage(ctx, prevImageID); err != nil {
			logging.Get().Warn().Err(err).Str("image", prevImageID).Msg("failed removing superseded image")
			metrics.IncCleanupFailed()
		}
	}
}

func (d *Deployer) failDeploy(ctx context.Context, title string, err error) {
	logging.Get().Error().Err(err).Msg("deploy pass failed")
	metrics.IncDeployFailed()
	d.notify(ctx, "failure", title, err.Error())
}

// Recover inspects the rename journal for replacements interrupted by a
// crash and restores containers left under temporary names.
func (d *Deployer) Recover(ctx context.Context) {
	records, err := state.GetAllRenameRecords()
	if err != nil {
		logging.Get().Warn().Err(err).Msg("failed reading rename journal for recovery")
		return
	}
	for tmp, rec := range records {
		d.recoverRecord(ctx, tmp, rec)
	}
}

func (d *Deployer) recoverRecord(ctx context.Context, tmp string, rec state.RenameRecord) {
	_, tmpExists, err := d.cli.FindContainerByName(ctx, tmp)
	if err != nil {
		logging.Get().Warn().Err(err).Str("tmp_name", tmp).Msg("recovery lookup failed")
		return
	}
	if !tmpExists {
		// Nothing left to recover; drop the stale record.
		_ = state.RemoveRenameRecordByContainerID(rec.ContainerID)
		return
	}

	_, origExists, err := d.cli.FindContainerByName(ctx, rec.OrigName)
	if err != nil {
		logging.Get().Warn().Err(err).Str("name", rec.OrigName).Msg("recovery lookup failed")
		return
	}
	if origExists {
		// A replacement made it: the temporary container is a leftover.
		logging.Get().Warn().Str("tmp_name", tmp).Msg("removing leftover retired container")
		if err := d.cli.RemoveContainer(ctx, rec.ContainerID); err != nil {
			logging.Get().Warn().Err(err).Str("container", rec.ContainerID).Msg("failed removing leftover container")
			return
		}
		_ = state.RemoveRenameRecordByContainerID(rec.ContainerID)
		return
	}

	logging.Get().Warn().Str("tmp_name", tmp).Str("target", rec.OrigName).Msg("interrupted replacement detected; restoring old container")
	if err := d.cli.RenameContainer(ctx, rec.ContainerID, rec.OrigName); err != nil {
		logging.Get().Error().Err(err).Str("container", rec.ContainerID).Msg("failed restoring container name")
		d.notify(ctx, "failure", "Recovery failed", fmt.Sprintf("failed to rename %s back to %s: %v", tmp, rec.OrigName, err))
		return
	}
	if err := d.cli.StartContainer(ctx, rec.ContainerID); err != nil {
		logging.Get().Warn().Err(err).Str("container", rec.ContainerID).Msg("failed starting restored container")
	}
	_ = state.RemoveRenameRecordByContainerID(rec.ContainerID)
	d.notify(ctx, "failure", "Recovery performed", fmt.Sprintf("restored %s as %s after interrupted deploy", tmp, rec.OrigName))
}

// notify sends a notification if the configured level allows it.
// level: "success" | "failure"
func (d *Deployer) notify(ctx context.Context, level, title, message string) {
	configLevel := strings.ToLower(d.cfg.NotificationLevel)
	if configLevel == "none" {
		return
	}
	if configLevel == "failure" && level != "failure" {
		return
	}
	d.notifier.Send(ctx, title, message)
}

// Stop signals the watch loop to stop and waits for in-flight work.
func (d *Deployer) Stop(ctx context.Context) {
	if d.cancel != nil {
		d.cancel()
	}
	close(d.quit)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logging.Get().Info().Msg("all active operations completed")
	case <-ctx.Done():
		logging.Get().Warn().Msg("shutdown timeout exceeded, some operations may be incomplete")
	}

	if d.notifier != nil {
		notifyCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.notifier.Wait(notifyCtx); err != nil {
			logging.Get().Warn().Err(err).Msg("timed out waiting for notifiers to finish")
		}
	}
}
