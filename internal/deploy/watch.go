package deploy

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/slipway/slipway/internal/logging"
)

// Watch runs deploy passes whenever the build context changes, and when the
// configured base image publishes a new digest. It blocks until Stop is
// called or the context is cancelled.
func (d *Deployer) Watch(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	defer cancel()

	d.Recover(ctx)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := d.watchTree(watcher, d.cfg.ContextDir); err != nil {
		return err
	}

	// Initial pass. Watch mode should converge the container to the current
	// context without waiting for the first edit.
	if err := d.DeployOnce(ctx); err != nil {
		logging.Get().Error().Err(err).Msg("initial deploy pass failed")
	}

	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}
	pending := false

	var baseTick <-chan time.Time
	if d.cfg.BaseImage != "" && d.cfg.BaseRefreshInterval > 0 {
		ticker := time.NewTicker(d.cfg.BaseRefreshInterval)
		defer ticker.Stop()
		baseTick = ticker.C
	}

	logging.Get().Info().Str("dir", d.cfg.ContextDir).Dur("debounce", d.cfg.Debounce).Msg("watching build context")

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !d.relevantEvent(ev) {
				continue
			}
			if ev.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := d.watchTree(watcher, ev.Name); err != nil {
						logging.Get().Warn().Err(err).Str("dir", ev.Name).Msg("failed watching new directory")
					}
				}
			}
			logging.Get().Debug().Str("file", ev.Name).Str("op", ev.Op.String()).Msg("context change detected")
			if !pending {
				pending = true
			} else if !debounce.Stop() {
				<-debounce.C
			}
			debounce.Reset(d.cfg.Debounce)

		case <-debounce.C:
			pending = false
			if err := d.DeployOnce(ctx); err != nil {
				logging.Get().Error().Err(err).Msg("deploy pass failed")
			}

		case <-baseTick:
			if d.baseChanged(ctx) {
				if err := d.DeployOnce(ctx); err != nil {
					logging.Get().Error().Err(err).Msg("deploy pass failed")
				}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Get().Warn().Err(err).Msg("watcher error")

		case <-d.quit:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// watchTree registers root and every directory below it, skipping VCS and
// hidden directories.
func (d *Deployer) watchTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() {
			return nil
		}
		name := entry.Name()
		if path != root && strings.HasPrefix(name, ".") {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}

// relevantEvent filters out noise that should not trigger a rebuild.
func (d *Deployer) relevantEvent(ev fsnotify.Event) bool {
	if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Remove) && !ev.Op.Has(fsnotify.Rename) {
		return false
	}
	base := filepath.Base(ev.Name)
	if strings.HasPrefix(base, ".") && base != ".env" && base != ".dockerignore" {
		return false
	}
	// Editor swap files.
	if strings.HasSuffix(base, "~") || strings.HasSuffix(base, ".swp") {
		return false
	}
	return true
}

// baseChanged polls the base image digest and reports whether it moved since
// the last poll. The first successful poll only primes the cache.
func (d *Deployer) baseChanged(ctx context.Context) bool {
	digest, err := d.resolver.Digest(ctx, d.cfg.BaseImage)
	if err != nil {
		logging.Get().Warn().Err(err).Str("base", d.cfg.BaseImage).Msg("base image digest check failed")
		return false
	}
	d.baseMu.Lock()
	defer d.baseMu.Unlock()
	if d.lastBaseDigest == "" {
		d.lastBaseDigest = digest
		return false
	}
	if digest == d.lastBaseDigest {
		return false
	}
	logging.Get().Info().Str("base", d.cfg.BaseImage).Str("digest", digest).Msg("base image updated upstream")
	d.lastBaseDigest = digest
	return true
}
