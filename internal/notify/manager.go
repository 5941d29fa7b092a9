// Package notify fans deploy events out to configured webhook services with
// retries, backoff, and a per-service cooldown.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/slipway/slipway/internal/logging"
)

// DefaultCooldown is the default minimum gap between notifications to the
// same service. Small enough not to suppress distinct deploy events.
var DefaultCooldown = 100 * time.Millisecond

// Retry settings (tunable in tests).
var (
	maxRetries  = 3
	baseBackoff = 100 * time.Millisecond
)

// sleepHook is used in tests to avoid sleeping for real.
var sleepHook = time.Sleep

// Service is the interface all notifiers implement.
type Service interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// MultiNotifier bundles all active services.
type MultiNotifier struct {
	services []Service
	lastSent map[string]time.Time
	cooldown time.Duration
	mu       sync.Mutex
	wg       sync.WaitGroup
}

// NewMultiNotifier returns an empty notifier set with the default cooldown.
func NewMultiNotifier() *MultiNotifier {
	return &MultiNotifier{lastSent: make(map[string]time.Time), cooldown: DefaultCooldown}
}

// Add registers a service.
func (m *MultiNotifier) Add(s Service) {
	if s != nil {
		m.services = append(m.services, s)
	}
}

// Len returns the number of registered services.
func (m *MultiNotifier) Len() int { return len(m.services) }

// SetCooldown adjusts the global cooldown (tests and callers).
func (m *MultiNotifier) SetCooldown(d time.Duration) { m.cooldown = d }

// Send dispatches a notification to every service asynchronously.
func (m *MultiNotifier) Send(ctx context.Context, title, message string) {
	now := time.Now()
	for _, s := range m.services {
		m.wg.Add(1)
		go func(svc Service) {
			defer m.wg.Done()
			name := svc.Name()
			if m.skipForCooldown(name, now) {
				logging.Get().Warn().Str("service", name).Msg("skipping notification due to cooldown")
				return
			}
			if err := m.sendWithRetries(ctx, svc, title, message); err != nil {
				logging.Get().Error().Err(err).Str("service", name).Msg("all notification retries failed")
			}
		}(s)
	}
}

// Wait blocks until pending sends complete or the context is cancelled.
func (m *MultiNotifier) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MultiNotifier) skipForCooldown(name string, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	last, ok := m.lastSent[name]
	return ok && now.Sub(last) < m.cooldown
}

func (m *MultiNotifier) sendWithRetries(ctx context.Context, s Service, title, message string) error {
	name := s.Name()
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err := s.Send(ctx, title, message); err != nil {
			lastErr = err
			logging.Get().Warn().Err(err).Str("service", name).Int("attempt", attempt).Msg("notification attempt failed")
			if attempt < maxRetries {
				if err := sleepCtx(ctx, baseBackoff*time.Duration(1<<uint(attempt-1))); err != nil {
					return err
				}
			}
			continue
		}
		m.mu.Lock()
		m.lastSent[name] = time.Now()
		m.mu.Unlock()
		logging.Get().Debug().Str("service", name).Msg("notification sent")
		return nil
	}
	return lastErr
}

// sleepCtx sleeps via sleepHook but aborts early on context cancellation.
func sleepCtx(ctx context.Context, d time.Duration) error {
	done := make(chan struct{})
	go func() {
		sleepHook(d)
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// postJSON is a shared helper used by providers.
func postJSON(ctx context.Context, url string, data interface{}) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}
