// Package guard keeps page operations alive through the service's
// "at capacity" banner by reloading until it clears or a retry budget runs out.
package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/CoCo-27/chatgpt-api/core/chaterr"
	"github.com/CoCo-27/chatgpt-api/core/latch"
)

// Detector reports whether the capacity banner is showing.
type Detector func(ctx context.Context) (bool, error)

// Reloader reloads the page.
type Reloader func(ctx context.Context) error

// Config configures a Guard.
type Config struct {
	// Interval is both the poll period and the pause after each reload.
	Interval time.Duration
	// Retries is the number of reloads allowed per detection.
	Retries int
	Logger  *slog.Logger
	// OnDetect, if set, is called before every reload.
	OnDetect func(attempt int)
}

// DefaultConfig returns the default guard configuration.
func DefaultConfig() Config {
	return Config{
		Interval: 500 * time.Millisecond,
		Retries:  10,
	}
}

// Guard races a page condition against capacity detection.
type Guard struct {
	detect Detector
	reload Reloader
	cfg    Config
}

var errAtCapacity = errors.New("still at capacity")

// New creates a guard.
func New(detect Detector, reload Reloader, cfg Config) *Guard {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Retries <= 0 {
		cfg.Retries = def.Retries
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Guard{detect: detect, reload: reload, cfg: cfg}
}

// Wait runs cond while polling for the capacity banner. A banner seen while
// cond runs, or still showing once it returns, cancels that attempt; the page
// is reloaded and cond runs again after Interval. Once the banner outlasts the
// retry budget Wait returns ServiceUnavailable. Detector and reload errors are
// not fatal.
func (g *Guard) Wait(ctx context.Context, cond func(ctx context.Context) error) error {
	reloads := 0
	op := func() error {
		err := g.attempt(ctx, cond)
		if !errors.Is(err, errAtCapacity) {
			if err != nil {
				return backoff.Permanent(err)
			}
			if reloads > 0 {
				g.cfg.Logger.Info("Capacity banner cleared", "reloads", reloads)
			}
			return nil
		}

		reloads++
		if reloads > g.cfg.Retries {
			return backoff.Permanent(chaterr.New(chaterr.KindServiceUnavailable,
				fmt.Sprintf("service still at capacity after %d reloads", g.cfg.Retries)))
		}

		g.cfg.Logger.Warn("Service at capacity, reloading", "attempt", reloads, "max", g.cfg.Retries)
		if g.cfg.OnDetect != nil {
			g.cfg.OnDetect(reloads)
		}
		if err := g.reload(ctx); err != nil {
			g.cfg.Logger.Debug("Reload failed", "attempt", reloads, "error", err)
		}
		return err
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(g.cfg.Interval), uint64(g.cfg.Retries)),
		ctx,
	)
	return backoff.Retry(op, b)
}

// attempt races one run of cond against the banner poll. It returns
// errAtCapacity when the banner wins.
func (g *Guard) attempt(ctx context.Context, cond func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	l := latch.New[struct{}]()

	go func() {
		err := cond(ctx)
		if err == nil && g.showing(ctx) {
			err = errAtCapacity
		}
		l.Settle(struct{}{}, err)
	}()
	go g.watch(ctx, l)

	<-l.Done()
	_, err := l.Result()
	return err
}

func (g *Guard) watch(ctx context.Context, l *latch.Latch[struct{}]) {
	ticker := time.NewTicker(g.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.Settle(struct{}{}, ctx.Err())
			return
		case <-l.Done():
			return
		case <-ticker.C:
		}

		if g.showing(ctx) {
			l.Settle(struct{}{}, errAtCapacity)
			return
		}
	}
}

func (g *Guard) showing(ctx context.Context) bool {
	found, err := g.detect(ctx)
	return err == nil && found
}
