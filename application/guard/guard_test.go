package guard

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CoCo-27/chatgpt-api/core/chaterr"
	"github.com/CoCo-27/chatgpt-api/infrastructure/logging"
)

// fakePage shows the capacity banner until it has been reloaded clearAfter
// times. clearAfter < 0 keeps the banner up forever.
type fakePage struct {
	mu         sync.Mutex
	banner     bool
	reloads    int
	clearAfter int
	detectErr  error
	ready      chan struct{}
}

func newFakePage(banner bool, clearAfter int) *fakePage {
	p := &fakePage{banner: banner, clearAfter: clearAfter, ready: make(chan struct{})}
	if !banner {
		close(p.ready)
	}
	return p
}

func (p *fakePage) detect(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.detectErr != nil {
		return false, p.detectErr
	}
	return p.banner, nil
}

func (p *fakePage) reload(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reloads++
	if p.clearAfter >= 0 && p.reloads >= p.clearAfter && p.banner {
		p.banner = false
		close(p.ready)
	}
	return nil
}

func (p *fakePage) reloadCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reloads
}

// waitReady is a condition that completes once the banner is gone.
func (p *fakePage) waitReady(ctx context.Context) error {
	select {
	case <-p.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func testConfig(retries int) Config {
	return Config{
		Interval: time.Millisecond,
		Retries:  retries,
		Logger:   logging.Discard(),
	}
}

func TestNew_Defaults(t *testing.T) {
	g := New(nil, nil, Config{})
	assert.Equal(t, 500*time.Millisecond, g.cfg.Interval)
	assert.Equal(t, 10, g.cfg.Retries)
	assert.NotNil(t, g.cfg.Logger)
}

func TestGuard_NoBanner(t *testing.T) {
	page := newFakePage(false, 0)
	g := New(page.detect, page.reload, testConfig(3))

	err := g.Wait(context.Background(), func(ctx context.Context) error {
		time.Sleep(10 * time.Millisecond)
		return nil
	})

	require.NoError(t, err)
	assert.Zero(t, page.reloadCount())
}

func TestGuard_ConditionError(t *testing.T) {
	page := newFakePage(false, 0)
	g := New(page.detect, page.reload, testConfig(3))

	boom := errors.New("selector never appeared")
	err := g.Wait(context.Background(), func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestGuard_RecoversWithinBudget(t *testing.T) {
	page := newFakePage(true, 2)

	var attempts []int
	var mu sync.Mutex
	cfg := testConfig(5)
	cfg.OnDetect = func(attempt int) {
		mu.Lock()
		attempts = append(attempts, attempt)
		mu.Unlock()
	}
	g := New(page.detect, page.reload, cfg)

	err := g.Wait(context.Background(), page.waitReady)

	require.NoError(t, err)
	assert.Equal(t, 2, page.reloadCount())
	mu.Lock()
	assert.Equal(t, []int{1, 2}, attempts)
	mu.Unlock()
}

func TestGuard_ExhaustsBudget(t *testing.T) {
	page := newFakePage(true, -1)
	g := New(page.detect, page.reload, testConfig(3))

	err := g.Wait(context.Background(), page.waitReady)

	require.Error(t, err)
	assert.ErrorIs(t, err, chaterr.ErrServiceUnavailable)
	var ce *chaterr.Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 503, ce.StatusCode)
	assert.Equal(t, 3, page.reloadCount())
}

func TestGuard_DetectorErrorsSwallowed(t *testing.T) {
	page := newFakePage(false, 0)
	page.detectErr = errors.New("execution context was destroyed")
	g := New(page.detect, page.reload, testConfig(1))

	err := g.Wait(context.Background(), func(ctx context.Context) error {
		time.Sleep(10 * time.Millisecond)
		return nil
	})
	require.NoError(t, err)
}

func TestGuard_ContextCancelled(t *testing.T) {
	page := newFakePage(true, -1)
	g := New(page.detect, page.reload, Config{Interval: time.Hour, Retries: 1, Logger: logging.Discard()})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	err := g.Wait(ctx, page.waitReady)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGuard_LoadedPageShowingBanner(t *testing.T) {
	page := newFakePage(true, 1)
	g := New(page.detect, page.reload, testConfig(3))

	var runs atomic.Int32
	err := g.Wait(context.Background(), func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, page.reloadCount())
	assert.Equal(t, int32(2), runs.Load(), "condition runs again after the reload")
}

func TestGuard_LoadedPageStaysAtCapacity(t *testing.T) {
	page := newFakePage(true, -1)
	g := New(page.detect, page.reload, testConfig(2))

	var runs atomic.Int32
	err := g.Wait(context.Background(), func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	assert.ErrorIs(t, err, chaterr.ErrServiceUnavailable)
	assert.Equal(t, 2, page.reloadCount())
	assert.Equal(t, int32(3), runs.Load())
}

func TestGuard_ConditionErrorAfterReload(t *testing.T) {
	page := newFakePage(true, 1)
	g := New(page.detect, page.reload, testConfig(3))

	boom := errors.New("navigation failed")
	var runs atomic.Int32
	err := g.Wait(context.Background(), func(ctx context.Context) error {
		if runs.Add(1) == 1 {
			return nil
		}
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, page.reloadCount())
}
