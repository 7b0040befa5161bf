package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/CoCo-27/chatgpt-api/application/intercept"
	"github.com/CoCo-27/chatgpt-api/core/chaterr"
	"github.com/CoCo-27/chatgpt-api/core/event"
	"github.com/CoCo-27/chatgpt-api/core/state"
	"github.com/CoCo-27/chatgpt-api/domain/conversation"
)

// SendMessage posts text to the conversation and waits for the streamed
// answer. It fails fast with ConcurrencyError while another exchange runs.
// A 401 resets the session and a 403 refreshes it; either way the exchange
// is retried once. The thread advances only when the answer completes.
func (m *Manager) SendMessage(ctx context.Context, text string, opts *SendOptions) (*conversation.Result, error) {
	if !m.exchangeMu.TryLock() {
		return nil, chaterr.New(chaterr.KindConcurrency, "another exchange is in flight")
	}
	defer m.exchangeMu.Unlock()

	if opts == nil {
		opts = &SendOptions{}
	}

	res, err := m.exchange(ctx, text, opts, 1)
	if err != nil {
		kind := chaterr.KindOf(err)
		if kind != chaterr.KindAuth && kind != chaterr.KindForbidden {
			return nil, err
		}
		if st := m.State(); st != state.StateReady {
			return nil, err
		}
		if rerr := m.recover(ctx, kind, err); rerr != nil {
			return nil, rerr
		}
		if res, err = m.exchange(ctx, text, opts, 2); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	m.thread = opts.thread(m.thread).Advance(res)
	m.mu.Unlock()

	return res, nil
}

// recover runs the lifecycle operation matching a failed exchange.
func (m *Manager) recover(ctx context.Context, kind chaterr.Kind, cause error) error {
	operation := "refresh"
	recoverFn := m.Refresh
	if kind == chaterr.KindAuth {
		operation = "reset"
		recoverFn = m.Reset
	}

	m.logger.Info("Recovering session", "operation", operation, "cause", cause)
	if err := recoverFn(ctx); err != nil {
		if cerr := cancelled(ctx); cerr != nil {
			return cerr
		}
		return chaterr.Wrap(kind, err, "session recovery failed")
	}
	m.publish(event.NewSessionRecovered(m.id, operation, cause))
	return nil
}

// exchange runs one attempt and settles it exactly once.
func (m *Manager) exchange(ctx context.Context, text string, opts *SendOptions, attempt int) (*conversation.Result, error) {
	if err := cancelled(ctx); err != nil {
		return nil, err
	}
	if st := m.State(); !st.CanExchange() {
		return nil, chaterr.New(chaterr.KindAuth, fmt.Sprintf("session is %s", st))
	}

	token, err := m.freshAccessToken(ctx)
	if err != nil {
		if cerr := cancelled(ctx); cerr != nil {
			return nil, cerr
		}
		return nil, err
	}

	p := intercept.NewPending(opts.OnProgress)
	if err := m.interceptor.Attach(p, token); err != nil {
		if errors.Is(err, intercept.ErrBusy) {
			return nil, chaterr.Wrap(chaterr.KindConcurrency, err, "exchange already attached")
		}
		return nil, chaterr.Wrap(chaterr.KindProtocol, err, "failed to attach exchange")
	}
	defer m.interceptor.Detach(p)

	thread := opts.thread(m.Thread())
	req := conversation.NewRequest(text, m.model, thread)

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = m.cfg.Timeout
	}

	logger := m.logger.With("exchange_id", p.ID, "attempt", attempt)
	logger.Debug("Exchange started", "conversation_id", thread.ConversationID)
	m.publish(event.NewExchangeStarted(m.id, p.ID, thread.ConversationID, attempt))
	started := m.clock.Now()

	// The page request outlives caller cancellation; only settlement is bounded.
	go func() {
		submitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		if err := m.page.Submit(submitCtx, req); err != nil {
			p.Settle(nil, chaterr.Wrap(chaterr.KindProtocol, err, "failed to submit prompt"))
		}
	}()

	timer := m.clock.After(timeout)
	select {
	case <-p.Done():
	case <-timer:
		p.Settle(nil, chaterr.New(chaterr.KindTimeout, fmt.Sprintf("no answer within %s", timeout)))
	case <-ctx.Done():
		p.Settle(nil, cancelled(ctx))
	}

	res, err := p.Result()
	if err != nil {
		err = chaterr.Classify(err, chaterr.KindProtocol, "exchange failed")
	}
	elapsed := m.clock.Now().Sub(started)

	if err != nil {
		logger.Warn("Exchange failed", "elapsed", elapsed, "error", err)
		m.publish(event.NewExchangeSettled(m.id, p.ID, "", elapsed, err))
		return nil, err
	}

	logger.Info("Exchange completed", "elapsed", elapsed, "message_id", res.MessageID)
	m.publish(event.NewExchangeSettled(m.id, p.ID, res.MessageID, elapsed, nil))
	return res, nil
}

// freshAccessToken derives the access token again from the session token.
func (m *Manager) freshAccessToken(ctx context.Context) (string, error) {
	probe, err := m.page.ProbeToken(ctx)
	if err != nil {
		return "", chaterr.Classify(err, chaterr.KindAuth, "failed to derive access token")
	}
	token, expires, err := probe.accessToken()
	if err != nil {
		return "", err
	}
	m.setAccessToken(token, expires)
	return token, nil
}

// cancelled maps a finished context onto Abort or Timeout, carrying the
// cancellation cause. It returns nil while ctx is live.
func cancelled(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	cause := context.Cause(ctx)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return chaterr.Wrap(chaterr.KindTimeout, cause, "exchange deadline exceeded")
	}
	return chaterr.Wrap(chaterr.KindAbort, cause, "exchange cancelled")
}
