package intercept

import (
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/CoCo-27/chatgpt-api/core/latch"
	"github.com/CoCo-27/chatgpt-api/domain/conversation"
	"github.com/CoCo-27/chatgpt-api/domain/stream"
)

// Pending is the receiving side of one exchange. It settles exactly once,
// from whichever path gets there first: terminal frame, error response,
// timeout, cancellation or session teardown.
type Pending struct {
	ID string

	onProgress conversation.ProgressFunc
	latch      *latch.Latch[*conversation.Result]

	// deliverMu orders progress delivery against settlement so no update
	// is reported after the exchange settled.
	deliverMu sync.Mutex

	mu             sync.Mutex
	requestID      string
	messageID      string
	conversationID string
	text           string
	frames         int
	body           io.Closer
}

// NewPending creates an unsettled exchange. onProgress may be nil.
func NewPending(onProgress conversation.ProgressFunc) *Pending {
	return &Pending{
		ID:         uuid.NewString(),
		onProgress: onProgress,
		latch:      latch.New[*conversation.Result](),
	}
}

// Done is closed once the exchange settles.
func (p *Pending) Done() <-chan struct{} {
	return p.latch.Done()
}

// Settled reports whether the exchange has settled.
func (p *Pending) Settled() bool {
	return p.latch.Settled()
}

// Result returns the outcome. Only valid after Done is closed.
func (p *Pending) Result() (*conversation.Result, error) {
	return p.latch.Result()
}

// Settle resolves the exchange if nothing else has. A settled exchange stops
// consuming its body; frames that arrive later are discarded.
func (p *Pending) Settle(res *conversation.Result, err error) bool {
	p.deliverMu.Lock()
	won := p.latch.Settle(res, err)
	p.deliverMu.Unlock()
	if !won {
		return false
	}

	p.mu.Lock()
	body := p.body
	p.body = nil
	p.mu.Unlock()

	if body != nil {
		_ = body.Close()
	}
	return true
}

// RequestID returns the bound request id, or "" before binding.
func (p *Pending) RequestID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requestID
}

// Text returns the cumulative answer so far.
func (p *Pending) Text() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.text
}

// bind claims requestID if the exchange has not bound one yet.
func (p *Pending) bind(requestID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.requestID != "" || p.latch.Settled() {
		return false
	}
	p.requestID = requestID
	return true
}

func (p *Pending) owns(requestID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requestID != "" && p.requestID == requestID
}

// attach keeps body so Settle can stop consumption. It reports false when
// the exchange already settled, in which case the caller closes body.
func (p *Pending) attach(body io.Closer) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.latch.Settled() {
		return false
	}
	p.body = body
	return true
}

// apply folds a frame into the cumulative state and reports progress.
func (p *Pending) apply(f stream.Frame) {
	p.deliverMu.Lock()
	defer p.deliverMu.Unlock()

	p.mu.Lock()
	if p.latch.Settled() {
		p.mu.Unlock()
		return
	}
	p.frames++
	if f.MessageID != "" {
		p.messageID = f.MessageID
	}
	if f.ConversationID != "" {
		p.conversationID = f.ConversationID
	}
	p.text = f.Text
	progress := conversation.Progress{
		MessageID:      p.messageID,
		ConversationID: p.conversationID,
		Text:           p.text,
	}
	p.mu.Unlock()

	if p.onProgress != nil {
		p.onProgress(progress)
	}
}

// result builds the final answer from the frames seen so far.
func (p *Pending) result() *conversation.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	return &conversation.Result{
		ConversationID: p.conversationID,
		MessageID:      p.messageID,
		Response:       p.text,
	}
}
