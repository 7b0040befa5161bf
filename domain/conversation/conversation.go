// Package conversation defines the thread state carried between exchanges and
// the request body posted to the conversation endpoint.
package conversation

import "github.com/google/uuid"

// Thread identifies where the next prompt attaches in a conversation.
// The zero value starts a new conversation.
type Thread struct {
	ConversationID  string
	ParentMessageID string
}

// IsEmpty returns true if the thread has not been started.
func (t Thread) IsEmpty() bool {
	return t.ConversationID == "" && t.ParentMessageID == ""
}

// Advance returns the thread that follows a successful result. A result
// without a message id leaves the thread unchanged.
func (t Thread) Advance(r *Result) Thread {
	if r == nil || r.MessageID == "" {
		return t
	}
	next := Thread{ConversationID: r.ConversationID, ParentMessageID: r.MessageID}
	if next.ConversationID == "" {
		next.ConversationID = t.ConversationID
	}
	return next
}

// Result is the outcome of a successful exchange.
type Result struct {
	ConversationID string
	MessageID      string
	Response       string
}

// Progress is delivered for every decoded frame while an answer streams in.
type Progress struct {
	MessageID      string
	ConversationID string
	// Text is the cumulative answer so far.
	Text string
}

// ProgressFunc receives progress updates. It is called from the interceptor's
// goroutine and must not block.
type ProgressFunc func(p Progress)

// Content is the body of a message.
type Content struct {
	ContentType string   `json:"content_type"`
	Parts       []string `json:"parts"`
}

// Message is a single prompt message in a request.
type Message struct {
	ID      string  `json:"id"`
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// Request is the JSON body posted to the conversation endpoint.
type Request struct {
	Action          string    `json:"action"`
	Messages        []Message `json:"messages"`
	Model           string    `json:"model"`
	ConversationID  string    `json:"conversation_id,omitempty"`
	ParentMessageID string    `json:"parent_message_id,omitempty"`
}

// NewRequest builds a "next" request for text continuing thread.
func NewRequest(text, model string, thread Thread) *Request {
	return &Request{
		Action: "next",
		Messages: []Message{{
			ID:   uuid.NewString(),
			Role: "user",
			Content: Content{
				ContentType: "text",
				Parts:       []string{text},
			},
		}},
		Model:           model,
		ConversationID:  thread.ConversationID,
		ParentMessageID: thread.ParentMessageID,
	}
}
