// Package stream decodes the event-stream body returned by the conversation
// endpoint into frames.
package stream

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

const (
	dataPrefix = "data:"
	// Sentinel is the data payload that ends the stream.
	Sentinel = "[DONE]"
)

// Frame is one decoded unit of the stream.
type Frame struct {
	MessageID      string
	ConversationID string
	// Text is the message text as carried by this frame. The service sends
	// the whole answer so far in every frame.
	Text     string
	Terminal bool
}

// record is the JSON payload of a data line.
type record struct {
	Message *struct {
		ID      string `json:"id"`
		Content struct {
			ContentType string   `json:"content_type"`
			Parts       []string `json:"parts"`
		} `json:"content"`
	} `json:"message"`
	ConversationID string `json:"conversation_id"`
}

// Decoder reads frames from a body in arrival order.
type Decoder struct {
	r *bufio.Reader

	valid         int
	malformed     int
	lastMalformed bool
	done          bool
}

// NewDecoder creates a decoder over r.
func NewDecoder(r io.Reader) *Decoder {
	d := &Decoder{}
	d.Reset(r)
	return d
}

// Reset discards all state and starts decoding r.
func (d *Decoder) Reset(r io.Reader) {
	if d.r == nil {
		d.r = bufio.NewReaderSize(r, 64*1024)
	} else {
		d.r.Reset(r)
	}
	d.valid = 0
	d.malformed = 0
	d.lastMalformed = false
	d.done = false
}

// Next returns the next frame. Lines without the data prefix are ignored and
// data lines that do not parse are skipped. It returns io.EOF when the body
// ends without a terminal frame, and keeps returning io.EOF after the
// terminal frame was delivered.
func (d *Decoder) Next() (Frame, error) {
	if d.done {
		return Frame{}, io.EOF
	}

	for {
		line, err := d.r.ReadString('\n')
		if len(line) > 0 {
			if frame, ok := d.decodeLine(line); ok {
				if frame.Terminal {
					d.done = true
				}
				return frame, nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				d.done = true
				return Frame{}, io.EOF
			}
			return Frame{}, err
		}
	}
}

func (d *Decoder) decodeLine(line string) (Frame, bool) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, dataPrefix) {
		return Frame{}, false
	}

	payload := strings.TrimSpace(line[len(dataPrefix):])
	if payload == "" {
		return Frame{}, false
	}
	if payload == Sentinel {
		d.lastMalformed = false
		return Frame{Terminal: true}, true
	}

	var rec record
	if err := json.Unmarshal([]byte(payload), &rec); err != nil || rec.Message == nil {
		d.malformed++
		d.lastMalformed = true
		return Frame{}, false
	}

	d.valid++
	d.lastMalformed = false

	frame := Frame{
		MessageID:      rec.Message.ID,
		ConversationID: rec.ConversationID,
	}
	if len(rec.Message.Content.Parts) > 0 {
		frame.Text = rec.Message.Content.Parts[0]
	}
	return frame, true
}

// Valid returns how many non-terminal frames decoded so far.
func (d *Decoder) Valid() int {
	return d.valid
}

// Malformed returns how many data lines were skipped.
func (d *Decoder) Malformed() int {
	return d.malformed
}

// EndedMalformed reports whether the last data line seen failed to parse.
// A stream that ends this way may have lost its terminal frame.
func (d *Decoder) EndedMalformed() bool {
	return d.lastMalformed
}
