// Package stream decodes server-sent event responses from the chat endpoint
// into text deltas and a resumable response handle.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
)

const (
	// TypeOutputTextDelta is the event kind carrying an incremental text fragment.
	TypeOutputTextDelta = "response.output_text.delta"

	// DoneSentinel terminates some streams and never carries a payload.
	DoneSentinel = "[DONE]"

	readChunkSize = 4096
)

var (
	eventDelimiter = []byte("\n\n")
	dataPrefix     = []byte("data:")
)

// Event is one decoded stream payload.
type Event struct {
	Type       string
	Delta      string
	ResponseID string
}

// IsFragment reports whether the event yields visible text.
func (e Event) IsFragment() bool {
	return e.Type == TypeOutputTextDelta && e.Delta != ""
}

type payload struct {
	Type       string          `json:"type"`
	Delta      json.RawMessage `json:"delta"`
	ResponseID string          `json:"response_id"`
	Response   *struct {
		ID string `json:"id"`
	} `json:"response"`
}

// Decoder splits an event-stream body into events.
type Decoder struct {
	r   io.Reader
	buf []byte
}

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Events returns the lazy sequence of decoded events. Each step suspends on a
// read of the underlying body; ctx is checked between reads. The sequence ends
// when the body is exhausted. A read failure is yielded once as a non-nil error.
func (d *Decoder) Events(ctx context.Context) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		chunk := make([]byte, readChunkSize)
		for {
			if err := ctx.Err(); err != nil {
				yield(Event{}, err)
				return
			}

			n, readErr := d.r.Read(chunk)
			if n > 0 {
				d.buf = append(d.buf, chunk[:n]...)
				for {
					idx := bytes.Index(d.buf, eventDelimiter)
					if idx < 0 {
						break
					}
					raw := d.buf[:idx]
					ev, ok := d.parse(raw)
					d.buf = d.buf[idx+len(eventDelimiter):]
					if ok && !yield(ev, nil) {
						return
					}
				}
			}

			if readErr != nil {
				if errors.Is(readErr, io.EOF) {
					if len(bytes.TrimSpace(d.buf)) > 0 {
						slog.Debug("discarding incomplete trailing event", "bytes", len(d.buf))
					}
					d.buf = nil
					return
				}
				yield(Event{}, fmt.Errorf("read event stream: %w", readErr))
				return
			}
		}
	}
}

// parse decodes a single raw event. ok is false for events that carry nothing:
// no data line, the sentinel, or a malformed payload.
func (d *Decoder) parse(raw []byte) (Event, bool) {
	var data []byte
	found := false
	for _, line := range bytes.Split(raw, []byte("\n")) {
		line = bytes.TrimRight(line, "\r")
		if bytes.HasPrefix(line, dataPrefix) {
			data = bytes.TrimSpace(line[len(dataPrefix):])
			found = true
			break
		}
	}
	if !found {
		return Event{}, false
	}
	if string(data) == DoneSentinel {
		return Event{}, false
	}

	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		slog.Warn("could not parse event data as JSON", "data", string(data), "error", err)
		return Event{}, false
	}

	ev := Event{Type: p.Type, ResponseID: p.ResponseID}
	if ev.ResponseID == "" && p.Response != nil {
		ev.ResponseID = p.Response.ID
	}
	if len(p.Delta) > 0 {
		var text string
		if err := json.Unmarshal(p.Delta, &text); err == nil {
			ev.Delta = text
		}
	}
	return ev, true
}
