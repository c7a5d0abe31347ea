package stream

import (
	"context"
	"io"
	"iter"
	"strings"
)

// Result is the outcome of consuming a whole stream.
type Result struct {
	Text       string
	ResponseID string
	Fragments  int
}

// Collect drains r, calling onFragment for every text delta in order. The
// latest response handle seen anywhere in the stream wins. On a read error the
// partial result gathered so far is returned with the error.
func Collect(ctx context.Context, r io.Reader, onFragment func(string)) (Result, error) {
	return CollectEvents(NewDecoder(r).Events(ctx), onFragment)
}

// CollectEvents is Collect over an already constructed event sequence.
func CollectEvents(events iter.Seq2[Event, error], onFragment func(string)) (Result, error) {
	var res Result
	var text strings.Builder
	for ev, err := range events {
		if err != nil {
			res.Text = text.String()
			return res, err
		}
		if ev.ResponseID != "" {
			res.ResponseID = ev.ResponseID
		}
		if ev.IsFragment() {
			res.Fragments++
			text.WriteString(ev.Delta)
			if onFragment != nil {
				onFragment(ev.Delta)
			}
		}
	}
	res.Text = text.String()
	return res, nil
}
