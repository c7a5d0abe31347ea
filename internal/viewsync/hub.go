// Package viewsync mirrors the chat transcript to browsers over WebSocket.
package viewsync

import (
	"log/slog"
	"sync"

	"github.com/ashureev/relaychat/internal/render"
)

// Message types sent to subscribers.
const (
	TypeSnapshot    = "snapshot"
	TypeInstruction = "instruction"
)

const defaultQueueSize = 256

// Message is one frame sent to a subscriber.
type Message struct {
	Type        string              `json:"type"`
	View        *render.View        `json:"view,omitempty"`
	Instruction *render.Instruction `json:"instruction,omitempty"`
}

type subscriber struct {
	id    string
	queue chan Message
}

// Hub is a render.Sink that keeps the current view and fans every
// instruction out to connected subscribers. A new subscriber first receives
// a snapshot of the view, then each later instruction in order.
type Hub struct {
	mu          sync.Mutex
	view        render.View
	subscribers map[string]*subscriber
	rich        render.RichText
	queueSize   int
}

// NewHub creates a hub. rich renders markdown bubbles for browsers; nil sends
// them as markdown.
func NewHub(rich render.RichText) *Hub {
	return &Hub{
		subscribers: make(map[string]*subscriber),
		rich:        rich,
		queueSize:   defaultQueueSize,
	}
}

// Render records in and forwards it to every subscriber.
func (h *Hub) Render(in render.Instruction) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.view = render.Apply(h.view, in)
	if len(h.subscribers) == 0 {
		return
	}

	out := h.forBrowser(in)
	msg := Message{Type: TypeInstruction, Instruction: &out}
	for _, sub := range h.subscribers {
		select {
		case sub.queue <- msg:
		default:
			// The subscriber fell behind. Drop its backlog and resynchronise
			// it from the view, which already includes this instruction.
			h.resync(sub)
		}
	}
}

// View returns the current view.
func (h *Hub) View() render.View {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshot()
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// subscribe registers a subscriber whose queue starts with a snapshot.
func (h *Hub) subscribe(id string) *subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := &subscriber{id: id, queue: make(chan Message, h.queueSize)}
	view := h.snapshot()
	sub.queue <- Message{Type: TypeSnapshot, View: &view}
	h.subscribers[id] = sub
	slog.Info("View subscriber registered", "subscriber_id", id, "subscribers", len(h.subscribers))
	return sub
}

func (h *Hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if current, ok := h.subscribers[sub.id]; ok && current == sub {
		delete(h.subscribers, sub.id)
		slog.Info("View subscriber unregistered", "subscriber_id", sub.id, "subscribers", len(h.subscribers))
	}
}

// resync must be called with mu held.
func (h *Hub) resync(sub *subscriber) {
	for drained := false; !drained; {
		select {
		case <-sub.queue:
		default:
			drained = true
		}
	}
	view := h.snapshot()
	sub.queue <- Message{Type: TypeSnapshot, View: &view}
	slog.Warn("View subscriber lagged, sent snapshot", "subscriber_id", sub.id)
}

// snapshot must be called with mu held.
func (h *Hub) snapshot() render.View {
	out := render.View{Bubbles: make([]render.Bubble, len(h.view.Bubbles)), ScrollToBottom: h.view.ScrollToBottom}
	for i, b := range h.view.Bubbles {
		out.Bubbles[i] = h.bubbleForBrowser(b)
	}
	return out
}

func (h *Hub) forBrowser(in render.Instruction) render.Instruction {
	in.Bubble = h.bubbleForBrowser(in.Bubble)
	return in
}

func (h *Hub) bubbleForBrowser(b render.Bubble) render.Bubble {
	if b.Rich && h.rich != nil {
		b.Text = render.RenderOrLiteral(h.rich, b.Text)
	}
	return b
}
