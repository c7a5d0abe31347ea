package render

import "sync"

// Sink consumes render instructions.
type Sink interface {
	Render(in Instruction)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Instruction)

// Render calls f(in).
func (f SinkFunc) Render(in Instruction) {
	f(in)
}

// Multi fans instructions out to several sinks in order.
type Multi []Sink

// Render forwards in to every sink.
func (m Multi) Render(in Instruction) {
	for _, s := range m {
		if s != nil {
			s.Render(in)
		}
	}
}

// Recorder keeps the current view and the instruction history.
// It is safe for concurrent readers.
type Recorder struct {
	mu      sync.RWMutex
	view    View
	history []Instruction
}

// Render applies in to the recorded view.
func (r *Recorder) Render(in Instruction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.view = Apply(r.view, in)
	r.history = append(r.history, in)
}

// View returns a snapshot of the current view.
func (r *Recorder) View() View {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := View{Bubbles: make([]Bubble, len(r.view.Bubbles)), ScrollToBottom: r.view.ScrollToBottom}
	copy(out.Bubbles, r.view.Bubbles)
	return out
}

// History returns a copy of every instruction received so far.
func (r *Recorder) History() []Instruction {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Instruction, len(r.history))
	copy(out, r.history)
	return out
}
