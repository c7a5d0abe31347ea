// Package render is a toolkit-independent view-model for the chat transcript.
// Every UI mutation is an Instruction; Apply folds instructions into a View.
package render

import (
	"github.com/ashureev/relaychat/internal/domain"
	"github.com/google/uuid"
)

// Kind enumerates render instruction types.
type Kind string

const (
	// KindAppend adds a new bubble at the end.
	KindAppend Kind = "append"
	// KindAppendText appends literal streamed text to a bubble.
	KindAppendText Kind = "append_text"
	// KindReplace swaps a bubble's content wholesale.
	KindReplace Kind = "replace"
	// KindRemove deletes a bubble.
	KindRemove Kind = "remove"
	// KindReset clears the view.
	KindReset Kind = "reset"
)

// Bubble is one visible message.
type Bubble struct {
	ID       string          `json:"id"`
	Role     domain.Role     `json:"role"`
	Category domain.Category `json:"category"`
	Text     string          `json:"text"`
	// Rich is set when Text is markdown to be rendered by the displaying sink.
	Rich bool `json:"rich,omitempty"`
}

// Instruction is a single view mutation.
type Instruction struct {
	Kind   Kind   `json:"kind"`
	Bubble Bubble `json:"bubble"`
}

// View is the ordered list of bubbles.
type View struct {
	Bubbles        []Bubble `json:"bubbles"`
	ScrollToBottom bool     `json:"scroll_to_bottom"`
}

// NewBubbleID returns a fresh bubble identifier with the given prefix.
func NewBubbleID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// Message renders a stored or new non-streaming message as a fresh bubble.
// Assistant messages are marked rich so their markdown is rendered.
func Message(id string, msg domain.Message) Instruction {
	return Instruction{Kind: KindAppend, Bubble: Bubble{
		ID:       id,
		Role:     msg.Sender,
		Category: msg.Type,
		Text:     msg.Text,
		Rich:     !msg.IsLiteral(),
	}}
}

// Thinking is the transient placeholder shown while awaiting the first fragment.
func Thinking(id string) Instruction {
	return Instruction{Kind: KindAppend, Bubble: Bubble{
		ID:       id,
		Role:     domain.RoleAssistant,
		Category: domain.CategoryThinking,
		Text:     "Thinking...",
	}}
}

// Fragment appends streamed text to an assistant bubble.
func Fragment(id, text string) Instruction {
	return Instruction{Kind: KindAppendText, Bubble: Bubble{
		ID:       id,
		Role:     domain.RoleAssistant,
		Category: domain.CategoryAssistant,
		Text:     text,
	}}
}

// Final replaces a streamed bubble's literal text with the complete answer,
// marked for rich rendering.
func Final(id, markdown string) Instruction {
	return Instruction{Kind: KindReplace, Bubble: Bubble{
		ID:       id,
		Role:     domain.RoleAssistant,
		Category: domain.CategoryAssistant,
		Text:     markdown,
		Rich:     true,
	}}
}

// Remove deletes a bubble.
func Remove(id string) Instruction {
	return Instruction{Kind: KindRemove, Bubble: Bubble{ID: id}}
}

// Reset clears the transcript.
func Reset() Instruction {
	return Instruction{Kind: KindReset}
}

// Apply returns the view that results from applying in to v. v is not modified.
func Apply(v View, in Instruction) View {
	out := View{Bubbles: make([]Bubble, 0, len(v.Bubbles)+1), ScrollToBottom: true}

	switch in.Kind {
	case KindReset:
		return out
	case KindAppend:
		// An existing bubble with the same ID is dropped and re-created at the end.
		for _, b := range v.Bubbles {
			if b.ID != in.Bubble.ID || in.Bubble.ID == "" {
				out.Bubbles = append(out.Bubbles, b)
			}
		}
		out.Bubbles = append(out.Bubbles, in.Bubble)
	case KindAppendText:
		found := false
		for _, b := range v.Bubbles {
			if b.ID == in.Bubble.ID {
				b.Text += in.Bubble.Text
				b.Rich = false
				found = true
			}
			out.Bubbles = append(out.Bubbles, b)
		}
		if !found {
			out.Bubbles = append(out.Bubbles, in.Bubble)
		}
	case KindReplace:
		for _, b := range v.Bubbles {
			if b.ID == in.Bubble.ID {
				b.Text = in.Bubble.Text
				b.Rich = in.Bubble.Rich
				b.Category = in.Bubble.Category
			}
			out.Bubbles = append(out.Bubbles, b)
		}
	case KindRemove:
		for _, b := range v.Bubbles {
			if b.ID != in.Bubble.ID {
				out.Bubbles = append(out.Bubbles, b)
			}
		}
	default:
		out.Bubbles = append(out.Bubbles, v.Bubbles...)
	}
	return out
}
