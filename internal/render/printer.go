package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/ashureev/relaychat/internal/domain"
	"github.com/charmbracelet/lipgloss"
)

var (
	userLabel      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	assistantLabel = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	systemStyle    = lipgloss.NewStyle().Faint(true)
	errorStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	thinkingStyle  = lipgloss.NewStyle().Italic(true).Faint(true)
)

// Printer writes instructions to a terminal as they arrive.
//
// Streamed text is printed literally. When the output is a terminal of known
// width, a Replace erases the streamed rows and prints the rendered form in
// their place; otherwise the literal text stays and Replace only ends the line.
type Printer struct {
	w     io.Writer
	width func() int
	rich  RichText

	streamed map[string]*strings.Builder
	pending  string // placeholder currently on screen
}

// NewPrinter creates a printer. width reports the terminal width in columns,
// or 0 when w is not a terminal. rich renders markdown bubbles; nil prints
// them literally.
func NewPrinter(w io.Writer, width func() int, rich RichText) *Printer {
	if width == nil {
		width = func() int { return 0 }
	}
	if rich == nil {
		rich = Plain{}
	}
	return &Printer{w: w, width: width, rich: rich, streamed: make(map[string]*strings.Builder)}
}

// Render prints in.
func (p *Printer) Render(in Instruction) {
	b := in.Bubble
	switch in.Kind {
	case KindReset:
		p.streamed = make(map[string]*strings.Builder)
		p.pending = ""
		if p.width() > 0 {
			fmt.Fprint(p.w, "\033[2J\033[H")
		}
	case KindAppend:
		p.endStreams()
		if b.Category == domain.CategoryThinking {
			if p.width() > 0 {
				fmt.Fprint(p.w, label(b.Role)+" "+thinkingStyle.Render(b.Text))
				p.pending = b.ID
			}
			return
		}
		p.clearPending()
		fmt.Fprintln(p.w, p.formatBubble(b))
	case KindAppendText:
		p.clearPending()
		sb, ok := p.streamed[b.ID]
		if !ok {
			p.endStreams()
			sb = &strings.Builder{}
			p.streamed[b.ID] = sb
			prefix := label(b.Role) + " "
			sb.WriteString(prefix)
			fmt.Fprint(p.w, prefix)
		}
		sb.WriteString(b.Text)
		fmt.Fprint(p.w, b.Text)
	case KindReplace:
		sb, ok := p.streamed[b.ID]
		delete(p.streamed, b.ID)
		width := p.width()
		if !ok || width <= 0 {
			fmt.Fprintln(p.w)
			return
		}
		if rows := rowsFor(sb.String(), width); rows > 1 {
			fmt.Fprintf(p.w, "\r\033[%dA\033[J", rows-1)
		} else {
			fmt.Fprint(p.w, "\r\033[J")
		}
		fmt.Fprintln(p.w, label(b.Role))
		fmt.Fprint(p.w, RenderOrLiteral(p.rich, b.Text))
	case KindRemove:
		if p.pending == b.ID {
			p.clearPending()
		}
	}
}

// endStreams finishes the line of any stream that ended without a Replace,
// such as one cut off by a read error.
func (p *Printer) endStreams() {
	if len(p.streamed) == 0 {
		return
	}
	fmt.Fprintln(p.w)
	clear(p.streamed)
}

func (p *Printer) clearPending() {
	if p.pending == "" {
		return
	}
	fmt.Fprint(p.w, "\r\033[2K")
	p.pending = ""
}

func label(role domain.Role) string {
	switch role {
	case domain.RoleUser:
		return userLabel.Render("you>")
	case domain.RoleAssistant:
		return assistantLabel.Render("assistant>")
	default:
		return systemStyle.Render(string(role) + ">")
	}
}

func (p *Printer) formatBubble(b Bubble) string {
	switch b.Category {
	case domain.CategoryError:
		return errorStyle.Render(b.Text)
	case domain.CategorySystem:
		return systemStyle.Render(b.Text)
	}
	if b.Rich {
		return label(b.Role) + "\n" + strings.TrimRight(RenderOrLiteral(p.rich, b.Text), "\n")
	}
	return label(b.Role) + " " + b.Text
}

// rowsFor counts the terminal rows text occupies at the given width.
func rowsFor(text string, width int) int {
	rows := 0
	for _, line := range strings.Split(text, "\n") {
		w := lipgloss.Width(line)
		if w == 0 {
			rows++
			continue
		}
		rows += (w + width - 1) / width
	}
	return rows
}
