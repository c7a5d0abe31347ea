package render

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// RichText turns a complete assistant answer into its final display form.
type RichText interface {
	Render(markdown string) (string, error)
}

// Plain leaves text untouched.
type Plain struct{}

// Render returns markdown as is.
func (Plain) Render(markdown string) (string, error) {
	return markdown, nil
}

// Terminal renders markdown for a terminal using glamour.
type Terminal struct {
	renderer *glamour.TermRenderer
}

// NewTerminal creates a glamour-backed renderer wrapping at width columns.
func NewTerminal(width int) (*Terminal, error) {
	if width <= 0 {
		width = 80
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil, fmt.Errorf("create terminal renderer: %w", err)
	}
	return &Terminal{renderer: r}, nil
}

// Render renders markdown with terminal styling.
func (t *Terminal) Render(markdown string) (string, error) {
	out, err := t.renderer.Render(markdown)
	if err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return strings.TrimRight(out, "\n") + "\n", nil
}

// HTML renders markdown to sanitized HTML for browser views.
type HTML struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

// NewHTML creates an HTML renderer with GitHub-flavoured extensions and a
// user-generated-content sanitization policy.
func NewHTML() *HTML {
	policy := bluemonday.UGCPolicy()
	// Keep math delimiters and code language hints intact for client-side typesetting.
	policy.AllowAttrs("class").Matching(bluemonday.SpaceSeparatedTokens).OnElements("code", "span", "div", "pre")
	return &HTML{
		md:     goldmark.New(goldmark.WithExtensions(extension.GFM)),
		policy: policy,
	}
}

// Render converts markdown to sanitized HTML.
func (h *HTML) Render(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := h.md.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("convert markdown: %w", err)
	}
	return h.policy.Sanitize(buf.String()), nil
}

// RenderOrLiteral renders markdown, falling back to the literal text on failure.
func RenderOrLiteral(r RichText, markdown string) string {
	if r == nil {
		return markdown
	}
	out, err := r.Render(markdown)
	if err != nil {
		return markdown
	}
	return out
}
