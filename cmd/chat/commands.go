package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/ashureev/relaychat/internal/chat"
	"github.com/ashureev/relaychat/internal/domain"
	"github.com/charmbracelet/lipgloss"
)

var (
	infoStyle   = lipgloss.NewStyle().Faint(true)
	activeStyle = lipgloss.NewStyle().Bold(true)
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

const helpText = `Commands:
  /new               start a new chat
  /list              list saved conversations
  /load <id>         open a saved conversation
  /key [value]       save the API key (no value clears it)
  /attach <path>     attach an image or PDF to the next message
  /forget            delete the document index of this conversation
  /model [name]      show or select the model
  /help              show this help
  /quit              exit`

// app executes slash commands against the orchestrator.
type app struct {
	orch   *chat.Orchestrator
	creds  *chat.SettingsCredentials
	models []string
	out    io.Writer

	mu      sync.Mutex
	sidebar []chat.SidebarEntry
}

// setSidebar is the orchestrator's sidebar hook. It keeps the conversation
// list current after every send, load and new chat.
func (a *app) setSidebar(entries []chat.SidebarEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sidebar = entries
}

func (a *app) cachedSidebar() []chat.SidebarEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sidebar
}

type command struct {
	name string
	arg  string
}

func parseCommand(line string) (command, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return command{}, false
	}
	name, arg, _ := strings.Cut(line[1:], " ")
	return command{name: strings.ToLower(name), arg: strings.TrimSpace(arg)}, true
}

// handle runs one input line. Plain text is sent as a message.
func (a *app) handle(ctx context.Context, line string) (quit bool, err error) {
	cmd, ok := parseCommand(line)
	if !ok {
		a.orch.Compose(line)
		// Send failures are already shown in the transcript.
		if err := a.orch.Send(ctx, line); err != nil {
			slog.Debug("send failed", "error", err)
		}
		return false, nil
	}

	switch cmd.name {
	case "quit", "exit", "q":
		return true, nil
	case "help", "?":
		fmt.Fprintln(a.out, infoStyle.Render(helpText))
	case "new":
		return false, a.orch.NewChat(ctx)
	case "list":
		return false, a.list(ctx)
	case "load":
		id, err := strconv.ParseInt(cmd.arg, 10, 64)
		if err != nil {
			return false, errors.New("usage: /load <id>")
		}
		return false, a.orch.Load(ctx, id)
	case "key":
		if err := a.creds.SetAPIKey(ctx, cmd.arg); err != nil {
			return false, err
		}
		if cmd.arg == "" {
			fmt.Fprintln(a.out, infoStyle.Render("API key cleared."))
		} else {
			fmt.Fprintln(a.out, infoStyle.Render("API key saved."))
		}
	case "attach":
		return false, a.attach(cmd.arg)
	case "forget":
		return false, a.orch.ForgetDocuments(ctx)
	case "model":
		a.model(cmd.arg)
	default:
		return false, fmt.Errorf("unknown command /%s (try /help)", cmd.name)
	}
	return false, nil
}

func (a *app) list(ctx context.Context) error {
	entries := a.cachedSidebar()
	if entries == nil {
		var err error
		if entries, err = a.orch.Sidebar(ctx); err != nil {
			return err
		}
		a.setSidebar(entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(a.out, infoStyle.Render("No saved conversations."))
		return nil
	}
	for _, e := range entries {
		line := fmt.Sprintf("%4d  %s  %s", e.ID, e.UpdatedAt.Local().Format("2006-01-02 15:04"), e.Title)
		if e.Active {
			line = activeStyle.Render(line + "  *")
		}
		fmt.Fprintln(a.out, line)
	}
	return nil
}

func (a *app) attach(path string) error {
	if path == "" {
		return errors.New("usage: /attach <path>")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read attachment: %w", err)
	}
	att := domain.NewAttachment(path, data)
	if !att.IsImage() && !att.IsPDF() {
		return fmt.Errorf("unsupported attachment type %s", att.MIMEType)
	}
	if err := a.orch.Attach(att); err != nil {
		return err
	}
	fmt.Fprintln(a.out, infoStyle.Render(fmt.Sprintf("Attached %s (%s, %d bytes).", att.Name, att.MIMEType, len(att.Data))))
	return nil
}

func (a *app) model(name string) {
	if name == "" {
		current := a.orch.Model()
		for _, m := range a.models {
			marker := "  "
			if m == current {
				marker = "* "
			}
			suffix := ""
			if a.orch.SupportsImages(m) {
				suffix = "  (images)"
			}
			fmt.Fprintln(a.out, marker+m+suffix)
		}
		return
	}
	if !slices.Contains(a.models, name) {
		a.models = append(a.models, name)
	}
	a.orch.SetModel(name)
	fmt.Fprintln(a.out, infoStyle.Render("Model set to "+name+"."))
}

func printError(w io.Writer, err error) {
	fmt.Fprintln(w, errStyle.Render("[Error] "+err.Error()))
}
