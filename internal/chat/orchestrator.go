package chat

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/relaychat/internal/domain"
	"github.com/ashureev/relaychat/internal/render"
	"github.com/ashureev/relaychat/internal/store"
	"github.com/ashureev/relaychat/internal/stream"
)

// User-visible notices.
const (
	NoticeNoCredential  = "Please set your OpenAI API Key first."
	NoticeNewChat       = "New chat started. Ask me anything!"
	NoticeImageRejected = "The selected model does not support image input. Choose an image-capable model and attach the image again."
	NoticeIndexRemoved  = "Document index removed for this conversation."
)

var (
	// ErrEmptyMessage is returned when the submitted text is blank.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrNoCredential is returned when no API key is configured.
	ErrNoCredential = errors.New("api key not configured")
	// ErrBusy is returned while a turn is already in flight.
	ErrBusy = errors.New("a message is already being sent")
	// ErrImageNotSupported is returned when an image is attached for a model
	// that does not accept images.
	ErrImageNotSupported = errors.New("model does not support image input")
)

// State is the send lifecycle state.
type State int

const (
	StateIdle State = iota
	StateComposing
	StateSending
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateComposing:
		return "composing"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// SidebarEntry is one row of the conversation list.
type SidebarEntry struct {
	ID        int64
	Title     string
	UpdatedAt time.Time
	Active    bool
}

// Options configures an Orchestrator.
type Options struct {
	// Model is the initially selected model.
	Model string
	// ImageModels lists the models allowed to receive image attachments.
	ImageModels []string
	// OnSidebar is called with the refreshed conversation list after any
	// change to ordering or the active conversation.
	OnSidebar func([]SidebarEntry)
}

// Orchestrator runs the send-message state machine for a single client.
type Orchestrator struct {
	repo  store.Repository
	relay Relay
	sink  render.Sink
	creds Credentials

	onSidebar   func([]SidebarEntry)
	imageModels map[string]struct{}

	mu      sync.Mutex
	session domain.Session
	state   State
	model   string
}

// NewOrchestrator creates an orchestrator starting on an unsaved new chat.
func NewOrchestrator(repo store.Repository, relay Relay, sink render.Sink, creds Credentials, opts Options) *Orchestrator {
	imageModels := make(map[string]struct{}, len(opts.ImageModels))
	for _, m := range opts.ImageModels {
		imageModels[m] = struct{}{}
	}
	return &Orchestrator{
		repo:        repo,
		relay:       relay,
		sink:        sink,
		creds:       creds,
		onSidebar:   opts.OnSidebar,
		imageModels: imageModels,
		model:       opts.Model,
	}
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// CanSend reports whether the send control is enabled.
func (o *Orchestrator) CanSend() bool {
	s := o.State()
	return s == StateIdle || s == StateComposing
}

// Session returns a copy of the session state.
func (o *Orchestrator) Session() domain.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session
}

// Model returns the selected model.
func (o *Orchestrator) Model() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.model
}

// SetModel selects the model used for subsequent turns.
func (o *Orchestrator) SetModel(model string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.model = model
}

// SupportsImages reports whether model may receive image attachments.
func (o *Orchestrator) SupportsImages(model string) bool {
	_, ok := o.imageModels[model]
	return ok
}

// Compose records that the user is typing. It has no effect mid-turn.
func (o *Orchestrator) Compose(text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == StateSending || o.state == StateStreaming {
		return
	}
	if strings.TrimSpace(text) == "" {
		o.state = StateIdle
		return
	}
	o.state = StateComposing
}

// Attach queues a file for the next turn.
func (o *Orchestrator) Attach(att *domain.Attachment) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.busy() {
		return ErrBusy
	}
	o.session.Attachment = att
	return nil
}

// NewChat discards the active conversation and shows an empty transcript.
func (o *Orchestrator) NewChat(ctx context.Context) error {
	o.mu.Lock()
	if o.busy() {
		o.mu.Unlock()
		return ErrBusy
	}
	o.session.Reset()
	o.state = StateIdle
	o.mu.Unlock()

	o.sink.Render(render.Reset())
	o.sink.Render(render.Message(render.NewBubbleID("system-msg"), domain.NewMessage(domain.RoleSystem, NoticeNewChat)))
	o.refreshSidebar(ctx)
	return nil
}

// Load makes a stored conversation active and renders its messages. A
// conversation that no longer exists yields a fresh chat.
func (o *Orchestrator) Load(ctx context.Context, id int64) error {
	o.mu.Lock()
	busy := o.busy()
	o.mu.Unlock()
	if busy {
		return ErrBusy
	}

	conv, err := o.repo.GetConversation(ctx, id)
	if err != nil {
		return fmt.Errorf("load conversation %d: %w", id, err)
	}
	if conv == nil {
		slog.Warn("conversation not found, starting a new chat", "conversation_id", id)
		return o.NewChat(ctx)
	}

	o.mu.Lock()
	if o.busy() {
		o.mu.Unlock()
		return ErrBusy
	}
	o.session.Activate(conv)
	o.state = StateIdle
	o.mu.Unlock()

	slog.Debug("conversation loaded",
		"conversation_id", id,
		"messages", len(conv.Messages),
		"response_id", domain.Deref(conv.ResponseID),
		"vector_store_id", domain.Deref(conv.VectorStoreID),
	)
	o.sink.Render(render.Reset())
	for _, msg := range conv.Messages {
		o.sink.Render(render.Message(render.NewBubbleID("msg"), msg))
	}
	o.refreshSidebar(ctx)
	return nil
}

// Sidebar lists stored conversations, most recent first, marking the active one.
func (o *Orchestrator) Sidebar(ctx context.Context) ([]SidebarEntry, error) {
	convs, err := o.repo.ListConversations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	active := o.Session().ActiveID
	entries := make([]SidebarEntry, 0, len(convs))
	for _, c := range convs {
		entries = append(entries, SidebarEntry{
			ID:        c.ID,
			Title:     c.Title,
			UpdatedAt: c.UpdatedAt,
			Active:    active != nil && *active == c.ID,
		})
	}
	return entries, nil
}

// ForgetDocuments deletes the document index attached to the active
// conversation. It is a no-op when there is none.
func (o *Orchestrator) ForgetDocuments(ctx context.Context) error {
	o.mu.Lock()
	if o.busy() {
		o.mu.Unlock()
		return ErrBusy
	}
	sess := o.session
	o.mu.Unlock()

	if sess.VectorStoreID == nil {
		return nil
	}
	if err := o.relay.DeleteVectorStore(ctx, *sess.VectorStoreID); err != nil {
		o.renderError(err)
		return err
	}
	if sess.ActiveID != nil {
		if err := o.repo.ClearDocumentIndex(ctx, *sess.ActiveID); err != nil {
			return fmt.Errorf("clear document index: %w", err)
		}
	}

	o.mu.Lock()
	o.session.VectorStoreID = nil
	o.mu.Unlock()

	o.sink.Render(render.Message(render.NewBubbleID("system-msg"), domain.NewMessage(domain.RoleSystem, NoticeIndexRemoved)))
	return nil
}

// Send runs one full turn: persist the user message, stream the answer and
// persist it. The send control is re-enabled and the attachment cleared on
// every exit path.
func (o *Orchestrator) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	o.mu.Lock()
	if o.busy() {
		o.mu.Unlock()
		return ErrBusy
	}
	o.state = StateSending
	sess := o.session
	model := o.model
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		sess.ClearAttachment()
		o.session = sess
		o.state = StateIdle
		o.mu.Unlock()
	}()

	key, err := o.creds.APIKey(ctx)
	if err != nil {
		return fmt.Errorf("read credential: %w", err)
	}
	if key == "" {
		o.sink.Render(render.Message(render.NewBubbleID("error-msg"), domain.ErrorMessage(NoticeNoCredential)))
		return ErrNoCredential
	}

	if sess.Attachment.IsImage() && !o.SupportsImages(model) {
		slog.Warn("image attachment rejected", "model", model, "file", sess.Attachment.Name)
		o.sink.Render(render.Message(render.NewBubbleID("error-msg"), domain.ErrorMessage(NoticeImageRejected)))
		return ErrImageNotSupported
	}

	userMsg := domain.NewMessage(domain.RoleUser, text)
	o.sink.Render(render.Message(render.NewBubbleID("user-msg"), userMsg))

	if sess.IsNewChat() {
		id, err := o.repo.CreateConversation(ctx, domain.Title(text), userMsg)
		if err != nil {
			o.renderError(err)
			return fmt.Errorf("create conversation: %w", err)
		}
		sess.ActiveID = &id
		sess.ResponseID = nil
		sess.VectorStoreID = nil
		o.publishSession(sess)
		o.refreshSidebar(ctx)
	} else if err := o.repo.AppendMessage(ctx, *sess.ActiveID, userMsg); err != nil {
		o.renderError(err)
		return fmt.Errorf("append user message: %w", err)
	}

	thinkingID := render.NewBubbleID("thinking")
	o.sink.Render(render.Thinking(thinkingID))
	placeholder := true
	clearPlaceholder := func() {
		if placeholder {
			placeholder = false
			o.sink.Render(render.Remove(thinkingID))
		}
	}
	defer clearPlaceholder()

	if sess.Attachment.IsPDF() && sess.VectorStoreID == nil {
		vsID, err := o.buildIndex(ctx, sess.Attachment)
		if err != nil {
			clearPlaceholder()
			o.renderError(err)
			return err
		}
		// The index is saved before the turn runs so a failed or empty
		// answer cannot leave it unreferenced.
		if err := o.repo.UpdateMetadata(ctx, *sess.ActiveID, sess.ResponseID, &vsID); err != nil {
			clearPlaceholder()
			o.renderError(err)
			return fmt.Errorf("save document index: %w", err)
		}
		sess.VectorStoreID = &vsID
		o.publishSession(sess)
	}

	req := buildRequest(model, text, sess)
	body, err := o.relay.Respond(ctx, req)
	if err != nil {
		clearPlaceholder()
		o.renderError(err)
		return err
	}
	defer body.Close()

	assistantID := render.NewBubbleID("assistant-msg")
	res, err := stream.Collect(ctx, body, func(fragment string) {
		if placeholder {
			clearPlaceholder()
			o.setState(StateStreaming)
		}
		o.sink.Render(render.Fragment(assistantID, fragment))
	})
	if err != nil {
		clearPlaceholder()
		o.renderError(err)
		return fmt.Errorf("read response stream: %w", err)
	}
	clearPlaceholder()

	if res.Text == "" {
		slog.Info("response stream carried no text", "conversation_id", *sess.ActiveID)
		return nil
	}

	if err := o.repo.AppendMessage(ctx, *sess.ActiveID, domain.NewMessage(domain.RoleAssistant, res.Text)); err != nil {
		o.renderError(err)
		return fmt.Errorf("append assistant message: %w", err)
	}
	if res.ResponseID != "" {
		sess.ResponseID = &res.ResponseID
	}
	if err := o.repo.UpdateMetadata(ctx, *sess.ActiveID, sess.ResponseID, nil); err != nil {
		o.renderError(err)
		return fmt.Errorf("update conversation metadata: %w", err)
	}
	o.publishSession(sess)
	o.refreshSidebar(ctx)

	o.sink.Render(render.Final(assistantID, res.Text))
	slog.Debug("turn completed",
		"conversation_id", *sess.ActiveID,
		"fragments", res.Fragments,
		"response_id", res.ResponseID,
	)
	return nil
}

// buildIndex uploads a document and creates an index over it.
func (o *Orchestrator) buildIndex(ctx context.Context, att *domain.Attachment) (string, error) {
	fileID, err := o.relay.UploadFile(ctx, att.Name, att.Data, PurposeUserData)
	if err != nil {
		return "", err
	}
	vsID, err := o.relay.CreateVectorStore(ctx, []string{fileID})
	if err != nil {
		return "", err
	}
	slog.Info("document index created", "file", att.Name, "file_id", fileID, "vector_store_id", vsID)
	return vsID, nil
}

func buildRequest(model, text string, sess domain.Session) ResponseRequest {
	req := ResponseRequest{
		Model:        model,
		Instructions: DefaultInstructions,
		Stream:       true,
		Input:        text,
	}
	if sess.ResponseID != nil {
		req.PreviousResponseID = *sess.ResponseID
	} else {
		keep := true
		req.Store = &keep
	}
	if att := sess.Attachment; att.IsImage() {
		req.Input = []InputItem{{
			Role: string(domain.RoleUser),
			Content: []InputContent{
				{Type: "input_text", Text: text},
				{Type: "input_image", ImageURL: dataURL(att)},
			},
		}}
	}
	if sess.VectorStoreID != nil {
		req.Tools = []Tool{{Type: "file_search", VectorStoreIDs: []string{*sess.VectorStoreID}}}
	}
	return req
}

func dataURL(att *domain.Attachment) string {
	return "data:" + att.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(att.Data)
}

func (o *Orchestrator) renderError(err error) {
	msg := err.Error()
	var ue *UpstreamError
	if errors.As(err, &ue) {
		msg = ue.Message
	}
	slog.Error("send failed", "error", err)
	o.sink.Render(render.Message(render.NewBubbleID("error-msg"), domain.ErrorMessage("Error: "+msg)))
}

func (o *Orchestrator) refreshSidebar(ctx context.Context) {
	if o.onSidebar == nil {
		return
	}
	entries, err := o.Sidebar(ctx)
	if err != nil {
		slog.Warn("failed to refresh conversation list", "error", err)
		return
	}
	o.onSidebar(entries)
}

// publishSession makes mid-turn session changes visible to readers such as
// Sidebar. Only the sending goroutine mutates the session while busy.
func (o *Orchestrator) publishSession(sess domain.Session) {
	o.mu.Lock()
	o.session = sess
	o.mu.Unlock()
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// busy must be called with mu held.
func (o *Orchestrator) busy() bool {
	return o.state == StateSending || o.state == StateStreaming
}
