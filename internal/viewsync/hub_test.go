package viewsync

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/relaychat/internal/domain"
	"github.com/ashureev/relaychat/internal/render"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readMessage(t *testing.T, ctx context.Context, ws *websocket.Conn) Message {
	t.Helper()
	typ, data, err := ws.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, websocket.MessageText, typ)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestLateSubscriberGetsSnapshotThenInstructions(t *testing.T) {
	t.Parallel()
	hub := NewHub(render.NewHTML())
	hub.Render(render.Message("u1", domain.NewMessage(domain.RoleUser, "Hello")))
	hub.Render(render.Message("a1", domain.NewMessage(domain.RoleAssistant, "**hi**")))

	r := chi.NewRouter()
	NewHandler(hub, nil).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ws, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/view", nil)
	require.NoError(t, err)
	defer ws.Close(websocket.StatusNormalClosure, "")

	snap := readMessage(t, ctx, ws)
	require.Equal(t, TypeSnapshot, snap.Type)
	require.NotNil(t, snap.View)
	require.Len(t, snap.View.Bubbles, 2)
	assert.Equal(t, "Hello", snap.View.Bubbles[0].Text)
	assert.Contains(t, snap.View.Bubbles[1].Text, "<strong>hi</strong>")

	hub.Render(render.Fragment("a2", "stream"))
	msg := readMessage(t, ctx, ws)
	require.Equal(t, TypeInstruction, msg.Type)
	require.NotNil(t, msg.Instruction)
	assert.Equal(t, render.KindAppendText, msg.Instruction.Kind)
	assert.Equal(t, "stream", msg.Instruction.Bubble.Text)

	hub.Render(render.Final("a2", "*done*"))
	msg = readMessage(t, ctx, ws)
	assert.Equal(t, render.KindReplace, msg.Instruction.Kind)
	assert.Contains(t, msg.Instruction.Bubble.Text, "<em>done</em>")

	// The hub's own view keeps markdown; only outgoing frames are rendered.
	bubbles := hub.view.Bubbles
	i := slices.IndexFunc(bubbles, func(b render.Bubble) bool { return b.ID == "a2" })
	require.GreaterOrEqual(t, i, 0)
	assert.Equal(t, "*done*", bubbles[i].Text)
}

func TestSubscriberRemovedOnDisconnect(t *testing.T) {
	t.Parallel()
	hub := NewHub(nil)

	r := chi.NewRouter()
	NewHandler(hub, nil).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ws, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/view", nil)
	require.NoError(t, err)
	readMessage(t, ctx, ws)
	assert.Equal(t, 1, hub.Count())

	require.NoError(t, ws.Close(websocket.StatusNormalClosure, "bye"))
	assert.Eventually(t, func() bool { return hub.Count() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestLaggingSubscriberIsResynchronised(t *testing.T) {
	t.Parallel()
	hub := NewHub(nil)
	hub.queueSize = 1

	sub := hub.subscribe("slow")
	hub.Render(render.Fragment("a", "1"))
	hub.Render(render.Fragment("a", "2"))
	hub.Render(render.Fragment("a", "3"))

	var got []Message
	for len(sub.queue) > 0 {
		got = append(got, <-sub.queue)
	}
	require.Len(t, got, 1)
	assert.Equal(t, TypeSnapshot, got[0].Type)
	assert.Equal(t, "123", got[0].View.Bubbles[0].Text)
}

func TestHubWithoutSubscribersKeepsView(t *testing.T) {
	t.Parallel()
	hub := NewHub(nil)
	hub.Render(render.Thinking("t"))
	hub.Render(render.Remove("t"))
	hub.Render(render.Fragment("a", "x"))

	v := hub.View()
	require.Len(t, v.Bubbles, 1)
	assert.Equal(t, "x", v.Bubbles[0].Text)
}
