package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/signaldesk/signaldesk/pkg/ai"
	"github.com/signaldesk/signaldesk/pkg/auth"
	"github.com/signaldesk/signaldesk/pkg/db"
	"github.com/signaldesk/signaldesk/pkg/models"
	"github.com/signaldesk/signaldesk/pkg/service"
	"github.com/signaldesk/signaldesk/pkg/ws"
)

type nopHandler struct{}

func (nopHandler) HandleConnect(*ws.Client)                        {}
func (nopHandler) HandleEvent(*ws.Client, string, json.RawMessage) {}
func (nopHandler) HandleDisconnect(*ws.Client)                     {}

type wsEnv struct {
	srv      *httptest.Server
	store    *db.Store
	verifier *auth.Verifier
}

// newWSEnv wires the full realtime stack behind a live HTTP server. The AI
// endpoint points nowhere; nothing in these tests crosses a flush threshold.
func newWSEnv(t *testing.T) *wsEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := db.Open(filepath.Join(t.TempDir(), "signaldesk.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	hub := ws.NewHub(logger)
	verifier := auth.NewVerifier("test-secret")
	aiClient := ai.NewClient("http://127.0.0.1:1", time.Second)
	access := service.NewAccessService(store, logger)
	presence := service.NewPresenceRegistry()
	queue := service.NewAIQueueRegistry(store, aiClient, hub, logger, time.Hour)
	t.Cleanup(queue.Shutdown)
	chat := service.NewChatService(store, hub, access, presence, queue, logger)

	upgrader := &websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	engine := gin.New()
	NewWSHandler(hub, chat, store, verifier, upgrader, logger).RegisterRoutes(engine.Group(""))

	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)
	return &wsEnv{srv: srv, store: store, verifier: verifier}
}

func (e *wsEnv) wsURL(token string) string {
	url := strings.Replace(e.srv.URL, "http", "ws", 1) + "/ws"
	if token != "" {
		url += "?token=" + token
	}
	return url
}

func (e *wsEnv) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(e.wsURL(token), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) ws.WSMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg ws.WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	return msg
}

func TestConnect_MissingTokenRefused(t *testing.T) {
	env := newWSEnv(t)

	_, resp, err := websocket.DefaultDialer.Dial(env.wsURL(""), nil)
	if err == nil {
		t.Fatalf("handshake should fail without a token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("handshake response = %v, want 401", resp)
	}
}

func TestConnect_UnknownUserRefused(t *testing.T) {
	env := newWSEnv(t)
	token, err := env.verifier.Sign("ghost", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	_, resp, dialErr := websocket.DefaultDialer.Dial(env.wsURL(token), nil)
	if dialErr == nil {
		t.Fatalf("handshake should fail for unknown user")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("handshake response = %v, want 401", resp)
	}
}

func TestConnect_FullMessageRoundTrip(t *testing.T) {
	env := newWSEnv(t)

	user := &models.User{Name: "alice"}
	if err := env.store.CreateUser(user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	project := &models.Project{Name: "apollo", OwnerID: user.ID}
	if err := env.store.CreateProject(project); err != nil {
		t.Fatalf("create project: %v", err)
	}
	group := &models.Group{ProjectID: project.ID, Name: "general"}
	if err := env.store.CreateGroup(group); err != nil {
		t.Fatalf("create group: %v", err)
	}

	token, err := env.verifier.Sign(user.ID, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	conn := env.dial(t, token)

	// Presence broadcast lands first.
	msg := readEnvelope(t, conn)
	if msg.Event != "users:online" {
		t.Fatalf("first event = %q, want users:online", msg.Event)
	}
	ids, _ := msg.Data["userIds"].([]any)
	if len(ids) != 1 || ids[0] != user.ID {
		t.Fatalf("online set = %v", msg.Data["userIds"])
	}

	join, _ := json.Marshal(map[string]any{
		"event": "join-group",
		"data":  map[string]string{"groupId": group.ID},
	})
	if err := conn.WriteMessage(websocket.TextMessage, join); err != nil {
		t.Fatalf("write join: %v", err)
	}

	send, _ := json.Marshal(map[string]any{
		"event": "send-message",
		"data":  map[string]string{"groupId": group.ID, "content": "hello over the wire"},
	})
	if err := conn.WriteMessage(websocket.TextMessage, send); err != nil {
		t.Fatalf("write send: %v", err)
	}

	msg = readEnvelope(t, conn)
	if msg.Event != "new-message" {
		t.Fatalf("event = %q, want new-message", msg.Event)
	}
	if msg.Data["content"] != "hello over the wire" || msg.Data["userId"] != user.ID {
		t.Fatalf("payload = %v", msg.Data)
	}

	count, err := env.store.CountMessages(group.ID)
	if err != nil {
		t.Fatalf("CountMessages: %v", err)
	}
	if count != 1 {
		t.Fatalf("persisted %d messages, want 1", count)
	}
}
