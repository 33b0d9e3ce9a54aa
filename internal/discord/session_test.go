package discord

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeGateway serves one gateway connection: HELLO, expects IDENTIFY,
// then replays READY and a MESSAGE_CREATE.
func fakeGateway(t *testing.T) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		if err := conn.WriteJSON(map[string]any{"op": opHello, "d": map[string]any{"heartbeat_interval": 45000}}); err != nil {
			return
		}
		var identify struct {
			Op int `json:"op"`
			D  struct {
				Token   string `json:"token"`
				Intents int    `json:"intents"`
			} `json:"d"`
		}
		if err := conn.ReadJSON(&identify); err != nil {
			return
		}
		if identify.Op != opIdentify || identify.D.Token != "test-token" {
			t.Errorf("unexpected identify: %+v", identify)
		}
		if identify.D.Intents&intentMessageContent == 0 {
			t.Error("message content intent not requested")
		}

		_ = conn.WriteJSON(map[string]any{
			"op": opDispatch, "t": "READY", "s": 1,
			"d": map[string]any{"user": map[string]any{"id": "bot-1"}},
		})
		_ = conn.WriteJSON(map[string]any{
			"op": opDispatch, "t": "MESSAGE_CREATE", "s": 2,
			"d": map[string]any{
				"id":         "m1",
				"channel_id": "chan-1",
				"content":    "hello",
				"author":     map[string]any{"id": "u1", "username": "carol"},
				"member":     map[string]any{"nick": "Carol", "roles": []string{"r1"}},
			},
		})
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestGatewaySessionDispatchesMessages(t *testing.T) {
	s := NewSession("test-token", slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.gatewayURL = fakeGateway(t)

	got := make(chan Message, 1)
	s.OnMessage(func(m Message) { got <- m })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case m := <-got:
		if m.ChannelID != "chan-1" || m.Content != "hello" || m.Author.ID != "u1" {
			t.Fatalf("message = %+v", m)
		}
		if m.DisplayName() != "Carol" {
			t.Fatalf("display name = %q", m.DisplayName())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no message dispatched")
	}

	if s.SelfID() != "bot-1" {
		t.Fatalf("self id = %q", s.SelfID())
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

func TestDisplayNameFallsBackToUsername(t *testing.T) {
	var m Message
	m.Author.Username = "carol"
	if m.DisplayName() != "carol" {
		t.Fatalf("got %q", m.DisplayName())
	}
}
