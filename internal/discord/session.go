package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultGatewayURL = "wss://gateway.discord.gg/?v=10&encoding=json"
	defaultAPIBase    = "https://discord.com/api/v10"

	writeWait = 5 * time.Second
)

// Gateway opcodes (the subset this bot speaks).
const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatACK   = 11
)

// Intents requested on identify: guild visibility plus message events
// with content, which the bridge needs.
const (
	intentGuilds         = 1 << 0
	intentGuildMessages  = 1 << 9
	intentMessageContent = 1 << 15
)

// Message is an incoming channel message as dispatched by the gateway.
type Message struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
	Author    struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Bot      bool   `json:"bot"`
	} `json:"author"`
	Member struct {
		Nick  string   `json:"nick"`
		Roles []string `json:"roles"`
	} `json:"member"`
}

// DisplayName is the guild nickname when set, else the username.
func (m Message) DisplayName() string {
	if m.Member.Nick != "" {
		return m.Member.Nick
	}
	return m.Author.Username
}

type gatewayEvent struct {
	Op int             `json:"op"`
	S  *int64          `json:"s"`
	T  string          `json:"t"`
	D  json.RawMessage `json:"d"`
}

// Session is a Discord connection: a gateway websocket for incoming
// events and plain REST calls for sends. One session per process.
type Session struct {
	token      string
	http       *http.Client
	log        *slog.Logger
	handler    func(Message)
	gatewayURL string
	apiBase    string

	writeMu sync.Mutex // serializes websocket writes

	mu     sync.Mutex
	seq    *int64
	selfID string
}

func NewSession(token string, logger *slog.Logger) *Session {
	return &Session{
		token:      token,
		http:       &http.Client{Timeout: 10 * time.Second},
		log:        logger,
		gatewayURL: defaultGatewayURL,
		apiBase:    defaultAPIBase,
	}
}

// OnMessage registers the handler invoked for every MESSAGE_CREATE.
// The handler runs on the gateway read loop and must not block.
func (s *Session) OnMessage(fn func(Message)) { s.handler = fn }

// SelfID returns the bot's own user id, known once READY arrives.
func (s *Session) SelfID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selfID
}

// Run maintains the gateway connection until ctx is cancelled,
// reconnecting with a capped backoff.
func (s *Session) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		started := time.Now()
		err := s.connectOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) > time.Minute {
			backoff = time.Second
		}
		s.log.Warn("gateway disconnected", "err", err, "retry_in", backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (s *Session) connectOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.gatewayURL, nil)
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}
	defer conn.Close()

	// Closing the conn on cancellation unblocks the read loop.
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-connCtx.Done()
		_ = conn.Close()
	}()

	var hello gatewayEvent
	if err := conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("read hello: %w", err)
	}
	if hello.Op != opHello {
		return fmt.Errorf("expected hello, got op %d", hello.Op)
	}
	var helloData struct {
		HeartbeatInterval int `json:"heartbeat_interval"`
	}
	if err := json.Unmarshal(hello.D, &helloData); err != nil {
		return fmt.Errorf("decode hello: %w", err)
	}

	identify := map[string]any{
		"op": opIdentify,
		"d": map[string]any{
			"token":   s.token,
			"intents": intentGuilds | intentGuildMessages | intentMessageContent,
			"properties": map[string]string{
				"os":      "linux",
				"browser": "mcbridge",
				"device":  "mcbridge",
			},
		},
	}
	if err := s.write(conn, identify); err != nil {
		return fmt.Errorf("identify: %w", err)
	}

	go s.heartbeatLoop(connCtx, conn, time.Duration(helloData.HeartbeatInterval)*time.Millisecond)

	for {
		var ev gatewayEvent
		if err := conn.ReadJSON(&ev); err != nil {
			return err
		}
		if ev.S != nil {
			s.setSeq(*ev.S)
		}
		switch ev.Op {
		case opDispatch:
			s.dispatch(ev)
		case opHeartbeat:
			if err := s.write(conn, map[string]any{"op": opHeartbeat, "d": s.seqValue()}); err != nil {
				return err
			}
		case opHeartbeatACK:
		case opReconnect, opInvalidSession:
			return fmt.Errorf("gateway requested reconnect (op %d)", ev.Op)
		}
	}
}

func (s *Session) dispatch(ev gatewayEvent) {
	switch ev.T {
	case "READY":
		var ready struct {
			User struct {
				ID string `json:"id"`
			} `json:"user"`
		}
		if err := json.Unmarshal(ev.D, &ready); err != nil {
			s.log.Warn("decode ready", "err", err)
			return
		}
		s.mu.Lock()
		s.selfID = ready.User.ID
		s.mu.Unlock()
		s.log.Info("gateway ready", "user", ready.User.ID)
	case "MESSAGE_CREATE":
		var m Message
		if err := json.Unmarshal(ev.D, &m); err != nil {
			s.log.Warn("decode message", "err", err)
			return
		}
		if s.handler != nil {
			s.handler(m)
		}
	}
}

func (s *Session) heartbeatLoop(ctx context.Context, conn *websocket.Conn, interval time.Duration) {
	if interval <= 0 {
		interval = 41 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := s.write(conn, map[string]any{"op": opHeartbeat, "d": s.seqValue()}); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

func (s *Session) write(conn *websocket.Conn, v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

func (s *Session) setSeq(v int64) {
	s.mu.Lock()
	s.seq = &v
	s.mu.Unlock()
}

// seqValue returns the last seen sequence, or nil before the first
// dispatch (the gateway expects a null heartbeat payload then).
func (s *Session) seqValue() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seq == nil {
		return nil
	}
	return *s.seq
}
