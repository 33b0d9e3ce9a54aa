package bridge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"mcbridge/internal/db"
	"mcbridge/internal/docker"
	"mcbridge/internal/models"
)

const (
	offlineWait  = 10 * time.Second
	reattachWait = 5 * time.Second
)

// ContainerRuntime is the slice of the container client the bridge
// needs; *docker.Client satisfies it.
type ContainerRuntime interface {
	Inspect(ctx context.Context, name string) (docker.Container, error)
	FollowLogs(ctx context.Context, name string) (io.ReadCloser, error)
}

// Messenger delivers text to a platform channel; *discord.Session
// satisfies it.
type Messenger interface {
	SendMessage(ctx context.Context, channelID, content string) (string, error)
}

type Config struct {
	Container    string
	ChannelID    string
	RCONAddr     string
	RCONPassword string
}

// Bridge relays chat in both directions between the platform channel
// and the game server. Inbound rides the container log stream;
// outbound rides RCON say commands tagged with the marker the inbound
// side filters out.
type Bridge struct {
	runtime ContainerRuntime
	send    Messenger
	repo    *db.Repository
	log     *slog.Logger
	cfg     Config

	// exec issues one RCON command over a fresh session. Swapped out
	// in tests.
	exec func(addr, password, command string) (string, error)
}

func New(rt ContainerRuntime, m Messenger, repo *db.Repository, logger *slog.Logger, cfg Config, exec func(addr, password, command string) (string, error)) *Bridge {
	return &Bridge{runtime: rt, send: m, repo: repo, log: logger, cfg: cfg, exec: exec}
}

// Run is the inbound loop: attach to the running container's log
// stream, relay chat events, and reattach with a backoff whenever the
// container is down or the stream drops. Returns when ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) {
	b.log.Info("chat bridge started", "container", b.cfg.Container, "channel", b.cfg.ChannelID)
	defer b.log.Info("chat bridge stopped")
	for {
		if ctx.Err() != nil {
			return
		}
		c, err := b.runtime.Inspect(ctx, b.cfg.Container)
		if err != nil || c.Status != docker.StatusRunning {
			if !sleepCtx(ctx, offlineWait) {
				return
			}
			continue
		}
		b.tail(ctx)
		if !sleepCtx(ctx, reattachWait) {
			return
		}
	}
}

// tail follows the log stream until it ends or errors. Each session
// gets a fresh assembler: a partial line from a dead stream must not
// prefix the next one.
func (b *Bridge) tail(ctx context.Context) {
	rc, err := b.runtime.FollowLogs(ctx, b.cfg.Container)
	if err != nil {
		b.log.Warn("attach log stream", "err", err)
		return
	}
	defer rc.Close()

	asm := NewAssembler()
	buf := make([]byte, 4096)
	for {
		n, err := rc.Read(buf)
		if n > 0 {
			for _, line := range asm.Feed(buf[:n]) {
				b.relay(ctx, line)
			}
		}
		if err != nil {
			if err != io.EOF && ctx.Err() == nil {
				b.log.Warn("log stream interrupted", "err", err)
			}
			return
		}
	}
}

func (b *Bridge) relay(ctx context.Context, line string) {
	ev, ok := ExtractChat(line)
	if !ok {
		return
	}
	msg := fmt.Sprintf("**<%s>** %s", ev.Player, ev.Message)
	if _, err := b.send.SendMessage(ctx, b.cfg.ChannelID, msg); err != nil {
		b.log.Warn("relay to platform", "player", ev.Player, "err", err)
		return
	}
	b.record(ctx, models.DirGameToPlatform, ev.Player, ev.Message)
}

// HandleMessage relays one platform message into the server chat. If
// the server is not running the message is dropped silently. The say
// command carries the outbound marker, which is exactly what the
// inbound side discards.
func (b *Bridge) HandleMessage(ctx context.Context, author, content string) {
	if content == "" {
		return
	}
	c, err := b.runtime.Inspect(ctx, b.cfg.Container)
	if err != nil || c.Status != docker.StatusRunning {
		return
	}
	safe := Sanitize(content)
	cmd := fmt.Sprintf("say %s <%s> %s", outboundMarker, author, safe)
	if _, err := b.exec(b.cfg.RCONAddr, b.cfg.RCONPassword, cmd); err != nil {
		b.log.Warn("relay to game", "author", author, "err", err)
		return
	}
	b.record(ctx, models.DirPlatformToGame, author, safe)
}

func (b *Bridge) record(ctx context.Context, direction, author, content string) {
	err := b.repo.InsertChatMessage(ctx, models.ChatMessage{
		TS:        time.Now().UTC(),
		Direction: direction,
		Author:    author,
		Content:   content,
	})
	if err != nil {
		b.log.Warn("record chat message", "err", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
