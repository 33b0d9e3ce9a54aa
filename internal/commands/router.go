package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"mcbridge/internal/auth"
	"mcbridge/internal/backup"
	"mcbridge/internal/docker"
	"mcbridge/internal/models"
	"mcbridge/internal/rcon"
)

const (
	prefix      = "!"
	replyLimit  = 1900
	defaultTail = 20
)

// Replier is the platform send/edit surface; *discord.Session
// satisfies it.
type Replier interface {
	SendMessage(ctx context.Context, channelID, content string) (string, error)
	EditMessage(ctx context.Context, channelID, messageID, content string) error
}

type ContainerRuntime interface {
	Inspect(ctx context.Context, name string) (docker.Container, error)
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string, timeout time.Duration) error
	Logs(ctx context.Context, name string, tail int) (string, error)
}

// Restorer is the backup surface; *backup.Manager satisfies it.
type Restorer interface {
	List() ([]models.Backup, error)
	Snapshot(prefix string) (string, error)
	Restore(ctx context.Context, archiveName string, progress func(backup.Phase)) error
}

// Outbound relays a platform-authored message into the game chat;
// *bridge.Bridge satisfies it.
type Outbound interface {
	HandleMessage(ctx context.Context, author, content string)
}

type Options struct {
	Container    string
	RCONAddr     string
	RCONPassword string
	StopTimeout  time.Duration
	ReadyTimeout time.Duration
}

// Router parses prefix commands from the command channel and runs the
// corresponding operation. Every operation is dispatched to its own
// goroutine: the gateway read loop must never block on RCON, the
// container runtime, or the filesystem.
type Router struct {
	gate    *auth.Gate
	replier Replier
	runtime ContainerRuntime
	backups Restorer
	say     Outbound
	log     *slog.Logger
	opts    Options

	// RCON entry points, swapped out in tests.
	exec      func(addr, password, command string) (string, error)
	waitReady func(ctx context.Context, addr, password string, timeout time.Duration) bool
}

func NewRouter(gate *auth.Gate, replier Replier, rt ContainerRuntime, backups Restorer, say Outbound, logger *slog.Logger, opts Options) *Router {
	return &Router{
		gate:      gate,
		replier:   replier,
		runtime:   rt,
		backups:   backups,
		say:       say,
		log:       logger,
		opts:      opts,
		exec:      rcon.Exec,
		waitReady: rcon.WaitReady,
	}
}

// IsCommand reports whether a message is addressed to the router.
func IsCommand(content string) bool {
	return strings.HasPrefix(strings.TrimSpace(content), prefix)
}

// HandleMessage authorizes the caller and dispatches the command.
// Authorization is checked before anything else happens; denial has
// zero side effects beyond the denial reply.
func (r *Router) HandleMessage(ctx context.Context, channelID, userID string, roleIDs []string, displayName, content string) {
	fields := strings.Fields(strings.TrimSpace(content))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], prefix) {
		return
	}
	name := strings.ToLower(strings.TrimPrefix(fields[0], prefix))
	if !r.gate.AllowChannel(channelID) {
		r.reply(ctx, channelID, "Commands can only be used in the command channel.")
		return
	}
	if !r.gate.Allow(userID, roleIDs) {
		r.reply(ctx, channelID, "You are not authorized to run this command.")
		return
	}
	go r.run(ctx, channelID, displayName, name, fields[1:])
}

func (r *Router) run(ctx context.Context, channelID, displayName, name string, args []string) {
	r.log.Info("command", "name", name, "caller", displayName)
	switch name {
	case "status":
		r.status(ctx, channelID)
	case "start":
		r.start(ctx, channelID)
	case "stop":
		r.stop(ctx, channelID)
	case "restart":
		r.restart(ctx, channelID)
	case "say":
		r.sayCmd(ctx, channelID, displayName, args)
	case "cmd":
		r.cmd(ctx, channelID, args)
	case "players":
		r.players(ctx, channelID)
	case "logs":
		r.logs(ctx, channelID, args)
	case "backup":
		r.backup(ctx, channelID)
	case "backups":
		r.listBackups(ctx, channelID)
	case "restore":
		r.restore(ctx, channelID, args)
	case "help":
		r.reply(ctx, channelID, helpText)
	default:
		r.reply(ctx, channelID, "Unknown command. Try !help.")
	}
}

func (r *Router) status(ctx context.Context, channelID string) {
	if !r.running(ctx) {
		r.reply(ctx, channelID, "**Server is OFFLINE**")
		return
	}
	out, err := r.exec(r.opts.RCONAddr, r.opts.RCONPassword, "list")
	if err != nil {
		r.reply(ctx, channelID, "**Server is ONLINE** (RCON unavailable)")
		return
	}
	r.reply(ctx, channelID, "**Server is ONLINE**\n"+codeBlock(out))
}

func (r *Router) start(ctx context.Context, channelID string) {
	c, err := r.runtime.Inspect(ctx, r.opts.Container)
	if errors.Is(err, docker.ErrNotFound) {
		r.reply(ctx, channelID, "Container not found.")
		return
	}
	if err == nil && c.Status == docker.StatusRunning {
		r.reply(ctx, channelID, "Server is already running.")
		return
	}
	if err := r.runtime.Start(ctx, r.opts.Container); err != nil {
		r.reply(ctx, channelID, "Failed to start: "+err.Error())
		return
	}
	msgID := r.reply(ctx, channelID, "Server is starting. This may take a few minutes...")
	if r.waitReady(ctx, r.opts.RCONAddr, r.opts.RCONPassword, r.opts.ReadyTimeout) {
		r.edit(ctx, channelID, msgID, "**Server is now ONLINE and ready.**")
	} else {
		r.edit(ctx, channelID, msgID, "Server started but is taking longer than expected.")
	}
}

func (r *Router) stop(ctx context.Context, channelID string) {
	if !r.running(ctx) {
		r.reply(ctx, channelID, "Server is not running.")
		return
	}
	msgID := r.reply(ctx, channelID, "Stopping server gracefully...")
	if err := r.runtime.Stop(ctx, r.opts.Container, r.opts.StopTimeout); err != nil {
		r.edit(ctx, channelID, msgID, "Error stopping server: "+err.Error())
		return
	}
	r.edit(ctx, channelID, msgID, "**Server stopped.**")
}

func (r *Router) restart(ctx context.Context, channelID string) {
	msgID := r.reply(ctx, channelID, "Restarting server...")
	if r.running(ctx) {
		r.edit(ctx, channelID, msgID, "Stopping server gracefully...")
		if err := r.runtime.Stop(ctx, r.opts.Container, r.opts.StopTimeout); err != nil {
			r.edit(ctx, channelID, msgID, "Error stopping server: "+err.Error())
			return
		}
	}
	r.edit(ctx, channelID, msgID, "Starting server...")
	if err := r.runtime.Start(ctx, r.opts.Container); err != nil {
		r.edit(ctx, channelID, msgID, "Failed to start: "+err.Error())
		return
	}
	if r.waitReady(ctx, r.opts.RCONAddr, r.opts.RCONPassword, r.opts.ReadyTimeout) {
		r.edit(ctx, channelID, msgID, "**Server restarted and ready.**")
	} else {
		r.edit(ctx, channelID, msgID, "Restart in progress but taking longer than expected.")
	}
}

func (r *Router) sayCmd(ctx context.Context, channelID, displayName string, args []string) {
	if len(args) == 0 {
		r.reply(ctx, channelID, "Usage: !say <message>")
		return
	}
	if !r.running(ctx) {
		r.reply(ctx, channelID, "Server is not running.")
		return
	}
	r.say.HandleMessage(ctx, displayName, strings.Join(args, " "))
	r.reply(ctx, channelID, "Message sent.")
}

func (r *Router) cmd(ctx context.Context, channelID string, args []string) {
	if len(args) == 0 {
		r.reply(ctx, channelID, "Usage: !cmd <command>")
		return
	}
	if !r.running(ctx) {
		r.reply(ctx, channelID, "Server is not running.")
		return
	}
	out, err := r.exec(r.opts.RCONAddr, r.opts.RCONPassword, strings.Join(args, " "))
	if err != nil {
		r.reply(ctx, channelID, "RCON error: "+err.Error())
		return
	}
	if out == "" {
		out = "Command sent."
	}
	r.reply(ctx, channelID, codeBlock(truncateHead(out, replyLimit)))
}

func (r *Router) players(ctx context.Context, channelID string) {
	if !r.running(ctx) {
		r.reply(ctx, channelID, "Server is not running.")
		return
	}
	out, err := r.exec(r.opts.RCONAddr, r.opts.RCONPassword, "list")
	if err != nil {
		r.reply(ctx, channelID, "RCON error: "+err.Error())
		return
	}
	r.reply(ctx, channelID, "**Online players:**\n"+codeBlock(out))
}

func (r *Router) logs(ctx context.Context, channelID string, args []string) {
	tail := defaultTail
	if len(args) > 0 {
		if n, err := strconv.Atoi(args[0]); err == nil && n > 0 {
			tail = n
		}
	}
	out, err := r.runtime.Logs(ctx, r.opts.Container, tail)
	if err != nil {
		r.reply(ctx, channelID, "Error fetching logs: "+err.Error())
		return
	}
	r.reply(ctx, channelID, fmt.Sprintf("**Last %d log lines:**\n%s", tail, codeBlock(truncateTail(out, replyLimit))))
}

// backup requests an in-server save first so the snapshot captures a
// flushed world, then archives the designated folders.
func (r *Router) backup(ctx context.Context, channelID string) {
	msgID := r.reply(ctx, channelID, "Creating backup...")
	if r.running(ctx) {
		if _, err := r.exec(r.opts.RCONAddr, r.opts.RCONPassword, "save-all flush"); err != nil {
			r.log.Warn("save before snapshot", "err", err)
		}
	}
	name, err := r.backups.Snapshot("manual")
	if err != nil {
		r.edit(ctx, channelID, msgID, "Backup failed: "+err.Error())
		return
	}
	r.edit(ctx, channelID, msgID, "**Backup created:** `"+name+"`")
}

func (r *Router) listBackups(ctx context.Context, channelID string) {
	backups, err := r.backups.List()
	if err != nil {
		r.reply(ctx, channelID, "Error listing backups: "+err.Error())
		return
	}
	if len(backups) == 0 {
		r.reply(ctx, channelID, "No backups found.")
		return
	}
	var b strings.Builder
	b.WriteString("**Backups (newest first):**\n")
	for i, bk := range backups {
		if i == 15 {
			fmt.Fprintf(&b, "... and %d more\n", len(backups)-i)
			break
		}
		fmt.Fprintf(&b, "`%s` (%s)\n", bk.Name, bk.ModTime.UTC().Format("2006-01-02 15:04"))
	}
	r.reply(ctx, channelID, b.String())
}

func (r *Router) restore(ctx context.Context, channelID string, args []string) {
	if len(args) == 0 {
		r.reply(ctx, channelID, "Usage: !restore <backup.zip> (see !backups)")
		return
	}
	name := args[0]
	msgID := r.reply(ctx, channelID, "**Restoring `"+name+"`...** This will stop the server.")
	err := r.backups.Restore(ctx, name, func(p backup.Phase) {
		r.edit(ctx, channelID, msgID, phaseText(p, name))
	})
	if err == nil {
		r.edit(ctx, channelID, msgID, "**Backup `"+name+"` restored.** Server is booting.")
		return
	}
	if errors.Is(err, backup.ErrRestoreInProgress) {
		r.edit(ctx, channelID, msgID, "A restore is already running; try again when it finishes.")
		return
	}
	var pe *backup.PhaseError
	if errors.As(err, &pe) && pe.SafetyArchive != "" {
		r.edit(ctx, channelID, msgID, fmt.Sprintf(
			"**Restore failed during %s after data was deleted.** The data root may be inconsistent; recover manually from `%s`. (%v)",
			pe.Phase, pe.SafetyArchive, pe.Err))
		return
	}
	r.edit(ctx, channelID, msgID, "Restore failed: "+err.Error())
}

func phaseText(p backup.Phase, archive string) string {
	switch p {
	case backup.PhaseStopping:
		return "Stopping server gracefully..."
	case backup.PhaseSnapshot:
		return "Creating safety backup of current state..."
	case backup.PhaseDelete:
		return "Deleting current world data..."
	case backup.PhaseExtract:
		return "Extracting `" + archive + "`..."
	case backup.PhaseStarting:
		return "Starting server..."
	default:
		return string(p)
	}
}

func (r *Router) running(ctx context.Context) bool {
	c, err := r.runtime.Inspect(ctx, r.opts.Container)
	return err == nil && c.Status == docker.StatusRunning
}

func (r *Router) reply(ctx context.Context, channelID, content string) string {
	id, err := r.replier.SendMessage(ctx, channelID, content)
	if err != nil {
		r.log.Warn("send reply", "err", err)
	}
	return id
}

func (r *Router) edit(ctx context.Context, channelID, messageID, content string) {
	if messageID == "" {
		return
	}
	if err := r.replier.EditMessage(ctx, channelID, messageID, content); err != nil {
		r.log.Warn("edit reply", "err", err)
	}
}

func codeBlock(s string) string {
	return "```\n" + s + "\n```"
}

func truncateHead(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func truncateTail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

const helpText = "**Server manager**\n" +
	"`!status` - check if the server is running\n" +
	"`!start` / `!stop` / `!restart` - control the server\n" +
	"`!players` - list online players\n" +
	"`!say <message>` - send a chat message to the server\n" +
	"`!cmd <command>` - run a server command\n" +
	"`!logs [lines]` - show recent server logs\n" +
	"`!backup` - create a backup now\n" +
	"`!backups` - list available backups\n" +
	"`!restore <file>` - restore a backup (stops the server)\n"
