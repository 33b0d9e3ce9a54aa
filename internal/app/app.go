package app

import (
	"context"
	"log/slog"
	"time"

	"mcbridge/internal/auth"
	"mcbridge/internal/backup"
	"mcbridge/internal/bridge"
	"mcbridge/internal/commands"
	"mcbridge/internal/config"
	"mcbridge/internal/db"
	"mcbridge/internal/discord"
	"mcbridge/internal/docker"
	"mcbridge/internal/rcon"
	"mcbridge/internal/retention"
)

type App struct {
	cfg config.Config
	log *slog.Logger

	db     *db.Repository
	docker *docker.Client

	session   *discord.Session
	bridge    *bridge.Bridge
	backups   *backup.Manager
	router    *commands.Router
	retention *retention.Service
}

func New(cfg config.Config, logger *slog.Logger) (*App, error) {
	sqldb, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(sqldb); err != nil {
		return nil, err
	}
	repo := db.NewRepository(sqldb)
	dc := docker.NewClient(cfg.DockerSocket)

	session := discord.NewSession(cfg.DiscordToken, logger.With("module", "discord"))

	br := bridge.New(dc, session, repo, logger.With("module", "bridge"), bridge.Config{
		Container:    cfg.ContainerName,
		ChannelID:    cfg.BridgeChannelID,
		RCONAddr:     cfg.RCONAddr,
		RCONPassword: cfg.RCONPassword,
	}, rcon.Exec)

	backups := backup.NewManager(cfg.DataDir, cfg.BackupsDir, cfg.WorldFolders, dc,
		cfg.ContainerName, cfg.StopTimeout, repo, logger.With("module", "backup"))

	gate := auth.NewGate(cfg.DisableAllowList, cfg.CommandChannelID, cfg.AllowedUsers, cfg.AllowedRoles)
	router := commands.NewRouter(gate, session, dc, backups, br, logger.With("module", "commands"), commands.Options{
		Container:    cfg.ContainerName,
		RCONAddr:     cfg.RCONAddr,
		RCONPassword: cfg.RCONPassword,
		StopTimeout:  cfg.StopTimeout,
		ReadyTimeout: cfg.ReadyTimeout,
	})

	return &App{
		cfg:       cfg,
		log:       logger,
		db:        repo,
		docker:    dc,
		session:   session,
		bridge:    br,
		backups:   backups,
		router:    router,
		retention: retention.NewService(repo, cfg.RetentionDays, logger.With("module", "retention")),
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	a.session.OnMessage(func(m discord.Message) { a.route(ctx, m) })

	go a.session.Run(ctx)
	go a.bridge.Run(ctx)

	retentionTicker := time.NewTicker(6 * time.Hour)
	defer retentionTicker.Stop()

	// Immediate first run
	a.retention.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			return a.db.DB().Close()
		case <-retentionTicker.C:
			a.retention.Run(ctx)
		}
	}
}

// route fans an incoming platform message out to the command router or
// the chat bridge. Runs on the gateway read loop, so anything slow is
// pushed onto a goroutine.
func (a *App) route(ctx context.Context, m discord.Message) {
	if m.Author.Bot || m.Author.ID == a.session.SelfID() {
		return
	}
	if commands.IsCommand(m.Content) {
		a.router.HandleMessage(ctx, m.ChannelID, m.Author.ID, m.Member.Roles, m.DisplayName(), m.Content)
		return
	}
	if a.cfg.BridgeChannelID != "" && m.ChannelID == a.cfg.BridgeChannelID {
		go a.bridge.HandleMessage(ctx, m.DisplayName(), m.Content)
	}
}
