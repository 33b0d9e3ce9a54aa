package models

import "time"

// Chat message directions as stored in bridge history.
const (
	DirGameToPlatform = "game_to_platform"
	DirPlatformToGame = "platform_to_game"
)

type ChatMessage struct {
	TS        time.Time
	Direction string
	Author    string
	Content   string
}

type Backup struct {
	Name    string
	ModTime time.Time
	Size    int64
}

type OpsEvent struct {
	TS     time.Time
	Op     string
	Phase  string
	OK     bool
	Detail string
}
