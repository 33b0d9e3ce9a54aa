package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DiscordToken     string
	BridgeChannelID  string
	CommandChannelID string
	AllowedUsers     []string
	AllowedRoles     []string
	DisableAllowList bool

	RCONAddr     string
	RCONPassword string

	ContainerName string
	DockerSocket  string

	DataDir      string
	BackupsDir   string
	WorldFolders []string

	AppDataDir    string
	DBPath        string
	RetentionDays int

	StopTimeout  time.Duration
	ReadyTimeout time.Duration
}

func Load() Config {
	dataDir := getenv("MC_DATA_DIR", "/minecraft-data")
	appDataDir := getenv("APP_DATA_DIR", "./data")
	host := getenv("RCON_HOST", "mc")
	port := getenvInt("RCON_PORT", 25575)
	return Config{
		DiscordToken:     os.Getenv("DISCORD_TOKEN"),
		BridgeChannelID:  channelID(os.Getenv("BRIDGE_CHANNEL_ID")),
		CommandChannelID: channelID(os.Getenv("COMMAND_CHANNEL_ID")),
		AllowedUsers:     getenvList("ALLOWED_USERS"),
		AllowedRoles:     getenvList("ALLOWED_ROLES"),
		DisableAllowList: getenvBool("DISABLE_WHITELIST", false),
		RCONAddr:         host + ":" + strconv.Itoa(port),
		RCONPassword:     os.Getenv("RCON_PASSWORD"),
		ContainerName:    getenv("MC_CONTAINER", "mc-server"),
		DockerSocket:     getenv("DOCKER_SOCKET", "/var/run/docker.sock"),
		DataDir:          dataDir,
		BackupsDir:       getenv("BACKUPS_DIR", dataDir+"/backups"),
		WorldFolders:     getenvListDefault("WORLD_FOLDERS", []string{"World", "visualprospecting"}),
		AppDataDir:       appDataDir,
		DBPath:           getenv("APP_DB_PATH", appDataDir+"/mcbridge.db"),
		RetentionDays:    getenvInt("APP_RETENTION_DAYS", 14),
		StopTimeout:      getenvDuration("STOP_TIMEOUT", 120*time.Second),
		ReadyTimeout:     getenvDuration("READY_TIMEOUT", 300*time.Second),
	}
}

// channelID normalizes the "disabled" channel value: the compose files
// historically used 0 for an unset channel id.
func channelID(v string) string {
	if v == "0" {
		return ""
	}
	return v
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func getenvList(k string) []string {
	return splitList(os.Getenv(k))
}

func getenvListDefault(k string, d []string) []string {
	if v := splitList(os.Getenv(k)); len(v) > 0 {
		return v
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenvInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return d
	}
	return n
}

func getenvDuration(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	dur, err := time.ParseDuration(v)
	if err != nil {
		return d
	}
	return dur
}

func getenvBool(k string, d bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(k)))
	if v == "" {
		return d
	}
	if v == "1" || v == "true" || v == "yes" || v == "on" {
		return true
	}
	if v == "0" || v == "false" || v == "no" || v == "off" {
		return false
	}
	return d
}
