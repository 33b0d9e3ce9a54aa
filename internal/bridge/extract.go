package bridge

import (
	"regexp"
	"strings"
)

// chatPattern matches player chat in server log lines, ignoring the
// timestamp/thread prefix:
//
//	[12:34:56] [Server thread/INFO] ...: <PlayerName> message
//
// Capture 1 is the player name (shortest run inside the angle
// brackets), capture 2 the rest of the line as the message.
var chatPattern = regexp.MustCompile(`INFO\]: <(.*?)> (.*)`)

// Self-origin markers. Lines carrying either are echoes of something
// this process injected and must never be relayed back, or the bridge
// feeds itself.
const (
	rconEchoMarker = "[Rcon]"
	outboundMarker = "[Discord]"

	// bridgeIdentity is the player name the outbound side speaks as.
	bridgeIdentity = "Discord"
)

type ChatEvent struct {
	Player  string
	Message string
}

// ExtractChat extracts a chat event from a trimmed log line. Lines
// containing a self-origin marker, lines not matching the chat
// pattern, and chat spoken by the bridge's own identity yield ok=false.
func ExtractChat(line string) (ChatEvent, bool) {
	if strings.Contains(line, rconEchoMarker) || strings.Contains(line, outboundMarker) {
		return ChatEvent{}, false
	}
	m := chatPattern.FindStringSubmatch(line)
	if m == nil {
		return ChatEvent{}, false
	}
	if m[1] == bridgeIdentity {
		return ChatEvent{}, false
	}
	return ChatEvent{Player: m[1], Message: m[2]}, true
}

// Sanitize makes platform text safe to embed in a server say command:
// line breaks become spaces and double quotes are downgraded so the
// command cannot be broken out of.
func Sanitize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return strings.ReplaceAll(s, `"`, "'")
}
