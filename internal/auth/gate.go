package auth

// Gate is the allow-list check run before any management command takes
// effect. It is pure set membership: no side effects, no external
// lookups.
type Gate struct {
	disabled bool
	channel  string
	users    map[string]struct{}
	roles    map[string]struct{}
}

// NewGate builds a gate. channel restricts commands to one channel id
// (empty means no restriction); disabled admits every caller.
func NewGate(disabled bool, channel string, users, roles []string) *Gate {
	g := &Gate{
		disabled: disabled,
		channel:  channel,
		users:    make(map[string]struct{}, len(users)),
		roles:    make(map[string]struct{}, len(roles)),
	}
	for _, u := range users {
		g.users[u] = struct{}{}
	}
	for _, r := range roles {
		g.roles[r] = struct{}{}
	}
	return g
}

// AllowChannel reports whether commands may be issued from the given
// channel.
func (g *Gate) AllowChannel(channelID string) bool {
	return g.channel == "" || g.channel == channelID
}

// Allow reports whether the caller may run management commands: admit
// unconditionally when restriction is disabled, otherwise the caller's
// id or one of its roles must be in an allow set.
func (g *Gate) Allow(userID string, roleIDs []string) bool {
	if g.disabled {
		return true
	}
	if _, ok := g.users[userID]; ok {
		return true
	}
	for _, r := range roleIDs {
		if _, ok := g.roles[r]; ok {
			return true
		}
	}
	return false
}
