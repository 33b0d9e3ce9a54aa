package rcon

import (
	"context"
	"time"
)

const probeInterval = time.Second

// WaitReady polls until the server accepts commands: once per second
// it opens a fresh session and issues a harmless "list". Returns true
// on the first success, false once the timeout elapses or ctx is
// cancelled. Connection errors between attempts are swallowed.
func WaitReady(ctx context.Context, addr, password string, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(probeInterval)
	defer tick.Stop()
	for {
		if _, err := Exec(addr, password, "list"); err == nil {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-tick.C:
		}
	}
}
