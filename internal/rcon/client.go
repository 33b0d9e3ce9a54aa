package rcon

import (
	"errors"
	"fmt"
	"net"
	"time"
)

const ioTimeout = 5 * time.Second

// Client is a single RCON session. Sessions are cheap and opened per
// call site; nothing here pools or reuses connections.
type Client struct {
	conn      net.Conn
	requestID int32
}

// Dial opens a TCP connection with a bounded timeout and authenticates.
// A response carrying request id -1, or a server that closes the
// connection outright, means the credential was rejected.
func Dial(addr, password string) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, ioTimeout)
	if err != nil {
		return nil, fmt.Errorf("rcon: dial %s: %w", addr, err)
	}
	c := &Client{conn: conn}
	resp, err := c.roundTrip(typeLogin, password)
	if err != nil {
		_ = conn.Close()
		if errors.Is(err, ErrClosed) {
			return nil, ErrAuth
		}
		return nil, err
	}
	if resp.requestID == authFailedID {
		_ = conn.Close()
		return nil, ErrAuth
	}
	return c, nil
}

// Command sends one command and reads exactly one response packet.
// Multi-packet responses are not aggregated; callers needing very long
// output must truncate.
func (c *Client) Command(text string) (string, error) {
	if c.conn == nil {
		return "", ErrClosed
	}
	resp, err := c.roundTrip(typeCommand, text)
	if err != nil {
		return "", err
	}
	if resp.requestID == authFailedID {
		return "", ErrAuth
	}
	return payloadText(resp.payload), nil
}

// Close is idempotent.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) roundTrip(kind int32, payload string) (packet, error) {
	c.requestID++
	_ = c.conn.SetDeadline(time.Now().Add(ioTimeout))
	if err := writePacket(c.conn, packet{requestID: c.requestID, kind: kind, payload: []byte(payload)}); err != nil {
		return packet{}, fmt.Errorf("rcon: write: %w", err)
	}
	return readPacket(c.conn)
}

// Exec runs a single command over a fresh session. The session is
// closed on every path.
func Exec(addr, password, command string) (string, error) {
	c, err := Dial(addr, password)
	if err != nil {
		return "", err
	}
	defer c.Close()
	return c.Command(command)
}
