package rcon

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

// startFakeServer runs a minimal RCON server on a loopback port. The
// handler maps command payloads to response payloads.
func startFakeServer(t *testing.T, password string, handler func(cmd string) string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go serveFake(ln, password, handler)
	return ln.Addr().String()
}

func serveFake(ln net.Listener, password string, handler func(string) string) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go func(conn net.Conn) {
			defer conn.Close()
			login, err := readPacket(conn)
			if err != nil {
				return
			}
			if string(login.payload) != password {
				_ = writePacket(conn, packet{requestID: authFailedID, kind: typeResponse})
				return
			}
			_ = writePacket(conn, packet{requestID: login.requestID, kind: typeResponse})
			for {
				req, err := readPacket(conn)
				if err != nil {
					return
				}
				resp := handler(string(req.payload))
				if err := writePacket(conn, packet{requestID: req.requestID, kind: typeResponse, payload: []byte(resp)}); err != nil {
					return
				}
			}
		}(conn)
	}
}

func TestExecRunsCommand(t *testing.T) {
	addr := startFakeServer(t, "hunter2", func(cmd string) string {
		if cmd == "list" {
			return "There are 2 of a max of 20 players online"
		}
		return "unknown command"
	})

	out, err := Exec(addr, "hunter2", "list")
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if out != "There are 2 of a max of 20 players online" {
		t.Fatalf("got %q", out)
	}
}

func TestDialRejectsBadPassword(t *testing.T) {
	addr := startFakeServer(t, "hunter2", func(string) string { return "" })

	_, err := Dial(addr, "wrong")
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("err = %v, want ErrAuth", err)
	}
}

func TestDialUnreachable(t *testing.T) {
	// Reserve a port, then close it so nothing is listening.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	if _, err := Dial(addr, "pw"); err == nil {
		t.Fatal("Dial succeeded against a closed port")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	addr := startFakeServer(t, "pw", func(string) string { return "ok" })
	c, err := Dial(addr, "pw")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, err := c.Command("list"); !errors.Is(err, ErrClosed) {
		t.Fatalf("command after close: err = %v, want ErrClosed", err)
	}
}

func TestRequestIDIncrements(t *testing.T) {
	var ids []int32
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		for i := 0; i < 3; i++ {
			p, err := readPacket(conn)
			if err != nil {
				return
			}
			ids = append(ids, p.requestID)
			_ = writePacket(conn, packet{requestID: p.requestID, kind: typeResponse})
		}
	}()

	c, err := Dial(ln.Addr().String(), "pw")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	if _, err := c.Command("a"); err != nil {
		t.Fatalf("command a: %v", err)
	}
	if _, err := c.Command("b"); err != nil {
		t.Fatalf("command b: %v", err)
	}
	<-done

	want := []int32{1, 2, 3}
	for i, id := range ids {
		if id != want[i] {
			t.Fatalf("request ids = %v, want %v", ids, want)
		}
	}
}

func TestWaitReadyDelayedServer(t *testing.T) {
	// Reserve an address, release it, and bring the server up late.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	go func() {
		time.Sleep(1200 * time.Millisecond)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return
		}
		go serveFake(ln, "pw", func(string) string { return "ok" })
	}()

	start := time.Now()
	if !WaitReady(context.Background(), addr, "pw", 10*time.Second) {
		t.Fatal("WaitReady = false, want true")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("took %v, want a few seconds at most", elapsed)
	}
}

func TestWaitReadyTimesOut(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	start := time.Now()
	if WaitReady(context.Background(), addr, "pw", 1500*time.Millisecond) {
		t.Fatal("WaitReady = true against a dead address")
	}
	if elapsed := time.Since(start); elapsed < 1400*time.Millisecond {
		t.Fatalf("returned after %v, before the timeout elapsed", elapsed)
	}
}
