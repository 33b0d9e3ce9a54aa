package docker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"
)

// Status is the normalized container state the rest of the system
// branches on.
type Status string

const (
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusAbsent  Status = "absent"
	StatusError   Status = "error"
)

var ErrNotFound = errors.New("docker: container not found")

type Container struct {
	ID     string
	Name   string
	Status Status
}

type Client struct {
	http *http.Client
}

type containerInspect struct {
	ID    string `json:"Id"`
	Name  string `json:"Name"`
	State struct {
		Status string `json:"Status"`
	} `json:"State"`
}

func NewClient(socketPath string) *Client {
	dialer := &net.Dialer{Timeout: 3 * time.Second}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, "unix", socketPath)
		},
	}
	return &Client{http: &http.Client{Transport: transport, Timeout: 30 * time.Second}}
}

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/_ping")
	return err
}

// Inspect resolves a container by name. The handle is derived per call
// and never cached.
func (c *Client) Inspect(ctx context.Context, name string) (Container, error) {
	b, err := c.do(ctx, http.MethodGet, "/containers/"+name+"/json")
	if err != nil {
		return Container{}, err
	}
	var out containerInspect
	if err := json.Unmarshal(b, &out); err != nil {
		return Container{}, err
	}
	return Container{
		ID:     out.ID,
		Name:   strings.TrimPrefix(out.Name, "/"),
		Status: normalizeStatus(out.State.Status),
	}, nil
}

// Running reports whether the named container exists and is running.
func (c *Client) Running(ctx context.Context, name string) bool {
	ct, err := c.Inspect(ctx, name)
	return err == nil && ct.Status == StatusRunning
}

func (c *Client) Start(ctx context.Context, name string) error {
	_, err := c.do(ctx, http.MethodPost, "/containers/"+name+"/start")
	return err
}

// Stop signals a graceful stop and lets the daemon kill the container
// after the timeout. The HTTP client deadline has to outlast the stop
// timeout, so the request carries its own context.
func (c *Client) Stop(ctx context.Context, name string, timeout time.Duration) error {
	secs := int(timeout / time.Second)
	p := "/containers/" + name + "/stop?t=" + strconv.Itoa(secs)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://unix"+p, nil)
	if err != nil {
		return err
	}
	client := &http.Client{Transport: c.http.Transport, Timeout: timeout + 30*time.Second}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	return checkStatus(res, http.MethodPost, p)
}

// Logs returns the last tail lines of container output as text.
func (c *Client) Logs(ctx context.Context, name string, tail int) (string, error) {
	q := url.Values{}
	q.Set("stdout", "1")
	q.Set("stderr", "1")
	q.Set("tail", strconv.Itoa(tail))
	b, err := c.do(ctx, http.MethodGet, path.Join("/containers", name, "logs")+"?"+q.Encode())
	if err != nil {
		return "", err
	}
	out, err := io.ReadAll(NewFrameReader(bytes.NewReader(b)))
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// FollowLogs attaches to the container's live output with follow
// semantics and no historical backlog. The returned reader yields raw
// log bytes with the stream multiplex framing already stripped; it
// unblocks when ctx is cancelled.
func (c *Client) FollowLogs(ctx context.Context, name string) (io.ReadCloser, error) {
	q := url.Values{}
	q.Set("stdout", "1")
	q.Set("stderr", "1")
	q.Set("follow", "1")
	q.Set("tail", "0")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://unix"+path.Join("/containers", name, "logs")+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	// No overall timeout: the stream lives until cancelled.
	client := &http.Client{Transport: c.http.Transport}
	res, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(res, http.MethodGet, "logs"); err != nil {
		res.Body.Close()
		return nil, err
	}
	return &logStream{r: NewFrameReader(res.Body), c: res.Body}, nil
}

type logStream struct {
	r io.Reader
	c io.Closer
}

func (s *logStream) Read(p []byte) (int, error) { return s.r.Read(p) }
func (s *logStream) Close() error               { return s.c.Close() }

func (c *Client) do(ctx context.Context, method, p string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, "http://unix"+p, nil)
	if err != nil {
		return nil, err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	b, err := io.ReadAll(io.LimitReader(res.Body, 10<<20))
	if err != nil {
		return nil, err
	}
	if err := checkStatusBody(res, method, p, b); err != nil {
		return nil, err
	}
	return b, nil
}

func checkStatus(res *http.Response, method, p string) error {
	if res.StatusCode < 300 {
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
	return checkStatusBody(res, method, p, b)
}

func checkStatusBody(res *http.Response, method, p string, body []byte) error {
	switch {
	case res.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case res.StatusCode == http.StatusNotModified:
		// Start on a running container / stop on a stopped one.
		return nil
	case res.StatusCode >= 300:
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = res.Status
		}
		return fmt.Errorf("docker api %s %s failed: %s", method, p, msg)
	}
	return nil
}

func normalizeStatus(s string) Status {
	switch s {
	case "running":
		return StatusRunning
	case "created", "exited", "paused", "restarting":
		return StatusStopped
	case "dead", "removing":
		return StatusError
	case "":
		return StatusAbsent
	default:
		return StatusError
	}
}
