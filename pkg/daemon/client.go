package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Client talks to a running bar over its command socket.
type Client struct {
	path    string
	timeout time.Duration
}

// NewClient creates a client for the socket at path.
func NewClient(path string) *Client {
	return &Client{path: path, timeout: 5 * time.Second}
}

// Send sends each command on one connection and returns the replies in
// order. A reply carrying an error is returned as such, not as a Go error;
// the Go error covers transport failures only.
func (c *Client) Send(ctx context.Context, cmds ...string) ([]Reply, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.path)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", c.path, err)
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	r := bufio.NewReader(conn)
	replies := make([]Reply, 0, len(cmds))
	for _, cmd := range cmds {
		if _, err := fmt.Fprintf(conn, "%s\n", strings.TrimSpace(cmd)); err != nil {
			return replies, fmt.Errorf("send %q: %w", cmd, err)
		}
		line, err := r.ReadBytes('\n')
		if err != nil {
			return replies, fmt.Errorf("read reply to %q: %w", cmd, err)
		}
		var reply Reply
		if err := json.Unmarshal(line, &reply); err != nil {
			return replies, fmt.Errorf("decode reply to %q: %w", cmd, err)
		}
		replies = append(replies, reply)
	}
	return replies, nil
}

// Do sends one command and turns an error reply into a Go error.
func (c *Client) Do(ctx context.Context, cmd string) (Reply, error) {
	replies, err := c.Send(ctx, cmd)
	if err != nil {
		return Reply{}, err
	}
	if replies[0].Error != "" {
		return replies[0], errors.New(replies[0].Error)
	}
	return replies[0], nil
}
