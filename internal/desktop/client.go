package desktop

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/ehrlich-b/deskbridge/internal/backoff"
)

const (
	minReconnectDelay = time.Second
	maxReconnectDelay = 10 * time.Second
)

// Client is a desktop companion: it connects to the bridge socket,
// announces its APIs and hands every pushed event to OnEvent.
type Client struct {
	SocketPath string
	APIs       []string

	OnEvent       func(Outbound)
	OnStateChange func(state string, err error) // "connecting", "connected", "disconnected"
}

// Run connects and serves until ctx is cancelled, reconnecting with
// exponential backoff after every disconnect.
func (c *Client) Run(ctx context.Context) error {
	b := backoff.New(minReconnectDelay, maxReconnectDelay)
	for {
		c.notifyState("connecting", nil)
		connected, err := c.connectAndServe(ctx)
		if ctx.Err() != nil {
			c.notifyState("disconnected", ctx.Err())
			return ctx.Err()
		}
		if connected {
			b.Reset()
		}
		c.notifyState("disconnected", err)

		delay := b.Next()
		slog.Info("desktop: bridge disconnected, reconnecting", "in", delay, "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (c *Client) notifyState(state string, err error) {
	if c.OnStateChange != nil {
		c.OnStateChange(state, err)
	}
}

func (c *Client) connectAndServe(ctx context.Context) (connected bool, err error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "unix", c.SocketPath)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	conn := newConn("bridge", nc)
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := conn.Send(Inbound{Event: EventClientUp, UtilizedAPIs: c.APIs}); err != nil {
		return false, fmt.Errorf("announce: %w", err)
	}
	c.notifyState("connected", nil)

	scanner := bufio.NewScanner(nc)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		var msg Outbound
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			slog.Warn("desktop: bad message from bridge", "err", err)
			continue
		}
		if c.OnEvent != nil {
			c.OnEvent(msg)
		}
	}
	if err := scanner.Err(); err != nil {
		return true, fmt.Errorf("read: %w", err)
	}
	return true, fmt.Errorf("read: bridge closed connection")
}
