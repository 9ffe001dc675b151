package gateway

import (
	"encoding/json"
	"log/slog"

	"github.com/ehrlich-b/deskbridge/internal/ws"
)

// Broadcast sends text to every open client. Clients that are closing or
// closed are skipped; write failures are logged, never returned.
func (g *Gateway) Broadcast(text []byte) {
	g.mu.Lock()
	clients := g.snapshotLocked()
	g.mu.Unlock()

	for _, c := range clients {
		if !c.open() {
			continue
		}
		if err := c.write(g.ctx, text); err != nil {
			slog.Debug("gateway: broadcast write", "client", c.id, "err", err)
		}
	}
}

// BroadcastKeyReady tells every client that uuid's key is installed.
func (g *Gateway) BroadcastKeyReady(uuid string) {
	b := g.stateBroadcast()
	b.EventName = ws.EventKeyReady
	b.UUID = uuid
	g.broadcastJSON(b)
}

// BroadcastUnixConnectionCount tells every client the current companion
// count and capability set.
func (g *Gateway) BroadcastUnixConnectionCount() {
	g.broadcastJSON(g.stateBroadcast())
}

func (g *Gateway) stateBroadcast() ws.Broadcast {
	return ws.Broadcast{
		EventName:           ws.EventUpdatedUnixClientState,
		UnixConnectionCount: g.registry.Count(),
		UnixUtilizedAPIs:    g.registry.UtilizedAPIs(),
	}
}

func (g *Gateway) broadcastJSON(v ws.Broadcast) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("gateway: encode broadcast", "event", v.EventName, "err", err)
		return
	}
	slog.Debug("gateway: broadcast", "event", v.EventName, "unix_connection_count", v.UnixConnectionCount)
	g.Broadcast(data)
}
