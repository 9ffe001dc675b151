package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ehrlich-b/deskbridge/internal/auth"
	"github.com/ehrlich-b/deskbridge/internal/desktop"
	"github.com/ehrlich-b/deskbridge/internal/fsops"
	"github.com/ehrlich-b/deskbridge/internal/ws"
)

// handlerFunc runs one signed event. A nil payload with respond false
// means the event is fire-and-forget.
type handlerFunc func(g *Gateway, params json.RawMessage) (payload any, respond bool, err error)

var handlers = map[string]handlerFunc{
	ws.EventReadFile:    handleReadFile,
	ws.EventWriteFile:   handleWriteFile,
	ws.EventExists:      handleExists,
	ws.EventLs:          handleLs,
	ws.EventTree:        handleTree,
	ws.EventOpenElement: handleOpenElement,
}

// handleFrame processes one inbound text frame. Nothing it does may take
// down the connection: failures are logged and the message is dropped.
func (g *Gateway) handleFrame(c *client, data []byte) {
	var msg ws.Message
	defer func() {
		if r := recover(); r != nil {
			slog.Error("gateway: handler panic", "client", c.id, "event", msg.EventName, "panic", r)
		}
	}()

	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Warn("gateway: dropping malformed message", "client", c.id, "err", err)
		return
	}

	if msg.EventName == ws.EventKeyRegistered {
		g.handleKeyRegistered(c, &msg)
		return
	}

	h, ok := handlers[msg.EventName]
	if !ok || !ws.IsSigned(msg.EventName) {
		slog.Warn("gateway: dropping message", "client", c.id, "event", msg.EventName, "err", ErrUnknownEvent)
		return
	}

	if err := g.verify(&msg); err != nil {
		slog.Warn("gateway: dropping unverified message", "client", c.id, "event", msg.EventName, "err", err)
		return
	}

	payload, respond, err := h(g, msg.Params)
	if err != nil {
		slog.Error("gateway: handler failed", "client", c.id, "event", msg.EventName, "message_id", string(msg.MessageID), "err", err)
		return
	}
	if !respond {
		return
	}

	resp := ws.Response{EventResponse: msg.EventName, MessageID: msg.MessageID, Payload: payload}
	if err := c.writeJSON(g.ctx, resp); err != nil {
		slog.Warn("gateway: send response", "client", c.id, "event", msg.EventName, "err", err)
	}
}

func (g *Gateway) handleKeyRegistered(c *client, msg *ws.Message) {
	id := msg.UUID
	if id == "" && len(msg.Params) > 0 {
		var p struct {
			UUID string `json:"uuid"`
		}
		json.Unmarshal(msg.Params, &p)
		id = p.UUID
	}
	if id == "" {
		slog.Error("gateway: key_registered without uuid", "client", c.id, "err", ErrMissingField)
		return
	}
	if _, err := uuid.Parse(id); err != nil {
		slog.Error("gateway: key_registered with invalid uuid", "client", c.id, "uuid", id, "err", err)
		return
	}
	g.fetcher.StartFetching(id)
}

// verify checks msg's signature against the current session key.
func (g *Gateway) verify(msg *ws.Message) error {
	key, ok := g.keys.ValidKey()
	if !ok {
		return auth.ErrNoKey
	}
	payload, err := msg.SigningPayload()
	if err != nil {
		return fmt.Errorf("%w: %v", auth.ErrInvalidSignature, err)
	}
	return g.verifier.Verify(payload, msg.Signature, key)
}

func decodeParams(params json.RawMessage, v any) error {
	if len(params) == 0 {
		return fmt.Errorf("%w: params", ErrMissingField)
	}
	if err := json.Unmarshal(params, v); err != nil {
		return fmt.Errorf("params: %w", err)
	}
	return nil
}

func filePathParams(params json.RawMessage) (string, error) {
	var p ws.ReadFileParams
	if err := decodeParams(params, &p); err != nil {
		return "", err
	}
	if p.FilePath == "" {
		return "", fmt.Errorf("%w: filePath", ErrMissingField)
	}
	return p.FilePath, nil
}

func handleReadFile(g *Gateway, params json.RawMessage) (any, bool, error) {
	path, err := filePathParams(params)
	if err != nil {
		return nil, false, err
	}
	content, err := g.fs.ReadFile(path)
	if err != nil {
		return nil, false, err
	}
	return ws.FilePayload{FilePath: path, Response: content}, true, nil
}

func handleWriteFile(g *Gateway, params json.RawMessage) (any, bool, error) {
	var p ws.WriteFileParams
	if err := decodeParams(params, &p); err != nil {
		return nil, false, err
	}
	if p.FilePath == "" {
		return nil, false, fmt.Errorf("%w: filePath", ErrMissingField)
	}
	ok, err := g.fs.WriteFile(p.FilePath, p.Content, p.Encoding)
	if err != nil {
		return nil, false, err
	}
	return ws.FilePayload{FilePath: p.FilePath, Response: ok}, true, nil
}

func handleExists(g *Gateway, params json.RawMessage) (any, bool, error) {
	path, err := filePathParams(params)
	if err != nil {
		return nil, false, err
	}
	return ws.FilePayload{FilePath: path, Response: g.fs.Exists(path)}, true, nil
}

func handleLs(g *Gateway, params json.RawMessage) (any, bool, error) {
	var p ws.LsParams
	if err := decodeParams(params, &p); err != nil {
		return nil, false, err
	}
	if p.FilePath == "" {
		return nil, false, fmt.Errorf("%w: filePath", ErrMissingField)
	}
	var opts fsops.ListOptions
	if p.Options != nil {
		opts = fsops.ListOptions{
			Recursive:       p.Options.Recursive,
			FilesOnly:       p.Options.FilesOnly,
			DirectoriesOnly: p.Options.DirectoriesOnly,
		}
	}
	entries, err := g.fs.List(p.FilePath, opts)
	if err != nil {
		return nil, false, err
	}
	return ws.FilePayload{FilePath: p.FilePath, Response: entries}, true, nil
}

func handleTree(g *Gateway, params json.RawMessage) (any, bool, error) {
	path, err := filePathParams(params)
	if err != nil {
		return nil, false, err
	}
	node, err := g.fs.Tree(path)
	if err != nil {
		return nil, false, err
	}
	return ws.FilePayload{FilePath: path, Response: node}, true, nil
}

func handleOpenElement(g *Gateway, params json.RawMessage) (any, bool, error) {
	var p ws.OpenElementParams
	if err := decodeParams(params, &p); err != nil {
		return nil, false, err
	}
	if p.FilePath == "" {
		return nil, false, fmt.Errorf("%w: file_path", ErrMissingField)
	}
	return nil, false, g.forward.Forward(desktop.EventOpenElement, params)
}
