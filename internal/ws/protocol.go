package ws

import (
	"bytes"
	"encoding/json"
)

// Event names for the browser WebSocket protocol.
const (
	// Browser → bridge, unsigned bootstrap
	EventKeyRegistered = "key_registered"

	// Browser → bridge, signed
	EventReadFile    = "read_file"
	EventWriteFile   = "write_file"
	EventExists      = "exists"
	EventLs          = "ls"
	EventTree        = "tree"
	EventOpenElement = "open_element" // forwarded to desktop, no response

	// Bridge → all browsers
	EventKeyReady               = "key_ready"
	EventUpdatedUnixClientState = "updated_unix_client_state"
)

var signedEvents = map[string]bool{
	EventReadFile:    true,
	EventWriteFile:   true,
	EventExists:      true,
	EventLs:          true,
	EventTree:        true,
	EventOpenElement: true,
}

// IsSigned reports whether name is one of the events that must carry a
// valid signature.
func IsSigned(name string) bool {
	return signedEvents[name]
}

// Message is an inbound browser message. Params and MessageID are kept
// raw so the signed payload and the echoed id match the sender's bytes.
type Message struct {
	EventName string          `json:"event_name"`
	Params    json.RawMessage `json:"params,omitempty"`
	MessageID json.RawMessage `json:"message_id,omitempty"`
	Signature string          `json:"signature,omitempty"`
	UUID      string          `json:"uuid,omitempty"` // key_registered only
}

// SigningPayload returns the canonical bytes the browser signed:
// compact {"event_name","params","message_id"} in that order, without
// the signature. Absent fields are omitted.
func (m *Message) SigningPayload() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"event_name":`)
	if err := writeString(&buf, m.EventName); err != nil {
		return nil, err
	}
	if len(m.Params) > 0 {
		buf.WriteString(`,"params":`)
		if err := json.Compact(&buf, m.Params); err != nil {
			return nil, err
		}
	}
	if len(m.MessageID) > 0 {
		buf.WriteString(`,"message_id":`)
		if err := json.Compact(&buf, m.MessageID); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeString(buf *bytes.Buffer, s string) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	buf.Truncate(buf.Len() - 1) // Encode appends '\n'
	return nil
}

// ReadFileParams are the params of read_file, exists and tree.
type ReadFileParams struct {
	FilePath string `json:"filePath"`
}

type WriteFileParams struct {
	FilePath string `json:"filePath"`
	Content  string `json:"content"`
	Encoding string `json:"encoding,omitempty"` // "utf8" (default) or "base64"
}

type LsOptions struct {
	Recursive       bool `json:"recursive,omitempty"`
	FilesOnly       bool `json:"filesOnly,omitempty"`
	DirectoriesOnly bool `json:"directoriesOnly,omitempty"`
}

type LsParams struct {
	FilePath string     `json:"filePath"`
	Options  *LsOptions `json:"options,omitempty"`
}

type OpenElementParams struct {
	FilePath     string `json:"file_path"`
	LineNumber   int    `json:"line_number"`
	ColumnNumber int    `json:"column_number"`
}

// Response answers one request; MessageID echoes the request's.
type Response struct {
	EventResponse string          `json:"event_response"`
	MessageID     json.RawMessage `json:"message_id"`
	Payload       any             `json:"payload"`
}

// FilePayload wraps a filesystem result.
type FilePayload struct {
	FilePath string `json:"filePath"`
	Response any    `json:"response"`
}

// Broadcast is sent to every browser, uncorrelated with any request.
type Broadcast struct {
	EventName           string   `json:"event_name"`
	UnixConnectionCount int      `json:"unix_connection_count"`
	UnixUtilizedAPIs    []string `json:"unix_utilized_apis"`
	UUID                string   `json:"uuid,omitempty"` // key_ready only
}
