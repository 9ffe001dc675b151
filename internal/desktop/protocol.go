package desktop

import "encoding/json"

// Desktop companions speak newline-delimited JSON over the Unix socket.
const (
	// companion → bridge
	EventClientUp = "client_up"

	// bridge → companion
	EventRegisterUUID = "register_uuid"
	EventOpenElement  = "open_element"
)

// Inbound is a message from a desktop companion.
type Inbound struct {
	Event        string   `json:"event"`
	UtilizedAPIs []string `json:"utilized_apis,omitempty"`
}

// Outbound is a message pushed to desktop companions.
type Outbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Registration tells a companion which browser session is live.
type Registration struct {
	UUID           string `json:"uuid"`
	ExpirationTime string `json:"expirationTime"`
	Referrer       string `json:"referrer"`
}
