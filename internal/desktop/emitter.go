package desktop

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Emitter pushes bridge events to every connected desktop companion,
// stamping each with the gateway's referrer.
type Emitter struct {
	registry *Registry
	referrer string
}

func NewEmitter(registry *Registry, referrer string) *Emitter {
	return &Emitter{registry: registry, referrer: referrer}
}

func (e *Emitter) registration(uuid string, expiration time.Time) (Outbound, error) {
	data, err := json.Marshal(Registration{
		UUID:           uuid,
		ExpirationTime: expiration.UTC().Format(time.RFC3339Nano),
		Referrer:       e.referrer,
	})
	if err != nil {
		return Outbound{}, err
	}
	return Outbound{Event: EventRegisterUUID, Data: data}, nil
}

// RegisterUUID announces a newly authorised session to every companion.
func (e *Emitter) RegisterUUID(uuid string, expiration time.Time) {
	msg, err := e.registration(uuid, expiration)
	if err != nil {
		slog.Error("desktop: encode registration", "uuid", uuid, "err", err)
		return
	}
	slog.Info("desktop: registering session", "uuid", uuid, "companions", e.registry.Count())
	e.send(msg)
}

// SendRegistration tells a single companion about the live session.
func (e *Emitter) SendRegistration(c *Conn, uuid string, expiration time.Time) error {
	msg, err := e.registration(uuid, expiration)
	if err != nil {
		return err
	}
	return c.Send(msg)
}

// Forward relays a browser event to every companion. params must be a JSON
// object; referrer is added to it.
func (e *Emitter) Forward(event string, params json.RawMessage) error {
	fields := make(map[string]json.RawMessage)
	if len(params) > 0 && string(params) != "null" {
		if err := json.Unmarshal(params, &fields); err != nil {
			return fmt.Errorf("forward %s: params: %w", event, err)
		}
	}
	ref, _ := json.Marshal(e.referrer)
	fields["referrer"] = ref

	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("forward %s: %w", event, err)
	}
	e.send(Outbound{Event: event, Data: data})
	return nil
}

func (e *Emitter) send(msg Outbound) {
	for _, c := range e.registry.Conns() {
		if err := c.Send(msg); err != nil {
			slog.Warn("desktop: send failed", "conn", c.ID, "event", msg.Event, "err", err)
		}
	}
}
