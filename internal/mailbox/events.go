package mailbox

import "time"

// Lifecycle event types.
const (
	EventConnected    = "mailbox.connected"
	EventDisconnected = "mailbox.disconnected"
	EventRemoved      = "mailbox.removed"
)

// Event describes a connection lifecycle transition. It never carries tokens.
type Event struct {
	Type           string    `json:"type"`
	ConnectionID   string    `json:"connection_id,omitempty"`
	OrganizationID string    `json:"organization_id"`
	Email          string    `json:"email"`
	Provider       Provider  `json:"provider"`
	Active         bool      `json:"active"`
	Reason         string    `json:"reason,omitempty"`
	WatchHandle    string    `json:"watch_handle,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Attributes are attached to the published message for subscription filters.
func (e Event) Attributes() map[string]string {
	return map[string]string{
		"event_type":      e.Type,
		"organization_id": e.OrganizationID,
		"provider":        string(e.Provider),
	}
}

func newEvent(kind string, conn Connection, at time.Time) Event {
	ev := Event{
		Type:           kind,
		ConnectionID:   conn.ID,
		OrganizationID: conn.OrganizationID,
		Email:          conn.Email,
		Provider:       conn.Provider,
		Active:         conn.Active(),
		OccurredAt:     at,
	}
	if conn.State != nil {
		ev.WatchHandle = conn.State.Watch().Handle
	}
	if d, ok := conn.State.(Disconnected); ok {
		ev.Reason = d.Reason
	}
	return ev
}
