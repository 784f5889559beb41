// Package events defines the event types flowing through the gateway's
// publish-subscribe bus.
package events

// EventType identifies an event category.
type EventType string

const (
	// Session lifecycle
	EventSessionOpened EventType = "session_opened"
	EventSessionClosed EventType = "session_closed"
	EventSessionKicked EventType = "session_kicked"
	EventAuthFailed    EventType = "auth_failed"

	// Operator actions
	EventAnnounce      EventType = "announce"
	EventConfigChanged EventType = "config_changed"

	// System events
	EventNotifyMQTT EventType = "notify_mqtt"
	EventShutdown   EventType = "shutdown"
)

// Event is a single message on the bus.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// SessionOpenedPayload is emitted after a handshake completes and the
// session is registered.
type SessionOpenedPayload struct {
	ConnID      string
	AccountID   uint32
	AccountName string
	RemoteIP    string
	Build       uint32
}

// SessionClosedPayload is emitted once per connection teardown.
type SessionClosedPayload struct {
	ConnID      string
	AccountID   uint32
	AccountName string
	Reason      string
}

// SessionKickedPayload is emitted when the server forcibly closes a
// session, before the matching SessionClosed event.
type SessionKickedPayload struct {
	ConnID      string
	AccountID   uint32
	AccountName string
	Reason      string
}

// AuthFailedPayload is emitted for every rejected handshake.
type AuthFailedPayload struct {
	Account  string
	RemoteIP string
	Code     string
	Reason   string
}

// AnnouncePayload carries a world-wide broadcast requested by an
// operator.
type AnnouncePayload struct {
	Text string
}

// ConfigChangedPayload is emitted when a config section is replaced at
// runtime.
type ConfigChangedPayload struct {
	Section string
}
