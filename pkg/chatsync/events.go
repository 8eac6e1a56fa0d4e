package chatsync

// EventType says what changed on a session.
type EventType int

const (
	// EventMessages carries messages newly added to the store, in the
	// order they were appended.
	EventMessages EventType = iota
	// EventConnectivity flips when polling starts or stops failing.
	EventConnectivity
	// EventSessionInvalid fires once when the server rejects the token.
	EventSessionInvalid
	// EventUpload carries an upload ticket whose status changed.
	EventUpload
)

// Event is what a session pushes to its renderer.
type Event struct {
	Type      EventType
	Messages  []Message
	Connected bool
	Ticket    Ticket
}
