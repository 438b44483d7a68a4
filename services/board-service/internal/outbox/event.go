package outbox

// TopicStatusChanged is consumed by analytics and by collaborator modules
// (messaging, payments) instead of being called synchronously from the move
// path.
const TopicStatusChanged = "appointment.status_changed.v1"

type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}
