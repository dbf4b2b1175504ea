package event

type Type string

const (
	TypeUserRegistered  Type = "user.registered"
	TypeUserVerified    Type = "user.verified"
	TypePasswordChanged Type = "user.password_changed"
	TypeSessionsRevoked Type = "session.revoked_all"
	TypeReplayDetected  Type = "session.replay_detected"
	TypeMailRequested   Type = "mail.requested"
)

type Event struct {
	ID        string `json:"id"`
	Type      Type   `json:"type"`
	Payload   any    `json:"payload"`
	Timestamp string `json:"timestamp"`
	ActorID   string `json:"actor_id,omitempty"` // Who triggered the event
}

type Bus interface {
	Publish(e Event)
	Subscribe(types ...Type) (<-chan Event, func()) // no types means every type
}
