package event

import "time"

// DomainEventEnvelope is the canonical envelope consumed across services.
// NOTE: message_id is optional for backward compatibility.
type DomainEventEnvelope[T any] struct {
	Version    int       `json:"version"`
	Producer   string    `json:"producer"`
	TraceID    string    `json:"trace_id,omitempty"`
	MessageID  string    `json:"message_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    T         `json:"payload"`
}

// Payloads published via the outbox. Consumers tolerate extra fields, so
// producers may extend these without a version bump.

type WaitlistJoinedPayload struct {
	DropID        string `json:"drop_id"`
	UserID        string `json:"user_id"`
	PriorityScore int    `json:"priority_score"`
}

type WaitlistLeftPayload struct {
	DropID string `json:"drop_id"`
	UserID string `json:"user_id"`
}

type ClaimCreatedPayload struct {
	DropID    string `json:"drop_id"`
	UserID    string `json:"user_id"`
	ClaimCode string `json:"claim_code"`
	Rank      int    `json:"rank,omitempty"`
}
