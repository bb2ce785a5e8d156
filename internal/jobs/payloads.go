package jobs

import (
	"encoding/json"
	"fmt"
)

// Job kinds. Each queue carries exactly one hook's kinds; the payload shape
// is fixed per kind and resolved once at enqueue time, never re-sniffed
// inside a hook.
const (
	// KindMailSend sends one transactional email
	KindMailSend = "mail.send"
	// KindCounterRecompute re-derives one aggregate from its source rows
	KindCounterRecompute = "counter.recompute"
	// KindActivityRecord persists one activity event
	KindActivityRecord = "activity.record"
	// KindSocketAction broadcasts a server-originated event to all clients
	KindSocketAction = "socket.action"
	// KindSocketClient is an inbound client frame routed through the queue
	KindSocketClient = "socket.client"
)

// EntityKind identifies which aggregate a counter job targets
type EntityKind string

const (
	EntityStory EntityKind = "story"
	EntityReply EntityKind = "reply"
)

// MailPayload carries everything the mail hook needs to render and send
// without further database lookups.
type MailPayload struct {
	From        string `json:"from"`
	To          string `json:"to"`
	SubjectKind string `json:"subjectKind"`
	Token       string `json:"token"`
}

// CounterPayload identifies the aggregate to recompute. It never carries a
// delta; recomputation re-derives the count, so duplicate or out-of-order
// delivery converges to the same value.
type CounterPayload struct {
	EntityKind EntityKind `json:"entityKind"`
	EntityID   string     `json:"entityId"`
}

// ActivityPayload is a generic activity event. Publish controls whether the
// activity hook forwards it to the socket queue after persisting.
type ActivityPayload struct {
	ActorID    string          `json:"actorId,omitempty"`
	Verb       string          `json:"verb"`
	ObjectKind string          `json:"objectKind"`
	ObjectID   string          `json:"objectId,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Publish    bool            `json:"publish,omitempty"`
}

// SocketPayload is the frame broadcast to every open connection
type SocketPayload struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Decode unmarshals a job's payload into its tagged type
func Decode[T any](job *Job) (T, error) {
	var payload T
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return payload, fmt.Errorf("decode %s payload: %w", job.Kind, err)
	}
	return payload, nil
}
