// Package activity appends to the platform's activity feed and, when asked,
// republishes the event to connected clients through the socket queue.
package activity

import (
	"encoding/json"
	"time"

	"github.com/uptrace/bun"
)

// Activity is one append-only feed entry
type Activity struct {
	bun.BaseModel `bun:"table:lb.activities,alias:a"`

	ID         string          `bun:"id,pk,default:gen_random_uuid()" json:"id"`
	ActorID    string          `bun:"actor_id,nullzero" json:"actorId,omitempty"`
	Verb       string          `bun:"verb" json:"verb"`
	ObjectKind string          `bun:"object_kind" json:"objectKind"`
	ObjectID   string          `bun:"object_id,nullzero" json:"objectId,omitempty"`
	Data       json.RawMessage `bun:"data,type:jsonb" json:"data,omitempty"`
	CreatedAt  time.Time       `bun:"created_at,nullzero,default:now()" json:"createdAt"`
}
