// Package counters maintains the denormalized aggregate columns on stories
// and replies. Counts are always recomputed from the vote and reply tables,
// never incremented, so replayed or duplicated jobs converge on the same
// value.
package counters

import (
	"time"

	"github.com/uptrace/bun"
)

// Story carries the aggregate columns the counter pipeline maintains.
// Row creation belongs to the CRUD layer; this package only updates counts.
type Story struct {
	bun.BaseModel `bun:"table:lb.stories,alias:s"`

	ID         string    `bun:"id,pk" json:"id"`
	AuthorID   string    `bun:"author_id" json:"authorId"`
	Title      string    `bun:"title" json:"title"`
	Slug       string    `bun:"slug" json:"slug"`
	VoteCount  int       `bun:"vote_count" json:"voteCount"`
	ReplyCount int       `bun:"reply_count" json:"replyCount"`
	UpdatedAt  time.Time `bun:"updated_at" json:"updatedAt"`
}

// Reply is a response to a story
type Reply struct {
	bun.BaseModel `bun:"table:lb.replies,alias:r"`

	ID        string    `bun:"id,pk" json:"id"`
	StoryID   string    `bun:"story_id" json:"storyId"`
	AuthorID  string    `bun:"author_id" json:"authorId"`
	VoteCount int       `bun:"vote_count" json:"voteCount"`
	UpdatedAt time.Time `bun:"updated_at" json:"updatedAt"`
}

// Vote is the source of truth for vote counts. One row per (entity, user).
type Vote struct {
	bun.BaseModel `bun:"table:lb.votes,alias:v"`

	ID         string    `bun:"id,pk" json:"id"`
	EntityKind string    `bun:"entity_kind" json:"entityKind"`
	EntityID   string    `bun:"entity_id" json:"entityId"`
	UserID     string    `bun:"user_id" json:"userId"`
	CreatedAt  time.Time `bun:"created_at" json:"createdAt"`
}
