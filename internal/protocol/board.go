package protocol

import (
	"slices"

	"github.com/fenggwsx/SlashBoard/internal/board"
)

// MessageRecord is the wire shape of a board message. Optional fields are
// omitted when unset so that absent and zero stay distinguishable.
type MessageRecord struct {
	ID        uint64   `json:"id"`
	Author    string   `json:"author"`
	Content   string   `json:"content"`
	CreatedAt uint64   `json:"created_at"`
	UpdatedAt *uint64  `json:"updated_at,omitempty"`
	Likes     uint32   `json:"likes"`
	Replies   []uint64 `json:"replies"`
	ParentID  *uint64  `json:"parent_id,omitempty"`
}

// CreateMessageRequest posts a message, optionally replying to ParentID.
type CreateMessageRequest struct {
	Content  string  `json:"content"`
	ParentID *uint64 `json:"parent_id,omitempty"`
}

// MessageIDRequest addresses a single message.
type MessageIDRequest struct {
	ID uint64 `json:"id"`
}

// UpdateMessageRequest replaces the content of a message.
type UpdateMessageRequest struct {
	ID      uint64 `json:"id"`
	Content string `json:"content"`
}

// AuthorRequest selects an author either by principal or by username.
// An empty request means the caller.
type AuthorRequest struct {
	Author   string `json:"author,omitempty"`
	Username string `json:"username,omitempty"`
}

// WatchRequest subscribes to or leaves a broadcast topic.
type WatchRequest struct {
	Topic string `json:"topic"`
}

// MessageList answers a by-author query.
type MessageList struct {
	Author   string          `json:"author"`
	Messages []MessageRecord `json:"messages"`
}

// DeletedStatus answers a deletion check.
type DeletedStatus struct {
	ID      uint64 `json:"id"`
	Deleted bool   `json:"deleted"`
}

// AuthorCount reports the live message count of an author.
type AuthorCount struct {
	Author string `json:"author"`
	Count  uint32 `json:"count"`
}

// MessageRemoved is broadcast after a delete.
type MessageRemoved struct {
	ID       uint64  `json:"id"`
	Author   string  `json:"author"`
	ParentID *uint64 `json:"parent_id,omitempty"`
}

// FromBoard converts a store snapshot into its wire record.
func FromBoard(m board.Message) MessageRecord {
	replies := slices.Clone(m.Replies)
	if replies == nil {
		replies = []uint64{}
	}
	return MessageRecord{
		ID:        m.ID,
		Author:    string(m.Author),
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
		UpdatedAt: copyID(m.UpdatedAt),
		Likes:     m.Likes,
		Replies:   replies,
		ParentID:  copyID(m.ParentID),
	}
}

// FromBoardList converts a slice of snapshots, never returning nil.
func FromBoardList(messages []board.Message) []MessageRecord {
	out := make([]MessageRecord, 0, len(messages))
	for _, m := range messages {
		out = append(out, FromBoard(m))
	}
	return out
}

func copyID(v *uint64) *uint64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
