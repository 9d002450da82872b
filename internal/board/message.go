package board

import (
	"errors"
	"slices"
)

// Principal identifies the actor behind a board operation.
type Principal string

// Message is a single post on the board. Replies and the optional
// timestamps are owned by the store; values handed out are snapshots.
type Message struct {
	ID        uint64
	Author    Principal
	Content   string
	CreatedAt uint64
	UpdatedAt *uint64
	Likes     uint32
	Replies   []uint64
	ParentID  *uint64
}

// IsReply reports whether the message answers another message.
func (m Message) IsReply() bool {
	return m.ParentID != nil
}

// Edited reports whether the content was changed after creation.
func (m Message) Edited() bool {
	return m.UpdatedAt != nil
}

func (m *Message) clone() Message {
	out := *m
	out.Replies = slices.Clone(m.Replies)
	if out.Replies == nil {
		out.Replies = []uint64{}
	}
	if m.UpdatedAt != nil {
		ts := *m.UpdatedAt
		out.UpdatedAt = &ts
	}
	if m.ParentID != nil {
		parent := *m.ParentID
		out.ParentID = &parent
	}
	return out
}

var (
	ErrNotFound       = errors.New("message not found")
	ErrEmptyContent   = errors.New("message content empty")
	ErrUnauthorized   = errors.New("caller is not the message author")
	ErrInvalidParent  = errors.New("parent message does not exist")
	ErrAlreadyDeleted = errors.New("message already deleted")
)
