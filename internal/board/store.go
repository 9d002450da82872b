package board

import (
	"cmp"
	"slices"
	"strings"
	"sync"
)

// Store keeps the board in memory. The message table, id counter, author
// counts and deletion set change together under one lock so no caller can
// see them out of step.
type Store struct {
	mu       sync.Mutex
	messages map[uint64]*Message
	nextID   uint64
	authors  map[Principal]uint32
	deleted  map[uint64]struct{}
}

// NewStore returns an empty board whose first message id is 1.
func NewStore() *Store {
	return &Store{
		messages: make(map[uint64]*Message),
		nextID:   1,
		authors:  make(map[Principal]uint32),
		deleted:  make(map[uint64]struct{}),
	}
}

// Create posts a new message, optionally as a reply to parentID.
func (s *Store) Create(content string, parentID *uint64, caller Principal, now uint64) (Message, error) {
	if isBlank(content) {
		return Message{}, ErrEmptyContent
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if parentID != nil {
		if _, ok := s.messages[*parentID]; !ok {
			return Message{}, ErrInvalidParent
		}
	}

	id := s.nextID
	s.nextID++

	msg := &Message{
		ID:        id,
		Author:    caller,
		Content:   content,
		CreatedAt: now,
		Replies:   []uint64{},
	}
	if parentID != nil {
		pid := *parentID
		msg.ParentID = &pid
		// The parent was checked above; a missing parent only means the
		// reply link is skipped, the reply itself is still stored.
		if parent, ok := s.messages[pid]; ok {
			parent.Replies = append(parent.Replies, id)
		}
	}

	s.authors[caller]++
	s.messages[id] = msg

	return msg.clone(), nil
}

// Get returns the live message with the given id.
func (s *Store) Get(id uint64) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return Message{}, ErrNotFound
	}
	return msg.clone(), nil
}

// ByAuthor lists the live messages written by author in ascending id order.
func (s *Store) ByAuthor(author Principal) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Message, 0)
	for _, msg := range s.messages {
		if msg.Author == author {
			out = append(out, msg.clone())
		}
	}
	slices.SortFunc(out, func(a, b Message) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Update replaces the content of a message owned by caller.
func (s *Store) Update(id uint64, content string, caller Principal, now uint64) (Message, error) {
	if isBlank(content) {
		return Message{}, ErrEmptyContent
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return Message{}, ErrNotFound
	}
	if msg.Author != caller {
		return Message{}, ErrUnauthorized
	}

	msg.Content = content
	ts := now
	msg.UpdatedAt = &ts

	return msg.clone(), nil
}

// Delete removes a message owned by caller and records its id as deleted.
// Replies to the removed message keep their parent id.
func (s *Store) Delete(id uint64, caller Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		if _, gone := s.deleted[id]; gone {
			return ErrAlreadyDeleted
		}
		return ErrNotFound
	}
	if msg.Author != caller {
		return ErrUnauthorized
	}
	if _, gone := s.deleted[id]; gone {
		return ErrAlreadyDeleted
	}

	s.deleted[id] = struct{}{}
	delete(s.messages, id)

	if msg.ParentID != nil {
		if parent, ok := s.messages[*msg.ParentID]; ok {
			parent.Replies = slices.DeleteFunc(parent.Replies, func(reply uint64) bool {
				return reply == id
			})
		}
	}

	// Count update stays last; nothing after it can fail.
	if count := s.authors[msg.Author]; count > 0 {
		s.authors[msg.Author] = count - 1
	}
	return nil
}

// IsDeleted reports whether id was removed through Delete.
func (s *Store) IsDeleted(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.deleted[id]
	return ok
}

// AuthorCount returns the number of live messages written by author.
func (s *Store) AuthorCount(author Principal) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.authors[author]
}

// Len returns the number of live messages.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.messages)
}

func isBlank(content string) bool {
	return strings.TrimSpace(content) == ""
}
