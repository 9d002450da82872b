package server

import (
	"errors"

	"github.com/fenggwsx/SlashBoard/internal/board"
)

// Ack codes sent with status=error.
const (
	codeNotFound        = "not_found"
	codeEmptyContent    = "empty_content"
	codeUnauthorized    = "unauthorized"
	codeInvalidParent   = "invalid_parent"
	codeAlreadyDeleted  = "already_deleted"
	codeInvalidPayload  = "invalid_payload"
	codeUnauthenticated = "unauthenticated"
	codeUnsupported     = "unsupported"
	codeInternal        = "internal"
)

// rejection is a request the server refuses without anything having failed.
type rejection struct {
	code   string
	reason string
}

func (r *rejection) Error() string { return r.reason }

func reject(code, reason string) error {
	return &rejection{code: code, reason: reason}
}

// classify maps an error onto an ack code. ok is false for failures
// that are not the caller's fault.
func classify(err error) (code string, reason string, ok bool) {
	var rej *rejection
	switch {
	case errors.As(err, &rej):
		return rej.code, rej.reason, true
	case errors.Is(err, board.ErrNotFound):
		return codeNotFound, "message not found", true
	case errors.Is(err, board.ErrEmptyContent):
		return codeEmptyContent, "message empty", true
	case errors.Is(err, board.ErrUnauthorized):
		return codeUnauthorized, "only the author may change this message", true
	case errors.Is(err, board.ErrInvalidParent):
		return codeInvalidParent, "parent message does not exist", true
	case errors.Is(err, board.ErrAlreadyDeleted):
		return codeAlreadyDeleted, "message already deleted", true
	}
	return codeInternal, "internal error", false
}
