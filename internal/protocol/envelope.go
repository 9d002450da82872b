package protocol

import "time"

// MessageType enumerates high-level protocol intents.
type MessageType string

const (
	MessageTypeAuthRequest  MessageType = "auth_request"
	MessageTypeAuthResponse MessageType = "auth_response"
	MessageTypeEvent        MessageType = "event"
	MessageTypeCommand      MessageType = "command"
	MessageTypeAck          MessageType = "ack"
)

// Command actions carried in Envelope.Metadata["action"].
const (
	ActionMessageCreate    = "message_create"
	ActionMessageGet       = "message_get"
	ActionMessageByAuthor  = "message_by_author"
	ActionMessageUpdate    = "message_update"
	ActionMessageDelete    = "message_delete"
	ActionMessageIsDeleted = "message_is_deleted"
	ActionAuthorCount      = "author_count"
	ActionWatch            = "watch"
	ActionUnwatch          = "unwatch"
)

// Event actions pushed by the server.
const (
	EventMessage        = "message"
	EventMessageList    = "message_list"
	EventMessageDeleted = "message_deleted"
	EventAuthorCount    = "author_count"
	EventMessageCreated = "message_created"
	EventMessageUpdated = "message_updated"
	EventMessageRemoved = "message_removed"
)

// TopicBoard is the broadcast topic carrying every board change.
const TopicBoard = "board"

// Envelope wraps every payload sent over the wire.
type Envelope struct {
	ID        string                 `json:"id"`
	Type      MessageType            `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Token     string                 `json:"token,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Payload   interface{}            `json:"payload,omitempty"`
}

// Action returns the metadata action, if any.
func (e Envelope) Action() string {
	return e.MetadataString("action")
}

// MetadataString returns a string metadata value or "".
func (e Envelope) MetadataString(key string) string {
	if e.Metadata == nil {
		return ""
	}
	if value, ok := e.Metadata[key]; ok {
		if s, ok := value.(string); ok {
			return s
		}
	}
	return ""
}

// AckPayload represents acknowledgement semantics. Code is a stable,
// machine readable error class; Reason is for humans.
type AckPayload struct {
	ReferenceID string `json:"reference_id"`
	Status      string `json:"status"`
	Code        string `json:"code,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// AuthRequest carries login or registration data.
type AuthRequest struct {
	Action   string `json:"action"` // login or register
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthResponse returns token and status details to client.
type AuthResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
	UserID    string `json:"user_id"`
}
