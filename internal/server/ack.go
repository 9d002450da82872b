package server

import (
	"context"
	"log"

	"github.com/google/uuid"

	"github.com/fenggwsx/SlashBoard/internal/protocol"
)

const (
	ackStatusOK    = "ok"
	ackStatusError = "error"
)

func (a *App) sendAck(ctx context.Context, session *clientSession, referenceID, status, code, reason string) {
	ack := protocol.Envelope{
		ID:        uuid.NewString(),
		Type:      protocol.MessageTypeAck,
		Timestamp: a.clock(),
		Payload: protocol.AckPayload{
			ReferenceID: referenceID,
			Status:      status,
			Code:        code,
			Reason:      reason,
		},
	}
	if err := session.send(ctx, ack); err != nil {
		log.Printf("send ack: %v", err)
	}
}

func (a *App) newEvent(action, referenceID string, payload interface{}) protocol.Envelope {
	metadata := map[string]interface{}{"action": action}
	if referenceID != "" {
		metadata["reference_id"] = referenceID
	}
	return protocol.Envelope{
		ID:        uuid.NewString(),
		Type:      protocol.MessageTypeEvent,
		Timestamp: a.clock(),
		Metadata:  metadata,
		Payload:   payload,
	}
}

func (a *App) publish(action string, payload interface{}) {
	event := a.newEvent(action, "", payload)
	event.Metadata["topic"] = protocol.TopicBoard
	a.hub.Publish(protocol.TopicBoard, event)
}
