package client

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/fenggwsx/SlashBoard/internal/protocol"
)

func (a *App) handleSessionEnvelope(env protocol.Envelope) tea.Cmd {
	a.appendPipeEntry(pipeDirectionIn, env)
	switch env.Type {
	case protocol.MessageTypeAck:
		a.handleAckEnvelope(env)
	case protocol.MessageTypeAuthResponse:
		a.handleAuthResponse(env)
	case protocol.MessageTypeEvent:
		a.handleEventEnvelope(env)
	default:
		a.logErrorf("Received %s message", string(env.Type))
	}
	return nil
}

func (a *App) handleAckEnvelope(env protocol.Envelope) {
	ack, err := protocol.DecodePayload[protocol.AckPayload](env.Payload)
	if err != nil {
		a.logErrorf("Failed to decode ack: %v", err)
		return
	}

	pending, ok := a.pendingRequests[ack.ReferenceID]
	if !ok {
		if ack.Reason != "" {
			a.logf("Server response: %s", ack.Reason)
		}
		return
	}
	delete(a.pendingRequests, ack.ReferenceID)

	if strings.EqualFold(strings.TrimSpace(ack.Status), "ok") {
		a.handleAckOK(pending)
		return
	}

	reason := strings.TrimSpace(ack.Reason)
	if reason == "" {
		reason = "unknown error"
	}
	if ack.Code != "" {
		reason = fmt.Sprintf("%s (%s)", reason, ack.Code)
	}
	switch pending.action {
	case "register":
		a.logErrorf("Registration failed: %s", reason)
	case "login":
		a.logErrorf("Login failed: %s", reason)
	case protocol.ActionMessageCreate:
		a.logErrorf("Post failed: %s", reason)
	case protocol.ActionMessageUpdate:
		a.logErrorf("Edit of #%d failed: %s", pending.messageID, reason)
	case protocol.ActionMessageDelete:
		a.logErrorf("Delete of #%d failed: %s", pending.messageID, reason)
	case protocol.ActionMessageGet:
		a.logErrorf("Message #%d unavailable: %s", pending.messageID, reason)
	default:
		a.logErrorf("Command %s failed: %s", pending.action, reason)
	}
	if pending.action == "register" || pending.action == "login" {
		a.lastAuthUser = ""
	}
}

func (a *App) handleAckOK(pending pendingRequest) {
	switch pending.action {
	case "register":
		a.logf("Registration accepted for %s", pending.username)
		a.lastAuthUser = pending.username
	case "login":
		a.logf("Login accepted for %s", pending.username)
		a.lastAuthUser = pending.username
	case protocol.ActionMessageDelete:
		a.board.remove(pending.messageID)
		a.logf("Deleted message #%d", pending.messageID)
		a.refreshBoard()
	case protocol.ActionWatch:
		a.watching = true
		a.logf("Watching board updates")
	case protocol.ActionUnwatch:
		a.watching = false
		a.logf("Stopped watching board updates")
	}
}

func (a *App) handleAuthResponse(env protocol.Envelope) {
	resp, err := protocol.DecodePayload[protocol.AuthResponse](env.Payload)
	if err != nil {
		a.logErrorf("Failed to decode auth response: %v", err)
		return
	}

	if a.lastAuthUser != "" {
		a.username = a.lastAuthUser
	}
	a.authToken = resp.Token
	a.userID = resp.UserID

	message := fmt.Sprintf("Authenticated as %s", a.username)
	if resp.ExpiresAt != 0 {
		expiresAt := time.Unix(resp.ExpiresAt, 0).UTC().Format(time.RFC3339)
		message = fmt.Sprintf("%s (token expires %s)", message, expiresAt)
	}

	a.logf("%s", message)
	a.lastAuthUser = ""
}

func (a *App) handleEventEnvelope(env protocol.Envelope) {
	action := strings.ToLower(env.Action())
	switch action {
	case protocol.EventMessage:
		rec, err := protocol.DecodePayload[protocol.MessageRecord](env.Payload)
		if err != nil {
			a.logErrorf("Failed to decode message: %v", err)
			return
		}
		a.board.upsert(rec)
		a.logf("%s", formatRecord(rec, 0, a.userID))
	case protocol.EventMessageList:
		list, err := protocol.DecodePayload[protocol.MessageList](env.Payload)
		if err != nil {
			a.logErrorf("Failed to decode message list: %v", err)
			return
		}
		for _, rec := range list.Messages {
			a.board.upsert(rec)
		}
		a.logf("Loaded %d messages by %s", len(list.Messages), displayAuthor(list.Author, a.userID))
		a.view = viewBoard
	case protocol.EventMessageDeleted:
		status, err := protocol.DecodePayload[protocol.DeletedStatus](env.Payload)
		if err != nil {
			a.logErrorf("Failed to decode deletion status: %v", err)
			return
		}
		if status.Deleted {
			a.board.remove(status.ID)
			a.logf("Message #%d has been deleted", status.ID)
		} else {
			a.logf("Message #%d has not been deleted", status.ID)
		}
	case protocol.EventAuthorCount:
		count, err := protocol.DecodePayload[protocol.AuthorCount](env.Payload)
		if err != nil {
			a.logErrorf("Failed to decode author count: %v", err)
			return
		}
		a.logf("Author %s: %d live messages", displayAuthor(count.Author, a.userID), count.Count)
	case protocol.EventMessageCreated, protocol.EventMessageUpdated:
		rec, err := protocol.DecodePayload[protocol.MessageRecord](env.Payload)
		if err != nil {
			a.logErrorf("Failed to decode board event: %v", err)
			return
		}
		a.board.upsert(rec)
	case protocol.EventMessageRemoved:
		removed, err := protocol.DecodePayload[protocol.MessageRemoved](env.Payload)
		if err != nil {
			a.logErrorf("Failed to decode board event: %v", err)
			return
		}
		a.board.remove(removed.ID)
	default:
		a.logErrorf("Unhandled event action: %s", action)
		return
	}
	a.refreshBoard()
}

func (a *App) refreshBoard() {
	if a.view == viewBoard {
		a.updateViewportContent()
	}
}

func (a *App) isConnected() bool {
	return a.session != nil && a.statusOnline
}

func (a *App) appendPipeEntry(direction pipeDirection, env protocol.Envelope) {
	if a.pipeHistory == nil {
		a.pipeHistory = make([]pipeEntry, 0, pipeHistoryLimit)
	}
	bodyBytes, err := json.MarshalIndent(env, "", "  ")
	entry := pipeEntry{
		direction:   direction,
		messageType: string(env.Type),
		timestamp:   time.Now(),
		body:        string(bodyBytes),
	}
	if err != nil {
		entry.body = fmt.Sprintf(`{"marshal_error":%q}`, err.Error())
	}
	if len(a.pipeHistory) >= pipeHistoryLimit {
		a.pipeHistory = append(a.pipeHistory[1:], entry)
	} else {
		a.pipeHistory = append(a.pipeHistory, entry)
	}
	if a.view == viewPipe {
		a.updateViewportContent()
	}
}
