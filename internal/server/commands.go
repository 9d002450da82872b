package server

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/fenggwsx/SlashBoard/internal/auth"
	"github.com/fenggwsx/SlashBoard/internal/board"
	"github.com/fenggwsx/SlashBoard/internal/metrics"
	"github.com/fenggwsx/SlashBoard/internal/protocol"
	"github.com/fenggwsx/SlashBoard/internal/storage"
)

type commandHandler func(ctx context.Context, session *clientSession, env protocol.Envelope, claims *auth.Claims) error

func (a *App) commandHandlers() map[string]commandHandler {
	return map[string]commandHandler{
		protocol.ActionMessageCreate:    a.handleMessageCreate,
		protocol.ActionMessageGet:       a.handleMessageGet,
		protocol.ActionMessageByAuthor:  a.handleMessageByAuthor,
		protocol.ActionMessageUpdate:    a.handleMessageUpdate,
		protocol.ActionMessageDelete:    a.handleMessageDelete,
		protocol.ActionMessageIsDeleted: a.handleMessageIsDeleted,
		protocol.ActionAuthorCount:      a.handleAuthorCount,
		protocol.ActionWatch:            a.handleWatch,
		protocol.ActionUnwatch:          a.handleUnwatch,
	}
}

// handleCommand authenticates the caller, runs the board action and
// answers with an ack. Handlers send their own success ack and events;
// every failure is acknowledged here.
func (a *App) handleCommand(ctx context.Context, session *clientSession, env protocol.Envelope) error {
	action := strings.ToLower(strings.TrimSpace(env.Action()))
	handler, ok := a.commandHandlers()[action]
	if !ok {
		a.metrics.Observe("unknown", metrics.OutcomeRejected)
		a.sendAck(ctx, session, env.ID, ackStatusError, codeUnsupported, "unsupported command")
		return nil
	}

	claims, err := a.claimsFromEnvelope(env)
	if err != nil {
		a.metrics.Observe(action, metrics.OutcomeRejected)
		a.sendAck(ctx, session, env.ID, ackStatusError, codeUnauthenticated, "unauthenticated")
		return nil
	}

	err = handler(ctx, session, env, claims)
	if err == nil {
		a.metrics.Observe(action, metrics.OutcomeOK)
		return nil
	}

	code, reason, expected := classify(err)
	a.sendAck(ctx, session, env.ID, ackStatusError, code, reason)
	if expected {
		a.metrics.Observe(action, metrics.OutcomeRejected)
		log.Printf("%s rejected user=%s code=%s remote=%s", action, claims.Username, code, session.remoteAddr())
		return nil
	}
	a.metrics.Observe(action, metrics.OutcomeError)
	return err
}

func (a *App) handleMessageCreate(ctx context.Context, session *clientSession, env protocol.Envelope, claims *auth.Claims) error {
	req, err := protocol.DecodePayload[protocol.CreateMessageRequest](env.Payload)
	if err != nil {
		return reject(codeInvalidPayload, "invalid create payload")
	}

	msg, err := a.board.Create(req.Content, req.ParentID, claims.Principal(), a.timestamp())
	if err != nil {
		return err
	}

	record := protocol.FromBoard(msg)
	parent := "-"
	if msg.ParentID != nil {
		parent = formatID(*msg.ParentID)
	}
	log.Printf("message created id=%d user=%s parent=%s len=%d remote=%s", msg.ID, claims.Username, parent, len(msg.Content), session.remoteAddr())

	a.sendAck(ctx, session, env.ID, ackStatusOK, "", "")
	a.publish(protocol.EventMessageCreated, record)
	return session.send(ctx, a.newEvent(protocol.EventMessage, env.ID, record))
}

func (a *App) handleMessageGet(ctx context.Context, session *clientSession, env protocol.Envelope, _ *auth.Claims) error {
	req, err := protocol.DecodePayload[protocol.MessageIDRequest](env.Payload)
	if err != nil {
		return reject(codeInvalidPayload, "invalid message id payload")
	}

	msg, err := a.board.Get(req.ID)
	if err != nil {
		return err
	}

	a.sendAck(ctx, session, env.ID, ackStatusOK, "", "")
	return session.send(ctx, a.newEvent(protocol.EventMessage, env.ID, protocol.FromBoard(msg)))
}

func (a *App) handleMessageByAuthor(ctx context.Context, session *clientSession, env protocol.Envelope, claims *auth.Claims) error {
	var req protocol.AuthorRequest
	if env.Payload != nil {
		decoded, err := protocol.DecodePayload[protocol.AuthorRequest](env.Payload)
		if err != nil {
			return reject(codeInvalidPayload, "invalid author payload")
		}
		req = decoded
	}

	author, err := a.resolveAuthor(ctx, req, claims)
	if err != nil {
		return err
	}

	list := protocol.MessageList{
		Author:   string(author),
		Messages: protocol.FromBoardList(a.board.ByAuthor(author)),
	}

	a.sendAck(ctx, session, env.ID, ackStatusOK, "", "")
	return session.send(ctx, a.newEvent(protocol.EventMessageList, env.ID, list))
}

func (a *App) handleMessageUpdate(ctx context.Context, session *clientSession, env protocol.Envelope, claims *auth.Claims) error {
	req, err := protocol.DecodePayload[protocol.UpdateMessageRequest](env.Payload)
	if err != nil {
		return reject(codeInvalidPayload, "invalid update payload")
	}

	msg, err := a.board.Update(req.ID, req.Content, claims.Principal(), a.timestamp())
	if err != nil {
		return err
	}

	record := protocol.FromBoard(msg)
	log.Printf("message updated id=%d user=%s len=%d remote=%s", msg.ID, claims.Username, len(msg.Content), session.remoteAddr())

	a.sendAck(ctx, session, env.ID, ackStatusOK, "", "")
	a.publish(protocol.EventMessageUpdated, record)
	return session.send(ctx, a.newEvent(protocol.EventMessage, env.ID, record))
}

func (a *App) handleMessageDelete(ctx context.Context, session *clientSession, env protocol.Envelope, claims *auth.Claims) error {
	req, err := protocol.DecodePayload[protocol.MessageIDRequest](env.Payload)
	if err != nil {
		return reject(codeInvalidPayload, "invalid message id payload")
	}

	// The snapshot only feeds the broadcast; Delete decides the outcome.
	snapshot, _ := a.board.Get(req.ID)
	if err := a.board.Delete(req.ID, claims.Principal()); err != nil {
		return err
	}

	log.Printf("message deleted id=%d user=%s remote=%s", req.ID, claims.Username, session.remoteAddr())

	a.sendAck(ctx, session, env.ID, ackStatusOK, "", "")
	a.publish(protocol.EventMessageRemoved, protocol.MessageRemoved{
		ID:       req.ID,
		Author:   string(claims.Principal()),
		ParentID: snapshot.ParentID,
	})
	return nil
}

func (a *App) handleMessageIsDeleted(ctx context.Context, session *clientSession, env protocol.Envelope, _ *auth.Claims) error {
	req, err := protocol.DecodePayload[protocol.MessageIDRequest](env.Payload)
	if err != nil {
		return reject(codeInvalidPayload, "invalid message id payload")
	}

	status := protocol.DeletedStatus{ID: req.ID, Deleted: a.board.IsDeleted(req.ID)}
	a.sendAck(ctx, session, env.ID, ackStatusOK, "", "")
	return session.send(ctx, a.newEvent(protocol.EventMessageDeleted, env.ID, status))
}

func (a *App) handleAuthorCount(ctx context.Context, session *clientSession, env protocol.Envelope, claims *auth.Claims) error {
	var req protocol.AuthorRequest
	if env.Payload != nil {
		decoded, err := protocol.DecodePayload[protocol.AuthorRequest](env.Payload)
		if err != nil {
			return reject(codeInvalidPayload, "invalid author payload")
		}
		req = decoded
	}

	author, err := a.resolveAuthor(ctx, req, claims)
	if err != nil {
		return err
	}

	count := protocol.AuthorCount{Author: string(author), Count: a.board.AuthorCount(author)}
	a.sendAck(ctx, session, env.ID, ackStatusOK, "", "")
	return session.send(ctx, a.newEvent(protocol.EventAuthorCount, env.ID, count))
}

func (a *App) handleWatch(ctx context.Context, session *clientSession, env protocol.Envelope, claims *auth.Claims) error {
	topic, err := watchTopic(env)
	if err != nil {
		return err
	}
	if session.subscribe(topic) {
		log.Printf("watch topic=%s user=%s remote=%s", topic, claims.Username, session.remoteAddr())
	}
	a.sendAck(ctx, session, env.ID, ackStatusOK, "", "")
	return nil
}

func (a *App) handleUnwatch(ctx context.Context, session *clientSession, env protocol.Envelope, claims *auth.Claims) error {
	topic, err := watchTopic(env)
	if err != nil {
		return err
	}
	if session.unsubscribe(topic) {
		log.Printf("unwatch topic=%s user=%s remote=%s", topic, claims.Username, session.remoteAddr())
	}
	a.sendAck(ctx, session, env.ID, ackStatusOK, "", "")
	return nil
}

// resolveAuthor picks the principal a query is about: an explicit author
// id, a username looked up in the account store, or the caller.
func (a *App) resolveAuthor(ctx context.Context, req protocol.AuthorRequest, claims *auth.Claims) (board.Principal, error) {
	if author := strings.TrimSpace(req.Author); author != "" {
		return board.Principal(author), nil
	}
	username := strings.TrimSpace(req.Username)
	if username == "" {
		return claims.Principal(), nil
	}
	user, err := a.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", reject(codeNotFound, "unknown user")
		}
		return "", err
	}
	return board.Principal(user.ID), nil
}

func watchTopic(env protocol.Envelope) (string, error) {
	topic := protocol.TopicBoard
	if env.Payload != nil {
		req, err := protocol.DecodePayload[protocol.WatchRequest](env.Payload)
		if err != nil {
			return "", reject(codeInvalidPayload, "invalid watch payload")
		}
		if t := strings.TrimSpace(req.Topic); t != "" {
			topic = t
		}
	}
	if topic != protocol.TopicBoard {
		return "", reject(codeUnsupported, "unknown topic")
	}
	return topic, nil
}
