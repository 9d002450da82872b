package server

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/fenggwsx/SlashBoard/internal/auth"
	"github.com/fenggwsx/SlashBoard/internal/metrics"
	"github.com/fenggwsx/SlashBoard/internal/protocol"
	"github.com/fenggwsx/SlashBoard/internal/storage"
)

var (
	errUserExists         = errors.New("user already exists")
	errInvalidCredentials = errors.New("invalid credentials")
	errInvalidPayload     = errors.New("invalid auth payload")
	errMissingToken       = errors.New("missing token")
)

func (a *App) handleAuth(ctx context.Context, session *clientSession, env protocol.Envelope) error {
	req, err := protocol.DecodePayload[protocol.AuthRequest](env.Payload)
	if err != nil {
		a.sendAck(ctx, session, env.ID, ackStatusError, codeInvalidPayload, "invalid auth payload")
		return nil
	}

	action := strings.ToLower(strings.TrimSpace(req.Action))
	switch action {
	case "register":
		return a.handleRegister(ctx, session, env.ID, req)
	case "login":
		return a.handleLogin(ctx, session, env.ID, req)
	default:
		a.sendAck(ctx, session, env.ID, ackStatusError, codeUnsupported, "unsupported auth action")
	}
	return nil
}

func (a *App) handleRegister(ctx context.Context, session *clientSession, referenceID string, req protocol.AuthRequest) error {
	username := strings.TrimSpace(req.Username)
	user, err := a.createUser(ctx, req)
	if err != nil {
		log.Printf("register failed user=%s remote=%s err=%v", username, session.remoteAddr(), err)
		a.metrics.Observe("register", outcomeFor(err))
		a.reportAuthError(ctx, session, referenceID, err)
		return nil
	}
	log.Printf("register success user=%s id=%s remote=%s", user.Username, user.ID, session.remoteAddr())
	a.metrics.Observe("register", metrics.OutcomeOK)
	return a.issueToken(ctx, session, referenceID, user)
}

func (a *App) handleLogin(ctx context.Context, session *clientSession, referenceID string, req protocol.AuthRequest) error {
	username := strings.TrimSpace(req.Username)
	user, err := a.authenticateUser(ctx, req)
	if err != nil {
		log.Printf("login failed user=%s remote=%s err=%v", username, session.remoteAddr(), err)
		a.metrics.Observe("login", outcomeFor(err))
		a.reportAuthError(ctx, session, referenceID, err)
		return nil
	}
	log.Printf("login success user=%s id=%s remote=%s", user.Username, user.ID, session.remoteAddr())
	a.metrics.Observe("login", metrics.OutcomeOK)
	return a.issueToken(ctx, session, referenceID, user)
}

func (a *App) issueToken(ctx context.Context, session *clientSession, referenceID string, user *storage.User) error {
	now := a.clock()
	expiresAt := now.Add(a.cfg.JWT.Expiration)
	token, err := auth.NewToken(a.cfg.JWT, user.ID, user.Username, now)
	if err != nil {
		log.Printf("token issue: %v", err)
		a.sendAck(ctx, session, referenceID, ackStatusError, codeInternal, "token generation failed")
		return err
	}

	a.sendAck(ctx, session, referenceID, ackStatusOK, "", "")

	response := protocol.Envelope{
		ID:        uuid.NewString(),
		Type:      protocol.MessageTypeAuthResponse,
		Timestamp: now,
		Payload: protocol.AuthResponse{
			Token:     token,
			ExpiresAt: expiresAt.Unix(),
			UserID:    user.ID,
		},
	}
	return session.send(ctx, response)
}

func (a *App) createUser(ctx context.Context, req protocol.AuthRequest) (*storage.User, error) {
	username, password, err := sanitizeCredentials(req)
	if err != nil {
		return nil, err
	}

	if _, err := a.store.GetUserByUsername(ctx, username); err == nil {
		return nil, errUserExists
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	hashed, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	now := a.clock().UTC()
	user := &storage.User{
		ID:        uuid.NewString(),
		Username:  username,
		Password:  hashed,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := a.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, errUserExists
		}
		return nil, err
	}

	return user, nil
}

func (a *App) authenticateUser(ctx context.Context, req protocol.AuthRequest) (*storage.User, error) {
	username, password, err := sanitizeCredentials(req)
	if err != nil {
		return nil, err
	}

	user, err := a.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errInvalidCredentials
		}
		return nil, err
	}

	if err := auth.ComparePassword(user.Password, password); err != nil {
		return nil, errInvalidCredentials
	}

	return user, nil
}

func (a *App) reportAuthError(ctx context.Context, session *clientSession, referenceID string, err error) {
	code, reason := codeInternal, "authentication failed"
	switch {
	case errors.Is(err, errUserExists):
		code, reason = codeInvalidPayload, "username already exists"
	case errors.Is(err, errInvalidCredentials), errors.Is(err, errInvalidPayload):
		code, reason = codeUnauthenticated, "invalid credentials"
	case errors.Is(err, auth.ErrPasswordTooLong):
		code, reason = codeInvalidPayload, "password too long"
	}
	a.sendAck(ctx, session, referenceID, ackStatusError, code, reason)
}

func outcomeFor(err error) string {
	if errors.Is(err, errUserExists) || errors.Is(err, errInvalidCredentials) ||
		errors.Is(err, errInvalidPayload) || errors.Is(err, auth.ErrPasswordTooLong) {
		return metrics.OutcomeRejected
	}
	return metrics.OutcomeError
}

func sanitizeCredentials(req protocol.AuthRequest) (string, string, error) {
	username := strings.TrimSpace(req.Username)
	password := req.Password
	if username == "" || password == "" {
		return "", "", errInvalidPayload
	}
	return username, password, nil
}

func (a *App) claimsFromEnvelope(env protocol.Envelope) (*auth.Claims, error) {
	token := strings.TrimSpace(env.Token)
	if token == "" {
		return nil, errMissingToken
	}
	return auth.ParseToken(a.cfg.JWT, token)
}
