package server

import (
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenggwsx/SlashBoard/internal/auth"
	"github.com/fenggwsx/SlashBoard/internal/board"
	"github.com/fenggwsx/SlashBoard/internal/config"
	"github.com/fenggwsx/SlashBoard/internal/metrics"
	"github.com/fenggwsx/SlashBoard/internal/protocol"
	"github.com/fenggwsx/SlashBoard/internal/storage"
)

type memoryAccounts struct {
	mu    sync.Mutex
	users map[string]*storage.User
}

func newMemoryAccounts() *memoryAccounts {
	return &memoryAccounts{users: make(map[string]*storage.User)}
}

func (m *memoryAccounts) Close() error { return nil }

func (m *memoryAccounts) Migrate(ctx context.Context) error { return nil }

func (m *memoryAccounts) CreateUser(ctx context.Context, user *storage.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Username == user.Username {
			return storage.ErrDuplicate
		}
	}
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *memoryAccounts) GetUserByUsername(ctx context.Context, username string) (*storage.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.Username == username {
			cp := *user
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (m *memoryAccounts) GetUserByID(ctx context.Context, id string) (*storage.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user, ok := m.users[id]; ok {
		cp := *user
		return &cp, nil
	}
	return nil, storage.ErrNotFound
}

type testEnv struct {
	app      *App
	accounts *memoryAccounts
	board    *board.Store
	now      time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.ServerConfig{
		JWT:           config.JWTConfig{Secret: "test-secret", Issuer: "slashboard-test", Expiration: time.Hour},
		ReadTimeout:   time.Minute,
		WriteTimeout:  time.Second,
		MaxFrameBytes: 1 << 16,
	}
	now := time.Now().Truncate(time.Second)
	accounts := newMemoryAccounts()
	messages := board.NewStore()
	app := NewApp(cfg, accounts, messages,
		WithClock(func() time.Time { return now }),
		WithMetrics(metrics.New(messages.Len)),
	)
	return &testEnv{app: app, accounts: accounts, board: messages, now: now}
}

func (e *testEnv) session() *clientSession {
	return newClientSession(e.app.hub, nil)
}

func (e *testEnv) token(t *testing.T, userID, username string) string {
	t.Helper()
	token, err := auth.NewToken(e.app.cfg.JWT, userID, username, e.now)
	require.NoError(t, err)
	return token
}

func command(action, token string, payload interface{}) protocol.Envelope {
	return protocol.Envelope{
		ID:       uuid.NewString(),
		Type:     protocol.MessageTypeCommand,
		Token:    token,
		Metadata: map[string]interface{}{"action": action},
		Payload:  payload,
	}
}

func next(t *testing.T, session *clientSession) protocol.Envelope {
	t.Helper()
	select {
	case env := <-session.sendCh:
		return env
	case <-time.After(time.Second):
		t.Fatal("no envelope queued")
		return protocol.Envelope{}
	}
}

func expectNothing(t *testing.T, session *clientSession) {
	t.Helper()
	select {
	case env := <-session.sendCh:
		t.Fatalf("unexpected envelope %s %v", env.Type, env.Metadata)
	default:
	}
}

func ack(t *testing.T, session *clientSession, ref string) protocol.AckPayload {
	t.Helper()
	env := next(t, session)
	require.Equal(t, protocol.MessageTypeAck, env.Type)
	payload, ok := env.Payload.(protocol.AckPayload)
	require.True(t, ok)
	assert.Equal(t, ref, payload.ReferenceID)
	return payload
}

func event[T any](t *testing.T, session *clientSession, action string) T {
	t.Helper()
	env := next(t, session)
	require.Equal(t, protocol.MessageTypeEvent, env.Type)
	require.Equal(t, action, env.Action())
	payload, ok := env.Payload.(T)
	require.True(t, ok, "payload type %T", env.Payload)
	return payload
}

func (e *testEnv) create(t *testing.T, session *clientSession, token string, req protocol.CreateMessageRequest) protocol.MessageRecord {
	t.Helper()
	env := command(protocol.ActionMessageCreate, token, req)
	require.NoError(t, e.app.handleCommand(context.Background(), session, env))
	require.Equal(t, ackStatusOK, ack(t, session, env.ID).Status)
	return event[protocol.MessageRecord](t, session, protocol.EventMessage)
}

func TestCreateAndGetMessage(t *testing.T) {
	e := newTestEnv(t)
	s := e.session()
	token := e.token(t, "u-alice", "alice")

	rec := e.create(t, s, token, protocol.CreateMessageRequest{Content: "hello"})
	assert.Equal(t, uint64(1), rec.ID)
	assert.Equal(t, "u-alice", rec.Author)
	assert.Equal(t, uint64(e.now.UnixNano()), rec.CreatedAt)
	assert.Nil(t, rec.UpdatedAt)
	assert.Empty(t, rec.Replies)

	get := command(protocol.ActionMessageGet, token, protocol.MessageIDRequest{ID: rec.ID})
	require.NoError(t, e.app.handleCommand(context.Background(), s, get))
	assert.Equal(t, ackStatusOK, ack(t, s, get.ID).Status)
	assert.Equal(t, rec, event[protocol.MessageRecord](t, s, protocol.EventMessage))
}

func TestCreateReplyLinksParent(t *testing.T) {
	e := newTestEnv(t)
	s := e.session()
	token := e.token(t, "u-alice", "alice")

	root := e.create(t, s, token, protocol.CreateMessageRequest{Content: "root"})
	parent := root.ID
	reply := e.create(t, s, token, protocol.CreateMessageRequest{Content: "c1", ParentID: &parent})
	require.NotNil(t, reply.ParentID)
	assert.Equal(t, root.ID, *reply.ParentID)

	got, err := e.board.Get(root.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint64{reply.ID}, got.Replies)
}

func TestCommandRejections(t *testing.T) {
	e := newTestEnv(t)
	s := e.session()
	alice := e.token(t, "u-alice", "alice")
	bob := e.token(t, "u-bob", "bob")
	root := e.create(t, s, alice, protocol.CreateMessageRequest{Content: "root"})
	missing := uint64(99)

	cases := []struct {
		name string
		env  protocol.Envelope
		code string
	}{
		{"blank content", command(protocol.ActionMessageCreate, alice, protocol.CreateMessageRequest{Content: "  "}), codeEmptyContent},
		{"bad parent", command(protocol.ActionMessageCreate, alice, protocol.CreateMessageRequest{Content: "x", ParentID: &missing}), codeInvalidParent},
		{"missing message", command(protocol.ActionMessageGet, alice, protocol.MessageIDRequest{ID: missing}), codeNotFound},
		{"foreign update", command(protocol.ActionMessageUpdate, bob, protocol.UpdateMessageRequest{ID: root.ID, Content: "mine now"}), codeUnauthorized},
		{"foreign delete", command(protocol.ActionMessageDelete, bob, protocol.MessageIDRequest{ID: root.ID}), codeUnauthorized},
		{"no token", command(protocol.ActionMessageCreate, "", protocol.CreateMessageRequest{Content: "x"}), codeUnauthenticated},
		{"bad token", command(protocol.ActionMessageCreate, "garbage", protocol.CreateMessageRequest{Content: "x"}), codeUnauthenticated},
		{"unknown action", command("message_like", alice, nil), codeUnsupported},
		{"missing payload", command(protocol.ActionMessageGet, alice, nil), codeInvalidPayload},
		{"unknown user", command(protocol.ActionMessageByAuthor, alice, protocol.AuthorRequest{Username: "ghost"}), codeNotFound},
		{"unknown topic", command(protocol.ActionWatch, alice, protocol.WatchRequest{Topic: "elsewhere"}), codeUnsupported},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.NoError(t, e.app.handleCommand(context.Background(), s, tc.env))
			payload := ack(t, s, tc.env.ID)
			assert.Equal(t, ackStatusError, payload.Status)
			assert.Equal(t, tc.code, payload.Code)
			expectNothing(t, s)
		})
	}

	got, err := e.board.Get(root.ID)
	require.NoError(t, err)
	assert.Equal(t, "root", got.Content)
	assert.Equal(t, 1, e.board.Len())
}

func TestUpdateMessage(t *testing.T) {
	e := newTestEnv(t)
	s := e.session()
	token := e.token(t, "u-alice", "alice")
	rec := e.create(t, s, token, protocol.CreateMessageRequest{Content: "draft"})

	env := command(protocol.ActionMessageUpdate, token, protocol.UpdateMessageRequest{ID: rec.ID, Content: "final"})
	require.NoError(t, e.app.handleCommand(context.Background(), s, env))
	require.Equal(t, ackStatusOK, ack(t, s, env.ID).Status)

	updated := event[protocol.MessageRecord](t, s, protocol.EventMessage)
	assert.Equal(t, "final", updated.Content)
	require.NotNil(t, updated.UpdatedAt)
	assert.Equal(t, uint64(e.now.UnixNano()), *updated.UpdatedAt)
}

func TestDeleteMessageTwice(t *testing.T) {
	e := newTestEnv(t)
	s := e.session()
	token := e.token(t, "u-alice", "alice")
	rec := e.create(t, s, token, protocol.CreateMessageRequest{Content: "bye"})

	del := command(protocol.ActionMessageDelete, token, protocol.MessageIDRequest{ID: rec.ID})
	require.NoError(t, e.app.handleCommand(context.Background(), s, del))
	assert.Equal(t, ackStatusOK, ack(t, s, del.ID).Status)
	expectNothing(t, s)

	again := command(protocol.ActionMessageDelete, token, protocol.MessageIDRequest{ID: rec.ID})
	require.NoError(t, e.app.handleCommand(context.Background(), s, again))
	assert.Equal(t, codeAlreadyDeleted, ack(t, s, again.ID).Code)

	check := command(protocol.ActionMessageIsDeleted, token, protocol.MessageIDRequest{ID: rec.ID})
	require.NoError(t, e.app.handleCommand(context.Background(), s, check))
	ack(t, s, check.ID)
	status := event[protocol.DeletedStatus](t, s, protocol.EventMessageDeleted)
	assert.True(t, status.Deleted)
	assert.Equal(t, rec.ID, status.ID)
}

func TestByAuthorAndCount(t *testing.T) {
	e := newTestEnv(t)
	s := e.session()
	require.NoError(t, e.accounts.CreateUser(context.Background(), &storage.User{ID: "u-bob", Username: "bob"}))
	alice := e.token(t, "u-alice", "alice")
	bob := e.token(t, "u-bob", "bob")

	e.create(t, s, alice, protocol.CreateMessageRequest{Content: "a1"})
	e.create(t, s, bob, protocol.CreateMessageRequest{Content: "b1"})
	e.create(t, s, bob, protocol.CreateMessageRequest{Content: "b2"})

	mine := command(protocol.ActionMessageByAuthor, bob, nil)
	require.NoError(t, e.app.handleCommand(context.Background(), s, mine))
	ack(t, s, mine.ID)
	list := event[protocol.MessageList](t, s, protocol.EventMessageList)
	assert.Equal(t, "u-bob", list.Author)
	require.Len(t, list.Messages, 2)
	assert.Equal(t, uint64(2), list.Messages[0].ID)
	assert.Equal(t, uint64(3), list.Messages[1].ID)

	byName := command(protocol.ActionMessageByAuthor, alice, protocol.AuthorRequest{Username: "bob"})
	require.NoError(t, e.app.handleCommand(context.Background(), s, byName))
	ack(t, s, byName.ID)
	assert.Len(t, event[protocol.MessageList](t, s, protocol.EventMessageList).Messages, 2)

	nobody := command(protocol.ActionMessageByAuthor, alice, protocol.AuthorRequest{Author: "u-carol"})
	require.NoError(t, e.app.handleCommand(context.Background(), s, nobody))
	ack(t, s, nobody.ID)
	empty := event[protocol.MessageList](t, s, protocol.EventMessageList)
	assert.NotNil(t, empty.Messages)
	assert.Empty(t, empty.Messages)

	count := command(protocol.ActionAuthorCount, alice, protocol.AuthorRequest{Author: "u-bob"})
	require.NoError(t, e.app.handleCommand(context.Background(), s, count))
	ack(t, s, count.ID)
	assert.Equal(t, protocol.AuthorCount{Author: "u-bob", Count: 2}, event[protocol.AuthorCount](t, s, protocol.EventAuthorCount))
}

func TestWatchersReceiveBoardEvents(t *testing.T) {
	e := newTestEnv(t)
	poster := e.session()
	watcher := e.session()
	alice := e.token(t, "u-alice", "alice")
	bob := e.token(t, "u-bob", "bob")

	watch := command(protocol.ActionWatch, bob, nil)
	require.NoError(t, e.app.handleCommand(context.Background(), watcher, watch))
	assert.Equal(t, ackStatusOK, ack(t, watcher, watch.ID).Status)
	assert.Equal(t, 1, e.app.hub.Subscribers(protocol.TopicBoard))

	rec := e.create(t, poster, alice, protocol.CreateMessageRequest{Content: "news"})
	created := event[protocol.MessageRecord](t, watcher, protocol.EventMessageCreated)
	assert.Equal(t, rec, created)

	del := command(protocol.ActionMessageDelete, alice, protocol.MessageIDRequest{ID: rec.ID})
	require.NoError(t, e.app.handleCommand(context.Background(), poster, del))
	ack(t, poster, del.ID)
	removed := event[protocol.MessageRemoved](t, watcher, protocol.EventMessageRemoved)
	assert.Equal(t, rec.ID, removed.ID)
	assert.Equal(t, "u-alice", removed.Author)

	unwatch := command(protocol.ActionUnwatch, bob, protocol.WatchRequest{Topic: protocol.TopicBoard})
	require.NoError(t, e.app.handleCommand(context.Background(), watcher, unwatch))
	ack(t, watcher, unwatch.ID)
	assert.Zero(t, e.app.hub.Subscribers(protocol.TopicBoard))

	e.create(t, poster, alice, protocol.CreateMessageRequest{Content: "quiet"})
	expectNothing(t, watcher)
}

func TestRegisterAndLogin(t *testing.T) {
	e := newTestEnv(t)
	s := e.session()
	ctx := context.Background()

	register := protocol.Envelope{
		ID:      "reg-1",
		Type:    protocol.MessageTypeAuthRequest,
		Payload: protocol.AuthRequest{Action: "register", Username: " alice ", Password: "pw"},
	}
	require.NoError(t, e.app.handleAuth(ctx, s, register))
	assert.Equal(t, ackStatusOK, ack(t, s, "reg-1").Status)
	resp := next(t, s)
	require.Equal(t, protocol.MessageTypeAuthResponse, resp.Type)
	authResp := resp.Payload.(protocol.AuthResponse)

	claims, err := auth.ParseToken(e.app.cfg.JWT, authResp.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, authResp.UserID, claims.UserID)

	dup := register
	dup.ID = "reg-2"
	require.NoError(t, e.app.handleAuth(ctx, s, dup))
	assert.Equal(t, "username already exists", ack(t, s, "reg-2").Reason)

	badLogin := protocol.Envelope{
		ID:      "login-1",
		Type:    protocol.MessageTypeAuthRequest,
		Payload: protocol.AuthRequest{Action: "login", Username: "alice", Password: "wrong"},
	}
	require.NoError(t, e.app.handleAuth(ctx, s, badLogin))
	assert.Equal(t, codeUnauthenticated, ack(t, s, "login-1").Code)

	login := badLogin
	login.ID = "login-2"
	login.Payload = protocol.AuthRequest{Action: "login", Username: "alice", Password: "pw"}
	require.NoError(t, e.app.handleAuth(ctx, s, login))
	assert.Equal(t, ackStatusOK, ack(t, s, "login-2").Status)
	loginResp := next(t, s).Payload.(protocol.AuthResponse)
	assert.Equal(t, authResp.UserID, loginResp.UserID)
}

func TestConnectionEndToEnd(t *testing.T) {
	e := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverConn, clientConn := net.Pipe()
	done := make(chan struct{})
	go func() {
		e.app.handleConnection(ctx, serverConn)
		close(done)
	}()

	enc := protocol.NewEncoder(clientConn)
	dec := protocol.NewDecoder(clientConn, 0)
	send := func(env protocol.Envelope) {
		require.NoError(t, enc.Encode(ctx, env))
	}
	recv := func() protocol.Envelope {
		require.NoError(t, clientConn.SetReadDeadline(time.Now().Add(2*time.Second)))
		env, err := dec.Decode(ctx)
		require.NoError(t, err)
		return env
	}

	send(protocol.Envelope{
		ID:      "reg",
		Type:    protocol.MessageTypeAuthRequest,
		Payload: protocol.AuthRequest{Action: "register", Username: "alice", Password: "pw"},
	})
	assert.Equal(t, protocol.MessageTypeAck, recv().Type)
	authEnv := recv()
	require.Equal(t, protocol.MessageTypeAuthResponse, authEnv.Type)
	authResp, err := protocol.DecodePayload[protocol.AuthResponse](authEnv.Payload)
	require.NoError(t, err)

	send(command(protocol.ActionMessageCreate, authResp.Token, protocol.CreateMessageRequest{Content: "over the wire"}))
	ackEnv := recv()
	ackPayload, err := protocol.DecodePayload[protocol.AckPayload](ackEnv.Payload)
	require.NoError(t, err)
	assert.Equal(t, ackStatusOK, ackPayload.Status)

	msgEnv := recv()
	assert.Equal(t, protocol.EventMessage, msgEnv.Action())
	rec, err := protocol.DecodePayload[protocol.MessageRecord](msgEnv.Payload)
	require.NoError(t, err)
	assert.Equal(t, "over the wire", rec.Content)
	assert.Equal(t, authResp.UserID, rec.Author)

	send(protocol.Envelope{ID: "odd", Type: protocol.MessageType("file_chunk")})
	oddAck, err := protocol.DecodePayload[protocol.AckPayload](recv().Payload)
	require.NoError(t, err)
	assert.Equal(t, codeUnsupported, oddAck.Code)

	require.NoError(t, clientConn.Close())
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("connection handler did not exit")
	}
}

func TestClassifyUnknownError(t *testing.T) {
	code, reason, ok := classify(assert.AnError)
	assert.False(t, ok)
	assert.Equal(t, codeInternal, code)
	assert.True(t, strings.Contains(reason, "internal"))
}
