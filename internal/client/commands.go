package client

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/fenggwsx/SlashBoard/internal/protocol"
)

func (a *App) handleSubmit(value string) tea.Cmd {
	if strings.HasPrefix(value, string(a.cfg.CommandPrefix)) {
		return a.executeCommand(value)
	}

	return a.postMessage(value, nil)
}

func (a *App) executeCommand(raw string) tea.Cmd {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return nil
	}

	cmd := fields[0]
	name := strings.TrimPrefix(cmd, string(a.cfg.CommandPrefix))
	var cmds []tea.Cmd

	switch name {
	case "board":
		a.view = viewBoard
		a.logf("Switched to BOARD view")
	case "help":
		a.view = viewHelp
		a.logf("Switched to HELP view")
	case "connect":
		target := a.serverAddr
		if len(fields) > 1 {
			target = fields[1]
		}
		if target == "" {
			a.logErrorf("Provide a server address to connect")
			break
		}
		cmds = append(cmds, a.connectToServer(target))
	case "register", "login":
		if len(fields) < 3 {
			a.logErrorf("Usage: %s <username> <password>", cmd)
			break
		}
		if !a.ensureConnected() {
			break
		}
		username := fields[1]
		password := strings.Join(fields[2:], " ")
		if strings.TrimSpace(password) == "" {
			a.logErrorf("Password cannot be empty")
			break
		}
		if name == "register" {
			a.logf("Registering %s ...", username)
		} else {
			a.logf("Logging in as %s ...", username)
		}
		cmds = append(cmds, a.sendAuthCommand(name, username, password))
	case "post":
		if len(fields) < 2 {
			a.logErrorf("Usage: %s <text>", cmd)
			break
		}
		cmds = append(cmds, a.postMessage(argumentText(raw, 1), nil))
	case "reply":
		id, ok := a.parseMessageID(fields, cmd+" <id> <text>")
		if !ok {
			break
		}
		if len(fields) < 3 {
			a.logErrorf("Usage: %s <id> <text>", cmd)
			break
		}
		cmds = append(cmds, a.postMessage(argumentText(raw, 2), &id))
	case "edit":
		id, ok := a.parseMessageID(fields, cmd+" <id> <text>")
		if !ok {
			break
		}
		if len(fields) < 3 {
			a.logErrorf("Usage: %s <id> <text>", cmd)
			break
		}
		content := argumentText(raw, 2)
		a.logf("Editing message #%d ...", id)
		cmds = append(cmds, a.sendBoardCommand(protocol.ActionMessageUpdate,
			protocol.UpdateMessageRequest{ID: id, Content: content},
			pendingRequest{messageID: id}))
	case "delete":
		id, ok := a.parseMessageID(fields, cmd+" <id>")
		if !ok {
			break
		}
		a.logf("Deleting message #%d ...", id)
		cmds = append(cmds, a.sendBoardCommand(protocol.ActionMessageDelete,
			protocol.MessageIDRequest{ID: id}, pendingRequest{messageID: id}))
	case "show":
		id, ok := a.parseMessageID(fields, cmd+" <id>")
		if !ok {
			break
		}
		cmds = append(cmds, a.sendBoardCommand(protocol.ActionMessageGet,
			protocol.MessageIDRequest{ID: id}, pendingRequest{messageID: id}))
	case "deleted":
		id, ok := a.parseMessageID(fields, cmd+" <id>")
		if !ok {
			break
		}
		cmds = append(cmds, a.sendBoardCommand(protocol.ActionMessageIsDeleted,
			protocol.MessageIDRequest{ID: id}, pendingRequest{messageID: id}))
	case "mine":
		cmds = append(cmds, a.sendBoardCommand(protocol.ActionMessageByAuthor,
			protocol.AuthorRequest{}, pendingRequest{}))
	case "author":
		if len(fields) < 2 {
			a.logErrorf("Usage: %s <id|username>", cmd)
			break
		}
		req := authorRequest(fields[1])
		cmds = append(cmds, a.sendBoardCommand(protocol.ActionMessageByAuthor, req,
			pendingRequest{author: fields[1]}))
	case "count":
		var req protocol.AuthorRequest
		if len(fields) > 1 {
			req = authorRequest(fields[1])
		}
		cmds = append(cmds, a.sendBoardCommand(protocol.ActionAuthorCount, req,
			pendingRequest{author: req.Author + req.Username}))
	case "watch":
		action := protocol.ActionWatch
		if a.watching {
			action = protocol.ActionUnwatch
		}
		cmds = append(cmds, a.sendBoardCommand(action,
			protocol.WatchRequest{Topic: protocol.TopicBoard}, pendingRequest{}))
	case "pipe":
		if len(fields) > 1 && strings.EqualFold(fields[1], "clear") {
			a.pipeHistory = make([]pipeEntry, 0, pipeHistoryLimit)
			a.logf("Cleared pipe history")
			break
		}
		a.view = viewPipe
		a.logf("Switched to PIPE view")
	case "quit":
		a.logf("Exiting client")
		if a.session != nil {
			_ = a.session.Close()
			a.session = nil
		}
		a.statusOnline = false
		a.authToken = ""
		cmds = append(cmds, tea.Quit)
	default:
		a.logErrorf("Command %s not implemented", cmd)
	}

	a.updateViewportContent()

	cmds = slices.DeleteFunc(cmds, func(c tea.Cmd) bool { return c == nil })
	switch len(cmds) {
	case 0:
		return nil
	case 1:
		return cmds[0]
	default:
		return tea.Batch(cmds...)
	}
}

func (a *App) ensureConnected() bool {
	if !a.isConnected() {
		a.logErrorf("Not connected. Use %cconnect first.", a.cfg.CommandPrefix)
		return false
	}
	return true
}

func (a *App) ensureAuthenticated() bool {
	if !a.ensureConnected() {
		return false
	}
	if strings.TrimSpace(a.authToken) == "" {
		a.logErrorf("Authenticate first (use %clogin or %cregister)", a.cfg.CommandPrefix, a.cfg.CommandPrefix)
		return false
	}
	return true
}

func (a *App) parseMessageID(fields []string, usage string) (uint64, bool) {
	if len(fields) < 2 {
		a.logErrorf("Usage: %s", usage)
		return 0, false
	}
	id, err := strconv.ParseUint(strings.TrimPrefix(fields[1], "#"), 10, 64)
	if err != nil || id == 0 {
		a.logErrorf("Invalid message id: %s", fields[1])
		return 0, false
	}
	return id, true
}

// argumentText returns the raw input after the first n fields so that
// message text keeps its inner spacing.
func argumentText(raw string, n int) string {
	rest := strings.TrimLeft(raw, " \t")
	for i := 0; i < n; i++ {
		idx := strings.IndexAny(rest, " \t")
		if idx < 0 {
			return ""
		}
		rest = strings.TrimLeft(rest[idx:], " \t")
	}
	return rest
}

func authorRequest(value string) protocol.AuthorRequest {
	if _, err := uuid.Parse(value); err == nil {
		return protocol.AuthorRequest{Author: value}
	}
	return protocol.AuthorRequest{Username: value}
}

func (a *App) postMessage(content string, parentID *uint64) tea.Cmd {
	if strings.TrimSpace(content) == "" || !a.ensureAuthenticated() {
		return nil
	}
	if parentID != nil {
		a.logf("Replying to #%d ...", *parentID)
	} else {
		a.logf("Posting message ...")
	}
	if a.view == viewHome {
		a.view = viewBoard
		a.updateViewportContent()
	}
	return a.sendBoardCommand(protocol.ActionMessageCreate,
		protocol.CreateMessageRequest{Content: content, ParentID: parentID},
		pendingRequest{})
}

func (a *App) sendBoardCommand(action string, payload interface{}, pending pendingRequest) tea.Cmd {
	if !a.ensureAuthenticated() {
		return nil
	}
	session := a.session
	requestID := uuid.NewString()
	pending.action = action
	a.pendingRequests[requestID] = pending

	env := protocol.Envelope{
		ID:   requestID,
		Type: protocol.MessageTypeCommand,
		Metadata: map[string]interface{}{
			"action": action,
		},
		Payload: payload,
	}
	return a.sendEnvelope(session, env, strings.ReplaceAll(action, "_", " "), true)
}

func (a *App) sendAuthCommand(action, username, password string) tea.Cmd {
	session := a.session
	if session == nil {
		return nil
	}
	requestID := uuid.NewString()
	a.pendingRequests[requestID] = pendingRequest{action: action, username: username}

	env := protocol.Envelope{
		ID:   requestID,
		Type: protocol.MessageTypeAuthRequest,
		Payload: protocol.AuthRequest{
			Action:   action,
			Username: username,
			Password: password,
		},
	}

	return a.sendEnvelope(session, env, fmt.Sprintf("%s request", action), false)
}

func (a *App) connectToServer(target string) tea.Cmd {
	if a.session != nil {
		_ = a.session.Close()
	}

	cfg := a.cfg
	cfg.ServerAddr = target
	session := NewSession(cfg)
	a.session = session
	a.serverAddr = target
	a.statusOnline = false
	a.authToken = ""
	a.userID = ""
	a.watching = false
	a.pendingRequests = make(map[string]pendingRequest)
	a.lastAuthUser = ""
	a.board = newThreadBoard()
	a.logf("Connecting to %s ...", target)

	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := session.Connect(ctx)
		return connectResultMsg{
			session: session,
			address: target,
			err:     err,
		}
	}
}

func (a *App) listenForSession() tea.Cmd {
	session := a.session
	if session == nil {
		return nil
	}
	return func() tea.Msg {
		env, ok := <-session.Messages()
		if !ok {
			return sessionClosedMsg{session: session}
		}
		return sessionEnvelopeMsg{session: session, envelope: env}
	}
}

func (a *App) sendEnvelope(session *Session, env protocol.Envelope, description string, attachToken bool) tea.Cmd {
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	envCopy := env
	if envCopy.Timestamp.IsZero() {
		envCopy.Timestamp = time.Now().UTC()
	}
	if attachToken && envCopy.Token == "" && strings.TrimSpace(a.authToken) != "" {
		envCopy.Token = a.authToken
	}
	a.appendPipeEntry(pipeDirectionOut, envCopy)
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := session.Send(ctx, envCopy)
		return sendResultMsg{
			session:     session,
			id:          envCopy.ID,
			description: description,
			err:         err,
		}
	}
}

func defaultCommands(prefix rune) []commandSpec {
	p := string(prefix)
	return []commandSpec{
		{trigger: p + "connect", usage: p + "connect [addr]", description: "Connect to the server"},
		{trigger: p + "register", usage: p + "register <username> <password>", description: "Register a new account"},
		{trigger: p + "login", usage: p + "login <username> <password>", description: "Authenticate with existing credentials"},
		{trigger: p + "post", usage: p + "post <text>", description: "Post a new top-level message"},
		{trigger: p + "reply", usage: p + "reply <id> <text>", description: "Reply to a message"},
		{trigger: p + "edit", usage: p + "edit <id> <text>", description: "Edit one of your messages"},
		{trigger: p + "delete", usage: p + "delete <id>", description: "Delete one of your messages"},
		{trigger: p + "show", usage: p + "show <id>", description: "Fetch a single message"},
		{trigger: p + "mine", usage: p + "mine", description: "List your live messages"},
		{trigger: p + "author", usage: p + "author <id|username>", description: "List messages by an author"},
		{trigger: p + "deleted", usage: p + "deleted <id>", description: "Check whether a message was deleted"},
		{trigger: p + "count", usage: p + "count [id|username]", description: "Count live messages by an author"},
		{trigger: p + "watch", usage: p + "watch", description: "Toggle live board updates"},
		{trigger: p + "board", usage: p + "board", description: "Switch to board view"},
		{trigger: p + "pipe", usage: p + "pipe [clear]", description: "Inspect transport JSON frames"},
		{trigger: p + "help", usage: p + "help", description: "Show command help"},
		{trigger: p + "quit", usage: p + "quit", description: "Exit the client"},
	}
}
