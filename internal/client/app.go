package client

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fenggwsx/SlashBoard/internal/config"
	"github.com/fenggwsx/SlashBoard/internal/protocol"
)

// App implements the bubbletea tea.Model interface for the terminal client.
type App struct {
	cfg             config.ClientConfig
	session         *Session
	serverAddr      string
	statusOnline    bool
	authToken       string
	userID          string
	username        string
	lastAuthUser    string
	watching        bool
	pendingRequests map[string]pendingRequest
	board           *threadBoard
	pipeHistory     []pipeEntry
	commands        []commandSpec

	view       viewMode
	viewport   viewport.Model
	input      textinput.Model
	helper     help.Model
	showHelp   bool
	helpView   string
	helpHeight int
	width      int
	height     int
	styles     styleSet
	logLine    logEntry
}

type viewMode int

const (
	viewHome viewMode = iota
	viewBoard
	viewPipe
	viewHelp
)

func (v viewMode) String() string {
	switch v {
	case viewBoard:
		return "board"
	case viewPipe:
		return "pipe"
	case viewHelp:
		return "help"
	default:
		return "home"
	}
}

type pendingRequest struct {
	action    string
	username  string
	messageID uint64
	author    string
}

type commandSpec struct {
	trigger     string
	usage       string
	description string
}

type pipeDirection string

const (
	pipeDirectionIn  pipeDirection = "IN"
	pipeDirectionOut pipeDirection = "OUT"
)

const pipeHistoryLimit = 200

type pipeEntry struct {
	direction   pipeDirection
	messageType string
	timestamp   time.Time
	body        string
}

type logLevel int

const (
	logLevelInfo logLevel = iota
	logLevelError
)

type logEntry struct {
	level logLevel
	label string
	body  string
}

type styleSet struct {
	title         lipgloss.Style
	view          lipgloss.Style
	statusOnline  lipgloss.Style
	statusOffline lipgloss.Style
	label         lipgloss.Style
	value         lipgloss.Style
	logLabel      lipgloss.Style
	logBody       lipgloss.Style
	logLabelError lipgloss.Style
	logBodyError  lipgloss.Style
	help          lipgloss.Style
}

type connectResultMsg struct {
	session *Session
	address string
	err     error
}

type sessionEnvelopeMsg struct {
	session  *Session
	envelope protocol.Envelope
}

type sessionClosedMsg struct {
	session *Session
}

type sendResultMsg struct {
	session     *Session
	id          string
	description string
	err         error
}

// NewApp returns a Bubble Tea model pre-populated with defaults.
func NewApp(cfg config.ClientConfig) *App {
	input := textinput.New()
	input.Prompt = "> "
	input.Placeholder = fmt.Sprintf("Type to post, or %chelp for commands", cfg.CommandPrefix)
	input.Focus()

	app := &App{
		cfg:             cfg,
		serverAddr:      cfg.ServerAddr,
		pendingRequests: make(map[string]pendingRequest),
		board:           newThreadBoard(),
		pipeHistory:     make([]pipeEntry, 0, pipeHistoryLimit),
		commands:        defaultCommands(cfg.CommandPrefix),
		view:            viewHome,
		viewport:        viewport.New(0, 0),
		input:           input,
		helper:          help.New(),
		styles:          buildStyles(),
		logLine:         logEntry{label: "INFO", body: "Welcome to SlashBoard"},
	}
	app.updateViewportContent()
	return app
}

// Init is part of the tea.Model interface.
func (a *App) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles user input and internal events.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch m := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = m.Width
		a.height = m.Height
		a.updateInputWidth()
		a.updateHelp()
		a.updateViewportSize()
		a.updateViewportContent()
		return a, nil
	case tea.KeyMsg:
		return a.handleKey(m)
	case connectResultMsg:
		return a, a.handleConnectResult(m)
	case sessionEnvelopeMsg:
		if m.session != a.session {
			return a, nil
		}
		cmd := a.handleSessionEnvelope(m.envelope)
		return a, tea.Batch(cmd, a.listenForSession())
	case sessionClosedMsg:
		if m.session == a.session {
			a.session = nil
			a.statusOnline = false
			a.authToken = ""
			a.watching = false
			a.logErrorf("Disconnected from %s", a.serverAddr)
		}
		return a, nil
	case sendResultMsg:
		if m.err != nil {
			a.logErrorf("Failed to send %s: %v", m.description, m.err)
			delete(a.pendingRequests, m.id)
		}
		return a, nil
	}

	var cmd tea.Cmd
	a.viewport, cmd = a.viewport.Update(msg)
	return a, cmd
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		if a.session != nil {
			_ = a.session.Close()
		}
		return a, tea.Quit
	case tea.KeyEnter:
		value := a.input.Value()
		a.input.Reset()
		a.updateHelp()
		a.updateViewportSize()
		if value == "" {
			return a, nil
		}
		return a, a.handleSubmit(value)
	case tea.KeyTab:
		a.handleTabCompletion()
		a.updateHelp()
		a.updateViewportSize()
		return a, nil
	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		a.viewport, cmd = a.viewport.Update(msg)
		return a, cmd
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	a.updateHelp()
	a.updateViewportSize()
	return a, cmd
}

func (a *App) handleConnectResult(m connectResultMsg) tea.Cmd {
	if m.session != a.session {
		if m.session != nil {
			_ = m.session.Close()
		}
		return nil
	}
	if m.err != nil {
		a.session = nil
		a.statusOnline = false
		a.logErrorf("Connect to %s failed: %v", m.address, m.err)
		return nil
	}
	a.statusOnline = true
	a.logf("Connected to %s", m.address)
	return a.listenForSession()
}

func (a *App) logf(format string, args ...interface{}) {
	a.logLine = logEntry{level: logLevelInfo, label: "INFO", body: fmt.Sprintf(format, args...)}
}

func (a *App) logErrorf(format string, args ...interface{}) {
	a.logLine = logEntry{level: logLevelError, label: "ERROR", body: fmt.Sprintf(format, args...)}
}
