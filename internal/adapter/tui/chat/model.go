package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"chatstream/internal/adapter/sseclient"
	"chatstream/internal/adapter/tui/components"
	"chatstream/internal/adapter/tui/theme"
	"chatstream/internal/adapter/tui/uxerror"
	"chatstream/internal/domain"
)

// Streamer is the server connection the chat model drives.
type Streamer interface {
	Stream(ctx context.Context, prompt, messageID string) (<-chan domain.StreamEvent, error)
	Cancel(ctx context.Context, messageID string) (bool, error)
}

var _ Streamer = (*sseclient.Client)(nil)

// ChatModelDeps are dependencies injected into the chat model.
type ChatModelDeps struct {
	Client    Streamer
	NewID     func() string // defaults to sseclient.NewMessageID
	Logger    *slog.Logger
	Server    string
	ModelName string

	ShowThinking    bool
	AutoCollapse    bool
	CollapseDelay   time.Duration
	TypewriterSpeed time.Duration

	// OnUserMessage fires when a prompt is sent.
	OnUserMessage func(messageID, prompt string)
	// OnStreamComplete fires once the full answer has been received and shown.
	OnStreamComplete func(messageID, fullContent string)
}

// ChatModel is the root Bubble Tea model for the chat client.
type ChatModel struct {
	deps ChatModelDeps

	chatView  components.ChatViewModel
	input     components.InputAreaModel
	statusBar components.StatusBarModel
	spinner   spinner.Model

	width    int
	height   int
	quitting bool
	vimMode  bool // input blurred, j/k scroll the history
	waiting  bool // a request is in flight or its text is still being revealed

	showThinking bool
	streamCfg    StreamConfig
	tickRate     time.Duration

	// Request lifecycle: gen is incremented on every new request and on
	// cancel. Messages carrying an older gen are discarded.
	gen      uint64
	cancelFn context.CancelFunc
	activeID string
	events   <-chan domain.StreamEvent

	inThinking bool
	target     []rune // answer text received so far
	shown      int    // runes of target currently displayed
	ticking    bool
	finished   bool   // stream_complete received
	full       string // full_content of the completed stream
}

// NewChatModel creates the root chat model.
func NewChatModel(deps ChatModelDeps) ChatModel {
	if deps.NewID == nil {
		deps.NewID = sseclient.NewMessageID
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(theme.ColorInfo)

	streamCfg := StreamConfigFor(deps.TypewriterSpeed)

	sb := components.NewStatusBar()
	sb.Server = deps.Server
	sb.ModelName = deps.ModelName
	sb.Speed = streamCfg.Speed.String()
	sb.Hints = defaultHints()

	chatView := components.NewChatView()
	chatView.SetMaxMessages(1000)
	chatView.SetShowThinking(deps.ShowThinking)

	inputArea := components.NewInputArea()
	inputArea.Autocomplete = components.NewAutocomplete([]components.CommandDef{
		{Name: "/help", Description: "Show available commands"},
		{Name: "/clear", Description: "Clear conversation"},
		{Name: "/cancel", Description: "Cancel the running answer"},
		{Name: "/speed", Description: "Cycle typewriter speed"},
		{Name: "/thinking", Description: "show | hide | expand | collapse"},
		{Name: "/quit", Description: "Exit chatstream"},
	})

	return ChatModel{
		deps:         deps,
		chatView:     chatView,
		input:        inputArea,
		statusBar:    sb,
		spinner:      s,
		showThinking: deps.ShowThinking,
		streamCfg:    streamCfg,
		tickRate:     deps.TypewriterSpeed,
	}
}

// Init starts the spinner.
func (m ChatModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles all incoming messages.
func (m ChatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case components.InputSubmitMsg:
		return m.handleSubmit(msg.Value)

	case streamOpenedMsg:
		if msg.Gen != m.gen {
			return m, nil
		}
		m.events = msg.Events
		m.statusBar.Extra = theme.SymbolSpinner + " Waiting for model..."
		return m, waitForEventCmd(m.events, m.gen)

	case StreamEventMsg:
		if msg.Gen != m.gen {
			return m, nil
		}
		return m.handleEvent(msg)

	case StreamClosedMsg:
		if msg.Gen != m.gen {
			return m, nil
		}
		return m.handleClosed(msg.Err)

	case StreamTickMsg:
		if msg.Gen != m.gen {
			return m, nil
		}
		return m.handleStreamTick()

	case CollapseThinkingMsg:
		m.chatView.EditMessage(msg.MessageID, func(cm *components.ChatMessage) {
			if cm.Think == components.ThinkingDone {
				cm.Think = components.ThinkingCollapsed
			}
		})
		return m, nil

	case CancelResultMsg:
		if msg.Err != nil {
			m.deps.Logger.Debug("server cancel failed", "message_id", msg.MessageID, "error", msg.Err)
		} else {
			m.deps.Logger.Debug("server cancel", "message_id", msg.MessageID, "active", msg.Cancelled)
		}
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	if !m.waiting {
		if _, isMouse := msg.(tea.MouseMsg); !isMouse {
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	var cmd tea.Cmd
	m.chatView, cmd = m.chatView.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// View renders the entire chat UI.
func (m ChatModel) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if m.width == 0 {
		return "  Initializing..."
	}

	inputView := m.input.View()
	if m.waiting {
		inputView = lipgloss.NewStyle().Faint(true).Render("> streaming answer... (Ctrl+C to cancel)") +
			"\n" + m.spinner.View() + " " + m.statusBar.Extra
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.chatView.View(),
		components.Divider(m.width),
		inputView,
		m.statusBar.View(),
	)
}

// layout recalculates sizes for all sub-models.
func (m *ChatModel) layout() {
	const inputH, statusH, dividerH = 3, 1, 1
	contentH := max(m.height-inputH-statusH-dividerH, 5)

	m.statusBar.SetWidth(m.width)
	m.chatView.SetSize(m.width, contentH)
	m.input.SetWidth(m.width)
}

// handleKey processes keyboard input.
func (m ChatModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if isMouseEscapeLeak(msg.String()) {
		return m, nil
	}

	switch msg.Type {
	case tea.KeyCtrlC:
		if m.waiting {
			return m, m.cancelRequest("Request cancelled.")
		}
		m.quitting = true
		return m, tea.Quit

	case tea.KeyCtrlO:
		m.setShowThinking(!m.showThinking)
		return m, nil

	case tea.KeyCtrlL:
		return m.handleSlashCommand("/clear", nil)

	case tea.KeyEsc:
		if !m.vimMode && !m.waiting {
			m.vimMode = true
			m.input.SetEnabled(false)
			m.statusBar.Hints = vimHints()
			return m, nil
		}

	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		m.chatView, cmd = m.chatView.Update(msg)
		return m, cmd
	}

	if m.vimMode {
		switch msg.String() {
		case "j", "down":
			m.chatView.Viewport.LineDown(3)
		case "k", "up":
			m.chatView.Viewport.LineUp(3)
		case "g":
			m.chatView.Viewport.GotoTop()
		case "G":
			m.chatView.Viewport.GotoBottom()
		case "i":
			if !m.waiting {
				m.vimMode = false
				m.input.SetEnabled(true)
				m.statusBar.Hints = defaultHints()
			}
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// handleSubmit sends a prompt as a new message.
func (m ChatModel) handleSubmit(value string) (tea.Model, tea.Cmd) {
	if cmd, args, ok := components.ParseSlashCommand(value); ok {
		return m.handleSlashCommand(cmd, args)
	}
	if m.waiting {
		return m, nil
	}

	id := m.deps.NewID()
	m.chatView.AddMessage(components.ChatMessage{
		Role:      components.RoleUser,
		MessageID: id,
		Content:   value,
		Timestamp: time.Now(),
	})
	m.chatView.AddMessage(components.ChatMessage{
		Role:      components.RoleAssistant,
		MessageID: id,
		Timestamp: time.Now(),
	})
	if m.deps.OnUserMessage != nil {
		m.deps.OnUserMessage(id, value)
	}

	m.gen++
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelFn = cancel
	m.activeID = id
	m.resetStream()

	m.waiting = true
	m.vimMode = true
	m.input.SetEnabled(false)
	m.statusBar.Extra = theme.SymbolSpinner + " Connecting..."
	m.statusBar.Hints = streamingHints()

	return m, openStreamCmd(ctx, m.deps.Client, value, id, m.gen)
}

// handleEvent applies one server event to the active answer.
func (m ChatModel) handleEvent(msg StreamEventMsg) (tea.Model, tea.Cmd) {
	ev := msg.Event

	var cmds []tea.Cmd
	switch ev.Type {
	case domain.StreamStart:
		m.statusBar.Extra = theme.SymbolSpinner + " Streaming..."

	case domain.ThinkingStart:
		m.inThinking = true
		m.statusBar.Extra = theme.SymbolSpinner + " Thinking..."
		m.chatView.EditMessage(m.activeID, func(cm *components.ChatMessage) {
			cm.Think = components.ThinkingActive
		})

	case domain.ThinkingEnd:
		m.inThinking = false
		m.statusBar.Extra = theme.SymbolSpinner + " Streaming..."
		m.chatView.EditMessage(m.activeID, func(cm *components.ChatMessage) {
			cm.Think = components.ThinkingDone
		})
		if m.deps.AutoCollapse {
			cmds = append(cmds, collapseThinkingCmd(m.deps.CollapseDelay, m.activeID))
		}

	case domain.StreamContent:
		if m.inThinking {
			m.chatView.EditMessage(m.activeID, func(cm *components.ChatMessage) {
				cm.Thinking += ev.Chunk
			})
			break
		}
		m.target = append(m.target, []rune(ev.Chunk)...)
		if m.streamCfg.Speed == StreamInstant {
			m.reveal(len(m.target))
		} else if !m.ticking {
			m.ticking = true
			cmds = append(cmds, streamTickCmd(m.streamCfg.TickRate, m.gen))
		}

	case domain.StreamComplete:
		m.finished = true
		m.full = ev.FullContent
		if m.shown >= len(m.target) {
			m.finish()
		}
		return m, tea.Batch(cmds...)

	case domain.StreamError:
		m.reveal(len(m.target))
		m.chatView.AddMessage(components.ChatMessage{
			Role:    components.RoleError,
			Content: uxerror.HumanizeMessage(ev.Error).Render(),
		})
		m.endRequest()
		return m, tea.Batch(cmds...)
	}

	cmds = append(cmds, waitForEventCmd(m.events, m.gen))
	return m, tea.Batch(cmds...)
}

// handleClosed handles the end of the event channel.
func (m ChatModel) handleClosed(err error) (tea.Model, tea.Cmd) {
	if !m.waiting {
		return m, nil
	}
	m.reveal(len(m.target))
	switch {
	case err != nil && !errors.Is(err, context.Canceled):
		m.chatView.AddMessage(components.ChatMessage{
			Role:    components.RoleError,
			Content: uxerror.Humanize(err).Render(),
		})
	case err == nil:
		m.chatView.AddMessage(components.ChatMessage{
			Role:    components.RoleSystem,
			Content: theme.SymbolWarning + " The stream ended before the answer completed.",
		})
	}
	m.endRequest()
	return m, nil
}

// handleStreamTick reveals the next slice of received text.
func (m ChatModel) handleStreamTick() (tea.Model, tea.Cmd) {
	if !m.ticking {
		return m, nil
	}
	m.reveal(min(m.shown+m.streamCfg.ChunkSize, len(m.target)))

	if m.shown < len(m.target) {
		return m, streamTickCmd(m.streamCfg.TickRate, m.gen)
	}
	m.ticking = false
	if m.finished {
		m.finish()
	}
	return m, nil
}

// reveal shows the first n runes of the received answer.
func (m *ChatModel) reveal(n int) {
	if n == m.shown {
		return
	}
	m.shown = n
	text := string(m.target[:n])
	m.chatView.EditMessage(m.activeID, func(cm *components.ChatMessage) {
		cm.Content = text
	})
}

// finish completes the active request once its text is fully shown.
func (m *ChatModel) finish() {
	id, full := m.activeID, m.full
	m.endRequest()
	if m.deps.OnStreamComplete != nil {
		m.deps.OnStreamComplete(id, full)
	}
}

// endRequest releases the request context and re-enables input.
func (m *ChatModel) endRequest() {
	if m.cancelFn != nil {
		m.cancelFn()
		m.cancelFn = nil
	}
	// An unterminated thinking section stays visible as finished.
	if m.inThinking {
		m.chatView.EditMessage(m.activeID, func(cm *components.ChatMessage) {
			cm.Think = components.ThinkingDone
		})
	}
	m.resetStream()
	m.activeID = ""
	m.events = nil
	m.waiting = false
	m.vimMode = false
	m.input.SetEnabled(true)
	m.statusBar.Extra = ""
	m.statusBar.Hints = defaultHints()
}

func (m *ChatModel) resetStream() {
	m.inThinking = false
	m.target = nil
	m.shown = 0
	m.ticking = false
	m.finished = false
	m.full = ""
}

// cancelRequest stops the active stream locally, bumps the generation so
// stale messages are ignored and asks the server to stop generating.
func (m *ChatModel) cancelRequest(reason string) tea.Cmd {
	id := m.activeID
	m.gen++
	m.reveal(len(m.target))
	m.endRequest()
	m.chatView.AddMessage(components.ChatMessage{
		Role:    components.RoleSystem,
		Content: reason,
	})
	if id == "" || m.deps.Client == nil {
		return nil
	}
	return cancelStreamCmd(m.deps.Client, id)
}

func (m *ChatModel) setShowThinking(show bool) {
	m.showThinking = show
	m.chatView.SetShowThinking(show)
}

// handleSlashCommand processes a slash command.
func (m ChatModel) handleSlashCommand(cmd string, args []string) (tea.Model, tea.Cmd) {
	switch cmd {
	case "/help":
		m.system(`Available commands:
  /help        - Show this help
  /clear       - Clear conversation
  /cancel      - Cancel the running answer
  /speed       - Cycle typewriter speed (normal/fast/instant)
  /thinking    - show | hide | expand | collapse reasoning
  /quit        - Exit

Keybindings:
  Enter        - Send message
  Up/Down      - Recall sent prompts
  Ctrl+O       - Show/hide thinking
  Ctrl+L       - Clear conversation
  Ctrl+C       - Cancel/Quit
  Esc          - Scroll mode (j/k, g/G, i to type)
  PgUp/PgDn    - Scroll chat`)
		return m, nil

	case "/quit", "/exit":
		m.quitting = true
		return m, tea.Quit

	case "/clear":
		m.chatView.Clear()
		m.system(theme.SymbolSuccess + " Conversation cleared.")
		return m, nil

	case "/cancel":
		if m.waiting {
			return m, m.cancelRequest("Request cancelled.")
		}
		m.system("No active request to cancel.")
		return m, nil

	case "/speed":
		m.streamCfg = StreamConfigForSpeed(CycleStreamSpeed(m.streamCfg.Speed), m.tickRate)
		m.statusBar.Speed = m.streamCfg.Speed.String()
		if m.streamCfg.Speed == StreamInstant && m.waiting {
			m.reveal(len(m.target))
		}
		m.system(fmt.Sprintf("Typewriter speed: %s", m.streamCfg.Speed))
		return m, nil

	case "/thinking":
		return m.handleThinking(args)

	default:
		m.system(fmt.Sprintf("Unknown command: %s. Type /help for available commands.", cmd))
		return m, nil
	}
}

func (m ChatModel) handleThinking(args []string) (tea.Model, tea.Cmd) {
	action := "toggle"
	if len(args) > 0 {
		action = args[0]
	}
	switch action {
	case "toggle":
		m.setShowThinking(!m.showThinking)
	case "show":
		m.setShowThinking(true)
	case "hide":
		m.setShowThinking(false)
	case "expand", "collapse":
		from, to := components.ThinkingCollapsed, components.ThinkingDone
		if action == "collapse" {
			from, to = to, from
		}
		for _, cm := range m.chatView.Messages.Messages {
			if cm.Think == from {
				m.chatView.EditMessage(cm.MessageID, func(c *components.ChatMessage) { c.Think = to })
			}
		}
	default:
		m.system("Usage: /thinking [show|hide|expand|collapse]")
	}
	return m, nil
}

func (m *ChatModel) system(text string) {
	m.chatView.AddMessage(components.ChatMessage{
		Role:    components.RoleSystem,
		Content: text,
	})
}

// isMouseEscapeLeak detects mouse escape sequences that leaked through as
// key input instead of tea.MouseMsg (SGR, X11 and URXVT formats).
func isMouseEscapeLeak(s string) bool {
	if len(s) >= 2 && s[0] == '[' && (s[1] == 'M' || s[1] == 'm') {
		return true
	}
	if len(s) < 5 {
		return false
	}
	last := s[len(s)-1]
	switch {
	case s[0] == '<' && (last == 'M' || last == 'm'):
	case s[0] == '[' && last == 'M':
	default:
		return false
	}
	for _, r := range s[1 : len(s)-1] {
		if r != ';' && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

func defaultHints() []components.KeyHint {
	return []components.KeyHint{
		{Key: "Enter", Desc: "Send"},
		{Key: "Ctrl+O", Desc: "Thinking"},
		{Key: "Esc", Desc: "Scroll"},
		{Key: "?", Desc: "/help"},
		{Key: "Ctrl+C", Desc: "Quit"},
	}
}

func streamingHints() []components.KeyHint {
	return []components.KeyHint{
		{Key: "Ctrl+C", Desc: "Cancel"},
		{Key: "Ctrl+O", Desc: "Thinking"},
		{Key: "j/k", Desc: "Scroll"},
	}
}

func vimHints() []components.KeyHint {
	return []components.KeyHint{
		{Key: "j/k", Desc: "Scroll"},
		{Key: "g/G", Desc: "Top/bottom"},
		{Key: "i", Desc: "Input"},
	}
}
