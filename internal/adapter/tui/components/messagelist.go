package components

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"chatstream/internal/adapter/tui/theme"
)

// MessageRole identifies the sender of a chat message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
	RoleError     MessageRole = "error"
)

// ThinkingState tracks the reasoning block attached to an assistant message.
type ThinkingState int

const (
	ThinkingNone      ThinkingState = iota // no reasoning received
	ThinkingActive                         // inside an open thinking section
	ThinkingDone                           // section closed, shown expanded
	ThinkingCollapsed                      // section closed, shown as a summary line
)

// ChatMessage represents a single message in the chat history.
type ChatMessage struct {
	Role      MessageRole
	MessageID string // server message id (user and assistant messages)
	Content   string
	Thinking  string
	Think     ThinkingState
	Rendered  string // cached glamour output; empty means not yet rendered
	Timestamp time.Time
}

// MessageListModel manages an ordered list of chat messages with optional ring buffer.
type MessageListModel struct {
	Messages     []ChatMessage
	MaxMessages  int // 0 = unlimited; positive = ring buffer cap
	ShowThinking bool
	trimCount    int
	width        int
	mdRenderer   *glamour.TermRenderer
}

// NewMessageList creates an empty message list that shows thinking sections.
func NewMessageList() MessageListModel {
	return MessageListModel{ShowThinking: true}
}

// SetWidth updates the rendering width and clears cached renders.
func (m *MessageListModel) SetWidth(w int) {
	if w == m.width {
		return
	}
	m.width = w
	m.mdRenderer = nil
	for i := range m.Messages {
		m.Messages[i].Rendered = ""
	}
}

// SetMaxMessages sets the ring buffer capacity. 0 means unlimited.
func (m *MessageListModel) SetMaxMessages(max int) {
	m.MaxMessages = max
}

// TrimmedIndicator returns a message if older messages were trimmed, empty otherwise.
func (m *MessageListModel) TrimmedIndicator() string {
	if m.trimCount == 0 {
		return ""
	}
	return fmt.Sprintf("(%d older messages trimmed)", m.trimCount)
}

// Add appends a message. If MaxMessages is set, trims oldest messages.
func (m *MessageListModel) Add(msg ChatMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	m.Messages = append(m.Messages, msg)
	if m.MaxMessages > 0 && len(m.Messages) > m.MaxMessages {
		excess := len(m.Messages) - m.MaxMessages
		m.Messages = m.Messages[excess:]
		m.trimCount += excess
	}
}

// Clear removes all messages.
func (m *MessageListModel) Clear() {
	m.Messages = nil
	m.trimCount = 0
}

// UpdateLast replaces the content of the last message.
func (m *MessageListModel) UpdateLast(content string) {
	if len(m.Messages) == 0 {
		return
	}
	m.Messages[len(m.Messages)-1].Content = content
	m.Messages[len(m.Messages)-1].Rendered = ""
}

// Edit applies fn to the newest assistant message carrying messageID and
// reports whether one was found.
func (m *MessageListModel) Edit(messageID string, fn func(*ChatMessage)) bool {
	for i := len(m.Messages) - 1; i >= 0; i-- {
		msg := &m.Messages[i]
		if msg.Role == RoleAssistant && msg.MessageID == messageID {
			fn(msg)
			msg.Rendered = ""
			return true
		}
	}
	return false
}

// View renders all messages as a single string.
func (m *MessageListModel) View() string {
	if len(m.Messages) == 0 {
		return theme.TextMuted.Render("  No messages yet. Start a conversation!")
	}

	contentWidth := theme.Clamp(m.width-4, 40, theme.MaxContentWidth)

	var sb strings.Builder
	if indicator := m.TrimmedIndicator(); indicator != "" {
		sb.WriteString(theme.TextMuted.Render("  "+indicator) + "\n\n")
	}
	for i := range m.Messages {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(m.renderMessage(&m.Messages[i], contentWidth))
	}
	return sb.String()
}

func (m *MessageListModel) renderMessage(msg *ChatMessage, width int) string {
	label := roleLabel(msg.Role)
	ts := RelativeTime(msg.Timestamp)
	header := label + " " + theme.Timestamp.Render(ts)
	headerWidth := lipgloss.Width(header)

	thinking := ""
	if m.ShowThinking {
		thinking = renderThinking(msg, width)
	}

	var body string
	switch msg.Role {
	case RoleAssistant:
		if msg.Content != "" && msg.Rendered == "" {
			msg.Rendered = m.renderMarkdown(msg.Content, width)
		}
		body = strings.TrimSpace(msg.Rendered)
	case RoleError:
		body = theme.TextError.Render(wrapText(msg.Content, width-2))
	default:
		inlineW := width - headerWidth - 2
		if inlineW < 20 {
			inlineW = width - 2
		}
		body = wrapText(msg.Content, inlineW)
	}

	if thinking != "" {
		if body == "" {
			return header + "\n" + thinking
		}
		return header + "\n" + thinking + "\n" + body
	}
	if body == "" {
		return header
	}

	if width-headerWidth-2 < 20 {
		return header + "\n  " + body
	}

	lines := strings.SplitN(body, "\n", 2)
	result := header + "  " + strings.TrimSpace(lines[0])
	if len(lines) > 1 {
		result += "\n" + lines[1]
	}
	return result
}

// renderThinking draws the reasoning block: streaming text while the section
// is open, the full text once closed, or a one-line summary when collapsed.
func renderThinking(msg *ChatMessage, width int) string {
	switch msg.Think {
	case ThinkingActive:
		head := theme.ThinkingHeader.Render("  " + theme.SymbolExpanded + " Thinking" + theme.SymbolEllipsis)
		if strings.TrimSpace(msg.Thinking) == "" {
			return head
		}
		return head + "\n" + thinkingBody(msg.Thinking, width)
	case ThinkingDone:
		head := theme.ThinkingHeader.Render("  " + theme.SymbolExpanded + " Thought")
		return head + "\n" + thinkingBody(msg.Thinking, width)
	case ThinkingCollapsed:
		words := len(strings.Fields(msg.Thinking))
		return theme.ThinkingHeader.Render(fmt.Sprintf("  %s Thought (%d words)", theme.SymbolCollapsed, words))
	default:
		return ""
	}
}

func thinkingBody(text string, width int) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	return "  " + theme.ThinkingBody.Render(wrapText(text, width-6))
}

func roleLabel(role MessageRole) string {
	switch role {
	case RoleUser:
		return theme.UserLabel.Render(theme.SymbolUser)
	case RoleAssistant:
		return theme.BotLabel.Render(theme.SymbolBot)
	case RoleSystem:
		return theme.SystemLabel.Render("System")
	case RoleError:
		return theme.ErrorLabel.Render(theme.SymbolError + " Error")
	default:
		return theme.TextMuted.Render(string(role))
	}
}

func (m *MessageListModel) renderMarkdown(content string, width int) string {
	if m.mdRenderer == nil {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			return "  " + content
		}
		m.mdRenderer = r
	}
	rendered, err := m.mdRenderer.Render(content)
	if err != nil {
		return "  " + content
	}
	return rendered
}

// RelativeTime returns a human-readable relative time string.
func RelativeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Format("Jan 2 15:04")
	}
}

// wrapText wraps text to the given width with a 2-space indent on
// continuation lines. Existing newlines are kept.
func wrapText(s string, width int) string {
	if width <= 0 {
		return s
	}
	paragraphs := strings.Split(s, "\n")
	for i, p := range paragraphs {
		paragraphs[i] = wrapLine(p, width)
	}
	return strings.Join(paragraphs, "\n  ")
}

func wrapLine(s string, width int) string {
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	var lines []string
	for len(runes) > width {
		idx := -1
		for i := width - 1; i > 0; i-- {
			if runes[i] == ' ' {
				idx = i
				break
			}
		}
		if idx <= 0 {
			idx = width
		}
		lines = append(lines, string(runes[:idx]))
		runes = runes[idx:]
		for len(runes) > 0 && runes[0] == ' ' {
			runes = runes[1:]
		}
	}
	if len(runes) > 0 {
		lines = append(lines, string(runes))
	}
	return strings.Join(lines, "\n  ")
}

// Divider renders a horizontal line at the given width.
func Divider(width int) string {
	return lipgloss.NewStyle().
		Foreground(theme.ColorBorder).
		Render(strings.Repeat("─", width))
}
