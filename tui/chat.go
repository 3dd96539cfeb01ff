package tui

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"hearsay/bus"
	"hearsay/groq"
	"hearsay/store"
)

// notificationMsg wraps a bus notification for the Bubble Tea loop.
type notificationMsg struct {
	n bus.Notification
}

// snapshotMsg carries a fresh store pull.
type snapshotMsg struct {
	snap bus.Snapshot
	err  error
}

// ChatModel is the Bubble Tea model for the chat and transcription
// surface. It renders entirely from pulled store state plus the one
// in-flight assistant turn, which streams over the bus.
type ChatModel struct {
	store store.Store
	bus   *bus.Bus

	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model

	// Pulled state.
	snap bus.Snapshot

	// The single in-flight assistant turn. streaming guards against a
	// second placeholder ever existing.
	streaming   bool
	placeholder string

	// Transcript context attached to the next outgoing message.
	attachedContext string
	contextLabel    string

	// Image attached to the next outgoing message (vision model only).
	attachedImage string
	imageName     string

	statusLine string
	width      int
	height     int
	ready      bool
	quitting   bool
}

// NewChatModel creates the chat model.
func NewChatModel(s store.Store, b *bus.Bus) ChatModel {
	input := textinput.New()
	input.Placeholder = "Ask Mark anything, or /help"
	input.Focus()
	input.CharLimit = 4000

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(ColorAccent)

	return ChatModel{
		store:   s,
		bus:     b,
		input:   input,
		spinner: sp,
	}
}

// Init pulls the initial snapshot and starts listening on the bus.
func (m ChatModel) Init() tea.Cmd {
	return tea.Batch(m.pullSnapshot(), m.waitForNotification(), m.spinner.Tick, textinput.Blink)
}

func (m ChatModel) pullSnapshot() tea.Cmd {
	return func() tea.Msg {
		snap, err := bus.PullSnapshot(m.store)
		return snapshotMsg{snap: snap, err: err}
	}
}

func (m ChatModel) waitForNotification() tea.Cmd {
	return func() tea.Msg {
		n, ok := <-m.bus.Notifications()
		if !ok {
			return nil
		}
		return notificationMsg{n: n}
	}
}

// Update handles messages.
func (m ChatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		vpHeight := msg.Height - 10
		if vpHeight < 3 {
			vpHeight = 3
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width-2, vpHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width - 2
			m.viewport.Height = vpHeight
		}
		m.refreshViewport()
		return m, nil

	case snapshotMsg:
		if msg.err != nil {
			m.statusLine = ErrorStyle.Render("Could not load state: " + msg.err.Error())
			return m, nil
		}
		m.snap = msg.snap
		m.refreshViewport()
		return m, nil

	case notificationMsg:
		cmd := m.applyNotification(msg.n)
		return m, tea.Batch(cmd, m.waitForNotification())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// applyNotification folds one bus notification into the model. It
// returns a follow-up command when the notification demands a re-pull.
func (m *ChatModel) applyNotification(n bus.Notification) tea.Cmd {
	switch v := n.(type) {
	case bus.StateChanged:
		// Never trust a partial payload: re-pull everything.
		return m.pullSnapshot()
	case bus.ChatChunk:
		if !m.streaming {
			// Chunk for a turn this UI did not start; a re-pull will
			// pick up the persisted result instead.
			return nil
		}
		m.placeholder += v.Text
		m.refreshViewport()
		return nil
	case bus.ChatStreamEnd:
		if !m.streaming {
			return nil
		}
		m.streaming = false
		m.placeholder = ""
		// The orchestrator persisted the full turn; pull it.
		return m.pullSnapshot()
	case bus.ChatError:
		m.streaming = false
		m.placeholder = ""
		m.statusLine = ErrorStyle.Render(v.Message)
		m.refreshViewport()
		return nil
	case bus.TranscriptionComplete:
		m.statusLine = SuccessStyle.Render("Transcription complete")
		return m.pullSnapshot()
	}
	return nil
}

func (m ChatModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		m.quitting = true
		m.bus.Send(bus.CloseBridge{})
		return m, tea.Quit

	case "enter":
		return m.handleSubmit()

	case "ctrl+r":
		m.streaming = false
		m.placeholder = ""
		m.store.SaveChatHistory(nil)
		return m, m.pullSnapshot()

	case "ctrl+y":
		if text := m.lastMessageText(); text != "" {
			if err := clipboard.WriteAll(text); err != nil {
				m.statusLine = ErrorStyle.Render("Copy failed: " + err.Error())
			} else {
				m.statusLine = MutedStyle.Render("Copied last message")
			}
		}
		return m, nil
	}

	// Transcription banner shortcuts only apply when the banner shows.
	switch m.snap.Transcription.State {
	case store.StatePendingUserAction:
		if m.snap.Transcription.Pending != nil {
			switch msg.String() {
			case "y":
				m.bus.Send(bus.StartTranscription{DownloadID: m.snap.Transcription.Pending.DownloadID})
				return m, nil
			case "n":
				m.bus.Send(bus.CancelTranscription{DownloadID: m.snap.Transcription.Pending.DownloadID})
				return m, nil
			}
		}
	case store.StateComplete:
		switch msg.String() {
		case "ctrl+a":
			m.attachedContext = m.snap.Transcription.Result
			m.contextLabel = "transcript"
			m.store.ClearTranscription()
			m.statusLine = ContextStyle.Render("Transcript attached to your next message")
			return m, m.pullSnapshot()
		case "ctrl+o":
			if err := clipboard.WriteAll(m.snap.Transcription.Result); err == nil {
				m.statusLine = MutedStyle.Render("Transcript copied")
			}
			return m, nil
		case "ctrl+d":
			m.store.ClearTranscription()
			return m, m.pullSnapshot()
		}
	case store.StateError:
		if msg.String() == "ctrl+d" {
			m.store.ClearTranscription()
			return m, m.pullSnapshot()
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m ChatModel) handleSubmit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" || m.streaming {
		return m, nil
	}

	if strings.HasPrefix(text, "/") {
		return m.handleCommand(text)
	}

	// A pending one-shot selection prefixes this message once.
	if m.attachedContext == "" {
		if selected, ok, _ := m.store.TakeSelectedText(); ok {
			m.attachedContext = selected
			m.contextLabel = "selection"
		}
	}

	userMsg := m.buildUserMessage(text)
	m.input.Reset()
	m.attachedContext = ""
	m.contextLabel = ""
	m.attachedImage = ""
	m.imageName = ""
	m.statusLine = ""

	messages := append([]groq.ChatMessage{}, m.snap.History...)
	messages = append(messages, userMsg)

	// Optimistic render: show the user turn and one placeholder while
	// the stream runs.
	m.snap.History = messages
	m.streaming = true
	m.placeholder = ""
	m.refreshViewport()

	model := ""
	if userMsg.HasImage() {
		model = groq.ModelLlamaVision
	}
	m.bus.Send(bus.SendChatMessage{Model: model, Messages: messages})
	return m, nil
}

// buildUserMessage assembles the outgoing user turn from the input
// text plus any attached context or image.
func (m *ChatModel) buildUserMessage(text string) groq.ChatMessage {
	body := text
	contextUsed := false
	if m.attachedContext != "" {
		body = fmt.Sprintf("Context (%s):\n%s\n\n%s", m.contextLabel, m.attachedContext, text)
		contextUsed = true
	}

	if m.attachedImage != "" {
		return groq.ChatMessage{
			Role: groq.RoleUser,
			Parts: []groq.ContentPart{
				{Type: "text", Text: body},
				{Type: "image_url", ImageURL: &groq.ImageURL{URL: m.attachedImage}},
			},
			ContextUsed: contextUsed,
		}
	}
	return groq.ChatMessage{Role: groq.RoleUser, Text: body, ContextUsed: contextUsed}
}

func (m ChatModel) handleCommand(text string) (tea.Model, tea.Cmd) {
	fields := strings.Fields(text)
	m.input.Reset()
	switch fields[0] {
	case "/help":
		m.statusLine = MutedStyle.Render("/image <path> attach image, /transcribe [url] from URL or clipboard, ctrl+r reset, ctrl+y copy last, esc quit")
	case "/image":
		if len(fields) < 2 {
			m.statusLine = ErrorStyle.Render("Usage: /image <path>")
			break
		}
		dataURL, err := encodeImageFile(fields[1])
		if err != nil {
			m.statusLine = ErrorStyle.Render(err.Error())
			break
		}
		m.attachedImage = dataURL
		m.imageName = filepath.Base(fields[1])
		m.statusLine = ContextStyle.Render("Image attached: " + m.imageName + " (vision model will be used)")
	case "/transcribe":
		url := ""
		if len(fields) > 1 {
			url = fields[1]
		}
		m.bus.Send(bus.TranscribeIntent{DirectURL: url})
		m.statusLine = MutedStyle.Render("Transcription requested")
	default:
		m.statusLine = ErrorStyle.Render("Unknown command " + fields[0])
	}
	return m, nil
}

// encodeImageFile reads an image and packs it as a data URL.
func encodeImageFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("could not read image: %w", err)
	}
	mimeType := imageMIME(path)
	if mimeType == "" {
		return "", fmt.Errorf("unsupported image type %q", filepath.Ext(path))
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func imageMIME(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	}
	return ""
}

func (m *ChatModel) lastMessageText() string {
	if m.streaming && m.placeholder != "" {
		return m.placeholder
	}
	if n := len(m.snap.History); n > 0 {
		return m.snap.History[n-1].PlainText()
	}
	return ""
}

func (m *ChatModel) refreshViewport() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderConversation())
	m.viewport.GotoBottom()
}

// renderConversation renders history plus the in-flight placeholder.
func (m *ChatModel) renderConversation() string {
	var b strings.Builder
	if len(m.snap.History) == 0 && !m.streaming {
		b.WriteString(MutedStyle.Render("No messages yet. Say hej!"))
	}
	for _, msg := range m.snap.History {
		b.WriteString(renderMessage(msg))
		b.WriteString("\n\n")
	}
	if m.streaming {
		b.WriteString(AssistantStyle.Render("Mark"))
		b.WriteString("\n")
		if m.placeholder == "" {
			b.WriteString(MutedStyle.Render("thinking..."))
		} else {
			b.WriteString(m.placeholder)
		}
	}
	return b.String()
}

func renderMessage(msg groq.ChatMessage) string {
	var label string
	switch msg.Role {
	case groq.RoleUser:
		label = UserStyle.Render("You")
	case groq.RoleAssistant:
		label = AssistantStyle.Render("Mark")
	default:
		label = MutedStyle.Render(msg.Role)
	}
	if msg.ContextUsed {
		label += " " + ContextStyle.Render("[context]")
	}
	if msg.HasImage() {
		label += " " + ContextStyle.Render("[image]")
	}
	return label + "\n" + msg.PlainText()
}

// renderTranscriptionBanner renders the pending/progress/result banner
// above the input, empty when the state machine is idle.
func (m *ChatModel) renderTranscriptionBanner() string {
	tr := m.snap.Transcription
	switch tr.State {
	case store.StatePendingUserAction:
		if tr.Pending == nil {
			return ""
		}
		return BannerStyle.Render(fmt.Sprintf("Transcribe %s? %s / %s",
			TitleStyle.Render(tr.Pending.Filename),
			SuccessStyle.Render("y"),
			ErrorStyle.Render("n")))
	case store.StateLoading:
		return BannerStyle.Render(m.spinner.View() + " Preparing...")
	case store.StateFetching:
		return BannerStyle.Render(m.spinner.View() + " Fetching audio...")
	case store.StateTranscribing:
		return BannerStyle.Render(m.spinner.View() + " Transcribing...")
	case store.StateComplete:
		preview := tr.Result
		if len(preview) > 120 {
			preview = preview[:120] + "..."
		}
		return BannerStyle.Render(SuccessStyle.Render("Transcript ready") + "\n" + preview + "\n" +
			MutedStyle.Render("ctrl+a attach, ctrl+o copy, ctrl+d dismiss"))
	case store.StateError:
		return BannerStyle.Render(ErrorStyle.Render("Transcription failed") + "\n" + tr.Error + "\n" +
			MutedStyle.Render("ctrl+d dismiss"))
	}
	return ""
}

// View renders the full surface.
func (m ChatModel) View() string {
	if m.quitting {
		return MutedStyle.Render("hej da\n")
	}
	if !m.ready {
		return "loading..."
	}

	var b strings.Builder
	b.WriteString(RenderHeader())
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")

	if banner := m.renderTranscriptionBanner(); banner != "" {
		b.WriteString(banner)
		b.WriteString("\n")
	}
	if m.statusLine != "" {
		b.WriteString(m.statusLine)
		b.WriteString("\n")
	}
	if m.attachedImage != "" {
		b.WriteString(ContextStyle.Render("[image: " + m.imageName + "]"))
		b.WriteString("\n")
	}
	if m.attachedContext != "" {
		b.WriteString(ContextStyle.Render("[" + m.contextLabel + " attached]"))
		b.WriteString("\n")
	}

	b.WriteString(m.input.View())
	b.WriteString(HelpStyle.Render("\nenter send | ctrl+r reset | ctrl+y copy last | esc quit"))
	return b.String()
}

// Run starts the chat TUI and blocks until it exits.
func Run(s store.Store, b *bus.Bus) error {
	p := tea.NewProgram(NewChatModel(s, b), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
