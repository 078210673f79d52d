package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nstogner/solemate/pkg/controller"
	"github.com/nstogner/solemate/pkg/domain"
	"github.com/nstogner/solemate/pkg/store"
)

var chatThread string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the agent in the terminal",
	Long: `Open a terminal chat. Without --thread a menu offers a new thread or
one of the stored threads. Type /exit to quit. When the agent asks to
confirm an action, answer "yes" to run it; any other answer declines.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatThread, "thread", "", "open this thread directly")
}

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1)

	senderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("5")).
			Bold(true)

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("2")).
			Bold(true)

	toolStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	cursorStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	selectedItemStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	promptStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true).Padding(0, 1)
	errorStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true).Padding(0, 1) // Red
)

type state int

const (
	stateMenu state = iota
	stateSelectingThread
	stateChatting
)

type errMsg struct{ err error }
type threadUpdateMsg string
type replyMsg struct{ reply *controller.Reply }
type threadLoadedMsg struct{ thread *domain.Thread }

type chatModel struct {
	ctx         context.Context
	agent       *controller.Controller
	threads     store.ThreadStore
	updates     <-chan string
	unsubscribe func()

	state    state
	threadID string
	choices  []domain.ThreadInfo
	cursor   int
	busy     bool
	width    int
	height   int
	notice   string
	err      error

	viewport viewport.Model
	textarea textarea.Model
	renderer *glamour.TermRenderer
}

func newChatModel(ctx context.Context, agent *controller.Controller, threads store.ThreadStore, threadID string) chatModel {
	ta := textarea.New()
	ta.Placeholder = "Ask about an order or a policy..."
	ta.Focus()
	ta.Prompt = "┃ "
	ta.CharLimit = 1000
	ta.SetWidth(80)
	ta.SetHeight(3)
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.ShowLineNumbers = false

	vp := viewport.New(80, 20)

	// "light" avoids terminal queries that leak into the input.
	r, _ := glamour.NewTermRenderer(
		glamour.WithStandardStyle("light"),
		glamour.WithWordWrap(80),
	)

	updates, unsubscribe := threads.Subscribe()
	m := chatModel{
		ctx:         ctx,
		agent:       agent,
		threads:     threads,
		updates:     updates,
		unsubscribe: unsubscribe,
		state:       stateMenu,
		threadID:    threadID,
		viewport:    vp,
		textarea:    ta,
		renderer:    r,
	}
	if threadID != "" {
		m.state = stateChatting
	} else if infos, err := threads.List(ctx); err == nil && len(infos) == 0 {
		m.threadID = uuid.NewString()
		m.state = stateChatting
	}
	return m
}

func (m chatModel) Init() tea.Cmd {
	cmds := []tea.Cmd{textarea.Blink, waitForUpdate(m.updates)}
	if m.state == stateChatting {
		cmds = append(cmds, m.loadThread())
	}
	return tea.Batch(cmds...)
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	var tiCmd, vpCmd tea.Cmd
	// Keys only reach the textarea while chatting so menu Enter does not leak.
	switch msg.(type) {
	case tea.KeyMsg:
		if m.state == stateChatting {
			m.textarea, tiCmd = m.textarea.Update(msg)
			cmds = append(cmds, tiCmd)
		}
	default:
		m.textarea, tiCmd = m.textarea.Update(msg)
		cmds = append(cmds, tiCmd)
	}
	m.viewport, vpCmd = m.viewport.Update(msg)
	cmds = append(cmds, vpCmd)

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width
		m.textarea.SetWidth(msg.Width)
		m.viewport.Height = max(msg.Height-m.textarea.Height()-4, 0)
		m.viewport.YPosition = 2
		m.renderer, _ = glamour.NewTermRenderer(
			glamour.WithStandardStyle("light"),
			glamour.WithWordWrap(max(m.width-4, 20)),
		)
		if m.state == stateChatting {
			cmds = append(cmds, m.loadThread())
		}

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyUp:
			if m.state != stateChatting && m.cursor > 0 {
				m.cursor--
			}
		case tea.KeyDown:
			if m.state != stateChatting && m.cursor < m.maxCursor() {
				m.cursor++
			}
		case tea.KeyEnter:
			switch m.state {
			case stateMenu:
				return m.selectMenu()
			case stateSelectingThread:
				if len(m.choices) > 0 {
					m.threadID = m.choices[m.cursor].ID
					return m.enterChat()
				}
			case stateChatting:
				return m.sendMessage()
			}
		}

	case threadUpdateMsg:
		slog.Debug("TUI received update for thread", "threadID", string(msg))
		if m.state == stateChatting && string(msg) == m.threadID && !m.busy {
			cmds = append(cmds, m.loadThread())
		}
		cmds = append(cmds, waitForUpdate(m.updates))

	case threadLoadedMsg:
		m.viewport.SetContent(renderTranscript(msg.thread, m.renderer))
		m.viewport.GotoBottom()
		if msg.thread.Pending != nil && m.notice == "" {
			m.notice = m.agent.Prompt(*msg.thread.Pending)
		}

	case replyMsg:
		m.busy = false
		m.notice = ""
		m.err = nil
		switch msg.reply.Kind {
		case controller.ReplyConfirmation:
			m.notice = msg.reply.Text
		case controller.ReplyError:
			m.err = errors.New(strings.TrimPrefix(msg.reply.Text, "⚠️ Error: "))
		}
		cmds = append(cmds, m.loadThread())

	case errMsg:
		m.busy = false
		m.err = msg.err
	}

	return m, tea.Batch(cmds...)
}

func (m chatModel) maxCursor() int {
	if m.state == stateMenu {
		return 1
	}
	return len(m.choices) - 1
}

func (m chatModel) selectMenu() (tea.Model, tea.Cmd) {
	if m.cursor == 0 {
		m.threadID = uuid.NewString()
		return m.enterChat()
	}
	infos, err := m.threads.List(m.ctx)
	if err != nil {
		m.err = err
		return m, nil
	}
	if len(infos) == 0 {
		m.err = errors.New("no stored threads")
		return m, nil
	}
	m.choices = infos
	m.cursor = 0
	m.state = stateSelectingThread
	return m, nil
}

func (m chatModel) enterChat() (tea.Model, tea.Cmd) {
	m.state = stateChatting
	m.err = nil
	m.textarea.Reset()
	m.textarea.Focus()
	return m, m.loadThread()
}

func (m chatModel) sendMessage() (tea.Model, tea.Cmd) {
	v := strings.TrimSpace(m.textarea.Value())
	m.textarea.Reset()
	if v == "" || m.busy {
		return m, nil
	}
	if v == "/exit" {
		return m, tea.Quit
	}

	m.busy = true
	m.err = nil
	agent, ctx, id := m.agent, m.ctx, m.threadID
	return m, func() tea.Msg {
		return replyMsg{agent.Respond(ctx, id, v)}
	}
}

func (m chatModel) loadThread() tea.Cmd {
	agent, ctx, id := m.agent, m.ctx, m.threadID
	return func() tea.Msg {
		th, err := agent.Thread(ctx, id)
		if err != nil {
			return errMsg{err}
		}
		return threadLoadedMsg{th}
	}
}

func waitForUpdate(sub <-chan string) tea.Cmd {
	return func() tea.Msg {
		id, ok := <-sub
		if !ok {
			return nil
		}
		return threadUpdateMsg(id)
	}
}

func (m chatModel) View() string {
	var errorView string
	if m.err != nil {
		errorView = errorStyle.Width(m.width).Render(fmt.Sprintf("Error: %v", m.err))
	}

	switch m.state {
	case stateMenu:
		return m.listView("SoleMate", []string{"New thread", "Continue thread"}, errorView)
	case stateSelectingThread:
		lines := make([]string, 0, len(m.choices))
		for _, info := range m.choices {
			lines = append(lines, fmt.Sprintf("%s  %d messages  %s  (%s)",
				info.ID, info.MessageCount, info.State, info.UpdatedAt.Format(time.RFC822)))
		}
		return m.listView("Select Thread", lines, errorView)
	}

	status := ""
	switch {
	case m.busy:
		status = toolStyle.Render("  thinking...")
	case m.notice != "":
		status = promptStyle.Render(m.notice)
	}
	return lipgloss.JoinVertical(
		lipgloss.Left,
		titleStyle.Render("SoleMate Support")+toolStyle.Render("  "+m.threadID),
		"",
		m.viewport.View(),
		status,
		errorView,
		m.textarea.View(),
	)
}

func (m chatModel) listView(title string, options []string, errorView string) string {
	maxViewable := max(m.height-7, 1)
	start := 0
	if m.cursor >= maxViewable {
		start = m.cursor - maxViewable + 1
	}
	end := min(start+maxViewable, len(options))

	var optionsView []string
	for i := start; i < end; i++ {
		cursor := " "
		line := options[i]
		if m.cursor == i {
			cursor = ">"
			line = selectedItemStyle.Render(line)
		}
		optionsView = append(optionsView, fmt.Sprintf("%s %s", cursorStyle.Render(cursor), line))
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render(title), "",
		lipgloss.JoinVertical(lipgloss.Left, optionsView...), "",
		"Press Enter to select, Esc to quit.",
		errorView,
	)
}

// renderTranscript renders a thread for the viewport. Assistant text is
// rendered as markdown; tool traffic is shown in a muted one-line form.
func renderTranscript(th *domain.Thread, r *glamour.TermRenderer) string {
	if len(th.Messages) == 0 {
		return "How can I help you today?"
	}
	var sb strings.Builder
	for _, msg := range th.Messages {
		switch msg.Role {
		case domain.RoleUser:
			sb.WriteString(userStyle.Render("You: "))
			sb.WriteString(msg.Content)
			sb.WriteString("\n\n")
		case domain.RoleAssistant:
			for _, tc := range msg.ToolCalls {
				sb.WriteString(toolStyle.Render(fmt.Sprintf("[calling %s %s]", tc.Name, tc.Arguments)))
				sb.WriteString("\n")
			}
			if strings.TrimSpace(msg.Content) == "" {
				continue
			}
			sb.WriteString(senderStyle.Render("SoleMate:"))
			sb.WriteString("\n")
			sb.WriteString(renderMarkdown(r, msg.Content))
			sb.WriteString("\n")
		case domain.RoleTool:
			status := "result"
			if msg.IsError {
				status = "error"
			}
			sb.WriteString(toolStyle.Render(fmt.Sprintf("[%s %s] %s", status, msg.ToolCallID, oneLine(msg.Content, 120))))
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func renderMarkdown(r *glamour.TermRenderer, s string) string {
	if r == nil {
		return s
	}
	out, err := r.Render(s)
	if err != nil {
		return s
	}
	return out
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	m := newChatModel(ctx, a.controller, a.store, chatThread)
	defer m.unsubscribe()

	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("chat: %w", err)
	}
	return nil
}
