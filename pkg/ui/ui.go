package ui

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/go-go-golems/parley/pkg/conversation"
	"github.com/go-go-golems/parley/pkg/events"
	"github.com/go-go-golems/parley/pkg/session"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type errMsg error

// states:
// - user input
// - user moving around messages
// - editing a previous user message
// - stream completion
// - showing error

type State string

const (
	StateUserInput        State = "user_input"
	StateMovingAround     State = "moving_around"
	StateEditing          State = "editing"
	StateStreamCompletion State = "stream_completion"
	StateError            State = "error"
)

type model struct {
	ctx     context.Context
	manager *session.Manager

	viewport viewport.Model
	textArea textarea.Model
	help     help.Model
	spinner  spinner.Model

	glamourStyle string
	renderer     *glamour.TermRenderer

	// currently selected message, -1 when the transcript is empty
	selectedIdx int
	editingID   string
	err         error
	keyMap      KeyMap

	style  *Style
	width  int
	height int
	title  string

	// if not nil, an inference is running
	handle *session.ExecutionHandle

	state        State
	quitReceived bool
}

// StreamMsg carries a session event into the program.
type StreamMsg struct {
	Event events.Event
}

type runDoneMsg struct {
	reply *conversation.Message
	err   error
}

type refreshMessageMsg struct {
	GoToBottom bool
}

type Option func(*model)

// WithGlamourStyle picks the glamour style used for settled replies, for
// example "dark", "light" or "notty".
func WithGlamourStyle(style string) Option {
	return func(m *model) {
		m.glamourStyle = style
	}
}

func WithTitle(title string) Option {
	return func(m *model) {
		m.title = title
	}
}

func InitialModel(ctx context.Context, manager *session.Manager, options ...Option) model {
	ret := model{
		ctx:          ctx,
		manager:      manager,
		style:        DefaultStyles(),
		keyMap:       DefaultKeyMap,
		viewport:     viewport.New(0, 0),
		help:         help.New(),
		spinner:      spinner.New(spinner.WithSpinner(spinner.Dot)),
		glamourStyle: "dark",
		title:        "PARLEY",
	}
	for _, o := range options {
		o(&ret)
	}

	ret.textArea = textarea.New()
	ret.textArea.Placeholder = "Ask anything..."
	ret.textArea.ShowLineNumbers = false
	ret.textArea.Focus()
	ret.state = StateUserInput

	ret.selectedIdx = len(manager.Transcript()) - 1

	ret.viewport.SetContent(ret.messageView())
	ret.viewport.YPosition = 0
	ret.viewport.GotoBottom()

	ret.updateKeyBindings()

	return ret
}

func (m model) Init() tea.Cmd {
	return textarea.Blink
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keyMap.Quit):
			m.quitReceived = true
			if m.handle != nil {
				// wait for the run to settle, runDoneMsg quits
				_ = m.manager.Cancel()
				return m, nil
			}
			return m, tea.Quit

		case key.Matches(msg, m.keyMap.CancelCompletion):
			if err := m.manager.Cancel(); err != nil {
				log.Debug().Err(err).Msg("nothing to cancel")
			}
			return m, nil

		case key.Matches(msg, m.keyMap.DismissError):
			m.err = nil
			m.state = StateUserInput
			cmds = append(cmds, m.textArea.Focus())
			m.updateKeyBindings()
			m.recomputeSize()
			return m, tea.Batch(cmds...)

		case key.Matches(msg, m.keyMap.UnfocusMessage):
			if m.state == StateEditing {
				m.editingID = ""
				m.textArea.SetValue("")
			}
			m.textArea.Blur()
			m.state = StateMovingAround
			m.updateKeyBindings()
			m.viewport.SetContent(m.messageView())
			return m, nil

		case key.Matches(msg, m.keyMap.FocusMessage):
			cmds = append(cmds, m.textArea.Focus())
			m.state = StateUserInput
			m.updateKeyBindings()
			m.viewport.SetContent(m.messageView())
			return m, tea.Batch(cmds...)

		case key.Matches(msg, m.keyMap.SelectNextMessage):
			if m.selectedIdx < len(m.manager.Transcript())-1 {
				m.selectedIdx++
			}
			m.viewport.SetContent(m.messageView())
			return m, nil

		case key.Matches(msg, m.keyMap.SelectPrevMessage):
			if m.selectedIdx > 0 {
				m.selectedIdx--
			}
			m.viewport.SetContent(m.messageView())
			return m, nil

		case key.Matches(msg, m.keyMap.EditMessage):
			cmds = append(cmds, m.startEdit())
			return m, tea.Batch(cmds...)

		case key.Matches(msg, m.keyMap.SubmitMessage):
			cmds = append(cmds, m.submit())
			return m, tea.Batch(cmds...)

		case key.Matches(msg, m.keyMap.Regenerate):
			h, err := m.manager.Regenerate(m.ctx)
			if err != nil {
				return m, m.setError(err)
			}
			return m, m.startRun(h)

		case key.Matches(msg, m.keyMap.Help):
			m.help.ShowAll = !m.help.ShowAll
			m.recomputeSize()
			return m, nil

		default:
			switch m.state {
			case StateUserInput, StateEditing:
				m.textArea, cmd = m.textArea.Update(msg)
				cmds = append(cmds, cmd)
			case StateMovingAround, StateStreamCompletion, StateError:
				m.viewport, cmd = m.viewport.Update(msg)
				cmds = append(cmds, cmd)
			}
			return m, tea.Batch(cmds...)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.renderer = m.newRenderer()
		m.recomputeSize()

	case errMsg:
		cmds = append(cmds, m.setError(msg))

	case StreamMsg:
		if m.handle != nil && msg.Event.Metadata().InferenceID == m.handle.InferenceID {
			if e, ok := msg.Event.(*events.EventMessage); ok && e.Type() == events.EventTypeMessageAppended {
				m.selectedIdx = len(m.manager.Transcript()) - 1
			}
		}
		cmds = append(cmds, refresh(true))

	case runDoneMsg:
		cmds = append(cmds, m.finishCompletion(msg))

	case spinner.TickMsg:
		if m.handle != nil {
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}

	case refreshMessageMsg:
		m.viewport.SetContent(m.messageView())
		m.recomputeSize()
		if msg.GoToBottom {
			m.viewport.GotoBottom()
		}
	}

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func refresh(goToBottom bool) tea.Cmd {
	return func() tea.Msg {
		return refreshMessageMsg{GoToBottom: goToBottom}
	}
}

func (m *model) newRenderer() *glamour.TermRenderer {
	width := m.width - 6
	if width < 20 {
		width = 20
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(m.glamourStyle),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		log.Warn().Err(err).Str("style", m.glamourStyle).Msg("could not create markdown renderer")
		return nil
	}
	return r
}

func (m *model) updateKeyBindings() {
	streaming := m.state == StateStreamCompletion
	browsing := m.state == StateMovingAround

	m.keyMap.SelectNextMessage.SetEnabled(browsing)
	m.keyMap.SelectPrevMessage.SetEnabled(browsing)
	m.keyMap.FocusMessage.SetEnabled(browsing)
	m.keyMap.EditMessage.SetEnabled(browsing)
	m.keyMap.UnfocusMessage.SetEnabled(m.state == StateUserInput || m.state == StateEditing)
	m.keyMap.SubmitMessage.SetEnabled(m.state == StateUserInput || m.state == StateEditing)
	m.keyMap.Regenerate.SetEnabled(m.state == StateUserInput || browsing)

	m.keyMap.DismissError.SetEnabled(m.state == StateError)
	m.keyMap.CancelCompletion.SetEnabled(streaming)
}

func (m *model) recomputeSize() {
	headerHeight := lipgloss.Height(m.headerView())
	textAreaHeight := lipgloss.Height(m.textAreaView())
	helpViewHeight := lipgloss.Height(m.help.View(m.keyMap))

	newHeight := m.height - textAreaHeight - headerHeight - helpViewHeight
	if newHeight < 0 {
		newHeight = 0
	}
	m.viewport.Width = m.width
	m.viewport.Height = newHeight
	m.viewport.YPosition = headerHeight + 1

	h, _ := m.style.SelectedMessage.GetFrameSize()
	m.textArea.SetWidth(m.width - h)
	m.help.Width = m.width

	m.viewport.SetContent(m.messageView())
	m.viewport.GotoBottom()
}

func (m model) headerView() string {
	header := m.title
	if m.handle != nil {
		header += " " + m.spinner.View()
	}
	return m.style.Header.Render(header)
}

// messageView renders the transcript. Settled assistant replies go through
// glamour; the reply being streamed is shown raw.
func (m model) messageView() string {
	msgs := m.manager.Transcript()
	streamingIdx := -1
	if m.handle != nil && len(msgs) > 0 && msgs[len(msgs)-1].Role == conversation.RoleAssistant {
		streamingIdx = len(msgs) - 1
	}

	frame, _ := m.style.SelectedMessage.GetFrameSize()
	width := m.width - frame
	if width < 1 {
		width = 1
	}

	var sb strings.Builder
	for idx, msg := range msgs {
		body := msg.Text()
		if msg.Role == conversation.RoleAssistant && idx != streamingIdx && m.renderer != nil {
			if rendered, err := m.renderer.Render(body); err == nil {
				body = strings.Trim(rendered, "\n")
			}
		}
		for _, url := range msg.ImageURLs() {
			body += "\n[image] " + url
		}
		v := m.style.Role.Render(string(msg.Role)) + "\n" + body

		style := m.style.UnselectedMessage
		if m.state == StateMovingAround && idx == m.selectedIdx {
			style = m.style.SelectedMessage
		}
		sb.WriteString(style.Width(width).Render(v))
		sb.WriteString("\n")
	}
	return sb.String()
}

func (m model) textAreaView() string {
	frame, _ := m.style.SelectedMessage.GetFrameSize()
	if m.err != nil {
		return m.style.Error.Width(max(m.width-frame, 1)).Render(m.err.Error())
	}

	v := m.textArea.View()
	switch m.state {
	case StateUserInput, StateEditing:
		v = m.style.FocusedMessage.Render(v)
	case StateMovingAround, StateStreamCompletion, StateError:
		v = m.style.UnselectedMessage.Render(v)
	}
	return v
}

func (m model) View() string {
	return m.headerView() + "\n" + m.viewport.View() + "\n" + m.textAreaView() + "\n" + m.help.View(m.keyMap)
}

func (m *model) startEdit() tea.Cmd {
	msgs := m.manager.Transcript()
	if m.selectedIdx < 0 || m.selectedIdx >= len(msgs) {
		return nil
	}
	selected := msgs[m.selectedIdx]
	if selected.Role != conversation.RoleUser {
		return m.setError(session.ErrNotUserMessage)
	}
	m.editingID = selected.ID
	m.textArea.SetValue(selected.Text())
	m.state = StateEditing
	m.updateKeyBindings()
	return m.textArea.Focus()
}

func (m *model) submit() tea.Cmd {
	text := m.textArea.Value()

	var h *session.ExecutionHandle
	var err error
	if m.state == StateEditing {
		h, err = m.manager.Edit(m.ctx, m.editingID, text)
	} else {
		h, err = m.manager.Submit(m.ctx, text)
	}
	if err != nil {
		if errors.Is(err, session.ErrEmptySubmission) {
			return nil
		}
		return m.setError(err)
	}

	m.textArea.SetValue("")
	m.editingID = ""
	if h == nil {
		// blank edit
		m.state = StateUserInput
		m.updateKeyBindings()
		return refresh(true)
	}
	return m.startRun(h)
}

func (m *model) startRun(h *session.ExecutionHandle) tea.Cmd {
	m.handle = h
	m.state = StateStreamCompletion
	m.textArea.Blur()
	m.updateKeyBindings()
	m.selectedIdx = len(m.manager.Transcript()) - 1

	return tea.Batch(
		func() tea.Msg {
			reply, err := h.Wait()
			return runDoneMsg{reply: reply, err: err}
		},
		m.spinner.Tick,
		refresh(true),
	)
}

func (m *model) finishCompletion(msg runDoneMsg) tea.Cmd {
	if m.handle == nil {
		return nil
	}
	m.handle = nil
	m.selectedIdx = len(m.manager.Transcript()) - 1

	if m.quitReceived {
		return tea.Quit
	}
	if msg.err != nil && !errors.Is(msg.err, session.ErrCanceled) {
		return m.setError(msg.err)
	}

	m.state = StateUserInput
	cmd := m.textArea.Focus()
	m.updateKeyBindings()
	m.recomputeSize()
	return tea.Batch(cmd, refresh(true))
}

func (m *model) setError(err error) tea.Cmd {
	m.err = err
	m.state = StateError
	m.textArea.Blur()
	m.updateKeyBindings()
	m.recomputeSize()
	return nil
}
