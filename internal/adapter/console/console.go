// Package console is an interactive terminal client for one conversation.
package console

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"chatgpt-coordinator/internal/usecase/chat"
)

var (
	youStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	hintStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// ReplyMsg carries text delivered by the coordinator.
type ReplyMsg string

// FailureMsg carries a failure recorded by the coordinator.
type FailureMsg struct {
	Err error
}

type entry struct {
	speaker string
	text    string
	// dropped marks a line the coordinator did not keep.
	dropped bool
}

type Model struct {
	input      textinput.Model
	transcript []entry
	submit     func(text string) bool
}

// NewModel builds the UI around submit, which reports whether the coordinator
// kept the text.
func NewModel(submit func(text string) bool) Model {
	ti := textinput.New()
	ti.Placeholder = "Type a message and press Enter"
	ti.Prompt = "> "
	ti.CharLimit = 4000
	ti.Focus()

	return Model{
		input:  ti,
		submit: submit,
	}
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			text := m.input.Value()
			m.input.Reset()
			kept := m.submit(text)
			m.transcript = append(m.transcript, entry{speaker: "You", text: text, dropped: !kept})
			return m, nil
		}
	case ReplyMsg:
		m.transcript = append(m.transcript, entry{speaker: "Assistant", text: string(msg)})
		return m, nil
	case FailureMsg:
		m.transcript = append(m.transcript, entry{text: failureText(msg.Err)})
		return m, nil
	case tea.WindowSizeMsg:
		m.input.Width = max(msg.Width-len(m.input.Prompt)-1, 10)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func failureText(err error) string {
	if errors.Is(err, chat.ErrEmptyReply) {
		return "no response received"
	}
	return "request failed: " + err.Error()
}

func (m Model) View() string {
	var b strings.Builder
	for _, e := range m.transcript {
		switch e.speaker {
		case "You":
			b.WriteString(youStyle.Render("You") + ": " + e.text)
			if e.dropped {
				b.WriteString(" " + hintStyle.Render("(not sent)"))
			}
		case "":
			b.WriteString(errorStyle.Render(e.text))
		default:
			b.WriteString(assistantStyle.Render(e.speaker) + ": " + e.text)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(hintStyle.Render("esc / ctrl+c to quit"))
	return b.String()
}

// relay hands coordinator events to the program. Events posted before the
// program is attached are kept so they can seed the initial model.
type relay struct {
	mu      sync.Mutex
	send    func(tea.Msg)
	pending []tea.Msg
}

func (r *relay) post(msg tea.Msg) {
	r.mu.Lock()
	send := r.send
	if send == nil {
		r.pending = append(r.pending, msg)
	}
	r.mu.Unlock()

	if send != nil {
		send(msg)
	}
}

func (r *relay) take() []tea.Msg {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := r.pending
	r.pending = nil
	return msgs
}

func (r *relay) attach(send func(tea.Msg)) {
	r.mu.Lock()
	r.send = send
	late := r.pending
	r.pending = nil
	r.mu.Unlock()

	if len(late) > 0 {
		go func() {
			for _, msg := range late {
				send(msg)
			}
		}()
	}
}

// start wires coord to a new model and delivers the greeting before any
// input is possible, so the greeting is always the first buffered turn.
func start(coord *chat.Coordinator, greeting string) (Model, *relay) {
	r := &relay{}
	coord.Subscribe(func(text string) { r.post(ReplyMsg(text)) })
	coord.SubscribeErrors(func(err error) { r.post(FailureMsg{Err: err}) })
	coord.Initialize(greeting)

	m := NewModel(coord.TrySubmit)
	for _, msg := range r.take() {
		next, _ := m.Update(msg)
		m = next.(Model)
	}
	return m, r
}

// Run attaches a terminal UI to coord and blocks until the user quits or ctx
// is done.
func Run(ctx context.Context, coord *chat.Coordinator, greeting string, opts ...tea.ProgramOption) error {
	m, r := start(coord, greeting)
	p := tea.NewProgram(m, append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)...)
	r.attach(p.Send)

	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
