package console

import (
	"context"
	"errors"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatgpt-coordinator/internal/usecase/chat"
)

func typeText(t *testing.T, m tea.Model, text string) tea.Model {
	t.Helper()
	for _, r := range text {
		m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	return m
}

func TestUpdate_EnterSubmitsAndClearsInput(t *testing.T) {
	var submitted []string
	var m tea.Model = NewModel(func(text string) bool {
		submitted = append(submitted, text)
		return true
	})

	m = typeText(t, m, "Hi")
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})

	assert.Equal(t, []string{"Hi"}, submitted)
	model := m.(Model)
	assert.Empty(t, model.input.Value())
	require.Len(t, model.transcript, 1)
	assert.Equal(t, entry{speaker: "You", text: "Hi"}, model.transcript[0])
}

func TestUpdate_RepliesAndFailuresAppendToTranscript(t *testing.T) {
	var m tea.Model = NewModel(func(string) bool { return true })

	m, _ = m.Update(ReplyMsg("Hello"))
	m, _ = m.Update(FailureMsg{Err: chat.ErrEmptyReply})
	m, _ = m.Update(FailureMsg{Err: &chat.TransportError{Err: errors.New("timeout")}})

	model := m.(Model)
	assert.Equal(t, []entry{
		{speaker: "Assistant", text: "Hello"},
		{text: "no response received"},
		{text: "request failed: completion request failed: timeout"},
	}, model.transcript)

	view := model.View()
	assert.Contains(t, view, "Hello")
	assert.Contains(t, view, "no response received")
}

func TestUpdate_QuitKeys(t *testing.T) {
	m := NewModel(func(string) bool { return true })

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestUpdate_DroppedSubmissionIsMarked(t *testing.T) {
	var m tea.Model = NewModel(func(string) bool { return false })

	m = typeText(t, m, "Hi")
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})

	model := m.(Model)
	assert.Equal(t, []entry{{speaker: "You", text: "Hi", dropped: true}}, model.transcript)
	assert.Contains(t, model.View(), "(not sent)")
}

type gatedClient struct {
	mu      sync.Mutex
	calls   [][]string
	started chan struct{}
	gate    chan struct{}
}

func (g *gatedClient) Complete(ctx context.Context, req chat.CompletionRequest) (chat.Completion, error) {
	contents := make([]string, 0, len(req.Turns))
	for _, turn := range req.Turns {
		contents = append(contents, turn.Content)
	}
	g.mu.Lock()
	g.calls = append(g.calls, contents)
	g.mu.Unlock()

	g.started <- struct{}{}
	select {
	case <-g.gate:
	case <-ctx.Done():
		return chat.Completion{}, ctx.Err()
	}
	return chat.Completion{Choices: []chat.Choice{{Content: "Sure"}}}, nil
}

func TestStart_GreetingPrecedesFirstSubmit(t *testing.T) {
	client := &gatedClient{started: make(chan struct{}, 1), gate: make(chan struct{})}
	coord := chat.NewCoordinator(client, chat.Options{}, nil)
	defer coord.Close()

	m, r := start(coord, "Welcome")

	require.Len(t, coord.Pending(), 1)
	assert.Equal(t, "Welcome", coord.Pending()[0].Content)
	assert.Equal(t, []entry{{speaker: "Assistant", text: "Welcome"}}, m.transcript)

	var (
		mu       sync.Mutex
		received []tea.Msg
	)
	r.attach(func(msg tea.Msg) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, msg)
	})

	var model tea.Model = m
	model = typeText(t, model, "Hi")
	model, _ = model.Update(tea.KeyMsg{Type: tea.KeyEnter})
	<-client.started

	// Submitted while the first request is in flight.
	model = typeText(t, model, "More")
	model, _ = model.Update(tea.KeyMsg{Type: tea.KeyEnter})

	close(client.gate)
	coord.Wait()

	client.mu.Lock()
	assert.Equal(t, [][]string{{"Welcome", "Hi"}}, client.calls)
	client.mu.Unlock()

	assert.Equal(t, []entry{
		{speaker: "Assistant", text: "Welcome"},
		{speaker: "You", text: "Hi"},
		{speaker: "You", text: "More", dropped: true},
	}, model.(Model).transcript)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []tea.Msg{ReplyMsg("Sure")}, received)
}
