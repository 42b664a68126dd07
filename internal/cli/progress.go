package cli

import (
	"context"
	"fmt"
	"time"

	"charm.land/bubbles/v2/spinner"
	tea "charm.land/bubbletea/v2"

	"github.com/raphaelgruber/observer/internal/client"
)

// sendDoneMsg carries the result of the send request.
type sendDoneMsg struct {
	result *client.SendResult
	err    error
}

// sendModel is the bubbletea model shown while the server waits for the
// vision model.
type sendModel struct {
	client   *client.Client
	message  string
	spinner  spinner.Model
	theme    Theme
	started  time.Time
	result   *client.SendResult
	done     bool
	quitting bool
	err      error
	cancel   context.CancelFunc
	ctx      context.Context
}

func newSendModel(c *client.Client, message string) sendModel {
	ctx, cancel := context.WithCancel(context.Background())
	return sendModel{
		client:  c,
		message: message,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
		theme:   defaultTheme,
		started: time.Now(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Init starts the spinner and the request.
func (m sendModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.send())
}

// Update handles messages and returns the updated model.
func (m sendModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			m.cancel()
			return m, tea.Quit
		}

	case sendDoneMsg:
		m.done = true
		m.result = msg.result
		m.err = msg.err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the waiting line or the final result.
func (m sendModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m sendModel) renderContent() string {
	if m.quitting {
		return m.theme.hintStyle().Render("Cancelled.\n")
	}
	if m.done {
		return m.finalView()
	}

	elapsed := time.Since(m.started).Truncate(time.Second)
	status := m.theme.statusStyle().Render("Waiting for the vision model")
	hint := m.theme.hintStyle().Render("Press Ctrl+C to cancel")
	return fmt.Sprintf("%s %s %s\n%s\n", m.spinner.View(), status, elapsed, hint)
}

func (m sendModel) finalView() string {
	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("✗ Send failed: %s\n", m.err))
	}
	return m.theme.completedStyle().Render("✓ Response "+m.result.ResponseID) + "\n\n" + m.result.Content() + "\n"
}

// send runs the request in a command so Update never blocks.
func (m sendModel) send() tea.Cmd {
	return func() tea.Msg {
		res, err := m.client.Send(m.ctx, m.message)
		return sendDoneMsg{result: res, err: err}
	}
}

// RunSend sends message with an interactive spinner and returns the
// result. Ctrl+C cancels the request and returns nil, nil.
func RunSend(c *client.Client, message string) (*client.SendResult, error) {
	model := newSendModel(c, message)
	defer model.cancel()

	finalModel, err := tea.NewProgram(model).Run()
	if err != nil {
		return nil, fmt.Errorf("progress UI error: %w", err)
	}

	if m, ok := finalModel.(sendModel); ok {
		if m.quitting {
			return nil, nil
		}
		return m.result, m.err
	}
	return nil, nil
}
