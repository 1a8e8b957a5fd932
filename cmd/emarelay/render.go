package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/koscakluka/ema-relay/core/llms"
	"github.com/koscakluka/ema-relay/core/status"
	"github.com/muesli/reflow/wordwrap"
)

const visibleActivity = 6

// transcript is the presentation state rebuilt from published updates.
type transcript struct {
	status   string
	activity []string
	reply    *llms.Message
}

func (t *transcript) apply(update status.Update) {
	switch update.Kind {
	case status.UpdateStatus:
		t.status = update.Status
	case status.UpdateActivity:
		t.activity = append(t.activity, update.Line)
		if len(t.activity) > visibleActivity {
			t.activity = t.activity[len(t.activity)-visibleActivity:]
		}
	case status.UpdateMessage:
		if update.Message != nil && update.Message.Role == llms.MessageRoleAssistant {
			t.reply = update.Message
		}
	}
}

func (t *transcript) busy() bool {
	phase, _, _ := strings.Cut(t.status, ":")
	return status.Status{Phase: status.Phase(phase)}.Busy()
}

// plainPrinter writes status changes and activity lines as they happen.
type plainPrinter struct {
	out io.Writer
}

func (p plainPrinter) Observe(update status.Update) {
	switch update.Kind {
	case status.UpdateStatus:
		fmt.Fprintf(p.out, "[%s]\n", update.Status)
	case status.UpdateActivity:
		fmt.Fprintf(p.out, "  · %s\n", update.Line)
	}
}

// printConversation writes every message after the first user message.
func printConversation(out io.Writer, messages []llms.Message) {
	for _, msg := range messages {
		text := strings.TrimSpace(msg.Text)
		if text == "" {
			continue
		}
		fmt.Fprintf(out, "\n%s:\n%s\n", msg.Role, text)
		for _, request := range msg.Approvals {
			fmt.Fprintf(out, "  approval %s (%s on %s): %s\n", request.ID, request.ToolName, request.ServerLabel, request.Status)
		}
		if msg.Usage.TotalTokens > 0 {
			estimated := ""
			if msg.Usage.Estimated {
				estimated = " (estimated)"
			}
			fmt.Fprintf(out, "  tokens: %d in, %d out%s\n", msg.Usage.InputTokens, msg.Usage.OutputTokens, estimated)
		}
	}
}

type updateMsg status.Update

type finishedMsg struct {
	err error
}

type replayModel struct {
	spinner    spinner.Model
	transcript transcript
	width      int
	finished   bool
	err        error

	styles replayStyles
}

type replayStyles struct {
	header   lipgloss.Style
	activity lipgloss.Style
	reply    lipgloss.Style
	failure  lipgloss.Style
	footer   lipgloss.Style
}

func newReplayModel() replayModel {
	sp := spinner.New()
	sp.Spinner = spinner.Points
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#05ffa1"))

	return replayModel{
		spinner: sp,
		width:   80,
		styles: replayStyles{
			header:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#01cdfe")),
			activity: lipgloss.NewStyle().Faint(true),
			reply:    lipgloss.NewStyle().PaddingLeft(2),
			failure:  lipgloss.NewStyle().Foreground(lipgloss.Color("#ff71ce")),
			footer:   lipgloss.NewStyle().Faint(true).Italic(true),
		},
	}
}

func (m replayModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m replayModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case updateMsg:
		m.transcript.apply(status.Update(msg))
	case finishedMsg:
		m.finished = true
		m.err = msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m replayModel) View() string {
	var b strings.Builder

	indicator := " "
	if m.transcript.busy() && !m.finished {
		indicator = m.spinner.View()
	}
	state := m.transcript.status
	if state == "" {
		state = string(status.PhaseIdle)
	}
	b.WriteString(m.styles.header.Render(fmt.Sprintf("%s emarelay · %s", indicator, state)))
	b.WriteString("\n\n")

	for _, line := range m.transcript.activity {
		b.WriteString(m.styles.activity.Render("· " + line))
		b.WriteString("\n")
	}
	if len(m.transcript.activity) > 0 {
		b.WriteString("\n")
	}

	if reply := m.transcript.reply; reply != nil && reply.HasText() {
		width := max(m.width-4, 20)
		b.WriteString(m.styles.reply.Render(wordwrap.String(reply.Text, width)))
		b.WriteString("\n")
	}

	switch {
	case m.err != nil:
		b.WriteString("\n" + m.styles.failure.Render("error: "+m.err.Error()) + "\n")
	case m.finished:
		b.WriteString("\n" + m.styles.footer.Render("turn settled") + "\n")
	default:
		b.WriteString("\n" + m.styles.footer.Render("q to quit") + "\n")
	}
	return b.String()
}
