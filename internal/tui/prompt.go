package tui

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/h0rv/jex/internal/checkpoint"
	"github.com/h0rv/jex/internal/paginate"
	"github.com/muesli/reflow/wordwrap"
)

// ErrAborted is returned when the user leaves the prompt without choosing.
var ErrAborted = errors.New("resume prompt aborted")

// choice is one selectable answer of the prompt.
type choice struct {
	label    string
	detail   string
	decision paginate.Decision
}

var choices = []choice{
	{"Resume", "continue from the saved position", paginate.DecisionResume},
	{"Start over", "discard the checkpoint and its pages", paginate.DecisionDiscard},
}

// ResumeModel asks whether to resume an unfinished job.
type ResumeModel struct {
	cp     *checkpoint.Checkpoint
	keymap KeyMap
	help   HelpModel
	cursor int
	width  int

	decision paginate.Decision
	chosen   bool
}

// NewResumeModel creates a prompt for cp with Resume preselected.
func NewResumeModel(cp *checkpoint.Checkpoint) ResumeModel {
	keymap := DefaultKeyMap()
	return ResumeModel{
		cp:     cp,
		keymap: keymap,
		help:   NewHelpModel(keymap),
		width:  80,
	}
}

// Init initializes the model.
func (m ResumeModel) Init() tea.Cmd {
	return tea.WindowSize()
}

// Update handles messages and updates the model state.
func (m ResumeModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if msg.Width > 0 {
			m.width = msg.Width
		}
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keymap.Quit):
			return m, tea.Sequence(func() tea.Msg { return QuitMsg{} }, tea.Quit)
		case key.Matches(msg, m.keymap.Up):
			if m.cursor > 0 {
				m.cursor--
			}
		case key.Matches(msg, m.keymap.Down):
			if m.cursor < len(choices)-1 {
				m.cursor++
			}
		case key.Matches(msg, m.keymap.Help):
			m.help.Toggle()
		case key.Matches(msg, m.keymap.Resume):
			return m.choose(paginate.DecisionResume)
		case key.Matches(msg, m.keymap.Restart):
			return m.choose(paginate.DecisionDiscard)
		case key.Matches(msg, m.keymap.Choose):
			return m.choose(choices[m.cursor].decision)
		}
	}
	return m, nil
}

func (m ResumeModel) choose(d paginate.Decision) (tea.Model, tea.Cmd) {
	m.decision = d
	m.chosen = true
	return m, tea.Sequence(func() tea.Msg { return DecisionMsg{Decision: d} }, tea.Quit)
}

// Decision returns the choice made, and false when the prompt was aborted.
func (m ResumeModel) Decision() (paginate.Decision, bool) {
	return m.decision, m.chosen
}

// View renders the model.
func (m ResumeModel) View() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("An unfinished " + m.cp.Key + " was found"))
	b.WriteString("\n")
	b.WriteString(SummaryStyle.Render(Summary(m.cp, m.width-4)))
	b.WriteString("\n")

	for i, c := range choices {
		if i == m.cursor {
			b.WriteString(SelectedItemStyle.Render("> " + c.label))
		} else {
			b.WriteString(NormalItemStyle.Render("  " + c.label))
		}
		b.WriteString(DimStyle.Render("  " + c.detail))
		b.WriteString("\n")
	}

	b.WriteString(m.help.View(m.width))
	return b.String()
}

// Summary describes a checkpoint in a few labelled lines wrapped to width.
func Summary(cp *checkpoint.Checkpoint, width int) string {
	if width < 20 {
		width = 20
	}
	position := "first page"
	switch {
	case cp.Iter != nil:
		position = fmt.Sprintf("offset %d", *cp.Iter)
	case cp.Iters != nil && *cp.Iters != "":
		position = "page token " + *cp.Iters
	}

	lines := [][2]string{
		{"Query", cp.Query},
		{"Status", string(cp.Status)},
		{"Position", position},
		{"Saved", fmt.Sprintf("%d rows in %d entries", cp.Point, len(cp.DataBlock))},
	}
	labelWidth := LabelStyle.GetWidth()

	rendered := make([]string, 0, len(lines))
	for _, l := range lines {
		value := wordwrap.String(l[1], width-labelWidth)
		rendered = append(rendered, lipgloss.JoinHorizontal(lipgloss.Top, LabelStyle.Render(l[0]), value))
	}
	return strings.Join(rendered, "\n")
}

// Prompter asks on a terminal whether to resume. It satisfies
// paginate.Prompter.
type Prompter struct {
	In  io.Reader
	Out io.Writer
}

// Decide runs the prompt until the user chooses.
func (p Prompter) Decide(cp *checkpoint.Checkpoint) (paginate.Decision, error) {
	var opts []tea.ProgramOption
	if p.In != nil {
		opts = append(opts, tea.WithInput(p.In))
	}
	if p.Out != nil {
		opts = append(opts, tea.WithOutput(p.Out))
	}

	final, err := tea.NewProgram(NewResumeModel(cp), opts...).Run()
	if err != nil {
		return paginate.DecisionResume, fmt.Errorf("run resume prompt: %w", err)
	}
	decision, ok := final.(ResumeModel).Decision()
	if !ok {
		return paginate.DecisionResume, ErrAborted
	}
	return decision, nil
}
