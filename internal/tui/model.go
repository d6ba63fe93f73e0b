package tui

import (
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingoftac/runway/internal/models"
	"github.com/kingoftac/runway/internal/runctl"
	"github.com/kingoftac/runway/internal/supervisor"
)

// Controller is the part of the run controller the UI drives.
type Controller interface {
	Cancel()
	Interrupt()
}

type Model struct {
	ctrl    Controller
	env     models.Environment
	keys    KeyMap
	spinner spinner.Model

	update    runctl.Update
	sawOutput bool
}

func NewModel(ctrl Controller, env models.Environment) Model {
	s := spinner.New(
		spinner.WithSpinner(spinner.Ellipsis),
		spinner.WithStyle(TitleStyle.Bold(false)),
	)

	return Model{
		ctrl:    ctrl,
		env:     env,
		keys:    DefaultKeyMap,
		spinner: s,
		update:  runctl.Update{State: models.RunStateStarting},
	}
}

func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Interrupt):
			return m, m.interrupt()
		case key.Matches(msg, m.keys.Quit):
			return m, m.cancel()
		}
		return m, nil

	case UpdateMsg:
		m.update = runctl.Update(msg)
		if m.update.State.IsTerminal() {
			return m, tea.Quit
		}
		return m, nil

	case OutputMsg:
		line := renderLine(supervisor.Line(msg))
		if !m.sawOutput {
			m.sawOutput = true
			return m, tea.Sequence(tea.Println(), tea.Println(line))
		}
		return m, tea.Println(line)

	case spinner.TickMsg:
		if m.update.State.IsTerminal() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case actionDoneMsg:
		return m, nil
	}

	return m, nil
}

// The controller may block briefly while handing over a transition, so the
// calls run as commands off the update loop.
func (m Model) cancel() tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		ctrl.Cancel()
		return actionDoneMsg{}
	}
}

func (m Model) interrupt() tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		ctrl.Interrupt()
		return actionDoneMsg{}
	}
}

func (m Model) View() string {
	return renderStatus(m.update, m.env, m.spinner.View())
}
