package tui

import (
	"github.com/charmbracelet/bubbles/key"
)

type KeyMap struct {
	Quit      key.Binding
	Interrupt key.Binding
}

var DefaultKeyMap = KeyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "Q", "ctrl+d"),
		key.WithHelp("q", "quit"),
	),
	// The program runs without its own signal handler, so CTRL-C arrives
	// here as a key press.
	Interrupt: key.NewBinding(
		key.WithKeys("ctrl+c"),
		key.WithHelp("ctrl+c", "exit now"),
	),
}
