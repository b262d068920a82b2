package ui

import "github.com/charmbracelet/bubbles/key"

type KeyMap struct {
	SelectPrevMessage key.Binding
	SelectNextMessage key.Binding
	UnfocusMessage    key.Binding
	FocusMessage      key.Binding
	SubmitMessage     key.Binding
	EditMessage       key.Binding
	Regenerate        key.Binding
	CancelCompletion  key.Binding
	DismissError      key.Binding

	Help key.Binding
	Quit key.Binding
}

var DefaultKeyMap = KeyMap{
	SelectPrevMessage: key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "previous")),
	SelectNextMessage: key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "next")),
	UnfocusMessage:    key.NewBinding(key.WithKeys("esc", "ctrl+g"), key.WithHelp("esc", "browse")),
	FocusMessage:      key.NewBinding(key.WithKeys("enter", "i"), key.WithHelp("enter", "write")),
	SubmitMessage:     key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "send")),
	EditMessage:       key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "edit")),
	Regenerate:        key.NewBinding(key.WithKeys("ctrl+r"), key.WithHelp("ctrl+r", "regenerate")),
	CancelCompletion:  key.NewBinding(key.WithKeys("esc", "ctrl+x"), key.WithHelp("esc", "stop")),
	DismissError:      key.NewBinding(key.WithKeys("esc", "enter"), key.WithHelp("esc", "dismiss")),
	Help:              key.NewBinding(key.WithKeys("f1"), key.WithHelp("f1", "help")),
	Quit:              key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
}

func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{
		k.SubmitMessage, k.UnfocusMessage, k.FocusMessage, k.EditMessage,
		k.Regenerate, k.CancelCompletion, k.DismissError, k.Help, k.Quit,
	}
}

func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.SelectPrevMessage, k.SelectNextMessage, k.FocusMessage, k.UnfocusMessage},
		{k.SubmitMessage, k.EditMessage, k.Regenerate, k.CancelCompletion},
		{k.DismissError, k.Help, k.Quit},
	}
}
