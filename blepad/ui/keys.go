package ui

import (
	"unicode"

	tea "github.com/charmbracelet/bubbletea"
)

// keyCode translates a terminal key into the browser-style code used by
// blepad.KeyBindings. Modifier keys on their own never reach a terminal
// program, so only the non-shift bindings are reachable here.
func keyCode(msg tea.KeyMsg) (string, bool) {
	switch msg.String() {
	case "up":
		return "ArrowUp", true
	case "down":
		return "ArrowDown", true
	case "left":
		return "ArrowLeft", true
	case "right":
		return "ArrowRight", true
	case "enter":
		return "Enter", true
	case " ", "space":
		return "Space", true
	case "backspace":
		return "Backspace", true
	}
	if msg.Type != tea.KeyRunes || len(msg.Runes) != 1 || msg.Alt {
		return "", false
	}
	r := unicode.ToUpper(msg.Runes[0])
	if r < 'A' || r > 'Z' {
		return "", false
	}
	return "Key" + string(r), true
}
