package ui

import (
	"sync"

	"dio.wtf/blepad/blepad/controller"
)

// Indicator keeps the pressed look of every button for rendering.
type Indicator struct {
	mu      sync.Mutex
	pressed map[string]bool
}

var _ controller.Indicator = (*Indicator)(nil)

func NewIndicator() *Indicator {
	return &Indicator{pressed: make(map[string]bool)}
}

func (i *Indicator) SetPressed(button string, pressed bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.pressed[button] = pressed
}

func (i *Indicator) Pressed(button string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.pressed[button]
}
