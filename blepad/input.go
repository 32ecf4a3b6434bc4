package blepad

import (
	"context"
	"fmt"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map"
)

type EventKind uint8

const (
	ButtonEvent EventKind = iota
	// BlurEvent reports that the input surface lost focus; every held
	// button is released.
	BlurEvent
)

// InputEvent is one sample from an input origin. Source identifies the
// origin uniquely, e.g. "key-ArrowUp" or "pointer-3".
type InputEvent struct {
	Kind   EventKind
	Button string
	Source string
	Active bool
}

func Press(button, source string) InputEvent {
	return InputEvent{Kind: ButtonEvent, Button: button, Source: source, Active: true}
}

func Release(button, source string) InputEvent {
	return InputEvent{Kind: ButtonEvent, Button: button, Source: source, Active: false}
}

func Blur() InputEvent {
	return InputEvent{Kind: BlurEvent}
}

func (e InputEvent) String() string {
	if e.Kind == BlurEvent {
		return "blur"
	}
	return fmt.Sprintf("%s %s active=%v", e.Button, e.Source, e.Active)
}

func KeySource(code string) string {
	return "key-" + code
}

func PointerSource(id string) string {
	return "pointer-" + id
}

// Dispatch applies one event to the pad.
func (p *Pad) Dispatch(ev InputEvent) {
	switch ev.Kind {
	case BlurEvent:
		p.ReleaseAll()
	case ButtonEvent:
		p.ReportInput(ev.Button, ev.Source, ev.Active)
	}
}

// Pump consumes events until ctx is done or the channel is closed.
func (p *Pad) Pump(ctx context.Context, events <-chan InputEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			p.Dispatch(ev)
		}
	}
}

// KeyBindings maps key codes to logical buttons, in declaration order.
type KeyBindings struct {
	m *orderedmap.OrderedMap
}

func NewKeyBindings() *KeyBindings {
	return &KeyBindings{m: orderedmap.New()}
}

// DefaultKeyBindings uses browser-style key codes.
func DefaultKeyBindings() *KeyBindings {
	k := NewKeyBindings()
	k.Bind("ArrowUp", "up")
	k.Bind("ArrowDown", "down")
	k.Bind("ArrowLeft", "left")
	k.Bind("ArrowRight", "right")
	k.Bind("KeyZ", "a")
	k.Bind("KeyX", "b")
	k.Bind("KeyS", "x")
	k.Bind("KeyA", "y")
	k.Bind("KeyQ", "l")
	k.Bind("KeyW", "r")
	k.Bind("Enter", "start")
	k.Bind("Space", "start")
	k.Bind("Backspace", "select")
	k.Bind("ShiftRight", "select")
	k.Bind("ShiftLeft", "select")
	return k
}

func (k *KeyBindings) Bind(code, button string) {
	k.m.Set(code, button)
}

func (k *KeyBindings) Lookup(code string) (string, bool) {
	v, ok := k.m.Get(code)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// Codes lists the key codes bound to button, in declaration order.
func (k *KeyBindings) Codes(button string) []string {
	var codes []string
	for pair := k.m.Oldest(); nil != pair; pair = pair.Next() {
		if pair.Value.(string) == button {
			codes = append(codes, pair.Key.(string))
		}
	}
	return codes
}

func (k *KeyBindings) Len() int {
	return k.m.Len()
}

// Help renders "code=button" pairs in declaration order.
func (k *KeyBindings) Help() string {
	parts := make([]string, 0, k.m.Len())
	for pair := k.m.Oldest(); nil != pair; pair = pair.Next() {
		parts = append(parts, fmt.Sprintf("%s=%s", pair.Key.(string), pair.Value.(string)))
	}
	return strings.Join(parts, " ")
}
