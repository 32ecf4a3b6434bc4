// Package source turns local input devices into pad input events.
package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"dio.wtf/blepad/blepad"
	"dio.wtf/blepad/blepad/log"
	evdev "github.com/gvalkov/golang-evdev"
	"golang.org/x/sys/unix"
)

const (
	readDeadline   = 250 * time.Millisecond
	releaseTimeout = 100 * time.Millisecond
)

const (
	keyUp   = 0
	keyDown = 1
)

// EvdevBindings maps key and gamepad button codes to logical buttons.
var EvdevBindings = map[int]string{
	evdev.KEY_UP:         "up",
	evdev.KEY_DOWN:       "down",
	evdev.KEY_LEFT:       "left",
	evdev.KEY_RIGHT:      "right",
	evdev.KEY_Z:          "a",
	evdev.KEY_X:          "b",
	evdev.KEY_S:          "x",
	evdev.KEY_A:          "y",
	evdev.KEY_Q:          "l",
	evdev.KEY_W:          "r",
	evdev.KEY_ENTER:      "start",
	evdev.KEY_SPACE:      "start",
	evdev.KEY_BACKSPACE:  "select",
	evdev.KEY_LEFTSHIFT:  "select",
	evdev.KEY_RIGHTSHIFT: "select",

	evdev.BTN_A:      "a",
	evdev.BTN_B:      "b",
	evdev.BTN_X:      "x",
	evdev.BTN_Y:      "y",
	evdev.BTN_TL:     "l",
	evdev.BTN_TR:     "r",
	evdev.BTN_START:  "start",
	evdev.BTN_SELECT: "select",
}

func EvdevSource(code uint16) string {
	return "evdev-" + strconv.Itoa(int(code))
}

// translateKey maps one EV_KEY sample. Autorepeat (value 2) is dropped, the
// aggregator already holds the button.
func translateKey(code uint16, value int32) (blepad.InputEvent, bool) {
	button, ok := EvdevBindings[int(code)]
	if !ok {
		return blepad.InputEvent{}, false
	}
	switch value {
	case keyDown:
		return blepad.Press(button, EvdevSource(code)), true
	case keyUp:
		return blepad.Release(button, EvdevSource(code)), true
	}
	return blepad.InputEvent{}, false
}

// Evdev reads a grabbed input device and sends its button edges to events.
type Evdev struct {
	dev *evdev.InputDevice
}

func OpenEvdev(path string) (*Evdev, error) {
	dev, err := evdev.Open(path)
	if nil != err {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &Evdev{dev: dev}, nil
}

func (e *Evdev) Name() string {
	return e.dev.Name
}

// Run blocks until ctx is done or the device fails. Held buttons are
// released on the way out.
func (e *Evdev) Run(ctx context.Context, events chan<- blepad.InputEvent) error {
	if err := e.dev.Grab(); nil != err {
		return fmt.Errorf("grab %s: %w", e.dev.Fn, err)
	}
	defer func() {
		if err := e.dev.Release(); nil != err {
			log.WarnF("release %s: %v", e.dev.Fn, err)
		}
		e.dev.File.Close()
	}()
	log.InfoF("grabbed %s (%s)", e.dev.Name, e.dev.Fn)

	if err := unix.SetNonblock(int(e.dev.File.Fd()), true); nil != err {
		return err
	}

	held := make(map[uint16]string)
	defer func() {
		releases := make([]blepad.InputEvent, 0, len(held))
		for code, button := range held {
			releases = append(releases, blepad.Release(button, EvdevSource(code)))
		}
		release(events, releases...)
	}()

	for {
		if nil != ctx.Err() {
			return nil
		}
		if err := e.dev.File.SetReadDeadline(time.Now().Add(readDeadline)); nil != err {
			return err
		}
		event, err := e.dev.ReadOne()
		if errors.Is(err, os.ErrDeadlineExceeded) {
			continue
		}
		if nil != err {
			return fmt.Errorf("read %s: %w", e.dev.Fn, err)
		}
		if event.Type != evdev.EV_KEY {
			continue
		}
		ev, ok := translateKey(event.Code, event.Value)
		if !ok {
			continue
		}
		log.DebugF("evdev: %v", ev)
		if ev.Active {
			held[event.Code] = ev.Button
		} else {
			delete(held, event.Code)
		}
		if !send(ctx, events, ev) {
			return nil
		}
	}
}

// release hands over the final releases of a stopping source. ctx is
// normally done by then, so only a timeout bounds the wait.
func release(events chan<- blepad.InputEvent, releases ...blepad.InputEvent) int {
	timer := time.NewTimer(releaseTimeout)
	defer timer.Stop()
	for i, ev := range releases {
		select {
		case events <- ev:
		case <-timer.C:
			log.DebugF("dropped %d releases", len(releases)-i)
			return i
		}
	}
	return len(releases)
}

func send(ctx context.Context, events chan<- blepad.InputEvent, ev blepad.InputEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
