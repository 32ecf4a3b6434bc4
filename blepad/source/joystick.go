package source

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"dio.wtf/blepad/blepad"
	"dio.wtf/blepad/blepad/log"
	"github.com/0xcafed00d/joystick"
)

const (
	DefaultPollRate = 100
	axisThreshold   = 16384
)

// JoystickButtons maps button indices, south face button first.
var JoystickButtons = []string{"a", "b", "x", "y", "l", "r", "select", "start"}

// The first stick doubles as the d-pad.
var joystickAxes = [][2]string{
	0: {"left", "right"},
	1: {"up", "down"},
}

func JoystickSource(index int) string {
	return "joy-" + strconv.Itoa(index)
}

func axisSource(axis int, negative bool) string {
	if negative {
		return "joy-axis" + strconv.Itoa(axis) + "-"
	}
	return "joy-axis" + strconv.Itoa(axis) + "+"
}

type sample struct {
	buttons uint32
	axes    []int
}

// diff returns the events turning prev into cur.
func diff(prev, cur sample) []blepad.InputEvent {
	var out []blepad.InputEvent
	for i, button := range JoystickButtons {
		was := prev.buttons>>uint(i)&1 == 1
		is := cur.buttons>>uint(i)&1 == 1
		if was == is {
			continue
		}
		if is {
			out = append(out, blepad.Press(button, JoystickSource(i)))
		} else {
			out = append(out, blepad.Release(button, JoystickSource(i)))
		}
	}

	for axis, dirs := range joystickAxes {
		before, after := axisAt(prev.axes, axis), axisAt(cur.axes, axis)
		for n, negative := range []bool{true, false} {
			was, is := axisActive(before, negative), axisActive(after, negative)
			if was == is {
				continue
			}
			if is {
				out = append(out, blepad.Press(dirs[n], axisSource(axis, negative)))
			} else {
				out = append(out, blepad.Release(dirs[n], axisSource(axis, negative)))
			}
		}
	}
	return out
}

func axisAt(axes []int, i int) int {
	if i < len(axes) {
		return axes[i]
	}
	return 0
}

func axisActive(value int, negative bool) bool {
	if negative {
		return value <= -axisThreshold
	}
	return value >= axisThreshold
}

// Joystick polls a joystick and sends button and stick edges.
type Joystick struct {
	js       joystick.Joystick
	PollRate int
}

func OpenJoystick(id int) (*Joystick, error) {
	js, err := joystick.Open(id)
	if nil != err {
		return nil, fmt.Errorf("open joystick %d: %w", id, err)
	}
	return &Joystick{js: js, PollRate: DefaultPollRate}, nil
}

func (j *Joystick) Name() string {
	return j.js.Name()
}

func (j *Joystick) Run(ctx context.Context, events chan<- blepad.InputEvent) error {
	defer j.js.Close()
	log.InfoF("polling joystick %s (%d buttons, %d axes)", j.js.Name(), j.js.ButtonCount(), j.js.AxisCount())

	rate := j.PollRate
	if rate <= 0 {
		rate = DefaultPollRate
	}
	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()

	var last sample
	defer func() {
		release(events, diff(last, sample{})...)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		state, err := j.js.Read()
		if nil != err {
			return fmt.Errorf("read joystick: %w", err)
		}
		cur := sample{buttons: state.Buttons, axes: state.AxisData}
		for _, ev := range diff(last, cur) {
			log.DebugF("joystick: %v", ev)
			if !send(ctx, events, ev) {
				return nil
			}
		}
		last = cur
	}
}
