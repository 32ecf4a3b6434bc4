package controller

// | Bit  | 0  | 1    | 2    | 3     | 4 | 5 | 6 | 7 | 8 | 9 | 10    | 11     |
// |:----:|:--:|:----:|:----:|:-----:|:-:|:-:|:-:|:-:|:-:|:-:|:-----:|:------:|
// | Name | up | down | left | right | a | b | x | y | l | r | start | select |
//
// byte0 of the payload carries bits 0-7, byte1 bits 8-15. Bits 12-15 are unused.

type Button struct {
	Name string
	Bit  uint
}

var buttons = []Button{
	{"up", 0},
	{"down", 1},
	{"left", 2},
	{"right", 3},
	{"a", 4},
	{"b", 5},
	{"x", 6},
	{"y", 7},
	{"l", 8},
	{"r", 9},
	{"start", 10},
	{"select", 11},
}

var buttonMap = func() map[string]Button {
	m := make(map[string]Button, len(buttons))
	for _, b := range buttons {
		m[b.Name] = b
	}
	return m
}()

// Buttons returns the registry in bit order.
func Buttons() []Button {
	out := make([]Button, len(buttons))
	copy(out, buttons)
	return out
}

func Lookup(name string) (Button, bool) {
	b, ok := buttonMap[name]
	return b, ok
}

// ButtonState is the packed 16-bit representation of every button.
type ButtonState struct {
	data uint16
}

func NewButtonState() *ButtonState {
	return &ButtonState{}
}

// Apply sets or clears the bit owned by name. It reports whether the packed
// value changed; unknown names and redundant re-asserts are no-ops.
func (b *ButtonState) Apply(name string, pressed bool) bool {
	info, ok := buttonMap[name]
	if !ok {
		return false
	}
	mask := uint16(1) << info.Bit
	next := b.data &^ mask
	if pressed {
		next = b.data | mask
	}
	if next == b.data {
		return false
	}
	b.data = next
	return true
}

func (b *ButtonState) IsSet(name string) bool {
	info, ok := buttonMap[name]
	if !ok {
		return false
	}
	return (b.data>>info.Bit)&1 == 1
}

func (b *ButtonState) Value() uint16 {
	return b.data
}

func (b *ButtonState) Reset() {
	b.data = 0
}
