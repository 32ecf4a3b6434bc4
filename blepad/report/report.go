package report

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// PayloadLength is the size of the button report written to the peripheral.
const PayloadLength = 2

var ErrBadLengthData = errors.New("receive bad length data")

// Payload is the little-endian encoding of the 16-bit button state.
// byte0 holds bits 0-7, byte1 bits 8-15.
type Payload [PayloadLength]byte

func Encode(state uint16) Payload {
	var p Payload
	binary.LittleEndian.PutUint16(p[:], state)
	return p
}

func Decode(data []byte) (uint16, error) {
	if len(data) != PayloadLength {
		return 0, ErrBadLengthData
	}
	var p Payload
	copy(p[:], data)
	return p.State(), nil
}

func (p Payload) Bytes() []byte {
	return p[:]
}

func (p Payload) State() uint16 {
	return binary.LittleEndian.Uint16(p[:])
}

func (p Payload) String() string {
	var builder strings.Builder
	builder.WriteString("Payload: ")
	for _, b := range p {
		builder.WriteString(fmt.Sprintf("0x%02X ", b))
	}
	return strings.TrimRight(builder.String(), " ")
}

// FormatState renders a state the way the send log shows it.
func FormatState(state uint16) string {
	return fmt.Sprintf("0x%04x", state)
}
