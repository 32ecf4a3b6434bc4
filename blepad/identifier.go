package blepad

import (
	"encoding/binary"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

var (
	prefixedHex = regexp.MustCompile(`(?i)^0x[0-9a-f]{1,8}$`)
	shortHex    = regexp.MustCompile(`(?i)^[0-9a-f]{4}$`)

	// Bluetooth base UUID, 16 and 32-bit aliases replace its first four bytes.
	baseUUID = uuid.MustParse("00000000-0000-1000-8000-00805f9b34fb")

	ErrEmptyIdentifier = errors.New("empty service or characteristic identifier")
)

// Identifier is a GATT service or characteristic identifier. It is either a
// numeric alias (0x180A) or a free-form string such as a full UUID.
type Identifier struct {
	numeric bool
	value   uint32
	text    string
}

// NormalizeIdentifier converts "0x" followed by 1-8 hex digits, or exactly
// 4 hex digits, into a numeric identifier. Anything else is kept as text.
func NormalizeIdentifier(s string) Identifier {
	trimmed := strings.TrimSpace(s)
	switch {
	case prefixedHex.MatchString(trimmed):
		v, _ := strconv.ParseUint(trimmed[2:], 16, 32)
		return NumericIdentifier(uint32(v))
	case shortHex.MatchString(trimmed):
		v, _ := strconv.ParseUint(trimmed, 16, 32)
		return NumericIdentifier(uint32(v))
	}
	return Identifier{text: trimmed}
}

func NumericIdentifier(v uint32) Identifier {
	return Identifier{numeric: true, value: v}
}

func (i Identifier) IsNumeric() bool {
	return i.numeric
}

// Numeric returns the alias value; it is only meaningful when IsNumeric.
func (i Identifier) Numeric() uint32 {
	return i.value
}

func (i Identifier) Text() string {
	return i.text
}

func (i Identifier) IsZero() bool {
	return !i.numeric && i.text == ""
}

// UUID returns the canonical lowercase 128-bit form used by BLE stacks.
// Text that is not a UUID is returned unchanged.
func (i Identifier) UUID() string {
	if i.numeric {
		u := baseUUID
		binary.BigEndian.PutUint32(u[:4], i.value)
		return u.String()
	}
	if u, err := uuid.Parse(i.text); nil == err {
		return u.String()
	}
	return i.text
}

func (i Identifier) String() string {
	if i.numeric {
		return fmt.Sprintf("0x%04x", i.value)
	}
	return i.text
}
